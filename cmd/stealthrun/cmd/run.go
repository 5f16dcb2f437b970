package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/stealth-stack/stealthrun/internal/config"
	"github.com/stealth-stack/stealthrun/internal/kernel"
	"github.com/stealth-stack/stealthrun/internal/logging"
	"github.com/stealth-stack/stealthrun/internal/notebook"
	"github.com/stealth-stack/stealthrun/internal/runner"
	"github.com/stealth-stack/stealthrun/internal/selector"
)

var runCmd = &cobra.Command{
	Use:   "run <notebook.ipynb>",
	Short: "Run the notebook's designated cells in order",
	Long: `Select target cells and execute them strictly one at a time.

Selection uses the --cells flag or the configured [run] target_cells
override when present; otherwise cell metadata is scanned for run orders.
At most the configured limit of cells runs per invocation.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

var (
	runCells []string
	runLimit int
	runDry   bool
)

func init() {
	runCmd.Flags().StringSliceVar(&runCells, "cells", nil, "explicit cell indices to run, in order (overrides config)")
	runCmd.Flags().IntVar(&runLimit, "limit", 0, "max cells to run this invocation (default from config)")
	runCmd.Flags().BoolVar(&runDry, "dry-run", false, "print the selection without executing")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	notebookPath := args[0]

	dir, err := getWorkDir()
	if err != nil {
		return err
	}

	cfg, err := config.LoadFromDir(dir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, closer, err := newLogger(cfg, dir)
	if err != nil {
		return fmt.Errorf("setting up logging: %w", err)
	}
	if closer != nil {
		defer closer.Close()
	}

	if !filepath.IsAbs(notebookPath) {
		notebookPath = filepath.Join(dir, notebookPath)
	}
	doc, err := notebook.Load(notebookPath)
	if err != nil {
		return err
	}

	override := overrideList(cfg)
	indices := selector.Select(doc, override)
	if len(indices) == 0 {
		// Legitimate outcome, not an error: nothing is designated to run.
		fmt.Println("Warning: no target cells found (no override configured, no run-order metadata)")
		return nil
	}

	limit := cfg.Run.Limit
	if runLimit > 0 {
		limit = runLimit
	}

	if runDry {
		fmt.Printf("Would run %d cell(s) from %s (limit %d):\n", len(indices), filepath.Base(notebookPath), limit)
		for i, idx := range indices {
			marker := " "
			if i < limit {
				marker = "*"
			}
			fmt.Printf("  %s cell %d\n", marker, idx)
		}
		return nil
	}

	if len(indices) > limit {
		fmt.Printf("Found %d target cells, running first %d\n", len(indices), limit)
	}

	// Set up signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		<-sigChan
		fmt.Println("\nReceived shutdown signal, stopping after the current cell...")
		cancel()
	}()

	execute, cleanup, err := buildExecute(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if cleanup != nil {
		defer cleanup()
	}

	r := runner.New(kernel.LogFocus(logger), execute, limit, logger)

	report, err := r.Run(ctx, doc, indices)
	if err != nil {
		if report.Executed > 0 {
			fmt.Printf("Stopped after %d cell(s): %v\n", report.Executed, err)
		}
		return err
	}

	fmt.Printf("Ran %d cell(s)", report.Executed)
	if len(report.Skipped) > 0 {
		fmt.Printf(" (skipped out-of-range: %v)", report.Skipped)
	}
	fmt.Println()
	return nil
}

// overrideList returns the effective override: the --cells flag wins over
// the configured target_cells, and nil means "scan metadata".
func overrideList(cfg *config.Config) []any {
	if len(runCells) > 0 {
		out := make([]any, len(runCells))
		for i, c := range runCells {
			out[i] = c
		}
		return out
	}
	return cfg.TargetCells()
}

// buildExecute wires the execute capability for the configured kernel mode.
func buildExecute(ctx context.Context, cfg *config.Config, logger *slog.Logger) (runner.ExecuteFunc, func(), error) {
	switch cfg.Kernel.Mode {
	case config.KernelModeGateway:
		gw, err := kernel.DialGateway(ctx, cfg.Kernel.GatewayURL, "python3", logger)
		if err != nil {
			return nil, nil, err
		}
		return gw.ExecuteCell, func() { gw.Close() }, nil
	default:
		sub := kernel.NewSubprocess(cfg.Kernel.Interpreter, cfg.Kernel.ShutdownGrace, logger)
		return sub.ExecuteCell, nil, nil
	}
}

// newLogger builds the command logger, honoring --verbose over the
// configured level.
func newLogger(cfg *config.Config, dir string) (*slog.Logger, io.Closer, error) {
	if verbose {
		cfg.Logging.Level = config.LogLevelDebug
	}
	return logging.NewFromConfig(cfg, dir)
}
