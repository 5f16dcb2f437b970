package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/stealth-stack/stealthrun/internal/config"
	"github.com/stealth-stack/stealthrun/internal/verify"
)

var verifyCmd = &cobra.Command{
	Use:   "verify [manifest]",
	Short: "Execute the notebooks listed in a verification manifest",
	Long: `Run every notebook named by the manifest end to end through
"jupyter nbconvert --execute", writing executed copies to the manifest's
output directory. Verification stops at the first failing notebook.

Without an argument the configured [verify] manifest is used.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, args []string) error {
	dir, err := getWorkDir()
	if err != nil {
		return err
	}

	cfg, err := config.LoadFromDir(dir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	manifestPath := cfg.ManifestPath(dir)
	if len(args) == 1 {
		manifestPath = args[0]
		if !filepath.IsAbs(manifestPath) {
			manifestPath = filepath.Join(dir, manifestPath)
		}
	}

	manifest, err := verify.LoadManifest(manifestPath)
	if err != nil {
		return err
	}

	logger, closer, err := newLogger(cfg, dir)
	if err != nil {
		return fmt.Errorf("setting up logging: %w", err)
	}
	if closer != nil {
		defer closer.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		<-sigChan
		fmt.Println("\nReceived shutdown signal, stopping...")
		cancel()
	}()

	fmt.Printf("Verifying %d notebook(s) from %s\n", len(manifest.Notebooks), filepath.Base(manifestPath))
	if err := verify.New(logger).Run(ctx, manifest); err != nil {
		return err
	}
	fmt.Println("All notebooks verified")
	return nil
}
