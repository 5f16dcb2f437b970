package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/stealth-stack/stealthrun/internal/config"
	"github.com/stealth-stack/stealthrun/internal/notebook"
	"github.com/stealth-stack/stealthrun/internal/resolver"
	"github.com/stealth-stack/stealthrun/internal/selector"
)

var targetsJSON bool

var targetsCmd = &cobra.Command{
	Use:   "targets <notebook.ipynb>",
	Short: "Show which cells would run, and why",
	Long: `Resolve the notebook's target selection without executing anything.

With a configured override the sanitized override is shown in its given
order. Otherwise each cell carrying run-order metadata is listed, sorted
the way the runner would execute it.`,
	Args: cobra.ExactArgs(1),
	RunE: runTargets,
}

func init() {
	targetsCmd.Flags().BoolVar(&targetsJSON, "json", false, "output as JSON")
	rootCmd.AddCommand(targetsCmd)
}

// targetInfo describes one selected cell for display.
type targetInfo struct {
	Index   int    `json:"index"`
	Order   int    `json:"order"`
	Source  string `json:"source"` // "override", "field" or "tag"
	Preview string `json:"preview,omitempty"`
}

func runTargets(cmd *cobra.Command, args []string) error {
	notebookPath := args[0]

	dir, err := getWorkDir()
	if err != nil {
		return err
	}

	cfg, err := config.LoadFromDir(dir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if !filepath.IsAbs(notebookPath) {
		notebookPath = filepath.Join(dir, notebookPath)
	}
	doc, err := notebook.Load(notebookPath)
	if err != nil {
		return err
	}

	override := cfg.TargetCells()
	indices := selector.Select(doc, override)

	targets := make([]targetInfo, 0, len(indices))
	for _, idx := range indices {
		info := targetInfo{Index: idx, Source: "override"}
		if len(override) == 0 {
			cell, _ := doc.Cell(idx)
			info.Order, _ = resolver.Order(cell)
			info.Source = resolver.Source(cell)
		}
		if cell, ok := doc.Cell(idx); ok {
			info.Preview = cell.FirstLine()
		}
		targets = append(targets, info)
	}

	if targetsJSON {
		return json.NewEncoder(os.Stdout).Encode(targets)
	}

	if len(targets) == 0 {
		fmt.Println("No target cells found")
		return nil
	}

	if len(override) > 0 {
		dropped := len(override) - len(indices)
		fmt.Printf("Selection from configured override (%d entries, %d dropped):\n", len(override), dropped)
	} else {
		fmt.Println("Selection from cell metadata:")
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "POS\tCELL\tORDER\tSOURCE\tPREVIEW")
	for i, tg := range targets {
		order := "-"
		if tg.Source != "override" {
			order = fmt.Sprintf("%d", tg.Order)
		}
		fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\n", i, tg.Index, order, tg.Source, tg.Preview)
	}
	return w.Flush()
}
