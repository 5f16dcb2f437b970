package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stealth-stack/stealthrun/internal/notebook"
	"github.com/stealth-stack/stealthrun/internal/resolver"
)

var showCmd = &cobra.Command{
	Use:   "show <notebook.ipynb>",
	Short: "List the notebook's cells",
	Long: `Print every cell with its index, type and first source line. Cells
carrying a run order have it annotated. With --verbose the full source of
each cell is printed.`,
	Args: cobra.ExactArgs(1),
	RunE: runShow,
}

func init() {
	rootCmd.AddCommand(showCmd)
}

func runShow(cmd *cobra.Command, args []string) error {
	notebookPath := args[0]

	dir, err := getWorkDir()
	if err != nil {
		return err
	}
	if !filepath.IsAbs(notebookPath) {
		notebookPath = filepath.Join(dir, notebookPath)
	}

	doc, err := notebook.Load(notebookPath)
	if err != nil {
		return err
	}

	fmt.Printf("%s: %d cell(s)\n", filepath.Base(notebookPath), doc.CellCount())
	for i, cell := range doc.Cells() {
		annotation := ""
		if order, ok := resolver.Order(&cell); ok {
			annotation = fmt.Sprintf("  [order %d, %s]", order, resolver.Source(&cell))
		}
		if verbose {
			fmt.Printf("--- cell %d (%s)%s\n", i, cell.Type, annotation)
			src := cell.SourceText()
			if src != "" {
				fmt.Println(strings.TrimRight(src, "\n"))
			}
			continue
		}
		fmt.Printf("%4d  %-10s%s  %s\n", i, cell.Type, annotation, cell.FirstLine())
	}
	return nil
}
