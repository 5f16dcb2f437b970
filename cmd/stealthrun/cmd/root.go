package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version is set at build time via ldflags
	Version = "dev"

	// Global flags
	verbose bool
	workDir string
)

var rootCmd = &cobra.Command{
	Use:   "stealthrun",
	Short: "Run designated notebook cells, one at a time",
	Long: `stealthrun executes the designated cells of a Jupyter notebook in a
predictable order, strictly one cell at a time.

Which cells run is decided either by an override list in the configuration
([run] target_cells or the --cells flag) or by scanning cell metadata for
the stealthRunOrder field or stealth-run:<n> tags. Selected cells execute
sequentially through a local interpreter subprocess or a remote Jupyter
kernel gateway.

Configuration is read from ~/.stealthrun/config.toml and then
<dir>/.stealthrun/config.toml (project wins).`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&workDir, "dir", "C", "", "working directory (default: current)")

	rootCmd.Version = Version
	rootCmd.SetVersionTemplate("stealthrun {{.Version}}\n")
}

// getWorkDir returns the effective working directory.
func getWorkDir() (string, error) {
	if workDir != "" {
		return workDir, nil
	}
	return os.Getwd()
}
