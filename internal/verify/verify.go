// Package verify executes whole notebooks end to end through nbconvert.
//
// Verification is coarser than the cell runner: it re-executes every cell
// of every manifest notebook in a fresh kernel and fails on the first
// notebook whose execution errors. Useful as a pre-flight check that the
// designated cells still have a working document around them.
package verify

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/stealth-stack/stealthrun/internal/errors"
)

// Default manifest values.
const (
	DefaultOutputDir      = "outputs/nbconvert"
	DefaultTimeoutSeconds = 600
)

// Manifest lists the notebooks to verify and how.
type Manifest struct {
	// Notebooks are paths to .ipynb files, relative to the manifest's
	// directory unless absolute.
	Notebooks []string `yaml:"notebooks"`

	// OutputDir receives the executed copies (<name>.executed.ipynb).
	OutputDir string `yaml:"output_dir"`

	// TimeoutSeconds caps each notebook's execution.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// LoadManifest reads a YAML manifest and applies defaults. Relative
// notebook and output paths are resolved against the manifest's directory.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.VerifyManifestError(path, err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, errors.VerifyManifestError(path, err)
	}

	if m.OutputDir == "" {
		m.OutputDir = DefaultOutputDir
	}
	if m.TimeoutSeconds <= 0 {
		m.TimeoutSeconds = DefaultTimeoutSeconds
	}

	base := filepath.Dir(path)
	for i, nb := range m.Notebooks {
		if !filepath.IsAbs(nb) {
			m.Notebooks[i] = filepath.Join(base, nb)
		}
	}
	if !filepath.IsAbs(m.OutputDir) {
		m.OutputDir = filepath.Join(base, m.OutputDir)
	}

	return &m, nil
}

// Verifier runs manifest notebooks through nbconvert.
type Verifier struct {
	// Command is the jupyter executable. Defaults to "jupyter".
	Command string

	Logger *slog.Logger
}

// New creates a Verifier.
func New(logger *slog.Logger) *Verifier {
	return &Verifier{Command: "jupyter", Logger: logger}
}

// Run executes every manifest notebook in order, stopping at the first
// failure. The executed copy of each notebook lands in the output dir.
func (v *Verifier) Run(ctx context.Context, m *Manifest) error {
	if len(m.Notebooks) == 0 {
		return errors.New(errors.CodeVerifyManifest, "manifest lists no notebooks")
	}
	if err := os.MkdirAll(m.OutputDir, 0755); err != nil {
		return errors.VerifyManifestError(m.OutputDir, err)
	}

	for _, nb := range m.Notebooks {
		v.Logger.Info("verifying notebook", "notebook", nb)
		if err := v.runOne(ctx, m, nb); err != nil {
			return err
		}
	}
	return nil
}

func (v *Verifier) runOne(ctx context.Context, m *Manifest, nb string) error {
	command := v.Command
	if command == "" {
		command = "jupyter"
	}

	cmd := exec.CommandContext(ctx, command, buildArgs(m, nb)...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return errors.VerifyFailed(nb, err).
			WithDetail("output", tail(string(out), 2048))
	}
	return nil
}

// buildArgs assembles the nbconvert invocation for one notebook.
func buildArgs(m *Manifest, nb string) []string {
	outputName := executedName(nb)
	return []string{
		"nbconvert",
		"--execute",
		"--to", "notebook",
		"--output", outputName,
		"--output-dir", m.OutputDir,
		fmt.Sprintf("--ExecutePreprocessor.timeout=%d", m.TimeoutSeconds),
		nb,
	}
}

// executedName derives the output file name: <stem>.executed.ipynb.
func executedName(nb string) string {
	base := filepath.Base(nb)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return stem + ".executed.ipynb"
}

// tail returns at most the last n bytes of s.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
