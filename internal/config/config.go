// Package config loads stealthrun configuration from TOML files.
//
// Defaults are merged with the global config (~/.stealthrun/config.toml)
// and then the project config (<dir>/.stealthrun/config.toml); later files
// win. The configured target cell override is the external settings input
// of target selection.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// KernelMode selects how cells are executed.
type KernelMode string

const (
	// KernelModeSubprocess pipes each cell to an interpreter subprocess.
	KernelModeSubprocess KernelMode = "subprocess"
	// KernelModeGateway executes cells on a remote Jupyter kernel gateway.
	KernelModeGateway KernelMode = "gateway"
)

// LogLevel specifies the logging verbosity.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// LogFormat specifies the log output format.
type LogFormat string

const (
	LogFormatJSON LogFormat = "json"
	LogFormatText LogFormat = "text"
)

// RunConfig holds target selection and execution settings.
type RunConfig struct {
	// TargetCells overrides metadata-driven selection when non-empty.
	// Entries are integer-like values (strings or numbers) taken in the
	// order given; unparseable or negative entries are dropped during
	// selection, not here.
	TargetCells []any `toml:"target_cells"`

	// Limit caps how many selected cells run per invocation.
	Limit int `toml:"limit"`
}

// KernelConfig holds execution backend settings.
type KernelConfig struct {
	Mode        KernelMode `toml:"mode"`
	Interpreter string     `toml:"interpreter"`
	GatewayURL  string     `toml:"gateway_url"`

	// ShutdownGrace is how long a cancelled subprocess gets between
	// SIGTERM and SIGKILL.
	ShutdownGrace time.Duration `toml:"shutdown_grace"`
}

// VerifyConfig holds whole-notebook verification settings.
type VerifyConfig struct {
	Manifest string `toml:"manifest"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  LogLevel  `toml:"level"`
	Format LogFormat `toml:"format"`
	File   string    `toml:"file"`
}

// Config is the main configuration struct for stealthrun.
type Config struct {
	Version string        `toml:"version"`
	Run     RunConfig     `toml:"run"`
	Kernel  KernelConfig  `toml:"kernel"`
	Verify  VerifyConfig  `toml:"verify"`
	Logging LoggingConfig `toml:"logging"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Version: "1",
		Run: RunConfig{
			TargetCells: nil, // fall back to metadata scanning
			Limit:       2,
		},
		Kernel: KernelConfig{
			Mode:          KernelModeSubprocess,
			Interpreter:   "python3",
			ShutdownGrace: 3 * time.Second,
		},
		Verify: VerifyConfig{
			Manifest: ".stealthrun/verify.yaml",
		},
		Logging: LoggingConfig{
			Level:  LogLevelInfo,
			Format: LogFormatText,
			File:   "",
		},
	}
}

// Load loads configuration from file, merging with defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Use defaults if no config file
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return cfg, nil
}

// LoadFromDir loads configuration from the standard locations in a directory.
// Applies in order: defaults -> ~/.stealthrun/config.toml -> <dir>/.stealthrun/config.toml.
// Later configs override earlier ones (project-level takes precedence).
func LoadFromDir(dir string) (*Config, error) {
	cfg := Default()

	home, err := os.UserHomeDir()
	if err == nil {
		globalConfig := filepath.Join(home, ".stealthrun", "config.toml")
		if data, err := os.ReadFile(globalConfig); err == nil {
			if _, err := toml.Decode(string(data), cfg); err != nil {
				return nil, fmt.Errorf("parsing global config: %w", err)
			}
		}
	}

	projectConfig := filepath.Join(dir, ".stealthrun", "config.toml")
	if data, err := os.ReadFile(projectConfig); err == nil {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("parsing project config: %w", err)
		}
	}

	return cfg, nil
}

// TargetCells implements selector.Provider: the configured override list,
// nil when metadata scanning should be used.
func (c *Config) TargetCells() []any {
	return c.Run.TargetCells
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Version == "" {
		return fmt.Errorf("config version is required")
	}
	if c.Run.Limit <= 0 {
		return fmt.Errorf("run limit must be positive")
	}
	switch c.Kernel.Mode {
	case KernelModeSubprocess:
		if c.Kernel.Interpreter == "" {
			return fmt.Errorf("kernel interpreter is required in subprocess mode")
		}
	case KernelModeGateway:
		if c.Kernel.GatewayURL == "" {
			return fmt.Errorf("kernel gateway_url is required in gateway mode")
		}
	default:
		return fmt.Errorf("unknown kernel mode: %s", c.Kernel.Mode)
	}
	return nil
}

// LogFile returns the absolute log file path, or "" when file logging is
// disabled.
func (c *Config) LogFile(baseDir string) string {
	if c.Logging.File == "" {
		return ""
	}
	if filepath.IsAbs(c.Logging.File) {
		return c.Logging.File
	}
	return filepath.Join(baseDir, c.Logging.File)
}

// ManifestPath returns the absolute verify manifest path.
func (c *Config) ManifestPath(baseDir string) string {
	if filepath.IsAbs(c.Verify.Manifest) {
		return c.Verify.Manifest
	}
	return filepath.Join(baseDir, c.Verify.Manifest)
}
