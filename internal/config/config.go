package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const (
	MatchSubstring = "substring"
	MatchSuffix    = "suffix"

	IdentifierImageMagick = "identify"
	IdentifierBuiltin     = "builtin"

	envPrefix = "jpegsweep"
)

type ToolsCfg struct {
	Jpegtran string `yaml:"jpegtran" json:"jpegtran"`
	Identify string `yaml:"identify" json:"identify"`
}

type LoggingCfg struct {
	Dir          string `yaml:"dir" json:"dir"`                     // Empty disables the file sink
	RotationDays int    `yaml:"rotation_days" json:"rotation_days"` // Days to keep logs before rotation
	Level        string `yaml:"level" json:"level"`                 // debug, info, warn, error
}

type Config struct {
	Root           string     `yaml:"-" json:"root"`
	Tools          ToolsCfg   `yaml:"tools" json:"tools"`
	Identifier     string     `yaml:"identifier" json:"identifier"`
	Match          string     `yaml:"match" json:"match"`
	DryRun         bool       `yaml:"dry_run" json:"dry_run"`
	VerifyMetadata bool       `yaml:"verify_metadata" json:"verify_metadata"`
	DatabasePath   string     `yaml:"database_path" json:"database_path"` // SQLite audit history, empty disables it
	MetricsFile    string     `yaml:"metrics_file" json:"metrics_file"`   // Prometheus textfile output, empty disables it
	ProtectedPaths []string   `yaml:"protected_paths" json:"protected_paths"`
	Logging        LoggingCfg `yaml:"logging" json:"logging"`
}

// envOverrides mirrors the settings that can be changed through JPEGSWEEP_* variables.
type envOverrides struct {
	Jpegtran     string `envconfig:"JPEGTRAN"`
	Identify     string `envconfig:"IDENTIFY"`
	Identifier   string `envconfig:"IDENTIFIER"`
	Match        string `envconfig:"MATCH"`
	DatabasePath string `envconfig:"DATABASE_PATH"`
	MetricsFile  string `envconfig:"METRICS_FILE"`
	LogDir       string `envconfig:"LOG_DIR"`
}

var (
	ErrNoRoot           = errors.New("a root directory is required")
	ErrRootNotDirectory = errors.New("root is not a directory")
	errInvalidMatch     = errors.New("match must be substring or suffix")
	errInvalidIdent     = errors.New("identifier must be identify or builtin")
	errNegativeRotation = errors.New("logging.rotation_days cannot be negative")
)

// Default returns a config with every field at its default value.
func Default() *Config {
	cfg := &Config{}
	_ = cfg.validateAndDefault()
	return cfg
}

// Load reads the YAML file at path (if any) and applies environment overrides.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()

		cfg, err = decode(f)
		if err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.validateAndDefault(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader) (*Config, error) {
	cfg := &Config{}
	decoder := yaml.NewDecoder(r)
	if err := decoder.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return cfg, nil
		}
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	var env envOverrides
	if err := envconfig.Process(envPrefix, &env); err != nil {
		return fmt.Errorf("read environment: %w", err)
	}
	if env.Jpegtran != "" {
		c.Tools.Jpegtran = env.Jpegtran
	}
	if env.Identify != "" {
		c.Tools.Identify = env.Identify
	}
	if env.Identifier != "" {
		c.Identifier = env.Identifier
	}
	if env.Match != "" {
		c.Match = env.Match
	}
	if env.DatabasePath != "" {
		c.DatabasePath = env.DatabasePath
	}
	if env.MetricsFile != "" {
		c.MetricsFile = env.MetricsFile
	}
	if env.LogDir != "" {
		c.Logging.Dir = env.LogDir
	}
	return nil
}

func (c *Config) validateAndDefault() error {
	if c.Tools.Jpegtran == "" {
		c.Tools.Jpegtran = "jpegtran"
	}
	if c.Tools.Identify == "" {
		c.Tools.Identify = "identify"
	}

	switch c.Match {
	case "":
		c.Match = MatchSubstring // the original tool matched *.jpg* and *.png*
	case MatchSubstring, MatchSuffix:
	default:
		return fmt.Errorf("%w: %q", errInvalidMatch, c.Match)
	}

	switch c.Identifier {
	case "":
		c.Identifier = IdentifierImageMagick
	case IdentifierImageMagick, IdentifierBuiltin:
	default:
		return fmt.Errorf("%w: %q", errInvalidIdent, c.Identifier)
	}

	if c.Logging.RotationDays < 0 {
		return errNegativeRotation
	}
	if c.Logging.RotationDays == 0 {
		c.Logging.RotationDays = 30
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	return nil
}

// Validate re-checks the config after flags were applied on top of it.
func (c *Config) Validate() error {
	return c.validateAndDefault()
}

// SetRoot validates dir and stores its absolute, cleaned form.
func (c *Config) SetRoot(dir string) error {
	if dir == "" {
		return ErrNoRoot
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolve root %s: %w", dir, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrRootNotDirectory, abs)
	}
	c.Root = filepath.Clean(abs)
	return nil
}
