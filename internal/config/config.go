package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ncruces/go-strftime"
	"gopkg.in/yaml.v3"
)

// Compression levels accepted by the archive writer.
const (
	CompressionFastest = "fastest"
	CompressionDefault = "default"
	CompressionBest    = "best"
)

type Config struct {
	FileList    string     `yaml:"file_list"`
	Label       string     `yaml:"label"`
	OutputDir   string     `yaml:"output_dir"`
	DateFormat  string     `yaml:"date_format"`
	Allowance   float64    `yaml:"allowance"`
	FixedCount  FixedCount `yaml:"fixed_count"`
	Compression string     `yaml:"compression"`
	Schedule    string     `yaml:"schedule"`
	Lock        Lock       `yaml:"lock"`
	MetricsFile string     `yaml:"metrics_file"`
	Log         Log        `yaml:"log"`
}

// FixedCount caps the number of retained archives regardless of space.
type FixedCount struct {
	Enabled bool `yaml:"enabled"`
	Max     int  `yaml:"max"`
}

type Lock struct {
	Enabled    bool          `yaml:"enabled"`
	StaleAfter time.Duration `yaml:"stale_after"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "console" or "json"
}

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

func DefaultConfig() (*Config, error) {
	return &Config{
		FileList:    "archive-files.txt",
		Label:       "backup.tgz",
		OutputDir:   "/media/backups",
		DateFormat:  "%Y-%m-%d @ %H-%M",
		Allowance:   1.1,
		FixedCount:  FixedCount{Enabled: true, Max: 10},
		Compression: CompressionDefault,
		Schedule:    "0 3 * * *",
		Lock:        Lock{Enabled: true, StaleAfter: 24 * time.Hour},
		Log:         Log{Level: "info", Format: "console"},
	}, nil
}

// ConfigPath returns the default location of the config file.
func ConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".spacebak", "config.yaml"), nil
}

// Load reads the config at path (the default path when empty). A missing
// file yields the defaults. The result is validated.
func Load(path string) (*Config, error) {
	cfg, err := DefaultConfig()
	if err != nil {
		return nil, err
	}

	if path == "" {
		if path, err = ConfigPath(); err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Use defaults
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config to path (the default path when empty).
func (c *Config) Save(path string) error {
	if path == "" {
		var err error
		if path, err = ConfigPath(); err != nil {
			return err
		}
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Validate reports the first setting that would make a run unsafe.
func (c *Config) Validate() error {
	switch {
	case c.FileList == "":
		return fmt.Errorf("%w: file_list is empty", ErrInvalid)
	case c.Label == "":
		return fmt.Errorf("%w: label is empty", ErrInvalid)
	case strings.ContainsAny(c.Label, `/\`):
		return fmt.Errorf("%w: label %q contains a path separator", ErrInvalid, c.Label)
	case c.OutputDir == "":
		return fmt.Errorf("%w: output_dir is empty", ErrInvalid)
	case math.IsNaN(c.Allowance) || math.IsInf(c.Allowance, 0) || c.Allowance < 1.0:
		return fmt.Errorf("%w: allowance %.2f must be a finite number of at least 1.0", ErrInvalid, c.Allowance)
	case c.FixedCount.Enabled && c.FixedCount.Max < 1:
		return fmt.Errorf("%w: fixed_count.max must be at least 1, got %d", ErrInvalid, c.FixedCount.Max)
	case c.Lock.StaleAfter < 0:
		return fmt.Errorf("%w: lock.stale_after is negative", ErrInvalid)
	}

	if _, err := strftime.Layout(c.DateFormat); err != nil || c.DateFormat == "" {
		return fmt.Errorf("%w: date_format %q is not a usable strftime pattern", ErrInvalid, c.DateFormat)
	}
	if strings.ContainsAny(strftime.Format(c.DateFormat, time.Now()), `/\`) {
		return fmt.Errorf("%w: date_format %q produces a path separator", ErrInvalid, c.DateFormat)
	}

	switch c.Compression {
	case "", CompressionFastest, CompressionDefault, CompressionBest:
	default:
		return fmt.Errorf("%w: unknown compression %q", ErrInvalid, c.Compression)
	}

	switch c.Log.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("%w: unknown log format %q", ErrInvalid, c.Log.Format)
	}

	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: unknown log level %q", ErrInvalid, c.Log.Level)
	}

	return nil
}

// ArchiveName returns the file name of an archive created at t.
func (c *Config) ArchiveName(t time.Time) string {
	return "[" + strftime.Format(c.DateFormat, t) + "] " + c.Label
}

// ExpandPath expands ~ to home directory
func ExpandPath(path string) (string, error) {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expanding %s: %w", path, err)
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}
