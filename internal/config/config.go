// Package config loads serpent's YAML process configuration.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jward/serpent/internal/interp"
)

// DefaultFile is the configuration file looked up in the working directory.
const DefaultFile = "serpent.yml"

// Config is the process configuration. Zero values mean "use the default".
type Config struct {
	// Path is the file the configuration was loaded from, empty for Default.
	Path string

	Source   string
	Interval time.Duration
	Database string
	Scripts  string
	Listen   string
	MaxDepth int
	KeepRuns int
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Interval: interp.DefaultInterval,
		MaxDepth: interp.DefaultMaxDepth,
	}
}

type configFile struct {
	Source   string `yaml:"source"`
	Interval string `yaml:"interval"`
	Database string `yaml:"database"`
	Scripts  string `yaml:"scripts"`
	Listen   string `yaml:"listen"`
	MaxDepth *int   `yaml:"max_depth"`
	KeepRuns *int   `yaml:"keep_runs"`
}

// ValidationError aggregates configuration validation failures.
type ValidationError struct {
	Path   string
	Issues []string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "config: %s is invalid:", e.Path)
	for _, issue := range e.Issues {
		b.WriteString("\n- ")
		b.WriteString(issue)
	}
	return b.String()
}

// Load parses the YAML file at path over Default. Relative paths inside the
// file are resolved against the file's directory. Unknown keys are errors.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config: empty path")
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("config: resolve %s: %w", path, err)
	}
	f, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", absPath, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	var raw configFile
	if err := dec.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: parse %s: %w", absPath, err)
	}
	return raw.toConfig(absPath)
}

func (raw *configFile) toConfig(absPath string) (*Config, error) {
	cfg := Default()
	cfg.Path = absPath
	dir := filepath.Dir(absPath)
	errs := ValidationError{Path: absPath}

	cfg.Source = resolve(dir, raw.Source)
	cfg.Database = resolve(dir, raw.Database)
	cfg.Scripts = resolve(dir, raw.Scripts)
	cfg.Listen = raw.Listen

	if raw.Interval != "" {
		d, err := time.ParseDuration(raw.Interval)
		switch {
		case err != nil:
			errs.Issues = append(errs.Issues, fmt.Sprintf("interval: %v", err))
		case d <= 0:
			errs.Issues = append(errs.Issues, "interval must be positive")
		default:
			cfg.Interval = d
		}
	}
	if raw.MaxDepth != nil {
		if *raw.MaxDepth <= 0 {
			errs.Issues = append(errs.Issues, "max_depth must be positive")
		} else {
			cfg.MaxDepth = *raw.MaxDepth
		}
	}
	if raw.KeepRuns != nil {
		if *raw.KeepRuns < 0 {
			errs.Issues = append(errs.Issues, "keep_runs must not be negative")
		} else {
			cfg.KeepRuns = *raw.KeepRuns
		}
	}

	if len(errs.Issues) > 0 {
		return nil, &errs
	}
	return cfg, nil
}

func resolve(dir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

// Find returns DefaultFile in dir if it exists, or "".
func Find(dir string) string {
	p := filepath.Join(dir, DefaultFile)
	if _, err := os.Stat(p); err == nil {
		return p
	}
	return ""
}
