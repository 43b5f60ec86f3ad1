package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jward/serpent/internal/config"
)

var (
	flagConfig     string
	flagDB         string
	flagFormat     string
	flagScriptsDir string
	flagVerbose    bool
)

// errorHandled is set by outputError so main() doesn't double-print.
var errorHandled bool

// cfg and logger are set up by the root PersistentPreRunE.
var (
	cfg    *config.Config
	logger *slog.Logger
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errorHandled {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "serpent",
	Short:         "Run and trace automation programs",
	Long:          "Serpent runs programs written in a small Python-shaped automation language, traces every call, statement and condition, and records each pass in a SQLite run history.",
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := validateFormat(flagFormat); err != nil {
			return err
		}
		logger = newLogger(flagVerbose)
		c, err := loadConfig()
		if err != nil {
			return err
		}
		cfg = c
		return nil
	},
	// No Run: prints help by default.
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default: "+config.DefaultFile+" in the working directory, if present)")
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "run history database path (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagFormat, "format", "json", "output format: json|text")
	rootCmd.PersistentFlags().StringVar(&flagScriptsDir, "scripts-dir", "", "directory of Risor scripts implementing external functions (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(historyCmd)
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// loadConfig reads --config, or serpent.yml from the working directory, or
// falls back to the defaults.
func loadConfig() (*config.Config, error) {
	path := flagConfig
	if path == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("getting cwd: %w", err)
		}
		path = config.Find(cwd)
	}
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// resolveSource returns the program path from the positional argument or
// the config.
func resolveSource(args []string) (string, error) {
	src := ""
	if len(args) > 0 {
		src = args[0]
	} else if cfg != nil {
		src = cfg.Source
	}
	if src == "" {
		return "", fmt.Errorf("no source file: pass one as an argument or set source in %s", config.DefaultFile)
	}
	abs, err := filepath.Abs(src)
	if err != nil {
		return "", fmt.Errorf("resolving path %q: %w", src, err)
	}
	return abs, nil
}

// resolveDBPath returns the database path from the --db flag or the config.
// Empty means no run history.
func resolveDBPath() string {
	if flagDB != "" {
		return flagDB
	}
	if cfg != nil {
		return cfg.Database
	}
	return ""
}

// resolveScriptsDir returns the scripts directory from the --scripts-dir
// flag or the config.
func resolveScriptsDir() string {
	if flagScriptsDir != "" {
		return flagScriptsDir
	}
	if cfg != nil {
		return cfg.Scripts
	}
	return ""
}
