package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jward/serpent"
	"github.com/jward/serpent/internal/server"
	"github.com/jward/serpent/scripts"
)

var (
	flagInterval string
	flagListen   string
)

var checkCmd = &cobra.Command{
	Use:   "check [source]",
	Short: "Parse and link a program without running it",
	Long:  "Parses and links the program, lists its functions and reports external functions that no script or builtin implements.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runCheck,
}

var runCmd = &cobra.Command{
	Use:   "run [source]",
	Short: "Run one pass of a program and print its trace",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runOnce,
}

var watchCmd = &cobra.Command{
	Use:   "watch [source]",
	Short: "Run passes repeatedly until interrupted",
	Long:  "Runs a pass, waits the interval and repeats until interrupted. With --listen the live trace, function catalog and run history are served over HTTP.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&flagInterval, "interval", "", "pause between passes, e.g. 3s (overrides config)")
	watchCmd.Flags().StringVar(&flagListen, "listen", "", "HTTP listen address, e.g. :8080 (overrides config)")
}

// openEngine builds an Engine for the source named by args or the config.
func openEngine(ctx context.Context, args []string, extra ...serpent.Option) (*serpent.Engine, error) {
	path, err := resolveSource(args)
	if err != nil {
		return nil, err
	}
	opts := []serpent.Option{
		serpent.WithLogger(logger),
		serpent.WithOutput(os.Stderr),
		serpent.WithMaxDepth(cfg.MaxDepth),
		serpent.WithKeepRuns(cfg.KeepRuns),
		serpent.WithInterval(cfg.Interval),
	}
	if db := resolveDBPath(); db != "" {
		opts = append(opts, serpent.WithDatabase(db))
	}
	// Script source: --scripts-dir overrides embedded FS.
	if dir := resolveScriptsDir(); dir != "" {
		opts = append(opts, serpent.WithScriptsDir(dir))
	} else {
		opts = append(opts, serpent.WithScriptsFS(scripts.FS))
	}
	opts = append(opts, extra...)
	return serpent.Open(ctx, path, opts...)
}

func runCheck(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, err := openEngine(ctx, args)
	if err != nil {
		return outputError(cmd, "check", err)
	}
	defer e.Close()

	missing, err := e.UnimplementedExternals()
	if err != nil {
		return outputError(cmd, "check", err)
	}
	report := CLICheck{
		Source:        e.Path(),
		Hash:          e.SourceHash(),
		Functions:     e.Functions(),
		Unimplemented: missing,
	}
	if err := outputResult(cmd, CLIResult{Command: "check", Results: report}); err != nil {
		return err
	}
	if len(missing) > 0 {
		errorHandled = true
		return fmt.Errorf("%d external function(s) have no implementation", len(missing))
	}
	return nil
}

func runOnce(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, err := openEngine(ctx, args)
	if err != nil {
		return outputError(cmd, "run", err)
	}
	defer e.Close()

	res, err := e.RunOnce(ctx)
	if err != nil {
		return outputError(cmd, "run", err)
	}
	if err := outputResult(cmd, CLIResult{Command: "run", Results: passToCLI(res)}); err != nil {
		return err
	}
	if res.Err != nil {
		errorHandled = true
		return res.Err
	}
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	var extra []serpent.Option
	if flagInterval != "" {
		d, err := parseInterval(flagInterval)
		if err != nil {
			return err
		}
		extra = append(extra, serpent.WithInterval(d))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := openEngine(ctx, args, extra...)
	if err != nil {
		return err
	}
	defer e.Close()

	listen := flagListen
	if listen == "" {
		listen = cfg.Listen
	}
	if listen == "" {
		return e.Watch(ctx)
	}

	srv := server.New(e, server.WithLogger(logger))
	errc := make(chan error, 2)
	go func() { errc <- srv.ListenAndServe(ctx, listen) }()
	go func() { errc <- e.Watch(ctx) }()

	// Either both stop on cancellation, or one fails and takes the other down.
	var firstErr error
	for range 2 {
		if err := <-errc; err != nil && firstErr == nil {
			firstErr = err
			stop()
		}
	}
	return firstErr
}
