package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jward/serpent"
	"github.com/jward/serpent/internal/store"
)

var (
	flagLimit  int
	flagOffset int
	flagFailed bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Query the run history",
}

func init() {
	historyCmd.PersistentFlags().IntVar(&flagLimit, "limit", 50, "pagination limit")
	historyCmd.PersistentFlags().IntVar(&flagOffset, "offset", 0, "pagination offset")
	runsCmd.Flags().BoolVar(&flagFailed, "failed", false, "only failed runs")

	historyCmd.AddCommand(runsCmd)
	historyCmd.AddCommand(showCmd)
	historyCmd.AddCommand(statsCmd)
	historyCmd.AddCommand(stateCmd)
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded passes, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		q, closeFn, err := openQuery()
		if err != nil {
			return outputError(cmd, "runs", err)
		}
		defer closeFn()

		var runs []serpent.RunSummary
		if flagFailed {
			runs, err = q.FailedRuns(flagLimit)
		} else {
			runs, err = q.Runs(flagLimit, flagOffset)
		}
		if err != nil {
			return outputError(cmd, "runs", err)
		}
		if runs == nil {
			runs = []serpent.RunSummary{}
		}
		return outputResult(cmd, CLIResult{Command: "runs", Results: runs})
	},
}

var showCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a recorded pass and its final trace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseIDArg(args[0])
		if err != nil {
			return outputError(cmd, "show", err)
		}
		q, closeFn, err := openQuery()
		if err != nil {
			return outputError(cmd, "show", err)
		}
		defer closeFn()

		run, err := q.Run(id)
		if err != nil {
			return outputError(cmd, "show", err)
		}
		snap, err := q.RunTrace(id)
		if err != nil {
			return outputError(cmd, "show", err)
		}
		return outputResult(cmd, CLIResult{Command: "show", Results: CLIRun{
			RunSummary: *run,
			Trace:      snapshotToCLI(snap),
		}})
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Count recorded passes per outcome",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		q, closeFn, err := openQuery()
		if err != nil {
			return outputError(cmd, "stats", err)
		}
		defer closeFn()

		counts, err := q.Outcomes()
		if err != nil {
			return outputError(cmd, "stats", err)
		}
		return outputResult(cmd, CLIResult{Command: "stats", Results: outcomesToCLI(counts)})
	},
}

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "List the state scripts have persisted between passes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return outputError(cmd, "state", err)
		}
		defer s.Close()

		entries, err := s.States()
		if err != nil {
			return outputError(cmd, "state", err)
		}
		out := make([]CLIState, len(entries))
		for i, e := range entries {
			out[i] = CLIState{Key: e.Key, Value: e.Value, UpdatedAt: e.UpdatedAt.UTC().Format(timeLayout)}
		}
		return outputResult(cmd, CLIResult{Command: "state", Results: out})
	},
}

// openStore opens the Store from the --db flag or config path.
func openStore() (*store.Store, error) {
	dbPath := resolveDBPath()
	if dbPath == "" {
		return nil, fmt.Errorf("no database: pass --db or set database in the config")
	}
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("database not found: %s (run 'serpent run' first)", dbPath)
	}
	s, err := store.NewStore(dbPath)
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func openQuery() (*serpent.QueryBuilder, func(), error) {
	s, err := openStore()
	if err != nil {
		return nil, nil, err
	}
	return serpent.NewQueryBuilder(s), func() { s.Close() }, nil
}
