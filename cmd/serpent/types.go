package main

import (
	"sort"
	"time"

	"github.com/jward/serpent"
)

const timeLayout = time.RFC3339

// CLIResult is the top-level JSON envelope for all commands.
type CLIResult struct {
	Command string `json:"command"`
	Results any    `json:"results"`
	Error   string `json:"error,omitempty"`
}

// CLICheck is the result of check.
type CLICheck struct {
	Source        string                 `json:"source"`
	Hash          string                 `json:"hash"`
	Functions     []serpent.FunctionInfo `json:"functions"`
	Unimplemented []string               `json:"unimplemented,omitempty"`
}

// CLITraceEntry is one visited point of a trace.
type CLITraceEntry struct {
	CallStack string `json:"call_stack"`
	State     string `json:"state"`
}

// CLIPass is the result of run.
type CLIPass struct {
	RunID       int64           `json:"run_id,omitempty"`
	Outcome     serpent.Outcome `json:"outcome"`
	Error       string          `json:"error,omitempty"`
	Interrupted bool            `json:"interrupted,omitempty"`
	DurationMS  int64           `json:"duration_ms"`
	Trace       []CLITraceEntry `json:"trace"`
}

// CLIRun is a recorded pass with its trace.
type CLIRun struct {
	serpent.RunSummary
	Trace []CLITraceEntry `json:"trace"`
}

// CLIOutcome is one row of stats.
type CLIOutcome struct {
	Outcome serpent.Outcome `json:"outcome"`
	Count   int             `json:"count"`
}

// CLIState is one persisted script state key.
type CLIState struct {
	Key       string `json:"key"`
	Value     string `json:"value"`
	UpdatedAt string `json:"updated_at"`
}

// snapshotToCLI lists a snapshot's entries in call-stack order.
func snapshotToCLI(snap *serpent.Snapshot) []CLITraceEntry {
	entries := snap.Entries()
	out := make([]CLITraceEntry, len(entries))
	for i, e := range entries {
		out[i] = CLITraceEntry{CallStack: e.Stack.Key(), State: e.State.String()}
	}
	return out
}

func passToCLI(res *serpent.Result) CLIPass {
	p := CLIPass{
		RunID:       res.RunID,
		Outcome:     res.Outcome,
		Interrupted: res.Interrupted,
		DurationMS:  res.FinishedAt.Sub(res.StartedAt).Milliseconds(),
		Trace:       snapshotToCLI(res.Snapshot),
	}
	if res.Err != nil {
		p.Error = res.Err.Error()
	}
	return p
}

// outcomesToCLI orders outcome counts by outcome name.
func outcomesToCLI(counts map[serpent.Outcome]int) []CLIOutcome {
	out := make([]CLIOutcome, 0, len(counts))
	for o, n := range counts {
		out = append(out, CLIOutcome{Outcome: o, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Outcome < out[j].Outcome })
	return out
}
