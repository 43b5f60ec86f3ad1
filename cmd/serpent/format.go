package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jward/serpent"
)

// formatCheckText formats a check report as a function table.
func formatCheckText(w io.Writer, c CLICheck) {
	fmt.Fprintf(w, "Source: %s\n", c.Source)
	fmt.Fprintf(w, "Hash:   %s\n\n", c.Hash)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tPARAMS\tKIND\tLINE\tNOTES")
	for _, fn := range c.Functions {
		kind := "local"
		if fn.External {
			kind = "external"
		}
		var notes []string
		if fn.Main {
			notes = append(notes, "entry point")
		}
		if fn.Shadowed {
			notes = append(notes, "shadowed")
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%s\n",
			fn.ID, fn.Name, strings.Join(fn.Params, ", "), kind, fn.Line+1, strings.Join(notes, ", "))
	}
	tw.Flush()

	if len(c.Unimplemented) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Unimplemented external functions:")
		for _, name := range c.Unimplemented {
			fmt.Fprintf(w, "  %s\n", name)
		}
	}
}

// formatTraceText formats trace entries as aligned columns.
func formatTraceText(w io.Writer, entries []CLITraceEntry) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CALL STACK\tSTATE")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\n", e.CallStack, e.State)
	}
	tw.Flush()
}

// formatPassText formats a pass summary followed by its trace.
func formatPassText(w io.Writer, p CLIPass) {
	if p.RunID != 0 {
		fmt.Fprintf(w, "Run:     #%d\n", p.RunID)
	}
	fmt.Fprintf(w, "Outcome: %s (%s)\n", p.Outcome, time.Duration(p.DurationMS)*time.Millisecond)
	if p.Error != "" {
		fmt.Fprintf(w, "Error:   %s\n", p.Error)
	}
	fmt.Fprintln(w)
	formatTraceText(w, p.Trace)
}

// formatRunsText formats run summaries as aligned columns.
func formatRunsText(w io.Writer, runs []serpent.RunSummary) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tOUTCOME\tENTRIES\tDURATION\tSOURCE")
	for _, r := range runs {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\t%s\n",
			r.ID, r.StartedAt, r.Outcome, r.Entries, time.Duration(r.DurationMS)*time.Millisecond, r.Source)
	}
	tw.Flush()
}

// formatOutcomesText formats outcome counts.
func formatOutcomesText(w io.Writer, outcomes []CLIOutcome) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "OUTCOME\tCOUNT")
	for _, o := range outcomes {
		fmt.Fprintf(tw, "%s\t%d\n", o.Outcome, o.Count)
	}
	tw.Flush()
}

// formatStateText formats persisted script state.
func formatStateText(w io.Writer, entries []CLIState) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tVALUE\tUPDATED")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Key, e.Value, e.UpdatedAt)
	}
	tw.Flush()
}

// outputResultText dispatches to the appropriate text formatter based on the
// result type.
func outputResultText(w io.Writer, result CLIResult) error {
	switch v := result.Results.(type) {
	case CLICheck:
		formatCheckText(w, v)
	case CLIPass:
		formatPassText(w, v)
	case CLIRun:
		formatRunsText(w, []serpent.RunSummary{v.RunSummary})
		if v.Error != "" {
			fmt.Fprintf(w, "\nError: %s\n", v.Error)
		}
		fmt.Fprintln(w)
		formatTraceText(w, v.Trace)
	case []serpent.RunSummary:
		formatRunsText(w, v)
	case []CLIOutcome:
		formatOutcomesText(w, v)
	case []CLIState:
		formatStateText(w, v)
	case nil:
	default:
		return fmt.Errorf("unsupported result type for text format: %T", v)
	}
	return nil
}

// outputResult writes a CLIResult to the command's output in the selected
// format.
func outputResult(cmd *cobra.Command, result CLIResult) error {
	w := cmd.OutOrStdout()
	if flagFormat == "text" {
		return outputResultText(w, result)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// outputError writes an error in the selected format and returns it so RunE
// can propagate it to Cobra. In JSON mode the error is written to stdout as a
// CLIResult envelope. In text mode it goes to stderr.
func outputError(cmd *cobra.Command, command string, err error) error {
	errorHandled = true
	if flagFormat == "text" {
		fmt.Fprintf(cmd.ErrOrStderr(), "Error: %s\n", err)
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	_ = enc.Encode(CLIResult{Command: command, Error: err.Error()})
	return err
}

// validFormats lists accepted values for --format.
var validFormats = []string{"json", "text"}

// validateFormat checks that the --format flag value is recognized.
func validateFormat(format string) error {
	for _, f := range validFormats {
		if format == f {
			return nil
		}
	}
	return fmt.Errorf("invalid format %q: must be %s", format, strings.Join(validFormats, " or "))
}

// parseIDArg parses a positional run id with a clear error.
func parseIDArg(value string) (int64, error) {
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid run id %q: must be a positive integer", value)
	}
	return n, nil
}

// parseInterval parses a positive duration flag.
func parseInterval(value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q: %w", value, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid interval %q: must be positive", value)
	}
	return d, nil
}
