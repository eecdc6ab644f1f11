package cli

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/benjamind/flecs/internal/store"
	"github.com/benjamind/flecs/internal/trace"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	RunID    string // optional - list runs when empty
	Observer string // optional - filter to one observer
	Event    string // optional - filter to one event
	Source   string // optional - filter to events cascaded from one entity
}

// TraceResult holds the notifications of one run.
type TraceResult struct {
	Run           trace.Run            `json:"run"`
	Notifications []trace.Notification `json:"notifications"`
	Stats         TraceStats           `json:"stats"`
}

// TraceStats holds summary statistics for a trace.
type TraceStats struct {
	Total      int            `json:"total"`
	ByEvent    map[string]int `json:"by_event"`
	ByObserver map[string]int `json:"by_observer"`
	Cascaded   int            `json:"cascaded"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Inspect recorded runs",
		Long: `Inspect the runs recorded in a trace database.

Without --run, lists every recorded run in the order it was written.
With --run, shows the notifications of that run in delivery order.
Cascaded notifications show the entity the event was emitted on.

Examples:
  flecs trace --db ./trace.db
  flecs trace --db ./trace.db --run 0192f0c4-...
  flecs trace --db ./trace.db --run 0192f0c4-... --observer on_set_up
  flecs trace --db ./trace.db --run 0192f0c4-... --event OnSet --source parent
  flecs trace --db ./trace.db --run 0192f0c4-... --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "run id to show")
	cmd.Flags().StringVar(&opts.Observer, "observer", "", "filter to a single observer")
	cmd.Flags().StringVar(&opts.Event, "event", "", "filter to a single event")
	cmd.Flags().StringVar(&opts.Source, "source", "", "filter to events cascaded from an entity")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	formatter := newFormatter(opts.RootOptions, cmd)

	st, err := store.Open(opts.Database)
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	if opts.RunID == "" {
		return listRuns(ctx, opts, st, formatter, cmd)
	}

	run, err := st.ReadRun(ctx, opts.RunID)
	if errors.Is(err, sql.ErrNoRows) {
		return formatter.Fail(ExitCommandError, fmt.Sprintf("run not found: %s", opts.RunID), err)
	}
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to read run", err)
	}

	notes, err := st.ReadFilteredNotifications(ctx, store.Filter{
		RunID:    opts.RunID,
		Observer: opts.Observer,
		Event:    opts.Event,
		Source:   opts.Source,
	})
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to read notifications", err)
	}

	result := TraceResult{
		Run:           run,
		Notifications: notes,
		Stats:         traceStats(notes),
	}
	if opts.Format == "json" {
		return outputTraceJSON(cmd, result)
	}
	outputTraceText(cmd, result)
	return nil
}

func traceStats(notes []trace.Notification) TraceStats {
	stats := TraceStats{
		Total:      len(notes),
		ByEvent:    make(map[string]int),
		ByObserver: make(map[string]int),
	}
	for _, n := range notes {
		stats.ByEvent[n.Event]++
		stats.ByObserver[n.Observer]++
		if n.Source != "" {
			stats.Cascaded++
		}
	}
	return stats
}

func listRuns(ctx context.Context, opts *TraceOptions, st *store.Store, formatter *OutputFormatter, cmd *cobra.Command) error {
	runs, err := st.ListRuns(ctx)
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to list runs", err)
	}

	if opts.Format == "json" {
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(CLIResponse{Status: "ok", Data: runs})
	}

	w := cmd.OutOrStdout()
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return nil
	}
	for _, run := range runs {
		mark := "✓"
		if !run.Pass {
			mark = "✗"
		}
		fmt.Fprintf(w, "%s %s  %s  %s notifications, %s events\n",
			mark, run.ID, run.Scenario,
			humanize.Comma(int64(run.Notifications)),
			humanize.Comma(int64(run.EventCounter)))
	}
	return nil
}

// outputTraceJSON outputs the trace result as JSON.
func outputTraceJSON(cmd *cobra.Command, result TraceResult) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(CLIResponse{
		Status: "ok",
		Data:   result,
	})
}

// outputTraceText outputs the trace result as human-readable text.
func outputTraceText(cmd *cobra.Command, result TraceResult) {
	w := cmd.OutOrStdout()
	run := result.Run

	fmt.Fprintf(w, "Run: %s (%s)\n", run.ID, run.Scenario)
	fmt.Fprintf(w, "Digest: %s\n", truncateID(run.Digest))
	if run.EmitTimeNS > 0 {
		fmt.Fprintf(w, "Emit time: %s\n", formatDuration(run.EmitTimeNS))
	}
	fmt.Fprintln(w)

	if len(result.Notifications) == 0 {
		fmt.Fprintln(w, "No notifications.")
		return
	}

	fmt.Fprintln(w, "=== Notifications ===")
	for _, n := range result.Notifications {
		line := fmt.Sprintf("[%d] #%d %-8s %s %s on %s [%s]",
			n.Seq, n.EventID, n.Event, n.Observer, n.Term, n.Table, strings.Join(n.Entities, ", "))
		if n.Source != "" {
			line += " from " + n.Source
		}
		if n.Value != "" {
			line += " = " + n.Value
		}
		fmt.Fprintln(w, line)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "=== Stats ===")
	fmt.Fprintf(w, "Notifications: %s (%s cascaded)\n",
		humanize.Comma(int64(result.Stats.Total)), humanize.Comma(int64(result.Stats.Cascaded)))
	events := make([]string, 0, len(result.Stats.ByEvent))
	for event := range result.Stats.ByEvent {
		events = append(events, event)
	}
	slices.Sort(events)
	for _, event := range events {
		fmt.Fprintf(w, "  %s: %s\n", event, humanize.Comma(int64(result.Stats.ByEvent[event])))
	}
}
