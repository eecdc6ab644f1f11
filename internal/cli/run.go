package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/benjamind/flecs/internal/engine"
	"github.com/benjamind/flecs/internal/harness"
	"github.com/benjamind/flecs/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database string

	// MeasureTime forces emission time accounting on.
	MeasureTime bool

	// RunIDGenerator allows overriding the run id generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	RunIDGenerator engine.RunIDGenerator
}

// RunSummary is the output of the run command.
type RunSummary struct {
	RunID         string   `json:"run_id"`
	Scenario      string   `json:"scenario"`
	Pass          bool     `json:"pass"`
	EventCounter  uint64   `json:"event_counter"`
	EmitTimeNS    int64    `json:"emit_time_ns"`
	Notifications int      `json:"notifications"`
	Digest        string   `json:"digest"`
	Errors        []string `json:"errors,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario.yaml>",
		Short: "Run a scenario and record its trace",
		Long: `Run one scenario against a fresh world and record every observer
notification in a SQLite trace database (created if it doesn't exist).

Each run gets a new UUIDv7 run id. Inspect it with "flecs trace".

Example:
  flecs run --db ./trace.db ./scenarios/cascade.yaml
  flecs run --db ./trace.db ./scenarios/cascade.yaml --measure-time --verbose`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarioFile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().BoolVar(&opts.MeasureTime, "measure-time", false, "account emission time")

	return cmd
}

func runScenarioFile(opts *RunOptions, path string, cmd *cobra.Command) error {
	logLevel := slog.LevelWarn
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: logLevel,
	}))

	formatter := newFormatter(opts.RootOptions, cmd)

	scenario, err := harness.LoadScenario(path)
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to load scenario", err)
	}
	if opts.MeasureTime {
		scenario.MeasureTime = true
	}

	logger.Info("opening database", "path", opts.Database)
	st, err := store.Open(opts.Database)
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing database", "error", closeErr)
		}
	}()

	runIDs := opts.RunIDGenerator
	if runIDs == nil {
		runIDs = engine.UUIDv7Generator{}
	}
	result, err := harness.Run(scenario,
		harness.WithStore(st),
		harness.WithRunIDGenerator(runIDs),
		harness.WithLogger(logger),
	)
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to run scenario", err)
	}

	run, err := st.ReadRun(context.Background(), result.RunID)
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to read run", err)
	}
	summary := RunSummary{
		RunID:         run.ID,
		Scenario:      run.Scenario,
		Pass:          run.Pass,
		EventCounter:  run.EventCounter,
		EmitTimeNS:    run.EmitTimeNS,
		Notifications: run.Notifications,
		Digest:        run.Digest,
		Errors:        result.Errors,
	}

	if opts.Format == "json" {
		if err := formatter.Success(summary); err != nil {
			return err
		}
	} else {
		outputRunText(formatter, summary)
	}

	if !summary.Pass {
		return reportedExit(ExitFailure, fmt.Sprintf("scenario %s failed", summary.Scenario))
	}
	return nil
}

func outputRunText(f *OutputFormatter, s RunSummary) {
	w := f.Writer
	mark := "✓"
	if !s.Pass {
		mark = "✗"
	}
	fmt.Fprintf(w, "%s %s\n", mark, s.Scenario)
	fmt.Fprintf(w, "  Run:           %s\n", s.RunID)
	fmt.Fprintf(w, "  Notifications: %s\n", humanize.Comma(int64(s.Notifications)))
	fmt.Fprintf(w, "  Event counter: %s\n", humanize.Comma(int64(s.EventCounter)))
	if s.EmitTimeNS > 0 {
		fmt.Fprintf(w, "  Emit time:     %s\n", formatDuration(s.EmitTimeNS))
	}
	fmt.Fprintf(w, "  Digest:        %s\n", truncateID(s.Digest))
	for _, e := range s.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
}

// formatDuration formats nanoseconds with SI prefixes, e.g. "4 µs".
func formatDuration(ns int64) string {
	return humanize.SIWithDigits(time.Duration(ns).Seconds(), 3, "s")
}

// truncateID shortens a content hash for display.
func truncateID(id string) string {
	if len(id) <= 16 {
		return id
	}
	return id[:16] + "..."
}
