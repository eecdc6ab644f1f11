package cli

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/spf13/cobra"

	"github.com/benjamind/flecs/internal/engine"
	"github.com/benjamind/flecs/internal/harness"
	"github.com/benjamind/flecs/internal/store"
	"github.com/benjamind/flecs/internal/trace"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
	RunID    string
}

// ReplayResult holds the outcome of replaying one recorded run.
type ReplayResult struct {
	RunID          string `json:"run_id"`
	Scenario       string `json:"scenario"`
	RecordedDigest string `json:"recorded_digest"`
	ReplayedDigest string `json:"replayed_digest"`
	Deterministic  bool   `json:"deterministic"`
	// FirstDivergence is the seq of the first notification that differs,
	// or 0 when the traces match.
	FirstDivergence int64 `json:"first_divergence,omitempty"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay <scenario.yaml>",
		Short: "Replay a recorded run and verify determinism",
		Long: `Run a scenario again under the id of a recorded run and compare the
new trace with the recorded one.

Notification delivery is deterministic: the same scenario must produce
the same notifications in the same order. The replay runs against an
in-memory store and leaves the database untouched.

Exit codes:
  0 - The replayed trace matches the recorded one
  1 - The traces differ
  2 - Command error (database or run not found, etc.)

Examples:
  flecs replay --db ./trace.db --run 0192f0c4-... ./scenarios/cascade.yaml
  flecs replay --db ./trace.db --run 0192f0c4-... ./scenarios/cascade.yaml --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "run id to replay (required)")
	_ = cmd.MarkFlagRequired("run")

	return cmd
}

func runReplay(opts *ReplayOptions, path string, cmd *cobra.Command) error {
	ctx := context.Background()

	formatter := newFormatter(opts.RootOptions, cmd)

	st, err := store.Open(opts.Database)
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	recorded, err := st.ReadRun(ctx, opts.RunID)
	if errors.Is(err, sql.ErrNoRows) {
		return formatter.Fail(ExitCommandError, fmt.Sprintf("run not found: %s", opts.RunID), err)
	}
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to read run", err)
	}
	recordedNotes, err := st.ReadNotifications(ctx, opts.RunID)
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to read notifications", err)
	}

	scenario, err := harness.LoadScenario(path)
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to load scenario", err)
	}
	if scenario.Name != recorded.Scenario {
		return formatter.Fail(ExitCommandError, fmt.Sprintf("run %s recorded scenario %q, not %q",
			recorded.ID, recorded.Scenario, scenario.Name), errScenarioMismatch)
	}

	replayed, err := harness.Run(scenario, harness.WithRunIDGenerator(engine.NewFixedGenerator(recorded.ID)))
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to replay scenario", err)
	}
	digest, err := trace.Digest(replayed.Trace)
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to digest replayed trace", err)
	}

	result := ReplayResult{
		RunID:          recorded.ID,
		Scenario:       recorded.Scenario,
		RecordedDigest: recorded.Digest,
		ReplayedDigest: digest,
		Deterministic:  digest == recorded.Digest,
	}
	if !result.Deterministic {
		result.FirstDivergence = firstDivergence(recordedNotes, replayed.Trace)
	}

	if opts.Format == "json" {
		return outputReplayJSON(cmd, result)
	}
	return outputReplayText(cmd, result)
}

// firstDivergence returns the seq of the first position where the two
// traces differ. A trace that is a prefix of the other diverges right after
// its last notification.
func firstDivergence(a, b []trace.Notification) int64 {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if !reflect.DeepEqual(a[i].Object(), b[i].Object()) {
			return a[i].Seq
		}
	}
	return int64(n + 1)
}

// outputReplayJSON outputs the replay result as JSON.
func outputReplayJSON(cmd *cobra.Command, result ReplayResult) error {
	status := "ok"
	if !result.Deterministic {
		status = "error"
	}

	response := CLIResponse{
		Status: status,
		Data:   result,
	}
	if !result.Deterministic {
		response.Error = &CLIError{
			Code:    ErrCodeNondeterministic,
			Message: "replayed trace differs from the recorded one",
		}
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(response); err != nil {
		return err
	}

	if !result.Deterministic {
		// Non-determinism = exit code 1
		return reportedExit(ExitFailure, "determinism verification failed")
	}
	return nil
}

// outputReplayText outputs the replay result as human-readable text.
func outputReplayText(cmd *cobra.Command, result ReplayResult) error {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Run: %s (%s)\n", result.RunID, result.Scenario)
	fmt.Fprintf(w, "  Recorded: %s\n", truncateID(result.RecordedDigest))
	fmt.Fprintf(w, "  Replayed: %s\n", truncateID(result.ReplayedDigest))
	fmt.Fprintln(w)

	if !result.Deterministic {
		fmt.Fprintf(w, "✗ Traces diverge at notification %d\n", result.FirstDivergence)
		return reportedExit(ExitFailure, "determinism verification failed")
	}

	fmt.Fprintln(w, "✓ Replay is deterministic")
	return nil
}
