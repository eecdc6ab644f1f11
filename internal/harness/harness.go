package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/benjamind/flecs/internal/compiler"
	"github.com/benjamind/flecs/internal/ecs"
	"github.com/benjamind/flecs/internal/engine"
	"github.com/benjamind/flecs/internal/observer"
	"github.com/benjamind/flecs/internal/store"
	"github.com/benjamind/flecs/internal/testutil"
	"github.com/benjamind/flecs/internal/trace"
)

// Harness is the test execution engine.
// It runs one scenario against a fresh engine with a deterministic run id
// and, when the scenario measures time, a stepping clock.
type Harness struct {
	engine    *engine.Engine
	collector *trace.Collector
	observers map[string]uint64
	logger    *slog.Logger
}

// Option configures a scenario run.
type Option func(*config)

type config struct {
	store  *store.Store
	runIDs engine.RunIDGenerator
	logger *slog.Logger
}

// WithStore persists the run to st instead of a fresh in-memory store.
func WithStore(st *store.Store) Option {
	return func(c *config) {
		c.store = st
	}
}

// WithRunIDGenerator overrides the run id. Defaults to the scenario's
// run_id.
func WithRunIDGenerator(g engine.RunIDGenerator) Option {
	return func(c *config) {
		c.runIDs = g
	}
}

// WithLogger sets the logger handed to the engine. Logs are discarded by
// default.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// stepClockStart is the first reading of the stepping clock.
var stepClockStart = time.Unix(0, 0).UTC()

// stepClockStep is how far the stepping clock advances per reading. Every
// emission reads the clock twice, so each one accounts for one step.
const stepClockStep = time.Microsecond

// Run executes a test scenario and returns the result.
//
// Execution flow:
// 1. Compile and validate the schema, then apply it to a new engine
// 2. Create entities and register observers
// 3. Apply the steps on the engine's command loop
// 4. Tear down observers and the world
// 5. Evaluate assertions, then persist the trace and read it back
//
// A step that fails unexpectedly fails the result; it does not abort the
// run. Errors are returned only when the scenario cannot be set up.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	cfg := config{
		runIDs: testutil.NewFixedRunIDGenerator(scenario.RunID),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	st := cfg.store
	if st == nil {
		var err error
		st, err = store.Open(":memory:")
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory store: %w", err)
		}
		defer st.Close()
	}

	schema, err := compiler.CompileString(scenario.Schema, scenario.Name+".cue")
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}
	if verrs := compiler.Validate(schema); len(verrs) > 0 {
		return nil, fmt.Errorf("invalid schema: %w", verrs[0])
	}

	engOpts := []engine.EngineOption{engine.WithLogger(cfg.logger)}
	if scenario.MeasureTime {
		clock := testutil.NewStepClock(stepClockStart, stepClockStep)
		engOpts = append(engOpts, engine.WithMeasureTime(true), engine.WithTimeSource(clock.Now))
	}
	eng, err := engine.New(engOpts...)
	if err != nil {
		return nil, err
	}
	if _, err := compiler.Apply(schema, eng.World()); err != nil {
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	runID := cfg.runIDs.Generate()
	h := &Harness{
		engine:    eng,
		collector: trace.NewCollector(eng.World(), runID),
		observers: make(map[string]uint64),
		logger:    cfg.logger,
	}
	result := NewResult(runID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- eng.Run(ctx)
	}()

	execErr := h.execute(ctx, scenario, result)
	eng.Stop()
	<-done
	if execErr != nil {
		return nil, execErr
	}

	result.EventCounter = eng.EventID()
	result.EmitTime = eng.World().Info().EmitTimeTotal

	if err := eng.Dispatcher().UnregisterAll(); err != nil {
		return nil, fmt.Errorf("failed to unregister observers: %w", err)
	}
	if err := eng.Fini(); err != nil {
		return nil, err
	}

	result.Trace = h.collector.Notifications()
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(errMsg)
	}

	run, err := result.Run(scenario.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize run: %w", err)
	}
	storeCtx := context.Background()
	if err := st.WriteTrace(storeCtx, run, result.Trace); err != nil {
		return nil, fmt.Errorf("failed to write trace: %w", err)
	}
	result.Trace, err = st.ReadNotifications(storeCtx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to read trace: %w", err)
	}
	return result, nil
}

// execute sets up the world and applies the steps. Setup runs on the
// command loop like the steps do, so that only the loop goroutine touches
// the world.
func (h *Harness) execute(ctx context.Context, scenario *Scenario, result *Result) error {
	if err := h.engine.Do(ctx, "setup entities", func(w *ecs.World) error {
		return h.createEntities(w, scenario.Entities)
	}); err != nil {
		return fmt.Errorf("failed to create entities: %w", err)
	}

	if err := h.engine.Do(ctx, "register observers", func(w *ecs.World) error {
		return h.registerObservers(w, scenario.Observers)
	}); err != nil {
		return fmt.Errorf("failed to register observers: %w", err)
	}

	for i, step := range scenario.Steps {
		step := step
		err := h.engine.Do(ctx, step.Op, func(w *ecs.World) error {
			return h.apply(w, step)
		})
		if errors.Is(err, engine.ErrStopped) || errors.Is(err, context.Canceled) {
			return fmt.Errorf("step %d: %w", i, err)
		}
		if msg := checkStepError(step, err); msg != "" {
			result.AddError(fmt.Sprintf("steps[%d] %s: %s", i, step.Op, msg))
		}

		h.logger.Info("step completed",
			"step", i,
			"op", step.Op,
			"entity", step.Entity,
			"notifications", h.collector.Len(),
		)
	}
	return nil
}

// checkStepError compares the outcome of a step with its expect_error
// clause. It returns a description of the mismatch, or "".
func checkStepError(step Step, err error) string {
	if step.ExpectError == "" {
		if err != nil {
			return fmt.Sprintf("unexpected error: %v", err)
		}
		return ""
	}
	if err == nil {
		return fmt.Sprintf("expected %s error, step succeeded", step.ExpectError)
	}
	var ee *ecs.Error
	if !errors.As(err, &ee) || string(ee.Code) != step.ExpectError {
		return fmt.Sprintf("expected %s error, got: %v", step.ExpectError, err)
	}
	return ""
}

func (h *Harness) createEntities(w *ecs.World, specs []EntitySpec) error {
	for _, spec := range specs {
		if _, err := w.NewEntity(spec.Name); err != nil {
			return err
		}
	}
	for _, spec := range specs {
		e, _ := w.Lookup(spec.Name)
		for _, s := range spec.Add {
			id, err := parseID(w, s)
			if err != nil {
				return fmt.Errorf("%s: %w", spec.Name, err)
			}
			if err := w.Add(e, id); err != nil {
				return fmt.Errorf("%s: add %s: %w", spec.Name, s, err)
			}
		}
		setKeys := make([]string, 0, len(spec.Set))
		for k := range spec.Set {
			setKeys = append(setKeys, k)
		}
		slices.Sort(setKeys)
		for _, s := range setKeys {
			id, err := parseID(w, s)
			if err != nil {
				return fmt.Errorf("%s: %w", spec.Name, err)
			}
			if err := w.Set(e, id, spec.Set[s]); err != nil {
				return fmt.Errorf("%s: set %s: %w", spec.Name, s, err)
			}
		}
	}
	return nil
}

func (h *Harness) registerObservers(w *ecs.World, specs []ObserverSpec) error {
	for _, spec := range specs {
		event, err := lookupEvent(w, spec.Event)
		if err != nil {
			return fmt.Errorf("observer %s: %w", spec.Name, err)
		}
		id, err := parseID(w, spec.ID)
		if err != nil {
			return fmt.Errorf("observer %s: %w", spec.Name, err)
		}
		var rel ecs.Entity
		if spec.Trav != "" {
			if rel, err = lookup(w, spec.Trav); err != nil {
				return fmt.Errorf("observer %s: %w", spec.Name, err)
			}
		}
		handle, err := h.engine.Observe(observer.Desc{
			Name:     spec.Name,
			Event:    event,
			ID:       id,
			Trav:     rel,
			Callback: h.collector.Callback(spec.Name),
		})
		if err != nil {
			return fmt.Errorf("observer %s: %w", spec.Name, err)
		}
		h.observers[spec.Name] = handle
	}
	return nil
}

// apply runs one step against the world.
func (h *Harness) apply(w *ecs.World, step Step) error {
	switch step.Op {
	case OpAdd, OpRemove, OpSet:
		e, err := lookup(w, step.Entity)
		if err != nil {
			return err
		}
		id, err := parseID(w, step.ID)
		if err != nil {
			return err
		}
		switch step.Op {
		case OpAdd:
			return w.Add(e, id)
		case OpRemove:
			return w.Remove(e, id)
		default:
			return w.Set(e, id, step.Value)
		}

	case OpDelete:
		e, err := lookup(w, step.Entity)
		if err != nil {
			return err
		}
		return w.Delete(e)

	case OpEmit:
		return h.emit(w, step)

	case OpBulk:
		ids, err := parseIDs(w, step.IDs)
		if err != nil {
			return err
		}
		_, err = w.BulkNew(step.Count, ids...)
		return err

	case OpUnobserve:
		handle, ok := h.observers[step.Observer]
		if !ok {
			return notFound("observer %q", step.Observer)
		}
		delete(h.observers, step.Observer)
		return h.engine.Unobserve(handle)
	}
	return ecs.NewInvalidArgument("unknown op %q", step.Op)
}

// emit raises a user event on the row of an entity, or on its whole table
// for a table event.
func (h *Harness) emit(w *ecs.World, step Step) error {
	e, err := lookup(w, step.Entity)
	if err != nil {
		return err
	}
	event, err := lookupEvent(w, step.Event)
	if err != nil {
		return err
	}
	ids, err := parseIDs(w, step.IDs)
	if err != nil {
		return err
	}
	r := w.Record(e)
	if r == nil {
		return notFound("entity %q has no storage", step.Entity)
	}

	desc := &ecs.EventDesc{
		Event:      event,
		IDs:        ids,
		Table:      r.Table,
		Offset:     r.Row,
		Count:      1,
		TableEvent: step.TableEvent,
	}
	if step.TableEvent {
		desc.Offset, desc.Count = 0, 0
	}
	return h.engine.Emit(desc)
}

// lookup resolves an entity name. "*" is the wildcard.
func lookup(w *ecs.World, name string) (ecs.Entity, error) {
	name = strings.TrimSpace(name)
	if name == "*" {
		return ecs.Wildcard, nil
	}
	e, ok := w.Lookup(name)
	if !ok {
		return 0, notFound("entity %q", name)
	}
	return e, nil
}

func lookupEvent(w *ecs.World, name string) (ecs.Entity, error) {
	e, err := lookup(w, name)
	if err != nil {
		return 0, err
	}
	if !w.IsEvent(e) {
		return 0, ecs.NewInvalidArgument("%q is not an event", name)
	}
	return e, nil
}

// parseID parses "Name", "*" or "(First, Second)".
func parseID(w *ecs.World, s string) (ecs.ID, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		first, second, ok := strings.Cut(s[1:len(s)-1], ",")
		if !ok {
			return 0, ecs.NewInvalidArgument("malformed pair %q", s)
		}
		a, err := lookup(w, first)
		if err != nil {
			return 0, err
		}
		b, err := lookup(w, second)
		if err != nil {
			return 0, err
		}
		return ecs.Pair(a, b), nil
	}
	e, err := lookup(w, s)
	if err != nil {
		return 0, err
	}
	return e.ID(), nil
}

func parseIDs(w *ecs.World, ss []string) ([]ecs.ID, error) {
	ids := make([]ecs.ID, 0, len(ss))
	for _, s := range ss {
		id, err := parseID(w, s)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func notFound(format string, args ...any) *ecs.Error {
	return &ecs.Error{Code: ecs.ErrCodeNotFound, Message: fmt.Sprintf(format, args...) + " not found"}
}
