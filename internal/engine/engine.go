package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/benjamind/flecs/internal/ecs"
	"github.com/benjamind/flecs/internal/observable"
	"github.com/benjamind/flecs/internal/observer"
	"github.com/benjamind/flecs/internal/trav"
)

// ErrStopped is returned by Do when the engine no longer accepts commands.
var ErrStopped = errors.New("engine stopped")

// Engine is a world with its notification core.
//
// Thread-safety model:
//   - Enqueue(), Do(): safe from any goroutine
//   - Run(): must be called from exactly one goroutine, which then owns the
//     world
//   - every other method: only from the goroutine that owns the world
type Engine struct {
	world      *ecs.World
	obs        *observable.Observable
	emitter    *observable.Emitter
	dispatcher *observer.Dispatcher
	cache      *trav.Cache
	queue      *commandQueue
	log        *slog.Logger

	cacheSize int
	worldOpts []ecs.Option
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithCacheSize sets the number of traversals kept by the reachability
// cache.
//
// Default: trav.DefaultSize
func WithCacheSize(size int) EngineOption {
	return func(e *Engine) {
		e.cacheSize = size
	}
}

// WithLogger sets the logger of the world and the notification core.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.log = l
	}
}

// WithMeasureTime enables emission time accounting.
func WithMeasureTime(enabled bool) EngineOption {
	return func(e *Engine) {
		e.worldOpts = append(e.worldOpts, ecs.WithMeasureTime(enabled))
	}
}

// WithTimeSource overrides the wall clock used for emission time
// accounting. Tests use a stepping clock for deterministic durations.
func WithTimeSource(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.worldOpts = append(e.worldOpts, ecs.WithTimeSource(now))
	}
}

// New creates an Engine with an empty world.
func New(opts ...EngineOption) (*Engine, error) {
	e := &Engine{
		queue:     newCommandQueue(),
		log:       slog.Default(),
		cacheSize: trav.DefaultSize,
	}
	for _, opt := range opts {
		opt(e)
	}

	e.world = ecs.New(append([]ecs.Option{ecs.WithLogger(e.log)}, e.worldOpts...)...)
	cache, err := trav.New(e.world, e.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}
	e.cache = cache
	e.obs = observable.New(e.log)
	e.dispatcher = observer.New(e.world, e.obs)
	e.emitter = observable.NewEmitter(e.obs, e.dispatcher, e.cache, observable.WithLogger(e.log))
	e.world.SetEmitter(e.emitter)

	return e, nil
}

// World returns the engine's world.
func (e *Engine) World() *ecs.World {
	return e.world
}

// Observable returns the observer registry.
func (e *Engine) Observable() *observable.Observable {
	return e.obs
}

// Dispatcher returns the observer dispatcher.
func (e *Engine) Dispatcher() *observer.Dispatcher {
	return e.dispatcher
}

// Cache returns the reachability cache.
func (e *Engine) Cache() *trav.Cache {
	return e.cache
}

// Observe registers an observer. See observer.Dispatcher.Register.
func (e *Engine) Observe(desc observer.Desc) (uint64, error) {
	return e.dispatcher.Register(desc)
}

// Unobserve unregisters an observer.
func (e *Engine) Unobserve(handle uint64) error {
	return e.dispatcher.Unregister(handle)
}

// Emit emits a user event on the world.
func (e *Engine) Emit(desc *ecs.EventDesc) error {
	if desc != nil && desc.Observable == nil {
		desc.Observable = e.obs
	}
	return observable.EmitStage(e.world.Stage(), desc)
}

// EventID returns the current value of the world event counter.
func (e *Engine) EventID() uint64 {
	return e.world.EventID()
}

// Fini stops the command loop and tears down the world. It fails when
// observers are still registered. Commands still queued are dropped.
func (e *Engine) Fini() error {
	if n := e.QueueLen(); n > 0 {
		e.log.Warn("engine fini: dropping pending commands", "pending", n)
	}
	e.queue.Close()
	if err := e.world.Fini(); err != nil {
		return fmt.Errorf("engine fini: %w", err)
	}
	return nil
}

// Enqueue submits a command for the Run loop.
// Thread-safe: may be called from any goroutine.
//
// Returns false if the engine has been stopped.
func (e *Engine) Enqueue(cmd Command) bool {
	return e.queue.Enqueue(cmd)
}

// Do submits fn to the Run loop and waits for its result.
// Thread-safe: may be called from any goroutine.
func (e *Engine) Do(ctx context.Context, name string, fn func(w *ecs.World) error) error {
	done := make(chan error, 1)
	if !e.queue.Enqueue(Command{Name: name, Apply: fn, done: done}) {
		return ErrStopped
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// Run starts the single-writer command loop.
// Blocks until context is cancelled or Stop() is called.
//
// CRITICAL: Must be called from exactly ONE goroutine. That goroutine owns
// the world while Run is active.
//
// A failing command is logged and the loop continues. The error is also
// returned to the caller of Do.
func (e *Engine) Run(ctx context.Context) error {
	e.log.Info("engine starting")

	for {
		cmd, ok := e.queue.TryDequeue()
		if ok {
			e.apply(cmd)
			continue
		}

		select {
		case <-ctx.Done():
			e.log.Info("engine stopping: context cancelled")
			e.queue.Close()
			return ctx.Err()

		case <-e.queue.Wait():
			if e.queue.Len() == 0 && e.queue.Closed() {
				e.log.Info("engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the command queue, which will cause Run() to return.
func (e *Engine) Stop() {
	e.queue.Close()
}

// QueueLen returns the number of pending commands.
func (e *Engine) QueueLen() int {
	return e.queue.Len()
}

func (e *Engine) apply(cmd Command) {
	var err error
	if cmd.Apply == nil {
		err = ecs.NewInvalidArgument("command %q has no apply function", cmd.Name)
	} else {
		err = cmd.Apply(e.world)
	}
	if err != nil {
		e.log.Error("command failed",
			"command", cmd.Name,
			"event_id", e.world.EventID(),
			"error", err,
		)
	}
	if cmd.done != nil {
		cmd.done <- err
	}
}
