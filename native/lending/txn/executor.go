// Package txn provides the atomic action boundary of the lending engine.
// Every state-changing action runs through Executor.Run, which serialises it
// against every other action, snapshots the registered components and
// restores them if the action fails, panics with an arithmetic error, or
// returns an error from a nested call.
package txn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"fixedlend/core/events"
	"fixedlend/native/lending"
	"fixedlend/observability"
)

// Journaled components can snapshot their state and later restore it.
type Journaled interface {
	// Checkpoint captures the current state and returns a function that
	// restores it.
	Checkpoint() func()
}

// Tx is the handle of the action currently executing.
type Tx struct {
	name   string
	now    uint64
	events []events.Event
}

// Name is the action name passed to Run.
func (tx *Tx) Name() string { return tx.name }

// Now is the timestamp the whole action executes at.
func (tx *Tx) Now() uint64 { return tx.now }

// Emit buffers e until the action commits. Events of failed actions are
// dropped.
func (tx *Tx) Emit(e events.Event) {
	if e == nil {
		return
	}
	tx.events = append(tx.events, e)
}

type txKey struct{}

// FromContext returns the action running on ctx, if any.
func FromContext(ctx context.Context) *Tx {
	if ctx == nil {
		return nil
	}
	tx, _ := ctx.Value(txKey{}).(*Tx)
	return tx
}

// Require returns the action running on ctx or lending.ErrNotInTransaction.
func Require(ctx context.Context) (*Tx, error) {
	tx := FromContext(ctx)
	if tx == nil {
		return nil, lending.ErrNotInTransaction
	}
	return tx, nil
}

// Executor serialises lending actions.
type Executor struct {
	mu       sync.Mutex
	clock    Clock
	journals []Journaled
	emitter  events.Emitter
	logger   *slog.Logger
	metrics  *observability.LendingMetrics
	tracer   trace.Tracer
}

// Option customises an Executor.
type Option func(*Executor)

// WithEmitter publishes committed events to emitter.
func WithEmitter(emitter events.Emitter) Option {
	return func(e *Executor) {
		if emitter != nil {
			e.emitter = emitter
		}
	}
}

// WithLogger sets the logger failed actions are reported to.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics records action outcomes in metrics.
func WithMetrics(metrics *observability.LendingMetrics) Option {
	return func(e *Executor) { e.metrics = metrics }
}

// NewExecutor returns an executor reading time from clock.
func NewExecutor(clock Clock, opts ...Option) *Executor {
	if clock == nil {
		clock = SystemClock{}
	}
	e := &Executor{
		clock:   clock,
		emitter: events.NoopEmitter{},
		logger:  slog.Default(),
		tracer:  otel.Tracer("fixedlend/native/lending"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Clock returns the executor's time source.
func (e *Executor) Clock() Clock { return e.clock }

// Register adds components whose state every action checkpoints.
func (e *Executor) Register(components ...Journaled) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.journals = append(e.journals, components...)
}

// Run executes fn as one atomic action. Calling Run again from inside fn
// with the action's context fails with lending.ErrReentrancy; nested
// protocol calls should pass the context on instead.
func (e *Executor) Run(ctx context.Context, name string, fn func(ctx context.Context, tx *Tx) error) (err error) {
	if FromContext(ctx) != nil {
		return fmt.Errorf("%s: %w", name, lending.ErrReentrancy)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	ctx, span := e.tracer.Start(ctx, name)
	defer span.End()

	restores := make([]func(), 0, len(e.journals))
	for _, j := range e.journals {
		restores = append(restores, j.Checkpoint())
	}
	tx := &Tx{name: name, now: e.clock.Now()}
	span.SetAttributes(attribute.Int64("lending.timestamp", int64(tx.now)))

	defer func() {
		if r := recover(); r != nil {
			perr, ok := r.(error)
			if !ok || !errors.Is(perr, lending.ErrArithmeticOverflow) {
				rollback(restores)
				panic(r)
			}
			err = fmt.Errorf("%s: %w", name, perr)
		}
		if err != nil {
			rollback(restores)
			span.RecordError(err)
			span.SetStatus(codes.Error, lending.Kind(err))
			e.logger.Debug("lending action rolled back", "action", name, "kind", lending.Kind(err), "error", err)
		} else {
			for _, ev := range tx.events {
				e.emitter.Emit(ev)
				observability.Events().RecordEvent(ev.EventType())
			}
		}
		e.metrics.ObserveAction(name, time.Since(start), lending.Kind(err))
	}()

	return fn(context.WithValue(ctx, txKey{}, tx), tx)
}

func rollback(restores []func()) {
	for i := len(restores) - 1; i >= 0; i-- {
		restores[i]()
	}
}

// View runs fn while no action is executing. fn must not mutate state.
func (e *Executor) View(fn func(now uint64) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.clock.Now())
}
