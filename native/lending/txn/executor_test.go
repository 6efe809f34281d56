package txn

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"fixedlend/core/events"
	"fixedlend/native/lending"
)

type counter struct {
	value int
}

func (c *counter) Checkpoint() func() {
	saved := c.value
	return func() { c.value = saved }
}

type pingEvent struct{}

func (pingEvent) EventType() string { return "test.ping" }

func TestRunCommitsAndPublishes(t *testing.T) {
	rec := &events.Recorder{}
	exec := NewExecutor(NewManualClock(100), WithEmitter(rec))
	c := &counter{}
	exec.Register(c)

	err := exec.Run(context.Background(), "increment", func(ctx context.Context, tx *Tx) error {
		if tx.Now() != 100 {
			return fmt.Errorf("unexpected timestamp %d", tx.Now())
		}
		if FromContext(ctx) != tx {
			return errors.New("action missing from context")
		}
		c.value++
		tx.Emit(pingEvent{})
		return nil
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if c.value != 1 {
		t.Fatalf("unexpected value %d", c.value)
	}
	if got := rec.Types(); len(got) != 1 || got[0] != "test.ping" {
		t.Fatalf("unexpected events %v", got)
	}
}

func TestRunRollsBackOnError(t *testing.T) {
	rec := &events.Recorder{}
	exec := NewExecutor(NewManualClock(0), WithEmitter(rec))
	c := &counter{value: 7}
	exec.Register(c)

	err := exec.Run(context.Background(), "fail", func(_ context.Context, tx *Tx) error {
		c.value = 99
		tx.Emit(pingEvent{})
		return lending.ErrTooMuchSlippage
	})
	if !errors.Is(err, lending.ErrTooMuchSlippage) {
		t.Fatalf("expected slippage error, got %v", err)
	}
	if c.value != 7 {
		t.Fatalf("state not restored: %d", c.value)
	}
	if len(rec.Events()) != 0 {
		t.Fatalf("events of failed action were published")
	}
}

func TestRunRecoversArithmeticPanics(t *testing.T) {
	exec := NewExecutor(NewManualClock(0))
	c := &counter{value: 1}
	exec.Register(c)

	err := exec.Run(context.Background(), "overflow", func(context.Context, *Tx) error {
		c.value = 2
		panic(fmt.Errorf("sub: %w", lending.ErrArithmeticOverflow))
	})
	if !errors.Is(err, lending.ErrArithmeticOverflow) {
		t.Fatalf("expected overflow error, got %v", err)
	}
	if c.value != 1 {
		t.Fatalf("state not restored after panic: %d", c.value)
	}
}

func TestRunRepanicsForeignPanics(t *testing.T) {
	exec := NewExecutor(NewManualClock(0))
	c := &counter{value: 1}
	exec.Register(c)
	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("expected panic to propagate")
		}
		if c.value != 1 {
			t.Fatalf("state not restored before propagating panic: %d", c.value)
		}
	}()
	_ = exec.Run(context.Background(), "bug", func(context.Context, *Tx) error {
		c.value = 5
		panic("boom")
	})
}

func TestNestedRunIsReentrancy(t *testing.T) {
	exec := NewExecutor(NewManualClock(0))
	c := &counter{}
	exec.Register(c)

	var inner error
	err := exec.Run(context.Background(), "outer", func(ctx context.Context, _ *Tx) error {
		c.value = 3
		inner = exec.Run(ctx, "inner", func(context.Context, *Tx) error {
			c.value = 100
			return nil
		})
		return inner
	})
	if !errors.Is(inner, lending.ErrReentrancy) || !errors.Is(err, lending.ErrReentrancy) {
		t.Fatalf("expected reentrancy, got inner %v outer %v", inner, err)
	}
	if c.value != 0 {
		t.Fatalf("outer action not rolled back: %d", c.value)
	}
}

func TestRequire(t *testing.T) {
	if _, err := Require(context.Background()); !errors.Is(err, lending.ErrNotInTransaction) {
		t.Fatalf("expected not in transaction, got %v", err)
	}
}

func TestManualClock(t *testing.T) {
	clock := NewManualClock(10)
	if got := clock.Advance(5); got != 15 {
		t.Fatalf("unexpected advance result %d", got)
	}
	clock.Set(12)
	if clock.Now() != 15 {
		t.Fatalf("clock moved backwards")
	}
}
