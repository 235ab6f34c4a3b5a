package periodic

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/betbot/igcli/pkg/syncgroup"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitDone(t *testing.T, task *Task) {
	t.Helper()
	select {
	case <-task.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("task %s did not exit after signal", task.Name())
	}
}

func TestTokenSignalIsIdempotent(t *testing.T) {
	tok := NewToken(7)
	assert.False(t, tok.IsSignaled())
	assert.Equal(t, uint64(7), tok.Generation())

	tok.Signal()
	tok.Signal()
	assert.True(t, tok.IsSignaled())

	select {
	case <-tok.Done():
	default:
		t.Fatal("Done must be closed after Signal")
	}
}

func TestTaskRunsUntilSignaled(t *testing.T) {
	tok := NewToken(1)
	var calls atomic.Int64
	task := Start("positions", 5*time.Millisecond, tok, func(ctx context.Context, gen uint64) error {
		calls.Add(1)
		return nil
	})

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, time.Millisecond)

	tok.Signal()
	waitDone(t, task)

	after := calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, calls.Load(), "no invocation may happen after the loop exits")
	assert.Equal(t, after, task.Ticks())
}

func TestTaskStopLatencyIsBoundedByTokenNotInterval(t *testing.T) {
	tok := NewToken(1)
	task := Start("slow", time.Hour, tok, func(ctx context.Context, gen uint64) error {
		t.Error("action must not run")
		return nil
	})

	start := time.Now()
	tok.Signal()
	waitDone(t, task)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, int64(0), task.Ticks())
}

func TestTaskSurvivesErrorsAndPanics(t *testing.T) {
	tok := NewToken(3)
	var n atomic.Int64
	var mu sync.Mutex
	var seen []*TransientError

	task := Start("orders", 2*time.Millisecond, tok, func(ctx context.Context, gen uint64) error {
		switch n.Add(1) {
		case 1:
			return errors.New("gateway timeout")
		case 2:
			panic("nil market")
		}
		return nil
	}, WithErrorHandler(func(e *TransientError) {
		mu.Lock()
		seen = append(seen, e)
		mu.Unlock()
	}))
	defer func() {
		tok.Signal()
		waitDone(t, task)
	}()

	require.Eventually(t, func() bool { return n.Load() >= 4 }, time.Second, time.Millisecond)
	assert.Equal(t, int64(2), task.Failures())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 2)
	assert.Equal(t, "orders", seen[0].Task)
	assert.Equal(t, uint64(3), seen[0].Generation)
	assert.Contains(t, seen[0].Error(), "gateway timeout")
	assert.Contains(t, seen[1].Error(), "panic: nil market")

	var terr *TransientError
	require.True(t, errors.As(error(seen[0]), &terr))
}

func TestTaskTriggerRunsImmediately(t *testing.T) {
	tok := NewToken(9)
	gens := make(chan uint64, 4)
	task := Start("trackers", time.Hour, tok, func(ctx context.Context, gen uint64) error {
		gens <- gen
		return nil
	})
	defer func() {
		tok.Signal()
		waitDone(t, task)
	}()

	task.Trigger()
	select {
	case gen := <-gens:
		assert.Equal(t, uint64(9), gen)
	case <-time.After(time.Second):
		t.Fatal("Trigger did not run the action")
	}
}

func TestTaskTickTimeoutAndGroup(t *testing.T) {
	g := syncgroup.NewSyncGroup()
	tok := NewToken(1)
	deadlines := make(chan time.Duration, 1)
	task := Start("activity", time.Millisecond, tok, func(ctx context.Context, gen uint64) error {
		dl, ok := ctx.Deadline()
		if ok {
			select {
			case deadlines <- time.Until(dl):
			default:
			}
		}
		return nil
	}, WithGroup(g), WithTickTimeout(50*time.Millisecond))

	select {
	case d := <-deadlines:
		assert.LessOrEqual(t, d, 50*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("action never ran")
	}
	assert.Equal(t, 1, g.Running())

	tok.Signal()
	waitDone(t, task)
	require.NoError(t, g.WaitContext(context.Background()))
	assert.Equal(t, 0, g.Running())
}
