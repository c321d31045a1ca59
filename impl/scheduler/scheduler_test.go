package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestTasksRunOnceAtStartup(t *testing.T) {
	var ran atomic.Int32
	s := New(testLogger())
	s.Register("heartbeat", time.Hour, func(context.Context) error {
		ran.Add(1)
		return nil
	})

	s.Start()
	defer s.Stop()

	waitFor(t, func() bool { return ran.Load() == 1 })
}

func TestFailingTaskDoesNotStopOthers(t *testing.T) {
	var ok atomic.Int32
	s := New(testLogger())
	s.Register("broken", time.Hour, func(context.Context) error {
		return errors.New("boom")
	})
	s.Register("healthy", time.Hour, func(context.Context) error {
		ok.Add(1)
		return nil
	})

	s.Start()
	defer s.Stop()

	waitFor(t, func() bool { return ok.Load() == 1 })
}

func TestPanickingTaskIsRecovered(t *testing.T) {
	var after atomic.Int32
	s := New(testLogger())
	s.Register("panicky", time.Hour, func(context.Context) error {
		panic("boom")
	})
	s.Register("after", time.Hour, func(context.Context) error {
		after.Add(1)
		return nil
	})

	s.Start()
	defer s.Stop()

	waitFor(t, func() bool { return after.Load() == 1 })
}

func TestRunningTaskIsSkippedNotStacked(t *testing.T) {
	release := make(chan struct{})
	var started atomic.Int32
	s := New(testLogger())
	s.Register("slow", 0, func(context.Context) error {
		started.Add(1)
		<-release
		return nil
	})

	s.Start()
	defer s.Stop()

	waitFor(t, func() bool { return started.Load() == 1 })

	// a second dispatch while the task still runs must be skipped
	s.tick(time.Now().Add(time.Hour))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), started.Load())

	close(release)
}

func TestStopIsIdempotent(t *testing.T) {
	s := New(testLogger())
	s.Register("noop", time.Hour, func(context.Context) error { return nil })

	s.Start()
	s.Stop()
	s.Stop()

	assert.False(t, s.active)
}

func TestTaskContextCancelledOnStop(t *testing.T) {
	done := make(chan struct{})
	s := New(testLogger())
	s.Register("waiter", time.Hour, func(ctx context.Context) error {
		<-ctx.Done()
		close(done)
		return ctx.Err()
	})

	s.Start()
	time.Sleep(10 * time.Millisecond)
	s.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task context was not cancelled")
	}
}
