// Package scheduler drives all periodic background work off a single
// low-frequency tick. Each task keeps its own interval and its own
// running flag, so a slow catalog fetch never delays the expiration
// sweep and a task never overlaps itself.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"recloud/lib/sl"
)

const tickPeriod = time.Minute

type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error

	lastRun time.Time
	running bool
}

type Scheduler struct {
	tasks  []*Task
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	active bool
	log    *slog.Logger
}

func New(log *slog.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		ctx:    ctx,
		cancel: cancel,
		log:    log.With(sl.Module("scheduler")),
	}
}

// Register adds a task. Must be called before Start.
func (s *Scheduler) Register(name string, interval time.Duration, run func(ctx context.Context) error) {
	s.tasks = append(s.tasks, &Task{Name: name, Interval: interval, Run: run})
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return
	}
	s.active = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop()
	s.log.Info("scheduler started", slog.Int("tasks", len(s.tasks)))
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.active = false
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(tickPeriod)
	defer ticker.Stop()

	// run everything once on startup
	s.tick(time.Now())

	for {
		select {
		case <-s.ctx.Done():
			return
		case now := <-ticker.C:
			s.tick(now)
		}
	}
}

// tick dispatches every due task on its own goroutine. The running flag
// is flipped under the scheduler mutex so a long run is skipped, not
// stacked.
func (s *Scheduler) tick(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, task := range s.tasks {
		if task.running {
			continue
		}
		if !task.lastRun.IsZero() && now.Sub(task.lastRun) < task.Interval {
			continue
		}
		task.running = true
		task.lastRun = now
		go s.run(task)
	}
}

func (s *Scheduler) run(task *Task) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("task panicked", slog.String("task", task.Name), slog.Any("panic", r))
		}
		s.mu.Lock()
		task.running = false
		s.mu.Unlock()
	}()

	t1 := time.Now()
	if err := task.Run(s.ctx); err != nil {
		s.log.Warn("task failed", slog.String("task", task.Name), sl.Err(err))
		return
	}
	s.log.Debug("task completed",
		slog.String("task", task.Name),
		slog.Duration("duration", time.Since(t1)))
}
