package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/songzhibin97/quantaguard/internal/metrics"
)

// Task is one periodic job. Run receives a context bounded by Timeout.
type Task struct {
	Name     string
	Interval time.Duration
	Timeout  time.Duration // 0 means Interval
	Run      func(ctx context.Context) error
}

type task struct {
	Task
	running atomic.Bool
}

// Scheduler runs every task on its own ticker. A task never overlaps with itself:
// a tick that finds the previous run still in flight is skipped.
type Scheduler struct {
	logger  *zap.Logger
	barrier *Barrier

	mu    sync.Mutex
	tasks []*task
	wg    sync.WaitGroup
}

type Option func(*Scheduler)

// WithBarrier delays the first tick of every task until b is ready.
func WithBarrier(b *Barrier) Option {
	return func(s *Scheduler) { s.barrier = b }
}

func New(logger *zap.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{logger: logger.Named("scheduler")}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scheduler) Add(t Task) error {
	if t.Name == "" || t.Run == nil {
		return errors.New("task requires a name and a run function")
	}
	if t.Interval <= 0 {
		return fmt.Errorf("task %s: interval must be positive", t.Name)
	}
	if t.Timeout <= 0 {
		t.Timeout = t.Interval
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, &task{Task: t})
	return nil
}

// Run starts every task and blocks until ctx is done and all in-flight runs returned.
// Each task runs once immediately, then on every tick.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.barrier != nil {
		s.logger.Info("waiting for dependencies")
		if err := s.barrier.Wait(ctx); err != nil {
			return fmt.Errorf("dependencies not ready: %w", err)
		}
	}

	s.mu.Lock()
	tasks := append([]*task(nil), s.tasks...)
	s.mu.Unlock()

	for _, t := range tasks {
		s.wg.Add(1)
		go s.loop(ctx, t)
		s.logger.Info("task scheduled",
			zap.String("task", t.Name),
			zap.Duration("interval", t.Interval),
			zap.Duration("timeout", t.Timeout),
		)
	}

	<-ctx.Done()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) loop(ctx context.Context, t *task) {
	defer s.wg.Done()

	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	s.fire(ctx, t)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.fire(ctx, t)
		}
	}
}

// fire starts a run in its own goroutine so a hung run never delays the ticker.
func (s *Scheduler) fire(ctx context.Context, t *task) {
	if !t.running.CompareAndSwap(false, true) {
		s.logger.Warn("previous run still in flight, skipping tick", zap.String("task", t.Name))
		metrics.RecordTaskRun(t.Name, "skipped", 0)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer t.running.Store(false)
		s.execute(ctx, t)
	}()
}

func (s *Scheduler) execute(ctx context.Context, t *task) {
	runCtx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()

	start := time.Now()
	err := runSafely(runCtx, t.Run)
	elapsed := time.Since(start)

	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded) || runCtx.Err() == context.DeadlineExceeded:
		result = "timeout"
	default:
		result = "error"
	}
	metrics.RecordTaskRun(t.Name, result, elapsed.Seconds())

	fields := []zap.Field{zap.String("task", t.Name), zap.Duration("elapsed", elapsed)}
	if err != nil {
		s.logger.Error("task failed", append(fields, zap.String("result", result), zap.Error(err))...)
		return
	}
	s.logger.Debug("task finished", fields...)
}

func runSafely(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}
