// Package scheduler runs the periodic fraud and reputation sweeps.
//
// Each registered task runs on its own ticker. A task never overlaps with
// itself; a slow run delays the next tick instead of stacking. Panics and
// errors are logged and the task keeps its schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("trustscore-scheduler")

// Task is a named periodic job.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler owns task registration, the tick loops and shutdown.
type Scheduler struct {
	mu         sync.Mutex
	tasks      []Task
	runOnStart bool
	logger     *slog.Logger
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// New creates a scheduler. With runOnStart every task runs once
// immediately on Start.
func New(runOnStart bool, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		runOnStart: runOnStart,
		logger:     logger.With("component", "scheduler"),
	}
}

// Register adds a task. Tasks cannot be added after Start.
func (s *Scheduler) Register(t Task) error {
	if t.Name == "" || t.Run == nil {
		return errors.New("task name and run function are required")
	}
	if t.Interval <= 0 {
		return fmt.Errorf("task %s: interval must be positive", t.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return fmt.Errorf("task %s: scheduler already started", t.Name)
	}
	for _, existing := range s.tasks {
		if existing.Name == t.Name {
			return fmt.Errorf("task %s already registered", t.Name)
		}
	}
	s.tasks = append(s.tasks, t)
	return nil
}

// Start launches one loop per task. It returns immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return errors.New("scheduler already started")
	}
	ctx, s.cancel = context.WithCancel(ctx)

	for _, t := range s.tasks {
		s.wg.Add(1)
		go s.loop(ctx, t)
	}
	s.logger.Info("scheduler started", "tasks", len(s.tasks), "run_on_start", s.runOnStart)
	return nil
}

func (s *Scheduler) loop(ctx context.Context, t Task) {
	defer s.wg.Done()

	if s.runOnStart {
		s.runTask(ctx, t)
	}

	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runTask(ctx, t)
		}
	}
}

func (s *Scheduler) runTask(ctx context.Context, t Task) {
	if ctx.Err() != nil {
		return
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in scheduled task", "task", t.Name, "panic", fmt.Sprint(r))
		}
	}()

	if err := t.Run(ctx); err != nil {
		s.logger.Error("scheduled task failed",
			"task", t.Name,
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err,
		)
		return
	}
	s.logger.Debug("scheduled task finished",
		"task", t.Name,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// Stop cancels every loop and waits for in-flight runs, bounded by ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

// Tasks returns the registered task names.
func (s *Scheduler) Tasks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, len(s.tasks))
	for i, t := range s.tasks {
		names[i] = t.Name
	}
	return names
}
