package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/TRUSTSCOREAI/TRUSTSCORE/internal/domain"
	"github.com/TRUSTSCOREAI/TRUSTSCORE/internal/fraud"
	"github.com/TRUSTSCOREAI/TRUSTSCORE/internal/metrics"
)

// Task names.
const (
	TaskFraud      = "fraud"
	TaskReputation = "reputation"
)

// Sweeper evaluates a population of addresses with bounded parallelism.
// One address failing or timing out never affects another.
type Sweeper struct {
	concurrency int
	timeout     time.Duration
	logger      *slog.Logger
}

// NewSweeper creates a sweeper from cfg.
func NewSweeper(cfg domain.SchedulerConfig, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 8
	}
	return &Sweeper{
		concurrency: concurrency,
		timeout:     cfg.AddressTimeout,
		logger:      logger.With("component", "sweeper"),
	}
}

// Report summarizes one sweep.
type Report struct {
	Task      string
	Total     int
	Succeeded int
	Failed    int
	Skipped   int
	Duration  time.Duration
}

// Sweep calls fn for every address. Addresses not yet started when ctx is
// cancelled are counted as skipped. The returned error is non-nil only when
// the sweep was cut short.
func (s *Sweeper) Sweep(ctx context.Context, task string, addrs []string, fn func(ctx context.Context, addr string) error) (Report, error) {
	ctx, span := tracer.Start(ctx, "sweep "+task)
	defer span.End()
	span.SetAttributes(
		attribute.String("sweep.task", task),
		attribute.Int("sweep.addresses", len(addrs)),
	)

	start := time.Now()
	results := make([]error, len(addrs))
	started := make([]bool, len(addrs))

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, addr := range addrs {
		if ctx.Err() != nil {
			break
		}
		started[i] = true
		g.Go(func() error {
			results[i] = s.one(ctx, task, addr, fn)
			return nil
		})
	}
	_ = g.Wait()

	rep := Report{Task: task, Total: len(addrs), Duration: time.Since(start)}
	for i, err := range results {
		switch {
		case !started[i]:
			rep.Skipped++
		case err != nil:
			rep.Failed++
		default:
			rep.Succeeded++
		}
	}

	metrics.SweepDuration.WithLabelValues(task).Observe(rep.Duration.Seconds())
	span.SetAttributes(
		attribute.Int("sweep.failed", rep.Failed),
		attribute.Int("sweep.skipped", rep.Skipped),
	)

	s.logger.Info("sweep finished",
		"task", task,
		"addresses", rep.Total,
		"succeeded", rep.Succeeded,
		"failed", rep.Failed,
		"skipped", rep.Skipped,
		"duration_ms", rep.Duration.Milliseconds(),
	)

	if rep.Skipped > 0 {
		err := fmt.Errorf("sweep %s interrupted: %w", task, ctx.Err())
		span.SetStatus(codes.Error, err.Error())
		return rep, err
	}
	return rep, nil
}

func (s *Sweeper) one(ctx context.Context, task, addr string, fn func(context.Context, string) error) (err error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			metrics.SweepFailuresTotal.WithLabelValues(task).Inc()
			s.logger.Warn("sweep address failed",
				"task", task,
				"address", addr,
				"timed_out", errors.Is(err, context.DeadlineExceeded),
				"error", err,
			)
		}
	}()

	return fn(ctx, addr)
}

// AddressLister lists the known address populations.
type AddressLister interface {
	ListServiceAddresses(ctx context.Context) ([]string, error)
	ListAgentAddresses(ctx context.Context) ([]string, error)
}

// FraudEvaluator runs the alert rule set for one service.
type FraudEvaluator interface {
	Evaluate(ctx context.Context, address string) (*fraud.Evaluation, error)
}

// ReputationCalculator recomputes snapshots.
type ReputationCalculator interface {
	CalculateService(ctx context.Context, address string) (*domain.ServiceReputation, error)
	CalculateAgent(ctx context.Context, address string) (*domain.AgentReputation, error)
}

// FraudTask evaluates every known service on each run.
func FraudTask(interval time.Duration, lister AddressLister, eval FraudEvaluator, sw *Sweeper) Task {
	return Task{
		Name:     TaskFraud,
		Interval: interval,
		Run: func(ctx context.Context) error {
			addrs, err := lister.ListServiceAddresses(ctx)
			if err != nil {
				return fmt.Errorf("list services: %w", err)
			}
			_, err = sw.Sweep(ctx, TaskFraud, addrs, func(ctx context.Context, addr string) error {
				_, err := eval.Evaluate(ctx, addr)
				return err
			})
			return err
		},
	}
}

// ReputationTask recomputes every known service and agent on each run.
func ReputationTask(interval time.Duration, lister AddressLister, calc ReputationCalculator, sw *Sweeper) Task {
	return Task{
		Name:     TaskReputation,
		Interval: interval,
		Run: func(ctx context.Context) error {
			services, err := lister.ListServiceAddresses(ctx)
			if err != nil {
				return fmt.Errorf("list services: %w", err)
			}
			_, err = sw.Sweep(ctx, TaskReputation+".service", services, func(ctx context.Context, addr string) error {
				_, err := calc.CalculateService(ctx, addr)
				return err
			})
			if err != nil {
				return err
			}

			agents, err := lister.ListAgentAddresses(ctx)
			if err != nil {
				return fmt.Errorf("list agents: %w", err)
			}
			_, err = sw.Sweep(ctx, TaskReputation+".agent", agents, func(ctx context.Context, addr string) error {
				_, err := calc.CalculateAgent(ctx, addr)
				return err
			})
			return err
		},
	}
}
