// Package fraud aggregates detector findings into persisted flags and a
// single flag-derived fraud score.
package fraud

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/TRUSTSCOREAI/TRUSTSCORE/internal/detect"
	"github.com/TRUSTSCOREAI/TRUSTSCORE/internal/domain"
	"github.com/TRUSTSCOREAI/TRUSTSCORE/internal/metrics"
	"github.com/TRUSTSCOREAI/TRUSTSCORE/internal/window"
	"github.com/google/uuid"
)

// Aggregator runs rule sets for a subject address. The alert path persists
// and notifies; the analysis path is read-only.
type Aggregator struct {
	loader   *window.Loader
	flags    domain.FlagStore
	alert    detect.RuleSet
	analysis detect.RuleSet
	notifier domain.Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithNotifier sets the collaborator told about each new flag.
func WithNotifier(n domain.Notifier) Option {
	return func(a *Aggregator) { a.notifier = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Aggregator) { a.logger = l }
}

// WithClock overrides the flag creation clock.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// NewAggregator creates an aggregator over the given rule sets.
func NewAggregator(loader *window.Loader, flags domain.FlagStore, alert, analysis detect.RuleSet, opts ...Option) *Aggregator {
	a := &Aggregator{
		loader:   loader,
		flags:    flags,
		alert:    alert,
		analysis: analysis,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Evaluation is the outcome of one alerting run.
type Evaluation struct {
	Address     string             `json:"address"`
	RuleSet     string             `json:"ruleSet"`
	Findings    []domain.Finding   `json:"findings"`
	Flags       []domain.FraudFlag `json:"flags"`
	FailedRules []string           `json:"failedRules,omitempty"`
}

// Evaluate runs the alert rule set for address, appends one flag per finding
// and notifies once per stored flag. Detector failures are reported in the
// result, not returned. A failed flag write does not stop the remaining
// writes; all write failures are joined into the returned error, which
// matches domain.ErrPersistence.
func (a *Aggregator) Evaluate(ctx context.Context, address string) (*Evaluation, error) {
	address, err := domain.NormalizeAddress(address)
	if err != nil {
		return nil, err
	}

	w, err := a.loader.Load(ctx, address, window.Recipient)
	if err != nil {
		return nil, err
	}

	res := a.run(ctx, a.alert, w)
	eval := &Evaluation{
		Address:     address,
		RuleSet:     res.RuleSet,
		Findings:    res.Findings,
		Flags:       []domain.FraudFlag{},
		FailedRules: res.Failed(),
	}

	var errs []error
	for _, f := range res.Findings {
		flag := domain.FraudFlag{
			ID:             uuid.New().String(),
			SubjectAddress: address,
			FlagType:       f.Type,
			Severity:       f.Severity,
			Details:        f.Evidence,
			CreatedAt:      a.now().Unix(),
		}
		if err := a.flags.InsertFraudFlag(ctx, &flag); err != nil {
			a.logger.Error("failed to persist fraud flag",
				"address", address,
				"flag_type", f.Type,
				"error", err,
			)
			errs = append(errs, fmt.Errorf("%w: flag %s: %w", domain.ErrPersistence, f.Type, err))
			continue
		}

		metrics.FlagsCreatedTotal.WithLabelValues(string(f.Type)).Inc()
		eval.Flags = append(eval.Flags, flag)

		if a.notifier != nil {
			a.notifier.Notify(ctx, flag)
		}
	}

	if len(eval.Flags) > 0 {
		a.logger.Info("fraud flags created",
			"address", address,
			"count", len(eval.Flags),
		)
	}

	return eval, errors.Join(errs...)
}

// Analyze runs the analysis rule set and explains every finding without
// persisting anything. Calling it repeatedly has no side effects.
func (a *Aggregator) Analyze(ctx context.Context, address string) (*domain.FraudAnalysis, error) {
	address, err := domain.NormalizeAddress(address)
	if err != nil {
		return nil, err
	}

	w, err := a.loader.Load(ctx, address, window.Recipient)
	if err != nil {
		return nil, err
	}

	res := a.run(ctx, a.analysis, w)

	analysis := &domain.FraudAnalysis{
		Address:      address,
		RuleSet:      res.RuleSet,
		Findings:     res.Findings,
		Explanations: make([]string, 0, len(res.Findings)),
		FailedRules:  res.Failed(),
		AnalyzedAt:   w.Now,
	}
	if analysis.Findings == nil {
		analysis.Findings = []domain.Finding{}
	}
	for _, f := range res.Findings {
		if f.Severity > analysis.MaxSeverity {
			analysis.MaxSeverity = f.Severity
		}
		analysis.Explanations = append(analysis.Explanations,
			fmt.Sprintf("%s (severity %d): %s", f.Type, f.Severity, f.Description))
	}
	analysis.RiskLevel = RiskFromSeverity(analysis.MaxSeverity)

	return analysis, nil
}

// Score computes the fraud score from unresolved flags only. Detectors are
// not re-run.
func (a *Aggregator) Score(ctx context.Context, address string) (*domain.FraudScore, error) {
	address, err := domain.NormalizeAddress(address)
	if err != nil {
		return nil, err
	}

	flags, err := a.flags.GetActiveFraudFlags(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("load active flags: %w", err)
	}
	if flags == nil {
		flags = []domain.FraudFlag{}
	}

	score := ScoreFromFlags(flags)
	return &domain.FraudScore{
		Address:     address,
		Score:       score,
		RiskLevel:   RiskFromScore(score),
		ActiveFlags: flags,
	}, nil
}

// Flags lists flags for address, optionally including resolved ones.
func (a *Aggregator) Flags(ctx context.Context, address string, includeResolved bool) ([]domain.FraudFlag, error) {
	address, err := domain.NormalizeAddress(address)
	if err != nil {
		return nil, err
	}
	return a.flags.GetFraudFlags(ctx, address, includeResolved)
}

func (a *Aggregator) run(ctx context.Context, rs detect.RuleSet, w window.Window) detect.Result {
	res := rs.Run(ctx, w)

	metrics.RuleSetDuration.WithLabelValues(rs.Name).Observe(res.Duration.Seconds())
	for _, f := range res.Failures {
		metrics.DetectorFailuresTotal.WithLabelValues(string(f.Detector)).Inc()
		a.logger.Warn("detector failed",
			"address", w.Subject,
			"rule_set", rs.Name,
			"detector", f.Detector,
			"error", f.Err,
		)
	}
	return res
}

// ScoreFromFlags returns clamp(0, 100, 100 - sum(severity*10)).
func ScoreFromFlags(flags []domain.FraudFlag) int {
	score := 100
	for _, f := range flags {
		score -= f.Severity * 10
	}
	return max(0, min(100, score))
}

// RiskFromScore buckets a fraud score.
func RiskFromScore(score int) domain.RiskLevel {
	switch {
	case score < 30:
		return domain.RiskCritical
	case score < 50:
		return domain.RiskHigh
	case score < 70:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}

// RiskFromSeverity buckets the maximum finding severity. Zero means no findings.
func RiskFromSeverity(maxSeverity int) domain.RiskLevel {
	switch {
	case maxSeverity >= 8:
		return domain.RiskCritical
	case maxSeverity >= 6:
		return domain.RiskHigh
	case maxSeverity >= 4:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}
