// Package compat combines a service reputation, an agent reputation and the
// service's fraud state into a pairwise recommendation.
package compat

import (
	"context"
	"fmt"
	"math"

	"github.com/TRUSTSCOREAI/TRUSTSCORE/internal/domain"
	"golang.org/x/sync/errgroup"
)

// Reputations loads or lazily computes snapshots.
type Reputations interface {
	GetService(ctx context.Context, address string, recalculate bool) (*domain.ServiceReputation, error)
	GetAgent(ctx context.Context, address string, recalculate bool) (*domain.AgentReputation, error)
}

// Matcher assesses service/agent pairs. It persists nothing.
type Matcher struct {
	reps  Reputations
	flags domain.FlagStore
	cfg   domain.CompatibilityConfig
}

// NewMatcher creates a matcher.
func NewMatcher(reps Reputations, flags domain.FlagStore, cfg domain.CompatibilityConfig) *Matcher {
	return &Matcher{reps: reps, flags: flags, cfg: cfg}
}

// Assess loads both reputations and the service's active flags concurrently
// and combines them. Addresses without history get neutral snapshots.
func (m *Matcher) Assess(ctx context.Context, serviceAddress, agentAddress string) (*domain.CompatibilityAssessment, error) {
	serviceAddress, err := domain.NormalizeAddress(serviceAddress)
	if err != nil {
		return nil, fmt.Errorf("service: %w", err)
	}
	agentAddress, err = domain.NormalizeAddress(agentAddress)
	if err != nil {
		return nil, fmt.Errorf("agent: %w", err)
	}

	var (
		svc   *domain.ServiceReputation
		agent *domain.AgentReputation
		flags []domain.FraudFlag
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		svc, err = m.reps.GetService(gctx, serviceAddress, false)
		return err
	})
	g.Go(func() (err error) {
		agent, err = m.reps.GetAgent(gctx, agentAddress, false)
		return err
	})
	g.Go(func() (err error) {
		flags, err = m.flags.GetActiveFraudFlags(gctx, serviceAddress)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	a := Combine(m.cfg, Inputs{
		ServiceScore:   svc.Score,
		AgentScore:     agent.Score,
		ActiveFlags:    len(flags),
		ServiceAgeDays: svc.AccountAgeDays,
	})
	a.ServiceAddress = serviceAddress
	a.AgentAddress = agentAddress
	return &a, nil
}

// Inputs are the values an assessment depends on.
type Inputs struct {
	ServiceScore   int
	AgentScore     int
	ActiveFlags    int
	ServiceAgeDays int
}

// Combine is the scoring function behind Assess. Half scores round away
// from zero.
func Combine(cfg domain.CompatibilityConfig, in Inputs) domain.CompatibilityAssessment {
	score := float64(in.ServiceScore+in.AgentScore) / 2
	if math.Abs(float64(in.ServiceScore-in.AgentScore)) > cfg.ScoreGapThreshold {
		score -= cfg.ScoreGapPenalty
	}
	if in.ActiveFlags > 0 {
		score -= cfg.FlagPenalty
	}
	compat := int(math.Round(math.Max(0, math.Min(100, score))))

	risk := domain.RiskLow
	switch {
	case compat < cfg.HighRiskBelow || in.ActiveFlags > 0:
		risk = domain.RiskHigh
	case compat < cfg.RecommendMinScore:
		risk = domain.RiskMedium
	}

	warnings := []string{}
	if in.ServiceScore < cfg.LowScoreWarning {
		warnings = append(warnings, fmt.Sprintf("service reputation is low (%d)", in.ServiceScore))
	}
	if in.AgentScore < cfg.LowScoreWarning {
		warnings = append(warnings, fmt.Sprintf("agent reputation is low (%d)", in.AgentScore))
	}
	if in.ActiveFlags > 0 {
		warnings = append(warnings, fmt.Sprintf("service has %d active fraud flag(s)", in.ActiveFlags))
	}
	if in.ServiceAgeDays < cfg.NewServiceAgeDays {
		warnings = append(warnings, fmt.Sprintf("service is new (%d days old)", in.ServiceAgeDays))
	}

	return domain.CompatibilityAssessment{
		ServiceScore:       in.ServiceScore,
		AgentScore:         in.AgentScore,
		ActiveFlags:        in.ActiveFlags,
		CompatibilityScore: compat,
		Recommended:        compat >= cfg.RecommendMinScore && in.ActiveFlags == 0,
		RiskLevel:          risk,
		Warnings:           warnings,
	}
}
