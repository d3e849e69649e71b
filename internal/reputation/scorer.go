// Package reputation computes the service and agent reputation snapshots.
//
// A snapshot is a pure projection of the transaction store plus the
// address's active fraud flags. Nothing is accumulated: every calculation
// recomputes from source and overwrites the stored snapshot.
package reputation

import (
	"math"

	"github.com/TRUSTSCOREAI/TRUSTSCORE/internal/domain"
	"github.com/shopspring/decimal"
)

const secondsPerDay = 86400

// Role selects the service (recipient) or agent (payer) variant.
type Role string

const (
	RoleService Role = "service"
	RoleAgent   Role = "agent"
)

// Badge thresholds.
const (
	verifiedMinScore      = 85
	trustedMinScore       = 70
	establishedMinAgeDays = 90
	cleanMinAgeDays       = 30
	newMaxAgeDays         = 7
	serviceHighVolume     = 1000
	agentActive           = 500
)

// Stats are the aggregates a score is computed from.
type Stats struct {
	Count          int
	Volume         decimal.Decimal
	Counterparties int
	FirstSeen      int64
	LastActive     int64
}

// StatsFor aggregates txs from the point of view of role.
func StatsFor(role Role, txs []domain.Transaction) Stats {
	st := Stats{Count: len(txs), Volume: decimal.Zero}
	seen := make(map[string]struct{})
	for i, tx := range txs {
		st.Volume = st.Volume.Add(tx.Amount)

		cp := tx.From
		if role == RoleAgent {
			cp = tx.To
		}
		seen[cp] = struct{}{}

		if i == 0 || tx.Timestamp < st.FirstSeen {
			st.FirstSeen = tx.Timestamp
		}
		if i == 0 || tx.Timestamp > st.LastActive {
			st.LastActive = tx.Timestamp
		}
	}
	st.Counterparties = len(seen)
	return st
}

// Result is a computed score before it is shaped into a snapshot.
type Result struct {
	Score          int
	TrustLevel     domain.TrustLevel
	Badges         []domain.Badge
	AccountAgeDays int
	Components     domain.ScoreComponents
}

// Scorer applies the configured weights. It holds no state.
type Scorer struct {
	cfg domain.ReputationConfig
}

// NewScorer creates a scorer.
func NewScorer(cfg domain.ReputationConfig) Scorer {
	return Scorer{cfg: cfg}
}

// Neutral is the fixed result for an address with no history.
func Neutral() Result {
	return Result{
		Score:      domain.NeutralScore,
		TrustLevel: domain.TrustMedium,
		Badges:     []domain.Badge{domain.BadgeNew},
	}
}

// Score computes the five capped components, subtracts the fraud penalty,
// clamps to [0,100] and rounds.
func (s Scorer) Score(role Role, st Stats, activeFlags []domain.FraudFlag, now int64) Result {
	if st.Count == 0 {
		return Neutral()
	}

	c := s.cfg
	ageDays := int(max(0, now-st.FirstSeen) / secondsPerDay)
	idleDays := float64(max(0, now-st.LastActive)) / secondsPerDay

	comp := domain.ScoreComponents{
		Volume:    linear(float64(st.Count), c.VolumeReference, c.VolumeMax),
		Revenue:   linear(st.Volume.InexactFloat64(), c.RevenueReference, c.RevenueMax),
		Diversity: linear(float64(st.Counterparties), c.DiversityReference, c.DiversityMax),
		Age:       linear(float64(ageDays), c.AgeReferenceDays, c.AgeMax),
	}
	switch {
	case idleDays <= c.RecencyFullDays:
		comp.Recency = c.RecencyMax
	case idleDays <= c.RecencyHalfDays:
		comp.Recency = c.RecencyMax / 2
	}

	for _, f := range activeFlags {
		comp.FraudPenalty += float64(f.Severity) * c.FraudPenaltyPerSeverity
	}

	total := comp.Volume + comp.Revenue + comp.Diversity + comp.Age + comp.Recency - comp.FraudPenalty
	score := int(math.Round(math.Max(0, math.Min(100, total))))

	return Result{
		Score:          score,
		TrustLevel:     domain.TrustLevelFor(score),
		Badges:         badges(role, score, ageDays, st.Count, len(activeFlags)),
		AccountAgeDays: ageDays,
		Components:     comp,
	}
}

// linear scales v against ref, saturating at ceiling.
func linear(v, ref, ceiling float64) float64 {
	if ref <= 0 {
		return ceiling
	}
	return math.Max(0, math.Min(ceiling, v/ref*ceiling))
}

func badges(role Role, score, ageDays, count, flags int) []domain.Badge {
	out := []domain.Badge{}
	if score >= verifiedMinScore {
		out = append(out, domain.BadgeVerified)
	}
	if score >= trustedMinScore {
		if role == RoleAgent {
			out = append(out, domain.BadgeReliable)
		} else {
			out = append(out, domain.BadgeTrusted)
		}
	}
	if ageDays >= establishedMinAgeDays {
		if role == RoleAgent {
			out = append(out, domain.BadgeExperienced)
		} else {
			out = append(out, domain.BadgeEstablished)
		}
	}
	if role == RoleAgent && count >= agentActive {
		out = append(out, domain.BadgeActive)
	}
	if role == RoleService && count >= serviceHighVolume {
		out = append(out, domain.BadgeHighVolume)
	}
	if flags == 0 && ageDays >= cleanMinAgeDays {
		out = append(out, domain.BadgeClean)
	}
	if ageDays < newMaxAgeDays {
		out = append(out, domain.BadgeNew)
	}
	return out
}
