package fraud

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/TRUSTSCOREAI/TRUSTSCORE/internal/detect"
	"github.com/TRUSTSCOREAI/TRUSTSCORE/internal/domain"
	"github.com/TRUSTSCOREAI/TRUSTSCORE/internal/repository"
	"github.com/TRUSTSCOREAI/TRUSTSCORE/internal/window"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const service = "0x1111111111111111111111111111111111111111"

var fixedNow = time.Unix(1_700_000_000, 0)

type recordingNotifier struct {
	mu    sync.Mutex
	flags []domain.FraudFlag
}

func (r *recordingNotifier) Notify(_ context.Context, flag domain.FraudFlag) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flags = append(r.flags, flag)
}

// flakyFlags fails the first n inserts.
type flakyFlags struct {
	domain.FlagStore
	failures int
	calls    int
}

func (f *flakyFlags) InsertFraudFlag(ctx context.Context, flag *domain.FraudFlag) error {
	f.calls++
	if f.calls <= f.failures {
		return fmt.Errorf("%w: disk full", domain.ErrPersistence)
	}
	return f.FlagStore.InsertFraudFlag(ctx, flag)
}

// seedBurst stores 60 payments from distinct payers in the last hour.
func seedBurst(t *testing.T, repo *repository.MemoryRepository, amount string) {
	t.Helper()
	ts := fixedNow.Unix() - 3500
	for i := 0; i < 60; i++ {
		ts += int64(1 + (i*37)%100)
		_, err := repo.InsertTransactionIfAbsent(context.Background(), &domain.Transaction{
			Hash:      fmt.Sprintf("0x%064x", i+1),
			From:      fmt.Sprintf("0x%040x", i+1),
			To:        service,
			Amount:    decimal.RequireFromString(amount),
			Timestamp: ts,
		})
		require.NoError(t, err)
	}
}

func newAggregator(store domain.FlagStore, repo *repository.MemoryRepository, n domain.Notifier) *Aggregator {
	loader := window.NewLoader(repo, func() time.Time { return fixedNow })
	return NewAggregator(loader, store,
		detect.BasicRuleSet(domain.DefaultBasicRuleSet()),
		detect.ExtendedRuleSet(domain.DefaultExtendedRuleSet()),
		WithNotifier(n),
		WithClock(func() time.Time { return fixedNow }),
	)
}

func TestEvaluate(t *testing.T) {
	ctx := context.Background()

	t.Run("PersistsAndNotifies", func(t *testing.T) {
		repo := repository.NewMemory()
		seedBurst(t, repo, "1")
		notifier := &recordingNotifier{}
		agg := newAggregator(repo, repo, notifier)

		eval, err := agg.Evaluate(ctx, service)
		require.NoError(t, err)
		require.Len(t, eval.Findings, 1)
		assert.Equal(t, domain.FlagVelocityAbuse, eval.Findings[0].Type)
		assert.Equal(t, 8, eval.Findings[0].Severity)
		require.Len(t, eval.Flags, 1)
		assert.False(t, eval.Flags[0].IsResolved)
		assert.Equal(t, fixedNow.Unix(), eval.Flags[0].CreatedAt)

		require.Len(t, notifier.flags, 1)
		assert.Equal(t, eval.Flags[0].ID, notifier.flags[0].ID)

		stored, err := repo.GetActiveFraudFlags(ctx, service)
		require.NoError(t, err)
		assert.Len(t, stored, 1)
	})

	t.Run("AppendsOnEveryRun", func(t *testing.T) {
		repo := repository.NewMemory()
		seedBurst(t, repo, "1")
		agg := newAggregator(repo, repo, nil)

		for i := 0; i < 3; i++ {
			_, err := agg.Evaluate(ctx, service)
			require.NoError(t, err)
		}
		stored, _ := repo.GetActiveFraudFlags(ctx, service)
		assert.Len(t, stored, 3)
	})

	t.Run("PersistenceFailureIsolated", func(t *testing.T) {
		repo := repository.NewMemory()
		seedBurst(t, repo, "5") // volume 300 on a fresh account adds new-wallet risk
		notifier := &recordingNotifier{}
		store := &flakyFlags{FlagStore: repo, failures: 1}
		agg := newAggregator(store, repo, notifier)

		eval, err := agg.Evaluate(ctx, service)
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrPersistence))

		require.Len(t, eval.Findings, 2)
		assert.Len(t, eval.Flags, 1)
		assert.Equal(t, 2, store.calls)
		assert.Len(t, notifier.flags, 1)
	})

	t.Run("UnknownAddressHasNoFindings", func(t *testing.T) {
		repo := repository.NewMemory()
		agg := newAggregator(repo, repo, nil)

		eval, err := agg.Evaluate(ctx, "0x2222222222222222222222222222222222222222")
		require.NoError(t, err)
		assert.Empty(t, eval.Findings)
		assert.Empty(t, eval.Flags)
		assert.Empty(t, eval.FailedRules)
	})

	t.Run("InvalidAddress", func(t *testing.T) {
		repo := repository.NewMemory()
		agg := newAggregator(repo, repo, nil)

		_, err := agg.Evaluate(ctx, "not-an-address")
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("NormalizesCase", func(t *testing.T) {
		repo := repository.NewMemory()
		seedBurst(t, repo, "1")
		agg := newAggregator(repo, repo, nil)

		eval, err := agg.Evaluate(ctx, " 0X1111111111111111111111111111111111111111 ")
		require.NoError(t, err)
		assert.Equal(t, service, eval.Address)
	})
}

func TestAnalyze(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	seedBurst(t, repo, "1")
	agg := newAggregator(repo, repo, nil)

	analysis, err := agg.Analyze(ctx, service)
	require.NoError(t, err)
	assert.Equal(t, domain.RuleSetExtended, analysis.RuleSet)

	var velocity *domain.Finding
	for i := range analysis.Findings {
		if analysis.Findings[i].Type == domain.FlagVelocityAbuse {
			velocity = &analysis.Findings[i]
		}
	}
	require.NotNil(t, velocity)
	assert.Equal(t, 6, velocity.Severity)
	assert.Len(t, analysis.Explanations, len(analysis.Findings))
	assert.Equal(t, RiskFromSeverity(analysis.MaxSeverity), analysis.RiskLevel)

	stored, _ := repo.GetFraudFlags(ctx, service, true)
	assert.Empty(t, stored, "analysis must not persist flags")

	again, err := agg.Analyze(ctx, service)
	require.NoError(t, err)
	assert.Equal(t, analysis, again)
}

func TestScore(t *testing.T) {
	ctx := context.Background()

	t.Run("NoFlags", func(t *testing.T) {
		repo := repository.NewMemory()
		agg := newAggregator(repo, repo, nil)

		score, err := agg.Score(ctx, service)
		require.NoError(t, err)
		assert.Equal(t, 100, score.Score)
		assert.Equal(t, domain.RiskLow, score.RiskLevel)
		assert.NotNil(t, score.ActiveFlags)
		assert.Empty(t, score.ActiveFlags)
	})

	t.Run("SeveritiesEightAndFive", func(t *testing.T) {
		repo := repository.NewMemory()
		for _, sev := range []int{8, 5} {
			require.NoError(t, repo.InsertFraudFlag(ctx, &domain.FraudFlag{
				SubjectAddress: service,
				FlagType:       domain.FlagVelocityAbuse,
				Severity:       sev,
				Details:        domain.VelocityEvidence{},
			}))
		}
		agg := newAggregator(repo, repo, nil)

		score, err := agg.Score(ctx, service)
		require.NoError(t, err)
		assert.Equal(t, 0, score.Score)
		assert.Equal(t, domain.RiskCritical, score.RiskLevel)
		assert.Len(t, score.ActiveFlags, 2)
	})

	t.Run("ResolvedFlagsIgnored", func(t *testing.T) {
		repo := repository.NewMemory()
		flag := &domain.FraudFlag{SubjectAddress: service, FlagType: domain.FlagRetrySpam, Severity: 5}
		require.NoError(t, repo.InsertFraudFlag(ctx, flag))
		require.NoError(t, repo.InsertFraudFlag(ctx, &domain.FraudFlag{SubjectAddress: service, FlagType: domain.FlagRetrySpam, Severity: 3}))
		require.NoError(t, repo.ResolveFraudFlag(ctx, flag.ID, 1))
		agg := newAggregator(repo, repo, nil)

		score, err := agg.Score(ctx, service)
		require.NoError(t, err)
		assert.Equal(t, 70, score.Score)
		assert.Equal(t, domain.RiskLow, score.RiskLevel)
	})
}

func TestRiskBuckets(t *testing.T) {
	scoreCases := []struct {
		score int
		want  domain.RiskLevel
	}{
		{0, domain.RiskCritical},
		{29, domain.RiskCritical},
		{30, domain.RiskHigh},
		{49, domain.RiskHigh},
		{50, domain.RiskMedium},
		{69, domain.RiskMedium},
		{70, domain.RiskLow},
		{100, domain.RiskLow},
	}
	for _, tc := range scoreCases {
		assert.Equal(t, tc.want, RiskFromScore(tc.score), "score %d", tc.score)
	}

	severityCases := []struct {
		sev  int
		want domain.RiskLevel
	}{
		{0, domain.RiskLow},
		{3, domain.RiskLow},
		{4, domain.RiskMedium},
		{6, domain.RiskHigh},
		{8, domain.RiskCritical},
		{10, domain.RiskCritical},
	}
	for _, tc := range severityCases {
		assert.Equal(t, tc.want, RiskFromSeverity(tc.sev), "severity %d", tc.sev)
	}
}
