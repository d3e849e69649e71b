package reputation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/TRUSTSCOREAI/TRUSTSCORE/internal/domain"
	"github.com/TRUSTSCOREAI/TRUSTSCORE/internal/metrics"
	"github.com/TRUSTSCOREAI/TRUSTSCORE/internal/syncutil"
)

// Service calculates, stores and serves reputation snapshots.
type Service struct {
	txs    domain.TransactionStore
	flags  domain.FlagStore
	store  domain.ReputationStore
	cache  domain.Cache
	ttl    time.Duration
	scorer Scorer
	locks  *syncutil.KeyedMutex
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithCache enables the snapshot read cache.
func WithCache(c domain.Cache, ttl time.Duration) Option {
	return func(s *Service) { s.cache, s.ttl = c, ttl }
}

// WithClock overrides the calculation clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates a reputation service backed by repo.
func NewService(repo domain.Repository, cfg domain.ReputationConfig, opts ...Option) *Service {
	s := &Service{
		txs:    repo,
		flags:  repo,
		store:  repo,
		scorer: NewScorer(cfg),
		locks:  syncutil.NewKeyedMutex(),
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CalculateService recomputes and overwrites the service snapshot for address.
// Concurrent calls for the same address are serialized.
func (s *Service) CalculateService(ctx context.Context, address string) (*domain.ServiceReputation, error) {
	address, err := domain.NormalizeAddress(address)
	if err != nil {
		return nil, err
	}

	unlock, err := s.locks.Lock(ctx, "service:"+address)
	if err != nil {
		return nil, err
	}
	defer unlock()

	txs, err := s.txs.GetTransactionsTo(ctx, address, 0)
	if err != nil {
		return nil, fmt.Errorf("load transactions: %w", err)
	}
	st, flags, err := s.aggregate(ctx, RoleService, address, txs)
	if err != nil {
		return nil, err
	}

	now := s.now().Unix()
	res := s.scorer.Score(RoleService, st, flags, now)
	rep := &domain.ServiceReputation{
		Address:           address,
		Score:             res.Score,
		TrustLevel:        res.TrustLevel,
		Badges:            res.Badges,
		TotalTransactions: st.Count,
		TotalRevenue:      st.Volume,
		UniquePayers:      st.Counterparties,
		AccountAgeDays:    res.AccountAgeDays,
		FirstSeen:         st.FirstSeen,
		LastActive:        st.LastActive,
		ActiveFlags:       len(flags),
		Components:        res.Components,
		CalculatedAt:      now,
	}

	if err := s.store.UpsertServiceReputation(ctx, rep); err != nil {
		return nil, err
	}
	metrics.ReputationCalculationsTotal.WithLabelValues(string(RoleService)).Inc()
	s.cachePut(ctx, cacheKey(RoleService, address), rep)
	return rep, nil
}

// CalculateAgent recomputes and overwrites the agent snapshot for address.
func (s *Service) CalculateAgent(ctx context.Context, address string) (*domain.AgentReputation, error) {
	address, err := domain.NormalizeAddress(address)
	if err != nil {
		return nil, err
	}

	unlock, err := s.locks.Lock(ctx, "agent:"+address)
	if err != nil {
		return nil, err
	}
	defer unlock()

	txs, err := s.txs.GetTransactionsFrom(ctx, address, 0)
	if err != nil {
		return nil, fmt.Errorf("load transactions: %w", err)
	}
	st, flags, err := s.aggregate(ctx, RoleAgent, address, txs)
	if err != nil {
		return nil, err
	}

	now := s.now().Unix()
	res := s.scorer.Score(RoleAgent, st, flags, now)
	rep := &domain.AgentReputation{
		Address:        address,
		Score:          res.Score,
		TrustLevel:     res.TrustLevel,
		Badges:         res.Badges,
		TotalPayments:  st.Count,
		TotalSpent:     st.Volume,
		UniqueServices: st.Counterparties,
		AccountAgeDays: res.AccountAgeDays,
		FirstSeen:      st.FirstSeen,
		LastActive:     st.LastActive,
		ActiveFlags:    len(flags),
		Components:     res.Components,
		CalculatedAt:   now,
	}

	if err := s.store.UpsertAgentReputation(ctx, rep); err != nil {
		return nil, err
	}
	metrics.ReputationCalculationsTotal.WithLabelValues(string(RoleAgent)).Inc()
	s.cachePut(ctx, cacheKey(RoleAgent, address), rep)
	return rep, nil
}

// aggregate reads active flags only when there is history to penalize.
func (s *Service) aggregate(ctx context.Context, role Role, address string, txs []domain.Transaction) (Stats, []domain.FraudFlag, error) {
	st := StatsFor(role, txs)
	if st.Count == 0 {
		return st, nil, nil
	}
	flags, err := s.flags.GetActiveFraudFlags(ctx, address)
	if err != nil {
		return st, nil, fmt.Errorf("load active flags: %w", err)
	}
	return st, flags, nil
}

// GetService returns the stored snapshot, computing it on first request or
// when recalculate is set. Unknown addresses get the neutral snapshot.
func (s *Service) GetService(ctx context.Context, address string, recalculate bool) (*domain.ServiceReputation, error) {
	address, err := domain.NormalizeAddress(address)
	if err != nil {
		return nil, err
	}
	if recalculate {
		return s.CalculateService(ctx, address)
	}

	var cached domain.ServiceReputation
	if s.cacheGet(ctx, cacheKey(RoleService, address), &cached) {
		return &cached, nil
	}

	rep, err := s.store.GetServiceReputation(ctx, address)
	if errors.Is(err, domain.ErrNotFound) {
		return s.CalculateService(ctx, address)
	}
	if err != nil {
		return nil, err
	}
	s.cachePut(ctx, cacheKey(RoleService, address), rep)
	return rep, nil
}

// GetAgent mirrors GetService for payers.
func (s *Service) GetAgent(ctx context.Context, address string, recalculate bool) (*domain.AgentReputation, error) {
	address, err := domain.NormalizeAddress(address)
	if err != nil {
		return nil, err
	}
	if recalculate {
		return s.CalculateAgent(ctx, address)
	}

	var cached domain.AgentReputation
	if s.cacheGet(ctx, cacheKey(RoleAgent, address), &cached) {
		return &cached, nil
	}

	rep, err := s.store.GetAgentReputation(ctx, address)
	if errors.Is(err, domain.ErrNotFound) {
		return s.CalculateAgent(ctx, address)
	}
	if err != nil {
		return nil, err
	}
	s.cachePut(ctx, cacheKey(RoleAgent, address), rep)
	return rep, nil
}

func cacheKey(role Role, address string) string {
	return "reputation:" + string(role) + ":" + address
}

func (s *Service) cacheGet(ctx context.Context, key string, dst any) bool {
	if s.cache == nil {
		return false
	}
	data, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.Debug("reputation cache read failed", "key", key, "error", err)
		return false
	}
	if data == nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (s *Service) cachePut(ctx context.Context, key string, v any) {
	if s.cache == nil || s.ttl <= 0 {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, data, s.ttl); err != nil {
		s.logger.Debug("reputation cache write failed", "key", key, "error", err)
	}
}
