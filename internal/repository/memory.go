package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/TRUSTSCOREAI/TRUSTSCORE/internal/domain"
	"github.com/google/uuid"
)

// MemoryRepository implements domain.Repository in process memory.
// Used for the "memory" driver and in tests.
type MemoryRepository struct {
	mu       sync.RWMutex
	txs      map[string]domain.Transaction
	flags    []domain.FraudFlag
	services map[string]domain.ServiceReputation
	agents   map[string]domain.AgentReputation
}

var _ domain.Repository = (*MemoryRepository)(nil)

// NewMemory creates an empty in-memory repository.
func NewMemory() *MemoryRepository {
	return &MemoryRepository{
		txs:      make(map[string]domain.Transaction),
		services: make(map[string]domain.ServiceReputation),
		agents:   make(map[string]domain.AgentReputation),
	}
}

func (m *MemoryRepository) InsertTransactionIfAbsent(_ context.Context, tx *domain.Transaction) (bool, error) {
	if tx == nil || tx.Hash == "" {
		return false, fmt.Errorf("%w: transaction hash is required", domain.ErrInvalidInput)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.txs[tx.Hash]; ok {
		return false, nil
	}
	if tx.CreatedAt == 0 {
		tx.CreatedAt = time.Now().Unix()
	}
	m.txs[tx.Hash] = *tx
	return true, nil
}

func (m *MemoryRepository) GetTransactionsTo(_ context.Context, address string, since int64) ([]domain.Transaction, error) {
	return m.selectTxs(func(tx domain.Transaction) bool { return tx.To == address && tx.Timestamp >= since }), nil
}

func (m *MemoryRepository) GetTransactionsFrom(_ context.Context, address string, since int64) ([]domain.Transaction, error) {
	return m.selectTxs(func(tx domain.Transaction) bool { return tx.From == address && tx.Timestamp >= since }), nil
}

func (m *MemoryRepository) selectTxs(keep func(domain.Transaction) bool) []domain.Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.Transaction
	for _, tx := range m.txs {
		if keep(tx) {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp < out[j].Timestamp
		}
		return out[i].Hash < out[j].Hash
	})
	return out
}

func (m *MemoryRepository) ListServiceAddresses(context.Context) ([]string, error) {
	return m.distinct(func(tx domain.Transaction) string { return tx.To }), nil
}

func (m *MemoryRepository) ListAgentAddresses(context.Context) ([]string, error) {
	return m.distinct(func(tx domain.Transaction) string { return tx.From }), nil
}

func (m *MemoryRepository) distinct(key func(domain.Transaction) string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]struct{})
	var out []string
	for _, tx := range m.txs {
		k := key(tx)
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func (m *MemoryRepository) InsertFraudFlag(_ context.Context, flag *domain.FraudFlag) error {
	if flag == nil || flag.SubjectAddress == "" {
		return fmt.Errorf("%w: flag subject is required", domain.ErrInvalidInput)
	}
	if !flag.FlagType.Valid() {
		return fmt.Errorf("%w: unknown flag type %q", domain.ErrInvalidInput, flag.FlagType)
	}
	if flag.ID == "" {
		flag.ID = uuid.New().String()
	}
	if flag.CreatedAt == 0 {
		flag.CreatedAt = time.Now().Unix()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.flags = append(m.flags, *flag)
	return nil
}

func (m *MemoryRepository) GetActiveFraudFlags(ctx context.Context, address string) ([]domain.FraudFlag, error) {
	return m.GetFraudFlags(ctx, address, false)
}

func (m *MemoryRepository) GetFraudFlags(_ context.Context, address string, includeResolved bool) ([]domain.FraudFlag, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []domain.FraudFlag{}
	for _, f := range m.flags {
		if f.SubjectAddress == address && (includeResolved || !f.IsResolved) {
			out = append(out, f)
		}
	}
	return out, nil
}

func (m *MemoryRepository) ResolveFraudFlag(_ context.Context, id string, resolvedAt int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.flags {
		if m.flags[i].ID != id {
			continue
		}
		if !m.flags[i].IsResolved {
			ts := resolvedAt
			m.flags[i].IsResolved = true
			m.flags[i].ResolvedAt = &ts
		}
		return nil
	}
	return domain.ErrNotFound
}

func (m *MemoryRepository) UpsertServiceReputation(_ context.Context, rep *domain.ServiceReputation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rep
	cp.Badges = append([]domain.Badge{}, rep.Badges...)
	m.services[rep.Address] = cp
	return nil
}

func (m *MemoryRepository) GetServiceReputation(_ context.Context, address string) (*domain.ServiceReputation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rep, ok := m.services[address]
	if !ok {
		return nil, domain.ErrNotFound
	}
	rep.Badges = append([]domain.Badge{}, rep.Badges...)
	return &rep, nil
}

func (m *MemoryRepository) UpsertAgentReputation(_ context.Context, rep *domain.AgentReputation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rep
	cp.Badges = append([]domain.Badge{}, rep.Badges...)
	m.agents[rep.Address] = cp
	return nil
}

func (m *MemoryRepository) GetAgentReputation(_ context.Context, address string) (*domain.AgentReputation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rep, ok := m.agents[address]
	if !ok {
		return nil, domain.ErrNotFound
	}
	rep.Badges = append([]domain.Badge{}, rep.Badges...)
	return &rep, nil
}

func (m *MemoryRepository) Ping(context.Context) error { return nil }

func (m *MemoryRepository) Close() error { return nil }
