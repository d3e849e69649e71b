package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/TRUSTSCOREAI/TRUSTSCORE/internal/domain"
	"github.com/shopspring/decimal"
)

// UpsertServiceReputation overwrites the snapshot for rep.Address.
func (r *SQLRepository) UpsertServiceReputation(ctx context.Context, rep *domain.ServiceReputation) error {
	badges, components, err := encodeSnapshot(rep.Badges, rep.Components)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO service_reputations (
			address, score, trust_level, badges, total_transactions, total_revenue,
			unique_payers, account_age_days, first_seen, last_active,
			active_flags, components, calculated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET
			score = excluded.score,
			trust_level = excluded.trust_level,
			badges = excluded.badges,
			total_transactions = excluded.total_transactions,
			total_revenue = excluded.total_revenue,
			unique_payers = excluded.unique_payers,
			account_age_days = excluded.account_age_days,
			first_seen = excluded.first_seen,
			last_active = excluded.last_active,
			active_flags = excluded.active_flags,
			components = excluded.components,
			calculated_at = excluded.calculated_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		rep.Address, rep.Score, string(rep.TrustLevel), badges,
		rep.TotalTransactions, rep.TotalRevenue.String(), rep.UniquePayers,
		rep.AccountAgeDays, rep.FirstSeen, rep.LastActive,
		rep.ActiveFlags, components, rep.CalculatedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: upsert service reputation %s: %v", domain.ErrPersistence, rep.Address, err)
	}
	return nil
}

// GetServiceReputation returns the stored snapshot or domain.ErrNotFound.
func (r *SQLRepository) GetServiceReputation(ctx context.Context, address string) (*domain.ServiceReputation, error) {
	query := `
		SELECT address, score, trust_level, badges, total_transactions, total_revenue,
			   unique_payers, account_age_days, first_seen, last_active,
			   active_flags, components, calculated_at
		FROM service_reputations
		WHERE address = ?
	`

	var rep domain.ServiceReputation
	var trustLevel, badges, revenue, components string

	err := r.db.QueryRowContext(ctx, r.rebind(query), address).Scan(
		&rep.Address, &rep.Score, &trustLevel, &badges,
		&rep.TotalTransactions, &revenue, &rep.UniquePayers,
		&rep.AccountAgeDays, &rep.FirstSeen, &rep.LastActive,
		&rep.ActiveFlags, &components, &rep.CalculatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rep.TrustLevel = domain.TrustLevel(trustLevel)
	rep.TotalRevenue, rep.Badges, rep.Components, err = decodeSnapshot(revenue, badges, components)
	if err != nil {
		return nil, fmt.Errorf("service reputation %s: %w", address, err)
	}
	return &rep, nil
}

// UpsertAgentReputation overwrites the snapshot for rep.Address.
func (r *SQLRepository) UpsertAgentReputation(ctx context.Context, rep *domain.AgentReputation) error {
	badges, components, err := encodeSnapshot(rep.Badges, rep.Components)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO agent_reputations (
			address, score, trust_level, badges, total_payments, total_spent,
			unique_services, account_age_days, first_seen, last_active,
			active_flags, components, calculated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET
			score = excluded.score,
			trust_level = excluded.trust_level,
			badges = excluded.badges,
			total_payments = excluded.total_payments,
			total_spent = excluded.total_spent,
			unique_services = excluded.unique_services,
			account_age_days = excluded.account_age_days,
			first_seen = excluded.first_seen,
			last_active = excluded.last_active,
			active_flags = excluded.active_flags,
			components = excluded.components,
			calculated_at = excluded.calculated_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		rep.Address, rep.Score, string(rep.TrustLevel), badges,
		rep.TotalPayments, rep.TotalSpent.String(), rep.UniqueServices,
		rep.AccountAgeDays, rep.FirstSeen, rep.LastActive,
		rep.ActiveFlags, components, rep.CalculatedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: upsert agent reputation %s: %v", domain.ErrPersistence, rep.Address, err)
	}
	return nil
}

// GetAgentReputation returns the stored snapshot or domain.ErrNotFound.
func (r *SQLRepository) GetAgentReputation(ctx context.Context, address string) (*domain.AgentReputation, error) {
	query := `
		SELECT address, score, trust_level, badges, total_payments, total_spent,
			   unique_services, account_age_days, first_seen, last_active,
			   active_flags, components, calculated_at
		FROM agent_reputations
		WHERE address = ?
	`

	var rep domain.AgentReputation
	var trustLevel, badges, spent, components string

	err := r.db.QueryRowContext(ctx, r.rebind(query), address).Scan(
		&rep.Address, &rep.Score, &trustLevel, &badges,
		&rep.TotalPayments, &spent, &rep.UniqueServices,
		&rep.AccountAgeDays, &rep.FirstSeen, &rep.LastActive,
		&rep.ActiveFlags, &components, &rep.CalculatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rep.TrustLevel = domain.TrustLevel(trustLevel)
	rep.TotalSpent, rep.Badges, rep.Components, err = decodeSnapshot(spent, badges, components)
	if err != nil {
		return nil, fmt.Errorf("agent reputation %s: %w", address, err)
	}
	return &rep, nil
}

func encodeSnapshot(badges []domain.Badge, components domain.ScoreComponents) (string, string, error) {
	if badges == nil {
		badges = []domain.Badge{}
	}
	b, err := json.Marshal(badges)
	if err != nil {
		return "", "", fmt.Errorf("%w: encode badges: %v", domain.ErrPersistence, err)
	}
	c, err := json.Marshal(components)
	if err != nil {
		return "", "", fmt.Errorf("%w: encode components: %v", domain.ErrPersistence, err)
	}
	return string(b), string(c), nil
}

func decodeSnapshot(amount, badges, components string) (decimal.Decimal, []domain.Badge, domain.ScoreComponents, error) {
	var (
		vol  decimal.Decimal
		bs   []domain.Badge
		comp domain.ScoreComponents
		err  error
	)
	if vol, err = decimal.NewFromString(amount); err != nil {
		return vol, nil, comp, fmt.Errorf("bad amount %q: %w", amount, err)
	}
	if err = json.Unmarshal([]byte(badges), &bs); err != nil {
		return vol, nil, comp, fmt.Errorf("bad badges: %w", err)
	}
	if err = json.Unmarshal([]byte(components), &comp); err != nil {
		return vol, nil, comp, fmt.Errorf("bad components: %w", err)
	}
	return vol, bs, comp, nil
}
