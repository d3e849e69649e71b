package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/TRUSTSCOREAI/TRUSTSCORE/internal/domain"
	"github.com/google/uuid"
)

// InsertFraudFlag appends a flag. A missing ID is generated.
func (r *SQLRepository) InsertFraudFlag(ctx context.Context, flag *domain.FraudFlag) error {
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

	details, err := json.Marshal(flag.Details)
	if err != nil {
		return fmt.Errorf("%w: encode flag details: %v", domain.ErrPersistence, err)
	}

	var resolvedAt sql.NullInt64
	if flag.ResolvedAt != nil {
		resolvedAt = sql.NullInt64{Int64: *flag.ResolvedAt, Valid: true}
	}

	query := `
		INSERT INTO fraud_flags (
			id, subject_address, flag_type, severity, details,
			is_resolved, created_at, resolved_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		flag.ID, flag.SubjectAddress, string(flag.FlagType), flag.Severity, string(details),
		boolToInt(flag.IsResolved), flag.CreatedAt, resolvedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: insert flag %s: %v", domain.ErrPersistence, flag.ID, err)
	}
	return nil
}

// GetActiveFraudFlags returns unresolved flags for address, oldest first.
func (r *SQLRepository) GetActiveFraudFlags(ctx context.Context, address string) ([]domain.FraudFlag, error) {
	return r.GetFraudFlags(ctx, address, false)
}

// GetFraudFlags returns flags for address, optionally including resolved ones.
func (r *SQLRepository) GetFraudFlags(ctx context.Context, address string, includeResolved bool) ([]domain.FraudFlag, error) {
	query := `
		SELECT id, subject_address, flag_type, severity, details,
			   is_resolved, created_at, resolved_at
		FROM fraud_flags
		WHERE subject_address = ?
	`
	if !includeResolved {
		query += ` AND is_resolved = 0`
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), address)
	if err != nil {
		return nil, fmt.Errorf("query flags: %w", err)
	}
	defer rows.Close()

	flags := []domain.FraudFlag{}
	for rows.Next() {
		var f domain.FraudFlag
		var flagType, details string
		var resolved int
		var resolvedAt sql.NullInt64

		if err := rows.Scan(
			&f.ID, &f.SubjectAddress, &flagType, &f.Severity, &details,
			&resolved, &f.CreatedAt, &resolvedAt,
		); err != nil {
			return nil, err
		}

		f.FlagType = domain.FlagType(flagType)
		f.IsResolved = resolved == 1
		if resolvedAt.Valid {
			ts := resolvedAt.Int64
			f.ResolvedAt = &ts
		}

		f.Details, err = domain.DecodeEvidence(f.FlagType, []byte(details))
		if err != nil {
			return nil, fmt.Errorf("flag %s: %w", f.ID, err)
		}

		flags = append(flags, f)
	}

	return flags, rows.Err()
}

// ResolveFraudFlag marks a flag resolved. Resolving twice is a no-op.
func (r *SQLRepository) ResolveFraudFlag(ctx context.Context, id string, resolvedAt int64) error {
	query := `
		UPDATE fraud_flags
		SET is_resolved = 1, resolved_at = ?
		WHERE id = ? AND is_resolved = 0
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), resolvedAt, id)
	if err != nil {
		return fmt.Errorf("%w: resolve flag %s: %v", domain.ErrPersistence, id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: resolve flag %s: %v", domain.ErrPersistence, id, err)
	}
	if rows > 0 {
		return nil
	}

	var exists int
	err = r.db.QueryRowContext(ctx, r.rebind(`SELECT 1 FROM fraud_flags WHERE id = ?`), id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	return err
}
