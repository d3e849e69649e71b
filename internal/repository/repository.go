// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/TRUSTSCOREAI/TRUSTSCORE/internal/domain"
	"github.com/shopspring/decimal"
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

var _ domain.Repository = (*SQLRepository)(nil)

// Open creates the repository named by cfg.Driver: "sqlite", "postgres"
// or "memory".
func Open(cfg domain.RepositoryConfig) (domain.Repository, error) {
	if cfg.Driver == "memory" {
		return NewMemory(), nil
	}
	return New(cfg)
}

// New creates a SQL repository based on configuration.
func New(cfg domain.RepositoryConfig) (*SQLRepository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("%w: unsupported driver: %s", domain.ErrInvalidInput, cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := migrate(db, cfg.Driver); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}, nil
}

// InsertTransactionIfAbsent stores tx unless a row with the same hash exists.
// It reports whether a new row was written.
func (r *SQLRepository) InsertTransactionIfAbsent(ctx context.Context, tx *domain.Transaction) (bool, error) {
	if tx == nil || tx.Hash == "" {
		return false, fmt.Errorf("%w: transaction hash is required", domain.ErrInvalidInput)
	}
	if tx.CreatedAt == 0 {
		tx.CreatedAt = time.Now().Unix()
	}

	query := `
		INSERT INTO transactions (
			hash, from_address, to_address, amount, block_height,
			timestamp, facilitator, authorization_nonce, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(hash) DO NOTHING
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		tx.Hash, tx.From, tx.To, tx.Amount.String(), tx.BlockHeight,
		tx.Timestamp, tx.Facilitator, tx.AuthorizationNonce, tx.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("%w: insert transaction %s: %v", domain.ErrPersistence, tx.Hash, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: insert transaction %s: %v", domain.ErrPersistence, tx.Hash, err)
	}
	return rows == 1, nil
}

// GetTransactionsTo returns payments received by address at or after since,
// oldest first, read in a single query.
func (r *SQLRepository) GetTransactionsTo(ctx context.Context, address string, since int64) ([]domain.Transaction, error) {
	return r.queryTransactions(ctx, "to_address", address, since)
}

// GetTransactionsFrom returns payments sent by address at or after since,
// oldest first, read in a single query.
func (r *SQLRepository) GetTransactionsFrom(ctx context.Context, address string, since int64) ([]domain.Transaction, error) {
	return r.queryTransactions(ctx, "from_address", address, since)
}

func (r *SQLRepository) queryTransactions(ctx context.Context, column, address string, since int64) ([]domain.Transaction, error) {
	query := `
		SELECT hash, from_address, to_address, amount, block_height,
			   timestamp, facilitator, authorization_nonce, created_at
		FROM transactions
		WHERE ` + column + ` = ? AND timestamp >= ?
		ORDER BY timestamp ASC, hash ASC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), address, since)
	if err != nil {
		return nil, fmt.Errorf("query transactions by %s: %w", column, err)
	}
	defer rows.Close()

	var transactions []domain.Transaction
	for rows.Next() {
		var tx domain.Transaction
		var amount string

		if err := rows.Scan(
			&tx.Hash, &tx.From, &tx.To, &amount, &tx.BlockHeight,
			&tx.Timestamp, &tx.Facilitator, &tx.AuthorizationNonce, &tx.CreatedAt,
		); err != nil {
			return nil, err
		}

		tx.Amount, err = decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("transaction %s: bad amount %q: %w", tx.Hash, amount, err)
		}

		transactions = append(transactions, tx)
	}

	return transactions, rows.Err()
}

// ListServiceAddresses returns every address that has received a payment.
func (r *SQLRepository) ListServiceAddresses(ctx context.Context) ([]string, error) {
	return r.listDistinct(ctx, "to_address")
}

// ListAgentAddresses returns every address that has sent a payment.
func (r *SQLRepository) ListAgentAddresses(ctx context.Context) ([]string, error) {
	return r.listDistinct(ctx, "from_address")
}

func (r *SQLRepository) listDistinct(ctx context.Context, column string) ([]string, error) {
	query := `SELECT DISTINCT ` + column + ` FROM transactions ORDER BY ` + column

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", column, err)
	}
	defer rows.Close()

	var addresses []string
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, err
		}
		addresses = append(addresses, addr)
	}
	return addresses, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	result := make([]byte, 0, len(query)+8)
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = strconv.AppendInt(result, int64(n), 10)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
