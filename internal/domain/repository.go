// Package domain defines the core interfaces and types for TrustScore.
package domain

import (
	"context"
	"time"
)

// TransactionStore is the append-only fact table of payment events.
// A zero since means "from the beginning".
type TransactionStore interface {
	// InsertTransactionIfAbsent stores tx unless its hash already exists.
	InsertTransactionIfAbsent(ctx context.Context, tx *Transaction) (bool, error)

	GetTransactionsTo(ctx context.Context, address string, since int64) ([]Transaction, error)
	GetTransactionsFrom(ctx context.Context, address string, since int64) ([]Transaction, error)

	ListServiceAddresses(ctx context.Context) ([]string, error)
	ListAgentAddresses(ctx context.Context) ([]string, error)
}

// FlagStore persists fraud flags. Flags are appended, never upserted.
type FlagStore interface {
	InsertFraudFlag(ctx context.Context, flag *FraudFlag) error
	GetActiveFraudFlags(ctx context.Context, address string) ([]FraudFlag, error)
	GetFraudFlags(ctx context.Context, address string, includeResolved bool) ([]FraudFlag, error)

	// ResolveFraudFlag is the manual lifecycle action. Core code never calls it.
	ResolveFraudFlag(ctx context.Context, id string, resolvedAt int64) error
}

// ReputationStore holds the materialized, overwritable snapshots.
// Getters return ErrNotFound when no snapshot exists.
type ReputationStore interface {
	UpsertServiceReputation(ctx context.Context, rep *ServiceReputation) error
	GetServiceReputation(ctx context.Context, address string) (*ServiceReputation, error)
	UpsertAgentReputation(ctx context.Context, rep *AgentReputation) error
	GetAgentReputation(ctx context.Context, address string) (*AgentReputation, error)
}

// Repository bundles every store contract over one backing database.
type Repository interface {
	TransactionStore
	FlagStore
	ReputationStore

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `yaml:"driver"`

	// SQLite specific
	SQLitePath string `yaml:"sqlite_path"`

	// PostgreSQL specific
	PostgresHost     string `yaml:"postgres_host"`
	PostgresPort     int    `yaml:"postgres_port"`
	PostgresUser     string `yaml:"postgres_user"`
	PostgresPassword string `yaml:"postgres_password"`
	PostgresDB       string `yaml:"postgres_db"`
	PostgresSSLMode  string `yaml:"postgres_sslmode"`

	// Connection pool settings
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}
