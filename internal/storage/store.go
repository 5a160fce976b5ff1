package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/darren-sm/crypto-data-pipeline/internal/config"
)

var (
	// ErrNotConfigured indicates the backend connection was not initialised.
	ErrNotConfigured = errors.New("storage: backend not configured")
	// ErrStorageUnavailable indicates the backend could not be reached.
	ErrStorageUnavailable = errors.New("storage: backend unavailable")
	// ErrWriteRejected indicates the backend refused the batch.
	ErrWriteRejected = errors.New("storage: write rejected")
)

// Store persists normalized snapshots.
type Store interface {
	// EnsureSchema creates the destination table when it is absent.
	EnsureSchema(ctx context.Context) error
	// InsertBatch writes all records in a single batch.
	InsertBatch(ctx context.Context, records []MarketSnapshot) (InsertOutcome, error)
	Close() error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Open connects to the backend selected in cfg.
func Open(ctx context.Context, cfg config.StorageConfig, logger zerolog.Logger) (Store, error) {
	switch cfg.Backend {
	case config.BackendSQLite:
		return OpenSQLite(ctx, cfg.SQLite)
	case config.BackendPostgres:
		return OpenPostgres(ctx, cfg.Postgres)
	case config.BackendBigQuery:
		return OpenBigQuery(ctx, cfg.BigQuery, logger)
	case config.BackendMySQL:
		return OpenMySQL(ctx, cfg.MySQL)
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Backend)
	}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}

func rejected(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrWriteRejected, err)
}
