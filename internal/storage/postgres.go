package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/darren-sm/crypto-data-pipeline/internal/config"
)

const (
	createPostgresTableSQL = `CREATE TABLE IF NOT EXISTS %s (
        symbol                           TEXT        NOT NULL,
        name                             TEXT        NOT NULL,
        current_price                    NUMERIC     NOT NULL,
        market_cap                       NUMERIC     NOT NULL,
        market_cap_rank                  INTEGER     NOT NULL,
        fully_diluted_valuation          NUMERIC,
        total_volume                     NUMERIC     NOT NULL,
        high_24h                         NUMERIC     NOT NULL,
        low_24h                          NUMERIC     NOT NULL,
        price_change_24h                 NUMERIC     NOT NULL,
        price_change_percentage_24h      NUMERIC     NOT NULL,
        market_cap_change_24h            NUMERIC     NOT NULL,
        market_cap_change_percentage_24h NUMERIC     NOT NULL,
        circulating_supply               NUMERIC     NOT NULL,
        total_supply                     NUMERIC,
        max_supply                       NUMERIC,
        ath                              NUMERIC     NOT NULL,
        ath_change_percentage            NUMERIC     NOT NULL,
        ath_date                         TIMESTAMPTZ NOT NULL,
        atl                              NUMERIC     NOT NULL,
        atl_change_percentage            NUMERIC     NOT NULL,
        atl_date                         TIMESTAMPTZ NOT NULL,
        last_updated                     TIMESTAMPTZ NOT NULL,
        PRIMARY KEY (symbol, last_updated)
    );`

	insertPostgresSQL = `INSERT INTO %s (%s) VALUES (%s)
    ON CONFLICT (symbol, last_updated) DO NOTHING;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// PostgresStore writes snapshots into a table keyed by (symbol, last_updated);
// conflicting rows are skipped.
type PostgresStore struct {
	pool  *pgxpool.Pool
	table string
}

// NewPool configures a PostgreSQL connection pool from runtime settings.
func NewPool(ctx context.Context, cfg config.PostgresConfig) (*pgxpool.Pool, error) {
	dsn, err := cfg.ResolveDSN()
	if err != nil {
		return nil, err
	}

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, unavailable("create pgx pool", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, unavailable("ping postgres", err)
	}

	return pool, nil
}

// OpenPostgres connects using cfg and wraps the pool in a PostgresStore.
func OpenPostgres(ctx context.Context, cfg config.PostgresConfig) (*PostgresStore, error) {
	pool, err := NewPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewPostgresStore(pool, cfg.Table), nil
}

// NewPostgresStore wires a pgx pool into a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, table string) *PostgresStore {
	return &PostgresStore{pool: pool, table: table}
}

// Close releases the underlying pool resources.
func (s *PostgresStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func (s *PostgresStore) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

func (s *PostgresStore) tableIdent() string {
	return pgx.Identifier{s.table}.Sanitize()
}

// EnsureSchema creates the table with its composite primary key if absent.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, fmt.Sprintf(createPostgresTableSQL, s.tableIdent())); err != nil {
		return fmt.Errorf("create postgres table: %w", err)
	}
	return nil
}

// InsertBatch sends all inserts as one pgx batch inside a transaction.
func (s *PostgresStore) InsertBatch(ctx context.Context, records []MarketSnapshot) (InsertOutcome, error) {
	outcome := InsertOutcome{Attempted: len(records)}
	pool, err := s.getPool()
	if err != nil {
		return outcome, err
	}
	if len(records) == 0 {
		return outcome, nil
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return outcome, unavailable("begin postgres tx", err)
	}
	defer tx.Rollback(ctx)

	query := insertStatement(s.tableIdent())
	batch := &pgx.Batch{}
	for _, rec := range records {
		batch.Queue(query, rec.Args()...)
	}

	inserted, err := execBatch(ctx, tx, batch, records)
	if err != nil {
		return outcome, err
	}

	if err := tx.Commit(ctx); err != nil {
		return outcome, rejected("commit postgres tx", err)
	}

	outcome.Inserted = inserted
	outcome.Skipped = len(records) - inserted
	return outcome, nil
}

func execBatch(ctx context.Context, tx pgx.Tx, batch *pgx.Batch, records []MarketSnapshot) (int, error) {
	results := tx.SendBatch(ctx, batch)
	defer results.Close()

	inserted := 0
	for i := range records {
		tag, err := results.Exec()
		if err != nil {
			return 0, rejected(fmt.Sprintf("insert row %d (%s)", i, records[i].Symbol), err)
		}
		inserted += int(tag.RowsAffected())
	}
	if err := results.Close(); err != nil {
		return 0, rejected("close postgres batch", err)
	}
	return inserted, nil
}

func insertStatement(table string) string {
	placeholders := make([]string, len(Columns))
	for i := range Columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf(insertPostgresSQL, table, strings.Join(Columns, ", "), strings.Join(placeholders, ","))
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *PostgresStore) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, unavailable("acquire connection", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// session locks die with the connection if this fails
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

var (
	_ Store          = (*PostgresStore)(nil)
	_ AdvisoryLocker = (*PostgresStore)(nil)
)
