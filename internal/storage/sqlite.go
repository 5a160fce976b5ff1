package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/darren-sm/crypto-data-pipeline/internal/config"
)

const createSQLiteTableSQL = `CREATE TABLE IF NOT EXISTS %s (
        symbol TEXT,
        name TEXT,
        current_price REAL,
        market_cap INTEGER,
        market_cap_rank INTEGER,
        fully_diluted_valuation INTEGER,
        total_volume INTEGER,
        high_24h REAL,
        low_24h REAL,
        price_change_24h REAL,
        price_change_percentage_24h REAL,
        market_cap_change_24h REAL,
        market_cap_change_percentage_24h REAL,
        circulating_supply REAL,
        total_supply INTEGER,
        max_supply INTEGER,
        ath REAL,
        ath_change_percentage REAL,
        ath_date TEXT,
        atl REAL,
        atl_change_percentage REAL,
        atl_date TEXT,
        last_updated TEXT
    );`

// SQLiteStore writes snapshots into an embedded file-backed table. The table
// has no key, so repeated runs with identical timestamps accumulate rows.
type SQLiteStore struct {
	db    *sql.DB
	table string
}

// OpenSQLite opens (creating if needed) the database file at cfg.Path.
func OpenSQLite(ctx context.Context, cfg config.SQLiteConfig) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, unavailable("open sqlite", err)
	}
	// one connection keeps ":memory:" databases consistent across calls
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, unavailable("ping sqlite", err)
	}
	return &SQLiteStore{db: db, table: cfg.Table}, nil
}

// EnsureSchema creates the table if it does not exist.
func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	if s == nil || s.db == nil {
		return ErrNotConfigured
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(createSQLiteTableSQL, s.table)); err != nil {
		return fmt.Errorf("create sqlite table: %w", err)
	}
	return nil
}

// InsertBatch inserts every record inside one transaction. A failing row
// rolls back the whole batch.
func (s *SQLiteStore) InsertBatch(ctx context.Context, records []MarketSnapshot) (InsertOutcome, error) {
	outcome := InsertOutcome{Attempted: len(records)}
	if s == nil || s.db == nil {
		return outcome, ErrNotConfigured
	}
	if len(records) == 0 {
		return outcome, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return outcome, unavailable("begin sqlite tx", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.insertSQL())
	if err != nil {
		return outcome, rejected("prepare sqlite insert", err)
	}
	defer stmt.Close()

	for i, rec := range records {
		if _, err := stmt.ExecContext(ctx, sqliteArgs(rec)...); err != nil {
			return outcome, rejected(fmt.Sprintf("insert row %d (%s)", i, rec.Symbol), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return outcome, rejected("commit sqlite tx", err)
	}
	outcome.Inserted = len(records)
	return outcome, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) insertSQL() string {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(Columns)), ", ")
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", s.table, strings.Join(Columns, ", "), placeholders)
}

// sqliteArgs stores timestamps as ISO-8601 text.
func sqliteArgs(rec MarketSnapshot) []any {
	args := rec.Args()
	for i, arg := range args {
		if ts, ok := arg.(time.Time); ok {
			args[i] = ts.Format(time.RFC3339Nano)
		}
	}
	return args
}

var _ Store = (*SQLiteStore)(nil)
