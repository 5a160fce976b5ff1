package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/darren-sm/crypto-data-pipeline/internal/config"
)

const mysqlBatchSize = 500

// mysqlSnapshot is the gorm model for the MySQL table.
type mysqlSnapshot struct {
	Symbol                       string              `gorm:"column:symbol;type:varchar(32);primaryKey"`
	Name                         string              `gorm:"column:name;type:varchar(255);not null"`
	CurrentPrice                 decimal.Decimal     `gorm:"column:current_price;type:decimal(38,10);not null"`
	MarketCap                    decimal.Decimal     `gorm:"column:market_cap;type:decimal(38,0);not null"`
	MarketCapRank                int64               `gorm:"column:market_cap_rank;not null"`
	FullyDilutedValuation        decimal.NullDecimal `gorm:"column:fully_diluted_valuation;type:decimal(38,0)"`
	TotalVolume                  decimal.Decimal     `gorm:"column:total_volume;type:decimal(38,0);not null"`
	High24h                      decimal.Decimal     `gorm:"column:high_24h;type:decimal(38,10);not null"`
	Low24h                       decimal.Decimal     `gorm:"column:low_24h;type:decimal(38,10);not null"`
	PriceChange24h               decimal.Decimal     `gorm:"column:price_change_24h;type:decimal(38,10);not null"`
	PriceChangePercentage24h     decimal.Decimal     `gorm:"column:price_change_percentage_24h;type:decimal(20,6);not null"`
	MarketCapChange24h           decimal.Decimal     `gorm:"column:market_cap_change_24h;type:decimal(38,6);not null"`
	MarketCapChangePercentage24h decimal.Decimal     `gorm:"column:market_cap_change_percentage_24h;type:decimal(20,6);not null"`
	CirculatingSupply            decimal.Decimal     `gorm:"column:circulating_supply;type:decimal(38,6);not null"`
	TotalSupply                  decimal.NullDecimal `gorm:"column:total_supply;type:decimal(38,6)"`
	MaxSupply                    decimal.NullDecimal `gorm:"column:max_supply;type:decimal(38,6)"`
	ATH                          decimal.Decimal     `gorm:"column:ath;type:decimal(38,10);not null"`
	ATHChangePercentage          decimal.Decimal     `gorm:"column:ath_change_percentage;type:decimal(20,6);not null"`
	ATHDate                      time.Time           `gorm:"column:ath_date;type:datetime(3);not null"`
	ATL                          decimal.Decimal     `gorm:"column:atl;type:decimal(38,10);not null"`
	ATLChangePercentage          decimal.Decimal     `gorm:"column:atl_change_percentage;type:decimal(20,6);not null"`
	ATLDate                      time.Time           `gorm:"column:atl_date;type:datetime(3);not null"`
	LastUpdated                  time.Time           `gorm:"column:last_updated;type:datetime(3);primaryKey"`
}

func toMySQLSnapshot(s MarketSnapshot) mysqlSnapshot {
	return mysqlSnapshot{
		Symbol:                       s.Symbol,
		Name:                         s.Name,
		CurrentPrice:                 s.CurrentPrice,
		MarketCap:                    s.MarketCap,
		MarketCapRank:                s.MarketCapRank,
		FullyDilutedValuation:        s.FullyDilutedValuation,
		TotalVolume:                  s.TotalVolume,
		High24h:                      s.High24h,
		Low24h:                       s.Low24h,
		PriceChange24h:               s.PriceChange24h,
		PriceChangePercentage24h:     s.PriceChangePercentage24h,
		MarketCapChange24h:           s.MarketCapChange24h,
		MarketCapChangePercentage24h: s.MarketCapChangePercentage24h,
		CirculatingSupply:            s.CirculatingSupply,
		TotalSupply:                  s.TotalSupply,
		MaxSupply:                    s.MaxSupply,
		ATH:                          s.ATH,
		ATHChangePercentage:          s.ATHChangePercentage,
		ATHDate:                      s.ATHDate.UTC(),
		ATL:                          s.ATL,
		ATLChangePercentage:          s.ATLChangePercentage,
		ATLDate:                      s.ATLDate.UTC(),
		LastUpdated:                  s.LastUpdated.UTC(),
	}
}

// MySQLStore writes snapshots through gorm into a table keyed by
// (symbol, last_updated); duplicates are ignored.
type MySQLStore struct {
	db    *gorm.DB
	table string
}

// OpenMySQL connects to the database named in cfg.DSN.
func OpenMySQL(ctx context.Context, cfg config.MySQLConfig) (*MySQLStore, error) {
	db, err := gorm.Open(mysql.Open(cfg.DSN), &gorm.Config{
		Logger:                 logger.Discard,
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, unavailable("open mysql", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, unavailable("mysql handle", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, unavailable("ping mysql", err)
	}
	return NewMySQLStore(db, cfg.Table), nil
}

// NewMySQLStore wraps an existing gorm handle.
func NewMySQLStore(db *gorm.DB, table string) *MySQLStore {
	return &MySQLStore{db: db, table: table}
}

// EnsureSchema runs AutoMigrate, which only creates what is missing.
func (s *MySQLStore) EnsureSchema(ctx context.Context) error {
	if s == nil || s.db == nil {
		return ErrNotConfigured
	}
	if err := s.db.WithContext(ctx).Table(s.table).AutoMigrate(&mysqlSnapshot{}); err != nil {
		return fmt.Errorf("migrate mysql table: %w", err)
	}
	return nil
}

// InsertBatch inserts all rows in one transaction, skipping key conflicts.
func (s *MySQLStore) InsertBatch(ctx context.Context, records []MarketSnapshot) (InsertOutcome, error) {
	outcome := InsertOutcome{Attempted: len(records)}
	if s == nil || s.db == nil {
		return outcome, ErrNotConfigured
	}
	if len(records) == 0 {
		return outcome, nil
	}

	rows := make([]mysqlSnapshot, len(records))
	for i, rec := range records {
		rows[i] = toMySQLSnapshot(rec)
	}

	var inserted int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := s.insertQuery(tx).CreateInBatches(rows, mysqlBatchSize)
		inserted = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return outcome, rejected("insert mysql batch", err)
	}

	outcome.Inserted = int(inserted)
	outcome.Skipped = len(records) - outcome.Inserted
	return outcome, nil
}

func (s *MySQLStore) insertQuery(tx *gorm.DB) *gorm.DB {
	return tx.Table(s.table).Clauses(clause.OnConflict{DoNothing: true})
}

// Close releases the pooled connections.
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var _ Store = (*MySQLStore)(nil)
