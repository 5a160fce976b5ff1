package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketSnapshot is one coin's market data captured by a single run.
// Decimal fields are already rounded to their storage precision.
type MarketSnapshot struct {
	Symbol                       string
	Name                         string
	CurrentPrice                 decimal.Decimal
	MarketCap                    decimal.Decimal
	MarketCapRank                int64
	FullyDilutedValuation        decimal.NullDecimal
	TotalVolume                  decimal.Decimal
	High24h                      decimal.Decimal
	Low24h                       decimal.Decimal
	PriceChange24h               decimal.Decimal
	PriceChangePercentage24h     decimal.Decimal
	MarketCapChange24h           decimal.Decimal
	MarketCapChangePercentage24h decimal.Decimal
	CirculatingSupply            decimal.Decimal
	TotalSupply                  decimal.NullDecimal
	MaxSupply                    decimal.NullDecimal
	ATH                          decimal.Decimal
	ATHChangePercentage          decimal.Decimal
	ATHDate                      time.Time
	ATL                          decimal.Decimal
	ATLChangePercentage          decimal.Decimal
	ATLDate                      time.Time
	LastUpdated                  time.Time
}

// Columns lists the persisted attributes in table order.
var Columns = []string{
	"symbol",
	"name",
	"current_price",
	"market_cap",
	"market_cap_rank",
	"fully_diluted_valuation",
	"total_volume",
	"high_24h",
	"low_24h",
	"price_change_24h",
	"price_change_percentage_24h",
	"market_cap_change_24h",
	"market_cap_change_percentage_24h",
	"circulating_supply",
	"total_supply",
	"max_supply",
	"ath",
	"ath_change_percentage",
	"ath_date",
	"atl",
	"atl_change_percentage",
	"atl_date",
	"last_updated",
}

// Args returns the column values in Columns order. Decimals are rendered as
// exact strings and missing nullable values as nil.
func (s MarketSnapshot) Args() []any {
	return []any{
		s.Symbol,
		s.Name,
		s.CurrentPrice.String(),
		s.MarketCap.String(),
		s.MarketCapRank,
		nullable(s.FullyDilutedValuation),
		s.TotalVolume.String(),
		s.High24h.String(),
		s.Low24h.String(),
		s.PriceChange24h.String(),
		s.PriceChangePercentage24h.String(),
		s.MarketCapChange24h.String(),
		s.MarketCapChangePercentage24h.String(),
		s.CirculatingSupply.String(),
		nullable(s.TotalSupply),
		nullable(s.MaxSupply),
		s.ATH.String(),
		s.ATHChangePercentage.String(),
		s.ATHDate.UTC(),
		s.ATL.String(),
		s.ATLChangePercentage.String(),
		s.ATLDate.UTC(),
		s.LastUpdated.UTC(),
	}
}

// Values maps column names to the values returned by Args.
func (s MarketSnapshot) Values() map[string]any {
	args := s.Args()
	values := make(map[string]any, len(Columns))
	for i, col := range Columns {
		values[col] = args[i]
	}
	return values
}

// Key is the natural key used by backends that deduplicate.
func (s MarketSnapshot) Key() string {
	return s.Symbol + "@" + s.LastUpdated.UTC().Format(time.RFC3339Nano)
}

// InsertOutcome summarises one InsertBatch call.
type InsertOutcome struct {
	Attempted int
	Inserted  int
	Skipped   int
	Rejected  []RowError
}

// RowError describes a row the backend refused outside the dedup path.
type RowError struct {
	Index  int
	Symbol string
	Reason string
}

func nullable(d decimal.NullDecimal) any {
	if !d.Valid {
		return nil
	}
	return d.Decimal.String()
}
