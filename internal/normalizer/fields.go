package normalizer

import (
	"fmt"
	"maps"
	"slices"
)

// Fields dropped from every record before storage.
var discardedFields = []string{"id", "image", "roi"}

// DefaultPrecision is the number of fractional digits kept per numeric field.
var DefaultPrecision = map[string]int32{
	"current_price":                    6,
	"high_24h":                         6,
	"low_24h":                          6,
	"price_change_24h":                 6,
	"price_change_percentage_24h":      4,
	"market_cap_change_24h":            2,
	"market_cap_change_percentage_24h": 4,
	"circulating_supply":               2,
	"ath":                              2,
	"ath_change_percentage":            2,
	"atl":                              2,
	"atl_change_percentage":            2,
	"market_cap":                       0,
	"total_volume":                     0,
	"fully_diluted_valuation":          0,
	"total_supply":                     0,
	"max_supply":                       0,
}

// Precision resolves the rounding table, applying overrides on top of
// DefaultPrecision. Unknown field names are ignored here; ValidatePrecision
// rejects them at startup.
func Precision(overrides map[string]int32) map[string]int32 {
	out := make(map[string]int32, len(DefaultPrecision))
	for field, places := range DefaultPrecision {
		out[field] = places
	}
	for field, places := range overrides {
		if _, ok := out[field]; ok {
			out[field] = places
		}
	}
	return out
}

// ValidatePrecision rejects overrides naming fields that are never rounded.
func ValidatePrecision(overrides map[string]int32) error {
	for _, field := range slices.Sorted(maps.Keys(overrides)) {
		if _, ok := DefaultPrecision[field]; !ok {
			return fmt.Errorf("normalize.precision: unknown field %q", field)
		}
	}
	return nil
}
