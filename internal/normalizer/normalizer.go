package normalizer

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/darren-sm/crypto-data-pipeline/internal/fetcher"
	"github.com/darren-sm/crypto-data-pipeline/internal/storage"
)

// ErrMalformedPayload is returned when any part of the batch cannot be normalized.
var ErrMalformedPayload = errors.New("normalizer: malformed payload")

// Normalizer reshapes a markets response into storage records.
type Normalizer struct {
	precision map[string]int32
	logger    zerolog.Logger
}

// New builds a Normalizer; overrides replace entries of DefaultPrecision.
func New(overrides map[string]int32, logger zerolog.Logger) *Normalizer {
	return &Normalizer{
		precision: Precision(overrides),
		logger:    logger.With().Str("component", "normalizer").Logger(),
	}
}

// Normalize decodes raw.Body. See NormalizeBody.
func (n *Normalizer) Normalize(raw *fetcher.RawResponse) ([]storage.MarketSnapshot, error) {
	if raw == nil {
		return nil, fmt.Errorf("%w: empty response", ErrMalformedPayload)
	}
	return n.NormalizeBody(raw.Body)
}

// NormalizeBody parses a JSON array of market objects. Output order and
// length match the input; a single bad record fails the whole batch.
func (n *Normalizer) NormalizeBody(body []byte) ([]storage.MarketSnapshot, error) {
	var items []map[string]json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	if items == nil {
		return nil, fmt.Errorf("%w: expected a JSON array", ErrMalformedPayload)
	}

	records := make([]storage.MarketSnapshot, 0, len(items))
	for i, item := range items {
		if item == nil {
			return nil, fmt.Errorf("%w: record %d is not an object", ErrMalformedPayload, i)
		}
		for _, field := range discardedFields {
			delete(item, field)
		}

		rec, err := parseRecord(item)
		if err != nil {
			return nil, fmt.Errorf("%w: record %d: %w", ErrMalformedPayload, i, err)
		}
		records = append(records, n.Round(rec))
	}

	n.logger.Debug().Int("records", len(records)).Msg("payload normalized")
	return records, nil
}

// Round quantizes every numeric field to its configured precision using
// round-half-to-even on the exact decimal value.
func (n *Normalizer) Round(rec storage.MarketSnapshot) storage.MarketSnapshot {
	for field, value := range decimalFields(&rec) {
		*value = value.RoundBank(n.precision[field])
	}
	for field, value := range nullDecimalFields(&rec) {
		if value.Valid {
			value.Decimal = value.Decimal.RoundBank(n.precision[field])
		}
	}
	return rec
}

func decimalFields(rec *storage.MarketSnapshot) map[string]*decimal.Decimal {
	return map[string]*decimal.Decimal{
		"current_price":                    &rec.CurrentPrice,
		"market_cap":                       &rec.MarketCap,
		"total_volume":                     &rec.TotalVolume,
		"high_24h":                         &rec.High24h,
		"low_24h":                          &rec.Low24h,
		"price_change_24h":                 &rec.PriceChange24h,
		"price_change_percentage_24h":      &rec.PriceChangePercentage24h,
		"market_cap_change_24h":            &rec.MarketCapChange24h,
		"market_cap_change_percentage_24h": &rec.MarketCapChangePercentage24h,
		"circulating_supply":               &rec.CirculatingSupply,
		"ath":                              &rec.ATH,
		"ath_change_percentage":            &rec.ATHChangePercentage,
		"atl":                              &rec.ATL,
		"atl_change_percentage":            &rec.ATLChangePercentage,
	}
}

func nullDecimalFields(rec *storage.MarketSnapshot) map[string]*decimal.NullDecimal {
	return map[string]*decimal.NullDecimal{
		"fully_diluted_valuation": &rec.FullyDilutedValuation,
		"total_supply":            &rec.TotalSupply,
		"max_supply":              &rec.MaxSupply,
	}
}

// parseRecord reads fields in storage.Columns order so the reported field is
// the same from run to run when several are invalid.
func parseRecord(item map[string]json.RawMessage) (storage.MarketSnapshot, error) {
	r := &fieldReader{item: item}
	var rec storage.MarketSnapshot
	decimals := decimalFields(&rec)
	nullables := nullDecimalFields(&rec)

	for _, field := range storage.Columns {
		if r.err != nil {
			break
		}
		switch field {
		case "symbol":
			rec.Symbol = r.text(field)
		case "name":
			rec.Name = r.text(field)
		case "market_cap_rank":
			rec.MarketCapRank = r.integer(field)
		case "ath_date":
			rec.ATHDate = r.timestamp(field)
		case "atl_date":
			rec.ATLDate = r.timestamp(field)
		case "last_updated":
			rec.LastUpdated = r.timestamp(field)
		default:
			if value, ok := decimals[field]; ok {
				*value = r.number(field)
			} else if value, ok := nullables[field]; ok {
				*value = r.optionalNumber(field)
			}
		}
	}
	return rec, r.err
}

// fieldReader extracts typed values and keeps the first error it meets.
type fieldReader struct {
	item map[string]json.RawMessage
	err  error
}

func (r *fieldReader) fail(field, format string, args ...any) {
	if r.err == nil {
		r.err = fmt.Errorf("field %q: %s", field, fmt.Sprintf(format, args...))
	}
}

func (r *fieldReader) raw(field string) (json.RawMessage, bool) {
	v, ok := r.item[field]
	if !ok || string(v) == "null" {
		return nil, false
	}
	return v, true
}

func (r *fieldReader) text(field string) string {
	v, ok := r.raw(field)
	if !ok {
		r.fail(field, "missing")
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		r.fail(field, "not a string")
		return ""
	}
	return s
}

func (r *fieldReader) number(field string) decimal.Decimal {
	v, ok := r.raw(field)
	if !ok {
		r.fail(field, "missing")
		return decimal.Zero
	}
	d, err := parseNumber(v)
	if err != nil {
		r.fail(field, "%v", err)
		return decimal.Zero
	}
	return d
}

func (r *fieldReader) optionalNumber(field string) decimal.NullDecimal {
	v, ok := r.raw(field)
	if !ok {
		return decimal.NullDecimal{}
	}
	d, err := parseNumber(v)
	if err != nil {
		r.fail(field, "%v", err)
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

func (r *fieldReader) integer(field string) int64 {
	d := r.number(field)
	if !d.Equal(d.Truncate(0)) {
		r.fail(field, "not an integer: %s", d.String())
		return 0
	}
	if !d.BigInt().IsInt64() {
		r.fail(field, "out of range: %s", d.String())
		return 0
	}
	return d.IntPart()
}

func (r *fieldReader) timestamp(field string) time.Time {
	s := r.text(field)
	if r.err != nil {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		r.fail(field, "not an ISO-8601 timestamp: %q", s)
		return time.Time{}
	}
	return ts.UTC()
}

// parseNumber reads the literal JSON number text without a float64 detour.
func parseNumber(v json.RawMessage) (decimal.Decimal, error) {
	if len(v) == 0 || (v[0] != '-' && (v[0] < '0' || v[0] > '9')) {
		return decimal.Zero, fmt.Errorf("not a number: %s", string(v))
	}
	d, err := decimal.NewFromString(string(v))
	if err != nil {
		return decimal.Zero, fmt.Errorf("not a number: %s", string(v))
	}
	return d, nil
}
