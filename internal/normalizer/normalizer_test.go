package normalizer

import (
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/darren-sm/crypto-data-pipeline/internal/fetcher"
	"github.com/darren-sm/crypto-data-pipeline/internal/storage"
)

func loadFixture(t *testing.T) []byte {
	t.Helper()
	body, err := os.ReadFile("testdata/markets.json")
	require.NoError(t, err)
	return body
}

func TestNormalizeFixture(t *testing.T) {
	n := New(nil, zerolog.Nop())

	records, err := n.Normalize(&fetcher.RawResponse{StatusCode: 200, Body: loadFixture(t)})
	require.NoError(t, err)
	require.Len(t, records, 2)

	btc, eth := records[0], records[1]
	require.Equal(t, "btc", btc.Symbol)
	require.Equal(t, "Bitcoin", btc.Name)
	require.Equal(t, "18869.811234", btc.CurrentPrice.String())
	require.Equal(t, "-221.121346", btc.PriceChange24h.String())
	require.Equal(t, "-1.1584", btc.PriceChangePercentage24h.String())
	require.Equal(t, "-3917093214.55", btc.MarketCapChange24h.String())
	require.Equal(t, "-72.67", btc.ATHChangePercentage.String())
	require.Equal(t, "362218223496", btc.MarketCap.String())
	require.Equal(t, int64(1), btc.MarketCapRank)
	require.True(t, btc.MaxSupply.Valid)
	require.Equal(t, "21000000", btc.MaxSupply.Decimal.String())
	require.Equal(t, time.Date(2022, 10, 7, 13, 4, 1, 517000000, time.UTC), btc.LastUpdated)
	require.Equal(t, time.Date(2021, 11, 10, 14, 24, 11, 849000000, time.UTC), btc.ATHDate)

	require.Equal(t, "eth", eth.Symbol)
	require.Equal(t, "1294.245", eth.CurrentPrice.String())
	require.Equal(t, "122373866.22", eth.CirculatingSupply.String())
	require.Equal(t, "122373866", eth.TotalSupply.Decimal.String())
	require.Equal(t, "0.43", eth.ATL.String())
	require.False(t, eth.MaxSupply.Valid)
	require.False(t, eth.FullyDilutedValuation.Valid)
}

func TestNormalizePrecisionOverride(t *testing.T) {
	n := New(map[string]int32{"current_price": 2, "unknown_field": 9}, zerolog.Nop())

	records, err := n.NormalizeBody(loadFixture(t))
	require.NoError(t, err)
	require.Equal(t, "18869.81", records[0].CurrentPrice.String())
	// half-to-even: 1294.245 -> 1294.24
	require.Equal(t, "1294.24", records[1].CurrentPrice.String())
}

func TestNormalizeDropsDiscardedFields(t *testing.T) {
	n := New(nil, zerolog.Nop())
	records, err := n.NormalizeBody(loadFixture(t))
	require.NoError(t, err)

	for _, rec := range records {
		values := rec.Values()
		for _, field := range discardedFields {
			require.NotContains(t, values, field)
		}
		require.ElementsMatch(t, storage.Columns, keys(values))
	}
}

func TestNormalizeToleratesMissingDiscardedFields(t *testing.T) {
	body := strings.NewReplacer(
		`"id": "bitcoin",`, "",
		`"image": "https://assets.coingecko.com/coins/images/1/large/bitcoin.png?1547033579",`, "",
		`"roi": null,`, "",
	).Replace(string(loadFixture(t)))
	require.NotContains(t, body, `"bitcoin"`)

	records, err := New(nil, zerolog.Nop()).NormalizeBody([]byte(body))
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "btc", records[0].Symbol)
}

func TestRoundIsIdempotent(t *testing.T) {
	for _, overrides := range []map[string]int32{nil, {"current_price": 2, "ath": 0, "atl": 5}} {
		n := New(overrides, zerolog.Nop())
		records, err := n.NormalizeBody(loadFixture(t))
		require.NoError(t, err)

		for _, rec := range records {
			again := n.Round(rec)
			require.Equal(t, rec.Values(), again.Values())
		}
	}
}

func TestNormalizePreservesCountAndOrder(t *testing.T) {
	n := New(nil, zerolog.Nop())
	for _, size := range []int{0, 1, 7, 100} {
		body := buildArray(size)
		records, err := n.NormalizeBody(body)
		require.NoError(t, err)
		require.Len(t, records, size)
		for i, rec := range records {
			require.Equal(t, fmt.Sprintf("c%d", i), rec.Symbol)
		}
	}
}

func TestNormalizeMalformedPayload(t *testing.T) {
	valid := recordJSON(0)
	cases := map[string]string{
		"not json":         `<html>rate limited</html>`,
		"object":           `{"symbol":"btc"}`,
		"null":             `null`,
		"array of numbers": `[1, 2]`,
		"null element":     `[null]`,
		"missing price":    "[" + strings.Replace(valid, `"current_price": 1.5,`, "", 1) + "]",
		"string price":     "[" + strings.Replace(valid, `"current_price": 1.5`, `"current_price": "1.5"`, 1) + "]",
		"null price":       "[" + strings.Replace(valid, `"current_price": 1.5`, `"current_price": null`, 1) + "]",
		"fractional rank":  "[" + strings.Replace(valid, `"market_cap_rank": 1`, `"market_cap_rank": 1.5`, 1) + "]",
		"bad timestamp":    "[" + strings.Replace(valid, `"2022-10-07T13:04:01.517Z"`, `"yesterday"`, 1) + "]",
		"missing symbol":   "[" + strings.Replace(valid, `"symbol": "c0",`, "", 1) + "]",
		"one bad of two":   "[" + valid + "," + strings.Replace(recordJSON(1), `"ath": 2,`, `"ath": true,`, 1) + "]",
	}
	n := New(nil, zerolog.Nop())
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			records, err := n.NormalizeBody([]byte(body))
			require.ErrorIs(t, err, ErrMalformedPayload)
			require.Nil(t, records)
		})
	}

	_, err := n.Normalize(nil)
	require.ErrorIs(t, err, ErrMalformedPayload)
}

func TestNormalizeReportsFirstBadFieldInColumnOrder(t *testing.T) {
	record := strings.NewReplacer(
		`"ath": 2,`, `"ath": "2",`,
		`"current_price": 1.5,`, `"current_price": true,`,
		`"max_supply": null,`, `"max_supply": "n/a",`,
	).Replace(recordJSON(0))
	body := []byte("[" + record + "]")

	n := New(nil, zerolog.Nop())
	for i := 0; i < 50; i++ {
		_, err := n.NormalizeBody(body)
		require.ErrorIs(t, err, ErrMalformedPayload)
		require.Contains(t, err.Error(), `field "current_price"`)
	}
}

func TestValidatePrecision(t *testing.T) {
	require.NoError(t, ValidatePrecision(nil))
	require.NoError(t, ValidatePrecision(map[string]int32{"current_price": 2, "max_supply": 0}))

	err := ValidatePrecision(map[string]int32{"current_price": 2, "curent_price": 2, "symbol": 1})
	require.ErrorContains(t, err, `unknown field "curent_price"`)
}

func recordJSON(i int) string {
	return fmt.Sprintf(`{
  "id": "coin-%[1]d", "symbol": "c%[1]d", "name": "Coin %[1]d", "image": "x",
  "current_price": 1.5, "market_cap": 1000, "market_cap_rank": 1,
  "fully_diluted_valuation": null, "total_volume": 10,
  "high_24h": 1.6, "low_24h": 1.4, "price_change_24h": 0.1,
  "price_change_percentage_24h": 6.25, "market_cap_change_24h": 12.3456,
  "market_cap_change_percentage_24h": 1.2, "circulating_supply": 100,
  "total_supply": null, "max_supply": null,
  "ath": 2, "ath_change_percentage": -25, "ath_date": "2021-11-10T14:24:11.849Z",
  "atl": 1e-05, "atl_change_percentage": 150000, "atl_date": "2013-07-06T00:00:00.000Z",
  "roi": null, "last_updated": "2022-10-07T13:04:01.517Z"
}`, i)
}

func buildArray(n int) []byte {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = recordJSON(i)
	}
	return []byte("[" + strings.Join(parts, ",") + "]")
}

func keys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
