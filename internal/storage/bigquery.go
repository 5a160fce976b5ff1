package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"cloud.google.com/go/bigquery"
	"github.com/rs/zerolog"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/darren-sm/crypto-data-pipeline/internal/config"
)

type rowInserter interface {
	Put(ctx context.Context, src interface{}) error
}

// BigQueryStore streams snapshots into a warehouse table. Row level failures
// are reported in the outcome and logged, never returned as errors.
type BigQueryStore struct {
	client   *bigquery.Client
	table    *bigquery.Table
	inserter rowInserter
	logger   zerolog.Logger
}

// OpenBigQuery creates a client for cfg.ProjectID. Without an explicit
// credentials file the client falls back to GOOGLE_APPLICATION_CREDENTIALS.
func OpenBigQuery(ctx context.Context, cfg config.BigQueryConfig, logger zerolog.Logger) (*BigQueryStore, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := bigquery.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, unavailable("create bigquery client", err)
	}

	table := client.Dataset(cfg.Dataset).Table(cfg.Table)
	return &BigQueryStore{
		client:   client,
		table:    table,
		inserter: table.Inserter(),
		logger:   logger.With().Str("component", "bigquery_store").Logger(),
	}, nil
}

// EnsureSchema creates the table when its metadata lookup returns 404.
func (s *BigQueryStore) EnsureSchema(ctx context.Context) error {
	if s == nil || s.table == nil {
		return ErrNotConfigured
	}

	_, err := s.table.Metadata(ctx)
	if err == nil {
		return nil
	}
	if !isHTTPStatus(err, http.StatusNotFound) {
		return unavailable("read bigquery table metadata", err)
	}

	err = s.table.Create(ctx, &bigquery.TableMetadata{Schema: bigQuerySchema()})
	if err != nil && !isHTTPStatus(err, http.StatusConflict) {
		return fmt.Errorf("create bigquery table: %w", err)
	}
	return nil
}

// InsertBatch streams every record in one insertAll request.
func (s *BigQueryStore) InsertBatch(ctx context.Context, records []MarketSnapshot) (InsertOutcome, error) {
	outcome := InsertOutcome{Attempted: len(records)}
	if s == nil || s.inserter == nil {
		return outcome, ErrNotConfigured
	}
	if len(records) == 0 {
		return outcome, nil
	}

	savers := make([]bigquery.ValueSaver, len(records))
	for i, rec := range records {
		savers[i] = snapshotSaver{rec: rec}
	}

	err := s.inserter.Put(ctx, savers)
	if err == nil {
		outcome.Inserted = len(records)
		return outcome, nil
	}

	var multi bigquery.PutMultiError
	if !errors.As(err, &multi) {
		return outcome, unavailable("bigquery streaming insert", err)
	}

	for _, rowErr := range multi {
		re := RowError{Index: rowErr.RowIndex, Reason: rowErr.Errors.Error()}
		if rowErr.RowIndex >= 0 && rowErr.RowIndex < len(records) {
			re.Symbol = records[rowErr.RowIndex].Symbol
		}
		outcome.Rejected = append(outcome.Rejected, re)
		s.logger.Error().Int("row", re.Index).Str("symbol", re.Symbol).Str("reason", re.Reason).Msg("row rejected by warehouse")
	}
	outcome.Inserted = len(records) - len(outcome.Rejected)
	if outcome.Inserted < 0 {
		outcome.Inserted = 0
	}
	return outcome, nil
}

// Close releases the client.
func (s *BigQueryStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// snapshotSaver uses the natural key as insert id so the streaming API can
// drop retried rows on a best-effort basis.
type snapshotSaver struct {
	rec MarketSnapshot
}

func (s snapshotSaver) Save() (map[string]bigquery.Value, string, error) {
	values := s.rec.Values()
	row := make(map[string]bigquery.Value, len(values))
	for k, v := range values {
		row[k] = v
	}
	return row, s.rec.Key(), nil
}

func bigQuerySchema() bigquery.Schema {
	field := func(name string, typ bigquery.FieldType, required bool) *bigquery.FieldSchema {
		return &bigquery.FieldSchema{Name: name, Type: typ, Required: required}
	}
	return bigquery.Schema{
		field("symbol", bigquery.StringFieldType, true),
		field("name", bigquery.StringFieldType, true),
		field("current_price", bigquery.NumericFieldType, true),
		field("market_cap", bigquery.BigNumericFieldType, true),
		field("market_cap_rank", bigquery.IntegerFieldType, true),
		field("fully_diluted_valuation", bigquery.BigNumericFieldType, false),
		field("total_volume", bigquery.BigNumericFieldType, true),
		field("high_24h", bigquery.NumericFieldType, true),
		field("low_24h", bigquery.NumericFieldType, true),
		field("price_change_24h", bigquery.NumericFieldType, true),
		field("price_change_percentage_24h", bigquery.NumericFieldType, true),
		field("market_cap_change_24h", bigquery.BigNumericFieldType, true),
		field("market_cap_change_percentage_24h", bigquery.NumericFieldType, true),
		field("circulating_supply", bigquery.BigNumericFieldType, true),
		field("total_supply", bigquery.BigNumericFieldType, false),
		field("max_supply", bigquery.BigNumericFieldType, false),
		field("ath", bigquery.NumericFieldType, true),
		field("ath_change_percentage", bigquery.NumericFieldType, true),
		field("ath_date", bigquery.TimestampFieldType, true),
		field("atl", bigquery.NumericFieldType, true),
		field("atl_change_percentage", bigquery.NumericFieldType, true),
		field("atl_date", bigquery.TimestampFieldType, true),
		field("last_updated", bigquery.TimestampFieldType, true),
	}
}

func isHTTPStatus(err error, code int) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == code
}

var _ Store = (*BigQueryStore)(nil)
