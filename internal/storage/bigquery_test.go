package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeInserter struct {
	rows []bigquery.ValueSaver
	err  error
}

func (f *fakeInserter) Put(ctx context.Context, src interface{}) error {
	f.rows = src.([]bigquery.ValueSaver)
	return f.err
}

func TestBigQueryInsertBatchSuccess(t *testing.T) {
	ins := &fakeInserter{}
	store := &BigQueryStore{inserter: ins, logger: zerolog.Nop()}
	ts := time.Date(2022, 10, 7, 13, 4, 0, 0, time.UTC)

	outcome, err := store.InsertBatch(context.Background(), []MarketSnapshot{
		sampleSnapshot("btc", ts),
		sampleSnapshot("eth", ts),
	})
	require.NoError(t, err)
	require.Equal(t, 2, outcome.Inserted)
	require.Len(t, ins.rows, 2)

	row, insertID, err := ins.rows[0].Save()
	require.NoError(t, err)
	require.Equal(t, "btc@2022-10-07T13:04:00Z", insertID)
	require.Equal(t, "18869.81", row["current_price"])
	require.Nil(t, row["max_supply"])
	require.NotContains(t, row, "id")
}

func TestBigQueryRowErrorsAreNotFatal(t *testing.T) {
	ins := &fakeInserter{err: bigquery.PutMultiError{
		{InsertID: "eth", RowIndex: 1, Errors: bigquery.MultiError{errors.New("no such field: foo")}},
	}}
	store := &BigQueryStore{inserter: ins, logger: zerolog.Nop()}
	ts := time.Now().UTC()

	outcome, err := store.InsertBatch(context.Background(), []MarketSnapshot{
		sampleSnapshot("btc", ts),
		sampleSnapshot("eth", ts),
	})
	require.NoError(t, err)
	require.Equal(t, 1, outcome.Inserted)
	require.Len(t, outcome.Rejected, 1)
	require.Equal(t, "eth", outcome.Rejected[0].Symbol)
	require.Contains(t, outcome.Rejected[0].Reason, "no such field")
}

func TestBigQueryTransportErrorIsUnavailable(t *testing.T) {
	store := &BigQueryStore{inserter: &fakeInserter{err: errors.New("dial tcp: connection refused")}, logger: zerolog.Nop()}

	_, err := store.InsertBatch(context.Background(), []MarketSnapshot{sampleSnapshot("btc", time.Now())})
	require.ErrorIs(t, err, ErrStorageUnavailable)
}

func TestBigQuerySchemaMatchesColumns(t *testing.T) {
	schema := bigQuerySchema()
	require.Len(t, schema, len(Columns))
	for i, field := range schema {
		require.Equal(t, Columns[i], field.Name)
	}
}
