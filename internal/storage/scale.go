package storage

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strconv"

	"cloud.google.com/go/bigquery"

	"github.com/darren-sm/crypto-data-pipeline/internal/config"
)

// ErrScaleExceeded reports a rounding precision the destination column would
// truncate or reject.
var ErrScaleExceeded = errors.New("storage: precision exceeds column scale")

// BigQuery NUMERIC and BIGNUMERIC have fixed scales.
const (
	bigQueryNumericScale    = 9
	bigQueryBigNumericScale = 38
)

var (
	gormColumnRE  = regexp.MustCompile(`column:([a-z0-9_]+)`)
	gormDecimalRE = regexp.MustCompile(`type:decimal\(\d+,(\d+)\)`)
)

// ColumnScales returns the fractional digits each decimal column keeps in
// backend. Backends without a fixed scale return nil.
func ColumnScales(backend string) map[string]int32 {
	switch backend {
	case config.BackendBigQuery:
		return bigQueryScales()
	case config.BackendMySQL:
		return mysqlScales()
	default:
		return nil
	}
}

// CheckScale verifies every rounding precision fits the backend's columns.
func CheckScale(backend string, precision map[string]int32) error {
	scales := ColumnScales(backend)
	for _, field := range Columns {
		limit, fixed := scales[field]
		places, set := precision[field]
		if fixed && set && places > limit {
			return fmt.Errorf("%w: %s column %s keeps %d digits, precision is %d", ErrScaleExceeded, backend, field, limit, places)
		}
	}
	return nil
}

func bigQueryScales() map[string]int32 {
	scales := make(map[string]int32)
	for _, field := range bigQuerySchema() {
		switch field.Type {
		case bigquery.NumericFieldType:
			scales[field.Name] = bigQueryNumericScale
		case bigquery.BigNumericFieldType:
			scales[field.Name] = bigQueryBigNumericScale
		}
	}
	return scales
}

// mysqlScales reads the scale out of the gorm column types.
func mysqlScales() map[string]int32 {
	scales := make(map[string]int32)
	t := reflect.TypeOf(mysqlSnapshot{})
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("gorm")
		column := gormColumnRE.FindStringSubmatch(tag)
		scaleMatch := gormDecimalRE.FindStringSubmatch(tag)
		if column == nil || scaleMatch == nil {
			continue
		}
		scale, err := strconv.Atoi(scaleMatch[1])
		if err != nil {
			continue
		}
		scales[column[1]] = int32(scale)
	}
	return scales
}
