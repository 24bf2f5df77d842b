package ingest

import (
	"bytes"

	"github.com/parquet-go/parquet-go"
)

// RecordSource encodes a slice of typed records as a parquet payload
// ready for ingestion. The schema is derived from T's struct tags, so the
// destination table's ingestion mapping can be skipped for tables whose
// columns match the field names.
func RecordSource[T any](name string, records []T) (*StreamSource, error) {
	var buf bytes.Buffer
	w := parquet.NewGenericWriter[T](&buf)
	if _, err := w.Write(records); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	src := &StreamSource{Reader: &buf, Name: name}
	src.ensureID()
	return src, nil
}

// RecordProperties is the ingestion property set matching a RecordSource
// payload.
func RecordProperties(database, table string) *Properties {
	return &Properties{Database: database, Table: table, Format: Parquet}
}
