package ingest

import (
	"bytes"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/parquet-go/parquet-go"
)

type event struct {
	Name  string `parquet:"name"`
	Count int64  `parquet:"count"`
}

func TestRecordSource_RoundTrip(t *testing.T) {
	records := []event{{Name: "alpha", Count: 1}, {Name: "beta", Count: 2}}
	src, err := RecordSource("events", records)
	if err != nil {
		t.Fatal(err)
	}
	if src.SourceID == uuid.Nil {
		t.Error("SourceID must be assigned")
	}
	if src.Name != "events" {
		t.Errorf("Name = %q", src.Name)
	}

	payload, err := io.ReadAll(src.Reader)
	if err != nil {
		t.Fatal(err)
	}
	got, err := parquet.Read[event](bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != records[0] || got[1] != records[1] {
		t.Errorf("records = %v", got)
	}
}

func TestRecordProperties(t *testing.T) {
	props := RecordProperties("db", "events")
	if props.Database != "db" || props.Table != "events" || props.Format != Parquet {
		t.Errorf("props = %+v", props)
	}
	if props.Format.Compressible() {
		t.Error("parquet payloads must not be gzip-wrapped")
	}
}
