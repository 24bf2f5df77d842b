package adx

import (
	"compress/gzip"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestClient_QueryStreaming(t *testing.T) {
	var gotPath, gotRequestID string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotRequestID = r.Header.Get("x-ms-client-request-id")
		raw, _ := io.ReadAll(r.Body)
		_ = jsonAPI.Unmarshal(raw, &gotBody)
		io.WriteString(w, `[
			{"FrameType": "DataSetHeader", "IsProgressive": false, "Version": "v2.0"},
			{"FrameType": "DataTable", "TableId": 0, "TableKind": "PrimaryResult", "TableName": "PrimaryResult",
				"Columns": [{"ColumnName": "x", "ColumnType": "long"}],
				"Rows": [[7]]},
			{"FrameType": "DataSetCompletion", "HasErrors": false, "Cancelled": false}
		]`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	ds, err := c.QueryStreaming(context.Background(), "testdb", "T | take 1")
	if err != nil {
		t.Fatal(err)
	}
	defer ds.Close()

	if gotPath != "/v2/rest/query" {
		t.Errorf("path = %q", gotPath)
	}
	if !strings.HasPrefix(gotRequestID, "ADX.execute;") {
		t.Errorf("client request id = %q", gotRequestID)
	}
	if gotBody["db"] != "testdb" || gotBody["csl"] != "T | take 1" {
		t.Errorf("body = %v", gotBody)
	}

	st, err := ds.NextPrimary()
	if err != nil {
		t.Fatal(err)
	}
	row, err := st.Next()
	if err != nil {
		t.Fatal(err)
	}
	if row[0] != int64(7) {
		t.Errorf("row = %v", row)
	}
}

func TestClient_QueryStreaming_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error": {"code": "BadRequest", "message": "syntax error", "@permanent": true}}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.QueryStreaming(context.Background(), "db", "bad |")
	var he *HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected HTTPError, got %v", err)
	}
	if he.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d", he.StatusCode)
	}
	if he.Api == nil || he.Api.Code != "BadRequest" || !he.Permanent() {
		t.Errorf("api error = %+v", he.Api)
	}
}

func TestClient_Mgmt(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		io.WriteString(w, `{"Tables": [{"TableName": "Table_0",
			"Columns": [{"ColumnName": "ResourceTypeName", "DataType": "String"}, {"ColumnName": "StorageRoot", "DataType": "String"}],
			"Rows": [["TempStorage", "https://store.example.com/tmp?sig=abc"]]}]}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	table, err := c.Mgmt(context.Background(), "NetDefaultDB", ".get ingestion resources")
	if err != nil {
		t.Fatal(err)
	}
	if gotPath != "/v1/rest/mgmt" {
		t.Errorf("path = %q", gotPath)
	}
	if table.Name() != "Table_0" {
		t.Errorf("name = %q", table.Name())
	}
	rows := table.Rows()
	if len(rows) != 1 || rows[0][0] != "TempStorage" {
		t.Errorf("rows = %v", rows)
	}
}

func TestClient_StreamingIngest(t *testing.T) {
	var gotURL, gotEncoding, gotRequestID string
	var gotPayload []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotURL = r.URL.String()
		gotEncoding = r.Header.Get("Content-Encoding")
		gotRequestID = r.Header.Get("x-ms-client-request-id")
		gotPayload, _ = io.ReadAll(r.Body)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	err := c.StreamingIngest(context.Background(), "db", "events", strings.NewReader("a,b\n"), "csv", StreamingIngestOptions{
		MappingName:     "m1",
		ClientRequestID: "custom-id",
	})
	if err != nil {
		t.Fatal(err)
	}
	if gotURL != "/v1/rest/ingest/db/events?streamFormat=csv&mappingName=m1" {
		t.Errorf("url = %q", gotURL)
	}
	if gotEncoding != "" {
		t.Errorf("unexpected Content-Encoding %q", gotEncoding)
	}
	if gotRequestID != "custom-id" {
		t.Errorf("client request id = %q", gotRequestID)
	}
	if string(gotPayload) != "a,b\n" {
		t.Errorf("payload = %q", gotPayload)
	}
}

func TestClient_StreamingIngest_CompressedHeader(t *testing.T) {
	var gotEncoding string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotEncoding = r.Header.Get("Content-Encoding")
		io.Copy(io.Discard, r.Body)
	}))
	defer srv.Close()

	var compressed strings.Builder
	gz := gzip.NewWriter(&compressed)
	io.WriteString(gz, "payload")
	gz.Close()

	c := NewClient(srv.URL)
	err := c.StreamingIngest(context.Background(), "db", "events", strings.NewReader(compressed.String()), "csv", StreamingIngestOptions{
		Compressed: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if gotEncoding != "gzip" {
		t.Errorf("Content-Encoding = %q, want gzip", gotEncoding)
	}
}

type staticToken string

func (s staticToken) AcquireToken(context.Context) (string, error) { return string(s), nil }

func TestClient_Authorization(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		io.WriteString(w, `{"Tables": [{"TableName": "t", "Columns": [], "Rows": []}]}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithTokenProvider(staticToken("tok-123")))
	if _, err := c.Mgmt(context.Background(), "db", ".show version"); err != nil {
		t.Fatal(err)
	}
	if gotAuth != "Bearer tok-123" {
		t.Errorf("Authorization = %q", gotAuth)
	}
}
