package ingest

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"io"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
)

// -----------------------------------------------------------------------------
// Fakes
// -----------------------------------------------------------------------------

type staticResources struct {
	set  *ResourceSet
	auth string
}

func (s *staticResources) IngestionResources(context.Context) (*ResourceSet, error) {
	return s.set, nil
}

func (s *staticResources) AuthContext(context.Context) (string, error) {
	return s.auth, nil
}

func testResources() *staticResources {
	mustURI := func(raw string) ResourceURI {
		uri, err := ParseResourceURI(raw)
		if err != nil {
			panic(err)
		}
		return uri
	}
	return &staticResources{
		auth: "auth-ctx",
		set: &ResourceSet{
			ReadyQueues:      []ResourceURI{mustURI("https://store.example.com/ready?sig=a")},
			FailedQueues:     []ResourceURI{mustURI("https://store.example.com/failed?sig=b")},
			SuccessfulQueues: []ResourceURI{mustURI("https://store.example.com/success?sig=c")},
			Containers:       []ResourceURI{mustURI("https://store.example.com/tmp?sig=d")},
			StatusTables:     []ResourceURI{mustURI("https://store.example.com/status?sig=e")},
		},
	}
}

func decodeMessage(t *testing.T, message string) *blobInfo {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(message)
	if err != nil {
		t.Fatalf("message is not base64: %v", err)
	}
	var info blobInfo
	if err := jsonAPI.Unmarshal(raw, &info); err != nil {
		t.Fatalf("message is not the expected JSON: %v", err)
	}
	return &info
}

func mustBlob(t *testing.T, store *MemoryBlobStore, container, name string) []byte {
	t.Helper()
	data, ok := store.Blob(container, name)
	if !ok {
		t.Fatalf("blob %s/%s not staged; staged: %v", container, name, store.Names())
	}
	return data
}

// -----------------------------------------------------------------------------
// Tests
// -----------------------------------------------------------------------------

func TestQueuedClient_IngestStream(t *testing.T) {
	store := NewMemoryBlobStore()
	queue := NewMemoryQueue()
	c := NewQueuedClient(testResources(), store, queue)

	id := uuid.New()
	src := &StreamSource{Reader: strings.NewReader("a,b\nc,d\n"), Name: "data.csv", SourceID: id}
	props := &Properties{Database: "db", Table: "events", Format: CSV, FlushImmediately: true}

	if err := c.IngestStream(context.Background(), src, props); err != nil {
		t.Fatal(err)
	}

	wantName := "db__events__" + id.String() + "__data.csv.gz"
	staged := mustBlob(t, store, "tmp", wantName)

	// The staged payload is gzip-compressed and round-trips.
	gz, err := gzip.NewReader(bytes.NewReader(staged))
	if err != nil {
		t.Fatal(err)
	}
	raw, err := io.ReadAll(gz)
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != "a,b\nc,d\n" {
		t.Errorf("payload = %q", raw)
	}

	messages := queue.Messages("ready")
	if len(messages) != 1 {
		t.Fatalf("ready queue has %d messages, want 1", len(messages))
	}
	info := decodeMessage(t, messages[0])
	if info.ID != id.String() {
		t.Errorf("Id = %q", info.ID)
	}
	if info.DatabaseName != "db" || info.TableName != "events" {
		t.Errorf("destination = %s/%s", info.DatabaseName, info.TableName)
	}
	if info.RawDataSize != int64(len("a,b\nc,d\n")) {
		t.Errorf("RawDataSize = %d, want raw byte count", info.RawDataSize)
	}
	if !info.FlushImmediately || !info.RetainBlobOnSuccess {
		t.Errorf("flags = %+v", info)
	}
	if !strings.Contains(info.BlobPath, wantName) {
		t.Errorf("BlobPath = %q", info.BlobPath)
	}
	if info.AdditionalProperties["authorizationContext"] != "auth-ctx" {
		t.Errorf("additional properties = %v", info.AdditionalProperties)
	}
	if info.AdditionalProperties["format"] != "csv" {
		t.Errorf("format = %q", info.AdditionalProperties["format"])
	}
}

func TestQueuedClient_IngestStream_AlreadyCompressed(t *testing.T) {
	var compressed bytes.Buffer
	gz := gzip.NewWriter(&compressed)
	io.WriteString(gz, "payload")
	gz.Close()

	store := NewMemoryBlobStore()
	c := NewQueuedClient(testResources(), store, NewMemoryQueue())
	src := &StreamSource{Reader: bytes.NewReader(compressed.Bytes()), Name: "data.csv.gz", Compressed: true}

	if err := c.IngestStream(context.Background(), src, &Properties{Database: "db", Table: "t"}); err != nil {
		t.Fatal(err)
	}

	name := "db__t__" + src.SourceID.String() + "__data.csv.gz"
	staged := mustBlob(t, store, "tmp", name)
	// Uploaded verbatim, no double compression.
	if !bytes.Equal(staged, compressed.Bytes()) {
		t.Error("pre-compressed payload was modified")
	}
}

func TestQueuedClient_IngestStream_BinaryFormatNotCompressed(t *testing.T) {
	store := NewMemoryBlobStore()
	c := NewQueuedClient(testResources(), store, NewMemoryQueue())
	src := &StreamSource{Reader: strings.NewReader("PAR1...."), Name: "data.parquet"}

	if err := c.IngestStream(context.Background(), src, &Properties{Database: "db", Table: "t", Format: Parquet}); err != nil {
		t.Fatal(err)
	}

	name := "db__t__" + src.SourceID.String() + "__data.parquet"
	staged := mustBlob(t, store, "tmp", name)
	if string(staged) != "PAR1...." {
		t.Error("binary payload was modified")
	}
}

// failingBlobStore reads a little of the payload, then fails the upload,
// the way a storage client behaves when the connection drops mid-transfer.
type failingBlobStore struct{}

func (failingBlobStore) Upload(_ context.Context, _ ResourceURI, _ string, r io.Reader) (string, error) {
	io.ReadFull(r, make([]byte, 16))
	return "", errors.New("storage unavailable")
}

func TestQueuedClient_IngestStream_UploadFailureReleasesCompressor(t *testing.T) {
	before := runtime.NumGoroutine()

	c := NewQueuedClient(testResources(), failingBlobStore{}, NewMemoryQueue())
	props := &Properties{Database: "db", Table: "t", Format: CSV}
	for i := 0; i < 10; i++ {
		src := &StreamSource{Reader: strings.NewReader(strings.Repeat("a,b\n", 4096)), Name: "data.csv"}
		if err := c.IngestStream(context.Background(), src, props); err == nil {
			t.Fatal("expected the upload error")
		}
	}

	waitForGoroutines(t, before)
}

// waitForGoroutines polls until the goroutine count drops back to the
// baseline, catching compressor goroutines stuck on an abandoned pipe.
func waitForGoroutines(t *testing.T, baseline int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if runtime.NumGoroutine() <= baseline {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("%d goroutines still running, want %d", runtime.NumGoroutine(), baseline)
}

func TestQueuedClient_IngestBlob(t *testing.T) {
	queue := NewMemoryQueue()
	c := NewQueuedClient(testResources(), NewMemoryBlobStore(), queue)

	blob := &BlobSource{Path: "https://store.example.com/tmp/blob-1?sig=x", Size: 1234}
	props := &Properties{
		Database:          "db",
		Table:             "events",
		Format:            JSON,
		MappingReference:  "mapping-1",
		Tags:              []string{"tag-a"},
		IngestIfNotExists: []string{"tag-a"},
		ReportLevel:       FailuresAndSuccesses,
		ReportMethod:      ReportToTable,
	}
	if err := c.IngestBlob(context.Background(), blob, props); err != nil {
		t.Fatal(err)
	}
	if blob.SourceID == uuid.Nil {
		t.Error("a zero SourceID should be assigned")
	}

	messages := queue.Messages("ready")
	if len(messages) != 1 {
		t.Fatalf("ready queue has %d messages, want 1", len(messages))
	}
	info := decodeMessage(t, messages[0])
	if info.BlobPath != blob.Path || info.RawDataSize != 1234 {
		t.Errorf("message = %+v", info)
	}
	if info.ReportLevel != int(FailuresAndSuccesses) || info.ReportMethod != int(ReportToTable) {
		t.Errorf("report settings = %d/%d", info.ReportLevel, info.ReportMethod)
	}
	extra := info.AdditionalProperties
	if extra["ingestionMappingReference"] != "mapping-1" || extra["format"] != "json" {
		t.Errorf("additional properties = %v", extra)
	}
	if extra["tags"] != `["tag-a"]` || extra["ingestIfNotExists"] != `["tag-a"]` {
		t.Errorf("tag encoding = %v", extra)
	}
	if info.SourceMessageCreationTime == "" {
		t.Error("SourceMessageCreationTime must be set")
	}
}
