package ingest

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// StreamSource is an in-process payload to ingest.
type StreamSource struct {
	// Reader supplies the payload bytes. The ingest clients consume it to
	// EOF; closing it stays with the caller.
	Reader io.Reader

	// Name is a human-readable label used when naming staged blobs. May
	// be empty.
	Name string

	// SourceID correlates this payload across retries, queue messages and
	// status reports. A zero value gets a fresh ID assigned.
	SourceID uuid.UUID

	// Compressed marks the payload as already gzip-compressed.
	Compressed bool
}

// ensureID populates a zero SourceID.
func (s *StreamSource) ensureID() {
	if s.SourceID == uuid.Nil {
		s.SourceID = uuid.New()
	}
}

// FromFile opens a file as a stream source. Files ending in .gz are taken
// to be gzip-compressed. The returned closer is the caller's to release.
func FromFile(path string) (*StreamSource, io.Closer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	src := &StreamSource{
		Reader:     f,
		Name:       filepath.Base(path),
		SourceID:   uuid.New(),
		Compressed: strings.HasSuffix(path, ".gz"),
	}
	return src, f, nil
}

// BlobSource is a payload already staged in blob storage.
type BlobSource struct {
	// Path is the full blob URL, including any access credential.
	Path string

	// Size is the raw (uncompressed) payload size in bytes when known.
	// Zero lets the service discover it, at an efficiency cost.
	Size int64

	// SourceID correlates the blob across queue messages and status
	// reports. A zero value gets a fresh ID assigned.
	SourceID uuid.UUID
}

func (b *BlobSource) ensureID() {
	if b.SourceID == uuid.Nil {
		b.SourceID = uuid.New()
	}
}
