package ingest

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"time"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"
)

// BlobStore stages payloads into a storage container and returns the
// blob's addressable URL. Implementations live in subpackages (see
// s3blob).
type BlobStore interface {
	Upload(ctx context.Context, container ResourceURI, name string, r io.Reader) (string, error)
}

// Queue posts messages to a service-provided queue resource.
type Queue interface {
	Enqueue(ctx context.Context, queue ResourceURI, message string) error
}

// ResourceProvider hands out ingestion resources and the authorization
// context. *ResourceManager satisfies it.
type ResourceProvider interface {
	IngestionResources(ctx context.Context) (*ResourceSet, error)
	AuthContext(ctx context.Context) (string, error)
}

// QueuedClient ingests through the durable path: payloads are staged as
// blobs, then announced to the service on a ready queue. It is the
// fallback target of the managed client and usable on its own for bulk
// loads.
type QueuedClient struct {
	resources ResourceProvider
	store     BlobStore
	queue     Queue
	log       *zap.Logger

	// pick selects an element of an n-long resource list; swappable for
	// deterministic tests.
	pick func(n int) int
	now  func() time.Time
}

// QueuedOption configures a QueuedClient.
type QueuedOption func(*QueuedClient)

// WithLogger attaches a structured logger. The default discards logs.
func WithLogger(log *zap.Logger) QueuedOption {
	return func(c *QueuedClient) { c.log = log }
}

func NewQueuedClient(rm ResourceProvider, store BlobStore, queue Queue, opts ...QueuedOption) *QueuedClient {
	c := &QueuedClient{
		resources: rm,
		store:     store,
		queue:     queue,
		log:       zap.NewNop(),
		pick:      rand.Intn,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IngestStream stages the payload as a blob and ingests it through the
// queued path. Compressible payloads are gzip-wrapped in transit.
func (c *QueuedClient) IngestStream(ctx context.Context, src *StreamSource, props *Properties) error {
	src.ensureID()

	set, err := c.resources.IngestionResources(ctx)
	if err != nil {
		return err
	}
	container := set.Containers[c.pick(len(set.Containers))]

	compress := props.format().Compressible() && !src.Compressed
	name := blobName(props, src.SourceID.String(), src.Name, src.Compressed || compress)

	counter := &countingReader{r: src.Reader}
	var payload io.Reader = counter
	if compress {
		pr := gzipPipe(counter)
		// A failed upload can stop reading mid-payload; closing the pipe
		// unblocks the compressor goroutine.
		defer pr.Close()
		payload = pr
	}

	blobURL, err := c.store.Upload(ctx, container, name, payload)
	if err != nil {
		return fmt.Errorf("stage blob: %w", err)
	}
	c.log.Debug("staged ingestion blob",
		zap.String("blob", name),
		zap.String("container", container.ObjectName),
		zap.Int64("raw_bytes", counter.n))

	blob := &BlobSource{Path: blobURL, SourceID: src.SourceID}
	if !src.Compressed {
		blob.Size = counter.n
	}
	return c.IngestBlob(ctx, blob, props)
}

// IngestBlob announces an already staged blob on a ready queue.
func (c *QueuedClient) IngestBlob(ctx context.Context, blob *BlobSource, props *Properties) error {
	blob.ensureID()

	set, err := c.resources.IngestionResources(ctx)
	if err != nil {
		return err
	}
	authContext, err := c.resources.AuthContext(ctx)
	if err != nil {
		return err
	}

	info, err := newBlobInfo(blob, props, authContext, c.now())
	if err != nil {
		return err
	}
	msg, err := info.encode()
	if err != nil {
		return err
	}

	queue := set.ReadyQueues[c.pick(len(set.ReadyQueues))]
	if err := c.queue.Enqueue(ctx, queue, msg); err != nil {
		return fmt.Errorf("enqueue ingestion message: %w", err)
	}
	c.log.Info("queued ingestion",
		zap.String("database", props.Database),
		zap.String("table", props.Table),
		zap.String("source_id", blob.SourceID.String()),
		zap.String("queue", queue.ObjectName))
	return nil
}

// blobName builds the staged blob's name: destination, source id and the
// original payload name, joined so operators can trace a blob back to its
// ingestion.
func blobName(props *Properties, sourceID, original string, compressed bool) string {
	if original == "" {
		original = string(props.format())
	}
	name := fmt.Sprintf("%s__%s__%s__%s", props.Database, props.Table, sourceID, original)
	if compressed && !hasGzSuffix(name) {
		name += ".gz"
	}
	return name
}

func hasGzSuffix(s string) bool {
	return len(s) > 3 && s[len(s)-3:] == ".gz"
}

// gzipPipe compresses r through an in-flight pipe so the payload is never
// buffered whole. The caller must close the returned reader once done with
// it, or the compressor goroutine stays blocked on an abandoned pipe.
func gzipPipe(r io.Reader) *io.PipeReader {
	pr, pw := io.Pipe()
	go func() {
		gz := gzip.NewWriter(pw)
		_, err := io.Copy(gz, r)
		if cerr := gz.Close(); err == nil {
			err = cerr
		}
		pw.CloseWithError(err)
	}()
	return pr
}

// countingReader counts raw payload bytes as they pass through, so the
// queue message can carry the uncompressed size.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
