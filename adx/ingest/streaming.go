package ingest

import (
	"context"
	"io"

	"github.com/google/uuid"

	"github.com/justapithecus/adx/adx"
)

// streamIngestor is the slice of the query client streaming ingestion
// needs. *adx.Client satisfies it.
type streamIngestor interface {
	StreamingIngest(ctx context.Context, database, table string, payload io.Reader, format string, opts adx.StreamingIngestOptions) error
}

// StreamingClient ingests payloads directly through the streaming
// endpoint. It is the low-latency path: no staging, no queueing, but
// payloads are size-limited and failures are the caller's to retry (or
// use ManagedClient, which does both).
type StreamingClient struct {
	client streamIngestor
}

func NewStreamingClient(client *adx.Client) *StreamingClient {
	return &StreamingClient{client: client}
}

// IngestStream pushes the payload through the streaming endpoint.
func (c *StreamingClient) IngestStream(ctx context.Context, src *StreamSource, props *Properties) error {
	src.ensureID()
	return c.IngestStreamWithID(ctx, src, props, "ADX.executeStreamingIngest;"+uuid.NewString())
}

// IngestStreamWithID is IngestStream with a caller-supplied
// client-request-id, used by the managed client to encode the attempt
// number into each try.
func (c *StreamingClient) IngestStreamWithID(ctx context.Context, src *StreamSource, props *Properties, requestID string) error {
	src.ensureID()

	var payload io.Reader = src.Reader
	compress := props.format().Compressible() && !src.Compressed
	if compress {
		pr := gzipPipe(payload)
		// An aborted request can stop reading mid-payload; closing the
		// pipe unblocks the compressor goroutine.
		defer pr.Close()
		payload = pr
	}

	return c.client.StreamingIngest(ctx, props.Database, props.Table, payload, string(props.format()), adx.StreamingIngestOptions{
		MappingName:     props.MappingReference,
		Compressed:      src.Compressed || compress,
		ClientRequestID: requestID,
	})
}
