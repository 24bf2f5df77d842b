package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/justapithecus/adx/adx"
)

// MaxStreamingSize is the largest payload the streaming endpoint accepts.
// Larger payloads are routed to the queued path without an attempt.
const MaxStreamingSize = 4 * 1024 * 1024

// streamingAttempts bounds streaming tries before falling back to the
// queued path.
const streamingAttempts = 3

// streamingRejectedType is the server-side exception type meaning the
// streaming endpoint refused the request outright (e.g. streaming
// ingestion disabled on the table). It is flagged permanent on the wire,
// but the queued path can still succeed, so it triggers fallback instead
// of propagating.
const streamingRejectedType = "Kusto.DataNode.Exceptions.StreamingIngestionRequestException"

// DirectIngestor is the streaming side of the managed client.
// *StreamingClient satisfies it.
type DirectIngestor interface {
	IngestStreamWithID(ctx context.Context, src *StreamSource, props *Properties, requestID string) error
}

// QueueIngestor is the durable side of the managed client. *QueuedClient
// satisfies it.
type QueueIngestor interface {
	IngestStream(ctx context.Context, src *StreamSource, props *Properties) error
	IngestBlob(ctx context.Context, blob *BlobSource, props *Properties) error
}

// ResultKind says which path an ingestion ultimately took.
type ResultKind string

const (
	Streamed ResultKind = "Streamed"
	Queued   ResultKind = "Queued"
)

// Result reports the outcome of one managed ingestion.
type Result struct {
	// Kind is the path that accepted the payload.
	Kind ResultKind

	// Reason explains a queued fallback. Empty when streamed.
	Reason string

	// SourceID is the payload's correlation id.
	SourceID uuid.UUID
}

// ManagedClient routes ingestions between the streaming and queued paths:
// small payloads are streamed with bounded retries, oversized payloads and
// exhausted or rejected streams fall back to the durable queued path.
type ManagedClient struct {
	direct DirectIngestor
	queued QueueIngestor
	log    *zap.Logger

	baseDelay time.Duration
	maxJitter time.Duration

	// newRetry is swappable for tests that must not sleep.
	newRetry func() *retry
}

// ManagedOption configures a ManagedClient.
type ManagedOption func(*ManagedClient)

// WithManagedLogger attaches a structured logger. The default discards
// logs.
func WithManagedLogger(log *zap.Logger) ManagedOption {
	return func(c *ManagedClient) { c.log = log }
}

// WithBackoff overrides the streaming retry backoff parameters.
func WithBackoff(baseDelay, maxJitter time.Duration) ManagedOption {
	return func(c *ManagedClient) {
		c.baseDelay = baseDelay
		c.maxJitter = maxJitter
	}
}

func NewManagedClient(direct DirectIngestor, queued QueueIngestor, opts ...ManagedOption) *ManagedClient {
	c := &ManagedClient{
		direct:    direct,
		queued:    queued,
		log:       zap.NewNop(),
		baseDelay: time.Second,
		maxJitter: time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.newRetry == nil {
		c.newRetry = func() *retry { return newRetry(streamingAttempts, c.baseDelay, c.maxJitter) }
	}
	return c
}

// IngestStream ingests the payload, streaming when possible and falling
// back to the queued path when it is not.
func (c *ManagedClient) IngestStream(ctx context.Context, src *StreamSource, props *Properties) (*Result, error) {
	src.ensureID()

	// Probe one byte past the limit so routing never buffers more than
	// the streaming path would accept anyway.
	probe := make([]byte, MaxStreamingSize+1)
	n, err := io.ReadFull(src.Reader, probe)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, err
	}
	if n > MaxStreamingSize {
		rest := src.Reader
		oversize := &StreamSource{
			Reader:     io.MultiReader(bytes.NewReader(probe[:n]), rest),
			Name:       src.Name,
			SourceID:   src.SourceID,
			Compressed: src.Compressed,
		}
		c.log.Info("payload exceeds streaming limit, using queued path",
			zap.String("source_id", src.SourceID.String()))
		if err := c.queued.IngestStream(ctx, oversize, props); err != nil {
			return nil, err
		}
		return &Result{Kind: Queued, Reason: "payload exceeds the streaming size limit", SourceID: src.SourceID}, nil
	}
	buf := probe[:n]

	r := c.newRetry()
	var lastErr error
	for r.more() {
		attempt := r.attempt
		attemptSrc := &StreamSource{
			Reader:     bytes.NewReader(buf),
			Name:       src.Name,
			SourceID:   src.SourceID,
			Compressed: src.Compressed,
		}
		requestID := fmt.Sprintf("ADX.executeManagedStreamingIngest;%s;%d", src.SourceID, attempt)

		err := c.direct.IngestStreamWithID(ctx, attemptSrc, props, requestID)
		if err == nil {
			return &Result{Kind: Streamed, SourceID: src.SourceID}, nil
		}
		lastErr = err

		switch classify(err) {
		case verdictPropagate:
			return nil, err
		case verdictFallback:
			c.log.Warn("streaming ingestion rejected, using queued path",
				zap.String("source_id", src.SourceID.String()),
				zap.Error(err))
			return c.fallback(ctx, buf, src, props, "streaming ingestion was rejected by the service")
		}

		c.log.Debug("streaming ingestion attempt failed",
			zap.String("source_id", src.SourceID.String()),
			zap.Int("attempt", attempt),
			zap.Error(err))
		if err := r.backoff(ctx); err != nil {
			return nil, err
		}
	}

	c.log.Warn("streaming ingestion attempts exhausted, using queued path",
		zap.String("source_id", src.SourceID.String()),
		zap.Error(lastErr))
	return c.fallback(ctx, buf, src, props, "streaming ingestion attempts were exhausted")
}

// IngestBlob ingests an already staged blob. Blobs always take the queued
// path.
func (c *ManagedClient) IngestBlob(ctx context.Context, blob *BlobSource, props *Properties) (*Result, error) {
	blob.ensureID()
	if err := c.queued.IngestBlob(ctx, blob, props); err != nil {
		return nil, err
	}
	return &Result{Kind: Queued, SourceID: blob.SourceID}, nil
}

func (c *ManagedClient) fallback(ctx context.Context, buf []byte, src *StreamSource, props *Properties, reason string) (*Result, error) {
	fallbackSrc := &StreamSource{
		Reader:     bytes.NewReader(buf),
		Name:       src.Name,
		SourceID:   src.SourceID,
		Compressed: src.Compressed,
	}
	if err := c.queued.IngestStream(ctx, fallbackSrc, props); err != nil {
		return nil, err
	}
	return &Result{Kind: Queued, Reason: reason, SourceID: src.SourceID}, nil
}

// -----------------------------------------------------------------------------
// Failure classification
// -----------------------------------------------------------------------------

type verdict int

const (
	verdictRetry verdict = iota
	verdictFallback
	verdictPropagate
)

// classify decides what a failed streaming attempt means: cancellations
// propagate, permanent failures propagate unless the streaming endpoint
// itself rejected the request, and everything else is assumed transient.
func classify(err error) verdict {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return verdictPropagate
	}

	var he *adx.HTTPError
	if errors.As(err, &he) && he.Permanent() {
		if he.Api != nil && he.Api.Type == streamingRejectedType {
			return verdictFallback
		}
		return verdictPropagate
	}

	var se *adx.ServiceError
	if errors.As(err, &se) && se.Permanent() {
		for _, oe := range se.Errors {
			if oe.Type == streamingRejectedType {
				return verdictFallback
			}
		}
		return verdictPropagate
	}

	return verdictRetry
}
