package adx

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// -----------------------------------------------------------------------------
// Client
// -----------------------------------------------------------------------------

// TokenProvider supplies bearer tokens for service requests. Implementations
// are expected to cache and refresh internally.
type TokenProvider interface {
	AcquireToken(ctx context.Context) (string, error)
}

// Client talks to one query/ingestion endpoint. The zero value is not
// usable; construct with NewClient.
type Client struct {
	endpoint string
	httpc    *http.Client
	auth     TokenProvider
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the transport. Useful for tests and for callers
// with pooling or proxy requirements.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) { cl.httpc = c }
}

// WithTokenProvider attaches bearer-token authentication.
func WithTokenProvider(tp TokenProvider) ClientOption {
	return func(cl *Client) { cl.auth = tp }
}

// NewClient builds a client for the given endpoint, e.g.
// "https://cluster.region.kusto.windows.net".
func NewClient(endpoint string, opts ...ClientOption) *Client {
	c := &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		httpc:    &http.Client{Timeout: 4 * time.Minute},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// queryRequestID mints the client-request-id for one query call.
func queryRequestID() string {
	return "ADX.execute;" + uuid.NewString()
}

// QueryStreaming runs a query and returns its framed response as a
// progressive Dataset. The caller owns the data set and must Close it.
func (c *Client) QueryStreaming(ctx context.Context, database, query string) (*Dataset, error) {
	body, err := jsonAPI.Marshal(map[string]string{"db": database, "csl": query})
	if err != nil {
		return nil, err
	}
	resp, err := c.post(ctx, c.endpoint+"/v2/rest/query", "application/json", bytes.NewReader(body), queryRequestID(), nil)
	if err != nil {
		return nil, err
	}
	ds, err := NewDataset(resp.Body, withCloser(resp.Body))
	if err != nil {
		resp.Body.Close()
		return nil, err
	}
	return ds, nil
}

// Mgmt runs a management command and returns its first result table
// materialized. Management responses use the unframed v1 format and are
// small enough to buffer.
func (c *Client) Mgmt(ctx context.Context, database, command string) (*Table, error) {
	body, err := jsonAPI.Marshal(map[string]string{"db": database, "csl": command})
	if err != nil {
		return nil, err
	}
	resp, err := c.post(ctx, c.endpoint+"/v1/rest/mgmt", "application/json", bytes.NewReader(body), queryRequestID(), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return parseV1Response(resp.Body)
}

// StreamingIngestOptions carries the optional knobs of a streaming ingest
// call.
type StreamingIngestOptions struct {
	// MappingName selects a pre-created ingestion mapping.
	MappingName string

	// Compressed marks the payload as gzip-compressed.
	Compressed bool

	// ClientRequestID overrides the generated client-request-id.
	ClientRequestID string
}

// StreamingIngest pushes a payload straight into a table through the
// streaming ingestion endpoint.
func (c *Client) StreamingIngest(ctx context.Context, database, table string, payload io.Reader, format string, opts StreamingIngestOptions) error {
	u := fmt.Sprintf("%s/v1/rest/ingest/%s/%s?streamFormat=%s",
		c.endpoint, url.PathEscape(database), url.PathEscape(table), url.QueryEscape(format))
	if opts.MappingName != "" {
		u += "&mappingName=" + url.QueryEscape(opts.MappingName)
	}

	requestID := opts.ClientRequestID
	if requestID == "" {
		requestID = "ADX.executeStreamingIngest;" + uuid.NewString()
	}
	headers := http.Header{}
	if opts.Compressed {
		headers.Set("Content-Encoding", "gzip")
	}

	resp, err := c.post(ctx, u, "application/octet-stream", payload, requestID, headers)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// post issues one request and turns non-success statuses into HTTPErrors.
// The response body is only returned for success statuses.
func (c *Client) post(ctx context.Context, u, contentType string, body io.Reader, requestID string, extra http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-ms-client-request-id", requestID)
	for k, vs := range extra {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if c.auth != nil {
		token, err := c.auth.AcquireToken(ctx)
		if err != nil {
			return nil, fmt.Errorf("acquire token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()
	return nil, newHTTPError(resp)
}

// newHTTPError reads a failed response's body and extracts the structured
// error object when one is present.
func newHTTPError(resp *http.Response) *HTTPError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	he := &HTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	var envelope map[string]any
	if err := jsonAPI.Unmarshal(raw, &envelope); err == nil {
		if inner, ok := envelope["error"].(map[string]any); ok {
			he.Api = oneApiErrorFromMap(inner)
		}
	}
	return he
}

// -----------------------------------------------------------------------------
// v1 response parsing
// -----------------------------------------------------------------------------

// v1Response is the unframed management response shape.
type v1Response struct {
	Tables []struct {
		TableName string
		Columns   []struct {
			ColumnName string
			ColumnType string
			DataType   string
		}
		Rows [][]any
	}
}

func parseV1Response(r io.Reader) (*Table, error) {
	var resp v1Response
	dec := jsonAPI.NewDecoder(r)
	dec.UseNumber()
	if err := dec.Decode(&resp); err != nil {
		return nil, &ParseError{Msg: "malformed v1 response", Err: err}
	}
	if len(resp.Tables) == 0 {
		return nil, parseErrorf("v1 response carried no tables")
	}

	first := resp.Tables[0]
	columns := make([]Column, len(first.Columns))
	for i, col := range first.Columns {
		typ := col.ColumnType
		if typ == "" {
			typ = strings.ToLower(col.DataType)
		}
		columns[i] = Column{Name: col.ColumnName, Type: typ}
	}
	header := tableHeader{kind: PrimaryResult, name: first.TableName, columns: columns}
	return newTable(header, first.Rows)
}
