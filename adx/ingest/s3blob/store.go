// Package s3blob stages ingestion payloads in S3-compatible object
// storage, for deployments whose temp-storage resources are S3 buckets.
package s3blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/justapithecus/adx/adx/ingest"
)

// API is the slice of the S3 client the store uses. Satisfied by
// *s3.Client and easily faked in tests.
type API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Store implements ingest.BlobStore over an S3-compatible endpoint. The
// container resource's object name is taken as the bucket.
type Store struct {
	client API
}

func New(client API) *Store {
	return &Store{client: client}
}

var _ ingest.BlobStore = (*Store)(nil)

// Upload writes the payload under name into the container's bucket and
// returns the blob URL the ingestion service should read it from.
func (s *Store) Upload(ctx context.Context, container ingest.ResourceURI, name string, r io.Reader) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(container.ObjectName),
		Key:    aws.String(name),
		Body:   r,
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("s3blob: put %s/%s: %s: %w", container.ObjectName, name, apiErr.ErrorCode(), err)
		}
		return "", fmt.Errorf("s3blob: put %s/%s: %w", container.ObjectName, name, err)
	}
	return blobURL(container, name), nil
}

// blobURL appends the blob name to the container URL, keeping any access
// credential in the query string.
func blobURL(container ingest.ResourceURI, name string) string {
	base := container.URL
	query := ""
	if i := strings.IndexByte(base, '?'); i >= 0 {
		base, query = base[:i], base[i:]
	}
	return strings.TrimRight(base, "/") + "/" + name + query
}
