package ingest

import (
	"context"
	"io"
	"sync"
)

// MemoryBlobStore implements BlobStore in memory, keyed by
// "<container>/<blob name>". Safe for concurrent use. Intended for tests
// and local development.
type MemoryBlobStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{blobs: make(map[string][]byte)}
}

func (s *MemoryBlobStore) Upload(_ context.Context, container ResourceURI, name string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[container.ObjectName+"/"+name] = data
	return container.AccountURI + "/" + container.ObjectName + "/" + name, nil
}

// Blob returns a stored payload and whether it exists.
func (s *MemoryBlobStore) Blob(container, name string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.blobs[container+"/"+name]
	return data, ok
}

// Names returns the stored blob keys in no particular order.
func (s *MemoryBlobStore) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.blobs))
	for k := range s.blobs {
		names = append(names, k)
	}
	return names
}

// MemoryQueue implements Queue in memory, keyed by queue object name.
// Safe for concurrent use. Intended for tests and local development.
type MemoryQueue struct {
	mu       sync.Mutex
	messages map[string][]string
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{messages: make(map[string][]string)}
}

func (q *MemoryQueue) Enqueue(_ context.Context, queue ResourceURI, message string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.messages[queue.ObjectName] = append(q.messages[queue.ObjectName], message)
	return nil
}

// Messages returns the messages posted to the named queue.
func (q *MemoryQueue) Messages(queue string) []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.messages[queue]...)
}
