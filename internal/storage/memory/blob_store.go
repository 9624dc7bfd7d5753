// Package memory keeps pipeline records and artifacts in process memory.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/JakeFAU/agentic-reviewer/internal/pipeline"
)

// BlobStore stores artifacts in-memory and returns pseudo URIs.
type BlobStore struct {
	mu    sync.RWMutex
	data  map[string][]byte
	types map[string]string
}

// NewBlobStore creates a new in-memory blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{
		data:  make(map[string][]byte),
		types: make(map[string]string),
	}
}

// PutObject stores a copy of data under key and returns a memory:// URI.
func (s *BlobStore) PutObject(_ context.Context, key string, contentType string, data []byte) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("key is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = append([]byte(nil), data...)
	s.types[key] = contentType
	return "memory://" + key, nil
}

// GetObject returns a copy of the bytes stored under key.
func (s *BlobStore) GetObject(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[key]
	if !ok {
		return nil, fmt.Errorf("object %q: %w", key, pipeline.ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}

// ContentType reports the content type recorded for key.
func (s *BlobStore) ContentType(key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.types[key]
}

// Keys lists stored keys.
func (s *BlobStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	return keys
}
