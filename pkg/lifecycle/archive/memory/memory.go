// Package memory is an in-memory archive.BlobStore.
package memory

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/tendant/simple-lifecycle/pkg/lifecycle/archive"
)

// Backend is an in-memory implementation of the archive.BlobStore interface
type Backend struct {
	mu           sync.RWMutex
	objects      map[string][]byte
	contentTypes map[string]string
}

// New creates a new in-memory storage backend
func New() *Backend {
	return &Backend{
		objects:      make(map[string][]byte),
		contentTypes: make(map[string]string),
	}
}

// Upload stores the reader's content under key
func (b *Backend) Upload(ctx context.Context, key string, reader io.Reader, contentType string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.objects[key] = data
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	b.contentTypes[key] = contentType
	return nil
}

// Download returns the object stored under key
func (b *Backend) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	data, exists := b.objects[key]
	if !exists {
		return nil, archive.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Delete removes the object stored under key
func (b *Backend) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.objects[key]; !exists {
		return archive.ErrObjectNotFound
	}
	delete(b.objects, key)
	delete(b.contentTypes, key)
	return nil
}

// List returns keys with the given prefix in lexical order
func (b *Backend) List(ctx context.Context, prefix string) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var keys []string
	for key := range b.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// ContentType reports the content type recorded for key
func (b *Backend) ContentType(key string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ct, ok := b.contentTypes[key]
	return ct, ok
}

var _ archive.BlobStore = (*Backend)(nil)
