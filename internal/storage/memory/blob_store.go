// Package memory stores thumbnails in-memory for development and tests.
package memory

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

// Object is a stored blob and its metadata.
type Object struct {
	Data        []byte
	ContentType string
	Updated     time.Time
}

// BlobStore stores artifacts in-memory and serves pseudo public URLs.
type BlobStore struct {
	mu      sync.RWMutex
	objects map[string]Object
	// urlPrefix is joined directly with the key.
	urlPrefix string
	now       func() time.Time
}

// NewBlobStore creates a new in-memory blob store whose URLs start with baseURL.
// An empty baseURL or a bare scheme such as "memory://" yields "memory://{key}".
func NewBlobStore(baseURL string) *BlobStore {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = "memory:"
	}
	prefix := base + "/"
	if strings.HasSuffix(base, ":") {
		prefix = base + "//"
	}
	return &BlobStore{
		objects:   make(map[string]Object),
		urlPrefix: prefix,
		now:       time.Now,
	}
}

// PutObject persists a copy of the content under key, replacing any previous value.
func (s *BlobStore) PutObject(_ context.Context, key string, contentType string, data io.Reader) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("key is required")
	}
	byteData, err := io.ReadAll(data)
	if err != nil {
		return fmt.Errorf("failed to read data from reader: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = Object{Data: append([]byte(nil), byteData...), ContentType: contentType, Updated: s.now()}
	return nil
}

// PublicURL returns the URL for an existing key.
func (s *BlobStore) PublicURL(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.objects[key]; !ok {
		return "", fmt.Errorf("object %s not found", key)
	}
	return s.urlPrefix + key, nil
}

// ModTime returns when key was last written.
func (s *BlobStore) ModTime(_ context.Context, key string) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return time.Time{}, fmt.Errorf("object %s not found", key)
	}
	return obj.Updated, nil
}

// DeleteObject removes key if present.
func (s *BlobStore) DeleteObject(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

// ListObjects returns the sorted keys under prefix.
func (s *BlobStore) ListObjects(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for k := range s.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Object returns a copy of the stored object.
func (s *BlobStore) Object(key string) (Object, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return Object{}, false
	}
	obj.Data = append([]byte(nil), obj.Data...)
	return obj, true
}

// Len reports how many objects are stored.
func (s *BlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
