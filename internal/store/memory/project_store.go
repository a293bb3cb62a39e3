// Package memory provides an in-memory project store for development and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/site-thumbnailer/internal/thumbnail"
)

// ProjectStore keeps projects in a map.
type ProjectStore struct {
	mu       sync.RWMutex
	projects map[string]thumbnail.Project
	now      func() time.Time
}

// NewProjectStore seeds a store with projects.
func NewProjectStore(projects ...thumbnail.Project) *ProjectStore {
	s := &ProjectStore{
		projects: make(map[string]thumbnail.Project, len(projects)),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, p := range projects {
		s.projects[p.ID] = p
	}
	return s
}

// Put inserts or replaces a project.
func (s *ProjectStore) Put(p thumbnail.Project) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[p.ID] = p
}

// GetProject returns the project or thumbnail.ErrNotFound.
func (s *ProjectStore) GetProject(_ context.Context, id string) (thumbnail.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[id]
	if !ok {
		return thumbnail.Project{}, thumbnail.ErrNotFound
	}
	return p, nil
}

// SetThumbnailURL overwrites the project's thumbnail reference.
func (s *ProjectStore) SetThumbnailURL(_ context.Context, id string, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return thumbnail.ErrNotFound
	}
	p.ThumbnailURL = url
	p.UpdatedAt = s.now()
	s.projects[id] = p
	return nil
}

// Ping always succeeds.
func (s *ProjectStore) Ping(context.Context) error {
	return nil
}

// IDs returns all project IDs in sorted order.
func (s *ProjectStore) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.projects))
	for id := range s.projects {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
