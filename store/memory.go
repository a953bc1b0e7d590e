package store

import (
	"context"
	"fmt"
	"sync"

	"tripboard/metrics"
	"tripboard/models"
)

// MemoryStore keeps the document for the life of the process only.
type MemoryStore struct {
	opts Options

	mu     sync.Mutex
	doc    models.TripData
	loaded bool
}

func NewMemoryStore(opts Options) *MemoryStore {
	return &MemoryStore{opts: opts.withDefaults()}
}

func (s *MemoryStore) Name() string { return "memory" }

func (s *MemoryStore) Close() error { return nil }

// Reset drops the document; the next call re-seeds it.
func (s *MemoryStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc = models.TripData{}
	s.loaded = false
}

func (s *MemoryStore) ensureLocked() {
	if !s.loaded {
		s.doc = s.opts.seed()
		s.loaded = true
	}
}

func (s *MemoryStore) Read(ctx context.Context) (models.TripData, error) {
	if err := ctx.Err(); err != nil {
		return models.TripData{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLocked()
	metrics.ObserveStore(s.Name(), "read", nil)
	return s.doc.Clone(), nil
}

func (s *MemoryStore) Write(ctx context.Context, doc models.TripData) (models.TripData, error) {
	return s.write(ctx, doc, nil)
}

func (s *MemoryStore) WriteIfUnchanged(ctx context.Context, doc models.TripData, expected string) (models.TripData, error) {
	return s.write(ctx, doc, &expected)
}

func (s *MemoryStore) write(ctx context.Context, doc models.TripData, expected *string) (models.TripData, error) {
	if err := ctx.Err(); err != nil {
		return models.TripData{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLocked()
	if expected != nil && *expected != s.doc.LastUpdated {
		return models.TripData{}, ErrConflict
	}
	next := models.Stamp(doc.Clone(), s.doc, s.opts.Now())
	s.doc = next.Clone()
	metrics.ObserveStore(s.Name(), "write", nil)
	return next, nil
}

func (s *MemoryStore) LastUpdated(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLocked()
	return s.doc.LastUpdated, nil
}
