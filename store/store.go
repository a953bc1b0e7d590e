// Package store persists the single shared TripData document.
//
// Every backend has last-writer-wins semantics: Write replaces the whole
// document, stamps lastUpdated and never merges. WriteIfUnchanged is an
// opt-in compare-and-swap on lastUpdated for callers that want to detect a
// concurrent save instead of clobbering it.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"tripboard/logging"
	"tripboard/models"
)

var (
	// ErrUnavailable wraps any failure of the backing storage.
	ErrUnavailable = errors.New("store unavailable")
	// ErrConflict is returned by WriteIfUnchanged when lastUpdated moved.
	ErrConflict = errors.New("document changed since it was read")
)

type Store interface {
	// Read returns the current document with every top-level field filled.
	// The first Read on empty storage persists the seed document.
	Read(ctx context.Context) (models.TripData, error)
	// Write stamps lastUpdated, persists doc and returns what was stored.
	Write(ctx context.Context, doc models.TripData) (models.TripData, error)
	// WriteIfUnchanged is Write guarded by the caller's last known stamp.
	WriteIfUnchanged(ctx context.Context, doc models.TripData, expected string) (models.TripData, error)
	// LastUpdated is the cheap version lookup used for change detection.
	LastUpdated(ctx context.Context) (string, error)
	Name() string
	Close() error
}

// Options are shared by every backend.
type Options struct {
	// Seed is stored on first read of empty storage. Nil means models.Default.
	Seed   *models.TripData
	Now    func() time.Time
	Logger *zerolog.Logger
}

func (o Options) withDefaults() Options {
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = logging.Nop()
	}
	return o
}

// seed returns a fresh stamped copy of the seed document.
func (o Options) seed() models.TripData {
	doc := models.Default()
	if o.Seed != nil {
		doc = o.Seed.Clone()
	}
	return models.Stamp(doc, models.TripData{}, o.Now())
}

// maxCASRetries bounds the optimistic retry loop used by the hosted
// backends to keep stamps monotonic under concurrent writers.
const maxCASRetries = 3
