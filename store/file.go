package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/patrickmn/go-cache"

	"tripboard/metrics"
	"tripboard/models"
)

const docCacheKey = "trip-data"

// DefaultCacheTTL bounds how long a read may be served without touching disk.
const DefaultCacheTTL = 5 * time.Second

// FileStore keeps the document as one pretty-printed JSON file. Reads go
// through a short-lived cache; the cache is only ever updated inside the
// same critical section as a successful write, so a reader never sees a
// value older than the last acknowledged write.
type FileStore struct {
	opts Options
	path string

	mu      sync.Mutex
	cache   *cache.Cache
	written os.FileInfo

	watcher *fsnotify.Watcher
	wg      sync.WaitGroup
}

// NewFileStore creates the parent directory if needed and starts watching
// it so edits made by other processes evict the cache.
func NewFileStore(path string, ttl time.Duration, opts Options) (*FileStore, error) {
	opts = opts.withDefaults()
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: mkdir %s: %v", ErrUnavailable, dir, err)
	}

	s := &FileStore{
		opts:  opts,
		path:  abs,
		cache: cache.New(ttl, 2*ttl),
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		opts.Logger.Warn().Err(err).Msg("file watcher unavailable; relying on cache ttl")
		return s, nil
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		opts.Logger.Warn().Err(err).Str("dir", dir).Msg("cannot watch data directory")
		return s, nil
	}
	s.watcher = w
	s.wg.Add(1)
	go s.watch()
	return s, nil
}

func (s *FileStore) Name() string { return "file" }

// Path is the absolute location of the data file.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Close() error {
	if s.watcher == nil {
		return nil
	}
	err := s.watcher.Close()
	s.wg.Wait()
	return err
}

func (s *FileStore) Read(ctx context.Context) (models.TripData, error) {
	if err := ctx.Err(); err != nil {
		return models.TripData{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.loadLocked()
	metrics.ObserveStore(s.Name(), "read", err)
	return doc, err
}

func (s *FileStore) Write(ctx context.Context, doc models.TripData) (models.TripData, error) {
	return s.write(ctx, doc, nil)
}

func (s *FileStore) WriteIfUnchanged(ctx context.Context, doc models.TripData, expected string) (models.TripData, error) {
	return s.write(ctx, doc, &expected)
}

func (s *FileStore) write(ctx context.Context, doc models.TripData, expected *string) (models.TripData, error) {
	if err := ctx.Err(); err != nil {
		return models.TripData{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, err := s.loadLocked()
	if err != nil {
		// A corrupt or unreadable file must not block a full replace.
		s.opts.Logger.Warn().Err(err).Str("path", s.path).Msg("previous document unreadable; overwriting")
		prev = models.TripData{}
	}
	if expected != nil && *expected != prev.LastUpdated {
		return models.TripData{}, ErrConflict
	}

	next := models.Stamp(doc.Clone(), prev, s.opts.Now())
	err = s.persistLocked(next)
	metrics.ObserveStore(s.Name(), "write", err)
	if err != nil {
		return models.TripData{}, err
	}
	return next, nil
}

func (s *FileStore) LastUpdated(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.loadLocked()
	if err != nil {
		return "", err
	}
	return doc.LastUpdated, nil
}

// loadLocked serves from cache or disk, seeding the file when it does not
// exist yet. Caller holds s.mu.
func (s *FileStore) loadLocked() (models.TripData, error) {
	if v, ok := s.cache.Get(docCacheKey); ok {
		return v.(models.TripData).Clone(), nil
	}

	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		doc := s.opts.seed()
		if err := s.persistLocked(doc); err != nil {
			return models.TripData{}, err
		}
		return doc, nil
	}
	if err != nil {
		return models.TripData{}, fmt.Errorf("%w: read %s: %v", ErrUnavailable, s.path, err)
	}

	var doc models.TripData
	if err := json.Unmarshal(raw, &doc); err != nil {
		return models.TripData{}, fmt.Errorf("%w: decode %s: %v", ErrUnavailable, s.path, err)
	}
	doc = doc.Normalize()
	doc.Sequence = doc.Sequence.Observe(doc)
	if doc.LastUpdated == "" {
		return s.adoptLocked(doc), nil
	}
	s.cache.SetDefault(docCacheKey, doc.Clone())
	return doc, nil
}

// adoptLocked stamps a document written without lastUpdated and saves it so
// the stamp stays the same across reads. The stamp comes from the file's
// mtime, which also keeps it stable if the save fails. Caller holds s.mu.
func (s *FileStore) adoptLocked(doc models.TripData) models.TripData {
	at := s.opts.Now()
	if fi, err := os.Stat(s.path); err == nil {
		at = fi.ModTime()
	}
	doc.LastUpdated = models.NextStamp("", at)
	if err := s.persistLocked(doc); err != nil {
		s.opts.Logger.Warn().Err(err).Str("path", s.path).Msg("cannot save stamp for legacy data file")
		s.cache.SetDefault(docCacheKey, doc.Clone())
	}
	return doc
}

// persistLocked writes doc atomically (temp file + rename) and only then
// refreshes the cache. Caller holds s.mu.
func (s *FileStore) persistLocked(doc models.TripData) error {
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".trip-data-*.tmp")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %v", ErrUnavailable, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: write %s: %v", ErrUnavailable, tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: sync %s: %v", ErrUnavailable, tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %v", ErrUnavailable, tmpName, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("%w: rename into %s: %v", ErrUnavailable, s.path, err)
	}

	if fi, err := os.Stat(s.path); err == nil {
		s.written = fi
	}
	s.cache.SetDefault(docCacheKey, doc.Clone())
	return nil
}

func (s *FileStore) watch() {
	defer s.wg.Done()
	for {
		select {
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != s.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			s.invalidate()
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.opts.Logger.Warn().Err(err).Msg("file watcher error")
		}
	}
}

// invalidate evicts the cache unless the file on disk is the one this
// process wrote last.
func (s *FileStore) invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	fi, err := os.Stat(s.path)
	if err == nil && s.written != nil && fi.Size() == s.written.Size() && fi.ModTime().Equal(s.written.ModTime()) {
		return
	}
	s.cache.Delete(docCacheKey)
	s.opts.Logger.Debug().Str("path", s.path).Msg("data file changed on disk; cache evicted")
}
