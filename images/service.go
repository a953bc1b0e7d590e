// Package images manages the uploaded train ticket pictures: one list of
// URLs per category, replaced wholesale on every upload.
package images

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tripboard/filemgr"
	"tripboard/logging"
	"tripboard/metrics"
	"tripboard/models"
)

var (
	ErrInvalidCategory = errors.New("invalid image category")
	ErrNoFiles         = errors.New("no images uploaded")
)

type Service struct {
	index Index
	blobs filemgr.Blobs
	log   *zerolog.Logger
	now   func() time.Time

	// mu serializes replaces so two uploads cannot interleave deletes.
	mu sync.Mutex
}

func NewService(index Index, blobs filemgr.Blobs, log *zerolog.Logger) *Service {
	if log == nil {
		log = logging.Nop()
	}
	return &Service{index: index, blobs: blobs, log: log, now: time.Now}
}

// List returns both categories, empty when nothing was uploaded.
func (s *Service) List(ctx context.Context) (models.TrainImageSet, error) {
	return s.index.Get(ctx)
}

// BlobName is the stored name of the ordinal-th (1-based) upload.
func BlobName(c models.Category, ordinal int, at time.Time, ext string) string {
	return fmt.Sprintf("train-ticket-%s-%d-%d%s", c, ordinal, at.UnixMilli(), ext)
}

// Replace swaps the images of one category. The new blobs are stored and
// indexed before the old ones are deleted, so a failure part way leaves
// the previous images in place. Deletion failures are only logged. The
// other category is left as is.
func (s *Service) Replace(ctx context.Context, category string, uploads []filemgr.Upload) ([]string, error) {
	c, err := models.ParseCategory(category)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCategory, err)
	}
	if len(uploads) == 0 {
		return nil, ErrNoFiles
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	set, err := s.index.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("load image index: %w", err)
	}
	old := set.Get(c)

	at := s.now()
	urls := make([]string, 0, len(uploads))
	for i, up := range uploads {
		name := BlobName(c, i+1, at, up.Ext)
		url, err := s.blobs.Put(ctx, name, up.ContentType, up.Data)
		if err != nil {
			s.discard(ctx, urls, nil, "could not remove partly stored ticket image")
			return nil, fmt.Errorf("store %s: %w", name, err)
		}
		urls = append(urls, url)
		s.storeThumb(ctx, name, up)
	}

	if err := s.index.Put(ctx, set.With(c, urls)); err != nil {
		s.discard(ctx, urls, nil, "could not remove unindexed ticket image")
		return nil, fmt.Errorf("save image index: %w", err)
	}
	s.discard(ctx, old, urls, "could not delete previous ticket image")

	metrics.ImageUploads.WithLabelValues(string(c)).Add(float64(len(urls)))
	s.log.Info().Str("category", string(c)).Int("count", len(urls)).Msg("ticket images replaced")
	return urls, nil
}

// discard deletes each URL and its thumbnail, skipping any URL in keep.
func (s *Service) discard(ctx context.Context, urls, keep []string, msg string) {
	for _, url := range urls {
		if slices.Contains(keep, url) {
			continue
		}
		for _, u := range []string{url, filemgr.ThumbURL(url)} {
			if err := s.blobs.Delete(ctx, u); err != nil {
				s.log.Warn().Err(err).Str("url", u).Msg(msg)
			}
		}
	}
}

// storeThumb is best effort; the full image is what the page links to.
func (s *Service) storeThumb(ctx context.Context, name string, up filemgr.Upload) {
	thumb, err := filemgr.Thumbnail(up.Data)
	if err != nil {
		s.log.Warn().Err(err).Str("name", name).Msg("thumbnail skipped")
		return
	}
	if _, err := s.blobs.Put(ctx, filemgr.ThumbName(name), "image/jpeg", thumb); err != nil {
		s.log.Warn().Err(err).Str("name", name).Msg("thumbnail not stored")
	}
}
