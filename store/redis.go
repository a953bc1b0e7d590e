package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"tripboard/metrics"
	"tripboard/models"
	"tripboard/rdx"
)

// RedisStore keeps the document under one fixed key and its lastUpdated
// under a second key so change checks never transfer the document.
type RedisStore struct {
	opts Options
	conn *redis.Client
}

// getter is satisfied by both the client and a WATCH transaction.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func NewRedisStore(conn *redis.Client, opts Options) *RedisStore {
	return &RedisStore{opts: opts.withDefaults(), conn: conn}
}

func (s *RedisStore) Name() string { return "redis" }

// Close is a no-op; the connection is owned by the caller.
func (s *RedisStore) Close() error { return nil }

func (s *RedisStore) Read(ctx context.Context) (models.TripData, error) {
	doc, found, err := s.get(ctx, s.conn)
	if err == nil && !found {
		doc, err = s.seed(ctx)
	}
	metrics.ObserveStore(s.Name(), "read", err)
	return doc, err
}

func (s *RedisStore) Write(ctx context.Context, doc models.TripData) (models.TripData, error) {
	next, err := s.update(ctx, doc, nil)
	metrics.ObserveStore(s.Name(), "write", err)
	return next, err
}

func (s *RedisStore) WriteIfUnchanged(ctx context.Context, doc models.TripData, expected string) (models.TripData, error) {
	next, err := s.update(ctx, doc, &expected)
	metrics.ObserveStore(s.Name(), "write", err)
	return next, err
}

func (s *RedisStore) LastUpdated(ctx context.Context) (string, error) {
	ts, err := s.conn.Get(ctx, rdx.TripStampKey).Result()
	if errors.Is(err, redis.Nil) {
		doc, err := s.Read(ctx)
		if err != nil {
			return "", err
		}
		return doc.LastUpdated, nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: get %s: %v", ErrUnavailable, rdx.TripStampKey, err)
	}
	return ts, nil
}

func (s *RedisStore) get(ctx context.Context, c getter) (models.TripData, bool, error) {
	raw, err := c.Get(ctx, rdx.TripDataKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.TripData{}, false, nil
	}
	if err != nil {
		return models.TripData{}, false, fmt.Errorf("%w: get %s: %v", ErrUnavailable, rdx.TripDataKey, err)
	}
	var doc models.TripData
	if err := json.Unmarshal(raw, &doc); err != nil {
		return models.TripData{}, false, fmt.Errorf("%w: decode %s: %v", ErrUnavailable, rdx.TripDataKey, err)
	}
	doc = doc.Normalize()
	doc.Sequence = doc.Sequence.Observe(doc)
	return doc, true, nil
}

func (s *RedisStore) set(ctx context.Context, pipe redis.Pipeliner, doc models.TripData) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	pipe.Set(ctx, rdx.TripDataKey, raw, 0)
	pipe.Set(ctx, rdx.TripStampKey, doc.LastUpdated, 0)
	return nil
}

// seed stores the seed document unless another writer got there first.
func (s *RedisStore) seed(ctx context.Context) (models.TripData, error) {
	var out models.TripData
	err := s.conn.Watch(ctx, func(tx *redis.Tx) error {
		doc, found, err := s.get(ctx, tx)
		if err != nil {
			return err
		}
		if found {
			out = doc
			return nil
		}
		doc = s.opts.seed()
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			return s.set(ctx, pipe, doc)
		})
		if err == nil {
			out = doc
		}
		return err
	}, rdx.TripDataKey)
	if errors.Is(err, redis.TxFailedErr) {
		doc, _, err := s.get(ctx, s.conn)
		return doc, err
	}
	if err != nil && !errors.Is(err, ErrUnavailable) {
		err = fmt.Errorf("%w: seed: %v", ErrUnavailable, err)
	}
	return out, err
}

// update writes doc in a WATCH/MULTI transaction so that both keys change
// together and the stamp stays monotonic across concurrent writers. The
// content itself is still last-writer-wins unless expected is set.
func (s *RedisStore) update(ctx context.Context, doc models.TripData, expected *string) (models.TripData, error) {
	var out models.TripData
	txf := func(tx *redis.Tx) error {
		prev, _, err := s.get(ctx, tx)
		if err != nil {
			return err
		}
		if expected != nil && *expected != prev.LastUpdated {
			return ErrConflict
		}
		next := models.Stamp(doc.Clone(), prev, s.opts.Now())
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			return s.set(ctx, pipe, next)
		})
		if err == nil {
			out = next
		}
		return err
	}

	for i := 0; i < maxCASRetries; i++ {
		err := s.conn.Watch(ctx, txf, rdx.TripDataKey)
		switch {
		case err == nil:
			return out, nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, ErrConflict), errors.Is(err, ErrUnavailable):
			return models.TripData{}, err
		default:
			return models.TripData{}, fmt.Errorf("%w: write: %v", ErrUnavailable, err)
		}
	}
	if expected != nil {
		return models.TripData{}, ErrConflict
	}
	return models.TripData{}, fmt.Errorf("%w: write kept racing other writers", ErrUnavailable)
}
