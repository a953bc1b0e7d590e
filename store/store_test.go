package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tripboard/config"
	"tripboard/models"
)

// fixedClock never advances, so every stamp must come from the nudge.
func fixedClock() func() time.Time {
	t := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time { return t }
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	conn := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { conn.Close() })
	return mr, conn
}

func backends(t *testing.T, opts Options) map[string]Store {
	t.Helper()
	fs, err := NewFileStore(filepath.Join(t.TempDir(), "nested", "trip-data.json"), time.Minute, opts)
	require.NoError(t, err)
	t.Cleanup(func() { fs.Close() })
	_, conn := newTestRedis(t)
	return map[string]Store{
		"memory": NewMemoryStore(opts),
		"file":   fs,
		"redis":  NewRedisStore(conn, opts),
	}
}

func TestStoreContract(t *testing.T) {
	ctx := context.Background()

	t.Run("first read seeds defaults", func(t *testing.T) {
		for name, s := range backends(t, Options{}) {
			t.Run(name, func(t *testing.T) {
				doc, err := s.Read(ctx)
				require.NoError(t, err)
				assert.Equal(t, models.DefaultTripInfo().Title, doc.TripInfo.Title)
				assert.NotEmpty(t, doc.LastUpdated)
				assert.Len(t, doc.Attendees, len(models.Default().Attendees))

				again, err := s.Read(ctx)
				require.NoError(t, err)
				assert.Equal(t, doc.LastUpdated, again.LastUpdated)

				ts, err := s.LastUpdated(ctx)
				require.NoError(t, err)
				assert.Equal(t, doc.LastUpdated, ts)
			})
		}
	})

	t.Run("write stamps strictly increasing and ignores incoming stamp", func(t *testing.T) {
		for name, s := range backends(t, Options{Now: fixedClock()}) {
			t.Run(name, func(t *testing.T) {
				first, err := s.Read(ctx)
				require.NoError(t, err)

				in := first.Clone()
				in.TripInfo.Title = "updated"
				in.LastUpdated = "1999-01-01T00:00:00.000Z"
				saved, err := s.Write(ctx, in)
				require.NoError(t, err)
				assert.Greater(t, saved.LastUpdated, first.LastUpdated)

				again, err := s.Write(ctx, saved)
				require.NoError(t, err)
				assert.Greater(t, again.LastUpdated, saved.LastUpdated)

				got, err := s.Read(ctx)
				require.NoError(t, err)
				assert.Equal(t, "updated", got.TripInfo.Title)
				assert.Equal(t, again.LastUpdated, got.LastUpdated)

				ts, err := s.LastUpdated(ctx)
				require.NoError(t, err)
				assert.Equal(t, again.LastUpdated, ts)
			})
		}
	})

	t.Run("partial document is normalized", func(t *testing.T) {
		for name, s := range backends(t, Options{}) {
			t.Run(name, func(t *testing.T) {
				saved, err := s.Write(ctx, models.TripData{TripInfo: models.TripInfo{Title: "only title"}})
				require.NoError(t, err)
				assert.NotNil(t, saved.Attendees)
				assert.NotNil(t, saved.ChatMessages)

				got, err := s.Read(ctx)
				require.NoError(t, err)
				assert.Equal(t, "only title", got.TripInfo.Title)
				assert.Empty(t, got.Attendees)
				assert.NotNil(t, got.TripInfo.Schedule)
			})
		}
	})

	t.Run("attendee ids are not reused after delete", func(t *testing.T) {
		for name, s := range backends(t, Options{}) {
			t.Run(name, func(t *testing.T) {
				doc, err := s.Read(ctx)
				require.NoError(t, err)
				last := doc.Attendees[len(doc.Attendees)-1].ID
				require.True(t, doc.DeleteAttendee(last))
				_, err = s.Write(ctx, doc)
				require.NoError(t, err)

				doc, err = s.Read(ctx)
				require.NoError(t, err)
				a := doc.AddAttendee("new", "guest")
				assert.Equal(t, last+1, a.ID)
			})
		}
	})

	t.Run("compare and swap", func(t *testing.T) {
		for name, s := range backends(t, Options{}) {
			t.Run(name, func(t *testing.T) {
				doc, err := s.Read(ctx)
				require.NoError(t, err)

				saved, err := s.WriteIfUnchanged(ctx, doc, doc.LastUpdated)
				require.NoError(t, err)

				_, err = s.WriteIfUnchanged(ctx, doc, doc.LastUpdated)
				assert.ErrorIs(t, err, ErrConflict)

				got, err := s.Read(ctx)
				require.NoError(t, err)
				assert.Equal(t, saved.LastUpdated, got.LastUpdated)
			})
		}
	})

	t.Run("concurrent writers keep stamps unique", func(t *testing.T) {
		for name, s := range backends(t, Options{Now: fixedClock()}) {
			t.Run(name, func(t *testing.T) {
				_, err := s.Read(ctx)
				require.NoError(t, err)

				const writers = 8
				stamps := make(chan string, writers)
				var wg sync.WaitGroup
				for i := 0; i < writers; i++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						saved, err := s.Write(ctx, models.Default())
						if err == nil {
							stamps <- saved.LastUpdated
						}
					}()
				}
				wg.Wait()
				close(stamps)

				seen := map[string]bool{}
				for ts := range stamps {
					assert.False(t, seen[ts], "duplicate stamp %s", ts)
					seen[ts] = true
				}
				assert.NotEmpty(t, seen)
			})
		}
	})
}

func TestMemoryStoreReset(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(Options{})
	_, err := s.Write(ctx, models.TripData{TripInfo: models.TripInfo{Title: "x"}})
	require.NoError(t, err)

	s.Reset()
	doc, err := s.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.DefaultTripInfo().Title, doc.TripInfo.Title)
}

func TestMemoryStoreCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewMemoryStore(Options{}).Read(ctx)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestCustomSeed(t *testing.T) {
	seed := models.TripData{TripInfo: models.TripInfo{Title: "seeded"}}
	doc, err := NewMemoryStore(Options{Seed: &seed}).Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "seeded", doc.TripInfo.Title)
	assert.NotEmpty(t, doc.LastUpdated)
}

func TestOpen(t *testing.T) {
	_, conn := newTestRedis(t)

	s, err := Open(config.Config{StoreBackend: "memory"}, Conns{}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "memory", s.Name())

	s, err = Open(config.Config{DataFile: filepath.Join(t.TempDir(), "d.json")}, Conns{}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "file", s.Name())
	require.NoError(t, s.Close())

	s, err = Open(config.Config{RedisURL: "redis://unused"}, Conns{Redis: conn}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "redis", s.Name())

	_, err = Open(config.Config{StoreBackend: "mongo"}, Conns{}, Options{})
	assert.Error(t, err)

	_, err = Open(config.Config{StoreBackend: "bogus"}, Conns{}, Options{})
	assert.Error(t, err)
}
