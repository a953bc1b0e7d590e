package images

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/julienschmidt/httprouter"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	"tripboard/filemgr"
	"tripboard/models"
)

type fakeBlobs struct {
	mu         sync.Mutex
	puts       []string
	deletes    []string
	failPut    bool
	failDelete bool
	putLimit   int
}

func (f *fakeBlobs) Put(_ context.Context, name, _ string, _ []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPut || (f.putLimit > 0 && len(f.puts) >= f.putLimit) {
		return "", errors.New("bucket down")
	}
	f.puts = append(f.puts, name)
	return "/static/tickets/" + name, nil
}

func (f *fakeBlobs) Delete(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, url)
	if f.failDelete {
		return errors.New("already gone")
	}
	return nil
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 40, 20))))
	return buf.Bytes()
}

func upload(t *testing.T) filemgr.Upload {
	t.Helper()
	up, err := filemgr.Inspect("t.png", pngBytes(t))
	require.NoError(t, err)
	return up
}

func fixedNow() time.Time { return time.UnixMilli(1718000000000) }

func TestReplaceDeletesOldAndKeepsOtherCategory(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	require.NoError(t, idx.Put(ctx, models.TrainImageSet{
		Departure: []string{"/static/tickets/old-dep.png"},
		Return:    []string{"/static/tickets/old-ret.png"},
	}))
	blobs := &fakeBlobs{failDelete: true}
	svc := NewService(idx, blobs, nil)
	svc.now = fixedNow

	urls, err := svc.Replace(ctx, "Departure", []filemgr.Upload{upload(t), upload(t)})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"/static/tickets/train-ticket-departure-1-1718000000000.png",
		"/static/tickets/train-ticket-departure-2-1718000000000.png",
	}, urls)
	assert.Equal(t, []string{"/static/tickets/old-dep.png", "/static/tickets/old-dep-thumb.jpg"}, blobs.deletes)
	assert.Contains(t, blobs.puts, "train-ticket-departure-1-1718000000000-thumb.jpg")

	set, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, urls, set.Departure)
	assert.Equal(t, []string{"/static/tickets/old-ret.png"}, set.Return)
}

func TestReplaceRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryIndex(), &fakeBlobs{}, nil)

	_, err := svc.Replace(ctx, "arrival", []filemgr.Upload{upload(t)})
	assert.ErrorIs(t, err, ErrInvalidCategory)

	_, err = svc.Replace(ctx, "return", nil)
	assert.ErrorIs(t, err, ErrNoFiles)
}

func TestReplaceStoreFailureKeepsIndex(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	svc := NewService(idx, &fakeBlobs{failPut: true}, nil)

	_, err := svc.Replace(ctx, "return", []filemgr.Upload{upload(t)})
	require.Error(t, err)
	set, err := idx.Get(ctx)
	require.NoError(t, err)
	assert.Empty(t, set.Return)
}

func TestReplaceFailurePartWayKeepsPreviousImages(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	old := []string{"/static/tickets/old-dep.png"}
	require.NoError(t, idx.Put(ctx, models.TrainImageSet{Departure: old}))
	// first image and its thumbnail go through, the second image does not
	blobs := &fakeBlobs{putLimit: 2}
	svc := NewService(idx, blobs, nil)
	svc.now = fixedNow

	_, err := svc.Replace(ctx, "departure", []filemgr.Upload{upload(t), upload(t)})
	require.Error(t, err)

	set, err := idx.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, old, set.Departure)
	assert.Equal(t, []string{
		"/static/tickets/train-ticket-departure-1-1718000000000.png",
		"/static/tickets/train-ticket-departure-1-1718000000000-thumb.jpg",
	}, blobs.deletes)
}

type failingIndex struct{ Index }

func (failingIndex) Put(context.Context, models.TrainImageSet) error {
	return errors.New("index down")
}

func TestReplaceIndexFailureRemovesNewBlobs(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryIndex()
	require.NoError(t, mem.Put(ctx, models.TrainImageSet{Return: []string{"/static/tickets/old-ret.png"}}))
	blobs := &fakeBlobs{}
	svc := NewService(failingIndex{mem}, blobs, nil)
	svc.now = fixedNow

	_, err := svc.Replace(ctx, "return", []filemgr.Upload{upload(t)})
	require.Error(t, err)
	assert.NotContains(t, blobs.deletes, "/static/tickets/old-ret.png")
	assert.Contains(t, blobs.deletes, "/static/tickets/train-ticket-return-1-1718000000000.png")

	set, err := mem.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"/static/tickets/old-ret.png"}, set.Return)
}

func TestListDefaultsToEmpty(t *testing.T) {
	set, err := NewService(NewMemoryIndex(), &fakeBlobs{}, nil).List(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, set.Departure)
	assert.NotNil(t, set.Return)
}

func TestIndexVariants(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	conn := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer conn.Close()

	for name, idx := range map[string]Index{
		"memory": NewMemoryIndex(),
		"file":   NewFileIndex(filepath.Join(t.TempDir(), "data", "train-images.json")),
		"redis":  NewRedisIndex(conn),
	} {
		t.Run(name, func(t *testing.T) {
			empty, err := idx.Get(ctx)
			require.NoError(t, err)
			assert.Empty(t, empty.Departure)
			assert.NotNil(t, empty.Return)

			want := models.TrainImageSet{Departure: []string{"a"}}
			require.NoError(t, idx.Put(ctx, want))
			got, err := idx.Get(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"a"}, got.Departure)
			assert.Equal(t, []string{}, got.Return)
		})
	}
}

func TestMongoIndex(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	ctx := context.Background()

	mt.Run("missing document is empty", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "tripboard.images", mtest.FirstBatch))
		set, err := NewMongoIndex(mt.DB).Get(ctx)
		require.NoError(mt, err)
		assert.Empty(mt, set.Departure)
	})

	mt.Run("stored document", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "tripboard.images", mtest.FirstBatch, bson.D{
			{Key: "_id", Value: imagesDocID},
			{Key: "return", Value: bson.A{"/blobs/r.png"}},
		}))
		set, err := NewMongoIndex(mt.DB).Get(ctx)
		require.NoError(mt, err)
		assert.Equal(mt, []string{"/blobs/r.png"}, set.Return)
		assert.Equal(mt, []string{}, set.Departure)
	})

	mt.Run("put upserts", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}))
		require.NoError(mt, NewMongoIndex(mt.DB).Put(ctx, models.TrainImageSet{}))
	})
}

func multipartBody(t *testing.T, category string, files int) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if category != "" {
		require.NoError(t, mw.WriteField("type", category))
	}
	for i := 0; i < files; i++ {
		fw, err := mw.CreateFormFile("images", "ticket.png")
		require.NoError(t, err)
		_, err = fw.Write(pngBytes(t))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &body, mw.FormDataContentType()
}

func TestUploadHandler(t *testing.T) {
	blobs, err := filemgr.NewDiskBlobs(filepath.Join(t.TempDir(), "tickets"), "/static/tickets")
	require.NoError(t, err)
	h := NewHandler(NewService(NewMemoryIndex(), blobs, nil), 1<<20, nil)
	r := httprouter.New()
	r.GET("/images", h.List)
	r.POST("/images", h.Upload)

	body, ct := multipartBody(t, "return", 2)
	req := httptest.NewRequest(http.MethodPost, "/images", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Success bool     `json:"success"`
		Message string   `json:"message"`
		URLs    []string `json:"urls"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Contains(t, resp.Message, "도착")
	require.Len(t, resp.URLs, 2)
	assert.True(t, strings.HasPrefix(resp.URLs[0], "/static/tickets/train-ticket-return-1-"))

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/images", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var set models.TrainImageSet
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &set))
	assert.Equal(t, resp.URLs, set.Return)
	assert.Empty(t, set.Departure)

	body, ct = multipartBody(t, "", 1)
	req = httptest.NewRequest(http.MethodPost, "/images", body)
	req.Header.Set("Content-Type", ct)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body, ct = multipartBody(t, "sideways", 1)
	req = httptest.NewRequest(http.MethodPost, "/images", body)
	req.Header.Set("Content-Type", ct)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
