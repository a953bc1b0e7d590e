package filemgr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// GridFSURLPrefix is where GridFS blobs are served.
const GridFSURLPrefix = "/blobs"

// GridFSBlobs keeps uploads in a GridFS bucket so every instance sharing
// the database can serve them.
type GridFSBlobs struct {
	bucket *gridfs.Bucket

	// The write deadline is bucket-wide, so setting it and uploading must
	// happen under one lock.
	upMu sync.Mutex
	up   uploader
}

// uploader is the slice of *gridfs.Bucket that Put needs.
type uploader interface {
	SetWriteDeadline(t time.Time) error
	UploadFromStream(filename string, source io.Reader, opts ...*options.UploadOptions) (primitive.ObjectID, error)
}

func NewGridFSBlobs(database *mongo.Database) (*GridFSBlobs, error) {
	bucket, err := gridfs.NewBucket(database, options.GridFSBucket().SetName("tickets"))
	if err != nil {
		return nil, fmt.Errorf("open gridfs bucket: %w", err)
	}
	return &GridFSBlobs{bucket: bucket, up: bucket}, nil
}

func (g *GridFSBlobs) Put(ctx context.Context, name, contentType string, data []byte) (string, error) {
	if !safeName(name) {
		return "", fmt.Errorf("invalid blob name %q", name)
	}
	if err := g.upload(ctx, name, contentType, data); err != nil {
		return "", err
	}
	return GridFSURLPrefix + "/" + name, nil
}

func (g *GridFSBlobs) upload(ctx context.Context, name, contentType string, data []byte) error {
	g.upMu.Lock()
	defer g.upMu.Unlock()

	// The zero time clears a deadline left by an earlier call.
	dl, _ := ctx.Deadline()
	if err := g.up.SetWriteDeadline(dl); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	opts := options.GridFSUpload().SetMetadata(bson.M{"contentType": contentType})
	if _, err := g.up.UploadFromStream(name, bytes.NewReader(data), opts); err != nil {
		return fmt.Errorf("upload %s: %w", name, err)
	}
	return nil
}

// Delete removes every revision stored under the URL's name.
func (g *GridFSBlobs) Delete(ctx context.Context, url string) error {
	name, ok := nameFromURL(url, GridFSURLPrefix)
	if !ok {
		return fmt.Errorf("%w: %s is not under %s", ErrNotFound, url, GridFSURLPrefix)
	}
	cur, err := g.bucket.FindContext(ctx, bson.M{"filename": name})
	if err != nil {
		return fmt.Errorf("find %s: %w", name, err)
	}
	var files []struct {
		ID any `bson:"_id"`
	}
	if err := cur.All(ctx, &files); err != nil {
		return fmt.Errorf("list %s: %w", name, err)
	}
	if len(files) == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, url)
	}
	for _, f := range files {
		if err := g.bucket.DeleteContext(ctx, f.ID); err != nil {
			return fmt.Errorf("delete %s: %w", name, err)
		}
	}
	return nil
}

// Serve streams a blob for GET /blobs/:name.
func (g *GridFSBlobs) Serve(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	name := ps.ByName("name")
	if !safeName(name) {
		http.NotFound(w, r)
		return
	}
	stream, err := g.bucket.OpenDownloadStreamByName(name)
	if errors.Is(err, gridfs.ErrFileNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		http.Error(w, "failed to open blob", http.StatusInternalServerError)
		return
	}
	defer stream.Close()

	contentType := "application/octet-stream"
	if md := stream.GetFile().Metadata; len(md) > 0 {
		if v, ok := md.Lookup("contentType").StringValueOK(); ok {
			contentType = v
		}
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=86400")
	_, _ = io.Copy(w, stream)
}
