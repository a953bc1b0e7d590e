package filemgr

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Blobs stores uploaded files and hands back the URL they are served at.
type Blobs interface {
	Put(ctx context.Context, name, contentType string, data []byte) (string, error)
	Delete(ctx context.Context, url string) error
}

// DiskBlobs keeps files in one directory served under URLPrefix.
type DiskBlobs struct {
	dir       string
	urlPrefix string
}

// NewDiskBlobs creates dir if needed. urlPrefix is the public path that
// maps onto dir, e.g. "/static/tickets".
func NewDiskBlobs(dir, urlPrefix string) (*DiskBlobs, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return &DiskBlobs{dir: dir, urlPrefix: strings.TrimSuffix(urlPrefix, "/")}, nil
}

func (d *DiskBlobs) Put(ctx context.Context, name, _ string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !safeName(name) {
		return "", fmt.Errorf("invalid blob name %q", name)
	}
	tmp, err := os.CreateTemp(d.dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(d.dir, name)); err != nil {
		return "", fmt.Errorf("store %s: %w", name, err)
	}
	return d.urlPrefix + "/" + name, nil
}

func (d *DiskBlobs) Delete(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	name, ok := nameFromURL(url, d.urlPrefix)
	if !ok {
		return fmt.Errorf("%w: %s is not under %s", ErrNotFound, url, d.urlPrefix)
	}
	err := os.Remove(filepath.Join(d.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, url)
	}
	return err
}

// nameFromURL accepts absolute URLs too, since clients may store them.
func nameFromURL(url, prefix string) (string, bool) {
	if i := strings.Index(url, prefix+"/"); i >= 0 {
		url = url[i:]
	}
	if !strings.HasPrefix(url, prefix+"/") {
		return "", false
	}
	name := path.Base(url)
	return name, safeName(name)
}
