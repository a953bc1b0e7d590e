package filemgr

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"mime/multipart"
	"net/http"
	"path"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// Upload is one validated image held in memory.
type Upload struct {
	Filename    string
	ContentType string
	Ext         string
	Data        []byte
}

// ReadUpload reads a multipart file, enforcing maxBytes, and validates it.
func ReadUpload(fh *multipart.FileHeader, maxBytes int64) (Upload, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if fh.Size > maxBytes {
		return Upload{}, fmt.Errorf("%w: %s is %d bytes", ErrFileTooLarge, fh.Filename, fh.Size)
	}
	f, err := fh.Open()
	if err != nil {
		return Upload{}, fmt.Errorf("open %s: %w", fh.Filename, err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxBytes+1))
	if err != nil {
		return Upload{}, fmt.Errorf("read %s: %w", fh.Filename, err)
	}
	if int64(len(data)) > maxBytes {
		return Upload{}, fmt.Errorf("%w: %s", ErrFileTooLarge, fh.Filename)
	}
	return Inspect(fh.Filename, data)
}

// Inspect sniffs data and accepts it only when it is one of AllowedMIMEs
// and its image header decodes. The client's declared type is never used.
func Inspect(filename string, data []byte) (Upload, error) {
	if len(data) == 0 {
		return Upload{}, fmt.Errorf("%w: %s", ErrEmptyFile, filename)
	}
	mimeType := http.DetectContentType(data)
	mimeType = strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0])
	ext, ok := AllowedMIMEs[mimeType]
	if !ok {
		return Upload{}, fmt.Errorf("%w: %s for %s", ErrInvalidMIME, mimeType, filename)
	}
	if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
		return Upload{}, fmt.Errorf("%w: %s does not decode as %s: %v", ErrInvalidMIME, filename, mimeType, err)
	}
	return Upload{Filename: filename, ContentType: mimeType, Ext: ext, Data: data}, nil
}

// Thumbnail decodes an image and returns a ThumbWidth-wide JPEG.
func Thumbnail(data []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	resized := imaging.Resize(img, ThumbWidth, 0, imaging.Lanczos)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

// ThumbName is the blob name of the thumbnail generated for name.
func ThumbName(name string) string {
	return strings.TrimSuffix(name, path.Ext(name)) + "-thumb.jpg"
}

// ThumbURL derives the thumbnail URL from a blob URL.
func ThumbURL(url string) string {
	dir, name := path.Split(url)
	return dir + ThumbName(name)
}

// safeName rejects names that could escape the blob directory.
func safeName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsAny(name, `/\`)
}
