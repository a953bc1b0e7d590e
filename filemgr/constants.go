package filemgr

import "errors"

// ThumbWidth is the width of generated thumbnails; height keeps the ratio.
const ThumbWidth = 200

// DefaultMaxBytes caps one uploaded file when no limit is configured.
const DefaultMaxBytes = 10 << 20

// AllowedMIMEs maps accepted image types to the extension used on disk.
var AllowedMIMEs = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

var (
	ErrInvalidMIME  = errors.New("invalid MIME type")
	ErrFileTooLarge = errors.New("file size exceeds limit")
	ErrEmptyFile    = errors.New("empty file")
	ErrNotFound     = errors.New("blob not found")
)
