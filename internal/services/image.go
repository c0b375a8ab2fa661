package services

import (
	"bytes"
	"context"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
	_ "golang.org/x/image/webp"
)

// MaxImageBytes bounds an uploaded recipe image.
const MaxImageBytes = 10 << 20

const imageKeyPrefix = "uploads/recipe"

type imageFormat struct {
	ext         string
	contentType string
}

// Keys are the format names registered by the image decoders.
var imageFormats = map[string]imageFormat{
	"jpeg": {ext: "jpg", contentType: "image/jpeg"},
	"png":  {ext: "png", contentType: "image/png"},
	"gif":  {ext: "gif", contentType: "image/gif"},
	"webp": {ext: "webp", contentType: "image/webp"},
}

// ObjectStore is the slice of storage.Storage the image flow needs.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// DetectImage checks that data decodes as a supported image and returns its
// file extension and content type.
func DetectImage(data []byte) (string, string, error) {
	if len(data) == 0 {
		return "", "", NewValidationError("image", "no file was submitted")
	}
	if len(data) > MaxImageBytes {
		return "", "", NewValidationError("image", "file is larger than 10 MiB")
	}
	_, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", "", NewValidationError("image", "upload a valid image; the file is either not an image or corrupted")
	}
	f, ok := imageFormats[format]
	if !ok {
		return "", "", NewValidationError("image", "unsupported image format "+format)
	}
	return f.ext, f.contentType, nil
}

// NewImageKey returns a fresh object key for a recipe image.
func NewImageKey(ext string) string {
	return path.Join(imageKeyPrefix, uuid.NewString()+"."+ext)
}

// imageContentType maps a stored key back to the content type it was
// uploaded with.
func imageContentType(key string) string {
	ext := strings.TrimPrefix(path.Ext(key), ".")
	for _, f := range imageFormats {
		if f.ext == ext {
			return f.contentType
		}
	}
	return "application/octet-stream"
}
