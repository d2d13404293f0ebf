package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/jaevor/go-nanoid"
	"github.com/resolveit/platform/internal/shared/config"
)

// Upload is one file handed to a store
type Upload struct {
	Name      string
	MediaType string
	Size      int64
	Body      io.Reader
}

// Object is a stored upload
type Object struct {
	Key string
	URL string
}

// Store persists evidence files and returns retrieval URLs
type Store interface {
	Put(ctx context.Context, u Upload) (Object, error)
	Delete(ctx context.Context, key string) error
}

// NewStore creates the store selected by cfg.Driver
func NewStore(ctx context.Context, cfg config.BlobConfig) (Store, error) {
	switch cfg.Driver {
	case "", "local":
		return NewLocalStore(cfg.LocalDir, cfg.PublicURL)
	case "s3":
		return NewS3Store(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown blob driver %q", cfg.Driver)
	}
}

// ErrUnsupportedMediaType is returned by Put for media types without a
// known extension
var ErrUnsupportedMediaType = errors.New("unsupported media type")

// extensions maps every accepted media type to the extension files of that
// type are stored under. The client's file name never picks the extension.
var extensions = map[string]string{
	"image/jpeg":         ".jpg",
	"image/png":          ".png",
	"video/mp4":          ".mp4",
	"audio/mpeg":         ".mp3",
	"audio/mp3":          ".mp3",
	"application/pdf":    ".pdf",
	"application/msword": ".doc",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": ".docx",
}

// MediaType strips parameters such as charset and lowercases v
func MediaType(v string) string {
	if i := strings.IndexByte(v, ';'); i >= 0 {
		v = v[:i]
	}
	return strings.ToLower(strings.TrimSpace(v))
}

// Extension returns the stored extension for mediaType
func Extension(mediaType string) (string, bool) {
	ext, ok := extensions[MediaType(mediaType)]
	return ext, ok
}

// keyGenerator builds object names of the form evidence-<id><ext>
type keyGenerator struct {
	next func() string
}

func newKeyGenerator() (keyGenerator, error) {
	gen, err := nanoid.Standard(21)
	if err != nil {
		return keyGenerator{}, fmt.Errorf("failed to create id generator: %w", err)
	}
	return keyGenerator{next: gen}, nil
}

func (g keyGenerator) key(mediaType string) (string, error) {
	ext, ok := Extension(mediaType)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedMediaType, mediaType)
	}
	return "evidence-" + g.next() + ext, nil
}
