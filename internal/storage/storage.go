// Package storage persists annotated result images and serves them back by
// key. Keys are slash-separated, e.g. "result_<id>.jpg" or
// "<token>/frame_proc_0000.jpg".
package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/dj-oyu/zonewatch/detection-server/internal/apperror"
	"github.com/dj-oyu/zonewatch/detection-server/internal/media"
)

// ErrNotFound is the cause of every missing-object error.
var ErrNotFound = errors.New("object not found")

// Info describes a stored object.
type Info struct {
	Size        int64
	ContentType string
	ModTime     time.Time
}

// Store is a flat key/value result store.
type Store interface {
	// Put stores size bytes from r under key. size may be -1 when unknown.
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	// Open returns the object under key, or an error wrapping ErrNotFound.
	Open(ctx context.Context, key string) (io.ReadSeekCloser, Info, error)
	// Location renders key as a path or URL for API responses.
	Location(key string) string
	// RemovePrefix deletes every object under the directory prefix. A missing
	// prefix is not an error.
	RemovePrefix(ctx context.Context, prefix string) error
}

// Key joins sanitized path segments into a store key. Empty segments and
// dot-only segments are rejected.
func Key(segments ...string) (string, error) {
	if len(segments) == 0 {
		return "", apperror.Validationf("empty result key")
	}
	clean := make([]string, len(segments))
	for i, s := range segments {
		c := media.SanitizeFilename(s)
		if strings.Trim(c, ".") == "" {
			return "", apperror.Validationf("invalid result path segment %q", s)
		}
		clean[i] = c
	}
	return strings.Join(clean, "/"), nil
}

func notFound(key string) error {
	return apperror.New(apperror.NotFound, ErrNotFound, "file not found: %s", key)
}
