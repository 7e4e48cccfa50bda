// Package media admits uploaded files by extension and stores them under
// collision-safe names.
package media

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/dj-oyu/zonewatch/detection-server/internal/apperror"
)

// Kind selects the processing path of an upload.
type Kind int

const (
	KindUnknown Kind = iota
	KindImage
	KindVideo
	KindZoneDefinition
)

func (k Kind) String() string {
	switch k {
	case KindImage:
		return "image"
	case KindVideo:
		return "video"
	case KindZoneDefinition:
		return "zone"
	default:
		return "unknown"
	}
}

// admitted maps lower-case extensions to their kind.
var admitted = map[string]Kind{
	"jpg":  KindImage,
	"jpeg": KindImage,
	"png":  KindImage,
	"mp4":  KindVideo,
	"json": KindZoneDefinition,
}

// AdmittedExtensions lists the accepted extensions.
func AdmittedExtensions() []string {
	return []string{"jpg", "jpeg", "png", "mp4", "json"}
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9_.-]`)

// SanitizeFilename replaces every character outside [a-zA-Z0-9_.-] with '_'.
func SanitizeFilename(name string) string {
	return unsafeChars.ReplaceAllString(filepath.Base(name), "_")
}

// Extension returns the lower-case text after the last dot, or "".
func Extension(name string) string {
	i := strings.LastIndexByte(name, '.')
	if i < 0 || i == len(name)-1 {
		return ""
	}
	return strings.ToLower(name[i+1:])
}

// Classify returns the kind of a file by its extension. Unadmitted
// extensions yield a validation error.
func Classify(filename string) (Kind, error) {
	ext := Extension(SanitizeFilename(filename))
	kind, ok := admitted[ext]
	if !ok {
		return KindUnknown, apperror.Validationf("unsupported file format %q", ext)
	}
	return kind, nil
}

// Asset is an admitted upload written to disk for the duration of a request.
type Asset struct {
	Kind         Kind
	OriginalName string
	StorageName  string
	Path         string
}

// Remove deletes the stored file.
func (a *Asset) Remove() error {
	if a == nil || a.Path == "" {
		return nil
	}
	if err := os.Remove(a.Path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// SaveAsset classifies filename, then copies r into dir under a unique name.
// Nothing is written when the extension is not admitted.
func SaveAsset(dir, filename string, r io.Reader) (*Asset, error) {
	kind, err := Classify(filename)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, apperror.Pipelinef(err, "create upload directory")
	}

	safe := SanitizeFilename(filename)
	storageName := fmt.Sprintf("%s_%s", uuid.NewString(), safe)
	path := filepath.Join(dir, storageName)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return nil, apperror.Pipelinef(err, "create upload file")
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return nil, apperror.Pipelinef(err, "write upload file")
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, apperror.Pipelinef(err, "close upload file")
	}

	return &Asset{
		Kind:         kind,
		OriginalName: safe,
		StorageName:  storageName,
		Path:         path,
	}, nil
}
