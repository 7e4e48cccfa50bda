package media

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dj-oyu/zonewatch/detection-server/internal/apperror"
)

func TestClassify(t *testing.T) {
	cases := map[string]Kind{
		"photo.jpg":         KindImage,
		"PHOTO.JPEG":        KindImage,
		"scan.png":          KindImage,
		"clip.mp4":          KindVideo,
		"zone drawing.json": KindZoneDefinition,
	}
	for name, want := range cases {
		got, err := Classify(name)
		if err != nil {
			t.Fatalf("Classify(%q) error: %v", name, err)
		}
		if got != want {
			t.Fatalf("Classify(%q) = %s, want %s", name, got, want)
		}
	}
}

func TestClassifyRejects(t *testing.T) {
	for _, name := range []string{"movie.avi", "noext", "trailing.", "archive.tar.gz"} {
		_, err := Classify(name)
		if !apperror.Is(err, apperror.Validation) {
			t.Fatalf("Classify(%q) err = %v, want validation error", name, err)
		}
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"my photo (1).jpg": "my_photo__1_.jpg",
		"../../etc/passwd": "passwd",
		"cámara.mp4":       "c_mara.mp4",
		"ok-name_1.2.png":  "ok-name_1.2.png",
	}
	for in, want := range cases {
		if got := SanitizeFilename(in); got != want {
			t.Fatalf("SanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSaveAssetUniqueNames(t *testing.T) {
	dir := t.TempDir()

	a, err := SaveAsset(dir, "same name.png", strings.NewReader("one"))
	if err != nil {
		t.Fatalf("SaveAsset error: %v", err)
	}
	b, err := SaveAsset(dir, "same name.png", strings.NewReader("two"))
	if err != nil {
		t.Fatalf("SaveAsset error: %v", err)
	}

	if a.StorageName == b.StorageName {
		t.Fatalf("storage names collide: %s", a.StorageName)
	}
	if !strings.HasSuffix(a.StorageName, "_same_name.png") || a.Kind != KindImage {
		t.Fatalf("unexpected asset %+v", a)
	}
	data, err := os.ReadFile(b.Path)
	if err != nil || string(data) != "two" {
		t.Fatalf("stored content = %q, %v", data, err)
	}

	if err := a.Remove(); err != nil {
		t.Fatalf("Remove error: %v", err)
	}
	if _, err := os.Stat(a.Path); !os.IsNotExist(err) {
		t.Fatalf("asset still present after Remove")
	}
}

func TestSaveAssetRejectedWritesNothing(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "uploads")

	_, err := SaveAsset(dir, "payload.exe", strings.NewReader("MZ"))
	if !apperror.Is(err, apperror.Validation) {
		t.Fatalf("err = %v, want validation error", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("upload directory created for rejected file")
	}
}
