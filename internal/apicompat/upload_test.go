package apicompat

import (
	"net/http"
	"strings"
	"testing"
)

func TestAPIHealth(t *testing.T) {
	client := newAPIClient(t)
	resp, body := client.get(t, "/health")
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("GET /health status = %d", resp.StatusCode)
	}
	payload := decodeJSONMap(t, body)
	requireString(t, payload["status"], "status")
	requireMap(t, payload["checks"], "checks")
	requireNumber(t, payload["cached_zones"], "cached_zones")
}

func TestAPIRejectsUnsupportedUpload(t *testing.T) {
	client := newAPIClient(t)
	resp, body := client.upload(t, "notes.txt", []byte("hello"), nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("upload .txt status = %d", resp.StatusCode)
	}
	payload := decodeJSONMap(t, body)
	if kind := requireString(t, payload["kind"], "kind"); kind != "validation" {
		t.Fatalf("kind = %q", kind)
	}
	requireString(t, payload["error"], "error")
}

func TestAPIZoneDefinition(t *testing.T) {
	client := newAPIClient(t)
	doc := `{"objects":[{"type":"path","path":[["M",0,0],["L",10,0],["L",10,10]]}]}`
	resp, body := client.upload(t, "zone.json", []byte(doc), map[string]string{"session": "apicompat-zone"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("zone upload status = %d body=%s", resp.StatusCode, body)
	}
	payload := decodeJSONMap(t, body)
	requireString(t, payload["message"], "message")
	coords := requireSlice(t, payload["coordinates"], "coordinates")
	if len(coords) != 3 {
		t.Fatalf("coordinates = %v", coords)
	}
	last := requireSlice(t, coords[2], "coordinates[2]")
	if requireNumber(t, last[1], "coordinates[2][1]") != 190 {
		t.Fatalf("y axis not flipped: %v", last)
	}

	// Consume it so later runs start clean.
	client.upload(t, "clear.jpg", sampleJPEG(t), map[string]string{"session": "apicompat-zone"})
}

func TestAPIImageUploadAndResult(t *testing.T) {
	client := newAPIClient(t)
	resp, body := client.upload(t, "sample.jpg", sampleJPEG(t), map[string]string{
		"classes": `["person"]`,
		"session": "apicompat-image",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("image upload status = %d body=%s", resp.StatusCode, body)
	}
	payload := decodeJSONMap(t, body)
	if report := assertReport(t, payload); len(report) != 1 {
		t.Fatalf("image report has %d entries", len(report))
	}
	requireString(t, payload["result_path"], "result_path")
	name := requireString(t, payload["result_filename"], "result_filename")

	resp, data := client.get(t, "/results/"+name)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET result status = %d", resp.StatusCode)
	}
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "image/jpeg") {
		t.Fatalf("result content-type = %q", resp.Header.Get("Content-Type"))
	}
	if len(data) < 2 || data[0] != 0xFF || data[1] != 0xD8 {
		t.Fatalf("result is not a JPEG")
	}
}

func TestAPIMissingResult(t *testing.T) {
	client := newAPIClient(t)
	resp, _ := client.get(t, "/results/does-not-exist.jpg")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing result status = %d", resp.StatusCode)
	}
}

func TestAPIMalformedZone(t *testing.T) {
	client := newAPIClient(t)
	resp, _ := client.upload(t, "sample.jpg", sampleJPEG(t), map[string]string{"zone": "[[0,0],[1"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("malformed zone status = %d", resp.StatusCode)
	}
}
