package apicompat

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"regexp"
	"testing"
	"time"
)

const defaultRequestTimeout = 60 * time.Second

var timestampPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}\.\d{3}$`)

type apiClient struct {
	baseURL string
	client  *http.Client
}

// newAPIClient targets a running detection server. The suite is skipped
// unless API_BASE_URL is set and the server answers /health.
func newAPIClient(t *testing.T) *apiClient {
	t.Helper()
	baseURL := os.Getenv("API_BASE_URL")
	if baseURL == "" {
		t.Skip("API_BASE_URL not set")
	}
	client := &http.Client{Timeout: defaultRequestTimeout}

	if !isReachable(client, baseURL+"/health") {
		t.Skipf("detection server not reachable at %s", baseURL)
	}

	return &apiClient{
		baseURL: baseURL,
		client:  client,
	}
}

func isReachable(client *http.Client, url string) bool {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode < 500 || resp.StatusCode == http.StatusServiceUnavailable
}

func (c *apiClient) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	return c.do(t, req)
}

func (c *apiClient) getResponse(t *testing.T, path string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

// upload posts filename with content as the "file" part plus fields.
func (c *apiClient) upload(t *testing.T, filename string, content []byte, fields map[string]string) (*http.Response, []byte) {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field %s: %v", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}

	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/upload/", body)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return c.do(t, req)
}

func (c *apiClient) do(t *testing.T, req *http.Request) (*http.Response, []byte) {
	t.Helper()
	resp, err := c.client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	_ = resp.Body.Close()
	return resp, body
}

// sampleJPEG returns a small grey test image.
func sampleJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for y := range 48 {
		for x := range 64 {
			img.Set(x, y, color.RGBA{R: 128, G: 128, B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

func decodeJSONMap(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode json: %v\nbody=%s", err, string(body))
	}
	return payload
}

func requireString(t *testing.T, value any, field string) string {
	t.Helper()
	str, ok := value.(string)
	if !ok {
		t.Fatalf("expected %s to be string, got %T", field, value)
	}
	return str
}

func requireNumber(t *testing.T, value any, field string) float64 {
	t.Helper()
	num, ok := value.(float64)
	if !ok {
		t.Fatalf("expected %s to be number, got %T", field, value)
	}
	return num
}

func requireMap(t *testing.T, value any, field string) map[string]any {
	t.Helper()
	m, ok := value.(map[string]any)
	if !ok {
		t.Fatalf("expected %s to be object, got %T", field, value)
	}
	return m
}

func requireSlice(t *testing.T, value any, field string) []any {
	t.Helper()
	s, ok := value.([]any)
	if !ok {
		t.Fatalf("expected %s to be array, got %T", field, value)
	}
	return s
}

func assertFrameRecord(t *testing.T, payload map[string]any, field string) {
	t.Helper()
	requireNumber(t, payload["frame_index"], field+".frame_index")
	ts := requireString(t, payload["timestamp"], field+".timestamp")
	if !timestampPattern.MatchString(ts) {
		t.Fatalf("%s.timestamp = %q", field, ts)
	}
	count := requireNumber(t, payload["count"], field+".count")
	detections := requireSlice(t, payload["detections"], field+".detections")
	if int(count) != len(detections) {
		t.Fatalf("%s.count = %v, detections = %d", field, count, len(detections))
	}
	for i, raw := range detections {
		det := requireMap(t, raw, fmt.Sprintf("%s.detections[%d]", field, i))
		requireString(t, det["class_name"], "detections.class_name")
		requireNumber(t, det["confidence"], "detections.confidence")
		bbox := requireMap(t, det["bbox"], "detections.bbox")
		requireNumber(t, bbox["x"], "detections.bbox.x")
		requireNumber(t, bbox["y"], "detections.bbox.y")
		requireNumber(t, bbox["w"], "detections.bbox.w")
		requireNumber(t, bbox["h"], "detections.bbox.h")
	}
}

func assertReport(t *testing.T, payload map[string]any) []any {
	t.Helper()
	report := requireSlice(t, payload["report"], "report")
	for i, raw := range report {
		entry := requireMap(t, raw, fmt.Sprintf("report[%d]", i))
		assertFrameRecord(t, entry, fmt.Sprintf("report[%d]", i))
		if int(entry["frame_index"].(float64)) != i {
			t.Fatalf("report[%d].frame_index = %v", i, entry["frame_index"])
		}
	}
	return report
}
