package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandlerExportsCounters(t *testing.T) {
	m := New()
	m.ImageUploads.Add(2)
	m.FramesProcessed.Add(7)
	m.LiveActiveClients.Add(1)
	m.UpdateInferenceLatency(42 * time.Millisecond)
	m.WatchInferenceSessions(func() int64 { return 3 })

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	out := string(body)

	for _, want := range []string{
		"detection_uploads_image_total 2",
		"detection_frames_processed_total 7",
		"detection_live_active_clients 1",
		"detection_inference_latency_ms 42",
		"detection_inference_sessions_in_use 3",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("metrics output missing %q:\n%s", want, out)
		}
	}
}
