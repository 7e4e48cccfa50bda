package apicompat

import (
	"bufio"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestAPIVideoFeed(t *testing.T) {
	client := newAPIClient(t)
	resp := client.getResponse(t, "/video_feed/?classes=person")
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusServiceUnavailable {
		t.Skip("live stream not configured on target server")
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /video_feed/ status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "multipart/x-mixed-replace") {
		t.Fatalf("content-type = %q", ct)
	}

	done := make(chan string, 1)
	go func() {
		line, _ := bufio.NewReader(resp.Body).ReadString('\n')
		done <- line
	}()
	select {
	case line := <-done:
		if strings.TrimSpace(line) != "--frame" {
			t.Fatalf("first line = %q", line)
		}
	case <-time.After(15 * time.Second):
		t.Fatalf("no frame within 15s")
	}
}
