package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/disintegration/imaging"

	"github.com/dj-oyu/zonewatch/detection-server/pkg/types"
)

// HTTPDetector posts each frame to a remote inference service as a multipart
// "file" upload and reads back {"detections":[{x,y,width,height,class,confidence}]}.
type HTTPDetector struct {
	url    string
	client *http.Client
}

// NewHTTP returns a detector for the service at url.
func NewHTTP(url string, timeout time.Duration) *HTTPDetector {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPDetector{
		url:    strings.TrimRight(url, "/"),
		client: &http.Client{Timeout: timeout},
	}
}

type remoteBox struct {
	X          int     `json:"x"`
	Y          int     `json:"y"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Class      string  `json:"class"`
	ClassID    int     `json:"class_id"`
	Confidence float32 `json:"confidence"`
}

// Detect implements Detector.
func (h *HTTPDetector) Detect(ctx context.Context, img image.Image) ([]types.RawDetection, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", "frame.jpg")
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if err := imaging.Encode(part, img, imaging.JPEG, imaging.JPEGQuality(90)); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("inference failed with status: %d", resp.StatusCode)
	}

	var result struct {
		Detections []remoteBox `json:"detections"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	origin := img.Bounds().Min
	dets := make([]types.RawDetection, 0, len(result.Detections))
	for _, b := range result.Detections {
		dets = append(dets, types.RawDetection{
			ClassID:    b.ClassID,
			ClassName:  b.Class,
			Confidence: b.Confidence,
			Box:        image.Rect(b.X, b.Y, b.X+b.Width, b.Y+b.Height).Add(origin),
		})
	}
	return dets, nil
}

// CheckHealth probes <url>/health.
func (h *HTTPDetector) CheckHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("inference service unhealthy: %d", resp.StatusCode)
	}
	return nil
}
