// Package live turns a camera session into a stream of annotated JPEG frames.
package live

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"time"

	"github.com/dj-oyu/zonewatch/detection-server/internal/camera"
	"github.com/dj-oyu/zonewatch/detection-server/internal/inference"
	"github.com/dj-oyu/zonewatch/detection-server/internal/logger"
	"github.com/dj-oyu/zonewatch/detection-server/internal/metrics"
	"github.com/dj-oyu/zonewatch/detection-server/internal/timestamps"
	"github.com/dj-oyu/zonewatch/detection-server/internal/vision"
	"github.com/dj-oyu/zonewatch/detection-server/internal/zone"
	"github.com/dj-oyu/zonewatch/detection-server/pkg/types"
)

// Boundary separates parts of the multipart stream.
const Boundary = "frame"

// ContentType is the response type of a live stream.
const ContentType = "multipart/x-mixed-replace; boundary=" + Boundary

var partHeader = []byte("--" + Boundary + "\r\nContent-Type: image/jpeg\r\n\r\n")

// Annotator filters and draws detections onto a frame.
type Annotator interface {
	Annotate(img image.Image, dets []types.RawDetection, o vision.Overlay) (*image.RGBA, types.FrameRecord)
}

// Streamer runs capture, inference and annotation for each connected client.
type Streamer struct {
	opener  camera.Opener
	det     inference.Detector
	post    Annotator
	metrics *metrics.Metrics
	quality int
	now     func() time.Time
	log     logger.Module
}

// NewStreamer returns a streamer. A nil m gets a private Metrics.
func NewStreamer(opener camera.Opener, det inference.Detector, post Annotator, m *metrics.Metrics) *Streamer {
	if m == nil {
		m = metrics.New()
	}
	return &Streamer{
		opener:  opener,
		det:     det,
		post:    post,
		metrics: m,
		quality: 80,
		now:     time.Now,
		log:     logger.With("Live"),
	}
}

// Frames opens a camera session and returns a channel of annotated JPEG
// frames. The channel is closed and the camera released when ctx ends or the
// source fails. An empty zone keeps detections anywhere in the frame.
func (s *Streamer) Frames(ctx context.Context, classes types.ClassFilter, z zone.Polygon) (<-chan []byte, error) {
	if s.opener == nil {
		return nil, errors.New("no camera configured")
	}
	src, err := s.opener.Open(ctx)
	if err != nil {
		s.metrics.LiveErrors.Add(1)
		return nil, fmt.Errorf("open camera: %w", err)
	}

	s.metrics.LiveActiveClients.Add(1)
	s.metrics.LiveTotalClients.Add(1)

	out := make(chan []byte, 1)
	go func() {
		defer close(out)
		defer s.metrics.LiveActiveClients.Add(-1)
		defer func() {
			if err := src.Close(); err != nil {
				s.log.Debug("Camera close: %v", err)
			}
		}()

		for index := 0; ; index++ {
			frame, err := s.render(ctx, src, index, classes, z)
			if err != nil {
				if ctx.Err() == nil {
					s.metrics.LiveErrors.Add(1)
					s.log.Warn("Stream stopped after %d frames: %v", index, err)
				}
				return
			}
			select {
			case out <- frame:
				s.metrics.LiveFramesSent.Add(1)
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (s *Streamer) render(ctx context.Context, src camera.Source, index int, classes types.ClassFilter, z zone.Polygon) ([]byte, error) {
	img, err := src.Next(ctx)
	if err != nil {
		return nil, err
	}
	dets, err := s.det.Detect(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("inference: %w", err)
	}
	annotated, _ := s.post.Annotate(img, dets, vision.Overlay{
		FrameIndex: index,
		Timestamp:  s.now().Format(timestamps.OutputLayout),
		Classes:    classes,
		Zone:       z,
	})
	return vision.EncodeJPEG(annotated, s.quality)
}

// WritePart writes one JPEG as a multipart part.
func WritePart(w io.Writer, jpeg []byte) error {
	if _, err := w.Write(partHeader); err != nil {
		return err
	}
	if _, err := w.Write(jpeg); err != nil {
		return err
	}
	_, err := w.Write([]byte("\r\n"))
	return err
}
