package server

import (
	"image"
	"image/color"
	"net/http"
	"sync"
	"time"

	"github.com/dj-oyu/zonewatch/detection-server/internal/apperror"
	"github.com/dj-oyu/zonewatch/detection-server/internal/live"
	"github.com/dj-oyu/zonewatch/detection-server/internal/vision"
	"github.com/dj-oyu/zonewatch/detection-server/internal/zone"
	"github.com/dj-oyu/zonewatch/detection-server/pkg/types"
)

var (
	blankOnce  sync.Once
	blankFrame []byte
)

// blankJPEG renders colour bars shown while the camera has nothing to send.
func blankJPEG() []byte {
	blankOnce.Do(func() {
		bars := []color.RGBA{
			{R: 255, G: 255, B: 255, A: 255},
			{R: 255, G: 255, B: 0, A: 255},
			{R: 0, G: 255, B: 255, A: 255},
			{R: 0, G: 255, B: 0, A: 255},
			{R: 255, G: 0, B: 255, A: 255},
			{R: 255, G: 0, B: 0, A: 255},
			{R: 0, G: 0, B: 255, A: 255},
			{R: 0, G: 0, B: 0, A: 255},
		}
		const w, h = 640, 480
		img := image.NewRGBA(image.Rect(0, 0, w, h))
		barWidth := w / len(bars)
		for y := range h {
			for x := range w {
				img.SetRGBA(x, y, bars[min(x/barWidth, len(bars)-1)])
			}
		}
		data, err := vision.EncodeJPEG(img, 75)
		if err == nil {
			blankFrame = data
		}
	})
	return blankFrame
}

// handleVideoFeed streams annotated camera frames. The raw variant also
// applies the zone query parameter.
func (s *Server) handleVideoFeed(applyZone bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		classes := types.ParseClassList(q.Get("classes"))

		var poly zone.Polygon
		if applyZone {
			p, err := zone.ParseInline(q.Get("zone"))
			if err != nil {
				s.fail(w, r, err)
				return
			}
			poly = p
		}

		if s.live == nil {
			writeJSONWithStatus(w, map[string]any{"error": "live stream is not configured"}, http.StatusServiceUnavailable)
			return
		}
		frames, err := s.live.Frames(r.Context(), classes, poly)
		if err != nil {
			s.fail(w, r, apperror.Pipelinef(err, "live stream unavailable"))
			return
		}
		s.streamMJPEG(w, frames)
	}
}

// streamMJPEG writes frames as multipart parts until the channel closes or
// the client goes away. A blank frame is sent after each idle interval.
func (s *Server) streamMJPEG(w http.ResponseWriter, frames <-chan []byte) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", live.ContentType)
	w.Header().Set("Cache-Control", "no-cache")

	idle := time.NewTimer(s.cfg.KeepaliveInterval)
	defer idle.Stop()

	for {
		var frame []byte
		select {
		case data, ok := <-frames:
			if !ok {
				return
			}
			frame = data
		case <-idle.C:
			frame = blankJPEG()
		}
		idle.Reset(s.cfg.KeepaliveInterval)

		if len(frame) == 0 {
			continue
		}
		if err := live.WritePart(w, frame); err != nil {
			s.log.Debug("Client disconnected during write: %v", err)
			return
		}
		flusher.Flush()
	}
}
