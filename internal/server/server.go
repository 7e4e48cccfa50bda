// Package server exposes the upload, result and live stream endpoints.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/dj-oyu/zonewatch/detection-server/internal/logger"
	"github.com/dj-oyu/zonewatch/detection-server/internal/metrics"
	"github.com/dj-oyu/zonewatch/detection-server/internal/pipeline"
	"github.com/dj-oyu/zonewatch/detection-server/internal/storage"
	"github.com/dj-oyu/zonewatch/detection-server/internal/timestamps"
	"github.com/dj-oyu/zonewatch/detection-server/internal/zone"
	"github.com/dj-oyu/zonewatch/detection-server/pkg/types"
)

// TimestampSource reconstructs per-frame timestamps of a stored upload.
type TimestampSource interface {
	Reconstruct(ctx context.Context, path string) (timestamps.Sequence, error)
}

// Pipeline processes stored uploads.
type Pipeline interface {
	ProcessImage(ctx context.Context, path string, p pipeline.Params) (*pipeline.ImageResult, error)
	ProcessVideo(ctx context.Context, path string, p pipeline.Params) (*pipeline.VideoResult, error)
}

// LiveSource produces annotated JPEG frames for one client.
type LiveSource interface {
	Frames(ctx context.Context, classes types.ClassFilter, z zone.Polygon) (<-chan []byte, error)
}

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// Deps are the collaborators of a Server. Live and Health are optional.
type Deps struct {
	Timestamps TimestampSource
	Pipeline   Pipeline
	Store      storage.Store
	Live       LiveSource
	Metrics    *metrics.Metrics
	Health     map[string]HealthCheck
}

// Server serves the detection API.
type Server struct {
	cfg     Config
	zones   *zone.Cache
	times   TimestampSource
	pipe    Pipeline
	store   storage.Store
	live    LiveSource
	metrics *metrics.Metrics
	health  map[string]HealthCheck
	log     logger.Module
}

// NewServer returns a configured server.
func NewServer(cfg Config, deps Deps) *Server {
	def := DefaultConfig()
	if cfg.UploadDir == "" {
		cfg.UploadDir = def.UploadDir
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = def.MaxUploadBytes
	}
	if cfg.MaxMemoryBytes <= 0 {
		cfg.MaxMemoryBytes = def.MaxMemoryBytes
	}
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = def.KeepaliveInterval
	}
	m := deps.Metrics
	if m == nil {
		m = metrics.New()
	}
	return &Server{
		cfg:     cfg,
		zones:   zone.NewCache(cfg.ZoneTTL),
		times:   deps.Timestamps,
		pipe:    deps.Pipeline,
		store:   deps.Store,
		live:    deps.Live,
		metrics: m,
		health:  deps.Health,
		log:     logger.With("HTTP"),
	}
}

// Zones exposes the zone cache shared by all sessions.
func (s *Server) Zones() *zone.Cache {
	return s.zones
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/upload/", s.handleUpload).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/upload", s.handleUpload).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/results/{filename}", s.handleResult).Methods(http.MethodGet, http.MethodHead, http.MethodOptions)
	r.HandleFunc("/results/{directory}/{filename}", s.handleResult).Methods(http.MethodGet, http.MethodHead, http.MethodOptions)
	r.HandleFunc("/video_feed/", s.handleVideoFeed(false)).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/video_feed_raw/", s.handleVideoFeed(true)).Methods(http.MethodGet, http.MethodOptions)
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet, http.MethodOptions)

	r.Use(mux.CORSMethodMiddleware(r), s.cors)
	return r
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.CORSOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", s.cfg.CORSOrigin)
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := "ok"
	checks := make(map[string]string, len(s.health))
	for name, check := range s.health {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			status = "degraded"
			continue
		}
		checks[name] = "ok"
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSONWithStatus(w, map[string]any{
		"status":       status,
		"checks":       checks,
		"cached_zones": s.zones.Len(),
		"live":         s.live != nil,
	}, code)
}
