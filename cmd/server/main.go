package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/dj-oyu/zonewatch/detection-server/internal/camera"
	"github.com/dj-oyu/zonewatch/detection-server/internal/inference"
	"github.com/dj-oyu/zonewatch/detection-server/internal/live"
	"github.com/dj-oyu/zonewatch/detection-server/internal/logger"
	"github.com/dj-oyu/zonewatch/detection-server/internal/metrics"
	"github.com/dj-oyu/zonewatch/detection-server/internal/pipeline"
	"github.com/dj-oyu/zonewatch/detection-server/internal/server"
	"github.com/dj-oyu/zonewatch/detection-server/internal/storage"
	"github.com/dj-oyu/zonewatch/detection-server/internal/timestamps"
	"github.com/dj-oyu/zonewatch/detection-server/internal/vision"
)

var (
	defaults = server.DefaultConfig()

	// Command-line flags
	httpAddr    = flag.String("http", getEnv("LISTEN_ADDR", defaults.Addr), "HTTP server address")
	metricsAddr = flag.String("metrics", getEnv("METRICS_ADDR", ""), "Separate metrics server address (metrics stay on the API port when empty)")
	uploadDir   = flag.String("upload-dir", getEnv("UPLOAD_DIR", defaults.UploadDir), "Directory for in-flight uploads")
	outputDir   = flag.String("output-dir", getEnv("OUTPUT_DIR", "./results"), "Result directory for the local store")
	workDir     = flag.String("work-dir", getEnv("WORK_DIR", filepath.Join(os.TempDir(), "zonewatch", "work")), "Scratch directory for extracted frames")
	maxUpload   = flag.Int64("max-upload-mb", getEnvInt64("MAX_UPLOAD_MB", defaults.MaxUploadBytes>>20), "Maximum upload size in MiB")
	zoneTTL     = flag.Duration("zone-ttl", getEnvDuration("ZONE_TTL", defaults.ZoneTTL), "Lifetime of a cached zone")
	corsOrigin  = flag.String("cors-origin", getEnv("CORS_ORIGIN", defaults.CORSOrigin), "Access-Control-Allow-Origin value (empty disables CORS)")
	maxWidth    = flag.Int("max-width", int(getEnvInt64("MAX_WIDTH", 0)), "Downscale wider inputs to this width (0 keeps the source size)")

	detectorKind = flag.String("detector", getEnv("DETECTOR", "onnx"), "Detector backend (onnx, http, none)")
	workers      = flag.Int("inference-workers", int(getEnvInt64("INFERENCE_WORKERS", 1)), "Concurrent inference calls per video")
	modelPath    = flag.String("model", getEnv("MODEL_PATH", "./models/yolov8n.onnx"), "ONNX model path")
	ortLibrary   = flag.String("ort-lib", getEnv("ORT_LIBRARY_PATH", ""), "onnxruntime shared library path")
	inputSize    = flag.Int("input-size", int(getEnvInt64("MODEL_INPUT_SIZE", 640)), "Square model input size")
	confidence   = flag.Float64("confidence", inference.DefaultConfidence, "Minimum detection confidence")
	iou          = flag.Float64("iou", inference.DefaultIoU, "NMS IoU threshold")
	inferenceURL = flag.String("inference-url", getEnv("INFERENCE_URL", "http://localhost:8000/predict"), "Remote detector URL")

	storeKind   = flag.String("storage", getEnv("STORAGE", "local"), "Result storage backend (local, minio)")
	s3Endpoint  = flag.String("s3-endpoint", getEnv("S3_ENDPOINT", "localhost:9000"), "S3 endpoint")
	s3AccessKey = flag.String("s3-access-key", getEnv("S3_ACCESS_KEY", ""), "S3 access key")
	s3SecretKey = flag.String("s3-secret-key", getEnv("S3_SECRET_KEY", ""), "S3 secret key")
	s3Bucket    = flag.String("s3-bucket", getEnv("S3_BUCKET", "detections"), "S3 bucket")
	s3Region    = flag.String("s3-region", getEnv("S3_REGION", ""), "S3 region")
	s3Secure    = flag.Bool("s3-secure", getEnv("S3_SECURE", "false") == "true", "Use TLS for S3")

	ffmpegPath    = flag.String("ffmpeg", getEnv("FFMPEG_PATH", "ffmpeg"), "ffmpeg binary")
	ffprobePath   = flag.String("ffprobe", getEnv("FFPROBE_PATH", "ffprobe"), "ffprobe binary")
	cameraDevice  = flag.String("camera", getEnv("CAMERA_DEVICE", ""), "Live camera device or URL (live stream disabled when empty)")
	cameraFormat  = flag.String("camera-format", getEnv("CAMERA_FORMAT", ""), "ffmpeg input format of the camera")
	cameraFPS     = flag.Int("camera-fps", int(getEnvInt64("CAMERA_FPS", 10)), "Live stream frame rate")
	cameraWidth   = flag.Int("camera-width", 0, "Camera capture width")
	cameraHeight  = flag.Int("camera-height", 0, "Camera capture height")
	logLevel      = flag.String("log-level", getEnv("LOG_LEVEL", "info"), "Log level (debug, info, warn, error, silent)")
	logColor      = flag.Bool("log-color", true, "Enable colored log output")
	shutdownGrace = flag.Duration("shutdown-timeout", 10*time.Second, "Graceful shutdown timeout")
)

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if v, err := strconv.ParseInt(getEnv(key, ""), 10, 64); err == nil {
		return v
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return v
	}
	return fallback
}

func main() {
	flag.Parse()

	// Initialize logger
	level, err := logger.ParseLevel(*logLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, *logColor)

	logger.Info("Main", "Detection server starting...")
	logger.Info("Main", "Log level: %s", level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("Server error: %v", err)
	}
	logger.Info("Main", "Server stopped")
}

func run(ctx context.Context) error {
	m := metrics.New()
	health := map[string]server.HealthCheck{}

	det, closeDetector, err := newDetector(m, health)
	if err != nil {
		return fmt.Errorf("failed to create detector: %w", err)
	}
	defer closeDetector()

	store, err := newStore(ctx)
	if err != nil {
		return fmt.Errorf("failed to create result store: %w", err)
	}
	if err := os.MkdirAll(*workDir, 0o755); err != nil {
		return fmt.Errorf("failed to create work directory: %w", err)
	}

	pre := &vision.Preprocessor{FFmpegPath: *ffmpegPath, MaxWidth: *maxWidth}
	annotator := vision.NewAnnotator()
	orch := pipeline.New(pipeline.Config{
		WorkDir: *workDir,
		Workers: *workers,
	}, pre, det, annotator, store, m)

	deps := server.Deps{
		Timestamps: timestamps.NewReconstructor(timestamps.FFprobe{Path: *ffprobePath}),
		Pipeline:   orch,
		Store:      store,
		Metrics:    m,
		Health:     health,
	}
	if *cameraDevice != "" {
		cam := camera.NewFFmpeg(camera.Config{
			FFmpegPath: *ffmpegPath,
			Device:     *cameraDevice,
			Format:     *cameraFormat,
			FPS:        *cameraFPS,
			Width:      *cameraWidth,
			Height:     *cameraHeight,
		})
		deps.Live = live.NewStreamer(cam, det, annotator, m)
		logger.Info("Main", "Live stream source: %s", *cameraDevice)
	} else {
		logger.Info("Main", "No camera configured, live stream disabled")
	}

	cfg := server.DefaultConfig()
	cfg.Addr = *httpAddr
	cfg.UploadDir = *uploadDir
	cfg.MaxUploadBytes = *maxUpload << 20
	cfg.ZoneTTL = *zoneTTL
	cfg.CORSOrigin = *corsOrigin
	srv := server.NewServer(cfg, deps)

	if *metricsAddr != "" {
		go func() {
			logger.Info("Main", "Starting metrics server on %s", *metricsAddr)
			if err := m.StartServer(*metricsAddr); err != nil {
				logger.Error("Main", "Metrics server error: %v", err)
			}
		}()
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Main", "Starting HTTP server on %s", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Main", "Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), *shutdownGrace)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// newDetector builds the configured backend and registers its health check.
func newDetector(m *metrics.Metrics, health map[string]server.HealthCheck) (inference.Detector, func(), error) {
	switch *detectorKind {
	case "onnx":
		d, err := inference.NewONNX(inference.ONNXConfig{
			ModelPath:   *modelPath,
			LibraryPath: *ortLibrary,
			InputSize:   *inputSize,
			PoolSize:    max(*workers, 1),
			Confidence:  float32(*confidence),
			IoU:         *iou,
		})
		if err != nil {
			return nil, nil, err
		}
		m.WatchInferenceSessions(d.SessionsInUse)
		logger.Info("Main", "ONNX detector loaded from %s", *modelPath)
		return d, func() {
			if err := d.Close(); err != nil {
				logger.Warn("Main", "Failed to close detector: %v", err)
			}
		}, nil
	case "http":
		d := inference.NewHTTP(*inferenceURL, 30*time.Second)
		health["detector"] = d.CheckHealth
		logger.Info("Main", "Remote detector at %s", *inferenceURL)
		return d, func() {}, nil
	case "none":
		logger.Warn("Main", "Detector disabled, reports will be empty")
		return inference.Nop{}, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown detector %q", *detectorKind)
	}
}

func newStore(ctx context.Context) (storage.Store, error) {
	switch *storeKind {
	case "local":
		logger.Info("Main", "Results stored under %s", *outputDir)
		return storage.NewLocal(*outputDir)
	case "minio":
		logger.Info("Main", "Results stored in bucket %s at %s", *s3Bucket, *s3Endpoint)
		return storage.NewMinio(ctx, storage.MinioConfig{
			Endpoint:  *s3Endpoint,
			AccessKey: *s3AccessKey,
			SecretKey: *s3SecretKey,
			Bucket:    *s3Bucket,
			Region:    *s3Region,
			Secure:    *s3Secure,
		})
	default:
		return nil, fmt.Errorf("unknown storage backend %q", *storeKind)
	}
}
