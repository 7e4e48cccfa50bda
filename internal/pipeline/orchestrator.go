// Package pipeline runs uploads through preprocess, inference and
// postprocess in strict frame order and collects the per-frame report.
package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dj-oyu/zonewatch/detection-server/internal/apperror"
	"github.com/dj-oyu/zonewatch/detection-server/internal/inference"
	"github.com/dj-oyu/zonewatch/detection-server/internal/logger"
	"github.com/dj-oyu/zonewatch/detection-server/internal/metrics"
	"github.com/dj-oyu/zonewatch/detection-server/internal/storage"
	"github.com/dj-oyu/zonewatch/detection-server/internal/vision"
	"github.com/dj-oyu/zonewatch/detection-server/internal/zone"
	"github.com/dj-oyu/zonewatch/detection-server/pkg/types"
)

// ProcessedFramePattern names annotated video frames inside a result directory.
const ProcessedFramePattern = "frame_proc_%04d.jpg"

// Preprocessor turns uploads into decoded frames.
type Preprocessor interface {
	PrepareImage(ctx context.Context, path string) (image.Image, error)
	ExtractFrames(ctx context.Context, src, dir string) ([]string, error)
	LoadFrame(ctx context.Context, path string) (image.Image, error)
}

// Postprocessor filters and draws detections onto a frame.
type Postprocessor interface {
	Annotate(img image.Image, dets []types.RawDetection, o vision.Overlay) (*image.RGBA, types.FrameRecord)
}

// Params are the per-request filters and the frame timestamps.
type Params struct {
	Classes    types.ClassFilter
	Zone       zone.Polygon
	Timestamps []string
}

// Config tunes the orchestrator.
type Config struct {
	WorkDir     string // parent of per-video frame directories
	Workers     int    // concurrent inference calls per video, 1 when zero
	JPEGQuality int
}

// ImageResult is the outcome of an image upload.
type ImageResult struct {
	Path     string
	Filename string
	Report   Report
}

// VideoResult is the outcome of a video upload.
type VideoResult struct {
	Frames    []string
	Directory string
	Report    Report
}

// Orchestrator drives the image and video paths.
type Orchestrator struct {
	cfg      Config
	pre      Preprocessor
	det      inference.Detector
	post     Postprocessor
	store    storage.Store
	metrics  *metrics.Metrics
	log      logger.Module
	newToken func() string
}

// New returns an orchestrator. A nil m gets a private Metrics.
func New(cfg Config, pre Preprocessor, det inference.Detector, post Postprocessor, store storage.Store, m *metrics.Metrics) *Orchestrator {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = os.TempDir()
	}
	if m == nil {
		m = metrics.New()
	}
	return &Orchestrator{
		cfg:      cfg,
		pre:      pre,
		det:      det,
		post:     post,
		store:    store,
		metrics:  m,
		log:      logger.With("Pipeline"),
		newToken: uuid.NewString,
	}
}

// ProcessImage runs one still image through the pipeline and stores the
// annotated result as result_<token>.jpg.
func (o *Orchestrator) ProcessImage(ctx context.Context, src string, p Params) (*ImageResult, error) {
	res, err := o.processImage(ctx, src, p)
	if err != nil {
		o.metrics.PipelineErrors.Add(1)
		return nil, err
	}
	return res, nil
}

func (o *Orchestrator) processImage(ctx context.Context, src string, p Params) (*ImageResult, error) {
	log := o.log.Sub("image")

	img, err := o.pre.PrepareImage(ctx, src)
	if err != nil {
		return nil, apperror.Pipelinef(err, "preprocessing failed")
	}

	dets, err := o.detect(ctx, img)
	if err != nil {
		return nil, apperror.Pipelinef(err, "inference failed")
	}

	ts := ""
	if len(p.Timestamps) > 0 {
		ts = p.Timestamps[0]
	}
	out, rec := o.post.Annotate(img, dets, vision.Overlay{
		FrameIndex: 0,
		Timestamp:  ts,
		Classes:    p.Classes,
		Zone:       p.Zone,
	})

	key, err := storage.Key("result_" + o.newToken() + ".jpg")
	if err != nil {
		return nil, apperror.Pipelinef(err, "name result")
	}
	if err := o.write(ctx, key, out); err != nil {
		return nil, apperror.Pipelinef(err, "postprocessing failed")
	}

	agg := NewAggregator(1)
	if err := agg.Add(rec); err != nil {
		return nil, apperror.Pipelinef(err, "aggregate report")
	}
	o.metrics.FramesProcessed.Add(1)
	o.metrics.DetectionsReported.Add(uint64(rec.Count))

	log.Info("%s: %d raw, %d kept -> %s", filepath.Base(src), len(dets), rec.Count, key)
	return &ImageResult{
		Path:     o.store.Location(key),
		Filename: key,
		Report:   agg.Report(),
	}, nil
}

// ProcessVideo extracts every frame of src, runs inference on all of them and
// then annotates them in index order. The request fails as a whole if the
// frame count differs from the timestamp count or any frame fails.
func (o *Orchestrator) ProcessVideo(ctx context.Context, src string, p Params) (*VideoResult, error) {
	res, err := o.processVideo(ctx, src, p)
	if err != nil {
		o.metrics.PipelineErrors.Add(1)
		return nil, err
	}
	return res, nil
}

func (o *Orchestrator) processVideo(ctx context.Context, src string, p Params) (_ *VideoResult, err error) {
	log := o.log.Sub("video")
	token := o.newToken()

	work := filepath.Join(o.cfg.WorkDir, "frames_"+token)
	if err := os.MkdirAll(work, 0o755); err != nil {
		return nil, apperror.Pipelinef(err, "create frame directory")
	}
	defer func() {
		if err := os.RemoveAll(work); err != nil {
			log.Warn("Failed to remove %s: %v", work, err)
		}
	}()

	frames, err := o.pre.ExtractFrames(ctx, src, work)
	if err != nil {
		return nil, apperror.Pipelinef(err, "preprocessing failed")
	}
	if len(frames) != len(p.Timestamps) {
		return nil, apperror.Pipelinef(nil, "extracted %d frames but reconstructed %d timestamps", len(frames), len(p.Timestamps))
	}
	log.Debug("%s: %d frames extracted to %s", filepath.Base(src), len(frames), work)

	results, err := o.inferAll(ctx, frames)
	if err != nil {
		return nil, err
	}

	// Frames already stored are dropped if a later one fails.
	defer func() {
		if err == nil {
			return
		}
		if rerr := o.store.RemovePrefix(context.WithoutCancel(ctx), token); rerr != nil {
			log.Warn("Failed to remove partial results %s: %v", token, rerr)
		}
	}()

	agg := NewAggregator(len(frames))
	names := make([]string, len(frames))
	for i, path := range frames {
		if err := ctx.Err(); err != nil {
			return nil, apperror.Pipelinef(err, "postprocessing cancelled at frame %d", i)
		}
		img, err := o.pre.LoadFrame(ctx, path)
		if err != nil {
			return nil, apperror.Pipelinef(err, "postprocessing failed at frame %d", i)
		}
		out, rec := o.post.Annotate(img, results[i], vision.Overlay{
			FrameIndex: i,
			Timestamp:  p.Timestamps[i],
			Classes:    p.Classes,
			Zone:       p.Zone,
		})

		name := fmt.Sprintf(ProcessedFramePattern, i)
		key, err := storage.Key(token, name)
		if err != nil {
			return nil, apperror.Pipelinef(err, "name frame %d", i)
		}
		if err := o.write(ctx, key, out); err != nil {
			return nil, apperror.Pipelinef(err, "postprocessing failed at frame %d", i)
		}
		if err := agg.Add(rec); err != nil {
			return nil, apperror.Pipelinef(err, "aggregate report")
		}
		names[i] = name
		o.metrics.FramesProcessed.Add(1)
		o.metrics.DetectionsReported.Add(uint64(rec.Count))
	}

	report := agg.Report()
	log.Info("%s: %d frames, %d detections -> %s", filepath.Base(src), len(report), report.Detections(), token)
	return &VideoResult{Frames: names, Directory: token, Report: report}, nil
}

// inferAll runs the detector on every frame. Results land in the slot of
// their frame index regardless of completion order.
func (o *Orchestrator) inferAll(ctx context.Context, frames []string) ([][]types.RawDetection, error) {
	results := make([][]types.RawDetection, len(frames))
	workers := min(o.cfg.Workers, len(frames))

	if workers <= 1 {
		for i, path := range frames {
			dets, err := o.inferFrame(ctx, path)
			if err != nil {
				return nil, apperror.Pipelinef(err, "inference failed at frame %d", i)
			}
			results[i] = dets
		}
		return results, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	jobs := make(chan int)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				dets, err := o.inferFrame(ctx, frames[i])
				if err != nil {
					errOnce.Do(func() {
						firstErr = apperror.Pipelinef(err, "inference failed at frame %d", i)
						cancel()
					})
					continue
				}
				results[i] = dets
			}
		}()
	}

feed:
	for i := range frames {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, apperror.Pipelinef(err, "inference cancelled")
	}
	return results, nil
}

func (o *Orchestrator) inferFrame(ctx context.Context, path string) ([]types.RawDetection, error) {
	img, err := o.pre.LoadFrame(ctx, path)
	if err != nil {
		return nil, err
	}
	return o.detect(ctx, img)
}

func (o *Orchestrator) detect(ctx context.Context, img image.Image) ([]types.RawDetection, error) {
	start := time.Now()
	dets, err := o.det.Detect(ctx, img)
	o.metrics.UpdateInferenceLatency(time.Since(start))
	return dets, err
}

func (o *Orchestrator) write(ctx context.Context, key string, img image.Image) error {
	data, err := vision.EncodeJPEG(img, o.cfg.JPEGQuality)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return o.store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), "image/jpeg")
}
