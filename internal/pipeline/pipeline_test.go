package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dj-oyu/zonewatch/detection-server/internal/apperror"
	"github.com/dj-oyu/zonewatch/detection-server/internal/inference"
	"github.com/dj-oyu/zonewatch/detection-server/internal/storage"
	"github.com/dj-oyu/zonewatch/detection-server/internal/vision"
	"github.com/dj-oyu/zonewatch/detection-server/pkg/types"
)

const baseWidth = 32

// fakePre produces frames whose width encodes their index.
type fakePre struct {
	frames     int
	extractErr error
}

func (f *fakePre) PrepareImage(ctx context.Context, path string) (image.Image, error) {
	return image.NewRGBA(image.Rect(0, 0, 64, 48)), nil
}

func (f *fakePre) ExtractFrames(ctx context.Context, src, dir string) ([]string, error) {
	if f.extractErr != nil {
		return nil, f.extractErr
	}
	var paths []string
	for i := range f.frames {
		p := filepath.Join(dir, fmt.Sprintf(vision.FramePattern, i))
		if err := os.WriteFile(p, nil, 0o644); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}

func (f *fakePre) LoadFrame(ctx context.Context, path string) (image.Image, error) {
	var i int
	if _, err := fmt.Sscanf(filepath.Base(path), "frame_%04d.jpg", &i); err != nil {
		return nil, err
	}
	return image.NewRGBA(image.Rect(0, 0, baseWidth+i, 24)), nil
}

// indexDetector reports one box per frame with confidence index/100.
func indexDetector(delay func(i int) time.Duration, failAt int) inference.Detector {
	return inference.Func(func(ctx context.Context, img image.Image) ([]types.RawDetection, error) {
		i := img.Bounds().Dx() - baseWidth
		if delay != nil {
			time.Sleep(delay(i))
		}
		if i == failAt {
			return nil, errors.New("model crashed")
		}
		return []types.RawDetection{{
			ClassName:  "dog",
			Confidence: float32(i) / 100,
			Box:        image.Rect(1, 1, 5, 5),
		}}, nil
	})
}

func stamps(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("2024-01-01 00:00:00.%03d", i*100)
	}
	return out
}

func newTestOrchestrator(t *testing.T, pre Preprocessor, det inference.Detector, workers int) (*Orchestrator, string, string) {
	t.Helper()
	root := t.TempDir()
	results := filepath.Join(root, "results")
	work := filepath.Join(root, "work")
	store, err := storage.NewLocal(results)
	if err != nil {
		t.Fatal(err)
	}
	o := New(Config{WorkDir: work, Workers: workers}, pre, det, vision.NewAnnotator(), store, nil)
	var n atomic.Int32
	o.newToken = func() string { return fmt.Sprintf("tok%d", n.Add(1)) }
	return o, results, work
}

func TestProcessImage(t *testing.T) {
	o, results, _ := newTestOrchestrator(t, &fakePre{}, indexDetector(nil, -1), 1)

	res, err := o.ProcessImage(context.Background(), "in.jpg", Params{Timestamps: []string{"2024-01-01 00:00:00.000"}})
	if err != nil {
		t.Fatalf("ProcessImage: %v", err)
	}
	if res.Filename != "result_tok1.jpg" {
		t.Fatalf("filename = %q", res.Filename)
	}
	if len(res.Report) != 1 || res.Report[0].FrameIndex != 0 || res.Report[0].Timestamp != "2024-01-01 00:00:00.000" {
		t.Fatalf("unexpected report %+v", res.Report)
	}
	if _, err := os.Stat(filepath.Join(results, res.Filename)); err != nil {
		t.Fatalf("result not stored: %v", err)
	}
	if !strings.HasSuffix(res.Path, res.Filename) {
		t.Fatalf("path = %q", res.Path)
	}
}

func TestProcessImageInferenceFailure(t *testing.T) {
	det := inference.Func(func(context.Context, image.Image) ([]types.RawDetection, error) {
		return nil, errors.New("no session")
	})
	o, results, _ := newTestOrchestrator(t, &fakePre{}, det, 1)

	_, err := o.ProcessImage(context.Background(), "in.jpg", Params{Timestamps: []string{"x"}})
	if !apperror.Is(err, apperror.Pipeline) {
		t.Fatalf("error = %v, want pipeline", err)
	}
	if entries, _ := os.ReadDir(results); len(entries) != 0 {
		t.Fatalf("result written on failure: %v", entries)
	}
	if o.metrics.PipelineErrors.Load() != 1 {
		t.Fatalf("pipeline error not counted")
	}
}

func TestProcessVideoOrdered(t *testing.T) {
	for _, workers := range []int{1, 4} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			const n = 6
			// Later frames finish first when run concurrently.
			delay := func(i int) time.Duration { return time.Duration(n-i) * 3 * time.Millisecond }
			o, results, work := newTestOrchestrator(t, &fakePre{frames: n}, indexDetector(delay, -1), workers)

			ts := stamps(n)
			res, err := o.ProcessVideo(context.Background(), "in.mp4", Params{Timestamps: ts, Classes: types.NewClassFilter("dog")})
			if err != nil {
				t.Fatalf("ProcessVideo: %v", err)
			}
			if res.Directory != "tok1" {
				t.Fatalf("directory = %q", res.Directory)
			}
			if len(res.Report) != n || len(res.Frames) != n {
				t.Fatalf("report %d, frames %d", len(res.Report), len(res.Frames))
			}
			for i, rec := range res.Report {
				if rec.FrameIndex != i || rec.Timestamp != ts[i] {
					t.Fatalf("record %d = %+v", i, rec)
				}
				if rec.Count != 1 || rec.Detections[0].Confidence != float64(i)/100 {
					t.Fatalf("record %d carries detections of another frame: %+v", i, rec.Detections)
				}
				want := fmt.Sprintf("frame_proc_%04d.jpg", i)
				if res.Frames[i] != want {
					t.Fatalf("frame %d name = %q", i, res.Frames[i])
				}
				if _, err := os.Stat(filepath.Join(results, "tok1", want)); err != nil {
					t.Fatalf("frame %d not stored: %v", i, err)
				}
			}

			if entries, _ := os.ReadDir(work); len(entries) != 0 {
				t.Fatalf("work directory not cleaned: %v", entries)
			}
		})
	}
}

func TestProcessVideoFrameCountMismatch(t *testing.T) {
	o, results, work := newTestOrchestrator(t, &fakePre{frames: 3}, indexDetector(nil, -1), 1)

	_, err := o.ProcessVideo(context.Background(), "in.mp4", Params{Timestamps: stamps(2)})
	if !apperror.Is(err, apperror.Pipeline) || !strings.Contains(err.Error(), "3 frames") {
		t.Fatalf("error = %v", err)
	}
	if entries, _ := os.ReadDir(results); len(entries) != 0 {
		t.Fatalf("partial results written: %v", entries)
	}
	if entries, _ := os.ReadDir(work); len(entries) != 0 {
		t.Fatalf("work directory not cleaned: %v", entries)
	}
}

func TestProcessVideoAbortsOnFrameFailure(t *testing.T) {
	for _, workers := range []int{1, 3} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			o, results, _ := newTestOrchestrator(t, &fakePre{frames: 5}, indexDetector(nil, 2), workers)

			res, err := o.ProcessVideo(context.Background(), "in.mp4", Params{Timestamps: stamps(5)})
			if err == nil || res != nil {
				t.Fatalf("expected failure, got %+v", res)
			}
			if !strings.Contains(err.Error(), "frame 2") {
				t.Fatalf("error does not name the frame: %v", err)
			}
			if entries, _ := os.ReadDir(results); len(entries) != 0 {
				t.Fatalf("partial results written: %v", entries)
			}
		})
	}
}

func TestProcessVideoExtractFailure(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, &fakePre{extractErr: errors.New("ffmpeg: exit status 1")}, indexDetector(nil, -1), 1)
	if _, err := o.ProcessVideo(context.Background(), "in.mp4", Params{}); !apperror.Is(err, apperror.Pipeline) {
		t.Fatalf("error = %v", err)
	}
}

func TestAggregatorRejectsOutOfOrder(t *testing.T) {
	a := NewAggregator(3)
	if err := a.Add(types.FrameRecord{FrameIndex: 0}); err != nil {
		t.Fatal(err)
	}
	if err := a.Add(types.FrameRecord{FrameIndex: 1, Count: 2}); err != nil {
		t.Fatal(err)
	}
	if err := a.Add(types.FrameRecord{FrameIndex: 1}); err == nil {
		t.Fatalf("duplicate index accepted")
	}
	if err := a.Add(types.FrameRecord{FrameIndex: 0}); err == nil {
		t.Fatalf("earlier index accepted")
	}
	if a.Len() != 2 || a.Report().Detections() != 2 {
		t.Fatalf("unexpected report %+v", a.Report())
	}
}

// flakyStore fails the failAt-th Put (1-based) and delegates the rest.
type flakyStore struct {
	*storage.Local
	puts   atomic.Int32
	failAt int32
}

func (s *flakyStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	if s.puts.Add(1) == s.failAt {
		return errors.New("disk full")
	}
	return s.Local.Put(ctx, key, r, size, contentType)
}

func TestProcessVideoStoreFailureRemovesWrittenFrames(t *testing.T) {
	root := t.TempDir()
	local, err := storage.NewLocal(filepath.Join(root, "results"))
	if err != nil {
		t.Fatal(err)
	}
	store := &flakyStore{Local: local, failAt: 3}
	o := New(Config{WorkDir: filepath.Join(root, "work")}, &fakePre{frames: 5}, indexDetector(nil, -1), vision.NewAnnotator(), store, nil)
	o.newToken = func() string { return "tok" }

	_, err = o.ProcessVideo(context.Background(), "in.mp4", Params{Timestamps: stamps(5)})
	if !apperror.Is(err, apperror.Pipeline) || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("error = %v", err)
	}
	if store.puts.Load() != 3 {
		t.Fatalf("puts = %d, want the loop to stop at the failing frame", store.puts.Load())
	}
	if _, err := os.Stat(filepath.Join(root, "results", "tok")); !os.IsNotExist(err) {
		entries, _ := os.ReadDir(filepath.Join(root, "results", "tok"))
		t.Fatalf("partial frames left behind: %v", entries)
	}
}
