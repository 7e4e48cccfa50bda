// Package timestamps rebuilds the wall-clock time of every frame of a media
// file from its container metadata, falling back to the file's mtime.
package timestamps

import (
	"context"
	"math"
	"os"
	"strings"
	"time"

	"github.com/dj-oyu/zonewatch/detection-server/internal/apperror"
	"github.com/dj-oyu/zonewatch/detection-server/internal/logger"
)

const (
	// DateLayout is the capture date format found in container tags.
	DateLayout = "2006-01-02 15:04:05"
	// OutputLayout renders a frame timestamp to millisecond precision.
	OutputLayout = "2006-01-02 15:04:05.000"

	utcPrefix = "UTC "
)

// TrackKind classifies a metadata track.
type TrackKind int

const (
	TrackOther TrackKind = iota
	TrackVideo
	TrackImage
	TrackAudio
)

// Track is the subset of per-track container metadata the reconstructor reads.
// Zero values mean "absent".
type Track struct {
	Kind        TrackKind
	FrameRate   float64
	FrameCount  int
	DurationMs  float64
	EncodedDate string
	TaggedDate  string
}

// MediaInfo is the parsed metadata of one file.
type MediaInfo struct {
	Tracks []Track
}

// Prober reads container metadata.
type Prober interface {
	Probe(ctx context.Context, path string) (*MediaInfo, error)
}

// Sequence holds one timestamp per frame, in frame order.
type Sequence []time.Time

// Strings renders every timestamp with OutputLayout.
func (s Sequence) Strings() []string {
	out := make([]string, len(s))
	for i, ts := range s {
		out[i] = ts.Format(OutputLayout)
	}
	return out
}

// At returns the rendered timestamp of frame i, or "" when out of range.
func (s Sequence) At(i int) string {
	if i < 0 || i >= len(s) {
		return ""
	}
	return s[i].Format(OutputLayout)
}

// Reconstructor derives a Sequence for a media file.
type Reconstructor struct {
	prober  Prober
	modTime func(path string) (time.Time, error)
	log     logger.Module
}

// NewReconstructor returns a reconstructor reading metadata through prober.
func NewReconstructor(prober Prober) *Reconstructor {
	return &Reconstructor{
		prober:  prober,
		modTime: fileModTime,
		log:     logger.With("Timestamps"),
	}
}

func fileModTime(path string) (time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

// Reconstruct returns one timestamp per frame of the file at path. Files
// without a known frame rate get a single timestamp.
func (r *Reconstructor) Reconstruct(ctx context.Context, path string) (Sequence, error) {
	info := r.probe(ctx, path)

	var (
		start      time.Time
		haveStart  bool
		frameRate  float64
		frameCount int
		isVideo    bool
	)

	for _, tr := range info.Tracks {
		if tr.Kind == TrackVideo {
			isVideo = true
			if frameRate == 0 && tr.FrameRate > 0 {
				frameRate = tr.FrameRate
			}
			if frameCount == 0 && tr.FrameCount > 0 {
				frameCount = tr.FrameCount
			}
		}
		if haveStart || (tr.Kind != TrackVideo && tr.Kind != TrackImage) {
			continue
		}
		raw := tr.EncodedDate
		if raw == "" {
			raw = tr.TaggedDate
		}
		if raw == "" {
			continue
		}
		if ts, err := ParseCaptureDate(raw); err == nil {
			start, haveStart = ts, true
		} else {
			r.log.Warn("Unrecognised capture date %q in %s: %v", raw, path, err)
		}
	}

	if !haveStart {
		mt, err := r.modTime(path)
		if err != nil {
			return nil, apperror.Pipelinef(err, "read modification time of %s", path)
		}
		start = mt
	}

	if !isVideo || frameRate <= 0 {
		return Sequence{start}, nil
	}

	if frameCount == 0 {
		frameCount = EstimateFrameCount(info.Tracks, frameRate)
	}
	return Build(start, frameRate, frameCount), nil
}

func (r *Reconstructor) probe(ctx context.Context, path string) *MediaInfo {
	if r.prober == nil {
		return &MediaInfo{}
	}
	info, err := r.prober.Probe(ctx, path)
	if err != nil {
		r.log.Warn("%v", apperror.New(apperror.Metadata, err, "probe %s", path))
		return &MediaInfo{}
	}
	if info == nil {
		return &MediaInfo{}
	}
	return info
}

// ParseCaptureDate parses a container date, dropping a literal "UTC " prefix.
func ParseCaptureDate(raw string) (time.Time, error) {
	return time.Parse(DateLayout, strings.TrimSpace(strings.Replace(raw, utcPrefix, "", 1)))
}

// EstimateFrameCount returns floor(duration_s * frameRate) using the first
// video track that has a duration, or 0.
func EstimateFrameCount(tracks []Track, frameRate float64) int {
	for _, tr := range tracks {
		if tr.Kind == TrackVideo && tr.DurationMs > 0 {
			return int(math.Floor(tr.DurationMs / 1000 * frameRate))
		}
	}
	return 0
}

// Build returns count timestamps starting at start, spaced 1/frameRate
// seconds apart. Offsets are rounded to the microsecond.
func Build(start time.Time, frameRate float64, count int) Sequence {
	if count < 0 {
		count = 0
	}
	seq := make(Sequence, count)
	for i := range count {
		us := math.Round(float64(i) / frameRate * 1e6)
		seq[i] = start.Add(time.Duration(us) * time.Microsecond)
	}
	return seq
}
