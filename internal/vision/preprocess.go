package vision

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
)

// FramePattern names extracted video frames, numbered from 0.
const FramePattern = "frame_%04d.jpg"

// Preprocessor decodes uploads into frames ready for inference.
type Preprocessor struct {
	FFmpegPath string // "ffmpeg" when empty
	MaxWidth   int    // downscale wider frames to this width; 0 keeps the source size
}

// PrepareImage decodes the still image at path, applying EXIF orientation and
// the width limit.
func (p *Preprocessor) PrepareImage(ctx context.Context, path string) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image %s: %w", filepath.Base(path), err)
	}
	if p.MaxWidth > 0 && img.Bounds().Dx() > p.MaxWidth {
		img = imaging.Resize(img, p.MaxWidth, 0, imaging.Lanczos)
	}
	return img, nil
}

// LoadFrame decodes one extracted frame.
func (p *Preprocessor) LoadFrame(ctx context.Context, path string) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img, err := imaging.Open(path)
	if err != nil {
		return nil, fmt.Errorf("decode frame %s: %w", filepath.Base(path), err)
	}
	return img, nil
}

// ExtractFrames writes every frame of the video at src into dir as
// FramePattern and returns their paths in frame order.
func (p *Preprocessor) ExtractFrames(ctx context.Context, src, dir string) ([]string, error) {
	bin := p.FFmpegPath
	if bin == "" {
		bin = "ffmpeg"
	}

	args := []string{"-nostdin", "-v", "error", "-i", src, "-vsync", "passthrough"}
	if p.MaxWidth > 0 {
		w := strconv.Itoa(p.MaxWidth)
		args = append(args, "-vf", "scale='min("+w+",iw)':-2")
	}
	args = append(args, "-q:v", "2", "-start_number", "0", filepath.Join(dir, FramePattern))

	cmd := exec.CommandContext(ctx, bin, args...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	cmd.Stdout = io.Discard
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return nil, fmt.Errorf("ffmpeg: %w", err)
		}
		return nil, fmt.Errorf("ffmpeg: %w: %s", err, msg)
	}
	return ListFrames(dir)
}

// ListFrames returns the extracted frames in dir in frame order.
func ListFrames(dir string) ([]string, error) {
	frames, err := filepath.Glob(filepath.Join(dir, "frame_*.jpg"))
	if err != nil {
		return nil, err
	}
	sort.SliceStable(frames, func(i, j int) bool {
		return frameNumber(frames[i]) < frameNumber(frames[j])
	})
	return frames, nil
}

func frameNumber(path string) int {
	name := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(path), "frame_"), ".jpg")
	n, err := strconv.Atoi(name)
	if err != nil {
		return -1
	}
	return n
}
