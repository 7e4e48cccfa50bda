// Package camera reads decoded frames from a capture device or stream URL
// through an ffmpeg child process.
package camera

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/image/bmp"
)

const (
	bmpHeaderSize = 14
	// MaxFrameBytes bounds the size a BMP header may claim.
	MaxFrameBytes = 64 << 20
)

// Config selects the capture input.
type Config struct {
	FFmpegPath string // "ffmpeg" when empty
	Device     string // e.g. /dev/video0, rtsp://host/stream, or a file
	Format     string // ffmpeg input format, e.g. "v4l2"; probed when empty
	FPS        int    // output frame rate; source rate when zero
	Width      int
	Height     int
}

// Source yields frames until it fails or is closed.
type Source interface {
	Next(ctx context.Context) (image.Image, error)
	Close() error
}

// Opener starts a new capture session.
type Opener interface {
	Open(ctx context.Context) (Source, error)
}

// FFmpeg opens one ffmpeg process per session, piping BMP frames.
type FFmpeg struct {
	cfg Config
}

// NewFFmpeg returns an opener for cfg.
func NewFFmpeg(cfg Config) *FFmpeg {
	return &FFmpeg{cfg: cfg}
}

func (f *FFmpeg) args() []string {
	c := f.cfg
	args := []string{"-nostdin", "-v", "error"}
	if strings.HasPrefix(c.Device, "rtsp://") {
		args = append(args, "-rtsp_transport", "tcp")
	}
	if c.Format != "" {
		args = append(args, "-f", c.Format)
	}
	if c.Width > 0 && c.Height > 0 && c.Format != "" {
		args = append(args, "-video_size", fmt.Sprintf("%dx%d", c.Width, c.Height))
	}
	args = append(args, "-i", c.Device)
	if c.FPS > 0 {
		args = append(args, "-r", strconv.Itoa(c.FPS))
	}
	return append(args, "-c:v", "bmp", "-f", "image2pipe", "-")
}

// Open starts ffmpeg. The process is killed when ctx ends or the source is
// closed.
func (f *FFmpeg) Open(ctx context.Context) (Source, error) {
	if f.cfg.Device == "" {
		return nil, errors.New("no camera device configured")
	}
	bin := f.cfg.FFmpegPath
	if bin == "" {
		bin = "ffmpeg"
	}

	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, bin, f.args()...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	pipe, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("camera stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	return &pipeSource{
		cmd:    cmd,
		cancel: cancel,
		reader: bufio.NewReaderSize(pipe, 1<<20),
		stderr: stderr,
	}, nil
}

type pipeSource struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
	reader *bufio.Reader
	stderr *bytes.Buffer

	closeOnce sync.Once
	closeErr  error
	errText   string // ffmpeg stderr, set once the process has been waited on
}

func (s *pipeSource) Next(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img, err := ReadBMP(s.reader)
	if err != nil {
		if errors.Is(err, io.EOF) {
			// stderr is only safe to read after Wait has drained it.
			s.Close()
			if s.errText != "" {
				return nil, fmt.Errorf("camera stream ended: %s", s.errText)
			}
		}
		return nil, err
	}
	return img, nil
}

func (s *pipeSource) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		err := s.cmd.Wait()
		var exitErr *exec.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			s.closeErr = err
		}
		s.errText = strings.TrimSpace(s.stderr.String())
	})
	return s.closeErr
}

// ReadBMP reads one BMP file from r. A clean end of stream between frames
// returns io.EOF.
func ReadBMP(r io.Reader) (image.Image, error) {
	header := make([]byte, bmpHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("truncated bmp header: %w", err)
		}
		return nil, err
	}
	if header[0] != 'B' || header[1] != 'M' {
		return nil, errors.New("not a BMP frame")
	}

	size := binary.LittleEndian.Uint32(header[2:6])
	if size <= bmpHeaderSize || size > MaxFrameBytes {
		return nil, fmt.Errorf("invalid bmp size %d", size)
	}
	frame := make([]byte, size)
	copy(frame, header)
	if _, err := io.ReadFull(r, frame[bmpHeaderSize:]); err != nil {
		return nil, fmt.Errorf("read bmp body: %w", err)
	}

	img, err := bmp.Decode(bytes.NewReader(frame))
	if err != nil {
		return nil, fmt.Errorf("decode bmp: %w", err)
	}
	return img, nil
}
