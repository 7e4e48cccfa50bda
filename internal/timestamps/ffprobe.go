package timestamps

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// FFprobe reads container metadata by running the ffprobe binary.
type FFprobe struct {
	Path    string        // Binary path, "ffprobe" when empty
	Timeout time.Duration // Per-call limit, 10s when zero
}

type ffprobeOutput struct {
	Streams []ffprobeStream `json:"streams"`
	Format  struct {
		FormatName string            `json:"format_name"`
		Duration   string            `json:"duration"`
		Tags       map[string]string `json:"tags"`
	} `json:"format"`
}

type ffprobeStream struct {
	CodecType    string            `json:"codec_type"`
	CodecName    string            `json:"codec_name"`
	AvgFrameRate string            `json:"avg_frame_rate"`
	RFrameRate   string            `json:"r_frame_rate"`
	NbFrames     string            `json:"nb_frames"`
	Duration     string            `json:"duration"`
	Tags         map[string]string `json:"tags"`
}

// Probe implements Prober.
func (f FFprobe) Probe(ctx context.Context, path string) (*MediaInfo, error) {
	bin := f.Path
	if bin == "" {
		bin = "ffprobe"
	}
	timeout := f.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, bin, "-v", "quiet", "-print_format", "json", "-show_streams", "-show_format", path)
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe %s: %w", path, err)
	}
	return ParseFFprobe(output)
}

// ParseFFprobe converts ffprobe JSON output into MediaInfo. Still-image
// containers report a video stream; they are mapped to image tracks.
func ParseFFprobe(data []byte) (*MediaInfo, error) {
	var out ffprobeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode ffprobe output: %w", err)
	}

	still := isStillImageFormat(out.Format.FormatName)
	formatDate := containerDate(out.Format.Tags)
	formatDuration := parseSeconds(out.Format.Duration)

	info := &MediaInfo{}
	for _, s := range out.Streams {
		tr := Track{Kind: TrackOther}
		switch s.CodecType {
		case "video":
			if still {
				tr.Kind = TrackImage
			} else {
				tr.Kind = TrackVideo
				tr.FrameRate = parseRate(s.AvgFrameRate)
				if tr.FrameRate == 0 {
					tr.FrameRate = parseRate(s.RFrameRate)
				}
				tr.FrameCount, _ = strconv.Atoi(s.NbFrames)
				tr.DurationMs = parseSeconds(s.Duration) * 1000
				if tr.DurationMs == 0 {
					tr.DurationMs = formatDuration * 1000
				}
			}
		case "audio":
			tr.Kind = TrackAudio
		}
		tr.EncodedDate = containerDate(s.Tags)
		tr.TaggedDate = formatDate
		info.Tracks = append(info.Tracks, tr)
	}
	return info, nil
}

func isStillImageFormat(name string) bool {
	return strings.Contains(name, "image2") || strings.HasSuffix(name, "_pipe")
}

// containerDate renders an ISO-8601 creation_time tag in the "UTC
// 2006-01-02 15:04:05" form used by tagged capture dates. Unrecognised values
// are passed through so the caller can report them.
func containerDate(tags map[string]string) string {
	raw := tags["creation_time"]
	if raw == "" {
		return ""
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return raw
	}
	return utcPrefix + ts.UTC().Format(DateLayout)
}

// parseRate parses "num/den" or a plain number; invalid rates yield 0.
func parseRate(s string) float64 {
	num, den, found := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}

func parseSeconds(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
