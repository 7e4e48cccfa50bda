package inference

import (
	"image"
	"math"
	"sort"

	"github.com/dj-oyu/zonewatch/detection-server/pkg/types"
)

// Default thresholds used when a config leaves them at zero.
const (
	DefaultConfidence = 0.25
	DefaultIoU        = 0.45
)

// AnchorCount returns the number of predictions a YOLOv8 head emits for a
// square input of the given size (strides 8, 16 and 32).
func AnchorCount(inputSize int) int {
	n := 0
	for _, s := range []int{8, 16, 32} {
		n += (inputSize / s) * (inputSize / s)
	}
	return n
}

// DecodeYOLO reads a YOLOv8 output tensor of shape (1, 4+len(names), anchors)
// into detections in the original frame's coordinates. Boxes are stored as
// centre x, centre y, width, height in input pixels; scaleX and scaleY map
// them back to the frame. Predictions below minConf are dropped.
func DecodeYOLO(out []float32, names []string, scaleX, scaleY float64, frame image.Rectangle, minConf float32) []types.RawDetection {
	rows := 4 + len(names)
	if len(names) == 0 || len(out) < rows || len(out)%rows != 0 {
		return nil
	}
	anchors := len(out) / rows

	var dets []types.RawDetection
	for a := range anchors {
		best, bestScore := -1, minConf
		for c := range names {
			if s := out[(4+c)*anchors+a]; s >= bestScore {
				best, bestScore = c, s
			}
		}
		if best < 0 {
			continue
		}

		cx, cy := float64(out[a]), float64(out[anchors+a])
		w, h := float64(out[2*anchors+a]), float64(out[3*anchors+a])
		box := image.Rect(
			int(math.Round((cx-w/2)*scaleX)),
			int(math.Round((cy-h/2)*scaleY)),
			int(math.Round((cx+w/2)*scaleX)),
			int(math.Round((cy+h/2)*scaleY)),
		).Intersect(frame)
		if box.Empty() {
			continue
		}

		dets = append(dets, types.RawDetection{
			ClassID:    best,
			ClassName:  names[best],
			Confidence: bestScore,
			Box:        box,
		})
	}
	return dets
}

// NMS runs class-aware non-maximum suppression and returns the kept
// detections ordered by descending confidence.
func NMS(dets []types.RawDetection, iouThreshold float64) []types.RawDetection {
	sorted := make([]types.RawDetection, len(dets))
	copy(sorted, dets)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})

	kept := make([]types.RawDetection, 0, len(sorted))
	for _, d := range sorted {
		suppressed := false
		for _, k := range kept {
			if k.ClassID == d.ClassID && IoU(k.Box, d.Box) > iouThreshold {
				suppressed = true
				break
			}
		}
		if !suppressed {
			kept = append(kept, d)
		}
	}
	return kept
}

// IoU returns the intersection-over-union of two rectangles.
func IoU(a, b image.Rectangle) float64 {
	inter := a.Intersect(b)
	if inter.Empty() {
		return 0
	}
	ia := float64(inter.Dx() * inter.Dy())
	union := float64(a.Dx()*a.Dy()+b.Dx()*b.Dy()) - ia
	if union <= 0 {
		return 0
	}
	return ia / union
}
