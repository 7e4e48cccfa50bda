package types

import (
	"image"
	"strings"
)

// RawDetection is one model output before class/zone filtering.
type RawDetection struct {
	ClassID    int             // Model class index
	ClassName  string          // Human readable label
	Confidence float32         // Score in [0, 1]
	Box        image.Rectangle // Pixel coordinates in the inferred frame
}

// Center returns the box centre used for zone membership.
func (d RawDetection) Center() (float64, float64) {
	return float64(d.Box.Min.X+d.Box.Max.X) / 2, float64(d.Box.Min.Y+d.Box.Max.Y) / 2
}

// BoundingBox is the JSON shape of a reported box.
type BoundingBox struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// BoxFromRect converts an image rectangle.
func BoxFromRect(r image.Rectangle) BoundingBox {
	return BoundingBox{X: r.Min.X, Y: r.Min.Y, W: r.Dx(), H: r.Dy()}
}

// Detection is a detection that passed the class and zone filters.
type Detection struct {
	ClassName  string      `json:"class_name"`
	Confidence float64     `json:"confidence"`
	BBox       BoundingBox `json:"bbox"`
}

// FrameRecord is the postprocessed result of one frame.
type FrameRecord struct {
	FrameIndex int         `json:"frame_index"`
	Timestamp  string      `json:"timestamp"`
	Count      int         `json:"count"`
	Detections []Detection `json:"detections"`
}

// ClassFilter is the set of permitted labels. An empty filter admits every class.
type ClassFilter map[string]struct{}

// NewClassFilter builds a filter from names, ignoring blanks.
func NewClassFilter(names ...string) ClassFilter {
	f := make(ClassFilter, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n != "" {
			f[n] = struct{}{}
		}
	}
	return f
}

// ParseClassList splits a comma-separated query value.
func ParseClassList(s string) ClassFilter {
	if s == "" {
		return NewClassFilter()
	}
	return NewClassFilter(strings.Split(s, ",")...)
}

// Allows reports whether name passes the filter.
func (f ClassFilter) Allows(name string) bool {
	if len(f) == 0 {
		return true
	}
	_, ok := f[name]
	return ok
}

// Names returns the filter contents in no particular order.
func (f ClassFilter) Names() []string {
	out := make([]string, 0, len(f))
	for n := range f {
		out = append(out, n)
	}
	return out
}
