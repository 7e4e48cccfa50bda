// Package vision prepares frames for inference and renders filtered
// detections onto them.
package vision

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/dj-oyu/zonewatch/detection-server/internal/zone"
	"github.com/dj-oyu/zonewatch/detection-server/pkg/types"
)

// Overlay selects what Annotate keeps and stamps.
type Overlay struct {
	FrameIndex int
	Timestamp  string
	Classes    types.ClassFilter
	Zone       zone.Polygon // empty = whole frame
}

// Annotator draws boxes, labels, the zone outline and the timestamp.
type Annotator struct {
	BoxColor  color.Color
	ZoneColor color.Color
	TextColor color.Color
	TextBg    color.Color
	Thickness int
}

// NewAnnotator returns an annotator with the default palette.
func NewAnnotator() *Annotator {
	return &Annotator{
		BoxColor:  color.RGBA{R: 0, G: 230, B: 64, A: 255},
		ZoneColor: color.RGBA{R: 255, G: 200, B: 0, A: 255},
		TextColor: color.White,
		TextBg:    color.Black,
		Thickness: 3,
	}
}

// Keep reports whether d passes the class filter and has its box centre
// inside the zone.
func Keep(d types.RawDetection, o Overlay) bool {
	if !o.Classes.Allows(d.ClassName) {
		return false
	}
	cx, cy := d.Center()
	return o.Zone.Contains(cx, cy)
}

// Annotate returns a copy of img with the kept detections drawn, plus the
// frame's record. img is not modified.
func (a *Annotator) Annotate(img image.Image, dets []types.RawDetection, o Overlay) (*image.RGBA, types.FrameRecord) {
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)

	if !o.Zone.Empty() {
		a.drawZone(out, o.Zone)
	}

	rec := types.FrameRecord{
		FrameIndex: o.FrameIndex,
		Timestamp:  o.Timestamp,
		Detections: []types.Detection{},
	}
	for _, d := range dets {
		if !Keep(d, o) {
			continue
		}
		box := d.Box.Sub(b.Min)
		drawRect(out, box, a.BoxColor, a.Thickness)

		labelY := box.Min.Y - labelHeight(2) - 2
		if labelY < 0 {
			labelY = box.Max.Y + 2
		}
		label := fmt.Sprintf("%s %.2f", d.ClassName, d.Confidence)
		drawTextWithBackground(out, box.Min.X, labelY, label, a.TextColor, a.TextBg, 2)

		rec.Detections = append(rec.Detections, types.Detection{
			ClassName:  d.ClassName,
			Confidence: math.Round(float64(d.Confidence)*1e4) / 1e4,
			BBox:       types.BoxFromRect(box),
		})
	}
	rec.Count = len(rec.Detections)

	if o.Timestamp != "" {
		y := max(out.Bounds().Dy()-labelHeight(2)-8, 0)
		drawTextWithBackground(out, 8, y, o.Timestamp, a.TextColor, a.TextBg, 2)
	}
	return out, rec
}

func (a *Annotator) drawZone(img *image.RGBA, poly zone.Polygon) {
	thickness := max(a.Thickness-1, 1)
	for i, p := range poly {
		q := poly[(i+1)%len(poly)]
		drawLine(img,
			int(math.Round(p.X)), int(math.Round(p.Y)),
			int(math.Round(q.X)), int(math.Round(q.Y)),
			a.ZoneColor, thickness)
	}
}
