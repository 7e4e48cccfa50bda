package vision

import (
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var labelFace = basicfont.Face7x13

// drawRect outlines r with the given border thickness, clipped to img.
func drawRect(img *image.RGBA, r image.Rectangle, col color.Color, thickness int) {
	r = r.Intersect(img.Bounds())
	if r.Empty() {
		return
	}
	src := image.NewUniform(col)
	for i := range thickness {
		edges := []image.Rectangle{
			image.Rect(r.Min.X, r.Min.Y+i, r.Max.X, r.Min.Y+i+1),
			image.Rect(r.Min.X, r.Max.Y-i-1, r.Max.X, r.Max.Y-i),
			image.Rect(r.Min.X+i, r.Min.Y, r.Min.X+i+1, r.Max.Y),
			image.Rect(r.Max.X-i-1, r.Min.Y, r.Max.X-i, r.Max.Y),
		}
		for _, e := range edges {
			draw.Draw(img, e.Intersect(r), src, image.Point{}, draw.Src)
		}
	}
}

// drawLine plots a Bresenham line of the given thickness.
func drawLine(img *image.RGBA, x0, y0, x1, y1 int, col color.Color, thickness int) {
	dx, dy := abs(x1-x0), -abs(y1-y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	half := thickness / 2
	src := image.NewUniform(col)
	e := dx + dy
	for {
		dot := image.Rect(x0-half, y0-half, x0-half+thickness, y0-half+thickness)
		draw.Draw(img, dot.Intersect(img.Bounds()), src, image.Point{}, draw.Src)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x0 += sx
		}
		if e2 <= dx {
			e += dx
			y0 += sy
		}
	}
}

// drawTextWithBackground writes text with its top-left corner at (x, y) on a
// filled box with the given padding.
func drawTextWithBackground(img *image.RGBA, x, y int, text string, fg, bg color.Color, pad int) {
	metrics := labelFace.Metrics()
	d := &font.Drawer{Dst: img, Src: image.NewUniform(fg), Face: labelFace}
	width := d.MeasureString(text).Ceil()
	height := (metrics.Ascent + metrics.Descent).Ceil()

	box := image.Rect(x, y, x+width+2*pad, y+height+2*pad).Intersect(img.Bounds())
	draw.Draw(img, box, image.NewUniform(bg), image.Point{}, draw.Src)

	d.Dot = fixed.Point26_6{
		X: fixed.I(x + pad),
		Y: fixed.I(y+pad) + metrics.Ascent,
	}
	d.DrawString(text)
}

// labelHeight is the height of a label box drawn with the given padding.
func labelHeight(pad int) int {
	m := labelFace.Metrics()
	return (m.Ascent + m.Descent).Ceil() + 2*pad
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
