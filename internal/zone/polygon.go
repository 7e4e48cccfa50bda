// Package zone extracts inclusion polygons from user input and hands the
// last extracted polygon from a zone-definition upload to a later request.
package zone

import (
	"encoding/json"
	"fmt"
)

// CanvasHeight is the height of the drawing surface zone documents are drawn
// on. Its y axis grows upwards, so extracted points are flipped against it.
const CanvasHeight = 200

// MinPoints is the smallest number of vertices of a usable polygon.
const MinPoints = 3

// Point is a vertex in top-left-origin image coordinates.
type Point struct {
	X, Y float64
}

// MarshalJSON encodes the point as an [x, y] pair.
func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{p.X, p.Y})
}

// UnmarshalJSON decodes an [x, y] pair.
func (p *Point) UnmarshalJSON(data []byte) error {
	var pair []float64
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("point must have 2 coordinates, got %d", len(pair))
	}
	p.X, p.Y = pair[0], pair[1]
	return nil
}

// Polygon is an ordered, implicitly closed vertex list. The empty polygon
// places no restriction on detections.
type Polygon []Point

// Empty reports whether the polygon restricts nothing.
func (p Polygon) Empty() bool {
	return len(p) == 0
}

// Valid reports whether the polygon has enough vertices to enclose an area.
func (p Polygon) Valid() bool {
	return len(p) >= MinPoints
}

// Contains reports whether (x, y) lies inside the polygon (ray casting).
// The empty polygon contains every point.
func (p Polygon) Contains(x, y float64) bool {
	if p.Empty() {
		return true
	}
	if !p.Valid() {
		return false
	}

	inside := false
	j := len(p) - 1
	for i := range p {
		xi, yi := p[i].X, p[i].Y
		xj, yj := p[j].X, p[j].Y
		if (yi > y) != (yj > y) && x < (xj-xi)*(y-yi)/(yj-yi)+xi {
			inside = !inside
		}
		j = i
	}
	return inside
}

// Clone returns an independent copy.
func (p Polygon) Clone() Polygon {
	if p == nil {
		return nil
	}
	out := make(Polygon, len(p))
	copy(out, p)
	return out
}
