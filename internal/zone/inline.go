package zone

import (
	"encoding/json"
	"strings"

	"github.com/spf13/cast"

	"github.com/dj-oyu/zonewatch/detection-server/internal/apperror"
)

// ParseInline decodes a zone supplied as a JSON point list. Blank input,
// null and [] yield the empty polygon. A list nested one level deeper than
// needed ([[[x,y],...]]) is unwrapped once.
func ParseInline(raw string) (Polygon, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return nil, nil
	}

	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, apperror.New(apperror.Validation, err, "malformed zone JSON")
	}
	return FromValue(decoded)
}

// FromValue converts an already decoded JSON value into a polygon.
func FromValue(v any) (Polygon, error) {
	if v == nil {
		return nil, nil
	}
	items, err := cast.ToSliceE(v)
	if err != nil {
		return nil, apperror.New(apperror.Validation, err, "zone must be a list of [x, y] points")
	}
	if len(items) == 1 && isPointList(items[0]) {
		items, _ = cast.ToSliceE(items[0])
	}
	if len(items) == 0 {
		return nil, nil
	}

	poly := make(Polygon, 0, len(items))
	for i, item := range items {
		pt, err := toPoint(item)
		if err != nil {
			return nil, apperror.New(apperror.Validation, err, "zone point %d is invalid", i)
		}
		poly = append(poly, pt)
	}
	if !poly.Valid() {
		return nil, apperror.Validationf("zone needs at least %d points, got %d", MinPoints, len(poly))
	}
	return poly, nil
}

// isPointList reports whether v is an empty list or a list whose first
// element is itself a list.
func isPointList(v any) bool {
	inner, err := cast.ToSliceE(v)
	if err != nil {
		return false
	}
	if len(inner) == 0 {
		return true
	}
	_, err = cast.ToSliceE(inner[0])
	return err == nil
}

func toPoint(v any) (Point, error) {
	pair, err := cast.ToSliceE(v)
	if err != nil {
		return Point{}, err
	}
	if len(pair) != 2 {
		return Point{}, apperror.Validationf("expected 2 coordinates, got %d", len(pair))
	}
	x, err := cast.ToFloat64E(pair[0])
	if err != nil {
		return Point{}, err
	}
	y, err := cast.ToFloat64E(pair[1])
	if err != nil {
		return Point{}, err
	}
	return Point{X: x, Y: y}, nil
}
