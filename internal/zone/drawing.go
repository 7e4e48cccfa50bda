package zone

import (
	"encoding/json"

	"github.com/spf13/cast"

	"github.com/dj-oyu/zonewatch/detection-server/internal/apperror"
)

type drawingDocument struct {
	Objects []drawingObject `json:"objects"`
}

type drawingObject struct {
	Type string          `json:"type"`
	Path json.RawMessage `json:"path"`
}

// ExtractFromDrawing returns the polygon traced by the first path object of a
// vector drawing that yields at least MinPoints vertices. Only move-to (M)
// and line-to (L) operands become vertices; curves are skipped. Later paths
// are ignored even when they are valid too.
func ExtractFromDrawing(doc []byte) (Polygon, error) {
	var d drawingDocument
	if err := json.Unmarshal(doc, &d); err != nil {
		return nil, apperror.New(apperror.Validation, err, "malformed zone drawing")
	}

	for _, obj := range d.Objects {
		if obj.Type != "path" {
			continue
		}
		if poly := tracePath(obj.Path); poly.Valid() {
			return poly, nil
		}
	}
	return nil, apperror.Validationf("no valid polygon detected")
}

func tracePath(raw json.RawMessage) Polygon {
	var cmds [][]any
	if err := json.Unmarshal(raw, &cmds); err != nil {
		return nil
	}

	var poly Polygon
	for _, cmd := range cmds {
		if len(cmd) < 3 {
			continue
		}
		op, _ := cmd[0].(string)
		if op != "M" && op != "L" {
			continue
		}
		x, errX := cast.ToFloat64E(cmd[1])
		y, errY := cast.ToFloat64E(cmd[2])
		if errX != nil || errY != nil {
			continue
		}
		poly = append(poly, Point{X: x, Y: CanvasHeight - y})
	}
	return poly
}
