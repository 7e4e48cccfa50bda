// Package inference runs object detection on decoded frames.
package inference

import (
	"context"
	"image"

	"github.com/dj-oyu/zonewatch/detection-server/pkg/types"
)

// Detector returns every detection the model reports for img, in img's pixel
// coordinates. Implementations must be safe for concurrent use.
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]types.RawDetection, error)
}

// Nop is a Detector that never reports anything. It backs "-detector none".
type Nop struct{}

func (Nop) Detect(ctx context.Context, _ image.Image) ([]types.RawDetection, error) {
	return nil, ctx.Err()
}

// Func adapts a function to the Detector interface.
type Func func(ctx context.Context, img image.Image) ([]types.RawDetection, error)

func (f Func) Detect(ctx context.Context, img image.Image) ([]types.RawDetection, error) {
	return f(ctx, img)
}
