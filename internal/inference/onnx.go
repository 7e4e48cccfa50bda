package inference

import (
	"context"
	"fmt"
	"image"
	"runtime"
	"sync"

	"github.com/disintegration/imaging"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/dj-oyu/zonewatch/detection-server/internal/logger"
	"github.com/dj-oyu/zonewatch/detection-server/pkg/types"
)

// ONNXConfig configures a YOLOv8 detector backed by ONNX Runtime.
type ONNXConfig struct {
	ModelPath   string
	LibraryPath string   // onnxruntime shared library; ORT default when empty
	InputSize   int      // square model input, 640 when zero
	PoolSize    int      // concurrent sessions, 1 when zero
	Classes     []string // label per class index, COCOClasses when nil
	InputName   string   // "images" when empty
	OutputName  string   // "output0" when empty
	Confidence  float32
	IoU         float64
}

func (c *ONNXConfig) applyDefaults() {
	if c.InputSize <= 0 {
		c.InputSize = 640
	}
	if c.PoolSize <= 0 {
		c.PoolSize = 1
	}
	if len(c.Classes) == 0 {
		c.Classes = COCOClasses
	}
	if c.InputName == "" {
		c.InputName = "images"
	}
	if c.OutputName == "" {
		c.OutputName = "output0"
	}
	if c.Confidence <= 0 {
		c.Confidence = DefaultConfidence
	}
	if c.IoU <= 0 {
		c.IoU = DefaultIoU
	}
}

// modelSession owns one ORT session and its bound tensors.
type modelSession struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

func (m *modelSession) Destroy() {
	if m.session != nil {
		m.session.Destroy()
	}
	if m.input != nil {
		m.input.Destroy()
	}
	if m.output != nil {
		m.output.Destroy()
	}
}

// ONNXDetector runs a YOLOv8 model on a pool of ORT sessions.
type ONNXDetector struct {
	cfg  ONNXConfig
	pool *Pool[*modelSession]
	log  logger.Module
}

var ortInit sync.Once

// NewONNX loads the model into cfg.PoolSize sessions.
func NewONNX(cfg ONNXConfig) (*ONNXDetector, error) {
	cfg.applyDefaults()

	var initErr error
	ortInit.Do(func() {
		if cfg.LibraryPath != "" {
			ort.SetSharedLibraryPath(cfg.LibraryPath)
		}
		initErr = ort.InitializeEnvironment()
	})
	if initErr != nil {
		return nil, fmt.Errorf("initialize onnxruntime: %w", initErr)
	}

	pool, err := NewPool(cfg.PoolSize, func() (*modelSession, error) {
		return newModelSession(cfg)
	})
	if err != nil {
		return nil, err
	}

	d := &ONNXDetector{cfg: cfg, pool: pool, log: logger.With("Inference")}
	d.log.Info("Loaded %s: input %dx%d, %d classes, %d sessions",
		cfg.ModelPath, cfg.InputSize, cfg.InputSize, len(cfg.Classes), cfg.PoolSize)
	return d, nil
}

func newModelSession(cfg ONNXConfig) (*modelSession, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("error creating session options: %w", err)
	}
	defer options.Destroy()

	threads := max(runtime.NumCPU()/cfg.PoolSize, 1)
	if err := options.SetIntraOpNumThreads(threads); err != nil {
		return nil, fmt.Errorf("set intra-op threads: %w", err)
	}

	size := int64(cfg.InputSize)
	inputShape := ort.NewShape(1, 3, size, size)
	outputShape := ort.NewShape(1, int64(4+len(cfg.Classes)), int64(AnchorCount(cfg.InputSize)))

	input, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("error creating input tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("error creating output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		cfg.ModelPath,
		[]string{cfg.InputName},
		[]string{cfg.OutputName},
		[]ort.ArbitraryTensor{input},
		[]ort.ArbitraryTensor{output},
		options,
	)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("error creating session: %w", err)
	}
	return &modelSession{session: session, input: input, output: output}, nil
}

// Detect implements Detector.
func (d *ONNXDetector) Detect(ctx context.Context, img image.Image) ([]types.RawDetection, error) {
	s, err := d.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire session: %w", err)
	}
	defer d.pool.Release(s)

	bounds := img.Bounds()
	size := d.cfg.InputSize
	resized := imaging.Resize(img, size, size, imaging.Linear)
	fillNCHW(resized, s.input.GetData(), size)

	if err := s.session.Run(); err != nil {
		return nil, fmt.Errorf("model inference: %w", err)
	}

	scaleX := float64(bounds.Dx()) / float64(size)
	scaleY := float64(bounds.Dy()) / float64(size)
	frame := image.Rect(0, 0, bounds.Dx(), bounds.Dy())
	dets := DecodeYOLO(s.output.GetData(), d.cfg.Classes, scaleX, scaleY, frame, d.cfg.Confidence)
	dets = NMS(dets, d.cfg.IoU)

	if !bounds.Min.Eq(image.Point{}) {
		for i := range dets {
			dets[i].Box = dets[i].Box.Add(bounds.Min)
		}
	}
	return dets, nil
}

// SessionsInUse reports how many pooled sessions are running inference.
func (d *ONNXDetector) SessionsInUse() int64 {
	return d.pool.InUse()
}

// Close releases every session.
func (d *ONNXDetector) Close() error {
	d.pool.Close()
	return nil
}

// fillNCHW writes img as planar RGB scaled to [0, 1].
func fillNCHW(img *image.NRGBA, dst []float32, size int) {
	plane := size * size
	for y := range size {
		row := img.Pix[y*img.Stride:]
		for x := range size {
			i := y*size + x
			p := row[x*4:]
			dst[i] = float32(p[0]) / 255
			dst[plane+i] = float32(p[1]) / 255
			dst[2*plane+i] = float32(p[2]) / 255
		}
	}
}
