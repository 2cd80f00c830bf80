package model

import (
	"context"
	"fmt"
	"image"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/visionguard/visionguard/internal/metrics"
)

const (
	detAnchors      = 8400
	detNMSThreshold = 0.45
)

// yoloDetector runs a YOLOv8 person detector. Output layout is
// [1, 84, 8400]: 4 box rows then 80 class rows, person is class 0.
type yoloDetector struct {
	session       *ort.DynamicAdvancedSession
	pool          *Pool
	confThreshold float64
}

func newYOLODetector(path string, pool *Pool, confThreshold float64) (*yoloDetector, error) {
	session, err := ort.NewDynamicAdvancedSession(path,
		[]string{"images"}, []string{"output0"}, nil)
	if err != nil {
		return nil, fmt.Errorf("detector session: %w", err)
	}
	return &yoloDetector{session: session, pool: pool, confThreshold: confThreshold}, nil
}

func (d *yoloDetector) Detect(ctx context.Context, frame image.Image) ([]Detection, error) {
	lb := letterbox(frame, inputSize)

	input, err := ort.NewTensor(ort.NewShape(1, 3, inputSize, inputSize), lb.data)
	if err != nil {
		return nil, err
	}
	defer input.Destroy()

	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 84, detAnchors))
	if err != nil {
		return nil, err
	}
	defer output.Destroy()

	start := time.Now()
	err = d.pool.Do(ctx, func() error {
		return d.session.Run([]ort.Value{input}, []ort.Value{output})
	})
	if err != nil {
		return nil, err
	}
	metrics.RecordInferenceLatency("detector", float64(time.Since(start).Milliseconds()))

	out := output.GetData()
	var cands []candidate
	for i := 0; i < detAnchors; i++ {
		conf := float64(out[4*detAnchors+i]) // person class score
		if conf < d.confThreshold {
			continue
		}
		cx := float64(out[i])
		cy := float64(out[detAnchors+i])
		w := float64(out[2*detAnchors+i])
		h := float64(out[3*detAnchors+i])

		x1, y1 := lb.toSource(cx-w/2, cy-h/2)
		x2, y2 := lb.toSource(cx+w/2, cy+h/2)
		cands = append(cands, candidate{
			box:  clampBox(x1, y1, x2, y2, frame.Bounds()),
			conf: conf,
		})
	}

	kept := nms(cands, detNMSThreshold)
	dets := make([]Detection, 0, len(kept))
	for _, c := range kept {
		dets = append(dets, Detection{Box: c.box, Confidence: c.conf})
	}
	return dets, nil
}

func (d *yoloDetector) destroy() {
	if d.session != nil {
		d.session.Destroy()
	}
}

func clampBox(x1, y1, x2, y2 float64, bounds image.Rectangle) BBox {
	x1 = max(x1, float64(bounds.Min.X))
	y1 = max(y1, float64(bounds.Min.Y))
	x2 = min(x2, float64(bounds.Max.X))
	y2 = min(y2, float64(bounds.Max.Y))
	if x2 < x1 {
		x2 = x1
	}
	if y2 < y1 {
		y2 = y1
	}
	return BBox{X: x1, Y: y1, W: x2 - x1, H: y2 - y1}
}
