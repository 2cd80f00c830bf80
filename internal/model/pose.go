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
	poseAnchors  = 8400
	poseMinConf  = 0.25
	cropPadRatio = 0.01
)

// yoloPose runs a YOLOv8 pose head on a person crop. Output layout is
// [1, 56, 8400]: 4 box rows, 1 person-confidence row, 17x3 keypoint rows.
type yoloPose struct {
	session *ort.DynamicAdvancedSession
	pool    *Pool
}

func newYOLOPose(path string, pool *Pool) (*yoloPose, error) {
	session, err := ort.NewDynamicAdvancedSession(path,
		[]string{"images"}, []string{"output0"}, nil)
	if err != nil {
		return nil, fmt.Errorf("pose session: %w", err)
	}
	return &yoloPose{session: session, pool: pool}, nil
}

// Estimate crops the frame to the padded bbox, runs the pose head and maps
// keypoints back to absolute frame coordinates. A frame of zero-confidence
// keypoints is returned when no person is found in the crop.
func (p *yoloPose) Estimate(ctx context.Context, frame image.Image, box BBox) (PoseFrame, error) {
	var pose PoseFrame

	crop, offX, offY := cropToBox(frame, box)
	if crop.Bounds().Empty() {
		return pose, nil
	}

	lb := letterbox(crop, inputSize)

	input, err := ort.NewTensor(ort.NewShape(1, 3, inputSize, inputSize), lb.data)
	if err != nil {
		return pose, err
	}
	defer input.Destroy()

	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 56, poseAnchors))
	if err != nil {
		return pose, err
	}
	defer output.Destroy()

	start := time.Now()
	err = p.pool.Do(ctx, func() error {
		return p.session.Run([]ort.Value{input}, []ort.Value{output})
	})
	if err != nil {
		return pose, err
	}
	metrics.RecordInferenceLatency("pose", float64(time.Since(start).Milliseconds()))

	out := output.GetData()

	// Pick the single best candidate inside the crop.
	best := -1
	bestConf := poseMinConf
	for i := 0; i < poseAnchors; i++ {
		if conf := float64(out[4*poseAnchors+i]); conf > bestConf {
			bestConf = conf
			best = i
		}
	}
	if best < 0 {
		return pose, nil
	}

	for k := 0; k < NumKeypoints; k++ {
		kx := float64(out[(5+3*k)*poseAnchors+best])
		ky := float64(out[(5+3*k+1)*poseAnchors+best])
		kc := float64(out[(5+3*k+2)*poseAnchors+best])

		sx, sy := lb.toSource(kx, ky)
		pose[k] = Keypoint{X: sx + offX, Y: sy + offY, Conf: kc}
	}
	return pose, nil
}

func (p *yoloPose) destroy() {
	if p.session != nil {
		p.session.Destroy()
	}
}

// cropToBox returns a sub-image of the padded bbox plus the offset of the
// crop origin in frame coordinates.
func cropToBox(frame image.Image, box BBox) (image.Image, float64, float64) {
	padX := box.W * cropPadRatio
	padY := box.H * cropPadRatio
	padded := BBox{X: box.X - padX, Y: box.Y - padY, W: box.W + 2*padX, H: box.H + 2*padY}
	rect := padded.Rect(frame.Bounds())

	type subImager interface {
		SubImage(image.Rectangle) image.Image
	}
	if s, ok := frame.(subImager); ok {
		return s.SubImage(rect), float64(rect.Min.X), float64(rect.Min.Y)
	}

	// Fallback copy for image types without SubImage.
	dst := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	for y := 0; y < rect.Dy(); y++ {
		for x := 0; x < rect.Dx(); x++ {
			dst.Set(x, y, frame.At(rect.Min.X+x, rect.Min.Y+y))
		}
	}
	return dst, float64(rect.Min.X), float64(rect.Min.Y)
}
