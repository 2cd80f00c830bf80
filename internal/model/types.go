package model

import (
	"context"
	"image"
)

// NumKeypoints is the COCO keypoint count produced by the pose model.
const NumKeypoints = 17

type BBox struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// IoU computes intersection-over-union between two boxes.
func (b BBox) IoU(o BBox) float64 {
	x1 := max(b.X, o.X)
	y1 := max(b.Y, o.Y)
	x2 := min(b.X+b.W, o.X+o.W)
	y2 := min(b.Y+b.H, o.Y+o.H)

	if x2 <= x1 || y2 <= y1 {
		return 0
	}
	inter := (x2 - x1) * (y2 - y1)
	union := b.W*b.H + o.W*o.H - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// Rect clamps the box to image bounds and returns it as an image.Rectangle.
func (b BBox) Rect(bounds image.Rectangle) image.Rectangle {
	r := image.Rect(int(b.X), int(b.Y), int(b.X+b.W), int(b.Y+b.H))
	return r.Intersect(bounds)
}

type Detection struct {
	Box        BBox    `json:"bbox"`
	Confidence float64 `json:"confidence"`
}

type Keypoint struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Conf float64 `json:"conf"`
}

// PoseFrame is one person's keypoints for one frame, absolute pixel coords.
type PoseFrame [NumKeypoints]Keypoint

// Valid reports whether the frame carries any detected keypoint. The pose
// head returns a zero frame when no person is found in the crop.
func (p PoseFrame) Valid() bool {
	for _, kp := range p {
		if kp.Conf > 0 {
			return true
		}
	}
	return false
}

// Score is the mean keypoint confidence.
func (p PoseFrame) Score() float64 {
	var sum float64
	for _, kp := range p {
		sum += kp.Conf
	}
	return sum / NumKeypoints
}

// PersonDetector finds people in a full frame.
type PersonDetector interface {
	Detect(ctx context.Context, frame image.Image) ([]Detection, error)
}

// PoseEstimator produces keypoints for a person crop. Returned coordinates
// are absolute in the original frame.
type PoseEstimator interface {
	Estimate(ctx context.Context, frame image.Image, box BBox) (PoseFrame, error)
}

// AnomalyClassifier scores a fixed-length pose sequence. The score is a
// log-likelihood under normal behavior; lower means more anomalous.
type AnomalyClassifier interface {
	Score(ctx context.Context, seq []PoseFrame) (float64, error)
}

// PoseConfig mirrors the pose-stage configuration handed to processors.
type PoseConfig struct {
	ModelPath      string
	SequenceLength int
	Device         string
}
