package model

import (
	"image"
	"sort"
)

const inputSize = 640

// letterboxResult carries the mapping from model input space back to the
// source image.
type letterboxResult struct {
	data  []float32 // CHW, RGB, [0,1]
	scale float64
	padX  float64
	padY  float64
}

// letterbox resizes with preserved aspect ratio onto a gray square canvas,
// the YOLO convention. Nearest-neighbor is enough for detection input.
func letterbox(img image.Image, size int) letterboxResult {
	bounds := img.Bounds()
	w := bounds.Dx()
	h := bounds.Dy()

	scale := float64(size) / float64(w)
	if s := float64(size) / float64(h); s < scale {
		scale = s
	}
	newW := int(float64(w) * scale)
	newH := int(float64(h) * scale)
	padX := float64(size-newW) / 2
	padY := float64(size-newH) / 2

	data := make([]float32, 3*size*size)
	// Gray fill (114/255) matches the training-time padding value.
	for i := range data {
		data[i] = 114.0 / 255.0
	}

	plane := size * size
	for y := 0; y < newH; y++ {
		srcY := bounds.Min.Y + int(float64(y)/scale)
		for x := 0; x < newW; x++ {
			srcX := bounds.Min.X + int(float64(x)/scale)
			r, g, b, _ := img.At(srcX, srcY).RGBA()
			dx := x + int(padX)
			dy := y + int(padY)
			idx := dy*size + dx
			data[idx] = float32(r>>8) / 255.0
			data[plane+idx] = float32(g>>8) / 255.0
			data[2*plane+idx] = float32(b>>8) / 255.0
		}
	}

	return letterboxResult{data: data, scale: scale, padX: padX, padY: padY}
}

// toSource maps a model-space coordinate back onto the source image.
func (l letterboxResult) toSource(x, y float64) (float64, float64) {
	return (x - l.padX) / l.scale, (y - l.padY) / l.scale
}

type candidate struct {
	box  BBox
	conf float64
	// keypoints in model space, only set for the pose head
	kpts []Keypoint
}

// nms keeps the highest-confidence candidates, suppressing overlaps.
func nms(cands []candidate, iouThreshold float64) []candidate {
	sort.Slice(cands, func(i, j int) bool { return cands[i].conf > cands[j].conf })

	var kept []candidate
	for _, c := range cands {
		suppressed := false
		for _, k := range kept {
			if c.box.IoU(k.box) > iouThreshold {
				suppressed = true
				break
			}
		}
		if !suppressed {
			kept = append(kept, c)
		}
	}
	return kept
}
