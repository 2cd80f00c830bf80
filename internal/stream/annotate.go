package stream

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	colorNormal   = color.RGBA{0, 200, 0, 255}
	colorAbnormal = color.RGBA{220, 0, 0, 255}
)

const boxThickness = 2

// Annotate draws each tracked bbox (green normal, red abnormal) with the
// person id, score and confidence bucket overlaid.
func Annotate(frame image.Image, results []Result) *image.RGBA {
	bounds := frame.Bounds()
	out := image.NewRGBA(bounds)
	draw.Draw(out, bounds, frame, bounds.Min, draw.Src)

	for _, r := range results {
		col := colorNormal
		if r.Classification == ClassAbnormal {
			col = colorAbnormal
		}
		rect := r.Box.Rect(bounds)
		drawRect(out, rect, col)

		label := fmt.Sprintf("ID %d %.2f %s", r.PersonID, r.Score, r.Confidence)
		drawLabel(out, rect.Min.X+2, rect.Min.Y-4, label, col)
	}
	return out
}

func drawRect(img *image.RGBA, rect image.Rectangle, col color.RGBA) {
	for t := 0; t < boxThickness; t++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			img.SetRGBA(x, rect.Min.Y+t, col)
			img.SetRGBA(x, rect.Max.Y-1-t, col)
		}
		for y := rect.Min.Y; y < rect.Max.Y; y++ {
			img.SetRGBA(rect.Min.X+t, y, col)
			img.SetRGBA(rect.Max.X-1-t, y, col)
		}
	}
}

func drawLabel(img *image.RGBA, x, y int, text string, col color.RGBA) {
	if y < basicfont.Face7x13.Height {
		y = basicfont.Face7x13.Height
	}
	d := font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(col),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}
