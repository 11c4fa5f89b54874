package processing

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
)

var (
	circleGold       = color.NRGBA{255, 204, 0, 255}
	circleRed        = color.NRGBA{220, 20, 20, 255}
	circleBackground = color.NRGBA{255, 255, 255, 255}
)

// RenderCalibrationCircle draws the measuring circle: a gold ring whose outer
// diameter is exactly diameterPx, with a red dot in the centre. The user scales
// it until it matches the coin held against the screen.
func RenderCalibrationCircle(diameterPx int) (*image.NRGBA, error) {
	if diameterPx <= 0 {
		return nil, fmt.Errorf("circle diameter must be positive, got %d", diameterPx)
	}

	margin := int(math.Max(8, 0.05*float64(diameterPx)))
	size := diameterPx + 2*margin
	canvas := imaging.New(size, size, circleBackground)

	r := float64(diameterPx) / 2
	stroke := math.Max(2, 0.012*float64(diameterPx))
	dot := math.Max(2, float64(diameterPx)/60)
	c := float64(size) / 2

	fillDisc(canvas, c, c, r, circleGold)
	fillDisc(canvas, c, c, r-stroke, circleBackground)
	fillDisc(canvas, c, c, dot, circleRed)
	return canvas, nil
}

// fillDisc paints every pixel whose centre lies within radius of (cx, cy).
func fillDisc(img *image.NRGBA, cx, cy, radius float64, c color.NRGBA) {
	if radius <= 0 {
		return
	}
	for y := int(math.Floor(cy - radius)); y <= int(math.Ceil(cy+radius)); y++ {
		dy := float64(y) + 0.5 - cy
		if dy*dy > radius*radius {
			continue
		}
		hw := math.Sqrt(radius*radius - dy*dy)
		x0 := int(math.Ceil(cx - hw - 0.5))
		x1 := int(math.Floor(cx+hw-0.5)) + 1
		drawHLine(img, y, x0, x1, c)
	}
}

func drawHLine(img *image.NRGBA, y, x0, x1 int, c color.NRGBA) {
	if y < 0 || y >= img.Bounds().Dy() {
		return
	}
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	if x1 <= 0 || x0 >= img.Bounds().Dx() {
		return
	}
	if x0 < 0 {
		x0 = 0
	}
	if x1 > img.Bounds().Dx() {
		x1 = img.Bounds().Dx()
	}
	i := y*img.Stride + x0*4
	for x := x0; x < x1; x++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += 4
	}
}
