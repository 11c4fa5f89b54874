// Package framing locates a coin in a photo and crops a padded square around it.
//
// The locator works on a downscaled luminance copy: it computes a gradient
// map, keeps the strongest edges and takes a trimmed bounding box of them.
// Coins photographed on a plain background produce a ring of strong edges,
// so the box tracks the rim closely; textured backgrounds degrade to a
// centred crop of the busiest area.
package framing

import (
	"image"
	"math"
	"sort"

	"github.com/disintegration/imaging"
)

// Config holds configuration for the coin locator
type Config struct {
	// AnalysisSize is the long side of the downscaled copy used for analysis.
	AnalysisSize int
	// EdgeSigmas selects edge pixels above mean + EdgeSigmas*stddev.
	EdgeSigmas float64
	// MinEdge is the absolute floor for an edge pixel, in 0..1.
	MinEdge float64
	// Trim discards this fraction of edge pixels on each side of the box.
	Trim float64
	// Padding grows the square by this fraction of its side.
	Padding float64
	// MinEdgeRatio is the share of edge pixels below which nothing is framed.
	MinEdgeRatio float64
}

// DefaultConfig returns the locator defaults.
func DefaultConfig() Config {
	return Config{
		AnalysisSize: 256,
		EdgeSigmas:   2.0,
		MinEdge:      0.08,
		Trim:         0.02,
		Padding:      0.15,
		MinEdgeRatio: 0.002,
	}
}

// Locator finds the coin region in an image
type Locator struct {
	config Config
}

// New creates a Locator with default configuration
func New() *Locator {
	return &Locator{config: DefaultConfig()}
}

// NewWithConfig creates a Locator with custom configuration
func NewWithConfig(config Config) *Locator {
	d := DefaultConfig()
	if config.AnalysisSize <= 0 {
		config.AnalysisSize = d.AnalysisSize
	}
	if config.Trim < 0 || config.Trim >= 0.5 {
		config.Trim = d.Trim
	}
	if config.Padding < 0 {
		config.Padding = 0
	}
	return &Locator{config: config}
}

// Region represents a rectangular region of interest in source image coordinates
type Region struct {
	X      int
	Y      int
	Width  int
	Height int
	// Score is the share of analysed pixels classified as edges.
	Score float64
}

// Center returns the center point of the region
func (r Region) Center() (int, int) {
	return r.X + r.Width/2, r.Y + r.Height/2
}

// Area returns the area of the region
func (r Region) Area() int {
	return r.Width * r.Height
}

// Rect converts the region to an image.Rectangle.
func (r Region) Rect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

// Locate returns the bounding box of the coin edges relative to img.Bounds().Min.
// ok is false when the image has too little structure to locate anything.
func (l *Locator) Locate(img image.Image) (Region, bool) {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width < 3 || height < 3 {
		return Region{}, false
	}

	small := imaging.Grayscale(img)
	factor := 1.0
	if long := max(width, height); long > l.config.AnalysisSize {
		factor = float64(long) / float64(l.config.AnalysisSize)
		if width >= height {
			small = imaging.Resize(small, l.config.AnalysisSize, 0, imaging.Box)
		} else {
			small = imaging.Resize(small, 0, l.config.AnalysisSize, imaging.Box)
		}
	}

	edges, sw, sh := gradientMap(small)
	threshold := l.threshold(edges)

	var xs, ys []int
	for y := 0; y < sh; y++ {
		for x := 0; x < sw; x++ {
			if edges[y*sw+x] >= threshold {
				xs = append(xs, x)
				ys = append(ys, y)
			}
		}
	}

	ratio := float64(len(xs)) / float64(sw*sh)
	if len(xs) < 4 || ratio < l.config.MinEdgeRatio {
		return Region{}, false
	}

	x0, x1 := trimmedRange(xs, l.config.Trim)
	y0, y1 := trimmedRange(ys, l.config.Trim)

	r := Region{
		X:      int(math.Floor(float64(x0) * factor)),
		Y:      int(math.Floor(float64(y0) * factor)),
		Width:  int(math.Ceil(float64(x1-x0+1) * factor)),
		Height: int(math.Ceil(float64(y1-y0+1) * factor)),
		Score:  ratio,
	}
	return clampRegion(r, width, height), true
}

// SquareAround grows region into a padded square that stays inside a
// width x height image. The square is shifted, not shrunk, when it would
// cross an edge, and only shrinks when it exceeds the short side.
func (l *Locator) SquareAround(r Region, width, height int) Region {
	side := float64(max(r.Width, r.Height)) * (1 + l.config.Padding)
	side = math.Min(side, float64(min(width, height)))
	s := int(math.Round(side))
	if s < 1 {
		s = 1
	}

	cx, cy := r.Center()
	x := clampInt(cx-s/2, 0, width-s)
	y := clampInt(cy-s/2, 0, height-s)
	return Region{X: x, Y: y, Width: s, Height: s, Score: r.Score}
}

// Frame crops img to a padded square around the coin. Images without a
// detectable coin are returned unchanged.
func (l *Locator) Frame(img image.Image) image.Image {
	r, ok := l.Locate(img)
	if !ok {
		return img
	}
	b := img.Bounds()
	sq := l.SquareAround(r, b.Dx(), b.Dy())
	return imaging.Crop(img, sq.Rect().Add(b.Min))
}

func (l *Locator) threshold(edges []float64) float64 {
	var sum, sumSq float64
	for _, e := range edges {
		sum += e
		sumSq += e * e
	}
	n := float64(len(edges))
	mean := sum / n
	std := math.Sqrt(math.Max(0, sumSq/n-mean*mean))
	return math.Max(l.config.MinEdge, mean+l.config.EdgeSigmas*std)
}

// gradientMap returns the Sobel magnitude of a grayscale image, normalised to 0..1.
func gradientMap(img *image.NRGBA) ([]float64, int, int) {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	lum := func(x, y int) float64 {
		x = clampInt(x, 0, w-1)
		y = clampInt(y, 0, h-1)
		return float64(img.Pix[y*img.Stride+x*4]) / 255
	}

	out := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			gx := lum(x+1, y-1) + 2*lum(x+1, y) + lum(x+1, y+1) -
				lum(x-1, y-1) - 2*lum(x-1, y) - lum(x-1, y+1)
			gy := lum(x-1, y+1) + 2*lum(x, y+1) + lum(x+1, y+1) -
				lum(x-1, y-1) - 2*lum(x, y-1) - lum(x+1, y-1)
			out[y*w+x] = math.Min(1, math.Hypot(gx, gy)/4)
		}
	}
	return out, w, h
}

func trimmedRange(vals []int, trim float64) (int, int) {
	sorted := append([]int(nil), vals...)
	sort.Ints(sorted)
	k := int(float64(len(sorted)) * trim)
	return sorted[k], sorted[len(sorted)-1-k]
}

func clampRegion(r Region, width, height int) Region {
	r.X = clampInt(r.X, 0, width-1)
	r.Y = clampInt(r.Y, 0, height-1)
	if r.X+r.Width > width {
		r.Width = width - r.X
	}
	if r.Y+r.Height > height {
		r.Height = height - r.Y
	}
	return r
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
