package processing

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/menta2k/coin-id/pkg/framing"
	"github.com/menta2k/coin-id/pkg/types"
)

// Filter names accepted in types.ImageOptions.Filters.
const (
	FilterGrayscale    = "grayscale"
	FilterAutocontrast = "autocontrast"
	FilterUnsharp      = "unsharp"
	FilterContrast     = "contrast"
	FilterSharpness    = "sharpness"
	FilterFrame        = "frame"
)

// DefaultContrastFactor is applied when the contrast filter runs with no factor set.
const DefaultContrastFactor = 1.8

const (
	defaultSharpenSigma = 1.0
	sharpnessFactor     = 2.0
	autocontrastCutoff  = 0.01
)

// Filters lists the known filter names in their canonical order.
func Filters() []string {
	return []string{FilterFrame, FilterGrayscale, FilterAutocontrast, FilterContrast, FilterUnsharp, FilterSharpness}
}

// ValidateFilters reports the first unknown filter name.
func ValidateFilters(filters []string) error {
	_, err := normalizeFilters(filters)
	return err
}

// Preprocess applies opts.Filters in order. Unknown names fail before any work is done.
func (p *Processor) Preprocess(img image.Image, opts types.ImageOptions) (image.Image, error) {
	names, err := normalizeFilters(opts.Filters)
	if err != nil {
		return nil, err
	}

	out := img
	for _, name := range names {
		out = applyFilter(out, name, opts)
	}
	return out, nil
}

func normalizeFilters(filters []string) ([]string, error) {
	names := make([]string, 0, len(filters))
	for _, f := range filters {
		name := strings.ToLower(strings.TrimSpace(f))
		if name == "" || name == "none" {
			continue
		}
		if !knownFilter(name) {
			return nil, fmt.Errorf("unknown filter %q (known: %s)", f, strings.Join(Filters(), ", "))
		}
		names = append(names, name)
	}
	return names, nil
}

func knownFilter(name string) bool {
	for _, f := range Filters() {
		if f == name {
			return true
		}
	}
	return false
}

func applyFilter(img image.Image, name string, opts types.ImageOptions) image.Image {
	sigma := opts.SharpenSigma
	if sigma <= 0 {
		sigma = defaultSharpenSigma
	}

	switch name {
	case FilterGrayscale:
		return imaging.Grayscale(img)
	case FilterAutocontrast:
		return Autocontrast(img, autocontrastCutoff)
	case FilterUnsharp:
		return imaging.Sharpen(img, sigma)
	case FilterContrast:
		factor := opts.ContrastFactor
		if factor <= 0 {
			factor = DefaultContrastFactor
		}
		return EnhanceContrast(img, factor)
	case FilterSharpness:
		return EnhanceSharpness(img, sigma, sharpnessFactor)
	case FilterFrame:
		return framing.New().Frame(img)
	}
	return img
}

// EnhanceContrast scales every channel away from the mean luminance by factor.
// A factor of 1 returns an unchanged copy, 0 a flat gray image.
func EnhanceContrast(img image.Image, factor float64) *image.NRGBA {
	mean := meanLuminance(img)
	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		return color.NRGBA{
			R: blend(mean, float64(c.R), factor),
			G: blend(mean, float64(c.G), factor),
			B: blend(mean, float64(c.B), factor),
			A: c.A,
		}
	})
}

// EnhanceSharpness extrapolates from a blurred copy towards the original.
func EnhanceSharpness(img image.Image, sigma, factor float64) *image.NRGBA {
	src := imaging.Clone(img)
	blurred := imaging.Blur(src, sigma)
	for i := 0; i < len(src.Pix); i += 4 {
		src.Pix[i+0] = blend(float64(blurred.Pix[i+0]), float64(src.Pix[i+0]), factor)
		src.Pix[i+1] = blend(float64(blurred.Pix[i+1]), float64(src.Pix[i+1]), factor)
		src.Pix[i+2] = blend(float64(blurred.Pix[i+2]), float64(src.Pix[i+2]), factor)
	}
	return src
}

// Autocontrast stretches the luminance histogram so that the darkest and
// brightest cutoff fractions map to black and white.
func Autocontrast(img image.Image, cutoff float64) *image.NRGBA {
	src := imaging.Clone(img)
	var hist [256]int
	for i := 0; i < len(src.Pix); i += 4 {
		hist[luma(src.Pix[i], src.Pix[i+1], src.Pix[i+2])]++
	}

	total := len(src.Pix) / 4
	skip := int(float64(total) * clamp(cutoff, 0, 0.49))
	lo, hi := 0, 255
	for acc := 0; lo < 255; lo++ {
		acc += hist[lo]
		if acc > skip {
			break
		}
	}
	for acc := 0; hi > 0; hi-- {
		acc += hist[hi]
		if acc > skip {
			break
		}
	}
	if hi <= lo {
		return src
	}

	scale := 255.0 / float64(hi-lo)
	var lut [256]uint8
	for i := range lut {
		lut[i] = clampByte((float64(i) - float64(lo)) * scale)
	}
	for i := 0; i < len(src.Pix); i += 4 {
		src.Pix[i+0] = lut[src.Pix[i+0]]
		src.Pix[i+1] = lut[src.Pix[i+1]]
		src.Pix[i+2] = lut[src.Pix[i+2]]
	}
	return src
}

func meanLuminance(img image.Image) float64 {
	src := imaging.Clone(img)
	n := len(src.Pix) / 4
	if n == 0 {
		return 0
	}
	var sum int
	for i := 0; i < len(src.Pix); i += 4 {
		sum += int(luma(src.Pix[i], src.Pix[i+1], src.Pix[i+2]))
	}
	return math.Round(float64(sum) / float64(n))
}

func luma(r, g, b uint8) uint8 {
	return uint8((299*int(r) + 587*int(g) + 114*int(b)) / 1000)
}

func blend(base, v, factor float64) uint8 {
	return clampByte(base + factor*(v-base))
}

func clampByte(v float64) uint8 {
	return uint8(clamp(math.Round(v), 0, 255))
}
