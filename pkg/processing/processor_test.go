package processing

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/coin-id/pkg/types"
)

func gradientImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(64 + x*128/w)
			img.SetNRGBA(x, y, color.NRGBA{v, v, v, 255})
		}
	}
	return img
}

func pngBytes(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestDecodeImage(t *testing.T) {
	p := NewProcessor()
	img, err := p.DecodeImage(pngBytes(t, gradientImage(20, 10)))
	require.NoError(t, err)
	assert.Equal(t, 20, img.Bounds().Dx())

	_, err = p.DecodeImage([]byte("not an image"))
	assert.Error(t, err)
}

func TestLoadAndSaveRoundTrip(t *testing.T) {
	p := NewProcessor()
	dir := t.TempDir()
	src := gradientImage(120, 80)

	for _, name := range []string{"coin.png", "coin.jpg", "coin.webp"} {
		path := filepath.Join(dir, name)
		require.NoError(t, p.SaveImage(src, path, FormatFromPath(path), 90, false), name)

		img, err := p.LoadImage(path)
		require.NoError(t, err, name)
		assert.Equal(t, image.Rect(0, 0, 120, 80), img.Bounds(), name)
	}

	_, err := p.LoadImage(filepath.Join(dir, "missing.png"))
	assert.Error(t, err)
}

func TestLoadImageFromURL(t *testing.T) {
	data := pngBytes(t, gradientImage(30, 30))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/coin.png":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(data)
		case "/page":
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<html></html>"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	p := NewProcessor()
	img, err := p.LoadImageSmart(context.Background(), srv.URL+"/coin.png")
	require.NoError(t, err)
	assert.Equal(t, 30, img.Bounds().Dx())

	_, err = p.LoadImageFromURL(context.Background(), srv.URL+"/page")
	assert.ErrorContains(t, err, "does not point to an image")

	_, err = p.LoadImageFromURL(context.Background(), srv.URL+"/nope")
	assert.ErrorContains(t, err, "HTTP 404")

	_, err = p.LoadImageFromURL(context.Background(), "ftp://example.com/x.png")
	assert.ErrorContains(t, err, "unsupported URL scheme")
}

func TestValidateImage(t *testing.T) {
	p := NewProcessor()
	assert.NoError(t, p.ValidateImage(gradientImage(100, 100)))
	assert.ErrorContains(t, p.ValidateImage(gradientImage(99, 300)), "too small")
	assert.Error(t, p.ValidateImage(nil))

	assert.NoError(t, p.WithMinSize(50).ValidateImage(gradientImage(60, 60)))
	assert.NoError(t, p.WithMinSize(0).ValidateImage(gradientImage(100, 100)))
}

func TestPrepareImageForModel(t *testing.T) {
	p := NewProcessor()
	b64, err := p.PrepareImageForModel(gradientImage(400, 200), "png", 100, 85)
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(b64)
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, 100, img.Bounds().Dx())
	assert.Equal(t, 50, img.Bounds().Dy())

	b64, err = p.PrepareImageForModel(gradientImage(40, 40), "jpg", 0, 0)
	require.NoError(t, err)
	assert.True(t, len(b64) > 4 && b64[:4] == "/9j/")
}

func TestPreprocess(t *testing.T) {
	p := NewProcessor()
	src := gradientImage(64, 64)

	out, err := p.Preprocess(src, types.ImageOptions{})
	require.NoError(t, err)
	assert.Same(t, image.Image(src), out)

	out, err = p.Preprocess(src, types.ImageOptions{Filters: []string{" Contrast ", "grayscale", "unsharp", "sharpness", "autocontrast", "none"}})
	require.NoError(t, err)
	assert.Equal(t, src.Bounds(), out.Bounds())

	_, err = p.Preprocess(src, types.ImageOptions{Filters: []string{"contrast", "sepia"}})
	assert.ErrorContains(t, err, `unknown filter "sepia"`)
}

func TestEnhanceContrast(t *testing.T) {
	img := imaging.New(2, 1, color.NRGBA{100, 100, 100, 255})
	img.SetNRGBA(1, 0, color.NRGBA{200, 200, 200, 255})

	same := EnhanceContrast(img, 1)
	assert.Equal(t, img.Pix, same.Pix)

	out := EnhanceContrast(img, 1.8)
	// mean 150: 150 + 1.8*(100-150) = 60, 150 + 1.8*50 = 240
	assert.Equal(t, color.NRGBA{60, 60, 60, 255}, out.NRGBAAt(0, 0))
	assert.Equal(t, color.NRGBA{240, 240, 240, 255}, out.NRGBAAt(1, 0))

	flat := EnhanceContrast(img, 0)
	assert.Equal(t, flat.NRGBAAt(0, 0), flat.NRGBAAt(1, 0))
}

func TestAutocontrastStretches(t *testing.T) {
	out := Autocontrast(gradientImage(100, 4), 0)
	assert.Equal(t, uint8(0), out.NRGBAAt(0, 0).R)
	assert.Equal(t, uint8(255), out.NRGBAAt(99, 0).R)

	flat := imaging.New(10, 10, color.NRGBA{90, 90, 90, 255})
	assert.Equal(t, flat.Pix, Autocontrast(flat, 0.01).Pix)
}

func TestRenderCalibrationCircle(t *testing.T) {
	img, err := RenderCalibrationCircle(300)
	require.NoError(t, err)

	size := img.Bounds().Dx()
	assert.Equal(t, size, img.Bounds().Dy())
	margin := (size - 300) / 2
	mid := size / 2

	assert.Equal(t, circleGold, img.NRGBAAt(margin, mid))
	assert.Equal(t, circleGold, img.NRGBAAt(margin+299, mid))
	assert.Equal(t, circleBackground, img.NRGBAAt(margin-1, mid))
	assert.Equal(t, circleBackground, img.NRGBAAt(margin+300, mid))
	assert.Equal(t, circleBackground, img.NRGBAAt(margin+50, mid))
	assert.Equal(t, circleRed, img.NRGBAAt(mid, mid))

	_, err = RenderCalibrationCircle(0)
	assert.Error(t, err)
}

func TestFormatFromPath(t *testing.T) {
	assert.Equal(t, "webp", FormatFromPath("a/B.WEBP"))
	assert.Equal(t, "png", FormatFromPath("x.png"))
	assert.Equal(t, "jpg", FormatFromPath("x.jpeg"))
}
