package coinid

import (
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"strings"
	"sync"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/coin-id/pkg/calibration"
	"github.com/menta2k/coin-id/pkg/consensus"
	"github.com/menta2k/coin-id/pkg/identify"
	"github.com/menta2k/coin-id/pkg/types"
)

const (
	schilling = `Looking at the edelweiss... {"identification":"Austria, 1 Schilling, Second Republic","country":"Austria","denomination":"1 Schilling","ruler":"Second Republic","keywords":"Edelweiss aluminium bronze"}`
	groschen  = `{"country":"Austria","denomination":"10 Groschen","ruler":"Second Republic"}`
)

// scriptedVision answers with replies in call order.
type scriptedVision struct {
	mu      sync.Mutex
	replies []string
	calls   int
	prompts []string
	images  []string
}

func (s *scriptedVision) QueryImage(ctx context.Context, model, prompt, imgB64 string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	s.prompts = append(s.prompts, prompt)
	s.images = append(s.images, imgB64)
	if i >= len(s.replies) {
		return "", errors.New("out of replies")
	}
	if strings.HasPrefix(s.replies[i], "ERR:") {
		return "", errors.New(strings.TrimPrefix(s.replies[i], "ERR:"))
	}
	return s.replies[i], nil
}

func (s *scriptedVision) Backend() string { return "scripted" }

// createTestImage draws a light coin on a dark background.
func createTestImage(width, height int) image.Image {
	img := imaging.New(width, height, color.NRGBA{40, 40, 40, 255})
	cx, cy, r := width/2, height/2, min(width, height)/3
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if (x-cx)*(x-cx)+(y-cy)*(y-cy) <= r*r {
				img.SetNRGBA(x, y, color.NRGBA{190, 190, 180, 255})
			}
		}
	}
	return img
}

func calibrated(t *testing.T) calibration.Measurement {
	t.Helper()
	st := calibration.NewState()
	require.NoError(t, st.SetCircleSize(300))
	require.NoError(t, st.Calibrate(calibration.EuroOne))
	require.NoError(t, st.SetCircleSize(322))
	return st.Measure()
}

func TestIdentifyReachesConsensus(t *testing.T) {
	sv := &scriptedVision{replies: []string{schilling, "ERR:timeout", groschen, schilling, groschen}}
	id, err := New(sv, Config{Model: "gemma3:12b"}, nil)
	require.NoError(t, err)

	m := calibrated(t)
	report, err := id.Identify(context.Background(), createTestImage(300, 200), m)
	require.NoError(t, err)

	assert.True(t, report.Confirmed)
	assert.True(t, report.Found())
	assert.Equal(t, consensus.StateConsensusReached, report.Result.State)
	assert.Equal(t, 4, report.Result.ReachedAt)
	assert.Len(t, report.Result.Attempts, 4, "early stop after the second schilling")
	assert.Equal(t, "Austria, 1 Schilling, Second Republic", report.Identification.Title())
	assert.Equal(t, "scripted", report.Backend)
	assert.NotEmpty(t, report.RunID)
	require.Len(t, report.Links, 4)
	assert.Contains(t, report.Links[0].URL, "25.0mm")
	require.NotNil(t, report.Prepared)

	require.NotEmpty(t, sv.prompts)
	assert.Contains(t, sv.prompts[0], "Diameter: 25.0 mm.")
	assert.NotContains(t, sv.prompts[0], "%s")

	raw, err := base64.StdEncoding.DecodeString(sv.images[0])
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0xd8}, raw[:2])
}

func TestIdentifyWithoutConsensus(t *testing.T) {
	sv := &scriptedVision{replies: []string{groschen, "not json", schilling}}
	id, err := New(sv, Config{Consensus: []consensus.Option{consensus.WithMaxAttempts(3)}}, nil)
	require.NoError(t, err)

	m := calibration.NewState().Measure()
	report, err := id.Identify(context.Background(), createTestImage(200, 200), m)
	require.NoError(t, err)

	assert.False(t, report.Confirmed)
	assert.True(t, report.Found())
	assert.Equal(t, consensus.StateExhaustedNoConsensus, report.Result.State)
	assert.Equal(t, "10 Groschen", report.Identification.Denomination)
	assert.Contains(t, sv.prompts[0], "rough estimate")
}

func TestIdentifyAllFailures(t *testing.T) {
	sv := &scriptedVision{}
	id, err := New(sv, Config{}, nil)
	require.NoError(t, err)

	report, err := id.Identify(context.Background(), createTestImage(200, 200), calibration.NewState().Measure())
	require.NoError(t, err)
	assert.False(t, report.Found())
	assert.Equal(t, types.Identification{}, report.Identification)
	assert.Nil(t, report.Links)
	assert.Len(t, report.Result.Attempts, consensus.DefaultMaxAttempts)
	for _, a := range report.Result.Attempts {
		assert.ErrorIs(t, a.Err, identify.ErrClassifierUnavailable)
	}
}

func TestIdentifyRejectsSmallImage(t *testing.T) {
	sv := &scriptedVision{replies: []string{schilling}}
	id, err := New(sv, Config{}, nil)
	require.NoError(t, err)

	_, err = id.Identify(context.Background(), createTestImage(50, 50), calibration.NewState().Measure())
	assert.ErrorContains(t, err, "too small")
	assert.Zero(t, sv.calls)
}

func TestIdentifyBytesAndFramedPNG(t *testing.T) {
	sv := &scriptedVision{replies: []string{schilling, schilling}}
	id, err := New(sv, Config{Image: types.ImageOptions{Format: "png", Filters: []string{"frame"}}}, nil)
	require.NoError(t, err)

	data, err := id.Processor().EncodeImage(createTestImage(400, 300), "png", 0, 0)
	require.NoError(t, err)

	report, err := id.IdentifyBytes(context.Background(), data, calibration.NewState().Measure())
	require.NoError(t, err)
	assert.True(t, report.Confirmed)
	b := report.Prepared.Bounds()
	assert.Equal(t, b.Dx(), b.Dy(), "framing crops a square")
	assert.Less(t, b.Dx(), 300)
	assert.True(t, strings.HasPrefix(sv.images[0], "iVBORw0KGgo"))

	_, err = id.IdentifyBytes(context.Background(), []byte("junk"), calibration.NewState().Measure())
	assert.Error(t, err)
}

func TestNewValidation(t *testing.T) {
	_, err := New(nil, Config{}, nil)
	assert.Error(t, err)

	_, err = New(&scriptedVision{}, Config{Consensus: []consensus.Option{consensus.WithThreshold(1)}}, nil)
	assert.ErrorIs(t, err, consensus.ErrInvalidOptions)

	_, err = New(&scriptedVision{}, Config{Image: types.ImageOptions{Filters: []string{"sepia"}}}, nil)
	assert.ErrorContains(t, err, "sepia")
}

func TestWithImageDefaults(t *testing.T) {
	o := withImageDefaults(types.ImageOptions{})
	assert.Equal(t, DefaultImageOptions().Filters, o.Filters)
	assert.Equal(t, "jpg", o.Format)
	assert.Equal(t, 0, o.MaxDim)

	o = withImageDefaults(types.ImageOptions{Filters: []string{}})
	assert.Empty(t, o.Filters)
}

func TestTestVision(t *testing.T) {
	sv := &scriptedVision{replies: []string{"A silver coin with an eagle."}}
	id, err := New(sv, Config{}, nil)
	require.NoError(t, err)

	out, err := id.TestVision(context.Background(), createTestImage(120, 120))
	require.NoError(t, err)
	assert.Equal(t, "A silver coin with an eagle.", out)
	assert.Equal(t, identify.SimpleTestPrompt, sv.prompts[0])
}
