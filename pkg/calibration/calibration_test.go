package calibration

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewState(t *testing.T) {
	s := NewState()
	assert.Equal(t, DefaultScale, s.Scale)
	assert.Equal(t, DefaultCircleSize, s.CircleSizePx)
	assert.False(t, s.Calibrated)
}

func TestNewFallsBackToDefaults(t *testing.T) {
	s := New(250, 96)
	assert.Equal(t, 250, s.CircleSizePx)
	assert.Equal(t, 96.0, s.Scale)
	assert.False(t, s.Calibrated)
	assert.InDelta(t, 250/96.0*25.4, s.DiameterMM(250), 1e-9)

	s = New(0, math.NaN())
	assert.Equal(t, DefaultCircleSize, s.CircleSizePx)
	assert.Equal(t, DefaultScale, s.Scale)
}

func TestSetScale(t *testing.T) {
	s := NewState()
	require.NoError(t, s.Calibrate(EuroOne))
	require.NoError(t, s.SetScale(254))
	assert.True(t, s.Calibrated)
	assert.Empty(t, s.ReferenceKey)
	assert.Zero(t, s.ReferenceDiameterMM)
	assert.InDelta(t, 30.0, s.DiameterMM(300), 1e-9)

	for _, bad := range []float64{0, -96, math.NaN(), math.Inf(1)} {
		assert.ErrorIs(t, s.SetScale(bad), ErrInvalidCalibration, "scale %g", bad)
	}
	assert.Equal(t, 254.0, s.Scale)
}

func TestSetReferenceRoundTrip(t *testing.T) {
	cases := []struct {
		px int
		mm float64
	}{
		{300, 23.25},
		{300, 25.75},
		{1, 0.001},
		{800, 38.6},
		{137, 19.75},
	}
	for _, tc := range cases {
		s := NewState()
		require.NoError(t, s.SetReference(tc.px, tc.mm))
		assert.InDelta(t, tc.mm, s.DiameterMM(tc.px), 1e-6, "px=%d mm=%g", tc.px, tc.mm)
		assert.True(t, s.Calibrated)
	}
}

func TestSetReferenceFormula(t *testing.T) {
	s := NewState()
	require.NoError(t, s.SetReference(300, 23.25))
	assert.InDelta(t, 300/23.25*25.4, s.Scale, 1e-9)
	assert.Equal(t, 23.25, s.ReferenceDiameterMM)
}

func TestDiameterMonotonic(t *testing.T) {
	s := NewState()
	require.NoError(t, s.SetReference(320, 25.75))

	prev := s.DiameterMM(1)
	for px := 2; px <= 1000; px++ {
		cur := s.DiameterMM(px)
		require.Greater(t, cur, prev, "px=%d", px)
		prev = cur
	}
}

func TestDiameterBeforeCalibration(t *testing.T) {
	var zero State
	for _, s := range []*State{NewState(), &zero} {
		for _, px := range []int{1, 100, 300, 800} {
			d := s.DiameterMM(px)
			assert.False(t, math.IsNaN(d) || math.IsInf(d, 0))
			assert.Greater(t, d, 0.0)
		}
	}

	m := zero.Measure()
	assert.Equal(t, DefaultCircleSize, m.CirclePx)
	assert.InDelta(t, 300/DefaultScale*MMPerInch, m.DiameterMM, 1e-9)
	assert.False(t, m.Calibrated)
}

func TestSetReferenceRejectsInvalidInput(t *testing.T) {
	s := NewState()
	require.NoError(t, s.SetReference(310, 23.25))
	before := *s

	err := s.SetReference(0, 23.25)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidCalibration))

	err = s.SetReference(200, -5)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidCalibration))

	assert.ErrorIs(t, s.SetReference(200, math.NaN()), ErrInvalidCalibration)
	assert.ErrorIs(t, s.SetReference(200, math.Inf(1)), ErrInvalidCalibration)
	assert.ErrorIs(t, s.SetReference(-3, 10), ErrInvalidCalibration)

	assert.Equal(t, before, *s)
}

func TestCalibrateWithReferences(t *testing.T) {
	for _, ref := range References() {
		s := NewState()
		require.NoError(t, s.SetCircleSize(290))
		require.NoError(t, s.Calibrate(ref))

		assert.Equal(t, ref.Key, s.ReferenceKey)
		assert.InDelta(t, ref.DiameterMM, s.Measure().DiameterMM, 1e-6)

		direct := NewState()
		require.NoError(t, direct.SetReference(290, ref.DiameterMM))
		assert.InDelta(t, direct.Scale, s.Scale, 1e-12)
	}
}

func TestSetCircleSize(t *testing.T) {
	s := NewState()
	require.NoError(t, s.SetCircleSize(420))
	assert.Equal(t, 420, s.CircleSizePx)
	assert.ErrorIs(t, s.SetCircleSize(0), ErrInvalidCalibration)
	assert.Equal(t, 420, s.CircleSizePx)
}

func TestReset(t *testing.T) {
	s := NewState()
	require.NoError(t, s.Calibrate(EuroTwo))
	s.Reset()
	assert.False(t, s.Calibrated)
	assert.Equal(t, DefaultScale, s.Scale)
	assert.Empty(t, s.ReferenceKey)
}

func TestResetTo(t *testing.T) {
	s := NewState()
	require.NoError(t, s.SetScale(200))
	s.ResetTo(120)
	assert.False(t, s.Calibrated)
	assert.Equal(t, 120.0, s.Scale)

	s.ResetTo(-1)
	assert.Equal(t, DefaultScale, s.Scale)
}

func TestParseReference(t *testing.T) {
	ref, err := ParseReference("EUR2")
	require.NoError(t, err)
	assert.Equal(t, EuroTwo, ref)

	for _, arg := range []string{"24.25", "24,25", "24.25mm", "24.25 mm", "24,25 MM", " 24.25 mm "} {
		ref, err := ParseReference(arg)
		require.NoError(t, err, arg)
		assert.Equal(t, 24.25, ref.DiameterMM, arg)
		assert.Empty(t, ref.Key, arg)
	}

	_, err = ParseReference("nickel")
	assert.ErrorContains(t, err, "unknown reference")

	for _, arg := range []string{"-5", "0 mm", "NaN"} {
		_, err := ParseReference(arg)
		assert.ErrorIs(t, err, ErrInvalidCalibration, arg)
	}
}

func TestLookupReference(t *testing.T) {
	ref, ok := LookupReference(" EUR1 ")
	require.True(t, ok)
	assert.Equal(t, 23.25, ref.DiameterMM)

	ref, ok = LookupReference("eur2")
	require.True(t, ok)
	assert.Equal(t, 25.75, ref.DiameterMM)

	_, ok = LookupReference("usd1")
	assert.False(t, ok)
}

func TestMeasurementString(t *testing.T) {
	m := Measurement{CirclePx: 300, DiameterMM: 23.254, Calibrated: true}
	assert.Equal(t, "23.25 mm", m.String())
	m.Calibrated = false
	assert.Equal(t, "23.25 mm (uncalibrated)", m.String())
}
