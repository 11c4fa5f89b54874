// Package calibration converts the size of an on-screen measurement circle into a
// real-world diameter.
//
// The physical pixel density of the display is never measured. Instead the user
// places a reference object of known size on the screen, adjusts the circle until
// it encloses the object and confirms. From that single point an effective
// pixels-per-inch scale is solved and used for every later measurement:
//
//	scale = observedPx / knownMM * 25.4
//	mm    = circlePx / scale * 25.4
package calibration

import (
	"errors"
	"fmt"
	"math"
)

// MMPerInch converts the effective pixels-per-inch scale to millimeters.
const MMPerInch = 25.4

const (
	// DefaultScale is the effective pixels-per-inch used before any calibration.
	DefaultScale = 160.0
	// DefaultCircleSize is the circle diameter in pixels a new state starts with.
	DefaultCircleSize = 300
)

// ErrInvalidCalibration is returned for non-positive circle sizes or reference diameters.
var ErrInvalidCalibration = errors.New("invalid calibration input")

// State is the calibration of one session.
type State struct {
	// ReferenceDiameterMM is the diameter of the reference used by the last calibration.
	ReferenceDiameterMM float64 `json:"reference_diameter_mm,omitempty"`
	// ReferenceKey names the built-in reference used, empty for a custom diameter.
	ReferenceKey string `json:"reference_key,omitempty"`
	// CircleSizePx is the current on-screen circle diameter.
	CircleSizePx int `json:"circle_size_px"`
	// Scale is the effective pixels per inch solved by the last calibration.
	Scale float64 `json:"scale"`
	// Calibrated reports whether Scale came from a calibration action.
	Calibrated bool `json:"calibrated"`
}

// Measurement is a diameter derived from a circle size.
type Measurement struct {
	CirclePx   int     `json:"circle_px"`
	DiameterMM float64 `json:"diameter_mm"`
	Calibrated bool    `json:"calibrated"`
}

// NewState returns an uncalibrated state with the default scale and circle size.
func NewState() *State {
	return New(DefaultCircleSize, DefaultScale)
}

// New returns an uncalibrated state starting at circlePx and scale. Invalid
// values fall back to the defaults.
func New(circlePx int, scale float64) *State {
	if circlePx <= 0 {
		circlePx = DefaultCircleSize
	}
	if !isPositiveFinite(scale) {
		scale = DefaultScale
	}
	return &State{
		CircleSizePx: circlePx,
		Scale:        scale,
	}
}

// SetReference solves the scale from a circle of observedPx pixels enclosing an
// object of knownMM millimeters. Invalid input leaves the state untouched.
func (s *State) SetReference(observedPx int, knownMM float64) error {
	if observedPx <= 0 {
		return fmt.Errorf("%w: circle size %d px must be positive", ErrInvalidCalibration, observedPx)
	}
	if !isPositiveFinite(knownMM) {
		return fmt.Errorf("%w: reference diameter %g mm must be positive", ErrInvalidCalibration, knownMM)
	}

	s.Scale = float64(observedPx) / knownMM * MMPerInch
	s.ReferenceDiameterMM = knownMM
	s.ReferenceKey = ""
	s.CircleSizePx = observedPx
	s.Calibrated = true
	return nil
}

// Calibrate solves the scale from the current circle size and a known reference.
func (s *State) Calibrate(ref Reference) error {
	if err := s.SetReference(s.CircleSizePx, ref.DiameterMM); err != nil {
		return fmt.Errorf("calibrate with %s: %w", ref.Name, err)
	}
	s.ReferenceKey = ref.Key
	return nil
}

// SetScale sets the effective pixels per inch directly, for users who know the
// density of their display.
func (s *State) SetScale(ppi float64) error {
	if !isPositiveFinite(ppi) {
		return fmt.Errorf("%w: scale %g px per inch must be positive", ErrInvalidCalibration, ppi)
	}
	s.Scale = ppi
	s.ReferenceDiameterMM = 0
	s.ReferenceKey = ""
	s.Calibrated = true
	return nil
}

// SetCircleSize updates the on-screen circle diameter.
func (s *State) SetCircleSize(px int) error {
	if px <= 0 {
		return fmt.Errorf("%w: circle size %d px must be positive", ErrInvalidCalibration, px)
	}
	s.CircleSizePx = px
	return nil
}

// DiameterMM converts a circle size to millimeters. A state that was never
// calibrated (including the zero value) measures with DefaultScale. Non-positive
// sizes measure as zero.
func (s *State) DiameterMM(px int) float64 {
	if px <= 0 {
		return 0
	}
	return float64(px) / s.scale() * MMPerInch
}

// Measure converts the current circle size.
func (s *State) Measure() Measurement {
	px := s.CircleSizePx
	if px <= 0 {
		px = DefaultCircleSize
	}
	return Measurement{
		CirclePx:   px,
		DiameterMM: s.DiameterMM(px),
		Calibrated: s.Calibrated,
	}
}

// Reset drops the calibration but keeps the circle size.
func (s *State) Reset() {
	s.ResetTo(DefaultScale)
}

// ResetTo drops the calibration and measures with scale until the next one.
func (s *State) ResetTo(scale float64) {
	if !isPositiveFinite(scale) {
		scale = DefaultScale
	}
	s.Scale = scale
	s.ReferenceDiameterMM = 0
	s.ReferenceKey = ""
	s.Calibrated = false
}

func (s *State) scale() float64 {
	if !isPositiveFinite(s.Scale) {
		return DefaultScale
	}
	return s.Scale
}

func isPositiveFinite(v float64) bool {
	return v > 0 && !math.IsInf(v, 1) && !math.IsNaN(v)
}

// String formats a measurement the way front ends display it.
func (m Measurement) String() string {
	if !m.Calibrated {
		return fmt.Sprintf("%.2f mm (uncalibrated)", m.DiameterMM)
	}
	return fmt.Sprintf("%.2f mm", m.DiameterMM)
}
