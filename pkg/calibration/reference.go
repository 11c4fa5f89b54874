package calibration

import (
	"fmt"
	"strconv"
	"strings"
)

// Reference is a circular object of precisely known diameter.
type Reference struct {
	Key        string  `json:"key"`
	Name       string  `json:"name"`
	DiameterMM float64 `json:"diameter_mm"`
}

var (
	// EuroOne is the 1 euro coin.
	EuroOne = Reference{Key: "eur1", Name: "1 €", DiameterMM: 23.25}
	// EuroTwo is the 2 euro coin.
	EuroTwo = Reference{Key: "eur2", Name: "2 €", DiameterMM: 25.75}
)

// References returns the built-in references.
func References() []Reference {
	return []Reference{EuroOne, EuroTwo}
}

// LookupReference finds a built-in reference by key, case-insensitively.
func LookupReference(key string) (Reference, bool) {
	key = strings.ToLower(strings.TrimSpace(key))
	for _, ref := range References() {
		if ref.Key == key {
			return ref, true
		}
	}
	return Reference{}, false
}

// ParseReference reads a built-in reference key or a custom diameter such as
// "24.25", "24,25mm" or "24.25 mm".
func ParseReference(arg string) (Reference, error) {
	arg = strings.TrimSpace(arg)
	if ref, ok := LookupReference(arg); ok {
		return ref, nil
	}

	value := strings.TrimSpace(strings.TrimSuffix(strings.ToLower(arg), "mm"))
	mm, err := strconv.ParseFloat(strings.ReplaceAll(value, ",", "."), 64)
	if err != nil {
		return Reference{}, fmt.Errorf("unknown reference %q (use eur1, eur2 or a diameter in mm)", arg)
	}
	if !isPositiveFinite(mm) {
		return Reference{}, fmt.Errorf("%w: reference diameter %g mm must be positive", ErrInvalidCalibration, mm)
	}
	return Reference{Name: fmt.Sprintf("%.2f mm", mm), DiameterMM: mm}, nil
}
