// Package calibration converts raw load cell counts to physical units.
package calibration

import (
	"errors"
	"fmt"
	"math"
	"strconv"
)

const (
	// DefaultReference is the known load used by Calibrate when none is given.
	DefaultReference = 20.0
	// Placeholder is shown instead of a reading while no reading is available.
	Placeholder = "---"
	// Decimals is the number of fraction digits of every displayed reading.
	Decimals = 3
)

var (
	// ErrDegenerate is returned when calibrating at the tare level.
	ErrDegenerate = errors.New("current average equals tare level")
	// ErrInvalidReference is returned for a zero or non-finite reference load.
	ErrInvalidReference = errors.New("invalid reference value")
	// ErrInvalidScale is returned for a zero or non-finite scale.
	ErrInvalidScale = errors.New("invalid scale")
)

// Model holds the tare level and the scale factor.
// It is not safe for concurrent use; the owner serializes access.
type Model struct {
	tare  float64
	scale float64
}

// New creates a model with the given tare level (raw counts) and scale (units per count).
func New(tare, scale float64) (*Model, error) {
	if !validScale(scale) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScale, scale)
	}
	if math.IsNaN(tare) || math.IsInf(tare, 0) {
		return nil, fmt.Errorf("invalid tare level: %v", tare)
	}
	return &Model{tare: tare, scale: scale}, nil
}

// Tare makes avg the zero level.
func (m *Model) Tare(avg float64) {
	m.tare = avg
}

// Calibrate sets the scale so that avg reads as ref.
// The scale is left unchanged when an error is returned.
func (m *Model) Calibrate(avg, ref float64) error {
	if ref == 0 || math.IsNaN(ref) || math.IsInf(ref, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidReference, ref)
	}
	if avg == m.tare {
		return ErrDegenerate
	}

	scale := ref / (avg - m.tare)
	if !validScale(scale) {
		return fmt.Errorf("%w: %v", ErrInvalidScale, scale)
	}
	m.scale = scale
	return nil
}

// Apply converts a raw or averaged value to a calibrated value rounded to
// three decimals, half away from zero.
func (m *Model) Apply(v float64) float64 {
	return Round((v - m.tare) * m.scale)
}

// Threshold is one display unit's worth of raw counts, used for outlier detection.
func (m *Model) Threshold() float64 {
	return 1 / math.Abs(m.scale)
}

// TareLevel returns the tare level in raw counts.
func (m *Model) TareLevel() float64 {
	return m.tare
}

// Scale returns the scale in units per raw count.
func (m *Model) Scale() float64 {
	return m.scale
}

// Round rounds v to three decimals, half away from zero. Negative zero becomes zero.
func Round(v float64) float64 {
	r := math.Round(v*1000) / 1000
	if r == 0 {
		return 0
	}
	return r
}

// Format renders a calibrated value with exactly three fraction digits.
func Format(v float64) string {
	return strconv.FormatFloat(v, 'f', Decimals, 64)
}

func validScale(scale float64) bool {
	return scale != 0 && !math.IsNaN(scale) && !math.IsInf(scale, 0)
}
