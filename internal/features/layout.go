package features

import (
	"fmt"

	"github.com/verte-zerg/keyrhythm/internal/model"
)

// Sections is a feature vector split back into its named parts.
type Sections struct {
	Holds         []float64
	Intervals     []float64
	TypingSpeed   float64
	Backspaces    float64
	PointerSpeed  float64
	PointerTravel float64
	Clicks        float64
	Fingerprint   float64
}

// Layout recovers the sections of v. Hold and interval counts are not stored in
// the vector, so they are inferred from its length assuming intervals = holds-1,
// which holds whenever every pressed key was released.
func Layout(v model.FeatureVector) (Sections, error) {
	n := len(v) - FixedScalars
	if n < 0 {
		return Sections{}, fmt.Errorf("vector too short: %d features", len(v))
	}
	holds := (n + 1) / 2
	if n == 0 {
		holds = 0
	}
	tail := v[n:]
	return Sections{
		Holds:         append([]float64(nil), v[:holds]...),
		Intervals:     append([]float64(nil), v[holds:n]...),
		TypingSpeed:   tail[0],
		Backspaces:    tail[1],
		PointerSpeed:  tail[2],
		PointerTravel: tail[3],
		Clicks:        tail[4],
		Fingerprint:   tail[5],
	}, nil
}

// ExpectedLength returns the vector length for a session with the given number
// of fully paired keys and pressed keys.
func ExpectedLength(paired, pressed int) int {
	intervals := pressed - 1
	if intervals < 0 {
		intervals = 0
	}
	return paired + intervals + FixedScalars
}
