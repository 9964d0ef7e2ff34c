// Package features builds the fixed-layout feature vector from a capture session.
//
// Layout, in order:
//
//	hold durations (ms), one per fully paired key, in press order
//	inter-press intervals (ms), one per adjacent pair of presses
//	typing speed (passphrase runes per second)
//	backspace count
//	average pointer speed (units per second)
//	total pointer distance
//	click count
//	environment fingerprint
package features

import (
	"errors"
	"math"
	"time"

	"github.com/verte-zerg/keyrhythm/internal/capture"
	"github.com/verte-zerg/keyrhythm/internal/model"
)

// FixedScalars is the number of trailing scalar features.
const FixedScalars = 6

// fallbackTypingDuration replaces a typing duration with a missing endpoint.
const fallbackTypingDuration = time.Millisecond

var (
	// ErrPassphraseMismatch is returned when the typed text differs from the passphrase.
	ErrPassphraseMismatch = errors.New("passphrase incorrect")
	// ErrEmptySession is returned when no key press has been captured.
	ErrEmptySession = errors.New("no keystrokes captured")
)

// Extractor checks typed text against a fixed passphrase and builds vectors.
type Extractor struct {
	passphrase  string
	fingerprint Fingerprinter
}

// NewExtractor returns an Extractor for passphrase.
func NewExtractor(passphrase string, fp Fingerprinter) *Extractor {
	return &Extractor{passphrase: passphrase, fingerprint: fp}
}

// Passphrase returns the required passphrase.
func (e *Extractor) Passphrase() string {
	return e.passphrase
}

// Func adapts the extractor for capture.Controller.Extract.
func (e *Extractor) Func(typed string) capture.ExtractFunc {
	return func(s capture.Session) (model.FeatureVector, error) {
		return Extract(s, typed, e.passphrase, e.fingerprint)
	}
}

// Extract builds the feature vector for s. typed must equal passphrase exactly.
func Extract(s capture.Session, typed, passphrase string, fp Fingerprinter) (model.FeatureVector, error) {
	if typed != passphrase {
		return nil, ErrPassphraseMismatch
	}
	if !s.Started() {
		return nil, ErrEmptySession
	}

	holds := holdDurations(s.Keys)
	intervals := pressIntervals(s.Keys)

	v := make(model.FeatureVector, 0, len(holds)+len(intervals)+FixedScalars)
	v = append(v, holds...)
	v = append(v, intervals...)
	v = append(v, typingSpeed(s, len([]rune(passphrase))))
	v = append(v, float64(s.Backspaces))
	dist, speed := pointerStats(s.Pointer)
	v = append(v, speed)
	v = append(v, dist)
	v = append(v, float64(s.Clicks))
	v = append(v, fp.Value())
	return v, nil
}

func holdDurations(keys []capture.KeyEvent) []float64 {
	out := make([]float64, 0, len(keys))
	for _, k := range keys {
		if k.PressedAt.IsZero() || !k.Released() {
			continue
		}
		out = append(out, millis(k.Hold()))
	}
	return out
}

func pressIntervals(keys []capture.KeyEvent) []float64 {
	if len(keys) < 2 {
		return nil
	}
	out := make([]float64, 0, len(keys)-1)
	for i := 1; i < len(keys); i++ {
		if keys[i].PressedAt.IsZero() || keys[i-1].PressedAt.IsZero() {
			continue
		}
		out = append(out, millis(keys[i].PressedAt.Sub(keys[i-1].PressedAt)))
	}
	return out
}

// typingSpeed uses the nominal passphrase length, not the captured key count.
func typingSpeed(s capture.Session, length int) float64 {
	d := fallbackTypingDuration
	if !s.TypingStart.IsZero() && !s.TypingEnd.IsZero() {
		d = s.TypingEnd.Sub(s.TypingStart)
	}
	secs := d.Seconds()
	if secs == 0 {
		secs = fallbackTypingDuration.Seconds()
	}
	return float64(length) / secs
}

func pointerStats(deltas []capture.PointerDelta) (distance, speed float64) {
	var total time.Duration
	for _, d := range deltas {
		distance += math.Hypot(d.DX, d.DY)
		total += d.DT
	}
	if len(deltas) == 0 || total <= 0 {
		return distance, 0
	}
	return distance, distance / total.Seconds()
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
