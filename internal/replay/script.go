// Package replay plays scripted input events as a capture source.
package replay

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/verte-zerg/keyrhythm/internal/capture"
)

// Step is one scripted input event. At is milliseconds from the script start.
type Step struct {
	At   int64   `yaml:"at"`
	Kind string  `yaml:"kind"`
	Key  string  `yaml:"key,omitempty"`
	X    float64 `yaml:"x,omitempty"`
	Y    float64 `yaml:"y,omitempty"`
}

// Script is a replayable capture attempt.
type Script struct {
	Identity string `yaml:"identity,omitempty"`
	// Typed is the final field text. When empty it is rebuilt from the key presses.
	Typed string `yaml:"typed,omitempty"`
	Steps []Step `yaml:"events"`
}

const (
	kindPress   = "press"
	kindRelease = "release"
	kindMove    = "move"
	kindClick   = "click"
)

var namedKeys = map[string]rune{
	"space": ' ',
	"tab":   '\t',
}

// LoadScript reads a YAML script from path.
func LoadScript(path string) (Script, error) {
	f, err := os.Open(path)
	if err != nil {
		return Script{}, fmt.Errorf("failed to open replay script: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			// Best-effort close after read.
			_ = cerr
		}
	}()
	return ParseScript(f)
}

// ParseScript decodes and validates a YAML script.
func ParseScript(r io.Reader) (Script, error) {
	var s Script
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		if errors.Is(err, io.EOF) {
			return Script{}, errors.New("replay script is empty")
		}
		return Script{}, fmt.Errorf("failed to parse replay script: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Script{}, err
	}
	return s, nil
}

// Validate checks every step for a known kind and a decodable key.
func (s Script) Validate() error {
	if len(s.Steps) == 0 {
		return errors.New("replay script has no events")
	}
	var prev int64
	for i, step := range s.Steps {
		if step.At < prev {
			return fmt.Errorf("event %d: time %dms goes backwards", i, step.At)
		}
		prev = step.At
		if _, err := step.event(time.Time{}); err != nil {
			return fmt.Errorf("event %d: %w", i, err)
		}
	}
	return nil
}

// TypedText returns Typed, or the text the key presses would leave in the field.
func (s Script) TypedText() string {
	if s.Typed != "" {
		return s.Typed
	}
	var out []rune
	for _, step := range s.Steps {
		if step.Kind != kindPress {
			continue
		}
		e, err := step.event(time.Time{})
		if err != nil {
			continue
		}
		switch {
		case e.Erase:
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		case e.Char != 0:
			out = append(out, e.Char)
		}
	}
	return string(out)
}

func (st Step) event(start time.Time) (capture.Event, error) {
	e := capture.Event{At: start.Add(time.Duration(st.At) * time.Millisecond)}
	switch strings.ToLower(st.Kind) {
	case kindPress, kindRelease:
		e.Kind = capture.KeyPress
		if strings.EqualFold(st.Kind, kindRelease) {
			e.Kind = capture.KeyRelease
		}
		if err := decodeKey(st.Key, &e); err != nil {
			return capture.Event{}, err
		}
	case kindMove:
		e.Kind = capture.PointerMove
		e.X, e.Y = st.X, st.Y
	case kindClick:
		e.Kind = capture.PointerPress
		e.X, e.Y = st.X, st.Y
	default:
		return capture.Event{}, fmt.Errorf("unknown event kind %q", st.Kind)
	}
	return e, nil
}

// decodeKey accepts a single character, "backspace", a named key, or any
// other word for a key without a glyph.
func decodeKey(key string, e *capture.Event) error {
	if key == "" {
		return errors.New("key events need a key")
	}
	if utf8.RuneCountInString(key) == 1 {
		e.Char, _ = utf8.DecodeRuneInString(key)
		return nil
	}
	lower := strings.ToLower(key)
	if lower == "backspace" {
		e.Erase = true
		return nil
	}
	if r, ok := namedKeys[lower]; ok {
		e.Char = r
	}
	return nil
}
