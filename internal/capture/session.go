package capture

import "time"

// KeyEvent is one glyph key press, completed by its matching release.
// A zero ReleasedAt means the release has not arrived.
type KeyEvent struct {
	Char       rune
	PressedAt  time.Time
	ReleasedAt time.Time
}

// Released reports whether the matching release was observed.
func (k KeyEvent) Released() bool {
	return !k.ReleasedAt.IsZero()
}

// Hold returns the press-to-release duration of a released key.
func (k KeyEvent) Hold() time.Duration {
	if !k.Released() {
		return 0
	}
	return k.ReleasedAt.Sub(k.PressedAt)
}

// PointerDelta is the displacement between two consecutive pointer samples.
type PointerDelta struct {
	DX float64
	DY float64
	DT time.Duration
}

// Point is a pointer sample.
type Point struct {
	X  float64
	Y  float64
	At time.Time
}

// Session is the buffer for one capture attempt.
type Session struct {
	Keys        []KeyEvent
	Pointer     []PointerDelta
	Clicks      int
	Backspaces  int
	TypingStart time.Time
	TypingEnd   time.Time
	LastPointer *Point
}

// Started reports whether a key press has been observed.
func (s Session) Started() bool {
	return !s.TypingStart.IsZero()
}

// Empty reports whether the session holds no captured state at all.
func (s Session) Empty() bool {
	return len(s.Keys) == 0 && len(s.Pointer) == 0 && s.Clicks == 0 &&
		s.Backspaces == 0 && s.TypingStart.IsZero() && s.TypingEnd.IsZero() &&
		s.LastPointer == nil
}

// Reset returns the session to its initial state.
func (s *Session) Reset() {
	*s = Session{}
}

// Clone returns a deep copy.
func (s Session) Clone() Session {
	out := s
	out.Keys = append([]KeyEvent(nil), s.Keys...)
	out.Pointer = append([]PointerDelta(nil), s.Pointer...)
	if s.LastPointer != nil {
		p := *s.LastPointer
		out.LastPointer = &p
	}
	return out
}

func (s *Session) press(char rune, at time.Time) {
	if s.TypingStart.IsZero() {
		s.TypingStart = at
	}
	s.Keys = append(s.Keys, KeyEvent{Char: char, PressedAt: at})
}

// release binds to the oldest open event for char.
func (s *Session) release(char rune, at time.Time) bool {
	for i := range s.Keys {
		if s.Keys[i].Char == char && !s.Keys[i].Released() {
			s.Keys[i].ReleasedAt = at
			return true
		}
	}
	return false
}

func (s *Session) move(x, y float64, at time.Time) {
	if s.LastPointer == nil {
		s.LastPointer = &Point{X: x, Y: y, At: at}
		return
	}
	s.Pointer = append(s.Pointer, PointerDelta{
		DX: x - s.LastPointer.X,
		DY: y - s.LastPointer.Y,
		DT: at.Sub(s.LastPointer.At),
	})
	s.LastPointer = &Point{X: x, Y: y, At: at}
}
