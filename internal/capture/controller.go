package capture

import (
	"sync"
	"unicode"

	"github.com/verte-zerg/keyrhythm/internal/logger"
	"github.com/verte-zerg/keyrhythm/internal/model"
)

// ExtractFunc turns a completed session into a feature vector.
type ExtractFunc func(Session) (model.FeatureVector, error)

// Controller owns the Session for the current attempt and applies events to it.
// It is safe for concurrent use; every mutation is serialized.
type Controller struct {
	mu      sync.Mutex
	session Session
	clock   Clock
	log     *logger.Logger
	unsubs  []func()
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock sets the clock used for events without a timestamp.
func WithClock(c Clock) Option {
	return func(ctrl *Controller) { ctrl.clock = c }
}

// WithLogger sets the controller logger.
func WithLogger(l *logger.Logger) Option {
	return func(ctrl *Controller) { ctrl.log = l }
}

// NewController returns a Controller with an empty session.
func NewController(opts ...Option) *Controller {
	c := &Controller{clock: SystemClock(), log: logger.Nop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Attach subscribes the controller to src until Close.
func (c *Controller) Attach(src Source) {
	unsub := src.Subscribe(c.Handle)
	c.mu.Lock()
	c.unsubs = append(c.unsubs, unsub)
	c.mu.Unlock()
}

// Close detaches the controller from every attached source.
func (c *Controller) Close() {
	c.mu.Lock()
	unsubs := c.unsubs
	c.unsubs = nil
	c.mu.Unlock()
	for _, unsub := range unsubs {
		unsub()
	}
}

// Handle applies one event to the session.
func (c *Controller) Handle(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e.At.IsZero() {
		e.At = c.clock.Now()
	}
	s := &c.session
	switch e.Kind {
	case KeyPress:
		if e.Erase {
			if s.TypingStart.IsZero() {
				s.TypingStart = e.At
			}
			s.Backspaces++
			return
		}
		if !isGlyph(e.Char) {
			if s.TypingStart.IsZero() {
				s.TypingStart = e.At
			}
			return
		}
		s.press(e.Char, e.At)
	case KeyRelease:
		s.TypingEnd = e.At
		if e.Erase || !isGlyph(e.Char) {
			return
		}
		if !s.release(e.Char, e.At) {
			c.log.Debug("Capture: stray key release", "char", string(e.Char))
		}
	case PointerMove:
		s.move(e.X, e.Y, e.At)
	case PointerPress:
		s.Clicks++
	}
}

// Snapshot returns a copy of the current session.
func (c *Controller) Snapshot() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.Clone()
}

// Extract runs fn on the current session. The session is reset only when fn
// succeeds; on error it is left intact so a retry keeps accumulating.
func (c *Controller) Extract(fn ExtractFunc) (model.FeatureVector, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, err := fn(c.session.Clone())
	if err != nil {
		return nil, err
	}
	c.session.Reset()
	return v, nil
}

// Reset discards the current session.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session.Reset()
}

func isGlyph(r rune) bool {
	return r != 0 && unicode.IsGraphic(r)
}
