// Package capture turns raw keyboard and pointer notifications into a
// per-attempt Session.
package capture

import (
	"sync"
	"time"
)

// EventKind enumerates the input notifications a Source delivers.
type EventKind int

const (
	KeyPress EventKind = iota
	KeyRelease
	PointerMove
	PointerPress
)

func (k EventKind) String() string {
	switch k {
	case KeyPress:
		return "key_press"
	case KeyRelease:
		return "key_release"
	case PointerMove:
		return "pointer_move"
	case PointerPress:
		return "pointer_press"
	default:
		return "unknown"
	}
}

// Event is one timestamped input notification. Char is zero for keys that
// produce no glyph; Erase marks the backspace key.
type Event struct {
	Kind  EventKind
	Char  rune
	Erase bool
	X     float64
	Y     float64
	At    time.Time
}

// Handler receives events from a Source.
type Handler func(Event)

// Source delivers input events to subscribers until they unsubscribe.
type Source interface {
	Subscribe(h Handler) (unsubscribe func())
}

// Clock supplies timestamps for events that arrive without one.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the wall clock with its monotonic reading.
func SystemClock() Clock { return systemClock{} }

// Feed is an in-process Source: callers Publish and every subscriber
// receives the event in order.
type Feed struct {
	mu   sync.Mutex
	next int
	subs map[int]Handler
}

// NewFeed returns an empty Feed.
func NewFeed() *Feed {
	return &Feed{subs: map[int]Handler{}}
}

// Subscribe implements Source.
func (f *Feed) Subscribe(h Handler) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.next
	f.next++
	f.subs[id] = h
	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			f.mu.Unlock()
		})
	}
}

// Publish delivers e to all current subscribers.
func (f *Feed) Publish(e Event) {
	f.mu.Lock()
	handlers := make([]Handler, 0, len(f.subs))
	for id := 0; id < f.next; id++ {
		if h, ok := f.subs[id]; ok {
			handlers = append(handlers, h)
		}
	}
	f.mu.Unlock()
	for _, h := range handlers {
		h(e)
	}
}

// Subscribers reports how many handlers are attached.
func (f *Feed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}
