package replay

import (
	"context"
	"time"

	"github.com/verte-zerg/keyrhythm/internal/capture"
)

// Player publishes a script's events to its subscribers.
type Player struct {
	script Script
	feed   *capture.Feed
	start  time.Time
	paced  bool
}

// PlayerOption configures a Player.
type PlayerOption func(*Player)

// WithStart anchors step offsets at t instead of the time Play is called.
func WithStart(t time.Time) PlayerOption {
	return func(p *Player) { p.start = t }
}

// WithPacing sleeps between steps so events arrive in real time.
func WithPacing() PlayerOption {
	return func(p *Player) { p.paced = true }
}

// NewPlayer returns a Player for s.
func NewPlayer(s Script, opts ...PlayerOption) *Player {
	p := &Player{script: s, feed: capture.NewFeed()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Subscribe implements capture.Source.
func (p *Player) Subscribe(h capture.Handler) func() {
	return p.feed.Subscribe(h)
}

// Play delivers every step in order and returns the number delivered. It
// stops early when ctx is cancelled.
func (p *Player) Play(ctx context.Context) (int, error) {
	start := p.start
	if start.IsZero() {
		start = time.Now()
	}
	var elapsed time.Duration
	for i, step := range p.script.Steps {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		e, err := step.event(start)
		if err != nil {
			return i, err
		}
		if p.paced {
			offset := time.Duration(step.At) * time.Millisecond
			if wait := offset - elapsed; wait > 0 {
				timer := time.NewTimer(wait)
				select {
				case <-ctx.Done():
					timer.Stop()
					return i, ctx.Err()
				case <-timer.C:
				}
			}
			elapsed = offset
		}
		p.feed.Publish(e)
	}
	return len(p.script.Steps), nil
}
