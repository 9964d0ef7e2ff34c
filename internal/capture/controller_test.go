package capture

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verte-zerg/keyrhythm/internal/model"
)

var base = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func at(ms int) time.Time {
	return base.Add(time.Duration(ms) * time.Millisecond)
}

func TestHandle_FIFOPairing(t *testing.T) {
	c := NewController()
	c.Handle(Event{Kind: KeyPress, Char: 'a', At: at(0)})
	c.Handle(Event{Kind: KeyPress, Char: 'a', At: at(10)})
	c.Handle(Event{Kind: KeyRelease, Char: 'a', At: at(50)})
	c.Handle(Event{Kind: KeyRelease, Char: 'a', At: at(70)})

	s := c.Snapshot()
	require.Len(t, s.Keys, 2)
	assert.Equal(t, at(50), s.Keys[0].ReleasedAt)
	assert.Equal(t, at(70), s.Keys[1].ReleasedAt)
	assert.Equal(t, 50*time.Millisecond, s.Keys[0].Hold())
	assert.Equal(t, 60*time.Millisecond, s.Keys[1].Hold())
}

func TestHandle_ReleaseNeverOverwritten(t *testing.T) {
	c := NewController()
	c.Handle(Event{Kind: KeyPress, Char: 'x', At: at(0)})
	c.Handle(Event{Kind: KeyRelease, Char: 'x', At: at(30)})
	c.Handle(Event{Kind: KeyRelease, Char: 'x', At: at(90)})

	s := c.Snapshot()
	require.Len(t, s.Keys, 1)
	assert.Equal(t, at(30), s.Keys[0].ReleasedAt)
	assert.Equal(t, at(90), s.TypingEnd, "typing end follows the last release")
}

func TestHandle_StrayReleaseIgnored(t *testing.T) {
	c := NewController()
	c.Handle(Event{Kind: KeyRelease, Char: 'q', At: at(5)})

	s := c.Snapshot()
	assert.Empty(t, s.Keys)
	assert.False(t, s.Started())
	assert.Equal(t, at(5), s.TypingEnd)
}

func TestHandle_TypingStartFirstPressWins(t *testing.T) {
	c := NewController()
	c.Handle(Event{Kind: KeyPress, Char: 'o', At: at(100)})
	c.Handle(Event{Kind: KeyPress, Char: 'p', At: at(200)})

	assert.Equal(t, at(100), c.Snapshot().TypingStart)
}

func TestHandle_EraseCountsWithoutKeyEvent(t *testing.T) {
	c := NewController()
	c.Handle(Event{Kind: KeyPress, Erase: true, At: at(0)})
	c.Handle(Event{Kind: KeyRelease, Erase: true, At: at(40)})
	c.Handle(Event{Kind: KeyPress, Erase: true, At: at(80)})

	s := c.Snapshot()
	assert.Equal(t, 2, s.Backspaces)
	assert.Empty(t, s.Keys)
	assert.Equal(t, at(0), s.TypingStart)
	assert.Equal(t, at(40), s.TypingEnd)
}

func TestHandle_NonGlyphKeyIgnored(t *testing.T) {
	c := NewController()
	c.Handle(Event{Kind: KeyPress, Char: 0, At: at(0)})
	c.Handle(Event{Kind: KeyPress, Char: '\t', At: at(1)})

	s := c.Snapshot()
	assert.Empty(t, s.Keys)
	assert.True(t, s.Started())
}

func TestHandle_PointerFirstSampleSeedsOnly(t *testing.T) {
	c := NewController()
	c.Handle(Event{Kind: PointerMove, X: 10, Y: 10, At: at(0)})
	s := c.Snapshot()
	assert.Empty(t, s.Pointer)
	require.NotNil(t, s.LastPointer)

	c.Handle(Event{Kind: PointerMove, X: 13, Y: 14, At: at(20)})
	c.Handle(Event{Kind: PointerMove, X: 13, Y: 20, At: at(50)})
	s = c.Snapshot()
	require.Len(t, s.Pointer, 2)
	assert.Equal(t, PointerDelta{DX: 3, DY: 4, DT: 20 * time.Millisecond}, s.Pointer[0])
	assert.Equal(t, PointerDelta{DX: 0, DY: 6, DT: 30 * time.Millisecond}, s.Pointer[1])
}

func TestHandle_ClicksDoNotTouchSequences(t *testing.T) {
	c := NewController()
	c.Handle(Event{Kind: PointerPress, At: at(0)})
	c.Handle(Event{Kind: PointerPress, At: at(5)})

	s := c.Snapshot()
	assert.Equal(t, 2, s.Clicks)
	assert.Empty(t, s.Keys)
	assert.Empty(t, s.Pointer)
	assert.False(t, s.Started())
}

func TestSnapshotQueriesOnReturnedValue(t *testing.T) {
	c := NewController()
	assert.True(t, c.Snapshot().Empty())
	assert.False(t, c.Snapshot().Started())

	c.Handle(Event{Kind: KeyPress, Char: 'a', At: at(0)})
	assert.True(t, c.Snapshot().Started())
	assert.False(t, c.Snapshot().Empty())
	assert.Len(t, c.Snapshot().Clone().Keys, 1)
}

type fixedClock struct{ t time.Time }

func (f fixedClock) Now() time.Time { return f.t }

func TestHandle_StampsMissingTime(t *testing.T) {
	c := NewController(WithClock(fixedClock{t: at(42)}))
	c.Handle(Event{Kind: KeyPress, Char: 'z'})
	assert.Equal(t, at(42), c.Snapshot().Keys[0].PressedAt)
}

func TestExtract_ResetOnlyOnSuccess(t *testing.T) {
	c := NewController()
	c.Handle(Event{Kind: KeyPress, Char: 'a', At: at(0)})
	c.Handle(Event{Kind: KeyRelease, Char: 'a', At: at(10)})

	failure := errors.New("nope")
	_, err := c.Extract(func(Session) (model.FeatureVector, error) { return nil, failure })
	require.ErrorIs(t, err, failure)
	assert.Len(t, c.Snapshot().Keys, 1)

	v, err := c.Extract(func(s Session) (model.FeatureVector, error) {
		return model.FeatureVector{float64(len(s.Keys))}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, model.FeatureVector{1}, v)
	s := c.Snapshot()
	assert.True(t, s.Empty())
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	c := NewController()
	c.Handle(Event{Kind: KeyPress, Char: 'a', At: at(0)})
	c.Handle(Event{Kind: PointerMove, X: 1, Y: 1, At: at(0)})

	s := c.Snapshot()
	s.Keys[0].Char = 'b'
	s.LastPointer.X = 99

	again := c.Snapshot()
	assert.Equal(t, 'a', again.Keys[0].Char)
	assert.Equal(t, 1.0, again.LastPointer.X)
}

func TestAttachAndClose(t *testing.T) {
	feed := NewFeed()
	c := NewController()
	c.Attach(feed)
	require.Equal(t, 1, feed.Subscribers())

	feed.Publish(Event{Kind: KeyPress, Char: 'k', At: at(0)})
	assert.Len(t, c.Snapshot().Keys, 1)

	c.Close()
	c.Close()
	assert.Equal(t, 0, feed.Subscribers())

	feed.Publish(Event{Kind: KeyPress, Char: 'k', At: at(5)})
	assert.Len(t, c.Snapshot().Keys, 1, "detached controller must not receive events")
}

func TestFeedDeliversInSubscriptionOrder(t *testing.T) {
	feed := NewFeed()
	var order []int
	unsubA := feed.Subscribe(func(Event) { order = append(order, 1) })
	feed.Subscribe(func(Event) { order = append(order, 2) })

	feed.Publish(Event{})
	unsubA()
	unsubA()
	feed.Publish(Event{})

	assert.Equal(t, []int{1, 2, 2}, order)
}
