package tui

import (
	"context"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/verte-zerg/keyrhythm/internal/attempt"
	"github.com/verte-zerg/keyrhythm/internal/capture"
	"github.com/verte-zerg/keyrhythm/internal/features"
	"github.com/verte-zerg/keyrhythm/internal/model"
	"github.com/verte-zerg/keyrhythm/internal/schema"
)

const passphrase = "open sesame"

type stubMatcher struct {
	calls int
}

func (s *stubMatcher) Enroll(context.Context, string, model.FeatureVector) (model.EnrollResult, error) {
	s.calls++
	return model.EnrollResult{Status: "enrolled", ModelType: "svm"}, nil
}

func (s *stubMatcher) Authenticate(context.Context, string, model.FeatureVector) (model.AuthResult, error) {
	s.calls++
	return model.AuthResult{Decision: model.DecisionAccept}, nil
}

type stubFetcher struct{ count int }

func (f stubFetcher) ExpectedFeatureCount(context.Context, string) (int, error) {
	return f.count, nil
}

func newTestModel(t *testing.T, expected int) (*Model, *capture.Controller, *stubMatcher) {
	t.Helper()
	feed := capture.NewFeed()
	ctrl := capture.NewController()
	ctrl.Attach(feed)
	t.Cleanup(ctrl.Close)
	ext := features.NewExtractor(passphrase, features.StaticFingerprint("test"))
	neg := schema.NewNegotiator(stubFetcher{count: expected}, expected, nil)
	m := &stubMatcher{}
	flow := attempt.NewFlow(ctrl, ext, neg, m)
	return NewModel(flow, feed, passphrase, nil), ctrl, m
}

func typeInto(m *Model, text string) {
	for _, r := range text {
		msg := tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
		if r == ' ' {
			msg = tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}
		}
		m.Update(msg)
	}
}

func fillForm(m *Model, identity string) {
	typeInto(m, identity)
	m.Update(tea.KeyMsg{Type: tea.KeyTab})
	typeInto(m, passphrase)
}

func TestIdentityKeysAreNotCaptured(t *testing.T) {
	m, ctrl, _ := newTestModel(t, 27)
	typeInto(m, "alice")
	if ctrl.Snapshot().Started() {
		t.Fatalf("identity typing must not reach the capture session")
	}
	if m.flow.Form().Identity != "alice" {
		t.Fatalf("expected identity to sync, got %q", m.flow.Form().Identity)
	}
}

func TestEnteringEmptyPassphraseRestartsCapture(t *testing.T) {
	m, ctrl, _ := newTestModel(t, 27)
	typeInto(m, "alice")
	// A device source publishes regardless of focus.
	m.feed.Publish(capture.Event{Kind: capture.KeyPress, Char: 'a', At: time.Unix(1, 0)})
	if !ctrl.Snapshot().Started() {
		t.Fatalf("expected the stray press to be captured")
	}
	m.Update(tea.KeyMsg{Type: tea.KeyTab})
	if ctrl.Snapshot().Started() {
		t.Fatalf("expected capture to restart on entering the passphrase field")
	}
}

func TestPassphraseKeysPublishPressAndRelease(t *testing.T) {
	m, ctrl, _ := newTestModel(t, 27)
	fillForm(m, "alice")
	m.Update(tea.KeyMsg{Type: tea.KeyBackspace})

	s := ctrl.Snapshot()
	if len(s.Keys) != 11 {
		t.Fatalf("expected 11 key events, got %d", len(s.Keys))
	}
	for _, k := range s.Keys {
		if !k.Released() || k.Hold() != 0 {
			t.Fatalf("expected zero-hold paired event, got %+v", k)
		}
	}
	if s.Backspaces != 1 {
		t.Fatalf("expected 1 backspace, got %d", s.Backspaces)
	}
	if m.flow.Form().Passphrase != "open sesam" {
		t.Fatalf("unexpected passphrase field: %q", m.flow.Form().Passphrase)
	}
}

func TestMouseEventsReachSession(t *testing.T) {
	m, ctrl, _ := newTestModel(t, 27)
	m.Update(tea.MouseMsg{X: 1, Y: 1, Action: tea.MouseActionMotion})
	m.Update(tea.MouseMsg{X: 4, Y: 5, Action: tea.MouseActionMotion})
	m.Update(tea.MouseMsg{X: 4, Y: 5, Action: tea.MouseActionPress, Button: tea.MouseButtonLeft})

	s := ctrl.Snapshot()
	if len(s.Pointer) != 1 || s.Pointer[0].DX != 3 || s.Pointer[0].DY != 4 {
		t.Fatalf("unexpected pointer deltas: %+v", s.Pointer)
	}
	if s.Clicks != 1 {
		t.Fatalf("expected 1 click, got %d", s.Clicks)
	}
}

func TestSubmitCountMismatchClearsPassphrase(t *testing.T) {
	m, _, matcher := newTestModel(t, 30)
	fillForm(m, "bob")

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlA})
	if cmd != nil {
		t.Fatalf("expected no network command on count mismatch")
	}
	if matcher.calls != 0 {
		t.Fatalf("matcher must not be called")
	}
	if !strings.Contains(m.message, "Feature count mismatch! Expected 30, got 27") {
		t.Fatalf("unexpected message: %q", m.message)
	}
	if m.inputs[fieldPassphrase].Value() != "" {
		t.Fatalf("expected passphrase field to be cleared")
	}
}

func TestSubmitPassphraseMismatch(t *testing.T) {
	m, ctrl, _ := newTestModel(t, 27)
	typeInto(m, "alice")
	m.Update(tea.KeyMsg{Type: tea.KeyTab})
	typeInto(m, "open sesamo")

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlE})
	if cmd != nil {
		t.Fatalf("expected no command on passphrase mismatch")
	}
	if m.message != "Passphrase incorrect!" {
		t.Fatalf("unexpected message: %q", m.message)
	}
	if !ctrl.Snapshot().Started() {
		t.Fatalf("expected capture buffer to be retained")
	}
}

func TestSubmitSerializesRequests(t *testing.T) {
	m, ctrl, matcher := newTestModel(t, 27)
	fillForm(m, "alice")

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlE})
	if cmd == nil {
		t.Fatalf("expected a network command")
	}
	if !m.busy {
		t.Fatalf("expected busy while the request is outstanding")
	}
	if ctrl.Snapshot().Started() {
		t.Fatalf("expected buffer reset after extraction")
	}

	_, second := m.Update(tea.KeyMsg{Type: tea.KeyCtrlA})
	if second != nil {
		t.Fatalf("expected second submission to be refused")
	}
	if !strings.Contains(m.message, "already in progress") {
		t.Fatalf("unexpected message: %q", m.message)
	}

	m.Update(cmd())
	if m.busy {
		t.Fatalf("expected busy to clear after the response")
	}
	if matcher.calls != 1 {
		t.Fatalf("expected exactly one matcher call, got %d", matcher.calls)
	}
	if !strings.Contains(m.message, "Enrolled") || !strings.Contains(m.message, "Feature count: 27") {
		t.Fatalf("unexpected message: %q", m.message)
	}
	if m.inputs[fieldPassphrase].Value() != "" {
		t.Fatalf("expected passphrase field cleared after success")
	}
}

func TestRefreshSchemaUpdatesExpected(t *testing.T) {
	m, _, _ := newTestModel(t, 26)
	typeInto(m, "bob")
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlR})
	if cmd == nil {
		t.Fatalf("expected fetch command")
	}
	m.Update(cmd())
	if m.expected.Value != 26 || m.expected.Source != model.CountPerUser {
		t.Fatalf("unexpected expected count: %+v", m.expected)
	}
	if m.message != "Expected feature count: 26" {
		t.Fatalf("unexpected message: %q", m.message)
	}
}

func TestRenderFooter(t *testing.T) {
	m, _, _ := newTestModel(t, 27)
	fillForm(m, "alice")
	out := m.renderFooter()
	for _, want := range []string{"Typed 100%", "State capturing", "ctrl+e enroll"} {
		if !strings.Contains(out, want) {
			t.Fatalf("footer missing %q: %s", want, out)
		}
	}
}
