package attempt

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verte-zerg/keyrhythm/internal/capture"
	"github.com/verte-zerg/keyrhythm/internal/features"
	"github.com/verte-zerg/keyrhythm/internal/matcher"
	"github.com/verte-zerg/keyrhythm/internal/model"
	"github.com/verte-zerg/keyrhythm/internal/schema"
)

const passphrase = "open sesame"

var base = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func at(ms int) time.Time {
	return base.Add(time.Duration(ms) * time.Millisecond)
}

type fakeMatcher struct {
	t        *testing.T
	forbid   bool
	enroll   model.EnrollResult
	auth     model.AuthResult
	err      error
	calls    int
	received model.FeatureVector
}

func (m *fakeMatcher) Enroll(_ context.Context, _ string, v model.FeatureVector) (model.EnrollResult, error) {
	m.calls++
	m.received = v
	if m.forbid {
		m.t.Errorf("matcher must not be called")
	}
	return m.enroll, m.err
}

func (m *fakeMatcher) Authenticate(_ context.Context, _ string, v model.FeatureVector) (model.AuthResult, error) {
	m.calls++
	m.received = v
	if m.forbid {
		m.t.Errorf("matcher must not be called")
	}
	return m.auth, m.err
}

type fakeFetcher struct {
	count int
	err   error
}

func (f fakeFetcher) ExpectedFeatureCount(context.Context, string) (int, error) {
	return f.count, f.err
}

type memRecorder struct {
	attempts []model.Attempt
	vectors  []model.FeatureVector
}

func (r *memRecorder) InsertAttempt(_ context.Context, a model.Attempt, v model.FeatureVector) (string, error) {
	r.attempts = append(r.attempts, a)
	r.vectors = append(r.vectors, v)
	return a.ID, nil
}

type fixture struct {
	ctrl     *capture.Controller
	flow     *Flow
	matcher  *fakeMatcher
	recorder *memRecorder
}

func newFixture(t *testing.T, fetcher schema.CountFetcher) *fixture {
	t.Helper()
	ctrl := capture.NewController()
	ext := features.NewExtractor(passphrase, features.StaticFingerprint("test"))
	neg := schema.NewNegotiator(fetcher, model.DefaultExpectedCount, nil)
	m := &fakeMatcher{t: t}
	rec := &memRecorder{}
	flow := NewFlow(ctrl, ext, neg, m, WithRecorder(rec))
	return &fixture{ctrl: ctrl, flow: flow, matcher: m, recorder: rec}
}

// typeText presses and releases every rune of text, 100ms apart with 40ms
// holds. Indexes listed in unreleased get no release.
func (fx *fixture) typeText(text string, unreleased ...int) {
	skip := map[int]bool{}
	for _, i := range unreleased {
		skip[i] = true
	}
	for i, r := range []rune(text) {
		fx.ctrl.Handle(capture.Event{Kind: capture.KeyPress, Char: r, At: at(i * 100)})
		if !skip[i] {
			fx.ctrl.Handle(capture.Event{Kind: capture.KeyRelease, Char: r, At: at(i*100 + 40)})
		}
	}
	fx.flow.SetPassphrase(text)
}

func TestSubmit_EnrollSuccessClearsPassphrase(t *testing.T) {
	fx := newFixture(t, fakeFetcher{count: 27})
	fx.matcher.enroll = model.EnrollResult{Status: "enrolled", ModelType: "svm", SamplesCount: 3}
	fx.flow.SetIdentity("alice")
	fx.typeText(passphrase)
	require.Equal(t, Capturing, fx.flow.State())

	out, err := fx.flow.Submit(context.Background(), model.IntentEnroll)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeEnrolled, out.Kind)
	assert.Equal(t, 27, out.Features)
	assert.Len(t, fx.matcher.received, 27)
	assert.Empty(t, fx.flow.Form().Passphrase)
	assert.Equal(t, "alice", fx.flow.Form().Identity)
	assert.Equal(t, Result, fx.flow.State())
	assert.False(t, fx.ctrl.Snapshot().Started())
	assert.Contains(t, out.Summary(), "model: svm")

	require.Len(t, fx.recorder.attempts, 1)
	rec := fx.recorder.attempts[0]
	assert.Equal(t, model.OutcomeEnrolled, rec.Outcome)
	assert.Equal(t, model.DecisionAccept, rec.Decision)
	assert.Equal(t, 27, rec.FeatureCount)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, at(0), rec.StartedAt)
}

func TestSubmit_AuthenticateDecision(t *testing.T) {
	conf := 0.91
	cases := []struct {
		name     string
		decision model.Decision
		want     model.Outcome
	}{
		{name: "accept", decision: model.DecisionAccept, want: model.OutcomeAuthenticated},
		{name: "reject", decision: model.DecisionReject, want: model.OutcomeRejected},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fx := newFixture(t, fakeFetcher{})
			fx.matcher.auth = model.AuthResult{Decision: tc.decision, ModelType: "knn", Confidence: &conf}
			fx.flow.SetIdentity("alice")
			fx.typeText(passphrase)

			out, err := fx.flow.Submit(context.Background(), model.IntentAuthenticate)
			require.NoError(t, err)
			assert.Equal(t, tc.want, out.Kind)
			assert.Contains(t, out.Summary(), "Model: knn")
			require.Len(t, fx.recorder.attempts, 1)
			assert.Equal(t, tc.decision, fx.recorder.attempts[0].Decision)
		})
	}
}

func TestPrepare_CountMismatchBlocksNetwork(t *testing.T) {
	fx := newFixture(t, fakeFetcher{count: 27})
	fx.matcher.forbid = true
	fx.flow.SetIdentity("bob")
	count, err := fx.flow.RefreshSchema(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.ExpectedCount{Value: 27, Source: model.CountPerUser}, count)
	fx.typeText(passphrase, 5)

	_, err = fx.flow.Submit(context.Background(), model.IntentAuthenticate)
	var mismatch *schema.CountMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, 27, mismatch.Expected)
	assert.Equal(t, 26, mismatch.Actual)
	assert.Zero(t, fx.matcher.calls)
	assert.Empty(t, fx.flow.Form().Passphrase)
	assert.False(t, fx.ctrl.Snapshot().Started())
	assert.Equal(t, Idle, fx.flow.State())

	require.Len(t, fx.recorder.attempts, 1)
	assert.Equal(t, model.OutcomeCountMismatch, fx.recorder.attempts[0].Outcome)
	assert.Equal(t, 26, fx.recorder.attempts[0].FeatureCount)
	assert.Equal(t, 27, fx.recorder.attempts[0].ExpectedCount)
}

func TestPrepare_UsesNegotiatedCount(t *testing.T) {
	fx := newFixture(t, fakeFetcher{count: 26})
	fx.flow.SetIdentity("bob")
	count, err := fx.flow.RefreshSchema(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.ExpectedCount{Value: 26, Source: model.CountPerUser}, count)

	fx.typeText(passphrase, 5)
	sub, err := fx.flow.Prepare(model.IntentAuthenticate)
	require.NoError(t, err)
	assert.Len(t, sub.Vector, 26)
	assert.Equal(t, Extracted, fx.flow.State())
}

func TestRefreshSchema_FailureKeepsLastCount(t *testing.T) {
	fx := newFixture(t, fakeFetcher{err: errors.New("connection refused")})
	fx.flow.SetIdentity("carol")

	count, err := fx.flow.RefreshSchema(context.Background())
	var fetchErr *schema.FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, 27, count.Value)
	assert.Equal(t, model.CountCached, count.Source)
	assert.Equal(t, model.DefaultExpectedCount, fx.flow.Expected().Value)
}

func TestPrepare_PassphraseMismatchRetainsBuffer(t *testing.T) {
	fx := newFixture(t, fakeFetcher{})
	fx.matcher.forbid = true
	fx.flow.SetIdentity("alice")
	fx.typeText("open sesamo")

	_, err := fx.flow.Submit(context.Background(), model.IntentEnroll)
	require.ErrorIs(t, err, features.ErrPassphraseMismatch)
	assert.Equal(t, "open sesamo", fx.flow.Form().Passphrase)
	assert.Len(t, fx.ctrl.Snapshot().Keys, 11)

	require.Len(t, fx.recorder.attempts, 1)
	assert.Equal(t, model.OutcomePassphraseMismatch, fx.recorder.attempts[0].Outcome)
	assert.Nil(t, fx.recorder.vectors[0])
}

func TestPrepare_IdentityMissingRetainsBuffer(t *testing.T) {
	fx := newFixture(t, fakeFetcher{})
	fx.matcher.forbid = true
	fx.typeText(passphrase)

	_, err := fx.flow.Submit(context.Background(), model.IntentAuthenticate)
	require.ErrorIs(t, err, ErrIdentityMissing)
	require.ErrorIs(t, err, matcher.ErrIdentityMissing)
	assert.Equal(t, passphrase, fx.flow.Form().Passphrase)
	assert.Len(t, fx.ctrl.Snapshot().Keys, 11)

	fx.flow.SetIdentity("alice")
	sub, err := fx.flow.Prepare(model.IntentAuthenticate)
	require.NoError(t, err)
	assert.Len(t, sub.Vector, 27)
}

func TestPrepare_EmptySession(t *testing.T) {
	fx := newFixture(t, fakeFetcher{})
	fx.flow.SetIdentity("alice")
	fx.flow.SetPassphrase(passphrase)

	_, err := fx.flow.Prepare(model.IntentEnroll)
	require.ErrorIs(t, err, features.ErrEmptySession)
	assert.Empty(t, fx.recorder.attempts)
}

func TestSend_ProtocolFailureRequiresRecapture(t *testing.T) {
	fx := newFixture(t, fakeFetcher{})
	fx.matcher.err = &matcher.ProtocolError{Op: "enroll", StatusCode: 500, Detail: "boom"}
	fx.flow.SetIdentity("alice")
	fx.typeText(passphrase)

	_, err := fx.flow.Submit(context.Background(), model.IntentEnroll)
	var perr *matcher.ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 500, perr.StatusCode)
	assert.Equal(t, passphrase, fx.flow.Form().Passphrase)
	assert.Equal(t, Idle, fx.flow.State())

	// The buffer was consumed; the retry fails until the user types again.
	_, err = fx.flow.Prepare(model.IntentEnroll)
	require.ErrorIs(t, err, features.ErrEmptySession)

	require.Len(t, fx.recorder.attempts, 1)
	assert.Equal(t, model.OutcomeProtocolFailure, fx.recorder.attempts[0].Outcome)
	assert.Equal(t, model.DecisionError, fx.recorder.attempts[0].Decision)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "submitted", Submitted.String())
	assert.Equal(t, "state(9)", State(9).String())
}

func TestRestartDropsBuffer(t *testing.T) {
	fx := newFixture(t, fakeFetcher{count: 27})
	fx.typeText("open")
	require.Equal(t, Capturing, fx.flow.State())

	fx.flow.Restart()
	assert.Equal(t, Idle, fx.flow.State())
	assert.False(t, fx.ctrl.Snapshot().Started())
	assert.Empty(t, fx.recorder.attempts)
}
