// Package attempt runs one capture attempt from typed passphrase to matcher
// decision.
//
// An attempt moves Idle -> Capturing -> Extracted -> Submitted -> Result and
// back to Idle. Prepare covers the synchronous part (identity check,
// extraction and the length gate); Send performs the network call and may be
// run off the UI goroutine.
package attempt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/verte-zerg/keyrhythm/internal/capture"
	"github.com/verte-zerg/keyrhythm/internal/features"
	"github.com/verte-zerg/keyrhythm/internal/logger"
	"github.com/verte-zerg/keyrhythm/internal/matcher"
	"github.com/verte-zerg/keyrhythm/internal/model"
	"github.com/verte-zerg/keyrhythm/internal/schema"
)

// ErrIdentityMissing is returned when an attempt is submitted without an identity.
var ErrIdentityMissing = matcher.ErrIdentityMissing

// State is the position of the current attempt in its lifecycle.
type State int

const (
	Idle State = iota
	Capturing
	Extracted
	Submitted
	Result
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Capturing:
		return "capturing"
	case Extracted:
		return "extracted"
	case Submitted:
		return "submitted"
	case Result:
		return "result"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Matcher is the remote side of an attempt.
type Matcher interface {
	Enroll(ctx context.Context, identity string, v model.FeatureVector) (model.EnrollResult, error)
	Authenticate(ctx context.Context, identity string, v model.FeatureVector) (model.AuthResult, error)
}

// Recorder persists attempts that reached a terminal state.
type Recorder interface {
	InsertAttempt(ctx context.Context, a model.Attempt, v model.FeatureVector) (string, error)
}

// Form is the user-editable input of an attempt.
type Form struct {
	Identity   string
	Passphrase string
}

// Submission is a validated vector ready to be sent.
type Submission struct {
	ID          string
	Intent      model.Intent
	Identity    string
	Vector      model.FeatureVector
	Expected    int
	StartedAt   time.Time
	TypingSpeed float64
}

// Outcome is the result of a completed submission.
type Outcome struct {
	Kind     model.Outcome
	Features int
	Enroll   *model.EnrollResult
	Auth     *model.AuthResult
}

// Summary renders the outcome for a message line.
func (o Outcome) Summary() string {
	switch {
	case o.Enroll != nil:
		msg := fmt.Sprintf("Enrolled (status: %s", o.Enroll.Status)
		if o.Enroll.ModelType != "" {
			msg += ", model: " + o.Enroll.ModelType
		}
		if o.Enroll.SamplesCount > 0 {
			msg += fmt.Sprintf(", samples: %d", o.Enroll.SamplesCount)
		}
		return msg + fmt.Sprintf("). Feature count: %d", o.Features)
	case o.Auth != nil:
		var msg string
		switch o.Auth.Decision {
		case model.DecisionAccept:
			msg = "Authenticated"
		case model.DecisionReject:
			msg = "Rejected"
		default:
			msg = "Matcher returned no decision"
		}
		if o.Auth.Confidence != nil {
			msg += fmt.Sprintf(" (confidence %.3f)", *o.Auth.Confidence)
		}
		msg += fmt.Sprintf(". Feature count: %d", o.Features)
		if o.Auth.ModelType != "" {
			msg += ". Model: " + o.Auth.ModelType
		}
		return msg
	default:
		return string(o.Kind)
	}
}

// Flow owns the form and drives attempts through the capture controller.
type Flow struct {
	ctrl       *capture.Controller
	extractor  *features.Extractor
	negotiator *schema.Negotiator
	matcher    Matcher
	recorder   Recorder
	log        *logger.Logger
	clock      capture.Clock

	mu    sync.Mutex
	form  Form
	state State
}

// Option configures a Flow.
type Option func(*Flow)

// WithRecorder records terminal attempts to r.
func WithRecorder(r Recorder) Option {
	return func(f *Flow) { f.recorder = r }
}

// WithLogger sets the flow logger.
func WithLogger(l *logger.Logger) Option {
	return func(f *Flow) { f.log = l }
}

// WithClock sets the clock used to stamp attempt end times.
func WithClock(c capture.Clock) Option {
	return func(f *Flow) { f.clock = c }
}

// NewFlow wires a flow over its collaborators.
func NewFlow(ctrl *capture.Controller, ext *features.Extractor, neg *schema.Negotiator, m Matcher, opts ...Option) *Flow {
	f := &Flow{
		ctrl:       ctrl,
		extractor:  ext,
		negotiator: neg,
		matcher:    m,
		log:        logger.Nop(),
		clock:      capture.SystemClock(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// SetIdentity replaces the identity field.
func (f *Flow) SetIdentity(identity string) {
	f.mu.Lock()
	f.form.Identity = identity
	f.mu.Unlock()
}

// SetPassphrase replaces the passphrase field.
func (f *Flow) SetPassphrase(typed string) {
	f.mu.Lock()
	f.form.Passphrase = typed
	f.mu.Unlock()
}

// Form returns the current field values.
func (f *Flow) Form() Form {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.form
}

// State reports where the current attempt is.
func (f *Flow) State() State {
	f.mu.Lock()
	state := f.state
	f.mu.Unlock()
	if (state == Idle || state == Result) && f.ctrl.Snapshot().Started() {
		return Capturing
	}
	return state
}

// Restart discards the capture buffer and returns to Idle.
func (f *Flow) Restart() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctrl.Reset()
	f.state = Idle
}

// Expected returns the count submissions are validated against.
func (f *Flow) Expected() model.ExpectedCount {
	return f.negotiator.Expected()
}

// RefreshSchema refetches the expected count for the current identity. A
// *schema.FetchError is advisory; the returned count is still usable.
func (f *Flow) RefreshSchema(ctx context.Context) (model.ExpectedCount, error) {
	identity := f.Form().Identity
	return f.negotiator.Fetch(ctx, identity)
}

// Prepare validates the form and extracts the vector for intent.
//
// A missing identity or a passphrase mismatch leaves both the buffer and the
// form untouched. A length mismatch clears the passphrase; the buffer was
// already consumed by extraction.
func (f *Flow) Prepare(intent model.Intent) (*Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	form := f.form
	startedAt := f.ctrl.Snapshot().TypingStart
	expected := f.negotiator.Expected().Value

	if form.Identity == "" {
		f.record(model.Attempt{
			Intent:        intent,
			StartedAt:     startedAt,
			ExpectedCount: expected,
			Outcome:       model.OutcomeIdentityMissing,
			Message:       ErrIdentityMissing.Error(),
		}, nil)
		return nil, ErrIdentityMissing
	}

	v, err := f.ctrl.Extract(f.extractor.Func(form.Passphrase))
	if err != nil {
		if errors.Is(err, features.ErrPassphraseMismatch) {
			f.record(model.Attempt{
				Identity:      form.Identity,
				Intent:        intent,
				StartedAt:     startedAt,
				ExpectedCount: expected,
				Outcome:       model.OutcomePassphraseMismatch,
				Message:       err.Error(),
			}, nil)
		}
		return nil, err
	}

	speed := typingSpeedOf(v)
	if err := schema.Validate(v, expected); err != nil {
		f.form.Passphrase = ""
		f.state = Idle
		f.log.Warn("Attempt: feature count mismatch",
			"identity", form.Identity,
			"expected", expected,
			"actual", len(v))
		f.record(model.Attempt{
			Identity:      form.Identity,
			Intent:        intent,
			StartedAt:     startedAt,
			FeatureCount:  len(v),
			ExpectedCount: expected,
			Outcome:       model.OutcomeCountMismatch,
			TypingSpeed:   speed,
			Message:       err.Error(),
		}, v)
		return nil, err
	}

	f.state = Extracted
	return &Submission{
		ID:          uuid.NewString(),
		Intent:      intent,
		Identity:    form.Identity,
		Vector:      v,
		Expected:    expected,
		StartedAt:   startedAt,
		TypingSpeed: speed,
	}, nil
}

// Send delivers sub to the matcher. On success the passphrase is cleared. A
// failure is returned as-is; the buffer was reset by Prepare, so a retry
// needs a fresh capture.
func (f *Flow) Send(ctx context.Context, sub *Submission) (Outcome, error) {
	f.mu.Lock()
	f.state = Submitted
	f.mu.Unlock()

	out := Outcome{Features: len(sub.Vector)}
	a := model.Attempt{
		ID:            sub.ID,
		Identity:      sub.Identity,
		Intent:        sub.Intent,
		StartedAt:     sub.StartedAt,
		FeatureCount:  len(sub.Vector),
		ExpectedCount: sub.Expected,
		TypingSpeed:   sub.TypingSpeed,
	}

	var err error
	switch sub.Intent {
	case model.IntentEnroll:
		var res model.EnrollResult
		res, err = f.matcher.Enroll(ctx, sub.Identity, sub.Vector)
		if err == nil {
			out.Kind = model.OutcomeEnrolled
			out.Enroll = &res
			a.ModelType = res.ModelType
			a.Message = res.Message
		}
	case model.IntentAuthenticate:
		var res model.AuthResult
		res, err = f.matcher.Authenticate(ctx, sub.Identity, sub.Vector)
		if err == nil {
			out.Kind = model.OutcomeRejected
			if res.Decision == model.DecisionAccept {
				out.Kind = model.OutcomeAuthenticated
			}
			out.Auth = &res
			a.Decision = res.Decision
			a.ModelType = res.ModelType
			a.Message = res.Message
		}
	default:
		err = fmt.Errorf("unknown intent %q", sub.Intent)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err != nil {
		f.state = Idle
		f.log.Error("Attempt: submission failed",
			"identity", sub.Identity,
			"intent", string(sub.Intent),
			"error", err.Error())
		a.Outcome = model.OutcomeProtocolFailure
		a.Message = err.Error()
		f.record(a, sub.Vector)
		return Outcome{Kind: model.OutcomeProtocolFailure, Features: len(sub.Vector)}, err
	}

	f.form.Passphrase = ""
	f.state = Result
	f.log.Info("Attempt: completed",
		"identity", sub.Identity,
		"intent", string(sub.Intent),
		"outcome", string(out.Kind))
	a.Outcome = out.Kind
	f.record(a, sub.Vector)
	return out, nil
}

// Submit runs Prepare and Send back to back.
func (f *Flow) Submit(ctx context.Context, intent model.Intent) (Outcome, error) {
	sub, err := f.Prepare(intent)
	if err != nil {
		return Outcome{}, err
	}
	return f.Send(ctx, sub)
}

// record must be called with f.mu held. Recorder errors are logged only.
func (f *Flow) record(a model.Attempt, v model.FeatureVector) {
	if f.recorder == nil {
		return
	}
	a.EndedAt = f.clock.Now()
	if a.Decision == "" {
		a.Decision = model.DecisionError
		if a.Outcome == model.OutcomeEnrolled {
			a.Decision = model.DecisionAccept
		}
	}
	if _, err := f.recorder.InsertAttempt(context.Background(), a, v); err != nil {
		f.log.Warn("Attempt: failed to record attempt",
			"identity", a.Identity,
			"outcome", string(a.Outcome),
			"error", err.Error())
	}
}

func typingSpeedOf(v model.FeatureVector) float64 {
	sections, err := features.Layout(v)
	if err != nil {
		return 0
	}
	return sections.TypingSpeed
}
