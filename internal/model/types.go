// Package model defines shared data structures.
package model

import "time"

// DefaultExpectedCount is the feature count a matcher reports when it has no
// model for the requested identity.
const DefaultExpectedCount = 27

// Config defines capture and matcher settings.
type Config struct {
	MatcherURL   string
	Timeout      time.Duration
	Passphrase   string
	Source       string
	Device       string
	DefaultCount int
	LogLevel     string
	LogFile      string
}

// HistoryConfig defines filters for the attempt history report.
type HistoryConfig struct {
	Identity    string
	Since       *time.Time
	Last        int
	CurveWindow int
}

// FeatureVector is the fixed-order numeric summary of one capture session.
// Vectors are comparable only when their lengths match.
type FeatureVector []float64

// Intent selects the matcher operation for a submission.
type Intent string

const (
	IntentEnroll       Intent = "enroll"
	IntentAuthenticate Intent = "authenticate"
)

// CountSource describes where an expected feature count came from.
type CountSource string

const (
	CountDefault CountSource = "default"
	CountPerUser CountSource = "per-user"
	// CountCached marks a value kept from an earlier fetch after a failed one.
	CountCached CountSource = "cached"
)

// ExpectedCount is the vector length the matcher expects for an identity.
type ExpectedCount struct {
	Value  int
	Source CountSource
}

// Decision is the matcher verdict for an authentication request.
type Decision string

const (
	DecisionAccept Decision = "accept"
	DecisionReject Decision = "reject"
	DecisionError  Decision = "error"
)

// EnrollResult is the matcher response to an enroll call.
type EnrollResult struct {
	Status       string
	ModelType    string
	Message      string
	SamplesCount int
}

// AuthResult is the matcher response to an authenticate call.
type AuthResult struct {
	Decision   Decision
	ModelType  string
	Confidence *float64
	Message    string
}

// Outcome labels how an attempt ended.
type Outcome string

const (
	OutcomeEnrolled           Outcome = "enrolled"
	OutcomeAuthenticated      Outcome = "authenticated"
	OutcomeRejected           Outcome = "rejected"
	OutcomePassphraseMismatch Outcome = "passphrase_mismatch"
	OutcomeCountMismatch      Outcome = "count_mismatch"
	OutcomeIdentityMissing    Outcome = "identity_missing"
	OutcomeProtocolFailure    Outcome = "protocol_failure"
)

// Attempt records one capture attempt that reached a terminal state.
type Attempt struct {
	ID            string
	Identity      string
	Intent        Intent
	StartedAt     time.Time
	EndedAt       time.Time
	FeatureCount  int
	ExpectedCount int
	Outcome       Outcome
	Decision      Decision
	ModelType     string
	TypingSpeed   float64
	Message       string
}

// AttemptAggregate summarizes attempts for one identity.
type AttemptAggregate struct {
	Identity      string
	Attempts      int
	Enrolled      int
	Accepted      int
	Rejected      int
	Failures      int
	TypingSpeeds  []float64
	CountMismatch int
	// MeanDrift is the average of FeatureCount-ExpectedCount over attempts
	// that produced a vector.
	MeanDrift float64
}
