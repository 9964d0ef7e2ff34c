// Package schema negotiates the feature vector length with the matcher and
// gates submissions on an exact length match.
package schema

import (
	"context"
	"fmt"
	"sync"

	"github.com/verte-zerg/keyrhythm/internal/logger"
	"github.com/verte-zerg/keyrhythm/internal/model"
)

// CountFetcher asks the matcher for the expected feature count.
// An empty identity requests the system default.
type CountFetcher interface {
	ExpectedFeatureCount(ctx context.Context, identity string) (int, error)
}

// CountMismatchError reports a vector whose length differs from the expected count.
type CountMismatchError struct {
	Expected int
	Actual   int
}

func (e *CountMismatchError) Error() string {
	return fmt.Sprintf("feature count mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// FetchError is the advisory returned when the expected count could not be
// refreshed. The last known value stays in effect.
type FetchError struct {
	Identity string
	Kept     int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("could not fetch expected feature count (keeping %d): %v", e.Kept, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Negotiator holds the most recent expected count. Last write wins.
type Negotiator struct {
	fetcher CountFetcher
	log     *logger.Logger

	mu       sync.Mutex
	expected model.ExpectedCount
}

// NewNegotiator starts from defaultCount until the first successful fetch.
func NewNegotiator(fetcher CountFetcher, defaultCount int, log *logger.Logger) *Negotiator {
	if log == nil {
		log = logger.Nop()
	}
	return &Negotiator{
		fetcher:  fetcher,
		log:      log,
		expected: model.ExpectedCount{Value: defaultCount, Source: model.CountDefault},
	}
}

// Fetch refreshes the expected count for identity. On failure the previous
// value is returned with source "cached" alongside a *FetchError.
func (n *Negotiator) Fetch(ctx context.Context, identity string) (model.ExpectedCount, error) {
	value, err := n.fetcher.ExpectedFeatureCount(ctx, identity)
	n.mu.Lock()
	defer n.mu.Unlock()
	if err != nil {
		n.log.Warn("Schema: failed to fetch expected feature count",
			"identity", identity,
			"kept", n.expected.Value,
			"error", err.Error())
		return model.ExpectedCount{Value: n.expected.Value, Source: model.CountCached},
			&FetchError{Identity: identity, Kept: n.expected.Value, Err: err}
	}
	source := model.CountDefault
	if identity != "" {
		source = model.CountPerUser
	}
	n.expected = model.ExpectedCount{Value: value, Source: source}
	n.log.Debug("Schema: expected feature count updated",
		"identity", identity,
		"count", value,
		"source", string(source))
	return n.expected, nil
}

// Expected returns the last known expected count.
func (n *Negotiator) Expected() model.ExpectedCount {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.expected
}

// Validate compares the vector length with expected.
func Validate(v model.FeatureVector, expected int) error {
	if len(v) != expected {
		return &CountMismatchError{Expected: expected, Actual: len(v)}
	}
	return nil
}
