package schema

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verte-zerg/keyrhythm/internal/model"
)

type stubFetcher struct {
	counts map[string]int
	err    error
	calls  []string
}

func (s *stubFetcher) ExpectedFeatureCount(_ context.Context, identity string) (int, error) {
	s.calls = append(s.calls, identity)
	if s.err != nil {
		return 0, s.err
	}
	if v, ok := s.counts[identity]; ok {
		return v, nil
	}
	return model.DefaultExpectedCount, nil
}

func TestNegotiator_StartsAtDefault(t *testing.T) {
	n := NewNegotiator(&stubFetcher{}, 27, nil)
	assert.Equal(t, model.ExpectedCount{Value: 27, Source: model.CountDefault}, n.Expected())
}

func TestNegotiator_FetchPerUser(t *testing.T) {
	f := &stubFetcher{counts: map[string]int{"bob": 29}}
	n := NewNegotiator(f, 27, nil)

	got, err := n.Fetch(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, model.ExpectedCount{Value: 29, Source: model.CountPerUser}, got)
	assert.Equal(t, got, n.Expected())

	got, err = n.Fetch(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, model.ExpectedCount{Value: 27, Source: model.CountDefault}, got)
	assert.Equal(t, []string{"bob", ""}, f.calls)
}

func TestNegotiator_FetchFailureKeepsLastKnown(t *testing.T) {
	f := &stubFetcher{counts: map[string]int{"bob": 31}}
	n := NewNegotiator(f, 27, nil)
	_, err := n.Fetch(context.Background(), "bob")
	require.NoError(t, err)

	f.err = errors.New("connection refused")
	got, err := n.Fetch(context.Background(), "bob")

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, 31, fetchErr.Kept)
	assert.ErrorIs(t, err, f.err)
	assert.Equal(t, model.ExpectedCount{Value: 31, Source: model.CountCached}, got)
	assert.Equal(t, 31, n.Expected().Value)
}

func TestNegotiator_FetchFailureBeforeAnySuccess(t *testing.T) {
	n := NewNegotiator(&stubFetcher{err: errors.New("boom")}, 27, nil)
	got, err := n.Fetch(context.Background(), "")
	require.Error(t, err)
	assert.Equal(t, 27, got.Value)
	assert.Equal(t, model.CountDefault, n.Expected().Source)
}

func TestValidate(t *testing.T) {
	require.NoError(t, Validate(make(model.FeatureVector, 26), 26))

	err := Validate(make(model.FeatureVector, 26), 27)
	var mismatch *CountMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, 27, mismatch.Expected)
	assert.Equal(t, 26, mismatch.Actual)
	assert.Equal(t, "feature count mismatch: expected 27, got 26", err.Error())
}
