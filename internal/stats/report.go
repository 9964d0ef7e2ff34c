package stats

import (
	"context"
	"io"

	"github.com/verte-zerg/keyrhythm/internal/model"
)

// recentAttempts bounds the attempt table of a report.
const recentAttempts = 20

// Report contains precomputed data for history rendering.
type Report struct {
	Attempts   []model.Attempt
	Recent     []model.Attempt
	Aggregates []model.AttemptAggregate
}

// AttemptLister is the part of the store a report reads from.
type AttemptLister interface {
	ListAttempts(ctx context.Context, cfg model.HistoryConfig) ([]model.Attempt, error)
}

// BuildReport loads and prepares data for history rendering.
func BuildReport(ctx context.Context, st AttemptLister, cfg model.HistoryConfig) (Report, error) {
	attempts, err := st.ListAttempts(ctx, cfg)
	if err != nil {
		return Report{}, err
	}
	return Report{
		Attempts:   attempts,
		Recent:     lastAttempts(attempts, recentAttempts),
		Aggregates: AttemptMetrics(attempts),
	}, nil
}

// RenderReport prints the full plain-text history report.
func RenderReport(w io.Writer, report Report, window, width int, useColor bool) error {
	if err := RenderSummary(w, report.Aggregates); err != nil {
		return err
	}
	if len(report.Attempts) == 0 {
		return nil
	}
	if err := RenderIdentityTable(w, report.Aggregates); err != nil {
		return err
	}
	if err := RenderCurvesWithSize(w, report.Attempts, window, width, 0, useColor); err != nil {
		return err
	}
	return RenderAttemptTable(w, report.Recent)
}

func lastAttempts(attempts []model.Attempt, window int) []model.Attempt {
	if window <= 0 || len(attempts) <= window {
		return attempts
	}
	return attempts[len(attempts)-window:]
}
