// Package stats contains attempt history calculations and reporting.
package stats

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strings"

	"github.com/verte-zerg/keyrhythm/internal/model"
)

const sparkChars = " .:-=+*#%@"

// identityWidth caps identity cells in report tables.
const identityWidth = 24

// AttemptMetrics groups attempts by identity, sorted by identity.
func AttemptMetrics(attempts []model.Attempt) []model.AttemptAggregate {
	byIdentity := map[string]*model.AttemptAggregate{}
	drift := map[string][2]int{}
	for _, a := range attempts {
		agg, ok := byIdentity[a.Identity]
		if !ok {
			agg = &model.AttemptAggregate{Identity: a.Identity}
			byIdentity[a.Identity] = agg
		}
		agg.Attempts++
		switch a.Outcome {
		case model.OutcomeEnrolled:
			agg.Enrolled++
		case model.OutcomeAuthenticated:
			agg.Accepted++
		case model.OutcomeRejected:
			agg.Rejected++
		case model.OutcomeCountMismatch:
			agg.CountMismatch++
		default:
			agg.Failures++
		}
		if a.FeatureCount > 0 {
			d := drift[a.Identity]
			d[0] += a.FeatureCount - a.ExpectedCount
			d[1]++
			drift[a.Identity] = d
		}
		if a.TypingSpeed > 0 {
			agg.TypingSpeeds = append(agg.TypingSpeeds, a.TypingSpeed)
		}
	}

	out := make([]model.AttemptAggregate, 0, len(byIdentity))
	for identity, agg := range byIdentity {
		if d := drift[identity]; d[1] > 0 {
			agg.MeanDrift = float64(d[0]) / float64(d[1])
		}
		out = append(out, *agg)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Identity < out[j].Identity
	})
	return out
}

// AcceptRate is the share of decided authentications that were accepted.
func AcceptRate(agg model.AttemptAggregate) float64 {
	decided := agg.Accepted + agg.Rejected
	if decided == 0 {
		return 0
	}
	return float64(agg.Accepted) / float64(decided)
}

// MeanTypingSpeed averages the recorded typing speeds.
func MeanTypingSpeed(agg model.AttemptAggregate) float64 {
	if len(agg.TypingSpeeds) == 0 {
		return 0
	}
	var sum float64
	for _, v := range agg.TypingSpeeds {
		sum += v
	}
	return sum / float64(len(agg.TypingSpeeds))
}

// MovingAverage computes a rolling mean over the provided window size.
func MovingAverage(values []float64, window int) []float64 {
	out := make([]float64, len(values))
	if window <= 1 {
		copy(out, values)
		return out
	}
	var sum float64
	for i, v := range values {
		sum += v
		n := i + 1
		if i >= window {
			sum -= values[i-window]
			n = window
		}
		out[i] = sum / float64(n)
	}
	return out
}

// Sparkline renders a single-line ASCII sparkline for the values.
func Sparkline(values []float64) string {
	if len(values) == 0 {
		return ""
	}
	lo, hi := bounds(values)
	if math.Abs(hi-lo) < 1e-9 {
		return strings.Repeat(string(sparkChars[len(sparkChars)/2]), len(values))
	}
	var b strings.Builder
	for _, v := range values {
		idx := int(math.Round((v - lo) / (hi - lo) * float64(len(sparkChars)-1)))
		b.WriteByte(sparkChars[clamp(idx, 0, len(sparkChars)-1)])
	}
	return b.String()
}

// RenderSummary prints one summary block across all identities in aggs.
func RenderSummary(w io.Writer, aggs []model.AttemptAggregate) error {
	if len(aggs) == 0 {
		_, err := fmt.Fprintln(w, "No attempts found.")
		return err
	}
	var total model.AttemptAggregate
	var driftSum float64
	for _, agg := range aggs {
		total.Attempts += agg.Attempts
		total.Enrolled += agg.Enrolled
		total.Accepted += agg.Accepted
		total.Rejected += agg.Rejected
		total.Failures += agg.Failures
		total.CountMismatch += agg.CountMismatch
		total.TypingSpeeds = append(total.TypingSpeeds, agg.TypingSpeeds...)
		driftSum += agg.MeanDrift
	}
	lines := []string{
		"Summary",
		fmt.Sprintf("Identities: %d", len(aggs)),
		fmt.Sprintf("Attempts: %d", total.Attempts),
		fmt.Sprintf("Enrollments: %d", total.Enrolled),
		fmt.Sprintf("Accept rate: %.2f%% (%d/%d)", AcceptRate(total)*100, total.Accepted, total.Accepted+total.Rejected),
		fmt.Sprintf("Count mismatches: %d", total.CountMismatch),
		fmt.Sprintf("Other failures: %d", total.Failures),
		fmt.Sprintf("Avg typing speed: %.2f chars/s", MeanTypingSpeed(total)),
		fmt.Sprintf("Avg feature-count drift: %+.2f", driftSum/float64(len(aggs))),
		"",
	}
	for _, line := range lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

// RenderIdentityTable prints per-identity aggregates.
func RenderIdentityTable(w io.Writer, aggs []model.AttemptAggregate) error {
	if len(aggs) == 0 {
		return nil
	}
	if _, err := fmt.Fprintln(w, "Per-Identity"); err != nil {
		return err
	}
	tbl := newTextTable(
		column{title: "Identity", max: identityWidth},
		column{title: "Attempts", right: true},
		column{title: "Enrolled", right: true},
		column{title: "Accept", right: true},
		column{title: "Mismatch", right: true},
		column{title: "Speed", right: true},
		column{title: "Drift", right: true},
		column{title: "Trend"},
	)
	for _, agg := range aggs {
		tbl.add(
			identityLabel(agg.Identity),
			fmt.Sprintf("%d", agg.Attempts),
			fmt.Sprintf("%d", agg.Enrolled),
			fmt.Sprintf("%.2f%%", AcceptRate(agg)*100),
			fmt.Sprintf("%d", agg.CountMismatch),
			fmt.Sprintf("%.2f", MeanTypingSpeed(agg)),
			fmt.Sprintf("%+.2f", agg.MeanDrift),
			Sparkline(agg.TypingSpeeds),
		)
	}
	return tbl.writeTo(w)
}

// RenderAttemptTable prints attempts in the order given.
func RenderAttemptTable(w io.Writer, attempts []model.Attempt) error {
	if len(attempts) == 0 {
		_, err := fmt.Fprintln(w, "No attempts found.")
		return err
	}
	if _, err := fmt.Fprintln(w, "Attempts"); err != nil {
		return err
	}
	tbl := newTextTable(
		column{title: "Ended"},
		column{title: "Identity", max: identityWidth},
		column{title: "Intent"},
		column{title: "Outcome"},
		column{title: "Features", right: true},
		column{title: "Speed", right: true},
		column{title: "Model"},
	)
	for _, a := range attempts {
		tbl.add(
			a.EndedAt.Local().Format("2006-01-02 15:04:05"),
			identityLabel(a.Identity),
			string(a.Intent),
			string(a.Outcome),
			fmt.Sprintf("%d/%d", a.FeatureCount, a.ExpectedCount),
			fmt.Sprintf("%.2f", a.TypingSpeed),
			a.ModelType,
		)
	}
	return tbl.writeTo(w)
}

// RenderCurvesWithSize charts the smoothed typing speed of attempts.
func RenderCurvesWithSize(w io.Writer, attempts []model.Attempt, window, totalWidth, height int, useColor bool) error {
	speeds := make([]float64, 0, len(attempts))
	for _, a := range attempts {
		if a.TypingSpeed > 0 {
			speeds = append(speeds, a.TypingSpeed)
		}
	}
	if len(speeds) == 0 {
		return nil
	}
	width := 0
	if totalWidth > 0 {
		width = ChartWidthFor(totalWidth)
	}
	return RenderChart(w, "Typing Speed (chars/s)", MovingAverage(speeds, window), width, height, useColor)
}

func identityLabel(identity string) string {
	if identity == "" {
		return "<none>"
	}
	return identity
}

func writeLines(w io.Writer, lines []string) error {
	for _, line := range lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w, "")
	return err
}

func bounds(values []float64) (lo, hi float64) {
	lo, hi = values[0], values[0]
	for _, v := range values[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
