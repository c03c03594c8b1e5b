package pacing

import (
	"math"
	"time"

	"github.com/arnonsang/shadow-ua-sub000/api/schemas"
)

// Thresholds for the robotic-confidence score. Each satisfied signal adds its
// weight; the pattern is flagged robotic at or above 0.5 total.
const (
	cvThreshold       = 0.2
	fastInterval      = 50 * time.Millisecond
	fastShare         = 0.3
	duplicateShare    = 0.3
	roboticScoreFloor = 0.5

	weightLowVariance = 0.4
	weightFast        = 0.3
	weightDuplicates  = 0.3
)

// intervalHistory keeps the most recent inter-action intervals, bounded at
// size. Callers hold the pacer lock; the history has no locking of its own.
type intervalHistory struct {
	intervals []time.Duration
	size      int
}

func newIntervalHistory(size int) *intervalHistory {
	return &intervalHistory{size: size}
}

func (h *intervalHistory) record(d time.Duration) {
	h.intervals = append(h.intervals, d)
	if len(h.intervals) > h.size {
		h.intervals = h.intervals[len(h.intervals)-h.size:]
	}
}

// analyze scores the history for machine-like regularity.
func (h *intervalHistory) analyze() schemas.PatternReport {
	n := len(h.intervals)
	report := schemas.PatternReport{SampleSize: n}
	if n == 0 {
		return report
	}

	var sum float64
	fast := 0
	distinct := make(map[time.Duration]struct{}, n)
	for _, d := range h.intervals {
		sum += float64(d)
		if d < fastInterval {
			fast++
		}
		distinct[d] = struct{}{}
	}
	mean := sum / float64(n)

	if n >= 2 {
		var varSum float64
		for _, d := range h.intervals {
			diff := float64(d) - mean
			varSum += diff * diff
		}
		sd := math.Sqrt(varSum / float64(n))
		// A zero mean means every interval was zero, which is as regular
		// as it gets.
		if mean == 0 || sd/mean < cvThreshold {
			report.Score += weightLowVariance
			report.Reasons = append(report.Reasons, "low interval variance")
		}
	}

	if float64(fast)/float64(n) > fastShare {
		report.Score += weightFast
		report.Reasons = append(report.Reasons, "high share of sub-50ms intervals")
	}

	if float64(n-len(distinct))/float64(n) > duplicateShare {
		report.Score += weightDuplicates
		report.Reasons = append(report.Reasons, "repeated exact intervals")
	}

	report.Robotic = report.Score >= roboticScoreFloor
	return report
}
