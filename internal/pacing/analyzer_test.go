package pacing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/arnonsang/shadow-ua-sub000/api/schemas"
)

func record(h *intervalHistory, ds ...time.Duration) {
	for _, d := range ds {
		h.record(d)
	}
}

func TestAnalyze(t *testing.T) {
	t.Run("should report zero for an empty history", func(t *testing.T) {
		h := newIntervalHistory(100)
		report := h.analyze()
		assert.Zero(t, report.Score)
		assert.False(t, report.Robotic)
		assert.Zero(t, report.SampleSize)
	})

	t.Run("should flag metronome timing as robotic", func(t *testing.T) {
		h := newIntervalHistory(100)
		for i := 0; i < 100; i++ {
			h.record(500 * time.Millisecond)
		}

		report := h.analyze()
		// Zero variance and a single repeated value trip two signals.
		assert.InDelta(t, 0.7, report.Score, 0.001)
		assert.True(t, report.Robotic)
		assert.Contains(t, report.Reasons, "low interval variance")
		assert.Contains(t, report.Reasons, "repeated exact intervals")
		assert.Equal(t, 100, report.SampleSize)
	})

	t.Run("should count sub-50ms intervals without other signals", func(t *testing.T) {
		h := newIntervalHistory(100)
		// Unique fast intervals: high sub-50ms share, but wide variance and
		// no duplicates.
		for i := 1; i <= 40; i++ {
			h.record(time.Duration(i) * time.Millisecond)
		}

		report := h.analyze()
		assert.InDelta(t, 0.3, report.Score, 0.001)
		assert.False(t, report.Robotic)
		assert.Equal(t, []string{"high share of sub-50ms intervals"}, report.Reasons)
	})

	t.Run("should stay below the robotic floor on low variance alone", func(t *testing.T) {
		h := newIntervalHistory(100)
		// Tight but distinct intervals around half a second.
		for i := 0; i < 100; i++ {
			h.record(500*time.Millisecond + time.Duration(i)*time.Millisecond)
		}

		report := h.analyze()
		assert.InDelta(t, 0.4, report.Score, 0.001)
		assert.False(t, report.Robotic)
	})

	t.Run("should pass humanlike timing", func(t *testing.T) {
		h := newIntervalHistory(100)
		for i := 0; i < 100; i++ {
			h.record(time.Duration(200+i*17%700) * time.Millisecond)
		}

		report := h.analyze()
		assert.Less(t, report.Score, roboticScoreFloor)
		assert.False(t, report.Robotic)
	})

	t.Run("should keep only the most recent intervals", func(t *testing.T) {
		h := newIntervalHistory(100)
		// 80 robotic intervals pushed out by 100 varied ones.
		for i := 0; i < 80; i++ {
			h.record(100 * time.Millisecond)
		}
		for i := 0; i < 100; i++ {
			h.record(time.Duration(150+i*13) * time.Millisecond)
		}

		report := h.analyze()
		assert.Equal(t, 100, report.SampleSize)
		assert.False(t, report.Robotic, "evicted intervals must not influence the score")
	})
}

func TestPacerPatternRoundTrip(t *testing.T) {
	// The public surface: feed intervals through the pacer and read the
	// report back.
	p := newTestPacer(t, Config{HistorySize: 50}, schemas.BrowserChrome, schemas.PlatformWindows)

	for i := 0; i < 50; i++ {
		p.RecordInterval(250 * time.Millisecond)
	}

	report := p.AnalyzeRequestPattern()
	assert.True(t, report.Robotic)
	assert.Equal(t, 50, report.SampleSize)
}
