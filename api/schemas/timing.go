package schemas

import "time"

// -- Pacing Models --

// TimingHint is one recommended inter-action pause produced by the pacing
// model.
type TimingHint struct {
	Delay     time.Duration `json:"delay"`
	Jitter    time.Duration `json:"jitter"`
	Timestamp time.Time     `json:"timestamp"`
}

// PatternReport scores how machine-like the recently recorded intervals look.
// Score accumulates from independent signals; Robotic is set once the total
// crosses the robotic threshold.
type PatternReport struct {
	Score      float64  `json:"score"`
	Robotic    bool     `json:"robotic"`
	Reasons    []string `json:"reasons,omitempty"`
	SampleSize int      `json:"sample_size"`
}
