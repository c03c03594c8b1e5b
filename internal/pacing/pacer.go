// Package pacing computes humanlike inter-action delays from per-profile
// timing tables and statistical distributions, and scores interval histories
// for robotic regularity.
package pacing

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/aquilax/go-perlin"
	"go.uber.org/zap"

	"github.com/arnonsang/shadow-ua-sub000/api/schemas"
)

// Distribution selects the statistical shape of the base delay draw.
type Distribution string

const (
	DistUniform     Distribution = "uniform"
	DistExponential Distribution = "exponential"
	DistNormal      Distribution = "normal"
	DistPoisson     Distribution = "poisson"
)

const (
	burstThreshold = 100 * time.Millisecond
	minDelay       = 50 * time.Millisecond
	maxDelay       = 30 * time.Second

	// Trailing-minute action counts that trigger adaptive scaling.
	highLoad = 20
	lowLoad  = 5

	poissonLambda = 4.0

	// Session drift wanders the delay by at most ±5%, slowly.
	driftAmplitude = 0.05
	driftFrequency = 0.02
)

// profile is the base delay and jitter band for one (browser, platform) pair.
type profile struct {
	base   time.Duration
	jitter time.Duration
}

var profiles = map[string]profile{
	"chrome/windows":  {850 * time.Millisecond, 320 * time.Millisecond},
	"chrome/macos":    {780 * time.Millisecond, 300 * time.Millisecond},
	"chrome/linux":    {820 * time.Millisecond, 310 * time.Millisecond},
	"chrome/android":  {950 * time.Millisecond, 400 * time.Millisecond},
	"firefox/windows": {900 * time.Millisecond, 350 * time.Millisecond},
	"firefox/macos":   {860 * time.Millisecond, 330 * time.Millisecond},
	"firefox/linux":   {880 * time.Millisecond, 340 * time.Millisecond},
	"safari/macos":    {760 * time.Millisecond, 290 * time.Millisecond},
	"safari/ios":      {1050 * time.Millisecond, 450 * time.Millisecond},
	"edge/windows":    {870 * time.Millisecond, 330 * time.Millisecond},
	"edge/macos":      {840 * time.Millisecond, 320 * time.Millisecond},
}

var defaultProfile = profile{time.Second, 400 * time.Millisecond}

// burstLimits is the number of consecutive sub-100ms calls tolerated per
// browser before the burst multiplier kicks in.
var burstLimits = map[schemas.Browser]int{
	schemas.BrowserChrome:  3,
	schemas.BrowserEdge:    3,
	schemas.BrowserFirefox: 2,
	schemas.BrowserSafari:  2,
}

const defaultBurstLimit = 2

// Config tunes a Pacer. Rng and Clock are injectable for deterministic tests;
// nil values fall back to a wall-clock seed and time.Now.
type Config struct {
	Distribution Distribution
	HistorySize  int
	SessionDrift bool
	Rng          *rand.Rand
	Clock        func() time.Time
}

// Pacer produces timing hints for one identity profile. All methods are safe
// for concurrent use.
type Pacer struct {
	mu       sync.Mutex
	cfg      Config
	browser  schemas.Browser
	platform schemas.Platform
	rng      *rand.Rand
	clock    func() time.Time
	logger   *zap.Logger

	history      *intervalHistory
	actions      []time.Time
	lastCall     time.Time
	burstStreak  int
	drift        *perlin.Perlin
	sessionStart time.Time
}

// New builds a Pacer targeting the given (browser, platform) pair. Unknown
// distributions are a construction error.
func New(cfg Config, browser schemas.Browser, platform schemas.Platform, logger *zap.Logger) (*Pacer, error) {
	switch cfg.Distribution {
	case "":
		cfg.Distribution = DistNormal
	case DistUniform, DistExponential, DistNormal, DistPoisson:
	default:
		return nil, fmt.Errorf("unknown pacing distribution %q", cfg.Distribution)
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	rng := cfg.Rng
	seed := time.Now().UnixNano()
	if rng == nil {
		rng = rand.New(rand.NewSource(seed))
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	p := &Pacer{
		cfg:          cfg,
		browser:      browser,
		platform:     platform,
		rng:          rng,
		clock:        clock,
		logger:       logger.Named("pacing"),
		history:      newIntervalHistory(cfg.HistorySize),
		sessionStart: clock(),
	}
	if cfg.SessionDrift {
		p.drift = perlin.NewPerlin(2, 2, 3, seed)
	}
	return p, nil
}

// SetProfile retargets the pacer at a different identity, used after node
// rotation so timing follows the active browser.
func (p *Pacer) SetProfile(browser schemas.Browser, platform schemas.Platform) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.browser = browser
	p.platform = platform
	p.burstStreak = 0
}

// GenerateTiming produces the next recommended delay. The observed gap since
// the previous call is recorded into the interval history, so sustained
// callers feed the pattern analyzer for free.
func (p *Pacer) GenerateTiming() schemas.TimingHint {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock()
	prof := p.lookupProfile()

	delay := p.draw(prof.base)
	jitter := time.Duration((p.rng.Float64()*2 - 1) * float64(prof.jitter))
	delay += jitter

	delay = time.Duration(float64(delay) * p.loadScale(now))

	if !p.lastCall.IsZero() {
		gap := now.Sub(p.lastCall)
		p.history.record(gap)
		if gap < burstThreshold {
			p.burstStreak++
		} else {
			p.burstStreak = 0
		}
		if p.burstStreak > p.burstLimit() {
			delay = time.Duration(float64(delay) * (2 + p.rng.Float64()))
			p.logger.Debug("Burst protection engaged",
				zap.Int("streak", p.burstStreak),
				zap.Duration("delay", delay))
		}
	}

	if p.drift != nil {
		elapsed := now.Sub(p.sessionStart).Seconds()
		n := p.drift.Noise1D(elapsed * driftFrequency)
		if n > 1 {
			n = 1
		} else if n < -1 {
			n = -1
		}
		delay = time.Duration(float64(delay) * (1 + n*driftAmplitude))
	}

	if delay < minDelay {
		delay = minDelay
	}
	if delay > maxDelay {
		delay = maxDelay
	}

	p.lastCall = now
	p.actions = append(p.actions, now)
	p.pruneActions(now)

	return schemas.TimingHint{Delay: delay, Jitter: jitter, Timestamp: now}
}

// RecordInterval feeds an externally observed inter-action interval into the
// pattern history.
func (p *Pacer) RecordInterval(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.history.record(d)
}

// AnalyzeRequestPattern scores the recorded interval history for robotic
// regularity.
func (p *Pacer) AnalyzeRequestPattern() schemas.PatternReport {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.history.analyze()
}

// lookupProfile resolves the timing profile for the current identity.
// Assumes the lock is held.
func (p *Pacer) lookupProfile() profile {
	if prof, ok := profiles[string(p.browser)+"/"+string(p.platform)]; ok {
		return prof
	}
	return defaultProfile
}

func (p *Pacer) burstLimit() int {
	if limit, ok := burstLimits[p.browser]; ok {
		return limit
	}
	return defaultBurstLimit
}

// draw samples a base delay from the configured distribution. Assumes the
// lock is held.
func (p *Pacer) draw(base time.Duration) time.Duration {
	b := float64(base)
	switch p.cfg.Distribution {
	case DistUniform:
		return time.Duration(b * (0.5 + p.rng.Float64()))
	case DistExponential:
		return time.Duration(p.rng.ExpFloat64() * b)
	case DistPoisson:
		return time.Duration(b * float64(p.poisson(poissonLambda)) / poissonLambda)
	default:
		return time.Duration(b + p.boxMuller()*b/4)
	}
}

// boxMuller draws one standard normal variate. Assumes the lock is held.
func (p *Pacer) boxMuller() float64 {
	u1 := p.rng.Float64()
	for u1 == 0 {
		u1 = p.rng.Float64()
	}
	u2 := p.rng.Float64()
	return math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
}

// poisson draws a Poisson-distributed count via Knuth's product method.
// Assumes the lock is held.
func (p *Pacer) poisson(lambda float64) int {
	threshold := math.Exp(-lambda)
	k := 0
	prod := 1.0
	for {
		prod *= p.rng.Float64()
		if prod <= threshold {
			return k
		}
		k++
	}
}

// loadScale maps the trailing-minute action count onto the adaptive delay
// multiplier. Assumes the lock is held.
func (p *Pacer) loadScale(now time.Time) float64 {
	p.pruneActions(now)
	n := len(p.actions)
	switch {
	case n > highLoad:
		extra := float64(n - highLoad)
		if extra > highLoad {
			extra = highLoad
		}
		// Ramps linearly from 1x at 20/min to 3x at 40/min.
		return 1 + 2*extra/highLoad
	case n < lowLoad:
		// Ramps linearly from 0.5x at idle to 1x at 5/min.
		return 0.5 + 0.5*float64(n)/lowLoad
	default:
		return 1
	}
}

func (p *Pacer) pruneActions(now time.Time) {
	cutoff := now.Add(-time.Minute)
	i := 0
	for i < len(p.actions) && p.actions[i].Before(cutoff) {
		i++
	}
	p.actions = p.actions[i:]
}

// Wait pauses for the given duration, respecting context cancellation.
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
