package pool

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/arnonsang/shadow-ua-sub000/api/schemas"
	"github.com/arnonsang/shadow-ua-sub000/internal/config"
	"github.com/arnonsang/shadow-ua-sub000/pkg/weighted"
)

// Strategy names accepted by NewManager.
const (
	StrategyRoundRobin   = "round-robin"
	StrategyWeighted     = "weighted"
	StrategyAdaptive     = "adaptive"
	StrategyGeographic   = "geographic"
	StrategyBurstControl = "burst-control"
	StrategyStealth      = "stealth"
)

const (
	recencyWindow      = 10 * time.Minute
	recencyMaxBonus    = 10.0
	stealthComboTarget = 5
)

// errNoCandidates signals that a strategy ended up with nothing to pick
// from. The manager translates it into its rotation/unavailable handling.
var errNoCandidates = errors.New("no candidate nodes")

// pickEnv is what the manager hands a strategy for one selection. Strategies
// run with the manager lock held; pause releases it for the duration of the
// sleep, so any candidate slice from before a pause is stale and must be
// re-derived through available.
type pickEnv struct {
	cfg       *config.PoolConfig
	rng       *rand.Rand
	now       func() time.Time
	pause     func(context.Context, time.Duration) error
	available func() []*schemas.Node
	robotic   func() float64
	logger    *zap.Logger
}

// strategy picks one node out of a non-empty candidate slice. Assumes the
// manager lock is held.
type strategy interface {
	name() string
	pick(ctx context.Context, env *pickEnv, candidates []*schemas.Node) (*schemas.Node, error)
}

func newStrategy(name string, cfg *config.PoolConfig) (strategy, error) {
	switch name {
	case StrategyRoundRobin:
		return &roundRobinStrategy{}, nil
	case StrategyWeighted:
		return &weightedStrategy{}, nil
	case StrategyAdaptive:
		return &adaptiveStrategy{}, nil
	case StrategyGeographic:
		return &geographicStrategy{}, nil
	case StrategyBurstControl:
		if cfg.Burst.Window <= 0 || cfg.Burst.MaxPerWindow <= 0 {
			return nil, fmt.Errorf("burst-control strategy requires a positive window and per-window cap")
		}
		return newBurstControlStrategy(), nil
	case StrategyStealth:
		if cfg.Stealth.MaxDelay < cfg.Stealth.MinDelay {
			return nil, fmt.Errorf("stealth jitter range is inverted: min %s exceeds max %s",
				cfg.Stealth.MinDelay, cfg.Stealth.MaxDelay)
		}
		return &stealthStrategy{}, nil
	default:
		return nil, fmt.Errorf("unknown selection strategy %q", name)
	}
}

// selectionScore is the weighted-strategy score: success rate dominates,
// scaled by remaining usage headroom and a bonus for nodes warmed up within
// the last ten minutes.
func selectionScore(n *schemas.Node, now time.Time, maxRequests int) float64 {
	score := n.SuccessRate * 100
	headroom := float64(maxRequests - n.RequestCount)
	if headroom < 1 {
		headroom = 1
	}
	return score * headroom * recencyBonus(n, now)
}

func recencyBonus(n *schemas.Node, now time.Time) float64 {
	if n.LastUsedAt.IsZero() {
		return 1
	}
	since := now.Sub(n.LastUsedAt)
	if since < 0 || since >= recencyWindow {
		return 1
	}
	return 1 + recencyMaxBonus*(1-float64(since)/float64(recencyWindow))
}

// weightedPick draws by selectionScore, falling back to a uniform draw when
// every candidate scores zero (a pool of fresh failures still has to answer).
func weightedPick(env *pickEnv, candidates []*schemas.Node) (*schemas.Node, error) {
	if len(candidates) == 0 {
		return nil, errNoCandidates
	}
	now := env.now()
	weights := make([]float64, len(candidates))
	for i, n := range candidates {
		weights[i] = selectionScore(n, now, env.cfg.MaxRequestsPerUA)
	}
	if idx, ok := weighted.PickOne(env.rng, weights); ok {
		return candidates[idx], nil
	}
	return candidates[env.rng.Intn(len(candidates))], nil
}

// pickRegion draws a region by configured weight. Regions without an entry
// in the weight map count as weight 1; a zero weight removes the region from
// the draw entirely.
func pickRegion(rng *rand.Rand, cfg *config.PoolConfig) string {
	if len(cfg.Regions) == 0 {
		return ""
	}
	weights := make([]float64, len(cfg.Regions))
	for i, region := range cfg.Regions {
		if w, ok := cfg.RegionWeights[region]; ok {
			weights[i] = w
		} else {
			weights[i] = 1
		}
	}
	if idx, ok := weighted.PickOne(rng, weights); ok {
		return cfg.Regions[idx]
	}
	return cfg.Regions[rng.Intn(len(cfg.Regions))]
}

// -- round-robin --

// roundRobinStrategy keeps a cursor across calls so k available nodes are
// each visited exactly once per k consecutive selections.
type roundRobinStrategy struct {
	next int
}

func (s *roundRobinStrategy) name() string { return StrategyRoundRobin }

func (s *roundRobinStrategy) pick(_ context.Context, _ *pickEnv, candidates []*schemas.Node) (*schemas.Node, error) {
	n := candidates[s.next%len(candidates)]
	s.next++
	return n, nil
}

// -- weighted --

type weightedStrategy struct{}

func (s *weightedStrategy) name() string { return StrategyWeighted }

func (s *weightedStrategy) pick(_ context.Context, env *pickEnv, candidates []*schemas.Node) (*schemas.Node, error) {
	return weightedPick(env, candidates)
}

// -- adaptive --

// adaptiveStrategy ranks by successRate×(1−errorRate) and draws uniformly
// from the top quartile, trading a little performance for rotation breadth.
type adaptiveStrategy struct{}

func (s *adaptiveStrategy) name() string { return StrategyAdaptive }

func (s *adaptiveStrategy) pick(_ context.Context, env *pickEnv, candidates []*schemas.Node) (*schemas.Node, error) {
	ranked := append([]*schemas.Node(nil), candidates...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return adaptiveScore(ranked[i]) > adaptiveScore(ranked[j])
	})
	quartile := len(ranked) / 4
	if quartile < 1 {
		quartile = 1
	}
	return ranked[env.rng.Intn(quartile)], nil
}

func adaptiveScore(n *schemas.Node) float64 {
	errRate := 0.0
	if n.RequestCount > 0 {
		errRate = float64(n.ErrorCount) / float64(n.RequestCount)
	}
	return n.SuccessRate * (1 - errRate)
}

// -- geographic --

type geographicStrategy struct{}

func (s *geographicStrategy) name() string { return StrategyGeographic }

func (s *geographicStrategy) pick(_ context.Context, env *pickEnv, candidates []*schemas.Node) (*schemas.Node, error) {
	if region := pickRegion(env.rng, env.cfg); region != "" {
		subset := make([]*schemas.Node, 0, len(candidates))
		for _, n := range candidates {
			if n.Region == region {
				subset = append(subset, n)
			}
		}
		if len(subset) > 0 {
			return weightedPick(env, subset)
		}
	}
	// Nothing available in the drawn region, fall back to a global pick.
	return weightedPick(env, candidates)
}

// -- burst-control --

// burstControlStrategy tracks a per-node sliding window of selections and
// refuses nodes that would exceed the window cap. When every candidate is
// saturated it backs off for the recovery period, then retries once with a
// plain weighted pick over whatever is available by then.
type burstControlStrategy struct {
	windows map[string][]time.Time
}

func newBurstControlStrategy() *burstControlStrategy {
	return &burstControlStrategy{windows: make(map[string][]time.Time)}
}

func (s *burstControlStrategy) name() string { return StrategyBurstControl }

func (s *burstControlStrategy) pick(ctx context.Context, env *pickEnv, candidates []*schemas.Node) (*schemas.Node, error) {
	now := env.now()
	within := make([]*schemas.Node, 0, len(candidates))
	for _, n := range candidates {
		if s.usesInWindow(n.ID, now, env.cfg.Burst.Window) < env.cfg.Burst.MaxPerWindow {
			within = append(within, n)
		}
	}
	if len(within) > 0 {
		node, err := weightedPick(env, within)
		if err == nil {
			s.record(node.ID, now)
		}
		return node, err
	}

	env.logger.Debug("Burst windows saturated, backing off",
		zap.Duration("recovery", env.cfg.Burst.Recovery))
	if err := env.pause(ctx, env.cfg.Burst.Recovery); err != nil {
		return nil, err
	}
	node, err := weightedPick(env, env.available())
	if err == nil {
		s.record(node.ID, env.now())
	}
	return node, err
}

// usesInWindow prunes entries older than the window, then counts the rest.
func (s *burstControlStrategy) usesInWindow(id string, now time.Time, window time.Duration) int {
	entries := s.windows[id]
	cutoff := now.Add(-window)
	keep := 0
	for keep < len(entries) && !entries[keep].After(cutoff) {
		keep++
	}
	if keep > 0 {
		entries = append(entries[:0], entries[keep:]...)
		s.windows[id] = entries
	}
	return len(entries)
}

func (s *burstControlStrategy) record(id string, now time.Time) {
	s.windows[id] = append(s.windows[id], now)
}

// -- stealth --

// stealthStrategy favors identity diversity: shuffle the candidates, collect
// up to five distinct (browser, platform, device) combos, top the subset up
// with the best performers when diversity runs out, optionally hold a
// jittered beat, then weighted-pick within the subset. A robotic-looking
// caller cadence stretches the jitter.
type stealthStrategy struct{}

func (s *stealthStrategy) name() string { return StrategyStealth }

func (s *stealthStrategy) pick(ctx context.Context, env *pickEnv, candidates []*schemas.Node) (*schemas.Node, error) {
	subset := stealthSubset(env.rng, candidates)

	if d := s.jitter(env); d > 0 {
		if err := env.pause(ctx, d); err != nil {
			return nil, err
		}
		// Availability may have shifted while sleeping.
		still := make(map[string]bool)
		for _, n := range env.available() {
			still[n.ID] = true
		}
		kept := subset[:0]
		for _, n := range subset {
			if still[n.ID] {
				kept = append(kept, n)
			}
		}
		subset = kept
	}
	return weightedPick(env, subset)
}

func (s *stealthStrategy) jitter(env *pickEnv) time.Duration {
	min, max := env.cfg.Stealth.MinDelay, env.cfg.Stealth.MaxDelay
	if max <= 0 {
		return 0
	}
	d := min
	if span := max - min; span > 0 {
		d += time.Duration(env.rng.Float64() * float64(span))
	}
	if r := env.robotic(); r > 0 {
		d = time.Duration(float64(d) * (1 + r))
	}
	return d
}

// stealthSubset shuffles and greedily collects distinct combos, topping up
// with the strongest leftovers when fewer than five combos exist.
func stealthSubset(rng *rand.Rand, candidates []*schemas.Node) []*schemas.Node {
	shuffled := append([]*schemas.Node(nil), candidates...)
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	target := stealthComboTarget
	if len(shuffled) < target {
		target = len(shuffled)
	}
	subset := make([]*schemas.Node, 0, target)
	chosen := make(map[string]bool, target)
	combos := make(map[string]bool, target)
	for _, n := range shuffled {
		if len(subset) == target {
			break
		}
		key := n.Identity.ComboKey()
		if combos[key] {
			continue
		}
		combos[key] = true
		chosen[n.ID] = true
		subset = append(subset, n)
	}
	if len(subset) < target {
		rest := make([]*schemas.Node, 0, len(shuffled)-len(subset))
		for _, n := range shuffled {
			if !chosen[n.ID] {
				rest = append(rest, n)
			}
		}
		sort.SliceStable(rest, func(i, j int) bool {
			return rest[i].SuccessRate > rest[j].SuccessRate
		})
		for _, n := range rest {
			if len(subset) == target {
				break
			}
			subset = append(subset, n)
		}
	}
	return subset
}
