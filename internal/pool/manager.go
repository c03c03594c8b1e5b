// Package pool owns a long-lived set of identity nodes and answers
// per-request "which identity next" queries through pluggable selection
// strategies, with cooldown, emergency rotation, and background health
// maintenance keeping the set serviceable.
package pool

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/arnonsang/shadow-ua-sub000/api/schemas"
	"github.com/arnonsang/shadow-ua-sub000/internal/config"
	"github.com/arnonsang/shadow-ua-sub000/internal/pacing"
)

const (
	reactivateSuccessRate = 0.7
	regenerateSuccessRate = 0.3
	regenerateMinRequests = 10
	rotationTopN          = 10
	buildConcurrency      = 8
	maxAlternatives       = 3
	baseDelayMs           = 1000.0
)

// ErrPoolUnavailable is returned when selection finds no eligible node even
// after an emergency rotation.
var ErrPoolUnavailable = errors.New("node pool unavailable")

// PatternSource reports how robotic the caller's recent request cadence
// looks. The stealth strategy stretches its jitter as the score rises.
type PatternSource interface {
	AnalyzeRequestPattern() schemas.PatternReport
}

// SnapshotStore persists pool state across restarts.
type SnapshotStore interface {
	SavePool(ctx context.Context, nodes []schemas.Node) error
	LoadPool(ctx context.Context) ([]schemas.Node, error)
}

// Deps carries the manager's collaborators. Factory is required; the rest
// are optional.
type Deps struct {
	Factory      schemas.IdentityFactory
	Fingerprints schemas.FingerprintGenerator
	Patterns     PatternSource
	Snapshots    SnapshotStore
}

// Manager owns the node pool. All node state is guarded by mu; nodes handed
// to callers are defensive copies and feedback flows back in only through
// ReportResult.
type Manager struct {
	mu       sync.Mutex
	cfg      config.PoolConfig
	deps     Deps
	strategy strategy

	nodes []*schemas.Node

	totalRequests int64
	successes     int64
	failures      int64
	respTotal     time.Duration
	lastRequestAt time.Time
	rps           float64
	rotations     int64

	logger *zap.Logger
	rng    *rand.Rand
	clock  func() time.Time
	sleep  func(context.Context, time.Duration) error

	baseCtx  context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewManager validates the configuration, builds the initial pool (restoring
// from the snapshot store first when one is wired), and starts the health
// loop. Call Stop to tear the manager down.
func NewManager(ctx context.Context, cfg config.PoolConfig, deps Deps, logger *zap.Logger) (*Manager, error) {
	if deps.Factory == nil {
		return nil, fmt.Errorf("identity factory is required")
	}
	if cfg.Size <= 0 {
		return nil, fmt.Errorf("pool size must be positive, got %d", cfg.Size)
	}
	if cfg.MaxRequestsPerUA <= 0 {
		return nil, fmt.Errorf("max requests per identity must be positive, got %d", cfg.MaxRequestsPerUA)
	}
	strat, err := newStrategy(cfg.Strategy, &cfg)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:      cfg,
		deps:     deps,
		strategy: strat,
		logger:   logger.With(zap.String("component", "node_pool")),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		clock:    time.Now,
		sleep:    pacing.Wait,
		stopChan: make(chan struct{}),
	}
	m.baseCtx, m.cancel = context.WithCancel(context.Background())

	if deps.Snapshots != nil {
		if stored, err := deps.Snapshots.LoadPool(ctx); err != nil {
			m.logger.Warn("Pool snapshot load failed, starting fresh", zap.Error(err))
		} else if len(stored) > 0 {
			for i := range stored {
				if len(m.nodes) == cfg.Size {
					break
				}
				n := stored[i]
				m.nodes = append(m.nodes, &n)
			}
			m.logger.Info("Pool restored from snapshot", zap.Int("nodes", len(m.nodes)))
		}
	}
	if missing := cfg.Size - len(m.nodes); missing > 0 {
		fresh, err := m.buildNodes(ctx, missing)
		if err != nil {
			return nil, fmt.Errorf("pool init: %w", err)
		}
		m.nodes = append(m.nodes, fresh...)
	}

	m.logger.Info("Node pool ready",
		zap.Int("size", len(m.nodes)),
		zap.String("strategy", cfg.Strategy))

	if cfg.HealthEvery > 0 {
		m.wg.Add(1)
		go m.healthLoop()
	}
	return m, nil
}

// Stop halts the health loop and, when a snapshot store is wired, persists a
// final snapshot. Safe to call more than once.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopChan)
		m.wg.Wait()
		m.cancel()

		if m.deps.Snapshots == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		m.mu.Lock()
		snapshot := m.cloneNodesLocked()
		m.mu.Unlock()
		if err := m.deps.Snapshots.SavePool(ctx, snapshot); err != nil {
			m.logger.Warn("Final pool snapshot failed", zap.Error(err))
		}
	})
}

// GetNextNode selects one node via the configured strategy. An empty
// available subset triggers exactly one emergency rotation and retry before
// the call gives up with ErrPoolUnavailable.
func (m *Manager) GetNextNode(ctx context.Context) (*schemas.Selection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rotated := false
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		now := m.clock()
		candidates := m.availableLocked(now)
		if len(candidates) == 0 {
			if rotated {
				return nil, ErrPoolUnavailable
			}
			m.rotateLocked(ctx, now)
			rotated = true
			continue
		}
		node, err := m.strategy.pick(ctx, m.pickEnvLocked(), candidates)
		switch {
		case err == nil:
			return m.buildSelectionLocked(node, candidates, rotated), nil
		case errors.Is(err, errNoCandidates) && !rotated:
			m.rotateLocked(ctx, m.clock())
			rotated = true
		case errors.Is(err, errNoCandidates):
			return nil, ErrPoolUnavailable
		default:
			return nil, err
		}
	}
}

// ReportResult feeds one request outcome back into the node that served it
// and into the pool-wide counters.
func (m *Manager) ReportResult(nodeID string, success bool, responseTime time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	node := m.findLocked(nodeID)
	if node == nil {
		return fmt.Errorf("unknown node %q", nodeID)
	}

	rc := float64(node.RequestCount)
	if success {
		node.SuccessRate = (node.SuccessRate*rc + 1) / (rc + 1)
	} else {
		node.SuccessRate = (node.SuccessRate * rc) / (rc + 1)
		node.ErrorCount++
		if node.RequestCount > 0 &&
			float64(node.ErrorCount)/float64(node.RequestCount) > m.cfg.AdaptiveThreshold {
			node.CooldownUntil = m.clock().Add(m.cfg.CooldownPeriod)
			m.logger.Debug("Node cooled down",
				zap.String("node_id", node.ID),
				zap.Float64("success_rate", node.SuccessRate),
				zap.Int("error_count", node.ErrorCount))
		}
	}

	now := m.clock()
	m.totalRequests++
	if success {
		m.successes++
	} else {
		m.failures++
	}
	m.respTotal += responseTime
	if !m.lastRequestAt.IsZero() {
		if delta := now.Sub(m.lastRequestAt); delta > 0 {
			m.rps = float64(time.Second) / float64(delta)
		}
	}
	m.lastRequestAt = now
	return nil
}

// Metrics returns a snapshot of the pool-wide counters.
func (m *Manager) Metrics() schemas.PoolMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	pm := schemas.PoolMetrics{
		TotalRequests:     m.totalRequests,
		Successes:         m.successes,
		Failures:          m.failures,
		ActiveNodes:       m.activeCountLocked(),
		RequestsPerSecond: m.rps,
	}
	if m.totalRequests > 0 {
		pm.AvgResponseTime = m.respTotal / time.Duration(m.totalRequests)
	}
	return pm
}

// Nodes returns defensive copies of every pooled node.
func (m *Manager) Nodes() []schemas.Node {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cloneNodesLocked()
}

// -- selection internals --

// Assumes the lock is held.
func (m *Manager) availableLocked(now time.Time) []*schemas.Node {
	avail := make([]*schemas.Node, 0, len(m.nodes))
	for _, n := range m.nodes {
		if n.Active && now.After(n.CooldownUntil) && n.RequestCount < m.cfg.MaxRequestsPerUA {
			avail = append(avail, n)
		}
	}
	return avail
}

// Assumes the lock is held; pause hands it back for the sleep.
func (m *Manager) pickEnvLocked() *pickEnv {
	return &pickEnv{
		cfg: &m.cfg,
		rng: m.rng,
		now: m.clock,
		pause: func(ctx context.Context, d time.Duration) error {
			m.mu.Unlock()
			err := m.sleep(ctx, d)
			m.mu.Lock()
			return err
		},
		available: func() []*schemas.Node { return m.availableLocked(m.clock()) },
		robotic: func() float64 {
			if m.deps.Patterns == nil {
				return 0
			}
			return m.deps.Patterns.AnalyzeRequestPattern().Score
		},
		logger: m.logger,
	}
}

// Assumes the lock is held.
func (m *Manager) buildSelectionLocked(node *schemas.Node, candidates []*schemas.Node, rotated bool) *schemas.Selection {
	now := m.clock()
	node.RequestCount++
	node.LastUsedAt = now

	sel := &schemas.Selection{
		Node:             node.Clone(),
		RecommendedDelay: m.recommendedDelayLocked(node),
		Confidence:       m.confidenceLocked(node),
		Metadata: schemas.SelectionMetadata{
			Strategy:          m.strategy.name(),
			AvailableNodes:    len(candidates),
			SelectedAt:        now,
			EmergencyRotation: rotated,
		},
	}

	alts := make([]*schemas.Node, 0, len(candidates))
	for _, c := range candidates {
		if c != node {
			alts = append(alts, c)
		}
	}
	sort.SliceStable(alts, func(i, j int) bool {
		return selectionScore(alts[i], now, m.cfg.MaxRequestsPerUA) >
			selectionScore(alts[j], now, m.cfg.MaxRequestsPerUA)
	})
	if len(alts) > maxAlternatives {
		alts = alts[:maxAlternatives]
	}
	for _, a := range alts {
		sel.Alternatives = append(sel.Alternatives, a.Clone())
	}
	return sel
}

// recommendedDelayLocked spaces the next use of a node: weak nodes, heavily
// used nodes, and a failing pool all stretch the base second, and a jitter
// factor keeps the result from being flat. Assumes the lock is held.
func (m *Manager) recommendedDelayLocked(n *schemas.Node) time.Duration {
	usage := float64(n.RequestCount) / float64(m.cfg.MaxRequestsPerUA)
	jitter := (m.rng.Float64() - 0.5) * m.cfg.JitterFactor
	ms := baseDelayMs *
		(1 + (1 - n.SuccessRate)) *
		(1 + usage*0.5) *
		(1 + m.errorRateLocked()*2) *
		(1 + jitter)
	return time.Duration(int(ms)) * time.Millisecond
}

// Assumes the lock is held.
func (m *Manager) confidenceLocked(n *schemas.Node) float64 {
	c := n.SuccessRate * (1 - m.errorRateLocked())
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// Assumes the lock is held.
func (m *Manager) errorRateLocked() float64 {
	if m.totalRequests == 0 {
		return 0
	}
	return float64(m.failures) / float64(m.totalRequests)
}

// Assumes the lock is held.
func (m *Manager) findLocked(nodeID string) *schemas.Node {
	for _, n := range m.nodes {
		if n.ID == nodeID {
			return n
		}
	}
	return nil
}

// Assumes the lock is held.
func (m *Manager) activeCountLocked() int {
	active := 0
	for _, n := range m.nodes {
		if n.Active {
			active++
		}
	}
	return active
}

// Assumes the lock is held.
func (m *Manager) cloneNodesLocked() []schemas.Node {
	out := make([]schemas.Node, len(m.nodes))
	for i, n := range m.nodes {
		out[i] = n.Clone()
	}
	return out
}

// rotateLocked is the emergency path for an exhausted pool: clear cooldowns
// and usage counters on the strongest nodes, then top the pool back up when
// pruning has shrunk it below the floor. Assumes the lock is held.
func (m *Manager) rotateLocked(ctx context.Context, now time.Time) {
	m.rotations++

	ranked := append([]*schemas.Node(nil), m.nodes...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].SuccessRate > ranked[j].SuccessRate
	})
	topN := rotationTopN
	if topN > len(ranked) {
		topN = len(ranked)
	}
	for _, n := range ranked[:topN] {
		n.CooldownUntil = time.Time{}
		n.RequestCount = 0
		n.ErrorCount = 0
	}

	if len(m.nodes) < m.cfg.Floor {
		if fresh, err := m.buildNodes(ctx, m.cfg.Size-len(m.nodes)); err != nil {
			m.logger.Error("Pool regrow failed during rotation", zap.Error(err))
		} else {
			m.nodes = append(m.nodes, fresh...)
		}
	}

	m.logger.Warn("Emergency pool rotation",
		zap.Int64("rotation", m.rotations),
		zap.Int("reset", topN),
		zap.Int("pool_size", len(m.nodes)),
		zap.Time("at", now))
}

// -- pool construction --

// buildNodes generates count fresh nodes with a bounded fan-out. Safe to
// call with the manager lock held: workers only take the factory and
// fingerprint locks.
func (m *Manager) buildNodes(ctx context.Context, count int) ([]*schemas.Node, error) {
	regions := make([]string, count)
	for i := range regions {
		regions[i] = pickRegion(m.rng, &m.cfg)
	}

	nodes := make([]*schemas.Node, count)
	now := m.clock()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(buildConcurrency)
	for i := 0; i < count; i++ {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			node, err := m.newNode(regions[i], now)
			if err != nil {
				return fmt.Errorf("building node %d: %w", i, err)
			}
			nodes[i] = node
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return nodes, nil
}

func (m *Manager) newNode(region string, now time.Time) (*schemas.Node, error) {
	identity, err := m.deps.Factory.Generate(nil)
	if err != nil {
		return nil, err
	}
	n := &schemas.Node{
		ID:          uuid.New().String(),
		Identity:    identity,
		Region:      region,
		SuccessRate: 1,
		CreatedAt:   now,
		Active:      true,
	}
	if m.deps.Fingerprints != nil {
		fp := m.deps.Fingerprints.Generate(identity)
		n.Fingerprint = &fp
	}
	return n, nil
}

// -- health maintenance --

func (m *Manager) healthLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.HealthEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.healthPass(m.baseCtx)
		case <-m.stopChan:
			return
		}
	}
}

// healthPass runs one maintenance sweep: reactivate recovered nodes, fully
// regenerate a starved pool, prune the long-idle, and rebuild chronically
// weak nodes. A snapshot is persisted afterwards when a store is wired.
func (m *Manager) healthPass(ctx context.Context) {
	m.mu.Lock()
	now := m.clock()

	reactivated := 0
	for _, n := range m.nodes {
		if !n.Active && n.SuccessRate > reactivateSuccessRate {
			n.Active = true
			reactivated++
		}
	}

	if active := m.activeCountLocked(); active < m.cfg.MinActive {
		m.logger.Warn("Active nodes below minimum, regenerating pool",
			zap.Int("active", active),
			zap.Int("min_active", m.cfg.MinActive))
		if fresh, err := m.buildNodes(ctx, m.cfg.Size); err != nil {
			m.logger.Error("Pool regeneration failed", zap.Error(err))
		} else {
			m.nodes = fresh
		}
	} else {
		pruned := m.pruneIdleLocked(now)
		regenerated := m.regenerateWeakLocked(now)
		if reactivated+pruned+regenerated > 0 {
			m.logger.Debug("Health pass",
				zap.Int("reactivated", reactivated),
				zap.Int("pruned", pruned),
				zap.Int("regenerated", regenerated))
		}
	}

	var snapshot []schemas.Node
	if m.deps.Snapshots != nil {
		snapshot = m.cloneNodesLocked()
	}
	m.mu.Unlock()

	if snapshot != nil {
		if err := m.deps.Snapshots.SavePool(ctx, snapshot); err != nil {
			m.logger.Warn("Pool snapshot save failed", zap.Error(err))
		}
	}
}

// pruneIdleLocked drops nodes idle beyond MaxIdle, longest-idle first, never
// shrinking the pool below the floor. Assumes the lock is held.
func (m *Manager) pruneIdleLocked(now time.Time) int {
	if m.cfg.MaxIdle <= 0 {
		return 0
	}
	type idleNode struct {
		node *schemas.Node
		idle time.Duration
	}
	var stale []idleNode
	for _, n := range m.nodes {
		last := n.LastUsedAt
		if last.IsZero() {
			last = n.CreatedAt
		}
		if idle := now.Sub(last); idle > m.cfg.MaxIdle {
			stale = append(stale, idleNode{node: n, idle: idle})
		}
	}
	if len(stale) == 0 {
		return 0
	}
	allowed := len(m.nodes) - m.cfg.Floor
	if allowed <= 0 {
		return 0
	}
	sort.SliceStable(stale, func(i, j int) bool { return stale[i].idle > stale[j].idle })
	if len(stale) > allowed {
		stale = stale[:allowed]
	}
	drop := make(map[*schemas.Node]bool, len(stale))
	for _, s := range stale {
		drop[s.node] = true
	}
	kept := make([]*schemas.Node, 0, len(m.nodes)-len(stale))
	for _, n := range m.nodes {
		if !drop[n] {
			kept = append(kept, n)
		}
	}
	m.nodes = kept
	return len(stale)
}

// regenerateWeakLocked rebuilds nodes whose track record is beyond saving:
// fresh identity and fingerprint, counters reset, active again. The region
// is kept so the geographic spread survives. Assumes the lock is held.
func (m *Manager) regenerateWeakLocked(now time.Time) int {
	regenerated := 0
	for i, n := range m.nodes {
		if n.SuccessRate >= regenerateSuccessRate || n.RequestCount <= regenerateMinRequests {
			continue
		}
		fresh, err := m.newNode(n.Region, now)
		if err != nil {
			m.logger.Warn("Node regeneration failed",
				zap.String("node_id", n.ID),
				zap.Error(err))
			continue
		}
		m.nodes[i] = fresh
		regenerated++
	}
	return regenerated
}
