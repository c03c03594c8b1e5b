// Package batch implements the batch generation engine: chunked,
// semaphore-bounded fan-out over the identity factory with rate limiting,
// result caching, and per-index recoverable errors.
package batch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/arnonsang/shadow-ua-sub000/api/schemas"
	"github.com/arnonsang/shadow-ua-sub000/internal/config"
	"github.com/arnonsang/shadow-ua-sub000/internal/pacing"
)

// Options are the per-call knobs of Generate. Start from DefaultOptions and
// adjust; a nil *Options means the engine defaults.
type Options struct {
	Concurrency       int
	ChunkSize         int
	MaxPerSecond      int
	BurstSize         int
	CacheTTL          time.Duration
	EnableCache       bool
	EnableValidation  bool
	EnableFingerprint bool
	UniqueStats       bool
}

// Engine generates identity batches. One engine owns one cache; independent
// engines share nothing.
type Engine struct {
	cfg     config.BatchConfig
	factory schemas.IdentityFactory
	fpGen   schemas.FingerprintGenerator
	cache   *resultCache
	logger  *zap.Logger

	clock func() time.Time
	sleep func(context.Context, time.Duration) error
}

// NewEngine builds an engine around the given factory. The fingerprint
// generator is optional; without one, fingerprint attachment is skipped even
// when enabled.
func NewEngine(cfg config.BatchConfig, factory schemas.IdentityFactory, fpGen schemas.FingerprintGenerator, logger *zap.Logger) (*Engine, error) {
	if factory == nil {
		return nil, errors.New("identity factory is required")
	}
	if cfg.MaxPerSecond < 0 {
		return nil, fmt.Errorf("max per second must not be negative, got %d", cfg.MaxPerSecond)
	}
	if cfg.MaxPerSecond > 0 && cfg.BurstSize <= 0 {
		return nil, fmt.Errorf("burst size must be positive when rate limiting is enabled, got %d", cfg.BurstSize)
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 50
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{
		cfg:     cfg,
		factory: factory,
		fpGen:   fpGen,
		logger:  logger.With(zap.String("component", "batch_engine")),
		clock:   time.Now,
		sleep:   pacing.Wait,
	}
	e.cache = newResultCache(cfg.CacheTTL, cfg.CacheMaxSize, cfg.CacheSweepEvery, e.now, e.logger)
	return e, nil
}

// now indirects through the engine clock so tests can pin time after
// construction.
func (e *Engine) now() time.Time {
	return e.clock()
}

// DefaultOptions returns this engine's per-call defaults.
func (e *Engine) DefaultOptions() Options {
	return Options{
		Concurrency:       e.cfg.Concurrency,
		ChunkSize:         e.cfg.ChunkSize,
		MaxPerSecond:      e.cfg.MaxPerSecond,
		BurstSize:         e.cfg.BurstSize,
		CacheTTL:          e.cfg.CacheTTL,
		EnableCache:       e.cfg.EnableCache,
		EnableValidation:  e.cfg.EnableValidation,
		EnableFingerprint: e.cfg.EnableFingerprint,
		UniqueStats:       e.cfg.UniqueStats,
	}
}

// Stop tears down the cache sweep loop. The engine must not be used after.
func (e *Engine) Stop() {
	e.cache.stop()
}

// Generate produces count identities honoring filter. Per-item failures are
// recorded in the result, never returned as an error; the error return covers
// invalid arguments and context cancellation (the partial result accompanies
// a cancellation error).
func (e *Engine) Generate(ctx context.Context, count int, filter *schemas.IdentityFilter, opts *Options) (*schemas.BatchResult, error) {
	if count <= 0 {
		return nil, fmt.Errorf("batch count must be positive, got %d", count)
	}
	o := e.resolveOptions(opts)

	batchID := uuid.New().String()
	started := e.now()
	limiter := newRateLimiter(o.MaxPerSecond, o.BurstSize, e.now, e.sleep)
	sem := semaphore.NewWeighted(int64(o.Concurrency))

	e.logger.Debug("Starting batch",
		zap.String("batch_id", batchID),
		zap.Int("count", count),
		zap.String("filter", filter.Signature()),
		zap.Int("concurrency", o.Concurrency),
		zap.Int("chunk_size", o.ChunkSize))

	// Index-addressed slots; each index is written by exactly one goroutine.
	results := make([]*schemas.GenerationResult, count)
	itemErrs := make([]*schemas.BatchError, count)

	var wg sync.WaitGroup
	for start := 0; start < count; start += o.ChunkSize {
		end := start + o.ChunkSize
		if end > count {
			end = count
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				// Chunk setup failed; every index in the chunk shares the
				// same message.
				msg := fmt.Sprintf("chunk %d-%d admission failed: %v", start, end-1, err)
				for i := start; i < end; i++ {
					itemErrs[i] = &schemas.BatchError{Index: i, Message: msg, Kind: schemas.BatchErrorChunk}
				}
				return
			}
			defer sem.Release(1)

			var itemWG sync.WaitGroup
			for i := start; i < end; i++ {
				itemWG.Add(1)
				go func(index int) {
					defer itemWG.Done()
					result, err := e.generateItem(ctx, batchID, index, filter, o, limiter)
					if err != nil {
						itemErrs[index] = classify(index, err)
						return
					}
					results[index] = result
				}(i)
			}
			itemWG.Wait()
		}(start, end)
	}
	wg.Wait()

	batch := e.aggregate(batchID, count, started, results, itemErrs, o)

	if err := ctx.Err(); err != nil {
		return batch, err
	}
	return batch, nil
}

// generateItem runs the per-item pipeline: cache, limiter, factory,
// fingerprint, validation, cache store.
func (e *Engine) generateItem(ctx context.Context, batchID string, index int, filter *schemas.IdentityFilter, o Options, limiter *rateLimiter) (*schemas.GenerationResult, error) {
	var key string
	if o.EnableCache {
		key = itemKey(filter, index)
		if hit, ok := e.cache.get(key, o.CacheTTL); ok {
			// Live hit: rebind provenance to this batch, keep the original
			// generation timing.
			hit.Meta.BatchID = batchID
			hit.Meta.Index = index
			return &hit, nil
		}
	}

	if err := limiter.acquire(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait aborted: %w", err)
	}

	genStart := e.now()
	identity, err := e.factory.Generate(filter)
	if err != nil {
		return nil, err
	}

	result := schemas.GenerationResult{
		Identity: identity,
		Meta: schemas.GenerationMeta{
			CreatedAt: genStart,
			Duration:  e.now().Sub(genStart),
			BatchID:   batchID,
			Index:     index,
		},
	}

	if o.EnableFingerprint && e.fpGen != nil {
		fp := e.fpGen.Generate(identity)
		result.Fingerprint = &fp
	}

	if o.EnableValidation {
		if err := validateIdentity(identity); err != nil {
			return nil, err
		}
	}

	if o.EnableCache {
		e.cache.put(key, result)
	}
	return &result, nil
}

// aggregate assembles the final BatchResult. Iterating the index-addressed
// slots in order keeps Results sorted by index regardless of completion
// order.
func (e *Engine) aggregate(batchID string, count int, started time.Time, results []*schemas.GenerationResult, itemErrs []*schemas.BatchError, o Options) *schemas.BatchResult {
	batch := &schemas.BatchResult{BatchID: batchID}

	var totalGen time.Duration
	seen := make(map[string]struct{})
	for i := 0; i < count; i++ {
		switch {
		case results[i] != nil:
			batch.Results = append(batch.Results, *results[i])
			totalGen += results[i].Meta.Duration
			if o.UniqueStats {
				seen[results[i].Identity.UserAgent] = struct{}{}
			}
		case itemErrs[i] != nil:
			batch.Errors = append(batch.Errors, *itemErrs[i])
		}
	}

	batch.Stats = schemas.BatchStats{
		Requested: count,
		Succeeded: len(batch.Results),
		Failed:    len(batch.Errors),
		TotalTime: e.now().Sub(started),
	}
	if len(batch.Results) > 0 {
		batch.Stats.AvgGenTime = totalGen / time.Duration(len(batch.Results))
	}
	if o.UniqueStats {
		batch.Stats.UniqueIdentities = len(seen)
	}

	e.logger.Info("Batch complete",
		zap.String("batch_id", batchID),
		zap.Int("succeeded", batch.Stats.Succeeded),
		zap.Int("failed", batch.Stats.Failed),
		zap.Duration("total_time", batch.Stats.TotalTime))

	return batch
}

// resolveOptions fills an override struct with engine defaults where fields
// are unset or out of range.
func (e *Engine) resolveOptions(opts *Options) Options {
	if opts == nil {
		return e.DefaultOptions()
	}
	o := *opts
	if o.Concurrency <= 0 {
		o.Concurrency = e.cfg.Concurrency
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = e.cfg.ChunkSize
	}
	if o.MaxPerSecond < 0 {
		o.MaxPerSecond = e.cfg.MaxPerSecond
	}
	if o.MaxPerSecond > 0 && o.BurstSize <= 0 {
		o.BurstSize = e.cfg.BurstSize
		if o.BurstSize <= 0 {
			o.BurstSize = 1
		}
	}
	return o
}

// classify maps a pipeline error onto its batch error kind.
func classify(index int, err error) *schemas.BatchError {
	kind := schemas.BatchErrorGeneration
	var ve *ValidationError
	if errors.As(err, &ve) {
		kind = schemas.BatchErrorValidation
	}
	return &schemas.BatchError{Index: index, Message: err.Error(), Kind: kind}
}

func itemKey(filter *schemas.IdentityFilter, index int) string {
	return filter.Signature() + "#" + strconv.Itoa(index)
}
