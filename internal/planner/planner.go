// Package planner schedules best-effort GATT metadata fetches for a merged
// scan batch under concurrency and time budgets.
package planner

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/micro-ha/ble-radar/internal/gatt"
	"github.com/micro-ha/ble-radar/internal/model"
	"github.com/micro-ha/ble-radar/internal/pkg/utils"
)

const (
	backoffTitle   = "Too many errors during deep analysis"
	backoffDetails = "Restart bluetooth or disable deep analysis in settings"
)

// Fetcher reads metadata from one device. On failure it returns the
// previous metadata with the error.
type Fetcher interface {
	Fetch(ctx context.Context, device model.DeviceRecord) (*model.DeviceMetadata, error)
	CloseAll()
}

// MetadataStore persists fetched metadata.
type MetadataStore interface {
	SaveDeviceMetadata(ctx context.Context, address string, metadata model.DeviceMetadata) error
}

// Reporter is the journal sink for diagnostics.
type Reporter interface {
	Report(ctx context.Context, entry model.JournalEntry) error
}

// StatsRecorder observes finished planning calls.
type StatsRecorder interface {
	ObservePlannerRun(stats RunStats)
}

// Planner decides which devices need a metadata fetch and runs the fetches.
type Planner struct {
	cfg      Config
	fetcher  Fetcher
	store    MetadataStore
	reporter Reporter
	recorder StatsRecorder
	logger   *slog.Logger
	now      func() time.Time

	checked *cache.Cache
	limiter *rate.Limiter

	running  atomic.Bool
	draining atomic.Bool
	pending  atomic.Int64
	inflight sync.WaitGroup

	// mu guards the fields below. They are written only by the sequential
	// tail of Schedule.
	mu            sync.Mutex
	parallelism   int
	cooldownStart time.Time
	lastStats     *RunStats
}

func New(cfg Config, fetcher Fetcher, store MetadataStore, reporter Reporter, logger *slog.Logger) *Planner {
	cfg = cfg.normalized()
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{
		cfg:         cfg,
		fetcher:     fetcher,
		store:       store,
		reporter:    reporter,
		logger:      logger.With("component", "planner"),
		now:         func() time.Time { return time.Now().UTC() },
		checked:     cache.New(cfg.CheckInterval, 2*cfg.CheckInterval),
		limiter:     rate.NewLimiter(rate.Every(cfg.ReportInterval), 1),
		parallelism: cfg.Parallelism,
	}
}

// SetRecorder attaches a stats observer.
func (p *Planner) SetRecorder(recorder StatsRecorder) {
	p.recorder = recorder
}

// Schedule fetches metadata for the eligible devices of handles and returns
// handles with refreshed metadata. A call that finds a run, or its
// straggling fetches, still in flight is skipped and returns handles
// unchanged.
func (p *Planner) Schedule(ctx context.Context, handles []model.SavedDeviceHandle) ([]model.SavedDeviceHandle, RunStats) {
	if !p.running.CompareAndSwap(false, true) {
		return handles, p.finish(RunStats{SkipReason: SkipBusy})
	}
	defer p.release()

	now := p.now()
	stats := RunStats{StartedAt: now}
	if until, cooling := p.cooldownUntil(now); cooling {
		p.logger.Debug("planner cooling down", "until", until)
		stats.SkipReason = SkipCooldown
		return handles, p.finish(stats)
	}

	eligible := p.eligible(handles, now)
	stats.Eligible = len(eligible)
	if len(eligible) == 0 {
		stats.SkipReason = SkipNoEligible
		return handles, p.finish(stats)
	}

	parallelism := p.Parallelism()
	stats.Parallelism = parallelism
	results := p.run(ctx, handles, eligible, parallelism)

	out := make([]model.SavedDeviceHandle, len(handles))
	copy(out, handles)
	for i, idx := range eligible {
		result := results[i]
		switch result.outcome {
		case outcomeUpdated:
			stats.Updated++
			p.persist(ctx, handles[idx].Device, result.metadata)
			out[idx].Device.Metadata = result.metadata
		case outcomeTimeout:
			stats.Timeouts++
		case outcomeExhausted:
			stats.Exhausted++
			stats.Errors++
		case outcomeError:
			stats.Errors++
		case outcomeAbandoned:
			stats.Abandoned++
			continue
		}
		p.checked.Set(handles[idx].Device.Address, now, cache.DefaultExpiration)
	}

	if attempts := stats.Errors + stats.Timeouts + stats.Updated; attempts > 0 {
		stats.ErrorRate = float64(stats.Errors) / float64(attempts)
	}
	p.adapt(ctx, &stats, now)
	stats.Duration = p.now().Sub(now)

	p.logger.Info("metadata fetch finished",
		"eligible", stats.Eligible,
		"updated", stats.Updated,
		"timeouts", stats.Timeouts,
		"errors", stats.Errors,
		"abandoned", stats.Abandoned,
		"parallelism", stats.Parallelism,
		"backoff", stats.Backoff,
	)
	return out, p.finish(stats)
}

type deviceResult struct {
	outcome  outcome
	metadata *model.DeviceMetadata
}

// run processes eligible handle indexes in round-robin shards. It returns
// at the total budget even when fetches ignore cancellation.
func (p *Planner) run(ctx context.Context, handles []model.SavedDeviceHandle, eligible []int, parallelism int) []deviceResult {
	runCtx, cancel := context.WithTimeout(ctx, p.cfg.TotalTimeout)
	defer cancel()

	positions := make([]int, len(eligible))
	for i := range positions {
		positions[i] = i
	}
	results := make([]deviceResult, len(eligible))

	var g errgroup.Group
	for _, shard := range utils.SplitToBatchesEqual(positions, parallelism) {
		g.Go(func() error {
			for _, pos := range shard {
				if runCtx.Err() != nil {
					results[pos] = deviceResult{outcome: outcomeAbandoned}
					continue
				}
				results[pos] = p.fetchOne(runCtx, handles[eligible[pos]].Device)
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (p *Planner) fetchOne(runCtx context.Context, device model.DeviceRecord) deviceResult {
	devCtx, cancel := context.WithTimeout(runCtx, p.cfg.DeviceTimeout)
	defer cancel()

	type fetchResult struct {
		metadata *model.DeviceMetadata
		err      error
	}
	done := make(chan fetchResult, 1)
	p.track()
	go func() {
		defer p.untrack()
		metadata, err := p.fetcher.Fetch(devCtx, device)
		done <- fetchResult{metadata: metadata, err: err}
	}()

	select {
	case <-devCtx.Done():
		p.logger.Debug("metadata fetch timed out", "address", device.Address)
		return deviceResult{outcome: outcomeTimeout}
	case res := <-done:
		switch {
		case res.err == nil:
			return deviceResult{outcome: outcomeUpdated, metadata: res.metadata}
		case errors.Is(res.err, context.DeadlineExceeded) || errors.Is(res.err, context.Canceled):
			return deviceResult{outcome: outcomeTimeout}
		case gatt.IsExhausted(res.err):
			p.logger.Debug("metadata fetch exhausted connections", "address", device.Address, "err", res.err)
			return deviceResult{outcome: outcomeExhausted}
		default:
			p.logger.Debug("metadata fetch failed", "address", device.Address, "err", res.err)
			return deviceResult{outcome: outcomeError}
		}
	}
}

// eligible returns indexes of handles worth a fetch, strongest signal first.
func (p *Planner) eligible(handles []model.SavedDeviceHandle, now time.Time) []int {
	var out []int
	for i, handle := range handles {
		if p.isEligible(handle.Device, now) {
			out = append(out, i)
		}
	}
	sort.SliceStable(out, func(a, b int) bool {
		return strongerSignal(handles[out[a]].Device.RSSI, handles[out[b]].Device.RSSI)
	})
	return out
}

func (p *Planner) isEligible(device model.DeviceRecord, now time.Time) bool {
	if !device.Connectable {
		return false
	}
	if device.DetectCount == 1 || device.Metadata.IsEmpty() {
		return true
	}
	checkedAt, ok := p.checked.Get(device.Address)
	if !ok {
		return true
	}
	return now.Sub(checkedAt.(time.Time)) >= p.cfg.CheckInterval
}

func strongerSignal(a, b *int) bool {
	switch {
	case a == nil:
		return false
	case b == nil:
		return true
	default:
		return *a > *b
	}
}

func (p *Planner) persist(ctx context.Context, device model.DeviceRecord, metadata *model.DeviceMetadata) {
	if p.store == nil || metadata == nil || sameMetadata(device.Metadata, metadata) {
		return
	}
	if err := p.store.SaveDeviceMetadata(ctx, device.Address, *metadata); err != nil {
		p.logger.Warn("persist device metadata failed", "address", device.Address, "err", err)
	}
}

func sameMetadata(a, b *model.DeviceMetadata) bool {
	if a == nil || b == nil {
		return a == b
	}
	if (a.BatteryLevel == nil) != (b.BatteryLevel == nil) {
		return false
	}
	if a.BatteryLevel != nil && *a.BatteryLevel != *b.BatteryLevel {
		return false
	}
	return a.DeviceName == b.DeviceName &&
		a.ManufacturerName == b.ManufacturerName &&
		a.ModelNumber == b.ModelNumber &&
		a.SerialNumber == b.SerialNumber
}

// adapt applies backoff and parallelism changes after the shards joined.
func (p *Planner) adapt(ctx context.Context, stats *RunStats, now time.Time) {
	if stats.Eligible > p.cfg.MinEligibleForBackoff && stats.ErrorRate > p.cfg.ErrorRateThreshold {
		stats.Backoff = true
		p.logger.Warn("metadata fetch error rate too high, backing off",
			"error_rate", stats.ErrorRate, "cooldown", p.cfg.Cooldown)
		p.fetcher.CloseAll()
		if p.reporter != nil && p.limiter.AllowN(now, 1) {
			if err := p.reporter.Report(ctx, model.NewErrorReport(backoffTitle, backoffDetails)); err != nil {
				p.logger.Warn("report planner backoff failed", "err", err)
			}
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if stats.Backoff {
		p.cooldownStart = now
	}
	switch {
	case stats.Exhausted > 0:
		p.parallelism = clamp(p.parallelism-1, p.cfg.MinParallelism, p.cfg.MaxParallelism)
	case stats.Errors == 0 && stats.Timeouts == 0 && stats.Abandoned == 0 && stats.Eligible >= p.parallelism:
		p.parallelism = clamp(p.parallelism+1, p.cfg.MinParallelism, p.cfg.MaxParallelism)
	}
}

func (p *Planner) cooldownUntil(now time.Time) (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cooldownStart.IsZero() || p.cfg.Cooldown == 0 {
		return time.Time{}, false
	}
	until := p.cooldownStart.Add(p.cfg.Cooldown)
	return until, now.Before(until)
}

func (p *Planner) finish(stats RunStats) RunStats {
	if stats.Parallelism == 0 {
		stats.Parallelism = p.Parallelism()
	}
	if stats.SkipReason != SkipBusy {
		p.mu.Lock()
		last := stats
		p.lastStats = &last
		p.mu.Unlock()
	}
	if p.recorder != nil {
		p.recorder.ObservePlannerRun(stats)
	}
	return stats
}

func (p *Planner) track() {
	p.pending.Add(1)
	p.inflight.Add(1)
}

func (p *Planner) untrack() {
	p.inflight.Done()
	if p.pending.Add(-1) == 0 && p.draining.CompareAndSwap(true, false) {
		p.running.Store(false)
	}
}

// release marks the run finished once no fetch goroutine remains.
func (p *Planner) release() {
	p.draining.Store(true)
	if p.pending.Load() == 0 && p.draining.CompareAndSwap(true, false) {
		p.running.Store(false)
	}
}

// Wait blocks until every fetch goroutine has returned.
func (p *Planner) Wait() {
	p.inflight.Wait()
}

// Parallelism is the current shard count.
func (p *Planner) Parallelism() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.parallelism
}

// Status reports planner state for diagnostics.
func (p *Planner) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	status := Status{Running: p.running.Load(), Parallelism: p.parallelism}
	if !p.cooldownStart.IsZero() {
		until := p.cooldownStart.Add(p.cfg.Cooldown)
		if p.now().Before(until) {
			status.CooldownUntil = &until
		}
	}
	if p.lastStats != nil {
		last := *p.lastStats
		status.LastRun = &last
	}
	return status
}
