// Package pipeline drives the scan, merge, deep analysis and radar cycle.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	devicedomain "github.com/micro-ha/ble-radar/internal/domain/device"
	"github.com/micro-ha/ble-radar/internal/model"
	"github.com/micro-ha/ble-radar/internal/planner"
	"github.com/micro-ha/ble-radar/internal/radar"
	"github.com/micro-ha/ble-radar/internal/radio"
)

type Scanner interface {
	Scan(ctx context.Context, budget time.Duration) ([]model.DeviceSnapshot, error)
}

type Merger interface {
	MergeAndPersist(ctx context.Context, snapshots []devicedomain.Snapshot) (devicedomain.MergeResult, error)
}

type Scheduler interface {
	Schedule(ctx context.Context, handles []model.SavedDeviceHandle) ([]model.SavedDeviceHandle, planner.RunStats)
}

type Evaluator interface {
	Evaluate(ctx context.Context, handles []model.SavedDeviceHandle) ([]radar.ProfileMatch, error)
}

// Recorder observes scan and merge results.
type Recorder interface {
	RecordScan(status string, devices int)
	RecordMerge(duration time.Duration, knownDevices int)
}

// Config controls cycle timing.
type Config struct {
	ScanInterval time.Duration
	ScanDuration time.Duration
	DeepAnalysis bool
}

// Pipeline runs scan cycles on an interval or on demand.
type Pipeline struct {
	cfg       Config
	scanner   Scanner
	merger    Merger
	scheduler Scheduler
	evaluator Evaluator
	recorder  Recorder
	triggerCh chan struct{}
	logger    *slog.Logger

	// background tracks fire-and-forget deep analysis runs.
	background sync.WaitGroup
}

func New(cfg Config, scanner Scanner, merger Merger, scheduler Scheduler, evaluator Evaluator, logger *slog.Logger) *Pipeline {
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = 30 * time.Second
	}
	if cfg.ScanDuration <= 0 {
		cfg.ScanDuration = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		cfg:       cfg,
		scanner:   scanner,
		merger:    merger,
		scheduler: scheduler,
		evaluator: evaluator,
		triggerCh: make(chan struct{}, 1),
		logger:    logger.With("component", "pipeline"),
	}
}

// SetRecorder attaches a metrics observer.
func (p *Pipeline) SetRecorder(recorder Recorder) {
	p.recorder = recorder
}

// TriggerScan requests an immediate cycle. Extra requests while one is
// pending are dropped.
func (p *Pipeline) TriggerScan() {
	select {
	case p.triggerCh <- struct{}{}:
	default:
	}
}

// Run loops until ctx is done, then waits for deep analysis started by
// earlier cycles.
func (p *Pipeline) Run(ctx context.Context) {
	defer p.background.Wait()
	for {
		timer := time.NewTimer(p.cfg.ScanInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-p.triggerCh:
			timer.Stop()
		case <-timer.C:
		}
		p.Cycle(ctx)
	}
}

// Cycle runs one scan, merge, analysis and evaluation pass.
func (p *Pipeline) Cycle(ctx context.Context) {
	snapshots, err := p.scanner.Scan(ctx, p.cfg.ScanDuration)
	if err != nil {
		switch {
		case errors.Is(err, radio.ErrScanInProgress), errors.Is(err, radio.ErrRadioUnavailable):
			p.logger.Info("scan skipped", "err", err)
			p.record("skipped", 0)
		case ctx.Err() != nil:
		default:
			p.logger.Warn("scan failed", "err", err)
			p.record("error", 0)
		}
		return
	}
	p.record("success", len(snapshots))
	if len(snapshots) == 0 {
		return
	}

	started := time.Now()
	result, err := p.merger.MergeAndPersist(ctx, snapshots)
	if err != nil {
		p.logger.Error("merge scan batch failed", "err", err)
		return
	}
	if p.recorder != nil {
		p.recorder.RecordMerge(time.Since(started), result.KnownDeviceCount)
	}
	p.logger.Debug("scan batch merged", "devices", len(result.Handles), "known", result.KnownDeviceCount)

	if p.cfg.DeepAnalysis && p.scheduler != nil {
		handles := result.Handles
		p.background.Add(1)
		go func() {
			defer p.background.Done()
			_, stats := p.scheduler.Schedule(ctx, handles)
			p.logger.Debug("deep analysis finished", "eligible", stats.Eligible, "updated", stats.Updated, "skip", stats.SkipReason)
		}()
	}

	if p.evaluator == nil {
		return
	}
	matches, err := p.evaluator.Evaluate(ctx, result.Handles)
	if err != nil {
		p.logger.Error("radar evaluation failed", "err", err)
	}
	if len(matches) > 0 {
		p.logger.Info("radar matched", "profiles", len(matches))
	}
}

// Wait blocks until background deep analysis has returned.
func (p *Pipeline) Wait() {
	p.background.Wait()
}

func (p *Pipeline) record(status string, devices int) {
	if p.recorder != nil {
		p.recorder.RecordScan(status, devices)
	}
}
