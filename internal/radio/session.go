package radio

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/micro-ha/ble-radar/internal/model"
)

// ScanSession runs bounded, exclusive scans over a driver.
type ScanSession struct {
	driver  ScanDriver
	mode    PowerMode
	logger  *slog.Logger
	now     func() time.Time
	running atomic.Bool
}

func NewScanSession(driver ScanDriver, mode PowerMode, logger *slog.Logger) *ScanSession {
	if logger == nil {
		logger = slog.Default()
	}
	return &ScanSession{
		driver: driver,
		mode:   mode,
		logger: logger.With("component", "scan"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Scan listens for budget and returns one snapshot per address, all stamped
// with the session start time. A concurrent call fails with
// ErrScanInProgress.
func (s *ScanSession) Scan(ctx context.Context, budget time.Duration) ([]model.DeviceSnapshot, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrScanInProgress
	}
	defer s.running.Store(false)

	if !s.driver.Enabled() {
		return nil, ErrRadioUnavailable
	}

	startedAt := s.now()
	scanCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	var (
		mu    sync.Mutex
		batch = map[string]model.DeviceSnapshot{}
	)
	emit := func(snapshot model.DeviceSnapshot) {
		address := model.NormalizeAddress(snapshot.Address)
		if address == "" {
			return
		}
		snapshot.Address = address
		snapshot.ScannedAt = startedAt
		mu.Lock()
		batch[address] = snapshot
		mu.Unlock()
	}

	err := s.driver.Scan(scanCtx, FiltersFor(s.mode), emit)
	if stopErr := s.driver.StopScan(); stopErr != nil {
		s.logger.Debug("stop scan failed", "err", stopErr)
	}
	if err != nil && scanCtx.Err() == nil {
		var failed *ScanFailedError
		if errors.As(err, &failed) {
			return nil, failed
		}
		return nil, &ScanFailedError{Err: err}
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	mu.Lock()
	defer mu.Unlock()
	out := make([]model.DeviceSnapshot, 0, len(batch))
	for _, snapshot := range batch {
		out = append(out, snapshot)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	s.logger.Debug("scan finished", "devices", len(out), "duration", s.now().Sub(startedAt))
	return out, nil
}

// Running reports whether a scan is active.
func (s *ScanSession) Running() bool {
	return s.running.Load()
}
