// Package radar runs active profiles against merged scan batches and
// records their matches.
package radar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/micro-ha/ble-radar/internal/model"
)

// ProfileStore reads profiles and keeps the detect log.
type ProfileStore interface {
	ListProfiles(ctx context.Context) ([]model.RadarProfile, error)
	LatestProfileDetect(ctx context.Context, profileID int64) (*model.ProfileDetect, error)
	SaveProfileDetects(ctx context.Context, detects []model.ProfileDetect) error
}

// Checker evaluates one filter tree against one device.
type Checker interface {
	Check(ctx context.Context, device model.DeviceRecord, node model.FilterNode) (bool, error)
}

type LocationSource interface {
	FreshLocation(ctx context.Context) (*model.Location, error)
}

type LocationStore interface {
	SaveLocation(ctx context.Context, location model.Location, addresses []string) (model.Location, error)
}

// Reporter is the journal sink for match reports.
type Reporter interface {
	Report(ctx context.Context, entry model.JournalEntry) error
}

// Recorder observes evaluation runs.
type Recorder interface {
	ObserveRadarRun(evaluated, matched int, duration time.Duration)
}

// ProfileMatch is a profile with the devices that satisfied it.
type ProfileMatch struct {
	Profile     model.RadarProfile
	Devices     []model.DeviceRecord
	Location    *model.Location
	TriggeredAt time.Time
}

// Addresses lists the matched device addresses.
func (m ProfileMatch) Addresses() []string {
	out := make([]string, len(m.Devices))
	for i, device := range m.Devices {
		out[i] = device.Address
	}
	return out
}

// Deps are the collaborators of a Coordinator. Location and Recorder
// fields are optional.
type Deps struct {
	Profiles      ProfileStore
	Checker       Checker
	Reporter      Reporter
	Locations     LocationSource
	LocationStore LocationStore
	Recorder      Recorder
}

// Coordinator evaluates profiles against batches.
type Coordinator struct {
	deps    Deps
	workers int
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a coordinator. workers bounds profile and device fan-out,
// zero means GOMAXPROCS.
func New(deps Deps, workers int, logger *slog.Logger) *Coordinator {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		deps:    deps,
		workers: workers,
		logger:  logger.With("component", "radar"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Evaluate matches every active profile that is not cooling down against
// the batch as it looked before the current sighting. Failing profiles are
// skipped. Storage failures are joined and returned with the matches.
func (c *Coordinator) Evaluate(ctx context.Context, handles []model.SavedDeviceHandle) ([]ProfileMatch, error) {
	if len(handles) == 0 {
		return nil, nil
	}
	started := c.now()
	devices := make([]model.DeviceRecord, len(handles))
	for i, handle := range handles {
		devices[i] = handle.Adjusted()
	}

	profiles, err := c.deps.Profiles.ListProfiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}

	var errs []error
	candidates := make([]model.RadarProfile, 0, len(profiles))
	for _, profile := range profiles {
		if !profile.Active {
			continue
		}
		cooling, err := c.coolingDown(ctx, profile, started)
		if err != nil {
			errs = append(errs, fmt.Errorf("profile %d latest detect: %w", profile.ID, err))
			continue
		}
		if cooling {
			c.logger.Debug("profile cooling down", "profile", profile.Name)
			continue
		}
		candidates = append(candidates, profile)
	}

	results := make([][]model.DeviceRecord, len(candidates))
	var g errgroup.Group
	g.SetLimit(c.workers)
	for i, profile := range candidates {
		g.Go(func() error {
			matched, err := c.evaluateProfile(ctx, profile, devices)
			if err != nil {
				c.logger.Warn("profile evaluation failed", "profile", profile.Name, "err", err)
				return nil
			}
			results[i] = matched
			return nil
		})
	}
	_ = g.Wait()

	var matches []ProfileMatch
	for i, profile := range candidates {
		if len(results[i]) == 0 {
			continue
		}
		matches = append(matches, ProfileMatch{Profile: profile, Devices: results[i], TriggeredAt: started})
	}
	if len(matches) > 0 {
		errs = append(errs, c.persist(ctx, matches)...)
	}

	if c.deps.Recorder != nil {
		c.deps.Recorder.ObserveRadarRun(len(candidates), len(matches), c.now().Sub(started))
	}
	return matches, errors.Join(errs...)
}

// coolingDown reports whether the profile matched less than its cooldown
// ago.
func (c *Coordinator) coolingDown(ctx context.Context, profile model.RadarProfile, now time.Time) (bool, error) {
	if profile.Cooldown <= 0 {
		return false, nil
	}
	last, err := c.deps.Profiles.LatestProfileDetect(ctx, profile.ID)
	if err != nil {
		return false, err
	}
	if last == nil {
		return false, nil
	}
	return now.Sub(last.TriggeredAt) < profile.Cooldown, nil
}

// evaluateProfile checks devices concurrently and returns the matching ones
// in batch order. A panic in the filter is returned as an error.
func (c *Coordinator) evaluateProfile(ctx context.Context, profile model.RadarProfile, devices []model.DeviceRecord) (matched []model.DeviceRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("profile %d panicked: %v", profile.ID, r)
		}
	}()
	if profile.Filter == nil {
		return nil, fmt.Errorf("profile %d has no filter", profile.ID)
	}

	hits := make([]bool, len(devices))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for i, device := range devices {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("filter panicked on %s: %v", device.Address, r)
				}
			}()
			ok, err := c.deps.Checker.Check(gctx, device, profile.Filter)
			if err != nil {
				return err
			}
			hits[i] = ok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for i, hit := range hits {
		if hit {
			matched = append(matched, devices[i])
		}
	}
	return matched, nil
}

// persist writes detects, one location snapshot shared by all matches and
// the journal reports.
func (c *Coordinator) persist(ctx context.Context, matches []ProfileMatch) []error {
	var errs []error
	location := c.snapshotLocation(ctx, matches, &errs)

	for i := range matches {
		match := &matches[i]
		match.Location = location
		addresses := match.Addresses()

		detects := make([]model.ProfileDetect, len(addresses))
		for j, address := range addresses {
			detects[j] = model.ProfileDetect{ProfileID: match.Profile.ID, TriggeredAt: match.TriggeredAt, Address: address}
		}
		if err := c.deps.Profiles.SaveProfileDetects(ctx, detects); err != nil {
			errs = append(errs, fmt.Errorf("save detects for profile %d: %w", match.Profile.ID, err))
		}

		c.logger.Info("profile matched", "profile", match.Profile.Name, "devices", len(addresses))
		if c.deps.Reporter == nil {
			continue
		}
		if err := c.deps.Reporter.Report(ctx, model.NewProfileReport(match.Profile, addresses, location)); err != nil {
			errs = append(errs, fmt.Errorf("report profile %d: %w", match.Profile.ID, err))
		}
	}
	return errs
}

func (c *Coordinator) snapshotLocation(ctx context.Context, matches []ProfileMatch, errs *[]error) *model.Location {
	if c.deps.Locations == nil {
		return nil
	}
	location, err := c.deps.Locations.FreshLocation(ctx)
	if err != nil {
		c.logger.Warn("location unavailable for match", "err", err)
		return nil
	}
	if location == nil || c.deps.LocationStore == nil {
		return location
	}

	seen := map[string]struct{}{}
	var addresses []string
	for _, match := range matches {
		for _, address := range match.Addresses() {
			if _, ok := seen[address]; !ok {
				seen[address] = struct{}{}
				addresses = append(addresses, address)
			}
		}
	}
	saved, err := c.deps.LocationStore.SaveLocation(ctx, *location, addresses)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("save match location: %w", err))
		return location
	}
	return &saved
}
