package gatt

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/micro-ha/ble-radar/internal/model"
	"github.com/micro-ha/ble-radar/internal/radio"
)

// DefaultForceCloseAfter bounds the wait for a disconnect confirmation.
const DefaultForceCloseAfter = 100 * time.Millisecond

// State is a step of the per-device connection protocol.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateDiscoveringServices
	StateAvailableServices
	StateRequestingCharacteristic
	StateDisconnecting
	StateDisconnected
	StateDisconnectedWithError
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDiscoveringServices:
		return "discovering_services"
	case StateAvailableServices:
		return "available_services"
	case StateRequestingCharacteristic:
		return "requesting_characteristic"
	case StateDisconnecting:
		return "disconnecting"
	case StateDisconnected:
		return "disconnected"
	case StateDisconnectedWithError:
		return "disconnected_with_error"
	default:
		return "idle"
	}
}

// Fetcher reads device metadata over one GATT connection per call.
type Fetcher struct {
	driver          radio.ConnectionDriver
	forceCloseAfter time.Duration
	logger          *slog.Logger
}

func NewFetcher(driver radio.ConnectionDriver, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		driver:          driver,
		forceCloseAfter: DefaultForceCloseAfter,
		logger:          logger.With("component", "gatt"),
	}
}

// CloseAll hard-resets every open connection.
func (f *Fetcher) CloseAll() {
	f.driver.CloseAll()
}

// Fetch connects to device, reads the known characteristics and returns the
// updated metadata. On failure it returns the previous metadata with the
// error. Cancelling ctx closes the connection.
func (f *Fetcher) Fetch(ctx context.Context, device model.DeviceRecord) (*model.DeviceMetadata, error) {
	events, err := f.driver.Connect(ctx, device.Address)
	if err != nil {
		return device.Metadata, fmt.Errorf("connect %s: %w", device.Address, err)
	}

	s := &session{
		fetcher:  f,
		address:  device.Address,
		previous: device.Metadata,
		metadata: device.Metadata.Clone(),
		state:    StateConnecting,
	}
	if s.metadata == nil {
		s.metadata = &model.DeviceMetadata{}
	}
	return s.run(ctx, events)
}

type session struct {
	fetcher  *Fetcher
	address  string
	handle   radio.Handle
	previous *model.DeviceMetadata
	metadata *model.DeviceMetadata
	pending  []radio.Characteristic
	state    State

	disconnectRequested bool
	forceClose          *time.Timer
}

func (s *session) run(ctx context.Context, events <-chan radio.ConnectionEvent) (*model.DeviceMetadata, error) {
	defer func() {
		if s.forceClose != nil {
			s.forceClose.Stop()
		}
	}()

	for {
		var forceClose <-chan time.Time
		if s.forceClose != nil {
			forceClose = s.forceClose.C
		}

		select {
		case <-ctx.Done():
			s.close()
			return s.previous, ctx.Err()
		case <-forceClose:
			s.fetcher.logger.Debug("disconnect not confirmed, closing", "address", s.address)
			s.close()
			return s.metadata, nil
		case event, ok := <-events:
			if !ok {
				s.close()
				if s.disconnectRequested {
					return s.metadata, nil
				}
				return s.previous, &DisconnectError{Address: s.address, Reason: radio.ReasonUnspecified}
			}
			done, metadata, err := s.step(event)
			if done {
				return metadata, err
			}
		}
	}
}

// step advances the state machine by one event. done ends the session.
func (s *session) step(event radio.ConnectionEvent) (bool, *model.DeviceMetadata, error) {
	switch e := event.(type) {
	case radio.Connecting:
		s.state = StateConnecting
	case radio.Connected:
		s.handle = e.Handle
		s.state = StateDiscoveringServices
		if err := s.fetcher.driver.DiscoverServices(e.Handle); err != nil {
			s.close()
			return true, s.previous, fmt.Errorf("discover services on %s: %w", s.address, err)
		}
	case radio.ServicesDiscovered:
		s.state = StateAvailableServices
		if len(s.pending) > 0 {
			s.disconnect()
			break
		}
		s.pending = RelevantCharacteristics(e.Services)
		if len(s.pending) == 0 {
			s.disconnect()
			break
		}
		s.requestNext()
	case radio.CharacteristicRead:
		applyValue(s.metadata, e.Characteristic.UUID, e.Value)
		s.complete(e.Characteristic)
	case radio.CharacteristicReadFailed:
		s.fetcher.logger.Debug("characteristic read failed",
			"address", s.address, "characteristic", e.Characteristic.UUID, "status", e.Status)
		s.complete(e.Characteristic)
	case radio.Disconnecting:
		s.state = StateDisconnecting
	case radio.Disconnected:
		s.state = StateDisconnected
		s.close()
		return true, s.metadata, nil
	case radio.DisconnectedWithError:
		s.close()
		if s.disconnectRequested {
			s.state = StateDisconnected
			return true, s.metadata, nil
		}
		s.state = StateDisconnectedWithError
		return true, s.previous, newDisconnectError(s.address, e.Status)
	case radio.MaxConnectionsReached:
		s.fetcher.driver.CloseOne(s.address)
		return true, s.previous, ErrTooManyConnections
	default:
		s.close()
		return true, s.previous, fmt.Errorf("unexpected connection event %T", event)
	}
	return false, nil, nil
}

func (s *session) complete(characteristic radio.Characteristic) {
	for i, pending := range s.pending {
		if pending.UUID == characteristic.UUID && pending.ServiceUUID == characteristic.ServiceUUID {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			break
		}
	}
	if len(s.pending) == 0 {
		s.disconnect()
		return
	}
	s.requestNext()
}

func (s *session) requestNext() {
	s.state = StateRequestingCharacteristic
	next := s.pending[0]
	if err := s.fetcher.driver.ReadCharacteristic(s.handle, next); err != nil {
		s.fetcher.logger.Debug("characteristic request failed", "address", s.address, "characteristic", next.UUID, "err", err)
		s.complete(next)
	}
}

// disconnect requests an orderly disconnect and arms the force-close timer.
func (s *session) disconnect() {
	if s.disconnectRequested {
		return
	}
	s.disconnectRequested = true
	s.state = StateDisconnecting
	if err := s.fetcher.driver.Disconnect(s.handle); err != nil {
		s.fetcher.logger.Debug("disconnect request failed", "address", s.address, "err", err)
	}
	s.forceClose = time.NewTimer(s.fetcher.forceCloseAfter)
}

func (s *session) close() {
	if s.handle != "" {
		s.fetcher.driver.Close(s.handle)
		return
	}
	s.fetcher.driver.CloseOne(s.address)
}
