// Package mock provides a programmable in-memory radio for tests.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/micro-ha/ble-radar/internal/model"
	"github.com/micro-ha/ble-radar/internal/radio"
)

// Peripheral scripts how a remote device answers a connection.
type Peripheral struct {
	Services []radio.Service
	// Values by characteristic UUID. Missing values fail the read.
	Values map[string][]byte
	// ConnectDelay postpones Connected. The connection stays silent until
	// closed when it outlasts the caller's budget.
	ConnectDelay time.Duration
	// ConnectStatus, when non-zero, ends the connect attempt with
	// DisconnectedWithError.
	ConnectStatus  int
	MaxConnections bool
	// IgnoreDisconnect leaves a disconnect request unconfirmed.
	IgnoreDisconnect bool
	// DisconnectStatus, when non-zero, confirms a disconnect with
	// DisconnectedWithError instead of Disconnected.
	DisconnectStatus int
}

// ConnectCall stores one Connect invocation.
type ConnectCall struct {
	Address string
	At      time.Time
}

// Radio is a programmable implementation of radio.ScanDriver and
// radio.ConnectionDriver.
type Radio struct {
	mu sync.Mutex

	Disabled  bool
	Snapshots []model.DeviceSnapshot
	ScanErr   error

	peripherals   map[string]Peripheral
	conns         map[radio.Handle]*conn
	connectCalls  []ConnectCall
	closeAllCalls int
	maxOpen       int
}

type conn struct {
	address    string
	peripheral Peripheral
	events     chan radio.ConnectionEvent
	done       chan struct{}
	once       sync.Once
	mu         sync.Mutex
	closed     bool
}

func New() *Radio {
	return &Radio{
		peripherals: map[string]Peripheral{},
		conns:       map[radio.Handle]*conn{},
	}
}

// SetPeripheral scripts the device behind address.
func (r *Radio) SetPeripheral(address string, p Peripheral) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peripherals[model.NormalizeAddress(address)] = p
}

func (r *Radio) Enabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.Disabled
}

// Scan emits the configured snapshots and blocks until ctx is done.
func (r *Radio) Scan(ctx context.Context, filters []radio.ScanFilter, emit func(model.DeviceSnapshot)) error {
	_ = filters
	r.mu.Lock()
	snapshots := append([]model.DeviceSnapshot(nil), r.Snapshots...)
	scanErr := r.ScanErr
	r.mu.Unlock()

	if scanErr != nil {
		return scanErr
	}
	for _, snapshot := range snapshots {
		emit(snapshot)
	}
	<-ctx.Done()
	return ctx.Err()
}

func (r *Radio) StopScan() error { return nil }

func (r *Radio) Connect(ctx context.Context, address string) (<-chan radio.ConnectionEvent, error) {
	address = model.NormalizeAddress(address)
	r.mu.Lock()
	p := r.peripherals[address]
	c := &conn{
		address:    address,
		peripheral: p,
		events:     make(chan radio.ConnectionEvent, 64),
		done:       make(chan struct{}),
	}
	handle := radio.Handle(address)
	if previous, ok := r.conns[handle]; ok {
		previous.close()
	}
	r.conns[handle] = c
	if len(r.conns) > r.maxOpen {
		r.maxOpen = len(r.conns)
	}
	r.connectCalls = append(r.connectCalls, ConnectCall{Address: address, At: time.Now()})
	r.mu.Unlock()

	go c.run(ctx, handle)
	return c.events, nil
}

func (c *conn) run(ctx context.Context, handle radio.Handle) {
	c.send(radio.Connecting{})
	if c.peripheral.MaxConnections {
		c.send(radio.MaxConnectionsReached{})
		return
	}
	if c.peripheral.ConnectDelay > 0 {
		timer := time.NewTimer(c.peripheral.ConnectDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-c.done:
			return
		case <-ctx.Done():
			return
		}
	}
	if c.peripheral.ConnectStatus != 0 {
		c.send(radio.DisconnectedWithError{Handle: handle, Status: c.peripheral.ConnectStatus})
		return
	}
	c.send(radio.Connected{Handle: handle})
}

func (c *conn) send(event radio.ConnectionEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.events <- event:
	default:
	}
}

func (c *conn) close() {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		close(c.done)
		c.mu.Unlock()
	})
}

func (r *Radio) lookup(handle radio.Handle) *conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conns[handle]
}

func (r *Radio) DiscoverServices(handle radio.Handle) error {
	c := r.lookup(handle)
	if c == nil {
		return radio.ErrRadioUnavailable
	}
	c.send(radio.ServicesDiscovered{Handle: handle, Services: c.peripheral.Services})
	return nil
}

func (r *Radio) ReadCharacteristic(handle radio.Handle, characteristic radio.Characteristic) error {
	c := r.lookup(handle)
	if c == nil {
		return radio.ErrRadioUnavailable
	}
	if value, ok := c.peripheral.Values[characteristic.UUID]; ok {
		c.send(radio.CharacteristicRead{Handle: handle, Characteristic: characteristic, Value: value})
		return nil
	}
	c.send(radio.CharacteristicReadFailed{Handle: handle, Characteristic: characteristic, Status: 1})
	return nil
}

func (r *Radio) Disconnect(handle radio.Handle) error {
	c := r.lookup(handle)
	if c == nil {
		return nil
	}
	c.send(radio.Disconnecting{Handle: handle})
	if c.peripheral.IgnoreDisconnect {
		return nil
	}
	if c.peripheral.DisconnectStatus != 0 {
		c.send(radio.DisconnectedWithError{Handle: handle, Status: c.peripheral.DisconnectStatus})
		return nil
	}
	c.send(radio.Disconnected{Handle: handle})
	return nil
}

func (r *Radio) Close(handle radio.Handle) {
	r.mu.Lock()
	c := r.conns[handle]
	delete(r.conns, handle)
	r.mu.Unlock()
	if c != nil {
		c.close()
	}
}

func (r *Radio) CloseAll() {
	r.mu.Lock()
	conns := r.conns
	r.conns = map[radio.Handle]*conn{}
	r.closeAllCalls++
	r.mu.Unlock()
	for _, c := range conns {
		c.close()
	}
}

func (r *Radio) CloseOne(address string) {
	r.Close(radio.Handle(model.NormalizeAddress(address)))
}

// ConnectCalls returns a copy of accumulated connect calls.
func (r *Radio) ConnectCalls() []ConnectCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ConnectCall, len(r.connectCalls))
	copy(out, r.connectCalls)
	return out
}

// OpenConnections counts connections not yet closed.
func (r *Radio) OpenConnections() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// MaxOpenConnections is the peak number of simultaneously open connections.
func (r *Radio) MaxOpenConnections() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxOpen
}

func (r *Radio) CloseAllCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeAllCalls
}
