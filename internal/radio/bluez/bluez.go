//go:build linux

// Package bluez adapts the BlueZ stack, through tinygo bluetooth, to the
// radio driver contracts.
package bluez

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"tinygo.org/x/bluetooth"

	"github.com/micro-ha/ble-radar/internal/model"
	"github.com/micro-ha/ble-radar/internal/radio"
)

// Platform address types reported in snapshots.
const (
	addressTypePublic = 0
	addressTypeRandom = 1
)

// probedServices are matched against advertisements, BlueZ exposes service
// UUIDs only through membership tests.
var probedServices = []uint16{0x1800, 0x180A, 0x180F, 0x180D, 0x1812, 0xFD6F, 0xFE9F, 0xFE2C, 0xFEAA}

// Driver implements radio.ScanDriver and radio.ConnectionDriver.
type Driver struct {
	adapter *bluetooth.Adapter
	logger  *slog.Logger
	enabled bool

	mu    sync.Mutex
	conns map[radio.Handle]*conn
}

type conn struct {
	address string
	device  bluetooth.Device
	// linked is set once device holds a live connection.
	linked  bool
	chars   map[string]bluetooth.DeviceCharacteristic
	events  chan radio.ConnectionEvent
	done    chan struct{}
	once    sync.Once
	mu      sync.Mutex
	closed  bool
	cancel  context.CancelFunc
}

// New enables the default adapter. A failure leaves the driver disabled so
// scans fail fast with radio.ErrRadioUnavailable.
func New(logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Driver{
		adapter: bluetooth.DefaultAdapter,
		logger:  logger.With("component", "bluez"),
		conns:   map[radio.Handle]*conn{},
	}
	if err := d.adapter.Enable(); err != nil {
		d.logger.Warn("bluetooth adapter unavailable", "err", err)
		return d
	}
	d.enabled = true
	return d
}

func (d *Driver) Enabled() bool {
	return d.enabled
}

func (d *Driver) Scan(ctx context.Context, filters []radio.ScanFilter, emit func(model.DeviceSnapshot)) error {
	if !d.enabled {
		return radio.ErrRadioUnavailable
	}
	wanted, err := parseFilters(filters)
	if err != nil {
		return err
	}

	stopped := make(chan struct{})
	defer close(stopped)
	go func() {
		select {
		case <-ctx.Done():
			_ = d.adapter.StopScan()
		case <-stopped:
		}
	}()

	err = d.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		if len(wanted) > 0 && !hasAny(result, wanted) {
			return
		}
		emit(snapshotOf(result))
	})
	if err != nil && ctx.Err() == nil {
		return &radio.ScanFailedError{Code: statusOf(err), Err: err}
	}
	return nil
}

func (d *Driver) StopScan() error {
	if !d.enabled {
		return nil
	}
	err := d.adapter.StopScan()
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "not calling scan") {
		return nil
	}
	return err
}

func snapshotOf(result bluetooth.ScanResult) model.DeviceSnapshot {
	rssi := int(result.RSSI)
	addressType := addressTypePublic
	if result.Address.IsRandom() {
		addressType = addressTypeRandom
	}
	var uuids []string
	for _, id := range probedServices {
		if result.HasServiceUUID(bluetooth.New16BitUUID(id)) {
			uuids = append(uuids, fmt.Sprintf("%04x", id))
		}
	}
	return model.DeviceSnapshot{
		Address:          result.Address.String(),
		Name:             result.LocalName(),
		RawAdvertisement: rawAdvertisement(result),
		RSSI:             &rssi,
		AddressType:      &addressType,
		ServiceUUIDs:     uuids,
		// BlueZ does not report the connectable flag during discovery.
		Connectable: true,
	}
}

// rawAdvertisement rebuilds AD structures for the fields BlueZ exposes.
func rawAdvertisement(result bluetooth.ScanResult) []byte {
	var raw []byte
	if name := result.LocalName(); name != "" && len(name) < 254 {
		raw = append(raw, byte(len(name)+1), 0x09)
		raw = append(raw, name...)
	}
	for _, element := range result.ManufacturerData() {
		if len(element.Data) > 251 {
			continue
		}
		raw = append(raw, byte(len(element.Data)+3), 0xFF, byte(element.CompanyID), byte(element.CompanyID>>8))
		raw = append(raw, element.Data...)
	}
	return raw
}

func parseFilters(filters []radio.ScanFilter) ([]bluetooth.UUID, error) {
	out := make([]bluetooth.UUID, 0, len(filters))
	for _, filter := range filters {
		id, err := parseUUID(filter.ServiceUUID)
		if err != nil {
			return nil, fmt.Errorf("scan filter %q: %w", filter.ServiceUUID, err)
		}
		out = append(out, id)
	}
	return out, nil
}

func parseUUID(v string) (bluetooth.UUID, error) {
	v = strings.TrimSpace(v)
	if len(v) == 4 {
		var short uint16
		if _, err := fmt.Sscanf(v, "%04x", &short); err != nil {
			return bluetooth.UUID{}, err
		}
		return bluetooth.New16BitUUID(short), nil
	}
	return bluetooth.ParseUUID(v)
}

func hasAny(result bluetooth.ScanResult, wanted []bluetooth.UUID) bool {
	for _, id := range wanted {
		if result.HasServiceUUID(id) {
			return true
		}
	}
	return false
}

func (d *Driver) Connect(ctx context.Context, address string) (<-chan radio.ConnectionEvent, error) {
	if !d.enabled {
		return nil, radio.ErrRadioUnavailable
	}
	mac, err := bluetooth.ParseMAC(address)
	if err != nil {
		return nil, fmt.Errorf("parse address %q: %w", address, err)
	}
	handle := radio.Handle(model.NormalizeAddress(address))
	connCtx, cancel := context.WithCancel(ctx)
	c := &conn{
		address: string(handle),
		chars:   map[string]bluetooth.DeviceCharacteristic{},
		events:  make(chan radio.ConnectionEvent, 32),
		done:    make(chan struct{}),
		cancel:  cancel,
	}

	d.mu.Lock()
	if previous, ok := d.conns[handle]; ok {
		previous.close()
	}
	d.conns[handle] = c
	d.mu.Unlock()

	go func() {
		c.send(radio.Connecting{})
		target := bluetooth.Address{MACAddress: bluetooth.MACAddress{MAC: mac}}
		device, err := d.adapter.Connect(target, bluetooth.ConnectionParams{})
		if connCtx.Err() != nil {
			if err == nil {
				_ = device.Disconnect()
			}
			return
		}
		if err != nil {
			if isMaxConnections(err) {
				c.send(radio.MaxConnectionsReached{})
				return
			}
			c.send(radio.DisconnectedWithError{Handle: handle, Status: statusOf(err)})
			return
		}
		c.mu.Lock()
		c.device = device
		c.linked = true
		c.mu.Unlock()
		c.send(radio.Connected{Handle: handle})
	}()
	return c.events, nil
}

func (d *Driver) lookup(handle radio.Handle) (*conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.conns[handle]
	if !ok {
		return nil, fmt.Errorf("no open connection for %s", handle)
	}
	return c, nil
}

func (d *Driver) DiscoverServices(handle radio.Handle) error {
	c, err := d.lookup(handle)
	if err != nil {
		return err
	}
	go func() {
		c.mu.Lock()
		device := c.device
		c.mu.Unlock()
		services, err := device.DiscoverServices(nil)
		if err != nil {
			c.send(radio.DisconnectedWithError{Handle: handle, Status: statusOf(err)})
			return
		}
		out := make([]radio.Service, 0, len(services))
		for _, service := range services {
			chars, err := service.DiscoverCharacteristics(nil)
			if err != nil {
				d.logger.Debug("discover characteristics failed", "address", c.address, "service", service.UUID().String(), "err", err)
				continue
			}
			entry := radio.Service{UUID: service.UUID().String()}
			c.mu.Lock()
			for _, char := range chars {
				id := char.UUID().String()
				c.chars[id] = char
				entry.Characteristics = append(entry.Characteristics, radio.Characteristic{ServiceUUID: entry.UUID, UUID: id})
			}
			c.mu.Unlock()
			out = append(out, entry)
		}
		c.send(radio.ServicesDiscovered{Handle: handle, Services: out})
	}()
	return nil
}

func (d *Driver) ReadCharacteristic(handle radio.Handle, characteristic radio.Characteristic) error {
	c, err := d.lookup(handle)
	if err != nil {
		return err
	}
	c.mu.Lock()
	char, ok := c.chars[characteristic.UUID]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("characteristic %s not discovered", characteristic.UUID)
	}
	go func() {
		buf := make([]byte, 512)
		n, err := char.Read(buf)
		if err != nil {
			c.send(radio.CharacteristicReadFailed{Handle: handle, Characteristic: characteristic, Status: statusOf(err)})
			return
		}
		c.send(radio.CharacteristicRead{Handle: handle, Characteristic: characteristic, Value: buf[:n]})
	}()
	return nil
}

func (d *Driver) Disconnect(handle radio.Handle) error {
	c, err := d.lookup(handle)
	if err != nil {
		return err
	}
	c.send(radio.Disconnecting{Handle: handle})
	go func() {
		c.mu.Lock()
		device, linked := c.device, c.linked
		c.mu.Unlock()
		if !linked {
			c.send(radio.Disconnected{Handle: handle})
			return
		}
		if err := device.Disconnect(); err != nil {
			c.send(radio.DisconnectedWithError{Handle: handle, Status: statusOf(err)})
			return
		}
		c.send(radio.Disconnected{Handle: handle})
	}()
	return nil
}

func (d *Driver) Close(handle radio.Handle) {
	d.mu.Lock()
	c := d.conns[handle]
	delete(d.conns, handle)
	d.mu.Unlock()
	if c != nil {
		c.close()
	}
}

func (d *Driver) CloseAll() {
	d.mu.Lock()
	conns := d.conns
	d.conns = map[radio.Handle]*conn{}
	d.mu.Unlock()
	for _, c := range conns {
		c.close()
	}
	d.logger.Info("closed all connections", "count", len(conns))
}

func (d *Driver) CloseOne(address string) {
	d.Close(radio.Handle(model.NormalizeAddress(address)))
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
		c.cancel()
		c.mu.Lock()
		c.closed = true
		close(c.done)
		device, linked := c.device, c.linked
		c.mu.Unlock()
		if linked {
			go func() { _ = device.Disconnect() }()
		}
	})
}

func isMaxConnections(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "too many") || strings.Contains(msg, "maximum")
}

// statusOf maps BlueZ error text to the platform status codes used by
// radio.ReasonFromStatus.
func statusOf(err error) int {
	if err == nil {
		return 0
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return radio.StatusTimeout
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"):
		return radio.StatusTimeout
	case strings.Contains(msg, "connection-abort"), strings.Contains(msg, "connection abort"):
		return radio.StatusTerminated
	case strings.Contains(msg, "too many"):
		return radio.StatusTooManyClients
	case strings.Contains(msg, "failed to establish"), strings.Contains(msg, "le-connection"):
		return radio.StatusFailedToEstablish
	case strings.Contains(msg, "not ready"), strings.Contains(msg, "in progress"):
		return radio.StatusFailedBeforeInitializing
	default:
		return 0
	}
}
