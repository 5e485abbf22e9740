package gatt

import (
	"errors"
	"fmt"

	"github.com/micro-ha/ble-radar/internal/radio"
)

// ErrTooManyConnections means the adapter refused another connection.
var ErrTooManyConnections = errors.New("max gatt connections reached")

// StatusError is a raw platform status code reported by the radio.
type StatusError struct {
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gatt status %d", e.Status)
}

// DisconnectError reports a connection that ended with a platform error.
type DisconnectError struct {
	Address string
	Status  int
	Reason  radio.DisconnectReason
	Err     error
}

func newDisconnectError(address string, status int) *DisconnectError {
	reason := radio.ReasonFromStatus(status)
	var cause error = &StatusError{Status: status}
	if reason == radio.ReasonTooManyClients {
		cause = fmt.Errorf("%w: %w", ErrTooManyConnections, cause)
	}
	return &DisconnectError{Address: address, Status: status, Reason: reason, Err: cause}
}

func (e *DisconnectError) Error() string {
	if e == nil {
		return "disconnected with error"
	}
	return fmt.Sprintf("%s disconnected with error: %s (status %d)", e.Address, e.Reason, e.Status)
}

func (e *DisconnectError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsExhausted reports whether err signals connection resource exhaustion.
func IsExhausted(err error) bool {
	if errors.Is(err, ErrTooManyConnections) {
		return true
	}
	var disconnect *DisconnectError
	return errors.As(err, &disconnect) && disconnect.Reason.Exhausted()
}
