package radio

import (
	"errors"
	"fmt"
)

var (
	// ErrScanInProgress rejects a scan while another one is running.
	ErrScanInProgress = errors.New("scan already in progress")
	// ErrRadioUnavailable means the adapter is off or missing.
	ErrRadioUnavailable = errors.New("bluetooth radio unavailable")
)

// ScanFailedError wraps a driver failure with its platform code.
type ScanFailedError struct {
	Code int
	Err  error
}

func (e *ScanFailedError) Error() string {
	if e == nil {
		return "scan failed"
	}
	if e.Err == nil {
		return fmt.Sprintf("scan failed with code %d", e.Code)
	}
	return fmt.Sprintf("scan failed with code %d: %v", e.Code, e.Err)
}

func (e *ScanFailedError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
