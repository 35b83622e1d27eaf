package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNoMatch is a legitimate negative answer from recognition or preset lookup.
	ErrNoMatch           = errors.New("no match")
	ErrInvalidInput      = errors.New("invalid input")
	ErrBusy              = errors.New("operation already in progress")
	ErrDeviceNotFound    = errors.New("device not found")
	ErrCameraUnavailable = errors.New("camera unavailable")
)

// APIError is a non-2xx answer from the room backend.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("backend returned status %d: %s", e.StatusCode, e.Message)
}

// DeviceUpdateFailed reports a rejected or undeliverable device mutation.
type DeviceUpdateFailed struct {
	DeviceID string
	Message  string
	Err      error
}

func (e *DeviceUpdateFailed) Error() string {
	if e.DeviceID == "" {
		return fmt.Sprintf("device update failed: %s", e.Message)
	}
	return fmt.Sprintf("device update failed for %s: %s", e.DeviceID, e.Message)
}

func (e *DeviceUpdateFailed) Unwrap() error {
	return e.Err
}

// NewDeviceUpdateFailed prefers the backend's own message when there is one.
func NewDeviceUpdateFailed(deviceID string, err error) *DeviceUpdateFailed {
	msg := err.Error()
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		msg = apiErr.Message
	}
	return &DeviceUpdateFailed{DeviceID: deviceID, Message: msg, Err: err}
}
