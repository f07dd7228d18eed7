package ble

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnsupportedEnvironment means the host exposes no Bluetooth capability.
	ErrUnsupportedEnvironment = errors.New("bluetooth is not supported on this host")

	// ErrUserCancelled means the chooser was dismissed without a selection.
	ErrUserCancelled = errors.New("User cancelled the requestDevice() chooser.")

	// ErrNoTransportSession means the handle has no live peripheral object.
	ErrNoTransportSession = errors.New("device has no GATT server")

	// ErrInvalidHandle means a handle carries neither backend's identity.
	ErrInvalidHandle = errors.New("invalid device handle")
)

// ConnectError reports a failed session establishment after a successful
// selection.
type ConnectError struct {
	DeviceID string
	Err      error
}

func (e *ConnectError) Error() string {
	return e.Err.Error()
}

func (e *ConnectError) Unwrap() error { return e.Err }

// InitError reports a failed native bridge initialization.
type InitError struct {
	Err error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("bluetooth bridge initialization failed: %v", e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

// IsCancellation reports whether err means the user abandoned the pairing
// attempt. Collaborators that only report text are matched on "cancel".
func IsCancellation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUserCancelled) || errors.Is(err, context.Canceled) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "cancel")
}
