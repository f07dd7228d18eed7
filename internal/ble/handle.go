package ble

import "context"

// Handle identifies a discovered or paired peripheral. It is one of
// *WebHandle or *NativeHandle; the variant records which backend produced it.
type Handle interface {
	DeviceID() string
	DeviceName() string
	isHandle()
}

// WebHandle is produced by the web backend and carries the host's
// peripheral object.
type WebHandle struct {
	ID   string
	Name string
	Ref  Peripheral
}

func (h *WebHandle) DeviceID() string   { return h.ID }
func (h *WebHandle) DeviceName() string { return h.Name }
func (*WebHandle) isHandle()            {}

// NativeHandle is produced by the native bridge backend and carries the
// bridge's device identifier.
type NativeHandle struct {
	ID       string
	Name     string
	NativeID string
}

func (h *NativeHandle) DeviceID() string   { return h.ID }
func (h *NativeHandle) DeviceName() string { return h.Name }
func (*NativeHandle) isHandle()            {}

// NewWebHandle wraps a host peripheral.
func NewWebHandle(ref Peripheral) *WebHandle {
	return &WebHandle{ID: ref.ID(), Name: nameOrUnknown(ref.Name()), Ref: ref}
}

// NewNativeHandle builds a handle from a bridge device identifier.
func NewNativeHandle(deviceID, name string) *NativeHandle {
	return &NativeHandle{ID: deviceID, Name: nameOrUnknown(name), NativeID: deviceID}
}

func nameOrUnknown(name string) string {
	if name == "" {
		return UnknownDeviceName
	}
	return name
}

// Peripheral is the host's opaque object for a chosen device.
type Peripheral interface {
	ID() string
	Name() string

	// GATT returns the peripheral's session endpoint, or nil when the
	// peripheral exposes none.
	GATT() GATTServer

	// AddDisconnectListener registers fn for involuntary disconnects and
	// returns a function that removes it.
	AddDisconnectListener(fn func()) (remove func())
}

// GATTServer is a logical session on a peripheral.
type GATTServer interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Connected() bool
}
