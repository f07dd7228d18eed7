// Package transport hides which Bluetooth backend is active. The backend
// for new requests is picked by a host detector on every call; operations
// on an existing handle are routed by the handle's variant.
package transport

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/vitaminmoo/pressuremon/internal/ble"
	"github.com/vitaminmoo/pressuremon/internal/config"
	"github.com/vitaminmoo/pressuremon/internal/tracer"
)

// WebBackend is the chooser-style backend.
type WebBackend interface {
	IsAvailable() bool
	Availability(ctx context.Context) bool
	RequestDevice(ctx context.Context, opts *ble.PairingOptions) (*ble.WebHandle, error)
	Connect(ctx context.Context, h *ble.WebHandle) error
	Disconnect(h *ble.WebHandle)
	OnDisconnected(h *ble.WebHandle, fn func()) (unsubscribe func())
}

// NativeBackend is the bridge backend.
type NativeBackend interface {
	IsAvailable() bool
	Availability(ctx context.Context) bool
	RequestDevice(ctx context.Context, opts *ble.PairingOptions) (*ble.NativeHandle, error)
	Connect(ctx context.Context, h *ble.NativeHandle, onDisconnect func()) error
	Disconnect(h *ble.NativeHandle)
	OnDisconnected(h *ble.NativeHandle, fn func()) (unsubscribe func())
}

// Detector reports whether the process runs inside the native shell.
type Detector func() bool

// Transport is the single entry point for device operations.
type Transport struct {
	web    WebBackend
	native NativeBackend
	detect Detector
	log    *zap.Logger
}

// New returns a transport. A nil detector always selects the web backend.
func New(web WebBackend, native NativeBackend, detect Detector) *Transport {
	return &Transport{
		web:    web,
		native: native,
		detect: detect,
		log:    config.Logger().Named("transport"),
	}
}

// isNative evaluates the detector. A panicking detector selects the web
// backend.
func (t *Transport) isNative() (native bool) {
	if t.detect == nil || t.native == nil {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			t.log.Warn("host detection failed, using web backend", zap.Any("panic", r))
			native = false
		}
	}()
	return t.detect()
}

func backendName(native bool) string {
	if native {
		return "native"
	}
	return "web"
}

// IsAvailable reports whether the detected backend has the capability.
func (t *Transport) IsAvailable() bool {
	if t.isNative() {
		return t.native.IsAvailable()
	}
	return t.web != nil && t.web.IsAvailable()
}

// Availability reports whether the detected backend's radio is enabled.
func (t *Transport) Availability(ctx context.Context) bool {
	native := t.isNative()
	ctx, span := tracer.StartSpan(ctx, "transport.Availability", attribute.String("backend", backendName(native)))
	var ok bool
	switch {
	case native:
		ok = t.native.Availability(ctx)
	case t.web != nil:
		ok = t.web.Availability(ctx)
	}
	span.SetAttributes(attribute.Bool("available", ok))
	tracer.End(span, nil)
	return ok
}

// RequestDevice runs discovery on the detected backend.
func (t *Transport) RequestDevice(ctx context.Context, opts *ble.PairingOptions) (h ble.Handle, err error) {
	native := t.isNative()
	ctx, span := tracer.StartSpan(ctx, "transport.RequestDevice", attribute.String("backend", backendName(native)))
	defer func() { tracer.End(span, err) }()

	t.log.Debug("request device", zap.String("backend", backendName(native)))
	if native {
		nh, err := t.native.RequestDevice(ctx, opts)
		if err != nil {
			return nil, err
		}
		span.SetAttributes(attribute.String("device.id", nh.ID))
		return nh, nil
	}
	if t.web == nil {
		return nil, ble.ErrUnsupportedEnvironment
	}
	wh, err := t.web.RequestDevice(ctx, opts)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("device.id", wh.ID))
	return wh, nil
}

// ConnectToDevice opens a session on the backend that produced h.
// onDisconnect is passed to backends that take it at connect time; the web
// backend reports disconnects through OnDeviceDisconnected instead.
func (t *Transport) ConnectToDevice(ctx context.Context, h ble.Handle, onDisconnect func()) (err error) {
	ctx, span := tracer.StartSpan(ctx, "transport.ConnectToDevice")
	defer func() { tracer.End(span, err) }()

	switch h := h.(type) {
	case *ble.NativeHandle:
		if h != nil && h.NativeID != "" && t.native != nil {
			span.SetAttributes(attribute.String("backend", "native"), attribute.String("device.id", h.ID))
			return t.native.Connect(ctx, h, onDisconnect)
		}
	case *ble.WebHandle:
		if h != nil && h.Ref != nil && t.web != nil {
			span.SetAttributes(attribute.String("backend", "web"), attribute.String("device.id", h.ID))
			return t.web.Connect(ctx, h)
		}
	}
	return ble.ErrInvalidHandle
}

// DisconnectDevice closes the session on h. Handles without a usable
// identity are ignored.
func (t *Transport) DisconnectDevice(h ble.Handle) {
	switch h := h.(type) {
	case *ble.NativeHandle:
		if h != nil && h.NativeID != "" && t.native != nil {
			t.native.Disconnect(h)
		}
	case *ble.WebHandle:
		if h != nil && h.Ref != nil && t.web != nil {
			t.web.Disconnect(h)
		}
	}
}

// OnDeviceDisconnected subscribes fn to involuntary disconnects of h. The
// returned function is always safe to call.
func (t *Transport) OnDeviceDisconnected(h ble.Handle, fn func()) (unsubscribe func()) {
	switch h := h.(type) {
	case *ble.NativeHandle:
		if h != nil && h.NativeID != "" && t.native != nil {
			return t.native.OnDisconnected(h, fn)
		}
	case *ble.WebHandle:
		if h != nil && h.Ref != nil && t.web != nil {
			return t.web.OnDisconnected(h, fn)
		}
	}
	return func() {}
}
