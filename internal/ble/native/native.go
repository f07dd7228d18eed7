// Package native implements the transport backend over a Bluetooth bridge
// that must be initialized once before use.
package native

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/vitaminmoo/pressuremon/internal/ble"
	"github.com/vitaminmoo/pressuremon/internal/config"
)

// BridgeRequest is the device filter passed to the bridge. An empty
// NamePrefix accepts any device.
type BridgeRequest struct {
	NamePrefix       string
	OptionalServices []string
}

// BridgeDevice is what the bridge returns for a selected device.
type BridgeDevice struct {
	DeviceID string
	Name     string
}

// Bridge is the native Bluetooth plugin.
type Bridge interface {
	Initialize(ctx context.Context) error
	IsEnabled(ctx context.Context) (bool, error)
	RequestDevice(ctx context.Context, req BridgeRequest) (BridgeDevice, error)
	Connect(ctx context.Context, deviceID string, onDisconnect func(deviceID string)) error
	Disconnect(ctx context.Context, deviceID string) error
}

// Backend adapts a Bridge to the transport contract.
type Backend struct {
	bridge Bridge
	log    *zap.Logger

	initialized atomic.Bool
	initGroup   singleflight.Group

	// pending tracks background disconnects.
	pending sync.WaitGroup
}

// New returns a backend over bridge.
func New(bridge Bridge) *Backend {
	return &Backend{bridge: bridge, log: config.Logger().Named("ble.native")}
}

// IsAvailable is always true; shell detection happens in the transport.
func (b *Backend) IsAvailable() bool { return true }

// Initialized reports whether the bridge has been initialized.
func (b *Backend) Initialized() bool { return b.initialized.Load() }

// ensureInitialized runs Initialize at most once at a time. Concurrent
// callers share the in-flight attempt and its outcome; a failure leaves the
// backend uninitialized so a later call retries.
func (b *Backend) ensureInitialized(ctx context.Context) error {
	if b.initialized.Load() {
		return nil
	}
	_, err, shared := b.initGroup.Do("initialize", func() (any, error) {
		if b.initialized.Load() {
			return nil, nil
		}
		b.log.Debug("initializing bridge")
		if err := b.bridge.Initialize(context.WithoutCancel(ctx)); err != nil {
			return nil, &ble.InitError{Err: err}
		}
		b.initialized.Store(true)
		return nil, nil
	})
	if err != nil {
		b.log.Debug("bridge initialization failed", zap.Bool("shared", shared), zap.Error(err))
	}
	return err
}

// Availability initializes if needed and reports whether the radio is on.
// It never fails.
func (b *Backend) Availability(ctx context.Context) bool {
	if err := b.ensureInitialized(ctx); err != nil {
		return false
	}
	on, err := b.bridge.IsEnabled(ctx)
	if err != nil {
		b.log.Debug("radio probe failed", zap.Error(err))
		return false
	}
	return on
}

// RequestDevice initializes if needed and asks the bridge for a device.
func (b *Backend) RequestDevice(ctx context.Context, opts *ble.PairingOptions) (*ble.NativeHandle, error) {
	if err := b.ensureInitialized(ctx); err != nil {
		return nil, err
	}
	o := opts.WithDefaults()
	req := BridgeRequest{OptionalServices: o.OptionalServices}
	if !o.AcceptAll() {
		req.NamePrefix = o.NamePrefix
	}
	dev, err := b.bridge.RequestDevice(ctx, req)
	if err != nil {
		return nil, err
	}
	return ble.NewNativeHandle(dev.DeviceID, dev.Name), nil
}

// Connect initializes if needed and opens a session. onDisconnect is the
// only disconnect notification path for this backend.
func (b *Backend) Connect(ctx context.Context, h *ble.NativeHandle, onDisconnect func()) error {
	if err := b.ensureInitialized(ctx); err != nil {
		return err
	}
	var cb func(string)
	if onDisconnect != nil {
		cb = func(string) { onDisconnect() }
	}
	if err := b.bridge.Connect(ctx, h.NativeID, cb); err != nil {
		return &ble.ConnectError{DeviceID: h.NativeID, Err: err}
	}
	return nil
}

// Disconnect is best-effort and runs in the background. Use Wait before
// tearing down the bridge.
func (b *Backend) Disconnect(h *ble.NativeHandle) {
	if h == nil || h.NativeID == "" {
		return
	}
	id := h.NativeID
	b.pending.Add(1)
	go func() {
		defer b.pending.Done()
		if err := b.bridge.Disconnect(context.Background(), id); err != nil {
			b.log.Debug("disconnect failed", zap.String("device", id), zap.Error(err))
		}
	}()
}

// Wait blocks until background disconnects finish or ctx is done.
func (b *Backend) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnDisconnected returns a no-op; register the callback through Connect.
func (b *Backend) OnDisconnected(*ble.NativeHandle, func()) (unsubscribe func()) {
	return func() {}
}
