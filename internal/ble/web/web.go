// Package web implements the chooser-style transport backend: the host
// shows a device chooser, hands back a peripheral object, and sessions and
// disconnect events are keyed by that object.
package web

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/vitaminmoo/pressuremon/internal/ble"
	"github.com/vitaminmoo/pressuremon/internal/config"
)

// RequestFilter is what the host chooser is asked to show. Exactly one of
// NamePrefix and AcceptAllDevices is set.
type RequestFilter struct {
	NamePrefix       string
	AcceptAllDevices bool
	OptionalServices []string
}

// Matches reports whether an advertised name passes the filter.
func (f RequestFilter) Matches(name string) bool {
	if f.AcceptAllDevices {
		return true
	}
	return f.NamePrefix != "" && strings.HasPrefix(name, f.NamePrefix)
}

// Host is the platform's Bluetooth peripheral capability.
type Host interface {
	// Present reports whether the capability exists at all.
	Present() bool

	// RadioEnabled asks whether the radio is currently usable.
	RadioEnabled(ctx context.Context) (bool, error)

	// RequestDevice runs the chooser and returns the selected peripheral.
	RequestDevice(ctx context.Context, filter RequestFilter) (ble.Peripheral, error)
}

// Backend adapts a Host to the transport contract.
type Backend struct {
	host Host
	log  *zap.Logger
}

// New returns a backend over host. A nil host behaves as an absent capability.
func New(host Host) *Backend {
	return &Backend{host: host, log: config.Logger().Named("ble.web")}
}

// IsAvailable reports whether the host exposes the capability.
func (b *Backend) IsAvailable() bool {
	return b.host != nil && b.host.Present()
}

// Availability reports whether the radio is enabled. It never fails.
func (b *Backend) Availability(ctx context.Context) bool {
	if !b.IsAvailable() {
		return false
	}
	ok, err := b.host.RadioEnabled(ctx)
	if err != nil {
		b.log.Debug("radio probe failed", zap.Error(err))
		return false
	}
	return ok
}

// RequestDevice opens the host chooser.
func (b *Backend) RequestDevice(ctx context.Context, opts *ble.PairingOptions) (*ble.WebHandle, error) {
	if !b.IsAvailable() {
		return nil, ble.ErrUnsupportedEnvironment
	}
	filter := BuildFilter(opts)
	b.log.Debug("requesting device",
		zap.String("prefix", filter.NamePrefix),
		zap.Bool("accept_all", filter.AcceptAllDevices),
		zap.Strings("services", filter.OptionalServices))

	p, err := b.host.RequestDevice(ctx, filter)
	if err != nil {
		return nil, err
	}
	return ble.NewWebHandle(p), nil
}

// BuildFilter turns pairing options into a chooser filter. An empty prefix
// becomes an accept-all filter rather than an empty-prefix one.
func BuildFilter(opts *ble.PairingOptions) RequestFilter {
	o := opts.WithDefaults()
	f := RequestFilter{OptionalServices: o.OptionalServices}
	if o.AcceptAll() {
		f.AcceptAllDevices = true
	} else {
		f.NamePrefix = o.NamePrefix
	}
	return f
}

// Connect establishes a session on the handle's peripheral.
func (b *Backend) Connect(ctx context.Context, h *ble.WebHandle) error {
	gatt := gattOf(h)
	if gatt == nil {
		return ble.ErrNoTransportSession
	}
	if err := gatt.Connect(ctx); err != nil {
		return &ble.ConnectError{DeviceID: h.ID, Err: err}
	}
	return nil
}

// Disconnect closes a live session. Errors are logged and dropped.
func (b *Backend) Disconnect(h *ble.WebHandle) {
	gatt := gattOf(h)
	if gatt == nil || !gatt.Connected() {
		return
	}
	if err := gatt.Disconnect(); err != nil {
		b.log.Debug("disconnect failed", zap.String("device", h.ID), zap.Error(err))
	}
}

// OnDisconnected registers fn for involuntary disconnects of h. The
// returned function may be called any number of times.
func (b *Backend) OnDisconnected(h *ble.WebHandle, fn func()) (unsubscribe func()) {
	if h == nil || h.Ref == nil || fn == nil {
		return func() {}
	}
	var once sync.Once
	remove := h.Ref.AddDisconnectListener(fn)
	return func() { once.Do(remove) }
}

func gattOf(h *ble.WebHandle) ble.GATTServer {
	if h == nil || h.Ref == nil {
		return nil
	}
	return h.Ref.GATT()
}
