// Package pairing owns the lifecycle of the single device connection:
// idle, scanning, connecting, connected, error, unavailable.
package pairing

import (
	"context"
	"sync"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/vitaminmoo/pressuremon/internal/ble"
	"github.com/vitaminmoo/pressuremon/internal/config"
)

// Transport is the device layer the controller drives.
type Transport interface {
	IsAvailable() bool
	Availability(ctx context.Context) bool
	RequestDevice(ctx context.Context, opts *ble.PairingOptions) (ble.Handle, error)
	ConnectToDevice(ctx context.Context, h ble.Handle, onDisconnect func()) error
	DisconnectDevice(h ble.Handle)
	OnDeviceDisconnected(h ble.Handle, fn func()) (unsubscribe func())
}

// Controller runs the connection state machine. Commands may be called from
// any goroutine. StartPairing does not guard against a second attempt while
// one is in flight; callers disable the trigger while State().Status.Busy().
// Overlapping attempts are not cancelled and the last one to settle wins,
// except that a connect settling for a handle that is no longer held is
// torn down instead of reported.
type Controller struct {
	tr  Transport
	log *zap.Logger

	mu          sync.Mutex
	state       State
	unsubscribe func()

	// notifyMu keeps listener deliveries in transition order.
	notifyMu  sync.Mutex
	listeners map[uint64]func(State)
	nextID    uint64
}

// New returns a controller in the Idle state.
func New(tr Transport) *Controller {
	return &Controller{
		tr:        tr,
		log:       config.Logger().Named("pairing"),
		listeners: make(map[uint64]func(State)),
	}
}

// State returns the current snapshot.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe registers fn for every state change. Listeners run on the
// goroutine that caused the change and must not call commands
// synchronously.
func (c *Controller) Subscribe(fn func(State)) (unsubscribe func()) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	c.nextID++
	id := c.nextID
	c.listeners[id] = fn
	return func() {
		c.notifyMu.Lock()
		defer c.notifyMu.Unlock()
		delete(c.listeners, id)
	}
}

// transition replaces the state with next(current) when ok is true and
// notifies listeners if anything changed.
func (c *Controller) transition(next func(s State) (State, bool)) State {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	prev := c.state
	s, ok := next(prev)
	if !ok || s == prev {
		c.mu.Unlock()
		return prev
	}
	c.state = s
	c.mu.Unlock()

	if s.Status != prev.Status {
		c.log.Debug("state", zap.Stringer("from", prev.Status), zap.Stringer("to", s.Status), zap.String("attempt", s.Attempt))
	}
	for _, fn := range c.listeners {
		fn(s)
	}
	return s
}

// StartPairing runs one pairing attempt and returns once it settles. The
// outcome is reported through the state, never as an error.
func (c *Controller) StartPairing(ctx context.Context, opts *ble.PairingOptions) {
	attempt := ulid.Make().String()
	log := c.log.With(zap.String("attempt", attempt))

	if !c.tr.IsAvailable() {
		log.Info("bluetooth unavailable")
		c.transition(func(s State) (State, bool) {
			s.Status = Unavailable
			s.Err = UnavailableMessage
			s.Attempt = attempt
			return s, true
		})
		return
	}

	c.transition(func(s State) (State, bool) {
		s.Status = Scanning
		s.Err = ""
		s.Attempt = attempt
		return s, true
	})

	log.Info("starting pairing")
	h, err := c.tr.RequestDevice(ctx, opts)
	if err != nil {
		c.fail(log, attempt, err)
		return
	}
	log.Info("device selected", zap.String("id", h.DeviceID()), zap.String("name", h.DeviceName()))

	c.hold(h)
	c.transition(func(s State) (State, bool) {
		s.Status = Connecting
		s.Device = h
		s.Attempt = attempt
		return s, true
	})

	if err := c.tr.ConnectToDevice(ctx, h, c.disconnectHandler(h)); err != nil {
		c.fail(log, attempt, err)
		return
	}
	var held bool
	c.transition(func(s State) (State, bool) {
		if s.Device != h {
			return s, false
		}
		held = true
		s.Status = Connected
		s.Attempt = attempt
		return s, true
	})
	if !held {
		log.Info("device released before connect settled", zap.String("id", h.DeviceID()))
		c.tr.DisconnectDevice(h)
		return
	}
	log.Info("connected")
}

// fail classifies a pairing failure. Cancellations return to Idle with no
// message and drop the handle; anything else is stored verbatim.
func (c *Controller) fail(log *zap.Logger, attempt string, err error) {
	if ble.IsCancellation(err) {
		log.Info("pairing cancelled", zap.Error(err))
		c.release()
		c.transition(func(s State) (State, bool) {
			s.Status = Idle
			s.Err = ""
			s.Device = nil
			s.Attempt = attempt
			return s, true
		})
		return
	}
	log.Warn("pairing failed", zap.Error(err))
	c.transition(func(s State) (State, bool) {
		s.Status = Error
		s.Err = err.Error()
		s.Attempt = attempt
		return s, true
	})
}

// disconnectHandler returns the involuntary-disconnect callback for h.
// Only the held handle in Connected or Connecting is affected.
func (c *Controller) disconnectHandler(h ble.Handle) func() {
	return func() {
		var dropped bool
		c.transition(func(s State) (State, bool) {
			if s.Device != h || (s.Status != Connected && s.Status != Connecting) {
				return s, false
			}
			dropped = true
			s.Status = Idle
			s.Device = nil
			return s, true
		})
		if dropped {
			c.log.Info("device disconnected", zap.String("id", h.DeviceID()))
			c.release()
		}
	}
}

// hold subscribes to disconnect notifications for h, replacing any
// previous subscription.
func (c *Controller) hold(h ble.Handle) {
	unsubscribe := c.tr.OnDeviceDisconnected(h, c.disconnectHandler(h))
	c.mu.Lock()
	prev := c.unsubscribe
	c.unsubscribe = unsubscribe
	c.mu.Unlock()
	if prev != nil {
		prev()
	}
}

// release drops the disconnect subscription, if any.
func (c *Controller) release() {
	c.mu.Lock()
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

// Disconnect drops the held device and returns to Idle. Without a held
// device it does nothing.
func (c *Controller) Disconnect() {
	var h ble.Handle
	c.transition(func(s State) (State, bool) {
		if s.Device == nil {
			return s, false
		}
		h = s.Device
		s.Status = Idle
		s.Device = nil
		s.Err = ""
		return s, true
	})
	if h == nil {
		return
	}
	c.release()
	c.tr.DisconnectDevice(h)
	c.log.Info("disconnected", zap.String("id", h.DeviceID()))
}

// ClearError clears the stored message and leaves the status alone.
func (c *Controller) ClearError() {
	c.transition(func(s State) (State, bool) {
		if s.Err == "" {
			return s, false
		}
		s.Err = ""
		return s, true
	})
}

// RefreshAvailability publishes the capability check, then the radio probe,
// and returns the probe result.
func (c *Controller) RefreshAvailability(ctx context.Context) bool {
	present := c.tr.IsAvailable()
	c.setAvailable(present)
	if !present {
		return false
	}
	on := c.tr.Availability(ctx)
	c.setAvailable(on)
	return on
}

func (c *Controller) setAvailable(v bool) {
	c.transition(func(s State) (State, bool) {
		if s.Available != nil && *s.Available == v {
			return s, false
		}
		s.Available = &v
		return s, true
	})
}

// Mount starts the availability probe in the background.
func (c *Controller) Mount(ctx context.Context) {
	go c.RefreshAvailability(ctx)
}
