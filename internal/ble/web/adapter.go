package web

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"tinygo.org/x/bluetooth"

	"github.com/vitaminmoo/pressuremon/internal/ble"
	"github.com/vitaminmoo/pressuremon/internal/config"
)

// AdapterHost drives a local Bluetooth adapter through tinygo bluetooth.
// The chooser is fed by a scan of fixed length.
type AdapterHost struct {
	adapter    *bluetooth.Adapter
	scanWindow time.Duration
	chooser    Chooser
	log        *zap.Logger

	mu        sync.Mutex
	enabled   bool
	sessions  map[string]*gattServer
	listeners map[string]map[uint64]func()
	nextID    uint64
}

// NewAdapterHost returns a host over adapter. A nil chooser means FirstChooser.
func NewAdapterHost(adapter *bluetooth.Adapter, scanWindow time.Duration, chooser Chooser) *AdapterHost {
	if chooser == nil {
		chooser = FirstChooser
	}
	if scanWindow <= 0 {
		scanWindow = 10 * time.Second
	}
	return &AdapterHost{
		adapter:    adapter,
		scanWindow: scanWindow,
		chooser:    chooser,
		log:        config.Logger().Named("ble.adapter"),
		sessions:   make(map[string]*gattServer),
		listeners:  make(map[string]map[uint64]func()),
	}
}

// DefaultAdapterHost uses bluetooth.DefaultAdapter.
func DefaultAdapterHost(scanWindow time.Duration, chooser Chooser) *AdapterHost {
	return NewAdapterHost(bluetooth.DefaultAdapter, scanWindow, chooser)
}

// SetChooser replaces the chooser used by later requests.
func (h *AdapterHost) SetChooser(c Chooser) {
	if c == nil {
		c = FirstChooser
	}
	h.mu.Lock()
	h.chooser = c
	h.mu.Unlock()
}

func (h *AdapterHost) Present() bool {
	return h.adapter != nil
}

func (h *AdapterHost) RadioEnabled(ctx context.Context) (bool, error) {
	if err := h.enable(); err != nil {
		return false, err
	}
	return true, nil
}

// enable powers up the adapter once and hooks connection events.
func (h *AdapterHost) enable() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.enabled {
		return nil
	}
	if err := h.adapter.Enable(); err != nil {
		return fmt.Errorf("failed to enable Bluetooth: %w", err)
	}
	h.adapter.SetConnectHandler(h.onConnectEvent)
	h.enabled = true
	return nil
}

func (h *AdapterHost) RequestDevice(ctx context.Context, filter RequestFilter) (ble.Peripheral, error) {
	if err := h.enable(); err != nil {
		return nil, err
	}

	candidates, err := h.scan(ctx, filter)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	choose := h.chooser
	h.mu.Unlock()

	chosen, err := choose(ctx, candidates)
	if err != nil {
		return nil, err
	}
	h.log.Debug("device chosen", zap.String("address", chosen.Address), zap.String("name", chosen.Name))

	p := &peripheral{
		host:     h,
		address:  chosen.addr,
		id:       chosen.Address,
		name:     chosen.Name,
		services: filter.OptionalServices,
	}
	p.gatt = &gattServer{peripheral: p}
	return p, nil
}

// scan collects matching advertisements until the scan window closes or
// ctx is done.
func (h *AdapterHost) scan(ctx context.Context, filter RequestFilter) ([]Candidate, error) {
	var (
		mu         sync.Mutex
		seen       = make(map[string]int)
		candidates []Candidate
	)

	deadline := time.Now().Add(h.scanWindow)
	expired := func() bool {
		return ctx.Err() != nil || !time.Now().Before(deadline)
	}

	var (
		stopMu  sync.Mutex
		stopped bool
	)
	stopScan := func() error {
		stopMu.Lock()
		defer stopMu.Unlock()
		if stopped {
			return nil
		}
		if err := h.adapter.StopScan(); err != nil {
			return err
		}
		stopped = true
		return nil
	}

	// Advertisements stop the scan from the callback once the window closes.
	// The watcher covers quiet air, retrying until the scan has started.
	done := make(chan struct{})
	go func() {
		timer := time.NewTimer(h.scanWindow)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
		case <-done:
			return
		}
		stopScanRetry(stopScan, done, stopRetryInterval)
	}()

	h.log.Debug("scanning", zap.Duration("window", h.scanWindow))
	err := h.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		if expired() {
			_ = stopScan()
			return
		}
		name := result.LocalName()
		if !filter.Matches(name) {
			config.Debugf("skipping %s (%q)", result.Address.String(), name)
			return
		}
		address := result.Address.String()

		mu.Lock()
		defer mu.Unlock()
		if i, ok := seen[address]; ok {
			candidates[i].RSSI = result.RSSI
			if name != "" {
				candidates[i].Name = name
			}
			return
		}
		h.log.Debug("found", zap.String("name", name), zap.String("address", address), zap.Int16("rssi", result.RSSI))
		seen[address] = len(candidates)
		candidates = append(candidates, Candidate{
			Address: address,
			Name:    name,
			RSSI:    result.RSSI,
			addr:    result.Address,
		})
	})
	close(done)

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("%w: %w", ble.ErrUserCancelled, ctxErr)
	}
	if err != nil {
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()
	out := append([]Candidate(nil), candidates...)
	sortCandidates(out)
	return out, nil
}

// stopRetryInterval paces StopScan retries while the scan is still starting.
const stopRetryInterval = 50 * time.Millisecond

// stopScanRetry calls stop until it succeeds or done is closed. tinygo
// rejects StopScan until Scan has registered with the system.
func stopScanRetry(stop func() error, done <-chan struct{}, every time.Duration) {
	for {
		if err := stop(); err == nil {
			return
		}
		select {
		case <-done:
			return
		case <-time.After(every):
		}
	}
}

func (h *AdapterHost) onConnectEvent(device bluetooth.Device, connected bool) {
	if connected {
		return
	}
	address := device.Address.String()

	h.mu.Lock()
	if s, ok := h.sessions[address]; ok {
		s.markDisconnected()
		delete(h.sessions, address)
	}
	fns := make([]func(), 0, len(h.listeners[address]))
	for _, fn := range h.listeners[address] {
		fns = append(fns, fn)
	}
	h.mu.Unlock()

	h.log.Debug("peripheral disconnected", zap.String("address", address), zap.Int("listeners", len(fns)))
	for _, fn := range fns {
		fn()
	}
}

func (h *AdapterHost) addListener(address string, fn func()) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	id := h.nextID
	if h.listeners[address] == nil {
		h.listeners[address] = make(map[uint64]func())
	}
	h.listeners[address][id] = fn
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.listeners[address], id)
		if len(h.listeners[address]) == 0 {
			delete(h.listeners, address)
		}
	}
}

func (h *AdapterHost) trackSession(address string, s *gattServer) {
	h.mu.Lock()
	h.sessions[address] = s
	h.mu.Unlock()
}

// peripheral is the host object behind a web handle.
type peripheral struct {
	host     *AdapterHost
	address  bluetooth.Address
	id       string
	name     string
	services []string
	gatt     *gattServer
}

func (p *peripheral) ID() string           { return p.id }
func (p *peripheral) Name() string         { return p.name }
func (p *peripheral) GATT() ble.GATTServer { return p.gatt }

func (p *peripheral) AddDisconnectListener(fn func()) func() {
	return p.host.addListener(p.id, fn)
}

// gattServer holds the connected tinygo device.
type gattServer struct {
	peripheral *peripheral

	mu        sync.Mutex
	device    *bluetooth.Device
	connected bool
}

type connectResult struct {
	device bluetooth.Device
	err    error
}

func (g *gattServer) Connect(ctx context.Context) error {
	p := g.peripheral
	adapter := p.host.adapter

	p.host.log.Debug("connecting", zap.String("address", p.id))
	done := make(chan connectResult, 1)
	go func() {
		device, err := adapter.Connect(p.address, bluetooth.ConnectionParams{})
		done <- connectResult{device: device, err: err}
	}()

	var res connectResult
	select {
	case res = <-done:
	case <-ctx.Done():
		go func() {
			// The adapter call has no cancel; drop the link if it lands late.
			if late := <-done; late.err == nil {
				late.device.Disconnect()
			}
		}()
		return ctx.Err()
	}
	if res.err != nil {
		return fmt.Errorf("failed to connect: %w", res.err)
	}

	g.mu.Lock()
	g.device = &res.device
	g.connected = true
	g.mu.Unlock()
	p.host.trackSession(p.id, g)

	g.discoverServices()
	return nil
}

// discoverServices requests the optional services. Missing services are
// not an error for pairing.
func (g *gattServer) discoverServices() {
	p := g.peripheral
	if len(p.services) == 0 {
		return
	}
	uuids := make([]bluetooth.UUID, 0, len(p.services))
	for _, s := range p.services {
		u, err := bluetooth.ParseUUID(s)
		if err != nil {
			p.host.log.Debug("skipping service", zap.String("uuid", s), zap.Error(err))
			continue
		}
		uuids = append(uuids, u)
	}

	g.mu.Lock()
	device := g.device
	g.mu.Unlock()
	if device == nil {
		return
	}
	services, err := device.DiscoverServices(uuids)
	if err != nil {
		p.host.log.Debug("service discovery incomplete", zap.Error(err))
		return
	}
	p.host.log.Debug("services discovered", zap.Int("count", len(services)))
}

func (g *gattServer) Disconnect() error {
	g.mu.Lock()
	device := g.device
	g.device = nil
	g.connected = false
	g.mu.Unlock()
	if device == nil {
		return nil
	}
	return device.Disconnect()
}

func (g *gattServer) Connected() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.connected
}

func (g *gattServer) markDisconnected() {
	g.mu.Lock()
	g.device = nil
	g.connected = false
	g.mu.Unlock()
}
