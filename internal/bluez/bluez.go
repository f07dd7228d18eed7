// Package bluez is the native Bluetooth bridge, talking to BlueZ over the
// system D-Bus.
package bluez

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"

	"github.com/vitaminmoo/pressuremon/internal/ble"
	"github.com/vitaminmoo/pressuremon/internal/ble/native"
	"github.com/vitaminmoo/pressuremon/internal/config"
)

const (
	busName            = "org.bluez"
	adapterIface       = "org.bluez.Adapter1"
	deviceIface        = "org.bluez.Device1"
	propsIface         = "org.freedesktop.DBus.Properties"
	propsSignal        = "org.freedesktop.DBus.Properties.PropertiesChanged"
	objectManagerIface = "org.freedesktop.DBus.ObjectManager"
)

// managedObjects is the GetManagedObjects reply shape.
type managedObjects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// Bridge implements native.Bridge on top of BlueZ.
type Bridge struct {
	adapterPath  dbus.ObjectPath
	pollInterval time.Duration
	log          *zap.Logger

	mu      sync.Mutex
	conn    *dbus.Conn
	watches map[dbus.ObjectPath]func(string)
}

var _ native.Bridge = (*Bridge)(nil)

// New returns a bridge for the named adapter, e.g. "hci0".
func New(adapter string) *Bridge {
	if adapter == "" {
		adapter = "hci0"
	}
	return &Bridge{
		adapterPath:  dbus.ObjectPath("/org/bluez/" + adapter),
		pollInterval: 500 * time.Millisecond,
		log:          config.Logger().Named("bluez"),
		watches:      make(map[dbus.ObjectPath]func(string)),
	}
}

// Initialize connects to the system bus, checks that BlueZ and the adapter
// are present, and subscribes to device property changes.
func (b *Bridge) Initialize(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		return nil
	}

	conn, err := dbus.ConnectSystemBus(dbus.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("connect to system bus: %w", err)
	}

	var names []string
	if err := conn.BusObject().CallWithContext(ctx, "org.freedesktop.DBus.ListNames", 0).Store(&names); err != nil {
		conn.Close()
		return fmt.Errorf("list bus names: %w", err)
	}
	if !slices.Contains(names, busName) {
		conn.Close()
		return fmt.Errorf("%s not found on system bus, is bluetooth.service running?", busName)
	}

	var powered dbus.Variant
	if err := conn.Object(busName, b.adapterPath).CallWithContext(ctx, propsIface+".Get", 0, adapterIface, "Powered").Store(&powered); err != nil {
		conn.Close()
		return fmt.Errorf("adapter %s: %w", b.adapterPath, err)
	}

	rule := "type='signal',interface='" + propsIface + "',member='PropertiesChanged',path_namespace='" + string(b.adapterPath) + "'"
	if err := conn.BusObject().CallWithContext(ctx, "org.freedesktop.DBus.AddMatch", 0, rule).Err; err != nil {
		conn.Close()
		return fmt.Errorf("subscribe to property changes: %w", err)
	}
	ch := make(chan *dbus.Signal, 16)
	conn.Signal(ch)
	go b.dispatch(ch)

	b.conn = conn
	b.log.Debug("bridge initialized", zap.String("adapter", string(b.adapterPath)))
	return nil
}

// Close releases the bus connection.
func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return nil
	}
	err := b.conn.Close()
	b.conn = nil
	return err
}

func (b *Bridge) bus() (*dbus.Conn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return nil, fmt.Errorf("bluez bridge not initialized")
	}
	return b.conn, nil
}

// IsEnabled reports the adapter's Powered property.
func (b *Bridge) IsEnabled(ctx context.Context) (bool, error) {
	conn, err := b.bus()
	if err != nil {
		return false, err
	}
	var v dbus.Variant
	if err := conn.Object(busName, b.adapterPath).CallWithContext(ctx, propsIface+".Get", 0, adapterIface, "Powered").Store(&v); err != nil {
		return false, err
	}
	on, ok := v.Value().(bool)
	if !ok {
		return false, fmt.Errorf("property Powered is not bool")
	}
	return on, nil
}

// RequestDevice runs LE discovery until a device matching req shows up or
// ctx is done. A done context is reported as a cancelled request.
func (b *Bridge) RequestDevice(ctx context.Context, req native.BridgeRequest) (native.BridgeDevice, error) {
	conn, err := b.bus()
	if err != nil {
		return native.BridgeDevice{}, err
	}
	adapter := conn.Object(busName, b.adapterPath)

	config.Debugf("discovering with optional services %v", req.OptionalServices)
	if err := adapter.CallWithContext(ctx, adapterIface+".SetDiscoveryFilter", 0, discoveryFilter(req)).Err; err != nil {
		b.log.Debug("discovery filter rejected", zap.Error(err))
	}
	if err := adapter.CallWithContext(ctx, adapterIface+".StartDiscovery", 0).Err; err != nil {
		return native.BridgeDevice{}, fmt.Errorf("start discovery: %w", err)
	}
	defer func() {
		if err := adapter.Call(adapterIface+".StopDiscovery", 0).Err; err != nil {
			b.log.Debug("stop discovery", zap.Error(err))
		}
	}()

	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()
	for {
		var objects managedObjects
		err := conn.Object(busName, "/").CallWithContext(ctx, objectManagerIface+".GetManagedObjects", 0).Store(&objects)
		if err != nil && ctx.Err() == nil {
			return native.BridgeDevice{}, fmt.Errorf("list devices: %w", err)
		}
		if dev, ok := matchDevice(objects, b.adapterPath, req.NamePrefix); ok {
			b.log.Debug("device found", zap.String("address", dev.DeviceID), zap.String("name", dev.Name))
			return dev, nil
		}
		config.Debugf("no device matching %q among %d objects", req.NamePrefix, len(objects))

		select {
		case <-ctx.Done():
			return native.BridgeDevice{}, fmt.Errorf("%w: %w", ble.ErrUserCancelled, ctx.Err())
		case <-ticker.C:
		}
	}
}

// discoveryFilter limits discovery to LE. Optional services are an access
// request for after connecting and stay out of the filter, since BlueZ
// hides devices that do not advertise a listed UUID.
func discoveryFilter(native.BridgeRequest) map[string]dbus.Variant {
	return map[string]dbus.Variant{"Transport": dbus.MakeVariant("le")}
}

// Connect connects the device and watches it for disconnects.
func (b *Bridge) Connect(ctx context.Context, deviceID string, onDisconnect func(deviceID string)) error {
	conn, err := b.bus()
	if err != nil {
		return err
	}
	path := deviceObjectPath(b.adapterPath, deviceID)
	if err := conn.Object(busName, path).CallWithContext(ctx, deviceIface+".Connect", 0).Err; err != nil {
		return err
	}
	if onDisconnect != nil {
		b.mu.Lock()
		b.watches[path] = onDisconnect
		b.mu.Unlock()
	}
	return nil
}

// Disconnect drops the watch and disconnects the device.
func (b *Bridge) Disconnect(ctx context.Context, deviceID string) error {
	conn, err := b.bus()
	if err != nil {
		return err
	}
	path := deviceObjectPath(b.adapterPath, deviceID)
	b.mu.Lock()
	delete(b.watches, path)
	b.mu.Unlock()
	return conn.Object(busName, path).CallWithContext(ctx, deviceIface+".Disconnect", 0).Err
}

func (b *Bridge) dispatch(ch <-chan *dbus.Signal) {
	for sig := range ch {
		b.handleSignal(sig)
	}
}

// handleSignal fires the watch for a device whose Connected property
// turned false. Each watch fires once.
func (b *Bridge) handleSignal(sig *dbus.Signal) {
	if sig == nil || sig.Name != propsSignal || len(sig.Body) < 2 {
		return
	}
	if iface, _ := sig.Body[0].(string); iface != deviceIface {
		return
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return
	}
	v, ok := changed["Connected"]
	if !ok {
		return
	}
	if connected, _ := v.Value().(bool); connected {
		return
	}

	b.mu.Lock()
	fn := b.watches[sig.Path]
	delete(b.watches, sig.Path)
	b.mu.Unlock()
	if fn == nil {
		return
	}
	addr := addressFromPath(b.adapterPath, sig.Path)
	b.log.Debug("device disconnected", zap.String("address", addr))
	fn(addr)
}

// deviceObjectPath converts "AA:BB:CC:DD:EE:FF" to
// "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF".
func deviceObjectPath(adapter dbus.ObjectPath, addr string) dbus.ObjectPath {
	return dbus.ObjectPath(string(adapter) + "/dev_" + strings.ReplaceAll(strings.ToUpper(addr), ":", "_"))
}

// addressFromPath extracts a MAC address from a device object path.
func addressFromPath(adapter dbus.ObjectPath, path dbus.ObjectPath) string {
	prefix := string(adapter) + "/dev_"
	s := string(path)
	if !strings.HasPrefix(s, prefix) {
		return ""
	}
	return strings.ReplaceAll(s[len(prefix):], "_", ":")
}

// matchDevice returns the strongest device under adapter whose name starts
// with prefix. Only devices carrying an RSSI, i.e. seen by the running
// discovery, are considered; cached entries for absent devices have none.
// Ties keep sorted path order so the choice is stable.
func matchDevice(objects managedObjects, adapter dbus.ObjectPath, prefix string) (native.BridgeDevice, bool) {
	paths := make([]string, 0, len(objects))
	for p := range objects {
		paths = append(paths, string(p))
	}
	sort.Strings(paths)

	var (
		best     native.BridgeDevice
		bestRSSI int16
		found    bool
	)
	for _, p := range paths {
		props, ok := objects[dbus.ObjectPath(p)][deviceIface]
		if !ok {
			continue
		}
		if adapterProp, ok := props["Adapter"]; ok {
			if ap, _ := adapterProp.Value().(dbus.ObjectPath); ap != "" && ap != adapter {
				continue
			}
		}
		rssiProp, ok := props["RSSI"]
		if !ok {
			continue
		}
		rssi, ok := rssiProp.Value().(int16)
		if !ok {
			continue
		}
		name := stringProp(props, "Name")
		if prefix != "" && !strings.HasPrefix(name, prefix) {
			continue
		}
		addr := stringProp(props, "Address")
		if addr == "" {
			addr = addressFromPath(adapter, dbus.ObjectPath(p))
		}
		if addr == "" {
			continue
		}
		if name == "" {
			name = stringProp(props, "Alias")
		}
		if !found || rssi > bestRSSI {
			best = native.BridgeDevice{DeviceID: addr, Name: name}
			bestRSSI = rssi
			found = true
		}
	}
	return best, found
}

func stringProp(props map[string]dbus.Variant, key string) string {
	v, ok := props[key]
	if !ok {
		return ""
	}
	s, _ := v.Value().(string)
	return s
}
