package transport

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaminmoo/pressuremon/internal/ble"
)

type calls struct {
	requests    int
	connects    int
	disconnects int
	subscribes  int
}

type fakeWeb struct {
	calls
	available bool
	radio     bool
	handle    *ble.WebHandle
	err       error
}

func (f *fakeWeb) IsAvailable() bool                 { return f.available }
func (f *fakeWeb) Availability(context.Context) bool { return f.radio }
func (f *fakeWeb) Connect(context.Context, *ble.WebHandle) error {
	f.connects++
	return f.err
}
func (f *fakeWeb) Disconnect(*ble.WebHandle) { f.disconnects++ }
func (f *fakeWeb) OnDisconnected(*ble.WebHandle, func()) func() {
	f.subscribes++
	return func() {}
}
func (f *fakeWeb) RequestDevice(context.Context, *ble.PairingOptions) (*ble.WebHandle, error) {
	f.requests++
	return f.handle, f.err
}

type fakeNative struct {
	calls
	radio        bool
	handle       *ble.NativeHandle
	err          error
	onDisconnect func()
}

func (f *fakeNative) IsAvailable() bool                 { return true }
func (f *fakeNative) Availability(context.Context) bool { return f.radio }
func (f *fakeNative) Connect(_ context.Context, _ *ble.NativeHandle, cb func()) error {
	f.connects++
	f.onDisconnect = cb
	return f.err
}
func (f *fakeNative) Disconnect(*ble.NativeHandle) { f.disconnects++ }
func (f *fakeNative) OnDisconnected(*ble.NativeHandle, func()) func() {
	f.subscribes++
	return func() {}
}
func (f *fakeNative) RequestDevice(context.Context, *ble.PairingOptions) (*ble.NativeHandle, error) {
	f.requests++
	return f.handle, f.err
}

type nopPeripheral struct{}

func (nopPeripheral) ID() string                          { return "web-1" }
func (nopPeripheral) Name() string                        { return "SoleSense" }
func (nopPeripheral) GATT() ble.GATTServer                { return nil }
func (nopPeripheral) AddDisconnectListener(func()) func() { return func() {} }

func TestDispatchFollowsDetectorEveryCall(t *testing.T) {
	web := &fakeWeb{available: false, radio: false, handle: ble.NewWebHandle(nopPeripheral{})}
	nat := &fakeNative{radio: true, handle: ble.NewNativeHandle("AA", "SoleSense")}

	native := true
	tr := New(web, nat, func() bool { return native })

	assert.True(t, tr.IsAvailable())
	assert.True(t, tr.Availability(context.Background()))
	h, err := tr.RequestDevice(context.Background(), nil)
	require.NoError(t, err)
	assert.IsType(t, &ble.NativeHandle{}, h)

	native = false
	assert.False(t, tr.IsAvailable())
	assert.False(t, tr.Availability(context.Background()))
	h, err = tr.RequestDevice(context.Background(), nil)
	require.NoError(t, err)
	assert.IsType(t, &ble.WebHandle{}, h)

	assert.Equal(t, 1, nat.requests)
	assert.Equal(t, 1, web.requests)
}

func TestPanickingDetectorFallsBackToWeb(t *testing.T) {
	web := &fakeWeb{available: true, handle: ble.NewWebHandle(nopPeripheral{})}
	nat := &fakeNative{}
	tr := New(web, nat, func() bool { panic("bridge global missing") })

	assert.True(t, tr.IsAvailable())
	_, err := tr.RequestDevice(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, web.requests)
	assert.Zero(t, nat.requests)
}

func TestNilDetectorUsesWeb(t *testing.T) {
	web := &fakeWeb{available: true}
	tr := New(web, &fakeNative{}, nil)
	assert.True(t, tr.IsAvailable())
}

func TestRoutingByHandleVariant(t *testing.T) {
	ctx := context.Background()
	web := &fakeWeb{}
	nat := &fakeNative{}
	// Routing ignores the detector once a handle exists.
	tr := New(web, nat, func() bool { return false })

	nh := ble.NewNativeHandle("AA", "x")
	var fired bool
	require.NoError(t, tr.ConnectToDevice(ctx, nh, func() { fired = true }))
	tr.DisconnectDevice(nh)
	tr.OnDeviceDisconnected(nh, func() {})()
	assert.Equal(t, calls{connects: 1, disconnects: 1, subscribes: 1}, nat.calls)
	require.NotNil(t, nat.onDisconnect)
	nat.onDisconnect()
	assert.True(t, fired)

	wh := ble.NewWebHandle(nopPeripheral{})
	require.NoError(t, tr.ConnectToDevice(ctx, wh, nil))
	tr.DisconnectDevice(wh)
	tr.OnDeviceDisconnected(wh, func() {})()
	assert.Equal(t, calls{connects: 1, disconnects: 1, subscribes: 1}, web.calls)
	assert.Equal(t, 1, nat.connects)
}

func TestInvalidHandles(t *testing.T) {
	ctx := context.Background()
	web := &fakeWeb{}
	nat := &fakeNative{}
	tr := New(web, nat, func() bool { return true })

	invalid := []ble.Handle{
		nil,
		&ble.NativeHandle{ID: "AA"},
		&ble.WebHandle{ID: "BB"},
		(*ble.WebHandle)(nil),
		(*ble.NativeHandle)(nil),
	}
	for _, h := range invalid {
		assert.ErrorIs(t, tr.ConnectToDevice(ctx, h, nil), ble.ErrInvalidHandle)
		assert.NotPanics(t, func() { tr.DisconnectDevice(h) })
		unsubscribe := tr.OnDeviceDisconnected(h, func() {})
		require.NotNil(t, unsubscribe)
		assert.NotPanics(t, unsubscribe)
	}
	assert.Equal(t, calls{}, web.calls)
	assert.Equal(t, calls{}, nat.calls)
}

func TestErrorsPropagate(t *testing.T) {
	cause := errors.New("GATT Server is disconnected.")
	web := &fakeWeb{available: true, err: cause}
	tr := New(web, &fakeNative{}, nil)

	_, err := tr.RequestDevice(context.Background(), nil)
	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, tr.ConnectToDevice(context.Background(), ble.NewWebHandle(nopPeripheral{}), nil), cause)
}

func TestNoWebBackend(t *testing.T) {
	tr := New(nil, nil, nil)
	assert.False(t, tr.IsAvailable())
	assert.False(t, tr.Availability(context.Background()))
	_, err := tr.RequestDevice(context.Background(), nil)
	assert.ErrorIs(t, err, ble.ErrUnsupportedEnvironment)
}
