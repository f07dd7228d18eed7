package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.uber.org/zap"

	"github.com/vitaminmoo/pressuremon/internal/ble"
	"github.com/vitaminmoo/pressuremon/internal/ble/native"
	"github.com/vitaminmoo/pressuremon/internal/bluez"
	"github.com/vitaminmoo/pressuremon/internal/config"
)

func parse(t *testing.T, args ...string) (*CLI, *kong.Context) {
	t.Helper()
	var c CLI
	parser, err := kong.New(&c, kong.Name("pressuremon"), kong.Exit(func(int) { t.Fatal("unexpected exit") }))
	require.NoError(t, err)
	ctx, err := parser.Parse(args)
	require.NoError(t, err)
	return &c, ctx
}

func captureStdout(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := stdout
	stdout = &buf
	t.Cleanup(func() { stdout = prev })
	return &buf
}

func isolateConfig(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	for _, k := range []string{"PRESSUREMON_HOST", "PRESSUREMON_SCAN_TIMEOUT", "PRESSUREMON_LOGGER_LEVEL", "PRESSUREMON_TRACER_ENABLED", config.PlatformEnv} {
		t.Setenv(k, "")
	}
	// LookupEnv distinguishes empty from unset for the prefix.
	t.Setenv("PRESSUREMON_NAME_PREFIX", "x")
	require.NoError(t, os.Unsetenv("PRESSUREMON_NAME_PREFIX"))
}

func TestDefaultCommandIsTUI(t *testing.T) {
	_, ctx := parse(t)
	assert.Equal(t, "tui", ctx.Command())
}

func TestParseCommands(t *testing.T) {
	tests := []struct {
		args    []string
		command string
	}{
		{[]string{"pair"}, "pair"},
		{[]string{"pair", "--service", "0000180f-0000-1000-8000-00805f9b34fb"}, "pair"},
		{[]string{"probe"}, "probe"},
		{[]string{"risk", "60", "40"}, "risk <heel> <forefoot>"},
		{[]string{"config"}, "config"},
	}
	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			_, ctx := parse(t, tt.args...)
			assert.Equal(t, tt.command, ctx.Command())
		})
	}
}

func TestPairServicesRepeatable(t *testing.T) {
	c, _ := parse(t, "pair", "--service", "a", "--service", "b")
	assert.Equal(t, []string{"a", "b"}, c.Pair.Service)
}

func TestRiskCommand(t *testing.T) {
	tests := []struct {
		heel, forefoot float64
		want           string
	}{
		{30, 30, "Risk score: 0 (Safe)\n"},
		{75, 75, "Risk score: 50 (Moderate)\n"},
		{100, 50, "Risk score: 75 (High Risk)\n"},
	}
	for _, tt := range tests {
		out := captureStdout(t)
		cmd := RiskCmd{Heel: tt.heel, Forefoot: tt.forefoot}
		require.NoError(t, cmd.Run(&CLI{}))
		assert.Equal(t, tt.want, out.String())
	}
}

func TestRiskRejectsNegative(t *testing.T) {
	cmd := RiskCmd{Heel: -1, Forefoot: 10}
	assert.Error(t, cmd.Run(&CLI{}))
}

func TestLoadConfigFlagOverrides(t *testing.T) {
	isolateConfig(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("host: web\ndevice:\n  name_prefix: FromFile\n"), 0o600))

	c := &CLI{ConfigFile: path}
	cfg, err := c.loadConfig()
	require.NoError(t, err)
	assert.Equal(t, config.HostWeb, cfg.Host)
	assert.Equal(t, "FromFile", cfg.Device.NamePrefix)

	c = &CLI{ConfigFile: path, Host: "native", Prefix: "Flag", Trace: true}
	cfg, err = c.loadConfig()
	require.NoError(t, err)
	assert.Equal(t, config.HostNative, cfg.Host)
	assert.Equal(t, "Flag", cfg.Device.NamePrefix)
	assert.True(t, cfg.Tracer.Enabled)
	assert.Equal(t, "stdout", cfg.Tracer.Exporter)

	c = &CLI{ConfigFile: path, All: true}
	cfg, err = c.loadConfig()
	require.NoError(t, err)
	assert.Empty(t, cfg.Device.NamePrefix)
}

func TestLoadConfigRejectsBadHost(t *testing.T) {
	isolateConfig(t)
	c := &CLI{Host: "bluetooth"}
	_, err := c.loadConfig()
	assert.Error(t, err)
}

func TestConfigCommandPrintsYAML(t *testing.T) {
	isolateConfig(t)
	out := captureStdout(t)

	c := &CLI{Prefix: "SoleSense"}
	require.NoError(t, c.Show.Run(c))
	assert.Contains(t, out.String(), "host: auto")
	assert.Contains(t, out.String(), "name_prefix: SoleSense")
}

func TestIsTerminalOutput(t *testing.T) {
	assert.True(t, isTerminalOutput(""))
	assert.True(t, isTerminalOutput("stderr"))
	assert.True(t, isTerminalOutput("STDOUT"))
	assert.False(t, isTerminalOutput("/tmp/pressuremon.log"))
}

// slowBridge holds Disconnect until release is closed.
type slowBridge struct {
	release      chan struct{}
	disconnected atomic.Bool
}

func (b *slowBridge) Initialize(context.Context) error                    { return nil }
func (b *slowBridge) IsEnabled(context.Context) (bool, error)             { return true, nil }
func (b *slowBridge) Connect(context.Context, string, func(string)) error { return nil }

func (b *slowBridge) RequestDevice(context.Context, native.BridgeRequest) (native.BridgeDevice, error) {
	return native.BridgeDevice{}, nil
}

func (b *slowBridge) Disconnect(context.Context, string) error {
	<-b.release
	b.disconnected.Store(true)
	return nil
}

func TestCloseWaitsForPendingDisconnect(t *testing.T) {
	bridge := &slowBridge{release: make(chan struct{})}
	nb := native.New(bridge)
	app := &App{Log: zap.NewNop(), Bridge: bluez.New(""), Native: nb}

	nb.Disconnect(ble.NewNativeHandle("AA:BB", "SoleSense Pro"))

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		app.Close()
	}()

	select {
	case <-closed:
		t.Fatal("Close returned before the disconnect finished")
	case <-time.After(20 * time.Millisecond):
	}

	close(bridge.release)
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close did not return")
	}
	assert.True(t, bridge.disconnected.Load())
}
