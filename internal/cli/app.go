package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vitaminmoo/pressuremon/internal/ble"
	"github.com/vitaminmoo/pressuremon/internal/ble/native"
	"github.com/vitaminmoo/pressuremon/internal/ble/web"
	"github.com/vitaminmoo/pressuremon/internal/bluez"
	"github.com/vitaminmoo/pressuremon/internal/config"
	"github.com/vitaminmoo/pressuremon/internal/pairing"
	"github.com/vitaminmoo/pressuremon/internal/tracer"
	"github.com/vitaminmoo/pressuremon/internal/transport"
)

// App holds the wired components shared by the commands.
type App struct {
	Config    *config.Config
	Log       *zap.Logger
	Host      *web.AdapterHost
	Bridge    *bluez.Bridge
	Native    *native.Backend
	Transport *transport.Transport
	Pairing   *pairing.Controller

	shutdown func(context.Context) error
}

// loadConfig reads the config file and applies the global flag overrides.
func (c *CLI) loadConfig() (*config.Config, error) {
	path := c.ConfigFile
	if path == "" {
		path = config.Path()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if c.Host != "" {
		cfg.Host = c.Host
	}
	if c.Prefix != "" {
		cfg.Device.NamePrefix = c.Prefix
	}
	if c.All {
		cfg.Device.NamePrefix = ""
	}
	if c.Trace {
		cfg.Tracer.Enabled = true
		cfg.Tracer.Exporter = "stdout"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newApp wires config, logging, tracing and the Bluetooth stack. Interactive
// sessions keep terminal log output off the screen.
func (c *CLI) newApp(interactive bool) (*App, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, err
	}

	logCfg := cfg.Logger
	if interactive && isTerminalOutput(logCfg.Output) {
		logCfg.Output = os.DevNull
	}
	log, err := config.SetupLogger(logCfg, c.Verbose)
	if err != nil {
		return nil, fmt.Errorf("setup logger: %w", err)
	}

	shutdown, err := tracer.Setup(cfg.Tracer)
	if err != nil {
		return nil, fmt.Errorf("setup tracer: %w", err)
	}

	host := web.DefaultAdapterHost(cfg.Device.ScanTimeout, nil)
	bridge := bluez.New(cfg.Device.Adapter)
	nb := native.New(bridge)
	tr := transport.New(web.New(host), nb, cfg.NativeShell)

	log.Debug("app ready",
		zap.String("host", cfg.Host),
		zap.String("prefix", cfg.Device.NamePrefix),
		zap.Duration("scan_timeout", cfg.Device.ScanTimeout))

	return &App{
		Config:    cfg,
		Log:       log,
		Host:      host,
		Bridge:    bridge,
		Native:    nb,
		Transport: tr,
		Pairing:   pairing.New(tr),
		shutdown:  shutdown,
	}, nil
}

// Options returns the pairing options from the config.
func (a *App) Options() ble.PairingOptions {
	return ble.PairingOptions{
		NamePrefix:       a.Config.Device.NamePrefix,
		OptionalServices: append([]string(nil), a.Config.Device.OptionalServices...),
	}
}

// closeTimeout bounds how long Close waits for pending disconnects.
const closeTimeout = 3 * time.Second

// Close lets pending disconnects reach the bridge, then releases the bus
// connection and flushes spans and logs.
func (a *App) Close() {
	if a.Native != nil {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		if err := a.Native.Wait(ctx); err != nil {
			a.Log.Warn("pending disconnect did not finish", zap.Error(err))
		}
		cancel()
	}
	if err := a.Bridge.Close(); err != nil {
		a.Log.Debug("close bridge", zap.Error(err))
	}
	if a.shutdown != nil {
		if err := a.shutdown(context.Background()); err != nil {
			a.Log.Debug("shutdown tracer", zap.Error(err))
		}
	}
	_ = a.Log.Sync()
}

func isTerminalOutput(output string) bool {
	switch strings.ToLower(output) {
	case "", "stderr", "stdout":
		return true
	}
	return false
}
