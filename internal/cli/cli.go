package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/vitaminmoo/pressuremon/internal/pairing"
	"github.com/vitaminmoo/pressuremon/internal/risk"
	"github.com/vitaminmoo/pressuremon/internal/tui"
)

// stdout receives command output.
var stdout io.Writer = os.Stdout

// CLI is the root command structure for pressuremon.
type CLI struct {
	Verbose    bool   `short:"v" help:"Enable verbose debug output"`
	ConfigFile string `name:"config" help:"Config file (default $XDG_CONFIG_HOME/pressuremon/config.yaml)" type:"path" placeholder:"PATH"`
	Host       string `help:"Bluetooth host: auto, web or native" placeholder:"MODE"`
	Prefix     string `help:"Only offer devices whose name starts with this prefix" placeholder:"PREFIX"`
	All        bool   `help:"Offer every nearby device, ignoring the name prefix"`
	Trace      bool   `help:"Print OpenTelemetry spans to stdout"`

	// Default command - TUI
	Tui TuiCmd `cmd:"" default:"withargs" help:"Launch the interactive pairing screen (default)"`

	Pair  PairCmd   `cmd:"" help:"Pair with a device and hold the connection until interrupted"`
	Probe ProbeCmd  `cmd:"" help:"Report Bluetooth availability on this host"`
	Risk  RiskCmd   `cmd:"" help:"Score heel and forefoot pressure readings"`
	Show  ConfigCmd `cmd:"" name:"config" help:"Print the effective configuration"`
}

// --- TUI Command ---

type TuiCmd struct{}

func (c *TuiCmd) Run(globals *CLI) error {
	app, err := globals.newApp(true)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = tui.Run(ctx, app.Pairing, app.Options(), app.Host, app.Config.Device.ScanTimeout)
	app.Pairing.Disconnect()
	return err
}

// --- Pair Command ---

type PairCmd struct {
	Service []string `help:"Additional GATT service UUID to request access to (repeatable)" placeholder:"UUID"`
}

func (c *PairCmd) Run(globals *CLI) error {
	app, err := globals.newApp(false)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := app.Options()
	opts.OptionalServices = append(opts.OptionalServices, c.Service...)

	dropped := make(chan struct{}, 1)
	unsubscribe := app.Pairing.Subscribe(func(s pairing.State) {
		printState(s)
		if s.Status == pairing.Idle && s.Device == nil {
			select {
			case dropped <- struct{}{}:
			default:
			}
		}
	})
	defer unsubscribe()

	app.Pairing.StartPairing(ctx, &opts)

	s := app.Pairing.State()
	switch s.Status {
	case pairing.Connected:
	case pairing.Error, pairing.Unavailable:
		return errors.New(s.Err)
	default:
		fmt.Fprintln(stdout, "Pairing cancelled")
		return nil
	}

	fmt.Fprintln(stdout, "Press Ctrl-C to disconnect")
	select {
	case <-ctx.Done():
		app.Pairing.Disconnect()
	case <-dropped:
		fmt.Fprintln(stdout, "Device disconnected")
	}
	return nil
}

func printState(s pairing.State) {
	line := "Status: " + s.Status.String()
	if s.Device != nil {
		line += fmt.Sprintf(" (%s %s)", s.Device.DeviceName(), s.Device.DeviceID())
	}
	if s.Err != "" {
		line += ": " + s.Err
	}
	fmt.Fprintln(stdout, line)
}

// --- Probe Command ---

type ProbeCmd struct{}

func (c *ProbeCmd) Run(globals *CLI) error {
	app, err := globals.newApp(false)
	if err != nil {
		return err
	}
	defer app.Close()

	backend := "web"
	if app.Config.NativeShell() {
		backend = "native"
	}
	fmt.Fprintf(stdout, "Backend:    %s\n", backend)
	fmt.Fprintf(stdout, "Supported:  %s\n", yesNo(app.Transport.IsAvailable()))
	fmt.Fprintf(stdout, "Radio on:   %s\n", yesNo(app.Transport.Availability(context.Background())))
	return nil
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

// --- Risk Command ---

type RiskCmd struct {
	Heel     float64 `arg:"" help:"Heel pressure in kPa"`
	Forefoot float64 `arg:"" help:"Forefoot pressure in kPa"`
}

func (c *RiskCmd) Run(globals *CLI) error {
	if c.Heel < 0 || c.Forefoot < 0 {
		return fmt.Errorf("pressure must not be negative")
	}
	score := risk.Score(c.Heel, c.Forefoot)
	level := risk.LevelFor(score)
	fmt.Fprintf(stdout, "Risk score: %d (%s)\n", score, level.Label())
	return nil
}

// --- Config Command ---

type ConfigCmd struct{}

func (c *ConfigCmd) Run(globals *CLI) error {
	cfg, err := globals.loadConfig()
	if err != nil {
		return err
	}
	data, err := cfg.Marshal()
	if err != nil {
		return err
	}
	fmt.Fprint(stdout, strings.TrimRight(string(data), "\n")+"\n")
	return nil
}
