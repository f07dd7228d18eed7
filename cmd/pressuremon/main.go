package main

import (
	"github.com/alecthomas/kong"

	"github.com/vitaminmoo/pressuremon/internal/cli"
)

func main() {
	var c cli.CLI
	ctx := kong.Parse(&c,
		kong.Name("pressuremon"),
		kong.Description("Pair with a SoleSense pressure-sensing insole over Bluetooth LE."),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run(&c))
}
