package main

import (
	"log/slog"

	"github.com/alecthomas/kong"

	"github.com/luxiaoyu/claw-app/cmd/clawctl/commands"
	"github.com/luxiaoyu/claw-app/internal/errors"
	"github.com/luxiaoyu/claw-app/internal/version"
)

func main() {
	var cli commands.CLI
	parser := kong.Parse(&cli,
		kong.Name("clawctl"),
		kong.Description("Run commands, install the runtime and supervise the gateway daemon."),
		kong.UsageOnError(),
		kong.Vars{"version": version.String()},
	)

	err := parser.Run(&commands.Global{Logger: slog.Default()}, &cli)
	errors.NewCLIErrorAdapter(cli.Verbose, slog.Default()).HandleError(err)
}
