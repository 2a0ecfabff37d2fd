package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/luxiaoyu/claw-app/internal/cli"
	"github.com/luxiaoyu/claw-app/internal/install"
)

// InstallCmd implements the 'install' command.
type InstallCmd struct {
	Quiet bool `short:"q" help:"Only print the outcome, not the installer output"`
}

func (i *InstallCmd) Run(g *Global, root *CLI) error {
	ex, err := newExecutor(g, root)
	if err != nil {
		return err
	}
	defer func() { _ = ex.Close() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	out := g.out()
	req := cli.InstallRequest{}
	if !i.Quiet {
		req.OnLog = func(line string) { fmt.Fprintln(out, line) }
	}
	resp, err := ex.ExecuteInstall(ctx, req)
	switch resp.Event.Kind {
	case install.KindComplete:
		fmt.Fprintln(out, "Installation complete")
	case install.KindAlreadyInstalled:
		fmt.Fprintln(out, "Already installed")
	case install.KindError:
		fmt.Fprintln(out, resp.Event.Message)
	}
	return err
}
