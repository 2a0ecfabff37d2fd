package commands

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/luxiaoyu/claw-app/internal/cli"
)

// ExecCmd implements the 'exec' command.
type ExecCmd struct {
	Timeout time.Duration `short:"t" help:"Override command.timeout"`
	Command []string      `arg:"" passthrough:"" help:"Shell command to run"`
}

func (e *ExecCmd) Run(g *Global, root *CLI) error {
	ex, err := newExecutor(g, root)
	if err != nil {
		return err
	}
	defer func() { _ = ex.Close() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	res, err := ex.ExecuteExec(ctx, cli.ExecRequest{
		Command: strings.Join(e.Command, " "),
		Timeout: e.Timeout,
	})
	if res != nil {
		fmt.Fprint(g.out(), res.Stdout)
	}
	return err
}
