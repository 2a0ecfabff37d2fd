package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/luxiaoyu/claw-app/internal/gateway"
)

// GatewayCmd groups the gateway subcommands.
type GatewayCmd struct {
	Start  GatewayStartCmd  `cmd:"" help:"Start the gateway daemon, replacing any running instance"`
	Stop   GatewayStopCmd   `cmd:"" help:"Stop the gateway daemon"`
	Status GatewayStatusCmd `cmd:"" help:"Show whether the gateway daemon is running"`
	Uptime GatewayUptimeCmd `cmd:"" help:"Print the gateway daemon's elapsed running time"`
}

type GatewayStartCmd struct{}

func (c *GatewayStartCmd) Run(g *Global, root *CLI) error {
	return runGatewayOp(g, root, gateway.OpStart)
}

type GatewayStopCmd struct{}

func (c *GatewayStopCmd) Run(g *Global, root *CLI) error {
	return runGatewayOp(g, root, gateway.OpStop)
}

func runGatewayOp(g *Global, root *CLI, op gateway.Op) error {
	ex, err := newExecutor(g, root)
	if err != nil {
		return err
	}
	defer func() { _ = ex.Close() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var res gateway.Result
	if op == gateway.OpStart {
		res, err = ex.ExecuteGatewayStart(ctx)
	} else {
		res, err = ex.ExecuteGatewayStop(ctx)
	}
	if res.Message != "" {
		fmt.Fprintln(g.out(), res.Message)
	}
	return err
}

type GatewayStatusCmd struct{}

func (c *GatewayStatusCmd) Run(g *Global, root *CLI) error {
	ex, err := newExecutor(g, root)
	if err != nil {
		return err
	}
	defer func() { _ = ex.Close() }()

	resp, err := ex.ExecuteGatewayStatus(context.Background())
	if err != nil {
		return err
	}
	out := g.out()
	if !resp.Status.Running {
		fmt.Fprintln(out, "Gateway: stopped")
		return nil
	}
	fmt.Fprintf(out, "Gateway: running (pid %d, via %s)\n", resp.Status.PID, resp.Status.Source)
	fmt.Fprintf(out, "Uptime:  %s\n", resp.Uptime)
	return nil
}

type GatewayUptimeCmd struct{}

func (c *GatewayUptimeCmd) Run(g *Global, root *CLI) error {
	ex, err := newExecutor(g, root)
	if err != nil {
		return err
	}
	defer func() { _ = ex.Close() }()

	fmt.Fprintln(g.out(), ex.Gateway().Uptime(context.Background()))
	return nil
}
