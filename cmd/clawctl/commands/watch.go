package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/luxiaoyu/claw-app/internal/cli"
	"github.com/luxiaoyu/claw-app/internal/monitor"
)

// WatchCmd implements the 'watch' command.
type WatchCmd struct{}

func (w *WatchCmd) Run(g *Global, root *CLI) error {
	ex, err := newExecutor(g, root)
	if err != nil {
		return err
	}
	defer func() { _ = ex.Close() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	out := g.out()
	slog.Info("Watching gateway, waiting for shutdown signal...")
	return ex.ExecuteWatch(ctx, cli.WatchRequest{OnChange: func(s monitor.Snapshot) {
		fmt.Fprintln(out, formatSnapshot(s))
	}})
}

func formatSnapshot(s monitor.Snapshot) string {
	ts := s.CheckedAt.Format("15:04:05")
	if s.Err != nil {
		return fmt.Sprintf("%s status check failed: %v", ts, s.Err)
	}
	if !s.Running {
		return fmt.Sprintf("%s %s", ts, s.State)
	}
	return fmt.Sprintf("%s %s pid=%d uptime=%s", ts, s.State, s.PID, s.Uptime)
}
