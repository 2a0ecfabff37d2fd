package commands

import (
	"io"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"github.com/luxiaoyu/claw-app/internal/cli"
	"github.com/luxiaoyu/claw-app/internal/config"
)

// DefaultConfigPath is where init writes the configuration when --config is not given.
const DefaultConfigPath = "clawctl.yaml"

// Global context passed to subcommands.
type Global struct {
	Logger *slog.Logger
	// Out receives user-facing output; nil means stdout.
	Out io.Writer
}

func (g *Global) out() io.Writer {
	if g == nil || g.Out == nil {
		return os.Stdout
	}
	return g.Out
}

func (g *Global) logger() *slog.Logger {
	if g == nil || g.Logger == nil {
		return slog.Default()
	}
	return g.Logger
}

// CLI definition & global flags.
type CLI struct {
	Config  string           `short:"c" help:"Configuration file path (built-in defaults when empty)" env:"CLAWCTL_CONFIG"`
	Verbose bool             `short:"v" help:"Enable verbose logging"`
	Version kong.VersionFlag `name:"version" help:"Show version and exit"`

	Init    InitCmd    `cmd:"" help:"Initialize a new configuration file"`
	Exec    ExecCmd    `cmd:"" help:"Run a shell command inside the managed runtime"`
	Install InstallCmd `cmd:"" help:"Run the runtime installer and stream its output"`
	Gateway GatewayCmd `cmd:"" help:"Start, stop and inspect the gateway daemon"`
	Watch   WatchCmd   `cmd:"" help:"Poll gateway status until interrupted, serving metrics when enabled"`
	SSHInfo SSHInfoCmd `cmd:"" name:"ssh-info" help:"Show how to reach the companion sshd from another machine"`
}

// AfterApply runs after flag parsing; setup logging once. The configured
// level and format are applied later by loadConfig.
// nolint:unparam // AfterApply currently never returns an error.
func (c *CLI) AfterApply() error {
	level := slog.LevelInfo
	if c.Verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	return nil
}

// newLogger builds the stderr logger for the logging section. --verbose
// always wins over the configured level.
func newLogger(lc config.LoggingConfig, verbose bool, w io.Writer) *slog.Logger {
	level := lc.Level.SlogLevel()
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if lc.Format == config.LogFormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// loadConfig loads --config, or the defaults when it is empty, and installs
// the configured logger as the default.
func loadConfig(g *Global, root *CLI) (*config.Config, error) {
	cfg := config.Default()
	if root.Config != "" {
		loaded, err := config.Load(root.Config)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	logger := newLogger(cfg.Logging, root.Verbose, os.Stderr)
	slog.SetDefault(logger)
	if g != nil {
		g.Logger = logger
	}
	return cfg, nil
}

// newExecutor loads configuration and builds the command executor.
func newExecutor(g *Global, root *CLI) (*cli.CommandExecutor, error) {
	cfg, err := loadConfig(g, root)
	if err != nil {
		return nil, err
	}
	return cli.NewCommandExecutor(cfg, cli.WithLogger(g.logger()))
}
