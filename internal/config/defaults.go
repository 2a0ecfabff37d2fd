package config

import (
	"fmt"
	"path/filepath"
	"time"
)

// Termux layout used when the runtime section leaves paths empty.
const (
	DefaultPrefix = "/data/data/com.termux/files/usr"
	DefaultHome   = "/data/data/com.termux/files/home"
)

const (
	DefaultCommandTimeout   = 60 * time.Second
	DefaultMaxLoggedLines   = 200
	DefaultInstallTimeout   = 5 * time.Minute
	DefaultInstallTailLines = 20
	DefaultStartTimeout     = 60 * time.Second
	DefaultStopTimeout      = 30 * time.Second
	DefaultStatusTimeout    = 5 * time.Second
	DefaultSettle           = 3 * time.Second
	DefaultGrace            = 1 * time.Second
	DefaultMonitorInterval  = 5 * time.Second
	DefaultMonitorDebounce  = 250 * time.Millisecond
	DefaultProcessPattern   = "openclaw.*gateway"
	DefaultCompanion        = "sshd"
	DefaultEventSubject     = "claw.events"
	DefaultMetricsAddr      = "127.0.0.1:9464"
	DefaultMetricsPath      = "/metrics"
)

// ConfigDefaultApplier fills zero values for one configuration domain.
type ConfigDefaultApplier interface {
	ApplyDefaults(cfg *Config) error
	Domain() string
}

// CompositeDefaultApplier applies defaults across all configuration domains
type CompositeDefaultApplier struct {
	appliers []ConfigDefaultApplier
}

// NewDefaultApplier creates a composite default applier with all domain appliers.
// Runtime runs first; later domains derive paths from it.
func NewDefaultApplier() *CompositeDefaultApplier {
	return &CompositeDefaultApplier{
		appliers: []ConfigDefaultApplier{
			&RuntimeDefaultApplier{},
			&CommandDefaultApplier{},
			&InstallDefaultApplier{},
			&GatewayDefaultApplier{},
			&MonitorDefaultApplier{},
			&EventsDefaultApplier{},
			&LoggingDefaultApplier{},
			&MetricsDefaultApplier{},
		},
	}
}

// ApplyDefaults applies defaults for all configuration domains
func (c *CompositeDefaultApplier) ApplyDefaults(cfg *Config) error {
	for _, applier := range c.appliers {
		if err := applier.ApplyDefaults(cfg); err != nil {
			return fmt.Errorf("applying defaults for %s: %w", applier.Domain(), err)
		}
	}
	return nil
}

// GetApplierByDomain returns a specific domain applier (useful for testing)
func (c *CompositeDefaultApplier) GetApplierByDomain(domain string) ConfigDefaultApplier {
	for _, applier := range c.appliers {
		if applier.Domain() == domain {
			return applier
		}
	}
	return nil
}

func setDuration(d *Duration, def time.Duration) {
	if *d <= 0 {
		*d = Duration(def)
	}
}

func setString(s *string, def string) {
	if *s == "" {
		*s = def
	}
}

// RuntimeDefaultApplier handles runtime path defaults.
type RuntimeDefaultApplier struct{}

func (a *RuntimeDefaultApplier) Domain() string { return "runtime" }

func (a *RuntimeDefaultApplier) ApplyDefaults(cfg *Config) error {
	r := &cfg.Runtime
	setString(&r.Prefix, DefaultPrefix)
	setString(&r.Home, DefaultHome)
	setString(&r.TmpDir, filepath.Join(r.Prefix, "tmp"))
	setString(&r.Interpreter, filepath.Join(r.Prefix, "bin", "bash"))
	return nil
}

// CommandDefaultApplier handles one-shot command defaults.
type CommandDefaultApplier struct{}

func (a *CommandDefaultApplier) Domain() string { return "command" }

func (a *CommandDefaultApplier) ApplyDefaults(cfg *Config) error {
	setDuration(&cfg.Command.Timeout, DefaultCommandTimeout)
	if cfg.Command.MaxLoggedLines == nil {
		n := DefaultMaxLoggedLines
		cfg.Command.MaxLoggedLines = &n
	}
	return nil
}

// InstallDefaultApplier handles installer defaults.
type InstallDefaultApplier struct{}

func (a *InstallDefaultApplier) Domain() string { return "install" }

func (a *InstallDefaultApplier) ApplyDefaults(cfg *Config) error {
	in := &cfg.Install
	setString(&in.ScriptPath, filepath.Join(cfg.Runtime.Prefix, "share", "kimiclaw", "install.sh"))
	setDuration(&in.Timeout, DefaultInstallTimeout)
	if in.TailLines <= 0 {
		in.TailLines = DefaultInstallTailLines
	}
	return nil
}

// GatewayDefaultApplier handles daemon supervisor defaults.
type GatewayDefaultApplier struct{}

func (a *GatewayDefaultApplier) Domain() string { return "gateway" }

func (a *GatewayDefaultApplier) ApplyDefaults(cfg *Config) error {
	g := &cfg.Gateway
	stateDir := filepath.Join(cfg.Runtime.Home, ".openclaw")
	setString(&g.PIDFile, filepath.Join(stateDir, "gateway.pid"))
	setString(&g.LogFile, filepath.Join(stateDir, "gateway.log"))
	setString(&g.DebugLogFile, filepath.Join(stateDir, "gateway-debug.log"))
	setString(&g.ProcessPattern, DefaultProcessPattern)
	if g.KillPatterns == nil {
		g.KillPatterns = []string{"gateway.js"}
	}
	setString(&g.Binary, filepath.Join(cfg.Runtime.BinDir(), "openclaw"))
	if g.Args == nil {
		g.Args = []string{"gateway", "run", "--force"}
	}
	setString(&g.WorkDir, stateDir)
	setString(&g.Companion, DefaultCompanion)
	setDuration(&g.StartTimeout, DefaultStartTimeout)
	setDuration(&g.StopTimeout, DefaultStopTimeout)
	setDuration(&g.StatusTimeout, DefaultStatusTimeout)
	setDuration(&g.Settle, DefaultSettle)
	setDuration(&g.Grace, DefaultGrace)

	res := &g.Resolve
	if res.Backoff == "" {
		res.Backoff = RetryBackoffLinear
	}
	setDuration(&res.Initial, 500*time.Millisecond)
	setDuration(&res.Max, 2*time.Second)
	if res.MaxRetries <= 0 {
		res.MaxRetries = 5
	}
	return nil
}

// MonitorDefaultApplier handles status poller defaults.
type MonitorDefaultApplier struct{}

func (a *MonitorDefaultApplier) Domain() string { return "monitor" }

func (a *MonitorDefaultApplier) ApplyDefaults(cfg *Config) error {
	setDuration(&cfg.Monitor.Interval, DefaultMonitorInterval)
	setDuration(&cfg.Monitor.Debounce, DefaultMonitorDebounce)
	return nil
}

// EventsDefaultApplier handles event publisher defaults.
type EventsDefaultApplier struct{}

func (a *EventsDefaultApplier) Domain() string { return "events" }

func (a *EventsDefaultApplier) ApplyDefaults(cfg *Config) error {
	if cfg.Events.NATSURL != "" {
		setString(&cfg.Events.Subject, DefaultEventSubject)
	}
	return nil
}

// LoggingDefaultApplier handles logging defaults.
type LoggingDefaultApplier struct{}

func (a *LoggingDefaultApplier) Domain() string { return "logging" }

func (a *LoggingDefaultApplier) ApplyDefaults(cfg *Config) error {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = LogLevelInfo
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = LogFormatText
	}
	return nil
}

// MetricsDefaultApplier handles metrics endpoint defaults.
type MetricsDefaultApplier struct{}

func (a *MetricsDefaultApplier) Domain() string { return "metrics" }

func (a *MetricsDefaultApplier) ApplyDefaults(cfg *Config) error {
	setString(&cfg.Metrics.Addr, DefaultMetricsAddr)
	setString(&cfg.Metrics.Path, DefaultMetricsPath)
	return nil
}
