package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/luxiaoyu/claw-app/internal/errors"
)

// CurrentVersion is the only configuration version Load accepts.
const CurrentVersion = "1.0"

// Config is the clawctl configuration file.
type Config struct {
	Version string        `yaml:"version"`
	Runtime RuntimeConfig `yaml:"runtime"`
	Command CommandConfig `yaml:"command"`
	Install InstallConfig `yaml:"install"`
	Gateway GatewayConfig `yaml:"gateway"`
	Monitor MonitorConfig `yaml:"monitor"`
	Events  EventsConfig  `yaml:"events,omitempty"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// RuntimeConfig describes the managed runtime every child process runs inside.
type RuntimeConfig struct {
	Prefix      string            `yaml:"prefix"`      // Install prefix (bin/, lib/, etc/ live here)
	Home        string            `yaml:"home"`        // HOME for children
	TmpDir      string            `yaml:"tmp_dir"`     // TMPDIR for children; temp scripts are written here
	Interpreter string            `yaml:"interpreter"` // Shell used for temp scripts and the installer
	ExtraPaths  []string          `yaml:"extra_paths"` // Inserted after prefix/bin, before the inherited PATH
	ExtraEnv    map[string]string `yaml:"extra_env"`   // Applied last, overrides everything
	RemoveEnv   []string          `yaml:"remove_env"`  // Removed before extra_env is applied
}

// BinDir returns the runtime's executable directory.
func (r RuntimeConfig) BinDir() string {
	return filepath.Join(r.Prefix, "bin")
}

// CommandConfig holds defaults for one-shot commands.
type CommandConfig struct {
	Timeout Duration `yaml:"timeout"`
	// MaxLoggedLines caps output lines surfaced to the logger. Unset means the
	// default, a negative value means unlimited and zero disables output logging.
	MaxLoggedLines *int `yaml:"max_logged_lines,omitempty"`
}

// LoggedLines converts MaxLoggedLines to the runner convention where nil is unlimited.
func (c CommandConfig) LoggedLines() *int {
	if c.MaxLoggedLines == nil || *c.MaxLoggedLines < 0 {
		return nil
	}
	n := *c.MaxLoggedLines
	return &n
}

// InstallConfig configures the installer flow.
type InstallConfig struct {
	ScriptPath string   `yaml:"script_path"`     // On-disk location the script is copied to before each run
	Asset      string   `yaml:"asset,omitempty"` // Optional source file replacing the bundled install.sh
	Timeout    Duration `yaml:"timeout"`
	TailLines  int      `yaml:"tail_lines"` // Lines kept for failure reports
}

// GatewayConfig configures the supervised daemon.
type GatewayConfig struct {
	PIDFile        string   `yaml:"pid_file"`
	LogFile        string   `yaml:"log_file"`
	DebugLogFile   string   `yaml:"debug_log_file"`
	ProcessPattern string   `yaml:"process_pattern"` // pgrep -f pattern identifying the daemon
	KillPatterns   []string `yaml:"kill_patterns"`   // Extra patterns terminated before a start
	Binary         string   `yaml:"binary"`
	Args           []string `yaml:"args"`
	WorkDir        string   `yaml:"work_dir"`
	// Companion is a daemon started alongside the gateway when absent ("none" disables).
	Companion     string        `yaml:"companion"`
	StartTimeout  Duration      `yaml:"start_timeout"`
	StopTimeout   Duration      `yaml:"stop_timeout"`
	StatusTimeout Duration      `yaml:"status_timeout"`
	Settle        Duration      `yaml:"settle"` // Wait before confirming liveness after spawn
	Grace         Duration      `yaml:"grace"`  // Delay between TERM and KILL on stop
	Resolve       ResolveConfig `yaml:"resolve"`
}

// CompanionEnabled reports whether a companion daemon should be ensured.
func (g GatewayConfig) CompanionEnabled() bool {
	return g.Companion != "" && g.Companion != CompanionNone
}

// CompanionNone disables the companion daemon check.
const CompanionNone = "none"

// ResolveConfig bounds the retry loop that resolves the daemon's real PID after spawn.
type ResolveConfig struct {
	Backoff    RetryBackoffMode `yaml:"backoff"`
	Initial    Duration         `yaml:"initial"`
	Max        Duration         `yaml:"max"`
	MaxRetries int              `yaml:"max_retries"`
}

// MonitorConfig configures the periodic status poller.
type MonitorConfig struct {
	Interval     Duration `yaml:"interval"`
	WatchPIDFile *bool    `yaml:"watch_pid_file,omitempty"`
	Debounce     Duration `yaml:"debounce"`
}

// WatchEnabled reports whether PID file changes trigger an immediate refresh.
func (m MonitorConfig) WatchEnabled() bool {
	return m.WatchPIDFile == nil || *m.WatchPIDFile
}

// EventsConfig configures lifecycle event publishing. Empty NATSURL disables it.
type EventsConfig struct {
	NATSURL   string `yaml:"nats_url,omitempty"`
	Subject   string `yaml:"subject,omitempty"`
	JetStream bool   `yaml:"jetstream,omitempty"` // Publish through a JetStream stream bound to subject.>
}

// LoggingConfig selects slog level and handler.
type LoggingConfig struct {
	Level  LogLevel  `yaml:"level"`
	Format LogFormat `yaml:"format"`
}

// MetricsConfig configures the Prometheus endpoint served by `clawctl watch`.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Path    string `yaml:"path"`
}

// Load reads, expands, defaults and validates a configuration file.
func Load(configPath string) (*Config, error) {
	if err := loadEnvFile(); err != nil {
		// Don't fail if .env doesn't exist
		fmt.Fprintf(os.Stderr, "Note: .env file not loaded: %v\n", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, errors.ConfigNotFound(configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Version != CurrentVersion {
		return nil, fmt.Errorf("unsupported configuration version: %q (expected %s)", cfg.Version, CurrentVersion)
	}

	normalize(&cfg)

	if err := applyDefaults(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}

	if err := ValidateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// Default returns a fully defaulted configuration without reading a file.
func Default() *Config {
	cfg := &Config{Version: CurrentVersion}
	// Default appliers never fail on an empty config.
	_ = applyDefaults(cfg)
	return cfg
}

// normalize case-folds enumerations before defaults run.
func normalize(cfg *Config) {
	cfg.Logging.Level = NormalizeLogLevel(string(cfg.Logging.Level))
	cfg.Logging.Format = NormalizeLogFormat(string(cfg.Logging.Format))
	if cfg.Gateway.Resolve.Backoff != "" {
		if mode := NormalizeRetryBackoff(string(cfg.Gateway.Resolve.Backoff)); mode != "" {
			cfg.Gateway.Resolve.Backoff = mode
		}
	}
}

func applyDefaults(cfg *Config) error {
	return NewDefaultApplier().ApplyDefaults(cfg)
}

// Init writes an example configuration file.
func Init(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", configPath)
	}

	example := Default()
	example.Events = EventsConfig{NATSURL: "", Subject: DefaultEventSubject}

	data, err := yaml.Marshal(example)
	if err != nil {
		return fmt.Errorf("failed to marshal example config: %w", err)
	}

	if dir := filepath.Dir(configPath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	// #nosec G306 -- config contains no secrets
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Printf("Configuration file created at %s\n", configPath)
	return nil
}
