package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/luxiaoyu/claw-app/internal/errors"
)

// ValidateConfig validates a defaulted configuration.
func ValidateConfig(cfg *Config) error {
	validator := newConfigurationValidator(cfg)
	return validator.validate()
}

// configurationValidator coordinates validation across all configuration domains.
type configurationValidator struct {
	config *Config
}

func newConfigurationValidator(config *Config) *configurationValidator {
	return &configurationValidator{config: config}
}

func (cv *configurationValidator) validate() error {
	if err := cv.validateRuntime(); err != nil {
		return err
	}
	if err := cv.validateCommand(); err != nil {
		return err
	}
	if err := cv.validateInstall(); err != nil {
		return err
	}
	if err := cv.validateGateway(); err != nil {
		return err
	}
	if err := cv.validateMonitor(); err != nil {
		return err
	}
	return cv.validateMetrics()
}

func (cv *configurationValidator) validateRuntime() error {
	r := cv.config.Runtime
	for field, path := range map[string]string{
		"runtime.prefix":      r.Prefix,
		"runtime.home":        r.Home,
		"runtime.tmp_dir":     r.TmpDir,
		"runtime.interpreter": r.Interpreter,
	} {
		if !filepath.IsAbs(path) {
			return errors.ValidationFailed(field, fmt.Sprintf("must be an absolute path, got %q", path))
		}
	}
	for key := range r.ExtraEnv {
		if key == "" || strings.ContainsAny(key, "=\x00") {
			return errors.ValidationFailed("runtime.extra_env", fmt.Sprintf("invalid variable name %q", key))
		}
	}
	return nil
}

func (cv *configurationValidator) validateCommand() error {
	if cv.config.Command.Timeout <= 0 {
		return errors.ValidationFailed("command.timeout", "must be positive")
	}
	return nil
}

func (cv *configurationValidator) validateInstall() error {
	in := cv.config.Install
	if in.ScriptPath == "" {
		return errors.ValidationFailed("install.script_path", "must not be empty")
	}
	if in.Timeout <= 0 {
		return errors.ValidationFailed("install.timeout", "must be positive")
	}
	if in.TailLines <= 0 {
		return errors.ValidationFailed("install.tail_lines", "must be positive")
	}
	return nil
}

func (cv *configurationValidator) validateGateway() error {
	g := cv.config.Gateway
	if g.PIDFile == "" {
		return errors.ValidationFailed("gateway.pid_file", "must not be empty")
	}
	if g.LogFile == "" {
		return errors.ValidationFailed("gateway.log_file", "must not be empty")
	}
	if strings.TrimSpace(g.ProcessPattern) == "" {
		return errors.ValidationFailed("gateway.process_pattern", "must not be empty")
	}
	if g.Binary == "" {
		return errors.ValidationFailed("gateway.binary", "must not be empty")
	}
	durations := []struct {
		field string
		value Duration
	}{
		{"gateway.start_timeout", g.StartTimeout},
		{"gateway.stop_timeout", g.StopTimeout},
		{"gateway.status_timeout", g.StatusTimeout},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return errors.ValidationFailed(d.field, "must be positive")
		}
	}
	if g.Settle < 0 || g.Grace < 0 {
		return errors.ValidationFailed("gateway.settle", "settle and grace must not be negative")
	}
	if g.Settle >= g.StartTimeout {
		return errors.ValidationFailed("gateway.settle", "must be shorter than start_timeout")
	}
	return cv.validateResolve(g.Resolve)
}

func (cv *configurationValidator) validateResolve(r ResolveConfig) error {
	if NormalizeRetryBackoff(string(r.Backoff)) == "" {
		return errors.ValidationFailed("gateway.resolve.backoff", fmt.Sprintf("unknown mode %q (fixed|linear|exponential)", r.Backoff))
	}
	if r.Initial > r.Max {
		return errors.ValidationFailed("gateway.resolve.initial", "must not exceed max")
	}
	if r.MaxRetries < 0 {
		return errors.ValidationFailed("gateway.resolve.max_retries", "must not be negative")
	}
	return nil
}

func (cv *configurationValidator) validateMonitor() error {
	if cv.config.Monitor.Interval <= 0 {
		return errors.ValidationFailed("monitor.interval", "must be positive")
	}
	return nil
}

func (cv *configurationValidator) validateMetrics() error {
	m := cv.config.Metrics
	if m.Enabled && !strings.HasPrefix(m.Path, "/") {
		return errors.ValidationFailed("metrics.path", "must start with /")
	}
	return nil
}
