// Package cli wires configuration into the runner, installer, gateway
// supervisor and monitor, and executes one CLI command against them.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/luxiaoyu/claw-app/internal/config"
	clawerrors "github.com/luxiaoyu/claw-app/internal/errors"
	"github.com/luxiaoyu/claw-app/internal/events"
	"github.com/luxiaoyu/claw-app/internal/gateway"
	"github.com/luxiaoyu/claw-app/internal/install"
	"github.com/luxiaoyu/claw-app/internal/logfields"
	"github.com/luxiaoyu/claw-app/internal/metrics"
	"github.com/luxiaoyu/claw-app/internal/monitor"
	"github.com/luxiaoyu/claw-app/internal/runner"
	"github.com/luxiaoyu/claw-app/internal/shellenv"
)

// Request/Response types for each command

type ExecRequest struct {
	Command string
	// Timeout overrides command.timeout when positive.
	Timeout time.Duration
}

type InstallRequest struct {
	// OnLog receives every installer output line in order.
	OnLog func(line string)
}

type InstallResponse struct {
	Event     install.Event
	Installed bool
}

type StatusResponse struct {
	Status gateway.Status
	Uptime string
	State  gateway.State
}

type WatchRequest struct {
	// OnChange receives the first snapshot and every change after it.
	OnChange func(monitor.Snapshot)
}

// CommandExecutor owns the components one CLI invocation needs.
type CommandExecutor struct {
	cfg       *config.Config
	logger    *slog.Logger
	registry  *prom.Registry
	recorder  metrics.Recorder
	publisher events.Publisher
	runner    *runner.Runner
	env       shellenv.Config
	gateway   *gateway.Supervisor
}

// ExecutorOption configures a CommandExecutor.
type ExecutorOption func(*CommandExecutor)

func WithLogger(l *slog.Logger) ExecutorOption {
	return func(e *CommandExecutor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithPublisher replaces the publisher built from the events section.
func WithPublisher(p events.Publisher) ExecutorOption {
	return func(e *CommandExecutor) { e.publisher = events.OrNoop(p) }
}

// WithRunner replaces the runner built from the runtime section (for testing).
func WithRunner(r *runner.Runner) ExecutorOption {
	return func(e *CommandExecutor) { e.runner = r }
}

// NewCommandExecutor builds the component graph from cfg. A Prometheus
// registry always backs the recorder; it is only served by Watch when
// metrics are enabled.
func NewCommandExecutor(cfg *config.Config, opts ...ExecutorOption) (*CommandExecutor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	e := &CommandExecutor{
		cfg:      cfg,
		logger:   slog.Default(),
		registry: prom.NewRegistry(),
		env:      shellenv.FromRuntime(cfg.Runtime),
	}
	e.recorder = metrics.NewPrometheusRecorder(e.registry)
	for _, opt := range opts {
		opt(e)
	}

	if e.publisher == nil {
		e.publisher = events.NoopPublisher{}
		if cfg.Events.NATSURL != "" {
			p, err := events.NewNATSPublisher(cfg.Events.NATSURL, cfg.Events.Subject, cfg.Events.JetStream, e.logger)
			if err != nil {
				// Events are best-effort; the gateway is managed either way.
				e.logger.Warn("Event publishing disabled", logfields.Error(err))
			} else {
				e.publisher = p
			}
		}
	}

	if e.runner == nil {
		e.runner = runner.New(cfg.Runtime.Interpreter,
			runner.WithLogger(e.logger),
			runner.WithRecorder(e.recorder))
	}

	e.gateway = gateway.New(e.runner, gateway.OptionsFromConfig(cfg),
		gateway.WithLogger(e.logger),
		gateway.WithRecorder(e.recorder),
		gateway.WithPublisher(e.publisher))
	return e, nil
}

// Registry exposes the metrics registry.
func (e *CommandExecutor) Registry() *prom.Registry { return e.registry }

// Gateway exposes the supervisor.
func (e *CommandExecutor) Gateway() *gateway.Supervisor { return e.gateway }

// Close stops the supervisor and flushes the publisher.
func (e *CommandExecutor) Close() error {
	err := e.gateway.Close()
	return errors.Join(err, e.publisher.Close())
}

// ExecuteExec runs one command to completion. A failed command is returned as
// a classified error next to its result.
func (e *CommandExecutor) ExecuteExec(ctx context.Context, req ExecRequest) (*runner.Result, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = e.cfg.Command.Timeout.Std()
	}
	res, err := e.runner.Run(ctx, runner.Request{
		Command:        req.Command,
		Env:            e.env,
		Timeout:        timeout,
		MaxLoggedLines: e.cfg.Command.LoggedLines(),
	})
	if err != nil {
		return nil, err
	}
	return res, res.Err("exec")
}

// ExecuteInstall runs one install attempt and maps an Error event to a
// classified error.
func (e *CommandExecutor) ExecuteInstall(ctx context.Context, req InstallRequest) (InstallResponse, error) {
	script, err := e.installScript()
	if err != nil {
		return InstallResponse{}, err
	}
	flow := install.New(install.Config{
		ScriptPath:  e.cfg.Install.ScriptPath,
		Script:      script,
		Interpreter: e.cfg.Runtime.Interpreter,
		Env:         e.env,
		Timeout:     e.cfg.Install.Timeout.Std(),
		TailLines:   e.cfg.Install.TailLines,
	}, install.WithLogger(e.logger), install.WithRecorder(e.recorder), install.WithPublisher(e.publisher))

	ev, err := flow.Run(ctx, req.OnLog)
	if err != nil {
		return InstallResponse{}, err
	}
	resp := InstallResponse{Event: ev, Installed: install.IsInstalled(e.env.BinDir())}
	if ev.Kind != install.KindError {
		return resp, nil
	}
	switch ev.Reason {
	case install.ReasonTimeout:
		return resp, clawerrors.TimedOut("install", e.cfg.Install.Timeout.Std())
	case install.ReasonSetup:
		return resp, clawerrors.SetupFailed("install", errors.New(ev.Message))
	default:
		return resp, clawerrors.ScriptFailed("install", runner.NoExitCode, ev.Message)
	}
}

// installScript returns the configured asset override or nil for the bundled script.
func (e *CommandExecutor) installScript() ([]byte, error) {
	if e.cfg.Install.Asset == "" {
		return nil, nil
	}
	data, err := os.ReadFile(e.cfg.Install.Asset)
	if err != nil {
		return nil, clawerrors.Wrap(err, clawerrors.CategoryFileSystem, clawerrors.SeverityError, "failed to read install asset").
			WithContext("path", e.cfg.Install.Asset)
	}
	return data, nil
}

// ExecuteGatewayStart starts the daemon and waits for the outcome.
func (e *CommandExecutor) ExecuteGatewayStart(ctx context.Context) (gateway.Result, error) {
	return e.runGatewayOp(ctx, e.gateway.Start)
}

// ExecuteGatewayStop stops the daemon and waits for the outcome.
func (e *CommandExecutor) ExecuteGatewayStop(ctx context.Context) (gateway.Result, error) {
	return e.runGatewayOp(ctx, e.gateway.Stop)
}

func (e *CommandExecutor) runGatewayOp(ctx context.Context, begin func() (*gateway.Task, error)) (gateway.Result, error) {
	task, err := begin()
	if err != nil {
		return gateway.Result{}, err
	}
	res, err := task.Wait(ctx)
	if err != nil {
		// The caller gave up: abandon the attempt so its script is killed.
		task.Cancel()
		<-task.Done()
		res, _ = task.Result()
		return res, err
	}
	return res, res.Err
}

// ExecuteGatewayStatus reports liveness, uptime and the displayed state.
func (e *CommandExecutor) ExecuteGatewayStatus(ctx context.Context) (StatusResponse, error) {
	st, err := e.gateway.Refresh(ctx)
	if err != nil {
		return StatusResponse{Status: st, Uptime: gateway.UnknownUptime, State: e.gateway.State()}, err
	}
	uptime := gateway.UnknownUptime
	if st.Running {
		uptime = e.gateway.Uptime(ctx)
	}
	return StatusResponse{Status: st, Uptime: uptime, State: e.gateway.State()}, nil
}

// ExecuteWatch polls the gateway until ctx ends, serving metrics when enabled.
func (e *CommandExecutor) ExecuteWatch(ctx context.Context, req WatchRequest) error {
	mcfg := e.cfg.Monitor
	pidFile := ""
	if mcfg.WatchEnabled() {
		pidFile = e.cfg.Gateway.PIDFile
	}
	mon, err := monitor.New(e.gateway, monitor.Config{
		Interval: mcfg.Interval.Std(),
		PIDFile:  pidFile,
		Debounce: mcfg.Debounce.Std(),
	}, monitor.WithLogger(e.logger))
	if err != nil {
		return err
	}
	if req.OnChange != nil {
		defer mon.Subscribe(req.OnChange)()
	}

	// The monitor starts first so a failure leaves nothing else running.
	if err := mon.Start(ctx); err != nil {
		return errors.Join(err, mon.Stop())
	}

	var srv *http.Server
	errCh := make(chan error, 1)
	if e.cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(e.cfg.Metrics.Path, metrics.HTTPHandler(e.registry))
		srv = &http.Server{Addr: e.cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			e.logger.Info("Serving metrics", slog.String("addr", srv.Addr), logfields.Path(e.cfg.Metrics.Path))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		e.logger.Info("Shutdown signal received, stopping monitor...")
	case err = <-errCh:
	}

	stopErr := mon.Stop()
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		stopErr = errors.Join(stopErr, srv.Shutdown(shutdownCtx))
	}
	return errors.Join(err, stopErr)
}
