package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/luxiaoyu/claw-app/internal/config"
	clawerrors "github.com/luxiaoyu/claw-app/internal/errors"
	"github.com/luxiaoyu/claw-app/internal/events"
	"github.com/luxiaoyu/claw-app/internal/logfields"
	"github.com/luxiaoyu/claw-app/internal/metrics"
	"github.com/luxiaoyu/claw-app/internal/retry"
	"github.com/luxiaoyu/claw-app/internal/runner"
	"github.com/luxiaoyu/claw-app/internal/shellenv"
)

// Executor runs a generated script. *runner.Runner implements it.
type Executor interface {
	Run(ctx context.Context, req runner.Request) (*runner.Result, error)
}

// Options describe the daemon and how scripts acting on it run.
type Options struct {
	Handle       Handle
	DebugLogFile string
	KillPatterns []string
	Binary       string
	Args         []string
	WorkDir      string
	// Companion is a daemon started alongside the gateway when absent; empty disables.
	Companion string
	Env       shellenv.Config

	StartTimeout  time.Duration
	StopTimeout   time.Duration
	StatusTimeout time.Duration
	Settle        time.Duration
	Grace         time.Duration
	Resolve       retry.Policy

	// MaxLoggedLines caps script output sent to the logger; nil is unlimited.
	MaxLoggedLines *int
}

// OptionsFromConfig maps the configuration file onto supervisor options.
func OptionsFromConfig(cfg *config.Config) Options {
	g := cfg.Gateway
	companion := g.Companion
	if !g.CompanionEnabled() {
		companion = ""
	}
	return Options{
		Handle: Handle{
			PIDFile: g.PIDFile,
			LogFile: g.LogFile,
			Pattern: g.ProcessPattern,
		},
		DebugLogFile:   g.DebugLogFile,
		KillPatterns:   g.KillPatterns,
		Binary:         g.Binary,
		Args:           g.Args,
		WorkDir:        g.WorkDir,
		Companion:      companion,
		Env:            shellenv.FromRuntime(cfg.Runtime),
		StartTimeout:   g.StartTimeout.Std(),
		StopTimeout:    g.StopTimeout.Std(),
		StatusTimeout:  g.StatusTimeout.Std(),
		Settle:         g.Settle.Std(),
		Grace:          g.Grace.Std(),
		Resolve:        retry.FromConfig(g.Resolve),
		MaxLoggedLines: cfg.Command.LoggedLines(),
	}
}

func (o *Options) applyDefaults() {
	if o.StartTimeout <= 0 {
		o.StartTimeout = config.DefaultStartTimeout
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = config.DefaultStopTimeout
	}
	if o.StatusTimeout <= 0 {
		o.StatusTimeout = config.DefaultStatusTimeout
	}
	if o.Resolve.Validate() != nil {
		o.Resolve = retry.DefaultPolicy()
	}
}

// Supervisor owns the start/stop/status state machine. At most one start or
// stop is in flight; further requests are rejected, not queued.
type Supervisor struct {
	opts      Options
	logger    *slog.Logger
	recorder  metrics.Recorder
	publisher events.Publisher
	onResult  func(Result)

	// ctx is the supervisor's lifetime; every task context derives from it.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	exec     Executor
	inflight *Task
	state    State
	last     *Result
	closed   bool
}

// Option configures a Supervisor.
type Option func(*Supervisor)

func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithRecorder(r metrics.Recorder) Option {
	return func(s *Supervisor) { s.recorder = metrics.OrNoop(r) }
}

func WithPublisher(p events.Publisher) Option {
	return func(s *Supervisor) { s.publisher = events.OrNoop(p) }
}

// WithOnResult registers a callback invoked with every start/stop result,
// after the in-flight slot has been released.
func WithOnResult(fn func(Result)) Option {
	return func(s *Supervisor) { s.onResult = fn }
}

// New creates a supervisor. exec may be nil; the supervisor is then unbound
// until Bind is called.
func New(exec Executor, opts Options, o ...Option) *Supervisor {
	opts.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Supervisor{
		opts:      opts,
		logger:    slog.Default(),
		recorder:  metrics.NoopRecorder{},
		publisher: events.NoopPublisher{},
		ctx:       ctx,
		cancel:    cancel,
		exec:      exec,
		state:     StateStopped,
	}
	for _, fn := range o {
		fn(s)
	}
	s.logger = s.logger.With(logfields.Path(opts.Handle.PIDFile))
	return s
}

// Bind attaches the execution backend.
func (s *Supervisor) Bind(exec Executor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exec = exec
}

// Unbind detaches the backend. An in-flight task keeps the backend it started with.
func (s *Supervisor) Unbind() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exec = nil
}

// State returns the displayed state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastResult returns the most recent start/stop result, if any.
func (s *Supervisor) LastResult() (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Result{}, false
	}
	return *s.last, true
}

// InFlight returns the running task, or nil.
func (s *Supervisor) InFlight() *Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight
}

// Start spawns (or respawns) the daemon. It returns immediately; the outcome
// arrives on the task. ErrBusy and ErrUnavailable are returned synchronously.
func (s *Supervisor) Start() (*Task, error) {
	return s.begin(OpStart)
}

// Stop terminates the daemon. Same single-flight rules as Start.
func (s *Supervisor) Stop() (*Task, error) {
	return s.begin(OpStop)
}

func (s *Supervisor) begin(op Op) (*Task, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if s.exec == nil {
		s.mu.Unlock()
		s.recorder.IncGatewayRejected(string(op))
		s.logger.Warn("Gateway request rejected, backend unavailable", logfields.Op(string(op)))
		return nil, ErrUnavailable
	}
	if s.inflight != nil {
		running := s.inflight.op
		s.mu.Unlock()
		s.recorder.IncGatewayRejected(string(op))
		s.logger.Info("Gateway request rejected, operation in progress",
			logfields.Op(string(op)), slog.String("in_flight", string(running)))
		return nil, ErrBusy
	}

	ctx, cancel := context.WithCancel(s.ctx)
	t := newTask(op, cancel)
	s.inflight = t
	if op == OpStart {
		s.state = StateStarting
	} else {
		s.state = StateStopping
	}
	exec := s.exec
	s.wg.Add(1)
	s.mu.Unlock()

	s.logger.Info("Gateway operation started", logfields.Op(string(op)), slog.String("task_id", t.id))
	go s.run(ctx, exec, t)
	return t, nil
}

func (s *Supervisor) run(ctx context.Context, exec Executor, t *Task) {
	defer s.wg.Done()
	start := time.Now()

	var res Result
	if t.op == OpStart {
		res = s.doStart(ctx, exec)
	} else {
		res = s.doStop(ctx, exec)
	}

	// The reported result always carries a status taken after the script
	// finished, unless the supervisor itself is shutting down.
	if s.ctx.Err() == nil {
		checkCtx, cancel := context.WithTimeout(s.ctx, s.opts.StatusTimeout)
		st, err := s.queryStatus(checkCtx, exec)
		cancel()
		if err != nil {
			s.logger.Warn("Post-operation status check failed", logfields.Op(string(t.op)), logfields.Error(err))
		}
		res.Status = st
	}
	res.Duration = time.Since(start)
	res.TaskID = t.id
	res.Op = t.op

	s.mu.Lock()
	s.inflight = nil
	s.state = settledState(res)
	s.last = &res
	state := s.state
	s.mu.Unlock()

	s.observe(t.op, res, state)
	if s.onResult != nil {
		s.onResult(res)
	}
	t.complete(res)
}

func settledState(res Result) State {
	switch {
	case res.Status.Running:
		return StateRunning
	case !res.Success && !res.Canceled:
		return StateError
	default:
		return StateStopped
	}
}

func (s *Supervisor) doStart(ctx context.Context, exec Executor) Result {
	cmd, err := exec.Run(ctx, runner.Request{
		Command:        startScript(s.opts),
		Env:            s.opts.Env,
		Timeout:        s.opts.StartTimeout,
		MaxLoggedLines: s.opts.MaxLoggedLines,
	})
	if err != nil {
		return canceledResult(OpStart, err)
	}
	if pid, ok := markerPID(cmd.Stdout, markerStarted); cmd.Success && ok {
		return Result{
			Success: true,
			PID:     pid,
			Message: fmt.Sprintf("Gateway started (pid %d)", pid),
			Command: cmd,
		}
	}
	return Result{
		Message: failureMessage("start", cmd),
		Err:     commandErr("gateway.start", cmd),
		Command: cmd,
	}
}

func (s *Supervisor) doStop(ctx context.Context, exec Executor) Result {
	cmd, err := exec.Run(ctx, runner.Request{
		Command:        stopScript(s.opts),
		Env:            s.opts.Env,
		Timeout:        s.opts.StopTimeout,
		MaxLoggedLines: s.opts.MaxLoggedLines,
	})
	if err != nil {
		return canceledResult(OpStop, err)
	}
	if cmd.Success && hasLine(cmd.Stdout, markerStopped) {
		return Result{Success: true, Message: "Gateway stopped", Command: cmd}
	}
	return Result{
		Message: failureMessage("stop", cmd),
		Err:     commandErr("gateway.stop", cmd),
		Command: cmd,
	}
}

func canceledResult(op Op, err error) Result {
	return Result{
		Canceled: true,
		Message:  fmt.Sprintf("Gateway %s canceled", op),
		Err:      clawerrors.Wrap(err, clawerrors.CategoryCanceled, clawerrors.SeverityInfo, "gateway operation canceled").WithContext("operation", string(op)),
	}
}

func failureMessage(verb string, cmd *runner.Result) string {
	switch {
	case !cmd.Started:
		return fmt.Sprintf("Gateway %s could not run: %s", verb, cmd.Stderr)
	case cmd.TimedOut:
		return fmt.Sprintf("Gateway %s timed out after %s", verb, cmd.Timeout)
	}
	msg := fmt.Sprintf("Gateway %s failed (exit code %d)", verb, cmd.ExitCode)
	if tail := runner.Tail(cmd.Stdout, diagTail); tail != "" {
		msg += "\n\n" + tail
	}
	if cmd.Stderr != "" {
		msg += "\n" + cmd.Stderr
	}
	return msg
}

// commandErr classifies a failed script run. A script that exited 0 without
// its success marker is still a script failure.
func commandErr(op string, cmd *runner.Result) error {
	if err := cmd.Err(op); err != nil {
		return err
	}
	return clawerrors.ScriptFailed(op, cmd.ExitCode, runner.Tail(cmd.Stdout, diagTail))
}

// Status reports whether the daemon runs: the PID file when it names a live
// process, otherwise a process table match. It never writes the PID file.
// An unbound supervisor reports stopped without running anything.
func (s *Supervisor) Status(ctx context.Context) (Status, error) {
	s.mu.Lock()
	exec := s.exec
	s.mu.Unlock()
	if exec == nil {
		return Status{}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.StatusTimeout)
	defer cancel()
	return s.queryStatus(ctx, exec)
}

func (s *Supervisor) queryStatus(ctx context.Context, exec Executor) (Status, error) {
	cmd, err := exec.Run(ctx, runner.Request{
		Command:        statusScript(s.opts.Handle),
		Env:            s.opts.Env,
		Timeout:        s.opts.StatusTimeout,
		MaxLoggedLines: runner.Lines(0),
	})
	if err != nil {
		return Status{}, err
	}
	st := parseStatus(cmd.Stdout)
	if !cmd.Success {
		return st, commandErr("gateway.status", cmd)
	}
	return st, nil
}

// Uptime returns the OS-reported elapsed time of the live daemon PID, or
// UnknownUptime.
func (s *Supervisor) Uptime(ctx context.Context) string {
	s.mu.Lock()
	exec := s.exec
	s.mu.Unlock()
	if exec == nil {
		return UnknownUptime
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.StatusTimeout)
	defer cancel()
	cmd, err := exec.Run(ctx, runner.Request{
		Command:        uptimeScript(s.opts.Handle),
		Env:            s.opts.Env,
		Timeout:        s.opts.StatusTimeout,
		MaxLoggedLines: runner.Lines(0),
	})
	if err != nil || !cmd.Success {
		return UnknownUptime
	}
	if up := strings.TrimSpace(cmd.Stdout); up != "" {
		return up
	}
	return UnknownUptime
}

// Refresh queries status and updates the displayed state. While a start or
// stop is in flight the displayed state is left to that operation.
func (s *Supervisor) Refresh(ctx context.Context) (Status, error) {
	st, err := s.Status(ctx)
	if err != nil {
		return st, err
	}
	s.mu.Lock()
	prev := s.state
	if s.inflight == nil {
		if st.Running {
			s.state = StateRunning
		} else if s.state != StateError {
			s.state = StateStopped
		}
	}
	state := s.state
	s.mu.Unlock()

	s.recorder.SetGatewayRunning(st.Running)
	if state != prev {
		s.logger.Info("Gateway state changed", slog.String("from", string(prev)), logfields.State(string(state)))
		s.publish(events.New(events.TypeGatewayState, string(state), "").With("pid", st.PID))
	}
	return st, nil
}

// Cancel abandons the in-flight start or stop, if any.
func (s *Supervisor) Cancel() {
	s.mu.Lock()
	t := s.inflight
	s.mu.Unlock()
	if t != nil {
		s.logger.Info("Canceling gateway operation", logfields.Op(string(t.op)))
		t.Cancel()
	}
}

// Close cancels any in-flight operation and waits for it to finish. Further
// Start and Stop calls return ErrClosed.
func (s *Supervisor) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
	return nil
}

func (s *Supervisor) observe(op Op, res Result, state State) {
	label := metrics.ResultSuccess
	outcome := "success"
	switch {
	case res.Canceled:
		label, outcome = metrics.ResultCanceled, "canceled"
	case res.Command != nil && res.Command.TimedOut:
		label, outcome = metrics.ResultTimeout, "timeout"
	case res.Command != nil && !res.Command.Started:
		label, outcome = metrics.ResultSetup, "setup_failed"
	case !res.Success:
		label, outcome = metrics.ResultFailed, "failed"
	}
	s.recorder.ObserveGatewayOp(string(op), label, res.Duration)
	s.recorder.SetGatewayRunning(res.Status.Running)

	attrs := []any{logfields.Op(string(op)), logfields.State(string(state)), logfields.DurationMS(float64(res.Duration.Milliseconds()))}
	if res.Success {
		s.logger.Info(res.Message, attrs...)
	} else {
		s.logger.Warn("Gateway operation failed", append(attrs, logfields.Error(res.Err))...)
	}

	typ := events.TypeGatewayStart
	if op == OpStop {
		typ = events.TypeGatewayStop
	}
	ev := events.New(typ, outcome, res.Message).
		With("task_id", res.TaskID).
		With("running", res.Status.Running)
	if res.PID > 0 {
		ev = ev.With("pid", res.PID)
	}
	s.publish(ev)
}

func (s *Supervisor) publish(ev events.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.publisher.Publish(ctx, ev); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("Failed to publish gateway event", logfields.Error(err))
	}
}
