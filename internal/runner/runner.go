// Package runner executes shell command text to completion inside the managed
// runtime. A command can never hang its caller: output is drained through one
// merged pipe and a single deadline bounds the whole run.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/luxiaoyu/claw-app/internal/logfields"
	"github.com/luxiaoyu/claw-app/internal/metrics"
	"github.com/luxiaoyu/claw-app/internal/proc"
	"github.com/luxiaoyu/claw-app/internal/shellenv"
)

const (
	DefaultTimeout        = 60 * time.Second
	DefaultMaxLoggedLines = 200
	DefaultInterpreter    = "/bin/sh"

	// NoExitCode is reported when the child never produced a real exit status.
	NoExitCode = -1

	defaultDrainGrace = 2 * time.Second
)

const (
	reasonNone int32 = iota
	reasonTimeout
	reasonCanceled
)

// Request describes one command run.
type Request struct {
	// Command is a POSIX shell script body.
	Command string
	Env     shellenv.Config
	// Timeout bounds the run from process start to exit. Zero means DefaultTimeout.
	Timeout time.Duration
	// MaxLoggedLines caps the output lines sent to the logger. Nil logs every
	// line and zero logs none. Stdout always holds the full output.
	MaxLoggedLines *int
}

// Lines is a convenience for Request.MaxLoggedLines.
func Lines(n int) *int { return &n }

// Result is the outcome of a run. Stdout carries the merged output streams;
// Stderr only carries descriptions of failures the runner itself observed.
type Result struct {
	CommandID string
	Success   bool
	Stdout    string
	Stderr    string
	ExitCode  int
	Started   bool
	TimedOut  bool
	Timeout   time.Duration
	Duration  time.Duration
}

// Runner runs commands through an interpreter against a temp script file.
type Runner struct {
	interpreter string
	inherited   map[string]string
	logger      *slog.Logger
	recorder    metrics.Recorder
	drainGrace  time.Duration
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger used for command and output logging.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(rec metrics.Recorder) Option {
	return func(r *Runner) { r.recorder = metrics.OrNoop(rec) }
}

// WithInheritedEnv replaces the process environment as the base for every child.
func WithInheritedEnv(env map[string]string) Option {
	return func(r *Runner) { r.inherited = env }
}

// WithDrainGrace sets how long output draining may continue after the process
// tree was killed before the pipe is closed under it.
func WithDrainGrace(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.drainGrace = d
		}
	}
}

// New creates a Runner. An empty interpreter selects DefaultInterpreter.
func New(interpreter string, opts ...Option) *Runner {
	if interpreter == "" {
		interpreter = DefaultInterpreter
	}
	r := &Runner{
		interpreter: interpreter,
		logger:      slog.Default(),
		recorder:    metrics.NoopRecorder{},
		drainGrace:  defaultDrainGrace,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Interpreter returns the shell used for temp scripts.
func (r *Runner) Interpreter() string { return r.interpreter }

// Run executes req.Command and returns once the child has exited and its output
// is fully drained, or the deadline killed it. Failures of the command are
// reported in the Result; the error is non-nil only when ctx was canceled.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	id := uuid.NewString()
	log := r.logger.With(logfields.CommandID(id))
	start := time.Now()
	res := &Result{CommandID: id, ExitCode: NoExitCode, Timeout: timeout}

	log.Debug("Executing command", slog.String("command", preview(req.Command)), logfields.Timeout(timeout))

	scriptPath, err := r.writeScript(id, req)
	if err != nil {
		return r.setupFailed(log, res, start, "failed to create temp script", err), nil
	}
	defer func() {
		if rmErr := os.Remove(scriptPath); rmErr != nil && !os.IsNotExist(rmErr) {
			log.Warn("Failed to remove temp script", logfields.Script(scriptPath), logfields.Error(rmErr))
		}
	}()

	pr, pw, err := os.Pipe()
	if err != nil {
		return r.setupFailed(log, res, start, "failed to create output pipe", err), nil
	}
	defer pr.Close()

	cmd := exec.Command(r.interpreter, scriptPath) // #nosec G204 -- interpreter comes from configuration
	cmd.Env = shellenv.Environ(shellenv.Build(req.Env, r.inheritedEnv()))
	cmd.Stdout = pw
	cmd.Stderr = pw
	proc.SetProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		_ = pw.Close()
		return r.setupFailed(log, res, start, "failed to start interpreter", err), nil
	}
	// Only the child holds the write end now; EOF arrives when it (and anything
	// it spawned onto the pipe) is gone.
	_ = pw.Close()
	res.Started = true
	log.Debug("Command started", logfields.PID(cmd.Process.Pid))

	var reason atomic.Int32
	killed := make(chan struct{})
	kill := func(why int32) {
		if reason.CompareAndSwap(reasonNone, why) {
			proc.KillGroup(cmd.Process)
			close(killed)
		}
	}
	timer := time.AfterFunc(timeout, func() { kill(reasonTimeout) })
	defer timer.Stop()

	finished := make(chan struct{})
	defer close(finished)
	go func() {
		select {
		case <-ctx.Done():
			kill(reasonCanceled)
		case <-finished:
		}
	}()

	out := newCollector(log, req.MaxLoggedLines)
	drained := make(chan error, 1)
	go func() { drained <- out.drain(pr) }()

	var readErr error
	select {
	case readErr = <-drained:
	case <-killed:
		select {
		case readErr = <-drained:
		case <-time.After(r.drainGrace):
			log.Warn("Output still open after kill, closing pipe", logfields.Timeout(r.drainGrace))
			_ = pr.Close()
			readErr = <-drained
		}
	}

	// Output is drained; the deadline still covers the exit wait.
	waitErr := cmd.Wait()
	timer.Stop()

	res.Stdout = out.String()
	res.Duration = time.Since(start)

	switch reason.Load() {
	case reasonCanceled:
		log.Info("Command canceled", logfields.DurationMS(float64(res.Duration.Milliseconds())))
		r.recorder.ObserveCommand(metrics.ResultCanceled, res.Duration)
		return nil, ctx.Err()
	case reasonTimeout:
		res.TimedOut = true
		res.Stderr = fmt.Sprintf("Command timed out after %s", timeout)
		log.Error("Command timed out", logfields.Timeout(timeout), logfields.Lines(out.lines))
		r.recorder.ObserveCommand(metrics.ResultTimeout, res.Duration)
		return res, nil
	}

	if readErr != nil {
		res.Stderr = "error reading output: " + readErr.Error()
		log.Error("Command output read failed", logfields.Error(readErr))
		r.recorder.ObserveCommand(metrics.ResultFailed, res.Duration)
		return res, nil
	}

	res.ExitCode = exitCode(cmd, waitErr)
	res.Success = waitErr == nil && res.ExitCode == 0
	if waitErr != nil && res.ExitCode == NoExitCode {
		res.Stderr = "wait failed: " + waitErr.Error()
	}

	log.Debug("Command exited",
		logfields.ExitCode(res.ExitCode),
		logfields.Lines(out.lines),
		logfields.DurationMS(float64(res.Duration.Milliseconds())))
	if res.Success {
		r.recorder.ObserveCommand(metrics.ResultSuccess, res.Duration)
	} else {
		r.recorder.ObserveCommand(metrics.ResultFailed, res.Duration)
	}
	return res, nil
}

func (r *Runner) setupFailed(log *slog.Logger, res *Result, start time.Time, what string, err error) *Result {
	res.Stderr = what + ": " + err.Error()
	res.Duration = time.Since(start)
	log.Error("Command setup failed", slog.String("stage", what), logfields.Error(err))
	r.recorder.ObserveCommand(metrics.ResultSetup, res.Duration)
	return res
}

// writeScript creates tmpDir/cmd_<id>.sh, owner read/write/execute only.
func (r *Runner) writeScript(id string, req Request) (string, error) {
	dir := req.Env.TmpDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	path := filepath.Join(dir, "cmd_"+id+".sh")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o700)
	if err != nil {
		return "", err
	}
	body := "#!" + r.interpreter + "\n" + req.Command
	if !strings.HasSuffix(body, "\n") {
		body += "\n"
	}
	if _, err := f.WriteString(body); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", err
	}
	return path, nil
}

func (r *Runner) inheritedEnv() map[string]string {
	if r.inherited != nil {
		return r.inherited
	}
	return shellenv.Current()
}

func exitCode(cmd *exec.Cmd, waitErr error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	if waitErr == nil {
		return 0
	}
	return NoExitCode
}

func preview(command string) string {
	const limit = 100
	command = strings.TrimSpace(command)
	if len(command) <= limit {
		return command
	}
	return command[:limit] + "..."
}
