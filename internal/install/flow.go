// Package install runs the bundled installer and turns its output into a
// finite sequence of events.
package install

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/luxiaoyu/claw-app/internal/assets"
	"github.com/luxiaoyu/claw-app/internal/events"
	"github.com/luxiaoyu/claw-app/internal/launcher"
	"github.com/luxiaoyu/claw-app/internal/logfields"
	"github.com/luxiaoyu/claw-app/internal/metrics"
	"github.com/luxiaoyu/claw-app/internal/shellenv"
)

const (
	DefaultTimeout   = 5 * time.Minute
	DefaultTailLines = 20
)

// Config describes where the installer lives and how it runs.
type Config struct {
	// ScriptPath is where the script is copied before every attempt.
	ScriptPath string
	// Script is the script source. Nil selects the bundled installer.
	Script      []byte
	Interpreter string
	Env         shellenv.Config
	// Inherited is the base environment; nil means the current process environment.
	Inherited map[string]string
	Timeout   time.Duration
	TailLines int
}

// Flow runs install attempts. It holds no per-attempt state and may be reused.
type Flow struct {
	cfg       Config
	logger    *slog.Logger
	recorder  metrics.Recorder
	publisher events.Publisher
}

// Option configures a Flow.
type Option func(*Flow)

func WithLogger(l *slog.Logger) Option {
	return func(f *Flow) {
		if l != nil {
			f.logger = l
		}
	}
}

func WithRecorder(r metrics.Recorder) Option {
	return func(f *Flow) { f.recorder = metrics.OrNoop(r) }
}

func WithPublisher(p events.Publisher) Option {
	return func(f *Flow) { f.publisher = events.OrNoop(p) }
}

// New creates a Flow. Zero Timeout and TailLines select the defaults.
func New(cfg Config, opts ...Option) *Flow {
	if cfg.Script == nil {
		cfg.Script = assets.InstallScript
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.TailLines <= 0 {
		cfg.TailLines = DefaultTailLines
	}
	if cfg.Interpreter == "" {
		cfg.Interpreter = "/bin/sh"
	}
	f := &Flow{
		cfg:       cfg,
		logger:    slog.Default(),
		recorder:  metrics.NoopRecorder{},
		publisher: events.NoopPublisher{},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Install runs one attempt. Every output line is yielded as a Log event in
// order; exactly one terminal event (Complete, AlreadyInstalled or Error) is
// yielded last. The first sentinel line decides the outcome.
//
// Stopping the iteration early kills the installer. If ctx is canceled the
// installer is killed and the sequence ends with ctx.Err() instead of a
// terminal event.
func (f *Flow) Install(ctx context.Context) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		start := time.Now()
		log := f.logger.With(logfields.Path(f.cfg.ScriptPath))
		log.Info("Starting installation")

		finish := func(ev Event) {
			f.observe(ctx, ev, time.Since(start))
			yield(ev, nil)
		}

		if err := ctx.Err(); err != nil {
			yield(Event{}, err)
			return
		}

		if err := f.copyScript(); err != nil {
			log.Error("Failed to copy install script", logfields.Error(err))
			finish(errorEvent(ReasonSetup, "Failed to copy install script: "+err.Error()))
			return
		}

		attemptCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		var timedOut atomic.Bool
		timer := time.AfterFunc(f.cfg.Timeout, func() {
			timedOut.Store(true)
			cancel()
		})
		defer timer.Stop()

		h, err := launcher.Launch(attemptCtx, launcher.Spec{
			Path:      f.cfg.Interpreter,
			Args:      []string{f.cfg.ScriptPath},
			Env:       f.cfg.Env,
			Inherited: f.cfg.Inherited,
			Logger:    f.logger,
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				yield(Event{}, ctxErr)
				return
			}
			log.Error("Failed to start installer", logfields.Error(err))
			finish(errorEvent(ReasonSetup, "Failed to start installer: "+err.Error()))
			return
		}
		defer h.Close()
		log.Info("Installer running", logfields.PID(h.PID()))

		recent := newTail(f.cfg.TailLines)
		var terminal *Event
		lines := 0
		for h.Scan() {
			line := h.Text()
			lines++
			recent.push(line)
			log.Debug("install.sh", logfields.Line(line))
			if !yield(logEvent(line), nil) {
				log.Info("Install consumer stopped, killing installer")
				return
			}
			if terminal == nil {
				if ev, ok := Classify(line); ok {
					terminal = &ev
				}
			}
		}

		// A deadline or cancellation ends the output stream early; the sentinel
		// already seen still decides the outcome of a timed-out attempt.
		if err := ctx.Err(); err != nil {
			log.Info("Installation canceled")
			f.recorder.IncInstallOutcome(metrics.InstallError, "canceled")
			yield(Event{}, err)
			return
		}
		if timedOut.Load() {
			if terminal != nil {
				finish(*terminal)
				return
			}
			log.Error("Installation timed out", logfields.Timeout(f.cfg.Timeout), logfields.Lines(lines))
			finish(errorEvent(ReasonTimeout, fmt.Sprintf("Installation timed out after %s", f.cfg.Timeout)))
			return
		}
		if err := h.Err(); err != nil && terminal == nil {
			log.Error("Reading installer output failed", logfields.Error(err))
			finish(errorEvent(ReasonIO, "Installation error: "+err.Error()))
			return
		}

		code, err := h.Wait(f.cfg.Timeout)
		if errors.Is(err, launcher.ErrWaitTimeout) || timedOut.Load() {
			if terminal != nil {
				finish(*terminal)
				return
			}
			finish(errorEvent(ReasonTimeout, fmt.Sprintf("Installation timed out after %s", f.cfg.Timeout)))
			return
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			yield(Event{}, ctxErr)
			return
		}

		log.Info("Installer exited", logfields.ExitCode(code), logfields.Lines(lines), logfields.Since(start))
		switch {
		case terminal != nil:
			finish(*terminal)
		case code == 0:
			finish(Event{Kind: KindComplete})
		default:
			finish(errorEvent(ReasonExit, fmt.Sprintf("Installation failed (exit code %d)\n\n%s", code, recent.String())))
		}
	}
}

// Run drains an attempt, calling onLog for every line, and returns the
// terminal event.
func (f *Flow) Run(ctx context.Context, onLog func(string)) (Event, error) {
	var last Event
	for ev, err := range f.Install(ctx) {
		if err != nil {
			return Event{}, err
		}
		if ev.Kind == KindLog {
			if onLog != nil {
				onLog(ev.Line)
			}
			continue
		}
		last = ev
	}
	return last, nil
}

// copyScript replaces the on-disk script atomically so a half-written copy is
// never executed.
func (f *Flow) copyScript() error {
	dir := filepath.Dir(f.cfg.ScriptPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".install-*.sh")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(f.cfg.Script); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o700); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, f.cfg.ScriptPath)
}

func (f *Flow) observe(ctx context.Context, ev Event, d time.Duration) {
	var outcome metrics.InstallOutcomeLabel
	switch ev.Kind {
	case KindComplete:
		outcome = metrics.InstallComplete
	case KindAlreadyInstalled:
		outcome = metrics.InstallAlreadyInstalled
	default:
		outcome = metrics.InstallError
	}
	f.recorder.IncInstallOutcome(outcome, string(ev.Reason))

	out := events.New(events.TypeInstall, string(outcome), ev.Message).With("duration_ms", d.Milliseconds())
	if ev.Reason != "" {
		out = out.With("reason", string(ev.Reason))
	}
	if err := f.publisher.Publish(ctx, out); err != nil {
		f.logger.Warn("Failed to publish install event", logfields.Error(err))
	}
	f.logger.Info("Installation finished", logfields.Event(ev.Kind.String()), logfields.DurationMS(float64(d.Milliseconds())))
}

// IsInstalled reports whether the gateway binary exists in binDir and is executable.
func IsInstalled(binDir string) bool {
	return isExecutable(filepath.Join(binDir, "openclaw"))
}

// RuntimeReady reports whether the Node.js runtime is present in binDir.
func RuntimeReady(binDir string) bool {
	_, err := os.Stat(filepath.Join(binDir, "node"))
	return err == nil
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode().Perm()&0o111 != 0
}
