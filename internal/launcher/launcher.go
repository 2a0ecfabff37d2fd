// Package launcher starts long-running children whose merged output is consumed
// line by line while they run.
package launcher

import (
	"bufio"
	"context"
	"errors"
	"iter"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	clawerrors "github.com/luxiaoyu/claw-app/internal/errors"
	"github.com/luxiaoyu/claw-app/internal/logfields"
	"github.com/luxiaoyu/claw-app/internal/proc"
	"github.com/luxiaoyu/claw-app/internal/shellenv"
)

// ErrWaitTimeout is returned by Wait when the child outlives the timeout.
var ErrWaitTimeout = errors.New("launcher: wait timed out")

// maxLineSize bounds one output line; installers print progress, not blobs.
const maxLineSize = 1024 * 1024

// Spec describes the child to start.
type Spec struct {
	Path string
	Args []string
	Env  shellenv.Config
	// Inherited is the base environment; nil means the current process environment.
	Inherited map[string]string
	Dir       string
	Logger    *slog.Logger
}

// Handle is a running child. Output is read with Scan/Text, like bufio.Scanner;
// nothing is read ahead, so the child blocks if the caller stops scanning.
type Handle struct {
	cmd     *exec.Cmd
	ctx     context.Context
	out     *os.File
	scanner *bufio.Scanner
	logger  *slog.Logger

	done    chan struct{}
	waitErr error

	// closed ends the cancel watcher. It outlives done because a background
	// descendant can keep the output pipe open after the child exits.
	closed    chan struct{}
	closeOnce sync.Once

	killed bool
	mu     sync.Mutex
}

// Launch starts the child. Canceling ctx kills the child's process tree and
// closes its output, after which Err reports ctx.Err().
func Launch(ctx context.Context, spec Spec) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logger := spec.Logger
	if logger == nil {
		logger = slog.Default()
	}

	inherited := spec.Inherited
	if inherited == nil {
		inherited = shellenv.Current()
	}

	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, clawerrors.SetupFailed("launch", err)
	}

	cmd := exec.Command(spec.Path, spec.Args...) // #nosec G204 -- path comes from configuration
	cmd.Env = shellenv.Environ(shellenv.Build(spec.Env, inherited))
	cmd.Dir = spec.Dir
	cmd.Stdout = pw
	cmd.Stderr = pw
	proc.SetProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		_ = pw.Close()
		_ = pr.Close()
		return nil, clawerrors.SetupFailed("launch", err).WithContext("path", spec.Path)
	}
	_ = pw.Close()

	scanner := bufio.NewScanner(pr)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	h := &Handle{
		cmd:     cmd,
		ctx:     ctx,
		out:     pr,
		scanner: scanner,
		logger:  logger.With(logfields.PID(cmd.Process.Pid)),
		done:    make(chan struct{}),
		closed:  make(chan struct{}),
	}
	h.logger.Debug("Process launched", logfields.Path(spec.Path))

	go func() {
		h.waitErr = cmd.Wait()
		close(h.done)
	}()
	go func() {
		select {
		case <-ctx.Done():
			h.logger.Info("Launch canceled, killing process tree")
			_ = h.Kill()
			_ = h.out.Close()
		case <-h.closed:
		}
	}()
	return h, nil
}

// PID returns the child's process id.
func (h *Handle) PID() int { return h.cmd.Process.Pid }

// Scan advances to the next output line. It returns false at end of output,
// on a read error, or once the launch was canceled.
func (h *Handle) Scan() bool {
	if h.ctx.Err() != nil {
		return false
	}
	return h.scanner.Scan()
}

// Text returns the line produced by the last successful Scan.
func (h *Handle) Text() string { return h.scanner.Text() }

// Err returns the cancellation cause, or the first non-EOF read error.
func (h *Handle) Err() error {
	if err := h.ctx.Err(); err != nil {
		return err
	}
	if err := h.scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		return err
	}
	return nil
}

// Lines yields output lines until Scan stops; check Err afterwards.
func (h *Handle) Lines() iter.Seq[string] {
	return func(yield func(string) bool) {
		for h.Scan() {
			if !yield(h.Text()) {
				return
			}
		}
	}
}

// Done is closed once the child has exited and been reaped.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the child exits or timeout elapses and returns its exit
// code. On timeout the child keeps running and ErrWaitTimeout is returned.
func (h *Handle) Wait(timeout time.Duration) (int, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-h.done:
		return h.exitCode(), nil
	case <-timer.C:
		return -1, ErrWaitTimeout
	}
}

// Kill force-terminates the child's process group. The group is signalled
// even after the child has exited, so descendants it left behind die too.
func (h *Handle) Kill() error {
	select {
	case <-h.done:
	default:
		h.mu.Lock()
		h.killed = true
		h.mu.Unlock()
	}
	proc.KillGroup(h.cmd.Process)
	h.logger.Debug("Process group killed")
	return nil
}

// Killed reports whether Kill ran while the child was still alive.
func (h *Handle) Killed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.killed
}

// Close kills the process group and releases the output pipe.
func (h *Handle) Close() error {
	h.closeOnce.Do(func() { close(h.closed) })
	_ = h.Kill()
	if err := h.out.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return err
	}
	return nil
}

func (h *Handle) exitCode() int {
	if h.cmd.ProcessState != nil {
		return h.cmd.ProcessState.ExitCode()
	}
	if h.waitErr == nil {
		return 0
	}
	return -1
}
