package install

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luxiaoyu/claw-app/internal/metrics"
	"github.com/luxiaoyu/claw-app/internal/proc"
	"github.com/luxiaoyu/claw-app/internal/shellenv"
)

type fakeRecorder struct {
	metrics.NoopRecorder
	mu       sync.Mutex
	outcomes []string
}

func (r *fakeRecorder) IncInstallOutcome(outcome metrics.InstallOutcomeLabel, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, string(outcome)+"/"+reason)
}

func newFlow(t *testing.T, script string, timeout time.Duration, opts ...Option) (*Flow, Config) {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
	root := t.TempDir()
	cfg := Config{
		ScriptPath:  filepath.Join(root, "usr", "share", "kimiclaw", "install.sh"),
		Script:      []byte("#!/bin/sh\n" + script + "\n"),
		Interpreter: "/bin/sh",
		Env:         shellenv.Config{Prefix: filepath.Join(root, "usr"), Home: root, TmpDir: root},
		Inherited:   map[string]string{"PATH": os.Getenv("PATH")},
		Timeout:     timeout,
	}
	return New(cfg, opts...), cfg
}

func drain(t *testing.T, f *Flow) ([]string, Event) {
	t.Helper()
	var logs []string
	var terminal Event
	terminals := 0
	for ev, err := range f.Install(context.Background()) {
		require.NoError(t, err)
		if ev.Kind == KindLog {
			require.Zero(t, terminals, "log event after terminal event")
			logs = append(logs, ev.Line)
			continue
		}
		terminal = ev
		terminals++
	}
	require.Equal(t, 1, terminals, "exactly one terminal event")
	return logs, terminal
}

func TestInstall_ErrorSentinelScenario(t *testing.T) {
	f, _ := newFlow(t, `echo "STEP 1/5 Checking network"
echo "STEP 2/5 Downloading"
echo "KIMICLAW_ERROR: network unreachable"
exit 1`, 10*time.Second)

	logs, terminal := drain(t, f)

	assert.Equal(t, []string{
		"STEP 1/5 Checking network",
		"STEP 2/5 Downloading",
		"KIMICLAW_ERROR: network unreachable",
	}, logs)
	assert.Equal(t, KindError, terminal.Kind)
	assert.Equal(t, ReasonScript, terminal.Reason)
	assert.Equal(t, "network unreachable", terminal.Message)
}

func TestInstall_IdempotentWhenScriptDetectsCompletion(t *testing.T) {
	rec := &fakeRecorder{}
	f, _ := newFlow(t, `if [ -f "$HOME/.installed" ]; then
  echo KIMICLAW_ALREADY_INSTALLED
  exit 0
fi
touch "$HOME/.installed"
echo KIMICLAW_COMPLETE`, 10*time.Second, WithRecorder(rec))

	_, first := drain(t, f)
	_, second := drain(t, f)
	_, third := drain(t, f)

	assert.Equal(t, KindComplete, first.Kind)
	assert.Equal(t, KindAlreadyInstalled, second.Kind)
	assert.Equal(t, KindAlreadyInstalled, third.Kind)
	assert.Equal(t, []string{"complete/", "already_installed/", "already_installed/"}, rec.outcomes)
}

func TestInstall_NonZeroExitCarriesTail(t *testing.T) {
	f, _ := newFlow(t, `i=1
while [ $i -le 25 ]; do echo "line $i"; i=$((i+1)); done
exit 3`, 10*time.Second)

	logs, terminal := drain(t, f)
	require.Len(t, logs, 25)

	assert.Equal(t, KindError, terminal.Kind)
	assert.Equal(t, ReasonExit, terminal.Reason)
	head, tailText, ok := strings.Cut(terminal.Message, "\n\n")
	require.True(t, ok)
	assert.Equal(t, "Installation failed (exit code 3)", head)
	tailLines := strings.Split(tailText, "\n")
	require.Len(t, tailLines, DefaultTailLines)
	assert.Equal(t, "line 6", tailLines[0])
	assert.Equal(t, "line 25", tailLines[19])
}

func TestInstall_ExitZeroWithoutSentinelCompletes(t *testing.T) {
	f, _ := newFlow(t, "echo done", 10*time.Second)
	_, terminal := drain(t, f)
	assert.Equal(t, KindComplete, terminal.Kind)
}

func TestInstall_FirstSentinelWins(t *testing.T) {
	f, _ := newFlow(t, "echo KIMICLAW_ERROR:boom\necho KIMICLAW_COMPLETE", 10*time.Second)
	logs, terminal := drain(t, f)

	assert.Equal(t, []string{"KIMICLAW_ERROR:boom", "KIMICLAW_COMPLETE"}, logs)
	assert.Equal(t, KindError, terminal.Kind)
	assert.Equal(t, "boom", terminal.Message)
}

func TestInstall_Timeout(t *testing.T) {
	f, _ := newFlow(t, "echo begin\nexec sleep 30", 300*time.Millisecond)

	start := time.Now()
	logs, terminal := drain(t, f)

	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, []string{"begin"}, logs)
	assert.Equal(t, KindError, terminal.Kind)
	assert.Equal(t, ReasonTimeout, terminal.Reason)
	assert.Equal(t, "Installation timed out after 300ms", terminal.Message)
}

func TestInstall_TimeoutAfterSentinelKeepsSentinel(t *testing.T) {
	f, _ := newFlow(t, "echo KIMICLAW_COMPLETE\nexec sleep 30", 300*time.Millisecond)
	_, terminal := drain(t, f)
	assert.Equal(t, KindComplete, terminal.Kind)
}

func firstPID(t *testing.T, ev Event, err error) int {
	t.Helper()
	require.NoError(t, err)
	pid, convErr := strconv.Atoi(ev.Line)
	require.NoError(t, convErr)
	return pid
}

func TestInstall_CancellationKillsInstaller(t *testing.T) {
	f, _ := newFlow(t, "echo $$\nexec sleep 30", time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pid := 0
	var gotErr error
	for ev, err := range f.Install(ctx) {
		if pid == 0 {
			pid = firstPID(t, ev, err)
			cancel()
			continue
		}
		gotErr = err
	}

	assert.ErrorIs(t, gotErr, context.Canceled)
	assert.Eventually(t, func() bool { return !proc.Alive(pid) }, 5*time.Second, 20*time.Millisecond)
}

func TestInstall_StoppingIterationKillsInstaller(t *testing.T) {
	f, _ := newFlow(t, "echo $$\nexec sleep 30", time.Minute)

	pid := 0
	for ev, err := range f.Install(context.Background()) {
		pid = firstPID(t, ev, err)
		break
	}
	require.NotZero(t, pid)
	assert.Eventually(t, func() bool { return !proc.Alive(pid) }, 5*time.Second, 20*time.Millisecond)
}

// exited reports whether pid is gone or a zombie waiting for its new parent.
func exited(pid int) bool {
	if !proc.Alive(pid) {
		return true
	}
	stat, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return false
	}
	fields := strings.Fields(string(stat[strings.LastIndexByte(string(stat), ')')+1:]))
	return len(fields) > 0 && fields[0] == "Z"
}

const backgroundSleeper = "echo STEP 1\nsleep 30 &\necho $!\nexit 0"

func TestInstall_TimeoutBoundsBackgroundedDescendant(t *testing.T) {
	f, _ := newFlow(t, backgroundSleeper, time.Second)

	start := time.Now()
	logs, terminal := drain(t, f)

	assert.Less(t, time.Since(start), 5*time.Second)
	require.Len(t, logs, 2)
	assert.Equal(t, "STEP 1", logs[0])
	assert.Equal(t, KindError, terminal.Kind)
	assert.Equal(t, ReasonTimeout, terminal.Reason)

	pid, err := strconv.Atoi(logs[1])
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return exited(pid) }, 5*time.Second, 20*time.Millisecond)
}

func TestInstall_CancellationKillsBackgroundedDescendant(t *testing.T) {
	f, _ := newFlow(t, backgroundSleeper, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	start := time.Now()
	pid := 0
	var gotErr error
	for ev, err := range f.Install(ctx) {
		if err != nil {
			gotErr = err
			continue
		}
		if n, convErr := strconv.Atoi(ev.Line); convErr == nil {
			pid = n
			time.AfterFunc(100*time.Millisecond, cancel)
		}
	}

	assert.ErrorIs(t, gotErr, context.Canceled)
	assert.Less(t, time.Since(start), 5*time.Second)
	require.NotZero(t, pid)
	assert.Eventually(t, func() bool { return exited(pid) }, 5*time.Second, 20*time.Millisecond)
}

func TestInstall_RecopiesScriptEveryAttempt(t *testing.T) {
	f, cfg := newFlow(t, "echo fresh", 10*time.Second)
	require.NoError(t, os.MkdirAll(filepath.Dir(cfg.ScriptPath), 0o755))
	require.NoError(t, os.WriteFile(cfg.ScriptPath, []byte("echo stale\n"), 0o644))

	logs, terminal := drain(t, f)
	assert.Equal(t, []string{"fresh"}, logs)
	assert.Equal(t, KindComplete, terminal.Kind)

	info, err := os.Stat(cfg.ScriptPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o700), info.Mode().Perm())

	entries, err := os.ReadDir(filepath.Dir(cfg.ScriptPath))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp copies left behind")
}

func TestInstall_CopyFailureIsSetupError(t *testing.T) {
	f, cfg := newFlow(t, "echo never", 10*time.Second)
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))
	cfg.ScriptPath = filepath.Join(blocker, "install.sh")
	f = New(cfg)

	logs, terminal := drain(t, f)
	assert.Empty(t, logs)
	assert.Equal(t, ReasonSetup, terminal.Reason)
	assert.Contains(t, terminal.Message, "Failed to copy install script")
}

func TestFlow_Run(t *testing.T) {
	f, _ := newFlow(t, "echo a\necho b\necho KIMICLAW_ALREADY_INSTALLED", 10*time.Second)
	var seen []string
	terminal, err := f.Run(context.Background(), func(line string) { seen = append(seen, line) })
	require.NoError(t, err)
	assert.Equal(t, KindAlreadyInstalled, terminal.Kind)
	assert.Equal(t, []string{"a", "b", "KIMICLAW_ALREADY_INSTALLED"}, seen)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		line     string
		terminal bool
		kind     Kind
		message  string
	}{
		{"KIMICLAW_COMPLETE", true, KindComplete, ""},
		{"KIMICLAW_ALREADY_INSTALLED", true, KindAlreadyInstalled, ""},
		{"KIMICLAW_ERROR:disk full", true, KindError, "disk full"},
		{"KIMICLAW_ERROR:  spaced  ", true, KindError, "spaced"},
		{" KIMICLAW_COMPLETE", false, KindLog, ""},
		{"KIMICLAW_COMPLETE!", false, KindLog, ""},
		{"STEP 1/5", false, KindLog, ""},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			ev, ok := Classify(tt.line)
			assert.Equal(t, tt.terminal, ok)
			if ok {
				assert.Equal(t, tt.kind, ev.Kind)
				assert.Equal(t, tt.message, ev.Message)
				assert.True(t, ev.Terminal())
			}
		})
	}
}

func TestTailRing(t *testing.T) {
	r := newTail(3)
	assert.Equal(t, "", r.String())
	r.push("a")
	r.push("b")
	assert.Equal(t, "a\nb", r.String())
	for i := 0; i < 5; i++ {
		r.push(fmt.Sprintf("n%d", i))
	}
	assert.Equal(t, "n2\nn3\nn4", r.String())
}

func TestIsInstalledAndRuntimeReady(t *testing.T) {
	bin := t.TempDir()
	assert.False(t, IsInstalled(bin))
	assert.False(t, RuntimeReady(bin))

	require.NoError(t, os.WriteFile(filepath.Join(bin, "openclaw"), []byte("#!/bin/sh\n"), 0o644))
	assert.False(t, IsInstalled(bin), "not executable")
	require.NoError(t, os.Chmod(filepath.Join(bin, "openclaw"), 0o755))
	assert.True(t, IsInstalled(bin))

	require.NoError(t, os.WriteFile(filepath.Join(bin, "node"), nil, 0o644))
	assert.True(t, RuntimeReady(bin))
}
