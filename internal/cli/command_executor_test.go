package cli

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luxiaoyu/claw-app/internal/config"
	clawerrors "github.com/luxiaoyu/claw-app/internal/errors"
	"github.com/luxiaoyu/claw-app/internal/gateway"
	"github.com/luxiaoyu/claw-app/internal/install"
	"github.com/luxiaoyu/claw-app/internal/monitor"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	cfg := &config.Config{
		Version: config.CurrentVersion,
		Runtime: config.RuntimeConfig{
			Prefix:      filepath.Join(root, "usr"),
			Home:        filepath.Join(root, "home"),
			Interpreter: "/bin/sh",
		},
		Gateway: config.GatewayConfig{
			ProcessPattern: "clawctl-cli-test-no-such-daemon",
			Companion:      config.CompanionNone,
		},
		Monitor: config.MonitorConfig{Interval: config.Duration(50 * time.Millisecond)},
	}
	require.NoError(t, config.NewDefaultApplier().ApplyDefaults(cfg))
	require.NoError(t, config.ValidateConfig(cfg))
	require.NoError(t, os.MkdirAll(cfg.Runtime.TmpDir, 0o750))
	return cfg
}

func newExecutor(t *testing.T, cfg *config.Config) *CommandExecutor {
	t.Helper()
	e, err := NewCommandExecutor(cfg, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestNewCommandExecutor_RequiresConfig(t *testing.T) {
	_, err := NewCommandExecutor(nil)
	require.Error(t, err)
}

func TestExecuteExec(t *testing.T) {
	e := newExecutor(t, testConfig(t))

	t.Run("success", func(t *testing.T) {
		res, err := e.ExecuteExec(context.Background(), ExecRequest{Command: "echo hello"})
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Equal(t, "hello\n", res.Stdout)
	})

	t.Run("non-zero exit", func(t *testing.T) {
		res, err := e.ExecuteExec(context.Background(), ExecRequest{Command: "echo nope; exit 3"})
		require.Error(t, err)
		require.NotNil(t, res)
		assert.Equal(t, 3, res.ExitCode)
		assert.True(t, clawerrors.IsCategory(err, clawerrors.CategoryScript))
	})

	t.Run("timeout override", func(t *testing.T) {
		res, err := e.ExecuteExec(context.Background(), ExecRequest{Command: "sleep 5", Timeout: 200 * time.Millisecond})
		require.Error(t, err)
		assert.True(t, res.TimedOut)
		assert.True(t, clawerrors.IsCategory(err, clawerrors.CategoryTimeout))
	})
}

func writeAsset(t *testing.T, cfg *config.Config, body string) {
	t.Helper()
	cfg.Install.Asset = filepath.Join(t.TempDir(), "install.sh")
	require.NoError(t, os.WriteFile(cfg.Install.Asset, []byte(body), 0o600))
}

func TestExecuteInstall_Complete(t *testing.T) {
	cfg := testConfig(t)
	writeAsset(t, cfg, "echo fetching\necho KIMICLAW_COMPLETE\n")
	e := newExecutor(t, cfg)

	var lines []string
	resp, err := e.ExecuteInstall(context.Background(), InstallRequest{OnLog: func(l string) { lines = append(lines, l) }})
	require.NoError(t, err)
	assert.Equal(t, install.KindComplete, resp.Event.Kind)
	assert.False(t, resp.Installed)
	assert.Contains(t, lines, "fetching")

	copied, err := os.ReadFile(cfg.Install.ScriptPath)
	require.NoError(t, err)
	assert.Contains(t, string(copied), "KIMICLAW_COMPLETE")
}

func TestExecuteInstall_ErrorSentinel(t *testing.T) {
	cfg := testConfig(t)
	writeAsset(t, cfg, "echo KIMICLAW_ERROR: disk full\nexit 1\n")
	e := newExecutor(t, cfg)

	resp, err := e.ExecuteInstall(context.Background(), InstallRequest{})
	require.Error(t, err)
	assert.Equal(t, install.KindError, resp.Event.Kind)
	assert.Equal(t, install.ReasonScript, resp.Event.Reason)
	assert.True(t, clawerrors.IsCategory(err, clawerrors.CategoryScript))
}

func TestExecuteInstall_MissingAsset(t *testing.T) {
	cfg := testConfig(t)
	cfg.Install.Asset = filepath.Join(t.TempDir(), "missing.sh")
	e := newExecutor(t, cfg)

	_, err := e.ExecuteInstall(context.Background(), InstallRequest{})
	require.Error(t, err)
	assert.True(t, clawerrors.IsCategory(err, clawerrors.CategoryFileSystem))
}

func TestExecuteGatewayStatus_Stopped(t *testing.T) {
	e := newExecutor(t, testConfig(t))

	resp, err := e.ExecuteGatewayStatus(context.Background())
	require.NoError(t, err)
	assert.False(t, resp.Status.Running)
	assert.Equal(t, gateway.UnknownUptime, resp.Uptime)
	assert.Equal(t, gateway.StateStopped, resp.State)
}

func TestExecuteWatch_ReportsFirstSnapshotAndStops(t *testing.T) {
	cfg := testConfig(t)
	e := newExecutor(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu    sync.Mutex
		snaps []monitor.Snapshot
	)
	done := make(chan error, 1)
	go func() {
		done <- e.ExecuteWatch(ctx, WatchRequest{OnChange: func(s monitor.Snapshot) {
			mu.Lock()
			snaps = append(snaps, s)
			mu.Unlock()
			cancel()
		}})
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("watch did not return after cancel")
	}

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, snaps)
	assert.False(t, snaps[0].Running)
}

func TestExecuteGatewayStop_WaitCanceled(t *testing.T) {
	e := newExecutor(t, testConfig(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.ExecuteGatewayStop(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, e.Gateway().InFlight(), "abandoned stop releases the slot")
}

func TestExecuteWatch_MetricsBindFailureStopsMonitor(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	cfg := testConfig(t)
	cfg.Metrics.Enabled = true
	cfg.Metrics.Addr = busy.Addr().String()
	e := newExecutor(t, cfg)

	done := make(chan error, 1)
	go func() { done <- e.ExecuteWatch(context.Background(), WatchRequest{}) }()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "metrics server")
	case <-time.After(10 * time.Second):
		t.Fatal("watch kept running after the metrics listener failed")
	}
}

func TestExecuteWatch_ServesMetricsUntilCanceled(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	cfg := testConfig(t)
	cfg.Metrics.Enabled = true
	cfg.Metrics.Addr = addr
	e := newExecutor(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- e.ExecuteWatch(ctx, WatchRequest{}) }()

	url := "http://" + addr + cfg.Metrics.Path
	require.Eventually(t, func() bool {
		resp, err := http.Get(url) //nolint:noctx // local listener
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("watch did not return after cancel")
	}
	_, err = net.DialTimeout("tcp", addr, time.Second)
	assert.Error(t, err, "metrics listener closed on return")
}
