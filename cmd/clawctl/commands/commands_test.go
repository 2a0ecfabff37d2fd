package commands

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luxiaoyu/claw-app/internal/config"
	clawerrors "github.com/luxiaoyu/claw-app/internal/errors"
	"github.com/luxiaoyu/claw-app/internal/gateway"
	"github.com/luxiaoyu/claw-app/internal/monitor"
)

// writeTestConfig writes a configuration rooted in a temp dir that uses /bin/sh.
func writeTestConfig(t *testing.T, extra string) string {
	t.Helper()
	root := t.TempDir()
	body := "version: \"1.0\"\n" +
		"runtime:\n" +
		"  prefix: " + filepath.Join(root, "usr") + "\n" +
		"  home: " + filepath.Join(root, "home") + "\n" +
		"  interpreter: /bin/sh\n" +
		"gateway:\n" +
		"  process_pattern: clawctl-commands-test-no-such-daemon\n" +
		"  companion: none\n" +
		extra
	path := filepath.Join(root, "clawctl.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func parse(t *testing.T, args ...string) (*kong.Context, *CLI) {
	t.Helper()
	var cli CLI
	parser, err := kong.New(&cli, kong.Vars{"version": "test"}, kong.Exit(func(int) { t.Fatal("unexpected exit") }))
	require.NoError(t, err)
	ctx, err := parser.Parse(args)
	require.NoError(t, err)
	return ctx, &cli
}

func TestParse_CommandTree(t *testing.T) {
	cases := map[string][]string{
		"init":           {"init", "--force"},
		"exec <command>": {"exec", "echo", "hi"},
		"install":        {"install", "-q"},
		"gateway start":  {"gateway", "start"},
		"gateway stop":   {"gateway", "stop"},
		"gateway status": {"gateway", "status"},
		"gateway uptime": {"gateway", "uptime"},
		"watch":          {"watch"},
		"ssh-info":       {"ssh-info"},
	}
	for want, args := range cases {
		ctx, _ := parse(t, args...)
		assert.Equal(t, want, ctx.Command(), "args %v", args)
	}
}

func TestParse_ExecPassthrough(t *testing.T) {
	_, cli := parse(t, "exec", "-t", "2s", "ls", "-la", "/tmp")
	assert.Equal(t, 2*time.Second, cli.Exec.Timeout)
	assert.Equal(t, []string{"ls", "-la", "/tmp"}, cli.Exec.Command)
}

func TestInit_WritesLoadableConfig(t *testing.T) {
	dir := t.TempDir()
	cmd := &InitCmd{Output: dir}
	require.NoError(t, cmd.Run(&Global{}, &CLI{}))

	cfg, err := config.Load(filepath.Join(dir, DefaultConfigPath))
	require.NoError(t, err)
	assert.Equal(t, config.CurrentVersion, cfg.Version)

	require.Error(t, cmd.Run(&Global{}, &CLI{}), "second init without --force")
}

func TestExec_PrintsOutput(t *testing.T) {
	var out bytes.Buffer
	root := &CLI{Config: writeTestConfig(t, "")}
	cmd := &ExecCmd{Command: []string{"echo", "one;", "echo", "two"}}

	require.NoError(t, cmd.Run(&Global{Out: &out}, root))
	assert.Equal(t, "one\ntwo\n", out.String())
}

func TestExec_FailureMapsToScriptCategory(t *testing.T) {
	var out bytes.Buffer
	root := &CLI{Config: writeTestConfig(t, "")}
	cmd := &ExecCmd{Command: []string{"echo broken; exit 4"}}

	err := cmd.Run(&Global{Out: &out}, root)
	require.Error(t, err)
	assert.Equal(t, "broken\n", out.String())
	assert.Equal(t, 11, clawerrors.NewCLIErrorAdapter(false, nil).ExitCodeFor(err))
}

func TestExec_MissingConfig(t *testing.T) {
	root := &CLI{Config: filepath.Join(t.TempDir(), "absent.yaml")}
	err := (&ExecCmd{Command: []string{"true"}}).Run(&Global{}, root)
	require.Error(t, err)
	assert.True(t, clawerrors.IsCategory(err, clawerrors.CategoryConfig))
}

func TestInstall_StreamsAndReports(t *testing.T) {
	asset := filepath.Join(t.TempDir(), "install.sh")
	require.NoError(t, os.WriteFile(asset, []byte("echo step one\necho KIMICLAW_ALREADY_INSTALLED\n"), 0o600))
	root := &CLI{Config: writeTestConfig(t, "install:\n  asset: "+asset+"\n")}

	var out bytes.Buffer
	require.NoError(t, (&InstallCmd{}).Run(&Global{Out: &out}, root))
	assert.Contains(t, out.String(), "step one\n")
	assert.True(t, strings.HasSuffix(out.String(), "Already installed\n"))

	out.Reset()
	require.NoError(t, (&InstallCmd{Quiet: true}).Run(&Global{Out: &out}, root))
	assert.Equal(t, "Already installed\n", out.String())
}

func TestGatewayStatus_Stopped(t *testing.T) {
	var out bytes.Buffer
	root := &CLI{Config: writeTestConfig(t, "")}

	require.NoError(t, (&GatewayStatusCmd{}).Run(&Global{Out: &out}, root))
	assert.Equal(t, "Gateway: stopped\n", out.String())
}

func TestGatewayUptime_Unknown(t *testing.T) {
	var out bytes.Buffer
	root := &CLI{Config: writeTestConfig(t, "")}

	require.NoError(t, (&GatewayUptimeCmd{}).Run(&Global{Out: &out}, root))
	assert.Equal(t, gateway.UnknownUptime+"\n", out.String())
}

func TestNewLogger_Format(t *testing.T) {
	var buf bytes.Buffer
	newLogger(config.LoggingConfig{Level: config.LogLevelWarn, Format: config.LogFormatJSON}, false, &buf).Info("hidden")
	assert.Empty(t, buf.String())

	newLogger(config.LoggingConfig{Level: config.LogLevelWarn, Format: config.LogFormatJSON}, true, &buf).Debug("shown")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	buf.Reset()
	newLogger(config.LoggingConfig{Level: config.LogLevelInfo, Format: config.LogFormatText}, false, &buf).Info("plain")
	assert.Contains(t, buf.String(), "msg=plain")
}

func TestFormatSnapshot(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	assert.Equal(t, "03:04:05 stopped",
		formatSnapshot(monitor.Snapshot{State: gateway.StateStopped, CheckedAt: at}))
	assert.Equal(t, "03:04:05 running pid=42 uptime=01:10",
		formatSnapshot(monitor.Snapshot{Running: true, PID: 42, Uptime: "01:10", State: gateway.StateRunning, CheckedAt: at}))
	assert.Equal(t, "03:04:05 status check failed: boom",
		formatSnapshot(monitor.Snapshot{Err: errors.New("boom"), CheckedAt: at}))
}

func TestSSHInfo_PrintsConnectionAndPassword(t *testing.T) {
	path := writeTestConfig(t, "")
	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(cfg.Runtime.Home, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Runtime.Home, ".ssh_password"), []byte("hunter2\n"), 0o600))

	var out bytes.Buffer
	require.NoError(t, (&SSHInfoCmd{}).Run(&Global{Out: &out}, &CLI{Config: path}))
	assert.True(t, strings.HasPrefix(out.String(), "ssh -p 8022 "))
	assert.True(t, strings.HasSuffix(out.String(), "\nPassword: hunter2\n"))
}
