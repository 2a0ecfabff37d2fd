package logfields

import (
	"log/slog"
	"time"
)

// Canonical log field name constants to avoid drift across packages.
const (
	KeyCommandID  = "command_id"
	KeyScript     = "script"
	KeyPID        = "pid"
	KeyExitCode   = "exit_code"
	KeyDurationMS = "duration_ms"
	KeyTimeout    = "timeout"
	KeyLines      = "lines"
	KeyOp         = "op"
	KeyState      = "state"
	KeyPath       = "path"
	KeyPattern    = "pattern"
	KeyEvent      = "event"
	KeyLine       = "line"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func CommandID(id string) slog.Attr    { return slog.String(KeyCommandID, id) }
func Script(path string) slog.Attr     { return slog.String(KeyScript, path) }
func PID(pid int) slog.Attr            { return slog.Int(KeyPID, pid) }
func ExitCode(code int) slog.Attr      { return slog.Int(KeyExitCode, code) }
func DurationMS(ms float64) slog.Attr  { return slog.Float64(KeyDurationMS, ms) }
func Timeout(d time.Duration) slog.Attr { return slog.String(KeyTimeout, d.String()) }
func Lines(n int) slog.Attr            { return slog.Int(KeyLines, n) }
func Op(name string) slog.Attr         { return slog.String(KeyOp, name) }
func State(s string) slog.Attr         { return slog.String(KeyState, s) }
func Path(p string) slog.Attr          { return slog.String(KeyPath, p) }
func Pattern(p string) slog.Attr       { return slog.String(KeyPattern, p) }
func Event(kind string) slog.Attr      { return slog.String(KeyEvent, kind) }
func Line(l string) slog.Attr          { return slog.String(KeyLine, l) }

// Since reports the elapsed time from start in milliseconds.
func Since(start time.Time) slog.Attr {
	return DurationMS(float64(time.Since(start).Microseconds()) / 1000)
}

func Error(err error) slog.Attr {
	if err == nil { return slog.String(KeyError, "") }
	return slog.String(KeyError, err.Error())
}
