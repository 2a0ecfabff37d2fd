package gateway

import (
	"path/filepath"
	"time"

	"github.com/luxiaoyu/claw-app/internal/script"
	"github.com/luxiaoyu/claw-app/internal/shellenv"
)

// Markers printed on stdout by the generated scripts.
const (
	markerStarted = "started"
	markerStopped = "stopped"
	diagTail      = 20
)

// readPIDFile assigns the digits of the PID file (if any) to VAR.
func readPIDFile(b *script.Builder, pidFile, variable string) {
	b.Assign(variable, "")
	b.If("[ -f "+script.Quote(pidFile)+" ]", func(b *script.Builder) {
		b.Line("%s=$(tr -cd '0-9' 2>/dev/null < %s)", variable, script.Quote(pidFile))
	})
}

// resolveLivePID leaves the daemon's PID in $PID and where it came from in
// $SRC: the PID file when it names a live process, else the first process
// table match. Both are empty when nothing is found.
func resolveLivePID(b *script.Builder, h Handle) {
	readPIDFile(b, h.PIDFile, "PID")
	b.Assign("SRC", "")
	b.IfElse(`[ -n "$PID" ] && kill -0 "$PID" 2>/dev/null`, func(b *script.Builder) {
		b.Assign("SRC", string(SourcePIDFile))
	}, func(b *script.Builder) {
		b.Line("PID=$(pgrep -f %s 2>/dev/null | head -n 1)", script.Quote(h.Pattern))
		b.If(`[ -n "$PID" ]`, func(b *script.Builder) {
			b.Assign("SRC", string(SourceProcessTable))
		})
	})
}

// statusScript prints "running <source> <pid>" or "stopped". It never writes.
func statusScript(h Handle) string {
	b := script.New()
	b.Line("# gateway status")
	resolveLivePID(b, h)
	b.IfElse(`[ -n "$PID" ]`, func(b *script.Builder) {
		b.Line(`echo "running $SRC $PID"`)
	}, func(b *script.Builder) {
		b.Line("echo %s", markerStopped)
	})
	return b.String()
}

// uptimeScript prints the elapsed time of the live daemon PID, or nothing.
func uptimeScript(h Handle) string {
	b := script.New()
	b.Line("# gateway uptime")
	resolveLivePID(b, h)
	b.If(`[ -n "$PID" ]`, func(b *script.Builder) {
		b.Line(`ps -o etime= -p "$PID" 2>/dev/null`)
	})
	return b.String()
}

// dumpLogs prints the daemon log tail and the debug trace for a failure report.
func dumpLogs(b *script.Builder, o Options) {
	b.Line("tail -n %d %s 2>/dev/null", diagTail, script.Quote(o.Handle.LogFile))
	if o.DebugLogFile != "" {
		b.Line("echo ---")
		b.Line("tail -n %d %s 2>/dev/null", diagTail, script.Quote(o.DebugLogFile))
	}
}

// startScript (re)spawns the daemon: companion check, kill of any previous
// instance, log truncation, detached spawn, PID resolution with a bounded
// retry schedule, then a liveness check after the settle delay. It prints
// "started <pid>" on success and the daemon's log tail on failure.
func startScript(o Options) string {
	h := o.Handle
	pidFile := script.Quote(h.PIDFile)
	logFile := script.Quote(h.LogFile)
	pattern := script.Quote(h.Pattern)

	b := script.New()
	b.Line("# gateway start")
	b.Cmd("mkdir", "-p", filepath.Dir(h.PIDFile), filepath.Dir(h.LogFile))
	if o.DebugLogFile != "" {
		b.Cmd("mkdir", "-p", filepath.Dir(o.DebugLogFile))
		b.Line("exec 2>%s", script.Quote(o.DebugLogFile))
		b.Line("set -x")
		b.Line(`echo "=== gateway start $(date) ===" >&2`)
		b.Line("id >&2")
		b.Line(`echo "PATH=$PATH" >&2`)
		b.If("[ -f "+script.Quote(o.Env.CertFile())+" ]", func(b *script.Builder) {
			b.Line(`echo "cert file present" >&2`)
		})
	}

	if o.Companion != "" {
		name := script.Quote(o.Companion)
		b.Line("pgrep -x %s >/dev/null 2>&1 || %s >/dev/null 2>&1 || true", name, name)
	}

	// Previous instance: PID file first, then name patterns.
	readPIDFile(b, h.PIDFile, "OLD_PID")
	b.If(`[ -n "$OLD_PID" ]`, func(b *script.Builder) {
		b.Line(`kill -9 "$OLD_PID" 2>/dev/null || true`)
	})
	b.Line("rm -f %s", pidFile)
	b.Line("pkill -9 -f %s >/dev/null 2>&1 || true", pattern)
	for _, p := range o.KillPatterns {
		b.Line("pkill -9 -f %s >/dev/null 2>&1 || true", script.Quote(p))
	}

	b.Line(": > %s", logFile)

	b.Export("HOME", o.Env.Home)
	b.Export("PREFIX", o.Env.Prefix)
	b.Export("TMPDIR", o.Env.TmpDir)
	b.Export("SSL_CERT_FILE", o.Env.CertFile())
	nodeOptions := shellenv.NodeIPv4First
	if v, ok := o.Env.ExtraVars["NODE_OPTIONS"]; ok {
		nodeOptions = v
	}
	b.Export("NODE_OPTIONS", nodeOptions)

	if o.WorkDir != "" {
		b.Cmd("mkdir", "-p", o.WorkDir)
		b.Line("cd %s || exit 1", script.Quote(o.WorkDir))
	}

	// setsid keeps the daemon out of this script's process group, so killing
	// the script on timeout or cancel leaves a running daemon alone.
	b.Assign("LAUNCH", "")
	b.If("command -v setsid >/dev/null 2>&1", func(b *script.Builder) {
		b.Assign("LAUNCH", "setsid")
	})
	argv := append([]string{o.Binary}, o.Args...)
	b.Line("$LAUNCH nohup %s >> %s 2>&1 < /dev/null &", script.Command(argv...), logFile)
	b.Line("GW_PID=$!")

	// The PID from $! may belong to an intermediate process; prefer it only
	// when it is among the pattern matches.
	b.Assign("ACTUAL_PID", "")
	b.Block("for DELAY in "+renderSchedule(o.Resolve.Schedule())+"; do", "done", func(b *script.Builder) {
		b.Line(`sleep "$DELAY"`)
		b.Line("MATCHES=$(pgrep -f %s 2>/dev/null)", pattern)
		b.If(`[ -n "$MATCHES" ]`, func(b *script.Builder) {
			b.Line(`ACTUAL_PID=$(echo "$MATCHES" | head -n 1)`)
			b.Block("for P in $MATCHES; do", "done", func(b *script.Builder) {
				b.If(`[ "$P" = "$GW_PID" ]`, func(b *script.Builder) {
					b.Line(`ACTUAL_PID=$P`)
				})
			})
			b.Line("break")
		})
	})
	b.If(`[ -z "$ACTUAL_PID" ] && kill -0 "$GW_PID" 2>/dev/null`, func(b *script.Builder) {
		b.Line(`ACTUAL_PID=$GW_PID`)
	})
	b.If(`[ -z "$ACTUAL_PID" ]`, func(b *script.Builder) {
		b.Line(`echo "Gateway process not found after spawn"`)
		dumpLogs(b, o)
		b.Line("exit 1")
	})
	b.Line(`echo "$ACTUAL_PID" > %s`, pidFile)

	b.Sleep(o.Settle)
	b.If(`kill -0 "$ACTUAL_PID" 2>/dev/null`, func(b *script.Builder) {
		b.Line(`echo "%s $ACTUAL_PID"`, markerStarted)
		b.Line("exit 0")
	})
	b.Line("ACTUAL_PID=$(pgrep -f %s 2>/dev/null | head -n 1)", pattern)
	b.If(`[ -n "$ACTUAL_PID" ]`, func(b *script.Builder) {
		b.Line(`echo "$ACTUAL_PID" > %s`, pidFile)
		b.Line(`echo "%s $ACTUAL_PID"`, markerStarted)
		b.Line("exit 0")
	})
	b.Line("rm -f %s", pidFile)
	b.Line(`echo "Gateway exited during startup"`)
	dumpLogs(b, o)
	b.Line("exit 1")
	return b.String()
}

// stopScript removes the PID file before signalling anything, then sends TERM
// to the recorded PID, its group and children, and finally TERM then KILL to
// every pattern match.
func stopScript(o Options) string {
	h := o.Handle
	b := script.New()
	b.Line("# gateway stop")
	readPIDFile(b, h.PIDFile, "PID")
	b.Line("rm -f %s", script.Quote(h.PIDFile))
	b.If(`[ -n "$PID" ]`, func(b *script.Builder) {
		b.Line(`kill "$PID" 2>/dev/null || true`)
		b.Line(`kill -TERM "-$PID" 2>/dev/null || true`)
		b.Line(`pkill -TERM -P "$PID" 2>/dev/null || true`)
	})
	patterns := append([]string{h.Pattern}, o.KillPatterns...)
	for _, p := range patterns {
		b.Line("pkill -TERM -f %s >/dev/null 2>&1 || true", script.Quote(p))
	}
	b.Sleep(o.Grace)
	for _, p := range patterns {
		b.Line("pkill -9 -f %s >/dev/null 2>&1 || true", script.Quote(p))
	}
	b.Line("echo %s", markerStopped)
	return b.String()
}

func renderSchedule(delays []time.Duration) string {
	if len(delays) == 0 {
		return "0"
	}
	out := ""
	for i, d := range delays {
		if i > 0 {
			out += " "
		}
		out += script.Seconds(d)
	}
	return out
}
