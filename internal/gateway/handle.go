// Package gateway supervises the singleton gateway daemon. The daemon's
// identity is a filesystem convention (PID file, log file and a process name
// pattern); whether it runs is re-derived on every query, never cached.
package gateway

import (
	"strconv"
	"strings"

	clawerrors "github.com/luxiaoyu/claw-app/internal/errors"
)

// UnknownUptime is returned by Uptime when no live daemon PID is known.
const UnknownUptime = "—"

// Sentinel conditions for errors.Is. Neither is a failure of the daemon: a
// busy supervisor rejects the request, an unbound one has nothing to run it on.
var (
	ErrBusy        = clawerrors.Busy("gateway")
	ErrUnavailable = clawerrors.Unavailable("gateway")
	ErrClosed      = clawerrors.New(clawerrors.CategoryCanceled, clawerrors.SeverityInfo, "gateway supervisor closed")
)

// Handle names the daemon. Paths are fixed for the supervisor's lifetime.
type Handle struct {
	PIDFile string
	LogFile string
	// Pattern is the pgrep -f expression matching the daemon's command line.
	Pattern string
}

// State is the supervisor's displayed state.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateError    State = "error"
)

// Op names a state-changing operation.
type Op string

const (
	OpStart Op = "start"
	OpStop  Op = "stop"
)

// Source tells which check found the daemon.
type Source string

const (
	SourceNone         Source = ""
	SourcePIDFile      Source = "pid_file"
	SourceProcessTable Source = "process_table"
)

// Status is the result of one read-only liveness query.
type Status struct {
	Running bool
	PID     int
	Source  Source
	// Raw is the status script's output, kept for diagnostics.
	Raw string
}

// parseStatus reads the single verdict line printed by the status script:
// "running <source> <pid>" or "stopped".
func parseStatus(out string) Status {
	st := Status{Raw: strings.TrimSpace(out)}
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 3 && fields[0] == "running" {
			pid, err := strconv.Atoi(fields[2])
			if err != nil || pid <= 0 {
				continue
			}
			st.Running = true
			st.PID = pid
			st.Source = Source(fields[1])
			return st
		}
	}
	return st
}

// markerPID finds a "<marker> <pid>" line and returns the pid.
func markerPID(out, marker string) (int, bool) {
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 2 && fields[0] == marker {
			if pid, err := strconv.Atoi(fields[1]); err == nil && pid > 0 {
				return pid, true
			}
		}
	}
	return 0, false
}

// hasLine reports whether out contains line on its own.
func hasLine(out, line string) bool {
	for _, l := range strings.Split(out, "\n") {
		if strings.TrimSpace(l) == line {
			return true
		}
	}
	return false
}
