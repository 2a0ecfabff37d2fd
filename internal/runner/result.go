package runner

import (
	"errors"
	"strings"

	clawerrors "github.com/luxiaoyu/claw-app/internal/errors"
)

// tailLines is how much output a failure error carries.
const tailLines = 20

// Err classifies a failed result as a ClawError for op. It returns nil on success.
func (r *Result) Err(op string) error {
	if r == nil || r.Success {
		return nil
	}
	switch {
	case !r.Started:
		return clawerrors.SetupFailed(op, errors.New(r.Stderr))
	case r.TimedOut:
		return clawerrors.TimedOut(op, r.Timeout).WithContext("detail", Tail(r.Stdout, tailLines))
	default:
		detail := Tail(r.Stdout, tailLines)
		if r.Stderr != "" {
			detail = strings.TrimSpace(detail + "\n" + r.Stderr)
		}
		return clawerrors.ScriptFailed(op, r.ExitCode, detail)
	}
}

// Tail returns the last n non-empty-trailing lines of s.
func Tail(s string, n int) string {
	s = strings.TrimRight(s, "\n")
	if s == "" || n <= 0 {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
