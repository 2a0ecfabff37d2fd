package install

import (
	"fmt"
	"strings"
)

// Sentinel lines of the installer protocol.
const (
	SentinelComplete         = "KIMICLAW_COMPLETE"
	SentinelAlreadyInstalled = "KIMICLAW_ALREADY_INSTALLED"
	SentinelErrorPrefix      = "KIMICLAW_ERROR:"
)

// Kind tags an Event.
type Kind int

const (
	KindLog Kind = iota
	KindError
	KindComplete
	KindAlreadyInstalled
)

func (k Kind) String() string {
	switch k {
	case KindLog:
		return "log"
	case KindError:
		return "error"
	case KindComplete:
		return "complete"
	case KindAlreadyInstalled:
		return "already_installed"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Reason says where an Error event came from.
type Reason string

const (
	ReasonSetup   Reason = "setup"   // script copy or process start failed
	ReasonScript  Reason = "script"  // KIMICLAW_ERROR sentinel
	ReasonExit    Reason = "exit"    // non-zero exit without a sentinel
	ReasonTimeout Reason = "timeout" // attempt exceeded its deadline
	ReasonIO      Reason = "io"      // reading output failed
)

// Event is one element of an install attempt. Line is set for KindLog;
// Message and Reason for KindError.
type Event struct {
	Kind    Kind
	Line    string
	Message string
	Reason  Reason
}

// Terminal reports whether e ends the attempt.
func (e Event) Terminal() bool {
	return e.Kind != KindLog
}

func (e Event) String() string {
	switch e.Kind {
	case KindLog:
		return e.Line
	case KindError:
		return fmt.Sprintf("error(%s): %s", e.Reason, e.Message)
	default:
		return e.Kind.String()
	}
}

func logEvent(line string) Event { return Event{Kind: KindLog, Line: line} }

func errorEvent(reason Reason, msg string) Event {
	return Event{Kind: KindError, Reason: reason, Message: msg}
}

// Classify maps a sentinel line to its terminal event. Ordinary lines return false.
func Classify(line string) (Event, bool) {
	switch {
	case line == SentinelComplete:
		return Event{Kind: KindComplete}, true
	case line == SentinelAlreadyInstalled:
		return Event{Kind: KindAlreadyInstalled}, true
	case strings.HasPrefix(line, SentinelErrorPrefix):
		return errorEvent(ReasonScript, strings.TrimSpace(strings.TrimPrefix(line, SentinelErrorPrefix))), true
	default:
		return Event{}, false
	}
}
