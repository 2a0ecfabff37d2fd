package metrics

import "time"

// ResultLabel enumerates outcome categories for counters and histograms.
type ResultLabel string

const (
	ResultSuccess  ResultLabel = "success"
	ResultFailed   ResultLabel = "failed"
	ResultTimeout  ResultLabel = "timeout"
	ResultSetup    ResultLabel = "setup_failed"
	ResultCanceled ResultLabel = "canceled"
)

// InstallOutcomeLabel enumerates terminal install events.
type InstallOutcomeLabel string

const (
	InstallComplete         InstallOutcomeLabel = "complete"
	InstallAlreadyInstalled InstallOutcomeLabel = "already_installed"
	InstallError            InstallOutcomeLabel = "error"
)

// Recorder defines observability hooks for commands, gateway operations and installs.
// Implementations may forward to Prometheus, OpenTelemetry, etc. NoopRecorder is the
// default so callers never nil-check.
type Recorder interface {
	ObserveCommand(result ResultLabel, d time.Duration)
	ObserveGatewayOp(op string, result ResultLabel, d time.Duration)
	IncGatewayRejected(op string)
	SetGatewayRunning(running bool)
	IncInstallOutcome(outcome InstallOutcomeLabel, reason string)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveCommand(ResultLabel, time.Duration)           {}
func (NoopRecorder) ObserveGatewayOp(string, ResultLabel, time.Duration) {}
func (NoopRecorder) IncGatewayRejected(string)                           {}
func (NoopRecorder) SetGatewayRunning(bool)                              {}
func (NoopRecorder) IncInstallOutcome(InstallOutcomeLabel, string)       {}

// OrNoop returns r, or NoopRecorder when r is nil.
func OrNoop(r Recorder) Recorder {
	if r == nil {
		return NoopRecorder{}
	}
	return r
}
