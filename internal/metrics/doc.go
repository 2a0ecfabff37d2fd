// Package metrics records command, gateway and install outcomes.
//
// Components receive a Recorder through their options and default to
// NoopRecorder, so nothing nil-checks:
//
//	r := runner.New(shell, runner.WithRecorder(metrics.NewPrometheusRecorder(reg)))
//
// `clawctl watch` is the only command that serves the registry over HTTP
// (HTTPHandler); one-shot commands record into a private registry that is
// dropped on exit.
package metrics
