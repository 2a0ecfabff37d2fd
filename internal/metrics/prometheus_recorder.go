package metrics

import (
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

const namespace = "claw"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once            sync.Once
	commandDuration *prom.HistogramVec
	commandResults  *prom.CounterVec
	gatewayDuration *prom.HistogramVec
	gatewayResults  *prom.CounterVec
	gatewayRejected *prom.CounterVec
	gatewayRunning  prom.Gauge
	installOutcomes *prom.CounterVec
}

// NewPrometheusRecorder constructs and registers Prometheus metrics (idempotent).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.commandDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Wall-clock duration of one-shot shell commands",
			Buckets:   prom.DefBuckets,
		}, []string{"result"})
		pr.commandResults = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "command_results_total",
			Help:      "One-shot command outcomes",
		}, []string{"result"})
		pr.gatewayDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_operation_duration_seconds",
			Help:      "Duration of gateway start/stop operations",
			Buckets:   []float64{0.5, 1, 2, 4, 8, 15, 30, 60},
		}, []string{"op", "result"})
		pr.gatewayResults = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_operation_results_total",
			Help:      "Gateway start/stop outcomes",
		}, []string{"op", "result"})
		pr.gatewayRejected = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_operation_rejected_total",
			Help:      "Gateway operations rejected because another one was in flight",
		}, []string{"op"})
		pr.gatewayRunning = prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "gateway_running",
			Help:      "1 when the last status check found the gateway running",
		})
		pr.installOutcomes = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "install_outcomes_total",
			Help:      "Install attempts by terminal event",
		}, []string{"outcome", "reason"})
		reg.MustRegister(pr.commandDuration, pr.commandResults, pr.gatewayDuration, pr.gatewayResults,
			pr.gatewayRejected, pr.gatewayRunning, pr.installOutcomes)
	})
	return pr
}

func (p *PrometheusRecorder) ObserveCommand(result ResultLabel, d time.Duration) {
	if p == nil || p.commandDuration == nil {
		return
	}
	p.commandDuration.WithLabelValues(string(result)).Observe(d.Seconds())
	p.commandResults.WithLabelValues(string(result)).Inc()
}

func (p *PrometheusRecorder) ObserveGatewayOp(op string, result ResultLabel, d time.Duration) {
	if p == nil || p.gatewayDuration == nil {
		return
	}
	p.gatewayDuration.WithLabelValues(op, string(result)).Observe(d.Seconds())
	p.gatewayResults.WithLabelValues(op, string(result)).Inc()
}

func (p *PrometheusRecorder) IncGatewayRejected(op string) {
	if p == nil || p.gatewayRejected == nil {
		return
	}
	p.gatewayRejected.WithLabelValues(op).Inc()
}

func (p *PrometheusRecorder) SetGatewayRunning(running bool) {
	if p == nil || p.gatewayRunning == nil {
		return
	}
	v := 0.0
	if running {
		v = 1
	}
	p.gatewayRunning.Set(v)
}

func (p *PrometheusRecorder) IncInstallOutcome(outcome InstallOutcomeLabel, reason string) {
	if p == nil || p.installOutcomes == nil {
		return
	}
	p.installOutcomes.WithLabelValues(string(outcome), reason).Inc()
}
