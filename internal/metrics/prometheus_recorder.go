package metrics

import (
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// supervisorStatuses are the values SetSupervisorStatus toggles between.
var supervisorStatuses = []string{"UNKNOWN", "INITIALIZING", "OPEN"}

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once             sync.Once
	resourceDuration *prom.HistogramVec
	pollDuration     *prom.HistogramVec
	pollAttempts     prom.Histogram
	heartbeats       *prom.CounterVec
	supervisorStatus *prom.GaugeVec
	transitions      *prom.CounterVec
	initResults      *prom.CounterVec
}

// NewPrometheusRecorder constructs and registers Prometheus metrics (idempotent).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.resourceDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "bootstrapd",
			Name:      "resource_update_duration_seconds",
			Help:      "Duration of resource bundle updates",
			Buckets:   prom.DefBuckets,
		}, []string{"kind", "result"})
		pr.pollDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "bootstrapd",
			Name:      "sidecar_readiness_seconds",
			Help:      "Time from spawn or attach until the sidecar answered healthy",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40},
		}, []string{"result"})
		pr.pollAttempts = prom.NewHistogram(prom.HistogramOpts{
			Namespace: "bootstrapd",
			Name:      "sidecar_readiness_attempts",
			Help:      "Readiness poll attempts per connection",
			Buckets:   prom.LinearBuckets(1, 3, 11),
		})
		pr.heartbeats = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "bootstrapd",
			Name:      "lease_renewals_total",
			Help:      "Lifetime lease renewals by outcome",
		}, []string{"result"})
		pr.supervisorStatus = prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: "bootstrapd",
			Name:      "supervisor_status",
			Help:      "1 for the current sidecar supervisor status, 0 otherwise",
		}, []string{"status"})
		pr.transitions = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "bootstrapd",
			Name:      "app_state_transitions_total",
			Help:      "Application state transitions by target state",
		}, []string{"state"})
		pr.initResults = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "bootstrapd",
			Name:      "init_results_total",
			Help:      "First-run initialization outcomes",
		}, []string{"result"})
		reg.MustRegister(pr.resourceDuration, pr.pollDuration, pr.pollAttempts, pr.heartbeats, pr.supervisorStatus, pr.transitions, pr.initResults)
	})
	return pr
}

func (p *PrometheusRecorder) ObserveResourceUpdate(kind string, d time.Duration, result ResultLabel) {
	if p == nil || p.resourceDuration == nil {
		return
	}
	p.resourceDuration.WithLabelValues(kind, string(result)).Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObserveReadinessPoll(attempts int, d time.Duration, result ResultLabel) {
	if p == nil || p.pollDuration == nil {
		return
	}
	p.pollDuration.WithLabelValues(string(result)).Observe(d.Seconds())
	p.pollAttempts.Observe(float64(attempts))
}

func (p *PrometheusRecorder) IncHeartbeat(result ResultLabel) {
	if p == nil || p.heartbeats == nil {
		return
	}
	p.heartbeats.WithLabelValues(string(result)).Inc()
}

func (p *PrometheusRecorder) SetSupervisorStatus(status string) {
	if p == nil || p.supervisorStatus == nil {
		return
	}
	for _, s := range supervisorStatuses {
		v := 0.0
		if s == status {
			v = 1
		}
		p.supervisorStatus.WithLabelValues(s).Set(v)
	}
}

func (p *PrometheusRecorder) IncStateTransition(state string) {
	if p == nil || p.transitions == nil {
		return
	}
	p.transitions.WithLabelValues(state).Inc()
}

func (p *PrometheusRecorder) IncInitResult(result ResultLabel) {
	if p == nil || p.initResults == nil {
		return
	}
	p.initResults.WithLabelValues(string(result)).Inc()
}
