// Package metrics exposes Prometheus counters for the defense core.
// A nil *Metrics is valid and records nothing, so services can be built without it in tests.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "storeguard"

// Decision outcomes used as label values
const (
	OutcomeAllowed    = "allowed"
	OutcomeRejected   = "rejected"
	OutcomeSuspicious = "suspicious"
	OutcomeError      = "store_error"
)

type Metrics struct {
	rateLimitDecisions *prometheus.CounterVec
	loginFailures      prometheus.Counter
	loginLockouts      prometheus.Counter
	replays            *prometheus.CounterVec
	signatureFailures  *prometheus.CounterVec
	securityEvents     *prometheus.CounterVec
	autoBlocks         *prometheus.CounterVec
	gateDenials        prometheus.Counter
	persistFailures    prometheus.Counter
	alertFailures      prometheus.Counter
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		rateLimitDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_decisions_total",
			Help:      "Rate limit decisions by endpoint category and outcome.",
		}, []string{"category", "outcome"}),
		loginFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "login_failures_total",
			Help:      "Recorded failed login attempts.",
		}),
		loginLockouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "login_lockouts_total",
			Help:      "Identifiers locked after too many failed logins.",
		}),
		replays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replays_detected_total",
			Help:      "Duplicate requests rejected by the replay detector.",
		}, []string{"endpoint"}),
		signatureFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signature_failures_total",
			Help:      "Payment signature verification failures.",
		}, []string{"kind"}),
		securityEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "security_events_total",
			Help:      "Security events recorded by type and severity.",
		}, []string{"type", "severity"}),
		autoBlocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ip_blocks_total",
			Help:      "IP blocks created by reason.",
		}, []string{"reason"}),
		gateDenials: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "block_gate_denials_total",
			Help:      "Requests denied because the client IP is blocked.",
		}),
		persistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_persist_failures_total",
			Help:      "Security events that could not be written to the durable log.",
		}),
		alertFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alert_failures_total",
			Help:      "Critical alert notifications that failed to send.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.rateLimitDecisions,
			m.loginFailures,
			m.loginLockouts,
			m.replays,
			m.signatureFailures,
			m.securityEvents,
			m.autoBlocks,
			m.gateDenials,
			m.persistFailures,
			m.alertFailures,
		)
	}
	return m
}

// RegisterQueueDepth exposes the persistence backlog as a gauge
func (m *Metrics) RegisterQueueDepth(reg prometheus.Registerer, depth func() int) {
	if m == nil || reg == nil {
		return
	}
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "event_persist_queue_depth",
		Help:      "Security events waiting to be written to the durable log.",
	}, func() float64 { return float64(depth()) }))
}

// RegisterPoolStats exposes database pool usage. stats returns acquired, idle and total connections.
func (m *Metrics) RegisterPoolStats(reg prometheus.Registerer, stats func() (acquired, idle, total int32)) {
	if m == nil || reg == nil {
		return
	}
	gauge := func(name, help string, pick func(a, i, t int32) int32) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "db_pool",
			Name:      name,
			Help:      help,
		}, func() float64 {
			a, i, t := stats()
			return float64(pick(a, i, t))
		})
	}
	reg.MustRegister(
		gauge("acquired_conns", "Connections currently checked out of the pool.", func(a, _, _ int32) int32 { return a }),
		gauge("idle_conns", "Idle connections held by the pool.", func(_, i, _ int32) int32 { return i }),
		gauge("total_conns", "All connections held by the pool.", func(_, _, t int32) int32 { return t }),
	)
}

func (m *Metrics) RateLimitDecision(category, outcome string) {
	if m == nil {
		return
	}
	m.rateLimitDecisions.WithLabelValues(category, outcome).Inc()
}

func (m *Metrics) LoginFailure(locked bool) {
	if m == nil {
		return
	}
	m.loginFailures.Inc()
	if locked {
		m.loginLockouts.Inc()
	}
}

func (m *Metrics) Replay(endpoint string) {
	if m == nil {
		return
	}
	m.replays.WithLabelValues(endpoint).Inc()
}

func (m *Metrics) SignatureFailure(kind string) {
	if m == nil {
		return
	}
	m.signatureFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) SecurityEvent(eventType, severity string) {
	if m == nil {
		return
	}
	m.securityEvents.WithLabelValues(eventType, severity).Inc()
}

func (m *Metrics) Block(reason string) {
	if m == nil {
		return
	}
	m.autoBlocks.WithLabelValues(reason).Inc()
}

func (m *Metrics) GateDenied() {
	if m == nil {
		return
	}
	m.gateDenials.Inc()
}

func (m *Metrics) PersistFailure() {
	if m == nil {
		return
	}
	m.persistFailures.Inc()
}

func (m *Metrics) AlertFailure() {
	if m == nil {
		return
	}
	m.alertFailures.Inc()
}
