package resilience

import "github.com/prometheus/client_golang/prometheus"

// Collectors are labelled by target, the payment gateway id.
var (
	BreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gateway_breaker_state",
		Help: "Breaker state per gateway: 0 closed, 1 open, 2 half-open.",
	}, []string{"target"})
	BreakerTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_breaker_transition_total",
		Help: "Breaker state transitions per gateway.",
	}, []string{"target", "from", "to"})
	BreakerOpenedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_breaker_open_total",
		Help: "Times a gateway breaker tripped open.",
	}, []string{"target"})
	// AttemptsTotal counts individual HTTP attempts, retries included.
	AttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_http_attempts_total",
		Help: "Outbound gateway HTTP attempts by outcome.",
	}, []string{"target", "outcome"})
)

func init() {
	prometheus.MustRegister(BreakerState, BreakerTransitions, BreakerOpenedTotal, AttemptsTotal)
}

func countAttempt(b *Breaker, outcome string) {
	AttemptsTotal.WithLabelValues(b.Target(), outcome).Inc()
}
