package obs

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// PaymentInitiationTotal counts payment initiation outcomes per gateway.
	PaymentInitiationTotal *prometheus.CounterVec
	// OrderConfirmationTotal counts confirmation outcomes (created, already_processed, pending, failed).
	OrderConfirmationTotal *prometheus.CounterVec
	// PaymentWebhookTotal counts inbound payment webhook processing outcomes.
	PaymentWebhookTotal *prometheus.CounterVec
	// CouponValidationTotal counts coupon validations by result or rejection reason.
	CouponValidationTotal *prometheus.CounterVec
	// ReconcileJobsTotal counts reconciliation job outcomes.
	ReconcileJobsTotal *prometheus.CounterVec
	// GatewayCallLatency records gateway call latency in milliseconds.
	GatewayCallLatency *prometheus.HistogramVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		PaymentInitiationTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_initiation_total",
			Help:      "Count of payment initiation outcomes.",
		}, []string{"gateway", "result"}))
		OrderConfirmationTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_confirmation_total",
			Help:      "Count of order confirmation outcomes.",
		}, []string{"gateway", "result"}))
		PaymentWebhookTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_webhook_total",
			Help:      "Count of processed payment webhooks by outcome.",
		}, []string{"gateway", "result"}))
		CouponValidationTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coupon_validation_total",
			Help:      "Count of coupon validations by result.",
		}, []string{"result"}))
		ReconcileJobsTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_jobs_total",
			Help:      "Count of payment reconciliation job outcomes.",
		}, []string{"result"}))
		GatewayCallLatency = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_call_duration_ms",
			Help:      "Latency for payment gateway calls in milliseconds.",
			Buckets:   []float64{25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}, []string{"gateway", "operation", "result"}))
	})
}

// CountCouponValidation increments the coupon counter when metrics are registered.
func CountCouponValidation(result string) {
	if CouponValidationTotal != nil {
		CouponValidationTotal.WithLabelValues(result).Inc()
	}
}

// CountConfirmation increments the confirmation counter when metrics are registered.
func CountConfirmation(gateway, result string) {
	if OrderConfirmationTotal != nil {
		OrderConfirmationTotal.WithLabelValues(gateway, result).Inc()
	}
}

// CountPaymentInitiation increments the initiation counter when metrics are registered.
func CountPaymentInitiation(gateway, result string) {
	if PaymentInitiationTotal != nil {
		PaymentInitiationTotal.WithLabelValues(gateway, result).Inc()
	}
}

// CountWebhook increments the webhook counter when metrics are registered.
func CountWebhook(gateway, result string) {
	if PaymentWebhookTotal != nil {
		PaymentWebhookTotal.WithLabelValues(gateway, result).Inc()
	}
}

// CountReconcile increments the reconciliation counter when metrics are registered.
func CountReconcile(result string) {
	if ReconcileJobsTotal != nil {
		ReconcileJobsTotal.WithLabelValues(result).Inc()
	}
}

// ObserveGatewayCall records the latency of a single gateway operation.
func ObserveGatewayCall(gateway, operation, result string, elapsed time.Duration) {
	if GatewayCallLatency != nil {
		GatewayCallLatency.WithLabelValues(gateway, operation, result).Observe(float64(elapsed.Milliseconds()))
	}
}
