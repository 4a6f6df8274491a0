package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "licensing"

var (
	DeviceActivations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "device_activations_total",
		Help:      "Device activation attempts by outcome.",
	}, []string{"outcome"})

	KeyValidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "key_validations_total",
		Help:      "API key validations by outcome.",
	}, []string{"outcome"})

	SecurityAlerts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "security_alerts_total",
		Help:      "Security alerts raised by type and severity.",
	}, []string{"type", "severity"})

	TokensIssued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "license_tokens_issued_total",
		Help:      "License tokens issued.",
	})

	RateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limited_requests_total",
		Help:      "Requests rejected by the rate limiter, by route.",
	}, []string{"route"})

	PurgedRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "purged_rows_total",
		Help:      "Rows removed by housekeeping tasks.",
	}, []string{"table"})
)
