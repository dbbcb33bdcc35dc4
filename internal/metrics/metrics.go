package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "records_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "records_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// AuthFailures is labelled with the error code returned to the client.
	AuthFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "records_auth_failures_total",
			Help: "Rejected authentication or authorization attempts",
		},
		[]string{"reason"},
	)

	TokensRevoked = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "records_tokens_revoked_total",
			Help: "Access tokens revoked through logout",
		},
	)

	RevocationsPurged = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "records_revocations_purged_total",
			Help: "Expired revocation entries removed from memory",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		AuthFailures,
		TokensRevoked,
		RevocationsPurged,
	)
}
