package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LoginAttempts counts finished login attempts by platform and outcome.
	LoginAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fedilogin_login_attempts_total",
			Help: "The total number of login attempts, by platform and outcome.",
		},
		[]string{"platform", "outcome"},
	)

	DpopNonceRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fedilogin_dpop_nonce_retries_total",
			Help: "The total number of requests retried with a server issued dpop nonce.",
		},
		[]string{"endpoint"},
	)

	ClientRegistrations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fedilogin_client_registrations_total",
			Help: "The total number of dynamic client registrations sent to mastodon instances.",
		},
		[]string{"outcome"},
	)

	// CallbackWait observes how long a login waited on the browser redirect.
	CallbackWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fedilogin_callback_wait_seconds",
			Help:    "Time spent waiting on the loopback callback.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8),
		},
		[]string{"platform"},
	)
)
