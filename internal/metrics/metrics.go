package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RedirectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xafra_redirects_total",
			Help: "Redirect requests by route and outcome",
		},
		[]string{"route", "outcome"}, // direct|auto|random , redirected|not_found|error
	)

	SelectionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xafra_distribution_selection_total",
			Help: "Traffic-distribution decisions by selection method",
		},
		[]string{"method"}, // performance|random
	)

	ConfirmationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xafra_confirmations_total",
			Help: "Confirmation requests by result",
		},
		[]string{"result"}, // confirmed|already_confirmed|not_found|error
	)

	PostbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xafra_postbacks_total",
			Help: "Postback delivery attempts by result",
		},
		[]string{"result"}, // delivered|timeout|connection_refused|dns_failure|http_error|error
	)

	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xafra_postback_retries_total",
			Help: "Retry scheduler outcomes",
		},
		[]string{"outcome"}, // completed|rescheduled|exhausted|cancelled
	)

	RedirectLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "xafra_redirect_latency_seconds",
			Help:    "End-to-end latency of the redirect path",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
	)
)

func MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		RedirectsTotal,
		SelectionTotal,
		ConfirmationsTotal,
		PostbacksTotal,
		RetriesTotal,
		RedirectLatency,
	)
}
