package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"service", "method", "path", "status"},
	)

	HTTPRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)

	IdentityRegistrationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "directory_identity_registrations_total",
			Help: "Total identity registration attempts.",
		},
		[]string{"service", "result"},
	)

	InviteDiscoveriesPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "directory_invite_discoveries_published_total",
			Help: "Total invite discovery publish attempts.",
		},
		[]string{"service", "result"},
	)

	InviteDiscoveriesFetchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "directory_invite_discoveries_fetched_total",
			Help: "Total invite discovery fetch attempts.",
		},
		[]string{"service", "result"},
	)
)

func MustRegister(serviceName string) {
	HTTPRequestsTotal = HTTPRequestsTotal.MustCurryWith(prometheus.Labels{"service": serviceName})
	HTTPRequestDurationSeconds = HTTPRequestDurationSeconds.MustCurryWith(prometheus.Labels{"service": serviceName}).(*prometheus.HistogramVec)
	IdentityRegistrationsTotal = IdentityRegistrationsTotal.MustCurryWith(prometheus.Labels{"service": serviceName})
	InviteDiscoveriesPublishedTotal = InviteDiscoveriesPublishedTotal.MustCurryWith(prometheus.Labels{"service": serviceName})
	InviteDiscoveriesFetchedTotal = InviteDiscoveriesFetchedTotal.MustCurryWith(prometheus.Labels{"service": serviceName})

	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDurationSeconds,
		IdentityRegistrationsTotal,
		InviteDiscoveriesPublishedTotal,
		InviteDiscoveriesFetchedTotal,
	)
}
