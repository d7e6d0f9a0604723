package client

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "oso_client_requests_total",
		Help: "Requests sent to the authorization service.",
	}, []string{"endpoint", "code"})

	requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "oso_client_request_duration_seconds",
		Help:    "Authorization service request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})
)

// RegisterMetrics registers the client collectors with reg.
func RegisterMetrics(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{requestsTotal, requestDuration} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}
