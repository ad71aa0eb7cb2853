// Package metrics exposes Prometheus counters for the refresh cycle and
// request-time header injection.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RefreshTotal counts refresh cycle outcomes. Results: success,
	// dispatch_error, empty_body, store_error.
	RefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "headergate_refresh_total",
		Help: "Header cache refresh attempts by result.",
	}, []string{"result"})

	// InjectionTotal counts per-request injection outcomes. Results:
	// injected, rejected, decode_error.
	InjectionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "headergate_injection_total",
		Help: "Request header injection attempts by result.",
	}, []string{"result"})
)

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
