// Package exporters exposes the registry metrics to scrapers.
package exporters

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTPHandler serves every promauto-registered collector in the Prometheus
// text format.
func HTTPHandler() http.Handler {
	return promhttp.Handler()
}
