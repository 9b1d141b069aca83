package prometheus

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/supporttools/prism-check/pkg/logger"
)

// promErrorLogger adapts the package logger to promhttp's error log.
type promErrorLogger struct{}

func (promErrorLogger) Println(v ...interface{}) {
	logger.WithField("component", "prometheus-exporter").Error(v...)
}

// newHandler serves the registry in the Prometheus text or OpenMetrics format.
func newHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorLog:          promErrorLogger{},
		ErrorHandling:     promhttp.ContinueOnError,
		Registry:          registry,
	})
}
