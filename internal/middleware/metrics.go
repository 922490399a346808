package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/porteria/backend/pkg/metrics"
)

// Metrics records request count, latency and in-flight requests. The route label
// is gin's route template so ids do not explode cardinality.
func Metrics(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		m.HTTPInFlight.Inc()
		start := time.Now()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		m.HTTPRequestDuration.WithLabelValues(c.Request.Method, route, status).Observe(time.Since(start).Seconds())
		m.HTTPRequestsTotal.WithLabelValues(c.Request.Method, route, status).Inc()
		m.HTTPInFlight.Dec()
	}
}
