package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// Labels stay bounded: route is the registered Gin pattern
// (/api/v1/messages/:id), never the raw URL, except for unmatched requests.
var (
	httpReqs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "HTTP requests by method, route and status.",
	}, []string{"method", "route", "status"})

	httpLat = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Latency of non-upgrade HTTP requests in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	httpInflight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_requests_inflight",
		Help: "Non-upgrade HTTP requests currently being served.",
	})

	// Upper buckets cover image attachments served inline.
	httpRespSize = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "http_response_size_bytes",
		Help: "Size of HTTP responses in bytes.",
		Buckets: []float64{
			200, 1 << 10, 4 << 10, 16 << 10, 64 << 10,
			256 << 10, 1 << 20, 4 << 20, 8 << 20,
		},
	}, []string{"method", "route"})

	// Upgrades hold the handler for the connection lifetime, so they are
	// counted here instead of skewing latency.
	socketUpgrades = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_socket_upgrades_total",
		Help: "Websocket handshakes by route and final status.",
	}, []string{"route", "status"})
)

func init() {
	prometheus.MustRegister(httpReqs, httpLat, httpInflight, httpRespSize, socketUpgrades)
}

// Metrics instruments every request. Mount /metrics with promhttp next to it.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := routeOf(c)
		if isUpgrade(c.Request) {
			c.Next()
			socketUpgrades.WithLabelValues(route, strconv.Itoa(c.Writer.Status())).Inc()
			return
		}

		start := time.Now()
		httpInflight.Inc()
		defer httpInflight.Dec()

		c.Next()

		method := c.Request.Method
		httpReqs.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
		httpLat.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
		// Size is -1 when nothing was written.
		if size := c.Writer.Size(); size >= 0 {
			httpRespSize.WithLabelValues(method, route).Observe(float64(size))
		}
	}
}
