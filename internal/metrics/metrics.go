// Package metrics holds the Prometheus collectors for the realtime layer.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	WSConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "doubtline_ws_connections",
		Help: "Current number of duplex connections registered with the hub",
	})
	Rooms = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "doubtline_rooms",
		Help: "Current number of rooms with at least one member",
	})
	StreamChannels = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "doubtline_stream_channels",
		Help: "Current number of open one-way push channels",
	})
	Deliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "doubtline_deliveries_total",
		Help: "Fan-out deliveries by event type and outcome",
	}, []string{"event", "outcome"})
	EventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "doubtline_events_published_total",
		Help: "Application events published through the HTTP producer path",
	}, []string{"kind"})
	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "doubtline_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

func init() {
	prometheus.MustRegister(WSConnections, Rooms, StreamChannels, Deliveries, EventsPublished, HTTPRequestDuration)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// GinMiddleware records request durations. Long-lived streams are excluded
// by the caller since their duration is the session length.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		HTTPRequestDuration.With(prometheus.Labels{
			"method": c.Request.Method,
			"path":   path,
			"status": strconv.Itoa(c.Writer.Status()),
		}).Observe(time.Since(start).Seconds())
	}
}
