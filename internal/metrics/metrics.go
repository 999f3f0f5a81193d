// Package metrics exposes process and server-level counters via
// github.com/prometheus/client_golang, served over HTTP by cmd/ljrserver at
// the metrics.listen address. This is purely additive ambient
// observability the original never had (no equivalent in ljrServer); it is
// wired in because the example pack's client_golang dependency needs a
// concrete home, and every long-running server this module can produce
// benefits from basic request/connection counters.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsAccepted counts TCP connections accepted, labeled by
	// server name.
	ConnectionsAccepted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ljrserver_connections_accepted_total",
		Help: "Total TCP connections accepted, by server name.",
	}, []string{"server"})

	// ConnectionsActive tracks in-flight connections, labeled by server
	// name.
	ConnectionsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ljrserver_connections_active",
		Help: "Currently open connections, by server name.",
	}, []string{"server"})

	// FibersLive tracks the scheduler's live fiber count.
	FibersLive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ljrserver_fibers_live",
		Help: "Number of live (non-terminated) fibers in the process.",
	})

	// HTTPRequestDuration observes servlet dispatch latency by route and
	// status code.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ljrserver_http_request_duration_seconds",
		Help:    "HTTP request handling duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "status"})

	// RateLimitRejections counts requests rejected by the accept-rate
	// limiter, by server name.
	RateLimitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ljrserver_rate_limit_rejections_total",
		Help: "Accepted connections rejected by the rate limiter, by server name.",
	}, []string{"server"})
)

// Handler returns the Prometheus scrape endpoint handler.
func Handler() http.Handler { return promhttp.Handler() }

// StartFiberGaugeUpdater periodically sets FibersLive from totalFn (the
// scheduler's live fiber count, i.e. fiber.TotalFibers), in its own
// goroutine outside the fiber scheduler, the same way the metrics listener
// itself runs. Package metrics has no business importing package fiber for
// a single counter read, so the caller supplies the reader.
func StartFiberGaugeUpdater(interval time.Duration, totalFn func() int64) {
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for range t.C {
			FibersLive.Set(float64(totalFn()))
		}
	}()
}

// ListenAndServe starts a dedicated metrics HTTP server on addr. Intended
// to run in its own goroutine outside the fiber scheduler, since scraping
// is infrequent and doesn't need cooperative suspension.
func ListenAndServe(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	return http.ListenAndServe(addr, mux)
}
