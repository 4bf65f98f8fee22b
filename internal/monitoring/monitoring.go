// Package monitoring provides Prometheus metrics and leveled logging
// helpers shared by every component of the daemon.
package monitoring

import (
	"bufio"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Common namespace for all metrics in the daemon
	namespace = "skyfeeder"

	// logging level: 0=info, 1=debug
	logLevel int32

	// Poll cycle metrics
	PollCycles = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poll",
			Name:      "cycles_total",
			Help:      "Total number of poll cycles",
		},
	)

	PollErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poll",
			Name:      "errors_total",
			Help:      "Total number of failed upstream fetches",
		},
		[]string{"source"},
	)

	PollDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "poll",
			Name:      "duration_seconds",
			Help:      "Duration of a full poll cycle",
			Buckets:   prometheus.DefBuckets,
		},
	)

	PollLastSuccess = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "poll",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful poll cycle",
		},
	)

	AircraftTracked = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "poll",
			Name:      "aircraft_tracked",
			Help:      "Number of aircraft in the last poll cycle",
		},
	)

	// ACARS ingest metrics
	AcarsMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "acars",
			Name:      "messages_total",
			Help:      "Total number of ACARS/VDL2 messages ingested per source",
		},
		[]string{"source"},
	)

	AcarsErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "acars",
			Name:      "errors_total",
			Help:      "Total number of ACARS/VDL2 parse failures per source",
		},
		[]string{"source"},
	)

	AcarsDuplicates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "acars",
			Name:      "duplicates_total",
			Help:      "Total number of deduplicated ACARS/VDL2 messages per source",
		},
		[]string{"source"},
	)

	// Safety and alert metrics
	SafetyEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "safety",
			Name:      "events_total",
			Help:      "Total number of safety events by type",
		},
		[]string{"event_type"},
	)

	AlertsFired = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "fired_total",
			Help:      "Total number of alert-rule triggers by priority",
		},
		[]string{"priority"},
	)

	// Fan-out metrics
	FanoutClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "subscribers",
			Help:      "Number of connected fan-out subscribers",
		},
	)

	FanoutPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "published_total",
			Help:      "Total number of events published per topic",
		},
		[]string{"topic"},
	)

	FanoutDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "dropped_total",
			Help:      "Total number of events dropped on slow subscribers",
		},
	)

	// Persistence metrics
	StoreErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "errors_total",
			Help:      "Total number of failed store operations",
		},
		[]string{"operation"},
	)

	NotificationsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "sent_total",
			Help:      "Total number of notifications sent by outcome",
		},
		[]string{"outcome"},
	)

	// HTTP server metrics
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Duration of HTTP requests",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

func init() {
	prometheus.MustRegister(
		PollCycles,
		PollErrors,
		PollDuration,
		PollLastSuccess,
		AircraftTracked,
		AcarsMessages,
		AcarsErrors,
		AcarsDuplicates,
		SafetyEvents,
		AlertsFired,
		FanoutClients,
		FanoutPublished,
		FanoutDropped,
		StoreErrors,
		NotificationsSent,
		HTTPRequests,
		HTTPDuration,
	)

	// default from env
	ConfigureLogLevelFromEnv()
}

// Logging level helpers
func SetLogLevel(level string) {
	switch strings.ToLower(level) {
	case "debug":
		atomic.StoreInt32(&logLevel, 1)
		log.Printf("log_level=debug")
	case "info", "":
		atomic.StoreInt32(&logLevel, 0)
		log.Printf("log_level=info")
	default:
		// unknown -> info
		atomic.StoreInt32(&logLevel, 0)
		log.Printf("log_level=info (unknown level %q)", level)
	}
}

func ConfigureLogLevelFromEnv() {
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		SetLogLevel(lvl)
		return
	}
	if d := strings.ToLower(os.Getenv("DEBUG")); d == "1" || d == "true" || d == "yes" {
		SetLogLevel("debug")
		return
	}
	SetLogLevel("info")
}

func IsDebug() bool { return atomic.LoadInt32(&logLevel) == 1 }

func Debugf(format string, args ...interface{}) {
	if IsDebug() {
		log.Printf("DEBUG "+format, args...)
	}
}

// ============ Helpers and middlewares for metrics ============

type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (rr *responseRecorder) WriteHeader(code int) {
	rr.status = code
	rr.ResponseWriter.WriteHeader(code)
}

// Hijack delegates to the underlying writer so websocket upgrades work
// through the middleware chain.
func (rr *responseRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rr.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("underlying ResponseWriter does not implement http.Hijacker")
	}
	return hj.Hijack()
}

// Flush delegates to the underlying writer for streaming responses.
func (rr *responseRecorder) Flush() {
	if f, ok := rr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// MetricsMiddleware instruments all HTTP traffic.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rr := &responseRecorder{ResponseWriter: w, status: 200}
		next.ServeHTTP(rr, r)

		duration := time.Since(start).Seconds()
		path := r.URL.Path

		HTTPDuration.WithLabelValues(r.Method, path).Observe(duration)
		HTTPRequests.WithLabelValues(r.Method, path, http.StatusText(rr.status)).Inc()
	})
}

// LoggingMiddleware writes a structured log line for each HTTP request.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rr := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rr, r)

		dur := time.Since(start)
		path := r.URL.Path
		if q := r.URL.RawQuery; q != "" {
			path = path + "?" + q
		}

		log.Printf("http_request method=%s path=%q status=%d duration=%s remote=%s",
			r.Method, path, rr.status, dur, clientIP(r))
	})
}

// PrometheusHandler exposes registered metrics.
func PrometheusHandler() http.Handler { return promhttp.Handler() }

// clientIP tries to determine the real client IP.
func clientIP(r *http.Request) string {
	// Check X-Forwarded-For first
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	// Then X-Real-Ip
	if xr := r.Header.Get("X-Real-Ip"); xr != "" {
		return xr
	}
	// Fallback to RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
