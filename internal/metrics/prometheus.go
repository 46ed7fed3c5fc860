package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Request latency buckets, 5ms to 10s
	durationBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finder_http_requests_total",
			Help: "Total number of HTTP requests, by method, route and status code.",
		},
		[]string{"method", "route", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "finder_http_request_duration_seconds",
			Help:    "Histogram of HTTP request duration in seconds, by method and route.",
			Buckets: durationBuckets,
		},
		[]string{"method", "route"},
	)

	// Applications counts apply calls by result ("applied" or "noop").
	Applications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finder_applications_total",
			Help: "Total number of apply calls, by result.",
		},
		[]string{"result"},
	)

	Decisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finder_decisions_total",
			Help: "Total number of accepted decide calls, by decision.",
		},
		[]string{"decision"},
	)

	DecisionSyncs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finder_decision_syncs_total",
			Help: "Total number of finished decision syncs, by outcome (synced, failed, conflict).",
		},
		[]string{"outcome"},
	)

	NotificationsAppended = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finder_notifications_appended_total",
			Help: "Total number of notifications appended to ledgers, by type.",
		},
		[]string{"type"},
	)

	EmailsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finder_emails_dispatched_total",
			Help: "Total number of notification emails attempted, by result.",
		},
		[]string{"result"},
	)

	SignIns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finder_sign_ins_total",
			Help: "Total number of successful registrations and logins, by access role.",
		},
		[]string{"access"},
	)
)

// Handler returns the HTTP handler for the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request counts and durations. Routes are labelled by their echo path
// pattern so ids never become label values.
func Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				var he *echo.HTTPError
				var coded interface{ StatusCode() int }
				switch {
				case errors.As(err, &he):
					status = he.Code
				case errors.As(err, &coded):
					status = coded.StatusCode()
				default:
					status = http.StatusInternalServerError
				}
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			HTTPRequests.WithLabelValues(c.Request().Method, route, strconv.Itoa(status)).Inc()
			HTTPDuration.WithLabelValues(c.Request().Method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// ObserveSyncOutcome counts a finished decision sync.
func ObserveSyncOutcome(outcome string) {
	DecisionSyncs.WithLabelValues(outcome).Inc()
}

// ObserveEmail counts one email dispatch attempt.
func ObserveEmail(success bool) {
	result := "sent"
	if !success {
		result = "failed"
	}
	EmailsDispatched.WithLabelValues(result).Inc()
}
