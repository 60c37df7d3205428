package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "promopal_http_requests_total",
		Help: "Total number of HTTP requests processed.",
	}, []string{"method", "route"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "promopal_http_request_duration_seconds",
		Help:    "Histogram of latencies for HTTP requests.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	recipientSends = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "promopal_campaign_recipient_sends_total",
		Help: "Per-recipient campaign send attempts by outcome.",
	}, []string{"outcome"})

	tokenRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "promopal_token_refresh_total",
		Help: "OAuth token refresh attempts by provider and outcome.",
	}, []string{"provider", "outcome"})

	autoCampaignsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "promopal_auto_campaigns_created_total",
		Help: "Auto-campaign drafts created by the scheduler.",
	})

	externalCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "promopal_external_call_duration_seconds",
		Help:    "Latency of calls to third-party APIs.",
		Buckets: prometheus.DefBuckets,
	}, []string{"service", "operation", "outcome"})

	jobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "promopal_jobs_processed_total",
		Help: "Background jobs processed by topic and outcome.",
	}, []string{"topic", "outcome"})
)

// Middleware records request count and latency labelled by chi route pattern.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			route := routePattern(r)
			httpRequestsTotal.WithLabelValues(r.Method, route).Inc()
			httpRequestDuration.WithLabelValues(r.Method, route, strconv.Itoa(ww.Status())).
				Observe(time.Since(start).Seconds())
		})
	}
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func RecipientSend(outcome string) {
	recipientSends.WithLabelValues(outcome).Inc()
}

func TokenRefresh(provider, outcome string) {
	tokenRefreshes.WithLabelValues(provider, outcome).Inc()
}

func AutoCampaignsCreated(n int) {
	autoCampaignsCreated.Add(float64(n))
}

func JobProcessed(topic, outcome string) {
	jobsProcessed.WithLabelValues(topic, outcome).Inc()
}

// ObserveExternal records the latency of a third-party call started at start.
func ObserveExternal(service, operation string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	externalCallDuration.WithLabelValues(service, operation, outcome).Observe(time.Since(start).Seconds())
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := strings.TrimSpace(rctx.RoutePattern()); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}
