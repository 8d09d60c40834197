/*
Copyright © 2025 The Undertaking Authors.

Released under MIT license.
*/

package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/acronis/go-appkit/lrucache"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/twz123/undertaking-sub000/internal/libinfo"
)

const PrometheusNamespace = "undertaking"

const DefaultPrometheusLibInstanceLabel = "default"

const (
	PrometheusLibInstanceLabel = "lib_instance"
	PrometheusLibSourceLabel   = "lib_source"
)

// Sources of metrics inside the library.
const (
	SourceTokenRefresher     = "token_refresher"
	SourceTokenInfoValidator = "token_info_validator"
	SourceHTTPMiddleware     = "http_middleware"
)

func PrometheusLabels() prometheus.Labels {
	return prometheus.Labels{"lib_version": libinfo.GetLibVersion()}
}

const (
	HTTPClientRequestLabelMethod     = "method"
	HTTPClientRequestLabelURL        = "url"
	HTTPClientRequestLabelStatusCode = "status_code"
	HTTPClientRequestLabelError      = "error"

	TokenRefreshLabelResult     = "result"
	TokenValidationLabelStatus  = "status"
	CircuitBreakerLabelName     = "name"
	CircuitBreakerLabelNewState = "new_state"
)

const (
	HTTPRequestErrorDo                   = "do_request_error"
	HTTPRequestErrorDecodeBody           = "decode_body_error"
	HTTPRequestErrorUnexpectedStatusCode = "unexpected_status_code"
)

// Token refresh cycle results.
const (
	TokenRefreshResultSuccess        = "success"
	TokenRefreshResultFailure        = "failure"
	TokenRefreshResultBadCredentials = "bad_credentials"
	TokenRefreshResultCircuitOpen    = "circuit_open"
)

// Token validation statuses.
const (
	TokenValidationStatusActive      = "active"
	TokenValidationStatusBadToken    = "bad_token"
	TokenValidationStatusError       = "error"
	TokenValidationStatusTimeout     = "timeout"
	TokenValidationStatusCircuitOpen = "circuit_open"
)

var requestDurationBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

var (
	prometheusMetrics     *PrometheusMetrics
	prometheusMetricsOnce sync.Once
)

// PrometheusMetrics represents the collector of metrics.
type PrometheusMetrics struct {
	HTTPClientRequestDuration      *prometheus.HistogramVec
	TokenRefreshCyclesTotal        *prometheus.CounterVec
	TokenValidationsTotal          *prometheus.CounterVec
	CircuitBreakerStateChangeTotal *prometheus.CounterVec
	TokenClaimsCache               *lrucache.PrometheusMetrics
	TokenNegativeCache             *lrucache.PrometheusMetrics
}

func GetPrometheusMetrics(instance string, source string) *PrometheusMetrics {
	prometheusMetricsOnce.Do(func() {
		prometheusMetrics = newPrometheusMetrics()
		prometheusMetrics.MustRegister()
	})
	if instance == "" {
		instance = DefaultPrometheusLibInstanceLabel
	}
	return prometheusMetrics.MustCurryWith(map[string]string{
		PrometheusLibInstanceLabel: instance,
		PrometheusLibSourceLabel:   source,
	})
}

func newPrometheusMetrics() *PrometheusMetrics {
	curriedLabelNames := []string{PrometheusLibInstanceLabel, PrometheusLibSourceLabel}
	makeLabelNames := func(names ...string) []string {
		l := append(make([]string, 0, len(curriedLabelNames)+len(names)), curriedLabelNames...)
		return append(l, names...)
	}

	httpClientReqDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   PrometheusNamespace,
			Name:        "http_client_request_duration_seconds",
			Help:        "A histogram of the http client request durations to OAuth2 endpoints.",
			Buckets:     requestDurationBuckets,
			ConstLabels: PrometheusLabels(),
		},
		makeLabelNames(HTTPClientRequestLabelMethod, HTTPClientRequestLabelURL,
			HTTPClientRequestLabelStatusCode, HTTPClientRequestLabelError),
	)
	tokenRefreshCycles := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   PrometheusNamespace,
			Name:        "token_refresh_cycles_total",
			Help:        "A counter of access token refresh cycles by result.",
			ConstLabels: PrometheusLabels(),
		},
		makeLabelNames(TokenRefreshLabelResult),
	)
	tokenValidations := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   PrometheusNamespace,
			Name:        "token_validations_total",
			Help:        "A counter of token info validations by status.",
			ConstLabels: PrometheusLabels(),
		},
		makeLabelNames(TokenValidationLabelStatus),
	)
	breakerStateChanges := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   PrometheusNamespace,
			Name:        "circuit_breaker_state_changes_total",
			Help:        "A counter of circuit breaker state transitions.",
			ConstLabels: PrometheusLabels(),
		},
		makeLabelNames(CircuitBreakerLabelName, CircuitBreakerLabelNewState),
	)

	tokenClaimsCache := lrucache.NewPrometheusMetricsWithOpts(lrucache.PrometheusMetricsOpts{
		Namespace:         PrometheusNamespace + "_token_claims",
		ConstLabels:       PrometheusLabels(),
		CurriedLabelNames: curriedLabelNames,
	})

	tokenNegativeCache := lrucache.NewPrometheusMetricsWithOpts(lrucache.PrometheusMetricsOpts{
		Namespace:         PrometheusNamespace + "_token_negative",
		ConstLabels:       PrometheusLabels(),
		CurriedLabelNames: curriedLabelNames,
	})

	return &PrometheusMetrics{
		HTTPClientRequestDuration:      httpClientReqDuration,
		TokenRefreshCyclesTotal:        tokenRefreshCycles,
		TokenValidationsTotal:          tokenValidations,
		CircuitBreakerStateChangeTotal: breakerStateChanges,
		TokenClaimsCache:               tokenClaimsCache,
		TokenNegativeCache:             tokenNegativeCache,
	}
}

// MustCurryWith curries the metrics collector with the provided labels.
func (pm *PrometheusMetrics) MustCurryWith(labels prometheus.Labels) *PrometheusMetrics {
	return &PrometheusMetrics{
		HTTPClientRequestDuration:      pm.HTTPClientRequestDuration.MustCurryWith(labels).(*prometheus.HistogramVec),
		TokenRefreshCyclesTotal:        pm.TokenRefreshCyclesTotal.MustCurryWith(labels),
		TokenValidationsTotal:          pm.TokenValidationsTotal.MustCurryWith(labels),
		CircuitBreakerStateChangeTotal: pm.CircuitBreakerStateChangeTotal.MustCurryWith(labels),
		TokenClaimsCache:               pm.TokenClaimsCache.MustCurryWith(labels),
		TokenNegativeCache:             pm.TokenNegativeCache.MustCurryWith(labels),
	}
}

// MustRegister does registration of metrics collector in Prometheus and panics if any error occurs.
func (pm *PrometheusMetrics) MustRegister() {
	prometheus.MustRegister(
		pm.HTTPClientRequestDuration,
		pm.TokenRefreshCyclesTotal,
		pm.TokenValidationsTotal,
		pm.CircuitBreakerStateChangeTotal,
	)
	pm.TokenClaimsCache.MustRegister()
	pm.TokenNegativeCache.MustRegister()
}

// Unregister cancels registration of metrics collector in Prometheus.
func (pm *PrometheusMetrics) Unregister() {
	prometheus.Unregister(pm.HTTPClientRequestDuration)
	prometheus.Unregister(pm.TokenRefreshCyclesTotal)
	prometheus.Unregister(pm.TokenValidationsTotal)
	prometheus.Unregister(pm.CircuitBreakerStateChangeTotal)
	pm.TokenClaimsCache.Unregister()
	pm.TokenNegativeCache.Unregister()
}

func (pm *PrometheusMetrics) ObserveHTTPClientRequest(
	method string, targetURL string, statusCode int, elapsed time.Duration, errorType string,
) {
	pm.HTTPClientRequestDuration.With(prometheus.Labels{
		HTTPClientRequestLabelMethod:     method,
		HTTPClientRequestLabelURL:        targetURL,
		HTTPClientRequestLabelStatusCode: strconv.Itoa(statusCode),
		HTTPClientRequestLabelError:      errorType,
	}).Observe(elapsed.Seconds())
}

func (pm *PrometheusMetrics) IncTokenRefreshCyclesTotal(result string) {
	pm.TokenRefreshCyclesTotal.With(prometheus.Labels{TokenRefreshLabelResult: result}).Inc()
}

func (pm *PrometheusMetrics) IncTokenValidationsTotal(status string) {
	pm.TokenValidationsTotal.With(prometheus.Labels{TokenValidationLabelStatus: status}).Inc()
}

func (pm *PrometheusMetrics) IncCircuitBreakerStateChangeTotal(name, newState string) {
	pm.CircuitBreakerStateChangeTotal.With(prometheus.Labels{
		CircuitBreakerLabelName:     name,
		CircuitBreakerLabelNewState: newState,
	}).Inc()
}
