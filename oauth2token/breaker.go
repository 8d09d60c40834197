/*
Copyright © 2025 The Undertaking Authors.

Released under MIT license.
*/

package oauth2token

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/twz123/undertaking-sub000/internal/metrics"
)

// DefaultBreakerName is the circuit breaker name used for the token endpoint
// unless configured otherwise.
const DefaultBreakerName = "auth.accessToken"

// BreakerRequesterOpts is a set of options for creating a breaker-guarded TokenRequester.
type BreakerRequesterOpts struct {
	// OpenTimeout is how long the breaker stays open before allowing a probe request.
	OpenTimeout time.Duration

	// ConsecutiveFailures is the failure count after which the breaker trips.
	ConsecutiveFailures uint32

	// PrometheusLibInstanceLabel is a label for Prometheus metrics.
	PrometheusLibInstanceLabel string
}

type breakerRequester struct {
	inner TokenRequester
	cb    *gobreaker.CircuitBreaker[AccessTokenResponse]
}

// NewBreakerRequester wraps a TokenRequester in a named circuit breaker so that
// sustained token endpoint outages fail fast. Credential rejections do not count
// as breaker failures: they signal a client problem, not endpoint unavailability.
func NewBreakerRequester(name string, inner TokenRequester, opts BreakerRequesterOpts) TokenRequester {
	if opts.ConsecutiveFailures == 0 {
		opts.ConsecutiveFailures = 5
	}
	if opts.OpenTimeout == 0 {
		opts.OpenTimeout = 30 * time.Second
	}
	promMetrics := metrics.GetPrometheusMetrics(opts.PrometheusLibInstanceLabel, metrics.SourceTokenRefresher)
	cb := gobreaker.NewCircuitBreaker[AccessTokenResponse](gobreaker.Settings{
		Name:    name,
		Timeout: opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.ConsecutiveFailures
		},
		OnStateChange: func(name string, _, to gobreaker.State) {
			promMetrics.IncCircuitBreakerStateChangeTotal(name, to.String())
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var badCreds *BadCredentialsError
			return errors.As(err, &badCreds)
		},
	})
	return &breakerRequester{inner: inner, cb: cb}
}

func (r *breakerRequester) RequestToken(
	ctx context.Context, creds RequestCredentials, scope []string,
) (AccessTokenResponse, error) {
	return r.cb.Execute(func() (AccessTokenResponse, error) {
		return r.inner.RequestToken(ctx, creds, scope)
	})
}
