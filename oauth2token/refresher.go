/*
Copyright © 2025 The Undertaking Authors.

Released under MIT license.
*/

package oauth2token

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/acronis/go-appkit/log"
	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"

	"github.com/twz123/undertaking-sub000/internal/httputil"
	"github.com/twz123/undertaking-sub000/internal/metrics"
)

// DefaultRefreshPercentage is the share of a token's lifetime after which
// the next refresh is scheduled.
const DefaultRefreshPercentage = 80

// ErrRefresherAlreadyStarted is returned when Run is called more than once.
var ErrRefresherAlreadyStarted = errors.New("token refresher is already started")

type refreshState int

const (
	stateRequesting refreshState = iota
	stateRetryBackoff
	stateWaiting
)

// RefresherOpts is a set of options for creating Refresher.
type RefresherOpts struct {
	// Logger is a logger for Refresher.
	Logger log.FieldLogger

	// RefreshPercentage schedules the next refresh after this percentage
	// of the token lifetime has passed. Must be in [0, 100].
	RefreshPercentage int

	// Scope is the OAuth2 scope requested for issued tokens.
	Scope []string

	// StopOnBadCredentials terminates the refresh loop when the token endpoint
	// rejects the credentials (HTTP 400/401). When false, such rejections are
	// retried under the regular backoff schedule.
	StopOnBadCredentials bool

	// RetrySchedule overrides the fixed delays between failed attempts.
	RetrySchedule []time.Duration

	// PrometheusLibInstanceLabel is a label for Prometheus metrics.
	PrometheusLibInstanceLabel string
}

// Refresher keeps a Cache populated by requesting new tokens ahead of expiry,
// indefinitely. It is one long-lived background task per process: Run must be
// called exactly once and only terminates on context cancellation or, when
// configured, on definitely-bad credentials.
type Refresher struct {
	cache       *Cache
	credentials CredentialSource
	client      TokenRequester

	scope                []string
	refreshPercentage    int
	stopOnBadCredentials bool

	backoff     backoff.BackOff
	logger      log.FieldLogger
	promMetrics *metrics.PrometheusMetrics

	// sleep and now are swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time

	started atomic.Bool
	done    chan struct{}
	runErr  error
}

// NewRefresher creates a new Refresher feeding the given Cache.
func NewRefresher(cache *Cache, credentials CredentialSource, client TokenRequester) (*Refresher, error) {
	return NewRefresherWithOpts(cache, credentials, client, RefresherOpts{})
}

// NewRefresherWithOpts creates a new Refresher with custom options.
func NewRefresherWithOpts(
	cache *Cache, credentials CredentialSource, client TokenRequester, opts RefresherOpts,
) (*Refresher, error) {
	if cache == nil {
		return nil, errors.New("cache is mandatory")
	}
	if credentials == nil {
		return nil, errors.New("credential source is mandatory")
	}
	if client == nil {
		return nil, errors.New("token requester is mandatory")
	}
	if opts.RefreshPercentage == 0 {
		opts.RefreshPercentage = DefaultRefreshPercentage
	}
	if opts.RefreshPercentage < 0 || opts.RefreshPercentage > 100 {
		return nil, fmt.Errorf("refresh percentage %d is out of range [0, 100]", opts.RefreshPercentage)
	}
	return &Refresher{
		cache:                cache,
		credentials:          credentials,
		client:               client,
		scope:                opts.Scope,
		refreshPercentage:    opts.RefreshPercentage,
		stopOnBadCredentials: opts.StopOnBadCredentials,
		backoff:              newScheduleBackOff(opts.RetrySchedule),
		logger:               httputil.PrepareLogger(opts.Logger),
		promMetrics:          metrics.GetPrometheusMetrics(opts.PrometheusLibInstanceLabel, metrics.SourceTokenRefresher),
		sleep:                sleepCtx,
		now:                  time.Now,
		done:                 make(chan struct{}),
	}, nil
}

// Run drives the refresh state machine until ctx is done. It must be called
// exactly once; further calls fail with ErrRefresherAlreadyStarted.
//
// Each cycle requests a token with freshly loaded credentials. On success the
// token is published and the next request is scheduled after refreshPercentage
// of the remaining lifetime. On failure the next attempt follows the fixed
// backoff schedule; a success resets the schedule. Even zero-length delays go
// through the timer so the loop never recurses and never busy-spins.
func (r *Refresher) Run(ctx context.Context) error {
	if !r.started.CompareAndSwap(false, true) {
		return ErrRefresherAlreadyStarted
	}
	defer close(r.done)

	state := stateRequesting
	var delay time.Duration
	for {
		switch state {
		case stateRequesting:
			resp, err := r.requestOnce(ctx)
			if err != nil {
				if ctx.Err() != nil {
					r.runErr = ctx.Err()
					return r.runErr
				}
				if fatal := r.observeFailure(err); fatal {
					r.runErr = err
					return err
				}
				delay = r.backoff.NextBackOff()
				state = stateRetryBackoff
				continue
			}
			r.promMetrics.IncTokenRefreshCyclesTotal(metrics.TokenRefreshResultSuccess)
			r.cache.Publish(resp)
			r.backoff.Reset()
			delay = r.refreshDelay(resp.ExpiryTime)
			r.logger.Infof("token refreshed, next refresh in %s", delay)
			state = stateWaiting

		case stateRetryBackoff, stateWaiting:
			if err := r.sleep(ctx, delay); err != nil {
				r.runErr = err
				return err
			}
			state = stateRequesting
		}
	}
}

// Done is closed when the refresh loop has terminated.
func (r *Refresher) Done() <-chan struct{} {
	return r.done
}

// Err returns the error that terminated the refresh loop, if any.
func (r *Refresher) Err() error {
	select {
	case <-r.done:
		return r.runErr
	default:
		return nil
	}
}

func (r *Refresher) requestOnce(ctx context.Context) (AccessTokenResponse, error) {
	creds, err := r.credentials.Load(ctx)
	if err != nil {
		return AccessTokenResponse{}, fmt.Errorf("load credentials: %w", err)
	}
	return r.client.RequestToken(ctx, creds, r.scope)
}

// observeFailure classifies and records a failed refresh attempt and reports
// whether the loop must terminate.
func (r *Refresher) observeFailure(err error) bool {
	var badCreds *BadCredentialsError
	switch {
	case errors.As(err, &badCreds):
		r.promMetrics.IncTokenRefreshCyclesTotal(metrics.TokenRefreshResultBadCredentials)
		if r.stopOnBadCredentials {
			r.logger.Error("token endpoint rejected credentials, stopping refresh loop", log.Error(err))
			return true
		}
		r.logger.Error("token endpoint rejected credentials", log.Error(err))
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		r.promMetrics.IncTokenRefreshCyclesTotal(metrics.TokenRefreshResultCircuitOpen)
		r.logger.Warn("token request rejected by circuit breaker", log.Error(err))
	default:
		r.promMetrics.IncTokenRefreshCyclesTotal(metrics.TokenRefreshResultFailure)
		r.logger.Error("token request failed", log.Error(err))
	}
	return false
}

func (r *Refresher) refreshDelay(expiry time.Time) time.Duration {
	remaining := expiry.Sub(r.now())
	if remaining <= 0 {
		return 0
	}
	return remaining * time.Duration(r.refreshPercentage) / 100
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d < 0 {
		d = 0
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
