/*
Copyright © 2025 The Undertaking Authors.

Released under MIT license.
*/

// Package tokeninfo validates access tokens against an OAuth2 token info
// (introspection) endpoint and turns the endpoint's answers into
// authentication info.
package tokeninfo

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/acronis/go-appkit/log"
	"github.com/acronis/go-appkit/lrucache"
	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"

	"github.com/twz123/undertaking-sub000/authn"
	"github.com/twz123/undertaking-sub000/internal/httputil"
	"github.com/twz123/undertaking-sub000/internal/metrics"
)

const (
	// DefaultRetryAttempts is the total number of attempts per validation,
	// the initial request included.
	DefaultRetryAttempts = 3

	// DefaultTimeout bounds a single validation end to end, retries included.
	DefaultTimeout = 10 * time.Second

	// DefaultRetryInterval is the pause between failed attempts.
	DefaultRetryInterval = 500 * time.Millisecond

	// DefaultBreakerName is the circuit breaker name used for the token info
	// endpoint unless configured otherwise.
	DefaultBreakerName = "auth.tokenInfo"

	// DefaultBusinessPartnerHeader is the request header carrying a
	// business partner override.
	DefaultBusinessPartnerHeader = "X-Business-Partner"

	DefaultClaimsCacheMaxEntries   = 20000
	DefaultClaimsCacheTTL          = 1 * time.Minute
	DefaultNegativeCacheMaxEntries = 1000
	DefaultNegativeCacheTTL        = 10 * time.Minute
)

// ValidatorOpts is a set of options for creating Validator.
type ValidatorOpts struct {
	// HTTPClient is an HTTP client for doing requests to the token info endpoint.
	HTTPClient *http.Client

	// Logger is a logger for logging errors and debug information.
	Logger log.FieldLogger

	// RetryAttempts is the total number of attempts per validation.
	RetryAttempts int

	// Timeout bounds a single validation end to end, retries included.
	Timeout time.Duration

	// RetryInterval is the pause between failed attempts.
	RetryInterval time.Duration

	// BusinessPartnerHeader names the request header whose value, when present,
	// overrides the business partner of the validated token. Empty disables
	// the override.
	BusinessPartnerHeader string

	// BreakerName names the circuit breaker guarding the token info endpoint.
	BreakerName string

	// BreakerOpenTimeout is how long the breaker stays open before allowing a probe request.
	BreakerOpenTimeout time.Duration

	// BreakerConsecutiveFailures is the failure count after which the breaker trips.
	BreakerConsecutiveFailures uint32

	// ClaimsCache is a configuration of how the positive result cache will be used.
	ClaimsCache CacheOpts

	// NegativeCache is a configuration of how the negative result cache will be used.
	NegativeCache CacheOpts

	// PrometheusLibInstanceLabel is a label for Prometheus metrics.
	PrometheusLibInstanceLabel string
}

// Validator validates access tokens against a token info endpoint.
//
// Transient endpoint failures are retried a bounded number of times within an
// end-to-end timeout. Definite rejections fail immediately with
// *BadTokenInfoError and are never retried. A circuit breaker guards the
// endpoint; while it is open, validations fail fast with gobreaker.ErrOpenState.
type Validator struct {
	endpoint      string
	httpClient    *http.Client
	logger        log.FieldLogger
	retryAttempts int
	timeout       time.Duration
	retryInterval time.Duration
	bpHeader      string

	cb          *gobreaker.CircuitBreaker[authn.Info]
	promMetrics *metrics.PrometheusMetrics

	claimsCache      cache[claimsCacheItem]
	claimsCacheTTL   time.Duration
	negativeCache    cache[negativeCacheItem]
	negativeCacheTTL time.Duration
}

var _ authn.InfoValidator = (*Validator)(nil)

// NewValidator creates a new Validator for the given token info endpoint URL.
func NewValidator(endpointURL string) (*Validator, error) {
	return NewValidatorWithOpts(endpointURL, ValidatorOpts{})
}

// NewValidatorWithOpts creates a new Validator with custom options.
func NewValidatorWithOpts(endpointURL string, opts ValidatorOpts) (*Validator, error) {
	if _, err := url.ParseRequestURI(endpointURL); err != nil {
		return nil, fmt.Errorf("parse token info endpoint URL %q: %w", endpointURL, err)
	}
	opts.Logger = httputil.PrepareLogger(opts.Logger)
	if opts.HTTPClient == nil {
		opts.HTTPClient = httputil.MakeDefaultClient(httputil.DefaultRequestTimeout, opts.Logger)
	}
	if opts.RetryAttempts == 0 {
		opts.RetryAttempts = DefaultRetryAttempts
	}
	if opts.RetryAttempts < 1 {
		return nil, fmt.Errorf("retry attempts %d must be positive", opts.RetryAttempts)
	}
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.RetryInterval == 0 {
		opts.RetryInterval = DefaultRetryInterval
	}
	if opts.BreakerName == "" {
		opts.BreakerName = DefaultBreakerName
	}
	if opts.BreakerOpenTimeout == 0 {
		opts.BreakerOpenTimeout = 30 * time.Second
	}
	if opts.BreakerConsecutiveFailures == 0 {
		opts.BreakerConsecutiveFailures = 5
	}

	promMetrics := metrics.GetPrometheusMetrics(opts.PrometheusLibInstanceLabel, metrics.SourceTokenInfoValidator)

	var claimsCache cache[claimsCacheItem] = disabledCache[claimsCacheItem]{}
	if opts.ClaimsCache.Enabled {
		if opts.ClaimsCache.TTL == 0 {
			opts.ClaimsCache.TTL = DefaultClaimsCacheTTL
		}
		if opts.ClaimsCache.MaxEntries == 0 {
			opts.ClaimsCache.MaxEntries = DefaultClaimsCacheMaxEntries
		}
		c, err := lrucache.New[[sha256.Size]byte, claimsCacheItem](
			opts.ClaimsCache.MaxEntries, promMetrics.TokenClaimsCache)
		if err != nil {
			return nil, err
		}
		claimsCache = &lruCache[claimsCacheItem]{c}
	}

	var negativeCache cache[negativeCacheItem] = disabledCache[negativeCacheItem]{}
	if opts.NegativeCache.Enabled {
		if opts.NegativeCache.TTL == 0 {
			opts.NegativeCache.TTL = DefaultNegativeCacheTTL
		}
		if opts.NegativeCache.MaxEntries == 0 {
			opts.NegativeCache.MaxEntries = DefaultNegativeCacheMaxEntries
		}
		c, err := lrucache.New[[sha256.Size]byte, negativeCacheItem](
			opts.NegativeCache.MaxEntries, promMetrics.TokenNegativeCache)
		if err != nil {
			return nil, err
		}
		negativeCache = &lruCache[negativeCacheItem]{c}
	}

	v := &Validator{
		endpoint:         endpointURL,
		httpClient:       opts.HTTPClient,
		logger:           opts.Logger,
		retryAttempts:    opts.RetryAttempts,
		timeout:          opts.Timeout,
		retryInterval:    opts.RetryInterval,
		bpHeader:         opts.BusinessPartnerHeader,
		promMetrics:      promMetrics,
		claimsCache:      claimsCache,
		claimsCacheTTL:   opts.ClaimsCache.TTL,
		negativeCache:    negativeCache,
		negativeCacheTTL: opts.NegativeCache.TTL,
	}
	v.cb = gobreaker.NewCircuitBreaker[authn.Info](gobreaker.Settings{
		Name:    opts.BreakerName,
		Timeout: opts.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.BreakerConsecutiveFailures
		},
		OnStateChange: func(name string, _, to gobreaker.State) {
			promMetrics.IncCircuitBreakerStateChangeTotal(name, to.String())
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var badToken *BadTokenInfoError
			return errors.As(err, &badToken)
		},
	})
	return v, nil
}

// Validate resolves the given access token into authentication info.
// When the request headers carry the configured business partner override,
// its value replaces the business partner of the result.
func (v *Validator) Validate(ctx context.Context, token string, headers authn.Headers) (authn.Info, error) {
	cacheKey := sha256.Sum256([]byte(token))

	if item, ok := v.claimsCache.Get(ctx, cacheKey); ok && item.CreatedAt.Add(v.claimsCacheTTL).After(time.Now()) {
		v.promMetrics.IncTokenValidationsTotal(metrics.TokenValidationStatusActive)
		return v.applyBusinessPartnerOverride(item.Info, headers), nil
	}
	if item, ok := v.negativeCache.Get(ctx, cacheKey); ok && item.CreatedAt.Add(v.negativeCacheTTL).After(time.Now()) {
		v.promMetrics.IncTokenValidationsTotal(metrics.TokenValidationStatusBadToken)
		return authn.Info{}, item.Err
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	info, err := v.validateWithRetries(ctx, token)
	if err != nil {
		return authn.Info{}, v.observeFailure(ctx, cacheKey, err)
	}

	v.claimsCache.Add(ctx, cacheKey, claimsCacheItem{Info: info, CreatedAt: time.Now()})
	v.promMetrics.IncTokenValidationsTotal(metrics.TokenValidationStatusActive)
	return v.applyBusinessPartnerOverride(info, headers), nil
}

func (v *Validator) applyBusinessPartnerOverride(info authn.Info, headers authn.Headers) authn.Info {
	if v.bpHeader == "" || headers == nil {
		return info
	}
	if override, ok := headers.GetFirst(v.bpHeader); ok && override != "" {
		return info.WithBusinessPartnerID(override)
	}
	return info
}

func (v *Validator) validateWithRetries(ctx context.Context, token string) (authn.Info, error) {
	var info authn.Info
	attempt := 0
	operation := func() error {
		attempt++
		result, err := v.cb.Execute(func() (authn.Info, error) {
			return v.introspect(ctx, token)
		})
		if err != nil {
			var badToken *BadTokenInfoError
			if errors.As(err, &badToken) ||
				errors.Is(err, gobreaker.ErrOpenState) ||
				errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(err)
			}
			v.logger.Warnf("token info request attempt %d failed: %s", attempt, err.Error())
			return err
		}
		info = result
		return nil
	}
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(v.retryInterval), uint64(v.retryAttempts-1)), ctx)
	if err := backoff.Retry(operation, b); err != nil {
		return authn.Info{}, err
	}
	return info, nil
}

// observeFailure classifies and records a failed validation. Definite
// rejections land in the negative cache so repeated presentations of the same
// bad token do not hit the endpoint again.
func (v *Validator) observeFailure(ctx context.Context, cacheKey [sha256.Size]byte, err error) error {
	var badToken *BadTokenInfoError
	switch {
	case errors.As(err, &badToken):
		v.promMetrics.IncTokenValidationsTotal(metrics.TokenValidationStatusBadToken)
		v.negativeCache.Add(ctx, cacheKey, negativeCacheItem{Err: badToken, CreatedAt: time.Now()})
		return err
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		v.promMetrics.IncTokenValidationsTotal(metrics.TokenValidationStatusCircuitOpen)
		return err
	case errors.Is(ctx.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		v.promMetrics.IncTokenValidationsTotal(metrics.TokenValidationStatusTimeout)
		return fmt.Errorf("%w: %s", ErrValidationTimeout, err.Error())
	case ctx.Err() != nil:
		// The caller went away, nothing to report.
		return err
	default:
		v.promMetrics.IncTokenValidationsTotal(metrics.TokenValidationStatusError)
		return &RequestError{Inner: err}
	}
}

func (v *Validator) introspect(ctx context.Context, token string) (authn.Info, error) {
	values := url.Values{}
	values.Set("token", token)

	req, err := http.NewRequest(http.MethodPost, v.endpoint, strings.NewReader(values.Encode()))
	if err != nil {
		return authn.Info{}, fmt.Errorf("new request: %w", err)
	}
	req = req.WithContext(ctx)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	start := time.Now()
	resp, err := v.httpClient.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		v.promMetrics.ObserveHTTPClientRequest(http.MethodPost, v.endpoint, 0, elapsed, metrics.HTTPRequestErrorDo)
		return authn.Info{}, fmt.Errorf("do http request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			v.logger.Error(fmt.Sprintf("closing response body error for POST %s", v.endpoint), log.Error(closeErr))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		v.promMetrics.ObserveHTTPClientRequest(
			http.MethodPost, v.endpoint, resp.StatusCode, elapsed, metrics.HTTPRequestErrorUnexpectedStatusCode)
		if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized {
			// Error bodies are best effort, rejections come in many shapes.
			var errBody tokenInfoResponseBody
			_ = json.NewDecoder(resp.Body).Decode(&errBody)
			return authn.Info{}, &BadTokenInfoError{
				ErrorCode:   normalizeErrorCode(errBody.Error, errBody.ErrorDescription),
				Description: errBody.ErrorDescription,
			}
		}
		return authn.Info{}, fmt.Errorf("unexpected HTTP code %d for POST %s", resp.StatusCode, v.endpoint)
	}

	var body tokenInfoResponseBody
	if err = json.NewDecoder(resp.Body).Decode(&body); err != nil {
		v.promMetrics.ObserveHTTPClientRequest(
			http.MethodPost, v.endpoint, resp.StatusCode, elapsed, metrics.HTTPRequestErrorDecodeBody)
		return authn.Info{}, fmt.Errorf("read and unmarshal token info response: %w", err)
	}

	v.promMetrics.ObserveHTTPClientRequest(http.MethodPost, v.endpoint, resp.StatusCode, elapsed, "")
	return authn.NewInfo(body.UID, body.Scope), nil
}

type tokenInfoResponseBody struct {
	UID       string   `json:"uid"`
	Scope     []string `json:"scope"`
	ExpiresIn int64    `json:"expires_in"`

	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}
