/*
Copyright © 2025 The Undertaking Authors.

Released under MIT license.
*/

package undertaking

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/acronis/go-appkit/log"

	"github.com/twz123/undertaking-sub000/authz"
	"github.com/twz123/undertaking-sub000/internal/httputil"
	"github.com/twz123/undertaking-sub000/oauth2token"
	"github.com/twz123/undertaking-sub000/tokeninfo"
)

// Option is a functional option for the composition helpers.
type Option func(*options)

type options struct {
	logger                     log.FieldLogger
	loggerProvider             func(ctx context.Context) log.FieldLogger
	prometheusLibInstanceLabel string
	httpClient                 *http.Client
	credentialSource           oauth2token.CredentialSource
}

// WithLogger is an option to set the logger used by the constructed components.
func WithLogger(logger log.FieldLogger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLoggerProvider is an option to set a per-request logger provider for the
// constructed middleware.
func WithLoggerProvider(loggerProvider func(ctx context.Context) log.FieldLogger) Option {
	return func(o *options) {
		o.loggerProvider = loggerProvider
	}
}

// WithPrometheusLibInstanceLabel is an option to set a label for Prometheus
// metrics of the constructed components.
func WithPrometheusLibInstanceLabel(label string) Option {
	return func(o *options) {
		o.prometheusLibInstanceLabel = label
	}
}

// WithHTTPClient is an option to set the HTTP client used for OAuth2 endpoints.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(o *options) {
		o.httpClient = httpClient
	}
}

// WithCredentialSource is an option to set where the token refresher loads its
// credentials from, instead of the configured credentials directory.
func WithCredentialSource(source oauth2token.CredentialSource) Option {
	return func(o *options) {
		o.credentialSource = source
	}
}

// NewTokenRefresher creates a token cache and a refresher keeping it populated
// from the configured token endpoint. The refresher is not started; call its
// Run method on a goroutine owned by the caller.
func NewTokenRefresher(cfg *Config, opts ...Option) (*oauth2token.Cache, *oauth2token.Refresher, error) {
	o := applyOptions(opts)
	logger := httputil.PrepareLogger(o.logger)

	if cfg.TokenEndpoint.URL == "" {
		return nil, nil, fmt.Errorf("token endpoint URL is not configured")
	}
	credentialSource := o.credentialSource
	if credentialSource == nil {
		if cfg.TokenEndpoint.CredentialsDir == "" {
			return nil, nil, fmt.Errorf("neither credentials directory nor credential source is configured")
		}
		credentialSource = oauth2token.NewFileCredentialSource(cfg.TokenEndpoint.CredentialsDir)
	}

	client, err := oauth2token.NewEndpointClientWithOpts(cfg.TokenEndpoint.URL, oauth2token.EndpointClientOpts{
		HTTPClient:                 o.makeHTTPClient(cfg, logger),
		Logger:                     logger,
		PrometheusLibInstanceLabel: o.prometheusLibInstanceLabel,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("new token endpoint client: %w", err)
	}
	breakerName := cfg.TokenEndpoint.CircuitBreaker.Name
	if breakerName == "" {
		breakerName = oauth2token.DefaultBreakerName
	}
	requester := oauth2token.NewBreakerRequester(breakerName, client, oauth2token.BreakerRequesterOpts{
		PrometheusLibInstanceLabel: o.prometheusLibInstanceLabel,
	})

	cache := oauth2token.NewCache()
	refresher, err := oauth2token.NewRefresherWithOpts(cache, credentialSource, requester, oauth2token.RefresherOpts{
		Logger:                     logger,
		RefreshPercentage:          cfg.TokenEndpoint.RefreshPercentage,
		Scope:                      cfg.TokenEndpoint.Scopes,
		StopOnBadCredentials:       cfg.TokenEndpoint.StopOnBadCredentials,
		PrometheusLibInstanceLabel: o.prometheusLibInstanceLabel,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("new token refresher: %w", err)
	}
	return cache, refresher, nil
}

// NewTokenInfoValidator creates a token info validator from the configuration.
func NewTokenInfoValidator(cfg *Config, opts ...Option) (*tokeninfo.Validator, error) {
	o := applyOptions(opts)
	logger := httputil.PrepareLogger(o.logger)

	if cfg.Introspection.Endpoint == "" {
		return nil, fmt.Errorf("token info endpoint URL is not configured")
	}
	validator, err := tokeninfo.NewValidatorWithOpts(cfg.Introspection.Endpoint, tokeninfo.ValidatorOpts{
		HTTPClient:            o.makeHTTPClient(cfg, logger),
		Logger:                logger,
		RetryAttempts:         cfg.Introspection.RetryAttempts,
		Timeout:               time.Duration(cfg.Introspection.Timeout),
		BusinessPartnerHeader: cfg.BusinessPartner.HeaderName,
		BreakerName:           cfg.Introspection.CircuitBreaker.Name,
		ClaimsCache: tokeninfo.CacheOpts{
			Enabled:    cfg.Introspection.ClaimsCache.Enabled,
			MaxEntries: cfg.Introspection.ClaimsCache.MaxEntries,
			TTL:        time.Duration(cfg.Introspection.ClaimsCache.TTL),
		},
		NegativeCache: tokeninfo.CacheOpts{
			Enabled:    cfg.Introspection.NegativeCache.Enabled,
			MaxEntries: cfg.Introspection.NegativeCache.MaxEntries,
			TTL:        time.Duration(cfg.Introspection.NegativeCache.TTL),
		},
		PrometheusLibInstanceLabel: o.prometheusLibInstanceLabel,
	})
	if err != nil {
		return nil, fmt.Errorf("new token info validator: %w", err)
	}
	return validator, nil
}

// NewAuthMiddleware creates an authorization middleware from the configuration,
// guarding requests with the given predicate.
func NewAuthMiddleware(cfg *Config, predicate authz.Predicate, opts ...Option) (func(next http.Handler) http.Handler, error) {
	o := applyOptions(opts)

	validator, err := NewTokenInfoValidator(cfg, opts...)
	if err != nil {
		return nil, err
	}
	mwOpts := []AuthMiddlewareOption{
		WithAuthMiddlewareTimeout(time.Duration(cfg.Authorization.Timeout)),
		WithAuthMiddlewareBusinessPartnerOverride(cfg.BusinessPartner.HeaderName, cfg.BusinessPartner.RequiredScope),
		WithAuthMiddlewarePrometheusLibInstanceLabel(o.prometheusLibInstanceLabel),
	}
	if o.loggerProvider != nil {
		mwOpts = append(mwOpts, WithAuthMiddlewareLoggerProvider(o.loggerProvider))
	}
	return AuthMiddleware(validator, predicate, mwOpts...), nil
}

func applyOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o *options) makeHTTPClient(cfg *Config, logger log.FieldLogger) *http.Client {
	if o.httpClient != nil {
		return o.httpClient
	}
	timeout := time.Duration(cfg.HTTPClient.RequestTimeout)
	if timeout == 0 {
		timeout = httputil.DefaultRequestTimeout
	}
	return httputil.MakeDefaultClient(timeout, logger)
}
