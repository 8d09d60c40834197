/*
Copyright © 2025 The Undertaking Authors.

Released under MIT license.
*/

package undertaking

import (
	"fmt"
	"net/url"
	"time"

	"github.com/acronis/go-appkit/config"

	"github.com/twz123/undertaking-sub000/internal/httputil"
	"github.com/twz123/undertaking-sub000/oauth2token"
	"github.com/twz123/undertaking-sub000/tokeninfo"
)

const cfgDefaultKeyPrefix = "auth"

const (
	cfgKeyHTTPClientRequestTimeout = "httpClient.requestTimeout"

	cfgKeyTokenEndpointURL                  = "tokenEndpoint.url"
	cfgKeyTokenEndpointScopes               = "tokenEndpoint.scopes"
	cfgKeyTokenEndpointRefreshPercentage    = "tokenEndpoint.refreshPercentage"
	cfgKeyTokenEndpointStopOnBadCredentials = "tokenEndpoint.stopOnBadCredentials"
	cfgKeyTokenEndpointCredentialsDir       = "tokenEndpoint.credentialsDir"
	cfgKeyTokenEndpointBreakerName          = "tokenEndpoint.circuitBreaker.name"

	cfgKeyIntrospectionEndpoint                = "introspection.endpoint"
	cfgKeyIntrospectionRetryAttempts           = "introspection.retryAttempts"
	cfgKeyIntrospectionTimeout                 = "introspection.timeout"
	cfgKeyIntrospectionBreakerName             = "introspection.circuitBreaker.name"
	cfgKeyIntrospectionClaimsCacheEnabled      = "introspection.claimsCache.enabled"
	cfgKeyIntrospectionClaimsCacheMaxEntries   = "introspection.claimsCache.maxEntries"
	cfgKeyIntrospectionClaimsCacheTTL          = "introspection.claimsCache.ttl"
	cfgKeyIntrospectionNegativeCacheEnabled    = "introspection.negativeCache.enabled"
	cfgKeyIntrospectionNegativeCacheMaxEntries = "introspection.negativeCache.maxEntries"
	cfgKeyIntrospectionNegativeCacheTTL        = "introspection.negativeCache.ttl"

	cfgKeyAuthorizationTimeout = "authorization.timeout"

	cfgKeyBusinessPartnerHeaderName    = "businessPartner.headerName"
	cfgKeyBusinessPartnerRequiredScope = "businessPartner.requiredScope"
)

// Config represents a set of configuration parameters for token refreshing,
// token validation and request authorization.
type Config struct {
	HTTPClient HTTPClientConfig `mapstructure:"httpClient" yaml:"httpClient" json:"httpClient"`

	TokenEndpoint   TokenEndpointConfig   `mapstructure:"tokenEndpoint" yaml:"tokenEndpoint" json:"tokenEndpoint"`
	Introspection   IntrospectionConfig   `mapstructure:"introspection" yaml:"introspection" json:"introspection"`
	Authorization   AuthorizationConfig   `mapstructure:"authorization" yaml:"authorization" json:"authorization"`
	BusinessPartner BusinessPartnerConfig `mapstructure:"businessPartner" yaml:"businessPartner" json:"businessPartner"`

	keyPrefix string
}

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// ConfigOption is a type for functional options for the Config.
type ConfigOption func(*configOptions)

type configOptions struct {
	keyPrefix string
}

// WithKeyPrefix returns a ConfigOption that sets a key prefix for parsing configuration parameters.
// This prefix will be used by config.Loader.
func WithKeyPrefix(keyPrefix string) ConfigOption {
	return func(o *configOptions) {
		o.keyPrefix = keyPrefix
	}
}

// NewConfig creates a new instance of the Config.
func NewConfig(options ...ConfigOption) *Config {
	opts := configOptions{keyPrefix: cfgDefaultKeyPrefix}
	for _, opt := range options {
		opt(&opts)
	}
	return &Config{keyPrefix: opts.keyPrefix}
}

// NewDefaultConfig creates a new instance of the Config with default values.
func NewDefaultConfig(options ...ConfigOption) *Config {
	opts := configOptions{keyPrefix: cfgDefaultKeyPrefix}
	for _, opt := range options {
		opt(&opts)
	}
	return &Config{
		keyPrefix: opts.keyPrefix,
		HTTPClient: HTTPClientConfig{
			RequestTimeout: config.TimeDuration(httputil.DefaultRequestTimeout),
		},
		TokenEndpoint: TokenEndpointConfig{
			RefreshPercentage: oauth2token.DefaultRefreshPercentage,
			CircuitBreaker:    CircuitBreakerConfig{Name: oauth2token.DefaultBreakerName},
		},
		Introspection: IntrospectionConfig{
			RetryAttempts:  tokeninfo.DefaultRetryAttempts,
			Timeout:        config.TimeDuration(tokeninfo.DefaultTimeout),
			CircuitBreaker: CircuitBreakerConfig{Name: tokeninfo.DefaultBreakerName},
			ClaimsCache: IntrospectionCacheConfig{
				MaxEntries: tokeninfo.DefaultClaimsCacheMaxEntries,
				TTL:        config.TimeDuration(tokeninfo.DefaultClaimsCacheTTL),
			},
			NegativeCache: IntrospectionCacheConfig{
				MaxEntries: tokeninfo.DefaultNegativeCacheMaxEntries,
				TTL:        config.TimeDuration(tokeninfo.DefaultNegativeCacheTTL),
			},
		},
		Authorization: AuthorizationConfig{
			Timeout: config.TimeDuration(DefaultAuthorizationTimeout),
		},
		BusinessPartner: BusinessPartnerConfig{
			HeaderName:    tokeninfo.DefaultBusinessPartnerHeader,
			RequiredScope: DefaultBusinessPartnerRequiredScope,
		},
	}
}

// KeyPrefix returns a key prefix with which all configuration parameters should be presented.
// Implements config.KeyPrefixProvider interface.
func (c *Config) KeyPrefix() string {
	if c.keyPrefix == "" {
		return cfgDefaultKeyPrefix
	}
	return c.keyPrefix
}

// SetProviderDefaults sets default configuration values for auth in config.DataProvider.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyHTTPClientRequestTimeout, httputil.DefaultRequestTimeout.String())

	dp.SetDefault(cfgKeyTokenEndpointRefreshPercentage, oauth2token.DefaultRefreshPercentage)
	dp.SetDefault(cfgKeyTokenEndpointBreakerName, oauth2token.DefaultBreakerName)

	dp.SetDefault(cfgKeyIntrospectionRetryAttempts, tokeninfo.DefaultRetryAttempts)
	dp.SetDefault(cfgKeyIntrospectionTimeout, tokeninfo.DefaultTimeout.String())
	dp.SetDefault(cfgKeyIntrospectionBreakerName, tokeninfo.DefaultBreakerName)
	dp.SetDefault(cfgKeyIntrospectionClaimsCacheMaxEntries, tokeninfo.DefaultClaimsCacheMaxEntries)
	dp.SetDefault(cfgKeyIntrospectionClaimsCacheTTL, tokeninfo.DefaultClaimsCacheTTL.String())
	dp.SetDefault(cfgKeyIntrospectionNegativeCacheMaxEntries, tokeninfo.DefaultNegativeCacheMaxEntries)
	dp.SetDefault(cfgKeyIntrospectionNegativeCacheTTL, tokeninfo.DefaultNegativeCacheTTL.String())

	dp.SetDefault(cfgKeyAuthorizationTimeout, DefaultAuthorizationTimeout.String())

	dp.SetDefault(cfgKeyBusinessPartnerHeaderName, tokeninfo.DefaultBusinessPartnerHeader)
	dp.SetDefault(cfgKeyBusinessPartnerRequiredScope, DefaultBusinessPartnerRequiredScope)
}

// HTTPClientConfig is a configuration of the HTTP client used for OAuth2 endpoints.
type HTTPClientConfig struct {
	RequestTimeout config.TimeDuration `mapstructure:"requestTimeout" yaml:"requestTimeout" json:"requestTimeout"`
}

// TokenEndpointConfig is a configuration of how access tokens will be requested and refreshed.
type TokenEndpointConfig struct {
	URL                  string               `mapstructure:"url" yaml:"url" json:"url"`
	Scopes               []string             `mapstructure:"scopes" yaml:"scopes" json:"scopes"`
	RefreshPercentage    int                  `mapstructure:"refreshPercentage" yaml:"refreshPercentage" json:"refreshPercentage"`
	StopOnBadCredentials bool                 `mapstructure:"stopOnBadCredentials" yaml:"stopOnBadCredentials" json:"stopOnBadCredentials"`
	CredentialsDir       string               `mapstructure:"credentialsDir" yaml:"credentialsDir" json:"credentialsDir"`
	CircuitBreaker       CircuitBreakerConfig `mapstructure:"circuitBreaker" yaml:"circuitBreaker" json:"circuitBreaker"`
}

// IntrospectionConfig is a configuration of how access tokens will be validated.
type IntrospectionConfig struct {
	Endpoint       string                   `mapstructure:"endpoint" yaml:"endpoint" json:"endpoint"`
	RetryAttempts  int                      `mapstructure:"retryAttempts" yaml:"retryAttempts" json:"retryAttempts"`
	Timeout        config.TimeDuration      `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
	CircuitBreaker CircuitBreakerConfig     `mapstructure:"circuitBreaker" yaml:"circuitBreaker" json:"circuitBreaker"`
	ClaimsCache    IntrospectionCacheConfig `mapstructure:"claimsCache" yaml:"claimsCache" json:"claimsCache"`
	NegativeCache  IntrospectionCacheConfig `mapstructure:"negativeCache" yaml:"negativeCache" json:"negativeCache"`
}

// IntrospectionCacheConfig is a configuration of how validation results will be cached.
type IntrospectionCacheConfig struct {
	Enabled    bool                `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	MaxEntries int                 `mapstructure:"maxEntries" yaml:"maxEntries" json:"maxEntries"`
	TTL        config.TimeDuration `mapstructure:"ttl" yaml:"ttl" json:"ttl"`
}

// CircuitBreakerConfig names a circuit breaker instance.
type CircuitBreakerConfig struct {
	Name string `mapstructure:"name" yaml:"name" json:"name"`
}

// AuthorizationConfig is a configuration of the authorization decision middleware.
type AuthorizationConfig struct {
	Timeout config.TimeDuration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
}

// BusinessPartnerConfig is a configuration of the business partner override.
type BusinessPartnerConfig struct {
	HeaderName    string `mapstructure:"headerName" yaml:"headerName" json:"headerName"`
	RequiredScope string `mapstructure:"requiredScope" yaml:"requiredScope" json:"requiredScope"`
}

// Set sets auth configuration values from config.DataProvider.
func (c *Config) Set(dp config.DataProvider) error {
	var err error

	var reqTimeout time.Duration
	if reqTimeout, err = dp.GetDuration(cfgKeyHTTPClientRequestTimeout); err != nil {
		return err
	}
	c.HTTPClient.RequestTimeout = config.TimeDuration(reqTimeout)

	if err = c.setTokenEndpointConfig(dp); err != nil {
		return err
	}
	if err = c.setIntrospectionConfig(dp); err != nil {
		return err
	}

	var authzTimeout time.Duration
	if authzTimeout, err = dp.GetDuration(cfgKeyAuthorizationTimeout); err != nil {
		return err
	}
	c.Authorization.Timeout = config.TimeDuration(authzTimeout)

	if c.BusinessPartner.HeaderName, err = dp.GetString(cfgKeyBusinessPartnerHeaderName); err != nil {
		return err
	}
	if c.BusinessPartner.RequiredScope, err = dp.GetString(cfgKeyBusinessPartnerRequiredScope); err != nil {
		return err
	}

	return nil
}

func (c *Config) setTokenEndpointConfig(dp config.DataProvider) error {
	var err error

	if c.TokenEndpoint.URL, err = dp.GetString(cfgKeyTokenEndpointURL); err != nil {
		return err
	}
	if c.TokenEndpoint.URL != "" {
		if _, err = url.ParseRequestURI(c.TokenEndpoint.URL); err != nil {
			return dp.WrapKeyErr(cfgKeyTokenEndpointURL, err)
		}
	}
	if c.TokenEndpoint.Scopes, err = dp.GetStringSlice(cfgKeyTokenEndpointScopes); err != nil {
		return err
	}
	if c.TokenEndpoint.RefreshPercentage, err = dp.GetInt(cfgKeyTokenEndpointRefreshPercentage); err != nil {
		return err
	}
	if c.TokenEndpoint.RefreshPercentage < 0 || c.TokenEndpoint.RefreshPercentage > 100 {
		return dp.WrapKeyErr(cfgKeyTokenEndpointRefreshPercentage,
			fmt.Errorf("refresh percentage should be in range [0, 100]"))
	}
	if c.TokenEndpoint.StopOnBadCredentials, err = dp.GetBool(cfgKeyTokenEndpointStopOnBadCredentials); err != nil {
		return err
	}
	if c.TokenEndpoint.CredentialsDir, err = dp.GetString(cfgKeyTokenEndpointCredentialsDir); err != nil {
		return err
	}
	if c.TokenEndpoint.CircuitBreaker.Name, err = dp.GetString(cfgKeyTokenEndpointBreakerName); err != nil {
		return err
	}

	return nil
}

func (c *Config) setIntrospectionConfig(dp config.DataProvider) error {
	var err error

	if c.Introspection.Endpoint, err = dp.GetString(cfgKeyIntrospectionEndpoint); err != nil {
		return err
	}
	if c.Introspection.Endpoint != "" {
		if _, err = url.ParseRequestURI(c.Introspection.Endpoint); err != nil {
			return dp.WrapKeyErr(cfgKeyIntrospectionEndpoint, err)
		}
	}
	if c.Introspection.RetryAttempts, err = dp.GetInt(cfgKeyIntrospectionRetryAttempts); err != nil {
		return err
	}
	if c.Introspection.RetryAttempts < 1 {
		return dp.WrapKeyErr(cfgKeyIntrospectionRetryAttempts, fmt.Errorf("retry attempts should be positive"))
	}
	var timeout time.Duration
	if timeout, err = dp.GetDuration(cfgKeyIntrospectionTimeout); err != nil {
		return err
	}
	c.Introspection.Timeout = config.TimeDuration(timeout)
	if c.Introspection.CircuitBreaker.Name, err = dp.GetString(cfgKeyIntrospectionBreakerName); err != nil {
		return err
	}

	// Claims cache
	if c.Introspection.ClaimsCache.Enabled, err = dp.GetBool(cfgKeyIntrospectionClaimsCacheEnabled); err != nil {
		return err
	}
	if c.Introspection.ClaimsCache.MaxEntries, err = dp.GetInt(cfgKeyIntrospectionClaimsCacheMaxEntries); err != nil {
		return err
	}
	if c.Introspection.ClaimsCache.MaxEntries < 0 {
		return dp.WrapKeyErr(cfgKeyIntrospectionClaimsCacheMaxEntries, fmt.Errorf("max entries should be non-negative"))
	}
	var cacheTTL time.Duration
	if cacheTTL, err = dp.GetDuration(cfgKeyIntrospectionClaimsCacheTTL); err != nil {
		return err
	}
	c.Introspection.ClaimsCache.TTL = config.TimeDuration(cacheTTL)

	// Negative cache
	if c.Introspection.NegativeCache.Enabled, err = dp.GetBool(cfgKeyIntrospectionNegativeCacheEnabled); err != nil {
		return err
	}
	if c.Introspection.NegativeCache.MaxEntries, err = dp.GetInt(cfgKeyIntrospectionNegativeCacheMaxEntries); err != nil {
		return err
	}
	if c.Introspection.NegativeCache.MaxEntries < 0 {
		return dp.WrapKeyErr(cfgKeyIntrospectionNegativeCacheMaxEntries, fmt.Errorf("max entries should be non-negative"))
	}
	if cacheTTL, err = dp.GetDuration(cfgKeyIntrospectionNegativeCacheTTL); err != nil {
		return err
	}
	c.Introspection.NegativeCache.TTL = config.TimeDuration(cacheTTL)

	return nil
}
