/*
Copyright © 2025 The Undertaking Authors.

Released under MIT license.
*/

package oauth2token

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/acronis/go-appkit/log"

	"github.com/twz123/undertaking-sub000/internal/httputil"
	"github.com/twz123/undertaking-sub000/internal/metrics"
)

// TokenRequester requests a fresh access token from a token endpoint.
type TokenRequester interface {
	RequestToken(ctx context.Context, creds RequestCredentials, scope []string) (AccessTokenResponse, error)
}

// EndpointClientOpts is a set of options for creating EndpointClient.
type EndpointClientOpts struct {
	// HTTPClient is the HTTP client for doing token requests.
	HTTPClient *http.Client

	// Logger is a logger for logging errors and debug information.
	Logger log.FieldLogger

	// PrometheusLibInstanceLabel is a label for Prometheus metrics.
	// It allows distinguishing metrics from different instances of the same service.
	PrometheusLibInstanceLabel string
}

// EndpointClient performs the OAuth2 resource owner password credentials
// exchange against a token endpoint.
type EndpointClient struct {
	tokenURL    string
	httpClient  *http.Client
	logger      log.FieldLogger
	promMetrics *metrics.PrometheusMetrics
}

// NewEndpointClient creates a new EndpointClient for the given token endpoint URL.
func NewEndpointClient(tokenURL string) (*EndpointClient, error) {
	return NewEndpointClientWithOpts(tokenURL, EndpointClientOpts{})
}

// NewEndpointClientWithOpts creates a new EndpointClient with custom options.
func NewEndpointClientWithOpts(tokenURL string, opts EndpointClientOpts) (*EndpointClient, error) {
	if _, err := url.ParseRequestURI(tokenURL); err != nil {
		return nil, fmt.Errorf("parse token endpoint URL %q: %w", tokenURL, err)
	}
	opts.Logger = httputil.PrepareLogger(opts.Logger)
	if opts.HTTPClient == nil {
		opts.HTTPClient = httputil.MakeDefaultClient(httputil.DefaultRequestTimeout, opts.Logger)
	}
	return &EndpointClient{
		tokenURL:    tokenURL,
		httpClient:  opts.HTTPClient,
		logger:      opts.Logger,
		promMetrics: metrics.GetPrometheusMetrics(opts.PrometheusLibInstanceLabel, metrics.SourceTokenRefresher),
	}, nil
}

// RequestToken exchanges the credentials for a fresh access token.
// HTTP 400/401 responses carrying an OAuth2 error body fail with *BadCredentialsError,
// any other non-200 response fails with *UnexpectedResponseError.
func (c *EndpointClient) RequestToken(
	ctx context.Context, creds RequestCredentials, scope []string,
) (AccessTokenResponse, error) {
	values := url.Values{}
	values.Set("grant_type", "password")
	values.Set("username", creds.User.Username)
	values.Set("password", creds.User.Password)
	if scopeStr := strings.Join(scope, " "); scopeStr != "" {
		values.Set("scope", scopeStr)
	}

	req, err := http.NewRequest(http.MethodPost, c.tokenURL, strings.NewReader(values.Encode()))
	if err != nil {
		return AccessTokenResponse{}, fmt.Errorf("new request: %w", err)
	}
	req = req.WithContext(ctx)
	req.SetBasicAuth(creds.Client.ID, creds.Client.Secret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		c.promMetrics.ObserveHTTPClientRequest(http.MethodPost, c.tokenURL, 0, elapsed, metrics.HTTPRequestErrorDo)
		return AccessTokenResponse{}, fmt.Errorf("do http request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Error(fmt.Sprintf("closing response body error for POST %s", c.tokenURL), log.Error(closeErr))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		c.promMetrics.ObserveHTTPClientRequest(
			http.MethodPost, c.tokenURL, resp.StatusCode, elapsed, metrics.HTTPRequestErrorUnexpectedStatusCode)
		if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized {
			// Error bodies are best effort, rejections come in many shapes.
			var errBody tokenResponseBody
			_ = json.NewDecoder(resp.Body).Decode(&errBody)
			return AccessTokenResponse{}, &BadCredentialsError{
				HTTPCode:    resp.StatusCode,
				ErrorCode:   errBody.Error,
				Description: errBody.ErrorDescription,
			}
		}
		return AccessTokenResponse{}, &UnexpectedResponseError{HTTPCode: resp.StatusCode, IssueURL: c.tokenURL}
	}

	var body tokenResponseBody
	if err = json.NewDecoder(resp.Body).Decode(&body); err != nil {
		c.promMetrics.ObserveHTTPClientRequest(
			http.MethodPost, c.tokenURL, resp.StatusCode, elapsed, metrics.HTTPRequestErrorDecodeBody)
		return AccessTokenResponse{}, fmt.Errorf("read and unmarshal token endpoint response: %w", err)
	}

	c.promMetrics.ObserveHTTPClientRequest(http.MethodPost, c.tokenURL, resp.StatusCode, elapsed, "")
	expiry := time.Now().Add(time.Second * time.Duration(body.ExpiresIn))
	token := NewAccessToken(body.AccessToken)
	c.logger.Infof("issued token %s, expires on %s", token, expiry.UTC())
	return AccessTokenResponse{Token: token, ExpiryTime: expiry}, nil
}

type tokenResponseBody struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`

	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}
