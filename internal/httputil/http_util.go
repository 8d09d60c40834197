/*
Copyright © 2025 The Undertaking Authors.

Released under MIT license.
*/

package httputil

import (
	"context"
	"net/http"
	"time"

	"github.com/acronis/go-appkit/httpclient"
	"github.com/acronis/go-appkit/log"

	"github.com/twz123/undertaking-sub000/internal/libinfo"
)

const (
	DefaultRequestTimeout          = 30 * time.Second
	DefaultRequestMaxRetryAttempts = 3
)

// DefaultLogger is used when no logger is configured explicitly.
var DefaultLogger = log.NewDisabledLogger()

// MakeDefaultClient constructs an HTTP client with retries and the library User-Agent,
// suitable for talking to token and introspection endpoints.
func MakeDefaultClient(reqTimeout time.Duration, logger log.FieldLogger) *http.Client {
	if reqTimeout == 0 {
		reqTimeout = DefaultRequestTimeout
	}
	var tr http.RoundTripper = http.DefaultTransport.(*http.Transport).Clone()
	tr, _ = httpclient.NewRetryableRoundTripperWithOpts(tr, httpclient.RetryableRoundTripperOpts{
		MaxRetryAttempts: DefaultRequestMaxRetryAttempts, Logger: logger}) // error is always nil
	tr = httpclient.NewUserAgentRoundTripper(tr, libinfo.UserAgent())
	return &http.Client{Timeout: reqTimeout, Transport: tr}
}

// PrepareLogger returns a logger prefixed with the library name,
// falling back to a disabled logger when nil is passed.
func PrepareLogger(logger log.FieldLogger) log.FieldLogger {
	if logger == nil {
		return log.NewDisabledLogger()
	}
	return log.NewPrefixedLogger(logger, libinfo.LogPrefix())
}

// GetLoggerFromProvider resolves a per-request logger, falling back to DefaultLogger.
func GetLoggerFromProvider(ctx context.Context, provider func(ctx context.Context) log.FieldLogger) log.FieldLogger {
	if provider != nil {
		if logger := provider(ctx); logger != nil {
			return log.NewPrefixedLogger(logger, libinfo.LogPrefix())
		}
	}
	return DefaultLogger
}
