/*
Copyright © 2025 The Undertaking Authors.

Released under MIT license.
*/

package undertaking

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/acronis/go-appkit/httpserver/middleware"
	"github.com/acronis/go-appkit/log"
	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"

	"github.com/twz123/undertaking-sub000/authn"
	"github.com/twz123/undertaking-sub000/authz"
	"github.com/twz123/undertaking-sub000/internal/httputil"
	"github.com/twz123/undertaking-sub000/internal/metrics"
	"github.com/twz123/undertaking-sub000/tokeninfo"
)

// DefaultAuthorizationTimeout bounds the whole authorization decision for a
// single request, token validation included.
const DefaultAuthorizationTimeout = 1 * time.Minute

// DefaultBusinessPartnerRequiredScope is the scope a caller must hold to use
// the business partner override header.
const DefaultBusinessPartnerRequiredScope = "business_partner.write"

// DefaultRealm is the realm reported in WWW-Authenticate challenges.
const DefaultRealm = "api"

// OAuth2 error codes used in problem responses.
const (
	errCodeInvalidRequest    = "invalid_request"
	errCodeInsufficientScope = "insufficient_scope"
)

type ctxKey int

const ctxKeyAuthInfo ctxKey = iota

// HandlerProvider produces the handler for a request. The middleware resolves
// the handler in parallel with authentication, so a provider must not touch
// the response; only the returned handler may, and only once it is invoked.
type HandlerProvider interface {
	ProvideHandler(r *http.Request) (http.Handler, error)
}

// HandlerProviderFunc is an adapter allowing ordinary functions to act as HandlerProviders.
type HandlerProviderFunc func(r *http.Request) (http.Handler, error)

func (f HandlerProviderFunc) ProvideHandler(r *http.Request) (http.Handler, error) {
	return f(r)
}

type authHandler struct {
	handlerProvider HandlerProvider
	validator       authn.InfoValidator
	predicate       authz.Predicate
	extraProviders  []authn.Provider

	timeout         time.Duration
	bpHeaderName    string
	bpRequiredScope string
	realm           string

	loggerProvider func(ctx context.Context) log.FieldLogger
	promMetrics    *metrics.PrometheusMetrics
}

type authMiddlewareOpts struct {
	timeout         time.Duration
	bpHeaderName    string
	bpRequiredScope string
	realm           string

	handlerProvider            HandlerProvider
	extraProviders             []authn.Provider
	loggerProvider             func(ctx context.Context) log.FieldLogger
	prometheusLibInstanceLabel string
}

// AuthMiddlewareOption is an option for AuthMiddleware.
type AuthMiddlewareOption func(options *authMiddlewareOpts)

// WithAuthMiddlewareTimeout is an option to bound the authorization decision
// for a single request.
func WithAuthMiddlewareTimeout(timeout time.Duration) AuthMiddlewareOption {
	return func(options *authMiddlewareOpts) {
		options.timeout = timeout
	}
}

// WithAuthMiddlewareBusinessPartnerOverride is an option to set the business
// partner override header and the scope required to use it. An empty header
// name disables the override check.
func WithAuthMiddlewareBusinessPartnerOverride(headerName, requiredScope string) AuthMiddlewareOption {
	return func(options *authMiddlewareOpts) {
		options.bpHeaderName = headerName
		options.bpRequiredScope = requiredScope
	}
}

// WithAuthMiddlewareRealm is an option to set the realm reported in
// WWW-Authenticate challenges.
func WithAuthMiddlewareRealm(realm string) AuthMiddlewareOption {
	return func(options *authMiddlewareOpts) {
		options.realm = realm
	}
}

// WithAuthMiddlewareHandlerProvider is an option to resolve the request
// handler dynamically instead of always using the wrapped handler.
func WithAuthMiddlewareHandlerProvider(provider HandlerProvider) AuthMiddlewareOption {
	return func(options *authMiddlewareOpts) {
		options.handlerProvider = provider
	}
}

// WithAuthMiddlewareExtraProviders is an option to append authentication
// providers asked after the bearer token provider.
func WithAuthMiddlewareExtraProviders(providers ...authn.Provider) AuthMiddlewareOption {
	return func(options *authMiddlewareOpts) {
		options.extraProviders = providers
	}
}

// WithAuthMiddlewareLoggerProvider is an option to set a logger provider for AuthMiddleware.
func WithAuthMiddlewareLoggerProvider(loggerProvider func(ctx context.Context) log.FieldLogger) AuthMiddlewareOption {
	return func(options *authMiddlewareOpts) {
		options.loggerProvider = loggerProvider
	}
}

// WithAuthMiddlewarePrometheusLibInstanceLabel is an option to set a label for
// Prometheus metrics that are used by AuthMiddleware.
func WithAuthMiddlewarePrometheusLibInstanceLabel(label string) AuthMiddlewareOption {
	return func(options *authMiddlewareOpts) {
		options.prometheusLibInstanceLabel = label
	}
}

// AuthMiddleware decides whether an incoming request may proceed to the
// wrapped handler. Authentication and handler resolution run in parallel;
// the handler is invoked only after the request is authenticated and the
// authorization predicate accepts it. Every rejection is rendered as an
// RFC 7807 problem response:
//
//	401 when the request carries no usable token or a rejected one,
//	403 when the predicate denies, with the denial reason as detail,
//	502 when the token info endpoint cannot be reached,
//	503 while the token info circuit breaker is open,
//	504 when the decision does not complete within the configured timeout.
func AuthMiddleware(
	validator authn.InfoValidator, predicate authz.Predicate, opts ...AuthMiddlewareOption,
) func(next http.Handler) http.Handler {
	options := authMiddlewareOpts{
		timeout:         DefaultAuthorizationTimeout,
		bpHeaderName:    tokeninfo.DefaultBusinessPartnerHeader,
		bpRequiredScope: DefaultBusinessPartnerRequiredScope,
		realm:           DefaultRealm,
		loggerProvider:  middleware.GetLoggerFromContext,
	}
	for _, opt := range opts {
		opt(&options)
	}
	return func(next http.Handler) http.Handler {
		handlerProvider := options.handlerProvider
		if handlerProvider == nil {
			handlerProvider = HandlerProviderFunc(func(*http.Request) (http.Handler, error) {
				return next, nil
			})
		}
		return &authHandler{
			handlerProvider: handlerProvider,
			validator:       validator,
			predicate:       predicate,
			extraProviders:  options.extraProviders,
			timeout:         options.timeout,
			bpHeaderName:    options.bpHeaderName,
			bpRequiredScope: options.bpRequiredScope,
			realm:           options.realm,
			loggerProvider:  options.loggerProvider,
			promMetrics:     metrics.GetPrometheusMetrics(options.prometheusLibInstanceLabel, metrics.SourceHTTPMiddleware),
		}
	}
}

func (h *authHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	logger := httputil.GetLoggerFromProvider(r.Context(), h.loggerProvider)

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	r = r.WithContext(ctx)

	headers := authn.HTTPHeaders(r.Header)
	providers := append([]authn.Provider{authn.NewBearerProvider(headers, h.validator)}, h.extraProviders...)
	chain := authn.NewChain(providers...)

	predicate := h.predicate
	if h.bpHeaderName != "" {
		if _, hasOverride := headers.GetFirst(h.bpHeaderName); hasOverride {
			predicate = authz.And(authz.ScopesPresent(h.bpRequiredScope), predicate)
		}
	}

	type authOutcome struct {
		info authn.Info
		err  error
	}
	authCh := make(chan authOutcome, 1)
	go func() {
		info, err := chain.Resolve(ctx)
		authCh <- authOutcome{info: info, err: err}
	}()

	type handlerOutcome struct {
		handler http.Handler
		err     error
	}
	handlerCh := make(chan handlerOutcome, 1)
	go func() {
		handler, err := h.handlerProvider.ProvideHandler(r)
		handlerCh <- handlerOutcome{handler: handler, err: err}
	}()

	var auth authOutcome
	select {
	case auth = <-authCh:
	case <-ctx.Done():
		h.respondContextDone(rw, logger, ctx.Err())
		return
	}
	if auth.err != nil {
		h.respondAuthError(rw, logger, auth.err)
		return
	}

	if result := predicate.Evaluate(auth.info); !result.IsAuthorized() {
		logger.Warn("request authorization denied", log.String("reason", result.Reason()))
		problem := NewProblem(http.StatusForbidden, result.Reason())
		problem.ErrorCode = errCodeInsufficientScope
		RespondProblem(rw, logger, problem)
		return
	}

	var next handlerOutcome
	select {
	case next = <-handlerCh:
	case <-ctx.Done():
		h.respondContextDone(rw, logger, ctx.Err())
		return
	}
	if next.err != nil {
		h.respondServerError(rw, logger, http.StatusInternalServerError, "resolving request handler failed", next.err)
		return
	}

	defer func() {
		if p := recover(); p != nil {
			h.respondServerError(rw, logger, http.StatusInternalServerError,
				"request handler panicked", fmt.Errorf("%v", p))
		}
	}()
	next.handler.ServeHTTP(rw, r.WithContext(NewContextWithAuthInfo(ctx, auth.info)))
}

func (h *authHandler) respondContextDone(rw http.ResponseWriter, logger log.FieldLogger, ctxErr error) {
	if !errors.Is(ctxErr, context.DeadlineExceeded) {
		// The client went away, there is nobody left to answer.
		return
	}
	h.promMetrics.IncTokenValidationsTotal(metrics.TokenValidationStatusTimeout)
	h.respondServerError(rw, logger, http.StatusGatewayTimeout, "authorization decision timed out", ctxErr)
}

func (h *authHandler) respondAuthError(rw http.ResponseWriter, logger log.FieldLogger, err error) {
	var badToken *tokeninfo.BadTokenInfoError
	var requestErr *tokeninfo.RequestError
	switch {
	case errors.Is(err, authn.ErrMissingAuthentication):
		rw.Header().Set("WWW-Authenticate", fmt.Sprintf("Bearer realm=%q", h.realm))
		problem := NewProblem(http.StatusUnauthorized, "no acceptable authentication material was provided")
		problem.ErrorCode = errCodeInvalidRequest
		RespondProblem(rw, logger, problem)
	case errors.As(err, &badToken):
		correlationID := uuid.NewString()
		logger.Warn("access token rejected by token info endpoint",
			log.String("problem_uuid", correlationID), log.Error(err))
		rw.Header().Set("WWW-Authenticate",
			fmt.Sprintf("Bearer realm=%q, error=%q, error_description=%q", h.realm, badToken.ErrorCode, badToken.Description))
		problem := NewProblem(http.StatusUnauthorized, badToken.Description)
		problem.ErrorCode = badToken.ErrorCode
		problem.UUID = correlationID
		RespondProblem(rw, logger, problem)
	case errors.Is(err, tokeninfo.ErrValidationTimeout), errors.Is(err, context.DeadlineExceeded):
		h.respondServerError(rw, logger, http.StatusGatewayTimeout, "token validation timed out", err)
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		h.respondServerError(rw, logger, http.StatusServiceUnavailable, "token validation is temporarily unavailable", err)
	case errors.As(err, &requestErr):
		h.respondServerError(rw, logger, http.StatusBadGateway, "token info endpoint could not be reached", err)
	case errors.Is(err, context.Canceled):
		// The client went away, there is nobody left to answer.
	default:
		h.respondServerError(rw, logger, http.StatusInternalServerError, "authentication failed unexpectedly", err)
	}
}

// respondServerError renders a problem response carrying a fresh correlation
// id and logs the underlying error under the same id.
func (h *authHandler) respondServerError(
	rw http.ResponseWriter, logger log.FieldLogger, status int, detail string, err error,
) {
	correlationID := uuid.NewString()
	logger.Error(detail, log.String("problem_uuid", correlationID), log.Error(err))
	problem := NewProblem(status, detail)
	problem.UUID = correlationID
	RespondProblem(rw, logger, problem)
}

// NewContextWithAuthInfo creates a new context with authentication info.
func NewContextWithAuthInfo(ctx context.Context, info authn.Info) context.Context {
	return context.WithValue(ctx, ctxKeyAuthInfo, info)
}

// GetAuthInfoFromContext extracts authentication info from the context.
func GetAuthInfoFromContext(ctx context.Context) (authn.Info, bool) {
	value, ok := ctx.Value(ctxKeyAuthInfo).(authn.Info)
	return value, ok
}
