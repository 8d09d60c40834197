/*
Copyright © 2025 The Undertaking Authors.

Released under MIT license.
*/

package undertaking

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/require"

	"github.com/twz123/undertaking-sub000/authn"
	"github.com/twz123/undertaking-sub000/authz"
	"github.com/twz123/undertaking-sub000/tokeninfo"
)

type infoValidatorFunc func(ctx context.Context, token string, headers authn.Headers) (authn.Info, error)

func (f infoValidatorFunc) Validate(ctx context.Context, token string, headers authn.Headers) (authn.Info, error) {
	return f(ctx, token, headers)
}

func validatorReturning(info authn.Info, err error) authn.InfoValidator {
	return infoValidatorFunc(func(context.Context, string, authn.Headers) (authn.Info, error) {
		return info, err
	})
}

func doAuthRequest(
	t *testing.T, mw func(http.Handler) http.Handler, next http.Handler, decorate func(r *http.Request),
) *httptest.ResponseRecorder {
	t.Helper()
	if next == nil {
		next = http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
			rw.WriteHeader(http.StatusNoContent)
		})
	}
	req := httptest.NewRequest(http.MethodGet, "/documents", nil)
	if decorate != nil {
		decorate(req)
	}
	rec := httptest.NewRecorder()
	mw(next).ServeHTTP(rec, req)
	return rec
}

func withBearer(token string) func(r *http.Request) {
	return func(r *http.Request) {
		r.Header.Set(authn.HeaderAuthorization, "Bearer "+token)
	}
}

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) Problem {
	t.Helper()
	require.Equal(t, ContentTypeProblemJSON, rec.Header().Get("Content-Type"))
	var problem Problem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	return problem
}

func TestAuthMiddlewareAuthorizesValidRequest(t *testing.T) {
	validator := validatorReturning(authn.NewInfo("user-1", []string{"uid", "docs.read"}), nil)
	mw := AuthMiddleware(validator, authz.ScopesPresent("docs.read"))

	var infoInContext authn.Info
	var hadInfo bool
	next := http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		infoInContext, hadInfo = GetAuthInfoFromContext(r.Context())
		rw.WriteHeader(http.StatusNoContent)
	})

	rec := doAuthRequest(t, mw, next, withBearer("valid-token"))
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.True(t, hadInfo)
	require.Equal(t, "user-1", infoInContext.SubjectID())
}

func TestAuthMiddlewareRejectsRequestWithoutToken(t *testing.T) {
	validator := validatorReturning(authn.Info{}, errors.New("must not be called"))
	mw := AuthMiddleware(validator, authz.AllowAll())

	nextCalled := false
	next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { nextCalled = true })

	rec := doAuthRequest(t, mw, next, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.False(t, nextCalled)
	require.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer realm=")

	problem := decodeProblem(t, rec)
	require.Equal(t, http.StatusUnauthorized, problem.Status)
	require.Equal(t, "invalid_request", problem.ErrorCode)
}

func TestAuthMiddlewareRejectsRejectedToken(t *testing.T) {
	validator := validatorReturning(authn.Info{}, &tokeninfo.BadTokenInfoError{
		ErrorCode: "invalid_token", Description: "Access Token not valid"})
	mw := AuthMiddleware(validator, authz.AllowAll())

	rec := doAuthRequest(t, mw, nil, withBearer("bad-token"))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Header().Get("WWW-Authenticate"), `error="invalid_token"`)

	problem := decodeProblem(t, rec)
	require.Equal(t, "invalid_token", problem.ErrorCode)
	require.NotEmpty(t, problem.UUID, "a logged rejection must carry a correlation id")
}

func TestAuthMiddlewareDeniesOnPredicate(t *testing.T) {
	validator := validatorReturning(authn.NewInfo("user-1", []string{"uid"}), nil)
	mw := AuthMiddleware(validator, authz.ScopesPresent("docs.write"))

	rec := doAuthRequest(t, mw, nil, withBearer("valid-token"))
	require.Equal(t, http.StatusForbidden, rec.Code)

	problem := decodeProblem(t, rec)
	require.Equal(t, "insufficient_scope", problem.ErrorCode)
	require.Equal(t, "missing required scopes [docs.write]", problem.Detail)
}

func TestAuthMiddlewareBusinessPartnerOverrideRequiresScope(t *testing.T) {
	withOverride := func(r *http.Request) {
		withBearer("valid-token")(r)
		r.Header.Set(tokeninfo.DefaultBusinessPartnerHeader, "bp-1")
	}

	t.Run("denied without scope", func(t *testing.T) {
		validator := validatorReturning(authn.NewInfo("user-1", []string{"uid"}), nil)
		mw := AuthMiddleware(validator, authz.AllowAll())

		rec := doAuthRequest(t, mw, nil, withOverride)
		require.Equal(t, http.StatusForbidden, rec.Code)
		problem := decodeProblem(t, rec)
		require.Contains(t, problem.Detail, DefaultBusinessPartnerRequiredScope)
	})

	t.Run("allowed with scope", func(t *testing.T) {
		validator := validatorReturning(
			authn.NewInfo("user-1", []string{"uid", DefaultBusinessPartnerRequiredScope}), nil)
		mw := AuthMiddleware(validator, authz.AllowAll())

		rec := doAuthRequest(t, mw, nil, withOverride)
		require.Equal(t, http.StatusNoContent, rec.Code)
	})
}

func TestAuthMiddlewareMapsUpstreamFailures(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{
			name:       "unreachable token info endpoint",
			err:        &tokeninfo.RequestError{Inner: errors.New("connection refused")},
			wantStatus: http.StatusBadGateway,
		},
		{
			name:       "open circuit breaker",
			err:        gobreaker.ErrOpenState,
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:       "validation timeout",
			err:        tokeninfo.ErrValidationTimeout,
			wantStatus: http.StatusGatewayTimeout,
		},
		{
			name:       "unexpected error",
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mw := AuthMiddleware(validatorReturning(authn.Info{}, tt.err), authz.AllowAll())

			rec := doAuthRequest(t, mw, nil, withBearer("some-token"))
			require.Equal(t, tt.wantStatus, rec.Code)

			problem := decodeProblem(t, rec)
			require.Equal(t, tt.wantStatus, problem.Status)
			require.NotEmpty(t, problem.UUID, "server-side failures must carry a correlation id")
		})
	}
}

func TestAuthMiddlewareTimesOutAndCancelsWork(t *testing.T) {
	observedErr := make(chan error, 1)
	validator := infoValidatorFunc(func(ctx context.Context, _ string, _ authn.Headers) (authn.Info, error) {
		<-ctx.Done()
		observedErr <- ctx.Err()
		return authn.Info{}, ctx.Err()
	})
	mw := AuthMiddleware(validator, authz.AllowAll(), WithAuthMiddlewareTimeout(50*time.Millisecond))

	started := time.Now()
	rec := doAuthRequest(t, mw, nil, withBearer("some-token"))
	require.Less(t, time.Since(started), 5*time.Second)
	require.Equal(t, http.StatusGatewayTimeout, rec.Code)

	problem := decodeProblem(t, rec)
	require.NotEmpty(t, problem.UUID)

	select {
	case err := <-observedErr:
		require.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(time.Second):
		t.Fatal("validator never observed the cancellation")
	}
}

func TestAuthMiddlewareResolvesHandlerInParallel(t *testing.T) {
	providerAsked := make(chan struct{})
	validator := infoValidatorFunc(func(context.Context, string, authn.Headers) (authn.Info, error) {
		// The handler provider must have been asked before authentication finishes.
		select {
		case <-providerAsked:
			return authn.NewInfo("user-1", nil), nil
		case <-time.After(2 * time.Second):
			return authn.Info{}, errors.New("handler resolution did not start in parallel")
		}
	})

	var providedCalled atomic.Bool
	provider := HandlerProviderFunc(func(*http.Request) (http.Handler, error) {
		close(providerAsked)
		return http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
			providedCalled.Store(true)
			rw.WriteHeader(http.StatusNoContent)
		}), nil
	})

	mw := AuthMiddleware(validator, authz.AllowAll(), WithAuthMiddlewareHandlerProvider(provider))
	rec := doAuthRequest(t, mw, nil, withBearer("some-token"))
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.True(t, providedCalled.Load())
}

func TestAuthMiddlewareHandlerProviderFailure(t *testing.T) {
	validator := validatorReturning(authn.NewInfo("user-1", nil), nil)
	provider := HandlerProviderFunc(func(*http.Request) (http.Handler, error) {
		return nil, errors.New("no route")
	})

	mw := AuthMiddleware(validator, authz.AllowAll(), WithAuthMiddlewareHandlerProvider(provider))
	rec := doAuthRequest(t, mw, nil, withBearer("some-token"))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotEmpty(t, decodeProblem(t, rec).UUID)
}

func TestAuthMiddlewareRecoversFromHandlerPanic(t *testing.T) {
	validator := validatorReturning(authn.NewInfo("user-1", nil), nil)
	next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("handler exploded")
	})

	mw := AuthMiddleware(validator, authz.AllowAll())
	rec := doAuthRequest(t, mw, next, withBearer("some-token"))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotEmpty(t, decodeProblem(t, rec).UUID)
}
