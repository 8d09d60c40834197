/*
Copyright © 2025 The Undertaking Authors.

Released under MIT license.
*/

package authn

import (
	"context"
	"strings"

	jwtgo "github.com/golang-jwt/jwt/v5"
)

// HeaderAuthorization is the standard HTTP authorization header name.
const HeaderAuthorization = "Authorization"

const bearerPrefix = "Bearer "

// InfoValidator turns a raw access token into authentication Info.
// Context headers travel along so that implementations may honor
// per-request overrides.
type InfoValidator interface {
	Validate(ctx context.Context, token string, headers Headers) (Info, error)
}

// BearerTokenFromHeaders extracts a bearer token from the Authorization header.
// It returns ErrNoAccessToken when the header is absent and
// ErrMalformedAccessToken when it is present but not a usable bearer token.
func BearerTokenFromHeaders(headers Headers) (string, error) {
	authHeader, ok := headers.GetFirst(HeaderAuthorization)
	if !ok {
		return "", ErrNoAccessToken
	}
	if !strings.HasPrefix(authHeader, bearerPrefix) {
		return "", ErrMalformedAccessToken
	}
	token := strings.TrimSpace(authHeader[len(bearerPrefix):])
	if token == "" {
		return "", ErrMalformedAccessToken
	}
	// Tokens shaped like JWTs must at least carry a decodable header segment.
	if idx := strings.IndexByte(token, '.'); idx > 0 {
		if _, err := jwtgo.NewParser().DecodeSegment(token[:idx]); err != nil {
			return "", ErrMalformedAccessToken
		}
	}
	return token, nil
}

type bearerProvider struct {
	headers   Headers
	validator InfoValidator
}

// NewBearerProvider creates a Provider that extracts a bearer token from the
// given request headers and validates it with the given validator.
func NewBearerProvider(headers Headers, validator InfoValidator) Provider {
	return &bearerProvider{headers: headers, validator: validator}
}

func (p *bearerProvider) Authenticate(ctx context.Context) (Info, error) {
	token, err := BearerTokenFromHeaders(p.headers)
	if err != nil {
		return Info{}, err
	}
	return p.validator.Validate(ctx, token, p.headers)
}
