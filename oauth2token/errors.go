/*
Copyright © 2025 The Undertaking Authors.

Released under MIT license.
*/

package oauth2token

import (
	"errors"
	"fmt"
)

// ErrTokenUnavailable is returned by Cache.Get when no token has been published
// within the waiting period.
var ErrTokenUnavailable = errors.New("no access token available")

// BadCredentialsError is returned when the token endpoint rejects the credential
// exchange with an OAuth2 error body (HTTP 400/401).
type BadCredentialsError struct {
	HTTPCode    int
	ErrorCode   string
	Description string
}

func (e *BadCredentialsError) Error() string {
	return fmt.Sprintf("token endpoint rejected credentials (code %d): %s: %s",
		e.HTTPCode, e.ErrorCode, e.Description)
}

// UnexpectedResponseError is returned when the token endpoint responds
// with a status code that carries no OAuth2 error semantics.
type UnexpectedResponseError struct {
	HTTPCode int
	IssueURL string
}

func (e *UnexpectedResponseError) Error() string {
	return fmt.Sprintf("%s responded with unexpected code %d", e.IssueURL, e.HTTPCode)
}
