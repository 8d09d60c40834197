/*
Copyright © 2025 The Undertaking Authors.

Released under MIT license.
*/

package tokeninfo

import (
	"errors"
	"fmt"
)

// ErrValidationTimeout is returned when a validation could not be completed
// within the configured end-to-end timeout.
var ErrValidationTimeout = errors.New("token info validation timed out")

// BadTokenInfoError is returned when the token info endpoint definitely
// rejected the presented token. It is never retried and may be cached.
type BadTokenInfoError struct {
	ErrorCode   string
	Description string
}

func (e *BadTokenInfoError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("token rejected by token info endpoint: %s", e.ErrorCode)
	}
	return fmt.Sprintf("token rejected by token info endpoint: %s (%s)", e.ErrorCode, e.Description)
}

// RequestError is returned when the token info endpoint could not be reached
// or answered in an unexpected way, after all retries were exhausted.
type RequestError struct {
	Inner error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("token info request failed: %s", e.Inner.Error())
}

func (e *RequestError) Unwrap() error {
	return e.Inner
}

const (
	errCodeInvalidRequest = "invalid_request"
	errCodeInvalidToken   = "invalid_token"

	descAccessTokenNotValid = "Access Token not valid"
)

// normalizeErrorCode fixes up endpoints that report a rejected token as a
// malformed request. A rejected token is an invalid_token in OAuth2 terms.
func normalizeErrorCode(code, description string) string {
	if code == errCodeInvalidRequest && description == descAccessTokenNotValid {
		return errCodeInvalidToken
	}
	return code
}
