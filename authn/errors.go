/*
Copyright © 2025 The Undertaking Authors.

Released under MIT license.
*/

package authn

import "errors"

// ErrNoAccessToken is returned when the request carries no Authorization header.
// Provider chains treat it as "try the next provider".
var ErrNoAccessToken = errors.New("no access token provided")

// ErrMalformedAccessToken is returned when the Authorization header is present
// but not a recognized bearer format. Provider chains treat it as
// "try the next provider".
var ErrMalformedAccessToken = errors.New("malformed access token")

// ErrMissingAuthentication is returned when no provider in the chain
// could authenticate the request.
var ErrMissingAuthentication = errors.New("request could not be authenticated by any provider")
