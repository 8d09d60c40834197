/*
Copyright © 2025 The Undertaking Authors.

Released under MIT license.
*/

// Package idptest provides a mock OAuth2 authorization server
// serving token and token info endpoints for testing purposes.
package idptest
