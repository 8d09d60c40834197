/*
Copyright © 2025 The Undertaking Authors.

Released under MIT license.
*/

// Package undertaking ties OAuth2 access token refreshing, token info based
// authentication and predicate based authorization together for HTTP services.
//
// The oauth2token package keeps a service's own access token fresh, the
// tokeninfo package validates tokens presented by callers, and the authn and
// authz packages turn validation results into authorization decisions.
// AuthMiddleware combines all of that into a net/http middleware driven by
// a Config loadable with github.com/acronis/go-appkit/config.
package undertaking
