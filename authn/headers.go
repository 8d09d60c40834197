/*
Copyright © 2025 The Undertaking Authors.

Released under MIT license.
*/

package authn

import "net/http"

// Headers is a read-only view of request headers,
// decoupling providers from any concrete transport.
type Headers interface {
	// GetFirst returns the first value of the named header
	// and whether the header is present at all.
	GetFirst(name string) (string, bool)

	// Contains reports whether the named header is present.
	Contains(name string) bool
}

// HTTPHeaders adapts an http.Header to the Headers interface.
type HTTPHeaders http.Header

func (h HTTPHeaders) GetFirst(name string) (string, bool) {
	values := http.Header(h).Values(name)
	if len(values) == 0 {
		return "", false
	}
	return values[0], true
}

func (h HTTPHeaders) Contains(name string) bool {
	return len(http.Header(h).Values(name)) != 0
}
