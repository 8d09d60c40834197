/*
Copyright © 2025 The Undertaking Authors.

Released under MIT license.
*/

// Package authz evaluates authorization predicates against authentication info.
package authz

import (
	"fmt"
	"strings"

	"github.com/twz123/undertaking-sub000/authn"
)

// Result is the outcome of evaluating a Predicate. A denied Result always
// carries a human-readable reason.
type Result struct {
	authorized bool
	reason     string
}

// Authorized returns a positive Result.
func Authorized() Result {
	return Result{authorized: true}
}

// Denied returns a negative Result with the given reason.
func Denied(reason string) Result {
	return Result{reason: reason}
}

// IsAuthorized reports whether the Result is positive.
func (r Result) IsAuthorized() bool {
	return r.authorized
}

// Reason returns why authorization was denied. It is empty for positive Results.
func (r Result) Reason() string {
	return r.reason
}

// Predicate decides whether an authenticated subject may perform a request.
// Evaluate must be side-effect free.
type Predicate interface {
	Evaluate(info authn.Info) Result
}

// PredicateFunc is an adapter allowing ordinary functions to act as Predicates.
type PredicateFunc func(info authn.Info) Result

func (f PredicateFunc) Evaluate(info authn.Info) Result {
	return f(info)
}

// AllowAll authorizes every authenticated subject.
func AllowAll() Predicate {
	return PredicateFunc(func(authn.Info) Result {
		return Authorized()
	})
}

// ScopesPresent requires every one of the given scopes to be granted.
// The denial reason names exactly the scopes that are missing.
func ScopesPresent(scopes ...string) Predicate {
	return PredicateFunc(func(info authn.Info) Result {
		var missing []string
		for _, scope := range scopes {
			if !info.HasScope(scope) {
				missing = append(missing, scope)
			}
		}
		if len(missing) != 0 {
			return Denied(fmt.Sprintf("missing required scopes [%s]", strings.Join(missing, " ")))
		}
		return Authorized()
	})
}

// And authorizes only when all predicates authorize. All predicates are
// evaluated even after the first denial so that the combined reason
// names everything that is wrong at once.
func And(predicates ...Predicate) Predicate {
	return PredicateFunc(func(info authn.Info) Result {
		var reasons []string
		for _, p := range predicates {
			if res := p.Evaluate(info); !res.IsAuthorized() {
				reasons = append(reasons, res.Reason())
			}
		}
		if len(reasons) != 0 {
			return Denied(strings.Join(reasons, "; "))
		}
		return Authorized()
	})
}

// Or authorizes when at least one predicate authorizes. When all deny,
// the combined reason joins every individual reason.
func Or(predicates ...Predicate) Predicate {
	return PredicateFunc(func(info authn.Info) Result {
		var reasons []string
		for _, p := range predicates {
			res := p.Evaluate(info)
			if res.IsAuthorized() {
				return Authorized()
			}
			reasons = append(reasons, res.Reason())
		}
		return Denied(strings.Join(reasons, "; "))
	})
}
