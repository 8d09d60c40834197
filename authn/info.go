/*
Copyright © 2025 The Undertaking Authors.

Released under MIT license.
*/

package authn

import "sort"

// Info is the result of authenticating a request: the subject the token was
// issued for, the granted scopes, and an optional business partner on whose
// behalf the subject acts. Info values are immutable; WithBusinessPartnerID
// derives a modified copy.
type Info struct {
	subjectID         string
	scopes            map[string]struct{}
	businessPartnerID string
}

// NewInfo creates an Info for the given subject and scopes.
func NewInfo(subjectID string, scopes []string) Info {
	scopeSet := make(map[string]struct{}, len(scopes))
	for _, s := range scopes {
		scopeSet[s] = struct{}{}
	}
	return Info{subjectID: subjectID, scopes: scopeSet}
}

// SubjectID returns the authenticated subject identifier, which may be empty.
func (i Info) SubjectID() string {
	return i.subjectID
}

// HasScope reports whether the given scope was granted.
func (i Info) HasScope(name string) bool {
	_, ok := i.scopes[name]
	return ok
}

// Scopes returns the granted scopes as a sorted slice.
func (i Info) Scopes() []string {
	result := make([]string, 0, len(i.scopes))
	for s := range i.scopes {
		result = append(result, s)
	}
	sort.Strings(result)
	return result
}

// BusinessPartnerID returns the business partner identifier and whether it is set.
func (i Info) BusinessPartnerID() (string, bool) {
	return i.businessPartnerID, i.businessPartnerID != ""
}

// WithBusinessPartnerID derives a copy of the Info with the business partner set.
func (i Info) WithBusinessPartnerID(id string) Info {
	i.businessPartnerID = id
	return i
}
