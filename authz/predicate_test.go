/*
Copyright © 2025 The Undertaking Authors.

Released under MIT license.
*/

package authz

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/twz123/undertaking-sub000/authn"
)

func TestScopesPresent(t *testing.T) {
	info := authn.NewInfo("user-1", []string{"uid", "docs.read"})

	require.True(t, ScopesPresent("uid").Evaluate(info).IsAuthorized())
	require.True(t, ScopesPresent("uid", "docs.read").Evaluate(info).IsAuthorized())
	require.True(t, ScopesPresent().Evaluate(info).IsAuthorized())

	result := ScopesPresent("docs.write", "admin").Evaluate(info)
	require.False(t, result.IsAuthorized())
	require.Equal(t, "missing required scopes [docs.write admin]", result.Reason())
}

func TestAndCollectsAllDenialReasons(t *testing.T) {
	info := authn.NewInfo("user-1", []string{"uid"})

	result := And(
		ScopesPresent("docs.write"),
		ScopesPresent("uid"),
		PredicateFunc(func(authn.Info) Result { return Denied("request is outside business hours") }),
	).Evaluate(info)

	require.False(t, result.IsAuthorized())
	require.Equal(t, "missing required scopes [docs.write]; request is outside business hours", result.Reason())
}

func TestAndAuthorizesWhenAllAuthorize(t *testing.T) {
	info := authn.NewInfo("user-1", []string{"uid", "docs.read"})

	result := And(ScopesPresent("uid"), ScopesPresent("docs.read")).Evaluate(info)
	require.True(t, result.IsAuthorized())
	require.Empty(t, result.Reason())
}

func TestOr(t *testing.T) {
	info := authn.NewInfo("user-1", []string{"uid"})

	require.True(t, Or(ScopesPresent("docs.write"), ScopesPresent("uid")).Evaluate(info).IsAuthorized())

	result := Or(ScopesPresent("docs.write"), ScopesPresent("admin")).Evaluate(info)
	require.False(t, result.IsAuthorized())
	require.Equal(t, "missing required scopes [docs.write]; missing required scopes [admin]", result.Reason())
}

func TestAllowAll(t *testing.T) {
	require.True(t, AllowAll().Evaluate(authn.Info{}).IsAuthorized())
}
