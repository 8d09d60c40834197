/*
Copyright © 2025 The Undertaking Authors.

Released under MIT license.
*/

package authn

import (
	"context"
	"errors"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// Provider authenticates a request from one kind of credential material.
// A provider that finds no material of its kind returns ErrNoAccessToken,
// and one that finds unusable material returns ErrMalformedAccessToken,
// so that a Chain can move on to the next provider.
type Provider interface {
	Authenticate(ctx context.Context) (Info, error)
}

// ProviderFunc is an adapter allowing ordinary functions to act as Providers.
type ProviderFunc func(ctx context.Context) (Info, error)

func (f ProviderFunc) Authenticate(ctx context.Context) (Info, error) {
	return f(ctx)
}

type chainResult struct {
	info Info
	err  error
}

// Chain resolves authentication by asking an ordered list of providers.
// A Chain is bound to a single request: the first call to Resolve runs the
// providers, every call observes the same outcome, and concurrent calls
// share the one in-flight resolution instead of starting their own.
type Chain struct {
	providers []Provider
	result    atomic.Pointer[chainResult]
	group     singleflight.Group
}

// NewChain creates a Chain over the given providers, asked in order.
func NewChain(providers ...Provider) *Chain {
	return &Chain{providers: providers}
}

// Resolve returns the authentication outcome for the request. Providers run
// at most once per Chain; the resolution happens on the context of whichever
// caller arrives first, and later callers replay the stored outcome.
func (c *Chain) Resolve(ctx context.Context) (Info, error) {
	if res := c.result.Load(); res != nil {
		return res.info, res.err
	}
	v, err, _ := c.group.Do("resolve", func() (interface{}, error) {
		info, resolveErr := c.resolve(ctx)
		c.result.CompareAndSwap(nil, &chainResult{info: info, err: resolveErr})
		return info, resolveErr
	})
	if err != nil {
		return Info{}, err
	}
	return v.(Info), nil
}

func (c *Chain) resolve(ctx context.Context) (Info, error) {
	for _, provider := range c.providers {
		info, err := provider.Authenticate(ctx)
		if err != nil {
			if errors.Is(err, ErrNoAccessToken) || errors.Is(err, ErrMalformedAccessToken) {
				continue
			}
			return Info{}, err
		}
		return info, nil
	}
	return Info{}, ErrMissingAuthentication
}
