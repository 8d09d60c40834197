/*
Copyright © 2025 The Undertaking Authors.

Released under MIT license.
*/

package tokeninfo

import (
	"context"
	"crypto/sha256"
	"time"

	"github.com/acronis/go-appkit/lrucache"

	"github.com/twz123/undertaking-sub000/authn"
)

// CacheOpts is a configuration of how a validation result cache will be used.
type CacheOpts struct {
	Enabled    bool
	MaxEntries int
	TTL        time.Duration
}

type claimsCacheItem struct {
	Info      authn.Info
	CreatedAt time.Time
}

type negativeCacheItem struct {
	Err       *BadTokenInfoError
	CreatedAt time.Time
}

type cache[V any] interface {
	Get(ctx context.Context, key [sha256.Size]byte) (V, bool)
	Add(ctx context.Context, key [sha256.Size]byte, value V)
}

type lruCache[V any] struct {
	cache *lrucache.LRUCache[[sha256.Size]byte, V]
}

func (a *lruCache[V]) Get(_ context.Context, key [sha256.Size]byte) (V, bool) {
	return a.cache.Get(key)
}

func (a *lruCache[V]) Add(_ context.Context, key [sha256.Size]byte, value V) {
	a.cache.Add(key, value)
}

type disabledCache[V any] struct{}

func (disabledCache[V]) Get(_ context.Context, _ [sha256.Size]byte) (V, bool) {
	var zero V
	return zero, false
}

func (disabledCache[V]) Add(_ context.Context, _ [sha256.Size]byte, _ V) {}
