/*
Copyright © 2025 The Undertaking Authors.

Released under MIT license.
*/

package oauth2token

import (
	"context"
	"sync"
	"time"
)

// DefaultCacheWaitTimeout bounds how long Cache.Get blocks before the first token arrives.
const DefaultCacheWaitTimeout = time.Second

// Cache publishes the latest valid access token to arbitrarily many concurrent
// readers. Readers that arrive before the first publication block until the
// first token is published or a short timeout elapses. There is a single
// writer (the Refresher) by construction.
type Cache struct {
	waitTimeout time.Duration

	mu        sync.RWMutex
	current   AccessTokenResponse
	hasValue  bool
	published chan struct{} // closed on first publish, replay for late readers
}

// NewCache creates a Cache with the default wait timeout.
func NewCache() *Cache {
	return NewCacheWithWaitTimeout(DefaultCacheWaitTimeout)
}

// NewCacheWithWaitTimeout creates a Cache with a custom first-token wait timeout.
func NewCacheWithWaitTimeout(waitTimeout time.Duration) *Cache {
	if waitTimeout <= 0 {
		waitTimeout = DefaultCacheWaitTimeout
	}
	return &Cache{
		waitTimeout: waitTimeout,
		published:   make(chan struct{}),
	}
}

// Get returns the latest known token immediately if one exists. Otherwise it
// suspends the caller until the first token is published, the wait timeout
// elapses (ErrTokenUnavailable), or ctx is done, whichever happens first.
// All readers waiting for the first publication observe the same token.
func (c *Cache) Get(ctx context.Context) (AccessToken, error) {
	c.mu.RLock()
	if c.hasValue {
		token := c.current.Token
		c.mu.RUnlock()
		return token, nil
	}
	published := c.published
	c.mu.RUnlock()

	timer := time.NewTimer(c.waitTimeout)
	defer timer.Stop()

	select {
	case <-published:
	case <-timer.C:
		return AccessToken{}, ErrTokenUnavailable
	case <-ctx.Done():
		return AccessToken{}, ctx.Err()
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current.Token, nil
}

// Publish atomically replaces the current token and wakes all pending Get calls.
// It never blocks.
func (c *Cache) Publish(resp AccessTokenResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = resp
	if !c.hasValue {
		c.hasValue = true
		close(c.published)
	}
}

// Current returns the latest published response without waiting.
func (c *Cache) Current() (AccessTokenResponse, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current, c.hasValue
}
