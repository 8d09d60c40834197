/*
Copyright © 2025 The Undertaking Authors.

Released under MIT license.
*/

package oauth2token

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCacheGetReturnsPublishedToken(t *testing.T) {
	cache := NewCache()
	cache.Publish(AccessTokenResponse{Token: NewAccessToken("tok-1"), ExpiryTime: time.Now().Add(time.Hour)})

	token, err := cache.Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, "tok-1", token.Value())

	cache.Publish(AccessTokenResponse{Token: NewAccessToken("tok-2"), ExpiryTime: time.Now().Add(time.Hour)})
	token, err = cache.Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, "tok-2", token.Value())
}

func TestCacheGetBroadcastsFirstToken(t *testing.T) {
	const readers = 32

	cache := NewCacheWithWaitTimeout(5 * time.Second)

	var wg sync.WaitGroup
	tokens := make([]AccessToken, readers)
	errs := make([]error, readers)
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = cache.Get(context.Background())
		}(i)
	}

	// Give the readers a chance to suspend before the first publication.
	time.Sleep(50 * time.Millisecond)
	cache.Publish(AccessTokenResponse{Token: NewAccessToken("first"), ExpiryTime: time.Now().Add(time.Hour)})
	wg.Wait()

	for i := 0; i < readers; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, "first", tokens[i].Value())
	}
}

func TestCacheGetTimesOutWithoutToken(t *testing.T) {
	cache := NewCacheWithWaitTimeout(20 * time.Millisecond)

	started := time.Now()
	_, err := cache.Get(context.Background())
	require.ErrorIs(t, err, ErrTokenUnavailable)
	require.Less(t, time.Since(started), 5*time.Second)
}

func TestCacheGetObservesContextCancellation(t *testing.T) {
	cache := NewCache()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := cache.Get(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestCacheCurrent(t *testing.T) {
	cache := NewCache()

	_, ok := cache.Current()
	require.False(t, ok)

	expiry := time.Now().Add(time.Hour)
	cache.Publish(AccessTokenResponse{Token: NewAccessToken("tok"), ExpiryTime: expiry})
	current, ok := cache.Current()
	require.True(t, ok)
	require.Equal(t, "tok", current.Token.Value())
	require.Equal(t, expiry, current.ExpiryTime)
}
