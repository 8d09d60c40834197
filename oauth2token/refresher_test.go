/*
Copyright © 2025 The Undertaking Authors.

Released under MIT license.
*/

package oauth2token

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type tokenRequesterFunc func(ctx context.Context, creds RequestCredentials, scope []string) (AccessTokenResponse, error)

func (f tokenRequesterFunc) RequestToken(
	ctx context.Context, creds RequestCredentials, scope []string,
) (AccessTokenResponse, error) {
	return f(ctx, creds, scope)
}

var testCredentials = RequestCredentials{
	Client: ClientCredentials{ID: "client-1", Secret: "secret"},
	User:   UserCredentials{Username: "svc-user", Password: "pass"},
}

var errStopRefresher = errors.New("refresher stopped by test")

// runRefresherScript runs a Refresher against a scripted sequence of token
// endpoint outcomes and records the delays the refresher would have slept,
// stopping the loop after stopAfterSleeps recorded delays. A script shorter
// than the number of cycles repeats its last entry.
func runRefresherScript(
	t *testing.T, opts RefresherOpts, script []func() (AccessTokenResponse, error), stopAfterSleeps int,
) (sleeps []time.Duration, runErr error, cache *Cache) {
	t.Helper()

	calls := 0
	requester := tokenRequesterFunc(func(context.Context, RequestCredentials, []string) (AccessTokenResponse, error) {
		result := script[calls]
		if calls < len(script)-1 {
			calls++
		}
		return result()
	})

	cache = NewCache()
	r, err := NewRefresherWithOpts(cache, NewStaticCredentialSource(testCredentials), requester, opts)
	require.NoError(t, err)

	r.sleep = func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		if len(sleeps) >= stopAfterSleeps {
			return errStopRefresher
		}
		return nil
	}

	runErr = r.Run(context.Background())
	return sleeps, runErr, cache
}

func success(expiresIn time.Duration) func() (AccessTokenResponse, error) {
	token := NewAccessToken("tok")
	return func() (AccessTokenResponse, error) {
		return AccessTokenResponse{Token: token, ExpiryTime: time.Now().Add(expiresIn)}, nil
	}
}

func failure() (AccessTokenResponse, error) {
	return AccessTokenResponse{}, errors.New("connection refused")
}

func badCredentials() (AccessTokenResponse, error) {
	return AccessTokenResponse{}, &BadCredentialsError{HTTPCode: 401, ErrorCode: "invalid_client"}
}

func fail(n int) []func() (AccessTokenResponse, error) {
	script := make([]func() (AccessTokenResponse, error), n)
	for i := range script {
		script[i] = failure
	}
	return script
}

func TestRefresherFollowsBackoffSchedule(t *testing.T) {
	sleeps, runErr, _ := runRefresherScript(t, RefresherOpts{}, fail(1), 8)

	require.ErrorIs(t, runErr, errStopRefresher)
	require.Equal(t, []time.Duration{
		0,
		1 * time.Second,
		1 * time.Second,
		5 * time.Second,
		15 * time.Second,
		30 * time.Second,
		60 * time.Second,
		60 * time.Second,
	}, sleeps)
}

func TestRefresherSchedulesRefreshByTokenLifetime(t *testing.T) {
	sleeps, runErr, cache := runRefresherScript(t,
		RefresherOpts{RefreshPercentage: 50},
		[]func() (AccessTokenResponse, error){success(60 * time.Second)}, 1)

	require.ErrorIs(t, runErr, errStopRefresher)
	require.Len(t, sleeps, 1)
	// 50% of a lifetime close to 60s; the response carries a real expiry
	// timestamp, so allow for the time the test itself needed.
	require.InDelta(t, float64(30*time.Second), float64(sleeps[0]), float64(2*time.Second))

	token, err := cache.Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, "tok", token.Value())
}

func TestRefresherRecoversAfterFailures(t *testing.T) {
	script := append(fail(2), success(60*time.Second))
	sleeps, runErr, cache := runRefresherScript(t, RefresherOpts{RefreshPercentage: 50}, script, 3)

	require.ErrorIs(t, runErr, errStopRefresher)
	require.Len(t, sleeps, 3)
	require.Equal(t, time.Duration(0), sleeps[0])
	require.Equal(t, 1*time.Second, sleeps[1])
	require.InDelta(t, float64(30*time.Second), float64(sleeps[2]), float64(2*time.Second))

	_, ok := cache.Current()
	require.True(t, ok)
}

func TestRefresherResetsBackoffAfterSuccess(t *testing.T) {
	script := append(fail(3), success(60*time.Second))
	script = append(script, fail(2)...)
	sleeps, runErr, _ := runRefresherScript(t, RefresherOpts{}, script, 6)

	require.ErrorIs(t, runErr, errStopRefresher)
	require.Len(t, sleeps, 6)
	require.Equal(t, []time.Duration{0, 1 * time.Second, 1 * time.Second}, sleeps[:3])
	// After the success the schedule starts over.
	require.Equal(t, time.Duration(0), sleeps[4])
	require.Equal(t, 1*time.Second, sleeps[5])
}

func TestRefresherTreatsExpiredTokenAsImmediateRefresh(t *testing.T) {
	sleeps, runErr, _ := runRefresherScript(t,
		RefresherOpts{},
		[]func() (AccessTokenResponse, error){success(-time.Minute)}, 1)

	require.ErrorIs(t, runErr, errStopRefresher)
	require.Equal(t, []time.Duration{0}, sleeps)
}

func TestRefresherRetriesBadCredentialsByDefault(t *testing.T) {
	script := []func() (AccessTokenResponse, error){badCredentials}
	sleeps, runErr, _ := runRefresherScript(t, RefresherOpts{}, script, 2)

	require.ErrorIs(t, runErr, errStopRefresher)
	require.Equal(t, []time.Duration{0, 1 * time.Second}, sleeps)
}

func TestRefresherStopsOnBadCredentialsWhenConfigured(t *testing.T) {
	script := []func() (AccessTokenResponse, error){badCredentials}
	sleeps, runErr, _ := runRefresherScript(t, RefresherOpts{StopOnBadCredentials: true}, script, 100)

	require.Empty(t, sleeps)
	var badCreds *BadCredentialsError
	require.ErrorAs(t, runErr, &badCreds)
	require.Equal(t, "invalid_client", badCreds.ErrorCode)
}

func TestRefresherRunIsSingleUse(t *testing.T) {
	cache := NewCache()
	release := make(chan struct{})
	requester := tokenRequesterFunc(func(ctx context.Context, _ RequestCredentials, _ []string) (AccessTokenResponse, error) {
		<-release
		return AccessTokenResponse{}, ctx.Err()
	})

	r, err := NewRefresher(cache, NewStaticCredentialSource(testCredentials), requester)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = r.Run(ctx) }()

	require.Eventually(t, func() bool {
		return errors.Is(r.Run(context.Background()), ErrRefresherAlreadyStarted)
	}, time.Second, 10*time.Millisecond)

	cancel()
	close(release)
	select {
	case <-r.Done():
	case <-time.After(time.Second):
		t.Fatal("refresher did not terminate")
	}
	require.ErrorIs(t, r.Err(), context.Canceled)
}

func TestRefresherRejectsInvalidRefreshPercentage(t *testing.T) {
	cache := NewCache()
	requester := tokenRequesterFunc(func(context.Context, RequestCredentials, []string) (AccessTokenResponse, error) {
		return AccessTokenResponse{}, nil
	})

	_, err := NewRefresherWithOpts(cache, NewStaticCredentialSource(testCredentials), requester,
		RefresherOpts{RefreshPercentage: 101})
	require.Error(t, err)

	_, err = NewRefresherWithOpts(cache, NewStaticCredentialSource(testCredentials), requester,
		RefresherOpts{RefreshPercentage: -1})
	require.Error(t, err)
}
