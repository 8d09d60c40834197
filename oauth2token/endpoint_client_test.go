/*
Copyright © 2025 The Undertaking Authors.

Released under MIT license.
*/

package oauth2token

import (
	"context"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/twz123/undertaking-sub000/idptest"
)

func startIDPServer(t *testing.T, options ...idptest.HTTPServerOption) *idptest.HTTPServer {
	t.Helper()
	server := idptest.NewHTTPServer(options...)
	require.NoError(t, server.StartAndWaitForReady(time.Second))
	t.Cleanup(func() { _ = server.Shutdown(context.Background()) })
	return server
}

func TestEndpointClientRequestToken(t *testing.T) {
	// The form must be parsed while the request body is still readable.
	var seenForm url.Values
	var seenAuth [2]string
	server := startIDPServer(t, idptest.WithHTTPTokenProvider(
		idptest.HTTPTokenProviderFunc(func(r *http.Request) (idptest.TokenResponse, error) {
			if err := r.ParseForm(); err != nil {
				return idptest.TokenResponse{}, err
			}
			seenForm = r.PostForm
			seenAuth[0], seenAuth[1], _ = r.BasicAuth()
			return idptest.TokenResponse{AccessToken: "issued-token", ExpiresIn: 3600}, nil
		})))

	client, err := NewEndpointClient(server.TokenEndpointURL())
	require.NoError(t, err)

	before := time.Now()
	resp, err := client.RequestToken(context.Background(), testCredentials, []string{"uid", "docs.read"})
	require.NoError(t, err)
	require.Equal(t, "issued-token", resp.Token.Value())
	require.Equal(t, TokenTypeBearer, resp.Token.Type())
	require.WithinRange(t, resp.ExpiryTime, before.Add(time.Hour), time.Now().Add(time.Hour))

	require.NotNil(t, seenForm)
	require.Equal(t, "password", seenForm.Get("grant_type"))
	require.Equal(t, "svc-user", seenForm.Get("username"))
	require.Equal(t, "pass", seenForm.Get("password"))
	require.Equal(t, "uid docs.read", seenForm.Get("scope"))
	require.Equal(t, "client-1", seenAuth[0])
	require.Equal(t, "secret", seenAuth[1])
}

func TestEndpointClientBadCredentials(t *testing.T) {
	server := startIDPServer(t, idptest.WithHTTPTokenProvider(
		idptest.HTTPTokenProviderFunc(func(*http.Request) (idptest.TokenResponse, error) {
			return idptest.TokenResponse{}, idptest.ErrUnauthorized
		})))

	client, err := NewEndpointClient(server.TokenEndpointURL())
	require.NoError(t, err)

	_, err = client.RequestToken(context.Background(), testCredentials, nil)
	var badCreds *BadCredentialsError
	require.ErrorAs(t, err, &badCreds)
	require.Equal(t, http.StatusUnauthorized, badCreds.HTTPCode)
	require.Equal(t, "invalid_client", badCreds.ErrorCode)
}

func TestEndpointClientUnexpectedResponse(t *testing.T) {
	server := startIDPServer(t, idptest.WithHTTPTokenHandler(
		http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
			http.Error(rw, "temporarily down", http.StatusServiceUnavailable)
		})))

	client, err := NewEndpointClientWithOpts(server.TokenEndpointURL(), EndpointClientOpts{
		HTTPClient: &http.Client{Timeout: time.Second},
	})
	require.NoError(t, err)

	_, err = client.RequestToken(context.Background(), testCredentials, nil)
	var unexpected *UnexpectedResponseError
	require.ErrorAs(t, err, &unexpected)
	require.Equal(t, http.StatusServiceUnavailable, unexpected.HTTPCode)
}

func TestEndpointClientRejectsInvalidURL(t *testing.T) {
	_, err := NewEndpointClient("not a url")
	require.Error(t, err)
}
