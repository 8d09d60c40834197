/*
Copyright © 2025 The Undertaking Authors.

Released under MIT license.
*/

package idptest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/google/uuid"
)

const tokenTypeBearer = "Bearer"

// DefaultTokenExpiresIn is the lifetime of issued tokens
// unless a token provider says otherwise.
const DefaultTokenExpiresIn = 3600

// TokenHandler is an implementation of a handler responding with an opaque access token.
type TokenHandler struct {
	servedCount   atomic.Uint64
	TokenProvider HTTPTokenProvider
}

func (h *TokenHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(rw, "Only POST method is allowed", http.StatusMethodNotAllowed)
		return
	}

	h.servedCount.Add(1)

	var response TokenResponse
	if h.TokenProvider != nil {
		var err error
		if response, err = h.TokenProvider.Provide(r); err != nil {
			if errors.Is(err, ErrUnauthorized) {
				respondJSON(rw, http.StatusUnauthorized, oauth2Error{
					Error: "invalid_client", ErrorDescription: "Client authentication failed"})
				return
			}
			http.Error(rw, fmt.Sprintf("Token provider failed to provide token: %v", err), http.StatusInternalServerError)
			return
		}
	}
	if response.AccessToken == "" {
		response.AccessToken = "test-token-" + uuid.NewString()
	}
	if response.TokenType == "" {
		response.TokenType = tokenTypeBearer
	}
	if response.ExpiresIn == 0 {
		response.ExpiresIn = DefaultTokenExpiresIn
	}

	respondJSON(rw, http.StatusOK, response)
}

// ServedCount returns the number of times the handler has been served.
func (h *TokenHandler) ServedCount() uint64 {
	return h.servedCount.Load()
}

// ResetServedCount resets the number of times the handler has been served.
func (h *TokenHandler) ResetServedCount() {
	h.servedCount.Store(0)
}

// TokenResponse is a response for the token endpoint.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// TokenInfo is a response for the token info endpoint.
type TokenInfo struct {
	UID       string   `json:"uid"`
	Scope     []string `json:"scope"`
	ExpiresIn int64    `json:"expires_in"`
}

// TokenInfoHandler is an implementation of a handler responding with token info.
type TokenInfoHandler struct {
	servedCount       atomic.Uint64
	TokenInfoProvider HTTPTokenInfoProvider
}

func (h *TokenInfoHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(rw, "Only POST method is allowed", http.StatusMethodNotAllowed)
		return
	}

	h.servedCount.Add(1)

	token := r.FormValue("token")
	if token == "" {
		respondJSON(rw, http.StatusBadRequest, oauth2Error{
			Error: "invalid_request", ErrorDescription: "Token is required"})
		return
	}

	var tokenInfo TokenInfo
	if h.TokenInfoProvider != nil {
		var err error
		if tokenInfo, err = h.TokenInfoProvider.TokenInfo(r, token); err != nil {
			switch {
			case errors.Is(err, ErrTokenNotValid):
				respondJSON(rw, http.StatusBadRequest, oauth2Error{
					Error: "invalid_request", ErrorDescription: "Access Token not valid"})
			case errors.Is(err, ErrUnauthorized):
				respondJSON(rw, http.StatusUnauthorized, oauth2Error{Error: "invalid_token"})
			default:
				http.Error(rw, fmt.Sprintf("Token info provider failed: %v", err), http.StatusInternalServerError)
			}
			return
		}
	} else {
		tokenInfo = TokenInfo{UID: "test-user", ExpiresIn: DefaultTokenExpiresIn}
	}

	respondJSON(rw, http.StatusOK, tokenInfo)
}

// ServedCount returns the number of times the handler has been served.
func (h *TokenInfoHandler) ServedCount() uint64 {
	return h.servedCount.Load()
}

// ResetServedCount resets the number of times the handler has been served.
func (h *TokenInfoHandler) ResetServedCount() {
	h.servedCount.Store(0)
}

type oauth2Error struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

func respondJSON(rw http.ResponseWriter, statusCode int, body interface{}) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(statusCode)
	if err := json.NewEncoder(rw).Encode(body); err != nil {
		http.Error(rw, fmt.Sprintf("Error encoding response: %v", err), http.StatusInternalServerError)
	}
}
