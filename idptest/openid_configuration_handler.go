/*
Copyright © 2025 The Undertaking Authors.

Released under MIT license.
*/

package idptest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
)

// OpenIDConfigurationResponse is a response for GET /.well-known/openid-configuration endpoint.
type OpenIDConfigurationResponse struct {
	TokenEndpoint         string `json:"token_endpoint"`
	IntrospectionEndpoint string `json:"introspection_endpoint"`
}

// OpenIDConfigurationHandler is an implementation of a handler responding with OpenID configuration.
type OpenIDConfigurationHandler struct {
	servedCount          atomic.Uint64
	TokenEndpointURL     string
	TokenInfoEndpointURL string
}

func (h *OpenIDConfigurationHandler) ServeHTTP(rw http.ResponseWriter, _ *http.Request) {
	h.servedCount.Add(1)

	response := OpenIDConfigurationResponse{
		TokenEndpoint:         h.TokenEndpointURL,
		IntrospectionEndpoint: h.TokenInfoEndpointURL,
	}
	rw.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(rw).Encode(response); err != nil {
		http.Error(rw, fmt.Sprintf("Error encoding response: %v", err), http.StatusInternalServerError)
	}
}

// ServedCount returns the number of times the handler has been served.
func (h *OpenIDConfigurationHandler) ServedCount() uint64 {
	return h.servedCount.Load()
}
