/*
Copyright © 2025 The Undertaking Authors.

Released under MIT license.
*/

package idptest

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/acronis/go-appkit/testutil"
)

const (
	OpenIDConfigurationPath = "/.well-known/openid-configuration"
	TokenEndpointPath       = "/oauth2/access_token"
	TokenInfoEndpointPath   = "/oauth2/tokeninfo"
)

const localhostWithDynamicPortAddr = "127.0.0.1:0"

// ErrUnauthorized makes a handler respond with 401.
var ErrUnauthorized = errors.New("unauthorized")

// ErrTokenNotValid makes the token info handler respond with 400 and the
// "Access Token not valid" error description some endpoints are known for.
var ErrTokenNotValid = errors.New("token not valid")

// HTTPTokenProvider provides access tokens for issuing token requests via HTTP.
type HTTPTokenProvider interface {
	Provide(r *http.Request) (TokenResponse, error)
}

// HTTPTokenProviderFunc is a function that implements HTTPTokenProvider interface.
type HTTPTokenProviderFunc func(r *http.Request) (TokenResponse, error)

// Provide implements HTTPTokenProvider interface.
func (f HTTPTokenProviderFunc) Provide(r *http.Request) (TokenResponse, error) {
	return f(r)
}

// HTTPTokenInfoProvider is an interface for answering token info requests via HTTP.
type HTTPTokenInfoProvider interface {
	TokenInfo(r *http.Request, token string) (TokenInfo, error)
}

// HTTPTokenInfoProviderFunc is a function that implements HTTPTokenInfoProvider interface.
type HTTPTokenInfoProviderFunc func(r *http.Request, token string) (TokenInfo, error)

// TokenInfo implements HTTPTokenInfoProvider interface.
func (f HTTPTokenInfoProviderFunc) TokenInfo(r *http.Request, token string) (TokenInfo, error) {
	return f(r, token)
}

// HTTPServerOption is an option for HTTPServer.
type HTTPServerOption func(s *HTTPServer)

// WithHTTPAddress is an option to set HTTP server address.
func WithHTTPAddress(addr string) HTTPServerOption {
	return func(s *HTTPServer) {
		s.addr.Store(addr)
	}
}

// WithHTTPEndpointPaths is an option to set custom paths for different endpoints.
func WithHTTPEndpointPaths(paths HTTPPaths) HTTPServerOption {
	return func(s *HTTPServer) {
		s.paths = paths
	}
}

// WithHTTPTokenHandler is an option to set custom handler for the token endpoint.
// Otherwise, TokenHandler will be used.
func WithHTTPTokenHandler(handler http.Handler) HTTPServerOption {
	return func(s *HTTPServer) {
		s.TokenHandler = handler
	}
}

// WithHTTPTokenProvider is an option to set TokenProvider for TokenHandler
// which will be used for the token endpoint.
func WithHTTPTokenProvider(provider HTTPTokenProvider) HTTPServerOption {
	return func(s *HTTPServer) {
		s.TokenHandler = &TokenHandler{TokenProvider: provider}
	}
}

// WithHTTPTokenInfoHandler is an option to set custom handler for the token info endpoint.
// Otherwise, TokenInfoHandler will be used.
func WithHTTPTokenInfoHandler(handler http.Handler) HTTPServerOption {
	return func(s *HTTPServer) {
		s.TokenInfoHandler = handler
	}
}

// WithHTTPTokenInfoProvider is an option to set TokenInfoProvider for TokenInfoHandler
// which will be used for the token info endpoint.
func WithHTTPTokenInfoProvider(provider HTTPTokenInfoProvider) HTTPServerOption {
	return func(s *HTTPServer) {
		s.TokenInfoHandler = &TokenInfoHandler{TokenInfoProvider: provider}
	}
}

// WithHTTPMiddleware is an option to wrap all endpoints with a middleware.
func WithHTTPMiddleware(mw func(http.Handler) http.Handler) HTTPServerOption {
	return func(s *HTTPServer) {
		s.middleware = mw
	}
}

// HTTPPaths contains paths for different endpoints.
type HTTPPaths struct {
	OpenIDConfiguration string
	Token               string
	TokenInfo           string
}

// HTTPServer is a mock OAuth2 authorization server for testing purposes.
type HTTPServer struct {
	*http.Server
	addr                       atomic.Value
	middleware                 func(http.Handler) http.Handler
	paths                      HTTPPaths
	TokenHandler               http.Handler
	TokenInfoHandler           http.Handler
	OpenIDConfigurationHandler http.Handler
	Router                     *http.ServeMux
	afterListenCallbacks       []func()
}

// NewHTTPServer creates a new HTTPServer with provided options.
func NewHTTPServer(options ...HTTPServerOption) *HTTPServer {
	s := &HTTPServer{}
	for _, opt := range options {
		opt(s)
	}

	if s.TokenHandler == nil {
		s.TokenHandler = &TokenHandler{}
	}
	if s.TokenInfoHandler == nil {
		s.TokenInfoHandler = &TokenInfoHandler{}
	}

	if s.paths.OpenIDConfiguration == "" {
		s.paths.OpenIDConfiguration = OpenIDConfigurationPath
	}
	if s.paths.Token == "" {
		s.paths.Token = TokenEndpointPath
	}
	if s.paths.TokenInfo == "" {
		s.paths.TokenInfo = TokenInfoEndpointPath
	}
	openIDCfgHandler := &OpenIDConfigurationHandler{}
	s.OpenIDConfigurationHandler = openIDCfgHandler
	s.afterListenCallbacks = append(s.afterListenCallbacks, func() {
		openIDCfgHandler.TokenEndpointURL = s.URL() + s.paths.Token
		openIDCfgHandler.TokenInfoEndpointURL = s.URL() + s.paths.TokenInfo
	})

	s.Router = http.NewServeMux()
	s.Router.Handle(s.paths.OpenIDConfiguration, s.OpenIDConfigurationHandler)
	s.Router.Handle(s.paths.Token, s.TokenHandler)
	s.Router.Handle(s.paths.TokenInfo, s.TokenInfoHandler)

	// nolint:gosec // This server is used for testing purposes only.
	s.Server = &http.Server{Handler: s.Router}
	if s.middleware != nil {
		s.Server.Handler = s.middleware(s.Router)
	}

	return s
}

// URL method returns the URL of the server.
func (s *HTTPServer) URL() string {
	if srvURL := s.addr.Load(); srvURL != nil {
		return "http://" + srvURL.(string)
	}
	return ""
}

// TokenEndpointURL returns the URL of the token endpoint.
func (s *HTTPServer) TokenEndpointURL() string {
	return s.URL() + s.paths.Token
}

// TokenInfoEndpointURL returns the URL of the token info endpoint.
func (s *HTTPServer) TokenInfoEndpointURL() string {
	return s.URL() + s.paths.TokenInfo
}

// Start starts the HTTPServer.
func (s *HTTPServer) Start() error {
	addr, ok := s.addr.Load().(string)
	if !ok {
		addr = localhostWithDynamicPortAddr
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen tcp: %w", err)
	}
	s.addr.Store(ln.Addr().String())

	for _, cb := range s.afterListenCallbacks {
		cb()
	}

	go func() { _ = s.Server.Serve(ln) }()

	return nil
}

// StartAndWaitForReady starts the server waits for the server to start listening.
func (s *HTTPServer) StartAndWaitForReady(timeout time.Duration) error {
	if err := s.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	return testutil.WaitListeningServer(s.addr.Load().(string), timeout)
}
