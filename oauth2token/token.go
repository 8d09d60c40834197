/*
Copyright © 2025 The Undertaking Authors.

Released under MIT license.
*/

package oauth2token

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// TokenTypeBearer is the only token type issued by OAuth2 token endpoints we talk to.
const TokenTypeBearer = "Bearer"

// AccessToken is an opaque bearer credential. It is an immutable value type,
// comparable by (type, value). Its string representation never contains
// the raw secret, so it is safe to log.
type AccessToken struct {
	typ   string
	value string
}

// NewAccessToken creates a bearer AccessToken from its raw value.
func NewAccessToken(value string) AccessToken {
	return AccessToken{typ: TokenTypeBearer, value: value}
}

// NewAccessTokenOfType creates an AccessToken with an explicit type prefix.
func NewAccessTokenOfType(typ, value string) AccessToken {
	return AccessToken{typ: typ, value: value}
}

// Type returns the token type prefix ("Bearer").
func (t AccessToken) Type() string {
	return t.typ
}

// Value returns the raw token value. Callers must not log it.
func (t AccessToken) Value() string {
	return t.value
}

// Authorization returns the value for the Authorization HTTP header.
func (t AccessToken) Authorization() string {
	return t.typ + " " + t.value
}

// IsZero reports whether the token is the zero value.
func (t AccessToken) IsZero() bool {
	return t == AccessToken{}
}

// String returns a loggable representation with the raw value hashed.
func (t AccessToken) String() string {
	sum := sha256.Sum256([]byte(t.value))
	return t.typ + " sha256:" + hex.EncodeToString(sum[:4])
}

// AccessTokenResponse is the outcome of a successful token endpoint request.
type AccessTokenResponse struct {
	Token      AccessToken
	ExpiryTime time.Time
}

// ClientCredentials identify the OAuth2 client at the token endpoint.
type ClientCredentials struct {
	ID     string `json:"client_id"`
	Secret string `json:"client_secret"`
}

// UserCredentials identify the service user on whose behalf tokens are requested.
type UserCredentials struct {
	Username string `json:"application_username"`
	Password string `json:"application_password"`
}

// RequestCredentials is the full credential set needed for a token request.
type RequestCredentials struct {
	Client ClientCredentials
	User   UserCredentials
}
