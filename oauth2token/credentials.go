/*
Copyright © 2025 The Undertaking Authors.

Released under MIT license.
*/

package oauth2token

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Default file names inside a credentials directory.
const (
	ClientCredentialsFileName = "client.json"
	UserCredentialsFileName   = "user.json"
)

// CredentialSource supplies the credentials used for token endpoint requests.
// Load is called once per refresh cycle, so sources backed by rotated files
// pick up new secrets without restarts.
type CredentialSource interface {
	Load(ctx context.Context) (RequestCredentials, error)
}

// CredentialSourceFunc allows defining a CredentialSource in a functional way.
type CredentialSourceFunc func(ctx context.Context) (RequestCredentials, error)

func (f CredentialSourceFunc) Load(ctx context.Context) (RequestCredentials, error) {
	return f(ctx)
}

// FileCredentialSource loads client and user credentials from JSON files
// in a directory (the layout used by credential-rotation sidecars).
type FileCredentialSource struct {
	dir string
}

// NewFileCredentialSource creates a FileCredentialSource for the given directory.
func NewFileCredentialSource(dir string) *FileCredentialSource {
	return &FileCredentialSource{dir: dir}
}

// Load reads client.json and user.json from the directory.
func (s *FileCredentialSource) Load(_ context.Context) (RequestCredentials, error) {
	var creds RequestCredentials
	if err := readJSONFile(filepath.Join(s.dir, ClientCredentialsFileName), &creds.Client); err != nil {
		return RequestCredentials{}, fmt.Errorf("load client credentials: %w", err)
	}
	if err := readJSONFile(filepath.Join(s.dir, UserCredentialsFileName), &creds.User); err != nil {
		return RequestCredentials{}, fmt.Errorf("load user credentials: %w", err)
	}
	return creds, nil
}

// StaticCredentialSource returns fixed credentials, e.g. ones taken from
// the process environment at startup.
type StaticCredentialSource struct {
	creds RequestCredentials
}

// NewStaticCredentialSource creates a StaticCredentialSource.
func NewStaticCredentialSource(creds RequestCredentials) *StaticCredentialSource {
	return &StaticCredentialSource{creds: creds}
}

func (s *StaticCredentialSource) Load(_ context.Context) (RequestCredentials, error) {
	return s.creds, nil
}

func readJSONFile(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err = json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal %s: %w", filepath.Base(path), err)
	}
	return nil
}
