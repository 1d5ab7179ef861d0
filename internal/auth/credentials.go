// Package auth owns the sign-in lifecycle: browser-based login with a
// local callback, token persistence, JWT-derived user identity, session
// restore and refresh.
package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Secret-store identity. Tokens live under one service name with an
// account per token kind.
const (
	ServiceName         = "com.buildwithtrace.trace"
	AccountAuthToken    = "auth_token"
	AccountRefreshToken = "refresh_token"
)

// CredentialStore abstracts the OS secret store.
type CredentialStore interface {
	Set(service, account, secret string) error
	Get(service, account string) (string, error)
	Delete(service, account string) error
}

// ErrCredentialNotFound is returned by Get when no secret is stored.
var ErrCredentialNotFound = fmt.Errorf("credential not found")

// FileCredentialStore keeps secrets in a 0600 JSON file. It stands in
// for the OS keychain on platforms without one.
type FileCredentialStore struct {
	mu   sync.Mutex
	path string
}

// NewFileCredentialStore stores credentials at dir/credentials.json.
func NewFileCredentialStore(dir string) *FileCredentialStore {
	return &FileCredentialStore{path: filepath.Join(dir, "credentials.json")}
}

func (s *FileCredentialStore) load() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, err
	}
	secrets := map[string]string{}
	if err := json.Unmarshal(data, &secrets); err != nil {
		return nil, fmt.Errorf("corrupt credential file %s: %w", s.path, err)
	}
	return secrets, nil
}

func (s *FileCredentialStore) save(secrets map[string]string) error {
	data, err := json.MarshalIndent(secrets, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o600)
}

func credentialKey(service, account string) string {
	return service + "/" + account
}

// Set stores or replaces a secret.
func (s *FileCredentialStore) Set(service, account, secret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	secrets, err := s.load()
	if err != nil {
		return err
	}
	secrets[credentialKey(service, account)] = secret
	return s.save(secrets)
}

// Get fetches a secret, returning ErrCredentialNotFound when absent.
func (s *FileCredentialStore) Get(service, account string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	secrets, err := s.load()
	if err != nil {
		return "", err
	}
	secret, ok := secrets[credentialKey(service, account)]
	if !ok {
		return "", ErrCredentialNotFound
	}
	return secret, nil
}

// Delete removes a secret. Deleting an absent secret is not an error.
func (s *FileCredentialStore) Delete(service, account string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	secrets, err := s.load()
	if err != nil {
		return err
	}
	delete(secrets, credentialKey(service, account))
	return s.save(secrets)
}
