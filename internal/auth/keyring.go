package auth

import (
	"errors"
	"fmt"

	"github.com/99designs/keyring"
)

const keyringService = "inbox-triage"

// ErrSecretNotFound is returned when the keyring has no entry for a key
var ErrSecretNotFound = errors.New("secret not found")

// SecretStore reads and writes secrets in the OS keyring
type SecretStore struct {
	ring keyring.Keyring
}

// OpenSecretStore opens the system keyring, falling back to an encrypted
// file under fileDir
func OpenSecretStore(fileDir string) (*SecretStore, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: keyringService,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  fileDir,
		FilePasswordFunc:         keyring.FixedStringPrompt(keyringService + "-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return &SecretStore{ring: ring}, nil
}

// NewSecretStore wraps an already opened keyring
func NewSecretStore(ring keyring.Keyring) *SecretStore {
	return &SecretStore{ring: ring}
}

// Get retrieves a secret by key
func (s *SecretStore) Get(key string) (string, error) {
	item, err := s.ring.Get(key)
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return "", fmt.Errorf("getting secret %q: %w", key, ErrSecretNotFound)
		}
		return "", fmt.Errorf("getting secret %q: %w", key, err)
	}
	return string(item.Data), nil
}

// Set stores a secret by key
func (s *SecretStore) Set(key, value string) error {
	if err := s.ring.Set(keyring.Item{Key: key, Data: []byte(value)}); err != nil {
		return fmt.Errorf("setting secret %q: %w", key, err)
	}
	return nil
}

// Lookup returns value when non-empty, otherwise the keyring entry for key.
// A missing entry yields an empty string.
func (s *SecretStore) Lookup(value, key string) (string, error) {
	if value != "" {
		return value, nil
	}
	v, err := s.Get(key)
	if errors.Is(err, ErrSecretNotFound) {
		return "", nil
	}
	return v, err
}
