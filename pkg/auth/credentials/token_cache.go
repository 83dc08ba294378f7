// Package credentials holds the two credential caches of the connection core:
// a durable token cache for SSO bearer tokens and OIDC client registrations,
// and a bounded in-memory cache for resolved IAM credentials keyed by provider
// fingerprint.
package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	errUtils "github.com/ashishrp-aws/aws-toolkit-vscode/errors"
	"github.com/ashishrp-aws/aws-toolkit-vscode/pkg/auth/types"
)

const (
	// KeyringUser is the account name all keyring entries are filed under.
	KeyringUser = "aws-toolkit"

	envelopeTypeToken        = "sso-token"
	envelopeTypeRegistration = "client-registration"
)

// TokenCache durably stores SSO tokens and client registrations, keyed by the
// token provider's cache key (derived from start URL, region and scopes).
type TokenCache interface {
	// GetToken returns the cached token for key, or nil when absent.
	GetToken(key string) (*types.SsoToken, error)

	// SetToken stores the token under key.
	SetToken(key string, token *types.SsoToken) error

	// DeleteToken removes the token. Removing an absent token is not an error.
	DeleteToken(key string) error

	// GetRegistration returns the cached client registration, or nil when absent.
	GetRegistration(key string) (*types.ClientRegistration, error)

	// SetRegistration stores the client registration under key.
	SetRegistration(key string, reg *types.ClientRegistration) error

	// DeleteRegistration removes the registration.
	DeleteRegistration(key string) error
}

// credentialEnvelope wraps cached payloads with their type so a cache entry
// can be decoded without out-of-band knowledge.
type credentialEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func encodeEnvelope(typ string, payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", errors.Join(errUtils.ErrCredentialStore, fmt.Errorf("failed to marshal payload: %w", err))
	}
	env := credentialEnvelope{Type: typ, Data: raw}
	data, err := json.Marshal(&env)
	if err != nil {
		return "", errors.Join(errUtils.ErrCredentialStore, fmt.Errorf("failed to marshal envelope: %w", err))
	}
	return string(data), nil
}

func decodeEnvelope(data, wantType string, payload any) error {
	var env credentialEnvelope
	if err := json.Unmarshal([]byte(data), &env); err != nil {
		return errors.Join(errUtils.ErrCredentialStore, fmt.Errorf("failed to unmarshal envelope: %w", err))
	}
	if env.Type != wantType {
		return fmt.Errorf("%w: %q", errors.Join(errUtils.ErrCredentialStore, errUtils.ErrUnknownCredentialType), env.Type)
	}
	if err := json.Unmarshal(env.Data, payload); err != nil {
		return errors.Join(errUtils.ErrCredentialStore, fmt.Errorf("failed to unmarshal payload: %w", err))
	}
	return nil
}

// NewTokenCache returns the best available durable cache: the system keyring
// when one is reachable, otherwise an encrypted file keyring under dir.
func NewTokenCache(dir string) (TokenCache, error) {
	if sys, err := newSystemKeyringCache(); err == nil {
		return sys, nil
	}
	return newFileKeyringCache(dir)
}

// memoryTokenCache is a map-backed TokenCache for tests and hosts without any
// keyring backend.
type memoryTokenCache struct {
	tokens        map[string]types.SsoToken
	registrations map[string]types.ClientRegistration
	mu            sync.Mutex
}

var _ TokenCache = (*memoryTokenCache)(nil)

// NewMemoryTokenCache initializes an empty in-memory token cache.
func NewMemoryTokenCache() TokenCache {
	return &memoryTokenCache{
		tokens:        make(map[string]types.SsoToken),
		registrations: make(map[string]types.ClientRegistration),
	}
}

func (m *memoryTokenCache) GetToken(key string) (*types.SsoToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[key]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (m *memoryTokenCache) SetToken(key string, token *types.SsoToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[key] = *token
	return nil
}

func (m *memoryTokenCache) DeleteToken(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, key)
	return nil
}

func (m *memoryTokenCache) GetRegistration(key string) (*types.ClientRegistration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.registrations[key]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *memoryTokenCache) SetRegistration(key string, reg *types.ClientRegistration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registrations[key] = *reg
	return nil
}

func (m *memoryTokenCache) DeleteRegistration(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.registrations, key)
	return nil
}
