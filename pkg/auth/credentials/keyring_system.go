package credentials

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"

	errUtils "github.com/ashishrp-aws/aws-toolkit-vscode/errors"
	"github.com/ashishrp-aws/aws-toolkit-vscode/pkg/auth/types"
	"github.com/ashishrp-aws/aws-toolkit-vscode/pkg/perf"
)

// systemKeyringCache implements TokenCache on the OS keyring via Zalando
// go-keyring.
type systemKeyringCache struct{}

var _ TokenCache = (*systemKeyringCache)(nil)

// newSystemKeyringCache probes keyring availability with a read of a key that
// does not exist. ErrNotFound means the keyring works; any other error means
// it is unavailable (e.g. no dbus inside containers).
func newSystemKeyringCache() (*systemKeyringCache, error) {
	_, err := keyring.Get("aws-toolkit-keyring-test", KeyringUser)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return nil, fmt.Errorf("system keyring not available: %w", err)
	}
	return &systemKeyringCache{}, nil
}

func (s *systemKeyringCache) GetToken(key string) (*types.SsoToken, error) {
	defer perf.Track("credentials.systemKeyringCache.GetToken")()

	data, err := keyring.Get(tokenAlias(key), KeyringUser)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, nil
		}
		return nil, errors.Join(errUtils.ErrCredentialStore, fmt.Errorf("failed to read keyring: %w", err))
	}
	var token types.SsoToken
	if err := decodeEnvelope(data, envelopeTypeToken, &token); err != nil {
		return nil, err
	}
	return &token, nil
}

func (s *systemKeyringCache) SetToken(key string, token *types.SsoToken) error {
	defer perf.Track("credentials.systemKeyringCache.SetToken")()

	data, err := encodeEnvelope(envelopeTypeToken, token)
	if err != nil {
		return err
	}
	if err := keyring.Set(tokenAlias(key), KeyringUser, data); err != nil {
		return errors.Join(errUtils.ErrCredentialStore, fmt.Errorf("failed to store token in keyring: %w", err))
	}
	return nil
}

func (s *systemKeyringCache) DeleteToken(key string) error {
	return s.delete(tokenAlias(key))
}

func (s *systemKeyringCache) GetRegistration(key string) (*types.ClientRegistration, error) {
	data, err := keyring.Get(registrationAlias(key), KeyringUser)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, nil
		}
		return nil, errors.Join(errUtils.ErrCredentialStore, fmt.Errorf("failed to read keyring: %w", err))
	}
	var reg types.ClientRegistration
	if err := decodeEnvelope(data, envelopeTypeRegistration, &reg); err != nil {
		return nil, err
	}
	return &reg, nil
}

func (s *systemKeyringCache) SetRegistration(key string, reg *types.ClientRegistration) error {
	data, err := encodeEnvelope(envelopeTypeRegistration, reg)
	if err != nil {
		return err
	}
	if err := keyring.Set(registrationAlias(key), KeyringUser, data); err != nil {
		return errors.Join(errUtils.ErrCredentialStore, fmt.Errorf("failed to store registration in keyring: %w", err))
	}
	return nil
}

func (s *systemKeyringCache) DeleteRegistration(key string) error {
	return s.delete(registrationAlias(key))
}

func (s *systemKeyringCache) delete(alias string) error {
	if err := keyring.Delete(alias, KeyringUser); err != nil {
		// Already removed counts as success.
		if errors.Is(err, keyring.ErrNotFound) {
			return nil
		}
		return errors.Join(errUtils.ErrCredentialStore, fmt.Errorf("failed to delete keyring entry: %w", err))
	}
	return nil
}

func tokenAlias(key string) string        { return "aws-toolkit/token/" + key }
func registrationAlias(key string) string { return "aws-toolkit/registration/" + key }
