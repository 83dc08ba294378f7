package credentials

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/99designs/keyring"
	"github.com/charmbracelet/huh"
	"github.com/spf13/viper"
	"golang.org/x/term"

	errUtils "github.com/ashishrp-aws/aws-toolkit-vscode/errors"
	"github.com/ashishrp-aws/aws-toolkit-vscode/pkg/auth/types"
	"github.com/ashishrp-aws/aws-toolkit-vscode/pkg/perf"
)

const (
	keyringDirPermissions = 0o700
	keyringPasswordEnv    = "AWS_TOOLKIT_KEYRING_PASSWORD"
)

var (
	// ErrPasswordTooShort indicates the keyring password does not meet the
	// minimum length requirement.
	ErrPasswordTooShort = errors.New("password must be at least 8 characters")
	// ErrPasswordRequired indicates a password is required but unavailable.
	ErrPasswordRequired = errors.New("keyring password required")
)

// fileKeyringCache implements TokenCache on an encrypted file keyring via
// 99designs/keyring, for hosts without a system keyring.
type fileKeyringCache struct {
	ring keyring.Keyring
	path string
}

var _ TokenCache = (*fileKeyringCache)(nil)

// newFileKeyringCache opens (creating if needed) the encrypted file keyring
// under dir, defaulting to ~/.aws-toolkit/keyring.
func newFileKeyringCache(dir string) (*fileKeyringCache, error) {
	defer perf.Track("credentials.newFileKeyringCache")()

	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, errors.Join(errUtils.ErrCredentialStore, fmt.Errorf("failed to get user home directory: %w", err))
		}
		dir = filepath.Join(home, ".aws-toolkit", "keyring")
	}
	if err := os.MkdirAll(dir, keyringDirPermissions); err != nil {
		return nil, errors.Join(errUtils.ErrCredentialStore, fmt.Errorf("failed to create keyring directory: %w", err))
	}

	passwordFunc := passwordPrompt()
	ring, err := keyring.Open(keyring.Config{
		ServiceName:      "aws-toolkit",
		FileDir:          dir,
		FilePasswordFunc: passwordFunc,
		AllowedBackends:  []keyring.BackendType{keyring.FileBackend},
	})
	if err != nil {
		return nil, errors.Join(errUtils.ErrCredentialStore, fmt.Errorf("failed to open file keyring: %w", err))
	}

	return &fileKeyringCache{ring: ring, path: dir}, nil
}

// passwordPrompt resolves the keyring password: environment variable first
// (automation/CI), then an interactive prompt when a TTY is available.
func passwordPrompt() keyring.PromptFunc {
	return func(prompt string) (string, error) {
		_ = viper.BindEnv(keyringPasswordEnv)
		if password := viper.GetString(keyringPasswordEnv); password != "" {
			return password, nil
		}

		if term.IsTerminal(int(os.Stdin.Fd())) {
			var password string
			err := huh.NewForm(
				huh.NewGroup(
					huh.NewInput().
						Title(prompt).
						Description("Enter password to encrypt/decrypt the token cache").
						EchoMode(huh.EchoModePassword).
						Value(&password).
						Validate(func(s string) error {
							if len(s) < 8 {
								return ErrPasswordTooShort
							}
							return nil
						}),
				),
			).Run()
			if err != nil {
				return "", fmt.Errorf("password prompt failed: %w", err)
			}
			return password, nil
		}

		return "", fmt.Errorf("%w: set %s or run interactively", ErrPasswordRequired, keyringPasswordEnv)
	}
}

func (f *fileKeyringCache) GetToken(key string) (*types.SsoToken, error) {
	defer perf.Track("credentials.fileKeyringCache.GetToken")()

	item, err := f.ring.Get(tokenAlias(key))
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, errors.Join(errUtils.ErrCredentialStore, fmt.Errorf("failed to read file keyring: %w", err))
	}
	var token types.SsoToken
	if err := decodeEnvelope(string(item.Data), envelopeTypeToken, &token); err != nil {
		return nil, err
	}
	return &token, nil
}

func (f *fileKeyringCache) SetToken(key string, token *types.SsoToken) error {
	defer perf.Track("credentials.fileKeyringCache.SetToken")()

	data, err := encodeEnvelope(envelopeTypeToken, token)
	if err != nil {
		return err
	}
	return f.set(tokenAlias(key), data)
}

func (f *fileKeyringCache) DeleteToken(key string) error {
	return f.delete(tokenAlias(key))
}

func (f *fileKeyringCache) GetRegistration(key string) (*types.ClientRegistration, error) {
	item, err := f.ring.Get(registrationAlias(key))
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, errors.Join(errUtils.ErrCredentialStore, fmt.Errorf("failed to read file keyring: %w", err))
	}
	var reg types.ClientRegistration
	if err := decodeEnvelope(string(item.Data), envelopeTypeRegistration, &reg); err != nil {
		return nil, err
	}
	return &reg, nil
}

func (f *fileKeyringCache) SetRegistration(key string, reg *types.ClientRegistration) error {
	data, err := encodeEnvelope(envelopeTypeRegistration, reg)
	if err != nil {
		return err
	}
	return f.set(registrationAlias(key), data)
}

func (f *fileKeyringCache) DeleteRegistration(key string) error {
	return f.delete(registrationAlias(key))
}

func (f *fileKeyringCache) set(alias, data string) error {
	err := f.ring.Set(keyring.Item{Key: alias, Data: []byte(data)})
	if err != nil {
		return errors.Join(errUtils.ErrCredentialStore, fmt.Errorf("failed to write file keyring: %w", err))
	}
	return nil
}

func (f *fileKeyringCache) delete(alias string) error {
	if err := f.ring.Remove(alias); err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return nil
		}
		return errors.Join(errUtils.ErrCredentialStore, fmt.Errorf("failed to delete file keyring entry: %w", err))
	}
	return nil
}
