// Package config holds ambient settings for the connection core, backed by
// viper. Settings live in a small YAML file under the user's home directory
// and can be overridden through AWS_TOOLKIT_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	errUtils "github.com/ashishrp-aws/aws-toolkit-vscode/errors"
)

const (
	// KeyLegacyProfile is the legacy named-profile setting consumed (and then
	// cleared) by auto-connect.
	KeyLegacyProfile = "auth.legacy_profile"

	// KeyInternalStartURL is the start URL that marks a connection as
	// belonging to the internal organization.
	KeyInternalStartURL = "auth.internal_start_url"

	// KeyStoragePath overrides the location of the profile store file.
	KeyStoragePath = "auth.storage_path"

	defaultInternalStartURL = "https://amzn.awsapps.com/start"
	settingsDirName         = ".aws-toolkit"
	settingsFileName        = "settings"
)

// Settings is the process-wide settings handle. Construct once at startup and
// pass to consumers; there is no package-level singleton.
type Settings struct {
	v    *viper.Viper
	path string
}

// New loads settings from dir (defaulting to ~/.aws-toolkit when empty).
// A missing settings file is not an error; defaults apply.
func New(dir string) (*Settings, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("%w: cannot resolve home directory: %v", errUtils.ErrStorage, err)
		}
		dir = filepath.Join(home, settingsDirName)
	}

	v := viper.New()
	v.SetConfigName(settingsFileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)
	v.SetEnvPrefix("AWS_TOOLKIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetDefault(KeyInternalStartURL, defaultInternalStartURL)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !asConfigNotFound(err, &notFound) {
			return nil, fmt.Errorf("%w: reading settings: %v", errUtils.ErrStorage, err)
		}
	}

	return &Settings{v: v, path: filepath.Join(dir, settingsFileName+".yaml")}, nil
}

func asConfigNotFound(err error, target *viper.ConfigFileNotFoundError) bool {
	if e, ok := err.(viper.ConfigFileNotFoundError); ok {
		*target = e
		return true
	}
	return false
}

// LegacyProfile returns the legacy named-profile setting, or "".
func (s *Settings) LegacyProfile() string {
	return s.v.GetString(KeyLegacyProfile)
}

// ClearLegacyProfile removes the legacy profile setting and persists the
// change. Auto-connect calls this once the setting has been consumed.
func (s *Settings) ClearLegacyProfile() error {
	s.v.Set(KeyLegacyProfile, "")
	return s.write()
}

// InternalStartURL returns the start URL identifying internal-organization
// connections.
func (s *Settings) InternalStartURL() string {
	return s.v.GetString(KeyInternalStartURL)
}

// StoragePath returns the configured profile-store location, or "" to use the
// default next to the settings file.
func (s *Settings) StoragePath() string {
	return s.v.GetString(KeyStoragePath)
}

// Set stores an arbitrary settings key and persists it. Tests and the CLI use
// this; the core only writes through the typed helpers above.
func (s *Settings) Set(key string, value any) error {
	s.v.Set(key, value)
	return s.write()
}

func (s *Settings) write() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("%w: creating settings directory: %v", errUtils.ErrStorage, err)
	}
	if err := s.v.WriteConfigAs(s.path); err != nil {
		return fmt.Errorf("%w: writing settings: %v", errUtils.ErrStorage, err)
	}
	return nil
}
