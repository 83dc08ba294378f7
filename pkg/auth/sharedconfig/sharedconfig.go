// Package sharedconfig reads the ambient AWS shared config file. The core
// uses it to discover sso-session sections (ephemeral dev environments vend
// one) and to enumerate named IAM profiles for the store reload.
package sharedconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	ini "gopkg.in/ini.v1"

	errUtils "github.com/ashishrp-aws/aws-toolkit-vscode/errors"
)

const (
	ssoSessionPrefix = "sso-session "
	profilePrefix    = "profile "
)

// SsoSession is a parsed sso-session section.
type SsoSession struct {
	Name     string
	StartURL string
	Region   string
	Scopes   []string
}

// DefaultPath resolves the shared config file location, honoring
// AWS_CONFIG_FILE.
func DefaultPath() string {
	if p := os.Getenv("AWS_CONFIG_FILE"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".aws", "config")
}

func loadFile(path string) (*ini.File, error) {
	f, err := ini.LoadSources(ini.LoadOptions{Loose: true}, path)
	if err != nil {
		return nil, fmt.Errorf("%w: loading %s: %v", errUtils.ErrStorage, path, err)
	}
	return f, nil
}

// GetSsoSession returns the named sso-session section. An absent section is
// the distinguished ErrMissingSection.
func GetSsoSession(path, name string) (*SsoSession, error) {
	f, err := loadFile(path)
	if err != nil {
		return nil, err
	}
	section, err := f.GetSection(ssoSessionPrefix + name)
	if err != nil {
		return nil, fmt.Errorf("%w: sso-session %q in %s", errUtils.ErrMissingSection, name, path)
	}
	return parseSsoSession(name, section), nil
}

// ListSsoSessions returns every sso-session section in the file.
func ListSsoSessions(path string) ([]SsoSession, error) {
	f, err := loadFile(path)
	if err != nil {
		return nil, err
	}
	var sessions []SsoSession
	for _, section := range f.Sections() {
		if !strings.HasPrefix(section.Name(), ssoSessionPrefix) {
			continue
		}
		name := strings.TrimPrefix(section.Name(), ssoSessionPrefix)
		sessions = append(sessions, *parseSsoSession(name, section))
	}
	return sessions, nil
}

// ListProfileNames returns every named profile section, plus "default" when a
// default section with keys exists.
func ListProfileNames(path string) ([]string, error) {
	f, err := loadFile(path)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, section := range f.Sections() {
		switch {
		case strings.HasPrefix(section.Name(), profilePrefix):
			names = append(names, strings.TrimPrefix(section.Name(), profilePrefix))
		case section.Name() == "default" && len(section.Keys()) > 0:
			names = append(names, "default")
		}
	}
	return names, nil
}

func parseSsoSession(name string, section *ini.Section) *SsoSession {
	s := &SsoSession{
		Name:     name,
		StartURL: section.Key("sso_start_url").String(),
		Region:   section.Key("sso_region").String(),
	}
	if scopes := section.Key("sso_registration_scopes").String(); scopes != "" {
		for _, scope := range strings.Split(scopes, ",") {
			s.Scopes = append(s.Scopes, strings.TrimSpace(scope))
		}
	}
	return s
}
