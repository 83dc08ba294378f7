package types

import (
	"fmt"
	"slices"

	errUtils "github.com/ashishrp-aws/aws-toolkit-vscode/errors"
)

// Profile is the persisted descriptor of a credential source. It is immutable
// except through an explicit update of the owning store entry.
type Profile struct {
	Kind ProfileKind `json:"kind"`

	// SSO fields.
	StartURL  string   `json:"start_url,omitempty"`
	SsoRegion string   `json:"sso_region,omitempty"`
	Scopes    []string `json:"scopes,omitempty"`

	// IAM fields.
	Subtype     IamSubtype `json:"subtype,omitempty"`
	ProfileName string     `json:"profile_name,omitempty"`
	Region      string     `json:"region,omitempty"`

	// Linked-role fields, set when Subtype == IamSubtypeLinked: the source SSO
	// connection id and the account/role resolved through it.
	SsoConnectionID string `json:"sso_connection_id,omitempty"`
	SsoAccount      string `json:"sso_account,omitempty"`
	SsoRole         string `json:"sso_role,omitempty"`
}

// Validate checks the per-kind required fields.
func (p *Profile) Validate() error {
	switch p.Kind {
	case ProfileKindSso:
		if p.StartURL == "" {
			return fmt.Errorf("%w: start_url is required for SSO profiles", errUtils.ErrUnsupportedOperation)
		}
		if p.SsoRegion == "" {
			return fmt.Errorf("%w: sso_region is required for SSO profiles", errUtils.ErrUnsupportedOperation)
		}
		return nil
	case ProfileKindIam:
		if p.Subtype == IamSubtypeLinked && p.SsoConnectionID == "" {
			return fmt.Errorf("%w: linked IAM profiles require a source SSO connection", errUtils.ErrUnsupportedOperation)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown profile kind %q", errUtils.ErrUnsupportedOperation, p.Kind)
	}
}

// HasScope reports whether an SSO profile carries the given scope.
func (p *Profile) HasScope(scope string) bool {
	return slices.Contains(p.Scopes, scope)
}

// DefaultLabel derives a human-readable label when metadata does not carry one.
func (p *Profile) DefaultLabel() string {
	switch p.Kind {
	case ProfileKindSso:
		return fmt.Sprintf("SSO (%s)", p.StartURL)
	default:
		if p.Subtype == IamSubtypeLinked {
			return fmt.Sprintf("IAM (%s/%s)", p.SsoAccount, p.SsoRole)
		}
		if p.ProfileName != "" {
			return fmt.Sprintf("IAM (%s)", p.ProfileName)
		}
		return "IAM"
	}
}

// ProfileMetadata is the mutable sidecar persisted next to a Profile.
type ProfileMetadata struct {
	ConnectionState ConnectionState `json:"connection_state"`
	Label           string          `json:"label,omitempty"`
	Source          string          `json:"source,omitempty"`
}

// StoredProfile is the persisted Profile plus its metadata, keyed by an opaque
// connection id in the profile store.
type StoredProfile struct {
	Profile  Profile         `json:"profile"`
	Metadata ProfileMetadata `json:"metadata"`
}

// Label resolves the display label, falling back to the profile default.
func (s *StoredProfile) Label() string {
	if s.Metadata.Label != "" {
		return s.Metadata.Label
	}
	return s.Profile.DefaultLabel()
}

// DeclaredConnection records a connection another component intends to use but
// has not created. Purely informational; no lifecycle ownership.
type DeclaredConnection struct {
	StartURL string `json:"start_url"`
	Region   string `json:"region"`
	Source   string `json:"source"`
}
