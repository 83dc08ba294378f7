package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProfile_Validate(t *testing.T) {
	tests := []struct {
		name    string
		profile Profile
		wantErr bool
	}{
		{
			name:    "valid sso",
			profile: Profile{Kind: ProfileKindSso, StartURL: "https://x.awsapps.com/start", SsoRegion: "us-east-1"},
		},
		{
			name:    "sso missing start url",
			profile: Profile{Kind: ProfileKindSso, SsoRegion: "us-east-1"},
			wantErr: true,
		},
		{
			name:    "sso missing region",
			profile: Profile{Kind: ProfileKindSso, StartURL: "https://x.awsapps.com/start"},
			wantErr: true,
		},
		{
			name:    "valid iam profile",
			profile: Profile{Kind: ProfileKindIam, ProfileName: "dev"},
		},
		{
			name:    "linked without source",
			profile: Profile{Kind: ProfileKindIam, Subtype: IamSubtypeLinked, SsoAccount: "123", SsoRole: "Admin"},
			wantErr: true,
		},
		{
			name:    "valid linked",
			profile: Profile{Kind: ProfileKindIam, Subtype: IamSubtypeLinked, SsoConnectionID: "conn-1", SsoAccount: "123", SsoRole: "Admin"},
		},
		{
			name:    "unknown kind",
			profile: Profile{Kind: "quantum"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.profile.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestProfile_DefaultLabel(t *testing.T) {
	sso := Profile{Kind: ProfileKindSso, StartURL: "https://x.awsapps.com/start"}
	assert.Equal(t, "SSO (https://x.awsapps.com/start)", sso.DefaultLabel())

	linked := Profile{Kind: ProfileKindIam, Subtype: IamSubtypeLinked, SsoAccount: "123456789012", SsoRole: "Admin"}
	assert.Equal(t, "IAM (123456789012/Admin)", linked.DefaultLabel())

	named := Profile{Kind: ProfileKindIam, ProfileName: "dev"}
	assert.Equal(t, "IAM (dev)", named.DefaultLabel())
}

func TestStoredProfile_LabelPrefersMetadata(t *testing.T) {
	stored := StoredProfile{
		Profile:  Profile{Kind: ProfileKindIam, ProfileName: "dev"},
		Metadata: ProfileMetadata{Label: "Development"},
	}
	assert.Equal(t, "Development", stored.Label())

	stored.Metadata.Label = ""
	assert.Equal(t, "IAM (dev)", stored.Label())
}

func TestSsoToken_Expired(t *testing.T) {
	fresh := SsoToken{ExpiresAt: time.Now().Add(time.Hour)}
	assert.False(t, fresh.Expired())

	// Tokens inside the expiry buffer count as expired so they are not handed
	// to long network calls.
	closeToExpiry := SsoToken{ExpiresAt: time.Now().Add(time.Minute)}
	assert.True(t, closeToExpiry.Expired())

	past := SsoToken{ExpiresAt: time.Now().Add(-time.Hour)}
	assert.True(t, past.Expired())
}

func TestProfile_HasScope(t *testing.T) {
	p := Profile{Scopes: []string{ScopeAccountAccess}}
	assert.True(t, p.HasScope(ScopeAccountAccess))
	assert.False(t, p.HasScope("codecatalyst:read_write"))
}
