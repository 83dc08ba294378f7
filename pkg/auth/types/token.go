package types

import "time"

// SsoToken is a cached bearer token obtained through the device authorization
// flow.
type SsoToken struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	Region       string    `json:"region,omitempty"`
	StartURL     string    `json:"start_url,omitempty"`
}

// Expired reports whether the token is past its expiry, with a small buffer so
// a token about to lapse is not handed to a long network call.
func (t *SsoToken) Expired() bool {
	return time.Now().Add(expiryBuffer).After(t.ExpiresAt)
}

// ClientRegistration is the cached OIDC client registration used for device
// authorization. Registrations outlive individual tokens.
type ClientRegistration struct {
	ClientID     string    `json:"client_id"`
	ClientSecret string    `json:"client_secret"`
	ExpiresAt    time.Time `json:"expires_at"`
	Scopes       []string  `json:"scopes,omitempty"`
}

// Expired reports whether the registration must be recreated.
func (r *ClientRegistration) Expired() bool {
	return time.Now().Add(expiryBuffer).After(r.ExpiresAt)
}

const expiryBuffer = 5 * time.Minute
