package auth

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"

	"github.com/ashishrp-aws/aws-toolkit-vscode/pkg/auth/types"
)

// ssoConnection projects a stored SSO profile. Credential accessors route
// through the manager so recovery and coalescing behave the same regardless
// of which handle the caller holds.
type ssoConnection struct {
	mgr    *manager
	id     string
	stored types.StoredProfile
}

var _ types.SsoConnection = (*ssoConnection)(nil)

func (c *ssoConnection) ID() string                   { return c.id }
func (c *ssoConnection) Kind() types.ProfileKind      { return types.ProfileKindSso }
func (c *ssoConnection) State() types.ConnectionState { return c.stored.Metadata.ConnectionState }
func (c *ssoConnection) Label() string                { return c.stored.Label() }
func (c *ssoConnection) StartURL() string             { return c.stored.Profile.StartURL }
func (c *ssoConnection) Region() string               { return c.stored.Profile.SsoRegion }
func (c *ssoConnection) Scopes() []string             { return c.stored.Profile.Scopes }

func (c *ssoConnection) GetToken(ctx context.Context) (*types.SsoToken, error) {
	return c.mgr.getToken(ctx, c.id)
}

// iamConnection projects a stored IAM profile, including linked roles.
type iamConnection struct {
	mgr    *manager
	id     string
	stored types.StoredProfile
}

var _ types.IamConnection = (*iamConnection)(nil)

func (c *iamConnection) ID() string                   { return c.id }
func (c *iamConnection) Kind() types.ProfileKind      { return types.ProfileKindIam }
func (c *iamConnection) State() types.ConnectionState { return c.stored.Metadata.ConnectionState }
func (c *iamConnection) Label() string                { return c.stored.Label() }

func (c *iamConnection) GetCredentials(ctx context.Context) (aws.Credentials, error) {
	return c.mgr.getCredentials(ctx, c.id)
}

// EnvironmentVariables renders resolved credentials for consumer processes.
func (c *iamConnection) EnvironmentVariables(ctx context.Context) (map[string]string, error) {
	creds, err := c.GetCredentials(ctx)
	if err != nil {
		return nil, err
	}
	env := map[string]string{
		"AWS_ACCESS_KEY_ID":     creds.AccessKeyID,
		"AWS_SECRET_ACCESS_KEY": creds.SecretAccessKey,
	}
	if creds.SessionToken != "" {
		env["AWS_SESSION_TOKEN"] = creds.SessionToken
	}
	if region := c.stored.Profile.Region; region != "" {
		env["AWS_REGION"] = region
		env["AWS_DEFAULT_REGION"] = region
	}
	return env, nil
}

// project builds the right concrete connection for a stored profile.
func (m *manager) project(id string, stored types.StoredProfile) types.Connection {
	if stored.Profile.Kind == types.ProfileKindSso {
		return &ssoConnection{mgr: m, id: id, stored: stored}
	}
	return &iamConnection{mgr: m, id: id, stored: stored}
}
