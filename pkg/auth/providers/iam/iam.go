// Package iam implements the access-key credential providers: shared config
// profiles, static pairs, environment variables, instance and container
// roles, and roles linked to an SSO connection.
package iam

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"

	errUtils "github.com/ashishrp-aws/aws-toolkit-vscode/errors"
	"github.com/ashishrp-aws/aws-toolkit-vscode/pkg/auth/types"
)

// fingerprint hashes the provider configuration fields that determine which
// credentials get resolved. Cached credentials with a different fingerprint
// are stale.
func fingerprint(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])[:32]
}

// SharedProfileProvider resolves credentials from a named shared-config
// profile.
type SharedProfileProvider struct {
	profileName string
	region      string
}

var _ types.CredentialsProvider = (*SharedProfileProvider)(nil)

// NewSharedProfileProvider creates a provider for the named profile.
func NewSharedProfileProvider(profileName, region string) (*SharedProfileProvider, error) {
	if profileName == "" {
		return nil, fmt.Errorf("%w: profile name is required", errUtils.ErrUnsupportedOperation)
	}
	return &SharedProfileProvider{profileName: profileName, region: region}, nil
}

func (p *SharedProfileProvider) CredentialsID() string { return "profile:" + p.profileName }
func (p *SharedProfileProvider) DefaultRegion() string { return p.region }

func (p *SharedProfileProvider) HashCode() string {
	return fingerprint("profile", p.profileName, p.region)
}

// CanAutoConnect is false: a shared profile may chain into MFA or SSO prompts.
func (p *SharedProfileProvider) CanAutoConnect(ctx context.Context) bool { return false }

func (p *SharedProfileProvider) Retrieve(ctx context.Context) (aws.Credentials, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithSharedConfigProfile(p.profileName),
		config.WithRegion(p.region),
	)
	if err != nil {
		return aws.Credentials{}, fmt.Errorf("%w: loading profile %q: %v", errUtils.ErrStorage, p.profileName, err)
	}
	creds, err := cfg.Credentials.Retrieve(ctx)
	if err != nil {
		if errUtils.IsRecoverable(err) {
			return aws.Credentials{}, fmt.Errorf("%w: resolving profile %q: %v", errUtils.ErrNetwork, p.profileName, err)
		}
		return aws.Credentials{}, fmt.Errorf("failed to resolve profile %q: %w", p.profileName, err)
	}
	return creds, nil
}

// StaticProvider wraps an ad-hoc access-key/secret pair. AuthenticateData
// stages these temporarily; they are never persisted.
type StaticProvider struct {
	accessKeyID     string
	secretAccessKey string
	region          string
}

var _ types.CredentialsProvider = (*StaticProvider)(nil)

// NewStaticProvider creates a provider around the given pair.
func NewStaticProvider(accessKeyID, secretAccessKey, region string) *StaticProvider {
	return &StaticProvider{accessKeyID: accessKeyID, secretAccessKey: secretAccessKey, region: region}
}

func (p *StaticProvider) CredentialsID() string { return "static:" + p.accessKeyID }
func (p *StaticProvider) DefaultRegion() string { return p.region }

func (p *StaticProvider) HashCode() string {
	// The secret participates so a corrected secret is not masked by a stale
	// cache entry.
	return fingerprint("static", p.accessKeyID, p.secretAccessKey, p.region)
}

func (p *StaticProvider) CanAutoConnect(ctx context.Context) bool { return true }

func (p *StaticProvider) Retrieve(ctx context.Context) (aws.Credentials, error) {
	return awscreds.NewStaticCredentialsProvider(p.accessKeyID, p.secretAccessKey, "").Retrieve(ctx)
}

// EnvProvider resolves credentials from AWS_* environment variables.
type EnvProvider struct {
	lookup func(string) string
}

var _ types.CredentialsProvider = (*EnvProvider)(nil)

// NewEnvProvider creates an environment-variable provider. A nil lookup uses
// the process environment.
func NewEnvProvider(lookup func(string) string) *EnvProvider {
	if lookup == nil {
		lookup = envLookup
	}
	return &EnvProvider{lookup: lookup}
}

func (p *EnvProvider) CredentialsID() string { return "env:default" }
func (p *EnvProvider) DefaultRegion() string { return p.lookup("AWS_REGION") }

func (p *EnvProvider) HashCode() string {
	return fingerprint("env", p.lookup("AWS_ACCESS_KEY_ID"))
}

func (p *EnvProvider) CanAutoConnect(ctx context.Context) bool {
	return p.lookup("AWS_ACCESS_KEY_ID") != "" && p.lookup("AWS_SECRET_ACCESS_KEY") != ""
}

func (p *EnvProvider) Retrieve(ctx context.Context) (aws.Credentials, error) {
	id := p.lookup("AWS_ACCESS_KEY_ID")
	secret := p.lookup("AWS_SECRET_ACCESS_KEY")
	if id == "" || secret == "" {
		return aws.Credentials{}, fmt.Errorf("%w: environment credentials not set", errUtils.ErrInvalidConnection)
	}
	return aws.Credentials{
		AccessKeyID:     id,
		SecretAccessKey: secret,
		SessionToken:    p.lookup("AWS_SESSION_TOKEN"),
		Source:          "environment",
	}, nil
}
