// Package sso implements the SSO/OIDC bearer-token provider: device
// authorization against AWS IAM Identity Center, with durable token and
// client-registration caching.
package sso

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	ssoclient "github.com/aws/aws-sdk-go-v2/service/sso"
	"github.com/aws/aws-sdk-go-v2/service/ssooidc"
	oidctypes "github.com/aws/aws-sdk-go-v2/service/ssooidc/types"
	log "github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"

	errUtils "github.com/ashishrp-aws/aws-toolkit-vscode/errors"
	"github.com/ashishrp-aws/aws-toolkit-vscode/pkg/auth/credentials"
	"github.com/ashishrp-aws/aws-toolkit-vscode/pkg/auth/types"
	"github.com/ashishrp-aws/aws-toolkit-vscode/pkg/perf"
)

const (
	clientName           = "aws-toolkit-auth"
	clientType           = "public"
	deviceCodeGrant      = "urn:ietf:params:oauth:grant-type:device_code"
	refreshTokenGrant    = "refresh_token"
	defaultPollInterval  = 5 * time.Second
	slowDownBackoff      = 5 * time.Second
	defaultSessionLength = 8 * time.Hour
)

// OidcAPI is the ssooidc client surface the provider consumes.
type OidcAPI interface {
	RegisterClient(ctx context.Context, params *ssooidc.RegisterClientInput, optFns ...func(*ssooidc.Options)) (*ssooidc.RegisterClientOutput, error)
	StartDeviceAuthorization(ctx context.Context, params *ssooidc.StartDeviceAuthorizationInput, optFns ...func(*ssooidc.Options)) (*ssooidc.StartDeviceAuthorizationOutput, error)
	CreateToken(ctx context.Context, params *ssooidc.CreateTokenInput, optFns ...func(*ssooidc.Options)) (*ssooidc.CreateTokenOutput, error)
}

// LogoutAPI is the sso client surface used for server-side sign-out.
type LogoutAPI interface {
	Logout(ctx context.Context, params *ssoclient.LogoutInput, optFns ...func(*ssoclient.Options)) (*ssoclient.LogoutOutput, error)
}

// DeviceAuthHandler surfaces the verification URI and user code during the
// device flow. The default logs them; UIs install their own.
type DeviceAuthHandler func(verificationURI, userCode string)

// Provider implements types.TokenProvider for one start URL + region + scope
// set.
type Provider struct {
	startURL string
	region   string
	scopes   []string

	cache        credentials.TokenCache
	oidc         OidcAPI
	sso          LogoutAPI
	onDeviceAuth DeviceAuthHandler
	sleep        func(time.Duration)

	group singleflight.Group
}

var _ types.TokenProvider = (*Provider)(nil)

// Option customizes a Provider.
type Option func(*Provider)

// WithClients replaces the AWS service clients, for tests.
func WithClients(oidc OidcAPI, sso LogoutAPI) Option {
	return func(p *Provider) {
		p.oidc = oidc
		p.sso = sso
	}
}

// WithDeviceAuthHandler installs the device-flow notification callback.
func WithDeviceAuthHandler(fn DeviceAuthHandler) Option {
	return func(p *Provider) { p.onDeviceAuth = fn }
}

// WithSleep replaces the poll sleeper, for tests.
func WithSleep(fn func(time.Duration)) Option {
	return func(p *Provider) { p.sleep = fn }
}

// New creates a token provider. The token cache must be durable; tokens
// outlive the process.
func New(startURL, region string, scopes []string, cache credentials.TokenCache, opts ...Option) (*Provider, error) {
	if startURL == "" {
		return nil, fmt.Errorf("%w: start URL is required", errUtils.ErrUnsupportedOperation)
	}
	if region == "" {
		return nil, fmt.Errorf("%w: region is required", errUtils.ErrUnsupportedOperation)
	}

	p := &Provider{
		startURL: startURL,
		region:   region,
		scopes:   scopes,
		cache:    cache,
		sleep:    time.Sleep,
	}
	p.onDeviceAuth = func(uri, code string) {
		log.Info("Complete sign-in in your browser", "url", uri, "code", code)
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.oidc == nil {
		cfg := aws.Config{Region: region}
		p.oidc = ssooidc.NewFromConfig(cfg)
		p.sso = ssoclient.NewFromConfig(cfg)
	}
	return p, nil
}

// CacheKey identifies this provider's entries in the token cache.
func (p *Provider) CacheKey() string {
	scopes := append([]string(nil), p.scopes...)
	sort.Strings(scopes)
	sum := sha256.Sum256([]byte(p.startURL + "|" + p.region + "|" + strings.Join(scopes, ",")))
	return hex.EncodeToString(sum[:])[:32]
}

// GetToken returns the cached token, refreshing it through the OIDC refresh
// grant when possible. A missing or unrefreshable token yields (nil, nil),
// never an error.
func (p *Provider) GetToken(ctx context.Context) (*types.SsoToken, error) {
	defer perf.Track("sso.Provider.GetToken", "startURL", p.startURL)()

	v, err, _ := p.group.Do("get:"+p.CacheKey(), func() (any, error) {
		token, err := p.cache.GetToken(p.CacheKey())
		if err != nil {
			return nil, err
		}
		if token == nil {
			return (*types.SsoToken)(nil), nil
		}
		if !token.Expired() {
			return token, nil
		}
		if token.RefreshToken == "" {
			// Lapsed with no refresh path; drop it.
			_ = p.cache.DeleteToken(p.CacheKey())
			return (*types.SsoToken)(nil), nil
		}
		return p.refreshToken(ctx, token)
	})
	if err != nil {
		return nil, err
	}
	return v.(*types.SsoToken), nil
}

// refreshToken exchanges the refresh token for a fresh access token. A
// rejected refresh token clears the cache and reports "no token"; transport
// failures propagate as recoverable.
func (p *Provider) refreshToken(ctx context.Context, token *types.SsoToken) (*types.SsoToken, error) {
	reg, err := p.ClientRegistration(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := p.oidc.CreateToken(ctx, &ssooidc.CreateTokenInput{
		ClientId:     aws.String(reg.ClientID),
		ClientSecret: aws.String(reg.ClientSecret),
		GrantType:    aws.String(refreshTokenGrant),
		RefreshToken: aws.String(token.RefreshToken),
	})
	if err != nil {
		var invalidGrant *oidctypes.InvalidGrantException
		if errors.As(err, &invalidGrant) {
			log.Debug("Refresh token rejected, dropping cached token", "startURL", p.startURL)
			_ = p.cache.DeleteToken(p.CacheKey())
			return nil, nil
		}
		if errUtils.IsRecoverable(err) {
			return nil, fmt.Errorf("%w: token refresh: %v", errUtils.ErrNetwork, err)
		}
		return nil, fmt.Errorf("token refresh failed: %w", err)
	}

	fresh := p.tokenFromResponse(resp)
	if err := p.cache.SetToken(p.CacheKey(), fresh); err != nil {
		log.Warn("Failed to cache refreshed token", "error", err)
	}
	return fresh, nil
}

// CreateToken runs the interactive device authorization flow.
func (p *Provider) CreateToken(ctx context.Context) (*types.SsoToken, error) {
	defer perf.Track("sso.Provider.CreateToken", "startURL", p.startURL)()

	v, err, _ := p.group.Do("create:"+p.CacheKey(), func() (any, error) {
		return p.createToken(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*types.SsoToken), nil
}

func (p *Provider) createToken(ctx context.Context) (*types.SsoToken, error) {
	reg, err := p.ClientRegistration(ctx)
	if err != nil {
		return nil, err
	}

	authResp, err := p.oidc.StartDeviceAuthorization(ctx, &ssooidc.StartDeviceAuthorizationInput{
		ClientId:     aws.String(reg.ClientID),
		ClientSecret: aws.String(reg.ClientSecret),
		StartUrl:     aws.String(p.startURL),
	})
	if err != nil {
		if errUtils.IsRecoverable(err) {
			return nil, fmt.Errorf("%w: device authorization: %v", errUtils.ErrNetwork, err)
		}
		return nil, fmt.Errorf("failed to start device authorization: %w", err)
	}

	p.onDeviceAuth(aws.ToString(authResp.VerificationUriComplete), aws.ToString(authResp.UserCode))

	interval := defaultPollInterval
	if authResp.Interval > 0 {
		interval = time.Duration(authResp.Interval) * time.Second
	}
	deadline := time.Now().Add(time.Duration(authResp.ExpiresIn) * time.Second)

	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: device flow aborted: %v", errUtils.ErrUserCancelled, err)
		}
		p.sleep(interval)

		resp, err := p.oidc.CreateToken(ctx, &ssooidc.CreateTokenInput{
			ClientId:     aws.String(reg.ClientID),
			ClientSecret: aws.String(reg.ClientSecret),
			DeviceCode:   authResp.DeviceCode,
			GrantType:    aws.String(deviceCodeGrant),
		})
		if err == nil {
			token := p.tokenFromResponse(resp)
			if cacheErr := p.cache.SetToken(p.CacheKey(), token); cacheErr != nil {
				log.Warn("Failed to cache token", "error", cacheErr)
			}
			log.Debug("Device authorization complete", "startURL", p.startURL, "expiresAt", token.ExpiresAt)
			return token, nil
		}

		var pending *oidctypes.AuthorizationPendingException
		var slowDown *oidctypes.SlowDownException
		var expired *oidctypes.ExpiredTokenException
		switch {
		case errors.As(err, &pending):
			continue
		case errors.As(err, &slowDown):
			interval += slowDownBackoff
			continue
		case errors.As(err, &expired):
			return nil, fmt.Errorf("%w: device code expired", errUtils.ErrTimedOut)
		default:
			if errUtils.IsRecoverable(err) {
				return nil, fmt.Errorf("%w: polling for token: %v", errUtils.ErrNetwork, err)
			}
			return nil, fmt.Errorf("failed to create token: %w", err)
		}
	}

	return nil, fmt.Errorf("%w: device authorization window elapsed", errUtils.ErrTimedOut)
}

// Invalidate drops the cached token. The reason is recorded for diagnostics.
func (p *Provider) Invalidate(ctx context.Context, reason string) error {
	log.Debug("Invalidating SSO token", "startURL", p.startURL, "reason", reason)
	return p.cache.DeleteToken(p.CacheKey())
}

// ClientRegistration returns the cached OIDC client registration, registering
// a fresh public client when none is cached or the registration lapsed.
func (p *Provider) ClientRegistration(ctx context.Context) (*types.ClientRegistration, error) {
	reg, err := p.cache.GetRegistration(p.CacheKey())
	if err != nil {
		return nil, err
	}
	if reg != nil && !reg.Expired() {
		return reg, nil
	}

	resp, err := p.oidc.RegisterClient(ctx, &ssooidc.RegisterClientInput{
		ClientName: aws.String(clientName),
		ClientType: aws.String(clientType),
		Scopes:     p.scopes,
	})
	if err != nil {
		if errUtils.IsRecoverable(err) {
			return nil, fmt.Errorf("%w: client registration: %v", errUtils.ErrNetwork, err)
		}
		return nil, fmt.Errorf("failed to register client: %w", err)
	}

	reg = &types.ClientRegistration{
		ClientID:     aws.ToString(resp.ClientId),
		ClientSecret: aws.ToString(resp.ClientSecret),
		ExpiresAt:    time.Unix(resp.ClientSecretExpiresAt, 0),
		Scopes:       p.scopes,
	}
	if err := p.cache.SetRegistration(p.CacheKey(), reg); err != nil {
		log.Warn("Failed to cache client registration", "error", err)
	}
	return reg, nil
}

// SessionDuration reports the expected token lifetime: the remaining life of
// the cached token when one exists, otherwise the service default.
func (p *Provider) SessionDuration() time.Duration {
	token, err := p.cache.GetToken(p.CacheKey())
	if err == nil && token != nil && !token.Expired() {
		return time.Until(token.ExpiresAt)
	}
	return defaultSessionLength
}

// Logout signs the cached token out server-side, then drops it locally. The
// client registration is kept; it is reusable across sessions.
func (p *Provider) Logout(ctx context.Context) error {
	defer perf.Track("sso.Provider.Logout", "startURL", p.startURL)()

	token, err := p.cache.GetToken(p.CacheKey())
	if err != nil {
		return err
	}
	if token != nil && !token.Expired() {
		if _, err := p.sso.Logout(ctx, &ssoclient.LogoutInput{AccessToken: aws.String(token.AccessToken)}); err != nil {
			// Best effort; the local cache is dropped regardless.
			log.Debug("Server-side logout failed", "startURL", p.startURL, "error", err)
		}
	}
	return p.cache.DeleteToken(p.CacheKey())
}

func (p *Provider) tokenFromResponse(resp *ssooidc.CreateTokenOutput) *types.SsoToken {
	return &types.SsoToken{
		AccessToken:  aws.ToString(resp.AccessToken),
		RefreshToken: aws.ToString(resp.RefreshToken),
		ExpiresAt:    time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second),
		Region:       p.region,
		StartURL:     p.startURL,
	}
}
