// Package auth implements the connection manager: the single
// active-connection abstraction over SSO and IAM credential sources, with
// durable profiles, cached credentials, coalesced authentication and
// interactive recovery.
package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	errUtils "github.com/ashishrp-aws/aws-toolkit-vscode/errors"
	"github.com/ashishrp-aws/aws-toolkit-vscode/pkg/auth/credentials"
	"github.com/ashishrp-aws/aws-toolkit-vscode/pkg/auth/environment"
	"github.com/ashishrp-aws/aws-toolkit-vscode/pkg/auth/providers/iam"
	"github.com/ashishrp-aws/aws-toolkit-vscode/pkg/auth/providers/sso"
	"github.com/ashishrp-aws/aws-toolkit-vscode/pkg/auth/sharedconfig"
	"github.com/ashishrp-aws/aws-toolkit-vscode/pkg/auth/store"
	"github.com/ashishrp-aws/aws-toolkit-vscode/pkg/auth/types"
	"github.com/ashishrp-aws/aws-toolkit-vscode/pkg/config"
	"github.com/ashishrp-aws/aws-toolkit-vscode/pkg/perf"
)

const defaultReauthWindow = 60 * time.Second

// TokenProviderFactory builds a token provider for an SSO profile. Tests
// install fakes through WithTokenProviderFactory.
type TokenProviderFactory func(profile types.Profile) (types.TokenProvider, error)

// RoleClientFactory builds an sso service client for linked-role calls in a
// region.
type RoleClientFactory func(region string) iam.RoleAPI

type manager struct {
	profiles   *store.ProfileStore
	tokenCache credentials.TokenCache
	credCache  *credentials.Cache
	settings   *config.Settings
	env        *environment.Environment
	prompter   UserPrompter

	newTokenProvider TokenProviderFactory
	newRoleClient    RoleClientFactory
	newStsClient     StsClientFactory

	// Silent credential sources, probed during auto-connect and resolved for
	// environment-synthesized profiles.
	envProvider       types.CredentialsProvider
	instanceProvider  types.CredentialsProvider
	containerProvider types.CredentialsProvider

	onDeviceAuth     sso.DeviceAuthHandler
	sharedConfigPath string
	newID            func() string
	reauthWindow     time.Duration

	active activeCell
	events events

	// Per-connection-id coalescing: a second caller for the same id joins the
	// in-flight operation instead of starting its own.
	authGroup  singleflight.Group
	tokenGroup singleflight.Group
	credGroup  singleflight.Group

	mu             sync.Mutex
	lastErrors     map[string]error
	reauthCancels  map[string]context.CancelFunc
	tokenProviders map[string]types.TokenProvider
	declared       []types.DeclaredConnection
	internalUser   bool

	autoOnce sync.Once
	autoConn types.Connection
	autoErr  error
}

var _ types.ConnectionManager = (*manager)(nil)

// Option customizes a manager.
type Option func(*manager)

// WithPrompter replaces the re-authentication prompter.
func WithPrompter(p UserPrompter) Option {
	return func(m *manager) { m.prompter = p }
}

// WithTokenProviderFactory replaces the SSO token provider constructor.
func WithTokenProviderFactory(fn TokenProviderFactory) Option {
	return func(m *manager) { m.newTokenProvider = fn }
}

// WithRoleClientFactory replaces the linked-role sso client constructor.
func WithRoleClientFactory(fn RoleClientFactory) Option {
	return func(m *manager) { m.newRoleClient = fn }
}

// WithStsClientFactory replaces the STS client constructor used by
// AuthenticateData.
func WithStsClientFactory(fn StsClientFactory) Option {
	return func(m *manager) { m.newStsClient = fn }
}

// WithDeviceAuthHandler installs the device-flow notification callback passed
// to token providers.
func WithDeviceAuthHandler(fn sso.DeviceAuthHandler) Option {
	return func(m *manager) { m.onDeviceAuth = fn }
}

// WithEnvironment replaces the ambient host environment.
func WithEnvironment(env *environment.Environment) Option {
	return func(m *manager) { m.env = env }
}

// WithSharedConfigPath overrides the AWS shared config file location.
func WithSharedConfigPath(path string) Option {
	return func(m *manager) { m.sharedConfigPath = path }
}

// WithIDGenerator replaces connection id generation, for deterministic tests.
func WithIDGenerator(fn func() string) Option {
	return func(m *manager) { m.newID = fn }
}

// WithReauthWindow overrides the re-authentication prompt window.
func WithReauthWindow(d time.Duration) Option {
	return func(m *manager) { m.reauthWindow = d }
}

// WithSilentProviders replaces the environment, instance and container
// credential sources, for tests.
func WithSilentProviders(env, instance, container types.CredentialsProvider) Option {
	return func(m *manager) {
		m.envProvider = env
		m.instanceProvider = instance
		m.containerProvider = container
	}
}

// New creates the connection manager over the given profile store and durable
// token cache.
func New(profiles *store.ProfileStore, tokenCache credentials.TokenCache, settings *config.Settings, opts ...Option) (types.ConnectionManager, error) {
	if profiles == nil {
		return nil, fmt.Errorf("%w: profile store is required", errUtils.ErrUnsupportedOperation)
	}
	if tokenCache == nil {
		return nil, fmt.Errorf("%w: token cache is required", errUtils.ErrUnsupportedOperation)
	}

	m := &manager{
		profiles:         profiles,
		tokenCache:       tokenCache,
		credCache:        credentials.NewCache(0),
		settings:         settings,
		env:              environment.New(),
		prompter:         NewTerminalPrompter(),
		newRoleClient:    iam.NewRoleClient,
		newStsClient:     newStsClient,
		sharedConfigPath: sharedconfig.DefaultPath(),
		newID:            uuid.NewString,
		reauthWindow:     defaultReauthWindow,
		lastErrors:       map[string]error{},
		reauthCancels:    map[string]context.CancelFunc{},
		tokenProviders:   map[string]types.TokenProvider{},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.envProvider == nil {
		m.envProvider = iam.NewEnvProvider(nil)
	}
	if m.instanceProvider == nil {
		m.instanceProvider = iam.NewInstanceProvider()
	}
	if m.containerProvider == nil {
		m.containerProvider = iam.NewContainerProvider(nil)
	}
	if m.newTokenProvider == nil {
		m.newTokenProvider = func(profile types.Profile) (types.TokenProvider, error) {
			var providerOpts []sso.Option
			if m.onDeviceAuth != nil {
				providerOpts = append(providerOpts, sso.WithDeviceAuthHandler(m.onDeviceAuth))
			}
			return sso.New(profile.StartURL, profile.SsoRegion, profile.Scopes, m.tokenCache, providerOpts...)
		}
	}
	return m, nil
}

// tokenProvider returns the (cached) token provider for an SSO profile.
// Caching keeps per-provider coalescing effective across calls.
func (m *manager) tokenProvider(profile types.Profile) (types.TokenProvider, error) {
	key := fmt.Sprintf("%s|%s|%v", profile.StartURL, profile.SsoRegion, profile.Scopes)
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.tokenProviders[key]; ok {
		return p, nil
	}
	p, err := m.newTokenProvider(profile)
	if err != nil {
		return nil, err
	}
	m.tokenProviders[key] = p
	return p, nil
}

// credentialsProvider builds the credentials provider for a stored IAM
// profile. The metadata source discriminates environment-synthesized
// profiles.
func (m *manager) credentialsProvider(stored types.StoredProfile) (types.CredentialsProvider, error) {
	profile := stored.Profile
	if profile.Subtype == types.IamSubtypeLinked {
		source, err := m.profiles.GetProfileOrErr(profile.SsoConnectionID)
		if err != nil {
			return nil, fmt.Errorf("%w: source connection for linked role: %v", errUtils.ErrInvalidConnection, err)
		}
		tokenProvider, err := m.tokenProvider(source.Profile)
		if err != nil {
			return nil, err
		}
		region := profile.Region
		if region == "" {
			region = source.Profile.SsoRegion
		}
		return iam.NewLinkedRoleProvider(tokenProvider, m.newRoleClient(region), profile.SsoAccount, profile.SsoRole, region)
	}

	switch stored.Metadata.Source {
	case sourceEnvironment:
		return m.envProvider, nil
	case sourceInstance:
		return m.instanceProvider, nil
	case sourceContainer, sourceNotebook:
		return m.containerProvider, nil
	}
	if profile.ProfileName != "" {
		return iam.NewSharedProfileProvider(profile.ProfileName, profile.Region)
	}
	return nil, fmt.Errorf("%w: profile has no resolvable credential source", errUtils.ErrUnsupportedOperation)
}

// ActiveConnection returns the active connection, or nil when logged out.
func (m *manager) ActiveConnection() types.Connection {
	conn, _ := m.active.get()
	return conn
}

// GetConnection projects the referenced stored profile.
func (m *manager) GetConnection(ctx context.Context, id string) (types.Connection, error) {
	stored, err := m.profiles.GetProfileOrErr(id)
	if err != nil {
		return nil, err
	}
	return m.project(id, *stored), nil
}

// CreateConnection creates and authenticates a fresh SSO connection. The
// just-created profile is rolled back when authentication fails.
func (m *manager) CreateConnection(ctx context.Context, profile types.Profile) (types.Connection, error) {
	defer perf.Track("auth.CreateConnection", "kind", string(profile.Kind))()

	if err := profile.Validate(); err != nil {
		return nil, err
	}
	if profile.Kind != types.ProfileKindSso {
		return nil, fmt.Errorf("%w: only SSO connections can be created here", errUtils.ErrUnsupportedOperation)
	}

	id := m.newID()
	if _, err := m.profiles.AddProfile(id, profile); err != nil {
		return nil, err
	}

	conn, err := m.authenticate(ctx, id, false)
	if err != nil {
		// Roll the half-created connection back.
		if delErr := m.profiles.DeleteProfile(id); delErr != nil {
			log.Warn("Failed to roll back connection", "id", id, "error", delErr)
		}
		return nil, err
	}
	log.Info("Created connection", "id", id, "label", conn.Label())
	return conn, nil
}

// UseConnection makes the referenced connection active and persists it as the
// current profile.
func (m *manager) UseConnection(ctx context.Context, id string) (types.Connection, error) {
	if _, err := m.profiles.GetProfileOrErr(id); err != nil {
		return nil, err
	}
	if _, err := m.RefreshConnectionState(ctx, id); err != nil {
		log.Debug("Revalidation before switching failed", "id", id, "error", err)
	}
	stored, err := m.profiles.GetProfileOrErr(id)
	if err != nil {
		return nil, err
	}
	if err := m.profiles.SetCurrentProfileID(id); err != nil {
		return nil, err
	}
	conn := m.project(id, *stored)
	m.active.set(conn)
	m.setInternalUser(stored.Profile.Kind == types.ProfileKindSso &&
		m.settings != nil && stored.Profile.StartURL == m.settings.InternalStartURL())
	m.events.activeChanged.fire(conn)
	log.Debug("Switched active connection", "id", id, "label", conn.Label())
	return conn, nil
}

func (m *manager) setInternalUser(v bool) {
	m.mu.Lock()
	m.internalUser = v
	m.mu.Unlock()
}

// IsInternalUser reports whether the active connection belongs to the internal
// organization, judged by start-URL equality with the configured internal URL.
func (m *manager) IsInternalUser() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.internalUser
}

// Logout clears the active connection, signing SSO tokens out and dropping
// cached credentials. A no-op when nothing is active.
func (m *manager) Logout(ctx context.Context) error {
	defer perf.Track("auth.Logout")()

	conn, _ := m.active.get()
	if conn == nil {
		return nil
	}
	id := conn.ID()

	stored, err := m.profiles.GetProfile(id)
	if err == nil && stored != nil {
		m.invalidateLocal(ctx, id, *stored, true)
		m.setState(ctx, id, types.StateUnauthenticated, nil)
	}
	if err := m.profiles.SetCurrentProfileID(""); err != nil {
		return err
	}
	m.active.clearIf(id)
	m.setInternalUser(false)
	m.events.activeChanged.fire(nil)
	log.Info("Logged out", "id", id)
	return nil
}

// invalidateLocal drops cached material for a connection. serverSide also
// signs SSO tokens out remotely.
func (m *manager) invalidateLocal(ctx context.Context, id string, stored types.StoredProfile, serverSide bool) {
	switch stored.Profile.Kind {
	case types.ProfileKindSso:
		provider, err := m.tokenProvider(stored.Profile)
		if err != nil {
			log.Warn("Cannot build token provider for invalidation", "id", id, "error", err)
			return
		}
		if serverSide {
			if err := provider.Logout(ctx); err != nil {
				log.Debug("Token logout failed", "id", id, "error", err)
			}
			return
		}
		if err := provider.Invalidate(ctx, "connection removed"); err != nil {
			log.Debug("Token invalidation failed", "id", id, "error", err)
		}
	case types.ProfileKindIam:
		if provider, err := m.credentialsProvider(stored); err == nil {
			m.credCache.Invalidate(provider.CredentialsID())
		}
	}
}

// DeleteConnection removes a connection, its cached material and, for SSO
// connections, every linked IAM role connection derived from it. Idempotent.
func (m *manager) DeleteConnection(ctx context.Context, id string) error {
	defer perf.Track("auth.DeleteConnection", "id", id)()

	stored, err := m.profiles.GetProfile(id)
	if err != nil {
		return err
	}
	if stored == nil {
		// Already gone; still announce so listeners can reconcile.
		m.events.deleted.fire(types.Deletion{ID: id})
		return nil
	}

	if active, _ := m.active.get(); active != nil && active.ID() == id {
		if err := m.Logout(ctx); err != nil {
			return err
		}
	} else {
		m.invalidateLocal(ctx, id, *stored, stored.Profile.Kind == types.ProfileKindSso)
	}

	if stored.Profile.Kind == types.ProfileKindSso {
		if err := m.deleteLinkedConnections(ctx, id); err != nil {
			return err
		}
	}

	if err := m.profiles.DeleteProfile(id); err != nil {
		return err
	}
	if current, _ := m.profiles.CurrentProfileID(); current == id {
		if err := m.profiles.SetCurrentProfileID(""); err != nil {
			return err
		}
	}
	m.clearInvalidBookkeeping(id)
	m.events.deleted.fire(types.Deletion{ID: id, Profile: stored})
	log.Info("Deleted connection", "id", id, "label", stored.Label())
	return nil
}

// deleteLinkedConnections sweeps IAM connections whose source is the given
// SSO connection.
func (m *manager) deleteLinkedConnections(ctx context.Context, sourceID string) error {
	entries, err := m.profiles.ListProfiles()
	if err != nil {
		return err
	}
	for _, entry := range entries {
		p := entry.Profile.Profile
		if p.Subtype != types.IamSubtypeLinked || p.SsoConnectionID != sourceID {
			continue
		}
		if provider, perr := m.credentialsProvider(entry.Profile); perr == nil {
			m.credCache.Invalidate(provider.CredentialsID())
		}
		if err := m.profiles.DeleteProfile(entry.ID); err != nil {
			return err
		}
		m.clearInvalidBookkeeping(entry.ID)
		m.active.clearIf(entry.ID)
		stored := entry.Profile
		m.events.deleted.fire(types.Deletion{ID: entry.ID, Profile: &stored})
	}
	return nil
}

// ForgetConnection removes a connection without any server-side or local
// credential invalidation.
func (m *manager) ForgetConnection(ctx context.Context, id string) error {
	stored, err := m.profiles.GetProfile(id)
	if err != nil {
		return err
	}
	if err := m.profiles.DeleteProfile(id); err != nil {
		return err
	}
	if current, _ := m.profiles.CurrentProfileID(); current == id {
		if err := m.profiles.SetCurrentProfileID(""); err != nil {
			return err
		}
	}
	m.clearInvalidBookkeeping(id)
	if m.active.clearIf(id) {
		m.events.activeChanged.fire(nil)
	}
	m.events.deleted.fire(types.Deletion{ID: id, Profile: stored})
	return nil
}

// UpdateConnection replaces a stored SSO profile's configuration, optionally
// force-invalidating the cached token first.
func (m *manager) UpdateConnection(ctx context.Context, id string, profile types.Profile, invalidate bool) (types.Connection, error) {
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	if profile.Kind != types.ProfileKindSso {
		return nil, fmt.Errorf("%w: only SSO connections can be updated", errUtils.ErrUnsupportedOperation)
	}

	existing, err := m.profiles.GetProfileOrErr(id)
	if err != nil {
		return nil, err
	}
	if existing.Profile.Kind != types.ProfileKindSso {
		return nil, fmt.Errorf("%w: cannot turn an IAM connection into SSO", errUtils.ErrUnsupportedOperation)
	}

	if invalidate {
		if provider, perr := m.tokenProvider(existing.Profile); perr == nil {
			if err := provider.Invalidate(ctx, "connection updated"); err != nil {
				log.Debug("Token invalidation failed", "id", id, "error", err)
			}
		}
	}

	stored, err := m.profiles.UpdateProfile(id, profile)
	if err != nil {
		return nil, err
	}
	if invalidate {
		m.setState(ctx, id, types.StateUnauthenticated, nil)
		stored, err = m.profiles.GetProfileOrErr(id)
		if err != nil {
			return nil, err
		}
	}

	conn := m.project(id, *stored)
	if active, version := m.active.get(); active != nil && active.ID() == id {
		if m.active.setIfCurrent(conn, version) {
			m.setInternalUser(m.settings != nil && profile.StartURL == m.settings.InternalStartURL())
			m.events.activeChanged.fire(conn)
		}
	}
	m.events.updated.fire(conn)
	return conn, nil
}

// DeclareConnection records an advisory declared connection. Declarations are
// informational; no lifecycle ownership is implied.
func (m *manager) DeclareConnection(decl types.DeclaredConnection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	// Keyed by start URL; a later declaration for the same URL wins.
	for i, existing := range m.declared {
		if existing.StartURL == decl.StartURL {
			m.declared[i] = decl
			return
		}
	}
	m.declared = append(m.declared, decl)
}

// ListDeclaredConnections returns the advisory registry contents.
func (m *manager) ListDeclaredConnections() []types.DeclaredConnection {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.DeclaredConnection, len(m.declared))
	copy(out, m.declared)
	return out
}

func (m *manager) OnActiveConnectionChanged(fn func(types.Connection)) func() {
	return m.events.activeChanged.add(fn)
}

func (m *manager) OnConnectionStateChanged(fn func(types.StateChange)) func() {
	return m.events.stateChanged.add(fn)
}

func (m *manager) OnConnectionUpdated(fn func(types.Connection)) func() {
	return m.events.updated.add(fn)
}

func (m *manager) OnConnectionDeleted(fn func(types.Deletion)) func() {
	return m.events.deleted.add(fn)
}
