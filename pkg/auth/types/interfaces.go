package types

import (
	"context"
	"iter"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
)

// Connection is the runtime projection of a stored profile: identity plus live
// credential accessors. At most one connection is active per process.
type Connection interface {
	// ID returns the opaque connection id the profile is stored under.
	ID() string
	// Kind returns the profile kind backing this connection.
	Kind() ProfileKind
	// State mirrors the persisted connection state at projection time.
	State() ConnectionState
	// Label returns the display label.
	Label() string
}

// SsoConnection is a connection backed by an SSO profile.
type SsoConnection interface {
	Connection
	StartURL() string
	Region() string
	Scopes() []string
	// GetToken returns the current bearer token, driving interactive recovery
	// when the cached token has lapsed.
	GetToken(ctx context.Context) (*SsoToken, error)
}

// IamConnection is a connection backed by an IAM profile.
type IamConnection interface {
	Connection
	// GetCredentials resolves access-key credentials, driving interactive
	// recovery for linked profiles whose source SSO connection has lapsed.
	GetCredentials(ctx context.Context) (aws.Credentials, error)
	// EnvironmentVariables renders the credentials as AWS_* variables for
	// consumer processes.
	EnvironmentVariables(ctx context.Context) (map[string]string, error)
}

// TokenProvider produces and caches SSO bearer tokens for one connection.
type TokenProvider interface {
	// GetToken returns the cached or refreshable token, or (nil, nil) when no
	// token is available. "No token" is not an error.
	GetToken(ctx context.Context) (*SsoToken, error)

	// CreateToken runs the interactive device authorization flow. It may fail
	// with a user-cancellation or network error.
	CreateToken(ctx context.Context) (*SsoToken, error)

	// Invalidate drops the cached token. The reason is recorded for
	// diagnostics only.
	Invalidate(ctx context.Context, reason string) error

	// ClientRegistration returns the cached OIDC client registration,
	// registering a fresh client when none is cached or it has expired.
	ClientRegistration(ctx context.Context) (*ClientRegistration, error)

	// SessionDuration returns the expected lifetime of tokens from this
	// provider.
	SessionDuration() time.Duration

	// Logout signs the token out server-side and drops the cache.
	Logout(ctx context.Context) error
}

// CredentialsProvider resolves access-key credentials for one IAM source.
type CredentialsProvider interface {
	// CredentialsID identifies this provider in the credentials cache.
	CredentialsID() string

	// DefaultRegion returns the region configured for this source, or "".
	DefaultRegion() string

	// HashCode fingerprints the provider configuration. Cached credentials
	// whose stored fingerprint differs are stale.
	HashCode() string

	// CanAutoConnect reports whether silent credential resolution is possible
	// (e.g. instance metadata) without user interaction.
	CanAutoConnect(ctx context.Context) bool

	// Retrieve resolves the credentials.
	Retrieve(ctx context.Context) (aws.Credentials, error)
}

// StateChange is the payload of connection-state-changed notifications.
type StateChange struct {
	ID    string
	State ConnectionState
}

// Deletion is the payload of connection-deleted notifications. Profile is nil
// when the deletion was a no-op on an absent profile.
type Deletion struct {
	ID      string
	Profile *StoredProfile
}

// ConnectionManager is the single active-connection abstraction. Events about
// the same connection id are delivered in order; no ordering is guaranteed
// across different ids.
type ConnectionManager interface {
	// ListConnections reloads environment-sourced IAM profiles into the store
	// and projects every stored profile. Individual bad profiles are skipped,
	// never raised.
	ListConnections(ctx context.Context) ([]Connection, error)

	// ListAndTraverseConnections yields the base listing and additionally
	// expands each valid account-scoped SSO connection into its linked IAM
	// role connections. Per-connection failures are logged and swallowed.
	ListAndTraverseConnections(ctx context.Context) iter.Seq[Connection]

	// CreateConnection creates and authenticates a fresh SSO connection. On
	// failure the just-created profile is rolled back. IAM profiles are
	// rejected with ErrUnsupportedOperation.
	CreateConnection(ctx context.Context, profile Profile) (Connection, error)

	// UseConnection makes the referenced connection active and persists it as
	// the current profile.
	UseConnection(ctx context.Context, id string) (Connection, error)

	// GetConnection projects the referenced stored profile.
	GetConnection(ctx context.Context, id string) (Connection, error)

	// ActiveConnection returns the active connection, or nil when logged out.
	ActiveConnection() Connection

	// IsInternalUser reports whether the active connection's start URL matches
	// the configured internal-organization URL.
	IsInternalUser() bool

	// Logout clears the active connection. A no-op when nothing is active.
	Logout(ctx context.Context) error

	// DeleteConnection removes a connection. Idempotent: an absent profile is
	// treated as already deleted. Deleting the active connection performs full
	// logout semantics.
	DeleteConnection(ctx context.Context, id string) error

	// ForgetConnection removes a connection without any server-side or local
	// invalidation.
	ForgetConnection(ctx context.Context, id string) error

	// ExpireConnection force-invalidates an SSO token and revalidates.
	// Diagnostic path.
	ExpireConnection(ctx context.Context, id string) error

	// RefreshConnectionState re-runs validation for one connection without
	// changing which connection is active.
	RefreshConnectionState(ctx context.Context, id string) (ConnectionState, error)

	// Reauthenticate explicitly re-runs the interactive authenticate path.
	Reauthenticate(ctx context.Context, id string) (Connection, error)

	// UpdateConnection replaces a stored SSO profile's configuration,
	// optionally force-invalidating first.
	UpdateConnection(ctx context.Context, id string, profile Profile, invalidate bool) (Connection, error)

	// AuthenticateData validates an ad-hoc static access-key/secret pair,
	// reporting which field is wrong on recognized failure codes.
	AuthenticateData(ctx context.Context, accessKeyID, secretAccessKey string) error

	// TryAutoConnect restores or synthesizes a connection at startup. Runs at
	// most once per process; later calls return the memoized outcome.
	TryAutoConnect(ctx context.Context) (Connection, error)

	// DeclareConnection records an advisory declared connection.
	DeclareConnection(decl DeclaredConnection)

	// ListDeclaredConnections returns the advisory registry contents.
	ListDeclaredConnections() []DeclaredConnection

	// OnActiveConnectionChanged subscribes to active-connection changes. The
	// returned func unsubscribes.
	OnActiveConnectionChanged(fn func(Connection)) (unsubscribe func())

	// OnConnectionStateChanged subscribes to per-connection state changes.
	OnConnectionStateChanged(fn func(StateChange)) (unsubscribe func())

	// OnConnectionUpdated subscribes to profile-update notifications.
	OnConnectionUpdated(fn func(Connection)) (unsubscribe func())

	// OnConnectionDeleted subscribes to deletion notifications.
	OnConnectionDeleted(fn func(Deletion)) (unsubscribe func())
}
