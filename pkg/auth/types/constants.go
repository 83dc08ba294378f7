package types

// ConnectionState is the lifecycle state of a connection, persisted in the
// profile metadata and mirrored on the runtime Connection projection.
type ConnectionState string

const (
	StateUnauthenticated ConnectionState = "unauthenticated"
	StateAuthenticating  ConnectionState = "authenticating"
	StateValid           ConnectionState = "valid"
	StateInvalid         ConnectionState = "invalid"
)

// ProfileKind discriminates the persisted profile variants.
type ProfileKind string

const (
	ProfileKindSso ProfileKind = "sso"
	ProfileKindIam ProfileKind = "iam"
)

// IamSubtype refines IAM profiles.
type IamSubtype string

const (
	IamSubtypeUnknown IamSubtype = "unknown"
	IamSubtypeLinked  IamSubtype = "linked"
)

// ScopeAccountAccess is the SSO scope that grants account/role enumeration.
// Connections carrying it can be expanded into linked IAM role connections.
const ScopeAccountAccess = "sso:account:access"
