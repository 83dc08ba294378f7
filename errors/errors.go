// Package errors defines the sentinel error taxonomy shared across the
// connection-management core. Callers wrap these with fmt.Errorf("%w: ...")
// so that errors.Is works across package boundaries.
package errors

import "errors"

var (
	// ErrProfileNotFound indicates a referenced connection id has no stored profile.
	ErrProfileNotFound = errors.New("profile not found")

	// ErrProfileExists indicates an attempt to add a profile under an id that is already taken.
	ErrProfileExists = errors.New("profile already exists")

	// ErrNetwork indicates a transient network failure talking to AWS.
	// It does not mean the credentials themselves are invalid.
	ErrNetwork = errors.New("network failure")

	// ErrStorage indicates a transient local storage failure (profile store,
	// token cache). Like ErrNetwork it must not downgrade connection state.
	ErrStorage = errors.New("storage failure")

	// ErrInvalidConnection indicates the connection requires interactive
	// re-authentication or explicit recreation before it can be used.
	ErrInvalidConnection = errors.New("connection is invalid or expired, login again")

	// ErrUserCancelled indicates the user declined an interactive prompt, or
	// the prompt timed out.
	ErrUserCancelled = errors.New("cancelled by user")

	// ErrUnsupportedOperation indicates an operation that is not supported for
	// the profile kind, e.g. creating an IAM connection through the SSO-only path.
	ErrUnsupportedOperation = errors.New("unsupported operation")

	// ErrTimedOut indicates an interactive operation exceeded its deadline.
	ErrTimedOut = errors.New("timed out")

	// ErrMissingSection indicates an expected section of the shared AWS config
	// file (e.g. an sso-session block) is absent.
	ErrMissingSection = errors.New("missing shared config section")

	// ErrCredentialStore indicates a failure in the durable token cache backend.
	ErrCredentialStore = errors.New("credential store error")

	// ErrUnknownCredentialType indicates the token cache holds an envelope of a
	// type this build does not understand.
	ErrUnknownCredentialType = errors.New("unknown credential type")

	// ErrInvalidAccessKey indicates a static access key id was rejected by STS.
	ErrInvalidAccessKey = errors.New("invalid access key id")

	// ErrInvalidSecretKey indicates a static secret access key was rejected by STS.
	ErrInvalidSecretKey = errors.New("invalid secret access key")

	// ErrNoConnection indicates an operation that needs an active connection
	// was invoked while logged out.
	ErrNoConnection = errors.New("no active connection")
)
