package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	log "github.com/charmbracelet/log"

	errUtils "github.com/ashishrp-aws/aws-toolkit-vscode/errors"
	"github.com/ashishrp-aws/aws-toolkit-vscode/pkg/auth/store"
	"github.com/ashishrp-aws/aws-toolkit-vscode/pkg/auth/types"
	"github.com/ashishrp-aws/aws-toolkit-vscode/pkg/perf"
)

// setState persists a connection state transition and announces it. Entering
// invalid records the cause; leaving invalid clears the recorded cause and
// cancels any pending re-authentication prompt.
func (m *manager) setState(ctx context.Context, id string, state types.ConnectionState, cause error) {
	stored, err := m.profiles.GetProfile(id)
	if err != nil || stored == nil {
		return
	}
	prev := stored.Metadata.ConnectionState
	if prev != state {
		s := state
		if _, err := m.profiles.UpdateMetadata(id, store.MetadataPatch{ConnectionState: &s}); err != nil {
			log.Warn("Failed to persist connection state", "id", id, "state", string(state), "error", err)
			return
		}
	}

	m.mu.Lock()
	if state == types.StateInvalid {
		if cause != nil {
			m.lastErrors[id] = cause
		}
	} else {
		delete(m.lastErrors, id)
		if cancel, ok := m.reauthCancels[id]; ok {
			cancel()
			delete(m.reauthCancels, id)
		}
	}
	m.mu.Unlock()

	// Entering authenticating is always announced: it signals an interactive
	// operation in progress even when the stored state did not change.
	if prev != state || state == types.StateAuthenticating {
		log.Debug("Connection state changed", "id", id, "from", string(prev), "to", string(state))
		m.events.stateChanged.fire(types.StateChange{ID: id, State: state})
	}
}

func (m *manager) clearInvalidBookkeeping(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.lastErrors, id)
	if cancel, ok := m.reauthCancels[id]; ok {
		cancel()
		delete(m.reauthCancels, id)
	}
}

// RefreshConnectionState re-runs validation for one connection without
// changing which connection is active. Recoverable failures leave the state
// untouched and are reported to the caller.
func (m *manager) RefreshConnectionState(ctx context.Context, id string) (types.ConnectionState, error) {
	defer perf.Track("auth.RefreshConnectionState", "id", id)()

	stored, err := m.profiles.GetProfileOrErr(id)
	if err != nil {
		return "", err
	}

	state, cause, err := m.validate(ctx, id, *stored)
	if err != nil {
		return stored.Metadata.ConnectionState, err
	}
	m.setState(ctx, id, state, cause)
	return state, nil
}

// validate computes the connection state from live credential material. The
// returned error is non-nil only for recoverable failures, which must not
// downgrade the persisted state.
func (m *manager) validate(ctx context.Context, id string, stored types.StoredProfile) (types.ConnectionState, error, error) {
	switch stored.Profile.Kind {
	case types.ProfileKindSso:
		provider, err := m.tokenProvider(stored.Profile)
		if err != nil {
			return types.StateInvalid, err, nil
		}
		token, err := provider.GetToken(ctx)
		if err != nil {
			if errUtils.IsRecoverable(err) {
				return "", nil, err
			}
			return types.StateInvalid, err, nil
		}
		if token == nil {
			return types.StateInvalid, fmt.Errorf("%w: no usable token", errUtils.ErrInvalidConnection), nil
		}
		return types.StateValid, nil, nil

	case types.ProfileKindIam:
		if stored.Profile.Subtype == types.IamSubtypeLinked {
			// The source SSO connection gates the linked roles; a lapsed
			// source makes cached role credentials meaningless.
			state, cause, verr := m.validateLinkedSource(ctx, stored.Profile.SsoConnectionID)
			if verr != nil || state != types.StateValid {
				return state, cause, verr
			}
		}
		provider, err := m.credentialsProvider(stored)
		if err != nil {
			return types.StateInvalid, err, nil
		}
		if _, ok := m.credCache.Get(provider.CredentialsID(), provider.HashCode()); ok {
			return types.StateValid, nil, nil
		}
		creds, err := provider.Retrieve(ctx)
		if err != nil {
			if errUtils.IsRecoverable(err) {
				return "", nil, err
			}
			return types.StateInvalid, err, nil
		}
		m.credCache.Put(provider.CredentialsID(), provider.HashCode(), creds)
		return types.StateValid, nil, nil

	default:
		return types.StateInvalid, fmt.Errorf("%w: unknown profile kind %q", errUtils.ErrUnsupportedOperation, stored.Profile.Kind), nil
	}
}

// validateLinkedSource validates the SSO connection a linked IAM profile
// derives from. Returns StateValid only when the source holds a usable token.
func (m *manager) validateLinkedSource(ctx context.Context, sourceID string) (types.ConnectionState, error, error) {
	source, err := m.profiles.GetProfileOrErr(sourceID)
	if err != nil {
		return types.StateInvalid, fmt.Errorf("%w: source SSO connection %q: %w", errUtils.ErrInvalidConnection, sourceID, err), nil
	}
	state, cause, verr := m.validate(ctx, sourceID, *source)
	if verr != nil {
		return "", nil, verr
	}
	if state != types.StateValid {
		if cause == nil {
			cause = fmt.Errorf("connection is %s", state)
		}
		return types.StateInvalid, fmt.Errorf("%w: source SSO connection %q: %w", errUtils.ErrInvalidConnection, sourceID, cause), nil
	}
	return types.StateValid, nil, nil
}

// authenticate runs (or joins) the authentication flow for a connection.
// Concurrent calls for the same id share one flow and one outcome.
func (m *manager) authenticate(ctx context.Context, id string, invalidate bool) (types.Connection, error) {
	v, err, _ := m.authGroup.Do(id, func() (any, error) {
		return m.authenticateLocked(ctx, id, invalidate)
	})
	if err != nil {
		return nil, err
	}
	return v.(types.Connection), nil
}

func (m *manager) authenticateLocked(ctx context.Context, id string, invalidate bool) (types.Connection, error) {
	defer perf.Track("auth.authenticate", "id", id)()

	stored, err := m.profiles.GetProfileOrErr(id)
	if err != nil {
		return nil, err
	}

	// Announced eagerly so observers can show progress; the terminal state
	// overwrites it on completion.
	m.setState(ctx, id, types.StateAuthenticating, nil)

	switch stored.Profile.Kind {
	case types.ProfileKindSso:
		if err := m.authenticateSso(ctx, id, stored.Profile, invalidate); err != nil {
			m.setState(ctx, id, types.StateInvalid, err)
			return nil, err
		}

	case types.ProfileKindIam:
		if stored.Profile.Subtype == types.IamSubtypeLinked {
			// A linked role authenticates through its source SSO connection.
			if _, err := m.authenticate(ctx, stored.Profile.SsoConnectionID, invalidate); err != nil {
				m.setState(ctx, id, types.StateInvalid, err)
				return nil, err
			}
		}
		provider, err := m.credentialsProvider(*stored)
		if err != nil {
			m.setState(ctx, id, types.StateInvalid, err)
			return nil, err
		}
		if invalidate {
			m.credCache.Invalidate(provider.CredentialsID())
		}
		creds, err := provider.Retrieve(ctx)
		if err != nil {
			if errUtils.IsRecoverable(err) {
				// Transient; restore the pre-flight state.
				m.setState(ctx, id, stored.Metadata.ConnectionState, nil)
				return nil, err
			}
			m.setState(ctx, id, types.StateInvalid, err)
			return nil, err
		}
		m.credCache.Put(provider.CredentialsID(), provider.HashCode(), creds)

	default:
		err := fmt.Errorf("%w: unknown profile kind %q", errUtils.ErrUnsupportedOperation, stored.Profile.Kind)
		m.setState(ctx, id, types.StateInvalid, err)
		return nil, err
	}

	m.setState(ctx, id, types.StateValid, nil)
	fresh, err := m.profiles.GetProfileOrErr(id)
	if err != nil {
		return nil, err
	}
	conn := m.project(id, *fresh)
	if active, version := m.active.get(); active != nil && active.ID() == id {
		m.active.setIfCurrent(conn, version)
	}
	return conn, nil
}

func (m *manager) authenticateSso(ctx context.Context, id string, profile types.Profile, invalidate bool) error {
	provider, err := m.tokenProvider(profile)
	if err != nil {
		return err
	}
	if invalidate {
		if err := provider.Invalidate(ctx, "reauthentication requested"); err != nil {
			return err
		}
	}
	token, err := provider.GetToken(ctx)
	if err != nil && !errUtils.IsRecoverable(err) {
		return err
	}
	if token != nil {
		return nil
	}
	if _, err := provider.CreateToken(ctx); err != nil {
		return err
	}
	return nil
}

// Reauthenticate explicitly re-runs the interactive authenticate path.
func (m *manager) Reauthenticate(ctx context.Context, id string) (types.Connection, error) {
	return m.authenticate(ctx, id, true)
}

// ExpireConnection force-invalidates an SSO token and revalidates. Diagnostic
// path for reproducing expiry handling.
func (m *manager) ExpireConnection(ctx context.Context, id string) error {
	stored, err := m.profiles.GetProfileOrErr(id)
	if err != nil {
		return err
	}
	if stored.Profile.Kind != types.ProfileKindSso {
		return fmt.Errorf("%w: only SSO connections can be expired", errUtils.ErrUnsupportedOperation)
	}
	provider, err := m.tokenProvider(stored.Profile)
	if err != nil {
		return err
	}
	if err := provider.Invalidate(ctx, "expired on request"); err != nil {
		return err
	}
	_, err = m.RefreshConnectionState(ctx, id)
	return err
}

// handleInvalidCredentials marks the connection invalid and offers the user a
// time-boxed re-authentication prompt. Accepting runs the interactive flow;
// declining or letting the window lapse leaves the connection invalid. A
// concurrent recovery through another path cancels the prompt and wins.
func (m *manager) handleInvalidCredentials(ctx context.Context, id string, cause error) (types.Connection, error) {
	log.Debug("Connection credentials are invalid", "id", id, "cause", cause)

	stored, err := m.profiles.GetProfileOrErr(id)
	if err != nil {
		// Deleted out from under us; finish the removal and propagate.
		if derr := m.DeleteConnection(ctx, id); derr != nil {
			log.Debug("Failed to clean up vanished connection", "id", id, "error", derr)
		}
		return nil, err
	}
	if stored.Metadata.ConnectionState == types.StateInvalid {
		// Already known-bad; repeating the prompt would just storm the user.
		return nil, fmt.Errorf("%w: %w", errUtils.ErrInvalidConnection, cause)
	}
	m.setState(ctx, id, types.StateInvalid, cause)

	promptCtx, cancel := context.WithTimeout(ctx, m.reauthWindow)
	defer cancel()
	m.mu.Lock()
	m.reauthCancels[id] = cancel
	m.mu.Unlock()

	confirmed, promptErr := m.prompter.ConfirmReauthenticate(promptCtx, stored.Label())

	m.mu.Lock()
	delete(m.reauthCancels, id)
	m.mu.Unlock()

	if promptErr != nil {
		// The prompt may have been cancelled because another caller already
		// recovered the connection.
		if fresh, ferr := m.profiles.GetProfile(id); ferr == nil && fresh != nil &&
			fresh.Metadata.ConnectionState == types.StateValid {
			return m.project(id, *fresh), nil
		}
		if errors.Is(promptCtx.Err(), context.Canceled) && ctx.Err() == nil {
			// Disarmed by a state transition away from invalid: another
			// caller is mid-recovery. Join its coalesced flow and share the
			// outcome instead of reporting a cancellation.
			return m.authenticate(ctx, id, false)
		}
		if errors.Is(promptCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: re-authentication window elapsed: %w", errUtils.ErrUserCancelled, cause)
		}
		if errUtils.IsCancellation(promptErr) {
			return nil, fmt.Errorf("%w: %w", errUtils.ErrUserCancelled, cause)
		}
		return nil, promptErr
	}
	if !confirmed {
		return nil, fmt.Errorf("%w: re-authentication declined: %w", errUtils.ErrUserCancelled, cause)
	}
	return m.authenticate(ctx, id, true)
}

// getToken resolves the bearer token for an SSO connection, driving
// interactive recovery when the cached token has lapsed. Concurrent calls for
// the same id share one resolution.
func (m *manager) getToken(ctx context.Context, id string) (*types.SsoToken, error) {
	v, err, _ := m.tokenGroup.Do(id, func() (any, error) {
		return m.getTokenLocked(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return v.(*types.SsoToken), nil
}

func (m *manager) getTokenLocked(ctx context.Context, id string) (*types.SsoToken, error) {
	stored, err := m.profiles.GetProfileOrErr(id)
	if err != nil {
		return nil, err
	}
	if stored.Profile.Kind != types.ProfileKindSso {
		return nil, fmt.Errorf("%w: connection %q has no bearer token", errUtils.ErrUnsupportedOperation, id)
	}
	provider, err := m.tokenProvider(stored.Profile)
	if err != nil {
		return nil, err
	}

	token, err := provider.GetToken(ctx)
	if err != nil {
		if errUtils.IsRecoverable(err) {
			// Transient; state stays as it was.
			return nil, err
		}
		if _, herr := m.handleInvalidCredentials(ctx, id, err); herr != nil {
			return nil, herr
		}
		return provider.GetToken(ctx)
	}
	if token == nil {
		if _, herr := m.handleInvalidCredentials(ctx, id, fmt.Errorf("%w: no usable token", errUtils.ErrInvalidConnection)); herr != nil {
			return nil, herr
		}
		token, err = provider.GetToken(ctx)
		if err != nil {
			return nil, err
		}
		if token == nil {
			return nil, errUtils.ErrInvalidConnection
		}
		return token, nil
	}
	if stored.Metadata.ConnectionState != types.StateValid {
		m.setState(ctx, id, types.StateValid, nil)
	}
	return token, nil
}

// getCredentials resolves access-key credentials for an IAM connection,
// consulting the bounded cache first.
func (m *manager) getCredentials(ctx context.Context, id string) (aws.Credentials, error) {
	v, err, _ := m.credGroup.Do(id, func() (any, error) {
		return m.getCredentialsLocked(ctx, id)
	})
	if err != nil {
		return aws.Credentials{}, err
	}
	return v.(aws.Credentials), nil
}

func (m *manager) getCredentialsLocked(ctx context.Context, id string) (aws.Credentials, error) {
	stored, err := m.profiles.GetProfileOrErr(id)
	if err != nil {
		return aws.Credentials{}, err
	}
	if stored.Profile.Kind != types.ProfileKindIam {
		return aws.Credentials{}, fmt.Errorf("%w: connection %q has no access-key credentials", errUtils.ErrUnsupportedOperation, id)
	}
	provider, err := m.credentialsProvider(*stored)
	if err != nil {
		return aws.Credentials{}, err
	}

	if creds, ok := m.credCache.Get(provider.CredentialsID(), provider.HashCode()); ok {
		return creds, nil
	}

	creds, err := provider.Retrieve(ctx)
	if err != nil {
		if errUtils.IsRecoverable(err) {
			return aws.Credentials{}, err
		}
		if errors.Is(err, errUtils.ErrInvalidConnection) && stored.Profile.Subtype == types.IamSubtypeLinked {
			// The source SSO connection lapsed; recovery can fix it.
			if _, herr := m.handleInvalidCredentials(ctx, id, err); herr != nil {
				return aws.Credentials{}, herr
			}
			creds, err = provider.Retrieve(ctx)
			if err != nil {
				return aws.Credentials{}, err
			}
		} else {
			m.setState(ctx, id, types.StateInvalid, err)
			return aws.Credentials{}, err
		}
	}

	m.credCache.Put(provider.CredentialsID(), provider.HashCode(), creds)
	if stored.Metadata.ConnectionState != types.StateValid {
		m.setState(ctx, id, types.StateValid, nil)
	}
	return creds, nil
}
