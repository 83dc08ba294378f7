package auth

import (
	"context"
	"errors"

	log "github.com/charmbracelet/log"

	errUtils "github.com/ashishrp-aws/aws-toolkit-vscode/errors"
	"github.com/ashishrp-aws/aws-toolkit-vscode/pkg/auth/sharedconfig"
	"github.com/ashishrp-aws/aws-toolkit-vscode/pkg/auth/types"
	"github.com/ashishrp-aws/aws-toolkit-vscode/pkg/perf"
)

// TryAutoConnect restores or synthesizes a connection at startup. It runs at
// most once per process; later calls return the memoized outcome. A nil
// connection with nil error means nothing could silently connect.
func (m *manager) TryAutoConnect(ctx context.Context) (types.Connection, error) {
	m.autoOnce.Do(func() {
		m.autoConn, m.autoErr = m.tryAutoConnect(ctx)
	})
	return m.autoConn, m.autoErr
}

func (m *manager) tryAutoConnect(ctx context.Context) (types.Connection, error) {
	defer perf.Track("auth.TryAutoConnect")()

	m.resetStaleAuthenticating(ctx)

	if conn := m.autoConnectDevEnv(ctx); conn != nil {
		return conn, nil
	}
	if conn := m.restoreCurrentConnection(ctx); conn != nil {
		return conn, nil
	}
	if conn := m.autoConnectFallbacks(ctx); conn != nil {
		return conn, nil
	}

	log.Debug("Auto-connect found nothing to connect to")
	return nil, nil
}

// resetStaleAuthenticating downgrades connections a previous process left
// mid-authentication. The flow died with that process.
func (m *manager) resetStaleAuthenticating(ctx context.Context) {
	entries, err := m.profiles.ListProfiles()
	if err != nil {
		log.Warn("Cannot inspect profiles for stale state", "error", err)
		return
	}
	for _, entry := range entries {
		if entry.Profile.Metadata.ConnectionState != types.StateAuthenticating {
			continue
		}
		log.Debug("Resetting stale authenticating connection", "id", entry.ID)
		m.setState(ctx, entry.ID, types.StateInvalid,
			errors.Join(errUtils.ErrInvalidConnection, errors.New("authentication interrupted")))
	}
}

// autoConnectDevEnv synthesizes an SSO connection from the sso-session an
// ephemeral development environment vends into the shared config file.
func (m *manager) autoConnectDevEnv(ctx context.Context) types.Connection {
	if !m.env.InEphemeralDevEnv() {
		return nil
	}

	session, err := sharedconfig.GetSsoSession(m.sharedConfigPath, m.env.DevEnvSsoSessionName())
	if err != nil {
		log.Warn("Dev environment sso-session unavailable", "error", err)
		return nil
	}
	profile := types.Profile{
		Kind:      types.ProfileKindSso,
		StartURL:  session.StartURL,
		SsoRegion: session.Region,
		Scopes:    session.Scopes,
	}
	id, stored, err := m.findOrCreateProfile(profile, sourceDevEnv)
	if err != nil {
		log.Warn("Failed to store dev environment connection", "error", err)
		return nil
	}

	state, _, verr := m.validate(ctx, id, *stored)
	if verr != nil || state != types.StateValid {
		log.Debug("Dev environment token is not usable", "id", id, "state", string(state), "error", verr)
		return nil
	}
	m.setState(ctx, id, types.StateValid, nil)
	conn, err := m.UseConnection(ctx, id)
	if err != nil {
		log.Warn("Failed to activate dev environment connection", "error", err)
		return nil
	}
	log.Info("Auto-connected to dev environment session", "id", id)
	return conn
}

// restoreCurrentConnection reactivates the persisted current profile.
func (m *manager) restoreCurrentConnection(ctx context.Context) types.Connection {
	id, err := m.profiles.CurrentProfileID()
	if err != nil || id == "" {
		return nil
	}
	stored, err := m.profiles.GetProfile(id)
	if err != nil || stored == nil {
		// Dangling pointer; clear it so later starts skip the lookup.
		if err := m.profiles.SetCurrentProfileID(""); err != nil {
			log.Debug("Failed to clear dangling current profile", "error", err)
		}
		return nil
	}

	conn, err := m.UseConnection(ctx, id)
	if err != nil {
		log.Warn("Failed to restore connection", "id", id, "error", err)
		return nil
	}
	log.Debug("Restored previous connection", "id", id, "label", conn.Label())
	return conn
}

// autoConnectFallbacks tries the silent credential sources in priority order:
// environment variables, instance role, container role, the legacy profile
// setting, then the hosted-notebook default chain.
func (m *manager) autoConnectFallbacks(ctx context.Context) types.Connection {
	if m.env.HasEnvCredentials() && m.envProvider.CanAutoConnect(ctx) {
		return m.activateSynthesized(ctx, types.Profile{
			Kind:    types.ProfileKindIam,
			Subtype: types.IamSubtypeUnknown,
			Region:  m.env.Region(),
		}, sourceEnvironment)
	}

	if m.instanceProvider.CanAutoConnect(ctx) {
		return m.activateSynthesized(ctx, types.Profile{
			Kind:    types.ProfileKindIam,
			Subtype: types.IamSubtypeUnknown,
			Region:  m.env.Region(),
		}, sourceInstance)
	}

	if m.env.HasContainerCredentials() {
		return m.activateSynthesized(ctx, types.Profile{
			Kind:    types.ProfileKindIam,
			Subtype: types.IamSubtypeUnknown,
			Region:  m.env.Region(),
		}, sourceContainer)
	}

	if m.settings != nil {
		if name := m.settings.LegacyProfile(); name != "" {
			// Consumed exactly once; clear before attempting so a bad profile
			// does not wedge every startup.
			if err := m.settings.ClearLegacyProfile(); err != nil {
				log.Warn("Failed to clear legacy profile setting", "error", err)
			}
			conn := m.activateSynthesized(ctx, types.Profile{
				Kind:        types.ProfileKindIam,
				Subtype:     types.IamSubtypeUnknown,
				ProfileName: name,
				Region:      m.env.Region(),
			}, sourceLegacyProfile)
			if conn != nil {
				return conn
			}
		}
	}

	if m.env.InHostedNotebook() {
		return m.activateSynthesized(ctx, types.Profile{
			Kind:    types.ProfileKindIam,
			Subtype: types.IamSubtypeUnknown,
			Region:  m.env.Region(),
		}, sourceNotebook)
	}
	return nil
}

// activateSynthesized stores (or finds) an environment-synthesized profile,
// verifies its credentials resolve, and makes it active.
func (m *manager) activateSynthesized(ctx context.Context, profile types.Profile, source string) types.Connection {
	id, stored, err := m.findOrCreateProfile(profile, source)
	if err != nil {
		log.Warn("Failed to store synthesized connection", "source", source, "error", err)
		return nil
	}

	state, _, verr := m.validate(ctx, id, *stored)
	if verr != nil || state != types.StateValid {
		log.Debug("Synthesized connection is not usable", "source", source, "state", string(state), "error", verr)
		return nil
	}
	m.setState(ctx, id, types.StateValid, nil)
	conn, err := m.UseConnection(ctx, id)
	if err != nil {
		log.Warn("Failed to activate synthesized connection", "source", source, "error", err)
		return nil
	}
	log.Info("Auto-connected", "source", source, "id", id)
	return conn
}
