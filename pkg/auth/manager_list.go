package auth

import (
	"context"
	"iter"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	ssoclient "github.com/aws/aws-sdk-go-v2/service/sso"
	log "github.com/charmbracelet/log"

	"github.com/ashishrp-aws/aws-toolkit-vscode/pkg/auth/sharedconfig"
	"github.com/ashishrp-aws/aws-toolkit-vscode/pkg/auth/store"
	"github.com/ashishrp-aws/aws-toolkit-vscode/pkg/auth/types"
	"github.com/ashishrp-aws/aws-toolkit-vscode/pkg/perf"
)

// Metadata sources discriminate where a stored profile came from. The
// credentials provider for environment-synthesized profiles is picked by
// source.
const (
	sourceSharedConfig  = "shared-config"
	sourceEnvironment   = "environment"
	sourceInstance      = "instance"
	sourceContainer     = "container"
	sourceNotebook      = "hosted-notebook"
	sourceDevEnv        = "dev-environment"
	sourceTraversal     = "sso-traversal"
	sourceLegacyProfile = "legacy-setting"
)

// ListConnections reloads environment-sourced IAM profiles into the store and
// projects every stored profile. Individual malformed profiles are skipped,
// never raised.
func (m *manager) ListConnections(ctx context.Context) ([]types.Connection, error) {
	defer perf.Track("auth.ListConnections")()

	if err := m.reloadSharedConfigProfiles(ctx); err != nil {
		log.Warn("Shared config reload failed", "error", err)
	}

	entries, err := m.profiles.ListProfiles()
	if err != nil {
		return nil, err
	}
	conns := make([]types.Connection, 0, len(entries))
	for _, entry := range entries {
		if err := entry.Profile.Profile.Validate(); err != nil {
			log.Warn("Skipping malformed profile", "id", entry.ID, "error", err)
			continue
		}
		conns = append(conns, m.project(entry.ID, entry.Profile))
	}
	return conns, nil
}

// reloadSharedConfigProfiles reconciles stored profiles sourced from the AWS
// shared config file against its current contents: new named profiles are
// added, vanished ones are dropped.
func (m *manager) reloadSharedConfigProfiles(ctx context.Context) error {
	names, err := sharedconfig.ListProfileNames(m.sharedConfigPath)
	if err != nil {
		return err
	}

	entries, err := m.profiles.ListProfiles()
	if err != nil {
		return err
	}

	stored := map[string]string{} // profile name -> connection id
	for _, entry := range entries {
		if entry.Profile.Metadata.Source == sourceSharedConfig {
			stored[entry.Profile.Profile.ProfileName] = entry.ID
		}
	}

	for _, name := range names {
		if _, ok := stored[name]; ok {
			delete(stored, name)
			continue
		}
		profile := types.Profile{
			Kind:        types.ProfileKindIam,
			Subtype:     types.IamSubtypeUnknown,
			ProfileName: name,
		}
		if _, _, err := m.findOrCreateProfile(profile, sourceSharedConfig); err != nil {
			log.Warn("Failed to register shared config profile", "profile", name, "error", err)
		}
	}

	// Whatever is left in the map no longer exists in the file.
	for name, id := range stored {
		if active, _ := m.active.get(); active != nil && active.ID() == id {
			continue
		}
		if err := m.ForgetConnection(ctx, id); err != nil {
			log.Warn("Failed to drop vanished shared config profile", "profile", name, "error", err)
		}
	}
	return nil
}

// findOrCreateProfile stores a synthesized profile unless an equivalent one
// from the same source already exists.
func (m *manager) findOrCreateProfile(profile types.Profile, source string) (string, *types.StoredProfile, error) {
	entries, err := m.profiles.ListProfiles()
	if err != nil {
		return "", nil, err
	}
	key := profileMatchKey(profile, source)
	for _, entry := range entries {
		if entry.Profile.Metadata.Source != source {
			continue
		}
		if profileMatchKey(entry.Profile.Profile, source) == key {
			stored := entry.Profile
			return entry.ID, &stored, nil
		}
	}

	id := m.newID()
	if _, err := m.profiles.AddProfile(id, profile); err != nil {
		return "", nil, err
	}
	src := source
	stored, err := m.profiles.UpdateMetadata(id, store.MetadataPatch{Source: &src})
	if err != nil {
		return "", nil, err
	}
	return id, stored, nil
}

// profileMatchKey derives the identity fields that make two synthesized
// profiles "the same connection".
func profileMatchKey(profile types.Profile, source string) string {
	switch {
	case profile.Kind == types.ProfileKindSso:
		return strings.Join([]string{"sso", profile.StartURL, profile.SsoRegion}, "|")
	case profile.Subtype == types.IamSubtypeLinked:
		return strings.Join([]string{"linked", profile.SsoConnectionID, profile.SsoAccount, profile.SsoRole}, "|")
	case profile.ProfileName != "":
		return "profile|" + profile.ProfileName
	default:
		return "source|" + source
	}
}

// ListAndTraverseConnections yields the base listing, then expands each valid
// account-scoped SSO connection into its linked IAM role connections.
// Per-connection failures are logged and swallowed; the sequence keeps going.
func (m *manager) ListAndTraverseConnections(ctx context.Context) iter.Seq[types.Connection] {
	return func(yield func(types.Connection) bool) {
		defer perf.Track("auth.ListAndTraverseConnections")()

		conns, err := m.ListConnections(ctx)
		if err != nil {
			log.Warn("Listing connections failed", "error", err)
			return
		}
		for _, conn := range conns {
			if !yield(conn) {
				return
			}
		}
		for _, conn := range conns {
			ssoConn, ok := conn.(*ssoConnection)
			if !ok || ssoConn.State() != types.StateValid {
				continue
			}
			if !ssoConn.stored.Profile.HasScope(types.ScopeAccountAccess) {
				continue
			}
			if !m.traverseLinkedRoles(ctx, ssoConn, yield) {
				return
			}
		}
	}
}

// traverseLinkedRoles enumerates the accounts and roles reachable through an
// SSO connection, storing a linked profile for each and yielding its
// projection. Returns false when the consumer stopped the sequence.
func (m *manager) traverseLinkedRoles(ctx context.Context, conn *ssoConnection, yield func(types.Connection) bool) bool {
	provider, err := m.tokenProvider(conn.stored.Profile)
	if err != nil {
		log.Debug("Cannot build token provider for traversal", "id", conn.ID(), "error", err)
		return true
	}
	token, err := provider.GetToken(ctx)
	if err != nil || token == nil {
		log.Debug("No token available for traversal", "id", conn.ID(), "error", err)
		return true
	}

	client := m.newRoleClient(conn.Region())
	var next *string
	for {
		accounts, err := client.ListAccounts(ctx, &ssoclient.ListAccountsInput{
			AccessToken: aws.String(token.AccessToken),
			NextToken:   next,
		})
		if err != nil {
			log.Debug("Account enumeration failed", "id", conn.ID(), "error", err)
			return true
		}
		for _, account := range accounts.AccountList {
			if !m.traverseAccountRoles(ctx, client, conn, token.AccessToken, aws.ToString(account.AccountId), yield) {
				return false
			}
		}
		if accounts.NextToken == nil {
			return true
		}
		next = accounts.NextToken
	}
}

func (m *manager) traverseAccountRoles(ctx context.Context, client interface {
	ListAccountRoles(ctx context.Context, params *ssoclient.ListAccountRolesInput, optFns ...func(*ssoclient.Options)) (*ssoclient.ListAccountRolesOutput, error)
}, conn *ssoConnection, accessToken, accountID string, yield func(types.Connection) bool) bool {
	var next *string
	for {
		roles, err := client.ListAccountRoles(ctx, &ssoclient.ListAccountRolesInput{
			AccessToken: aws.String(accessToken),
			AccountId:   aws.String(accountID),
			NextToken:   next,
		})
		if err != nil {
			log.Debug("Role enumeration failed", "id", conn.ID(), "account", accountID, "error", err)
			return true
		}
		for _, role := range roles.RoleList {
			profile := types.Profile{
				Kind:            types.ProfileKindIam,
				Subtype:         types.IamSubtypeLinked,
				Region:          conn.Region(),
				SsoConnectionID: conn.ID(),
				SsoAccount:      aws.ToString(role.AccountId),
				SsoRole:         aws.ToString(role.RoleName),
			}
			id, stored, err := m.findOrCreateProfile(profile, sourceTraversal)
			if err != nil {
				log.Warn("Failed to store linked role connection", "account", accountID, "error", err)
				continue
			}
			if !yield(m.project(id, *stored)) {
				return false
			}
		}
		if roles.NextToken == nil {
			return true
		}
		next = roles.NextToken
	}
}
