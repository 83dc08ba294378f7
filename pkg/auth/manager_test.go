package auth

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	ssoclient "github.com/aws/aws-sdk-go-v2/service/sso"
	ssotypes "github.com/aws/aws-sdk-go-v2/service/sso/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errUtils "github.com/ashishrp-aws/aws-toolkit-vscode/errors"
	"github.com/ashishrp-aws/aws-toolkit-vscode/pkg/auth/credentials"
	"github.com/ashishrp-aws/aws-toolkit-vscode/pkg/auth/environment"
	"github.com/ashishrp-aws/aws-toolkit-vscode/pkg/auth/providers/iam"
	"github.com/ashishrp-aws/aws-toolkit-vscode/pkg/auth/store"
	"github.com/ashishrp-aws/aws-toolkit-vscode/pkg/auth/types"
	"github.com/ashishrp-aws/aws-toolkit-vscode/pkg/config"
)

const testStartURL = "https://example.awsapps.com/start"

// fakeTokenProvider is a stateful in-memory TokenProvider.
type fakeTokenProvider struct {
	mu          sync.Mutex
	token       *types.SsoToken
	getErr      error
	createErr   error
	createCalls int
	createDelay time.Duration
	logoutCalls int
}

func (f *fakeTokenProvider) GetToken(ctx context.Context) (*types.SsoToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.token, nil
}

func (f *fakeTokenProvider) CreateToken(ctx context.Context) (*types.SsoToken, error) {
	if f.createDelay > 0 {
		time.Sleep(f.createDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.token = &types.SsoToken{
		AccessToken: fmt.Sprintf("token-%d", f.createCalls),
		ExpiresAt:   time.Now().Add(8 * time.Hour),
	}
	return f.token, nil
}

func (f *fakeTokenProvider) Invalidate(ctx context.Context, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = nil
	return nil
}

func (f *fakeTokenProvider) ClientRegistration(ctx context.Context) (*types.ClientRegistration, error) {
	return &types.ClientRegistration{ClientID: "client", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (f *fakeTokenProvider) SessionDuration() time.Duration { return 8 * time.Hour }

func (f *fakeTokenProvider) Logout(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logoutCalls++
	f.token = nil
	return nil
}

func (f *fakeTokenProvider) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createCalls
}

// fakePrompter scripts the re-authentication confirmation.
type fakePrompter struct {
	mu      sync.Mutex
	confirm bool
	err     error
	block   bool
	asked   int
}

func (f *fakePrompter) ConfirmReauthenticate(ctx context.Context, label string) (bool, error) {
	f.mu.Lock()
	f.asked++
	confirm, err, block := f.confirm, f.err, f.block
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return false, fmt.Errorf("%w: %v", errUtils.ErrUserCancelled, ctx.Err())
	}
	return confirm, err
}

func (f *fakePrompter) prompts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.asked
}

// fakeRoleAPI serves scripted accounts and roles for traversal tests.
type fakeRoleAPI struct {
	// Accounts maps account id to role names.
	Accounts map[string][]string
}

func (f *fakeRoleAPI) GetRoleCredentials(ctx context.Context, params *ssoclient.GetRoleCredentialsInput, optFns ...func(*ssoclient.Options)) (*ssoclient.GetRoleCredentialsOutput, error) {
	return &ssoclient.GetRoleCredentialsOutput{RoleCredentials: &ssotypes.RoleCredentials{
		AccessKeyId:     aws.String("AKIA"),
		SecretAccessKey: aws.String("secret"),
		SessionToken:    aws.String("session"),
		Expiration:      time.Now().Add(time.Hour).UnixMilli(),
	}}, nil
}

func (f *fakeRoleAPI) ListAccounts(ctx context.Context, params *ssoclient.ListAccountsInput, optFns ...func(*ssoclient.Options)) (*ssoclient.ListAccountsOutput, error) {
	ids := make([]string, 0, len(f.Accounts))
	for id := range f.Accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := &ssoclient.ListAccountsOutput{}
	for _, id := range ids {
		out.AccountList = append(out.AccountList, ssotypes.AccountInfo{AccountId: aws.String(id)})
	}
	return out, nil
}

func (f *fakeRoleAPI) ListAccountRoles(ctx context.Context, params *ssoclient.ListAccountRolesInput, optFns ...func(*ssoclient.Options)) (*ssoclient.ListAccountRolesOutput, error) {
	out := &ssoclient.ListAccountRolesOutput{}
	for _, role := range f.Accounts[aws.ToString(params.AccountId)] {
		out.RoleList = append(out.RoleList, ssotypes.RoleInfo{
			AccountId: params.AccountId,
			RoleName:  aws.String(role),
		})
	}
	return out, nil
}

// fakeCredsProvider is a scripted silent credential source.
type fakeCredsProvider struct {
	id    string
	auto  bool
	creds aws.Credentials
	err   error
}

func (f *fakeCredsProvider) CredentialsID() string                   { return f.id }
func (f *fakeCredsProvider) DefaultRegion() string                   { return "" }
func (f *fakeCredsProvider) HashCode() string                        { return "fp-" + f.id }
func (f *fakeCredsProvider) CanAutoConnect(ctx context.Context) bool { return f.auto }
func (f *fakeCredsProvider) Retrieve(ctx context.Context) (aws.Credentials, error) {
	return f.creds, f.err
}

type fixture struct {
	mgr      types.ConnectionManager
	profiles *store.ProfileStore
	prompter *fakePrompter
	provider *fakeTokenProvider
	roleAPI  *fakeRoleAPI
	envCreds *fakeCredsProvider
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	profiles := store.NewProfileStore(store.NewInMemoryStorage(), "auth")
	prompter := &fakePrompter{confirm: true}
	provider := &fakeTokenProvider{}
	roleAPI := &fakeRoleAPI{}
	envCreds := &fakeCredsProvider{id: "env"}

	base := []Option{
		WithSilentProviders(envCreds, &fakeCredsProvider{id: "instance"}, &fakeCredsProvider{id: "container"}),
		WithPrompter(prompter),
		WithTokenProviderFactory(func(types.Profile) (types.TokenProvider, error) { return provider, nil }),
		WithRoleClientFactory(func(string) iam.RoleAPI { return roleAPI }),
		WithEnvironment(environment.NewWithLookup(func(string) string { return "" })),
		WithSharedConfigPath(filepath.Join(t.TempDir(), "config")),
		WithReauthWindow(200 * time.Millisecond),
	}
	mgr, err := New(profiles, credentials.NewMemoryTokenCache(), nil, append(base, opts...)...)
	require.NoError(t, err)

	return &fixture{
		mgr:      mgr,
		profiles: profiles,
		prompter: prompter,
		provider: provider,
		roleAPI:  roleAPI,
		envCreds: envCreds,
	}
}

func ssoProfile() types.Profile {
	return types.Profile{
		Kind:      types.ProfileKindSso,
		StartURL:  testStartURL,
		SsoRegion: "us-east-1",
		Scopes:    []string{types.ScopeAccountAccess},
	}
}

func TestCreateConnection_Authenticates(t *testing.T) {
	f := newFixture(t)

	conn, err := f.mgr.CreateConnection(context.Background(), ssoProfile())
	require.NoError(t, err)
	assert.Equal(t, types.StateValid, conn.State())
	assert.Equal(t, 1, f.provider.calls())

	stored, err := f.profiles.GetProfileOrErr(conn.ID())
	require.NoError(t, err)
	assert.Equal(t, types.StateValid, stored.Metadata.ConnectionState)

	// Creating does not switch the active connection.
	assert.Nil(t, f.mgr.ActiveConnection())
}

func TestCreateConnection_RollsBackOnFailure(t *testing.T) {
	f := newFixture(t)
	f.provider.createErr = fmt.Errorf("%w: declined in browser", errUtils.ErrUserCancelled)

	_, err := f.mgr.CreateConnection(context.Background(), ssoProfile())
	require.Error(t, err)

	entries, err := f.profiles.ListProfiles()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCreateConnection_RejectsIam(t *testing.T) {
	f := newFixture(t)

	_, err := f.mgr.CreateConnection(context.Background(), types.Profile{
		Kind:        types.ProfileKindIam,
		ProfileName: "dev",
	})
	assert.ErrorIs(t, err, errUtils.ErrUnsupportedOperation)
}

func TestUseConnection_SetsActiveAndPersists(t *testing.T) {
	f := newFixture(t)

	var events []types.Connection
	unsubscribe := f.mgr.OnActiveConnectionChanged(func(c types.Connection) { events = append(events, c) })
	defer unsubscribe()

	created, err := f.mgr.CreateConnection(context.Background(), ssoProfile())
	require.NoError(t, err)

	conn, err := f.mgr.UseConnection(context.Background(), created.ID())
	require.NoError(t, err)
	assert.Equal(t, created.ID(), f.mgr.ActiveConnection().ID())
	assert.Equal(t, conn.ID(), created.ID())

	current, err := f.profiles.CurrentProfileID()
	require.NoError(t, err)
	assert.Equal(t, created.ID(), current)

	require.Len(t, events, 1)
	assert.Equal(t, created.ID(), events[0].ID())
}

func TestUseConnection_TracksInternalOrgUser(t *testing.T) {
	settings, err := config.New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, settings.Set(config.KeyInternalStartURL, testStartURL))

	profiles := store.NewProfileStore(store.NewInMemoryStorage(), "auth")
	provider := &fakeTokenProvider{}
	mgr, err := New(profiles, credentials.NewMemoryTokenCache(), settings,
		WithPrompter(&fakePrompter{confirm: true}),
		WithTokenProviderFactory(func(types.Profile) (types.TokenProvider, error) { return provider, nil }),
		WithEnvironment(environment.NewWithLookup(func(string) string { return "" })),
		WithSilentProviders(&fakeCredsProvider{}, &fakeCredsProvider{}, &fakeCredsProvider{}),
	)
	require.NoError(t, err)

	created, err := mgr.CreateConnection(context.Background(), ssoProfile())
	require.NoError(t, err)
	assert.False(t, mgr.IsInternalUser())

	_, err = mgr.UseConnection(context.Background(), created.ID())
	require.NoError(t, err)
	assert.True(t, mgr.IsInternalUser())

	require.NoError(t, mgr.Logout(context.Background()))
	assert.False(t, mgr.IsInternalUser())
}

func TestUseConnection_UnknownId(t *testing.T) {
	f := newFixture(t)

	_, err := f.mgr.UseConnection(context.Background(), "ghost")
	assert.ErrorIs(t, err, errUtils.ErrProfileNotFound)
}

func TestLogout_NoopWhenLoggedOut(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.mgr.Logout(context.Background()))
	assert.Equal(t, 0, f.provider.logoutCalls)
}

func TestLogout_ClearsActiveConnection(t *testing.T) {
	f := newFixture(t)

	created, err := f.mgr.CreateConnection(context.Background(), ssoProfile())
	require.NoError(t, err)
	_, err = f.mgr.UseConnection(context.Background(), created.ID())
	require.NoError(t, err)

	var events []types.Connection
	f.mgr.OnActiveConnectionChanged(func(c types.Connection) { events = append(events, c) })

	require.NoError(t, f.mgr.Logout(context.Background()))

	assert.Nil(t, f.mgr.ActiveConnection())
	assert.Equal(t, 1, f.provider.logoutCalls)

	current, err := f.profiles.CurrentProfileID()
	require.NoError(t, err)
	assert.Empty(t, current)

	stored, err := f.profiles.GetProfileOrErr(created.ID())
	require.NoError(t, err)
	assert.Equal(t, types.StateUnauthenticated, stored.Metadata.ConnectionState)

	require.Len(t, events, 1)
	assert.Nil(t, events[0])
}

func TestDeleteConnection_Idempotent(t *testing.T) {
	f := newFixture(t)

	var deletions []types.Deletion
	f.mgr.OnConnectionDeleted(func(d types.Deletion) { deletions = append(deletions, d) })

	require.NoError(t, f.mgr.DeleteConnection(context.Background(), "ghost"))
	require.Len(t, deletions, 1)
	assert.Nil(t, deletions[0].Profile)
}

func TestDeleteConnection_ActiveTriggersLogout(t *testing.T) {
	f := newFixture(t)

	created, err := f.mgr.CreateConnection(context.Background(), ssoProfile())
	require.NoError(t, err)
	_, err = f.mgr.UseConnection(context.Background(), created.ID())
	require.NoError(t, err)

	require.NoError(t, f.mgr.DeleteConnection(context.Background(), created.ID()))

	assert.Nil(t, f.mgr.ActiveConnection())
	assert.Equal(t, 1, f.provider.logoutCalls)

	stored, err := f.profiles.GetProfile(created.ID())
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestDeleteConnection_SweepsLinkedRoles(t *testing.T) {
	f := newFixture(t)

	created, err := f.mgr.CreateConnection(context.Background(), ssoProfile())
	require.NoError(t, err)

	linked := types.Profile{
		Kind:            types.ProfileKindIam,
		Subtype:         types.IamSubtypeLinked,
		SsoConnectionID: created.ID(),
		SsoAccount:      "123456789012",
		SsoRole:         "Admin",
	}
	_, err = f.profiles.AddProfile("linked-1", linked)
	require.NoError(t, err)

	other := types.Profile{Kind: types.ProfileKindIam, ProfileName: "dev"}
	_, err = f.profiles.AddProfile("independent", other)
	require.NoError(t, err)

	var deletions []types.Deletion
	f.mgr.OnConnectionDeleted(func(d types.Deletion) { deletions = append(deletions, d) })

	require.NoError(t, f.mgr.DeleteConnection(context.Background(), created.ID()))

	gone, err := f.profiles.GetProfile("linked-1")
	require.NoError(t, err)
	assert.Nil(t, gone)

	kept, err := f.profiles.GetProfile("independent")
	require.NoError(t, err)
	assert.NotNil(t, kept)

	// Linked role first, then the source connection.
	require.Len(t, deletions, 2)
	assert.Equal(t, "linked-1", deletions[0].ID)
	assert.Equal(t, created.ID(), deletions[1].ID)
}

func TestConcurrentAuthenticate_Coalesces(t *testing.T) {
	f := newFixture(t)
	f.provider.createDelay = 50 * time.Millisecond

	created, err := f.mgr.CreateConnection(context.Background(), ssoProfile())
	require.NoError(t, err)
	require.Equal(t, 1, f.provider.calls())

	// Drop the token so both callers need a fresh interactive flow.
	require.NoError(t, f.provider.Invalidate(context.Background(), "test"))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.mgr.Reauthenticate(context.Background(), created.ID())
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, 2, f.provider.calls(), "both callers shared one device flow")
}

func TestGetToken_PromptAcceptRunsReauth(t *testing.T) {
	f := newFixture(t)
	f.prompter.confirm = true

	created, err := f.mgr.CreateConnection(context.Background(), ssoProfile())
	require.NoError(t, err)

	// Simulate expiry.
	require.NoError(t, f.provider.Invalidate(context.Background(), "test"))

	conn, err := f.mgr.GetConnection(context.Background(), created.ID())
	require.NoError(t, err)
	token, err := conn.(types.SsoConnection).GetToken(context.Background())
	require.NoError(t, err)
	require.NotNil(t, token)

	assert.Equal(t, 1, f.prompter.prompts())
	assert.Equal(t, 2, f.provider.calls())

	stored, err := f.profiles.GetProfileOrErr(created.ID())
	require.NoError(t, err)
	assert.Equal(t, types.StateValid, stored.Metadata.ConnectionState)
}

func TestGetToken_PromptDeclinedLeavesInvalid(t *testing.T) {
	f := newFixture(t)
	f.prompter.confirm = false

	created, err := f.mgr.CreateConnection(context.Background(), ssoProfile())
	require.NoError(t, err)
	require.NoError(t, f.provider.Invalidate(context.Background(), "test"))

	conn, err := f.mgr.GetConnection(context.Background(), created.ID())
	require.NoError(t, err)
	_, err = conn.(types.SsoConnection).GetToken(context.Background())
	assert.ErrorIs(t, err, errUtils.ErrUserCancelled)

	stored, err := f.profiles.GetProfileOrErr(created.ID())
	require.NoError(t, err)
	assert.Equal(t, types.StateInvalid, stored.Metadata.ConnectionState)
	assert.Equal(t, 1, f.provider.calls(), "no reauthentication after decline")
}

func TestGetToken_AlreadyInvalidFailsWithoutPrompt(t *testing.T) {
	f := newFixture(t)
	f.prompter.confirm = false

	created, err := f.mgr.CreateConnection(context.Background(), ssoProfile())
	require.NoError(t, err)
	require.NoError(t, f.provider.Invalidate(context.Background(), "test"))

	conn, err := f.mgr.GetConnection(context.Background(), created.ID())
	require.NoError(t, err)
	_, err = conn.(types.SsoConnection).GetToken(context.Background())
	require.ErrorIs(t, err, errUtils.ErrUserCancelled)
	require.Equal(t, 1, f.prompter.prompts())

	// The connection is now known-bad; further fetches fail fast.
	_, err = conn.(types.SsoConnection).GetToken(context.Background())
	assert.ErrorIs(t, err, errUtils.ErrInvalidConnection)
	assert.NotErrorIs(t, err, errUtils.ErrUserCancelled)
	assert.Equal(t, 1, f.prompter.prompts())
}

func TestGetToken_PromptTimeoutLeavesInvalid(t *testing.T) {
	f := newFixture(t)
	f.prompter.block = true

	created, err := f.mgr.CreateConnection(context.Background(), ssoProfile())
	require.NoError(t, err)
	require.NoError(t, f.provider.Invalidate(context.Background(), "test"))

	conn, err := f.mgr.GetConnection(context.Background(), created.ID())
	require.NoError(t, err)

	start := time.Now()
	_, err = conn.(types.SsoConnection).GetToken(context.Background())
	assert.ErrorIs(t, err, errUtils.ErrUserCancelled)
	assert.Less(t, time.Since(start), 5*time.Second)

	stored, err := f.profiles.GetProfileOrErr(created.ID())
	require.NoError(t, err)
	assert.Equal(t, types.StateInvalid, stored.Metadata.ConnectionState)
}

func TestRefreshConnectionState_LinkedRoleFollowsSource(t *testing.T) {
	f := newFixture(t)

	created, err := f.mgr.CreateConnection(context.Background(), ssoProfile())
	require.NoError(t, err)

	linked := types.Profile{
		Kind:            types.ProfileKindIam,
		Subtype:         types.IamSubtypeLinked,
		SsoConnectionID: created.ID(),
		SsoAccount:      "123456789012",
		SsoRole:         "Admin",
	}
	_, err = f.profiles.AddProfile("role", linked)
	require.NoError(t, err)

	// Warm the credential cache through a successful fetch.
	conn, err := f.mgr.GetConnection(context.Background(), "role")
	require.NoError(t, err)
	_, err = conn.(types.IamConnection).GetCredentials(context.Background())
	require.NoError(t, err)

	state, err := f.mgr.RefreshConnectionState(context.Background(), "role")
	require.NoError(t, err)
	require.Equal(t, types.StateValid, state)

	// The source token lapses; the cached role credentials must not mask it.
	require.NoError(t, f.provider.Invalidate(context.Background(), "test"))

	state, err = f.mgr.RefreshConnectionState(context.Background(), created.ID())
	require.NoError(t, err)
	require.Equal(t, types.StateInvalid, state)

	state, err = f.mgr.RefreshConnectionState(context.Background(), "role")
	require.NoError(t, err)
	assert.Equal(t, types.StateInvalid, state)

	stored, err := f.profiles.GetProfileOrErr("role")
	require.NoError(t, err)
	assert.Equal(t, types.StateInvalid, stored.Metadata.ConnectionState)
}

func TestGetToken_ConcurrentRecoveryCancelsPrompt(t *testing.T) {
	f := newFixture(t, WithReauthWindow(5*time.Second))
	f.prompter.block = true

	created, err := f.mgr.CreateConnection(context.Background(), ssoProfile())
	require.NoError(t, err)
	require.NoError(t, f.provider.Invalidate(context.Background(), "test"))

	conn, err := f.mgr.GetConnection(context.Background(), created.ID())
	require.NoError(t, err)

	type result struct {
		token *types.SsoToken
		err   error
	}
	done := make(chan result, 1)
	go func() {
		token, err := conn.(types.SsoConnection).GetToken(context.Background())
		done <- result{token, err}
	}()

	// Wait until the blocked prompt is up, then recover through another path.
	require.Eventually(t, func() bool { return f.prompter.prompts() == 1 },
		2*time.Second, 10*time.Millisecond)
	_, err = f.mgr.Reauthenticate(context.Background(), created.ID())
	require.NoError(t, err)

	res := <-done
	require.NoError(t, res.err, "prompting caller should observe the recovery, not a cancellation")
	require.NotNil(t, res.token)

	stored, err := f.profiles.GetProfileOrErr(created.ID())
	require.NoError(t, err)
	assert.Equal(t, types.StateValid, stored.Metadata.ConnectionState)
	assert.Equal(t, 1, f.prompter.prompts())
}

func TestRefreshConnectionState_NetworkErrorDoesNotDowngrade(t *testing.T) {
	f := newFixture(t)

	created, err := f.mgr.CreateConnection(context.Background(), ssoProfile())
	require.NoError(t, err)

	f.provider.mu.Lock()
	f.provider.getErr = fmt.Errorf("%w: connection reset", errUtils.ErrNetwork)
	f.provider.mu.Unlock()

	state, err := f.mgr.RefreshConnectionState(context.Background(), created.ID())
	assert.ErrorIs(t, err, errUtils.ErrNetwork)
	assert.Equal(t, types.StateValid, state, "reported state is the pre-flight one")

	stored, err := f.profiles.GetProfileOrErr(created.ID())
	require.NoError(t, err)
	assert.Equal(t, types.StateValid, stored.Metadata.ConnectionState)
}

func TestExpireConnection(t *testing.T) {
	f := newFixture(t)

	created, err := f.mgr.CreateConnection(context.Background(), ssoProfile())
	require.NoError(t, err)

	require.NoError(t, f.mgr.ExpireConnection(context.Background(), created.ID()))

	stored, err := f.profiles.GetProfileOrErr(created.ID())
	require.NoError(t, err)
	assert.Equal(t, types.StateInvalid, stored.Metadata.ConnectionState)
}

func TestUpdateConnection(t *testing.T) {
	f := newFixture(t)

	created, err := f.mgr.CreateConnection(context.Background(), ssoProfile())
	require.NoError(t, err)
	_, err = f.mgr.UseConnection(context.Background(), created.ID())
	require.NoError(t, err)

	var updated, activeChanges []types.Connection
	f.mgr.OnConnectionUpdated(func(c types.Connection) { updated = append(updated, c) })
	f.mgr.OnActiveConnectionChanged(func(c types.Connection) { activeChanges = append(activeChanges, c) })

	next := ssoProfile()
	next.StartURL = "https://renamed.awsapps.com/start"
	conn, err := f.mgr.UpdateConnection(context.Background(), created.ID(), next, true)
	require.NoError(t, err)

	assert.Equal(t, "https://renamed.awsapps.com/start", conn.(types.SsoConnection).StartURL())
	assert.Equal(t, types.StateUnauthenticated, conn.State())
	require.Len(t, updated, 1)

	// Updating the active connection also refreshes the active reference.
	require.Len(t, activeChanges, 1)
	assert.Equal(t, "https://renamed.awsapps.com/start", f.mgr.ActiveConnection().(types.SsoConnection).StartURL())
}

func TestStateChangeEvents_OrderedPerConnection(t *testing.T) {
	f := newFixture(t)

	var mu sync.Mutex
	var states []types.ConnectionState
	f.mgr.OnConnectionStateChanged(func(change types.StateChange) {
		mu.Lock()
		states = append(states, change.State)
		mu.Unlock()
	})

	_, err := f.mgr.CreateConnection(context.Background(), ssoProfile())
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, states, 2)
	assert.Equal(t, types.StateAuthenticating, states[0])
	assert.Equal(t, types.StateValid, states[1])
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	f := newFixture(t)

	calls := 0
	unsubscribe := f.mgr.OnConnectionStateChanged(func(types.StateChange) { calls++ })
	unsubscribe()

	_, err := f.mgr.CreateConnection(context.Background(), ssoProfile())
	require.NoError(t, err)
	assert.Zero(t, calls)
}

func TestListConnections_SkipsMalformedProfiles(t *testing.T) {
	f := newFixture(t)

	_, err := f.profiles.AddProfile("good", ssoProfile())
	require.NoError(t, err)
	_, err = f.profiles.AddProfile("bad", types.Profile{Kind: "quantum"})
	require.NoError(t, err)

	conns, err := f.mgr.ListConnections(context.Background())
	require.NoError(t, err)
	require.Len(t, conns, 1)
	assert.Equal(t, "good", conns[0].ID())
}

func TestListAndTraverseConnections_ExpandsLinkedRoles(t *testing.T) {
	f := newFixture(t)
	f.roleAPI.Accounts = map[string][]string{
		"111111111111": {"Admin", "ReadOnly"},
		"222222222222": {"Admin"},
	}

	created, err := f.mgr.CreateConnection(context.Background(), ssoProfile())
	require.NoError(t, err)

	var base, linked int
	for conn := range f.mgr.ListAndTraverseConnections(context.Background()) {
		if conn.ID() == created.ID() {
			base++
			continue
		}
		linked++
		assert.Equal(t, types.ProfileKindIam, conn.Kind())
	}
	assert.Equal(t, 1, base)
	assert.Equal(t, 3, linked)

	// Traversal is idempotent; a second pass reuses the stored linked roles.
	entries, err := f.profiles.ListProfiles()
	require.NoError(t, err)
	firstCount := len(entries)

	for range f.mgr.ListAndTraverseConnections(context.Background()) {
	}
	entries, err = f.profiles.ListProfiles()
	require.NoError(t, err)
	assert.Equal(t, firstCount, len(entries))
}

func TestDeclaredConnections(t *testing.T) {
	f := newFixture(t)

	decl := types.DeclaredConnection{StartURL: testStartURL, Region: "us-east-1", Source: "extension"}
	f.mgr.DeclareConnection(decl)
	f.mgr.DeclareConnection(decl) // duplicates collapse

	declared := f.mgr.ListDeclaredConnections()
	require.Len(t, declared, 1)
	assert.Equal(t, decl, declared[0])

	// A later declaration for the same start URL replaces the entry.
	decl.Region = "eu-west-1"
	f.mgr.DeclareConnection(decl)
	declared = f.mgr.ListDeclaredConnections()
	require.Len(t, declared, 1)
	assert.Equal(t, "eu-west-1", declared[0].Region)
}

func TestTryAutoConnect_RestoresCurrentConnection(t *testing.T) {
	f := newFixture(t)

	created, err := f.mgr.CreateConnection(context.Background(), ssoProfile())
	require.NoError(t, err)
	require.NoError(t, f.profiles.SetCurrentProfileID(created.ID()))

	conn, err := f.mgr.TryAutoConnect(context.Background())
	require.NoError(t, err)
	require.NotNil(t, conn)
	assert.Equal(t, created.ID(), conn.ID())
	assert.Equal(t, created.ID(), f.mgr.ActiveConnection().ID())
}

func TestTryAutoConnect_RunsOnce(t *testing.T) {
	f := newFixture(t)

	first, err := f.mgr.TryAutoConnect(context.Background())
	require.NoError(t, err)
	assert.Nil(t, first)

	// A connection appearing later does not change the memoized outcome.
	created, err := f.mgr.CreateConnection(context.Background(), ssoProfile())
	require.NoError(t, err)
	require.NoError(t, f.profiles.SetCurrentProfileID(created.ID()))

	again, err := f.mgr.TryAutoConnect(context.Background())
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestTryAutoConnect_ResetsStaleAuthenticating(t *testing.T) {
	f := newFixture(t)

	_, err := f.profiles.AddProfile("stale", ssoProfile())
	require.NoError(t, err)
	authenticating := types.StateAuthenticating
	_, err = f.profiles.UpdateMetadata("stale", store.MetadataPatch{ConnectionState: &authenticating})
	require.NoError(t, err)

	_, err = f.mgr.TryAutoConnect(context.Background())
	require.NoError(t, err)

	stored, err := f.profiles.GetProfileOrErr("stale")
	require.NoError(t, err)
	assert.Equal(t, types.StateInvalid, stored.Metadata.ConnectionState)
}

func TestTryAutoConnect_EnvironmentCredentials(t *testing.T) {
	vars := map[string]string{
		"AWS_ACCESS_KEY_ID":     "AKIAEXAMPLE",
		"AWS_SECRET_ACCESS_KEY": "secret",
		"AWS_REGION":            "eu-west-1",
	}
	f := newFixture(t, WithEnvironment(environment.NewWithLookup(func(key string) string { return vars[key] })))
	f.envCreds.auto = true
	f.envCreds.creds = aws.Credentials{AccessKeyID: "AKIAEXAMPLE", SecretAccessKey: "secret"}

	conn, err := f.mgr.TryAutoConnect(context.Background())
	require.NoError(t, err)
	require.NotNil(t, conn)

	stored, err := f.profiles.GetProfileOrErr(conn.ID())
	require.NoError(t, err)
	assert.Equal(t, "environment", stored.Metadata.Source)
	assert.Equal(t, types.StateValid, stored.Metadata.ConnectionState)
	assert.Equal(t, "eu-west-1", stored.Profile.Region)
	assert.Equal(t, conn.ID(), f.mgr.ActiveConnection().ID())
}

func TestAuthenticateData(t *testing.T) {
	tests := []struct {
		name    string
		stsErr  error
		wantErr error
	}{
		{name: "valid pair"},
		{
			name:    "bad access key",
			stsErr:  &smithyAPIError{code: "InvalidClientTokenId"},
			wantErr: errUtils.ErrInvalidAccessKey,
		},
		{
			name:    "bad secret",
			stsErr:  &smithyAPIError{code: "SignatureDoesNotMatch"},
			wantErr: errUtils.ErrInvalidSecretKey,
		},
		{
			name:    "network failure",
			stsErr:  fmt.Errorf("%w: connection reset", errUtils.ErrNetwork),
			wantErr: errUtils.ErrNetwork,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, WithStsClientFactory(func(aws.CredentialsProvider, string) StsAPI {
				return &fakeSts{err: tt.stsErr}
			}))

			err := f.mgr.AuthenticateData(context.Background(), "AKIA", "secret")
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestAuthenticateData_EmptyFields(t *testing.T) {
	f := newFixture(t)

	err := f.mgr.AuthenticateData(context.Background(), "", "secret")
	assert.ErrorIs(t, err, errUtils.ErrInvalidAccessKey)

	err = f.mgr.AuthenticateData(context.Background(), "AKIA", "")
	assert.ErrorIs(t, err, errUtils.ErrInvalidSecretKey)
}

type fakeSts struct {
	err error
}

func (f *fakeSts) GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &sts.GetCallerIdentityOutput{Account: aws.String("123456789012")}, nil
}

// smithyAPIError implements smithy.APIError for scripted STS rejections.
type smithyAPIError struct {
	code string
}

func (e *smithyAPIError) Error() string                 { return e.code }
func (e *smithyAPIError) ErrorCode() string             { return e.code }
func (e *smithyAPIError) ErrorMessage() string          { return e.code }
func (e *smithyAPIError) ErrorFault() smithy.ErrorFault { return smithy.FaultClient }
