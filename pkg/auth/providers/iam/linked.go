package iam

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	ssoclient "github.com/aws/aws-sdk-go-v2/service/sso"
	log "github.com/charmbracelet/log"

	errUtils "github.com/ashishrp-aws/aws-toolkit-vscode/errors"
	"github.com/ashishrp-aws/aws-toolkit-vscode/pkg/auth/types"
)

// RoleAPI is the sso service surface used for linked-role resolution and
// account/role discovery.
type RoleAPI interface {
	GetRoleCredentials(ctx context.Context, params *ssoclient.GetRoleCredentialsInput, optFns ...func(*ssoclient.Options)) (*ssoclient.GetRoleCredentialsOutput, error)
	ListAccounts(ctx context.Context, params *ssoclient.ListAccountsInput, optFns ...func(*ssoclient.Options)) (*ssoclient.ListAccountsOutput, error)
	ListAccountRoles(ctx context.Context, params *ssoclient.ListAccountRolesInput, optFns ...func(*ssoclient.Options)) (*ssoclient.ListAccountRolesOutput, error)
}

// NewRoleClient returns the real sso client for a region.
func NewRoleClient(region string) RoleAPI {
	return ssoclient.NewFromConfig(aws.Config{Region: region})
}

// LinkedRoleProvider composes an SSO token provider with a secondary service
// call that exchanges the bearer token for temporary role credentials. A
// lapsed source SSO connection surfaces as invalidation of this provider.
type LinkedRoleProvider struct {
	source  types.TokenProvider
	client  RoleAPI
	account string
	role    string
	region  string
}

var _ types.CredentialsProvider = (*LinkedRoleProvider)(nil)

// NewLinkedRoleProvider creates a linked-role provider on top of the source
// connection's token provider.
func NewLinkedRoleProvider(source types.TokenProvider, client RoleAPI, account, role, region string) (*LinkedRoleProvider, error) {
	if account == "" || role == "" {
		return nil, fmt.Errorf("%w: linked roles require account and role", errUtils.ErrUnsupportedOperation)
	}
	return &LinkedRoleProvider{
		source:  source,
		client:  client,
		account: account,
		role:    role,
		region:  region,
	}, nil
}

func (p *LinkedRoleProvider) CredentialsID() string {
	return fmt.Sprintf("sso:%s:%s", p.account, p.role)
}

func (p *LinkedRoleProvider) DefaultRegion() string { return p.region }

func (p *LinkedRoleProvider) HashCode() string {
	return fingerprint("linked", p.account, p.role, p.region)
}

// CanAutoConnect is true only while the source token is silently available.
func (p *LinkedRoleProvider) CanAutoConnect(ctx context.Context) bool {
	token, err := p.source.GetToken(ctx)
	return err == nil && token != nil
}

func (p *LinkedRoleProvider) Retrieve(ctx context.Context) (aws.Credentials, error) {
	token, err := p.source.GetToken(ctx)
	if err != nil {
		return aws.Credentials{}, err
	}
	if token == nil {
		// Source connection lapsed; the derived connection is invalid too.
		return aws.Credentials{}, fmt.Errorf("%w: source SSO connection has no token", errUtils.ErrInvalidConnection)
	}

	resp, err := p.client.GetRoleCredentials(ctx, &ssoclient.GetRoleCredentialsInput{
		AccessToken: aws.String(token.AccessToken),
		AccountId:   aws.String(p.account),
		RoleName:    aws.String(p.role),
	})
	if err != nil {
		if errUtils.IsRecoverable(err) {
			return aws.Credentials{}, fmt.Errorf("%w: role credentials: %v", errUtils.ErrNetwork, err)
		}
		return aws.Credentials{}, fmt.Errorf("failed to get role credentials for %s/%s: %w", p.account, p.role, err)
	}

	rc := resp.RoleCredentials
	creds := aws.Credentials{
		AccessKeyID:     aws.ToString(rc.AccessKeyId),
		SecretAccessKey: aws.ToString(rc.SecretAccessKey),
		SessionToken:    aws.ToString(rc.SessionToken),
		Source:          "sso-linked-role",
	}
	if rc.Expiration != 0 {
		creds.CanExpire = true
		creds.Expires = time.UnixMilli(rc.Expiration)
	}
	log.Debug("Resolved linked role credentials", "account", p.account, "role", p.role, "expires", creds.Expires)
	return creds, nil
}
