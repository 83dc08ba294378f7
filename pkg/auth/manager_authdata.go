package auth

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	errUtils "github.com/ashishrp-aws/aws-toolkit-vscode/errors"
	"github.com/ashishrp-aws/aws-toolkit-vscode/pkg/perf"
)

// validationRegion is where ad-hoc key validation calls go. GetCallerIdentity
// works against any region.
const validationRegion = "us-east-1"

// StsAPI is the STS client surface used for credential validation.
type StsAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// StsClientFactory builds an STS client bound to the given credentials.
type StsClientFactory func(creds aws.CredentialsProvider, region string) StsAPI

func newStsClient(creds aws.CredentialsProvider, region string) StsAPI {
	return sts.NewFromConfig(aws.Config{Region: region, Credentials: creds})
}

// AuthenticateData validates an ad-hoc access-key/secret pair against STS
// without persisting anything. Recognized rejection codes report which field
// is wrong.
func (m *manager) AuthenticateData(ctx context.Context, accessKeyID, secretAccessKey string) error {
	defer perf.Track("auth.AuthenticateData")()

	if accessKeyID == "" {
		return fmt.Errorf("%w: access key id is empty", errUtils.ErrInvalidAccessKey)
	}
	if secretAccessKey == "" {
		return fmt.Errorf("%w: secret access key is empty", errUtils.ErrInvalidSecretKey)
	}

	client := m.newStsClient(awscreds.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, ""), validationRegion)
	_, err := client.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err == nil {
		return nil
	}

	switch errUtils.APIErrorCode(err) {
	case "InvalidClientTokenId":
		return fmt.Errorf("%w: rejected by STS", errUtils.ErrInvalidAccessKey)
	case "SignatureDoesNotMatch":
		return fmt.Errorf("%w: rejected by STS", errUtils.ErrInvalidSecretKey)
	}
	if errUtils.IsRecoverable(err) {
		return fmt.Errorf("%w: validating credentials: %v", errUtils.ErrNetwork, err)
	}
	return fmt.Errorf("credential validation failed: %w", err)
}
