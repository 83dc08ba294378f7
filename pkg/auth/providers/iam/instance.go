package iam

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials/ec2rolecreds"
	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
	log "github.com/charmbracelet/log"

	errUtils "github.com/ashishrp-aws/aws-toolkit-vscode/errors"
	"github.com/ashishrp-aws/aws-toolkit-vscode/pkg/auth/types"
)

func envLookup(key string) string { return os.Getenv(key) }

const imdsProbeTimeout = 2 * time.Second

// InstanceProvider resolves credentials from the EC2 instance role via the
// instance metadata service.
type InstanceProvider struct {
	imdsClient *imds.Client
	provider   aws.CredentialsProvider
}

var _ types.CredentialsProvider = (*InstanceProvider)(nil)

// NewInstanceProvider creates an instance-role provider.
func NewInstanceProvider() *InstanceProvider {
	client := imds.New(imds.Options{})
	return &InstanceProvider{
		imdsClient: client,
		provider:   ec2rolecreds.New(func(o *ec2rolecreds.Options) { o.Client = client }),
	}
}

func (p *InstanceProvider) CredentialsID() string { return "instance:ec2" }
func (p *InstanceProvider) DefaultRegion() string { return "" }
func (p *InstanceProvider) HashCode() string      { return fingerprint("instance", "ec2") }

// CanAutoConnect probes the metadata service with a short deadline; a
// reachable IMDS means silent resolution is possible.
func (p *InstanceProvider) CanAutoConnect(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, imdsProbeTimeout)
	defer cancel()
	_, err := p.imdsClient.GetMetadata(probeCtx, &imds.GetMetadataInput{Path: "instance-id"})
	if err != nil {
		log.Debug("Instance metadata unreachable", "error", err)
		return false
	}
	return true
}

func (p *InstanceProvider) Retrieve(ctx context.Context) (aws.Credentials, error) {
	creds, err := p.provider.Retrieve(ctx)
	if err != nil {
		if errUtils.IsRecoverable(err) {
			return aws.Credentials{}, fmt.Errorf("%w: instance role: %v", errUtils.ErrNetwork, err)
		}
		return aws.Credentials{}, fmt.Errorf("failed to resolve instance role: %w", err)
	}
	return creds, nil
}

// ContainerProvider resolves credentials from the container credential
// endpoint the host configured through AWS_CONTAINER_CREDENTIALS_* variables.
type ContainerProvider struct {
	lookup func(string) string
}

var _ types.CredentialsProvider = (*ContainerProvider)(nil)

// NewContainerProvider creates a container-role provider. A nil lookup uses
// the process environment.
func NewContainerProvider(lookup func(string) string) *ContainerProvider {
	if lookup == nil {
		lookup = envLookup
	}
	return &ContainerProvider{lookup: lookup}
}

func (p *ContainerProvider) CredentialsID() string { return "instance:container" }
func (p *ContainerProvider) DefaultRegion() string { return p.lookup("AWS_REGION") }

func (p *ContainerProvider) HashCode() string {
	return fingerprint("container",
		p.lookup("AWS_CONTAINER_CREDENTIALS_RELATIVE_URI"),
		p.lookup("AWS_CONTAINER_CREDENTIALS_FULL_URI"))
}

func (p *ContainerProvider) CanAutoConnect(ctx context.Context) bool {
	return p.lookup("AWS_CONTAINER_CREDENTIALS_RELATIVE_URI") != "" ||
		p.lookup("AWS_CONTAINER_CREDENTIALS_FULL_URI") != ""
}

// Retrieve defers to the SDK default chain, which consumes the container
// endpoint variables directly.
func (p *ContainerProvider) Retrieve(ctx context.Context) (aws.Credentials, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return aws.Credentials{}, err
	}
	creds, err := cfg.Credentials.Retrieve(ctx)
	if err != nil {
		if errUtils.IsRecoverable(err) {
			return aws.Credentials{}, fmt.Errorf("%w: container role: %v", errUtils.ErrNetwork, err)
		}
		return aws.Credentials{}, fmt.Errorf("failed to resolve container role: %w", err)
	}
	return creds, nil
}
