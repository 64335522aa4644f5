package registry

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/jvreagan/multi-region/pkg/logging"
)

// ECRRegistry is a region-local AWS Elastic Container Registry.
type ECRRegistry struct {
	config         aws.Config
	region         string
	repositoryName string
	accountID      string
	imageTag       string
	registryURL    string
	imageURI       string
}

// NewECRRegistry creates an ECR handler for one region. The shared AWS
// config carries credentials; the region is overridden per client call.
func NewECRRegistry(config aws.Config, region, repositoryName, imageTag string) (*ECRRegistry, error) {
	if region == "" {
		return nil, fmt.Errorf("ecr registry requires a region")
	}
	return &ECRRegistry{
		config:         config,
		region:         region,
		repositoryName: repositoryName,
		imageTag:       imageTag,
	}, nil
}

// Region returns the AWS region this registry lives in.
func (e *ECRRegistry) Region() string {
	return e.region
}

// RegistryURL returns the regional ECR registry host.
func (e *ECRRegistry) RegistryURL() string {
	return e.registryURL
}

// ImageURI returns the full regional image reference.
func (e *ECRRegistry) ImageURI() string {
	return e.imageURI
}

// Authenticate resolves the account, ensures the repository exists in
// this region, and logs Docker into the regional registry.
func (e *ECRRegistry) Authenticate(ctx context.Context) error {
	stsClient := sts.NewFromConfig(e.config)
	identity, err := stsClient.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return fmt.Errorf("failed to get AWS account ID: %w", err)
	}
	e.accountID = *identity.Account

	e.registryURL = fmt.Sprintf("%s.dkr.ecr.%s.amazonaws.com", e.accountID, e.region)

	ecrClient := ecr.NewFromConfig(e.config, func(o *ecr.Options) {
		o.Region = e.region
	})

	logging.Debug("ensuring ECR repository exists", "repository", e.repositoryName, "region", e.region)
	_, err = ecrClient.CreateRepository(ctx, &ecr.CreateRepositoryInput{
		RepositoryName: aws.String(e.repositoryName),
	})
	if err != nil {
		if !strings.Contains(err.Error(), "RepositoryAlreadyExistsException") {
			return fmt.Errorf("failed to create ECR repository: %w", err)
		}
	}

	authOutput, err := ecrClient.GetAuthorizationToken(ctx, &ecr.GetAuthorizationTokenInput{})
	if err != nil {
		return fmt.Errorf("failed to get ECR authorization token: %w", err)
	}
	if len(authOutput.AuthorizationData) == 0 {
		return fmt.Errorf("no authorization data returned from ECR")
	}

	authToken := *authOutput.AuthorizationData[0].AuthorizationToken
	decodedToken, err := base64.StdEncoding.DecodeString(authToken)
	if err != nil {
		return fmt.Errorf("failed to decode ECR authorization token: %w", err)
	}

	// Token format is "AWS:password"
	parts := strings.SplitN(string(decodedToken), ":", 2)
	if len(parts) != 2 {
		return fmt.Errorf("invalid ECR authorization token format")
	}

	_, err = execCommand(ctx, "docker", "login", "-u", parts[0], "-p", parts[1], e.registryURL)
	if err != nil {
		return fmt.Errorf("failed to login to ECR: %w", err)
	}

	logging.Info("authenticated with regional ECR", "registry", e.registryURL)
	return nil
}

// TagImage tags the source image for this region's ECR.
func (e *ECRRegistry) TagImage(ctx context.Context, sourceImage string) (string, error) {
	e.imageURI = fmt.Sprintf("%s/%s:%s", e.registryURL, e.repositoryName, e.imageTag)

	if err := dockerTag(ctx, sourceImage, e.imageURI); err != nil {
		return "", fmt.Errorf("failed to tag image for ECR: %w", err)
	}
	return e.imageURI, nil
}

// PushImage pushes the tagged image to this region's ECR.
func (e *ECRRegistry) PushImage(ctx context.Context, taggedImage string) error {
	if err := dockerPush(ctx, taggedImage); err != nil {
		return fmt.Errorf("failed to push image to ECR: %w", err)
	}
	return nil
}
