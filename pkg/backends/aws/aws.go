// Package aws implements the AWS region deployment backend on Elastic
// Beanstalk. One backend instance serves every target region; clients
// are created per region so parallel deployments never share mutable
// state.
package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/elasticbeanstalk"
	ebtypes "github.com/aws/aws-sdk-go-v2/service/elasticbeanstalk/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/jvreagan/multi-region/pkg/logging"
	"github.com/jvreagan/multi-region/pkg/manifest"
	"github.com/jvreagan/multi-region/pkg/registry"
	"github.com/jvreagan/multi-region/pkg/types"
	"github.com/jvreagan/multi-region/pkg/vault"
)

// Backend deploys the workload to AWS Elastic Beanstalk regions.
type Backend struct {
	config aws.Config

	secretsOnce sync.Once
	secrets     map[string]string
	secretsErr  error
}

// New creates an AWS backend. If credentials are provided in the
// manifest they are used; otherwise the SDK default credential chain
// (environment variables, shared credentials file, or IAM role)
// applies. The config carries no fixed region; every client call
// overrides the region explicitly.
func New(ctx context.Context, creds *manifest.CredentialsConfig) (*Backend, error) {
	var cfg aws.Config
	var err error

	if creds != nil && creds.AccessKeyID != "" && creds.SecretAccessKey != "" {
		logging.Debug("using AWS credentials from manifest")
		cfg, err = config.LoadDefaultConfig(ctx,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				creds.AccessKeyID,
				creds.SecretAccessKey,
				"", // session token (optional)
			)),
		)
	} else {
		logging.Debug("using AWS default credential chain")
		cfg, err = config.LoadDefaultConfig(ctx)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &Backend{config: cfg}, nil
}

// Name returns the backend name.
func (b *Backend) Name() string {
	return "aws"
}

func (b *Backend) ebClient(regionID string) *elasticbeanstalk.Client {
	return elasticbeanstalk.NewFromConfig(b.config, func(o *elasticbeanstalk.Options) {
		o.Region = regionID
	})
}

func (b *Backend) s3Client(regionID string) *s3.Client {
	return s3.NewFromConfig(b.config, func(o *s3.Options) {
		o.Region = regionID
	})
}

// environmentName derives the per-region Elastic Beanstalk environment
// name for the workload.
func environmentName(m *manifest.Manifest, regionID string) string {
	return fmt.Sprintf("%s-%s", m.Workload.Name, regionID)
}

// Deploy stands up the workload in one AWS region and returns the
// environment URL.
func (b *Backend) Deploy(ctx context.Context, regionID string, m *manifest.Manifest) (string, error) {
	eb := b.ebClient(regionID)
	envName := environmentName(m, regionID)

	logging.Info("starting Elastic Beanstalk deployment", "region", regionID, "environment", envName)

	stack, err := b.resolveSolutionStack(ctx, eb, m)
	if err != nil {
		return "", fmt.Errorf("failed to determine solution stack: %w", err)
	}

	envVars, err := b.environmentVariables(ctx, m)
	if err != nil {
		return "", err
	}

	if err := b.ensureApplication(ctx, eb, m); err != nil {
		return "", fmt.Errorf("failed to ensure application: %w", err)
	}

	ecrRegistry, err := registry.NewECRRegistry(b.config, regionID, m.Workload.Name, "latest")
	if err != nil {
		return "", fmt.Errorf("failed to create ECR registry: %w", err)
	}

	replicator := registry.NewReplicator(m.Workload.Image)
	replicator.AddRegistry(ecrRegistry)
	imageURIs, err := replicator.Replicate(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to replicate image to %s: %w", regionID, err)
	}
	imageURI := imageURIs[regionID]

	bucketName := fmt.Sprintf("elasticbeanstalk-%s-%s", regionID, m.Workload.Name)
	if err := b.ensureBucket(ctx, regionID, bucketName); err != nil {
		return "", fmt.Errorf("failed to ensure S3 bucket: %w", err)
	}

	versionLabel := fmt.Sprintf("v-%d", time.Now().Unix())
	s3Key := fmt.Sprintf("%s/%s.json", m.Workload.Name, versionLabel)

	if err := b.uploadDockerrun(ctx, regionID, imageURI, bucketName, s3Key); err != nil {
		return "", fmt.Errorf("failed to upload Dockerrun.aws.json: %w", err)
	}

	if err := b.createApplicationVersion(ctx, eb, m, versionLabel, bucketName, s3Key); err != nil {
		return "", fmt.Errorf("failed to create application version: %w", err)
	}

	envExists, err := b.environmentExists(ctx, eb, m.Workload.Name, envName)
	if err != nil {
		return "", fmt.Errorf("failed to check environment: %w", err)
	}

	settings := buildOptionSettings(m, envVars)
	if envExists {
		logging.Info("updating existing environment", "environment", envName, "region", regionID)
		_, err = eb.UpdateEnvironment(ctx, &elasticbeanstalk.UpdateEnvironmentInput{
			EnvironmentName: aws.String(envName),
			VersionLabel:    aws.String(versionLabel),
			OptionSettings:  settings,
		})
	} else {
		logging.Info("creating environment", "environment", envName, "region", regionID)
		_, err = eb.CreateEnvironment(ctx, &elasticbeanstalk.CreateEnvironmentInput{
			ApplicationName:   aws.String(m.Workload.Name),
			EnvironmentName:   aws.String(envName),
			VersionLabel:      aws.String(versionLabel),
			SolutionStackName: aws.String(stack),
			OptionSettings:    settings,
		})
	}
	if err != nil {
		return "", fmt.Errorf("failed to roll out environment: %w", err)
	}

	url, err := b.waitForEnvironment(ctx, eb, m.Workload.Name, envName)
	if err != nil {
		return "", fmt.Errorf("environment deployment failed: %w", err)
	}

	logging.Info("deployment complete", "region", regionID, "url", url)
	return url, nil
}

// Teardown terminates the workload's environment in one region.
func (b *Backend) Teardown(ctx context.Context, regionID string, m *manifest.Manifest) error {
	eb := b.ebClient(regionID)
	envName := environmentName(m, regionID)

	logging.Info("terminating environment", "environment", envName, "region", regionID)
	_, err := eb.TerminateEnvironment(ctx, &elasticbeanstalk.TerminateEnvironmentInput{
		EnvironmentName: aws.String(envName),
	})
	if err != nil {
		return fmt.Errorf("failed to terminate environment: %w", err)
	}

	if err := b.waitForEnvironmentTermination(ctx, eb, m.Workload.Name, envName); err != nil {
		return fmt.Errorf("failed to wait for termination: %w", err)
	}

	logging.Info("environment terminated", "environment", envName, "region", regionID)
	return nil
}

// Status reports the workload's state in one region.
func (b *Backend) Status(ctx context.Context, regionID string, m *manifest.Manifest) (*types.RegionDeploymentStatus, error) {
	eb := b.ebClient(regionID)
	envName := environmentName(m, regionID)

	result, err := eb.DescribeEnvironments(ctx, &elasticbeanstalk.DescribeEnvironmentsInput{
		ApplicationName:  aws.String(m.Workload.Name),
		EnvironmentNames: []string{envName},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe environment: %w", err)
	}

	if len(result.Environments) == 0 {
		return nil, fmt.Errorf("environment not found in %s: %s", regionID, envName)
	}

	env := result.Environments[0]
	url := ""
	if env.CNAME != nil {
		url = fmt.Sprintf("http://%s", *env.CNAME)
	}
	lastUpdated := ""
	if env.DateUpdated != nil {
		lastUpdated = env.DateUpdated.String()
	}

	return &types.RegionDeploymentStatus{
		RegionID:    regionID,
		Status:      string(env.Status),
		Health:      string(env.Health),
		Endpoint:    url,
		LastUpdated: lastUpdated,
	}, nil
}

// environmentVariables merges manifest environment variables with
// secrets fetched from Vault. Vault secrets take precedence. Secrets
// are fetched once and shared across concurrent region deployments.
func (b *Backend) environmentVariables(ctx context.Context, m *manifest.Manifest) (map[string]string, error) {
	b.secretsOnce.Do(func() {
		b.secrets, b.secretsErr = vault.FetchSecrets(ctx, m)
	})
	if b.secretsErr != nil {
		return nil, fmt.Errorf("failed to fetch vault secrets: %w", b.secretsErr)
	}

	merged := make(map[string]string, len(m.EnvironmentVariables)+len(b.secrets))
	for k, v := range m.EnvironmentVariables {
		merged[k] = v
	}
	for k, v := range b.secrets {
		merged[k] = v
	}
	return merged, nil
}

// resolveSolutionStack returns the manifest's solution stack, or
// auto-detects the latest stack for the workload platform. The result
// is not written back to the manifest so concurrent region deployments
// stay race-free.
func (b *Backend) resolveSolutionStack(ctx context.Context, eb *elasticbeanstalk.Client, m *manifest.Manifest) (string, error) {
	if m.Workload.SolutionStack != "" {
		return m.Workload.SolutionStack, nil
	}

	platform := m.Workload.Platform
	if platform == "" {
		platform = "docker"
	}

	result, err := eb.ListAvailableSolutionStacks(ctx, &elasticbeanstalk.ListAvailableSolutionStacksInput{})
	if err != nil {
		return "", fmt.Errorf("failed to list solution stacks: %w", err)
	}

	platformLower := strings.ToLower(platform)
	for _, stack := range result.SolutionStacks {
		stackLower := strings.ToLower(stack)
		// AWS returns stacks in descending version order, so the first
		// match is the latest.
		if strings.Contains(stackLower, platformLower) && strings.Contains(stackLower, "amazon linux 2023") {
			logging.Debug("auto-selected solution stack", "stack", stack)
			return stack, nil
		}
	}

	return "", fmt.Errorf("no solution stack found for platform: %s", platform)
}

// ensureApplication creates the application if it doesn't exist.
func (b *Backend) ensureApplication(ctx context.Context, eb *elasticbeanstalk.Client, m *manifest.Manifest) error {
	result, err := eb.DescribeApplications(ctx, &elasticbeanstalk.DescribeApplicationsInput{
		ApplicationNames: []string{m.Workload.Name},
	})
	if err != nil {
		return err
	}

	if len(result.Applications) > 0 {
		return nil
	}

	logging.Debug("creating application", "application", m.Workload.Name)
	_, err = eb.CreateApplication(ctx, &elasticbeanstalk.CreateApplicationInput{
		ApplicationName: aws.String(m.Workload.Name),
		Description:     aws.String(m.Workload.Description),
	})
	return err
}

// ensureBucket creates the regional S3 bucket if it doesn't exist.
func (b *Backend) ensureBucket(ctx context.Context, regionID, bucketName string) error {
	client := b.s3Client(regionID)

	_, err := client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(bucketName),
	})
	if err == nil {
		return nil
	}

	logging.Debug("creating S3 bucket", "bucket", bucketName, "region", regionID)

	createBucketInput := &s3.CreateBucketInput{
		Bucket: aws.String(bucketName),
	}
	// us-east-1 rejects an explicit LocationConstraint
	if regionID != "us-east-1" {
		createBucketInput.CreateBucketConfiguration = &s3types.CreateBucketConfiguration{
			LocationConstraint: s3types.BucketLocationConstraint(regionID),
		}
	}

	_, err = client.CreateBucket(ctx, createBucketInput)
	return err
}

// uploadDockerrun writes a Dockerrun.aws.json for the regional image
// and uploads it to the version bucket.
func (b *Backend) uploadDockerrun(ctx context.Context, regionID, imageURI, bucketName, s3Key string) error {
	dockerrun := map[string]interface{}{
		"AWSEBDockerrunVersion": "1",
		"Image": map[string]interface{}{
			"Name":   imageURI,
			"Update": "true",
		},
		"Ports": []map[string]interface{}{
			{"ContainerPort": 80, "HostPort": 80},
			{"ContainerPort": 443, "HostPort": 443},
		},
	}

	dockerrunJSON, err := json.MarshalIndent(dockerrun, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal Dockerrun.aws.json: %w", err)
	}

	logging.Debug("uploading Dockerrun.aws.json", "bucket", bucketName, "key", s3Key)
	_, err = b.s3Client(regionID).PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucketName),
		Key:    aws.String(s3Key),
		Body:   strings.NewReader(string(dockerrunJSON)),
	})
	return err
}

// createApplicationVersion registers a new application version backed
// by the uploaded bundle.
func (b *Backend) createApplicationVersion(ctx context.Context, eb *elasticbeanstalk.Client, m *manifest.Manifest, versionLabel, bucketName, s3Key string) error {
	_, err := eb.CreateApplicationVersion(ctx, &elasticbeanstalk.CreateApplicationVersionInput{
		ApplicationName: aws.String(m.Workload.Name),
		VersionLabel:    aws.String(versionLabel),
		Description:     aws.String(fmt.Sprintf("Deployed at %s", time.Now().Format(time.RFC3339))),
		SourceBundle: &ebtypes.S3Location{
			S3Bucket: aws.String(bucketName),
			S3Key:    aws.String(s3Key),
		},
	})
	return err
}

// environmentExists checks if an environment exists and is not terminated.
func (b *Backend) environmentExists(ctx context.Context, eb *elasticbeanstalk.Client, appName, envName string) (bool, error) {
	result, err := eb.DescribeEnvironments(ctx, &elasticbeanstalk.DescribeEnvironmentsInput{
		ApplicationName:  aws.String(appName),
		EnvironmentNames: []string{envName},
	})
	if err != nil {
		return false, err
	}

	for _, env := range result.Environments {
		if *env.EnvironmentName == envName && env.Status != ebtypes.EnvironmentStatusTerminated {
			return true, nil
		}
	}

	return false, nil
}

// buildOptionSettings constructs the Elastic Beanstalk option settings
// from the manifest plus the merged environment variables.
func buildOptionSettings(m *manifest.Manifest, envVars map[string]string) []ebtypes.ConfigurationOptionSetting {
	var settings []ebtypes.ConfigurationOptionSetting

	if m.Instance.Type != "" {
		settings = append(settings, ebtypes.ConfigurationOptionSetting{
			Namespace:  aws.String("aws:autoscaling:launchconfiguration"),
			OptionName: aws.String("InstanceType"),
			Value:      aws.String(m.Instance.Type),
		})
	}
	if m.Instance.EnvironmentType != "" {
		settings = append(settings, ebtypes.ConfigurationOptionSetting{
			Namespace:  aws.String("aws:elasticbeanstalk:environment"),
			OptionName: aws.String("EnvironmentType"),
			Value:      aws.String(m.Instance.EnvironmentType),
		})
	}

	if m.HealthCheck.Path != "" {
		settings = append(settings, ebtypes.ConfigurationOptionSetting{
			Namespace:  aws.String("aws:elasticbeanstalk:application"),
			OptionName: aws.String("Application Healthcheck URL"),
			Value:      aws.String(m.HealthCheck.Path),
		})
	}
	if m.HealthCheck.Type == "enhanced" {
		settings = append(settings, ebtypes.ConfigurationOptionSetting{
			Namespace:  aws.String("aws:elasticbeanstalk:healthreporting:system"),
			OptionName: aws.String("SystemType"),
			Value:      aws.String("enhanced"),
		})
	}

	for key, value := range envVars {
		settings = append(settings, ebtypes.ConfigurationOptionSetting{
			Namespace:  aws.String("aws:elasticbeanstalk:application:environment"),
			OptionName: aws.String(key),
			Value:      aws.String(value),
		})
	}

	return settings
}

// waitForEnvironment polls until the environment is ready and returns
// its URL. The caller's context deadline bounds the wait.
func (b *Backend) waitForEnvironment(ctx context.Context, eb *elasticbeanstalk.Client, appName, envName string) (string, error) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("gave up waiting for environment: %w", ctx.Err())
		case <-ticker.C:
			result, err := eb.DescribeEnvironments(ctx, &elasticbeanstalk.DescribeEnvironmentsInput{
				ApplicationName:  aws.String(appName),
				EnvironmentNames: []string{envName},
			})
			if err != nil {
				return "", err
			}

			if len(result.Environments) == 0 {
				return "", fmt.Errorf("environment disappeared")
			}

			env := result.Environments[0]
			logging.Debug("environment status", "environment", envName,
				"status", string(env.Status), "health", string(env.Health))

			if env.Status == ebtypes.EnvironmentStatusReady {
				if env.CNAME != nil {
					return fmt.Sprintf("http://%s", *env.CNAME), nil
				}
				return "", fmt.Errorf("environment ready but no CNAME")
			}

			if env.Status == ebtypes.EnvironmentStatusTerminated || env.Status == ebtypes.EnvironmentStatusTerminating {
				return "", fmt.Errorf("environment failed: status=%s", env.Status)
			}
		}
	}
}

// waitForEnvironmentTermination polls until the environment is gone.
func (b *Backend) waitForEnvironmentTermination(ctx context.Context, eb *elasticbeanstalk.Client, appName, envName string) error {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("gave up waiting for termination: %w", ctx.Err())
		case <-ticker.C:
			result, err := eb.DescribeEnvironments(ctx, &elasticbeanstalk.DescribeEnvironmentsInput{
				ApplicationName:  aws.String(appName),
				EnvironmentNames: []string{envName},
			})
			if err != nil {
				return err
			}

			if len(result.Environments) == 0 {
				return nil
			}
			if result.Environments[0].Status == ebtypes.EnvironmentStatusTerminated {
				return nil
			}
		}
	}
}

// Rollback redeploys the most recent application version that predates
// the one currently running in the region's environment, and returns
// the environment URL.
func (b *Backend) Rollback(ctx context.Context, regionID string, m *manifest.Manifest) (string, error) {
	eb := b.ebClient(regionID)
	envName := environmentName(m, regionID)

	envResult, err := eb.DescribeEnvironments(ctx, &elasticbeanstalk.DescribeEnvironmentsInput{
		ApplicationName:  aws.String(m.Workload.Name),
		EnvironmentNames: []string{envName},
	})
	if err != nil {
		return "", fmt.Errorf("failed to describe environment: %w", err)
	}
	if len(envResult.Environments) == 0 {
		return "", fmt.Errorf("environment not found in %s: %s", regionID, envName)
	}

	currentVersion := envResult.Environments[0].VersionLabel
	if currentVersion == nil {
		return "", fmt.Errorf("current environment has no version label")
	}

	versionsResult, err := eb.DescribeApplicationVersions(ctx, &elasticbeanstalk.DescribeApplicationVersionsInput{
		ApplicationName: aws.String(m.Workload.Name),
	})
	if err != nil {
		return "", fmt.Errorf("failed to list application versions: %w", err)
	}
	if len(versionsResult.ApplicationVersions) < 2 {
		return "", fmt.Errorf("no previous version available to rollback to (only %d exist)", len(versionsResult.ApplicationVersions))
	}

	previousVersion, err := previousApplicationVersion(versionsResult.ApplicationVersions, *currentVersion)
	if err != nil {
		return "", err
	}

	logging.Info("rolling back environment", "environment", envName, "region", regionID, "version", previousVersion)

	_, err = eb.UpdateEnvironment(ctx, &elasticbeanstalk.UpdateEnvironmentInput{
		EnvironmentName: aws.String(envName),
		VersionLabel:    aws.String(previousVersion),
	})
	if err != nil {
		return "", fmt.Errorf("failed to rollback environment: %w", err)
	}

	url, err := b.waitForEnvironment(ctx, eb, m.Workload.Name, envName)
	if err != nil {
		return "", fmt.Errorf("rollback failed: %w", err)
	}
	return url, nil
}

// previousApplicationVersion finds the most recent version created
// before the current one.
func previousApplicationVersion(versions []ebtypes.ApplicationVersionDescription, currentLabel string) (string, error) {
	var currentDate *time.Time
	for _, v := range versions {
		if v.VersionLabel != nil && *v.VersionLabel == currentLabel {
			currentDate = v.DateCreated
			break
		}
	}
	if currentDate == nil {
		return "", fmt.Errorf("could not find current version in version list")
	}

	var previousLabel string
	var previousDate time.Time
	for _, v := range versions {
		if v.VersionLabel == nil || v.DateCreated == nil || *v.VersionLabel == currentLabel {
			continue
		}
		if v.DateCreated.Before(*currentDate) && v.DateCreated.After(previousDate) {
			previousLabel = *v.VersionLabel
			previousDate = *v.DateCreated
		}
	}
	if previousLabel == "" {
		return "", fmt.Errorf("no previous version found to rollback to")
	}
	return previousLabel, nil
}
