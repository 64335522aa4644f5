// Package gcp implements the GCP region deployment backend on Cloud
// Run. One backend instance serves every target region; the region is
// addressed through the service's resource path, so parallel regional
// deployments share only read-only clients.
package gcp

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/iam/apiv1/iampb"
	"cloud.google.com/go/logging/logadmin"
	run "cloud.google.com/go/run/apiv2"
	"cloud.google.com/go/run/apiv2/runpb"
	"google.golang.org/api/cloudbilling/v1"
	"google.golang.org/api/cloudresourcemanager/v1"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/api/serviceusage/v1"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/jvreagan/multi-region/pkg/logging"
	"github.com/jvreagan/multi-region/pkg/manifest"
	"github.com/jvreagan/multi-region/pkg/registry"
	"github.com/jvreagan/multi-region/pkg/types"
	"github.com/jvreagan/multi-region/pkg/vault"
)

// Backend deploys the workload to Google Cloud Run regions.
type Backend struct {
	runClient       *run.ServicesClient
	revisionsClient *run.RevisionsClient
	projectsClient  *cloudresourcemanager.Service
	billingClient   *cloudbilling.APIService
	usageClient     *serviceusage.Service
	loggingClient   *logadmin.Client

	projectID      string
	publicAccess   bool
	billingAccount string
	organizationID string
	credsJSON      string

	setupOnce sync.Once
	setupErr  error

	secretsOnce sync.Once
	secrets     map[string]string
	secretsErr  error
}

// New creates a GCP backend. Credentials come from the manifest
// (service account key path or inline JSON) or fall back to application
// default credentials.
func New(ctx context.Context, cfg *manifest.BackendConfig) (*Backend, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("backend.project_id is required for GCP deployments")
	}

	publicAccess := true
	if cfg.PublicAccess != nil {
		publicAccess = *cfg.PublicAccess
	}

	credOption, credsJSON := loadCredentials(cfg.Credentials)

	opts := []option.ClientOption{}
	if credOption != nil {
		opts = append(opts, credOption)
	}

	projectsClient, err := cloudresourcemanager.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Cloud Resource Manager client: %w", err)
	}

	billingClient, err := cloudbilling.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Cloud Billing client: %w", err)
	}

	usageClient, err := serviceusage.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Service Usage client: %w", err)
	}

	runClient, err := run.NewServicesClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Cloud Run client: %w", err)
	}

	revisionsClient, err := run.NewRevisionsClient(ctx, opts...)
	if err != nil {
		runClient.Close()
		return nil, fmt.Errorf("failed to create Cloud Run Revisions client: %w", err)
	}

	loggingClient, err := logadmin.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		runClient.Close()
		revisionsClient.Close()
		return nil, fmt.Errorf("failed to create Logging client: %w", err)
	}

	return &Backend{
		runClient:       runClient,
		revisionsClient: revisionsClient,
		projectsClient:  projectsClient,
		billingClient:   billingClient,
		usageClient:     usageClient,
		loggingClient:   loggingClient,
		projectID:       cfg.ProjectID,
		publicAccess:    publicAccess,
		billingAccount:  cfg.BillingAccountID,
		organizationID:  cfg.OrganizationID,
		credsJSON:       credsJSON,
	}, nil
}

// Name returns the backend name.
func (b *Backend) Name() string {
	return "gcp"
}

// serviceName derives the per-region Cloud Run service name.
func serviceName(m *manifest.Manifest, regionID string) string {
	return fmt.Sprintf("%s-%s", m.Workload.Name, regionID)
}

// Deploy stands up the workload in one GCP region and returns the
// Cloud Run service URL.
func (b *Backend) Deploy(ctx context.Context, regionID string, m *manifest.Manifest) (string, error) {
	if err := b.ensureSetup(ctx); err != nil {
		return "", err
	}

	svcName := serviceName(m, regionID)
	logging.Info("starting Cloud Run deployment", "region", regionID, "service", svcName)

	envVars, err := b.environmentVariables(ctx, m)
	if err != nil {
		return "", err
	}

	gcrRegistry, err := registry.NewGCRRegistry(b.projectID, regionID, m.Workload.Name, "latest", b.credsJSON)
	if err != nil {
		return "", fmt.Errorf("failed to create Artifact Registry handler: %w", err)
	}

	replicator := registry.NewReplicator(m.Workload.Image)
	replicator.AddRegistry(gcrRegistry)
	imageURIs, err := replicator.Replicate(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to replicate image to %s: %w", regionID, err)
	}
	imageURI := imageURIs[regionID]

	if err := b.deployService(ctx, regionID, m, svcName, imageURI, envVars); err != nil {
		return "", fmt.Errorf("failed to deploy service %s: %w", svcName, err)
	}

	url, err := b.waitForService(ctx, regionID, svcName)
	if err != nil {
		return "", fmt.Errorf("service deployment failed for %s: %w", svcName, err)
	}

	logging.Info("deployment complete", "region", regionID, "url", url)
	return url, nil
}

// Teardown deletes the workload's Cloud Run service in one region.
func (b *Backend) Teardown(ctx context.Context, regionID string, m *manifest.Manifest) error {
	svcName := serviceName(m, regionID)
	fullName := fmt.Sprintf("projects/%s/locations/%s/services/%s", b.projectID, regionID, svcName)

	logging.Info("deleting Cloud Run service", "service", svcName, "region", regionID)

	op, err := b.runClient.DeleteService(ctx, &runpb.DeleteServiceRequest{Name: fullName})
	if err != nil {
		return fmt.Errorf("failed to delete service: %w", err)
	}
	if _, err := op.Wait(ctx); err != nil {
		return fmt.Errorf("failed to wait for service deletion: %w", err)
	}

	logging.Info("service deleted", "service", svcName, "region", regionID)
	return nil
}

// Status reports the workload's state in one region.
func (b *Backend) Status(ctx context.Context, regionID string, m *manifest.Manifest) (*types.RegionDeploymentStatus, error) {
	svcName := serviceName(m, regionID)
	fullName := fmt.Sprintf("projects/%s/locations/%s/services/%s", b.projectID, regionID, svcName)

	service, err := b.runClient.GetService(ctx, &runpb.GetServiceRequest{Name: fullName})
	if err != nil {
		return nil, fmt.Errorf("failed to get service: %w", err)
	}

	status := "Unknown"
	health := "Unknown"
	if service.TerminalCondition != nil {
		status = service.TerminalCondition.State.String()
		if service.TerminalCondition.State == runpb.Condition_CONDITION_SUCCEEDED {
			health = "Healthy"
		} else {
			health = "Unhealthy"
		}
	}

	lastUpdated := ""
	if service.UpdateTime != nil {
		lastUpdated = service.UpdateTime.AsTime().Format(time.RFC3339)
	}

	return &types.RegionDeploymentStatus{
		RegionID:    regionID,
		Status:      status,
		Health:      health,
		Endpoint:    service.Uri,
		LastUpdated: lastUpdated,
	}, nil
}

// Rollback routes traffic back to the service's previous revision in
// one region and returns the service URL.
func (b *Backend) Rollback(ctx context.Context, regionID string, m *manifest.Manifest) (string, error) {
	svcName := serviceName(m, regionID)
	fullName := fmt.Sprintf("projects/%s/locations/%s/services/%s", b.projectID, regionID, svcName)

	service, err := b.runClient.GetService(ctx, &runpb.GetServiceRequest{Name: fullName})
	if err != nil {
		return "", fmt.Errorf("failed to get service: %w", err)
	}

	var currentRevision string
	for _, traffic := range service.Traffic {
		if traffic.Percent == 100 {
			currentRevision = traffic.Revision
			break
		}
	}
	if currentRevision == "" {
		return "", fmt.Errorf("could not determine current active revision")
	}

	previous, err := b.previousRevision(ctx, regionID, svcName, currentRevision)
	if err != nil {
		return "", err
	}

	prevName := previous.Name[strings.LastIndex(previous.Name, "/")+1:]
	logging.Info("rolling back service", "service", svcName, "region", regionID, "revision", prevName)

	service.Traffic = []*runpb.TrafficTarget{
		{
			Type:     runpb.TrafficTargetAllocationType_TRAFFIC_TARGET_ALLOCATION_TYPE_REVISION,
			Revision: prevName,
			Percent:  100,
		},
	}

	op, err := b.runClient.UpdateService(ctx, &runpb.UpdateServiceRequest{Service: service})
	if err != nil {
		return "", fmt.Errorf("failed to rollback service: %w", err)
	}
	if _, err := op.Wait(ctx); err != nil {
		return "", fmt.Errorf("rollback failed: %w", err)
	}

	service, err = b.runClient.GetService(ctx, &runpb.GetServiceRequest{Name: fullName})
	if err != nil {
		return "", fmt.Errorf("failed to get service after rollback: %w", err)
	}
	return service.Uri, nil
}

// previousRevision finds the most recent revision created before the
// current one in the given region.
func (b *Backend) previousRevision(ctx context.Context, regionID, svcName, currentRevision string) (*runpb.Revision, error) {
	it := b.revisionsClient.ListRevisions(ctx, &runpb.ListRevisionsRequest{
		Parent: fmt.Sprintf("projects/%s/locations/%s/services/%s", b.projectID, regionID, svcName),
	})

	var revisions []*runpb.Revision
	for {
		rev, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list revisions: %w", err)
		}
		revisions = append(revisions, rev)
	}

	if len(revisions) < 2 {
		return nil, fmt.Errorf("no previous revision available to rollback to (only %d exist)", len(revisions))
	}

	var currentTime *time.Time
	for _, rev := range revisions {
		if strings.Contains(rev.Name, currentRevision) && rev.CreateTime != nil {
			t := rev.CreateTime.AsTime()
			currentTime = &t
			break
		}
	}
	if currentTime == nil {
		return nil, fmt.Errorf("could not find current revision creation time")
	}

	var previous *runpb.Revision
	for _, rev := range revisions {
		if strings.Contains(rev.Name, currentRevision) || rev.CreateTime == nil {
			continue
		}
		revTime := rev.CreateTime.AsTime()
		if revTime.Before(*currentTime) {
			if previous == nil || revTime.After(previous.CreateTime.AsTime()) {
				previous = rev
			}
		}
	}
	if previous == nil {
		return nil, fmt.Errorf("no previous revision found to rollback to")
	}
	return previous, nil
}

// RecentLogs fetches the most recent Cloud Logging entries for the
// workload in one region, newest first.
func (b *Backend) RecentLogs(ctx context.Context, regionID string, m *manifest.Manifest, limit int) ([]string, error) {
	svcName := serviceName(m, regionID)
	filter := fmt.Sprintf(
		`resource.type="cloud_run_revision" AND resource.labels.service_name=%q AND resource.labels.location=%q`,
		svcName, regionID)

	it := b.loggingClient.Entries(ctx, logadmin.Filter(filter), logadmin.NewestFirst())

	var lines []string
	for len(lines) < limit {
		entry, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read log entries: %w", err)
		}
		lines = append(lines, fmt.Sprintf("%s %v", entry.Timestamp.Format(time.RFC3339), entry.Payload))
	}
	return lines, nil
}

// environmentVariables merges manifest environment variables with
// secrets fetched from Vault. Vault secrets take precedence.
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

// ensureSetup makes sure the project exists, billing is linked, and the
// required APIs are enabled. Runs once per backend instance regardless
// of how many regions deploy concurrently.
func (b *Backend) ensureSetup(ctx context.Context) error {
	b.setupOnce.Do(func() {
		if err := b.ensureProject(ctx); err != nil {
			b.setupErr = fmt.Errorf("failed to ensure project: %w", err)
			return
		}
		if err := b.ensureBillingLinked(ctx); err != nil {
			b.setupErr = fmt.Errorf("failed to link billing account: %w", err)
			return
		}
		if err := b.ensureAPIsEnabled(ctx); err != nil {
			b.setupErr = fmt.Errorf("failed to enable required APIs: %w", err)
			return
		}
	})
	return b.setupErr
}

// ensureProject creates the GCP project if it doesn't exist.
func (b *Backend) ensureProject(ctx context.Context) error {
	project, err := b.projectsClient.Projects.Get(b.projectID).Context(ctx).Do()
	if err == nil && project != nil {
		logging.Debug("project exists", "project", b.projectID, "state", project.LifecycleState)
		return nil
	}

	logging.Info("creating project", "project", b.projectID)

	newProject := &cloudresourcemanager.Project{
		ProjectId: b.projectID,
		Name:      b.projectID,
	}
	if b.organizationID != "" {
		newProject.Parent = &cloudresourcemanager.ResourceId{
			Type: "organization",
			Id:   b.organizationID,
		}
	}

	op, err := b.projectsClient.Projects.Create(newProject).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}

	return b.waitForProjectCreation(ctx, op.Name)
}

// ensureBillingLinked links the billing account to the project.
func (b *Backend) ensureBillingLinked(ctx context.Context) error {
	projectName := fmt.Sprintf("projects/%s", b.projectID)

	billingInfo, err := b.billingClient.Projects.GetBillingInfo(projectName).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to get billing info: %w", err)
	}

	if billingInfo.BillingEnabled {
		return nil
	}
	if b.billingAccount == "" {
		return fmt.Errorf("billing is not enabled and no backend.billing_account_id is configured")
	}

	logging.Info("linking billing account", "account", b.billingAccount)

	_, err = b.billingClient.Projects.UpdateBillingInfo(projectName, &cloudbilling.ProjectBillingInfo{
		BillingAccountName: fmt.Sprintf("billingAccounts/%s", b.billingAccount),
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to link billing account: %w", err)
	}
	return nil
}

// ensureAPIsEnabled enables the APIs Cloud Run deployment needs.
func (b *Backend) ensureAPIsEnabled(ctx context.Context) error {
	requiredAPIs := []string{
		"run.googleapis.com",
		"artifactregistry.googleapis.com",
		"logging.googleapis.com",
		"serviceusage.googleapis.com",
	}

	for _, api := range requiredAPIs {
		svcName := fmt.Sprintf("projects/%s/services/%s", b.projectID, api)

		service, err := b.usageClient.Services.Get(svcName).Context(ctx).Do()
		if err == nil && service.State == "ENABLED" {
			continue
		}

		logging.Debug("enabling API", "api", api)
		op, err := b.usageClient.Services.Enable(svcName, &serviceusage.EnableServiceRequest{}).Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("failed to enable API %s: %w", api, err)
		}

		if !op.Done {
			if err := b.waitForAPIEnablement(ctx, op.Name, api); err != nil {
				return fmt.Errorf("failed to wait for API %s enablement: %w", api, err)
			}
		}
	}
	return nil
}

// deployService creates or updates the Cloud Run service in one region.
func (b *Backend) deployService(ctx context.Context, regionID string, m *manifest.Manifest, svcName, imageURI string, envVars map[string]string) error {
	parent := fmt.Sprintf("projects/%s/locations/%s", b.projectID, regionID)
	serviceFullName := fmt.Sprintf("%s/services/%s", parent, svcName)

	existingService, err := b.runClient.GetService(ctx, &runpb.GetServiceRequest{Name: serviceFullName})
	serviceExists := err == nil

	runEnv := make([]*runpb.EnvVar, 0, len(envVars))
	for key, value := range envVars {
		runEnv = append(runEnv, &runpb.EnvVar{
			Name:   key,
			Values: &runpb.EnvVar_Value{Value: value},
		})
	}

	container := &runpb.Container{
		Image: imageURI,
		Env:   runEnv,
	}

	if m.CloudRun != nil {
		resources := &runpb.ResourceRequirements{
			Limits: map[string]string{"cpu": "1", "memory": "512Mi"},
		}
		if m.CloudRun.CPU != "" {
			resources.Limits["cpu"] = m.CloudRun.CPU
		}
		if m.CloudRun.Memory != "" {
			resources.Limits["memory"] = m.CloudRun.Memory
		}
		container.Resources = resources
	}

	revisionTemplate := &runpb.RevisionTemplate{
		Containers: []*runpb.Container{container},
	}

	if m.CloudRun != nil {
		scaling := &runpb.RevisionScaling{}
		if m.CloudRun.MinInstances > 0 {
			scaling.MinInstanceCount = m.CloudRun.MinInstances
		}
		if m.CloudRun.MaxInstances > 0 {
			scaling.MaxInstanceCount = m.CloudRun.MaxInstances
		}
		revisionTemplate.Scaling = scaling

		if m.CloudRun.MaxConcurrency > 0 {
			revisionTemplate.MaxInstanceRequestConcurrency = m.CloudRun.MaxConcurrency
		}
		if m.CloudRun.TimeoutSeconds > 0 {
			revisionTemplate.Timeout = durationpb.New(time.Duration(m.CloudRun.TimeoutSeconds) * time.Second)
		}
	}

	service := &runpb.Service{
		Template: revisionTemplate,
		Ingress:  runpb.IngressTraffic_INGRESS_TRAFFIC_ALL,
	}

	if serviceExists {
		logging.Debug("updating existing service", "service", svcName, "region", regionID)

		service.Name = serviceFullName
		service.Template = existingService.Template
		service.Template.Containers[0].Image = imageURI
		service.Template.Containers[0].Env = runEnv

		op, err := b.runClient.UpdateService(ctx, &runpb.UpdateServiceRequest{Service: service})
		if err != nil {
			return fmt.Errorf("failed to update service: %w", err)
		}
		if _, err := op.Wait(ctx); err != nil {
			return fmt.Errorf("failed to wait for service update: %w", err)
		}
	} else {
		logging.Debug("creating service", "service", svcName, "region", regionID)

		op, err := b.runClient.CreateService(ctx, &runpb.CreateServiceRequest{
			Parent:    parent,
			Service:   service,
			ServiceId: svcName,
		})
		if err != nil {
			return fmt.Errorf("failed to create service: %w", err)
		}
		if _, err := op.Wait(ctx); err != nil {
			return fmt.Errorf("failed to wait for service creation: %w", err)
		}
	}

	if err := b.setServiceIAMPolicy(ctx, serviceFullName); err != nil {
		return fmt.Errorf("failed to set IAM policy: %w", err)
	}

	return nil
}

// setServiceIAMPolicy grants allUsers invoke access when the manifest
// asks for a publicly reachable service.
func (b *Backend) setServiceIAMPolicy(ctx context.Context, serviceName string) error {
	if !b.publicAccess {
		return nil
	}

	policy, err := b.runClient.GetIamPolicy(ctx, &iampb.GetIamPolicyRequest{Resource: serviceName})
	if err != nil {
		return fmt.Errorf("failed to get IAM policy: %w", err)
	}

	bindingExists := false
	for _, bd := range policy.Bindings {
		if bd.Role == "roles/run.invoker" {
			for _, member := range bd.Members {
				if member == "allUsers" {
					bindingExists = true
					break
				}
			}
			if !bindingExists {
				bd.Members = append(bd.Members, "allUsers")
				bindingExists = true
			}
			break
		}
	}
	if !bindingExists {
		policy.Bindings = append(policy.Bindings, &iampb.Binding{
			Role:    "roles/run.invoker",
			Members: []string{"allUsers"},
		})
	}

	_, err = b.runClient.SetIamPolicy(ctx, &iampb.SetIamPolicyRequest{
		Resource: serviceName,
		Policy:   policy,
	})
	if err != nil {
		return fmt.Errorf("failed to set IAM policy: %w", err)
	}
	return nil
}

// waitForProjectCreation polls the project creation operation.
func (b *Backend) waitForProjectCreation(ctx context.Context, operationName string) error {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	timeout := time.After(3 * time.Minute)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeout:
			return fmt.Errorf("timeout waiting for project %s creation", b.projectID)
		case <-ticker.C:
			op, err := b.projectsClient.Operations.Get(operationName).Context(ctx).Do()
			if err != nil {
				return fmt.Errorf("failed to check project creation status: %w", err)
			}
			if op.Done {
				if op.Error != nil {
					return fmt.Errorf("project creation failed: %s", op.Error.Message)
				}
				return nil
			}
		}
	}
}

// waitForAPIEnablement polls the API enablement operation.
func (b *Backend) waitForAPIEnablement(ctx context.Context, operationName, apiName string) error {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	timeout := time.After(5 * time.Minute)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeout:
			return fmt.Errorf("timeout waiting for API %s enablement", apiName)
		case <-ticker.C:
			op, err := b.usageClient.Operations.Get(operationName).Context(ctx).Do()
			if err != nil {
				return fmt.Errorf("failed to check API enablement status: %w", err)
			}
			if op.Done {
				if op.Error != nil {
					return fmt.Errorf("API enablement failed: %s", op.Error.Message)
				}
				return nil
			}
		}
	}
}

// waitForService polls until the regional Cloud Run service is ready
// and returns its URL. The caller's context deadline bounds the wait.
func (b *Backend) waitForService(ctx context.Context, regionID, svcName string) (string, error) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	serviceFullName := fmt.Sprintf("projects/%s/locations/%s/services/%s", b.projectID, regionID, svcName)

	for {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("gave up waiting for service %s: %w", svcName, ctx.Err())
		case <-ticker.C:
			service, err := b.runClient.GetService(ctx, &runpb.GetServiceRequest{Name: serviceFullName})
			if err != nil {
				return "", fmt.Errorf("failed to get service status: %w", err)
			}

			if service.TerminalCondition != nil {
				logging.Debug("service status", "service", svcName,
					"state", service.TerminalCondition.State.String())

				if service.TerminalCondition.State == runpb.Condition_CONDITION_SUCCEEDED {
					return service.Uri, nil
				}
				if service.TerminalCondition.State == runpb.Condition_CONDITION_FAILED {
					message := "unknown error"
					if service.TerminalCondition.Message != "" {
						message = service.TerminalCondition.Message
					}
					return "", fmt.Errorf("service deployment failed: %s", message)
				}
			}
		}
	}
}

// loadCredentials builds a client option from the manifest credentials.
// Returns nil when application default credentials should be used, plus
// the raw JSON key for registry authentication.
func loadCredentials(creds *manifest.CredentialsConfig) (option.ClientOption, string) {
	if creds == nil {
		return nil, ""
	}
	if creds.ServiceAccountKeyPath != "" {
		return option.WithCredentialsFile(creds.ServiceAccountKeyPath), ""
	}
	if creds.ServiceAccountKeyJSON != "" {
		return option.WithCredentialsJSON([]byte(creds.ServiceAccountKeyJSON)), creds.ServiceAccountKeyJSON
	}
	return nil, ""
}

// Close releases the backend's gRPC clients.
func (b *Backend) Close() error {
	b.runClient.Close()
	b.revisionsClient.Close()
	return b.loggingClient.Close()
}
