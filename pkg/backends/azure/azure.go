// Package azure implements the Azure region deployment backend on
// Azure Container Instances. Regions map to Azure locations (for
// example "eastus" or "westeurope"); each location gets its own
// container group and a region-local ACR so cross-location traffic
// stays off the deploy path.
package azure

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/containerinstance/armcontainerinstance"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armresources"

	"github.com/jvreagan/multi-region/pkg/logging"
	"github.com/jvreagan/multi-region/pkg/manifest"
	"github.com/jvreagan/multi-region/pkg/registry"
	"github.com/jvreagan/multi-region/pkg/types"
	"github.com/jvreagan/multi-region/pkg/vault"
)

// Backend deploys the workload to Azure Container Instances across
// locations.
type Backend struct {
	subscriptionID      string
	resourceGroup       string
	credential          azcore.TokenCredential
	containerClient     *armcontainerinstance.ContainerGroupsClient
	resourceGroupClient *armresources.ResourceGroupsClient

	rgOnce sync.Once
	rgErr  error

	secretsOnce sync.Once
	secrets     map[string]string
	secretsErr  error
}

// New creates an Azure backend from the manifest backend config.
// Authentication uses the service principal from the credentials
// section when present, otherwise the default Azure credential chain
// (Azure CLI or Managed Identity).
func New(ctx context.Context, cfg *manifest.BackendConfig) (*Backend, error) {
	if cfg.SubscriptionID == "" {
		return nil, fmt.Errorf("azure backend requires backend.subscription_id")
	}

	var cred azcore.TokenCredential
	var err error

	creds := cfg.Credentials
	if creds != nil && creds.TenantID != "" && creds.ClientID != "" && creds.ClientSecret != "" {
		logging.Debug("using Azure service principal from manifest")
		cred, err = azidentity.NewClientSecretCredential(creds.TenantID, creds.ClientID, creds.ClientSecret, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create service principal credential: %w", err)
		}
	} else {
		logging.Debug("using default Azure credential chain")
		cred, err = azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create default credential: %w", err)
		}
	}

	containerClient, err := armcontainerinstance.NewContainerGroupsClient(cfg.SubscriptionID, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create container groups client: %w", err)
	}

	resourceGroupClient, err := armresources.NewResourceGroupsClient(cfg.SubscriptionID, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource groups client: %w", err)
	}

	return &Backend{
		subscriptionID:      cfg.SubscriptionID,
		resourceGroup:       cfg.ResourceGroup,
		credential:          cred,
		containerClient:     containerClient,
		resourceGroupClient: resourceGroupClient,
	}, nil
}

// Name returns the backend name.
func (b *Backend) Name() string {
	return "azure"
}

// resourceGroupName returns the configured resource group, or a name
// derived from the workload when the manifest leaves it blank.
func (b *Backend) resourceGroupName(m *manifest.Manifest) string {
	if b.resourceGroup != "" {
		return b.resourceGroup
	}
	return m.Workload.Name + "-rg"
}

// containerGroupName derives the per-location container group name.
func containerGroupName(m *manifest.Manifest, regionID string) string {
	return fmt.Sprintf("%s-%s", m.Workload.Name, regionID)
}

// registryName builds a valid per-location ACR name: alphanumeric
// only, 5-50 characters, globally unique per workload and location.
func registryName(m *manifest.Manifest, regionID string) string {
	name := strings.ToLower(m.Workload.Name + regionID)
	name = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return r
		}
		return -1
	}, name)
	if len(name) < 5 {
		name += "registry"
	}
	if len(name) > 50 {
		name = name[:50]
	}
	return name
}

// Deploy stands up the workload in one Azure location and returns the
// container group URL.
func (b *Backend) Deploy(ctx context.Context, regionID string, m *manifest.Manifest) (string, error) {
	groupName := containerGroupName(m, regionID)
	rg := b.resourceGroupName(m)

	logging.Info("starting Azure Container Instances deployment", "region", regionID, "group", groupName)

	envVars, err := b.environmentVariables(ctx, m)
	if err != nil {
		return "", err
	}

	if err := b.ensureResourceGroup(ctx, rg, regionID); err != nil {
		return "", fmt.Errorf("failed to ensure resource group: %w", err)
	}

	acr, err := registry.NewACRRegistry(b.credential, b.subscriptionID, rg, registryName(m, regionID), regionID, "latest")
	if err != nil {
		return "", fmt.Errorf("failed to create ACR registry: %w", err)
	}

	replicator := registry.NewReplicator(m.Workload.Image)
	replicator.AddRegistry(acr)
	imageURIs, err := replicator.Replicate(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to replicate image to %s: %w", regionID, err)
	}
	imageURI := imageURIs[regionID]

	fqdn, err := b.deployContainerGroup(ctx, rg, groupName, regionID, imageURI, acr, envVars, m)
	if err != nil {
		return "", fmt.Errorf("failed to deploy container group: %w", err)
	}

	if err := b.waitForContainerGroup(ctx, rg, groupName); err != nil {
		return "", fmt.Errorf("container group did not become ready: %w", err)
	}

	url := fmt.Sprintf("http://%s", fqdn)
	logging.Info("Azure deployment complete", "region", regionID, "url", url)
	return url, nil
}

// Teardown deletes the container group in one location.
func (b *Backend) Teardown(ctx context.Context, regionID string, m *manifest.Manifest) error {
	groupName := containerGroupName(m, regionID)
	rg := b.resourceGroupName(m)

	logging.Info("terminating container group", "region", regionID, "group", groupName)

	poller, err := b.containerClient.BeginDelete(ctx, rg, groupName, nil)
	if err != nil {
		return fmt.Errorf("failed to begin deleting container group: %w", err)
	}
	if _, err := poller.PollUntilDone(ctx, nil); err != nil {
		return fmt.Errorf("failed to delete container group: %w", err)
	}
	return nil
}

// Status returns the current state of the container group in one
// location.
func (b *Backend) Status(ctx context.Context, regionID string, m *manifest.Manifest) (*types.RegionDeploymentStatus, error) {
	groupName := containerGroupName(m, regionID)
	rg := b.resourceGroupName(m)

	resp, err := b.containerClient.Get(ctx, rg, groupName, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get container group: %w", err)
	}

	group := resp.ContainerGroup
	status := "Unknown"
	if group.Properties != nil && group.Properties.ProvisioningState != nil {
		status = *group.Properties.ProvisioningState
	}

	health := "Unknown"
	if group.Properties != nil && group.Properties.InstanceView != nil && group.Properties.InstanceView.State != nil {
		if *group.Properties.InstanceView.State == "Running" {
			health = "Ok"
		} else {
			health = *group.Properties.InstanceView.State
		}
	}

	var endpoint string
	if group.Properties != nil && group.Properties.IPAddress != nil && group.Properties.IPAddress.Fqdn != nil {
		endpoint = fmt.Sprintf("http://%s", *group.Properties.IPAddress.Fqdn)
	}

	var lastUpdated string
	if group.Properties != nil && group.Properties.InstanceView != nil && len(group.Properties.InstanceView.Events) > 0 {
		last := group.Properties.InstanceView.Events[len(group.Properties.InstanceView.Events)-1]
		if last.LastTimestamp != nil {
			lastUpdated = last.LastTimestamp.Format(time.RFC3339)
		}
	}

	return &types.RegionDeploymentStatus{
		RegionID:    regionID,
		Status:      status,
		Health:      health,
		Endpoint:    endpoint,
		LastUpdated: lastUpdated,
	}, nil
}

// Rollback redeploys the container group in one location with the
// image it ran before the current one, as recorded in the group tags.
func (b *Backend) Rollback(ctx context.Context, regionID string, m *manifest.Manifest) (string, error) {
	groupName := containerGroupName(m, regionID)
	rg := b.resourceGroupName(m)

	resp, err := b.containerClient.Get(ctx, rg, groupName, nil)
	if err != nil {
		return "", fmt.Errorf("failed to get container group: %w", err)
	}

	group := resp.ContainerGroup
	if group.Properties == nil || len(group.Properties.Containers) == 0 {
		return "", fmt.Errorf("no containers found in group %s", groupName)
	}

	previous, ok := group.Tags["PreviousImage"]
	if !ok || previous == nil || *previous == "" {
		return "", fmt.Errorf("no previous image recorded for %s", groupName)
	}

	current := group.Properties.Containers[0].Properties.Image
	logging.Info("rolling back container group", "region", regionID, "group", groupName, "image", *previous)

	group.Properties.Containers[0].Properties.Image = previous
	group.Tags["PreviousImage"] = current

	poller, err := b.containerClient.BeginCreateOrUpdate(ctx, rg, groupName, group, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin rollback: %w", err)
	}
	if _, err := poller.PollUntilDone(ctx, nil); err != nil {
		return "", fmt.Errorf("rollback failed: %w", err)
	}

	if err := b.waitForContainerGroup(ctx, rg, groupName); err != nil {
		return "", fmt.Errorf("rolled-back group did not become ready: %w", err)
	}

	var url string
	if group.Properties.IPAddress != nil && group.Properties.IPAddress.Fqdn != nil {
		url = fmt.Sprintf("http://%s", *group.Properties.IPAddress.Fqdn)
	}
	return url, nil
}

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

// ensureResourceGroup creates the shared resource group once per
// process. The group lands in the first location deployed to; Azure
// resource groups hold resources from any location.
func (b *Backend) ensureResourceGroup(ctx context.Context, name, location string) error {
	b.rgOnce.Do(func() {
		logging.Debug("ensuring resource group", "name", name, "location", location)
		_, b.rgErr = b.resourceGroupClient.CreateOrUpdate(ctx, name, armresources.ResourceGroup{
			Location: to.Ptr(location),
			Tags: map[string]*string{
				"ManagedBy": to.Ptr("multi-region"),
			},
		}, nil)
	})
	return b.rgErr
}

func (b *Backend) deployContainerGroup(ctx context.Context, rg, groupName, location, imageURI string, acr *registry.ACRRegistry, envVars map[string]string, m *manifest.Manifest) (string, error) {
	auth, err := acr.Authenticator(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get registry credentials: %w", err)
	}
	pullCreds, err := auth.Authorization()
	if err != nil {
		return "", fmt.Errorf("failed to resolve registry authorization: %w", err)
	}

	containerEnv := make([]*armcontainerinstance.EnvironmentVariable, 0, len(envVars))
	for key, value := range envVars {
		containerEnv = append(containerEnv, &armcontainerinstance.EnvironmentVariable{
			Name:  to.Ptr(key),
			Value: to.Ptr(value),
		})
	}

	cpu := 1.0
	memoryGB := 1.5
	port := int32(80)
	if m.Container != nil {
		if m.Container.CPU > 0 {
			cpu = m.Container.CPU
		}
		if m.Container.Memory > 0 {
			memoryGB = m.Container.Memory
		}
		if m.Container.Port > 0 {
			port = m.Container.Port
		}
	}

	dnsLabel := strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			return r
		}
		return '-'
	}, strings.ToLower(groupName))

	// Remember the image an existing group runs so Rollback can return
	// to it.
	previousImage := ""
	if existing, err := b.containerClient.Get(ctx, rg, groupName, nil); err == nil {
		if existing.Properties != nil && len(existing.Properties.Containers) > 0 {
			if img := existing.Properties.Containers[0].Properties.Image; img != nil && *img != imageURI {
				previousImage = *img
			}
		}
	}

	group := armcontainerinstance.ContainerGroup{
		Location: to.Ptr(location),
		Properties: &armcontainerinstance.ContainerGroupProperties{
			Containers: []*armcontainerinstance.Container{
				{
					Name: to.Ptr(m.Workload.Name),
					Properties: &armcontainerinstance.ContainerProperties{
						Image: to.Ptr(imageURI),
						Resources: &armcontainerinstance.ResourceRequirements{
							Requests: &armcontainerinstance.ResourceRequests{
								CPU:        to.Ptr(cpu),
								MemoryInGB: to.Ptr(memoryGB),
							},
						},
						Ports: []*armcontainerinstance.ContainerPort{
							{
								Port:     to.Ptr(port),
								Protocol: to.Ptr(armcontainerinstance.ContainerNetworkProtocolTCP),
							},
						},
						EnvironmentVariables: containerEnv,
					},
				},
			},
			OSType: to.Ptr(armcontainerinstance.OperatingSystemTypesLinux),
			IPAddress: &armcontainerinstance.IPAddress{
				Type: to.Ptr(armcontainerinstance.ContainerGroupIPAddressTypePublic),
				Ports: []*armcontainerinstance.Port{
					{
						Port:     to.Ptr(port),
						Protocol: to.Ptr(armcontainerinstance.ContainerGroupNetworkProtocolTCP),
					},
				},
				DNSNameLabel: to.Ptr(dnsLabel),
			},
			ImageRegistryCredentials: []*armcontainerinstance.ImageRegistryCredential{
				{
					Server:   to.Ptr(acr.RegistryURL()),
					Username: to.Ptr(pullCreds.Username),
					Password: to.Ptr(pullCreds.Password),
				},
			},
			RestartPolicy: to.Ptr(armcontainerinstance.ContainerGroupRestartPolicyAlways),
		},
		Tags: map[string]*string{
			"ManagedBy": to.Ptr("multi-region"),
			"Workload":  to.Ptr(m.Workload.Name),
		},
	}
	if previousImage != "" {
		group.Tags["PreviousImage"] = to.Ptr(previousImage)
	}

	poller, err := b.containerClient.BeginCreateOrUpdate(ctx, rg, groupName, group, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin creating container group: %w", err)
	}
	result, err := poller.PollUntilDone(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create container group: %w", err)
	}

	fqdn := ""
	if result.Properties != nil && result.Properties.IPAddress != nil && result.Properties.IPAddress.Fqdn != nil {
		fqdn = *result.Properties.IPAddress.Fqdn
	}
	return fqdn, nil
}

// waitForContainerGroup polls until the group runs. The caller's
// context bounds the wait; the orchestrator applies the per-region
// deployment timeout there.
func (b *Backend) waitForContainerGroup(ctx context.Context, rg, groupName string) error {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			resp, err := b.containerClient.Get(ctx, rg, groupName, nil)
			if err != nil {
				return fmt.Errorf("failed to get container group status: %w", err)
			}
			if resp.Properties == nil {
				continue
			}

			state := "Unknown"
			if resp.Properties.ProvisioningState != nil {
				state = *resp.Properties.ProvisioningState
			}
			logging.Debug("container group status", "group", groupName, "state", state)

			switch state {
			case "Succeeded":
				if resp.Properties.InstanceView != nil && resp.Properties.InstanceView.State != nil {
					if *resp.Properties.InstanceView.State == "Running" {
						return nil
					}
					continue
				}
				return nil
			case "Failed":
				return fmt.Errorf("container group provisioning failed")
			}
		}
	}
}
