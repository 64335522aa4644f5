package registry

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/containerregistry/armcontainerregistry"
	"github.com/google/go-containerregistry/pkg/authn"

	"github.com/jvreagan/multi-region/pkg/logging"
)

// ACRRegistry is a region-local Azure Container Registry.
type ACRRegistry struct {
	cred           azcore.TokenCredential
	subscriptionID string
	resourceGroup  string
	registryName   string
	location       string
	imageTag       string
	registryURL    string
	imageURI       string
	loginServer    string
	username       string
	password       string
}

// NewACRRegistry creates an ACR handler for one Azure location. The
// registry name must be globally unique and alphanumeric.
func NewACRRegistry(cred azcore.TokenCredential, subscriptionID, resourceGroup, registryName, location, imageTag string) (*ACRRegistry, error) {
	if location == "" {
		return nil, fmt.Errorf("acr registry requires a location")
	}
	return &ACRRegistry{
		cred:           cred,
		subscriptionID: subscriptionID,
		resourceGroup:  resourceGroup,
		registryName:   registryName,
		location:       location,
		imageTag:       imageTag,
	}, nil
}

// Region returns the Azure location this registry lives in.
func (a *ACRRegistry) Region() string {
	return a.location
}

// RegistryURL returns the regional ACR login server.
func (a *ACRRegistry) RegistryURL() string {
	return a.registryURL
}

// ImageURI returns the full regional image reference.
func (a *ACRRegistry) ImageURI() string {
	return a.imageURI
}

// Authenticate ensures the registry exists in this location, fetches
// admin credentials, and logs Docker into the login server.
func (a *ACRRegistry) Authenticate(ctx context.Context) error {
	if err := a.ensureRegistry(ctx); err != nil {
		return err
	}

	_, err := execCommand(ctx, "docker", "login", "-u", a.username, "-p", a.password, a.loginServer)
	if err != nil {
		return fmt.Errorf("failed to login to ACR: %w", err)
	}

	logging.Info("authenticated with regional ACR", "registry", a.loginServer)
	return nil
}

// Authenticator returns registry credentials usable by the Azure
// backend when the container group needs to pull from this registry.
func (a *ACRRegistry) Authenticator(ctx context.Context) (authn.Authenticator, error) {
	if a.username == "" {
		if err := a.ensureRegistry(ctx); err != nil {
			return nil, err
		}
	}
	return &authn.Basic{
		Username: a.username,
		Password: a.password,
	}, nil
}

// ensureRegistry creates the registry if absent and caches the login
// server plus admin credentials.
func (a *ACRRegistry) ensureRegistry(ctx context.Context) error {
	client, err := armcontainerregistry.NewRegistriesClient(a.subscriptionID, a.cred, nil)
	if err != nil {
		return fmt.Errorf("failed to create ACR client: %w", err)
	}

	getResp, err := client.Get(ctx, a.resourceGroup, a.registryName, nil)
	var reg *armcontainerregistry.Registry

	if err != nil {
		logging.Debug("creating ACR registry", "registry", a.registryName, "location", a.location)

		poller, err := client.BeginCreate(ctx, a.resourceGroup, a.registryName, armcontainerregistry.Registry{
			Location: to.Ptr(a.location),
			SKU: &armcontainerregistry.SKU{
				Name: to.Ptr(armcontainerregistry.SKUNameBasic),
			},
			Properties: &armcontainerregistry.RegistryProperties{
				AdminUserEnabled: to.Ptr(true),
			},
		}, nil)
		if err != nil {
			return fmt.Errorf("failed to begin creating ACR registry: %w", err)
		}

		resp, err := poller.PollUntilDone(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to create ACR registry: %w", err)
		}
		reg = &resp.Registry
	} else {
		reg = &getResp.Registry
	}

	if reg.Properties == nil || reg.Properties.LoginServer == nil {
		return fmt.Errorf("registry login server is nil")
	}
	a.loginServer = *reg.Properties.LoginServer
	a.registryURL = a.loginServer
	a.imageURI = fmt.Sprintf("%s/%s:%s", a.loginServer, a.registryName, a.imageTag)

	creds, err := client.ListCredentials(ctx, a.resourceGroup, a.registryName, nil)
	if err != nil {
		return fmt.Errorf("failed to get ACR credentials: %w", err)
	}
	if creds.Username == nil || len(creds.Passwords) == 0 {
		return fmt.Errorf("no admin credentials available for ACR")
	}
	a.username = *creds.Username
	a.password = *creds.Passwords[0].Value

	return nil
}

// TagImage tags the source image for this location's ACR.
func (a *ACRRegistry) TagImage(ctx context.Context, sourceImage string) (string, error) {
	if a.imageURI == "" {
		return "", fmt.Errorf("acr registry not authenticated")
	}
	if err := dockerTag(ctx, sourceImage, a.imageURI); err != nil {
		return "", fmt.Errorf("failed to tag image for ACR: %w", err)
	}
	return a.imageURI, nil
}

// PushImage pushes the tagged image to this location's ACR.
func (a *ACRRegistry) PushImage(ctx context.Context, taggedImage string) error {
	if err := dockerPush(ctx, taggedImage); err != nil {
		return fmt.Errorf("failed to push image to ACR: %w", err)
	}
	return nil
}
