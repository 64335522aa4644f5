package registry

import (
	"context"
	"fmt"
	"strings"

	artifactregistry "google.golang.org/api/artifactregistry/v1"
	"google.golang.org/api/option"

	"github.com/jvreagan/multi-region/pkg/logging"
)

// GCRRegistry is a region-local Google Artifact Registry repository.
type GCRRegistry struct {
	projectID       string
	region          string
	repositoryName  string
	imageTag        string
	registryURL     string
	imageURI        string
	credentialsJSON string
}

// NewGCRRegistry creates an Artifact Registry handler for one region.
func NewGCRRegistry(projectID, region, repositoryName, imageTag, credentialsJSON string) (*GCRRegistry, error) {
	if region == "" {
		return nil, fmt.Errorf("artifact registry requires a region")
	}
	return &GCRRegistry{
		projectID:       projectID,
		region:          region,
		repositoryName:  repositoryName,
		imageTag:        imageTag,
		credentialsJSON: credentialsJSON,
	}, nil
}

// Region returns the GCP region this registry lives in.
func (g *GCRRegistry) Region() string {
	return g.region
}

// RegistryURL returns the regional Artifact Registry URL.
func (g *GCRRegistry) RegistryURL() string {
	return g.registryURL
}

// ImageURI returns the full regional image reference.
func (g *GCRRegistry) ImageURI() string {
	return g.imageURI
}

// Authenticate ensures the regional repository exists and configures
// Docker credentials for the regional registry host.
func (g *GCRRegistry) Authenticate(ctx context.Context) error {
	// Format: REGION-docker.pkg.dev/PROJECT_ID/REPOSITORY_NAME
	g.registryURL = fmt.Sprintf("%s-docker.pkg.dev/%s/%s", g.region, g.projectID, g.repositoryName)

	var client *artifactregistry.Service
	var err error
	if g.credentialsJSON != "" {
		client, err = artifactregistry.NewService(ctx, option.WithCredentialsJSON([]byte(g.credentialsJSON)))
	} else {
		client, err = artifactregistry.NewService(ctx)
	}
	if err != nil {
		return fmt.Errorf("failed to create Artifact Registry client: %w", err)
	}

	parent := fmt.Sprintf("projects/%s/locations/%s", g.projectID, g.region)
	repoName := fmt.Sprintf("%s/repositories/%s", parent, g.repositoryName)

	_, err = client.Projects.Locations.Repositories.Get(repoName).Context(ctx).Do()
	if err != nil {
		logging.Debug("creating Artifact Registry repository", "repository", g.repositoryName, "region", g.region)

		repo := &artifactregistry.Repository{
			Format:      "DOCKER",
			Description: fmt.Sprintf("Regional repository for %s", g.repositoryName),
		}
		_, err = client.Projects.Locations.Repositories.Create(parent, repo).
			RepositoryId(g.repositoryName).
			Context(ctx).
			Do()
		if err != nil && !strings.Contains(err.Error(), "already exists") {
			return fmt.Errorf("failed to create Artifact Registry repository: %w", err)
		}
	}

	registryHost := fmt.Sprintf("%s-docker.pkg.dev", g.region)
	_, err = execCommand(ctx, "gcloud", "auth", "configure-docker", registryHost, "--quiet")
	if err != nil {
		return fmt.Errorf("failed to configure Docker for Artifact Registry: %w", err)
	}

	logging.Info("authenticated with regional Artifact Registry", "registry", g.registryURL)
	return nil
}

// TagImage tags the source image for this region's repository.
func (g *GCRRegistry) TagImage(ctx context.Context, sourceImage string) (string, error) {
	parts := strings.Split(sourceImage, "/")
	imageName := parts[len(parts)-1]
	if idx := strings.Index(imageName, ":"); idx != -1 {
		imageName = imageName[:idx]
	}

	// Format: REGION-docker.pkg.dev/PROJECT_ID/REPOSITORY_NAME/IMAGE_NAME:TAG
	g.imageURI = fmt.Sprintf("%s/%s:%s", g.registryURL, imageName, g.imageTag)

	if err := dockerTag(ctx, sourceImage, g.imageURI); err != nil {
		return "", fmt.Errorf("failed to tag image for Artifact Registry: %w", err)
	}
	return g.imageURI, nil
}

// PushImage pushes the tagged image to this region's repository.
func (g *GCRRegistry) PushImage(ctx context.Context, taggedImage string) error {
	if err := dockerPush(ctx, taggedImage); err != nil {
		return fmt.Errorf("failed to push image to Artifact Registry: %w", err)
	}
	return nil
}
