// Package registry replicates the workload container image into
// region-local container registries (ECR, ACR, Artifact Registry) so
// each region pulls from a registry in its own geography.
package registry

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/jvreagan/multi-region/pkg/logging"
)

// Registry is one region-local container registry.
type Registry interface {
	// Region returns the region this registry lives in
	Region() string

	// RegistryURL returns the registry host for the region
	RegistryURL() string

	// Authenticate logs the local Docker daemon into the registry,
	// creating the repository if needed
	Authenticate(ctx context.Context) error

	// TagImage tags a local image for this registry and returns the
	// regional reference
	TagImage(ctx context.Context, sourceImage string) (string, error)

	// PushImage pushes the tagged image to the registry
	PushImage(ctx context.Context, taggedImage string) error

	// ImageURI returns the full regional image reference
	ImageURI() string
}

// Replicator pushes one source image into a registry per target region.
type Replicator struct {
	sourceImage string
	registries  []Registry
}

// NewReplicator creates a replicator for the given source image.
func NewReplicator(sourceImage string) *Replicator {
	return &Replicator{sourceImage: sourceImage}
}

// AddRegistry registers another regional registry to replicate into.
func (r *Replicator) AddRegistry(reg Registry) {
	r.registries = append(r.registries, reg)
}

// Replicate authenticates, tags, and pushes the source image into every
// registered regional registry. Returns regional image references keyed
// by region.
func (r *Replicator) Replicate(ctx context.Context) (map[string]string, error) {
	imageURIs := make(map[string]string, len(r.registries))

	for _, reg := range r.registries {
		logging.Info("replicating image to regional registry",
			"image", r.sourceImage,
			"region", reg.Region())

		if err := reg.Authenticate(ctx); err != nil {
			return nil, fmt.Errorf("failed to authenticate with registry in %s: %w", reg.Region(), err)
		}

		taggedImage, err := reg.TagImage(ctx, r.sourceImage)
		if err != nil {
			return nil, fmt.Errorf("failed to tag image for %s: %w", reg.Region(), err)
		}

		if err := reg.PushImage(ctx, taggedImage); err != nil {
			return nil, fmt.Errorf("failed to push image to %s: %w", reg.Region(), err)
		}

		logging.Info("image replicated", "region", reg.Region(), "uri", reg.ImageURI())
		imageURIs[reg.Region()] = reg.ImageURI()
	}

	return imageURIs, nil
}

// execCommand executes a shell command and returns trimmed output.
func execCommand(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("command failed: %s\nOutput: %s", err, string(output))
	}
	return strings.TrimSpace(string(output)), nil
}

func dockerTag(ctx context.Context, sourceImage, targetImage string) error {
	logging.Debug("tagging image", "source", sourceImage, "target", targetImage)
	_, err := execCommand(ctx, "docker", "tag", sourceImage, targetImage)
	return err
}

func dockerPush(ctx context.Context, image string) error {
	logging.Debug("pushing image", "image", image)
	_, err := execCommand(ctx, "docker", "push", image)
	return err
}
