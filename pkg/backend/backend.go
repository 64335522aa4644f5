// Package backend defines the region deployment backend interface that
// all cloud backends must implement. The abstraction lets the parallel
// deployer and the failover engine stand up a workload in any region
// (AWS, GCP, Azure) through one consistent surface.
package backend

import (
	"context"
	"fmt"

	"github.com/jvreagan/multi-region/pkg/backends/aws"
	"github.com/jvreagan/multi-region/pkg/backends/azure"
	"github.com/jvreagan/multi-region/pkg/backends/gcp"
	"github.com/jvreagan/multi-region/pkg/credentials"
	"github.com/jvreagan/multi-region/pkg/manifest"
	"github.com/jvreagan/multi-region/pkg/types"
)

// Backend is the region deployment capability consumed by the parallel
// deployer. Each implementation handles one cloud's mechanics for
// standing up the workload in a single region.
type Backend interface {
	// Name returns the backend name (e.g., "aws", "gcp", "azure")
	Name() string

	// Deploy stands up the workload in one region and returns an opaque
	// endpoint descriptor (typically a URL). Any transport or
	// provisioning error fails the deployment of that region only.
	Deploy(ctx context.Context, regionID string, m *manifest.Manifest) (string, error)

	// Teardown removes the workload from one region.
	// Use with caution - this action is typically irreversible.
	Teardown(ctx context.Context, regionID string, m *manifest.Manifest) error

	// Status reports the current state of the workload in one region.
	Status(ctx context.Context, regionID string, m *manifest.Manifest) (*types.RegionDeploymentStatus, error)
}

// Roller is implemented by backends that can roll a region back to the
// previously deployed version. Callers discover support with a type
// assertion.
type Roller interface {
	Rollback(ctx context.Context, regionID string, m *manifest.Manifest) (string, error)
}

// Factory creates a backend from the manifest configuration.
//
// Supported backends: aws, gcp, azure
//
// Example:
//
//	b, err := backend.Factory(ctx, m)
//	if err != nil {
//	  log.Fatal(err)
//	}
//
// Returns an error if the backend is not supported.
func Factory(ctx context.Context, m *manifest.Manifest) (Backend, error) {
	creds, err := credentials.Resolve(ctx, m)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve backend credentials: %w", err)
	}

	// The backend config is copied so resolved credentials never leak
	// back into the manifest.
	cfg := m.Backend
	cfg.Credentials = creds

	switch cfg.Name {
	case "aws":
		return aws.New(ctx, creds)
	case "gcp":
		return gcp.New(ctx, &cfg)
	case "azure":
		return azure.New(ctx, &cfg)
	default:
		return nil, fmt.Errorf("unknown backend: %s", cfg.Name)
	}
}
