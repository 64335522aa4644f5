// Package deployer deploys a workload into a set of regions in parallel.
// Concurrency is bounded by a fixed-size semaphore, each region gets an
// independent timeout, and the aggregate result preserves the input
// region order regardless of completion order. A failure or timeout in
// one region never cancels or blocks the others.
package deployer

import (
	"context"
	"fmt"
	"time"

	"github.com/jvreagan/multi-region/pkg/backend"
	"github.com/jvreagan/multi-region/pkg/logging"
	"github.com/jvreagan/multi-region/pkg/manifest"
	"github.com/jvreagan/multi-region/pkg/types"
)

// EmptyRegionListError is returned when DeployToRegions is called with
// no target regions. An empty MultiRegionResult is never returned
// silently.
type EmptyRegionListError struct{}

func (e *EmptyRegionListError) Error() string {
	return "no target regions: region list must not be empty"
}

// InvalidConcurrencyError is returned when the concurrency cap is below 1.
type InvalidConcurrencyError struct {
	MaxConcurrent int
}

func (e *InvalidConcurrencyError) Error() string {
	return fmt.Sprintf("invalid max_concurrent %d: must be at least 1", e.MaxConcurrent)
}

// Deployer coordinates bounded parallel deployment through a region
// deployment backend.
type Deployer struct {
	backend backend.Backend
	now     func() time.Time
}

// New creates a deployer on top of the given backend.
func New(b backend.Backend) *Deployer {
	return &Deployer{
		backend: b,
		now:     time.Now,
	}
}

type regionOutcome struct {
	endpoint string
	err      error
}

// DeployToRegions deploys the manifest's workload to every region in
// regions, at most maxConcurrent at a time, giving each region
// timeoutPerRegion to finish. The call blocks until every region has
// reached a terminal state; per-region failures and timeouts are
// recorded in the result rather than aborting the batch.
//
// Results are ordered to match the input regions slice.
func (d *Deployer) DeployToRegions(ctx context.Context, regions []string, m *manifest.Manifest, maxConcurrent int, timeoutPerRegion time.Duration) (*types.MultiRegionResult, error) {
	if len(regions) == 0 {
		return nil, &EmptyRegionListError{}
	}
	if maxConcurrent < 1 {
		return nil, &InvalidConcurrencyError{MaxConcurrent: maxConcurrent}
	}

	logging.Info("starting multi-region deployment",
		"workload", m.Workload.Name,
		"regions", len(regions),
		"max_concurrent", maxConcurrent,
		"timeout_per_region", timeoutPerRegion.String())

	// Each worker owns exactly one slot; the pre-sized slice is the
	// collection barrier that restores input order.
	results := make([]types.DeploymentResult, len(regions))
	sem := make(chan struct{}, maxConcurrent)
	done := make(chan int, len(regions))

	for i, region := range regions {
		go func(slot int, regionID string) {
			sem <- struct{}{}
			defer func() { <-sem }()
			results[slot] = d.deployOne(ctx, regionID, m, timeoutPerRegion)
			done <- slot
		}(i, region)
	}

	for range regions {
		<-done
	}

	result := &types.MultiRegionResult{Results: results}
	logging.Info("multi-region deployment finished",
		"workload", m.Workload.Name,
		"succeeded", result.SuccessCount(),
		"failed", result.FailureCount(),
		"success_rate", result.SuccessRate())
	return result, nil
}

// deployOne runs one region deployment with its own timeout. A backend
// that outlives the timeout is abandoned: its context is cancelled and
// the region is recorded as timed out.
func (d *Deployer) deployOne(ctx context.Context, regionID string, m *manifest.Manifest, timeout time.Duration) types.DeploymentResult {
	started := d.now()

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	outcome := make(chan regionOutcome, 1)
	go func() {
		endpoint, err := d.backend.Deploy(callCtx, regionID, m)
		outcome <- regionOutcome{endpoint: endpoint, err: err}
	}()

	select {
	case out := <-outcome:
		finished := d.now()
		if out.err != nil {
			logging.Error("region deployment failed", "region", regionID, "error", out.err.Error())
			return types.DeploymentResult{
				RegionID:    regionID,
				Status:      types.DeployFailed,
				StartedAt:   started,
				FinishedAt:  finished,
				ErrorDetail: out.err.Error(),
			}
		}
		logging.Info("region deployment succeeded", "region", regionID, "endpoint", out.endpoint)
		return types.DeploymentResult{
			RegionID:   regionID,
			Status:     types.DeploySucceeded,
			StartedAt:  started,
			FinishedAt: finished,
			Endpoint:   out.endpoint,
		}
	case <-callCtx.Done():
		finished := d.now()
		logging.Warn("region deployment timed out", "region", regionID, "timeout", timeout.String())
		return types.DeploymentResult{
			RegionID:    regionID,
			Status:      types.DeployTimedOut,
			StartedAt:   started,
			FinishedAt:  finished,
			ErrorDetail: fmt.Sprintf("deployment did not complete within %s: %v", timeout, callCtx.Err()),
		}
	}
}
