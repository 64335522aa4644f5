package deployer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jvreagan/multi-region/pkg/manifest"
	"github.com/jvreagan/multi-region/pkg/types"
)

// fakeBackend is an instrumented in-memory region deployment backend.
type fakeBackend struct {
	mu          sync.Mutex
	inFlight    int32
	maxInFlight int32
	calls       []string

	// Per-region behavior overrides
	failRegions map[string]error
	hangRegions map[string]bool
	delay       time.Duration
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		failRegions: make(map[string]error),
		hangRegions: make(map[string]bool),
	}
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Deploy(ctx context.Context, regionID string, m *manifest.Manifest) (string, error) {
	cur := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		max := atomic.LoadInt32(&f.maxInFlight)
		if cur <= max || atomic.CompareAndSwapInt32(&f.maxInFlight, max, cur) {
			break
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, regionID)
	f.mu.Unlock()

	if f.hangRegions[regionID] {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err := f.failRegions[regionID]; err != nil {
		return "", err
	}
	return fmt.Sprintf("https://%s.%s.example.com", m.Workload.Name, regionID), nil
}

func (f *fakeBackend) Teardown(ctx context.Context, regionID string, m *manifest.Manifest) error {
	return nil
}

func (f *fakeBackend) Status(ctx context.Context, regionID string, m *manifest.Manifest) (*types.RegionDeploymentStatus, error) {
	return &types.RegionDeploymentStatus{RegionID: regionID, Status: "Ready"}, nil
}

func (f *fakeBackend) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func testManifest() *manifest.Manifest {
	return &manifest.Manifest{
		Backend:  manifest.BackendConfig{Name: "aws"},
		Workload: manifest.WorkloadConfig{Name: "test-app", Image: "test-app:latest"},
	}
}

func TestDeployToRegionsEmptyList(t *testing.T) {
	fake := newFakeBackend()
	d := New(fake)

	_, err := d.DeployToRegions(context.Background(), nil, testManifest(), 2, time.Second)
	var empty *EmptyRegionListError
	if !errors.As(err, &empty) {
		t.Fatalf("expected EmptyRegionListError, got %v", err)
	}
	if fake.callCount() != 0 {
		t.Errorf("backend was invoked %d times for an empty region list", fake.callCount())
	}
}

func TestDeployToRegionsInvalidConcurrency(t *testing.T) {
	fake := newFakeBackend()
	d := New(fake)

	for _, n := range []int{0, -1} {
		_, err := d.DeployToRegions(context.Background(), []string{"us-east-2"}, testManifest(), n, time.Second)
		var invalid *InvalidConcurrencyError
		if !errors.As(err, &invalid) {
			t.Fatalf("max_concurrent=%d: expected InvalidConcurrencyError, got %v", n, err)
		}
		if invalid.MaxConcurrent != n {
			t.Errorf("error carries wrong cap: %d", invalid.MaxConcurrent)
		}
	}
}

func TestDeployToRegionsOrderMatchesInput(t *testing.T) {
	fake := newFakeBackend()
	// Stagger completions so completion order differs from input order.
	fake.delay = 5 * time.Millisecond
	d := New(fake)

	regions := []string{"us-west-1", "ap-south-1", "eu-west-1", "us-east-2", "sa-east-1"}
	result, err := d.DeployToRegions(context.Background(), regions, testManifest(), 5, 5*time.Second)
	if err != nil {
		t.Fatalf("DeployToRegions failed: %v", err)
	}

	if len(result.Results) != len(regions) {
		t.Fatalf("got %d results for %d regions", len(result.Results), len(regions))
	}
	for i, r := range result.Results {
		if r.RegionID != regions[i] {
			t.Errorf("results[%d] = %s, want %s", i, r.RegionID, regions[i])
		}
		if r.Status != types.DeploySucceeded {
			t.Errorf("region %s status = %s", r.RegionID, r.Status)
		}
		if r.Endpoint == "" {
			t.Errorf("region %s missing endpoint", r.RegionID)
		}
	}
	if result.SuccessRate() != 1.0 {
		t.Errorf("SuccessRate = %f", result.SuccessRate())
	}
}

func TestDeployToRegionsConcurrencyBound(t *testing.T) {
	fake := newFakeBackend()
	fake.delay = 20 * time.Millisecond
	d := New(fake)

	regions := make([]string, 12)
	for i := range regions {
		regions[i] = fmt.Sprintf("region-%02d", i)
	}

	const limit = 3
	result, err := d.DeployToRegions(context.Background(), regions, testManifest(), limit, 5*time.Second)
	if err != nil {
		t.Fatalf("DeployToRegions failed: %v", err)
	}
	if got := result.SuccessCount(); got != len(regions) {
		t.Fatalf("SuccessCount = %d, want %d", got, len(regions))
	}

	if observed := atomic.LoadInt32(&fake.maxInFlight); observed > limit {
		t.Errorf("observed %d concurrent backend calls, limit is %d", observed, limit)
	}
}

func TestDeployToRegionsPartialFailure(t *testing.T) {
	fake := newFakeBackend()
	fake.failRegions["eu-west-1"] = errors.New("provisioning quota exceeded")
	d := New(fake)

	regions := []string{"us-east-2", "eu-west-1", "ap-south-1"}
	result, err := d.DeployToRegions(context.Background(), regions, testManifest(), 3, 5*time.Second)
	if err != nil {
		t.Fatalf("partial failure must not fail the batch: %v", err)
	}

	if result.SuccessCount() != 2 || result.FailureCount() != 1 {
		t.Errorf("counts = %d/%d, want 2/1", result.SuccessCount(), result.FailureCount())
	}

	failed := result.Results[1]
	if failed.Status != types.DeployFailed {
		t.Errorf("eu-west-1 status = %s, want failed", failed.Status)
	}
	if failed.ErrorDetail == "" || failed.Endpoint != "" {
		t.Errorf("failed result malformed: %+v", failed)
	}
}

func TestDeployToRegionsTimeoutIsolation(t *testing.T) {
	fake := newFakeBackend()
	// One backend region never returns until its context is cancelled.
	fake.hangRegions["eu-west-1"] = true
	d := New(fake)

	regions := []string{"us-east-2", "eu-west-1", "ap-south-1"}
	start := time.Now()
	result, err := d.DeployToRegions(context.Background(), regions, testManifest(), 3, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("DeployToRegions failed: %v", err)
	}
	elapsed := time.Since(start)

	hung := result.Results[1]
	if hung.Status != types.DeployTimedOut {
		t.Errorf("hung region status = %s, want timed_out", hung.Status)
	}
	if hung.ErrorDetail == "" {
		t.Error("timed-out result is missing an error detail")
	}

	for _, i := range []int{0, 2} {
		if result.Results[i].Status != types.DeploySucceeded {
			t.Errorf("region %s was blocked by the hung region: %s",
				result.Results[i].RegionID, result.Results[i].Status)
		}
	}

	// The hung region should cost about one timeout, not longer.
	if elapsed > 2*time.Second {
		t.Errorf("batch took %v; hung region blocked completion", elapsed)
	}
}

func TestDeployToRegionsNoPendingResults(t *testing.T) {
	fake := newFakeBackend()
	fake.failRegions["region-b"] = errors.New("boom")
	fake.hangRegions["region-c"] = true
	d := New(fake)

	result, err := d.DeployToRegions(context.Background(),
		[]string{"region-a", "region-b", "region-c"}, testManifest(), 2, 30*time.Millisecond)
	if err != nil {
		t.Fatalf("DeployToRegions failed: %v", err)
	}

	for _, r := range result.Results {
		if !r.Status.Terminal() {
			t.Errorf("region %s returned non-terminal status %s", r.RegionID, r.Status)
		}
		if r.FinishedAt.IsZero() {
			t.Errorf("region %s missing FinishedAt", r.RegionID)
		}
	}
}

func TestDeployToRegionsSingleWorker(t *testing.T) {
	fake := newFakeBackend()
	fake.delay = 5 * time.Millisecond
	d := New(fake)

	regions := []string{"r1", "r2", "r3", "r4"}
	result, err := d.DeployToRegions(context.Background(), regions, testManifest(), 1, time.Second)
	if err != nil {
		t.Fatalf("DeployToRegions failed: %v", err)
	}
	if observed := atomic.LoadInt32(&fake.maxInFlight); observed != 1 {
		t.Errorf("observed %d concurrent calls with max_concurrent=1", observed)
	}
	if result.SuccessCount() != len(regions) {
		t.Errorf("SuccessCount = %d", result.SuccessCount())
	}
}
