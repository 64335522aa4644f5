package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/jvreagan/multi-region/pkg/backend"
	"github.com/jvreagan/multi-region/pkg/deployer"
	"github.com/jvreagan/multi-region/pkg/failover"
	"github.com/jvreagan/multi-region/pkg/manifest"
	"github.com/jvreagan/multi-region/pkg/regions"
	"github.com/jvreagan/multi-region/pkg/syncer"
	"github.com/jvreagan/multi-region/pkg/types"
)

// Version information (set via ldflags during build)
var (
	version = "0.1.0"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var (
		manifestFile = flag.String("manifest", "region-manifest.yaml", "Path to region manifest file")
		command      = flag.String("command", "deploy", "Command to execute: deploy, teardown, status, regions, sync, failover, promote, rollback")
		region       = flag.String("region", "", "Target region for failover, promote, and rollback")
		failure      = flag.String("failure", "", "Observed failure type for failover: none, network_unreachable, vm_stopped, high_latency, resource_exhausted, unknown")
		syncSource   = flag.String("sync-source", "", "Source region for sync")
		syncDest     = flag.String("sync-dest", "", "Destination region for sync")
		syncPath     = flag.String("sync-path", "", "Source directory to sync")
		showVersion  = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("multi-region version %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built: %s\n", date)
		os.Exit(0)
	}

	m, err := manifest.Load(*manifestFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading manifest: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()

	switch *command {
	case "deploy":
		err = runDeploy(ctx, m)
	case "teardown":
		err = runTeardown(ctx, m)
	case "status":
		err = runStatus(ctx, m)
	case "regions":
		err = runRegions(m)
	case "sync":
		err = runSync(ctx, m, *syncSource, *syncDest, *syncPath)
	case "failover":
		err = runFailover(ctx, m, *region, *failure)
	case "promote":
		err = runPromote(m, *region)
	case "rollback":
		err = runRollback(ctx, m, *region)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", *command)
		fmt.Fprintf(os.Stderr, "Valid commands: deploy, teardown, status, regions, sync, failover, promote, rollback\n")
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "%s failed: %v\n", *command, err)
		os.Exit(1)
	}
}

// buildRegistry seeds a region registry from the manifest targets. The
// first target starts as primary.
func buildRegistry(m *manifest.Manifest) (*regions.Registry, error) {
	reg := regions.NewRegistry()
	for i, id := range m.Regions.Targets {
		meta := types.RegionMetadata{
			RegionID:     id,
			IsPrimary:    i == 0,
			HealthStatus: types.HealthUnknown,
		}
		if err := reg.AddRegion(meta); err != nil {
			return nil, fmt.Errorf("failed to register region %s: %w", id, err)
		}
	}
	return reg, nil
}

func runDeploy(ctx context.Context, m *manifest.Manifest) error {
	b, err := backend.Factory(ctx, m)
	if err != nil {
		return err
	}

	d := deployer.New(b)
	result, err := d.DeployToRegions(ctx, m.Regions.Targets, m, m.Regions.MaxConcurrent, m.Regions.TimeoutPerRegion.Std())
	if err != nil {
		return err
	}

	fmt.Printf("Deployed %s to %d region(s):\n", m.Workload.Name, len(result.Results))
	for _, r := range result.Results {
		switch r.Status {
		case types.DeploySucceeded:
			fmt.Printf("  ✓ %-16s %s (%s)\n", r.RegionID, r.Status, r.Endpoint)
		default:
			fmt.Printf("  ✗ %-16s %s: %s\n", r.RegionID, r.Status, r.ErrorDetail)
		}
	}
	fmt.Printf("Success rate: %.0f%%\n", result.SuccessRate()*100)

	if result.FailureCount() > 0 {
		return fmt.Errorf("%d region(s) failed", result.FailureCount())
	}
	return nil
}

func runTeardown(ctx context.Context, m *manifest.Manifest) error {
	b, err := backend.Factory(ctx, m)
	if err != nil {
		return err
	}

	for _, id := range m.Regions.Targets {
		fmt.Printf("Tearing down %s in %s...\n", m.Workload.Name, id)
		if err := b.Teardown(ctx, id, m); err != nil {
			return fmt.Errorf("teardown of %s: %w", id, err)
		}
	}
	fmt.Printf("✓ Teardown complete\n")
	return nil
}

func runStatus(ctx context.Context, m *manifest.Manifest) error {
	b, err := backend.Factory(ctx, m)
	if err != nil {
		return err
	}

	fmt.Printf("Workload %s on %s:\n", m.Workload.Name, b.Name())
	for _, id := range m.Regions.Targets {
		status, err := b.Status(ctx, id, m)
		if err != nil {
			fmt.Printf("  %-16s status unavailable: %v\n", id, err)
			continue
		}
		fmt.Printf("  %-16s status=%s health=%s endpoint=%s updated=%s\n",
			status.RegionID, status.Status, status.Health, status.Endpoint, status.LastUpdated)
	}
	return nil
}

func runRegions(m *manifest.Manifest) error {
	reg, err := buildRegistry(m)
	if err != nil {
		return err
	}

	fmt.Printf("Configured regions:\n")
	for _, meta := range reg.ListRegions() {
		marker := " "
		if meta.IsPrimary {
			marker = "*"
		}
		fmt.Printf("  %s %-16s health=%s\n", marker, meta.RegionID, meta.HealthStatus)
	}
	return nil
}

func runSync(ctx context.Context, m *manifest.Manifest, source, dest, path string) error {
	if source == "" || dest == "" || path == "" {
		return fmt.Errorf("sync requires -sync-source, -sync-dest, and -sync-path")
	}

	dataDir := m.Sync.DataDir
	if dataDir == "" {
		dataDir = "."
	}

	store, err := stagingStore(ctx, m, source)
	if err != nil {
		return err
	}

	engine := syncer.NewEngine(syncer.NewLocalTransferBackend(dataDir), store)
	result, err := engine.Sync(ctx, source, dest, path, syncer.Options{
		DeleteStale: m.Sync.DeleteStale,
	})
	if err != nil {
		return err
	}

	fmt.Printf("✓ Synced %s -> %s\n", source, dest)
	fmt.Printf("  Strategy: %s\n", result.StrategyUsed)
	fmt.Printf("  Bytes: %d\n", result.BytesTransferred)
	fmt.Printf("  Duration: %s\n", result.Duration)
	if result.DeletedStaleFiles {
		fmt.Printf("  Stale destination files removed\n")
	}
	return nil
}

// stagingStore builds the object store backing staged transfers,
// matching the manifest's cloud backend. Small payloads never touch
// it, so a missing staging bucket is only an error once a large
// payload shows up.
func stagingStore(ctx context.Context, m *manifest.Manifest, sourceRegion string) (syncer.ObjectStore, error) {
	if m.Sync.StagingBucket == "" {
		return nil, nil
	}

	switch m.Backend.Name {
	case "aws":
		return syncer.NewS3ObjectStore(ctx, sourceRegion, m.Sync.StagingBucket)
	case "gcp":
		return syncer.NewGCSObjectStore(ctx, m.Sync.StagingBucket)
	case "azure":
		return syncer.NewAzureBlobStore(m.Sync.StagingAccount, m.Sync.StagingBucket)
	default:
		return nil, fmt.Errorf("no staging store for backend %s", m.Backend.Name)
	}
}

func runFailover(ctx context.Context, m *manifest.Manifest, region, failure string) error {
	if region == "" {
		return fmt.Errorf("failover requires -region")
	}

	failureType, err := types.ParseFailureType(failure)
	if err != nil {
		return err
	}

	mode, err := failover.ParseMode(m.Failover.Mode)
	if err != nil {
		return err
	}

	reg, err := buildRegistry(m)
	if err != nil {
		return err
	}

	b, err := backend.Factory(ctx, m)
	if err != nil {
		return err
	}

	engine := failover.NewEngine(mode, reg, deployer.New(b))
	decision, err := engine.Evaluate(types.HealthCheckResult{
		RegionID:    region,
		ObservedAt:  time.Now(),
		FailureType: failureType,
		RawSignal:   fmt.Sprintf("operator-reported %s", failure),
	})
	if err != nil {
		return err
	}

	fmt.Printf("Failover evaluation for %s:\n", region)
	fmt.Printf("  Action: %s\n", decision.RecommendedAction)
	fmt.Printf("  Candidate: %s\n", decision.CandidateRegionID)
	fmt.Printf("  Confidence: %.2f\n", decision.Confidence)
	fmt.Printf("  Reasoning: %s\n", decision.Reasoning)

	if decision.RecommendedAction == types.ActionAutoFailover {
		fmt.Printf("Executing automatic failover to %s...\n", decision.CandidateRegionID)
		if err := engine.ExecuteFailover(ctx, decision, m); err != nil {
			return err
		}
		fmt.Printf("✓ %s is now primary\n", decision.CandidateRegionID)
	}
	return nil
}

func runPromote(m *manifest.Manifest, region string) error {
	if region == "" {
		return fmt.Errorf("promote requires -region")
	}

	mode, err := failover.ParseMode(m.Failover.Mode)
	if err != nil {
		return err
	}

	reg, err := buildRegistry(m)
	if err != nil {
		return err
	}

	engine := failover.NewEngine(mode, reg, nil)
	if err := engine.ResolveManually(region); err != nil {
		return err
	}

	fmt.Printf("✓ %s promoted to primary\n", region)
	return nil
}

func runRollback(ctx context.Context, m *manifest.Manifest, region string) error {
	if region == "" {
		return fmt.Errorf("rollback requires -region")
	}

	b, err := backend.Factory(ctx, m)
	if err != nil {
		return err
	}

	roller, ok := b.(backend.Roller)
	if !ok {
		return fmt.Errorf("backend %s does not support rollback", b.Name())
	}

	fmt.Printf("Rolling back %s in %s...\n", m.Workload.Name, region)
	url, err := roller.Rollback(ctx, region, m)
	if err != nil {
		return err
	}
	fmt.Printf("✓ Rollback complete: %s\n", url)
	return nil
}
