package regions

import (
	"errors"
	"fmt"
	"math/rand"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/jvreagan/multi-region/pkg/types"
)

func TestAddRegionDuplicate(t *testing.T) {
	r := NewRegistry()

	if err := r.AddRegion(types.RegionMetadata{RegionID: "us-east-2"}); err != nil {
		t.Fatalf("AddRegion failed: %v", err)
	}

	err := r.AddRegion(types.RegionMetadata{RegionID: "us-east-2"})
	var dup *DuplicateRegionError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateRegionError, got %v", err)
	}
	if dup.RegionID != "us-east-2" {
		t.Errorf("error carries wrong region: %s", dup.RegionID)
	}
}

func TestAddRegionPrimaryDefaulting(t *testing.T) {
	r := NewRegistry()

	// First region may claim primary.
	if err := r.AddRegion(types.RegionMetadata{RegionID: "us-east-2", IsPrimary: true}); err != nil {
		t.Fatalf("AddRegion failed: %v", err)
	}

	// Second region requesting primary must not displace the existing one.
	if err := r.AddRegion(types.RegionMetadata{RegionID: "eu-west-1", IsPrimary: true}); err != nil {
		t.Fatalf("AddRegion failed: %v", err)
	}

	meta, err := r.GetRegion("eu-west-1")
	if err != nil {
		t.Fatalf("GetRegion failed: %v", err)
	}
	if meta.IsPrimary {
		t.Error("second region should not have become primary")
	}

	primary, ok := r.Primary()
	if !ok || primary.RegionID != "us-east-2" {
		t.Errorf("primary = %v, want us-east-2", primary.RegionID)
	}
}

func TestSetPrimaryAtomicReassignment(t *testing.T) {
	r := NewRegistry()
	for _, id := range []string{"us-east-2", "eu-west-1", "ap-south-1"} {
		if err := r.AddRegion(types.RegionMetadata{RegionID: id}); err != nil {
			t.Fatalf("AddRegion failed: %v", err)
		}
	}

	if err := r.SetPrimary("us-east-2"); err != nil {
		t.Fatalf("SetPrimary failed: %v", err)
	}
	if err := r.SetPrimary("eu-west-1"); err != nil {
		t.Fatalf("SetPrimary failed: %v", err)
	}

	count := 0
	for _, meta := range r.ListRegions() {
		if meta.IsPrimary {
			count++
			if meta.RegionID != "eu-west-1" {
				t.Errorf("wrong primary: %s", meta.RegionID)
			}
		}
	}
	if count != 1 {
		t.Errorf("expected exactly one primary, found %d", count)
	}
}

func TestSetPrimaryUnknownRegion(t *testing.T) {
	r := NewRegistry()
	err := r.SetPrimary("nowhere-1")
	var unknown *UnknownRegionError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownRegionError, got %v", err)
	}
}

// Under randomized concurrent SetPrimary calls the registry must never
// hold zero or two primaries once the first promotion has happened.
func TestSetPrimaryConcurrent(t *testing.T) {
	r := NewRegistry()
	ids := []string{"us-east-2", "eu-west-1", "ap-south-1", "us-west-1", "sa-east-1"}
	for _, id := range ids {
		if err := r.AddRegion(types.RegionMetadata{RegionID: id}); err != nil {
			t.Fatalf("AddRegion failed: %v", err)
		}
	}
	if err := r.SetPrimary(ids[0]); err != nil {
		t.Fatalf("SetPrimary failed: %v", err)
	}

	rng := rand.New(rand.NewSource(42))
	targets := make([]string, 200)
	for i := range targets {
		targets[i] = ids[rng.Intn(len(ids))]
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	observerDone := make(chan struct{})
	violation := make(chan string, 1)

	// Observer goroutine checks the one-primary invariant continuously.
	// It runs until the writers are done, so it is deliberately not part
	// of the writers' WaitGroup.
	go func() {
		defer close(observerDone)
		for {
			select {
			case <-stop:
				return
			default:
			}
			count := 0
			for _, meta := range r.ListRegions() {
				if meta.IsPrimary {
					count++
				}
			}
			if count != 1 {
				select {
				case violation <- fmt.Sprintf("observed %d primaries", count):
				default:
				}
				return
			}
		}
	}()

	for _, target := range targets {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := r.SetPrimary(id); err != nil {
				t.Errorf("SetPrimary(%s) failed: %v", id, err)
			}
		}(target)
	}

	// Let writers finish, then stop the observer.
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case msg := <-violation:
		t.Fatal(msg)
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("timeout waiting for concurrent SetPrimary calls")
	}
	close(stop)
	<-observerDone

	select {
	case msg := <-violation:
		t.Fatal(msg)
	default:
	}
}

func TestListRegionsOrdering(t *testing.T) {
	r := NewRegistry()
	// Insertion order deliberately scrambled.
	for _, id := range []string{"us-west-1", "ap-south-1", "eu-west-1", "us-east-2"} {
		if err := r.AddRegion(types.RegionMetadata{RegionID: id}); err != nil {
			t.Fatalf("AddRegion failed: %v", err)
		}
	}
	if err := r.SetPrimary("us-west-1"); err != nil {
		t.Fatalf("SetPrimary failed: %v", err)
	}

	var got []string
	for _, meta := range r.ListRegions() {
		got = append(got, meta.RegionID)
	}
	want := []string{"us-west-1", "ap-south-1", "eu-west-1", "us-east-2"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ListRegions order = %v, want %v", got, want)
	}
}

func TestRemoveRegion(t *testing.T) {
	r := NewRegistry()
	if err := r.AddRegion(types.RegionMetadata{RegionID: "us-east-2", IsPrimary: true}); err != nil {
		t.Fatalf("AddRegion failed: %v", err)
	}
	if err := r.AddRegion(types.RegionMetadata{RegionID: "eu-west-1"}); err != nil {
		t.Fatalf("AddRegion failed: %v", err)
	}

	// Removing the primary must fail.
	err := r.RemoveRegion("us-east-2")
	var primaryErr *PrimaryRemovalError
	if !errors.As(err, &primaryErr) {
		t.Fatalf("expected PrimaryRemovalError, got %v", err)
	}

	// Reassign, then removal succeeds.
	if err := r.SetPrimary("eu-west-1"); err != nil {
		t.Fatalf("SetPrimary failed: %v", err)
	}
	if err := r.RemoveRegion("us-east-2"); err != nil {
		t.Fatalf("RemoveRegion failed: %v", err)
	}
	if _, err := r.GetRegion("us-east-2"); err == nil {
		t.Error("region still present after removal")
	}
}

func TestSyncFromExternalTagsIdempotent(t *testing.T) {
	r := NewRegistry()
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return fixed }

	observations := []TagObservation{
		{
			RegionID:     "us-east-2",
			Tags:         map[string]string{"env": "prod", "owner": "platform"},
			HealthStatus: types.HealthHealthy,
		},
		{
			RegionID:     "eu-west-1",
			Tags:         map[string]string{"env": "prod"},
			HealthStatus: types.HealthDegraded,
		},
	}

	r.SyncFromExternalTags(observations)
	first := r.ListRegions()

	r.SyncFromExternalTags(observations)
	second := r.ListRegions()

	if !reflect.DeepEqual(first, second) {
		t.Errorf("registry state changed on second identical sync:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

func TestSyncFromExternalTagsNeverDeletes(t *testing.T) {
	r := NewRegistry()
	if err := r.AddRegion(types.RegionMetadata{RegionID: "ap-south-1"}); err != nil {
		t.Fatalf("AddRegion failed: %v", err)
	}

	// Observation set that does not mention ap-south-1.
	r.SyncFromExternalTags([]TagObservation{
		{RegionID: "us-east-2", HealthStatus: types.HealthHealthy},
	})

	if _, err := r.GetRegion("ap-south-1"); err != nil {
		t.Errorf("sync deleted a region not present in observations: %v", err)
	}
}

func TestSyncFromExternalTagsUpdatesExisting(t *testing.T) {
	r := NewRegistry()
	if err := r.AddRegion(types.RegionMetadata{
		RegionID: "us-east-2",
		Tags:     map[string]string{"env": "staging"},
	}); err != nil {
		t.Fatalf("AddRegion failed: %v", err)
	}

	r.SyncFromExternalTags([]TagObservation{
		{
			RegionID:     "us-east-2",
			Tags:         map[string]string{"env": "prod"},
			HealthStatus: types.HealthDegraded,
		},
	})

	meta, err := r.GetRegion("us-east-2")
	if err != nil {
		t.Fatalf("GetRegion failed: %v", err)
	}
	if meta.Tags["env"] != "prod" {
		t.Errorf("tags not updated: %v", meta.Tags)
	}
	if meta.HealthStatus != types.HealthDegraded {
		t.Errorf("health not updated: %v", meta.HealthStatus)
	}
	if meta.LastSyncedAt.IsZero() {
		t.Error("LastSyncedAt not recorded")
	}
}
