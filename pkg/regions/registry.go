// Package regions provides the registry of known regions and their
// metadata: primary designation, health, and tags. Every other component
// consults the registry for region state; all mutations are serialized
// behind a single registry-wide lock so primary reassignment is atomic
// across the whole set.
package regions

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jvreagan/multi-region/pkg/logging"
	"github.com/jvreagan/multi-region/pkg/types"
)

// DuplicateRegionError is returned when adding a region whose ID is
// already present.
type DuplicateRegionError struct {
	RegionID string
}

func (e *DuplicateRegionError) Error() string {
	return fmt.Sprintf("region already exists: %s", e.RegionID)
}

// UnknownRegionError is returned when an operation targets a region the
// registry does not know.
type UnknownRegionError struct {
	RegionID string
}

func (e *UnknownRegionError) Error() string {
	return fmt.Sprintf("unknown region: %s", e.RegionID)
}

// PrimaryRemovalError is returned when removing the current primary.
// The primary must be reassigned before removal.
type PrimaryRemovalError struct {
	RegionID string
}

func (e *PrimaryRemovalError) Error() string {
	return fmt.Sprintf("cannot remove primary region %s: reassign primary first", e.RegionID)
}

// TagObservation is one entry from an external source of truth
// (e.g., cloud resource tags) consumed by SyncFromExternalTags.
type TagObservation struct {
	RegionID     string
	Tags         map[string]string
	HealthStatus types.HealthStatus
}

// Registry holds the known regions. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	regions map[string]*types.RegionMetadata
	now     func() time.Time
}

// NewRegistry creates an empty region registry.
func NewRegistry() *Registry {
	return &Registry{
		regions: make(map[string]*types.RegionMetadata),
		now:     time.Now,
	}
}

// AddRegion adds a new region. Returns DuplicateRegionError if the
// region ID is already present. The new region is created non-primary
// unless meta.IsPrimary is set and no primary exists yet.
func (r *Registry) AddRegion(meta types.RegionMetadata) error {
	if meta.RegionID == "" {
		return fmt.Errorf("region id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.regions[meta.RegionID]; exists {
		return &DuplicateRegionError{RegionID: meta.RegionID}
	}

	stored := meta.Clone()
	stored.CreatedAt = r.now()
	if stored.IsPrimary && r.currentPrimaryLocked() != nil {
		// A primary already exists; new regions never displace it.
		stored.IsPrimary = false
	}

	r.regions[meta.RegionID] = &stored
	logging.Info("region added", "region", meta.RegionID, "primary", stored.IsPrimary)
	return nil
}

// SetPrimary promotes the target region to primary and demotes the
// previous primary in the same mutation. No observer can see two
// primaries or zero primaries mid-update.
func (r *Registry) SetPrimary(regionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	target, exists := r.regions[regionID]
	if !exists {
		return &UnknownRegionError{RegionID: regionID}
	}

	if prev := r.currentPrimaryLocked(); prev != nil {
		prev.IsPrimary = false
	}
	target.IsPrimary = true

	logging.Info("primary region changed", "region", regionID)
	return nil
}

// GetRegion returns a copy of the region's metadata.
func (r *Registry) GetRegion(regionID string) (types.RegionMetadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	meta, exists := r.regions[regionID]
	if !exists {
		return types.RegionMetadata{}, &UnknownRegionError{RegionID: regionID}
	}
	return meta.Clone(), nil
}

// Primary returns the current primary region, if one exists.
func (r *Registry) Primary() (types.RegionMetadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if p := r.currentPrimaryLocked(); p != nil {
		return p.Clone(), true
	}
	return types.RegionMetadata{}, false
}

// ListRegions returns all regions, primary first (if one exists), the
// rest ordered by region ID ascending. The order is deterministic and
// independent of insertion order.
func (r *Registry) ListRegions() []types.RegionMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.RegionMetadata, 0, len(r.regions))
	for _, meta := range r.regions {
		out = append(out, meta.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsPrimary != out[j].IsPrimary {
			return out[i].IsPrimary
		}
		return out[i].RegionID < out[j].RegionID
	})
	return out
}

// RemoveRegion removes a region by explicit operator action. Removing
// the current primary fails with PrimaryRemovalError.
func (r *Registry) RemoveRegion(regionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	meta, exists := r.regions[regionID]
	if !exists {
		return &UnknownRegionError{RegionID: regionID}
	}
	if meta.IsPrimary {
		return &PrimaryRemovalError{RegionID: regionID}
	}

	delete(r.regions, regionID)
	logging.Info("region removed", "region", regionID)
	return nil
}

// UpdateHealth records a new health status for a region.
func (r *Registry) UpdateHealth(regionID string, status types.HealthStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	meta, exists := r.regions[regionID]
	if !exists {
		return &UnknownRegionError{RegionID: regionID}
	}
	meta.HealthStatus = status
	return nil
}

// SyncFromExternalTags reconciles registry entries against an external
// source of truth. Missing regions are created, existing ones get their
// tags and health updated. Regions absent from the observations are
// never deleted; deletion is operator-only. Running the same
// observations twice leaves the registry unchanged after the first run.
func (r *Registry) SyncFromExternalTags(observations []TagObservation) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for _, obs := range observations {
		if obs.RegionID == "" {
			continue
		}

		meta, exists := r.regions[obs.RegionID]
		if !exists {
			meta = &types.RegionMetadata{
				RegionID:  obs.RegionID,
				CreatedAt: now,
			}
			r.regions[obs.RegionID] = meta
			logging.Info("region created from external tags", "region", obs.RegionID)
		}

		meta.HealthStatus = obs.HealthStatus
		meta.Tags = make(map[string]string, len(obs.Tags))
		for k, v := range obs.Tags {
			meta.Tags[k] = v
		}
		meta.LastSyncedAt = now
	}
}

// currentPrimaryLocked returns the primary region. Caller holds the lock.
func (r *Registry) currentPrimaryLocked() *types.RegionMetadata {
	for _, meta := range r.regions {
		if meta.IsPrimary {
			return meta
		}
	}
	return nil
}
