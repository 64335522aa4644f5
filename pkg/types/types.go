// Package types provides shared types used across multi-region packages.
package types

import (
	"fmt"
	"time"
)

// HealthStatus represents the observed health of a region.
type HealthStatus int

const (
	HealthUnknown HealthStatus = iota
	HealthHealthy
	HealthDegraded
	HealthUnreachable
)

func (h HealthStatus) String() string {
	switch h {
	case HealthHealthy:
		return "healthy"
	case HealthDegraded:
		return "degraded"
	case HealthUnreachable:
		return "unreachable"
	default:
		return "unknown"
	}
}

// RegionMetadata describes one known region.
// RegionID is immutable once the region is created.
type RegionMetadata struct {
	// Unique region identifier (e.g., "us-east-2")
	RegionID string

	// Whether this region is the current primary. At most one region
	// in a registry may be primary at any time.
	IsPrimary bool

	// Last observed health of the region
	HealthStatus HealthStatus

	// Free-form tags used for selection and reconciliation with
	// external systems (cloud resource tags)
	Tags map[string]string

	// When region data was last reconciled from an external source
	LastSyncedAt time.Time

	// When the region was first added to the registry
	CreatedAt time.Time
}

// Clone returns a deep copy so callers can never mutate registry state
// through a returned RegionMetadata.
func (r RegionMetadata) Clone() RegionMetadata {
	out := r
	if r.Tags != nil {
		out.Tags = make(map[string]string, len(r.Tags))
		for k, v := range r.Tags {
			out.Tags[k] = v
		}
	}
	return out
}

// DeployStatus represents the state of a single region deployment attempt.
type DeployStatus int

const (
	DeployPending DeployStatus = iota
	DeploySucceeded
	DeployFailed
	DeployTimedOut
)

func (s DeployStatus) String() string {
	switch s {
	case DeployPending:
		return "pending"
	case DeploySucceeded:
		return "succeeded"
	case DeployFailed:
		return "failed"
	case DeployTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further automatic transition occurs.
func (s DeployStatus) Terminal() bool {
	return s != DeployPending
}

// DeploymentResult contains the outcome of one region deployment attempt.
// Immutable once FinishedAt is set.
type DeploymentResult struct {
	// Region the deployment targeted
	RegionID string

	// Terminal status of the attempt
	Status DeployStatus

	// When the attempt began and finished
	StartedAt  time.Time
	FinishedAt time.Time

	// Human-readable failure detail; empty when Status == DeploySucceeded
	ErrorDetail string

	// Opaque connection descriptor (e.g., environment URL); set only on success
	Endpoint string
}

// MultiRegionResult aggregates a single multi-region deployment invocation.
// Results are ordered by the input region sequence, not completion order.
type MultiRegionResult struct {
	Results []DeploymentResult
}

// SuccessCount returns the number of succeeded region deployments.
func (m *MultiRegionResult) SuccessCount() int {
	n := 0
	for _, r := range m.Results {
		if r.Status == DeploySucceeded {
			n++
		}
	}
	return n
}

// FailureCount returns the number of failed or timed-out region deployments.
func (m *MultiRegionResult) FailureCount() int {
	n := 0
	for _, r := range m.Results {
		if r.Status == DeployFailed || r.Status == DeployTimedOut {
			n++
		}
	}
	return n
}

// SuccessRate returns SuccessCount / len(Results), or 0.0 for an empty result.
func (m *MultiRegionResult) SuccessRate() float64 {
	if len(m.Results) == 0 {
		return 0.0
	}
	return float64(m.SuccessCount()) / float64(len(m.Results))
}

// FailureType classifies a health-check failure observation.
type FailureType int

const (
	FailureNone FailureType = iota
	FailureNetworkUnreachable
	FailureVMStopped
	FailureHighLatency
	FailureResourceExhausted
	FailureUnknown
)

func (f FailureType) String() string {
	switch f {
	case FailureNone:
		return "none"
	case FailureNetworkUnreachable:
		return "network_unreachable"
	case FailureVMStopped:
		return "vm_stopped"
	case FailureHighLatency:
		return "high_latency"
	case FailureResourceExhausted:
		return "resource_exhausted"
	default:
		return "unknown"
	}
}

// ParseFailureType maps a failure signal name back to its FailureType.
func ParseFailureType(s string) (FailureType, error) {
	switch s {
	case "none":
		return FailureNone, nil
	case "network_unreachable":
		return FailureNetworkUnreachable, nil
	case "vm_stopped":
		return FailureVMStopped, nil
	case "high_latency":
		return FailureHighLatency, nil
	case "resource_exhausted":
		return FailureResourceExhausted, nil
	case "unknown":
		return FailureUnknown, nil
	default:
		return FailureUnknown, fmt.Errorf("unknown failure type: %q", s)
	}
}

// HealthCheckResult is a single observation of a region's health.
type HealthCheckResult struct {
	RegionID    string
	ObservedAt  time.Time
	FailureType FailureType

	// Opaque diagnostic payload; carried through for audit, never
	// interpreted by the decision engine
	RawSignal string
}

// FailoverAction is the recommended action from failover evaluation.
type FailoverAction int

const (
	ActionNone FailoverAction = iota
	ActionAutoFailover
	ActionManualReview
)

func (a FailoverAction) String() string {
	switch a {
	case ActionNone:
		return "no_action"
	case ActionAutoFailover:
		return "auto_failover"
	case ActionManualReview:
		return "manual_review_required"
	default:
		return "unknown"
	}
}

// FailoverDecision is the output of evaluating health checks for the
// current primary region.
type FailoverDecision struct {
	RecommendedAction FailoverAction

	// Target region when RecommendedAction != ActionNone
	CandidateRegionID string

	// Confidence in [0,1] that the failure warrants the recommended action
	Confidence float64

	// Human-readable justification; audit and log only, never parsed
	Reasoning string
}

// RegionDeploymentStatus is a point-in-time view of a deployed workload
// in one region, as reported by the region's deployment backend.
type RegionDeploymentStatus struct {
	RegionID    string
	Status      string
	Health      string
	Endpoint    string
	LastUpdated string
}

// SyncStrategy identifies how data moved between regions.
type SyncStrategy int

const (
	StrategyDirectTransfer SyncStrategy = iota
	StrategyStagedObjectStore
)

func (s SyncStrategy) String() string {
	switch s {
	case StrategyDirectTransfer:
		return "direct_transfer"
	case StrategyStagedObjectStore:
		return "staged_object_store"
	default:
		return "unknown"
	}
}

// SyncResult is the outcome of one cross-region sync operation.
type SyncResult struct {
	StrategyUsed      SyncStrategy
	BytesTransferred  int64
	Duration          time.Duration
	DeletedStaleFiles bool
}
