// Package failover decides when the primary region designation should
// move, and carries out automatic failovers when the observed failure
// is unambiguous enough to act on without an operator.
package failover

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jvreagan/multi-region/pkg/logging"
	"github.com/jvreagan/multi-region/pkg/manifest"
	"github.com/jvreagan/multi-region/pkg/regions"
	"github.com/jvreagan/multi-region/pkg/types"
)

// Mode controls how much autonomy the engine has.
type Mode int

const (
	// ModeAuto fails over without operator involvement whenever the
	// failure type is unambiguous.
	ModeAuto Mode = iota
	// ModeManual always defers to an operator.
	ModeManual
	// ModeHybrid behaves like ModeAuto for unambiguous failures and
	// like ModeManual for everything else.
	ModeHybrid
)

func (m Mode) String() string {
	switch m {
	case ModeAuto:
		return "auto"
	case ModeManual:
		return "manual"
	case ModeHybrid:
		return "hybrid"
	default:
		return "unknown"
	}
}

// ParseMode converts a manifest mode string into a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "auto":
		return ModeAuto, nil
	case "manual":
		return ModeManual, nil
	case "hybrid":
		return ModeHybrid, nil
	default:
		return ModeAuto, fmt.Errorf("unknown failover mode: %q (must be auto, manual, or hybrid)", s)
	}
}

// State is the engine's view of the current primary.
type State int

const (
	StateStable State = iota
	StateEvaluating
	StateAutoFailoverTriggered
	StateManualReviewPending
)

func (s State) String() string {
	switch s {
	case StateStable:
		return "stable"
	case StateEvaluating:
		return "evaluating"
	case StateAutoFailoverTriggered:
		return "auto_failover_triggered"
	case StateManualReviewPending:
		return "manual_review_pending"
	default:
		return "unknown"
	}
}

// NoCandidateRegionError indicates no non-primary region is healthy
// enough to take over.
type NoCandidateRegionError struct{}

func (e *NoCandidateRegionError) Error() string {
	return "no candidate region is healthy enough for failover"
}

// assessment pairs a confidence score with whether the failure type
// alone justifies acting automatically.
type assessment struct {
	confidence  float64
	unambiguous bool
}

// A region that stops answering on the network is almost certainly
// gone. Everything else can be a transient blip or a monitoring
// artifact, so it gets flagged for a human.
var assessments = map[types.FailureType]assessment{
	types.FailureNetworkUnreachable: {confidence: 0.95, unambiguous: true},
	types.FailureVMStopped:          {confidence: 0.55, unambiguous: false},
	types.FailureHighLatency:        {confidence: 0.40, unambiguous: false},
	types.FailureResourceExhausted:  {confidence: 0.60, unambiguous: false},
	types.FailureUnknown:            {confidence: 0.10, unambiguous: false},
}

// RegionDeployer stands up a workload in a set of regions. Satisfied
// by deployer.Deployer.
type RegionDeployer interface {
	DeployToRegions(ctx context.Context, regionIDs []string, m *manifest.Manifest, maxConcurrent int, timeoutPerRegion time.Duration) (*types.MultiRegionResult, error)
}

// Engine evaluates health signals for the primary region and drives
// the failover state machine.
type Engine struct {
	mode     Mode
	registry *regions.Registry
	deployer RegionDeployer

	mu    sync.Mutex
	state State
}

// NewEngine builds an engine in StateStable. The deployer may be nil
// when the caller only wants Evaluate, not ExecuteFailover.
func NewEngine(mode Mode, registry *regions.Registry, d RegionDeployer) *Engine {
	return &Engine{
		mode:     mode,
		registry: registry,
		deployer: d,
		state:    StateStable,
	}
}

// State reports the engine's current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Evaluate consumes one health observation and returns the recommended
// action. Observations for regions other than the current primary only
// update that region's recorded health; the state machine reacts to
// the primary alone.
func (e *Engine) Evaluate(check types.HealthCheckResult) (*types.FailoverDecision, error) {
	if check.RegionID == "" {
		return nil, fmt.Errorf("health check is missing a region id")
	}

	if err := e.registry.UpdateHealth(check.RegionID, healthFromFailure(check.FailureType)); err != nil {
		return nil, err
	}

	primary, ok := e.registry.Primary()
	if !ok || primary.RegionID != check.RegionID {
		return &types.FailoverDecision{
			RecommendedAction: types.ActionNone,
			Reasoning:         fmt.Sprintf("region %s is not the primary; recorded health only", check.RegionID),
		}, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if check.FailureType == types.FailureNone {
		e.state = StateStable
		return &types.FailoverDecision{
			RecommendedAction: types.ActionNone,
			Confidence:        1.0,
			Reasoning:         fmt.Sprintf("primary %s reported healthy", check.RegionID),
		}, nil
	}

	e.state = StateEvaluating
	logging.Info("evaluating primary health failure",
		"region", check.RegionID,
		"failure_type", check.FailureType.String(),
		"mode", e.mode.String())

	a, ok := assessments[check.FailureType]
	if !ok {
		a = assessments[types.FailureUnknown]
	}

	candidate, err := e.selectCandidate(primary.RegionID)
	if err != nil {
		e.state = StateManualReviewPending
		return nil, err
	}

	if a.unambiguous && e.mode != ModeManual {
		e.state = StateAutoFailoverTriggered
		return &types.FailoverDecision{
			RecommendedAction: types.ActionAutoFailover,
			CandidateRegionID: candidate,
			Confidence:        a.confidence,
			Reasoning: fmt.Sprintf("primary %s failed with %s (confidence %.2f); promoting %s automatically",
				check.RegionID, check.FailureType, a.confidence, candidate),
		}, nil
	}

	e.state = StateManualReviewPending
	why := fmt.Sprintf("failure type %s is ambiguous", check.FailureType)
	if e.mode == ModeManual {
		why = "engine is in manual mode"
	}
	return &types.FailoverDecision{
		RecommendedAction: types.ActionManualReview,
		CandidateRegionID: candidate,
		Confidence:        a.confidence,
		Reasoning: fmt.Sprintf("primary %s failed with %s but %s (confidence %.2f); operator review required",
			check.RegionID, check.FailureType, why, a.confidence),
	}, nil
}

// selectCandidate returns the healthiest non-primary region,
// preferring Healthy over Degraded and breaking ties alphabetically.
func (e *Engine) selectCandidate(primaryID string) (string, error) {
	all := e.registry.ListRegions()

	var healthy, degraded []string
	for _, r := range all {
		if r.RegionID == primaryID {
			continue
		}
		switch r.HealthStatus {
		case types.HealthHealthy:
			healthy = append(healthy, r.RegionID)
		case types.HealthDegraded:
			degraded = append(degraded, r.RegionID)
		}
	}

	sort.Strings(healthy)
	sort.Strings(degraded)

	if len(healthy) > 0 {
		return healthy[0], nil
	}
	if len(degraded) > 0 {
		return degraded[0], nil
	}
	return "", &NoCandidateRegionError{}
}

// ExecuteFailover deploys the workload to the decision's candidate
// region and promotes it to primary. On any failure the engine lands
// in StateManualReviewPending; it never retries on its own.
func (e *Engine) ExecuteFailover(ctx context.Context, decision *types.FailoverDecision, m *manifest.Manifest) error {
	if decision == nil || decision.RecommendedAction != types.ActionAutoFailover {
		return fmt.Errorf("decision does not call for automatic failover")
	}
	if e.deployer == nil {
		return fmt.Errorf("engine has no deployer configured")
	}

	candidate := decision.CandidateRegionID
	logging.Info("executing automatic failover",
		"candidate", candidate,
		"confidence", decision.Confidence)

	result, err := e.deployer.DeployToRegions(ctx, []string{candidate}, m, 1, m.Regions.TimeoutPerRegion.Std())
	if err != nil {
		return e.failExecution(fmt.Errorf("failed to deploy candidate %s: %w", candidate, err))
	}
	if result.FailureCount() > 0 {
		detail := result.Results[0].ErrorDetail
		return e.failExecution(fmt.Errorf("deployment to candidate %s did not succeed: %s", candidate, detail))
	}

	if err := e.registry.SetPrimary(candidate); err != nil {
		return e.failExecution(fmt.Errorf("failed to promote %s: %w", candidate, err))
	}

	e.mu.Lock()
	e.state = StateStable
	e.mu.Unlock()

	logging.Info("failover complete", "new_primary", candidate)
	return nil
}

// ResolveManually records an operator decision: the given region
// becomes primary and the engine returns to StateStable.
func (e *Engine) ResolveManually(regionID string) error {
	if err := e.registry.SetPrimary(regionID); err != nil {
		return err
	}
	e.mu.Lock()
	e.state = StateStable
	e.mu.Unlock()
	logging.Info("operator resolved failover", "new_primary", regionID)
	return nil
}

func (e *Engine) failExecution(err error) error {
	e.mu.Lock()
	e.state = StateManualReviewPending
	e.mu.Unlock()
	logging.Error("automatic failover failed; awaiting operator review", "error", err.Error())
	return err
}

// healthFromFailure maps an observed failure type onto the health
// status recorded in the registry.
func healthFromFailure(f types.FailureType) types.HealthStatus {
	switch f {
	case types.FailureNone:
		return types.HealthHealthy
	case types.FailureNetworkUnreachable, types.FailureVMStopped:
		return types.HealthUnreachable
	case types.FailureHighLatency, types.FailureResourceExhausted:
		return types.HealthDegraded
	default:
		return types.HealthUnknown
	}
}
