package types

import (
	"testing"
	"time"
)

func TestMultiRegionResultCounts(t *testing.T) {
	tests := []struct {
		name        string
		results     []DeploymentResult
		wantSuccess int
		wantFailure int
		wantRate    float64
	}{
		{
			name: "all succeeded",
			results: []DeploymentResult{
				{RegionID: "us-east-2", Status: DeploySucceeded},
				{RegionID: "eu-west-1", Status: DeploySucceeded},
			},
			wantSuccess: 2,
			wantFailure: 0,
			wantRate:    1.0,
		},
		{
			name: "mixed outcomes",
			results: []DeploymentResult{
				{RegionID: "us-east-2", Status: DeploySucceeded},
				{RegionID: "eu-west-1", Status: DeployFailed},
				{RegionID: "ap-south-1", Status: DeployTimedOut},
				{RegionID: "us-west-1", Status: DeploySucceeded},
			},
			wantSuccess: 2,
			wantFailure: 2,
			wantRate:    0.5,
		},
		{
			name:        "empty results",
			results:     nil,
			wantSuccess: 0,
			wantFailure: 0,
			wantRate:    0.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &MultiRegionResult{Results: tt.results}
			if got := m.SuccessCount(); got != tt.wantSuccess {
				t.Errorf("SuccessCount() = %d, want %d", got, tt.wantSuccess)
			}
			if got := m.FailureCount(); got != tt.wantFailure {
				t.Errorf("FailureCount() = %d, want %d", got, tt.wantFailure)
			}
			if got := m.SuccessRate(); got != tt.wantRate {
				t.Errorf("SuccessRate() = %f, want %f", got, tt.wantRate)
			}
		})
	}
}

func TestSuccessRateBounds(t *testing.T) {
	m := &MultiRegionResult{Results: []DeploymentResult{
		{Status: DeployFailed},
		{Status: DeploySucceeded},
		{Status: DeployTimedOut},
	}}

	rate := m.SuccessRate()
	if rate < 0.0 || rate > 1.0 {
		t.Errorf("SuccessRate() = %f, expected value in [0,1]", rate)
	}
	if want := float64(m.SuccessCount()) / float64(len(m.Results)); rate != want {
		t.Errorf("SuccessRate() = %f, want %f", rate, want)
	}
}

func TestDeployStatusTerminal(t *testing.T) {
	if DeployPending.Terminal() {
		t.Error("pending should not be terminal")
	}
	for _, s := range []DeployStatus{DeploySucceeded, DeployFailed, DeployTimedOut} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
}

func TestEnumStrings(t *testing.T) {
	if got := HealthHealthy.String(); got != "healthy" {
		t.Errorf("HealthHealthy.String() = %q", got)
	}
	if got := FailureNetworkUnreachable.String(); got != "network_unreachable" {
		t.Errorf("FailureNetworkUnreachable.String() = %q", got)
	}
	if got := ActionManualReview.String(); got != "manual_review_required" {
		t.Errorf("ActionManualReview.String() = %q", got)
	}
	if got := StrategyStagedObjectStore.String(); got != "staged_object_store" {
		t.Errorf("StrategyStagedObjectStore.String() = %q", got)
	}
	if got := DeployTimedOut.String(); got != "timed_out" {
		t.Errorf("DeployTimedOut.String() = %q", got)
	}
}

func TestRegionMetadataClone(t *testing.T) {
	orig := RegionMetadata{
		RegionID:     "us-east-2",
		IsPrimary:    true,
		HealthStatus: HealthHealthy,
		Tags:         map[string]string{"env": "prod"},
		CreatedAt:    time.Now(),
	}

	clone := orig.Clone()
	clone.Tags["env"] = "staging"

	if orig.Tags["env"] != "prod" {
		t.Error("mutating clone tags affected the original")
	}
	if clone.RegionID != orig.RegionID || clone.IsPrimary != orig.IsPrimary {
		t.Error("clone lost scalar fields")
	}
}
