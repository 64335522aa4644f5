package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		shouldError bool
		errorMsg    string
	}{
		{
			name: "valid AWS manifest",
			content: `version: "1.0"
backend:
  name: aws
workload:
  name: test-app
  description: Test workload
  image: test-app:latest
  platform: docker
regions:
  targets:
    - us-east-2
    - eu-west-1
  max_concurrent: 2
  timeout_per_region: 10m
failover:
  mode: auto
sync:
  staging_bucket: test-app-staging
  delete_stale: true
instance:
  type: t3.micro
  environment_type: SingleInstance
health_check:
  type: basic
  path: /health
`,
			shouldError: false,
		},
		{
			name: "valid GCP manifest",
			content: `version: "1.0"
backend:
  name: gcp
  project_id: test-project
  credentials:
    service_account_key_path: /path/to/key.json
workload:
  name: test-app
  image: test-app:latest
regions:
  targets:
    - us-central1
`,
			shouldError: false,
		},
		{
			name: "invalid YAML",
			content: `invalid: yaml: content:
  - not: properly
  formatted
`,
			shouldError: true,
			errorMsg:    "failed to parse manifest",
		},
		{
			name: "missing backend name",
			content: `version: "1.0"
workload:
  name: test-app
  image: test-app:latest
regions:
  targets: [us-east-2]
`,
			shouldError: true,
			errorMsg:    "backend name is required",
		},
		{
			name: "missing workload name",
			content: `version: "1.0"
backend:
  name: aws
regions:
  targets: [us-east-2]
`,
			shouldError: true,
			errorMsg:    "workload name is required",
		},
		{
			name: "no target regions",
			content: `version: "1.0"
backend:
  name: aws
workload:
  name: test-app
  image: test-app:latest
regions:
  targets: []
`,
			shouldError: true,
			errorMsg:    "at least one target region is required",
		},
		{
			name: "duplicate target region",
			content: `version: "1.0"
backend:
  name: aws
workload:
  name: test-app
  image: test-app:latest
regions:
  targets: [us-east-2, us-east-2]
`,
			shouldError: true,
			errorMsg:    "duplicate target region",
		},
		{
			name: "invalid failover mode",
			content: `version: "1.0"
backend:
  name: aws
workload:
  name: test-app
  image: test-app:latest
regions:
  targets: [us-east-2]
failover:
  mode: yolo
`,
			shouldError: true,
			errorMsg:    "failover.mode must be auto, manual, or hybrid",
		},
		{
			name: "gcp backend requires project id",
			content: `version: "1.0"
backend:
  name: gcp
workload:
  name: test-app
  image: test-app:latest
regions:
  targets: [us-central1]
`,
			shouldError: true,
			errorMsg:    "backend.project_id is required",
		},
		{
			name: "azure backend requires subscription id",
			content: `version: "1.0"
backend:
  name: azure
workload:
  name: test-app
  image: test-app:latest
regions:
  targets: [eastus]
`,
			shouldError: true,
			errorMsg:    "backend.subscription_id is required",
		},
		{
			name: "vault requires address",
			content: `version: "1.0"
backend:
  name: aws
workload:
  name: test-app
  image: test-app:latest
regions:
  targets: [us-east-2]
vault:
  auth_method: token
`,
			shouldError: true,
			errorMsg:    "vault.address is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			manifestPath := filepath.Join(tmpDir, "region-manifest.yaml")
			if err := os.WriteFile(manifestPath, []byte(tt.content), 0644); err != nil {
				t.Fatalf("Failed to write test manifest: %v", err)
			}

			m, err := Load(manifestPath)
			if tt.shouldError {
				if err == nil {
					t.Fatal("Expected error, got nil")
				}
				if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error containing %q, got %q", tt.errorMsg, err.Error())
				}
				return
			}
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if m == nil {
				t.Fatal("Load returned nil manifest")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/region-manifest.yaml")
	if err == nil {
		t.Fatal("Expected error for missing file")
	}
	if !strings.Contains(err.Error(), "failed to read manifest file") {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestLoadParsesFields(t *testing.T) {
	content := `version: "1.0"
backend:
  name: aws
workload:
  name: orders-api
  image: orders-api:v3
regions:
  targets:
    - us-east-2
    - eu-west-1
    - ap-south-1
  max_concurrent: 3
  timeout_per_region: 90s
failover:
  mode: manual
sync:
  staging_bucket: orders-staging
  delete_stale: true
environment_variables:
  LOG_LEVEL: debug
tags:
  team: platform
`
	tmpDir := t.TempDir()
	manifestPath := filepath.Join(tmpDir, "region-manifest.yaml")
	if err := os.WriteFile(manifestPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test manifest: %v", err)
	}

	m, err := Load(manifestPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if m.Workload.Name != "orders-api" {
		t.Errorf("Workload.Name = %q", m.Workload.Name)
	}
	if len(m.Regions.Targets) != 3 {
		t.Errorf("expected 3 targets, got %d", len(m.Regions.Targets))
	}
	if m.Regions.MaxConcurrent != 3 {
		t.Errorf("MaxConcurrent = %d", m.Regions.MaxConcurrent)
	}
	if m.Regions.TimeoutPerRegion.Std() != 90*time.Second {
		t.Errorf("TimeoutPerRegion = %v", m.Regions.TimeoutPerRegion.Std())
	}
	if m.Failover.Mode != "manual" {
		t.Errorf("Failover.Mode = %q", m.Failover.Mode)
	}
	if !m.Sync.DeleteStale {
		t.Error("Sync.DeleteStale should be true")
	}
	if m.EnvironmentVariables["LOG_LEVEL"] != "debug" {
		t.Errorf("EnvironmentVariables = %v", m.EnvironmentVariables)
	}
	if m.Tags["team"] != "platform" {
		t.Errorf("Tags = %v", m.Tags)
	}
}

func TestApplyDefaults(t *testing.T) {
	m := &Manifest{
		Backend:  BackendConfig{Name: "aws"},
		Workload: WorkloadConfig{Name: "test-app", Image: "test-app:latest"},
		Regions:  RegionsConfig{Targets: []string{"us-east-2"}},
	}
	m.ApplyDefaults()

	if m.Regions.MaxConcurrent != DefaultMaxConcurrent {
		t.Errorf("MaxConcurrent default = %d", m.Regions.MaxConcurrent)
	}
	if m.Regions.TimeoutPerRegion.Std() != DefaultTimeoutPerRegion {
		t.Errorf("TimeoutPerRegion default = %v", m.Regions.TimeoutPerRegion.Std())
	}
	if m.Failover.Mode != DefaultFailoverMode {
		t.Errorf("Failover.Mode default = %q", m.Failover.Mode)
	}
	if err := m.Validate(); err != nil {
		t.Errorf("defaulted manifest should validate: %v", err)
	}
}

func TestDurationRoundTrip(t *testing.T) {
	d := Duration(5 * time.Minute)
	out, err := d.MarshalYAML()
	if err != nil {
		t.Fatalf("MarshalYAML failed: %v", err)
	}
	if out != "5m0s" {
		t.Errorf("MarshalYAML = %v", out)
	}
}
