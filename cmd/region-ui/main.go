// Command region-ui serves a small web UI for composing multi-region
// manifests. Submitted forms are validated with the same rules the CLI
// applies, then written out as YAML.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jvreagan/multi-region/pkg/manifest"
)

// ManifestRequest represents the data sent from the frontend.
type ManifestRequest struct {
	Version         string             `json:"version" yaml:"version"`
	Backend         BackendConfig      `json:"backend" yaml:"backend"`
	Workload        WorkloadConfig     `json:"workload" yaml:"workload"`
	Regions         RegionsConfig      `json:"regions" yaml:"regions"`
	Failover        *FailoverConfig    `json:"failover,omitempty" yaml:"failover,omitempty"`
	Sync            *SyncConfig        `json:"sync,omitempty" yaml:"sync,omitempty"`
	Instance        *InstanceConfig    `json:"instance,omitempty" yaml:"instance,omitempty"`
	CloudRun        *CloudRunConfig    `json:"cloud_run,omitempty" yaml:"cloud_run,omitempty"`
	Container       *ContainerConfig   `json:"container,omitempty" yaml:"container,omitempty"`
	HealthCheck     *HealthCheckConfig `json:"health_check,omitempty" yaml:"health_check,omitempty"`
	EnvironmentVars map[string]string  `json:"environment_variables,omitempty" yaml:"environment_variables,omitempty"`
	Tags            map[string]string  `json:"tags,omitempty" yaml:"tags,omitempty"`
}

type BackendConfig struct {
	Name             string `json:"name" yaml:"name"`
	ProjectID        string `json:"project_id,omitempty" yaml:"project_id,omitempty"`
	BillingAccountID string `json:"billing_account_id,omitempty" yaml:"billing_account_id,omitempty"`
	OrganizationID   string `json:"organization_id,omitempty" yaml:"organization_id,omitempty"`
	PublicAccess     *bool  `json:"public_access,omitempty" yaml:"public_access,omitempty"`
	SubscriptionID   string `json:"subscription_id,omitempty" yaml:"subscription_id,omitempty"`
	ResourceGroup    string `json:"resource_group,omitempty" yaml:"resource_group,omitempty"`
}

type WorkloadConfig struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Image       string `json:"image" yaml:"image"`
	Platform    string `json:"platform,omitempty" yaml:"platform,omitempty"`
}

type RegionsConfig struct {
	Targets          []string `json:"targets" yaml:"targets"`
	MaxConcurrent    int      `json:"max_concurrent,omitempty" yaml:"max_concurrent,omitempty"`
	TimeoutPerRegion string   `json:"timeout_per_region,omitempty" yaml:"timeout_per_region,omitempty"`
}

type FailoverConfig struct {
	Mode string `json:"mode,omitempty" yaml:"mode,omitempty"`
}

type SyncConfig struct {
	StagingBucket  string `json:"staging_bucket,omitempty" yaml:"staging_bucket,omitempty"`
	StagingAccount string `json:"staging_account,omitempty" yaml:"staging_account,omitempty"`
	DataDir        string `json:"data_dir,omitempty" yaml:"data_dir,omitempty"`
	DeleteStale    bool   `json:"delete_stale,omitempty" yaml:"delete_stale,omitempty"`
}

type InstanceConfig struct {
	Type            string `json:"type,omitempty" yaml:"type,omitempty"`
	EnvironmentType string `json:"environment_type,omitempty" yaml:"environment_type,omitempty"`
}

type CloudRunConfig struct {
	CPU            string `json:"cpu,omitempty" yaml:"cpu,omitempty"`
	Memory         string `json:"memory,omitempty" yaml:"memory,omitempty"`
	MaxConcurrency int32  `json:"max_concurrency,omitempty" yaml:"max_concurrency,omitempty"`
	MinInstances   int32  `json:"min_instances,omitempty" yaml:"min_instances,omitempty"`
	MaxInstances   int32  `json:"max_instances,omitempty" yaml:"max_instances,omitempty"`
	TimeoutSeconds int32  `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`
}

type ContainerConfig struct {
	CPU    float64 `json:"cpu,omitempty" yaml:"cpu,omitempty"`
	Memory float64 `json:"memory,omitempty" yaml:"memory,omitempty"`
	Port   int32   `json:"port,omitempty" yaml:"port,omitempty"`
}

type HealthCheckConfig struct {
	Type string `json:"type,omitempty" yaml:"type,omitempty"`
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

func main() {
	// Serve static files
	fs := http.FileServer(http.Dir("web/static"))
	http.Handle("/", fs)

	http.HandleFunc("/api/generate", generateManifestHandler)

	port := ":5001"
	fmt.Printf("Starting region-ui server on http://localhost%s\n", port)

	if err := http.ListenAndServe(port, nil); err != nil {
		log.Fatal(err)
	}
}

func generateManifestHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req ManifestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request: %v", err), http.StatusBadRequest)
		return
	}

	if req.Version == "" {
		req.Version = "1.0"
	}

	yamlData, err := yaml.Marshal(&req)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to generate YAML: %v", err), http.StatusInternalServerError)
		return
	}

	// Run the generated YAML through the same validation the CLI uses,
	// so the UI never emits a manifest the deployer would reject.
	var m manifest.Manifest
	if err := yaml.Unmarshal(yamlData, &m); err != nil {
		http.Error(w, fmt.Sprintf("Generated manifest does not parse: %v", err), http.StatusBadRequest)
		return
	}
	m.ApplyDefaults()
	if err := m.Validate(); err != nil {
		http.Error(w, fmt.Sprintf("Invalid manifest: %v", err), http.StatusBadRequest)
		return
	}

	manifestsDir := "generated-manifests"
	if err := os.MkdirAll(manifestsDir, 0755); err != nil {
		http.Error(w, fmt.Sprintf("Failed to create manifests directory: %v", err), http.StatusInternalServerError)
		return
	}

	timestamp := time.Now().Format("20060102-150405")
	filename := fmt.Sprintf("%s-manifest-%s.yaml", req.Backend.Name, timestamp)
	outPath := filepath.Join(manifestsDir, filename)

	if err := os.WriteFile(outPath, yamlData, 0644); err != nil {
		http.Error(w, fmt.Sprintf("Failed to write manifest file: %v", err), http.StatusInternalServerError)
		return
	}

	response := map[string]string{
		"message":  "Manifest generated successfully",
		"filename": filename,
		"path":     outPath,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}
