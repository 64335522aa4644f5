// Package manifest provides types and functions for parsing and validating
// multi-region deployment manifest files. Manifests are YAML files that
// define the workload, the target regions, concurrency and timeout limits,
// the failover policy, and cross-region sync options.
package manifest

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Manifest represents the complete multi-region deployment configuration.
//
// Example:
//
//	manifest := &Manifest{
//	  Backend:  BackendConfig{Name: "aws"},
//	  Workload: WorkloadConfig{Name: "my-app", Image: "my-app:latest"},
//	  Regions:  RegionsConfig{Targets: []string{"us-east-2", "eu-west-1"}},
//	}
type Manifest struct {
	// Version of the manifest schema (currently "1.0")
	Version string `yaml:"version"`

	// Backend configuration (cloud backend, credentials)
	Backend BackendConfig `yaml:"backend"`

	// Workload configuration (name, image, platform)
	Workload WorkloadConfig `yaml:"workload"`

	// Regions configuration (targets, concurrency, per-region timeout)
	Regions RegionsConfig `yaml:"regions"`

	// Failover configuration (mode) - optional, defaults to hybrid
	Failover FailoverConfig `yaml:"failover,omitempty"`

	// Sync configuration (staging bucket, stale-file deletion) - optional
	Sync SyncConfig `yaml:"sync,omitempty"`

	// Instance configuration (type, scaling)
	Instance InstanceConfig `yaml:"instance,omitempty"`

	// Cloud Run configuration (GCP-specific) - optional
	CloudRun *CloudRunConfig `yaml:"cloud_run,omitempty"`

	// Azure container configuration - optional
	Container *ContainerConfig `yaml:"container,omitempty"`

	// Health check configuration
	HealthCheck HealthCheckConfig `yaml:"health_check,omitempty"`

	// Vault configuration for secret retrieval - optional
	Vault *VaultConfig `yaml:"vault,omitempty"`

	// Secrets to fetch from Vault, keyed by environment variable name - optional
	Secrets map[string]SecretRef `yaml:"secrets,omitempty"`

	// Environment variables to set in the deployment - optional
	EnvironmentVariables map[string]string `yaml:"environment_variables,omitempty"`

	// Tags to apply to cloud resources - optional
	Tags map[string]string `yaml:"tags,omitempty"`
}

// BackendConfig specifies which region deployment backend to use and how
// to authenticate against it.
type BackendConfig struct {
	// Name of the backend (aws, gcp, azure)
	Name string `yaml:"name"`

	// Credentials for authentication - optional, can use CLI credentials instead
	Credentials *CredentialsConfig `yaml:"credentials,omitempty"`

	// GCP-specific: Project ID (required for the gcp backend)
	ProjectID string `yaml:"project_id,omitempty"`

	// Azure-specific: Subscription ID (required for the azure backend)
	SubscriptionID string `yaml:"subscription_id,omitempty"`

	// Azure-specific: Resource group name (created if absent)
	ResourceGroup string `yaml:"resource_group,omitempty"`

	// GCP-specific: Make deployed services publicly accessible (default: true)
	PublicAccess *bool `yaml:"public_access,omitempty"`

	// GCP-specific: Billing account to link when creating the project
	BillingAccountID string `yaml:"billing_account_id,omitempty"`

	// GCP-specific: Organization to create the project under
	OrganizationID string `yaml:"organization_id,omitempty"`
}

// CredentialsConfig contains cloud backend credentials.
// Note: It's recommended to use CLI credentials, environment variables,
// or Vault instead of storing credentials in the manifest.
type CredentialsConfig struct {
	// Source of credentials: "environment", "secrets-manager", "vault".
	// Empty means the backend's default credential chain.
	Source string `yaml:"source,omitempty"`

	// AWS: Access key ID
	AccessKeyID string `yaml:"access_key_id,omitempty"`

	// AWS: Secret access key
	SecretAccessKey string `yaml:"secret_access_key,omitempty"`

	// GCP: Path to service account JSON key file
	ServiceAccountKeyPath string `yaml:"service_account_key_path,omitempty"`

	// GCP: Or provide service account JSON content directly
	ServiceAccountKeyJSON string `yaml:"service_account_key_json,omitempty"`

	// Azure: Service principal credentials
	TenantID     string `yaml:"tenant_id,omitempty"`
	ClientID     string `yaml:"client_id,omitempty"`
	ClientSecret string `yaml:"client_secret,omitempty"`

	// secrets-manager source: AWS Secrets Manager secret name or ARN
	SecretID string `yaml:"secret_id,omitempty"`

	// vault source: KV path holding the backend credentials
	VaultPath string `yaml:"vault_path,omitempty"`
}

// WorkloadConfig defines the workload being replicated across regions.
type WorkloadConfig struct {
	// Name of the workload (must be unique within the cloud account)
	Name string `yaml:"name"`

	// Description of the workload - optional
	Description string `yaml:"description,omitempty"`

	// Container image to deploy (e.g., "my-app:latest")
	Image string `yaml:"image"`

	// Platform type for non-container stacks (e.g., docker, nodejs) - optional
	Platform string `yaml:"platform,omitempty"`

	// Solution stack or runtime version (backend-specific, auto-detected
	// when empty)
	SolutionStack string `yaml:"solution_stack,omitempty"`
}

// RegionsConfig lists the target regions and the deployment limits.
type RegionsConfig struct {
	// Target region identifiers, in the order results should be reported
	Targets []string `yaml:"targets"`

	// Maximum number of region deployments in flight at once (default: 4)
	MaxConcurrent int `yaml:"max_concurrent,omitempty"`

	// Per-region deployment timeout (default: 15m)
	TimeoutPerRegion Duration `yaml:"timeout_per_region,omitempty"`
}

// Duration wraps time.Duration so manifests can use values like "15m"
// or "90s".
type Duration time.Duration

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration back as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// FailoverConfig controls the failover decision engine.
type FailoverConfig struct {
	// Mode: "auto", "manual", or "hybrid" (default: hybrid)
	Mode string `yaml:"mode,omitempty"`
}

// SyncConfig controls cross-region data synchronization.
type SyncConfig struct {
	// Object store bucket used by the staged transfer strategy
	StagingBucket string `yaml:"staging_bucket,omitempty"`

	// Azure only: storage account holding the staging container
	StagingAccount string `yaml:"staging_account,omitempty"`

	// Base directory for the local transfer backend (default: ".")
	DataDir string `yaml:"data_dir,omitempty"`

	// Remove destination files absent at the source after a successful
	// transfer (default: false)
	DeleteStale bool `yaml:"delete_stale,omitempty"`
}

// InstanceConfig specifies the compute resources for the deployment.
type InstanceConfig struct {
	// Type of instance (e.g., t3.micro, t3.small)
	Type string `yaml:"type,omitempty"`

	// Environment type: SingleInstance or LoadBalanced
	EnvironmentType string `yaml:"environment_type,omitempty"`
}

// CloudRunConfig specifies GCP Cloud Run-specific configuration.
type CloudRunConfig struct {
	// CPU allocation (e.g., "1", "2", "4") - default: "1"
	CPU string `yaml:"cpu,omitempty"`

	// Memory allocation (e.g., "256Mi", "512Mi", "1Gi") - default: "512Mi"
	Memory string `yaml:"memory,omitempty"`

	// Maximum number of concurrent requests per container - default: 80
	MaxConcurrency int32 `yaml:"max_concurrency,omitempty"`

	// Minimum number of instances to keep running - default: 0
	MinInstances int32 `yaml:"min_instances,omitempty"`

	// Maximum number of instances to scale to - default: 100
	MaxInstances int32 `yaml:"max_instances,omitempty"`

	// Request timeout in seconds - default: 300
	TimeoutSeconds int32 `yaml:"timeout_seconds,omitempty"`
}

// ContainerConfig specifies Azure Container Instances configuration.
type ContainerConfig struct {
	// CPU cores (default: 1)
	CPU float64 `yaml:"cpu,omitempty"`

	// Memory in GB (default: 1.5)
	Memory float64 `yaml:"memory,omitempty"`

	// Exposed port (default: 80)
	Port int32 `yaml:"port,omitempty"`
}

// HealthCheckConfig defines how the backend should check workload health.
type HealthCheckConfig struct {
	// Type of health check (basic or enhanced)
	Type string `yaml:"type,omitempty"`

	// Path to health check endpoint (e.g., /health)
	Path string `yaml:"path,omitempty"`
}

// VaultConfig holds HashiCorp Vault connection settings.
type VaultConfig struct {
	// Address of the Vault server (e.g., "http://127.0.0.1:8200")
	Address string `yaml:"address"`

	// Auth method: "token" or "approle"
	AuthMethod string `yaml:"auth_method"`

	// Token for token authentication
	Token string `yaml:"token,omitempty"`

	// RoleID / SecretID for AppRole authentication
	RoleID   string `yaml:"role_id,omitempty"`
	SecretID string `yaml:"secret_id,omitempty"`

	// TLSSkipVerify skips TLS certificate verification
	TLSSkipVerify bool `yaml:"tls_skip_verify,omitempty"`
}

// SecretRef references a specific secret key in Vault.
type SecretRef struct {
	// Path is the full Vault path (e.g., "secret/data/myapp/database")
	Path string `yaml:"path"`

	// Key is the key within the secret (e.g., "url")
	Key string `yaml:"key"`
}

// Defaults applied by Load when the manifest leaves them unset.
const (
	DefaultMaxConcurrent    = 4
	DefaultTimeoutPerRegion = 15 * time.Minute
	DefaultFailoverMode     = "hybrid"
)

// Load reads a manifest file from disk, parses it, applies defaults,
// and validates it.
//
// Example:
//
//	m, err := manifest.Load("region-manifest.yaml")
//	if err != nil {
//	  log.Fatal(err)
//	}
func Load(filename string) (*Manifest, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest file: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	m.ApplyDefaults()

	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}

	return &m, nil
}

// ApplyDefaults fills in defaults for unset optional fields.
func (m *Manifest) ApplyDefaults() {
	if m.Regions.MaxConcurrent == 0 {
		m.Regions.MaxConcurrent = DefaultMaxConcurrent
	}
	if m.Regions.TimeoutPerRegion == 0 {
		m.Regions.TimeoutPerRegion = Duration(DefaultTimeoutPerRegion)
	}
	if m.Failover.Mode == "" {
		m.Failover.Mode = DefaultFailoverMode
	}
}

// Validate checks if the manifest has all required fields and valid values.
// Returns an error describing what is invalid.
func (m *Manifest) Validate() error {
	if m.Backend.Name == "" {
		return fmt.Errorf("backend name is required")
	}
	if m.Workload.Name == "" {
		return fmt.Errorf("workload name is required")
	}
	if len(m.Regions.Targets) == 0 {
		return fmt.Errorf("at least one target region is required")
	}
	if m.Regions.MaxConcurrent < 1 {
		return fmt.Errorf("regions.max_concurrent must be at least 1")
	}
	if m.Regions.TimeoutPerRegion <= 0 {
		return fmt.Errorf("regions.timeout_per_region must be positive")
	}

	switch m.Failover.Mode {
	case "auto", "manual", "hybrid":
	default:
		return fmt.Errorf("failover.mode must be auto, manual, or hybrid, got %q", m.Failover.Mode)
	}

	seen := make(map[string]bool, len(m.Regions.Targets))
	for _, region := range m.Regions.Targets {
		if region == "" {
			return fmt.Errorf("region targets must not be empty strings")
		}
		if seen[region] {
			return fmt.Errorf("duplicate target region: %s", region)
		}
		seen[region] = true
	}

	// GCP-specific validation
	if m.Backend.Name == "gcp" {
		if m.Backend.ProjectID == "" {
			return fmt.Errorf("backend.project_id is required for the gcp backend")
		}
	}

	// Azure-specific validation
	if m.Backend.Name == "azure" {
		if m.Backend.SubscriptionID == "" {
			return fmt.Errorf("backend.subscription_id is required for the azure backend")
		}
	}

	if m.Vault != nil {
		if m.Vault.Address == "" {
			return fmt.Errorf("vault.address is required when vault is configured")
		}
		if m.Vault.AuthMethod == "" {
			return fmt.Errorf("vault.auth_method is required when vault is configured")
		}
	}

	return nil
}
