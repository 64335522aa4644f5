// Package credentials resolves backend credentials from sources named
// in the manifest: process environment, AWS Secrets Manager, or
// HashiCorp Vault. Resolution returns a filled copy of the manifest
// credentials; the manifest itself is never mutated.
package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"github.com/jvreagan/multi-region/pkg/logging"
	"github.com/jvreagan/multi-region/pkg/manifest"
	"github.com/jvreagan/multi-region/pkg/vault"
)

// secretPayload is the JSON shape stored in AWS Secrets Manager for a
// backend's credentials.
type secretPayload struct {
	AccessKeyID           string `json:"access_key_id,omitempty"`
	SecretAccessKey       string `json:"secret_access_key,omitempty"`
	ServiceAccountKeyJSON string `json:"service_account_key_json,omitempty"`
	TenantID              string `json:"tenant_id,omitempty"`
	ClientID              string `json:"client_id,omitempty"`
	ClientSecret          string `json:"client_secret,omitempty"`
}

// Resolve materializes backend credentials for the manifest. When no
// credentials section or no source is configured, the original config
// is returned unchanged and the backend's default credential chain
// applies.
func Resolve(ctx context.Context, m *manifest.Manifest) (*manifest.CredentialsConfig, error) {
	creds := m.Backend.Credentials
	if creds == nil || creds.Source == "" {
		return creds, nil
	}

	switch creds.Source {
	case "environment":
		return fromEnvironment(m.Backend.Name)
	case "secrets-manager":
		return fromSecretsManager(ctx, m.Backend.Name, creds.SecretID)
	case "vault":
		return fromVault(ctx, m, creds.VaultPath)
	default:
		return nil, fmt.Errorf("unknown credentials source: %s", creds.Source)
	}
}

// fromEnvironment reads the backend's credentials from standard
// environment variables.
func fromEnvironment(backendName string) (*manifest.CredentialsConfig, error) {
	resolved := &manifest.CredentialsConfig{}

	switch backendName {
	case "aws":
		resolved.AccessKeyID = os.Getenv("AWS_ACCESS_KEY_ID")
		resolved.SecretAccessKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
		if resolved.AccessKeyID == "" || resolved.SecretAccessKey == "" {
			return nil, fmt.Errorf("AWS credentials not found in environment")
		}

	case "gcp":
		resolved.ServiceAccountKeyJSON = os.Getenv("GCP_SERVICE_ACCOUNT_KEY")
		resolved.ServiceAccountKeyPath = os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")
		if resolved.ServiceAccountKeyJSON == "" && resolved.ServiceAccountKeyPath == "" {
			return nil, fmt.Errorf("GCP credentials not found in environment")
		}

	case "azure":
		resolved.TenantID = os.Getenv("AZURE_TENANT_ID")
		resolved.ClientID = os.Getenv("AZURE_CLIENT_ID")
		resolved.ClientSecret = os.Getenv("AZURE_CLIENT_SECRET")
		if resolved.TenantID == "" || resolved.ClientID == "" || resolved.ClientSecret == "" {
			return nil, fmt.Errorf("Azure credentials not found in environment")
		}

	default:
		return nil, fmt.Errorf("unknown backend: %s", backendName)
	}

	logging.Debug("resolved credentials from environment", "backend", backendName)
	return resolved, nil
}

// fromSecretsManager retrieves a JSON credentials payload from AWS
// Secrets Manager using the default credential chain.
func fromSecretsManager(ctx context.Context, backendName, secretID string) (*manifest.CredentialsConfig, error) {
	if secretID == "" {
		return nil, fmt.Errorf("credentials.secret_id is required for the secrets-manager source")
	}

	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := secretsmanager.NewFromConfig(cfg)
	result, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretID),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve secret %s: %w", secretID, err)
	}
	if result.SecretString == nil {
		return nil, fmt.Errorf("secret %s has no string payload", secretID)
	}

	var payload secretPayload
	if err := json.Unmarshal([]byte(*result.SecretString), &payload); err != nil {
		return nil, fmt.Errorf("failed to parse secret JSON: %w", err)
	}

	resolved := payloadToConfig(&payload)
	if err := validate(resolved, backendName); err != nil {
		return nil, fmt.Errorf("secret %s: %w", secretID, err)
	}

	logging.Debug("resolved credentials from secrets manager", "backend", backendName)
	return resolved, nil
}

// fromVault retrieves backend credentials from a Vault KV path. Each
// credential field is a key of the secret at that path.
func fromVault(ctx context.Context, m *manifest.Manifest, path string) (*manifest.CredentialsConfig, error) {
	if m.Vault == nil {
		return nil, fmt.Errorf("credentials source is vault but no vault section is configured")
	}
	if path == "" {
		return nil, fmt.Errorf("credentials.vault_path is required for the vault source")
	}

	client, err := vault.NewClient(vault.ConfigFromManifest(m.Vault))
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	defer client.Close()

	if err := client.Authenticate(ctx); err != nil {
		return nil, fmt.Errorf("failed to authenticate with vault: %w", err)
	}

	read := func(key string) string {
		v, err := client.GetSecret(ctx, path, key)
		if err != nil {
			return ""
		}
		return v
	}

	resolved := &manifest.CredentialsConfig{
		AccessKeyID:           read("access_key_id"),
		SecretAccessKey:       read("secret_access_key"),
		ServiceAccountKeyJSON: read("service_account_key_json"),
		TenantID:              read("tenant_id"),
		ClientID:              read("client_id"),
		ClientSecret:          read("client_secret"),
	}
	if err := validate(resolved, m.Backend.Name); err != nil {
		return nil, fmt.Errorf("vault path %s: %w", path, err)
	}

	logging.Debug("resolved credentials from vault", "backend", m.Backend.Name, "path", path)
	return resolved, nil
}

func payloadToConfig(p *secretPayload) *manifest.CredentialsConfig {
	return &manifest.CredentialsConfig{
		AccessKeyID:           p.AccessKeyID,
		SecretAccessKey:       p.SecretAccessKey,
		ServiceAccountKeyJSON: p.ServiceAccountKeyJSON,
		TenantID:              p.TenantID,
		ClientID:              p.ClientID,
		ClientSecret:          p.ClientSecret,
	}
}

// validate checks that the resolved credentials carry the fields the
// named backend needs.
func validate(c *manifest.CredentialsConfig, backendName string) error {
	switch backendName {
	case "aws":
		if c.AccessKeyID == "" || c.SecretAccessKey == "" {
			return fmt.Errorf("AWS credentials are incomplete")
		}
	case "gcp":
		if c.ServiceAccountKeyJSON == "" && c.ServiceAccountKeyPath == "" {
			return fmt.Errorf("GCP credentials are incomplete")
		}
	case "azure":
		if c.TenantID == "" || c.ClientID == "" || c.ClientSecret == "" {
			return fmt.Errorf("Azure credentials are incomplete")
		}
	default:
		return fmt.Errorf("unknown backend: %s", backendName)
	}
	return nil
}
