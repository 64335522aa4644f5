// Package vault provides integration with HashiCorp Vault for secret
// management. Secrets referenced by the deployment manifest are fetched
// from Vault's KV v2 engine and injected into the workload's
// environment before it is deployed to any region.
package vault

import (
	"context"
	"fmt"

	vault "github.com/hashicorp/vault/api"

	"github.com/jvreagan/multi-region/pkg/manifest"
)

// Config holds Vault configuration including address and authentication details.
type Config struct {
	// Address is the Vault server address (e.g., "http://127.0.0.1:8200")
	Address string

	// Auth holds authentication configuration
	Auth AuthConfig

	// TLSSkipVerify skips TLS certificate verification (not recommended for production)
	TLSSkipVerify bool
}

// AuthConfig specifies the authentication method and credentials.
type AuthConfig struct {
	// Method is the auth method: "token" or "approle"
	Method string

	// Token for token authentication
	Token string

	// RoleID for AppRole authentication
	RoleID string

	// SecretID for AppRole authentication
	SecretID string
}

// ConfigFromManifest converts the manifest's vault section into a
// client Config.
func ConfigFromManifest(vc *manifest.VaultConfig) *Config {
	return &Config{
		Address:       vc.Address,
		TLSSkipVerify: vc.TLSSkipVerify,
		Auth: AuthConfig{
			Method:   vc.AuthMethod,
			Token:    vc.Token,
			RoleID:   vc.RoleID,
			SecretID: vc.SecretID,
		},
	}
}

// Client wraps the Vault API client and provides secret retrieval methods.
type Client struct {
	client *vault.Client
	config *Config
}

// NewClient creates a new Vault client with the given configuration.
// It initializes the client but does not authenticate yet.
//
// Example:
//
//	config := &vault.Config{
//	    Address: "http://127.0.0.1:8200",
//	    Auth: vault.AuthConfig{
//	        Method: "token",
//	        Token: "hvs.xxx",
//	    },
//	}
//	client, err := vault.NewClient(config)
func NewClient(config *Config) (*Client, error) {
	if config.Address == "" {
		return nil, fmt.Errorf("vault address is required")
	}

	vaultConfig := vault.DefaultConfig()
	vaultConfig.Address = config.Address

	if config.TLSSkipVerify {
		tlsConfig := &vault.TLSConfig{
			Insecure: true,
		}
		if err := vaultConfig.ConfigureTLS(tlsConfig); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	}

	client, err := vault.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}

	return &Client{
		client: client,
		config: config,
	}, nil
}

// Authenticate authenticates to Vault using the configured auth method.
// This must be called before fetching secrets.
func (c *Client) Authenticate(ctx context.Context) error {
	switch c.config.Auth.Method {
	case "token":
		return c.authenticateWithToken()

	case "approle":
		return c.authenticateWithAppRole(ctx)

	default:
		return fmt.Errorf("unsupported auth method: %s", c.config.Auth.Method)
	}
}

// authenticateWithToken sets the token directly on the client.
func (c *Client) authenticateWithToken() error {
	if c.config.Auth.Token == "" {
		return fmt.Errorf("vault token is required for token authentication")
	}

	c.client.SetToken(c.config.Auth.Token)
	return nil
}

// authenticateWithAppRole authenticates using AppRole role_id and secret_id.
func (c *Client) authenticateWithAppRole(ctx context.Context) error {
	if c.config.Auth.RoleID == "" {
		return fmt.Errorf("role_id is required for approle authentication")
	}
	if c.config.Auth.SecretID == "" {
		return fmt.Errorf("secret_id is required for approle authentication")
	}

	data := map[string]interface{}{
		"role_id":   c.config.Auth.RoleID,
		"secret_id": c.config.Auth.SecretID,
	}

	resp, err := c.client.Logical().WriteWithContext(ctx, "auth/approle/login", data)
	if err != nil {
		return fmt.Errorf("approle login failed: %w", err)
	}

	if resp == nil || resp.Auth == nil {
		return fmt.Errorf("approle login returned no auth token")
	}

	c.client.SetToken(resp.Auth.ClientToken)
	return nil
}

// GetSecret fetches a secret from Vault's KV v2 secrets engine.
//
// Note: For KV v2, the path must include "/data/" after the mount
// point. For example: "secret/data/myapp/database" not
// "secret/myapp/database".
func (c *Client) GetSecret(ctx context.Context, path, key string) (string, error) {
	secret, err := c.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return "", fmt.Errorf("failed to read secret at %s: %w", path, err)
	}

	if secret == nil {
		return "", fmt.Errorf("secret not found at path: %s", path)
	}

	// For KV v2, secrets are nested under "data"
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return "", fmt.Errorf("unexpected secret format at path: %s", path)
	}

	value, ok := data[key]
	if !ok {
		return "", fmt.Errorf("key %s not found in secret at path: %s", key, path)
	}

	valueStr, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("value for key %s is not a string at path: %s", key, path)
	}

	return valueStr, nil
}

// GetSecrets fetches multiple secrets, keyed by the environment
// variable name they should be injected as.
func (c *Client) GetSecrets(ctx context.Context, secrets map[string]manifest.SecretRef) (map[string]string, error) {
	values := make(map[string]string)

	for name, ref := range secrets {
		value, err := c.GetSecret(ctx, ref.Path, ref.Key)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch secret %s: %w", name, err)
		}
		values[name] = value
	}

	return values, nil
}

// FetchSecrets builds a client from the manifest's vault section,
// authenticates, and fetches every referenced secret. Returns nil when
// the manifest configures no vault or no secrets.
func FetchSecrets(ctx context.Context, m *manifest.Manifest) (map[string]string, error) {
	if m.Vault == nil || len(m.Secrets) == 0 {
		return nil, nil
	}

	client, err := NewClient(ConfigFromManifest(m.Vault))
	if err != nil {
		return nil, err
	}
	defer client.Close()

	if err := client.Authenticate(ctx); err != nil {
		return nil, fmt.Errorf("vault authentication failed: %w", err)
	}

	return client.GetSecrets(ctx, m.Secrets)
}

// Close closes the Vault client.
// Currently a no-op but provided for future cleanup needs.
func (c *Client) Close() error {
	return nil
}
