package vault

import (
	"context"
	"fmt"
	"sync"

	"trading-journal/config"

	"github.com/hashicorp/vault/api"
)

// Well-known keys under the service secret path
const (
	KeyJWTSecret        = "jwt_secret"
	KeyDatabasePassword = "database_password"
	KeyRedisPassword    = "redis_password"
)

// ErrSecretNotFound is returned when a key is absent from the secret.
var ErrSecretNotFound = fmt.Errorf("secret not found")

// Client wraps the HashiCorp Vault client
type Client struct {
	client       *api.Client
	config       config.VaultConfig
	mu           sync.RWMutex
	cache        map[string]string // key -> value cache
	cacheEnabled bool
}

// NewClient creates a new Vault client
func NewClient(cfg config.VaultConfig) (*Client, error) {
	if !cfg.Enabled {
		return &Client{
			config:       cfg,
			cache:        make(map[string]string),
			cacheEnabled: true,
		}, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	if cfg.TLSEnabled && cfg.CACert != "" {
		tlsConfig := &api.TLSConfig{
			CACert: cfg.CACert,
		}
		if err := vaultConfig.ConfigureTLS(tlsConfig); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	}

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}

	client.SetToken(cfg.Token)

	return &Client{
		client:       client,
		config:       cfg,
		cache:        make(map[string]string),
		cacheEnabled: true,
	}, nil
}

// StoreSecret writes one key. The whole KV v2 secret is rewritten, so the
// current values are read and merged first.
func (c *Client) StoreSecret(ctx context.Context, key, value string) error {
	if !c.config.Enabled {
		// Store in local cache only (for development/testing)
		c.mu.Lock()
		c.cache[key] = value
		c.mu.Unlock()
		return nil
	}

	current, err := c.readAll(ctx)
	if err != nil {
		return err
	}
	current[key] = value

	_, err = c.client.Logical().WriteWithContext(ctx, c.secretPath(), map[string]interface{}{
		"data": current,
	})
	if err != nil {
		return fmt.Errorf("failed to store secret in vault: %w", err)
	}

	if c.cacheEnabled {
		c.mu.Lock()
		c.cache[key] = value
		c.mu.Unlock()
	}

	return nil
}

// GetSecret returns a single key of the service secret.
func (c *Client) GetSecret(ctx context.Context, key string) (string, error) {
	// Check cache first
	if c.cacheEnabled {
		c.mu.RLock()
		if cached, ok := c.cache[key]; ok {
			c.mu.RUnlock()
			return cached, nil
		}
		c.mu.RUnlock()
	}

	if !c.config.Enabled {
		return "", fmt.Errorf("%w: %s (vault is disabled)", ErrSecretNotFound, key)
	}

	data, err := c.readAll(ctx)
	if err != nil {
		return "", err
	}

	value := getString(data, key)
	if value == "" {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, key)
	}

	if c.cacheEnabled {
		c.mu.Lock()
		c.cache[key] = value
		c.mu.Unlock()
	}

	return value, nil
}

// ResolveSecret returns fallback when it is set, otherwise the vault value.
// Used at startup so explicit configuration wins over vault.
func (c *Client) ResolveSecret(ctx context.Context, key, fallback string) (string, error) {
	if fallback != "" {
		return fallback, nil
	}
	return c.GetSecret(ctx, key)
}

func (c *Client) readAll(ctx context.Context) (map[string]interface{}, error) {
	secret, err := c.client.Logical().ReadWithContext(ctx, c.secretPath())
	if err != nil {
		return nil, fmt.Errorf("failed to read secret from vault: %w", err)
	}

	if secret == nil || secret.Data == nil {
		return map[string]interface{}{}, nil
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid secret format")
	}
	return data, nil
}

// ClearCache clears the in-memory cache
func (c *Client) ClearCache() {
	c.mu.Lock()
	c.cache = make(map[string]string)
	c.mu.Unlock()
}

// SetCacheEnabled enables or disables caching
func (c *Client) SetCacheEnabled(enabled bool) {
	c.mu.Lock()
	c.cacheEnabled = enabled
	c.mu.Unlock()
}

// IsEnabled returns whether Vault is enabled
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

// Health checks the Vault connection
func (c *Client) Health(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	health, err := c.client.Sys().HealthWithContext(ctx)
	if err != nil {
		return fmt.Errorf("vault health check failed: %w", err)
	}

	if health.Sealed {
		return fmt.Errorf("vault is sealed")
	}

	return nil
}

// secretPath returns the KV v2 data path of the service secret
func (c *Client) secretPath() string {
	return fmt.Sprintf("%s/data/%s", c.config.MountPath, c.config.SecretPath)
}

func getString(data map[string]interface{}, key string) string {
	if val, ok := data[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

// NewMockClient creates a vault-disabled client for testing
func NewMockClient() *Client {
	return &Client{
		config: config.VaultConfig{
			Enabled: false,
		},
		cache:        make(map[string]string),
		cacheEnabled: true,
	}
}
