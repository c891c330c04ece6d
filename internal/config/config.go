package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/better-wallet/custody/internal/chains"
	"github.com/better-wallet/custody/internal/custody"
	"github.com/better-wallet/custody/internal/keyshare"
)

// rpcOverridePrefix marks per-chain RPC endpoint variables, e.g. RPC_URL_421614 or RPC_URL_MAINNET_BETA
const rpcOverridePrefix = "RPC_URL_"

// Config holds process configuration read from the environment
type Config struct {
	// Database
	PostgresDSN string

	// Key share vault secret
	KeyShareSecret       string
	KeyShareSecretSource string // env, aws-kms or vault
	KeyShareAWSKMSKeyID  string
	KeyShareAWSRegion    string
	KeyShareVaultAddress string
	KeyShareVaultToken   string
	KeyShareVaultPath    string

	// Custody service
	CustodyBaseURL           string
	CustodyEnvironmentID     string
	CustodyAPIToken          string
	CustodyRequestsPerSecond float64
	CustodyBurst             int
	CustodyTimeout           time.Duration

	// Chains
	DefaultEVMChainID    string
	DefaultSolanaCluster string
	RPCOverrides         map[string]string
	SolanaConfirmTimeout time.Duration

	// MetricsPushgateway is the Pushgateway URL operation metrics are pushed to; empty disables pushing
	MetricsPushgateway string
}

// Load reads configuration from the environment. Variables in envFiles
// (default ".env") are loaded first without overriding ones already set;
// missing files are ignored.
func Load(envFiles ...string) (*Config, error) {
	if err := loadEnvFiles(envFiles); err != nil {
		return nil, err
	}

	cfg := &Config{
		PostgresDSN: getEnv("POSTGRES_DSN", ""),

		KeyShareSecret:       getEnv("KEY_SHARE_SECRET", ""),
		KeyShareSecretSource: getEnv("KEY_SHARE_SECRET_SOURCE", string(keyshare.SourceEnv)),
		KeyShareAWSKMSKeyID:  getEnv("KEY_SHARE_AWS_KMS_KEY_ID", ""),
		KeyShareAWSRegion:    getEnv("KEY_SHARE_AWS_REGION", ""),
		KeyShareVaultAddress: getEnv("KEY_SHARE_VAULT_ADDRESS", ""),
		KeyShareVaultToken:   getEnv("KEY_SHARE_VAULT_TOKEN", ""),
		KeyShareVaultPath:    getEnv("KEY_SHARE_VAULT_PATH", ""),

		CustodyBaseURL:           getEnv("CUSTODY_BASE_URL", ""),
		CustodyEnvironmentID:     getEnv("CUSTODY_ENVIRONMENT_ID", ""),
		CustodyAPIToken:          getEnv("CUSTODY_API_TOKEN", ""),
		CustodyRequestsPerSecond: getEnvFloat("CUSTODY_REQUESTS_PER_SECOND", 10),
		CustodyBurst:             getEnvInt("CUSTODY_BURST", 20),
		CustodyTimeout:           getEnvDuration("CUSTODY_TIMEOUT", 30*time.Second),

		DefaultEVMChainID:    getEnv("DEFAULT_EVM_CHAIN_ID", ""),
		DefaultSolanaCluster: getEnv("DEFAULT_SOLANA_CLUSTER", ""),
		RPCOverrides:         rpcOverrides(os.Environ()),
		SolanaConfirmTimeout: getEnvDuration("SOLANA_CONFIRM_TIMEOUT", 60*time.Second),

		MetricsPushgateway: getEnv("METRICS_PUSHGATEWAY", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadChainOptions reads only the chain settings, for commands that never
// touch the database or the custody service
func LoadChainOptions(envFiles ...string) (chains.Options, error) {
	if err := loadEnvFiles(envFiles); err != nil {
		return chains.Options{}, err
	}
	return chains.Options{
		RPCOverrides:  rpcOverrides(os.Environ()),
		DefaultEVM:    getEnv("DEFAULT_EVM_CHAIN_ID", ""),
		DefaultSolana: getEnv("DEFAULT_SOLANA_CLUSTER", ""),
	}, nil
}

func loadEnvFiles(envFiles []string) error {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required")
	}

	switch keyshare.SourceType(c.KeyShareSecretSource) {
	case keyshare.SourceEnv:
		if len(c.KeyShareSecret) < keyshare.MinSecretLength {
			return fmt.Errorf("KEY_SHARE_SECRET must be at least %d characters", keyshare.MinSecretLength)
		}
	case keyshare.SourceAWSKMS:
		if c.KeyShareSecret == "" || c.KeyShareAWSKMSKeyID == "" {
			return fmt.Errorf("KEY_SHARE_SECRET (ciphertext) and KEY_SHARE_AWS_KMS_KEY_ID are required when KEY_SHARE_SECRET_SOURCE is 'aws-kms'")
		}
	case keyshare.SourceVault:
		if c.KeyShareVaultAddress == "" || c.KeyShareVaultToken == "" || c.KeyShareVaultPath == "" {
			return fmt.Errorf("KEY_SHARE_VAULT_ADDRESS, KEY_SHARE_VAULT_TOKEN and KEY_SHARE_VAULT_PATH are required when KEY_SHARE_SECRET_SOURCE is 'vault'")
		}
	default:
		return fmt.Errorf("KEY_SHARE_SECRET_SOURCE must be 'env', 'aws-kms' or 'vault', got: %s", c.KeyShareSecretSource)
	}

	if c.CustodyBaseURL == "" || c.CustodyEnvironmentID == "" || c.CustodyAPIToken == "" {
		return fmt.Errorf("CUSTODY_BASE_URL, CUSTODY_ENVIRONMENT_ID and CUSTODY_API_TOKEN are required")
	}
	if c.CustodyRequestsPerSecond <= 0 {
		return fmt.Errorf("CUSTODY_REQUESTS_PER_SECOND must be positive, got: %v", c.CustodyRequestsPerSecond)
	}

	if _, err := chains.NewDefaultRegistry(c.ChainOptions()); err != nil {
		return err
	}

	return nil
}

// KeyShareSource returns the secret source settings for the key share vault
func (c *Config) KeyShareSource() *keyshare.SourceConfig {
	return &keyshare.SourceConfig{
		Source:       c.KeyShareSecretSource,
		Value:        c.KeyShareSecret,
		AWSKMSKeyID:  c.KeyShareAWSKMSKeyID,
		AWSKMSRegion: c.KeyShareAWSRegion,
		VaultAddress: c.KeyShareVaultAddress,
		VaultToken:   c.KeyShareVaultToken,
		VaultPath:    c.KeyShareVaultPath,
	}
}

// Custody returns the custody service client settings
func (c *Config) Custody() custody.Config {
	return custody.Config{
		BaseURL:           c.CustodyBaseURL,
		EnvironmentID:     c.CustodyEnvironmentID,
		APIToken:          c.CustodyAPIToken,
		RequestsPerSecond: c.CustodyRequestsPerSecond,
		Burst:             c.CustodyBurst,
		Timeout:           c.CustodyTimeout,
	}
}

// ChainOptions returns the chain registry settings
func (c *Config) ChainOptions() chains.Options {
	return chains.Options{
		RPCOverrides:  c.RPCOverrides,
		DefaultEVM:    c.DefaultEVMChainID,
		DefaultSolana: c.DefaultSolanaCluster,
	}
}

// rpcOverrides collects RPC_URL_<CHAIN> variables keyed by chain id or alias.
// Underscores in the suffix stand for dashes.
func rpcOverrides(environ []string) map[string]string {
	out := make(map[string]string)
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, rpcOverridePrefix) || value == "" {
			continue
		}
		chain := strings.TrimPrefix(key, rpcOverridePrefix)
		if chain == "" {
			continue
		}
		out[strings.ReplaceAll(strings.ToLower(chain), "_", "-")] = value
	}
	return out
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvDuration accepts Go durations ("45s") or plain seconds ("45")
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(valueStr); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
