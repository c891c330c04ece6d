package keyshare

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	vault "github.com/hashicorp/vault/api"
)

// SecretSource resolves the vault secret at startup.
// Different backends (environment, AWS KMS, HashiCorp Vault) can implement this
// interface so the secret itself never has to sit in plain configuration.
type SecretSource interface {
	// Secret returns the raw vault secret
	Secret(ctx context.Context) ([]byte, error)

	// Source returns the source name (e.g., "env", "aws-kms", "vault")
	Source() string
}

// SourceType represents supported secret sources
type SourceType string

const (
	// SourceEnv uses the configured value as the secret
	SourceEnv SourceType = "env"

	// SourceAWSKMS treats the configured value as a base64 KMS ciphertext of the secret
	SourceAWSKMS SourceType = "aws-kms"

	// SourceVault reads the secret from a HashiCorp Vault KV path
	SourceVault SourceType = "vault"
)

// SourceConfig contains configuration for secret sources
type SourceConfig struct {
	Source string

	// Value is the secret (env) or its base64 KMS ciphertext (aws-kms)
	Value string

	AWSKMSKeyID  string
	AWSKMSRegion string

	VaultAddress string
	VaultToken   string
	VaultPath    string
}

// EnvSecret returns a secret supplied directly in configuration
type EnvSecret struct {
	value string
}

// NewEnvSecret creates a new env secret source
func NewEnvSecret(value string) (*EnvSecret, error) {
	if value == "" {
		return nil, fmt.Errorf("key share secret is required")
	}
	return &EnvSecret{value: value}, nil
}

func (s *EnvSecret) Secret(ctx context.Context) ([]byte, error) {
	return []byte(s.value), nil
}

func (s *EnvSecret) Source() string {
	return string(SourceEnv)
}

// KMSDecrypter is the subset of the AWS KMS client used to unwrap the secret
type KMSDecrypter interface {
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// AWSKMSSecret unwraps a KMS-encrypted secret
type AWSKMSSecret struct {
	keyID      string
	ciphertext []byte
	client     KMSDecrypter
}

// NewAWSKMSSecret creates a KMS secret source using the default AWS credential chain
func NewAWSKMSSecret(ctx context.Context, keyID, region, ciphertextB64 string) (*AWSKMSSecret, error) {
	if region == "" {
		return nil, fmt.Errorf("AWS region is required")
	}

	// Uses default credential chain: env vars, shared config, IAM role, etc.
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewAWSKMSSecretWithClient(kms.NewFromConfig(cfg), keyID, ciphertextB64)
}

// NewAWSKMSSecretWithClient creates a KMS secret source with an explicit client
func NewAWSKMSSecretWithClient(client KMSDecrypter, keyID, ciphertextB64 string) (*AWSKMSSecret, error) {
	if keyID == "" {
		return nil, fmt.Errorf("AWS KMS key ID is required")
	}
	if ciphertextB64 == "" {
		return nil, fmt.Errorf("encrypted key share secret is required")
	}
	ciphertext, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return nil, fmt.Errorf("encrypted key share secret is not base64: %w", err)
	}

	return &AWSKMSSecret{
		keyID:      keyID,
		ciphertext: ciphertext,
		client:     client,
	}, nil
}

func (s *AWSKMSSecret) Secret(ctx context.Context) ([]byte, error) {
	output, err := s.client.Decrypt(ctx, &kms.DecryptInput{
		KeyId:          aws.String(s.keyID),
		CiphertextBlob: s.ciphertext,
	})
	if err != nil {
		return nil, fmt.Errorf("AWS KMS decrypt failed: %w", err)
	}
	if len(output.Plaintext) == 0 {
		return nil, fmt.Errorf("AWS KMS decrypt returned an empty secret")
	}
	return output.Plaintext, nil
}

func (s *AWSKMSSecret) Source() string {
	return string(SourceAWSKMS)
}

// VaultSecret reads the secret from a HashiCorp Vault KV engine (v1 or v2)
type VaultSecret struct {
	path   string
	client *vault.Client
}

// NewVaultSecret creates a Vault secret source
func NewVaultSecret(address, token, path string) (*VaultSecret, error) {
	if address == "" {
		return nil, fmt.Errorf("Vault address is required")
	}
	if token == "" {
		return nil, fmt.Errorf("Vault token is required")
	}
	if path == "" {
		return nil, fmt.Errorf("Vault secret path is required")
	}

	vaultConfig := vault.DefaultConfig()
	vaultConfig.Address = address

	client, err := vault.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	client.SetToken(token)

	return &VaultSecret{path: path, client: client}, nil
}

func (s *VaultSecret) Secret(ctx context.Context) ([]byte, error) {
	secret, err := s.client.Logical().ReadWithContext(ctx, s.path)
	if err != nil {
		return nil, fmt.Errorf("Vault read failed: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("Vault secret not found at %s", s.path)
	}

	data := secret.Data
	// KV v2 nests the payload under "data"
	if nested, ok := data["data"].(map[string]interface{}); ok {
		data = nested
	}

	value, ok := data["value"].(string)
	if !ok || value == "" {
		return nil, fmt.Errorf("Vault secret at %s has no value field", s.path)
	}
	return []byte(value), nil
}

func (s *VaultSecret) Source() string {
	return string(SourceVault)
}

// NewSecretSource creates a SecretSource based on the configuration
func NewSecretSource(ctx context.Context, cfg *SourceConfig) (SecretSource, error) {
	switch SourceType(cfg.Source) {
	case SourceEnv, "":
		return NewEnvSecret(cfg.Value)
	case SourceAWSKMS:
		return NewAWSKMSSecret(ctx, cfg.AWSKMSKeyID, cfg.AWSKMSRegion, cfg.Value)
	case SourceVault:
		return NewVaultSecret(cfg.VaultAddress, cfg.VaultToken, cfg.VaultPath)
	default:
		return nil, fmt.Errorf("unsupported key share secret source: %s (supported: %s, %s, %s)",
			cfg.Source, SourceEnv, SourceAWSKMS, SourceVault)
	}
}

// OpenVault resolves the secret from src and builds a Vault from it
func OpenVault(ctx context.Context, src SecretSource) (*Vault, error) {
	secret, err := src.Secret(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve key share secret from %s: %w", src.Source(), err)
	}
	defer wipe(secret)

	return NewVault(secret)
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

var (
	_ SecretSource = (*EnvSecret)(nil)
	_ SecretSource = (*AWSKMSSecret)(nil)
	_ SecretSource = (*VaultSecret)(nil)
)
