// internal/app/system/secrets/secrets.go

// Package secrets resolves named secrets (bot password, token signing key)
// from the configured provider and caches them for a fixed TTL.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
)

// Providers.
const (
	ProviderEnv      = "env"
	ProviderKeyVault = "keyvault"
	ProviderSSM      = "ssm"
)

// DefaultTTL is how long a resolved secret is served from memory.
const DefaultTTL = 24 * time.Hour

// ErrNotFound is returned when the provider has no value for a name.
var ErrNotFound = errors.New("secret not found")

// Getter is the interface that wraps GetSecret.
// Consumers depend on this interface rather than a concrete provider so they
// stay testable without cloud calls.
type Getter interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// Config selects and configures a provider.
type Config struct {
	Provider    string
	EnvPrefix   string
	KeyVaultURL string
	SSMPrefix   string
	TTL         time.Duration
}

// New builds the configured provider wrapped in a TTL cache.
func New(ctx context.Context, cfg Config) (*Cache, error) {
	var (
		src Getter
		err error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", ProviderEnv:
		src = NewEnv(cfg.EnvPrefix)
	case ProviderKeyVault:
		src, err = newKeyVaultFromURL(cfg.KeyVaultURL)
	case ProviderSSM:
		src, err = newSSMFromDefaultConfig(ctx, cfg.SSMPrefix)
	default:
		err = fmt.Errorf("secrets: unknown provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return NewCache(src, cfg.TTL), nil
}

func newKeyVaultFromURL(vaultURL string) (*KeyVault, error) {
	if strings.TrimSpace(vaultURL) == "" {
		return nil, errors.New("secrets: key vault url is required")
	}
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("secrets: azure credential: %w", err)
	}
	client, err := azsecrets.NewClient(vaultURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("secrets: key vault client: %w", err)
	}
	return NewKeyVault(client)
}

func newSSMFromDefaultConfig(ctx context.Context, prefix string) (*SSM, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("secrets: aws config: %w", err)
	}
	return NewSSM(awsssm.NewFromConfig(awsCfg), prefix)
}
