package secrets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"
)

// keyVaultAPI is the minimal Key Vault interface required by KeyVault.
// *azsecrets.Client satisfies this interface.
type keyVaultAPI interface {
	GetSecret(ctx context.Context, name string, version string, options *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error)
}

// KeyVault reads the latest version of secrets from Azure Key Vault.
type KeyVault struct {
	api keyVaultAPI
}

// NewKeyVault creates a KeyVault provider.
func NewKeyVault(api keyVaultAPI) (*KeyVault, error) {
	if api == nil {
		return nil, errors.New("secrets: key vault api must not be nil")
	}
	return &KeyVault{api: api}, nil
}

func (k *KeyVault) GetSecret(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("secrets: name is required")
	}
	resp, err := k.api.GetSecret(ctx, name, "", nil)
	if err != nil {
		var re *azcore.ResponseError
		if errors.As(err, &re) && re.StatusCode == http.StatusNotFound {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("secrets: key vault get %q: %w", name, err)
	}
	if resp.Value == nil {
		return "", ErrNotFound
	}
	return *resp.Value, nil
}
