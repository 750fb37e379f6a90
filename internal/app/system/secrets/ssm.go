package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

// ssmAPI is the minimal AWS SSM interface required by SSM.
// *ssm.Client from aws-sdk-go-v2 satisfies this interface.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// SSM reads decrypted parameters from AWS Systems Manager Parameter Store.
// Names are resolved under prefix, e.g. "/askaway/prod/" + name.
type SSM struct {
	api    ssmAPI
	prefix string
}

// NewSSM creates an SSM provider.
func NewSSM(api ssmAPI, prefix string) (*SSM, error) {
	if api == nil {
		return nil, errors.New("secrets: ssm api must not be nil")
	}
	return &SSM{api: api, prefix: prefix}, nil
}

func (s *SSM) GetSecret(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("secrets: name is required")
	}
	full := s.prefix + name

	withDecryption := true
	out, err := s.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &full,
		WithDecryption: &withDecryption,
	})
	if err != nil {
		var nf *types.ParameterNotFound
		if errors.As(err, &nf) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("secrets: get parameter %q: %w", full, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", ErrNotFound
	}
	return *out.Parameter.Value, nil
}
