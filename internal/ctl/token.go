package ctl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dalemusser/askaway/internal/app/system/auth"
	"github.com/dalemusser/askaway/internal/app/system/secrets"
	"github.com/spf13/cobra"
)

type tokenOptions struct {
	UserID     string
	Name       string
	TenantID   string
	TTL        time.Duration
	SecretName string
	EnvPrefix  string
	Issuer     string
	Audience   string
}

func newTokenCommand(root *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Bearer tokens for the REST API",
	}

	opts := &tokenOptions{}
	sign := &cobra.Command{
		Use:   "sign",
		Short: "Sign a bearer token for a user",
		Long: `Sign a bearer token for a user.

The signing key is read like the server reads it from the env provider:
the secret "auth-jwt-secret" with prefix ASKAWAY_SECRET_ comes from
ASKAWAY_SECRET_AUTH_JWT_SECRET.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tok, err := signToken(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if root.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), map[string]string{"token": tok})
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	sign.Flags().StringVar(&opts.UserID, "user", "", "AAD object id of the user (required)")
	_ = sign.MarkFlagRequired("user")
	sign.Flags().StringVar(&opts.Name, "name", "", "display name")
	sign.Flags().StringVar(&opts.TenantID, "tenant", "", "tenant id")
	sign.Flags().DurationVar(&opts.TTL, "ttl", time.Hour, "token lifetime")
	sign.Flags().StringVar(&opts.SecretName, "secret", "auth-jwt-secret", "secret name of the signing key")
	sign.Flags().StringVar(&opts.EnvPrefix, "secret-env-prefix", "ASKAWAY_SECRET_", "environment prefix of secrets")
	sign.Flags().StringVar(&opts.Issuer, "issuer", "", "issuer claim")
	sign.Flags().StringVar(&opts.Audience, "audience", "", "audience claim")

	cmd.AddCommand(sign)
	return cmd
}

func signToken(ctx context.Context, opts *tokenOptions) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	key, err := secrets.NewEnv(opts.EnvPrefix).GetSecret(ctx, opts.SecretName)
	if errors.Is(err, secrets.ErrNotFound) {
		return "", fmt.Errorf("signing key %q not set in the environment", opts.SecretName)
	}
	if err != nil {
		return "", err
	}
	v, err := auth.NewVerifier(auth.Config{Secret: []byte(key), Issuer: opts.Issuer, Audience: opts.Audience})
	if err != nil {
		return "", err
	}
	return v.Sign(auth.Identity{UserID: opts.UserID, Name: opts.Name, TenantID: opts.TenantID}, opts.TTL)
}
