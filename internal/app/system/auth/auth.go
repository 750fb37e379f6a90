package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

/*─────────────────────────────────────────────────────────────────────────────*
| Identity                                                                    |
*─────────────────────────────────────────────────────────────────────────────*/

// Identity is the caller as asserted by the bearer token. UserID is the AAD
// object id, the same id the users collection is keyed on.
type Identity struct {
	UserID   string
	Name     string
	TenantID string
}

type ctxKey string

const identityKey ctxKey = "identity"

// IdentityFrom returns the identity & "found?" flag.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

/*─────────────────────────────────────────────────────────────────────────────*
| Token verification                                                          |
*─────────────────────────────────────────────────────────────────────────────*/

// DefaultLeeway tolerates clock skew between the token issuer and us.
const DefaultLeeway = 30 * time.Second

// Config configures a Verifier.
type Config struct {
	// Secret is the HS256 signing key shared with the token issuer.
	Secret   []byte
	Issuer   string
	Audience string
	Leeway   time.Duration
}

type claims struct {
	ObjectID string `json:"oid"`
	Name     string `json:"name"`
	TenantID string `json:"tid"`
	jwt.RegisteredClaims
}

// Verifier parses and validates bearer tokens.
type Verifier struct {
	cfg    Config
	parser *jwt.Parser
}

// NewVerifier builds a Verifier. Issuer and Audience are only enforced when set.
func NewVerifier(cfg Config) (*Verifier, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("auth: signing secret is required")
	}
	if cfg.Leeway == 0 {
		cfg.Leeway = DefaultLeeway
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(cfg.Leeway),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	return &Verifier{cfg: cfg, parser: jwt.NewParser(opts...)}, nil
}

// Verify parses raw and returns the identity it asserts.
func (v *Verifier) Verify(raw string) (Identity, error) {
	var c claims
	tok, err := v.parser.ParseWithClaims(raw, &c, func(t *jwt.Token) (any, error) {
		return v.cfg.Secret, nil
	})
	if err != nil {
		return Identity{}, err
	}
	if !tok.Valid {
		return Identity{}, errors.New("invalid token")
	}

	userID := c.ObjectID
	if userID == "" {
		userID = c.Subject
	}
	if userID == "" {
		return Identity{}, errors.New("token carries no user id")
	}
	return Identity{UserID: userID, Name: c.Name, TenantID: c.TenantID}, nil
}

// Sign issues a token for id. Used by askawayctl and tests.
func (v *Verifier) Sign(id Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	c := claims{
		ObjectID: id.UserID,
		Name:     id.Name,
		TenantID: id.TenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			Issuer:    v.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if v.cfg.Audience != "" {
		c.Audience = jwt.ClaimStrings{v.cfg.Audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(v.cfg.Secret)
}

/*─────────────────────────────────────────────────────────────────────────────*
| Middleware                                                                  |
*─────────────────────────────────────────────────────────────────────────────*/

// RequireIdentity rejects requests without a valid bearer token with 401 and
// injects the identity into the request context otherwise.
func RequireIdentity(v *Verifier, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if !ok {
				unauthorized(w, "missing bearer token")
				return
			}
			id, err := v.Verify(raw)
			if err != nil {
				logger.Debug("bearer token rejected", zap.Error(err))
				unauthorized(w, "invalid bearer token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(h, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="askaway"`)
	w.WriteHeader(http.StatusUnauthorized)
	fmt.Fprintf(w, `{"code":"UNAUTHORIZED","message":%q}`, msg)
}
