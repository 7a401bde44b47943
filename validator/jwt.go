package validator

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	gateway "github.com/giantswarm/oauth-gateway"
	"github.com/giantswarm/oauth-gateway/internal/util"
	"github.com/giantswarm/oauth-gateway/security"
)

// JWTConfig configures a JWTValidator
type JWTConfig struct {
	// Key verifies signatures: an HMAC secret ([]byte) or an RSA, ECDSA or
	// Ed25519 public key.
	Key any

	// Methods restricts accepted signing algorithms. Defaults to HS256,
	// RS256, ES256 or EdDSA depending on the key type.
	Methods []string

	// Issuer and Audience are checked when set
	Issuer   string
	Audience string

	// Leeway tolerates clock skew on exp, nbf and iat (default 5s)
	Leeway time.Duration

	// TokenParam is the form/query field carrying the token (default "access_token")
	TokenParam string

	Logger *slog.Logger
}

// AccessClaims are the claims of a JWT access token. Scopes are space
// separated as in RFC 9068.
type AccessClaims struct {
	jwt.RegisteredClaims
	Scope    string `json:"scope,omitempty"`
	ClientID string `json:"client_id,omitempty"`
}

// JWTValidator validates signed JWT access tokens without a store lookup.
type JWTValidator struct {
	key        any
	methods    []string
	issuer     string
	audience   string
	leeway     time.Duration
	tokenParam string
	logger     *slog.Logger
	now        func() time.Time
}

// Compile-time interface check
var _ gateway.ResourceValidator = (*JWTValidator)(nil)

// NewJWTValidator creates a JWT validator.
func NewJWTValidator(cfg JWTConfig) (*JWTValidator, error) {
	if cfg.Key == nil {
		return nil, errors.New("verification key is required")
	}

	methods := cfg.Methods
	if len(methods) == 0 {
		method, err := defaultMethod(cfg.Key)
		if err != nil {
			return nil, err
		}
		methods = []string{method}
	}

	if cfg.Leeway <= 0 {
		cfg.Leeway = security.DefaultClockSkew
	}
	if cfg.TokenParam == "" {
		cfg.TokenParam = gateway.DefaultTokenParam
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &JWTValidator{
		key:        cfg.Key,
		methods:    methods,
		issuer:     cfg.Issuer,
		audience:   cfg.Audience,
		leeway:     cfg.Leeway,
		tokenParam: cfg.TokenParam,
		logger:     cfg.Logger,
		now:        time.Now,
	}, nil
}

func defaultMethod(key any) (string, error) {
	switch key.(type) {
	case []byte:
		return jwt.SigningMethodHS256.Alg(), nil
	case *rsa.PublicKey:
		return jwt.SigningMethodRS256.Alg(), nil
	case *ecdsa.PublicKey:
		return jwt.SigningMethodES256.Alg(), nil
	case ed25519.PublicKey:
		return jwt.SigningMethodEdDSA.Alg(), nil
	default:
		return "", fmt.Errorf("unsupported verification key type %T", key)
	}
}

// ValidateAccessToken implements gateway.ResourceValidator.
func (v *JWTValidator) ValidateAccessToken(_ context.Context, r *http.Request, headerOnly bool) (*gateway.AccessToken, error) {
	raw, ok := gateway.ExtractAccessToken(r, v.tokenParam, headerOnly)
	if !ok {
		return nil, errors.New(msgMissingToken)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods(v.methods),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.now),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	claims := &AccessClaims{}
	_, err := jwt.NewParser(opts...).ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return v.key, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, errors.New(msgExpiredToken)
		}
		v.logger.Debug("JWT rejected",
			"token_prefix", util.SafeTruncate(raw, tokenIDLogLength),
			"error", err)
		return nil, errors.New(msgInvalidToken)
	}

	token := &gateway.AccessToken{
		Token:    raw,
		ClientID: claims.ClientID,
		UserID:   claims.Subject,
		Scopes:   util.SplitList(claims.Scope),
	}
	if claims.ExpiresAt != nil {
		token.ExpiresAt = claims.ExpiresAt.Time
	}
	return token, nil
}

// HasScope implements gateway.ResourceValidator.
func (v *JWTValidator) HasScope(token *gateway.AccessToken, scope string) bool {
	return token != nil && token.HasScope(scope)
}
