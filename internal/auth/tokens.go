package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token kinds. Access tokens authorize API calls; refresh tokens only
// mint new pairs. The kinds are never interchangeable.
const (
	TokenKindAccess  = "access"
	TokenKindRefresh = "refresh"
)

// clockLeeway absorbs clock skew between issuer and verifier.
const clockLeeway = 30 * time.Second

// ErrInvalidToken covers every verification failure: bad signature,
// expired, wrong kind, malformed. Clients get no finer detail.
var ErrInvalidToken = errors.New("invalid token")

// Claims is the signed token payload. Roles are snapshotted at login;
// a refresh re-issues the same snapshot without consulting the store,
// so role changes take effect at the next full login.
type Claims struct {
	Roles []string `json:"roles"`
	Kind  string   `json:"kind"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies HMAC session tokens.
type TokenIssuer struct {
	key        []byte
	method     jwt.SigningMethod
	algName    string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewTokenIssuer creates an issuer. alg selects the HMAC variant
// (HS256 default, HS384, HS512); anything else is a config error.
func NewTokenIssuer(signingKey, alg string, accessTTL, refreshTTL time.Duration) (*TokenIssuer, error) {
	if signingKey == "" {
		return nil, fmt.Errorf("auth: signing key must not be empty")
	}

	var method jwt.SigningMethod
	switch alg {
	case "", "HS256":
		method, alg = jwt.SigningMethodHS256, "HS256"
	case "HS384":
		method = jwt.SigningMethodHS384
	case "HS512":
		method = jwt.SigningMethodHS512
	default:
		return nil, fmt.Errorf("auth: unsupported signing algorithm %q", alg)
	}

	return &TokenIssuer{
		key:        []byte(signingKey),
		method:     method,
		algName:    alg,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}, nil
}

// Issue signs a token of the given kind for username with the role
// snapshot.
func (i *TokenIssuer) Issue(username string, roles []string, kind string) (string, error) {
	ttl := i.accessTTL
	if kind == TokenKindRefresh {
		ttl = i.refreshTTL
	}
	now := time.Now()

	claims := Claims{
		Roles: roles,
		Kind:  kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(i.method, claims).SignedString(i.key)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token, requiring the expected kind.
// All failures collapse to ErrInvalidToken.
func (i *TokenIssuer) Verify(tokenString, wantKind string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{i.algName}),
		jwt.WithLeeway(clockLeeway),
	)

	var claims Claims
	_, err := parser.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		return i.key, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Kind != wantKind {
		return nil, fmt.Errorf("%w: wrong token kind", ErrInvalidToken)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return &claims, nil
}

// AccessTTL returns the access token lifetime (for expires_in fields).
func (i *TokenIssuer) AccessTTL() time.Duration { return i.accessTTL }
