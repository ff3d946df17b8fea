package auth

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// DefaultTokenTTL is the lifetime of an access token when none is configured.
	DefaultTokenTTL = 1800 * time.Second
	defaultIssuer   = "gatehouse"
	minSecretLength = 32
)

// Claims is the payload of an access token. Roles and permissions are flattened
// slugs computed at issuance time.
type Claims struct {
	UserID         string   `json:"id"`
	Name           string   `json:"name"`
	Username       string   `json:"username"`
	Email          string   `json:"email"`
	OrganizationID string   `json:"orgId"`
	Roles          []string `json:"roles"`
	Permissions    []string `json:"permissions"`
	jwt.RegisteredClaims
}

// HasAnyRole reports whether the claims carry at least one of roles.
func (c *Claims) HasAnyRole(roles []string) bool {
	for _, role := range roles {
		if slices.Contains(c.Roles, role) {
			return true
		}
	}
	return false
}

// HasAllPermissions reports whether every one of perms is present.
func (c *Claims) HasAllPermissions(perms []string) bool {
	for _, perm := range perms {
		if !slices.Contains(c.Permissions, perm) {
			return false
		}
	}
	return true
}

// TokenConfig is the signing configuration handed to NewTokenSigner at startup.
type TokenConfig struct {
	Secret []byte
	Issuer string
	TTL    time.Duration
	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

// TokenSigner issues and verifies HS256 access tokens.
type TokenSigner struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenSigner validates cfg and returns a signer bound to it.
func NewTokenSigner(cfg TokenConfig) (*TokenSigner, error) {
	if len(cfg.Secret) < minSecretLength {
		return nil, fmt.Errorf("%w: signing secret must be at least %d bytes", ErrInvalidInput, minSecretLength)
	}
	s := &TokenSigner{
		secret: append([]byte(nil), cfg.Secret...),
		issuer: strings.TrimSpace(cfg.Issuer),
		ttl:    cfg.TTL,
		now:    cfg.Now,
	}
	if s.issuer == "" {
		s.issuer = defaultIssuer
	}
	if s.ttl <= 0 {
		s.ttl = DefaultTokenTTL
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// TTL returns the default token lifetime.
func (s *TokenSigner) TTL() time.Duration { return s.ttl }

// Issue signs claims with an expiry of ttl from now. A non-positive ttl uses the
// configured default. Registered claims other than the subject are overwritten.
func (s *TokenSigner) Issue(claims Claims, ttl time.Duration) (string, error) {
	if strings.TrimSpace(claims.UserID) == "" {
		return "", errors.New("claims: id is required")
	}
	if ttl <= 0 {
		ttl = s.ttl
	}
	now := s.now().UTC()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Subject:   claims.UserID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        uuid.NewString(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature and expiry of token and returns its claims.
// It fails with ErrExpiredToken for a correctly signed token past its expiry and
// ErrInvalidToken for everything else.
func (s *TokenSigner) Verify(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || strings.TrimSpace(claims.UserID) == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
