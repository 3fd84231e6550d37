package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/utafrali/authservice/pkg/errors"
)

// Fixed token lifetimes.
const (
	AccessTokenTTL  = 15 * time.Minute
	RefreshTokenTTL = 7 * 24 * time.Hour
)

const issuer = "auth-service"

// revocationIDBytes is the entropy of a refresh token's revocation identifier.
const revocationIDBytes = 16

// TokenKind distinguishes access tokens from refresh tokens.
type TokenKind string

const (
	KindAccess  TokenKind = "access"
	KindRefresh TokenKind = "refresh"
)

// Claims represents the JWT claims shared by both token kinds. TokenID is
// only set on refresh tokens.
type Claims struct {
	UserID  string    `json:"userId"`
	TokenID string    `json:"tokenId,omitempty"`
	Kind    TokenKind `json:"typ"`
	jwt.RegisteredClaims
}

// Option configures a TokenCodec.
type Option func(*TokenCodec)

// WithClock overrides the time source used for issuing and verifying tokens.
func WithClock(now func() time.Time) Option {
	return func(c *TokenCodec) {
		c.now = now
	}
}

// TokenCodec issues and verifies HS256-signed access and refresh tokens.
// Each kind has its own secret, so a token of one kind never verifies as
// the other.
type TokenCodec struct {
	accessSecret  []byte
	refreshSecret []byte
	now           func() time.Time
}

// NewTokenCodec creates a codec. The secrets must be non-empty and distinct.
func NewTokenCodec(accessSecret, refreshSecret string, opts ...Option) (*TokenCodec, error) {
	if accessSecret == "" || refreshSecret == "" {
		return nil, errors.New("token secrets must not be empty")
	}
	if accessSecret == refreshSecret {
		return nil, errors.New("access and refresh secrets must differ")
	}

	c := &TokenCodec{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// IssueAccessToken creates a signed access token for userID, valid for 15 minutes.
func (c *TokenCodec) IssueAccessToken(userID string) (string, error) {
	token, err := c.sign(KindAccess, userID, "", AccessTokenTTL)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return token, nil
}

// IssueRefreshToken creates a signed refresh token for userID, valid for 7
// days, together with the fresh revocation identifier embedded in it.
func (c *TokenCodec) IssueRefreshToken(userID string) (token, revocationID string, err error) {
	revocationID, err = NewRevocationID()
	if err != nil {
		return "", "", err
	}

	token, err = c.SignRefreshToken(userID, revocationID)
	if err != nil {
		return "", "", err
	}
	return token, revocationID, nil
}

// SignRefreshToken creates a refresh token for userID that embeds an
// already generated revocation identifier.
func (c *TokenCodec) SignRefreshToken(userID, revocationID string) (string, error) {
	if revocationID == "" {
		return "", errors.New("sign refresh token: empty revocation id")
	}
	token, err := c.sign(KindRefresh, userID, revocationID, RefreshTokenTTL)
	if err != nil {
		return "", fmt.Errorf("sign refresh token: %w", err)
	}
	return token, nil
}

func (c *TokenCodec) sign(kind TokenKind, userID, tokenID string, ttl time.Duration) (string, error) {
	now := c.now().UTC()
	claims := &Claims{
		UserID:  userID,
		TokenID: tokenID,
		Kind:    kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secretFor(kind))
}

// Verify parses token as the given kind. It fails with an error wrapping
// apperrors.ErrInvalidToken for a bad signature, malformed token or wrong
// kind, and apperrors.ErrExpiredToken once the token is past its expiry.
// An expired token whose signature is valid still yields its claims
// alongside the error.
func (c *TokenCodec) Verify(token string, kind TokenKind) (*Claims, error) {
	secret := c.secretFor(kind)
	if secret == nil {
		return nil, fmt.Errorf("%w: unknown token kind %q", apperrors.ErrInvalidToken, kind)
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(c.now),
	)

	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		if cerr := checkShape(claims, kind); cerr != nil {
			return nil, cerr
		}
		return claims, fmt.Errorf("%w: %s token", apperrors.ErrExpiredToken, kind)
	default:
		return nil, fmt.Errorf("%w: parse %s token: %v", apperrors.ErrInvalidToken, kind, err)
	}

	if err := checkShape(claims, kind); err != nil {
		return nil, err
	}
	return claims, nil
}

func checkShape(claims *Claims, kind TokenKind) error {
	if claims.Kind != kind {
		return fmt.Errorf("%w: expected %s token, got %q", apperrors.ErrInvalidToken, kind, claims.Kind)
	}
	if claims.UserID == "" || claims.UserID != claims.Subject {
		return fmt.Errorf("%w: missing subject", apperrors.ErrInvalidToken)
	}
	if kind == KindRefresh && claims.TokenID == "" {
		return fmt.Errorf("%w: missing token id", apperrors.ErrInvalidToken)
	}
	return nil
}

func (c *TokenCodec) secretFor(kind TokenKind) []byte {
	switch kind {
	case KindAccess:
		return c.accessSecret
	case KindRefresh:
		return c.refreshSecret
	}
	return nil
}

// NewRevocationID returns 128 random bits, hex-encoded.
func NewRevocationID() (string, error) {
	b := make([]byte, revocationIDBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate revocation id: %w", err)
	}
	return hex.EncodeToString(b), nil
}
