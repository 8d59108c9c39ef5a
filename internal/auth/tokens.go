package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/condogate/condogate/internal/shared"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
	tokenTypeReset   = "password_reset"
	tokenTypeVerify  = "email_verify"
)

// Claims is the JWT payload for both token types.
type Claims struct {
	jwt.RegisteredClaims
	TokenType string `json:"token_type"`
}

// TokenService issues and verifies the access/refresh pair with HS256.
// Revoked refresh tokens are kept in a redis denylist until their
// natural expiry.
type TokenService struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	redis      *redis.Client
	now        func() time.Time
}

// NewTokenService constructs a TokenService.
func NewTokenService(secret, issuer string, accessTTL, refreshTTL time.Duration, client *redis.Client) *TokenService {
	return &TokenService{
		secret:     []byte(secret),
		issuer:     issuer,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		redis:      client,
		now:        time.Now,
	}
}

// WithClock overrides the time source, for tests.
func (s *TokenService) WithClock(now func() time.Time) *TokenService {
	s.now = now
	return s
}

// AccessTTL exposes the configured access-token lifetime.
func (s *TokenService) AccessTTL() time.Duration {
	return s.accessTTL
}

// IssuePair creates a fresh access/refresh pair for the actor.
func (s *TokenService) IssuePair(actorID int64) (TokenPair, error) {
	access, err := s.issue(actorID, tokenTypeAccess, s.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := s.issue(actorID, tokenTypeRefresh, s.refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{Access: access, Refresh: refresh}, nil
}

func (s *TokenService) issue(actorID int64, tokenType string, ttl time.Duration) (string, error) {
	now := s.now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.FormatInt(actorID, 10),
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		TokenType: tokenType,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// VerifyAccess validates an access token and returns the actor ID.
func (s *TokenService) VerifyAccess(token string) (int64, error) {
	claims, err := s.parse(token, tokenTypeAccess)
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(claims.Subject, 10, 64)
}

// RefreshAccess validates a refresh token, checks the denylist, and
// mints a new access token. The refresh token itself stays valid.
func (s *TokenService) RefreshAccess(ctx context.Context, refresh string) (string, error) {
	claims, err := s.parse(refresh, tokenTypeRefresh)
	if err != nil {
		return "", err
	}
	revoked, err := s.revoked(ctx, claims.ID)
	if err != nil {
		return "", err
	}
	if revoked {
		return "", shared.ErrSessionExpired
	}
	actorID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return "", shared.ErrSessionExpired
	}
	return s.issue(actorID, tokenTypeAccess, s.accessTTL)
}

// IssueActionToken mints a token for out-of-band flows such as
// password reset links and email verification.
func (s *TokenService) IssueActionToken(actorID int64, purpose string, ttl time.Duration) (string, error) {
	return s.issue(actorID, purpose, ttl)
}

// ConsumeActionToken validates a single-use token and burns its jti,
// so presenting the same token twice fails.
func (s *TokenService) ConsumeActionToken(ctx context.Context, token, purpose string) (int64, error) {
	claims, err := s.parse(token, purpose)
	if err != nil {
		return 0, err
	}
	revoked, err := s.revoked(ctx, claims.ID)
	if err != nil {
		return 0, err
	}
	if revoked {
		return 0, shared.ErrSessionExpired
	}
	if ttl := claims.ExpiresAt.Time.Sub(s.now().UTC()); ttl > 0 {
		if err := s.redis.Set(ctx, denylistKey(claims.ID), "1", ttl).Err(); err != nil {
			return 0, fmt.Errorf("auth: burn action token: %w", err)
		}
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return 0, shared.ErrSessionExpired
	}
	return id, nil
}

// Revoke denylists a refresh token until its natural expiry. Used by
// logout; subsequent refresh attempts with it fail.
func (s *TokenService) Revoke(ctx context.Context, refresh string) error {
	claims, err := s.parse(refresh, tokenTypeRefresh)
	if err != nil {
		return err
	}
	ttl := claims.ExpiresAt.Time.Sub(s.now().UTC())
	if ttl <= 0 {
		return nil
	}
	return s.redis.Set(ctx, denylistKey(claims.ID), "1", ttl).Err()
}

func (s *TokenService) revoked(ctx context.Context, jti string) (bool, error) {
	err := s.redis.Get(ctx, denylistKey(jti)).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("auth: denylist lookup: %w", err)
	}
	return true, nil
}

// parse validates the signature and claims. Expiry is checked here
// with an inclusive boundary: a token whose exp equals now is already
// expired.
func (s *TokenService) parse(token, wantType string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, shared.ErrSessionExpired
		}
		return s.secret, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithTimeFunc(s.now), jwt.WithoutClaimsValidation())
	if err != nil {
		return nil, shared.ErrSessionExpired
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, shared.ErrSessionExpired
	}
	if claims.TokenType != wantType {
		return nil, shared.ErrSessionExpired
	}
	if claims.Issuer != s.issuer {
		return nil, shared.ErrSessionExpired
	}
	if claims.ExpiresAt == nil || !s.now().UTC().Before(claims.ExpiresAt.Time) {
		return nil, shared.ErrSessionExpired
	}
	return claims, nil
}

func denylistKey(jti string) string {
	return "auth:denylist:" + jti
}
