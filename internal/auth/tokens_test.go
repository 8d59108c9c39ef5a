package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/condogate/condogate/internal/shared"
)

func newTestTokenService(t *testing.T) (*TokenService, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewTokenService("test-secret", "condogate", 15*time.Minute, 24*time.Hour, client), mr
}

func TestIssueAndVerifyAccess(t *testing.T) {
	svc, _ := newTestTokenService(t)
	pair, err := svc.IssuePair(42)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if pair.Access == "" || pair.Refresh == "" {
		t.Fatal("expected both tokens issued")
	}
	id, err := svc.VerifyAccess(pair.Access)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if id != 42 {
		t.Fatalf("expected subject 42 got %d", id)
	}
}

func TestRefreshTokenNotAcceptedAsAccess(t *testing.T) {
	svc, _ := newTestTokenService(t)
	pair, err := svc.IssuePair(1)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := svc.VerifyAccess(pair.Refresh); !errors.Is(err, shared.ErrSessionExpired) {
		t.Fatalf("expected session expired for wrong token type, got %v", err)
	}
}

func TestExpiryBoundaryIsInclusive(t *testing.T) {
	svc, _ := newTestTokenService(t)
	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.WithClock(func() time.Time { return issued })
	pair, err := svc.IssuePair(7)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	// One second before expiry the token is still alive.
	svc.WithClock(func() time.Time { return issued.Add(15*time.Minute - time.Second) })
	if _, err := svc.VerifyAccess(pair.Access); err != nil {
		t.Fatalf("token should be valid just before expiry: %v", err)
	}

	// Exactly at expiry the token is already dead.
	svc.WithClock(func() time.Time { return issued.Add(15 * time.Minute) })
	if _, err := svc.VerifyAccess(pair.Access); !errors.Is(err, shared.ErrSessionExpired) {
		t.Fatalf("expected expiry at the exact boundary, got %v", err)
	}
}

func TestRefreshMintsNewAccessOnly(t *testing.T) {
	svc, _ := newTestTokenService(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.WithClock(func() time.Time { return base })
	pair, err := svc.IssuePair(9)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	svc.WithClock(func() time.Time { return base.Add(time.Minute) })
	access, err := svc.RefreshAccess(context.Background(), pair.Refresh)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if access == pair.Access {
		t.Fatal("expected a new access token")
	}
	id, err := svc.VerifyAccess(access)
	if err != nil || id != 9 {
		t.Fatalf("new access invalid: id=%d err=%v", id, err)
	}
}

func TestRevokedRefreshIsRejected(t *testing.T) {
	svc, _ := newTestTokenService(t)
	pair, err := svc.IssuePair(3)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := svc.Revoke(context.Background(), pair.Refresh); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := svc.RefreshAccess(context.Background(), pair.Refresh); !errors.Is(err, shared.ErrSessionExpired) {
		t.Fatalf("expected revoked refresh to fail, got %v", err)
	}
}

func TestTamperedTokenRejected(t *testing.T) {
	svc, _ := newTestTokenService(t)
	other := NewTokenService("another-secret", "condogate", time.Minute, time.Hour, nil)
	pair, err := other.IssuePair(5)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := svc.VerifyAccess(pair.Access); !errors.Is(err, shared.ErrSessionExpired) {
		t.Fatalf("expected foreign signature rejection, got %v", err)
	}
}
