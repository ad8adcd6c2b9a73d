package auth

import (
	"errors"
	"testing"
	"time"
)

func newTestTokens(t *testing.T) *Tokens {
	t.Helper()
	tokens, err := NewTokens([]byte("test-secret"))
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}
	return tokens
}

func TestIssueAndVerify(t *testing.T) {
	tokens := newTestTokens(t)

	identity := Identity{ID: "user-1", Email: "dealer@example.com", Role: RoleDealer}
	signed, exp, err := tokens.Issue(identity, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if exp.Before(time.Now().Add(55 * time.Minute)) {
		t.Fatalf("unexpected expiry: %v", exp)
	}

	claims, err := tokens.Verify(signed)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	got, ok := IdentityFromClaims(claims)
	if !ok {
		t.Fatal("expected identity from claims")
	}
	if got != identity {
		t.Fatalf("identity mismatch: %+v", got)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	tokens := newTestTokens(t)
	other, err := NewTokens([]byte("different-secret"))
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}

	signed, _, err := other.Issue(Identity{ID: "u", Role: RoleViewer}, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := tokens.Verify(signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	past := time.Now().Add(-2 * time.Hour)
	issuedAt := newTestTokens(t).WithClock(func() time.Time { return past })

	signed, _, err := issuedAt.Issue(Identity{ID: "u", Role: RoleAdmin}, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	tokens := newTestTokens(t)
	if _, err := tokens.Verify(signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestVerifyRejectsMalformed(t *testing.T) {
	tokens := newTestTokens(t)
	for _, raw := range []string{"", "not-a-token", "a.b", "a.b.c"} {
		if _, err := tokens.Verify(raw); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("Verify(%q): expected ErrInvalidToken, got %v", raw, err)
		}
	}
}

func TestIssueRejectsUnknownRole(t *testing.T) {
	tokens := newTestTokens(t)
	if _, _, err := tokens.Issue(Identity{ID: "u", Role: Role("superuser")}, time.Hour); err == nil {
		t.Fatal("expected error for unknown role")
	}
}

func TestIdentityFromClaimsUnknownRole(t *testing.T) {
	claims := &Claims{Role: "root"}
	claims.Subject = "user-1"
	if _, ok := IdentityFromClaims(claims); ok {
		t.Fatal("expected anonymous for unknown role claim")
	}
}

func TestRoleHierarchy(t *testing.T) {
	if !RoleAdmin.AtLeast(RoleViewer) || !RoleAdmin.AtLeast(RoleDealer) || !RoleAdmin.AtLeast(RoleAdmin) {
		t.Fatal("admin must satisfy every role")
	}
	if !RoleDealer.AtLeast(RoleViewer) || RoleDealer.AtLeast(RoleAdmin) {
		t.Fatal("dealer must satisfy viewer only")
	}
	if RoleViewer.AtLeast(RoleDealer) {
		t.Fatal("viewer must not satisfy dealer")
	}
	if Role("ghost").AtLeast(RoleViewer) {
		t.Fatal("unknown role must satisfy nothing")
	}
}
