package auth

import (
	"testing"
	"time"
)

func TestIssueVerifyRoundTrip(t *testing.T) {
	v := NewIdentityVerifier("test-secret")
	claims := IdentityClaims{
		Subject:     "github:123",
		Username:    "octocat",
		DisplayName: "The Octocat",
		IssuedAt:    time.Now().Unix(),
		ExpiresAt:   time.Now().Add(time.Hour).Unix(),
	}
	token, err := v.Issue(claims)
	if err != nil {
		t.Fatal(err)
	}
	got, err := v.Verify(token)
	if err != nil {
		t.Fatal(err)
	}
	if got.Subject != claims.Subject || got.Username != claims.Username {
		t.Fatalf("Verify() = %+v, want %+v", got, claims)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	issuer := NewIdentityVerifier("secret-a")
	verifier := NewIdentityVerifier("secret-b")

	token, err := issuer.Issue(IdentityClaims{Subject: "u1", ExpiresAt: time.Now().Add(time.Hour).Unix()})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := verifier.Verify(token); err != ErrIdentityInvalid {
		t.Fatalf("err = %v, want ErrIdentityInvalid", err)
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	v := NewIdentityVerifier("secret")
	token, err := v.Issue(IdentityClaims{Subject: "u1", ExpiresAt: time.Now().Add(-time.Minute).Unix()})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := v.Verify(token); err != ErrIdentityInvalid {
		t.Fatalf("err = %v, want ErrIdentityInvalid", err)
	}
}

func TestVerifyRejectsMalformedToken(t *testing.T) {
	v := NewIdentityVerifier("secret")
	tests := []string{"", "one-segment", "two.segments", "a.b.c.d"}
	for _, tok := range tests {
		if _, err := v.Verify(tok); err != ErrIdentityInvalid {
			t.Errorf("Verify(%q) err = %v, want ErrIdentityInvalid", tok, err)
		}
	}
}

func TestVerifyAcceptsTokenWithNoExpiry(t *testing.T) {
	v := NewIdentityVerifier("secret")
	token, err := v.Issue(IdentityClaims{Subject: "u1"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := v.Verify(token); err != nil {
		t.Fatalf("unexpected error for zero-expiry token: %v", err)
	}
}
