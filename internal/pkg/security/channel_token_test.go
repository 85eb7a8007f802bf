package security

import (
	"strings"
	"testing"
	"time"
)

func TestChannelTokenRoundTrip(t *testing.T) {
	token, err := GenerateChannelToken(42, "private-entitled-42", time.Minute, "secret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	claims, err := VerifyChannelToken(token, "secret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claims.UserID != 42 || claims.Channel != "private-entitled-42" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestChannelTokenRejectsTampering(t *testing.T) {
	token, err := GenerateChannelToken(42, "private-account-42", time.Minute, "secret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := VerifyChannelToken(token, "other-secret"); err == nil {
		t.Fatal("expected verification to fail with wrong secret")
	}

	forged, err := GenerateChannelToken(7, "private-account-7", time.Minute, "secret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Graft the forged payload onto the original signature.
	mixed := strings.SplitN(forged, ".", 2)[0] + "." + strings.SplitN(token, ".", 2)[1]
	if _, err := VerifyChannelToken(mixed, "secret"); err == nil {
		t.Fatal("expected verification to fail for grafted payload")
	}

	if _, err := VerifyChannelToken("not-a-token", "secret"); err == nil {
		t.Fatal("expected verification to fail for malformed token")
	}
}

func TestChannelTokenExpiry(t *testing.T) {
	token, err := GenerateChannelToken(42, "private-account-42", -time.Minute, "secret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := VerifyChannelToken(token, "secret"); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}
