package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cppla/poolchecker/config"
)

func newTestTokenManager() *TokenManager {
	return NewTokenManager(config.AppConfig{JWTSecret: "test-secret", AccessTokenTTLMinutes: 30, RefreshTokenTTLDays: 7})
}

func TestTokenRoundTrip(t *testing.T) {
	m := newTestTokenManager()

	access, err := m.GenerateAccessToken(7, "lifeguard")
	if err != nil {
		t.Fatalf("generate access: %v", err)
	}
	claims, err := m.ParseToken(access, TokenTypeAccess)
	if err != nil {
		t.Fatalf("parse access: %v", err)
	}
	if claims.UserID != 7 || claims.Username != "lifeguard" || claims.ID == "" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if got := time.Until(claims.ExpiresAt.Time); got <= 29*time.Minute || got > 30*time.Minute {
		t.Fatalf("unexpected access expiry in %s", got)
	}

	refresh, err := m.GenerateRefreshToken(7, "lifeguard")
	if err != nil {
		t.Fatalf("generate refresh: %v", err)
	}
	if _, err := m.ParseToken(refresh, TokenTypeAccess); !errors.Is(err, ErrWrongTokenType) {
		t.Fatalf("expected ErrWrongTokenType, got %v", err)
	}
	if _, err := m.ParseToken(access, TokenTypeRefresh); !errors.Is(err, ErrWrongTokenType) {
		t.Fatalf("expected ErrWrongTokenType, got %v", err)
	}
}

func TestParseTokenRejectsForeignSecret(t *testing.T) {
	other := NewTokenManager(config.AppConfig{JWTSecret: "other-secret", AccessTokenTTLMinutes: 30})
	token, err := other.GenerateAccessToken(1, "someone")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := newTestTokenManager().ParseToken(token, TokenTypeAccess); err == nil {
		t.Fatalf("expected signature error")
	}
	if _, err := newTestTokenManager().ParseToken("not-a-jwt", TokenTypeAccess); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	m := newTestTokenManager()
	token, err := m.generate(1, "someone", TokenTypeAccess, -time.Minute)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := m.ParseToken(token, TokenTypeAccess); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}

func TestTokenBlacklistInMemory(t *testing.T) {
	ctx := context.Background()
	b := NewTokenBlacklist(nil)

	b.Add(ctx, "revoked", time.Now().Add(time.Minute))
	if !b.Contains(ctx, "revoked") {
		t.Fatalf("expected revoked token to be blacklisted")
	}
	if b.Contains(ctx, "other") {
		t.Fatalf("unexpected blacklist hit")
	}

	b.Add(ctx, "already-expired", time.Now().Add(-time.Minute))
	if b.Contains(ctx, "already-expired") {
		t.Fatalf("expired tokens must not be stored")
	}

	b.entries["stale"] = time.Now().Add(-time.Second)
	if b.Contains(ctx, "stale") {
		t.Fatalf("stale entry should be dropped")
	}
	if _, ok := b.entries["stale"]; ok {
		t.Fatalf("stale entry still present")
	}
}

func TestPasswordHash(t *testing.T) {
	hash, err := HashPassword("correct horse")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if hash == "correct horse" {
		t.Fatalf("password stored in clear")
	}
	if !CheckPassword(hash, "correct horse") {
		t.Fatalf("expected password to match")
	}
	if CheckPassword(hash, "battery staple") {
		t.Fatalf("unexpected match")
	}
}
