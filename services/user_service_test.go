package services

import (
	"context"
	"errors"
	"testing"
)

func TestUserAuthenticate(t *testing.T) {
	users := NewUserService(setupTestDB(t))
	ctx := context.Background()

	created, err := users.Create(ctx, "admin@example.com", "admin", "s3cret-pass", true)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if created.PasswordHash == "s3cret-pass" || !created.IsSuperuser {
		t.Fatalf("unexpected user: %+v", created)
	}

	for _, login := range []string{"admin", "admin@example.com"} {
		u, err := users.Authenticate(ctx, login, "s3cret-pass")
		if err != nil || u.ID != created.ID {
			t.Fatalf("authenticate %q: user=%+v err=%v", login, u, err)
		}
	}
	if _, err := users.Authenticate(ctx, "admin", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := users.Authenticate(ctx, "nobody", "s3cret-pass"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown user, got %v", err)
	}
	if _, err := users.Create(ctx, "b@example.com", "b", "short", false); err == nil {
		t.Fatalf("expected error for short password")
	}
}

func TestEnsureSuperuserIsIdempotent(t *testing.T) {
	users := NewUserService(setupTestDB(t))
	ctx := context.Background()

	u, created, err := users.EnsureSuperuser(ctx, "root@example.com", "root", "changeme123")
	if err != nil || !created {
		t.Fatalf("first ensure: created=%v err=%v", created, err)
	}
	again, created, err := users.EnsureSuperuser(ctx, "root@example.com", "root", "changeme123")
	if err != nil || created || again.ID != u.ID {
		t.Fatalf("second ensure: created=%v id=%d err=%v", created, again.ID, err)
	}
}
