// ABOUTME: Tests for identity context propagation
// ABOUTME: Covers WithIdentity/FromContext roundtrips and missing-identity behavior

package auth

import (
	"context"
	"testing"
)

func TestWithIdentity_FromContext(t *testing.T) {
	identity := &Identity{UserID: "user-42"}

	ctx := WithIdentity(context.Background(), identity)

	got := FromContext(ctx)
	if got == nil {
		t.Fatal("FromContext() returned nil")
	}
	if got.UserID != "user-42" {
		t.Errorf("UserID = %q, want %q", got.UserID, "user-42")
	}
}

func TestFromContext_Missing(t *testing.T) {
	if got := FromContext(context.Background()); got != nil {
		t.Errorf("FromContext() on empty context = %v, want nil", got)
	}
}

func TestMustFromContext_Panics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("MustFromContext() should panic when identity is missing")
		}
	}()

	MustFromContext(context.Background())
}

func TestMustFromContext_Present(t *testing.T) {
	ctx := WithIdentity(context.Background(), &Identity{UserID: "user-1"})

	got := MustFromContext(ctx)
	if got.UserID != "user-1" {
		t.Errorf("UserID = %q, want %q", got.UserID, "user-1")
	}
}
