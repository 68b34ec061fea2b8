package auth

import (
	"context"
	"errors"
	"testing"
)

func TestResolveExpandsRoles(t *testing.T) {
	policy := DefaultPolicy()
	p := policy.Resolve(" user-1 ", []string{"Viewer", "company_secretary", "viewer", ""})

	if p.ActorID != "user-1" {
		t.Fatalf("unexpected actor: %q", p.ActorID)
	}
	if len(p.Roles) != 2 {
		t.Fatalf("expected deduplicated roles, got %v", p.Roles)
	}
	if !p.HasPermission(PermAllocationTransfer) {
		t.Fatalf("expected transfer permission")
	}
	if p.HasPermission(PermAllocationCancel) {
		t.Fatalf("secretary must not cancel allocations")
	}
}

func TestAuthorize(t *testing.T) {
	policy := DefaultPolicy()
	ctx := context.Background()

	admin := policy.Resolve("root", []string{RoleAdmin})
	if err := policy.Authorize(ctx, admin, PermAllocationCancel); err != nil {
		t.Fatalf("admin denied: %v", err)
	}

	viewer := policy.Resolve("v", []string{RoleViewer})
	if err := policy.Authorize(ctx, viewer, PermAllocationCreate); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	anon := policy.Resolve("", []string{RoleAdmin})
	if err := policy.Authorize(ctx, anon, PermCapTableRead); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestRequireUsesContextPrincipal(t *testing.T) {
	policy := DefaultPolicy()

	if err := Require(context.Background(), policy, PermCapTableRead); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated without principal, got %v", err)
	}

	ctx := ContextWithPrincipal(context.Background(), policy.Resolve("v", []string{RoleViewer}))
	if err := Require(ctx, policy, PermCapTableRead); err != nil {
		t.Fatalf("Require: %v", err)
	}
	if got := ActorID(ctx); got != "v" {
		t.Fatalf("ActorID = %q", got)
	}
	if got := ActorID(context.Background()); got != "system" {
		t.Fatalf("ActorID without principal = %q", got)
	}
}
