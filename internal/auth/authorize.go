package auth

import (
	"context"
	"fmt"
	"strings"
)

// Policy decides whether a principal may run an operation. It is evaluated before a
// command reaches the ledger; the ledger itself never checks permissions.
type Policy interface {
	Authorize(ctx context.Context, p Principal, perm string) error
	Resolve(actorID string, roles []string) Principal
}

// RolePolicy grants permissions through a static role catalog.
type RolePolicy struct {
	roles map[string]map[string]struct{}
}

// NewRolePolicy builds a policy from a role -> permission keys catalog.
func NewRolePolicy(catalog map[string][]string) *RolePolicy {
	roles := make(map[string]map[string]struct{}, len(catalog))
	for role, perms := range catalog {
		set := make(map[string]struct{}, len(perms))
		for _, p := range perms {
			set[p] = struct{}{}
		}
		roles[strings.ToLower(role)] = set
	}
	return &RolePolicy{roles: roles}
}

// DefaultPolicy uses BuiltinRoles.
func DefaultPolicy() *RolePolicy {
	return NewRolePolicy(BuiltinRoles)
}

// Resolve expands roles into the principal's effective permission set.
func (rp *RolePolicy) Resolve(actorID string, roles []string) Principal {
	roles = normalizeRoles(roles)
	perms := make(map[string]struct{})
	for _, r := range roles {
		for p := range rp.roles[r] {
			perms[p] = struct{}{}
		}
	}
	return Principal{ActorID: strings.TrimSpace(actorID), Roles: roles, Permissions: perms}
}

func (rp *RolePolicy) Authorize(_ context.Context, p Principal, perm string) error {
	if p.ActorID == "" {
		return ErrUnauthenticated
	}
	if !p.HasPermission(perm) {
		return fmt.Errorf("%w: %s lacks %s", ErrUnauthorized, p.ActorID, perm)
	}
	return nil
}

// Require authorizes the principal attached to ctx.
func Require(ctx context.Context, policy Policy, perm string) error {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return ErrUnauthenticated
	}
	return policy.Authorize(ctx, p, perm)
}
