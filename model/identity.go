package model

import "context"

// RoleResolver resolves the effective role set of the caller: the roles in
// the token claims merged with any roles assigned by the deployment's role
// policy.
type RoleResolver interface {
	RolesOf(ctx context.Context, rctx *RequestContext) ([]string, error)
}

// RoleSet is a resolved set of role IDs with O(1) membership checks.
type RoleSet map[string]struct{}

// NewRoleSet builds a RoleSet from a list of role IDs.
func NewRoleSet(roleIDs []string) RoleSet {
	rs := make(RoleSet, len(roleIDs))
	for _, id := range roleIDs {
		rs[id] = struct{}{}
	}
	return rs
}

// Has reports whether the set contains the given role ID.
func (rs RoleSet) Has(roleID string) bool {
	_, ok := rs[roleID]
	return ok
}
