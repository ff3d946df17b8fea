package auth

import (
	"context"
	"fmt"
)

// ResolvedClaims is the effective access of a principal for one session.
type ResolvedClaims struct {
	OrganizationID string
	Roles          []string
	Permissions    []string
}

// PermissionResolver aggregates grant rows into role and permission sets.
type PermissionResolver struct {
	grants GrantStore
}

// NewPermissionResolver constructs a resolver over store.
func NewPermissionResolver(store GrantStore) *PermissionResolver {
	return &PermissionResolver{grants: store}
}

// Resolve loads the grants of principalID and aggregates them.
//
// When the principal holds grants in several organizations the organization of
// the first row returned by the store becomes the session organization. Callers
// must not rely on any ordering beyond what the store returns.
func (r *PermissionResolver) Resolve(ctx context.Context, principalID string) (ResolvedClaims, error) {
	rows, err := r.grants.GrantsForPrincipal(ctx, principalID)
	if err != nil {
		return ResolvedClaims{}, err
	}
	resolved, err := Aggregate(rows)
	if err != nil {
		return ResolvedClaims{}, fmt.Errorf("principal %s: %w", principalID, err)
	}
	return resolved, nil
}

// Aggregate flattens grants into deduplicated role and permission slugs, keeping
// first-seen order so the result is deterministic for a fixed input.
func Aggregate(grants []Grant) (ResolvedClaims, error) {
	if len(grants) == 0 {
		return ResolvedClaims{}, ErrNoGrantsFound
	}
	out := ResolvedClaims{
		OrganizationID: grants[0].OrganizationID,
		Roles:          []string{},
		Permissions:    []string{},
	}
	seenRoles := make(map[string]struct{}, len(grants))
	seenPerms := make(map[string]struct{}, len(grants))
	for _, g := range grants {
		if _, ok := seenRoles[g.RoleSlug]; !ok && g.RoleSlug != "" {
			seenRoles[g.RoleSlug] = struct{}{}
			out.Roles = append(out.Roles, g.RoleSlug)
		}
		if g.PermissionSlug == "" {
			continue
		}
		if _, ok := seenPerms[g.PermissionSlug]; !ok {
			seenPerms[g.PermissionSlug] = struct{}{}
			out.Permissions = append(out.Permissions, g.PermissionSlug)
		}
	}
	return out, nil
}
