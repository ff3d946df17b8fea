package pg

import (
	"context"

	"gatehouse.dev/internal/auth"
)

type grantRow struct {
	RoleSlug       string `db:"role_slug"`
	PermissionSlug string `db:"permission_slug"`
	OrganizationID string `db:"organization_id"`
}

// grantsQuery flattens user -> role-in-organization -> permissions into tuples.
// Roles without permissions still yield one row with an empty permission slug.
// Oldest grant first, so its organization becomes the session organization.
const grantsQuery = `
	select r.slug as role_slug,
	       coalesce(p.slug, '') as permission_slug,
	       uro.organization_id as organization_id
	from user_role_organizations uro
	join roles r on r.id = uro.role_id
	left join role_permissions rp on rp.role_id = r.id
	left join permissions p on p.id = rp.permission_id
	where uro.user_id = $1
	order by uro.created_at, uro.id, p.slug
`

// GrantsForPrincipal returns the principal's flattened grants, oldest first.
func (s *Store) GrantsForPrincipal(ctx context.Context, principalID string) ([]auth.Grant, error) {
	var rows []grantRow
	if err := s.db.SelectContext(ctx, &rows, grantsQuery, principalID); err != nil {
		return nil, mapError(err)
	}
	out := make([]auth.Grant, 0, len(rows))
	for _, r := range rows {
		out = append(out, auth.Grant{
			RoleSlug:       r.RoleSlug,
			PermissionSlug: r.PermissionSlug,
			OrganizationID: r.OrganizationID,
		})
	}
	return out, nil
}
