package auth

import (
	"strings"
	"time"
)

// Principal is an authenticable user account as stored by the credential store.
type Principal struct {
	ID                string
	FirstName         string
	LastName          string
	Username          string
	Email             string
	PasswordHash      string
	Age               *int
	VerificationToken *string
	ResetToken        *string
	IsVerified        bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// FullName joins first and last name.
func (p Principal) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// View is the projection of a principal that may leave the service.
func (p Principal) View() PrincipalView {
	return PrincipalView{
		ID:         p.ID,
		FirstName:  p.FirstName,
		LastName:   p.LastName,
		Username:   p.Username,
		Email:      p.Email,
		Age:        p.Age,
		IsVerified: p.IsVerified,
		CreatedAt:  p.CreatedAt,
	}
}

// PrincipalView omits the password hash and single-use tokens.
type PrincipalView struct {
	ID         string    `json:"id"`
	FirstName  string    `json:"firstName"`
	LastName   string    `json:"lastName"`
	Username   string    `json:"username"`
	Email      string    `json:"email"`
	Age        *int      `json:"age,omitempty"`
	IsVerified bool      `json:"isVerified"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Registration carries the fields of a new principal.
type Registration struct {
	FirstName string
	LastName  string
	Username  string
	Email     string
	Age       *int
	Password  string
}

// PrincipalUpdate lists the fields to change on a principal. Nil and false fields
// are left untouched. The If* guards turn the update into a compare-and-set: the
// row is only written while the named token still holds that value.
type PrincipalUpdate struct {
	PasswordHash           *string
	Verified               *bool
	ResetToken             *string
	ClearResetToken        bool
	ClearVerificationToken bool

	IfVerificationToken string
	IfResetToken        string
}

// Empty reports whether the update changes nothing.
func (u PrincipalUpdate) Empty() bool {
	return u.PasswordHash == nil && u.Verified == nil && u.ResetToken == nil &&
		!u.ClearResetToken && !u.ClearVerificationToken
}

// Grant is one flattened (role, permission, organization) tuple held by a principal.
// PermissionSlug is empty for a role without permissions.
type Grant struct {
	RoleSlug       string
	PermissionSlug string
	OrganizationID string
}
