package auth

import "context"

// CredentialStore persists principals. Implementations map a missing row to
// ErrNotFound, a uniqueness violation to ErrConflict and transient failures to
// ErrStoreUnavailable.
type CredentialStore interface {
	FindByUsernameOrEmail(ctx context.Context, usernameOrEmail string) (*Principal, error)
	FindByVerificationToken(ctx context.Context, token string) (*Principal, error)
	FindByResetToken(ctx context.Context, token string) (*Principal, error)
	EmailExists(ctx context.Context, email string) (bool, error)
	Create(ctx context.Context, p *Principal) error
	// Update applies fields in a single statement. It returns ErrNotFound when no
	// row matched id and the guards in fields.
	Update(ctx context.Context, id string, fields PrincipalUpdate) error
}

// GrantStore returns every grant row of a principal in store order.
type GrantStore interface {
	GrantsForPrincipal(ctx context.Context, principalID string) ([]Grant, error)
}
