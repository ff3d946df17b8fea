package auth

import "errors"

var (
	ErrNotFound           = errors.New("auth: not found")
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrAccountNotVerified = errors.New("auth: account not verified")
	ErrConflict           = errors.New("auth: conflict")
	ErrUnauthorized       = errors.New("auth: unauthorized")
	ErrForbidden          = errors.New("auth: forbidden")
	ErrInvalidInput       = errors.New("auth: invalid input")
	ErrNoGrantsFound      = errors.New("auth: no grants found")

	// ErrStoreUnavailable marks transient backing-store failures; callers may retry.
	ErrStoreUnavailable = errors.New("auth: store unavailable")

	ErrInvalidToken = errors.New("auth: invalid token")
	ErrExpiredToken = errors.New("auth: token expired")
)

// Kind returns a stable code for err, suitable for responses and metric labels.
// Errors outside the taxonomy are "internal"; nil is "ok".
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrAccountNotVerified):
		return "account_not_verified"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrNoGrantsFound):
		return "no_grants"
	case errors.Is(err, ErrExpiredToken):
		return "expired_token"
	case errors.Is(err, ErrInvalidToken):
		return "invalid_token"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	default:
		return "internal"
	}
}
