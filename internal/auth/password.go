package auth

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"gatehouse.dev/internal/obs"
)

// DefaultCost matches ten rounds of bcrypt.
const DefaultCost = 10

// Hasher hashes and verifies passwords with bcrypt at a fixed cost.
type Hasher struct {
	cost int
}

// NewHasher returns a Hasher. A zero cost selects DefaultCost.
func NewHasher(cost int) (*Hasher, error) {
	if cost == 0 {
		cost = DefaultCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("%w: bcrypt cost %d out of range [%d,%d]", ErrInvalidInput, cost, bcrypt.MinCost, bcrypt.MaxCost)
	}
	return &Hasher{cost: cost}, nil
}

// Hash returns a salted bcrypt hash of password.
func (h *Hasher) Hash(password string) (string, error) {
	if len(password) == 0 {
		return "", errors.New("password is empty")
	}
	start := time.Now()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	obs.ObservePasswordHash(time.Since(start))
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Verify reports whether password matches hash. The comparison is constant time.
// A malformed hash is an error, a mismatch is not.
func (h *Hasher) Verify(password, hash string) (bool, error) {
	if hash == "" {
		return false, errors.New("password hash is empty")
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, err
	}
}
