package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"gatehouse.dev/internal/auth"
)

var (
	_ auth.CredentialStore = (*Store)(nil)
	_ auth.GrantStore      = (*Store)(nil)
)

const userColumns = `id, first_name, last_name, username, email, password_hash, age,
	verification_token, reset_token, is_verified, created_at, updated_at`

type userRow struct {
	ID                string         `db:"id"`
	FirstName         string         `db:"first_name"`
	LastName          string         `db:"last_name"`
	Username          string         `db:"username"`
	Email             string         `db:"email"`
	PasswordHash      string         `db:"password_hash"`
	Age               sql.NullInt32  `db:"age"`
	VerificationToken sql.NullString `db:"verification_token"`
	ResetToken        sql.NullString `db:"reset_token"`
	IsVerified        bool           `db:"is_verified"`
	CreatedAt         time.Time      `db:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at"`
}

func (r userRow) principal() *auth.Principal {
	p := &auth.Principal{
		ID:           r.ID,
		FirstName:    r.FirstName,
		LastName:     r.LastName,
		Username:     r.Username,
		Email:        r.Email,
		PasswordHash: r.PasswordHash,
		IsVerified:   r.IsVerified,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	if r.Age.Valid {
		age := int(r.Age.Int32)
		p.Age = &age
	}
	if r.VerificationToken.Valid {
		tok := r.VerificationToken.String
		p.VerificationToken = &tok
	}
	if r.ResetToken.Valid {
		tok := r.ResetToken.String
		p.ResetToken = &tok
	}
	return p
}

func (s *Store) findOne(ctx context.Context, where string, arg any) (*auth.Principal, error) {
	var row userRow
	query := `select ` + userColumns + ` from users where ` + where + ` limit 1`
	if err := s.db.GetContext(ctx, &row, query, arg); err != nil {
		return nil, mapError(err)
	}
	return row.principal(), nil
}

// FindByUsernameOrEmail matches on email when the value contains '@' and on
// username otherwise, so at most one unique column is ever consulted.
func (s *Store) FindByUsernameOrEmail(ctx context.Context, usernameOrEmail string) (*auth.Principal, error) {
	if strings.Contains(usernameOrEmail, "@") {
		return s.findOne(ctx, `email = $1`, usernameOrEmail)
	}
	return s.findOne(ctx, `username = $1`, usernameOrEmail)
}

// FindByVerificationToken returns the principal holding an outstanding verification token.
func (s *Store) FindByVerificationToken(ctx context.Context, token string) (*auth.Principal, error) {
	if token == "" {
		return nil, auth.ErrNotFound
	}
	return s.findOne(ctx, `verification_token = $1`, token)
}

// FindByResetToken returns the principal holding an outstanding reset token.
func (s *Store) FindByResetToken(ctx context.Context, token string) (*auth.Principal, error) {
	if token == "" {
		return nil, auth.ErrNotFound
	}
	return s.findOne(ctx, `reset_token = $1`, token)
}

// EmailExists reports whether any principal is registered under email.
func (s *Store) EmailExists(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `select exists(select 1 from users where email = $1)`, email).Scan(&exists)
	if err != nil {
		return false, mapError(err)
	}
	return exists, nil
}

// Create inserts p and fills its timestamps. Duplicate username or email maps to auth.ErrConflict.
func (s *Store) Create(ctx context.Context, p *auth.Principal) error {
	if p == nil || p.ID == "" {
		return errors.New("principal id is required")
	}
	var age sql.NullInt32
	if p.Age != nil {
		age = sql.NullInt32{Int32: int32(*p.Age), Valid: true}
	}
	row := s.db.QueryRowxContext(ctx, `
		insert into users (id, first_name, last_name, username, email, password_hash, age,
			verification_token, reset_token, is_verified)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		returning created_at, updated_at
	`, p.ID, p.FirstName, p.LastName, p.Username, p.Email, p.PasswordHash, age,
		nullString(p.VerificationToken), nullString(p.ResetToken), p.IsVerified)
	if err := row.Scan(&p.CreatedAt, &p.UpdatedAt); err != nil {
		return mapError(err)
	}
	return nil
}

// Update writes fields in one statement. Guards become extra predicates, so a
// concurrent writer that already cleared the token leaves zero rows affected.
func (s *Store) Update(ctx context.Context, id string, fields auth.PrincipalUpdate) error {
	if fields.Empty() {
		return fmt.Errorf("%w: empty update", auth.ErrInvalidInput)
	}
	query, args := buildUpdate(id, fields)
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapError(err)
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func buildUpdate(id string, f auth.PrincipalUpdate) (string, []any) {
	var (
		sets []string
		args []any
	)
	bind := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.PasswordHash != nil {
		sets = append(sets, "password_hash = "+bind(*f.PasswordHash))
	}
	if f.Verified != nil {
		sets = append(sets, "is_verified = "+bind(*f.Verified))
	}
	switch {
	case f.ClearResetToken:
		sets = append(sets, "reset_token = null")
	case f.ResetToken != nil:
		sets = append(sets, "reset_token = "+bind(*f.ResetToken))
	}
	if f.ClearVerificationToken {
		sets = append(sets, "verification_token = null")
	}
	sets = append(sets, "updated_at = now()")

	where := []string{"id = " + bind(id)}
	if f.IfVerificationToken != "" {
		where = append(where, "verification_token = "+bind(f.IfVerificationToken))
	}
	if f.IfResetToken != "" {
		where = append(where, "reset_token = "+bind(f.IfResetToken))
	}
	return "update users set " + strings.Join(sets, ", ") + " where " + strings.Join(where, " and "), args
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}
