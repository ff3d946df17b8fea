package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// memStore is an in-memory CredentialStore and GrantStore. Update honours the
// compare-and-set guards under a single lock.
type memStore struct {
	mu        sync.Mutex
	byID      map[string]*Principal
	grants    map[string][]Grant
	findDelay time.Duration
}

func newMemStore() *memStore {
	return &memStore{byID: map[string]*Principal{}, grants: map[string][]Grant{}}
}

func (m *memStore) find(match func(*Principal) bool) (*Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.byID {
		if match(p) {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memStore) FindByUsernameOrEmail(ctx context.Context, v string) (*Principal, error) {
	if m.findDelay > 0 {
		select {
		case <-time.After(m.findDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if strings.Contains(v, "@") {
		return m.find(func(p *Principal) bool { return p.Email == v })
	}
	return m.find(func(p *Principal) bool { return p.Username == v })
}

func (m *memStore) FindByVerificationToken(_ context.Context, token string) (*Principal, error) {
	return m.find(func(p *Principal) bool { return p.VerificationToken != nil && *p.VerificationToken == token })
}

func (m *memStore) FindByResetToken(_ context.Context, token string) (*Principal, error) {
	return m.find(func(p *Principal) bool { return p.ResetToken != nil && *p.ResetToken == token })
}

func (m *memStore) EmailExists(_ context.Context, email string) (bool, error) {
	_, err := m.find(func(p *Principal) bool { return p.Email == email })
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (m *memStore) Create(_ context.Context, p *Principal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.byID {
		if existing.Email == p.Email || existing.Username == p.Username {
			return ErrConflict
		}
	}
	p.CreatedAt = time.Now().UTC()
	p.UpdatedAt = p.CreatedAt
	cp := *p
	m.byID[p.ID] = &cp
	return nil
}

func (m *memStore) Update(_ context.Context, id string, f PrincipalUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	if f.IfResetToken != "" && (p.ResetToken == nil || *p.ResetToken != f.IfResetToken) {
		return ErrNotFound
	}
	if f.IfVerificationToken != "" && (p.VerificationToken == nil || *p.VerificationToken != f.IfVerificationToken) {
		return ErrNotFound
	}
	if f.PasswordHash != nil {
		p.PasswordHash = *f.PasswordHash
	}
	if f.Verified != nil {
		p.IsVerified = *f.Verified
	}
	if f.ResetToken != nil {
		tok := *f.ResetToken
		p.ResetToken = &tok
	}
	if f.ClearResetToken {
		p.ResetToken = nil
	}
	if f.ClearVerificationToken {
		p.VerificationToken = nil
	}
	return nil
}

func (m *memStore) GrantsForPrincipal(_ context.Context, id string) ([]Grant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Grant(nil), m.grants[id]...), nil
}

func (m *memStore) get(id string) Principal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.byID[id]
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []EmailRequest
}

func (r *recordingMailer) Send(_ context.Context, req EmailRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, req)
}

func (r *recordingMailer) last(t *testing.T) EmailRequest {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.sent, "expected an email handoff")
	return r.sent[len(r.sent)-1]
}

type fixture struct {
	svc    *Service
	store  *memStore
	mailer *recordingMailer
	signer *TokenSigner
	hasher *Hasher
	tokens []string
}

func newFixture(t *testing.T, opts ...ServiceOption) *fixture {
	t.Helper()
	f := &fixture{store: newMemStore(), mailer: &recordingMailer{}}
	var err error
	f.hasher, err = NewHasher(bcrypt.MinCost)
	require.NoError(t, err)
	f.signer = newTestSigner(t, nil)
	n := 0
	base := []ServiceOption{
		WithMailer(f.mailer),
		WithLinks(LinkBuilder{Scheme: "http", Host: "localhost", Port: 8080}),
		WithTokenSource(func() (string, error) {
			n++
			tok := fmt.Sprintf("%064d", n)
			f.tokens = append(f.tokens, tok)
			return tok, nil
		}),
	}
	f.svc, err = NewService(f.store, f.store, f.hasher, f.signer, append(base, opts...)...)
	require.NoError(t, err)
	return f
}

const goodPassword = "Str0ng!pass"

// seed stores a principal with the given verification state and grants.
func (f *fixture) seed(t *testing.T, id, username, email string, verified bool, grants ...Grant) {
	t.Helper()
	hash, err := f.hasher.Hash(goodPassword)
	require.NoError(t, err)
	require.NoError(t, f.store.Create(context.Background(), &Principal{
		ID: id, FirstName: "Ada", LastName: "Lovelace", Username: username, Email: email,
		PasswordHash: hash, IsVerified: verified,
	}))
	f.store.grants[id] = grants
}

func TestLoginIssuesTokenWithAggregatedClaims(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "u1", "ada", "ada@example.com", true,
		Grant{RoleSlug: RoleAdmin, PermissionSlug: "P1", OrganizationID: "org1"},
		Grant{RoleSlug: RoleAdmin, PermissionSlug: "P2", OrganizationID: "org1"},
		Grant{RoleSlug: RoleUser, PermissionSlug: "P2", OrganizationID: "org1"},
		Grant{RoleSlug: RoleUser, PermissionSlug: "P3", OrganizationID: "org1"},
	)

	for _, login := range []string{"ada", "ada@example.com"} {
		token, err := f.svc.Login(context.Background(), login, goodPassword)
		require.NoError(t, err)

		claims, err := f.signer.Verify(token)
		require.NoError(t, err)
		assert.Equal(t, "u1", claims.UserID)
		assert.Equal(t, "Ada Lovelace", claims.Name)
		assert.Equal(t, "ada", claims.Username)
		assert.Equal(t, "ada@example.com", claims.Email)
		assert.Equal(t, "org1", claims.OrganizationID)
		assert.Equal(t, []string{RoleAdmin, RoleUser}, claims.Roles)
		assert.Equal(t, []string{"P1", "P2", "P3"}, claims.Permissions)
		assert.WithinDuration(t, claims.IssuedAt.Time.Add(1800*time.Second), claims.ExpiresAt.Time, time.Second)
	}
}

func TestLoginGatesInOrder(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "u1", "ada", "ada@example.com", false, Grant{RoleSlug: RoleUser, OrganizationID: "org1"})
	f.seed(t, "u2", "bob", "bob@example.com", true)

	ctx := context.Background()
	if _, err := f.svc.Login(ctx, "nobody", goodPassword); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := f.svc.Login(ctx, "ada", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := f.svc.Login(ctx, "ada", goodPassword); !errors.Is(err, ErrAccountNotVerified) {
		t.Fatalf("expected ErrAccountNotVerified, got %v", err)
	}
	if _, err := f.svc.Login(ctx, "bob", goodPassword); !errors.Is(err, ErrNoGrantsFound) {
		t.Fatalf("expected ErrNoGrantsFound, got %v", err)
	}
	if _, err := f.svc.Login(ctx, "", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestLoginUnverifiedRegardlessOfPassword(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "u1", "ada", "ada@example.com", false, Grant{RoleSlug: RoleUser, OrganizationID: "org1"})

	_, err := f.svc.Login(context.Background(), "ada", goodPassword)
	if !errors.Is(err, ErrAccountNotVerified) {
		t.Fatalf("expected ErrAccountNotVerified, got %v", err)
	}
}

func TestLoginStoreTimeout(t *testing.T) {
	f := newFixture(t, WithStoreTimeout(10*time.Millisecond))
	f.store.findDelay = time.Second

	_, err := f.svc.Login(context.Background(), "ada", goodPassword)
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestRegisterCreatesUnverifiedPrincipalAndSendsLink(t *testing.T) {
	f := newFixture(t)
	age := 36
	view, err := f.svc.Register(context.Background(), Registration{
		FirstName: "Grace", LastName: "Hopper", Email: "grace.hopper@example.com", Age: &age, Password: goodPassword,
	})
	require.NoError(t, err)
	assert.Equal(t, "grace_hopper", view.Username)
	assert.False(t, view.IsVerified)
	assert.NotEmpty(t, view.ID)

	stored := f.store.get(view.ID)
	require.NotNil(t, stored.VerificationToken)
	assert.Equal(t, f.tokens[0], *stored.VerificationToken)
	ok, err := f.hasher.Verify(goodPassword, stored.PasswordHash)
	require.NoError(t, err)
	assert.True(t, ok)

	mail := f.mailer.last(t)
	assert.Equal(t, "grace.hopper@example.com", mail.RecipientEmail)
	assert.Equal(t, TemplateVerification, mail.TemplateKind)
	assert.Equal(t, "Account Verification", mail.Subject)
	assert.Equal(t, "http://localhost:8080/api/v1/verified-account/"+f.tokens[0], mail.Link)
}

func TestRegisterKeepsExplicitUsername(t *testing.T) {
	f := newFixture(t)
	view, err := f.svc.Register(context.Background(), Registration{
		FirstName: "Grace", LastName: "Hopper", Username: "amazing_grace", Email: "grace@example.com", Password: goodPassword,
	})
	require.NoError(t, err)
	assert.Equal(t, "amazing_grace", view.Username)
}

func TestRegisterRejectsEmailShapedUsername(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Register(context.Background(), Registration{
		FirstName: "Mal", LastName: "Lory", Username: "victim@example.com", Email: "attacker@example.com", Password: goodPassword,
	})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}

	view, err := f.svc.Register(context.Background(), Registration{
		FirstName: "Vic", LastName: "Tim", Email: "victim@example.com", Password: goodPassword,
	})
	require.NoError(t, err)
	require.NoError(t, f.svc.VerifyAccount(context.Background(), f.tokens[len(f.tokens)-1]))
	f.store.grants[view.ID] = []Grant{{RoleSlug: RoleUser, OrganizationID: "org1"}}

	for i := 0; i < 20; i++ {
		token, err := f.svc.Login(context.Background(), "victim@example.com", goodPassword)
		require.NoError(t, err)
		claims, err := f.signer.Verify(token)
		require.NoError(t, err)
		assert.Equal(t, view.ID, claims.UserID)
	}
}

func TestRegisterDuplicateEmailConflicts(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "u1", "ada", "ada@example.com", true)
	before := f.store.get("u1")

	_, err := f.svc.Register(context.Background(), Registration{
		FirstName: "Other", LastName: "Person", Email: "ada@example.com", Password: goodPassword,
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	assert.Equal(t, before, f.store.get("u1"))
	assert.Empty(t, f.mailer.sent)
}

func TestRegisterValidation(t *testing.T) {
	f := newFixture(t)
	neg := -1
	cases := []Registration{
		{LastName: "L", Email: "a@example.com", Password: goodPassword},
		{FirstName: "F", Email: "a@example.com", Password: goodPassword},
		{FirstName: "F", LastName: "L", Email: "not-an-email", Password: goodPassword},
		{FirstName: "F", LastName: "L", Email: "a@example.com", Password: "weak"},
		{FirstName: "F", LastName: "L", Email: "a@example.com", Password: goodPassword, Age: &neg},
	}
	for i, in := range cases {
		if _, err := f.svc.Register(context.Background(), in); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("case %d: expected ErrInvalidInput, got %v", i, err)
		}
	}
}

func TestVerifyAccountIsSingleUse(t *testing.T) {
	f := newFixture(t)
	view, err := f.svc.Register(context.Background(), Registration{
		FirstName: "Grace", LastName: "Hopper", Email: "grace@example.com", Password: goodPassword,
	})
	require.NoError(t, err)
	token := f.tokens[0]

	require.NoError(t, f.svc.VerifyAccount(context.Background(), token))
	stored := f.store.get(view.ID)
	assert.True(t, stored.IsVerified)
	assert.Nil(t, stored.VerificationToken)

	for i := 0; i < 3; i++ {
		if err := f.svc.VerifyAccount(context.Background(), token); !errors.Is(err, ErrNotFound) {
			t.Fatalf("attempt %d: expected ErrNotFound, got %v", i, err)
		}
	}
	if err := f.svc.VerifyAccount(context.Background(), ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for empty token, got %v", err)
	}
}

func TestRequestResetRequiresVerifiedPrincipal(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "u1", "ada", "ada@example.com", false)

	if err := f.svc.RequestReset(context.Background(), "ada"); !errors.Is(err, ErrAccountNotVerified) {
		t.Fatalf("expected ErrAccountNotVerified, got %v", err)
	}
	if err := f.svc.RequestReset(context.Background(), "nobody"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	assert.Nil(t, f.store.get("u1").ResetToken)
	assert.Empty(t, f.mailer.sent)
}

func TestRequestResetOverwritesOutstandingToken(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "u1", "ada", "ada@example.com", true)

	require.NoError(t, f.svc.RequestReset(context.Background(), "ada@example.com"))
	require.NoError(t, f.svc.RequestReset(context.Background(), "ada"))

	stored := f.store.get("u1")
	require.NotNil(t, stored.ResetToken)
	assert.Equal(t, f.tokens[1], *stored.ResetToken)

	mail := f.mailer.last(t)
	assert.Equal(t, TemplateReset, mail.TemplateKind)
	assert.Equal(t, "Password Reset", mail.Subject)
	assert.Equal(t, "http://localhost:8080/api/v1/reset-password/"+f.tokens[1], mail.Link)

	if err := f.svc.ConsumeReset(context.Background(), f.tokens[0], "N3w!password"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected superseded token to fail with ErrNotFound, got %v", err)
	}
}

func TestConsumeResetChangesPasswordOnce(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "u1", "ada", "ada@example.com", true, Grant{RoleSlug: RoleUser, OrganizationID: "org1"})
	require.NoError(t, f.svc.RequestReset(context.Background(), "ada"))
	token := f.tokens[0]

	const newPassword = "N3w!password"
	require.NoError(t, f.svc.ConsumeReset(context.Background(), token, newPassword))

	stored := f.store.get("u1")
	assert.Nil(t, stored.ResetToken)
	ok, _ := f.hasher.Verify(newPassword, stored.PasswordHash)
	assert.True(t, ok, "new password must verify")
	ok, _ = f.hasher.Verify(goodPassword, stored.PasswordHash)
	assert.False(t, ok, "old password must not verify")

	if err := f.svc.ConsumeReset(context.Background(), token, "An0ther!pass"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on reuse, got %v", err)
	}
	if _, err := f.svc.Login(context.Background(), "ada", newPassword); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
}

func TestConsumeResetRejectsWeakPassword(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "u1", "ada", "ada@example.com", true)
	require.NoError(t, f.svc.RequestReset(context.Background(), "ada"))

	if err := f.svc.ConsumeReset(context.Background(), f.tokens[0], "weak"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	assert.NotNil(t, f.store.get("u1").ResetToken)
}

func TestConcurrentConsumeResetExactlyOneWins(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "u1", "ada", "ada@example.com", true)
	require.NoError(t, f.svc.RequestReset(context.Background(), "ada"))
	token := f.tokens[0]

	const workers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok       int
		notFound int
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			err := f.svc.ConsumeReset(context.Background(), token, fmt.Sprintf("N3w!password%d", i))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrNotFound):
				notFound++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	if ok != 1 || notFound != workers-1 {
		t.Fatalf("expected exactly one success, got ok=%d notFound=%d", ok, notFound)
	}
}

func TestNewServiceRequiresCollaborators(t *testing.T) {
	h, _ := NewHasher(bcrypt.MinCost)
	s := newTestSigner(t, nil)
	st := newMemStore()
	if _, err := NewService(nil, st, h, s); err == nil {
		t.Fatal("expected error without store")
	}
	if _, err := NewService(st, st, nil, s); err == nil {
		t.Fatal("expected error without hasher")
	}
	if _, err := NewService(st, st, h, s, WithMailer(nil)); err == nil {
		t.Fatal("expected error for nil mailer")
	}
}
