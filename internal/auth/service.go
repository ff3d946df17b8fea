package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"gatehouse.dev/internal/ids"
	"gatehouse.dev/internal/obs"
)

const defaultStoreTimeout = 3 * time.Second

// Service orchestrates login, registration, account verification and password reset.
type Service struct {
	store        CredentialStore
	resolver     *PermissionResolver
	hasher       *Hasher
	tokens       *TokenSigner
	mailer       EmailSender
	links        LinkBuilder
	storeTimeout time.Duration
	newToken     func() (string, error)
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithMailer sets the collaborator receiving verification and reset emails.
func WithMailer(m EmailSender) ServiceOption {
	return func(s *Service) error {
		if m == nil {
			return errors.New("auth: mailer is nil")
		}
		s.mailer = m
		return nil
	}
}

// WithLinks sets the public base used to build email links.
func WithLinks(b LinkBuilder) ServiceOption {
	return func(s *Service) error {
		s.links = b
		return nil
	}
}

// WithStoreTimeout bounds every credential store call.
func WithStoreTimeout(d time.Duration) ServiceOption {
	return func(s *Service) error {
		if d > 0 {
			s.storeTimeout = d
		}
		return nil
	}
}

// WithTokenSource overrides single-use token generation (useful for tests).
func WithTokenSource(fn func() (string, error)) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.newToken = fn
		}
		return nil
	}
}

// NewService wires the service. Email handoff is discarded until WithMailer is given.
func NewService(store CredentialStore, grants GrantStore, hasher *Hasher, tokens *TokenSigner, opts ...ServiceOption) (*Service, error) {
	if store == nil || grants == nil {
		return nil, errors.New("auth: store is required")
	}
	if hasher == nil || tokens == nil {
		return nil, errors.New("auth: hasher and token signer are required")
	}
	svc := &Service{
		store:        store,
		resolver:     NewPermissionResolver(grants),
		hasher:       hasher,
		tokens:       tokens,
		mailer:       discardMailer{},
		storeTimeout: defaultStoreTimeout,
		newToken:     NewSingleUseToken,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// Login checks credentials and returns a signed access token. The gates run in
// order: lookup, password, verification state, grants.
func (s *Service) Login(ctx context.Context, usernameOrEmail, password string) (token string, err error) {
	ctx, span := obs.Tracer().Start(ctx, "auth.Login")
	var principalID string
	defer func() { s.finish(span, "login", principalID, err) }()

	usernameOrEmail = strings.TrimSpace(usernameOrEmail)
	if usernameOrEmail == "" || password == "" {
		return "", fmt.Errorf("%w: username or email and password are required", ErrInvalidInput)
	}
	p, err := withStore(ctx, s, func(ctx context.Context) (*Principal, error) {
		return s.store.FindByUsernameOrEmail(ctx, usernameOrEmail)
	})
	if err != nil {
		return "", err
	}
	principalID = p.ID

	ok, err := s.hasher.Verify(password, p.PasswordHash)
	if err != nil {
		return "", fmt.Errorf("%w: stored hash unusable: %v", ErrInvalidCredentials, err)
	}
	if !ok {
		return "", ErrInvalidCredentials
	}
	if !p.IsVerified {
		return "", ErrAccountNotVerified
	}

	resolved, err := withStore(ctx, s, func(ctx context.Context) (ResolvedClaims, error) {
		return s.resolver.Resolve(ctx, p.ID)
	})
	if err != nil {
		return "", err
	}
	return s.tokens.Issue(Claims{
		UserID:         p.ID,
		Name:           p.FullName(),
		Username:       p.Username,
		Email:          p.Email,
		OrganizationID: resolved.OrganizationID,
		Roles:          resolved.Roles,
		Permissions:    resolved.Permissions,
	}, s.tokens.TTL())
}

// Register creates an unverified principal and hands off a verification email.
func (s *Service) Register(ctx context.Context, in Registration) (view PrincipalView, err error) {
	ctx, span := obs.Tracer().Start(ctx, "auth.Register")
	var principalID string
	defer func() { s.finish(span, "register", principalID, err) }()

	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.Email = strings.TrimSpace(in.Email)
	in.Username = strings.TrimSpace(in.Username)
	if err := validateRegistration(in); err != nil {
		return PrincipalView{}, err
	}

	exists, err := withStore(ctx, s, func(ctx context.Context) (bool, error) {
		return s.store.EmailExists(ctx, in.Email)
	})
	if err != nil {
		return PrincipalView{}, err
	}
	if exists {
		return PrincipalView{}, fmt.Errorf("%w: user with email %q already exists", ErrConflict, in.Email)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return PrincipalView{}, err
	}
	verificationToken, err := s.newToken()
	if err != nil {
		return PrincipalView{}, err
	}
	username := in.Username
	if username == "" {
		username = DeriveUsername(in.Email)
	}
	p := &Principal{
		ID:                ids.New(),
		FirstName:         in.FirstName,
		LastName:          in.LastName,
		Username:          username,
		Email:             in.Email,
		PasswordHash:      hash,
		Age:               in.Age,
		VerificationToken: &verificationToken,
	}
	if _, err := withStore(ctx, s, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.store.Create(ctx, p)
	}); err != nil {
		return PrincipalView{}, err
	}
	principalID = p.ID

	s.mailer.Send(context.WithoutCancel(ctx), verificationEmail(p.Email, s.links, verificationToken))
	return p.View(), nil
}

// VerifyAccount consumes a verification token and marks its principal verified.
func (s *Service) VerifyAccount(ctx context.Context, token string) (err error) {
	ctx, span := obs.Tracer().Start(ctx, "auth.VerifyAccount")
	var principalID string
	defer func() { s.finish(span, "verify_account", principalID, err) }()

	token = strings.TrimSpace(token)
	if token == "" {
		return ErrNotFound
	}
	p, err := withStore(ctx, s, func(ctx context.Context) (*Principal, error) {
		return s.store.FindByVerificationToken(ctx, token)
	})
	if err != nil {
		return err
	}
	principalID = p.ID

	verified := true
	_, err = withStore(ctx, s, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.store.Update(ctx, p.ID, PrincipalUpdate{
			Verified:               &verified,
			ClearVerificationToken: true,
			IfVerificationToken:    token,
		})
	})
	return err
}

// RequestReset stores a fresh reset token on a verified principal, replacing any
// outstanding one, and hands off a reset email.
func (s *Service) RequestReset(ctx context.Context, usernameOrEmail string) (err error) {
	ctx, span := obs.Tracer().Start(ctx, "auth.RequestReset")
	var principalID string
	defer func() { s.finish(span, "request_reset", principalID, err) }()

	usernameOrEmail = strings.TrimSpace(usernameOrEmail)
	if usernameOrEmail == "" {
		return fmt.Errorf("%w: username or email is required", ErrInvalidInput)
	}
	p, err := withStore(ctx, s, func(ctx context.Context) (*Principal, error) {
		return s.store.FindByUsernameOrEmail(ctx, usernameOrEmail)
	})
	if err != nil {
		return err
	}
	principalID = p.ID
	if !p.IsVerified {
		return ErrAccountNotVerified
	}

	resetToken, err := s.newToken()
	if err != nil {
		return err
	}
	if _, err := withStore(ctx, s, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.store.Update(ctx, p.ID, PrincipalUpdate{ResetToken: &resetToken})
	}); err != nil {
		return err
	}

	s.mailer.Send(context.WithoutCancel(ctx), resetEmail(p.Email, s.links, resetToken))
	return nil
}

// ConsumeReset replaces the password of the principal holding resetToken and
// clears the token. Of two concurrent calls with the same token at most one wins;
// the other fails with ErrNotFound.
func (s *Service) ConsumeReset(ctx context.Context, resetToken, newPassword string) (err error) {
	ctx, span := obs.Tracer().Start(ctx, "auth.ConsumeReset")
	var principalID string
	defer func() { s.finish(span, "consume_reset", principalID, err) }()

	resetToken = strings.TrimSpace(resetToken)
	if resetToken == "" {
		return ErrNotFound
	}
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	p, err := withStore(ctx, s, func(ctx context.Context) (*Principal, error) {
		return s.store.FindByResetToken(ctx, resetToken)
	})
	if err != nil {
		return err
	}
	principalID = p.ID

	_, err = withStore(ctx, s, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.store.Update(ctx, p.ID, PrincipalUpdate{
			PasswordHash:    &hash,
			ClearResetToken: true,
			IfResetToken:    resetToken,
		})
	})
	return err
}

func (s *Service) finish(span trace.Span, op, principalID string, err error) {
	kind := Kind(err)
	obs.ObserveAuth(op, kind)
	if principalID != "" {
		span.SetAttributes(attribute.String("principal.id", principalID))
	}
	if err != nil {
		span.SetStatus(codes.Error, kind)
		fields := logrus.Fields{"op": op, "kind": kind}
		if principalID != "" {
			fields["principal_id"] = principalID
		}
		entry := obs.Logger().WithFields(fields)
		if kind == "internal" || kind == "store_unavailable" {
			entry.WithError(err).Error("auth operation failed")
		} else {
			entry.Info("auth operation rejected")
		}
	}
	span.End()
}

// withStore runs fn under the store timeout and turns deadline expiry into
// ErrStoreUnavailable.
func withStore[T any](ctx context.Context, s *Service, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	v, err := fn(ctx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrStoreUnavailable) {
		err = fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return v, err
}

type discardMailer struct{}

func (discardMailer) Send(context.Context, EmailRequest) {}
