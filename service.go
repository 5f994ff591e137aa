package passport

import (
	"context"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/goliatone/go-passport"

// Service orchestrates the user and credential lifecycle.
type Service struct {
	repo      RepositoryManager
	resolver  *Resolver
	opts      Options
	hasher    PasswordHasher
	tokens    *TokenService
	publisher EventPublisher
	logger    Logger
	tracer    trace.Tracer
}

var (
	_ LocalAuthenticator = (*Service)(nil)
	_ UserLoader         = (*Service)(nil)
)

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger overrides the logger used by the service.
func WithLogger(logger Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithEventPublisher sets the publisher used for lifecycle events.
func WithEventPublisher(p EventPublisher) ServiceOption {
	return func(s *Service) {
		s.publisher = p
	}
}

// WithPasswordHasher replaces the bcrypt hasher.
func WithPasswordHasher(h PasswordHasher) ServiceOption {
	return func(s *Service) {
		if h != nil {
			s.hasher = h
		}
	}
}

// WithTracerProvider sets the OpenTelemetry provider used for spans.
func WithTracerProvider(tp trace.TracerProvider) ServiceOption {
	return func(s *Service) {
		if tp != nil {
			s.tracer = tp.Tracer(tracerName)
		}
	}
}

// NewService validates opts and keeps a private copy of them.
func NewService(repo RepositoryManager, opts Options, options ...ServiceOption) (*Service, error) {
	if repo == nil {
		return nil, goerrors.New("repository manager is required", goerrors.CategoryInternal)
	}
	if err := repo.Validate(); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "invalid repository manager")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	s := &Service{
		repo:     repo,
		resolver: NewResolver(repo.Users()),
		opts:     opts.clone(),
		hasher:   NewBcryptHasher(opts.BcryptCost),
		logger:   defLogger{},
		tracer:   otel.Tracer(tracerName),
	}

	for _, opt := range options {
		if opt != nil {
			opt(s)
		}
	}

	s.publisher = normalizePublisher(s.publisher, s.logger)

	tokens, err := NewTokenService(s.opts.Token, s.logger)
	if err != nil {
		return nil, err
	}
	s.tokens = tokens

	return s, nil
}

// Tokens returns the token issuer configured from Options.Token.
func (s *Service) Tokens() *TokenService {
	return s.tokens
}

// Options returns a copy of the service configuration.
func (s *Service) Options() Options {
	return s.opts.clone()
}

// Resolve loads the user named by ref outside any transaction.
func (s *Service) Resolve(ctx context.Context, ref UserRef, opts ...ResolveOption) (*User, error) {
	return s.resolver.Resolve(ctx, s.repo.DB(), ref, opts...)
}

// UserByID implements UserLoader. A missing user is (nil, nil).
func (s *Service) UserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.resolver.Resolve(ctx, s.repo.DB(), ByID(id), WithReject(false))
}

// RegisterInput is the payload accepted by Register.
type RegisterInput struct {
	Username    string         `json:"username" form:"username"`
	Email       string         `json:"email" form:"email"`
	Identifier  string         `json:"identifier" form:"identifier"`
	Password    string         `json:"password" form:"password"`
	Preferences map[string]any `json:"preferences" form:"-"`
}

// Validate will validate the payload
func (r RegisterInput) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Password, validation.Required),
		validation.Field(&r.Email, is.Email),
		validation.Field(&r.Username, validation.Length(0, 255)),
	)
}

func (r RegisterInput) normalize() RegisterInput {
	r.Username = strings.ToLower(strings.TrimSpace(r.Username))
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	r.Identifier = strings.ToLower(strings.TrimSpace(r.Identifier))

	if r.Identifier != "" && r.Username == "" && r.Email == "" {
		if isEmail(r.Identifier) {
			r.Email = r.Identifier
		} else {
			r.Username = r.Identifier
		}
	}
	return r
}

// Register creates a user together with its local credential record.
func (s *Service) Register(ctx context.Context, in RegisterInput) (user *User, err error) {
	ctx, span := s.tracer.Start(ctx, "passport.Register")
	defer func() { endSpan(span, err) }()

	in = in.normalize()
	if err := in.Validate(); err != nil {
		return nil, wrapValidation(err)
	}
	if in.Username == "" && in.Email == "" {
		return nil, validationError("No username or email field")
	}

	digest, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, asRichError(err, "failed to hash password")
	}

	box := &outbox{}
	err = s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := s.ensureAvailable(ctx, tx, in.Username, in.Email); err != nil {
			return err
		}

		record := &User{
			Username:    in.Username,
			Email:       in.Email,
			Preferences: in.Preferences,
		}
		if s.opts.DeterministicIDs {
			if id, err := hashid.NewUUID(firstNonEmpty(in.Email, in.Username)); err == nil {
				record.ID = id
			}
		}

		created, err := s.repo.Users().CreateTx(ctx, tx, record)
		if err != nil {
			return err
		}

		_, err = s.repo.Credentials().CreateTx(ctx, tx, &CredentialRecord{
			UserID:       created.ID,
			Protocol:     ProtocolLocal,
			PasswordHash: digest,
		})
		if err != nil {
			return err
		}

		box.add(newUserEvent(EventUserRegistered, created, "User "+created.Salutation()+" registered"))

		user, err = s.opts.Hooks.OnUserLogin.Run(ctx, created)
		return err
	})
	if err != nil {
		return nil, asRichError(err, "failed to register user")
	}

	span.SetAttributes(attribute.String("passport.user_id", user.ID.String()))
	s.publish(ctx, box.events...)
	return user, nil
}

// Login verifies a local password. field selects the lookup column
// (username or email); identifier is matched case insensitively.
func (s *Service) Login(ctx context.Context, field, identifier, password string) (user *User, err error) {
	ctx, span := s.tracer.Start(ctx, "passport.Login", trace.WithAttributes(
		attribute.String("passport.field", field),
	))
	defer func() { endSpan(span, err) }()

	if field == "" {
		return nil, newCodeError(ErrFieldNameNotSpecified, nil)
	}
	if field != FieldUsername && field != FieldEmail {
		return nil, validationError("unsupported identifying field " + field)
	}

	value := strings.ToLower(strings.TrimSpace(identifier))
	db := s.repo.DB()

	user, err = s.repo.Users().FindOneTx(ctx, db, field, value)
	if err != nil {
		if isNotFound(err) {
			return nil, userNotFound(map[string]any{field: value})
		}
		return nil, asRichError(err, "failed to find user")
	}

	local, err := s.repo.Credentials().FindForUserTx(ctx, db, user.ID, ProtocolLocal)
	if err != nil {
		if isNotFound(err) {
			return nil, newCodeError(ErrUserNoPassword, map[string]any{"user_id": user.ID.String()})
		}
		return nil, asRichError(err, "failed to find local credential")
	}

	if err := VerifyCredential(s.hasher, local, password); err != nil {
		return nil, err
	}

	user, err = s.opts.Hooks.OnUserLogin.Run(ctx, user)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, newUserEvent(EventUserLogin, user, "User "+user.Salutation()+" logged in"))
	return user, nil
}

// Logout runs the logout hooks. It never fails: hook errors are logged and
// the user is returned unchanged.
func (s *Service) Logout(ctx context.Context, user *User) *User {
	ctx, span := s.tracer.Start(ctx, "passport.Logout")
	defer span.End()

	if user == nil {
		return nil
	}

	patched, err := s.opts.Hooks.OnUserLogout.Run(ctx, user.clone())
	if err != nil {
		s.logger.Error("logout hook failed", "user_id", user.ID, "error", err)
		span.RecordError(err)
		return user
	}
	return patched
}

// Connect ensures the user has a local credential. An existing one is
// returned untouched.
func (s *Service) Connect(ctx context.Context, ref UserRef, password string) (record *CredentialRecord, err error) {
	ctx, span := s.tracer.Start(ctx, "passport.Connect")
	defer func() { endSpan(span, err) }()

	err = s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		user, err := s.resolver.Resolve(ctx, tx, ref)
		if err != nil {
			return err
		}

		record, err = s.repo.Credentials().FindForUserTx(ctx, tx, user.ID, ProtocolLocal)
		if err == nil {
			return nil
		}
		if !isNotFound(err) {
			return err
		}

		if password == "" {
			return validationError("password is required")
		}
		digest, err := s.hasher.Hash(password)
		if err != nil {
			return err
		}

		record, err = s.repo.Credentials().CreateTx(ctx, tx, &CredentialRecord{
			UserID:       user.ID,
			Protocol:     ProtocolLocal,
			PasswordHash: digest,
		})
		return err
	})
	if err != nil {
		return nil, asRichError(err, "failed to connect local credential")
	}
	return record, nil
}

// Disconnect removes the user's credential for provider. "local" or an empty
// provider selects the password credential.
func (s *Service) Disconnect(ctx context.Context, ref UserRef, provider string) (err error) {
	ctx, span := s.tracer.Start(ctx, "passport.Disconnect", trace.WithAttributes(
		attribute.String("passport.provider", provider),
	))
	defer func() { endSpan(span, err) }()

	err = s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		user, err := s.resolver.Resolve(ctx, tx, ref)
		if err != nil {
			return err
		}

		record, err := s.repo.Credentials().FindForUserTx(ctx, tx, user.ID, provider)
		if err != nil {
			if isNotFound(err) {
				return newCodeError(ErrUserNoPassword, map[string]any{
					"user_id":  user.ID.String(),
					"provider": provider,
				})
			}
			return err
		}

		return s.repo.Credentials().DeleteTx(ctx, tx, record)
	})
	return asRichError(err, "failed to disconnect credential")
}

// UpdateLocalPassword replaces the digest of the user's local credential.
func (s *Service) UpdateLocalPassword(ctx context.Context, ref UserRef, password string) (record *CredentialRecord, err error) {
	ctx, span := s.tracer.Start(ctx, "passport.UpdateLocalPassword")
	defer func() { endSpan(span, err) }()

	box := &outbox{}
	err = s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		user, err := s.resolver.Resolve(ctx, tx, ref)
		if err != nil {
			return err
		}
		record, err = s.updateLocalPassword(ctx, tx, user, password, box)
		return err
	})
	if err != nil {
		return nil, asRichError(err, "failed to update password")
	}

	s.publish(ctx, box.events...)
	return record, nil
}

// Reset changes the password of a signed in user.
func (s *Service) Reset(ctx context.Context, ref UserRef, password string) (user *User, err error) {
	ctx, span := s.tracer.Start(ctx, "passport.Reset")
	defer func() { endSpan(span, err) }()

	if ref.IsZero() {
		return nil, newCodeError(ErrUserNotDefined, nil)
	}

	box := &outbox{}
	err = s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		user, err = s.resolver.Resolve(ctx, tx, ref)
		if err != nil {
			return err
		}
		if _, err := s.updateLocalPassword(ctx, tx, user, password, box); err != nil {
			return err
		}
		box.add(newUserEvent(EventUserPasswordReset, user, "User "+user.Salutation()+" reset their password"))
		return nil
	})
	if err != nil {
		return nil, asRichError(err, "failed to reset password")
	}

	s.publish(ctx, box.events...)
	return user, nil
}

func (s *Service) updateLocalPassword(ctx context.Context, tx bun.IDB, user *User, password string, box *outbox) (*CredentialRecord, error) {
	if password == "" {
		return nil, validationError("password is required")
	}

	records, err := s.repo.Credentials().FindByUserTx(ctx, tx, user.ID)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, newCodeError(ErrNoAvailablePassports, map[string]any{"user_id": user.ID.String()})
	}

	var local *CredentialRecord
	for _, r := range records {
		if r.IsLocal() {
			local = r
			break
		}
	}
	if local == nil {
		return nil, newCodeError(ErrNoAvailableLocalPassport, map[string]any{"user_id": user.ID.String()})
	}

	digest, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	local.PasswordHash = digest
	if _, err := s.repo.Credentials().UpdateColumnsTx(ctx, tx, local, "password"); err != nil {
		return nil, err
	}

	box.add(newUserEvent(EventUserPasswordUpdated, user, "User "+user.Salutation()+" updated their password"))
	return local, nil
}

// ensureAvailable rejects a username or email already held by another user.
func (s *Service) ensureAvailable(ctx context.Context, tx bun.IDB, username, email string) error {
	checks := []struct{ field, value, message string }{
		{FieldUsername, username, "username already taken"},
		{FieldEmail, email, "email already registered"},
	}
	for _, c := range checks {
		if c.value == "" {
			continue
		}
		_, err := s.repo.Users().FindOneTx(ctx, tx, c.field, c.value)
		if err == nil {
			return validationError(c.message).WithMetadata(map[string]any{c.field: c.value})
		}
		if !isNotFound(err) {
			return err
		}
	}
	return nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if code := ErrorCode(err); code != "" {
			span.SetAttributes(attribute.String("passport.error_code", code))
		}
	}
	span.End()
}

func wrapValidation(err error) error {
	return goerrors.Wrap(err, goerrors.CategoryValidation, err.Error()).
		WithCode(goerrors.CodeBadRequest).
		WithTextCode(TextCodeValidation)
}

func isEmail(value string) bool {
	return value != "" && validation.Validate(value, is.Email) == nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
