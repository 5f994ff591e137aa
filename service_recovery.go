package passport

import (
	"context"
	"strings"

	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// LocalPayload is the body accepted by the local credential endpoints.
type LocalPayload struct {
	Username   string `json:"username" form:"username"`
	Email      string `json:"email" form:"email"`
	Identifier string `json:"identifier" form:"identifier"`
	Password   string `json:"password" form:"password"`
	Recovery   string `json:"recovery" form:"recovery"`
	Redirect   string `json:"redirect" form:"redirect"`
}

// IdentifyingField picks the lookup field and value from a payload. A
// configured field wins; otherwise username, then email, then identifier
// (email shaped values select email).
func IdentifyingField(p LocalPayload, configured string) (string, string, error) {
	if configured != "" {
		value := p.Identifier
		switch configured {
		case FieldUsername:
			value = firstNonEmpty(p.Username, p.Identifier)
		case FieldEmail:
			value = firstNonEmpty(p.Email, p.Identifier)
		}
		return configured, value, nil
	}

	switch {
	case p.Username != "":
		return FieldUsername, p.Username, nil
	case p.Email != "":
		return FieldEmail, p.Email, nil
	case p.Identifier != "":
		if isEmail(strings.TrimSpace(p.Identifier)) {
			return FieldEmail, p.Identifier, nil
		}
		return FieldUsername, p.Identifier, nil
	}
	return "", "", validationError("No username or email field")
}

// Recover starts a recovery flow: it stores a fresh recovery secret on the
// user and runs the recover hooks. Every failure, including an unknown user,
// is reported as E_VALIDATION so callers cannot enumerate accounts.
func (s *Service) Recover(ctx context.Context, field, value string) (user *User, err error) {
	ctx, span := s.tracer.Start(ctx, "passport.Recover", trace.WithAttributes(
		attribute.String("passport.field", field),
	))
	defer func() { endSpan(span, err) }()

	user, err = s.recover(ctx, field, value)
	if err != nil {
		s.logger.Info("recovery request rejected", "field", field, "code", ErrorCode(err), "error", err)
		return nil, validationError("unable to start recovery")
	}
	return user, nil
}

func (s *Service) recover(ctx context.Context, field, value string) (user *User, err error) {
	if field == "" {
		return nil, newCodeError(ErrFieldNameNotSpecified, nil)
	}
	if field != FieldUsername && field != FieldEmail {
		return nil, validationError("unsupported identifying field " + field)
	}

	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return nil, validationError("identifying value is required")
	}

	box := &outbox{}
	err = s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		user, err = s.repo.Users().FindOneTx(ctx, tx, field, value)
		if err != nil {
			if isNotFound(err) {
				return userNotFound(map[string]any{field: value})
			}
			return err
		}

		if _, err := s.repo.Credentials().FindForUserTx(ctx, tx, user.ID, ProtocolLocal); err != nil {
			if isNotFound(err) {
				return newCodeError(ErrNoAvailableLocalPassport, nil)
			}
			return err
		}

		secret, err := s.generateRecovery(value)
		if err != nil {
			return err
		}

		user.Recovery = secret
		if _, err := s.repo.Users().UpdateColumnsTx(ctx, tx, user, "recovery"); err != nil {
			return err
		}

		box.add(newUserEvent(EventUserPasswordRecover, user, "User "+user.Salutation()+" requested a password recovery"))

		user, err = s.opts.Hooks.OnUserRecover.Run(ctx, user)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, box.events...)
	return user, nil
}

// generateRecovery derives a single use secret from the identifying value.
// The bcrypt salt makes every secret unique.
func (s *Service) generateRecovery(value string) (string, error) {
	return s.hasher.Hash(strings.ToLower(value))
}

// ResetWithRecovery sets a new password for the user holding secret and
// clears the secret, so it can be used only once.
func (s *Service) ResetWithRecovery(ctx context.Context, secret, password string) (user *User, err error) {
	ctx, span := s.tracer.Start(ctx, "passport.ResetWithRecovery")
	defer func() { endSpan(span, err) }()

	if secret == "" {
		return nil, newCodeError(ErrRecoveryNotDefined, nil)
	}
	if password == "" {
		return nil, validationError("password is required")
	}

	box := &outbox{}
	err = s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		user, err = s.repo.Users().FindOneTx(ctx, tx, FieldRecovery, secret)
		if err != nil {
			if isNotFound(err) {
				return userNotFound(nil)
			}
			return err
		}

		if _, err := s.updateLocalPassword(ctx, tx, user, password, box); err != nil {
			return err
		}

		user.Recovery = ""
		if _, err := s.repo.Users().UpdateColumnsTx(ctx, tx, user, "recovery"); err != nil {
			return err
		}

		box.add(newUserEvent(EventUserPasswordReset, user, "User "+user.Salutation()+" reset their password"))

		user, err = s.opts.Hooks.OnUserRecovered.Run(ctx, user)
		return err
	})
	if err != nil {
		return nil, asRichError(err, "failed to reset password with recovery")
	}

	s.publish(ctx, box.events...)
	return user, nil
}
