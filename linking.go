package passport

import (
	"context"
	"strings"

	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// LinkExternal signs in or links a third party identity.
//
// The credential lookup key is (provider, identifier); users are never
// matched by email. A profile without email and username is rejected before
// any lookup.
//
//	session user | record exists | outcome
//	no           | yes           | sign in as the record's user, refresh tokens
//	no           | no            | create user (MergeProfile) and record
//	yes          | no            | attach a record to the session user
//	yes          | yes           | no-op, the session user is returned
func (s *Service) LinkExternal(ctx context.Context, sessionUser *User, profile ExternalProfile) (user *User, err error) {
	ctx, span := s.tracer.Start(ctx, "passport.LinkExternal", trace.WithAttributes(
		attribute.String("passport.provider", profile.Provider),
	))
	defer func() { endSpan(span, err) }()

	profile.Provider = strings.TrimSpace(profile.Provider)
	if profile.Provider == "" {
		return nil, newCodeError(ErrNoProvider, nil)
	}
	if profile.Identifier == "" {
		return nil, validationError("profile identifier is required").
			WithMetadata(map[string]any{"provider": profile.Provider})
	}
	if strings.TrimSpace(profile.Email) == "" && strings.TrimSpace(profile.Username) == "" {
		return nil, newCodeError(ErrNoIdentifiableProfile, map[string]any{"provider": profile.Provider})
	}
	if profile.Protocol == "" {
		profile.Protocol = ProtocolOAuth2
	}

	tokens, err := encodeTokens(profile.Tokens)
	if err != nil {
		return nil, asRichError(err, "failed to encode provider tokens")
	}

	box := &outbox{}
	err = s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record, err := s.repo.Credentials().FindByProviderTx(ctx, tx, profile.Provider, profile.Identifier)
		if err != nil && !isNotFound(err) {
			return err
		}
		exists := err == nil

		switch {
		case sessionUser == nil && exists:
			if record.Tokens != tokens {
				record.Tokens = tokens
				if _, err := s.repo.Credentials().UpdateColumnsTx(ctx, tx, record, "tokens"); err != nil {
					return err
				}
			}
			user, err = s.resolver.Resolve(ctx, tx, ByID(record.UserID))
			if err != nil {
				return err
			}
			box.add(newUserEvent(EventUserLogin, user, "User "+user.Salutation()+" logged in with "+profile.Provider))
			return nil

		case sessionUser == nil:
			user, err = s.createFromProfile(ctx, tx, profile, tokens)
			if err != nil {
				return err
			}
			box.add(newUserEvent(EventUserRegistered, user, "User "+user.Salutation()+" registered with "+profile.Provider))
			return nil

		case !exists:
			user, err = s.resolver.Resolve(ctx, tx, ByInstance(sessionUser))
			if err != nil {
				return err
			}
			_, err = s.repo.Credentials().CreateTx(ctx, tx, &CredentialRecord{
				UserID:     user.ID,
				Protocol:   profile.Protocol,
				Provider:   profile.Provider,
				Identifier: profile.Identifier,
				Tokens:     tokens,
			})
			return err

		default:
			user = sessionUser
			return nil
		}
	})
	if err != nil {
		return nil, asRichError(err, "failed to link external identity")
	}

	s.publish(ctx, box.events...)
	return user, nil
}

func (s *Service) createFromProfile(ctx context.Context, tx bun.IDB, profile ExternalProfile, tokens string) (*User, error) {
	base := &User{
		Username: strings.ToLower(strings.TrimSpace(profile.Username)),
		Email:    strings.ToLower(strings.TrimSpace(profile.Email)),
	}
	if s.opts.MergeProfile != nil {
		merged, err := s.opts.MergeProfile(ctx, base, profile)
		if err != nil {
			return nil, err
		}
		if merged != nil {
			base = merged
		}
	}
	base.Username = strings.ToLower(strings.TrimSpace(base.Username))
	base.Email = strings.ToLower(strings.TrimSpace(base.Email))

	if err := s.ensureAvailable(ctx, tx, base.Username, base.Email); err != nil {
		return nil, err
	}

	user, err := s.repo.Users().CreateTx(ctx, tx, base)
	if err != nil {
		return nil, err
	}

	_, err = s.repo.Credentials().CreateTx(ctx, tx, &CredentialRecord{
		UserID:     user.ID,
		Protocol:   profile.Protocol,
		Provider:   profile.Provider,
		Identifier: profile.Identifier,
		Tokens:     tokens,
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}
