package email

import (
	"context"

	"github.com/goliatone/go-errors"

	"github.com/goliatone/go-passport"
)

// RecoverHook mails the recovery number to the user. Use it in the
// OnUserRecover chain together with RecoveryOptions.ExposeSecret set to
// false. Users without an email address are skipped.
func RecoverHook(mailer Mailer, composer *Composer) passport.HookFunc {
	return func(ctx context.Context, user passport.User) (passport.Patch, error) {
		if user.Email == "" {
			return nil, nil
		}

		msg, err := composer.Compose(TemplateRecover, "", &user)
		if err != nil {
			return nil, err
		}
		if err := mailer.Send(ctx, msg); err != nil {
			return nil, errors.Wrap(err, errors.CategoryInternal, "failed to send recovery email")
		}
		return nil, nil
	}
}

// WelcomePublisher mails the welcome message on user.registered and then
// forwards every event to the next publisher.
type WelcomePublisher struct {
	next     passport.EventPublisher
	mailer   Mailer
	composer *Composer
	logger   passport.Logger
}

var _ passport.EventPublisher = (*WelcomePublisher)(nil)

// NewWelcomePublisher decorates next. A nil next drops events after
// mailing.
func NewWelcomePublisher(next passport.EventPublisher, mailer Mailer, composer *Composer, logger passport.Logger) *WelcomePublisher {
	if logger == nil {
		logger = passport.DefaultLogger()
	}
	return &WelcomePublisher{
		next:     next,
		mailer:   mailer,
		composer: composer,
		logger:   logger,
	}
}

func (p *WelcomePublisher) Publish(ctx context.Context, event passport.Event, opts passport.PublishOptions) error {
	if event.Type == passport.EventUserRegistered && event.Data != nil && event.Data.Email != "" {
		if err := p.welcome(ctx, event.Data); err != nil {
			p.logger.Error("failed to send welcome email", "user", event.ObjectID, "error", err)
		}
	}

	if p.next == nil {
		return nil
	}
	return p.next.Publish(ctx, event, opts)
}

func (p *WelcomePublisher) welcome(ctx context.Context, user *passport.User) error {
	msg, err := p.composer.Compose(TemplateRegistered, "", user)
	if err != nil {
		return err
	}
	return p.mailer.Send(ctx, msg)
}
