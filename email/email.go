// Package email composes and delivers the account emails sent during the
// passport lifecycle: the welcome message after registration and the
// recovery number after a password recovery request.
package email

import (
	"bytes"
	"context"
	"embed"
	"io/fs"
	"net/http"

	"github.com/gofiber/template/django/v3"
	"github.com/goliatone/go-errors"

	"github.com/goliatone/go-passport"
)

// Template names.
const (
	TemplateRegistered = "registered"
	TemplateRecover    = "recover"
)

//go:embed templates
var templatesFS embed.FS

// Message is one outgoing email.
type Message struct {
	To      string
	Subject string
	HTML    string
}

// Mailer delivers messages.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// MailerFunc adapts a function to the Mailer interface.
type MailerFunc func(ctx context.Context, msg Message) error

func (f MailerFunc) Send(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

// LogMailer writes messages to the logger instead of sending them.
type LogMailer struct {
	Logger passport.Logger
}

func (m LogMailer) Send(_ context.Context, msg Message) error {
	logger := m.Logger
	if logger == nil {
		logger = passport.DefaultLogger()
	}
	logger.Info("email", "to", msg.To, "subject", msg.Subject)
	return nil
}

// Composer renders the account templates.
type Composer struct {
	engine *django.Engine
}

// NewComposer loads the bundled templates. A non nil override replaces
// them, looked up by the same names with an .html extension.
func NewComposer(override fs.FS) (*Composer, error) {
	source := override
	if source == nil {
		sub, err := fs.Sub(templatesFS, "templates")
		if err != nil {
			return nil, errors.Wrap(err, errors.CategoryInternal, "failed to open email templates")
		}
		source = sub
	}

	engine := django.NewFileSystem(http.FS(source), ".html")
	if err := engine.Load(); err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to load email templates")
	}
	return &Composer{engine: engine}, nil
}

// Compose renders template for user. An empty subject falls back to the
// template default.
func (c *Composer) Compose(template, subject string, user *passport.User) (Message, error) {
	if user == nil {
		return Message{}, errors.New("email recipient is required", errors.CategoryValidation).
			WithCode(errors.CodeBadRequest).
			WithTextCode(passport.TextCodeUserNotDefined)
	}

	if subject == "" {
		subject = defaultSubject(template, user)
	}

	var buf bytes.Buffer
	err := c.engine.Render(&buf, template, map[string]any{
		"salutation": user.Salutation(),
		"username":   user.Username,
		"email":      user.Email,
		"recovery":   user.Recovery,
	})
	if err != nil {
		return Message{}, errors.Wrap(err, errors.CategoryInternal, "failed to render email "+template)
	}

	return Message{
		To:      user.Email,
		Subject: subject,
		HTML:    buf.String(),
	}, nil
}

func defaultSubject(template string, user *passport.User) string {
	name := user.Salutation()
	if name == "" {
		name = "User"
	}
	switch template {
	case TemplateRegistered:
		return "Welcome " + name
	case TemplateRecover:
		return name + " Recover Password"
	default:
		return name
	}
}
