package passport

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// LocalAuthenticator verifies a local credential and returns the stored user.
type LocalAuthenticator interface {
	Login(ctx context.Context, field, identifier, password string) (*User, error)
}

// TokenValidator verifies a signed token and returns its claims.
type TokenValidator interface {
	Validate(raw string) (*UserClaims, error)
}

// TokenIssuer signs a token for a user.
type TokenIssuer interface {
	Issue(user *User) (string, error)
}

// PasswordHasher hashes and verifies secrets.
type PasswordHasher interface {
	Hash(plain string) (string, error)
	Compare(plain, digest string) (bool, error)
}

// ThirdPartyProvider is a configured OAuth2 or OpenID identity provider.
type ThirdPartyProvider interface {
	Name() string
	Protocol() string
	AuthCodeURL(state, verifier string) string
	Exchange(ctx context.Context, code, verifier string) (*ExternalProfile, error)
}

// ProviderRegistry looks up providers by name.
type ProviderRegistry interface {
	Provider(name string) (ThirdPartyProvider, bool)
}

// UserLoader is implemented by anything able to load a user by id, used by
// the session middleware.
type UserLoader interface {
	UserByID(ctx context.Context, id uuid.UUID) (*User, error)
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Print("[ERR] PASSPORT " + render(format, args...))
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Print("[WRN] PASSPORT " + render(format, args...))
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Print("[INF] PASSPORT " + render(format, args...))
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Print("[DBG] PASSPORT " + render(format, args...))
}

// render accepts both printf style calls and message + key/value pairs.
func render(format string, args ...any) string {
	if len(args) == 0 {
		return newline(format)
	}
	if strings.Contains(format, "%") {
		return newline(fmt.Sprintf(format, args...))
	}
	var b strings.Builder
	b.WriteString(format)
	for i := 0; i < len(args); i += 2 {
		if i+1 < len(args) {
			fmt.Fprintf(&b, " %v=%v", args[i], args[i+1])
			continue
		}
		fmt.Fprintf(&b, " %v", args[i])
	}
	return newline(b.String())
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}

// DefaultLogger returns the stdout logger used when none is configured.
func DefaultLogger() Logger {
	return defLogger{}
}
