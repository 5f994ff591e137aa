package passport

import (
	"encoding/base64"
	"strings"

	"github.com/goliatone/go-router"
)

// BasicPolicy authenticates HTTP Basic credentials against local passwords.
// Requests without a Basic header pass through untouched; failed logins are
// answered by errorHandler, RouteErrorHandler when none is given.
func BasicPolicy(auth LocalAuthenticator, errorHandler ...func(router.Context, error) error) router.MiddlewareFunc {
	onError := RouteErrorHandler(nil)
	if len(errorHandler) > 0 && errorHandler[0] != nil {
		onError = errorHandler[0]
	}

	return func(hf router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) error {
			identifier, password, ok := parseBasic(c.Header(router.HeaderAuthorization))
			if !ok {
				return c.Next()
			}

			field := FieldUsername
			if isEmail(identifier) {
				field = FieldEmail
			}

			user, err := auth.Login(c.Context(), field, identifier, password)
			if err != nil {
				return onError(c, err)
			}

			SetCurrentUser(c, user)
			return c.Next()
		}
	}
}

func parseBasic(header string) (string, string, bool) {
	const prefix = "basic "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", "", false
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(header[len(prefix):]))
	if err != nil {
		return "", "", false
	}

	identifier, password, ok := strings.Cut(string(raw), ":")
	if !ok || identifier == "" {
		return "", "", false
	}
	return identifier, password, true
}
