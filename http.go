package passport

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
)

// LocalsUserKey is the locals key holding the resolved *User.
const LocalsUserKey = "user"

// CurrentUser returns the user placed in locals by a policy or the session
// middleware.
func CurrentUser(c router.Context) *User {
	if u, ok := c.Locals(LocalsUserKey).(*User); ok {
		return u
	}
	return nil
}

// SetCurrentUser stores user in locals and in the request context.
func SetCurrentUser(c router.Context, user *User) {
	c.Locals(LocalsUserKey, user)
	c.SetContext(WithContext(c.Context(), user))
}

// WantsJSON reports whether the client asked for a JSON answer.
func WantsJSON(c router.Context) bool {
	return strings.Contains(c.Header("Accept"), fiber.MIMEApplicationJSON) ||
		strings.Contains(c.Header("Content-Type"), fiber.MIMEApplicationJSON) ||
		strings.EqualFold(c.Header("X-Requested-With"), "xmlhttprequest")
}

// ErrorResponse is the JSON body written for failed requests.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// RouteErrorHandler answers failed router requests with the status mapped
// from the lifecycle code. Unknown errors answer 500 and are logged.
func RouteErrorHandler(logger Logger) func(router.Context, error) error {
	if logger == nil {
		logger = defLogger{}
	}
	return func(c router.Context, err error) error {
		status, body := errorReply(logger, c.OriginalURL(), err)
		return c.JSON(status, body)
	}
}

// ErrorHandler returns the fiber error handler for the application wrapped
// by the router adapter. It covers errors escaping route handlers.
func ErrorHandler(logger Logger) fiber.ErrorHandler {
	if logger == nil {
		logger = defLogger{}
	}
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if ErrorCode(err) == "" && errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(ErrorResponse{Error: http.StatusText(fe.Code), Message: fe.Message})
		}
		status, body := errorReply(logger, c.OriginalURL(), err)
		return c.Status(status).JSON(body)
	}
}

func errorReply(logger Logger, path string, err error) (int, ErrorResponse) {
	status := HTTPStatus(err)
	code := ErrorCode(err)

	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		richErr = goerrors.Wrap(err, goerrors.CategoryInternal, "An unexpected server error occurred").
			WithCode(goerrors.CodeInternal)
	}

	if code == "" && richErr.Category == goerrors.CategoryAuth {
		status = http.StatusUnauthorized
		code = http.StatusText(status)
	}

	if status >= http.StatusInternalServerError {
		logger.Error(
			"passport request failed",
			"error", richErr.Message,
			"category", richErr.Category,
			"path", path,
			"details", print.MaybePrettyJSON(richErr.Metadata),
		)
		return status, ErrorResponse{Error: "E_SERVER_ERROR"}
	}

	return status, ErrorResponse{Error: code, Message: richErr.Message}
}
