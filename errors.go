package passport

import (
	"net/http"

	"github.com/goliatone/go-errors"
)

// Text codes carried by every lifecycle error.
const (
	TextCodeValidation               = "E_VALIDATION"
	TextCodeUserNotFound             = "E_USER_NOT_FOUND"
	TextCodeUserNotDefined           = "E_USER_NOT_DEFINED"
	TextCodeUserNoPassword           = "E_USER_NO_PASSWORD"
	TextCodeWrongPassword            = "E_WRONG_PASSWORD"
	TextCodeNoAvailablePassports     = "E_NO_AVAILABLE_PASSPORTS"
	TextCodeNoAvailableLocalPassport = "E_NO_AVAILABLE_LOCAL_PASSPORT"
	TextCodeRecoveryNotDefined       = "E_USER_RECOVERY_NOT_DEFINED"
	TextCodeFieldNameNotSpecified    = "E_FIELD_NAME_NOT_SPECIFIED"
	TextCodeNoProvider               = "E_NO_PROVIDER"
	TextCodeNoIdentifiableProfile    = "E_NO_IDENTIFIABLE_PROFILE"
)

// ErrValidation and friends are reference values for errors.Is style checks
// through IsCode. Operations build fresh errors with the helpers below.
var (
	ErrValidation               = validationError("invalid input")
	ErrUserNotFound             = userNotFound(nil)
	ErrUserNotDefined           = userNotDefined("user not defined")
	ErrUserNoPassword           = errors.New("user has no local password", errors.CategoryAuth).WithCode(errors.CodeUnauthorized).WithTextCode(TextCodeUserNoPassword)
	ErrWrongPassword            = errors.New("wrong password", errors.CategoryAuth).WithCode(errors.CodeUnauthorized).WithTextCode(TextCodeWrongPassword)
	ErrNoAvailablePassports     = errors.New("user has no credential records", errors.CategoryValidation).WithCode(errors.CodeBadRequest).WithTextCode(TextCodeNoAvailablePassports)
	ErrNoAvailableLocalPassport = errors.New("user has no local credential record", errors.CategoryValidation).WithCode(errors.CodeBadRequest).WithTextCode(TextCodeNoAvailableLocalPassport)
	ErrRecoveryNotDefined       = errors.New("recovery secret is required", errors.CategoryValidation).WithCode(errors.CodeBadRequest).WithTextCode(TextCodeRecoveryNotDefined)
	ErrFieldNameNotSpecified    = errors.New("identifying field name is required", errors.CategoryValidation).WithCode(errors.CodeBadRequest).WithTextCode(TextCodeFieldNameNotSpecified)
	ErrNoProvider               = errors.New("provider is required", errors.CategoryValidation).WithCode(errors.CodeBadRequest).WithTextCode(TextCodeNoProvider)
	ErrNoIdentifiableProfile    = errors.New("profile has neither email nor username", errors.CategoryValidation).WithCode(errors.CodeBadRequest).WithTextCode(TextCodeNoIdentifiableProfile)
)

func validationError(message string) *errors.Error {
	return errors.New(message, errors.CategoryValidation).
		WithCode(errors.CodeBadRequest).
		WithTextCode(TextCodeValidation)
}

func userNotFound(metadata map[string]any) *errors.Error {
	err := errors.New("user not found", errors.CategoryNotFound).
		WithCode(errors.CodeNotFound).
		WithTextCode(TextCodeUserNotFound)
	if metadata != nil {
		err = err.WithMetadata(metadata)
	}
	return err
}

func userNotDefined(message string) *errors.Error {
	return errors.New(message, errors.CategoryValidation).
		WithCode(errors.CodeBadRequest).
		WithTextCode(TextCodeUserNotDefined)
}

// newCodeError clones a reference error so callers never share the package
// level value.
func newCodeError(ref *errors.Error, metadata map[string]any) *errors.Error {
	err := ref.Clone()
	if metadata != nil {
		err = err.WithMetadata(metadata)
	}
	return err
}

// ErrorCode returns the text code carried by err, or "" when err is not a
// lifecycle error.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var richErr *errors.Error
	if errors.As(err, &richErr) {
		return richErr.TextCode
	}
	return ""
}

// IsCode reports whether err carries the given text code.
func IsCode(err error, code string) bool {
	return code != "" && ErrorCode(err) == code
}

// HTTPStatus maps an error to the status code used by the HTTP surface.
// Coded errors from other packages keep their 4xx status.
func HTTPStatus(err error) int {
	switch ErrorCode(err) {
	case TextCodeUserNotFound:
		return http.StatusNotFound
	case TextCodeValidation,
		TextCodeUserNotDefined,
		TextCodeRecoveryNotDefined,
		TextCodeFieldNameNotSpecified,
		TextCodeNoProvider,
		TextCodeNoIdentifiableProfile,
		TextCodeNoAvailablePassports,
		TextCodeNoAvailableLocalPassport:
		return http.StatusBadRequest
	case TextCodeWrongPassword, TextCodeUserNoPassword:
		return http.StatusUnauthorized
	}

	// errors raised outside the lifecycle keep their own status
	var richErr *errors.Error
	if errors.As(err, &richErr) && richErr.TextCode != "" &&
		richErr.Code >= http.StatusBadRequest && richErr.Code < http.StatusInternalServerError {
		return richErr.Code
	}
	return http.StatusInternalServerError
}

// asRichError keeps go-errors values untouched and wraps anything else as an
// internal error.
func asRichError(err error, message string) error {
	if err == nil {
		return nil
	}
	var richErr *errors.Error
	if errors.As(err, &richErr) {
		return richErr
	}
	return errors.Wrap(err, errors.CategoryInternal, message).WithCode(errors.CodeInternal)
}
