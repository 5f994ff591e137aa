package social

import (
	"errors"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"golang.org/x/oauth2"
)

const (
	TextCodeTokenExchangeFail = "social_token_exchange_failed"
	TextCodeUserInfoFail      = "social_user_info_failed"
	TextCodeIDTokenInvalid    = "social_id_token_invalid"
	TextCodeUnsupported       = "social_protocol_unsupported"
)

// ErrTokenExchangeFailed is returned when a provider token exchange fails.
var ErrTokenExchangeFailed = goerrors.New("token exchange failed", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenExchangeFail).
	WithCode(goerrors.CodeUnauthorized)

// ErrUserInfoFailed is returned when fetching the profile fails.
var ErrUserInfoFailed = goerrors.New("failed to fetch user info", goerrors.CategoryAuth).
	WithTextCode(TextCodeUserInfoFail).
	WithCode(goerrors.CodeUnauthorized)

// ErrIDTokenInvalid is returned when an OpenID id_token is missing or fails
// verification.
var ErrIDTokenInvalid = goerrors.New("invalid id token", goerrors.CategoryAuth).
	WithTextCode(TextCodeIDTokenInvalid).
	WithCode(goerrors.CodeUnauthorized)

// ErrUnsupportedProtocol is returned for provider protocols this package
// cannot speak.
var ErrUnsupportedProtocol = goerrors.New("unsupported provider protocol", goerrors.CategoryValidation).
	WithTextCode(TextCodeUnsupported).
	WithCode(goerrors.CodeBadRequest)

// ProviderError describes a failed call to a provider endpoint.
type ProviderError struct {
	Provider    string
	Operation   string
	Status      int
	Description string
	Err         error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "provider call failed"
	}
	msg := strings.TrimSpace(e.Provider + " " + e.Operation + " failed")
	switch {
	case e.Description != "":
		msg += ": " + e.Description
	case e.Err != nil:
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Metadata lists the non empty details for go-errors metadata.
func (e *ProviderError) Metadata() map[string]any {
	meta := map[string]any{}
	if e == nil {
		return meta
	}
	for key, value := range map[string]string{
		"provider":    e.Provider,
		"operation":   e.Operation,
		"description": e.Description,
	} {
		if value != "" {
			meta[key] = value
		}
	}
	if e.Status > 0 {
		meta["status"] = e.Status
	}
	return meta
}

// providerError normalizes err into a ProviderError. Token endpoint
// failures keep the OAuth2 error code and HTTP status.
func providerError(provider, operation string, err error) *ProviderError {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr
	}

	out := &ProviderError{Provider: provider, Operation: operation, Err: err}
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		out.Description = firstNonEmpty(rerr.ErrorDescription, rerr.ErrorCode)
		if rerr.Response != nil {
			out.Status = rerr.Response.StatusCode
		}
	}
	return out
}

// wrapProviderError clones base and records the provider details of err.
func wrapProviderError(base *goerrors.Error, provider, operation string, err error) error {
	perr := providerError(provider, operation, err)

	clone := base.Clone()
	clone.Source = perr
	return clone.WithMetadata(perr.Metadata())
}
