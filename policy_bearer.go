package passport

import (
	"errors"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"
)

// ErrTokenMissingOrMalformed is returned when no extractor finds a token.
var ErrTokenMissingOrMalformed = errors.New("missing or malformed token")

// TokenExtractor pulls a raw token from a request.
type TokenExtractor func(c router.Context) (string, error)

// BearerConfig configures BearerPolicy.
type BearerConfig struct {
	// TokenLookup lists sources as "<source>:<name>" pairs, for example
	// "header:Authorization,query:access_token,cookie:jwt".
	TokenLookup string
	AuthScheme  string
	// Filter skips the policy when it returns true.
	Filter func(c router.Context) bool
}

const defaultTokenLookup = "header:" + router.HeaderAuthorization + ",query:access_token,cookie:jwt"

// BearerPolicy authenticates requests carrying a signed token. Failures
// answer 401 with the verifier's message; on success the token's user
// snapshot is stored in locals.
func BearerPolicy(tokens TokenValidator, config ...BearerConfig) router.MiddlewareFunc {
	cfg := BearerConfig{}
	if len(config) > 0 {
		cfg = config[0]
	}
	if cfg.TokenLookup == "" {
		cfg.TokenLookup = defaultTokenLookup
	}
	if cfg.AuthScheme == "" {
		cfg.AuthScheme = "Bearer"
	}
	extractors := GetExtractors(cfg.TokenLookup, cfg.AuthScheme)

	return func(hf router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) error {
			if cfg.Filter != nil && cfg.Filter(c) {
				return c.Next()
			}

			raw, err := extractToken(c, extractors)
			if err != nil {
				return c.JSON(router.StatusUnauthorized, ErrorResponse{
					Error:   "Unauthorized",
					Message: err.Error(),
				})
			}

			claims, err := tokens.Validate(raw)
			if err != nil {
				message := err.Error()
				var richErr *goerrors.Error
				if goerrors.As(err, &richErr) {
					message = richErr.Message
				}
				return c.JSON(router.StatusUnauthorized, ErrorResponse{
					Error:   "Unauthorized",
					Message: message,
				})
			}

			SetCurrentUser(c, claims.User)
			c.Locals("claims", claims)
			c.SetContext(WithClaimsContext(c.Context(), claims))
			return c.Next()
		}
	}
}

func extractToken(c router.Context, extractors []TokenExtractor) (string, error) {
	for _, extractor := range extractors {
		if token, err := extractor(c); err == nil && token != "" {
			return token, nil
		}
	}
	return "", ErrTokenMissingOrMalformed
}

// GetExtractors builds extractors from a lookup definition such as
// "header:Authorization,cookie:jwt,query:auth_token,param:token".
func GetExtractors(tokenLookup string, authSchemes ...string) []TokenExtractor {
	extractors := make([]TokenExtractor, 0)

	authScheme := "Bearer"
	if len(authSchemes) > 0 {
		authScheme = authSchemes[0]
	}

	for _, rootPart := range strings.Split(tokenLookup, ",") {
		parts := strings.Split(strings.TrimSpace(rootPart), ":")
		if len(parts) != 2 {
			continue
		}
		for i, el := range parts {
			parts[i] = strings.TrimSpace(el)
		}

		switch parts[0] {
		case "header":
			extractors = append(extractors, tokenFromHeader(parts[1], authScheme))
		case "query":
			extractors = append(extractors, tokenFromQuery(parts[1]))
		case "param":
			extractors = append(extractors, tokenFromParam(parts[1]))
		case "cookie":
			extractors = append(extractors, tokenFromCookie(parts[1]))
		}
	}

	return extractors
}

func tokenFromHeader(header string, authScheme string) TokenExtractor {
	authScheme = strings.TrimSpace(authScheme)
	return func(c router.Context) (string, error) {
		a := c.Header(header)
		l := len(authScheme)
		if len(a) > l+1 && strings.EqualFold(a[:l], authScheme) && a[l] == ' ' {
			return strings.TrimSpace(a[l:]), nil
		}
		return "", ErrTokenMissingOrMalformed
	}
}

func tokenFromQuery(param string) TokenExtractor {
	return func(c router.Context) (string, error) {
		if token := c.Query(param, ""); token != "" {
			return token, nil
		}
		return "", ErrTokenMissingOrMalformed
	}
}

func tokenFromParam(param string) TokenExtractor {
	return func(c router.Context) (string, error) {
		if token := c.Param(param, ""); token != "" {
			return token, nil
		}
		return "", ErrTokenMissingOrMalformed
	}
}

func tokenFromCookie(name string) TokenExtractor {
	return func(c router.Context) (string, error) {
		if token := c.Cookies(name, ""); token != "" {
			return token, nil
		}
		return "", ErrTokenMissingOrMalformed
	}
}
