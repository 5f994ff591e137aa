package passport

import (
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-errors"
)

// TokenService signs and verifies user tokens.
type TokenService struct {
	secret    []byte
	method    jwt.SigningMethod
	expiresIn time.Duration
	issuer    string
	audience  jwt.ClaimStrings
	logger    Logger
}

var (
	_ TokenIssuer    = (*TokenService)(nil)
	_ TokenValidator = (*TokenService)(nil)
)

// NewTokenService creates a new TokenService instance
func NewTokenService(opts TokenOptions, logger Logger) (*TokenService, error) {
	if logger == nil {
		logger = defLogger{}
	}

	if opts.Secret == "" {
		return nil, errors.New("token secret is required", errors.CategoryValidation).
			WithTextCode(TextCodeValidation)
	}

	alg := opts.Algorithm
	if alg == "" {
		alg = "HS256"
	}
	if !slices.Contains(SigningAlgorithms, alg) {
		return nil, errors.New(fmt.Sprintf("unsupported signing algorithm %q", alg), errors.CategoryValidation).
			WithTextCode(TextCodeValidation)
	}

	return &TokenService{
		secret:    []byte(opts.Secret),
		method:    jwt.GetSigningMethod(alg),
		expiresIn: time.Duration(opts.ExpiresInSeconds) * time.Second,
		issuer:    opts.Issuer,
		audience:  jwt.ClaimStrings(slices.Clone(opts.Audience)),
		logger:    logger,
	}, nil
}

// Issue signs a token carrying a public snapshot of user.
func (ts *TokenService) Issue(user *User) (string, error) {
	if user == nil {
		return "", ErrUserNotDefined.Clone()
	}

	now := time.Now()
	claims := &UserClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   ts.issuer,
			Subject:  user.ID.String(),
			Audience: ts.audience,
			IssuedAt: jwt.NewNumericDate(now),
		},
		User: user.Snapshot(),
	}
	if ts.expiresIn > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ts.expiresIn))
	}

	ensureTokenID(&claims.RegisteredClaims)

	token := jwt.NewWithClaims(ts.method, claims)

	signedString, err := token.SignedString(ts.secret)
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to sign JWT")
	}

	return signedString, nil
}

// Validate parses and validates a token string, returning structured claims
func (ts *TokenService) Validate(tokenString string) (*UserClaims, error) {
	parserOptions := []jwt.ParserOption{
		jwt.WithValidMethods([]string{ts.method.Alg()}),
	}
	if ts.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(ts.issuer))
	}
	if len(ts.audience) > 0 {
		parserOptions = append(parserOptions, jwt.WithAudience(ts.audience...))
	}

	token, err := jwt.ParseWithClaims(tokenString, &UserClaims{}, func(t *jwt.Token) (any, error) {
		return ts.secret, nil
	}, parserOptions...)

	if err != nil {
		ts.logger.Debug("token validation failed", "error", err)
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, errors.Wrap(err, errors.CategoryAuth, "token is expired").
				WithCode(errors.CodeUnauthorized)
		}
		return nil, errors.Wrap(err, errors.CategoryAuth, "token is invalid").
			WithCode(errors.CodeUnauthorized)
	}

	if claims, ok := token.Claims.(*UserClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("unable to decode token claims", errors.CategoryAuth).
		WithCode(errors.CodeUnauthorized)
}
