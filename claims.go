package passport

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// UserClaims are the claims signed into every issued token.
type UserClaims struct {
	jwt.RegisteredClaims
	User *User `json:"user"`
}

// UserID returns the subject as a uuid.
func (c *UserClaims) UserID() (uuid.UUID, error) {
	if c == nil {
		return uuid.Nil, ErrUserNotDefined.Clone()
	}
	return uuid.Parse(c.Subject)
}

func ensureTokenID(claims *jwt.RegisteredClaims) {
	if claims != nil && claims.ID == "" {
		claims.ID = uuid.NewString()
	}
}
