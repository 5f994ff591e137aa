package passport

import (
	"errors"

	goerrors "github.com/goliatone/go-errors"
	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost is the work factor used for password and recovery digests.
const DefaultBcryptCost = 10

// BcryptHasher implements PasswordHasher. Every Hash call uses a fresh salt.
type BcryptHasher struct {
	Cost int
}

// NewBcryptHasher returns a hasher with the given cost, or the default one
// when cost is out of bcrypt's range.
func NewBcryptHasher(cost int) BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultBcryptCost
	}
	return BcryptHasher{Cost: cost}
}

// Hash will generate a digest for plain
func (h BcryptHasher) Hash(plain string) (string, error) {
	if plain == "" {
		return "", validationError("password must not be empty")
	}
	cost := h.Cost
	if cost == 0 {
		cost = DefaultBcryptCost
	}
	digest, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}
	return string(digest), nil
}

// Compare reports whether plain matches digest. A mismatch is (false, nil);
// a malformed digest is (false, err).
func (h BcryptHasher) Compare(plain, digest string) (bool, error) {
	if err := bcrypt.CompareHashAndPassword([]byte(digest), []byte(plain)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// VerifyCredential checks password against a local credential record.
func VerifyCredential(hasher PasswordHasher, record *CredentialRecord, password string) error {
	if record == nil || record.PasswordHash == "" {
		return newCodeError(ErrUserNoPassword, nil)
	}

	ok, err := hasher.Compare(password, record.PasswordHash)
	if err != nil || !ok {
		return newCodeError(ErrWrongPassword, nil)
	}
	return nil
}
