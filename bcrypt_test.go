package passport_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-passport"
)

func TestBcryptHasher(t *testing.T) {
	hasher := passport.NewBcryptHasher(4)

	t.Run("hash and compare", func(t *testing.T) {
		digest, err := hasher.Hash("adminadmin")
		require.NoError(t, err)
		assert.NotEqual(t, "adminadmin", digest)

		ok, err := hasher.Compare("adminadmin", digest)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = hasher.Compare("wrong", digest)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("salts every digest", func(t *testing.T) {
		a, err := hasher.Hash("same")
		require.NoError(t, err)
		b, err := hasher.Hash("same")
		require.NoError(t, err)
		assert.NotEqual(t, a, b)
	})

	t.Run("malformed digest fails without panicking", func(t *testing.T) {
		ok, err := hasher.Compare("adminadmin", "not-a-digest")
		assert.Error(t, err)
		assert.False(t, ok)
	})

	t.Run("empty password is rejected", func(t *testing.T) {
		_, err := hasher.Hash("")
		assert.Equal(t, passport.TextCodeValidation, passport.ErrorCode(err))
	})

	t.Run("out of range cost falls back to default", func(t *testing.T) {
		assert.Equal(t, passport.DefaultBcryptCost, passport.NewBcryptHasher(99).Cost)
	})
}

func TestVerifyCredential(t *testing.T) {
	hasher := passport.NewBcryptHasher(4)
	digest, err := hasher.Hash("secret")
	require.NoError(t, err)

	record := &passport.CredentialRecord{Protocol: passport.ProtocolLocal, PasswordHash: digest}

	assert.NoError(t, passport.VerifyCredential(hasher, record, "secret"))
	assert.Equal(t, passport.TextCodeWrongPassword, passport.ErrorCode(passport.VerifyCredential(hasher, record, "nope")))

	noPassword := &passport.CredentialRecord{Protocol: passport.ProtocolLocal}
	assert.Equal(t, passport.TextCodeUserNoPassword, passport.ErrorCode(passport.VerifyCredential(hasher, noPassword, "secret")))

	broken := &passport.CredentialRecord{Protocol: passport.ProtocolLocal, PasswordHash: "garbage"}
	assert.Equal(t, passport.TextCodeWrongPassword, passport.ErrorCode(passport.VerifyCredential(hasher, broken, "secret")))
}
