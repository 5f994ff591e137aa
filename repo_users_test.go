package passport_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-passport"
)

func TestUsersRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("create fills token and id", func(t *testing.T) {
		_, repo := newTestService(t, testOptions())

		user, err := repo.Users().Create(ctx, &passport.User{Username: " Dwight "})
		require.NoError(t, err)
		assert.NotEmpty(t, user.ID)
		assert.Contains(t, user.Token, "user_")
		assert.Equal(t, "dwight", user.Username)

		found, err := repo.Users().FindOne(ctx, passport.FieldUsername, "dwight")
		require.NoError(t, err)
		assert.Equal(t, user.ID, found.ID)

		byID, err := repo.Users().GetByID(ctx, user.ID.String())
		require.NoError(t, err)
		assert.Equal(t, user.Token, byID.Token)
	})

	t.Run("duplicate username is a validation error", func(t *testing.T) {
		_, repo := newTestService(t, testOptions())

		_, err := repo.Users().Create(ctx, &passport.User{Username: "jim"})
		require.NoError(t, err)

		_, err = repo.Users().Create(ctx, &passport.User{Username: "jim"})
		require.Error(t, err)
		assert.Equal(t, passport.TextCodeValidation, passport.ErrorCode(err))
		assert.Equal(t, http.StatusBadRequest, passport.HTTPStatus(err))

		var richErr *errors.Error
		require.True(t, errors.As(err, &richErr))
		assert.Equal(t, "jim", richErr.Metadata[passport.FieldUsername])
	})

	t.Run("duplicate email names the email", func(t *testing.T) {
		_, repo := newTestService(t, testOptions())

		_, err := repo.Users().Create(ctx, &passport.User{Email: "pam@dundermifflin.com"})
		require.NoError(t, err)

		_, err = repo.Users().Create(ctx, &passport.User{Email: "pam@dundermifflin.com"})
		var richErr *errors.Error
		require.True(t, errors.As(err, &richErr))
		assert.Equal(t, passport.TextCodeValidation, richErr.TextCode)
		assert.Equal(t, "pam@dundermifflin.com", richErr.Metadata[passport.FieldEmail])
	})

	t.Run("update columns clears values", func(t *testing.T) {
		_, repo := newTestService(t, testOptions())

		user, err := repo.Users().Create(ctx, &passport.User{Username: "jim", Recovery: "secret-1"})
		require.NoError(t, err)

		user.Recovery = ""
		_, err = repo.Users().UpdateColumns(ctx, user, "recovery")
		require.NoError(t, err)

		_, err = repo.Users().FindOne(ctx, passport.FieldRecovery, "secret-1")
		assert.Error(t, err)
	})

	t.Run("unsupported lookup field", func(t *testing.T) {
		_, repo := newTestService(t, testOptions())
		_, err := repo.Users().FindOne(ctx, "password", "x")
		assert.Equal(t, passport.TextCodeValidation, passport.ErrorCode(err))
	})
}
