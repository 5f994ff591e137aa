package passport_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-passport"
)

func TestNewService(t *testing.T) {
	t.Run("requires a repository", func(t *testing.T) {
		_, err := passport.NewService(nil, testOptions())
		assert.Error(t, err)
	})

	t.Run("requires a token secret", func(t *testing.T) {
		_, repo := newTestService(t, testOptions())
		opts := testOptions()
		opts.Token.Secret = ""
		_, err := passport.NewService(repo, opts)
		assert.Equal(t, passport.TextCodeValidation, passport.ErrorCode(err))
	})

	t.Run("rejects an unknown signing algorithm", func(t *testing.T) {
		_, repo := newTestService(t, testOptions())
		opts := testOptions()
		opts.Token.Algorithm = "none"
		_, err := passport.NewService(repo, opts)
		assert.Error(t, err)
	})

	t.Run("owns a copy of the options", func(t *testing.T) {
		opts := testOptions()
		svc, _ := newTestService(t, opts)

		opts.Redirect.Login = "/changed"
		opts.Events[passport.EventUserLogin] = false

		got := svc.Options()
		assert.Equal(t, "/", got.Redirect.Login)
		assert.True(t, got.Events[passport.EventUserLogin])
	})
}

func TestPasswordLifecycle(t *testing.T) {
	ctx := context.Background()
	events := &capturingPublisher{}
	svc, _ := newTestService(t, testOptions(), passport.WithEventPublisher(events))

	user := registerJim(t, svc)
	assert.Equal(t, "jim", user.Username)
	assert.NotEmpty(t, user.Token)

	loggedIn, err := svc.Login(ctx, passport.FieldUsername, "JIM", "adminadmin")
	require.NoError(t, err)
	assert.Equal(t, user.ID, loggedIn.ID)

	_, err = svc.Login(ctx, passport.FieldUsername, "jim", "wrong")
	assert.Equal(t, passport.TextCodeWrongPassword, passport.ErrorCode(err))

	recovering, err := svc.Recover(ctx, passport.FieldUsername, "jim")
	require.NoError(t, err)
	require.NotEmpty(t, recovering.Recovery)

	reset, err := svc.ResetWithRecovery(ctx, recovering.Recovery, "newpassword")
	require.NoError(t, err)
	assert.Equal(t, user.ID, reset.ID)
	assert.Empty(t, reset.Recovery)

	_, err = svc.Login(ctx, passport.FieldUsername, "jim", "adminadmin")
	assert.Equal(t, passport.TextCodeWrongPassword, passport.ErrorCode(err))

	_, err = svc.Login(ctx, passport.FieldUsername, "jim", "newpassword")
	require.NoError(t, err)

	// a recovery secret works once
	_, err = svc.ResetWithRecovery(ctx, recovering.Recovery, "another")
	assert.Equal(t, passport.TextCodeUserNotFound, passport.ErrorCode(err))

	assert.Equal(t, []passport.EventType{
		passport.EventUserRegistered,
		passport.EventUserLogin,
		passport.EventUserPasswordRecover,
		passport.EventUserPasswordUpdated,
		passport.EventUserPasswordReset,
		passport.EventUserLogin,
	}, events.types())
}

func TestRegister(t *testing.T) {
	ctx := context.Background()

	t.Run("identifier is routed by shape", func(t *testing.T) {
		svc, _ := newTestService(t, testOptions())

		byEmail, err := svc.Register(ctx, passport.RegisterInput{Identifier: "Jim@Example.com", Password: "secret"})
		require.NoError(t, err)
		assert.Equal(t, "jim@example.com", byEmail.Email)
		assert.Empty(t, byEmail.Username)

		byName, err := svc.Register(ctx, passport.RegisterInput{Identifier: "pam", Password: "secret"})
		require.NoError(t, err)
		assert.Equal(t, "pam", byName.Username)

		_, err = svc.Login(ctx, passport.FieldEmail, "jim@example.com", "secret")
		assert.NoError(t, err)
	})

	t.Run("needs an identifying field", func(t *testing.T) {
		svc, _ := newTestService(t, testOptions())
		_, err := svc.Register(ctx, passport.RegisterInput{Password: "secret"})
		assert.Equal(t, passport.TextCodeValidation, passport.ErrorCode(err))
	})

	t.Run("needs a password", func(t *testing.T) {
		svc, _ := newTestService(t, testOptions())
		_, err := svc.Register(ctx, passport.RegisterInput{Username: "jim"})
		assert.Equal(t, passport.TextCodeValidation, passport.ErrorCode(err))
	})

	t.Run("rejects a malformed email", func(t *testing.T) {
		svc, _ := newTestService(t, testOptions())
		_, err := svc.Register(ctx, passport.RegisterInput{Email: "not-an-email", Password: "secret"})
		assert.Equal(t, passport.TextCodeValidation, passport.ErrorCode(err))
	})

	t.Run("rejects a taken username", func(t *testing.T) {
		svc, _ := newTestService(t, testOptions())
		registerJim(t, svc)
		_, err := svc.Register(ctx, passport.RegisterInput{Username: "Jim", Password: "other"})
		assert.Equal(t, passport.TextCodeValidation, passport.ErrorCode(err))
	})

	t.Run("rejects a taken email", func(t *testing.T) {
		svc, _ := newTestService(t, testOptions())
		_, err := svc.Register(ctx, passport.RegisterInput{Email: "pam@dundermifflin.com", Password: "secret"})
		require.NoError(t, err)

		_, err = svc.Register(ctx, passport.RegisterInput{Username: "pam", Email: "PAM@dundermifflin.com", Password: "other"})
		assert.Equal(t, passport.TextCodeValidation, passport.ErrorCode(err))
		assert.Equal(t, http.StatusBadRequest, passport.HTTPStatus(err))
	})

	t.Run("deterministic ids", func(t *testing.T) {
		opts := testOptions()
		opts.DeterministicIDs = true

		first, _ := newTestService(t, opts)
		second, _ := newTestService(t, opts)

		a := registerJim(t, first)
		b := registerJim(t, second)
		assert.Equal(t, a.ID, b.ID)
	})

	t.Run("hook failure rolls back the registration", func(t *testing.T) {
		opts := testOptions()
		opts.Hooks.OnUserLogin = passport.SingleHook(func(ctx context.Context, u passport.User) (passport.Patch, error) {
			return nil, errHookFailed
		})
		svc, repo := newTestService(t, opts)

		_, err := svc.Register(ctx, passport.RegisterInput{Username: "jim", Password: "secret"})
		require.Error(t, err)

		_, err = repo.Users().FindOne(ctx, passport.FieldUsername, "jim")
		assert.Error(t, err)
	})

	t.Run("hook patches are returned", func(t *testing.T) {
		opts := testOptions()
		opts.Hooks.OnUserLogin = passport.SingleHook(func(ctx context.Context, u passport.User) (passport.Patch, error) {
			return passport.Patch{"welcome": "hello " + u.Username}, nil
		})
		svc, _ := newTestService(t, opts)

		user := registerJim(t, svc)
		assert.Equal(t, "hello jim", user.Extras["welcome"])
	})
}

func TestLogin(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, testOptions())
	registerJim(t, svc)

	tests := []struct {
		name     string
		field    string
		value    string
		password string
		code     string
	}{
		{"missing field", "", "jim", "adminadmin", passport.TextCodeFieldNameNotSpecified},
		{"unsupported field", "token", "jim", "adminadmin", passport.TextCodeValidation},
		{"unknown user", passport.FieldUsername, "pam", "adminadmin", passport.TextCodeUserNotFound},
		{"wrong password", passport.FieldUsername, "jim", "nope", passport.TextCodeWrongPassword},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Login(ctx, tt.field, tt.value, tt.password)
			assert.Equal(t, tt.code, passport.ErrorCode(err))
		})
	}

	t.Run("user without a local credential", func(t *testing.T) {
		_, err := svc.LinkExternal(ctx, nil, passport.ExternalProfile{
			Provider:   "github",
			Identifier: "gh-1",
			Username:   "octo",
		})
		require.NoError(t, err)

		_, err = svc.Login(ctx, passport.FieldUsername, "octo", "anything")
		assert.Equal(t, passport.TextCodeUserNoPassword, passport.ErrorCode(err))
	})
}

func TestLogout(t *testing.T) {
	ctx := context.Background()

	t.Run("hook errors are swallowed", func(t *testing.T) {
		logger := &MockLogger{}
		logger.On("Error", mock.Anything, mock.Anything).Return()
		logger.On("Debug", mock.Anything, mock.Anything).Return().Maybe()

		opts := testOptions()
		opts.Hooks.OnUserLogout = passport.SingleHook(func(ctx context.Context, u passport.User) (passport.Patch, error) {
			return nil, errHookFailed
		})
		svc, _ := newTestService(t, opts, passport.WithLogger(logger))

		user := &passport.User{Username: "jim"}
		assert.Same(t, user, svc.Logout(ctx, user))
		logger.AssertCalled(t, "Error", "logout hook failed", mock.Anything)
	})

	t.Run("patches are applied", func(t *testing.T) {
		opts := testOptions()
		opts.Hooks.OnUserLogout = passport.SingleHook(func(ctx context.Context, u passport.User) (passport.Patch, error) {
			return passport.Patch{"bye": true}, nil
		})
		svc, _ := newTestService(t, opts)

		out := svc.Logout(ctx, &passport.User{Username: "jim"})
		assert.Equal(t, true, out.Extras["bye"])
	})

	t.Run("nil user", func(t *testing.T) {
		svc, _ := newTestService(t, testOptions())
		assert.Nil(t, svc.Logout(ctx, nil))
	})
}

func TestConnectDisconnect(t *testing.T) {
	ctx := context.Background()
	svc, repo := newTestService(t, testOptions())

	octo, err := svc.LinkExternal(ctx, nil, passport.ExternalProfile{
		Provider:   "github",
		Identifier: "gh-7",
		Email:      "octo@example.com",
	})
	require.NoError(t, err)

	t.Run("connect needs a password for a new record", func(t *testing.T) {
		_, err := svc.Connect(ctx, passport.ByID(octo.ID), "")
		assert.Equal(t, passport.TextCodeValidation, passport.ErrorCode(err))
	})

	t.Run("connect creates a local record", func(t *testing.T) {
		record, err := svc.Connect(ctx, passport.ByID(octo.ID), "secret")
		require.NoError(t, err)
		assert.True(t, record.IsLocal())

		_, err = svc.Login(ctx, passport.FieldEmail, "octo@example.com", "secret")
		assert.NoError(t, err)
	})

	t.Run("connect keeps an existing record", func(t *testing.T) {
		record, err := svc.Connect(ctx, passport.ByID(octo.ID), "other")
		require.NoError(t, err)
		assert.True(t, record.IsLocal())

		_, err = svc.Login(ctx, passport.FieldEmail, "octo@example.com", "secret")
		assert.NoError(t, err)
	})

	t.Run("disconnect removes the provider record", func(t *testing.T) {
		require.NoError(t, svc.Disconnect(ctx, passport.ByID(octo.ID), "github"))

		records, err := repo.Credentials().FindByUser(ctx, octo.ID)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.True(t, records[0].IsLocal())
	})

	t.Run("disconnect of a missing record", func(t *testing.T) {
		err := svc.Disconnect(ctx, passport.ByID(octo.ID), "github")
		assert.Equal(t, passport.TextCodeUserNoPassword, passport.ErrorCode(err))
	})

	t.Run("disconnect local", func(t *testing.T) {
		require.NoError(t, svc.Disconnect(ctx, passport.ByID(octo.ID), passport.ProtocolLocal))
		_, err := svc.Login(ctx, passport.FieldEmail, "octo@example.com", "secret")
		assert.Equal(t, passport.TextCodeUserNoPassword, passport.ErrorCode(err))
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := svc.Connect(ctx, passport.ByToken("user_missing"), "secret")
		assert.Equal(t, passport.TextCodeUserNotFound, passport.ErrorCode(err))
	})
}

func TestUpdateLocalPassword(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, testOptions())
	jim := registerJim(t, svc)

	t.Run("updates the digest", func(t *testing.T) {
		_, err := svc.UpdateLocalPassword(ctx, passport.ByValue(jim.Token), "changed")
		require.NoError(t, err)
		_, err = svc.Login(ctx, passport.FieldUsername, "jim", "changed")
		assert.NoError(t, err)
	})

	t.Run("empty password", func(t *testing.T) {
		_, err := svc.UpdateLocalPassword(ctx, passport.ByID(jim.ID), "")
		assert.Equal(t, passport.TextCodeValidation, passport.ErrorCode(err))
	})

	t.Run("user with only a provider record", func(t *testing.T) {
		octo, err := svc.LinkExternal(ctx, nil, passport.ExternalProfile{Provider: "github", Identifier: "gh-9", Username: "octo"})
		require.NoError(t, err)

		_, err = svc.UpdateLocalPassword(ctx, passport.ByID(octo.ID), "secret")
		assert.Equal(t, passport.TextCodeNoAvailableLocalPassport, passport.ErrorCode(err))
	})

	t.Run("user without records", func(t *testing.T) {
		octo, err := svc.LinkExternal(ctx, nil, passport.ExternalProfile{Provider: "gitlab", Identifier: "gl-1", Username: "lonely"})
		require.NoError(t, err)
		require.NoError(t, svc.Disconnect(ctx, passport.ByID(octo.ID), "gitlab"))

		_, err = svc.UpdateLocalPassword(ctx, passport.ByID(octo.ID), "secret")
		assert.Equal(t, passport.TextCodeNoAvailablePassports, passport.ErrorCode(err))
	})
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	events := &capturingPublisher{}
	svc, _ := newTestService(t, testOptions(), passport.WithEventPublisher(events))
	jim := registerJim(t, svc)

	_, err := svc.Reset(ctx, passport.UserRef{}, "secret")
	assert.Equal(t, passport.TextCodeUserNotDefined, passport.ErrorCode(err))

	user, err := svc.Reset(ctx, passport.ByInstance(jim), "secret")
	require.NoError(t, err)
	assert.Equal(t, jim.ID, user.ID)

	_, err = svc.Login(ctx, passport.FieldUsername, "jim", "secret")
	assert.NoError(t, err)

	assert.Contains(t, events.types(), passport.EventUserPasswordReset)
}

func TestRecover(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown user looks like a validation failure", func(t *testing.T) {
		svc, _ := newTestService(t, testOptions())
		_, err := svc.Recover(ctx, passport.FieldUsername, "nobody")
		assert.Equal(t, passport.TextCodeValidation, passport.ErrorCode(err))
	})

	t.Run("missing field", func(t *testing.T) {
		svc, _ := newTestService(t, testOptions())
		_, err := svc.Recover(ctx, "", "jim")
		assert.Equal(t, passport.TextCodeValidation, passport.ErrorCode(err))
	})

	t.Run("recover hooks see the secret", func(t *testing.T) {
		var seen string
		opts := testOptions()
		opts.Hooks.OnUserRecover = passport.SingleHook(func(ctx context.Context, u passport.User) (passport.Patch, error) {
			seen = u.Recovery
			return nil, nil
		})
		svc, _ := newTestService(t, opts)
		registerJim(t, svc)

		user, err := svc.Recover(ctx, passport.FieldUsername, "jim")
		require.NoError(t, err)
		assert.Equal(t, user.Recovery, seen)
	})

	t.Run("reset requires a secret", func(t *testing.T) {
		svc, _ := newTestService(t, testOptions())
		_, err := svc.ResetWithRecovery(ctx, "", "secret")
		assert.Equal(t, passport.TextCodeRecoveryNotDefined, passport.ErrorCode(err))
	})

	t.Run("reset requires a password", func(t *testing.T) {
		svc, _ := newTestService(t, testOptions())
		_, err := svc.ResetWithRecovery(ctx, "secret", "")
		assert.Equal(t, passport.TextCodeValidation, passport.ErrorCode(err))
	})

	t.Run("recovered hooks run after reset", func(t *testing.T) {
		opts := testOptions()
		opts.Hooks.OnUserRecovered = passport.SingleHook(func(ctx context.Context, u passport.User) (passport.Patch, error) {
			return passport.Patch{"recovered": true}, nil
		})
		svc, _ := newTestService(t, opts)
		registerJim(t, svc)

		user, err := svc.Recover(ctx, passport.FieldUsername, "jim")
		require.NoError(t, err)

		out, err := svc.ResetWithRecovery(ctx, user.Recovery, "fresh")
		require.NoError(t, err)
		assert.Equal(t, true, out.Extras["recovered"])
	})
}

func TestEvents(t *testing.T) {
	ctx := context.Background()

	t.Run("disabled events are not published", func(t *testing.T) {
		events := &capturingPublisher{}
		opts := testOptions()
		opts.Events[passport.EventUserLogin] = false
		svc, _ := newTestService(t, opts, passport.WithEventPublisher(events))

		registerJim(t, svc)
		_, err := svc.Login(ctx, passport.FieldUsername, "jim", "adminadmin")
		require.NoError(t, err)

		assert.Equal(t, []passport.EventType{passport.EventUserRegistered}, events.types())
	})

	t.Run("publish failures never fail the operation", func(t *testing.T) {
		events := &capturingPublisher{err: errors.New("broker down")}
		svc, _ := newTestService(t, testOptions(), passport.WithEventPublisher(events))

		user := registerJim(t, svc)
		assert.NotNil(t, user)
		assert.Len(t, events.types(), 1)
	})

	t.Run("events carry a public snapshot", func(t *testing.T) {
		events := &capturingPublisher{}
		svc, _ := newTestService(t, testOptions(), passport.WithEventPublisher(events))
		registerJim(t, svc)

		_, err := svc.Recover(ctx, passport.FieldUsername, "jim")
		require.NoError(t, err)

		for _, evt := range events.events {
			assert.Equal(t, "user", evt.Object)
			assert.NotEmpty(t, evt.ObjectID)
			assert.Empty(t, evt.Data.Recovery)
		}
	})
}
