package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-passport"
	"github.com/goliatone/go-passport/config"
	"github.com/goliatone/go-passport/storage"
)

const sampleConfig = `
server:
  address: ":9000"
  grpc_address: ":9001"
database:
  driver: sqlite
  dsn: "file:passport.db"
email:
  recover: true
passport:
  redirect:
    login: /dashboard
    logout: /bye
    recover: /check-your-inbox
  token:
    secret: from-file
    issuer: passportd
    audience: [web, cli]
  events:
    user.login: false
  recovery:
    expose_secret: false
  protocols:
    - preset: github
      client_id: gh-client
    - name: corp-sso
      protocol: openid
      client_id: corp
      auth_url: https://sso.example.com/authorize
      token_url: https://sso.example.com/token
      jwks_url: https://sso.example.com/jwks
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "passport.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFile(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Address)
	assert.Equal(t, ":9001", cfg.Server.GRPCAddress)
	assert.Equal(t, "/metrics", cfg.Server.MetricsPath)
	assert.Equal(t, storage.DriverSQLite, cfg.Database.Driver)
	assert.True(t, cfg.Email.Recover)
	assert.False(t, cfg.Email.Welcome)

	opts := cfg.PassportOptions()
	assert.Equal(t, "/dashboard", opts.Redirect.Login)
	assert.Equal(t, "from-file", opts.Token.Secret)
	assert.Equal(t, "HS256", opts.Token.Algorithm)
	assert.Equal(t, 3600, opts.Token.ExpiresInSeconds)
	assert.Equal(t, []string{"web", "cli"}, opts.Token.Audience)
	assert.False(t, opts.Recovery.ExposeSecret)
	assert.False(t, opts.Events[passport.EventUserLogin])
	assert.True(t, opts.Events[passport.EventUserRegistered])
	require.Len(t, opts.Protocols, 2)
	assert.Equal(t, "github", opts.Protocols[0].Preset)
	assert.Equal(t, passport.ProtocolOpenID, opts.Protocols[1].Protocol)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PASSPORT_ADDRESS", ":7000")
	t.Setenv("PASSPORT_TOKEN_SECRET", "from-env")
	t.Setenv("PASSPORT_TOKEN_AUDIENCE", "a,b,c")
	t.Setenv("PASSPORT_BCRYPT_COST", "6")
	t.Setenv("PASSPORT_PROVIDER_GITHUB_CLIENT_SECRET", "gh-secret")
	t.Setenv("PASSPORT_PROVIDER_CORP_SSO_CLIENT_SECRET", "corp-secret")

	cfg, err := config.Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.Server.Address)
	assert.Equal(t, "from-env", cfg.Passport.Token.Secret)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.Passport.Token.Audience)
	assert.Equal(t, 6, cfg.Passport.BcryptCost)
	assert.Equal(t, "gh-secret", cfg.Passport.Protocols[0].ClientSecret)
	assert.Equal(t, "corp-secret", cfg.Passport.Protocols[1].ClientSecret)
}

func TestLoadFromPathEnv(t *testing.T) {
	t.Setenv(config.PathEnv, writeConfig(t, sampleConfig))

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Server.Address)
}

func TestLoadErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("bad yaml", func(t *testing.T) {
		_, err := config.Load(writeConfig(t, "server: [:"))
		assert.Error(t, err)
	})

	t.Run("missing secret", func(t *testing.T) {
		_, err := config.Load(writeConfig(t, "server:\n  address: \":1\"\n"))
		assert.Equal(t, passport.TextCodeValidation, passport.ErrorCode(err))
	})

	t.Run("bad driver", func(t *testing.T) {
		_, err := config.Load(writeConfig(t, "database:\n  driver: oracle\npassport:\n  token:\n    secret: x\n"))
		assert.Equal(t, passport.TextCodeValidation, passport.ErrorCode(err))
	})

	t.Run("bad env value", func(t *testing.T) {
		t.Setenv("PASSPORT_BCRYPT_COST", "lots")
		_, err := config.Load(writeConfig(t, sampleConfig))
		assert.Error(t, err)
	})
}
