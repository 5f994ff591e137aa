// Package config loads the passportd configuration from a YAML file and
// PASSPORT_* environment variables.
package config

import (
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/goliatone/go-errors"
	"gopkg.in/yaml.v3"

	"github.com/goliatone/go-passport"
	"github.com/goliatone/go-passport/storage"
)

// PathEnv names the variable consulted when Load gets no path.
const PathEnv = "PASSPORT_CONFIG"

// Config is the server configuration.
type Config struct {
	Server   ServerConfig     `yaml:"server"`
	Database storage.Config   `yaml:"database"`
	Email    EmailConfig      `yaml:"email"`
	Passport passport.Options `yaml:"passport"`
}

// ServerConfig holds the listener settings.
type ServerConfig struct {
	Address     string `yaml:"address" env:"PASSPORT_ADDRESS"`
	GRPCAddress string `yaml:"grpc_address" env:"PASSPORT_GRPC_ADDRESS"`
	MetricsPath string `yaml:"metrics_path" env:"PASSPORT_METRICS_PATH"`
	// BasicAuth protects the API with user:password credentials in addition
	// to bearer tokens.
	BasicAuth bool `yaml:"basic_auth" env:"PASSPORT_BASIC_AUTH"`
}

// EmailConfig selects the account email behavior.
type EmailConfig struct {
	Welcome bool `yaml:"welcome" env:"PASSPORT_EMAIL_WELCOME"`
	Recover bool `yaml:"recover" env:"PASSPORT_EMAIL_RECOVER"`
}

// Defaults returns a development configuration: in-memory database and
// every passport default.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Address:     ":8080",
			MetricsPath: "/metrics",
		},
		Database: storage.MemoryConfig(),
		Passport: passport.DefaultOptions(),
	}
}

// Load builds the configuration. Defaults come first, then the YAML file at
// path (or $PASSPORT_CONFIG), then environment overrides.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path == "" {
		path = os.Getenv(PathEnv)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, errors.CategoryInternal, "failed to read config file "+path)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, errors.Wrap(err, errors.CategoryValidation, "failed to parse config file "+path)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, errors.Wrap(err, errors.CategoryValidation, "failed to parse environment")
	}
	applyProviderSecrets(&cfg.Passport)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyProviderSecrets reads PASSPORT_PROVIDER_<NAME>_CLIENT_SECRET for
// every configured provider.
func applyProviderSecrets(opts *passport.Options) {
	for i := range opts.Protocols {
		name := opts.Protocols[i].Name
		if name == "" {
			name = opts.Protocols[i].Preset
		}
		if name == "" {
			continue
		}
		key := "PASSPORT_PROVIDER_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_")) + "_CLIENT_SECRET"
		if secret, ok := os.LookupEnv(key); ok {
			opts.Protocols[i].ClientSecret = secret
		}
	}
}

// Validate checks the server settings and the passport options.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c.Server,
		validation.Field(&c.Server.Address, validation.Required),
	)
	if err == nil {
		err = validation.ValidateStruct(&c.Database,
			validation.Field(&c.Database.Driver, validation.In("", storage.DriverSQLite, "sqlite3", storage.DriverPostgres, "pgx")),
		)
	}
	if err != nil {
		return errors.Wrap(err, errors.CategoryValidation, "invalid configuration").
			WithTextCode(passport.TextCodeValidation)
	}
	return c.Passport.Validate()
}

// PassportOptions returns the options handed to passport.NewService.
func (c Config) PassportOptions() passport.Options {
	return c.Passport
}
