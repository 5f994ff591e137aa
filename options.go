package passport

import (
	"context"
	"maps"
	"slices"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
)

// Supported token signing algorithms.
var SigningAlgorithms = []string{"HS256", "HS384", "HS512"}

// RedirectOptions are the targets used by the HTTP surface.
type RedirectOptions struct {
	Login   string `yaml:"login" json:"login" env:"PASSPORT_REDIRECT_LOGIN"`
	Logout  string `yaml:"logout" json:"logout" env:"PASSPORT_REDIRECT_LOGOUT"`
	Recover string `yaml:"recover" json:"recover" env:"PASSPORT_REDIRECT_RECOVER"`
}

// LocalOptions configure password login.
type LocalOptions struct {
	// UsernameField forces the identifying field for local login. When empty
	// the field is detected from the payload.
	UsernameField string `yaml:"username_field" json:"username_field" env:"PASSPORT_LOCAL_USERNAME_FIELD"`
}

// TokenOptions configure the token issuer.
type TokenOptions struct {
	Secret           string   `yaml:"secret" json:"-" env:"PASSPORT_TOKEN_SECRET"`
	Algorithm        string   `yaml:"algorithm" json:"algorithm" env:"PASSPORT_TOKEN_ALGORITHM"`
	ExpiresInSeconds int      `yaml:"expires_in_seconds" json:"expires_in_seconds" env:"PASSPORT_TOKEN_EXPIRES_IN"`
	Issuer           string   `yaml:"issuer" json:"issuer" env:"PASSPORT_TOKEN_ISSUER"`
	Audience         []string `yaml:"audience" json:"audience" env:"PASSPORT_TOKEN_AUDIENCE"`
}

// ProtocolOptions describe one third party provider.
type ProtocolOptions struct {
	Name         string            `yaml:"name" json:"name"`
	Protocol     string            `yaml:"protocol" json:"protocol"`
	Preset       string            `yaml:"preset" json:"preset"`
	ClientID     string            `yaml:"client_id" json:"client_id"`
	ClientSecret string            `yaml:"client_secret" json:"-"`
	CallbackURL  string            `yaml:"callback_url" json:"callback_url"`
	Scopes       []string          `yaml:"scopes" json:"scopes"`
	AuthURL      string            `yaml:"auth_url" json:"auth_url"`
	TokenURL     string            `yaml:"token_url" json:"token_url"`
	UserInfoURL  string            `yaml:"userinfo_url" json:"userinfo_url"`
	Issuer       string            `yaml:"issuer" json:"issuer"`
	JWKSURL      string            `yaml:"jwks_url" json:"jwks_url"`
	Fields       map[string]string `yaml:"fields" json:"fields"`
}

// SessionOptions configure the signed session cookie. An empty Secret
// derives the signing key from the token secret.
type SessionOptions struct {
	CookieName string `yaml:"cookie_name" json:"cookie_name" env:"PASSPORT_SESSION_COOKIE"`
	Secret     string `yaml:"secret" json:"-" env:"PASSPORT_SESSION_SECRET"`
	TTLSeconds int    `yaml:"ttl_seconds" json:"ttl_seconds" env:"PASSPORT_SESSION_TTL"`
	Secure     bool   `yaml:"secure" json:"secure" env:"PASSPORT_SESSION_SECURE"`
}

// RecoveryOptions control the recovery flow.
type RecoveryOptions struct {
	// ExposeSecret returns the recovery secret in the HTTP response. Turn it
	// off once the secret is delivered out of band (email.RecoverHook).
	ExposeSecret bool `yaml:"expose_secret" json:"expose_secret" env:"PASSPORT_RECOVERY_EXPOSE_SECRET"`
}

// HookOptions hold the lifecycle hook chains.
type HookOptions struct {
	OnUserLogin     HookChain
	OnUserLogout    HookChain
	OnUserRecover   HookChain
	OnUserRecovered HookChain
}

// MergeProfileFunc shapes the user created for a new third party identity.
type MergeProfileFunc func(ctx context.Context, base *User, profile ExternalProfile) (*User, error)

// Options is the service configuration. NewService keeps its own copy, so
// later changes to the caller's value have no effect.
type Options struct {
	Redirect         RedirectOptions    `yaml:"redirect" json:"redirect"`
	Local            LocalOptions       `yaml:"local" json:"local"`
	Token            TokenOptions       `yaml:"token" json:"token"`
	Events           map[EventType]bool `yaml:"events" json:"events"`
	Protocols        []ProtocolOptions  `yaml:"protocols" json:"protocols"`
	Recovery         RecoveryOptions    `yaml:"recovery" json:"recovery"`
	Session          SessionOptions     `yaml:"session" json:"session"`
	BcryptCost       int                `yaml:"bcrypt_cost" json:"bcrypt_cost" env:"PASSPORT_BCRYPT_COST"`
	DeterministicIDs bool               `yaml:"deterministic_ids" json:"deterministic_ids" env:"PASSPORT_DETERMINISTIC_IDS"`
	Hooks            HookOptions        `yaml:"-" json:"-"`
	MergeProfile     MergeProfileFunc   `yaml:"-" json:"-"`
}

// DefaultOptions returns options with every event enabled and one hour
// tokens. A token secret still has to be provided.
func DefaultOptions() Options {
	events := make(map[EventType]bool, len(AllEventTypes))
	for _, t := range AllEventTypes {
		events[t] = true
	}
	return Options{
		Redirect: RedirectOptions{
			Login:   "/",
			Logout:  "/",
			Recover: "/",
		},
		Token: TokenOptions{
			Algorithm:        "HS256",
			ExpiresInSeconds: 3600,
		},
		Session: SessionOptions{
			CookieName: "passport_session",
			TTLSeconds: 86400,
		},
		Events:     events,
		Recovery:   RecoveryOptions{ExposeSecret: true},
		BcryptCost: DefaultBcryptCost,
	}
}

// Validate checks the options.
func (o Options) Validate() error {
	err := validation.ValidateStruct(&o.Token,
		validation.Field(&o.Token.Secret, validation.Required),
		validation.Field(&o.Token.Algorithm, validation.Required, validation.In(toAny(SigningAlgorithms)...)),
		validation.Field(&o.Token.ExpiresInSeconds, validation.Min(0)),
	)
	if err == nil {
		err = validation.ValidateStruct(&o.Redirect,
			validation.Field(&o.Redirect.Login, validation.Required),
			validation.Field(&o.Redirect.Logout, validation.Required),
			validation.Field(&o.Redirect.Recover, validation.Required),
		)
	}
	if err == nil {
		err = validation.Validate(o.Session.TTLSeconds, validation.Min(0))
	}
	if err == nil {
		err = validation.Validate(o.Local.UsernameField, validation.In("", FieldUsername, FieldEmail))
	}
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid passport options").
			WithTextCode(TextCodeValidation)
	}
	return nil
}

// clone returns a deep enough copy for the service to own.
func (o Options) clone() Options {
	cp := o
	cp.Events = maps.Clone(o.Events)
	cp.Protocols = slices.Clone(o.Protocols)
	cp.Token.Audience = slices.Clone(o.Token.Audience)
	cp.Hooks = HookOptions{
		OnUserLogin:     slices.Clone(o.Hooks.OnUserLogin),
		OnUserLogout:    slices.Clone(o.Hooks.OnUserLogout),
		OnUserRecover:   slices.Clone(o.Hooks.OnUserRecover),
		OnUserRecovered: slices.Clone(o.Hooks.OnUserRecovered),
	}
	return cp
}

func (o Options) eventEnabled(t EventType) bool {
	if o.Events == nil {
		return true
	}
	enabled, ok := o.Events[t]
	return !ok || enabled
}

func toAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
