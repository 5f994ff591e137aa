// Package social provides the third party identity providers used by the
// passport HTTP controller: OAuth2 with a userinfo endpoint and OpenID
// Connect with id_token verification.
package social

import (
	"net/http"
	"slices"
	"sort"
	"strings"
	"sync"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"

	"github.com/goliatone/go-passport"
)

// Registry holds the configured providers by name.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]passport.ThirdPartyProvider
}

var _ passport.ProviderRegistry = (*Registry)(nil)

// NewRegistry builds a provider for every entry of protocols.
func NewRegistry(protocols []passport.ProtocolOptions, options ...ProviderOption) (*Registry, error) {
	r := &Registry{providers: map[string]passport.ThirdPartyProvider{}}
	for _, opts := range protocols {
		provider, err := NewProvider(opts, options...)
		if err != nil {
			return nil, err
		}
		r.Register(provider)
	}
	return r, nil
}

// NewProvider picks the implementation matching opts.Protocol.
func NewProvider(opts passport.ProtocolOptions, options ...ProviderOption) (passport.ThirdPartyProvider, error) {
	switch strings.ToLower(opts.Protocol) {
	case "", passport.ProtocolOAuth2:
		return NewOAuth2Provider(opts, options...)
	case passport.ProtocolOpenID:
		return NewOpenIDProvider(opts, options...)
	default:
		return nil, ErrUnsupportedProtocol.Clone().WithMetadata(map[string]any{
			"provider": opts.Name,
			"protocol": opts.Protocol,
		})
	}
}

// Register adds or replaces a provider.
func (r *Registry) Register(p passport.ThirdPartyProvider) {
	if p == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Provider implements passport.ProviderRegistry.
func (r *Registry) Provider(name string) (passport.ThirdPartyProvider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// Names lists the registered providers in alphabetical order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ProviderOption configures provider construction.
type ProviderOption func(*providerConfig)

type providerConfig struct {
	client  *http.Client
	keyfunc jwt.Keyfunc
	logger  passport.Logger
}

// WithHTTPClient sets the client used for token, userinfo and JWKS calls.
func WithHTTPClient(client *http.Client) ProviderOption {
	return func(c *providerConfig) {
		c.client = client
	}
}

// WithKeyfunc sets the id_token key lookup, skipping the JWKS fetch.
func WithKeyfunc(kf jwt.Keyfunc) ProviderOption {
	return func(c *providerConfig) {
		c.keyfunc = kf
	}
}

// WithLogger sets the logger used for background key refresh failures.
func WithLogger(logger passport.Logger) ProviderOption {
	return func(c *providerConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func applyProviderOptions(options []ProviderOption) providerConfig {
	cfg := providerConfig{logger: passport.DefaultLogger()}
	for _, opt := range options {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

type preset struct {
	authURL     string
	tokenURL    string
	userInfoURL string
	issuer      string
	jwksURL     string
	scopes      []string
	fields      map[string]string
}

var presets = map[string]preset{
	"github": {
		authURL:     github.Endpoint.AuthURL,
		tokenURL:    github.Endpoint.TokenURL,
		userInfoURL: "https://api.github.com/user",
		scopes:      []string{"read:user", "user:email"},
		fields: map[string]string{
			FieldID:       "id",
			FieldEmail:    "email",
			FieldUsername: "login",
			FieldName:     "name",
		},
	},
	"google": {
		authURL:     google.Endpoint.AuthURL,
		tokenURL:    google.Endpoint.TokenURL,
		userInfoURL: "https://www.googleapis.com/oauth2/v2/userinfo",
		issuer:      "https://accounts.google.com",
		jwksURL:     "https://www.googleapis.com/oauth2/v3/certs",
		scopes: []string{
			"https://www.googleapis.com/auth/userinfo.email",
			"https://www.googleapis.com/auth/userinfo.profile",
		},
		fields: map[string]string{
			FieldID:       "id",
			FieldEmail:    "email",
			FieldUsername: "",
			FieldName:     "name",
		},
	},
}

// withPreset fills the blanks of opts from the named preset. Explicit
// values always win.
func withPreset(opts passport.ProtocolOptions) (passport.ProtocolOptions, error) {
	if opts.Preset == "" {
		return opts, nil
	}

	p, ok := presets[strings.ToLower(opts.Preset)]
	if !ok {
		return opts, goerrors.New("unknown provider preset "+opts.Preset, goerrors.CategoryValidation).
			WithTextCode(passport.TextCodeValidation).
			WithCode(goerrors.CodeBadRequest)
	}

	if opts.Name == "" {
		opts.Name = strings.ToLower(opts.Preset)
	}
	opts.AuthURL = firstNonEmpty(opts.AuthURL, p.authURL)
	opts.TokenURL = firstNonEmpty(opts.TokenURL, p.tokenURL)
	opts.UserInfoURL = firstNonEmpty(opts.UserInfoURL, p.userInfoURL)
	opts.Issuer = firstNonEmpty(opts.Issuer, p.issuer)
	opts.JWKSURL = firstNonEmpty(opts.JWKSURL, p.jwksURL)
	if len(opts.Scopes) == 0 && strings.ToLower(opts.Protocol) != passport.ProtocolOpenID {
		opts.Scopes = slices.Clone(p.scopes)
	}

	fields := make(map[string]string, len(p.fields)+len(opts.Fields))
	for k, v := range p.fields {
		fields[k] = v
	}
	for k, v := range opts.Fields {
		fields[k] = v
	}
	opts.Fields = fields

	return opts, nil
}

func validateProtocolOptions(opts passport.ProtocolOptions, needUserInfo, needJWKS bool) error {
	userInfoRules := []validation.Rule{is.URL}
	if needUserInfo {
		userInfoRules = append(userInfoRules, validation.Required)
	}
	jwksRules := []validation.Rule{is.URL}
	if needJWKS {
		jwksRules = append(jwksRules, validation.Required)
	}

	err := validation.ValidateStruct(&opts,
		validation.Field(&opts.Name, validation.Required),
		validation.Field(&opts.ClientID, validation.Required),
		validation.Field(&opts.AuthURL, validation.Required, is.URL),
		validation.Field(&opts.TokenURL, validation.Required, is.URL),
		validation.Field(&opts.UserInfoURL, userInfoRules...),
		validation.Field(&opts.JWKSURL, jwksRules...),
	)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid provider "+opts.Name).
			WithTextCode(passport.TextCodeValidation).
			WithCode(goerrors.CodeBadRequest)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
