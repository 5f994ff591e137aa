package social

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/goliatone/go-passport"
)

// OpenIDProvider runs the authorization code flow and takes the identity
// from the signed id_token instead of a userinfo call.
type OpenIDProvider struct {
	name    string
	config  oauth2.Config
	issuer  string
	jwksURL string
	fields  map[string]string
	client  *http.Client
	logger  passport.Logger
	keyfunc jwt.Keyfunc
	keysMu  sync.Mutex
}

var _ passport.ThirdPartyProvider = (*OpenIDProvider)(nil)

// NewOpenIDProvider builds an OpenID Connect provider. The signing keys are
// fetched from the JWKS URL on first use unless WithKeyfunc is given.
func NewOpenIDProvider(opts passport.ProtocolOptions, options ...ProviderOption) (*OpenIDProvider, error) {
	cfg := applyProviderOptions(options)

	opts, err := withPreset(opts)
	if err != nil {
		return nil, err
	}
	if err := validateProtocolOptions(opts, false, cfg.keyfunc == nil); err != nil {
		return nil, err
	}

	scopes := opts.Scopes
	if len(scopes) == 0 {
		scopes = []string{"openid", "email", "profile"}
	}

	oc := oauthConfig(opts)
	oc.Scopes = scopes

	return &OpenIDProvider{
		name:    opts.Name,
		config:  oc,
		issuer:  opts.Issuer,
		jwksURL: opts.JWKSURL,
		fields:  openIDFields(opts.Fields),
		client:  cfg.client,
		logger:  cfg.logger,
		keyfunc: cfg.keyfunc,
	}, nil
}

func (p *OpenIDProvider) Name() string     { return p.name }
func (p *OpenIDProvider) Protocol() string { return passport.ProtocolOpenID }

func (p *OpenIDProvider) AuthCodeURL(state, verifier string) string {
	return authCodeURL(&p.config, state, verifier)
}

// Exchange trades the code for tokens and verifies the id_token against the
// provider keys, issuer and client id.
func (p *OpenIDProvider) Exchange(ctx context.Context, code, verifier string) (*passport.ExternalProfile, error) {
	ctx = withClient(ctx, p.client)

	tok, err := exchange(ctx, &p.config, code, verifier)
	if err != nil {
		return nil, wrapProviderError(ErrTokenExchangeFailed, p.name, "exchange", err)
	}

	raw, _ := tok.Extra("id_token").(string)
	if raw == "" {
		return nil, wrapProviderError(ErrIDTokenInvalid, p.name, "id_token", &ProviderError{
			Provider:    p.name,
			Operation:   "id_token",
			Description: "token response has no id_token",
		})
	}

	claims, err := p.verify(raw)
	if err != nil {
		return nil, wrapProviderError(ErrIDTokenInvalid, p.name, "id_token", err)
	}

	profile := mapProfile(claims, p.fields)
	profile.Provider = p.name
	profile.Protocol = passport.ProtocolOpenID
	profile.Tokens = tokenMap(tok)
	profile.Tokens["id_token"] = raw
	return profile, nil
}

func (p *OpenIDProvider) verify(raw string) (jwt.MapClaims, error) {
	kf, err := p.keys()
	if err != nil {
		return nil, err
	}

	parserOptions := []jwt.ParserOption{
		jwt.WithAudience(p.config.ClientID),
		jwt.WithExpirationRequired(),
	}
	if p.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(p.issuer))
	}

	claims := jwt.MapClaims{}
	if _, err := jwt.ParseWithClaims(raw, claims, kf, parserOptions...); err != nil {
		return nil, err
	}
	return claims, nil
}

// keys loads the JWK set on first use. A failed fetch is retried on the
// next call.
func (p *OpenIDProvider) keys() (jwt.Keyfunc, error) {
	p.keysMu.Lock()
	defer p.keysMu.Unlock()

	if p.keyfunc != nil {
		return p.keyfunc, nil
	}

	opts := keyfunc.Options{
		RefreshErrorHandler: func(err error) {
			p.logger.Error("failed to refresh JWK set", "provider", p.name, "error", err)
		},
		RefreshInterval:   time.Hour,
		RefreshRateLimit:  time.Minute * 5,
		RefreshTimeout:    time.Second * 10,
		RefreshUnknownKID: true,
	}
	if p.client != nil {
		opts.Client = p.client
	}

	jwks, err := keyfunc.Get(p.jwksURL, opts)
	if err != nil {
		return nil, err
	}
	p.keyfunc = jwks.Keyfunc
	return p.keyfunc, nil
}

func openIDFields(custom map[string]string) map[string]string {
	fields := map[string]string{
		FieldID:       "sub",
		FieldEmail:    "email",
		FieldUsername: "preferred_username",
		FieldName:     "name",
	}
	for k, v := range custom {
		fields[strings.ToLower(k)] = v
	}
	return fields
}
