package social

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/goliatone/go-passport"
)

// Profile field keys understood by ProtocolOptions.Fields.
const (
	FieldID       = "id"
	FieldEmail    = "email"
	FieldUsername = "username"
	FieldName     = "name"
)

// OAuth2Provider runs the authorization code flow with PKCE and reads the
// profile from a userinfo endpoint.
type OAuth2Provider struct {
	name        string
	config      oauth2.Config
	userInfoURL string
	fields      map[string]string
	client      *http.Client
}

var _ passport.ThirdPartyProvider = (*OAuth2Provider)(nil)

// NewOAuth2Provider builds a provider from opts, filling endpoints, scopes
// and field mappings from the preset when one is named.
func NewOAuth2Provider(opts passport.ProtocolOptions, options ...ProviderOption) (*OAuth2Provider, error) {
	cfg := applyProviderOptions(options)

	opts, err := withPreset(opts)
	if err != nil {
		return nil, err
	}
	if err := validateProtocolOptions(opts, true, false); err != nil {
		return nil, err
	}

	return &OAuth2Provider{
		name:        opts.Name,
		config:      oauthConfig(opts),
		userInfoURL: opts.UserInfoURL,
		fields:      opts.Fields,
		client:      cfg.client,
	}, nil
}

func (p *OAuth2Provider) Name() string     { return p.name }
func (p *OAuth2Provider) Protocol() string { return passport.ProtocolOAuth2 }

// AuthCodeURL returns the consent page URL carrying state and the S256
// challenge of verifier.
func (p *OAuth2Provider) AuthCodeURL(state, verifier string) string {
	return authCodeURL(&p.config, state, verifier)
}

// Exchange trades the code for tokens and loads the profile.
func (p *OAuth2Provider) Exchange(ctx context.Context, code, verifier string) (*passport.ExternalProfile, error) {
	ctx = withClient(ctx, p.client)

	tok, err := exchange(ctx, &p.config, code, verifier)
	if err != nil {
		return nil, wrapProviderError(ErrTokenExchangeFailed, p.name, "exchange", err)
	}

	raw, err := p.userInfo(ctx, tok)
	if err != nil {
		return nil, wrapProviderError(ErrUserInfoFailed, p.name, "userinfo", err)
	}

	profile := mapProfile(raw, p.fields)
	profile.Provider = p.name
	profile.Protocol = passport.ProtocolOAuth2
	profile.Tokens = tokenMap(tok)
	return profile, nil
}

func (p *OAuth2Provider) userInfo(ctx context.Context, tok *oauth2.Token) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.config.Client(ctx, tok).Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &ProviderError{
			Provider:    p.name,
			Operation:   "userinfo",
			Status:      resp.StatusCode,
			Description: http.StatusText(resp.StatusCode),
		}
	}

	raw := map[string]any{}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func oauthConfig(opts passport.ProtocolOptions) oauth2.Config {
	return oauth2.Config{
		ClientID:     opts.ClientID,
		ClientSecret: opts.ClientSecret,
		RedirectURL:  opts.CallbackURL,
		Scopes:       opts.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  opts.AuthURL,
			TokenURL: opts.TokenURL,
		},
	}
}

func authCodeURL(cfg *oauth2.Config, state, verifier string) string {
	if verifier == "" {
		return cfg.AuthCodeURL(state)
	}
	return cfg.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
}

func exchange(ctx context.Context, cfg *oauth2.Config, code, verifier string) (*oauth2.Token, error) {
	if verifier == "" {
		return cfg.Exchange(ctx, code)
	}
	return cfg.Exchange(ctx, code, oauth2.VerifierOption(verifier))
}

func withClient(ctx context.Context, client *http.Client) context.Context {
	if client == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, client)
}

// mapProfile reads the identity out of a provider payload. fields maps the
// profile keys to payload keys.
func mapProfile(raw map[string]any, fields map[string]string) *passport.ExternalProfile {
	get := func(key string) string {
		name := key
		if mapped, ok := fields[key]; ok {
			name = mapped
		}
		if name == "" {
			return ""
		}
		return stringify(raw[name])
	}

	return &passport.ExternalProfile{
		Identifier:  get(FieldID),
		Email:       strings.ToLower(get(FieldEmail)),
		Username:    get(FieldUsername),
		DisplayName: get(FieldName),
		Raw:         raw,
	}
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case float64:
		return fmt.Sprintf("%.0f", val)
	default:
		return fmt.Sprint(val)
	}
}

func tokenMap(tok *oauth2.Token) map[string]any {
	out := map[string]any{
		"access_token": tok.AccessToken,
		"token_type":   tok.Type(),
	}
	if tok.RefreshToken != "" {
		out["refresh_token"] = tok.RefreshToken
	}
	if !tok.Expiry.IsZero() {
		out["expiry"] = tok.Expiry.UTC().Format(time.RFC3339)
	}
	return out
}
