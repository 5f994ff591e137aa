package passport

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/goliatone/go-router"
	"golang.org/x/oauth2"
)

// Local credential actions accepted by POST /auth/local/:action.
const (
	ActionRegister   = "register"
	ActionConnect    = "connect"
	ActionDisconnect = "disconnect"
	ActionReset      = "reset"
	ActionRecover    = "recover"
)

// AuthController serves the /auth routes.
type AuthController struct {
	Service   *Service
	Sessions  SessionStore
	Providers ProviderRegistry
	Logger    Logger
	Prefix    string
}

type AuthControllerOption func(*AuthController)

// WithProviders sets the third party provider registry.
func WithProviders(registry ProviderRegistry) AuthControllerOption {
	return func(a *AuthController) {
		a.Providers = registry
	}
}

// WithControllerLogger overrides the controller logger.
func WithControllerLogger(logger Logger) AuthControllerOption {
	return func(a *AuthController) {
		if logger != nil {
			a.Logger = logger
		}
	}
}

// WithPrefix mounts the routes under prefix instead of /auth.
func WithPrefix(prefix string) AuthControllerOption {
	return func(a *AuthController) {
		a.Prefix = prefix
	}
}

// NewAuthController builds the controller. A nil store uses signed cookie
// sessions configured from the service options.
func NewAuthController(svc *Service, store SessionStore, opts ...AuthControllerOption) *AuthController {
	c := &AuthController{
		Service:  svc,
		Sessions: store,
		Logger:   defLogger{},
		Prefix:   "/auth",
	}

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	if c.Service == nil {
		panic("Missing Service in auth controller...")
	}

	if c.Sessions == nil {
		c.Sessions = NewCookieSessions(c.Service.opts.Session, c.Service.opts.Token.Secret)
	}

	return c
}

// SessionUser returns the middleware loading the session user for routes
// outside the controller.
func (a *AuthController) SessionUser() router.MiddlewareFunc {
	return SessionUser(a.Sessions, a.Service, a.Logger)
}

// RegisterAuthRoutes mounts the controller. Literal routes are registered
// before the parameterized ones so they take precedence.
func RegisterAuthRoutes[T any](app router.Router[T], controller *AuthController) {
	g := app.Group(controller.Prefix)
	session := controller.SessionUser()

	g.Get("/session", controller.Session, session).SetName("passport.session")
	g.Get("/logout", controller.Logout, session).SetName("passport.logout.get")
	g.Post("/logout", controller.Logout, session).SetName("passport.logout.post")
	g.Post("/recover", controller.Recover, session).SetName("passport.recover")
	g.Post("/local", controller.Callback, session).SetName("passport.local")
	g.Post("/local/:action", controller.Callback, session).SetName("passport.local.action")
	g.Get("/:provider/callback", controller.Callback, session).SetName("passport.provider.callback")
	g.Get("/:provider/:action", controller.Callback, session).SetName("passport.provider.action")
	g.Get("/:provider", controller.Provider, session).SetName("passport.provider")
}

// Provider starts a third party login by redirecting to the provider.
func (a *AuthController) Provider(c router.Context) error {
	name := c.Param("provider", "")
	provider, ok := a.lookupProvider(name)
	if !ok {
		return a.fail(c, newCodeError(ErrNoProvider, map[string]any{"provider": name}))
	}
	if err := a.beginProvider(c, provider); err != nil {
		return a.fail(c, err)
	}
	return nil
}

// Callback completes local actions and third party callbacks.
func (a *AuthController) Callback(c router.Context) error {
	provider := c.Param("provider", "")
	if provider == "" {
		provider = ProtocolLocal
	}
	action := c.Param("action", "")
	if action == "callback" {
		action = ""
	}

	payload, err := a.payload(c)
	if err != nil {
		return a.fail(c, err)
	}

	var user *User
	if provider == ProtocolLocal {
		user, err = a.localAction(c, action, payload)
	} else {
		var redirected bool
		user, redirected, err = a.providerAction(c, provider, action)
		if err == nil && redirected {
			return nil
		}
	}
	if err != nil {
		return a.fail(c, err)
	}

	return a.succeed(c, user, payload.Redirect)
}

func (a *AuthController) localAction(c router.Context, action string, p LocalPayload) (*User, error) {
	ctx := c.Context()
	current := CurrentUser(c)

	switch {
	case action == ActionRegister && current == nil:
		return a.Service.Register(ctx, RegisterInput{
			Username:   p.Username,
			Email:      p.Email,
			Identifier: p.Identifier,
			Password:   p.Password,
		})

	case action == ActionConnect && current != nil:
		if _, err := a.Service.Connect(ctx, ByInstance(current), p.Password); err != nil {
			return nil, err
		}
		return current, nil

	case action == ActionDisconnect && current != nil:
		if err := a.Service.Disconnect(ctx, ByInstance(current), ProtocolLocal); err != nil {
			return nil, err
		}
		return current, nil

	case action == ActionReset && current != nil:
		return a.Service.Reset(ctx, ByInstance(current), p.Password)

	case action == ActionRecover && current == nil:
		return a.Service.ResetWithRecovery(ctx, p.Recovery, p.Password)
	}

	field, value, err := IdentifyingField(p, a.Service.opts.Local.UsernameField)
	if err != nil {
		return nil, err
	}
	return a.Service.Login(ctx, field, value, p.Password)
}

// providerAction reports redirected when it answered with the provider's
// authorization redirect instead of a user.
func (a *AuthController) providerAction(c router.Context, name, action string) (*User, bool, error) {
	ctx := c.Context()
	current := CurrentUser(c)

	if action == ActionDisconnect && current != nil {
		if err := a.Service.Disconnect(ctx, ByInstance(current), name); err != nil {
			return nil, false, err
		}
		return current, false, nil
	}

	provider, ok := a.lookupProvider(name)
	if !ok {
		return nil, false, newCodeError(ErrNoProvider, map[string]any{"provider": name})
	}

	if reason := c.Query("error", ""); reason != "" {
		return nil, false, validationError("provider rejected the request").
			WithMetadata(map[string]any{"provider": name, "reason": reason})
	}

	code := c.Query("code", "")
	if code == "" {
		return nil, true, a.beginProvider(c, provider)
	}

	sess, _ := a.Sessions.Load(c)
	expected, verifier, started := sess.OAuthState, sess.OAuthVerifier, sess.OAuthProvider
	sess.OAuthState, sess.OAuthVerifier, sess.OAuthProvider = "", "", ""
	if err := a.Sessions.Save(c, sess); err != nil {
		return nil, false, err
	}

	if expected == "" || expected != c.Query("state", "") || started != name {
		return nil, false, validationError("invalid oauth state").
			WithMetadata(map[string]any{"provider": name})
	}

	profile, err := provider.Exchange(ctx, code, verifier)
	if err != nil {
		return nil, false, err
	}
	if profile.Provider == "" {
		profile.Provider = name
	}

	user, err := a.Service.LinkExternal(ctx, current, *profile)
	return user, false, err
}

func (a *AuthController) beginProvider(c router.Context, provider ThirdPartyProvider) error {
	sess, _ := a.Sessions.Load(c)

	state := oauth2.GenerateVerifier()
	verifier := oauth2.GenerateVerifier()
	sess.OAuthState = state
	sess.OAuthVerifier = verifier
	sess.OAuthProvider = provider.Name()
	if err := a.Sessions.Save(c, sess); err != nil {
		return err
	}

	return c.Redirect(provider.AuthCodeURL(state, verifier), http.StatusFound)
}

// Logout runs the logout hooks, destroys the session and redirects.
func (a *AuthController) Logout(c router.Context) error {
	payload, _ := a.payload(c)

	a.Service.Logout(c.Context(), CurrentUser(c))
	a.Sessions.Destroy(c)

	target := safeRedirect(payload.Redirect, a.Service.opts.Redirect.Logout)
	if WantsJSON(c) {
		return c.JSON(router.StatusOK, map[string]any{"redirect": target})
	}
	return c.Redirect(target, http.StatusFound)
}

// Recover starts a recovery flow. The answer is always 200 so the endpoint
// cannot be used to enumerate accounts.
func (a *AuthController) Recover(c router.Context) error {
	payload, err := a.payload(c)

	var user *User
	if err == nil {
		var field, value string
		field, value, err = IdentifyingField(payload, a.Service.opts.Local.UsernameField)
		if err == nil {
			user, err = a.Service.Recover(c.Context(), field, value)
		}
	}
	if err != nil {
		a.Logger.Debug("recover request failed", "error", err)
	}

	target := safeRedirect(payload.Redirect, a.Service.opts.Redirect.Recover)
	if !WantsJSON(c) {
		return c.Redirect(target, http.StatusFound)
	}

	resp := map[string]any{"redirect": target}
	if user != nil && a.Service.opts.Recovery.ExposeSecret {
		resp["recovery"] = user.Recovery
		resp["user"] = user.Snapshot()
	}
	return c.JSON(router.StatusOK, resp)
}

// Session returns a fresh token and the current user, or 401.
func (a *AuthController) Session(c router.Context) error {
	user := CurrentUser(c)
	if user == nil {
		return c.JSON(router.StatusUnauthorized, ErrorResponse{Error: "Unauthorized"})
	}

	token, err := a.Service.Tokens().Issue(user)
	if err != nil {
		return a.fail(c, err)
	}

	return c.JSON(router.StatusOK, map[string]any{
		"token": token,
		"user":  user.Snapshot(),
	})
}

func (a *AuthController) succeed(c router.Context, user *User, redirect string) error {
	if err := a.Sessions.Save(c, &SessionData{
		Authenticated: true,
		UserID:        user.ID.String(),
	}); err != nil {
		return a.fail(c, err)
	}

	token, err := a.Service.Tokens().Issue(user)
	if err != nil {
		return a.fail(c, err)
	}

	target := safeRedirect(redirect, a.Service.opts.Redirect.Login)
	if WantsJSON(c) {
		return c.JSON(router.StatusOK, map[string]any{
			"redirect": target,
			"user":     user.Snapshot(),
			"token":    token,
		})
	}
	return c.Redirect(target, http.StatusFound)
}

// fail answers JSON clients with the mapped status and sends browsers back to
// the login page with the error code.
func (a *AuthController) fail(c router.Context, err error) error {
	if WantsJSON(c) {
		return RouteErrorHandler(a.Logger)(c, err)
	}

	code := ErrorCode(err)
	if code == "" {
		a.Logger.Error("passport request failed", "path", c.OriginalURL(), "error", err)
		code = "E_SERVER_ERROR"
	}
	return c.Redirect(appendQueryParam(a.Service.opts.Redirect.Login, "error", code), http.StatusFound)
}

func (a *AuthController) payload(c router.Context) (LocalPayload, error) {
	p := LocalPayload{}
	if len(c.Body()) > 0 {
		if err := c.Bind(&p); err != nil {
			return p, validationError("invalid request body")
		}
	}
	if p.Redirect == "" {
		p.Redirect = c.Query("redirect", "")
	}
	return p, nil
}

func (a *AuthController) lookupProvider(name string) (ThirdPartyProvider, bool) {
	if a.Providers == nil || name == "" {
		return nil, false
	}
	return a.Providers.Provider(name)
}

// safeRedirect returns target when it is a path on this host and fallback
// otherwise. Configured redirects are trusted; caller supplied ones are not.
func safeRedirect(target, fallback string) string {
	target = strings.TrimSpace(target)
	if target == "" || !strings.HasPrefix(target, "/") ||
		strings.HasPrefix(target, "//") || strings.ContainsAny(target, "\\\r\n") {
		return fallback
	}

	parsed, err := url.Parse(target)
	if err != nil || parsed.Scheme != "" || parsed.Host != "" {
		return fallback
	}
	return target
}

func appendQueryParam(rawURL, key, value string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	query := parsed.Query()
	query.Set(key, value)
	parsed.RawQuery = query.Encode()
	return parsed.String()
}
