package passport

import (
	"crypto/sha256"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-router"
)

// ErrInvalidSession is returned when the session cookie fails verification.
var ErrInvalidSession = errors.New("invalid session cookie")

// SessionData is the state carried by the session cookie.
type SessionData struct {
	Authenticated bool   `json:"auth,omitempty"`
	UserID        string `json:"uid,omitempty"`
	OAuthState    string `json:"st,omitempty"`
	OAuthVerifier string `json:"cv,omitempty"`
	OAuthProvider string `json:"p,omitempty"`
}

// SessionStore loads and persists the per browser session.
type SessionStore interface {
	// Load returns the request session. A missing or invalid cookie yields
	// an empty session; the error reports why it was discarded.
	Load(c router.Context) (*SessionData, error)
	Save(c router.Context, data *SessionData) error
	Destroy(c router.Context)
}

type sessionClaims struct {
	jwt.RegisteredClaims
	SessionData
}

// CookieSessions keeps the session in an HS256 signed cookie. Saving always
// writes a new cookie, so a login never reuses the anonymous session.
type CookieSessions struct {
	name   string
	key    []byte
	ttl    time.Duration
	secure bool
}

var _ SessionStore = (*CookieSessions)(nil)

// NewCookieSessions builds the cookie store. When opts.Secret is empty the
// signing key is derived from fallbackSecret.
func NewCookieSessions(opts SessionOptions, fallbackSecret string) *CookieSessions {
	name := opts.CookieName
	if name == "" {
		name = "passport_session"
	}

	key := []byte(opts.Secret)
	if len(key) == 0 {
		sum := sha256.Sum256([]byte("passport-session:" + fallbackSecret))
		key = sum[:]
	}

	ttl := time.Duration(opts.TTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	return &CookieSessions{
		name:   name,
		key:    key,
		ttl:    ttl,
		secure: opts.Secure,
	}
}

func (s *CookieSessions) Load(c router.Context) (*SessionData, error) {
	raw := c.Cookies(s.name, "")
	if raw == "" {
		return &SessionData{}, nil
	}

	claims := &sessionClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return s.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return &SessionData{}, errors.Join(ErrInvalidSession, err)
	}

	data := claims.SessionData
	return &data, nil
}

func (s *CookieSessions) Save(c router.Context, data *SessionData) error {
	if data == nil {
		data = &SessionData{}
	}

	now := time.Now()
	expires := now.Add(s.ttl)
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		SessionData: *data,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return asRichError(err, "failed to sign session")
	}

	c.Cookie(&router.Cookie{
		Name:     s.name,
		Value:    signed,
		Path:     "/",
		Expires:  expires,
		Secure:   s.secure,
		HTTPOnly: true,
		SameSite: "Lax",
	})
	return nil
}

func (s *CookieSessions) Destroy(c router.Context) {
	c.Cookie(&router.Cookie{
		Name:     s.name,
		Value:    "",
		Path:     "/",
		Expires:  time.Now().Add(-time.Hour * (24 * 365)),
		Secure:   s.secure,
		HTTPOnly: true,
		SameSite: "Lax",
	})
}
