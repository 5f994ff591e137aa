package passport

import (
	"encoding/json"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Credential protocols.
const (
	ProtocolLocal  = "local"
	ProtocolOAuth  = "oauth"
	ProtocolOAuth2 = "oauth2"
	ProtocolOpenID = "openid"
)

// User is the user model
type User struct {
	bun.BaseModel `bun:"table:users,alias:usr"`
	ID            uuid.UUID           `bun:"id,pk,type:uuid" json:"id"`
	Token         string              `bun:"token,notnull,unique" json:"token"`
	Username      string              `bun:"username,nullzero,unique" json:"username,omitempty"`
	Email         string              `bun:"email,nullzero,unique" json:"email,omitempty"`
	Recovery      string              `bun:"recovery,nullzero" json:"-"`
	Preferences   map[string]any      `bun:"preferences" json:"preferences,omitempty"`
	Extras        map[string]any      `bun:"-" json:"extras,omitempty"`
	Credentials   []*CredentialRecord `bun:"rel:has-many,join:id=user_id" json:"credentials,omitempty"`
	CreatedAt     time.Time           `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt     time.Time           `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updated_at"`
}

// GetID exposes the primary key to dynamic resolution.
func (u *User) GetID() uuid.UUID {
	if u == nil {
		return uuid.Nil
	}
	return u.ID
}

// GetToken exposes the public token to dynamic resolution.
func (u *User) GetToken() string {
	if u == nil {
		return ""
	}
	return u.Token
}

// Salutation is the name used to address the user: username, then email,
// then id.
func (u *User) Salutation() string {
	switch {
	case u == nil:
		return ""
	case u.Username != "":
		return u.Username
	case u.Email != "":
		return u.Email
	default:
		return u.ID.String()
	}
}

// Snapshot returns a copy holding public fields only. Credentials and the
// recovery secret are dropped.
func (u *User) Snapshot() *User {
	if u == nil {
		return nil
	}
	cp := u.clone()
	cp.Credentials = nil
	cp.Recovery = ""
	return cp
}

func (u *User) clone() *User {
	cp := *u
	cp.Preferences = maps.Clone(u.Preferences)
	cp.Extras = maps.Clone(u.Extras)
	if u.Credentials != nil {
		cp.Credentials = append([]*CredentialRecord(nil), u.Credentials...)
	}
	return &cp
}

// Patch is a set of attribute changes produced by a hook.
type Patch map[string]any

// apply folds a patch onto the user. Known attributes map to columns,
// everything else is kept in Extras.
func (u *User) apply(p Patch) {
	for key, val := range p {
		switch key {
		case "username":
			if s, ok := val.(string); ok {
				u.Username = strings.ToLower(s)
				continue
			}
		case "email":
			if s, ok := val.(string); ok {
				u.Email = strings.ToLower(s)
				continue
			}
		case "preferences":
			if m, ok := val.(map[string]any); ok {
				u.Preferences = m
				continue
			}
		}
		if u.Extras == nil {
			u.Extras = map[string]any{}
		}
		u.Extras[key] = val
	}
}

// CredentialRecord links a user to one way of proving identity. Local records
// carry a password digest; third party records carry the provider, the
// external identifier and the serialized provider tokens.
type CredentialRecord struct {
	bun.BaseModel `bun:"table:credentials,alias:cred"`
	ID            uuid.UUID `bun:"id,pk,type:uuid" json:"id"`
	UserID        uuid.UUID `bun:"user_id,notnull,type:uuid" json:"user_id"`
	Protocol      string    `bun:"protocol,notnull" json:"protocol"`
	PasswordHash  string    `bun:"password,nullzero" json:"-"`
	Provider      string    `bun:"provider,nullzero" json:"provider,omitempty"`
	Identifier    string    `bun:"identifier,nullzero" json:"identifier,omitempty"`
	Tokens        string    `bun:"tokens,nullzero" json:"-"`
	CreatedAt     time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt     time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updated_at"`
}

// IsLocal reports whether the record is the password credential.
func (c *CredentialRecord) IsLocal() bool {
	return c != nil && c.Protocol == ProtocolLocal
}

// TokenMap decodes the stored provider tokens.
func (c *CredentialRecord) TokenMap() map[string]any {
	out := map[string]any{}
	if c == nil || c.Tokens == "" {
		return out
	}
	if err := json.Unmarshal([]byte(c.Tokens), &out); err != nil {
		return map[string]any{}
	}
	return out
}

// encodeTokens serializes provider tokens. encoding/json sorts map keys so
// equal token sets always produce equal strings.
func encodeTokens(tokens map[string]any) (string, error) {
	if len(tokens) == 0 {
		return "", nil
	}
	raw, err := json.Marshal(tokens)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// ExternalProfile is the normalized identity returned by a third party
// provider after a successful exchange.
type ExternalProfile struct {
	Provider    string         `json:"provider"`
	Protocol    string         `json:"protocol"`
	Identifier  string         `json:"identifier"`
	Email       string         `json:"email,omitempty"`
	Username    string         `json:"username,omitempty"`
	DisplayName string         `json:"display_name,omitempty"`
	Tokens      map[string]any `json:"tokens,omitempty"`
	Raw         map[string]any `json:"raw,omitempty"`
}
