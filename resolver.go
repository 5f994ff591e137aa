package passport

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type refKind int

const (
	refInvalid refKind = iota
	refInstance
	refID
	refToken
)

// UserRef names a user. Build one with ByInstance, ByID, ByToken or ByValue.
type UserRef struct {
	kind     refKind
	instance *User
	id       uuid.UUID
	token    string
	source   any
}

// ByInstance refers to an already loaded user, returned as is.
func ByInstance(u *User) UserRef {
	if u == nil {
		return UserRef{}
	}
	return UserRef{kind: refInstance, instance: u}
}

// ByID refers to a user by primary key.
func ByID(id uuid.UUID) UserRef {
	if id == uuid.Nil {
		return UserRef{source: id}
	}
	return UserRef{kind: refID, id: id}
}

// ByToken refers to a user by public token.
func ByToken(token string) UserRef {
	token = strings.TrimSpace(token)
	if token == "" {
		return UserRef{source: token}
	}
	return UserRef{kind: refToken, token: token}
}

type idHolder interface {
	GetID() uuid.UUID
}

type tokenHolder interface {
	GetToken() string
}

// ByValue classifies a dynamic value. Precedence: a User instance, a value
// exposing a non nil id, a value exposing a token, a uuid.UUID primary key,
// a plain string token. Anything else is unresolvable.
func ByValue(v any) UserRef {
	switch val := v.(type) {
	case nil:
		return UserRef{}
	case UserRef:
		return val
	case *User:
		return ByInstance(val)
	case User:
		return ByInstance(&val)
	case uuid.UUID:
		return ByID(val)
	case string:
		return ByToken(val)
	}

	if h, ok := v.(idHolder); ok && h.GetID() != uuid.Nil {
		return ByID(h.GetID())
	}
	if h, ok := v.(tokenHolder); ok && h.GetToken() != "" {
		return ByToken(h.GetToken())
	}
	return UserRef{source: v}
}

// IsZero reports whether the reference names nothing.
func (r UserRef) IsZero() bool {
	return r.kind == refInvalid
}

func (r UserRef) String() string {
	switch r.kind {
	case refInstance:
		return "instance:" + r.instance.ID.String()
	case refID:
		return "id:" + r.id.String()
	case refToken:
		return "token:" + r.token
	default:
		return fmt.Sprintf("unresolvable:%T", r.source)
	}
}

type resolveConfig struct {
	reject bool
}

// ResolveOption tunes a single Resolve call.
type ResolveOption func(*resolveConfig)

// WithReject controls whether a missing user is an error. With reject false
// Resolve returns (nil, nil) when nothing matches.
func WithReject(reject bool) ResolveOption {
	return func(c *resolveConfig) {
		c.reject = reject
	}
}

// Resolver loads the user named by a UserRef.
type Resolver struct {
	users Users
}

func NewResolver(users Users) *Resolver {
	return &Resolver{users: users}
}

// Resolve runs inside the caller's transaction handle tx.
func (r *Resolver) Resolve(ctx context.Context, tx bun.IDB, ref UserRef, opts ...ResolveOption) (*User, error) {
	cfg := resolveConfig{reject: true}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	var (
		user *User
		err  error
	)

	switch ref.kind {
	case refInstance:
		return ref.instance, nil
	case refID:
		user, err = r.users.GetByIDTx(ctx, tx, ref.id.String())
	case refToken:
		user, err = r.users.GetByTokenTx(ctx, tx, ref.token)
	default:
		return nil, newCodeError(ErrUserNotDefined, map[string]any{
			"reference": ref.String(),
		})
	}

	if err != nil {
		if isNotFound(err) {
			if !cfg.reject {
				return nil, nil
			}
			return nil, userNotFound(map[string]any{"reference": ref.String()})
		}
		return nil, err
	}
	return user, nil
}
