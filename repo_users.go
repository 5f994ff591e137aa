package passport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"
)

// Lookup columns accepted by Users.FindOne.
const (
	FieldUsername = "username"
	FieldEmail    = "email"
	FieldRecovery = "recovery"
	FieldToken    = "token"
)

var userLookupColumns = map[string]bool{
	FieldUsername: true,
	FieldEmail:    true,
	FieldRecovery: true,
	FieldToken:    true,
}

// Users is the user store. The Tx variants take the caller's bun.IDB so
// reads and writes join the surrounding transaction.
type Users interface {
	repository.Repository[*User]

	FindOne(ctx context.Context, field, value string) (*User, error)
	FindOneTx(ctx context.Context, tx bun.IDB, field, value string) (*User, error)
	GetByToken(ctx context.Context, token string) (*User, error)
	GetByTokenTx(ctx context.Context, tx bun.IDB, token string) (*User, error)
	UpdateColumns(ctx context.Context, record *User, columns ...string) (*User, error)
	UpdateColumnsTx(ctx context.Context, tx bun.IDB, record *User, columns ...string) (*User, error)
}

type users struct {
	repository.Repository[*User]
	db *bun.DB
}

var (
	_ Users                        = (*users)(nil)
	_ repository.Repository[*User] = (*users)(nil)
)

func NewUsersRepository(db *bun.DB) Users {
	repo := repository.NewRepository[*User](db, repository.ModelHandlers[*User]{
		NewRecord: func() *User { return &User{} },
		GetID: func(u *User) uuid.UUID {
			return u.GetID()
		},
		SetID: func(u *User, id uuid.UUID) {
			if u != nil {
				u.ID = id
			}
		},
		GetIdentifier: func() string {
			return FieldUsername
		},
	})

	return &users{
		Repository: repo,
		db:         db,
	}
}

func (a *users) FindOne(ctx context.Context, field, value string) (*User, error) {
	return a.FindOneTx(ctx, a.db, field, value)
}

func (a *users) FindOneTx(ctx context.Context, tx bun.IDB, field, value string) (*User, error) {
	if !userLookupColumns[field] {
		return nil, validationError(fmt.Sprintf("unsupported lookup field %q", field))
	}

	record, err := a.Repository.GetTx(ctx, tx, repository.SelectBy(field, "=", value))
	if err != nil {
		return nil, notFoundOr(err, map[string]any{field: value})
	}
	return record, nil
}

func (a *users) GetByToken(ctx context.Context, token string) (*User, error) {
	return a.GetByTokenTx(ctx, a.db, token)
}

func (a *users) GetByTokenTx(ctx context.Context, tx bun.IDB, token string) (*User, error) {
	return a.FindOneTx(ctx, tx, FieldToken, token)
}

func (a *users) Create(ctx context.Context, record *User, criteria ...repository.InsertCriteria) (*User, error) {
	return a.CreateTx(ctx, a.db, record, criteria...)
}

// CreateTx fills the token and timestamps. A unique index violation is
// reported as a validation error naming the taken field.
func (a *users) CreateTx(ctx context.Context, tx bun.IDB, record *User, criteria ...repository.InsertCriteria) (*User, error) {
	prepareUserDefaults(record)

	created, err := a.Repository.CreateTx(ctx, tx, record, criteria...)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, duplicateUserError(err, record)
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create user")
	}
	return created, nil
}

func (a *users) UpdateColumns(ctx context.Context, record *User, columns ...string) (*User, error) {
	return a.UpdateColumnsTx(ctx, a.db, record, columns...)
}

// UpdateColumnsTx writes the named columns even when they hold zero values,
// which the generic UpdateTx skips. With no columns every mutable column is
// written.
func (a *users) UpdateColumnsTx(ctx context.Context, tx bun.IDB, record *User, columns ...string) (*User, error) {
	record.UpdatedAt = time.Now().UTC()

	q := tx.NewUpdate().Model(record).WherePK()
	if len(columns) > 0 {
		q = q.Column(append([]string{"updated_at"}, columns...)...)
	} else {
		q = q.ExcludeColumn("id", "created_at")
	}

	res, err := q.Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, duplicateUserError(err, record)
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update user")
	}
	if err := repository.SQLExpectedCount(res, 1); err != nil {
		return nil, repository.NewRecordNotFound().
			WithMetadata(map[string]any{"id": record.ID.String()})
	}
	return record, nil
}

func prepareUserDefaults(record *User) {
	if record == nil {
		return
	}
	if record.Token == "" {
		record.Token = NewUserToken()
	}
	record.Username = strings.ToLower(strings.TrimSpace(record.Username))
	record.Email = strings.ToLower(strings.TrimSpace(record.Email))
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
}

// NewUserToken generates the public token assigned to new users.
func NewUserToken() string {
	return "user_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// notFoundOr normalizes store errors: missing rows become a record not found
// error carrying metadata, everything else is wrapped as internal.
func notFoundOr(err error, metadata map[string]any) error {
	if repository.IsRecordNotFound(err) {
		return repository.NewRecordNotFound().WithMetadata(metadata)
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, "store query failed")
}

// isNotFound matches both store not found errors and the user taxonomy code.
func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	return repository.IsRecordNotFound(err) ||
		goerrors.IsNotFound(err) ||
		IsCode(err, TextCodeUserNotFound)
}

// isUniqueViolation recognizes duplicate key errors from the postgres and
// sqlite drivers.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if goerrors.IsCategory(err, repository.CategoryDatabaseDuplicate) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(strings.ToUpper(err.Error()), "UNIQUE CONSTRAINT")
}

func duplicateUserError(err error, record *User) error {
	field, value, message := FieldUsername, record.Username, "username already taken"
	if strings.Contains(strings.ToLower(err.Error()), FieldEmail) {
		field, value, message = FieldEmail, record.Email, "email already registered"
	}
	return validationError(message).WithMetadata(map[string]any{field: value})
}
