package passport

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// maxUserCredentials bounds FindByUser; a user holds one record per provider.
const maxUserCredentials = 100

// Credentials is the credential record store.
type Credentials interface {
	repository.Repository[*CredentialRecord]

	FindByUser(ctx context.Context, userID uuid.UUID) ([]*CredentialRecord, error)
	FindByUserTx(ctx context.Context, tx bun.IDB, userID uuid.UUID) ([]*CredentialRecord, error)
	// FindByProvider looks a record up by its external identity key.
	FindByProvider(ctx context.Context, provider, identifier string) (*CredentialRecord, error)
	FindByProviderTx(ctx context.Context, tx bun.IDB, provider, identifier string) (*CredentialRecord, error)
	// FindForUser returns the user's record for provider, where "local" (or
	// an empty provider) selects the password credential.
	FindForUser(ctx context.Context, userID uuid.UUID, provider string) (*CredentialRecord, error)
	FindForUserTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, provider string) (*CredentialRecord, error)
	UpdateColumnsTx(ctx context.Context, tx bun.IDB, record *CredentialRecord, columns ...string) (*CredentialRecord, error)
}

type credentials struct {
	repository.Repository[*CredentialRecord]
	db *bun.DB
}

var _ Credentials = (*credentials)(nil)

func NewCredentialsRepository(db *bun.DB) Credentials {
	repo := repository.NewRepository[*CredentialRecord](db, repository.ModelHandlers[*CredentialRecord]{
		NewRecord: func() *CredentialRecord { return &CredentialRecord{} },
		GetID: func(record *CredentialRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return record.ID
		},
		SetID: func(record *CredentialRecord, id uuid.UUID) {
			record.ID = id
		},
		GetIdentifier: func() string {
			return "identifier"
		},
	})

	return &credentials{
		Repository: repo,
		db:         db,
	}
}

func (r *credentials) FindByUser(ctx context.Context, userID uuid.UUID) ([]*CredentialRecord, error) {
	return r.FindByUserTx(ctx, r.db, userID)
}

func (r *credentials) FindByUserTx(ctx context.Context, tx bun.IDB, userID uuid.UUID) ([]*CredentialRecord, error) {
	records, _, err := r.Repository.ListTx(ctx, tx,
		repository.SelectBy("user_id", "=", userID.String()),
		repository.SelectPaginate(maxUserCredentials, 0),
		repository.OrderBy("created_at ASC"),
	)
	if err != nil && !isNotFound(err) {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list credential records")
	}
	return records, nil
}

func (r *credentials) FindByProvider(ctx context.Context, provider, identifier string) (*CredentialRecord, error) {
	return r.FindByProviderTx(ctx, r.db, provider, identifier)
}

func (r *credentials) FindByProviderTx(ctx context.Context, tx bun.IDB, provider, identifier string) (*CredentialRecord, error) {
	record, err := r.Repository.GetTx(ctx, tx,
		repository.SelectBy("provider", "=", provider),
		repository.SelectBy("identifier", "=", identifier),
	)
	if err != nil {
		return nil, notFoundOr(err, map[string]any{
			"provider":   provider,
			"identifier": identifier,
		})
	}
	return record, nil
}

func (r *credentials) FindForUser(ctx context.Context, userID uuid.UUID, provider string) (*CredentialRecord, error) {
	return r.FindForUserTx(ctx, r.db, userID, provider)
}

func (r *credentials) FindForUserTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, provider string) (*CredentialRecord, error) {
	criteria := []repository.SelectCriteria{
		repository.SelectBy("user_id", "=", userID.String()),
	}
	if provider == "" || provider == ProtocolLocal {
		criteria = append(criteria, repository.SelectBy("protocol", "=", ProtocolLocal))
	} else {
		criteria = append(criteria, repository.SelectBy("provider", "=", provider))
	}

	record, err := r.Repository.GetTx(ctx, tx, criteria...)
	if err != nil {
		return nil, notFoundOr(err, map[string]any{
			"user_id":  userID.String(),
			"provider": provider,
		})
	}
	return record, nil
}

func (r *credentials) Create(ctx context.Context, record *CredentialRecord, criteria ...repository.InsertCriteria) (*CredentialRecord, error) {
	return r.CreateTx(ctx, r.db, record, criteria...)
}

func (r *credentials) CreateTx(ctx context.Context, tx bun.IDB, record *CredentialRecord, criteria ...repository.InsertCriteria) (*CredentialRecord, error) {
	now := time.Now().UTC()
	record.CreatedAt = now
	record.UpdatedAt = now

	created, err := r.Repository.CreateTx(ctx, tx, record, criteria...)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create credential record")
	}
	return created, nil
}

// UpdateColumnsTx writes the named columns even when they hold zero values.
func (r *credentials) UpdateColumnsTx(ctx context.Context, tx bun.IDB, record *CredentialRecord, columns ...string) (*CredentialRecord, error) {
	record.UpdatedAt = time.Now().UTC()

	q := tx.NewUpdate().Model(record).WherePK()
	if len(columns) > 0 {
		q = q.Column(append([]string{"updated_at"}, columns...)...)
	} else {
		q = q.ExcludeColumn("id", "user_id", "created_at")
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update credential record")
	}
	if err := repository.SQLExpectedCount(res, 1); err != nil {
		return nil, repository.NewRecordNotFound().
			WithMetadata(map[string]any{"id": record.ID.String()})
	}
	return record, nil
}
