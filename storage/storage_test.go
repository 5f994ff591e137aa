package storage_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-passport/storage"
)

func TestOpenAndMigrate_SQLiteMemory(t *testing.T) {
	ctx := context.Background()

	db, err := storage.OpenAndMigrate(ctx, storage.MemoryConfig())
	require.NoError(t, err)
	defer db.Close()

	var tables []string
	err = db.NewSelect().
		ColumnExpr("name").
		TableExpr("sqlite_master").
		Where("type = ?", "table").
		Where("name IN (?, ?)", "users", "credentials").
		OrderExpr("name ASC").
		Scan(ctx, &tables)
	require.NoError(t, err)
	assert.Equal(t, []string{"credentials", "users"}, tables)
}

func TestMigrate_IsIdempotent(t *testing.T) {
	ctx := context.Background()

	db, err := storage.OpenAndMigrate(ctx, storage.MemoryConfig())
	require.NoError(t, err)
	defer db.Close()

	assert.NoError(t, storage.Migrate(ctx, db))
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := storage.Open(storage.Config{Driver: "oracle"})
	assert.Error(t, err)
}
