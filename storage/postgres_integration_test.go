//go:build integration

package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/goliatone/go-passport/storage"
)

func TestOpenAndMigrate_Postgres(t *testing.T) {
	ctx := context.Background()

	container, err := pgmodule.Run(ctx,
		"postgres:16-alpine",
		pgmodule.WithDatabase("passport"),
		pgmodule.WithUsername("passport"),
		pgmodule.WithPassword("passport"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() {
		_ = container.Terminate(ctx)
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := storage.OpenAndMigrate(ctx, storage.Config{Driver: storage.DriverPostgres, DSN: dsn})
	require.NoError(t, err)
	defer db.Close()

	var count int
	err = db.NewSelect().
		ColumnExpr("count(*)").
		TableExpr("information_schema.tables").
		Where("table_name IN (?, ?)", "users", "credentials").
		Scan(ctx, &count)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
