// Package migrations embeds the SQL migrations applied by storage.Migrate.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
