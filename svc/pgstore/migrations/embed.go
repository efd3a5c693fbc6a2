// Package migrations embeds the goose SQL migrations for the Postgres store.
package migrations

import "embed"

// FS holds the migration files at its root.
//
//go:embed *.sql
var FS embed.FS
