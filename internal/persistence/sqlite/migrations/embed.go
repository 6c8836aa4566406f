// Package migrations embeds the SQLite schema migrations applied by goose.
package migrations

import "embed"

// FS holds all *.sql migration files embedded at compile time.
//
//go:embed *.sql
var FS embed.FS
