// Package migrations embeds the goose migrations for the durable SQLite queue.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
