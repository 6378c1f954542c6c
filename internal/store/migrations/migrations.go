// Package migrations embeds the SQL migrations for bridge.db.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
