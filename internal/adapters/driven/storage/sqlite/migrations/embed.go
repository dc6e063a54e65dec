// Package migrations embeds the SQL migrations of the progress database.
package migrations

import "embed"

// FS holds the *.up.sql and *.down.sql files, applied in version order.
//
//go:embed *.sql
var FS embed.FS
