// Package migrations embeds the goose SQL migrations, one directory per
// dialect.
package migrations

import "embed"

//go:embed sql/postgres/*.sql sql/mysql/*.sql
var FS embed.FS
