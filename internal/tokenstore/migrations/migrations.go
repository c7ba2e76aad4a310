// Package migrations embeds the schema of the SQL token store.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
