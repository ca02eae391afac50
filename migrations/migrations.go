// Package migrations embeds the schema migrations the store applies at
// startup.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
