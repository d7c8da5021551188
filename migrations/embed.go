// Package migrations carries the goose SQL migrations embedded into the
// binaries that run them.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
