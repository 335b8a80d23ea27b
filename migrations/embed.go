// Package migrations provides the embedded SQL migrations for the viewer's
// -dev backend (order matters: 001, 002, ...).
package migrations

import "embed"

// Files contains all .sql files from this directory.
//go:embed *.sql
var Files embed.FS
