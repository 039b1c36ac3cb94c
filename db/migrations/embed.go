// Package dbmigrations exposes embedded SQL migrations for the copilot's
// optional history archive.
package dbmigrations

import "embed"

// Files contains the embedded SQL migrations bundled into copilot binaries.
//
//go:embed *.sql
var Files embed.FS
