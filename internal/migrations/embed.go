// Package migrations carries the embedded SQL schema for the credential
// store and thin wrappers over golang-migrate.
package migrations

import "embed"

//go:embed sql
var sqlMigrations embed.FS
