package migration

import "embed"

// Scripts holds the versioned migrations shipped with the binary: goose
// scripts for MySQL and golang-migrate up/down pairs for SQLite.
//
//go:embed scripts/mysql/*.sql scripts/sqlite/*.sql
var Scripts embed.FS

const (
	mysqlScriptsDir  = "scripts/mysql"
	sqliteScriptsDir = "scripts/sqlite"
)
