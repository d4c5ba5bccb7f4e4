package migrations

import "embed"

// FS embeds the SQL migration files in this directory. The golang-migrate
// iofs driver reads them when applying migrations on startup.
//
//go:embed *.sql
var FS embed.FS

// Version is the schema version Migrate targets.
const Version = 1
