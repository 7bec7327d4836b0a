package migrations

import "embed"

// Files exposes embedded SQL migrations. Postgres files live at the root,
// the SQLite variants under sqlite/. Both sets are applied
// lexicographically.
//
//go:embed *.sql sqlite/*.sql
var Files embed.FS
