package store

import "embed"

// migrationFS embeds the SQL migrations applied by the goose provider on Open.
//
//go:embed migrations/*.sql
var migrationFS embed.FS
