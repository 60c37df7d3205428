package migrations

import "embed"

// Files holds the golang-migrate style up/down SQL files.
//
//go:embed *.sql
var Files embed.FS
