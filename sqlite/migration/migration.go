// Package migration holds the schema scripts for sqlite.AlarmStore, in the
// order sqlite.Migrate applies them.
package migration

import "embed"

//go:embed *.sql
var Scripts embed.FS
