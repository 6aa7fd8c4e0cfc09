// Package migrations embebe los scripts SQL del store de perfiles.
package migrations

import "embed"

// FS contiene los *_up.sql / *_down.sql de Postgres.
//
//go:embed *.sql
var FS embed.FS
