// Package migrations embeds the Postgres schema for the audit log and the
// notification outbox.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
