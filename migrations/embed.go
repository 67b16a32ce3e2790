// Package migrations embeds the SQL schema migrations into the binary so the
// bridge can create its state_history table without files on disk.
package migrations

import (
	"embed"

	"github.com/nerrad567/smartcare-bridge/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
