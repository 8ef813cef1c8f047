package auth

import (
	"embed"
)

//go:embed data/sql/migrations/*.sql
var migrationsFS embed.FS

// GetMigrationsFS returns the SQL migrations for the accounts and
// activation_requests tables. Files are applied in name order.
func GetMigrationsFS() embed.FS {
	return migrationsFS
}
