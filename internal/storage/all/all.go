// Package all registers every storage backend.
package all

import (
	_ "opencalls/internal/storage/mssql"
	_ "opencalls/internal/storage/postgres"
	_ "opencalls/internal/storage/sqlite"
)
