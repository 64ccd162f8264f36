// Package all registers every audit backend and the SQL Server driver.
package all

import (
	_ "github.com/microsoft/go-mssqldb"

	_ "votermatch/internal/storage/mssql"
	_ "votermatch/internal/storage/postgres"
	_ "votermatch/internal/storage/sqlite"
)
