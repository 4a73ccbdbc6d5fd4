package database

import (
	"database/sql"
	"fmt"
	"io/fs"
	"sort"

	schemafs "postdeck/pkg/database/sql"
	"postdeck/pkg/logging"
)

// ApplySchema executes the embedded DDL files in lexical order. Statements are
// written to be re-runnable (CREATE TABLE IF NOT EXISTS), so this is safe to
// call on every startup.
func ApplySchema(db *sql.DB, logger logging.Logger) error {
	entries, err := fs.Glob(schemafs.Content, "schema/*.sql")
	if err != nil {
		return fmt.Errorf("failed to list schema files: %w", err)
	}
	sort.Strings(entries)

	for _, name := range entries {
		ddl, err := schemafs.Content.ReadFile(name)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", name, err)
		}
		if _, err := db.Exec(string(ddl)); err != nil {
			return fmt.Errorf("failed to apply %s: %w", name, err)
		}
		logger.WithField("file", name).Debug("Applied schema file")
	}

	return nil
}
