// Package database provides the bridge's SQLite store.
//
// The store holds the channel state history (see internal/device) and the
// schema_migrations bookkeeping table. The live device snapshot is never
// written here; it exists only in memory.
//
// # Usage
//
//	db, err := database.Open(ctx, database.Config{
//	    Path:        cfg.Database.Path,
//	    WALMode:     cfg.Database.WALMode,
//	    BusyTimeout: cfg.Database.BusyTimeout,
//	})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// # Migrations
//
// Migrations are embedded by the top-level migrations package and applied
// in version order, each in its own transaction. New columns must be
// nullable or carry a default so older binaries keep working.
//
// All queries use parameterised statements and the database file is
// created with 0600 permissions.
package database
