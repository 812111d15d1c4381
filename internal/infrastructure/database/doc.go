// Package database provides the SQLite connection used for the runtime's
// transition history.
//
// Open configures WAL mode and a busy timeout, keeps a single connection
// (SQLite has one writer), and supports an in-memory database for tests.
// Migrate applies the embedded .up.sql files in version order.
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migrations are additive: new columns must be nullable or have a default,
// and every .up.sql has a matching .down.sql.
package database
