// Package database provides the SQLite store for the TRF bridge.
//
// It holds the parameter catalog, sensor placements, project state and the
// error and command logs. Open configures the connection (WAL, busy timeout,
// foreign keys); Migrate applies the numbered schema files registered by the
// migrations package.
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if _, err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// All queries use parameterised statements. The database file is created
// with 0600 permissions.
package database
