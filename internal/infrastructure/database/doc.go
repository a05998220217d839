// Package database provides the SQLite store behind the bridge's history.
//
// This package manages:
//   - Database connection with WAL mode for concurrent reads
//   - Schema migrations read from an fs.FS (the binary embeds them)
//   - Lifecycle and health checks
//
// The gateway cache itself is never persisted; only history rows
// (apparatus readings and consumer commands) live here.
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
package database
