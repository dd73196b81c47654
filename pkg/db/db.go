package db

import (
	"database/sql"
	"log/slog"
	"os"
	"path/filepath"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// DB wraps the metrics and schedule database.
type DB struct {
	conn   *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the database at path and runs migrations.
func Open(path string, logger *slog.Logger) (*DB, error) {
	logger = logger.With("component", "db")

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}

	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	db := &DB{conn: conn, logger: logger}
	if err := db.init(); err != nil {
		conn.Close()
		return nil, err
	}

	logger.Debug("database initialized", "path", path)
	return db, nil
}

func (db *DB) init() error {
	if _, err := db.conn.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return err
	}
	return db.RunMigrations()
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Vacuum performs database maintenance.
func (db *DB) Vacuum() error {
	if _, err := db.conn.Exec("VACUUM"); err != nil {
		return err
	}
	_, err := db.conn.Exec("ANALYZE")
	return err
}

// Stats reports row counts for the main tables plus the file size.
func (db *DB) Stats(path string) (map[string]int64, error) {
	stats := make(map[string]int64)
	for _, table := range []string{"operations", "transfers", "system_metrics", "operation_errors", "schedules"} {
		var n int64
		if err := db.conn.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
			return nil, err
		}
		stats[table+"_count"] = n
	}
	if fi, err := os.Stat(path); err == nil {
		stats["file_bytes"] = fi.Size()
	}
	return stats, nil
}
