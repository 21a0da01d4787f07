package journal

import (
	"database/sql"
	"fmt"
	"time"
)

type migration struct {
	Version     int
	Description string
	Up          string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "sessions, actions and notifications",
		Up: `
CREATE TABLE meta (
    name    TEXT PRIMARY KEY,
    value   BLOB NOT NULL
);

CREATE TABLE sessions (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    label       TEXT NOT NULL,
    processor   TEXT NOT NULL,
    started_ns  INTEGER NOT NULL,
    ended_ns    INTEGER
);

CREATE TABLE actions (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id  INTEGER NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    store_id    INTEGER NOT NULL,
    seq         INTEGER NOT NULL,
    kind        TEXT NOT NULL,
    pos         INTEGER NOT NULL,
    len         INTEGER NOT NULL,
    runes       INTEGER NOT NULL,
    digest      BLOB,
    error       TEXT,
    at_ns       INTEGER NOT NULL
);

CREATE INDEX idx_actions_session ON actions(session_id, seq);

CREATE TABLE notifications (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id      INTEGER NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    store_id        INTEGER NOT NULL,
    seq             INTEGER NOT NULL,
    kind            TEXT NOT NULL,
    start           INTEGER NOT NULL,
    old_end         INTEGER NOT NULL,
    new_end         INTEGER NOT NULL,
    by_composition  INTEGER NOT NULL,
    at_ns           INTEGER NOT NULL
);

CREATE INDEX idx_notifications_session ON notifications(session_id, seq);
`,
	},
	{
		Version:     2,
		Description: "composition flags on actions",
		Up: `
ALTER TABLE actions ADD COLUMN incomplete INTEGER NOT NULL DEFAULT 0;
ALTER TABLE actions ADD COLUMN ranges INTEGER NOT NULL DEFAULT 0;
`,
	},
}

// migrate applies all pending migrations.
func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version     INTEGER PRIMARY KEY,
			applied_at  INTEGER NOT NULL,
			description TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	current, err := schemaVersion(db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}
		if _, err := tx.Exec(m.Up); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Description, err)
		}
		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, applied_at, description) VALUES (?, ?, ?)",
			m.Version, time.Now().UnixNano(), m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}
	return nil
}

func schemaVersion(db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&v); err != nil {
		return 0, fmt.Errorf("get schema version: %w", err)
	}
	return v, nil
}

// SchemaVersion returns the applied schema version.
func (j *Journal) SchemaVersion() (int, error) {
	if j.db == nil {
		return 0, ErrClosed
	}
	return schemaVersion(j.db)
}
