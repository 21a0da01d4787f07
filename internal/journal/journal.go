// Package journal records text store sessions in SQLite.
//
// The journal keeps the shape of a session: which commands reached the
// document, in what order, over which ranges, and which notifications the
// input service received. Text never reaches the database. Committed
// strings and forwarded keys are stored as keyed BLAKE2b digests, so two
// records can be compared for equality within a session without revealing
// what was typed.
package journal

import (
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrClosed is returned by operations on a closed journal.
var ErrClosed = errors.New("journal: closed")

// Options configure Open.
type Options struct {
	// BusyTimeout is how long SQLite waits on a locked database.
	BusyTimeout time.Duration

	// RetentionDays prunes sessions that ended longer ago when the journal
	// opens. Zero keeps everything.
	RetentionDays int

	Logger *slog.Logger

	// Now replaces time.Now.
	Now func() time.Time
}

// Journal is an open journal database.
type Journal struct {
	db     *sql.DB
	secret []byte
	log    *slog.Logger
	now    func() time.Time
}

// Open opens or creates the journal at path and applies pending
// migrations.
func Open(path string, opts Options) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}
	timeout := opts.BusyTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=%d", path, timeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	// Sessions write from the store's thread; one connection keeps
	// statement order equal to call order.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	j := &Journal{db: db, log: opts.Logger, now: opts.Now}
	if j.log == nil {
		j.log = slog.New(slog.DiscardHandler)
	}
	if j.now == nil {
		j.now = time.Now
	}
	if j.secret, err = j.loadSecret(); err != nil {
		db.Close()
		return nil, err
	}
	if opts.RetentionDays > 0 {
		n, err := j.Prune(j.now().AddDate(0, 0, -opts.RetentionDays))
		if err != nil {
			db.Close()
			return nil, err
		}
		if n > 0 {
			j.log.Info("pruned journal sessions", "sessions", n, "retention_days", opts.RetentionDays)
		}
	}
	return j, nil
}

// loadSecret returns the journal's digest secret, creating it on first
// use.
func (j *Journal) loadSecret() ([]byte, error) {
	var secret []byte
	err := j.db.QueryRow(`SELECT value FROM meta WHERE name = 'digest_secret'`).Scan(&secret)
	if err == nil {
		return secret, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("read digest secret: %w", err)
	}
	secret = make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate digest secret: %w", err)
	}
	if _, err := j.db.Exec(`INSERT INTO meta (name, value) VALUES ('digest_secret', ?)`, secret); err != nil {
		return nil, fmt.Errorf("store digest secret: %w", err)
	}
	return secret, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	err := j.db.Close()
	j.db = nil
	return err
}

// Prune deletes sessions that ended before cutoff and returns how many
// went. Open sessions are kept.
func (j *Journal) Prune(cutoff time.Time) (int64, error) {
	if j.db == nil {
		return 0, ErrClosed
	}
	res, err := j.db.Exec(`DELETE FROM sessions WHERE ended_ns IS NOT NULL AND ended_ns < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune sessions: %w", err)
	}
	return res.RowsAffected()
}
