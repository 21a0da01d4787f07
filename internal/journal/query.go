package journal

import (
	"database/sql"
	"fmt"
	"time"

	"tsfbridge/internal/textstore"
)

// SessionInfo summarizes a session.
type SessionInfo struct {
	ID            int64
	Label         string
	Processor     string
	Started       time.Time
	Ended         time.Time // zero while open
	Actions       int
	Notifications int
}

// Open reports whether the session has not ended.
func (si SessionInfo) Open() bool {
	return si.Ended.IsZero()
}

// ActionRecord is a stored document command.
type ActionRecord struct {
	StoreID    textstore.StoreID
	Seq        int
	Kind       string
	Offset     int
	Length     int
	Runes      int
	Digest     []byte
	Error      string
	Incomplete bool
	Ranges     int
	At         time.Time
}

// NotificationRecord is a stored service notification.
type NotificationRecord struct {
	StoreID       textstore.StoreID
	Seq           int
	Kind          string
	Start         int
	OldEnd        int
	NewEnd        int
	ByComposition bool
	At            time.Time
}

// Sessions lists sessions, newest first.
func (j *Journal) Sessions() ([]SessionInfo, error) {
	if j.db == nil {
		return nil, ErrClosed
	}
	rows, err := j.db.Query(`
		SELECT s.id, s.label, s.processor, s.started_ns, s.ended_ns,
		       (SELECT COUNT(*) FROM actions a WHERE a.session_id = s.id),
		       (SELECT COUNT(*) FROM notifications n WHERE n.session_id = s.id)
		FROM sessions s ORDER BY s.id DESC`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionInfo
	for rows.Next() {
		var si SessionInfo
		var started int64
		var ended sql.NullInt64
		if err := rows.Scan(&si.ID, &si.Label, &si.Processor, &started, &ended, &si.Actions, &si.Notifications); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		si.Started = time.Unix(0, started)
		if ended.Valid {
			si.Ended = time.Unix(0, ended.Int64)
		}
		out = append(out, si)
	}
	return out, rows.Err()
}

// Actions returns a session's commands in the order they were sent.
func (j *Journal) Actions(sessionID int64) ([]ActionRecord, error) {
	if j.db == nil {
		return nil, ErrClosed
	}
	rows, err := j.db.Query(`
		SELECT store_id, seq, kind, pos, len, runes, digest, error, incomplete, ranges, at_ns
		FROM actions WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query actions: %w", err)
	}
	defer rows.Close()

	var out []ActionRecord
	for rows.Next() {
		var r ActionRecord
		var storeID uint64
		var errText sql.NullString
		var at int64
		if err := rows.Scan(&storeID, &r.Seq, &r.Kind, &r.Offset, &r.Length, &r.Runes, &r.Digest,
			&errText, &r.Incomplete, &r.Ranges, &at); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		r.StoreID = textstore.StoreID(storeID)
		r.Error = errText.String
		r.At = time.Unix(0, at)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Notifications returns a session's notifications in delivery order.
func (j *Journal) Notifications(sessionID int64) ([]NotificationRecord, error) {
	if j.db == nil {
		return nil, ErrClosed
	}
	rows, err := j.db.Query(`
		SELECT store_id, seq, kind, start, old_end, new_end, by_composition, at_ns
		FROM notifications WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	var out []NotificationRecord
	for rows.Next() {
		var r NotificationRecord
		var storeID uint64
		var at int64
		if err := rows.Scan(&storeID, &r.Seq, &r.Kind, &r.Start, &r.OldEnd, &r.NewEnd, &r.ByComposition, &at); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		r.StoreID = textstore.StoreID(storeID)
		r.At = time.Unix(0, at)
		out = append(out, r)
	}
	return out, rows.Err()
}
