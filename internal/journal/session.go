package journal

import (
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"fmt"
	"io"
	"unicode/utf8"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/hkdf"

	"tsfbridge/internal/textstore"
)

const digestInfo = "tsfbridge journal digest v1"

// Session records one run of text stores. It implements textstore.Observer
// and must be used from the stores' thread.
type Session struct {
	j     *Journal
	id    int64
	key   []byte
	seq   int
	ended bool

	failures int
}

var _ textstore.Observer = (*Session)(nil)

// StartSession opens a session. processor names the input processor the
// stores run against.
func (j *Journal) StartSession(label, processor string) (*Session, error) {
	if j.db == nil {
		return nil, ErrClosed
	}
	res, err := j.db.Exec(`INSERT INTO sessions (label, processor, started_ns) VALUES (?, ?, ?)`,
		label, processor, j.now().UnixNano())
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get session id: %w", err)
	}
	key, err := sessionKey(j.secret, id)
	if err != nil {
		return nil, err
	}
	j.log.Debug("journal session started", "session", id, "processor", processor)
	return &Session{j: j, id: id, key: key}, nil
}

// sessionKey derives the digest key of one session from the journal
// secret, so equal strings only compare equal inside a session.
func sessionKey(secret []byte, id int64) ([]byte, error) {
	salt := make([]byte, 8)
	binary.BigEndian.PutUint64(salt, uint64(id))
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, []byte(digestInfo)), key); err != nil {
		return nil, fmt.Errorf("derive session key: %w", err)
	}
	return key, nil
}

// ID returns the session's row ID.
func (s *Session) ID() int64 {
	return s.id
}

// Digest returns the keyed digest the session stores for text.
func (s *Session) Digest(text string) []byte {
	h, err := blake2b.New256(s.key)
	if err != nil {
		// Only reachable with a key longer than 64 bytes.
		panic(err)
	}
	io.WriteString(h, text)
	return h.Sum(nil)
}

// Failures returns how many records could not be written.
func (s *Session) Failures() int {
	return s.failures
}

// ActionFlushed records a command sent to the document.
func (s *Session) ActionFlushed(id textstore.StoreID, a textstore.PendingAction, flushErr error) {
	if s.ended {
		return
	}
	var digest any
	runes := 0
	switch a.Kind {
	case textstore.ActionForwardKey:
		digest = s.Digest(string(a.Key.Name) + "|" + a.Key.Modifiers.String())
	case textstore.ActionSetSelection:
	default:
		if a.Data != "" {
			digest = s.Digest(a.Data)
		}
		runes = utf8.RuneCountInString(a.Data)
	}
	var errText sql.NullString
	if flushErr != nil {
		errText = sql.NullString{String: flushErr.Error(), Valid: true}
	}
	s.seq++
	_, err := s.j.db.Exec(`
		INSERT INTO actions (session_id, store_id, seq, kind, pos, len, runes, digest, error, incomplete, ranges, at_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.id, uint64(id), s.seq, a.Kind.String(), a.Offset, a.Length, runes, digest, errText,
		a.Incomplete, len(a.Ranges), s.j.now().UnixNano(),
	)
	s.check("action", err)
}

// Notified records a notification sent to the input service.
func (s *Session) Notified(id textstore.StoreID, n textstore.Notification) {
	if s.ended {
		return
	}
	s.seq++
	_, err := s.j.db.Exec(`
		INSERT INTO notifications (session_id, store_id, seq, kind, start, old_end, new_end, by_composition, at_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.id, uint64(id), s.seq, n.Kind.String(), n.Change.Start, n.Change.OldEnd, n.Change.NewEnd,
		n.Change.CausedOnlyByComposition, s.j.now().UnixNano(),
	)
	s.check("notification", err)
}

func (s *Session) check(what string, err error) {
	if err == nil {
		return
	}
	s.failures++
	s.j.log.Warn("journal write failed", "session", s.id, "record", what, "error", err)
}

// End closes the session. Later records are ignored.
func (s *Session) End() error {
	if s.ended {
		return nil
	}
	s.ended = true
	if s.j.db == nil {
		return ErrClosed
	}
	if _, err := s.j.db.Exec(`UPDATE sessions SET ended_ns = ? WHERE id = ?`, s.j.now().UnixNano(), s.id); err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	s.j.log.Debug("journal session ended", "session", s.id, "records", s.seq)
	return nil
}
