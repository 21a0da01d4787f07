package journal

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"gioui.org/io/key"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tsfbridge/internal/memdoc"
	"tsfbridge/internal/textstore"
	"tsfbridge/internal/tip"
)

func openTemp(t *testing.T, opts Options) (*Journal, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "journal.db")
	j, err := Open(path, opts)
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j, path
}

func TestOpenAppliesMigrations(t *testing.T) {
	j, _ := openTemp(t, Options{})

	v, err := j.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, migrations[len(migrations)-1].Version, v)
	assert.Len(t, j.secret, 32)
}

func TestSecretSurvivesReopen(t *testing.T) {
	j, path := openTemp(t, Options{})
	secret := append([]byte(nil), j.secret...)
	require.NoError(t, j.Close())

	j2, err := Open(path, Options{})
	require.NoError(t, err)
	defer j2.Close()
	assert.Equal(t, secret, j2.secret)
}

func TestSessionRecordsActions(t *testing.T) {
	j, _ := openTemp(t, Options{})
	s, err := j.StartSession("unit", "ms-pinyin")
	require.NoError(t, err)

	s.ActionFlushed(3, textstore.PendingAction{Kind: textstore.ActionCompositionStart, Offset: 2, Length: 0}, nil)
	s.ActionFlushed(3, textstore.PendingAction{
		Kind:       textstore.ActionCompositionUpdate,
		Data:       "にほ",
		Ranges:     []textstore.StyledRange{{}},
		Incomplete: true,
	}, nil)
	s.ActionFlushed(3, textstore.PendingAction{Kind: textstore.ActionCompositionEnd, Offset: 2, Data: "日本"}, errors.New("document gone"))
	s.ActionFlushed(3, textstore.PendingAction{Kind: textstore.ActionForwardKey, Key: key.Event{Name: "A", Modifiers: key.ModShift}}, nil)
	s.Notified(3, textstore.Notification{Kind: textstore.NotifyText, Change: textstore.TextChange{Start: 2, OldEnd: 2, NewEnd: 4}})
	require.NoError(t, s.End())

	actions, err := j.Actions(s.ID())
	require.NoError(t, err)
	require.Len(t, actions, 4)

	assert.Equal(t, "composition-start", actions[0].Kind)
	assert.Nil(t, actions[0].Digest)

	assert.Equal(t, "composition-update", actions[1].Kind)
	assert.Equal(t, 2, actions[1].Runes)
	assert.True(t, actions[1].Incomplete)
	assert.Equal(t, 1, actions[1].Ranges)
	assert.Equal(t, s.Digest("にほ"), actions[1].Digest)

	assert.Equal(t, "composition-end", actions[2].Kind)
	assert.Equal(t, s.Digest("日本"), actions[2].Digest)
	assert.Equal(t, "document gone", actions[2].Error)

	assert.Equal(t, s.Digest("A|Shift"), actions[3].Digest)
	assert.Equal(t, textstore.StoreID(3), actions[3].StoreID)

	notes, err := j.Notifications(s.ID())
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, NotificationRecord{
		StoreID: 3, Seq: 5, Kind: "text", Start: 2, OldEnd: 2, NewEnd: 4, At: notes[0].At,
	}, notes[0])
	assert.Zero(t, s.Failures())
}

func TestDigestsArePerSession(t *testing.T) {
	j, _ := openTemp(t, Options{})
	a, err := j.StartSession("a", "")
	require.NoError(t, err)
	b, err := j.StartSession("b", "")
	require.NoError(t, err)

	assert.Equal(t, a.Digest("secret"), a.Digest("secret"))
	assert.NotEqual(t, a.Digest("secret"), b.Digest("secret"))
	assert.NotEqual(t, a.Digest("secret"), a.Digest("Secret"))
}

func TestEndedSessionIgnoresRecords(t *testing.T) {
	j, _ := openTemp(t, Options{})
	s, err := j.StartSession("short", "")
	require.NoError(t, err)
	require.NoError(t, s.End())
	require.NoError(t, s.End())

	s.Notified(1, textstore.Notification{Kind: textstore.NotifyLayout})

	sessions, err := j.Sessions()
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.False(t, sessions[0].Open())
	assert.Zero(t, sessions[0].Notifications)
}

func TestPruneKeepsOpenSessions(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	j, path := openTemp(t, Options{Now: func() time.Time { return now }})

	old, err := j.StartSession("old", "")
	require.NoError(t, err)
	old.Notified(1, textstore.Notification{Kind: textstore.NotifyLayout})
	require.NoError(t, old.End())
	_, err = j.StartSession("open", "")
	require.NoError(t, err)
	require.NoError(t, j.Close())

	now = now.AddDate(0, 0, 10)
	j2, err := Open(path, Options{RetentionDays: 7, Now: func() time.Time { return now }})
	require.NoError(t, err)
	defer j2.Close()

	sessions, err := j2.Sessions()
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "open", sessions[0].Label)

	notes, err := j2.Notifications(old.ID())
	require.NoError(t, err)
	assert.Empty(t, notes, "notifications go with their session")
}

func TestClosedJournal(t *testing.T) {
	j, _ := openTemp(t, Options{})
	require.NoError(t, j.Close())

	_, err := j.StartSession("late", "")
	assert.ErrorIs(t, err, ErrClosed)
	_, err = j.Sessions()
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, j.Close())
}

type recorder struct {
	kinds []string
	notes []string
}

func (r *recorder) ActionFlushed(_ textstore.StoreID, a textstore.PendingAction, _ error) {
	r.kinds = append(r.kinds, a.Kind.String())
}

func (r *recorder) Notified(_ textstore.StoreID, n textstore.Notification) {
	r.notes = append(r.notes, n.Kind.String())
}

func TestSessionObservesStore(t *testing.T) {
	j, _ := openTemp(t, Options{})
	s, err := j.StartSession("typing", "")
	require.NoError(t, err)

	rec := &recorder{}
	doc := memdoc.New("hello ")
	svc := tip.New(nil)
	store, err := textstore.New(doc, svc, &textstore.Services{
		Observers: []textstore.Observer{s, rec},
	})
	require.NoError(t, err)
	doc.Attach(store)
	require.NoError(t, svc.Attach(store))

	require.NoError(t, svc.Type("world"))
	require.NoError(t, doc.Edit(0, 0, ">"))
	require.NoError(t, s.End())

	assert.Equal(t, "hello world", doc.Text()[1:])

	actions, err := j.Actions(s.ID())
	require.NoError(t, err)
	var kinds []string
	var commit *ActionRecord
	for i, a := range actions {
		kinds = append(kinds, a.Kind)
		if a.Kind == "composition-end" {
			commit = &actions[i]
		}
	}
	assert.Equal(t, rec.kinds, kinds)
	require.NotNil(t, commit)
	assert.Equal(t, s.Digest("world"), commit.Digest)
	assert.Equal(t, 5, commit.Runes)

	notes, err := j.Notifications(s.ID())
	require.NoError(t, err)
	assert.Len(t, notes, len(rec.notes))
	assert.NotEmpty(t, notes)
}
