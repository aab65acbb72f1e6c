package transcript

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"surveychat/pkg/proto"
)

func msg(role proto.Role, text string) proto.Message {
	return proto.Message{Role: role, Text: text, At: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func TestRecordAndRead(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir)
	require.NoError(t, err)
	defer w.Close()

	assert.Empty(t, w.CurrentFile())
	require.NoError(t, w.Record("s-1", msg(proto.RoleAssistant, "Question one?")))
	require.NoError(t, w.Record("s-1", msg(proto.RoleRespondent, "My answer")))

	assert.Equal(t, filepath.Join(dir, "session-s-1.jsonl"), w.CurrentFile())

	entries, err := Read(w.CurrentFile())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "s-1", entries[0].SessionID)
	assert.Equal(t, proto.RoleAssistant, entries[0].Message.Role)
	assert.Equal(t, "My answer", entries[1].Message.Text)
}

func TestSwitchesFilePerSession(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir)
	require.NoError(t, err)

	require.NoError(t, w.Record("a", msg(proto.RoleAssistant, "one")))
	require.NoError(t, w.Record("b/../c", msg(proto.RoleAssistant, "two")))
	require.NoError(t, w.Record("a", msg(proto.RoleRespondent, "three")))
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	files, err := List(dir)
	require.NoError(t, err)
	assert.Len(t, files, 2)

	entries, err := Read(PathFor(dir, "a"))
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	_, err = os.Stat(filepath.Join(dir, "session-b_.._c.jsonl"))
	assert.NoError(t, err)
}

func TestRecordRequiresSession(t *testing.T) {
	w, err := NewWriter(t.TempDir())
	require.NoError(t, err)
	defer w.Close()
	assert.Error(t, w.Record("", msg(proto.RoleAssistant, "x")))
}

func TestReadRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session-x.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{\"session_id\":\"x\"}\n\nnot json\n"), 0644))
	_, err := Read(path)
	assert.ErrorContains(t, err, "line 3")
}
