package scheduler

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"splendid-controller/internal/core"
)

func newTestScheduler(t *testing.T) (*Scheduler, core.CommandChannel, string) {
	t.Helper()
	file := filepath.Join(t.TempDir(), "schedules.json")
	ch := make(core.CommandChannel, 4)
	return NewScheduler(ch, file), ch, file
}

func TestAdd_Validates(t *testing.T) {
	s, _, _ := newTestScheduler(t)

	_, err := s.Add("not a spec", "sync")
	assert.ErrorIs(t, err, ErrInvalidSchedule)

	_, err = s.Add("0 22 * * *", "mode eyecare 9")
	assert.ErrorIs(t, err, ErrInvalidSchedule)

	_, err = s.Add("0 22 * * *", "power on")
	assert.ErrorIs(t, err, core.ErrUnknownCommand)

	assert.Empty(t, s.GetAll())
}

func TestAdd_PersistsAndReloads(t *testing.T) {
	s, ch, file := newTestScheduler(t)

	id1, err := s.Add("0 22 * * *", "mode eyecare 3")
	require.NoError(t, err)
	id2, err := s.Add("0 7 * * 1-5", "dimming 80")
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)

	all := s.GetAll()
	require.Len(t, all, 2)
	assert.Equal(t, "mode eyecare 3", all[0].Command)

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), "dimming 80")

	reloaded := NewScheduler(ch, file)
	got := reloaded.GetAll()
	require.Len(t, got, 2)
	assert.Equal(t, "0 22 * * *", got[0].Spec)
	assert.Equal(t, "0 7 * * 1-5", got[1].Spec)
}

func TestRemove(t *testing.T) {
	s, _, _ := newTestScheduler(t)

	id, err := s.Add("@hourly", "sync")
	require.NoError(t, err)

	require.NoError(t, s.Remove(id))
	assert.Empty(t, s.GetAll())
	assert.ErrorIs(t, s.Remove(id), ErrNotFound)
}

func TestLoad_DropsInvalidEntries(t *testing.T) {
	file := filepath.Join(t.TempDir(), "schedules.json")
	content := `[
  {"spec": "0 8 * * *", "command": "mode normal"},
  {"spec": "whenever", "command": "sync"},
  {"spec": "0 9 * * *", "command": "explode"}
]`
	require.NoError(t, os.WriteFile(file, []byte(content), 0o644))

	s := NewScheduler(make(core.CommandChannel), file)
	all := s.GetAll()
	require.Len(t, all, 1)
	assert.Equal(t, "mode normal", all[0].Command)
}

func TestExecute_DispatchesParsedCommand(t *testing.T) {
	s, ch, _ := newTestScheduler(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.execute("ereading on")
	}()

	select {
	case cmd := <-ch:
		assert.Equal(t, core.CmdSetEReading, cmd.Type)
		assert.Equal(t, true, cmd.Payload["on"])
		cmd.Reply <- nil
	case <-time.After(time.Second):
		t.Fatal("command not dispatched")
	}
	<-done
}
