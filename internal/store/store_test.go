package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var seedRooms = []string{"General", "Equipo 1", "Equipo 2"}

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(dir, seedRooms, 1000)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, dir
}

func TestOpenSeedsAndCreatesFiles(t *testing.T) {
	s, dir := openTestStore(t)

	assert.Equal(t, seedRooms, s.RoomNames())

	// Every seed room has empty history and pin entries.
	for _, room := range seedRooms {
		assert.Empty(t, s.History(room))
		assert.Equal(t, "", s.Pin(room))
	}

	// The initial flush created all four documents.
	for _, name := range []string{usersFile, roomsFile, historyFile, pinsFile} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}
}

func TestOpenRecoversFromMalformedDataset(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, roomsFile), []byte("{not json"), 0644))

	s, err := Open(dir, seedRooms, 1000)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, seedRooms, s.RoomNames())
}

func TestDirtyFlagLifecycle(t *testing.T) {
	s, dir := openTestStore(t)

	s.PutUser("ana", UserRecord{PasswordHash: "h", Role: "admin"})
	assert.True(t, s.Stats().DirtyUsers)

	require.NoError(t, s.Flush())
	assert.False(t, s.Stats().DirtyUsers)

	data, err := os.ReadFile(filepath.Join(dir, usersFile))
	require.NoError(t, err)

	var users map[string]UserRecord
	require.NoError(t, json.Unmarshal(data, &users))
	assert.Equal(t, "admin", users["ana"].Role)
}

func TestHistoryTrimsToLimit(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, seedRooms, 5)
	require.NoError(t, err)
	defer s.Close()

	for i := 0; i < 7; i++ {
		s.AppendHistory("General", fmt.Sprintf("msg %d", i))
	}

	hist := s.History("General")
	require.Len(t, hist, 5)
	assert.Equal(t, "msg 2", hist[0])
	assert.Equal(t, "msg 6", hist[4])
}

func TestReadsReturnCopies(t *testing.T) {
	s, _ := openTestStore(t)

	s.AppendHistory("General", "hola")
	hist := s.History("General")
	hist[0] = "mutated"
	assert.Equal(t, []string{"hola"}, s.History("General"))

	names := s.RoomNames()
	names[0] = "mutated"
	assert.Equal(t, "General", s.RoomNames()[0])

	s.PutUser("ana", UserRecord{Role: "admin"})
	users := s.Users()
	users["ana"] = UserRecord{Role: "estudiante"}
	rec, _ := s.User("ana")
	assert.Equal(t, "admin", rec.Role)
}

func TestSetRoomNamesReconcilesDatasets(t *testing.T) {
	s, _ := openTestStore(t)

	s.AppendHistory("Equipo 2", "adios")
	s.SetPin("Equipo 2", "pinned")

	s.SetRoomNames([]string{"General", "Equipo 1", "Lab1"})

	assert.Empty(t, s.History("Lab1"))
	assert.Equal(t, "", s.Pin("Lab1"))
	assert.Empty(t, s.History("Equipo 2"))
	assert.Equal(t, "", s.Pin("Equipo 2"))
}

func TestPersistenceAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir, seedRooms, 1000)
	require.NoError(t, err)
	s.PutUser("ana", UserRecord{PasswordHash: "h", Role: "admin"})
	s.AppendHistory("General", "[10:00] hola")
	s.SetPin("General", "examen viernes")
	require.NoError(t, s.Close())

	s2, err := Open(dir, seedRooms, 1000)
	require.NoError(t, err)
	defer s2.Close()

	rec, ok := s2.User("ana")
	require.True(t, ok)
	assert.Equal(t, "admin", rec.Role)
	assert.Equal(t, []string{"[10:00] hola"}, s2.History("General"))
	assert.Equal(t, "examen viernes", s2.Pin("General"))
}

func TestDataDirLock(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir, seedRooms, 1000)
	require.NoError(t, err)
	defer s.Close()

	_, err = Open(dir, seedRooms, 1000)
	assert.ErrorIs(t, err, ErrLocked)
}
