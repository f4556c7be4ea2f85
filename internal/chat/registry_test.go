package chat

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aulachat/aulachat/internal/auth"
	"github.com/aulachat/aulachat/internal/protocol"
	"github.com/aulachat/aulachat/internal/store"
)

// fakePeer records delivered frames; failSend simulates a dead transport.
type fakePeer struct {
	mu       sync.Mutex
	alias    string
	role     string
	muted    bool
	room     string
	lines    []string
	failSend bool
	closed   bool
}

func newFakePeer(alias, role string) *fakePeer {
	return &fakePeer{alias: alias, role: role}
}

func (p *fakePeer) Alias() string { return p.alias }
func (p *fakePeer) Role() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.role
}
func (p *fakePeer) SetRole(role string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.role = role
}
func (p *fakePeer) Muted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.muted
}
func (p *fakePeer) SetMuted(muted bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.muted = muted
}
func (p *fakePeer) Room() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.room
}
func (p *fakePeer) SetRoom(room string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.room = room
}
func (p *fakePeer) Send(line string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failSend {
		return errors.New("broken pipe")
	}
	p.lines = append(p.lines, line)
	return nil
}
func (p *fakePeer) ForceClose(notice string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

func (p *fakePeer) received() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.lines...)
}

func newTestRegistry(t *testing.T) (*Registry, *store.Store) {
	t.Helper()
	st, err := store.Open(t.TempDir(), []string{"General", "Equipo 1", "Equipo 2"}, 1000)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return NewRegistry(st), st
}

func TestBroadcastExcludesSenderAndRecordsHistory(t *testing.T) {
	r, st := newTestRegistry(t)

	ana := newFakePeer("ana", auth.RoleAdmin)
	luis := newFakePeer("luis", auth.RoleEstudiante)
	require.NoError(t, r.Attach(ana, "General"))
	require.NoError(t, r.Attach(luis, "General"))

	r.Broadcast("General", "ana: hola", ana)

	require.Len(t, luis.received(), 1)
	assert.Contains(t, luis.received()[0], "ana: hola")
	assert.Empty(t, ana.received())

	hist := st.History("General")
	require.Len(t, hist, 1)
	assert.Contains(t, hist[0], "ana: hola")
	// Timestamped as [HH:MM].
	assert.Regexp(t, `^\[\d{2}:\d{2}\] `, hist[0])
}

func TestBroadcastUnknownRoomIsNoOp(t *testing.T) {
	r, st := newTestRegistry(t)
	r.Broadcast("Inexistente", "hola", nil)
	assert.Empty(t, st.History("Inexistente"))
}

func TestBroadcastPartialFailureIsolation(t *testing.T) {
	r, _ := newTestRegistry(t)

	ok1 := newFakePeer("ok1", auth.RoleEstudiante)
	broken := newFakePeer("broken", auth.RoleEstudiante)
	ok2 := newFakePeer("ok2", auth.RoleEstudiante)
	broken.failSend = true

	require.NoError(t, r.Attach(ok1, "General"))
	require.NoError(t, r.Attach(broken, "General"))
	require.NoError(t, r.Attach(ok2, "General"))

	r.Broadcast("General", "sistema: aviso", nil)

	// Healthy recipients still got the message.
	require.Len(t, ok1.received(), 1)
	require.Len(t, ok2.received(), 1)

	// The failing recipient was force-removed.
	assert.True(t, broken.closed)
	assert.Equal(t, 2, r.SessionCount())
}

func TestCreateRoom(t *testing.T) {
	r, st := newTestRegistry(t)

	ana := newFakePeer("ana", auth.RoleAdmin)
	require.NoError(t, r.Attach(ana, "General"))

	require.NoError(t, r.CreateRoom("Lab1"))
	assert.ErrorIs(t, r.CreateRoom("Lab1"), ErrRoomExists)

	assert.Equal(t, []string{"General", "Equipo 1", "Equipo 2", "Lab1"}, r.RoomNames())
	assert.Equal(t, []string{"General", "Equipo 1", "Equipo 2", "Lab1"}, st.RoomNames())

	// Every session saw the updated room list.
	var sawUpdate bool
	for _, line := range ana.received() {
		if strings.HasPrefix(line, protocol.PrefixRoomsUpdate) && strings.Contains(line, "Lab1") {
			sawUpdate = true
		}
	}
	assert.True(t, sawUpdate, "expected a ROOMS_UPDATE frame with Lab1")
}

func TestDeleteRoomMigratesMembers(t *testing.T) {
	r, st := newTestRegistry(t)

	st.SetPin("General", "examen viernes")

	ana := newFakePeer("ana", auth.RoleEstudiante)
	require.NoError(t, r.Attach(ana, "Equipo 2"))

	require.NoError(t, r.DeleteRoom("Equipo 2"))

	assert.Equal(t, "General", ana.Room())
	assert.Equal(t, []string{"General", "Equipo 1"}, r.RoomNames())
	assert.Equal(t, []string{"General", "Equipo 1"}, st.RoomNames())

	// The moved member observed a notice, a history snapshot and the pin
	// of the fallback room.
	var sawSnapshot, sawPin bool
	for _, line := range ana.received() {
		if strings.HasPrefix(line, protocol.PrefixHistoryBatch) && strings.Contains(line, `"room":"General"`) {
			sawSnapshot = true
		}
		if line == protocol.PrefixPinUpdate+"examen viernes" {
			sawPin = true
		}
	}
	assert.True(t, sawSnapshot, "expected history snapshot for fallback room")
	assert.True(t, sawPin, "expected pin update for fallback room")
}

func TestDeleteFirstRoomFallsBackToSecond(t *testing.T) {
	r, _ := newTestRegistry(t)

	ana := newFakePeer("ana", auth.RoleEstudiante)
	require.NoError(t, r.Attach(ana, "General"))

	require.NoError(t, r.DeleteRoom("General"))
	assert.Equal(t, "Equipo 1", ana.Room())
}

func TestDeleteLastRoomRejected(t *testing.T) {
	st, err := store.Open(t.TempDir(), []string{"General"}, 1000)
	require.NoError(t, err)
	defer st.Close()

	r := NewRegistry(st)
	assert.ErrorIs(t, r.DeleteRoom("General"), ErrLastRoom)
	assert.ErrorIs(t, r.DeleteRoom("Inexistente"), ErrRoomNotFound)
}

func TestSwitchRooms(t *testing.T) {
	r, _ := newTestRegistry(t)

	ana := newFakePeer("ana", auth.RoleEstudiante)
	require.NoError(t, r.Attach(ana, "General"))

	assert.ErrorIs(t, r.Switch(ana, "Inexistente"), ErrRoomNotFound)
	assert.Equal(t, "General", ana.Room())

	require.NoError(t, r.Switch(ana, "Equipo 1"))
	assert.Equal(t, "Equipo 1", ana.Room())

	// Messages to the old room no longer reach the peer.
	r.Broadcast("General", "hola", nil)
	assert.Empty(t, ana.received())
}

func TestUsersByRoomAnnotations(t *testing.T) {
	r, _ := newTestRegistry(t)

	ana := newFakePeer("ana", auth.RoleAdmin)
	luis := newFakePeer("luis", auth.RoleEstudiante)
	eva := newFakePeer("eva", auth.RoleDocente)
	eva.SetMuted(true)

	require.NoError(t, r.Attach(ana, "General"))
	require.NoError(t, r.Attach(luis, "General"))
	require.NoError(t, r.Attach(eva, "Equipo 1"))

	byRoom := r.UsersByRoom()
	assert.ElementsMatch(t, []string{"ana [ADMIN]", "luis"}, byRoom["General"])
	assert.Equal(t, []string{"eva [DOCENTE] 🔇"}, byRoom["Equipo 1"])
	assert.Empty(t, byRoom["Equipo 2"])
}

func TestFindByAlias(t *testing.T) {
	r, _ := newTestRegistry(t)

	ana := newFakePeer("Ana", auth.RoleEstudiante)
	require.NoError(t, r.Attach(ana, "General"))

	_, found := r.FindByAlias("ana", false)
	assert.False(t, found)

	p, found := r.FindByAlias("ana", true)
	require.True(t, found)
	assert.Same(t, ana, p.(*fakePeer))
}

func TestFindAllByAlias(t *testing.T) {
	r, _ := newTestRegistry(t)

	first := newFakePeer("luis", auth.RoleEstudiante)
	second := newFakePeer("luis", auth.RoleEstudiante)
	other := newFakePeer("ana", auth.RoleAdmin)
	require.NoError(t, r.Attach(first, "General"))
	require.NoError(t, r.Attach(second, "Equipo 1"))
	require.NoError(t, r.Attach(other, "General"))

	matches := r.FindAllByAlias("luis", false)
	assert.ElementsMatch(t, []Peer{first, second}, matches)

	assert.Empty(t, r.FindAllByAlias("LUIS", false))
	assert.Len(t, r.FindAllByAlias("LUIS", true), 2)
}

func TestRemoveIsIdempotent(t *testing.T) {
	r, _ := newTestRegistry(t)

	ana := newFakePeer("ana", auth.RoleEstudiante)
	require.NoError(t, r.Attach(ana, "General"))

	room, removed := r.Remove(ana)
	assert.True(t, removed)
	assert.Equal(t, "General", room)

	_, removed = r.Remove(ana)
	assert.False(t, removed)
	assert.Equal(t, 0, r.SessionCount())
}

func TestEventSink(t *testing.T) {
	r, _ := newTestRegistry(t)

	var mu sync.Mutex
	var kinds []string
	r.SetEventSink(func(e Event) {
		mu.Lock()
		kinds = append(kinds, e.Kind)
		mu.Unlock()
	})

	ana := newFakePeer("ana", auth.RoleEstudiante)
	require.NoError(t, r.Attach(ana, "General"))
	r.Broadcast("General", "hola", nil)
	require.NoError(t, r.CreateRoom("Lab1"))
	r.Remove(ana)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{EventJoin, EventMessage, EventRoomCreated, EventLeave}, kinds)
}
