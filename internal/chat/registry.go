// Package chat holds the room registry and the broadcast engine: named rooms
// with attached sessions, fan-out with history recording, room-list and pin
// propagation. All membership and session-table mutations happen under one
// registry lock.
package chat

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/aulachat/aulachat/internal/auth"
	"github.com/aulachat/aulachat/internal/logger"
	"github.com/aulachat/aulachat/internal/protocol"
	"github.com/aulachat/aulachat/internal/store"
)

var (
	// ErrRoomExists is returned when creating a room whose name is taken.
	ErrRoomExists = errors.New("room already exists")
	// ErrRoomNotFound is returned for operations on unknown rooms.
	ErrRoomNotFound = errors.New("room not found")
	// ErrLastRoom is returned when deleting would leave no rooms.
	ErrLastRoom = errors.New("cannot delete the last room")
)

// Registry owns room membership and the global session table. Room order is
// explicit so the fallback room on deletion is deterministic.
type Registry struct {
	store *store.Store

	mu    sync.Mutex
	order []string
	rooms map[string]map[Peer]struct{}
	peers map[Peer]struct{}

	sink func(Event)
}

// NewRegistry builds the registry from the persisted room-name list.
func NewRegistry(st *store.Store) *Registry {
	r := &Registry{
		store: st,
		rooms: make(map[string]map[Peer]struct{}),
		peers: make(map[Peer]struct{}),
	}
	for _, name := range st.RoomNames() {
		r.order = append(r.order, name)
		r.rooms[name] = make(map[Peer]struct{})
	}
	return r
}

// SetEventSink installs the observer for monitoring events. The sink must
// not block.
func (r *Registry) SetEventSink(sink func(Event)) {
	r.mu.Lock()
	r.sink = sink
	r.mu.Unlock()
}

func (r *Registry) emit(event Event) {
	r.mu.Lock()
	sink := r.sink
	r.mu.Unlock()
	if sink != nil {
		event.Time = time.Now()
		sink(event)
	}
}

// RoomNames returns the rooms in registry order.
func (r *Registry) RoomNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

// FirstRoom returns the room new sessions are attached to.
func (r *Registry) FirstRoom() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.order) == 0 {
		return ""
	}
	return r.order[0]
}

// SessionCount returns the number of attached sessions.
func (r *Registry) SessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}

// Attach registers p in the session table and adds it to room.
func (r *Registry) Attach(p Peer, room string) error {
	r.mu.Lock()
	members, ok := r.rooms[room]
	if !ok {
		r.mu.Unlock()
		return ErrRoomNotFound
	}
	members[p] = struct{}{}
	r.peers[p] = struct{}{}
	p.SetRoom(room)
	r.mu.Unlock()

	r.emit(Event{Kind: EventJoin, Room: room, Alias: p.Alias()})
	return nil
}

// Switch moves p from its current room to target.
func (r *Registry) Switch(p Peer, target string) error {
	r.mu.Lock()
	members, ok := r.rooms[target]
	if !ok {
		r.mu.Unlock()
		return ErrRoomNotFound
	}
	if current, ok := r.rooms[p.Room()]; ok {
		delete(current, p)
	}
	members[p] = struct{}{}
	p.SetRoom(target)
	r.mu.Unlock()

	r.emit(Event{Kind: EventJoin, Room: target, Alias: p.Alias()})
	return nil
}

// Remove detaches p from its room and drops it from the session table. It
// reports the room p was in and whether p was still attached; it is safe to
// call more than once.
func (r *Registry) Remove(p Peer) (string, bool) {
	r.mu.Lock()
	if _, attached := r.peers[p]; !attached {
		r.mu.Unlock()
		return "", false
	}
	room := p.Room()
	if members, ok := r.rooms[room]; ok {
		delete(members, p)
	}
	delete(r.peers, p)
	r.mu.Unlock()

	r.emit(Event{Kind: EventLeave, Room: room, Alias: p.Alias()})
	return room, true
}

// FindByAlias returns the live session with the given alias. Moderation
// commands match case-insensitively, account commands exactly.
func (r *Registry) FindByAlias(alias string, fold bool) (Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for p := range r.peers {
		if p.Alias() == alias || (fold && strings.EqualFold(p.Alias(), alias)) {
			return p, true
		}
	}
	return nil, false
}

// FindAllByAlias returns every live session with the given alias. Nothing
// stops an account from being connected more than once, so account-wide
// actions must cover all of them.
func (r *Registry) FindAllByAlias(alias string, fold bool) []Peer {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Peer
	for p := range r.peers {
		if p.Alias() == alias || (fold && strings.EqualFold(p.Alias(), alias)) {
			out = append(out, p)
		}
	}
	return out
}

// CreateRoom adds an empty room, persists the name list and propagates the
// updated list to every session.
func (r *Registry) CreateRoom(name string) error {
	r.mu.Lock()
	if _, exists := r.rooms[name]; exists {
		r.mu.Unlock()
		return ErrRoomExists
	}
	r.order = append(r.order, name)
	r.rooms[name] = make(map[Peer]struct{})
	names := append([]string(nil), r.order...)
	r.mu.Unlock()

	r.store.SetRoomNames(names)
	r.BroadcastRoomList()
	r.emit(Event{Kind: EventRoomCreated, Room: name})
	logger.Info("Room created: %s", name)
	return nil
}

// DeleteRoom removes a room, migrating attached sessions to the fallback
// room: the first room in registry order, or the second when the first is
// the one being deleted. At least one room always remains.
func (r *Registry) DeleteRoom(name string) error {
	r.mu.Lock()
	members, ok := r.rooms[name]
	if !ok {
		r.mu.Unlock()
		return ErrRoomNotFound
	}
	if len(r.order) <= 1 {
		r.mu.Unlock()
		return ErrLastRoom
	}

	fallback := r.order[0]
	if fallback == name {
		fallback = r.order[1]
	}

	moved := make([]Peer, 0, len(members))
	for p := range members {
		moved = append(moved, p)
	}
	for _, p := range moved {
		delete(members, p)
		r.rooms[fallback][p] = struct{}{}
		p.SetRoom(fallback)
	}

	delete(r.rooms, name)
	order := make([]string, 0, len(r.order)-1)
	for _, n := range r.order {
		if n != name {
			order = append(order, n)
		}
	}
	r.order = order
	names := append([]string(nil), r.order...)
	r.mu.Unlock()

	r.store.SetRoomNames(names)

	for _, p := range moved {
		p.Send("⚠️ La sala actual fue eliminada. Movido a " + fallback + ".")
		r.SendHistorySnapshot(p, fallback)
		p.Send(protocol.EncodePinUpdate(r.store.Pin(fallback)))
	}

	r.BroadcastRoomList()
	r.emit(Event{Kind: EventRoomDeleted, Room: name})
	logger.Info("Room deleted: %s (members moved to %s)", name, fallback)
	return nil
}

// Broadcast timestamps text, appends it to the room's history and delivers
// it to every attached session except exclude. A failed delivery removes
// that recipient without aborting the rest.
func (r *Registry) Broadcast(room, text string, exclude Peer) {
	r.mu.Lock()
	members, ok := r.rooms[room]
	if !ok {
		r.mu.Unlock()
		return
	}

	line := "[" + time.Now().Format("15:04") + "] " + text
	r.store.AppendHistory(room, line)

	var failed []Peer
	for p := range members {
		if p == exclude {
			continue
		}
		if err := p.Send(line); err != nil {
			failed = append(failed, p)
		}
	}
	r.mu.Unlock()

	for _, p := range failed {
		logger.Warn("Delivery to %s failed, removing session", p.Alias())
		r.Remove(p)
		p.ForceClose("")
	}

	r.emit(Event{Kind: EventMessage, Room: room})
}

// BroadcastRoomList sends the current room list to every session.
func (r *Registry) BroadcastRoomList() {
	frame, err := protocol.EncodeRoomsUpdate(r.RoomNames())
	if err != nil {
		logger.Error("Failed to encode room list: %v", err)
		return
	}

	r.mu.Lock()
	peers := make([]Peer, 0, len(r.peers))
	for p := range r.peers {
		peers = append(peers, p)
	}
	r.mu.Unlock()

	for _, p := range peers {
		p.Send(frame)
	}
}

// SendRoomList sends the current room list to one session.
func (r *Registry) SendRoomList(p Peer) error {
	frame, err := protocol.EncodeRoomsUpdate(r.RoomNames())
	if err != nil {
		return err
	}
	return p.Send(frame)
}

// SendHistorySnapshot delivers a room's full retained log to one session as
// a single batched frame.
func (r *Registry) SendHistorySnapshot(p Peer, room string) error {
	frame, err := protocol.EncodeHistoryBatch(room, r.store.History(room))
	if err != nil {
		return err
	}
	return p.Send(frame)
}

// BroadcastPin sends a room's current pin to every session attached to it.
func (r *Registry) BroadcastPin(room, pin string) {
	frame := protocol.EncodePinUpdate(pin)

	r.mu.Lock()
	members := make([]Peer, 0)
	for p := range r.rooms[room] {
		members = append(members, p)
	}
	r.mu.Unlock()

	for _, p := range members {
		p.Send(frame)
	}
}

// UsersByRoom lists, per room, the attached aliases annotated with
// non-default role and muted status.
func (r *Registry) UsersByRoom() map[string][]string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string][]string, len(r.order))
	for _, name := range r.order {
		entries := []string{}
		for p := range r.rooms[name] {
			info := p.Alias()
			if role := p.Role(); role != auth.RoleEstudiante {
				info += " [" + strings.ToUpper(role) + "]"
			}
			if p.Muted() {
				info += " 🔇"
			}
			entries = append(entries, info)
		}
		out[name] = entries
	}
	return out
}

// Shutdown force-closes every attached session.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	peers := make([]Peer, 0, len(r.peers))
	for p := range r.peers {
		peers = append(peers, p)
	}
	r.mu.Unlock()

	for _, p := range peers {
		r.Remove(p)
		p.ForceClose("")
	}
}
