package chat

import "time"

// Peer is one attached, authenticated session as the registry sees it.
// Send must not block: implementations queue outbound frames and report an
// error when the queue is full or the session is closing.
type Peer interface {
	Alias() string
	Role() string
	SetRole(role string)
	Muted() bool
	SetMuted(muted bool)
	Room() string
	SetRoom(room string)
	Send(line string) error
	// ForceClose delivers a final notice best-effort and tears the
	// session down.
	ForceClose(notice string)
}

// Event kinds published to the monitoring sink.
const (
	EventJoin        = "join"
	EventLeave       = "leave"
	EventMessage     = "message"
	EventRoomCreated = "room_created"
	EventRoomDeleted = "room_deleted"
)

// Event describes one observable state change for the ops feed.
type Event struct {
	Kind  string    `json:"kind"`
	Room  string    `json:"room,omitempty"`
	Alias string    `json:"alias,omitempty"`
	Time  time.Time `json:"time"`
}
