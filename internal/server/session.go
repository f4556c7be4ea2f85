package server

import (
	"errors"
	"net"
	"strings"
	"sync"

	"github.com/aulachat/aulachat/internal/auth"
	"github.com/aulachat/aulachat/internal/logger"
	"github.com/aulachat/aulachat/internal/protocol"
)

const sendBufferSize = 256

var (
	errSessionClosed = errors.New("session is closed")
	errSendBuffer    = errors.New("send buffer full")
)

// Session is one client connection. A dedicated write pump drains the send
// channel so broadcasts from other sessions never block on a slow socket.
type Session struct {
	id   string
	srv  *Server
	conn *protocol.Conn

	mu         sync.Mutex
	alias      string
	role       string
	room       string
	muted      bool
	pendingPin string
	closed     bool

	send     chan string
	stopOnce sync.Once
}

func newSession(id string, conn net.Conn, srv *Server) *Session {
	return &Session{
		id:   id,
		srv:  srv,
		conn: protocol.NewConn(conn),
		send: make(chan string, sendBufferSize),
	}
}

// Alias returns the authenticated user name, empty before login.
func (sess *Session) Alias() string {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.alias
}

func (sess *Session) Role() string {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.role
}

func (sess *Session) SetRole(role string) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.role = role
}

func (sess *Session) Muted() bool {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.muted
}

func (sess *Session) SetMuted(muted bool) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.muted = muted
}

func (sess *Session) Room() string {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.room
}

// SetRoom moves the session to room. A staged pin confirmation belongs to
// the room it was issued in and never survives a change, whether the session
// switched on its own or was migrated out of a deleted room.
func (sess *Session) SetRoom(room string) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if room != sess.room {
		sess.pendingPin = ""
	}
	sess.room = room
}

// Send queues one frame for delivery. It never blocks; a full buffer means
// the client stopped reading and the frame is dropped with an error.
func (sess *Session) Send(line string) error {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.closed {
		return errSessionClosed
	}
	select {
	case sess.send <- line:
		return nil
	default:
		return errSendBuffer
	}
}

// ForceClose delivers a final notice best-effort and shuts the session down.
func (sess *Session) ForceClose(notice string) {
	if notice != "" {
		sess.Send(notice)
	}
	sess.Stop()
}

// Stop marks the session closed and lets the write pump drain and close the
// socket, which in turn unblocks the read loop.
func (sess *Session) Stop() {
	sess.stopOnce.Do(func() {
		sess.mu.Lock()
		sess.closed = true
		sess.mu.Unlock()
		close(sess.send)
	})
}

func (sess *Session) writePump() {
	defer sess.conn.Close()

	broken := false
	for line := range sess.send {
		if broken {
			continue
		}
		if err := sess.conn.WriteLine(line); err != nil {
			logger.Debug("Session %s write failed: %v", sess.id, err)
			broken = true
		}
	}
}

// run drives the session from the mode byte to disconnect.
func (sess *Session) run() {
	go sess.writePump()
	defer sess.cleanup()

	mode, err := sess.conn.ReadLine()
	if err != nil {
		return
	}

	switch strings.ToLower(strings.TrimSpace(mode)) {
	case protocol.ModeLogin:
		sess.runLogin()
	case protocol.ModeRegister:
		sess.runRegister()
	case protocol.ModeRecoverLookup:
		sess.runRecoveryLookup()
	case protocol.ModeRecoverReset:
		sess.runRecoveryReset()
	default:
		logger.Warn("Session %s sent unknown mode %q", sess.id, mode)
	}
}

// cleanup detaches the session and announces the departure. Sessions that
// never authenticated were never attached, so no notice goes out for them.
func (sess *Session) cleanup() {
	room, attached := sess.srv.registry.Remove(sess)
	sess.Stop()
	if attached {
		sess.srv.registry.Broadcast(room, "[SISTEMA] "+sess.Alias()+" salió.", nil)
	}
	logger.Info("Session %s closed", sess.id)
}

func (sess *Session) readTrimmed() (string, error) {
	line, err := sess.conn.ReadLine()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// runLogin performs the credential exchange and, on success, enters the
// active loop. Each field is acknowledged before the client sends the next.
func (sess *Session) runLogin() {
	sess.Send(protocol.Ack)
	user, err := sess.readTrimmed()
	if err != nil {
		return
	}
	sess.Send(protocol.Ack)
	password, err := sess.readTrimmed()
	if err != nil {
		return
	}

	role, err := sess.srv.auth.VerifyLogin(user, auth.HashSecret(password))
	switch {
	case errors.Is(err, auth.ErrBanned):
		sess.Send("⛔ SUSPENDIDA.")
		return
	case err != nil:
		sess.Send("Error credenciales.")
		return
	}

	sess.mu.Lock()
	sess.alias = user
	sess.role = role
	sess.mu.Unlock()

	sess.Send("Bienvenido " + user + " [" + strings.ToUpper(role) + "]")
	logger.Info("Session %s authenticated as %s (%s)", sess.id, user, role)

	registry := sess.srv.registry
	room := registry.FirstRoom()
	if err := registry.Attach(sess, room); err != nil {
		logger.Error("Session %s could not join %s: %v", sess.id, room, err)
		return
	}
	registry.Broadcast(room, "[SISTEMA] "+user+" entró.", sess)

	registry.SendRoomList(sess)
	registry.SendHistorySnapshot(sess, room)
	sess.Send(protocol.EncodePinUpdate(sess.srv.store.Pin(room)))

	sess.activeLoop()
}

// activeLoop dispatches chat lines and commands until the client disconnects.
func (sess *Session) activeLoop() {
	for {
		line, err := sess.conn.ReadLine()
		if err != nil {
			return
		}
		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		// A staged pin confirmation consumes the next line whole.
		if pending := sess.takePendingPin(); pending != "" {
			sess.resolvePendingPin(pending, input)
			continue
		}

		if strings.HasPrefix(input, protocol.CommandPrefix) {
			sess.srv.handleCommand(sess, input)
			continue
		}

		if sess.Muted() {
			sess.Send("😶 Estás silenciado.")
			continue
		}

		sess.srv.registry.Broadcast(sess.Room(), roleBadge(sess.Role())+sess.Alias()+": "+input, sess)
	}
}

func (sess *Session) setPendingPin(text string) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.pendingPin = text
}

func (sess *Session) takePendingPin() string {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	pending := sess.pendingPin
	sess.pendingPin = ""
	return pending
}

func (sess *Session) resolvePendingPin(pending, answer string) {
	switch strings.ToLower(answer) {
	case "y", "s", "si":
		room := sess.Room()
		sess.srv.store.SetPin(room, pending)
		sess.srv.registry.BroadcastPin(room, pending)
		sess.Send("✅ Actualizado.")
	default:
		sess.Send("❌ Cancelado.")
	}
}

// runRegister handles one registration exchange and closes. The very first
// account becomes the admin.
func (sess *Session) runRegister() {
	sess.Send(protocol.Ack)
	user, err := sess.readTrimmed()
	if err != nil {
		return
	}
	sess.Send(protocol.Ack)
	password, err := sess.readTrimmed()
	if err != nil {
		return
	}
	sess.Send(protocol.Ack)
	question, err := sess.readTrimmed()
	if err != nil {
		return
	}
	sess.Send(protocol.Ack)
	answer, err := sess.readTrimmed()
	if err != nil {
		return
	}

	role, err := sess.srv.auth.Register(user,
		auth.HashSecret(password),
		question,
		auth.HashSecret(strings.ToLower(answer)))
	if err != nil {
		sess.Send("Usuario ya existe.")
		return
	}
	sess.Send("Registro exitoso. Rol asignado: " + strings.ToUpper(role) + ".")
	logger.Info("Registered user %s as %s", user, role)
}

// runRecoveryLookup answers one security question lookup and closes.
func (sess *Session) runRecoveryLookup() {
	sess.Send(protocol.Ack)
	user, err := sess.readTrimmed()
	if err != nil {
		return
	}

	question, err := sess.srv.auth.RecoveryQuestion(user)
	if err != nil {
		sess.Send(protocol.ResultError)
		return
	}
	sess.Send(protocol.PrefixQuestion + question)
}

// runRecoveryReset handles one password reset exchange and closes. The
// answer is lowercased before hashing, matching how it was stored.
func (sess *Session) runRecoveryReset() {
	sess.Send(protocol.Ack)
	user, err := sess.readTrimmed()
	if err != nil {
		return
	}
	sess.Send(protocol.Ack)
	answer, err := sess.readTrimmed()
	if err != nil {
		return
	}
	sess.Send(protocol.Ack)
	newPassword, err := sess.readTrimmed()
	if err != nil {
		return
	}

	err = sess.srv.auth.ResetPassword(user,
		auth.HashSecret(strings.ToLower(answer)),
		auth.HashSecret(newPassword))
	if err != nil {
		sess.Send(protocol.ResultError)
		return
	}
	sess.Send(protocol.ResultSuccess)
	logger.Info("Password reset for user %s", user)
}

func roleBadge(role string) string {
	switch role {
	case auth.RoleAdmin:
		return "👑 [ADMIN] "
	case auth.RoleDocente:
		return "🎓 [DOCENTE] "
	default:
		return ""
	}
}
