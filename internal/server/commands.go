package server

import (
	"context"
	"errors"
	"strings"

	"github.com/aulachat/aulachat/internal/ai"
	"github.com/aulachat/aulachat/internal/auth"
	"github.com/aulachat/aulachat/internal/chat"
	"github.com/aulachat/aulachat/internal/logger"
	"github.com/aulachat/aulachat/internal/protocol"
)

// resumeTailLimit caps how much history is handed to the summarizer.
const resumeTailLimit = 50

// handleCommand dispatches one slash command. Commands above the caller's
// role are ignored without a reply, so students cannot probe which staff
// commands exist.
func (s *Server) handleCommand(sess *Session, input string) {
	fields := strings.Fields(input)
	cmd := strings.ToLower(fields[0])
	args := fields[1:]

	role := sess.Role()
	isStaff := auth.IsStaff(role)
	isAdmin := role == auth.RoleAdmin

	switch cmd {
	case "/mirol":
		sess.Send("🕵️ Tu rol es: [" + strings.ToUpper(role) + "]")

	case "/help":
		sess.Send(helpText(isStaff, isAdmin))

	case "/join":
		name := strings.Join(args, " ")
		if name == "" {
			sess.Send("Uso: /join [sala]")
			return
		}
		if err := s.registry.Switch(sess, name); err != nil {
			sess.Send("[SISTEMA] Sala no existe.")
			return
		}
		sess.Send("[SISTEMA] Entraste a: " + name)
		s.registry.SendHistorySnapshot(sess, name)
		sess.Send(protocol.EncodePinUpdate(s.store.Pin(name)))

	case "/get_users":
		frame, err := protocol.EncodeUsersList(s.registry.UsersByRoom())
		if err != nil {
			logger.Error("Failed to encode user list: %v", err)
			return
		}
		sess.Send(frame)

	case "/resume":
		s.handleResume(sess)

	case "/pin":
		if !isStaff {
			return
		}
		text := strings.Join(args, " ")
		if text == "" {
			sess.Send("Uso: /pin [mensaje]")
			return
		}
		room := sess.Room()
		if s.store.Pin(room) != "" {
			sess.setPendingPin(text)
			sess.Send("⚠️ Ya existe pin. ¿Sobrescribir? (y/n)")
			return
		}
		s.store.SetPin(room, text)
		s.registry.BroadcastPin(room, text)
		sess.Send("✅ Fijado.")

	case "/unpin":
		if !isStaff {
			return
		}
		room := sess.Room()
		if s.store.Pin(room) == "" {
			sess.Send("No hay mensaje fijado.")
			return
		}
		s.store.SetPin(room, "")
		s.registry.BroadcastPin(room, "")
		sess.Send("✅ Pin eliminado.")

	case "/anuncio":
		if !isStaff {
			return
		}
		text := strings.Join(args, " ")
		if text == "" {
			sess.Send("Uso: /anuncio [mensaje]")
			return
		}
		// The announcer receives their own announcement too.
		s.registry.Broadcast(sess.Room(), "📢 [ANUNCIO] 📢 "+text, nil)

	case "/kick":
		if !isStaff || len(args) == 0 {
			return
		}
		target, ok := s.registry.FindByAlias(args[0], true)
		if !ok {
			sess.Send("❌ Usuario no conectado.")
			return
		}
		if target.Role() == auth.RoleAdmin {
			return
		}
		target.ForceClose("🚫 Expulsado.")
		sess.Send("✅ " + target.Alias() + " expulsado.")
		logger.Info("%s kicked %s", sess.Alias(), target.Alias())

	case "/mute", "/unmute":
		if !isStaff || len(args) == 0 {
			return
		}
		target, ok := s.registry.FindByAlias(args[0], true)
		if !ok {
			sess.Send("❌ Usuario no conectado.")
			return
		}
		if cmd == "/mute" {
			target.SetMuted(true)
			target.Send("😶 Silenciado.")
		} else {
			target.SetMuted(false)
			target.Send("🗣️ Liberado.")
		}
		sess.Send("✅ Listo.")

	case "/ban":
		if !isStaff || len(args) == 0 {
			return
		}
		target := args[0]
		targetRole, err := s.auth.Role(target)
		if err != nil {
			sess.Send("❌ Usuario no encontrado.")
			return
		}
		if targetRole == auth.RoleAdmin {
			return
		}
		s.auth.SetBanned(target, true)
		// The account may be connected more than once; close every session.
		for _, peer := range s.registry.FindAllByAlias(target, false) {
			peer.ForceClose("⛔ BANEADO.")
		}
		sess.Send("✅ Usuario baneado.")
		logger.Info("%s banned %s", sess.Alias(), target)

	case "/unban":
		if !isAdmin || len(args) == 0 {
			return
		}
		if err := s.auth.SetBanned(args[0], false); err != nil {
			sess.Send("❌ Usuario no encontrado.")
			return
		}
		sess.Send("✅ Desbaneado.")

	case "/promote":
		if !isAdmin || len(args) < 2 {
			return
		}
		target := args[0]
		newRole := strings.ToLower(args[1])
		if err := s.auth.SetRole(target, newRole); err != nil {
			return
		}
		if peer, ok := s.registry.FindByAlias(target, false); ok {
			peer.SetRole(newRole)
			peer.Send("🎖️ Nuevo rol: " + newRole)
		}
		sess.Send("✅ " + target + " es ahora " + newRole + ".")
		logger.Info("%s promoted %s to %s", sess.Alias(), target, newRole)

	case "/crear":
		if !isAdmin {
			sess.Send("[ERROR] Solo Admin.")
			return
		}
		name := strings.Join(args, " ")
		if name == "" {
			sess.Send("Uso: /crear [nombre]")
			return
		}
		if err := s.registry.CreateRoom(name); err != nil {
			sess.Send("❌ La sala ya existe.")
			return
		}
		sess.Send("✅ Sala '" + name + "' creada.")

	case "/borrar":
		if !isAdmin {
			sess.Send("[ERROR] Solo Admin.")
			return
		}
		name := strings.Join(args, " ")
		if name == "" {
			sess.Send("Uso: /borrar [nombre]")
			return
		}
		switch err := s.registry.DeleteRoom(name); {
		case errors.Is(err, chat.ErrLastRoom):
			sess.Send("⚠️ No puedes borrar la última sala.")
		case err != nil:
			sess.Send("❌ Sala no encontrada.")
		default:
			sess.Send("✅ Sala '" + name + "' eliminada.")
		}

	case "/roles":
		if !isAdmin {
			return
		}
		sess.Send("Roles válidos: admin, docente, estudiante. Ejemplo: /promote luis docente")

	default:
		sess.Send("❌ Comando desconocido.")
	}
}

// handleResume summarizes the recent history of the caller's room. No
// registry or store locks are held while the model runs.
func (s *Server) handleResume(sess *Session) {
	room := sess.Room()
	tail := s.store.History(room)
	if len(tail) == 0 {
		sess.Send("No hay suficientes mensajes para generar un resumen.")
		return
	}
	if len(tail) > resumeTailLimit {
		tail = tail[len(tail)-resumeTailLimit:]
	}

	sess.Send("🤖 La IA está leyendo el historial... esto puede tardar unos segundos.")

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.AITimeout())
	defer cancel()

	summary, err := s.summarizer.Summarize(ctx, room, tail)
	switch {
	case errors.Is(err, ai.ErrServiceUnavailable):
		sess.Send("❌ Error: El servicio de IA no está corriendo en el servidor.")
	case errors.Is(err, ai.ErrTimeout):
		sess.Send("❌ Error: La IA tardó demasiado en responder.")
	case err != nil:
		logger.Error("Summary failed for room %s: %v", room, err)
		sess.Send("❌ Error generando resumen.")
	default:
		sess.Send("✨ --- RESUMEN IA (" + room + ") --- ✨")
		sess.Send(summary)
		sess.Send("----------------------------------------")
	}
}

func helpText(isStaff, isAdmin bool) string {
	help := "--- AYUDA ---\n/mirol, /join [sala], /get_users, /resume (IA)"
	if isStaff {
		help += "\n(STAFF) /kick, /mute, /unmute, /anuncio, /pin, /unpin"
	}
	if isAdmin {
		help += "\n(ADMIN) /crear, /borrar, /promote, /ban, /unban, /roles"
	}
	return help
}
