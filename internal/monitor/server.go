// Package monitor exposes a read-only ops endpoint: JSON snapshots of
// server state over HTTP and a live event feed over websocket. It never
// mutates chat state.
package monitor

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"github.com/aulachat/aulachat/internal/chat"
	"github.com/aulachat/aulachat/internal/config"
	"github.com/aulachat/aulachat/internal/logger"
	"github.com/aulachat/aulachat/internal/store"
)

const authTokenLength = 32

// Server serves the ops API.
type Server struct {
	addr       string
	authToken  string
	httpServer *http.Server
	registry   *chat.Registry
	store      *store.Store
	hub        *Hub
	startedAt  time.Time
}

// NewServer builds the ops server. When no auth token is configured a
// random one is generated and logged, so the endpoint is never open.
func NewServer(cfg config.MonitorConfig, registry *chat.Registry, st *store.Store) (*Server, error) {
	token := cfg.AuthToken
	if token == "" {
		generated, err := generateAuthToken()
		if err != nil {
			return nil, fmt.Errorf("failed to generate auth token: %w", err)
		}
		token = generated
		logger.Info("Monitor auth token: %s", token)
	}

	return &Server{
		addr:      cfg.ListenAddr,
		authToken: token,
		registry:  registry,
		store:     st,
		hub:       NewHub(),
		startedAt: time.Now(),
	}, nil
}

// Router builds the route table.
func (s *Server) Router() http.Handler {
	router := httprouter.New()
	router.GET("/api/status", s.requireToken(s.handleStatus))
	router.GET("/api/rooms", s.requireToken(s.handleRooms))
	router.GET("/ws", s.requireToken(s.handleWebSocket))
	return router
}

// Start hooks the registry event sink and serves in the background.
func (s *Server) Start() error {
	s.registry.SetEventSink(s.hub.Publish)
	go s.hub.Run()

	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      s.Router(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info("Monitor listening on %s", s.addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Monitor server error: %v", err)
		}
	}()

	return nil
}

// Stop shuts the endpoint down.
func (s *Server) Stop() error {
	logger.Info("Stopping monitor...")

	s.registry.SetEventSink(nil)
	s.hub.Stop()

	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown monitor server: %w", err)
	}
	return nil
}

// AuthToken returns the effective token, generated or configured.
func (s *Server) AuthToken() string {
	return s.authToken
}

func (s *Server) requireToken(next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		token := r.URL.Query().Get("token")
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
			logger.Warn("Monitor request rejected: invalid auth token from %s", r.RemoteAddr)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r, ps)
	}
}

// statusResponse is the /api/status document.
type statusResponse struct {
	UptimeSeconds int64            `json:"uptime_seconds"`
	Sessions      int              `json:"sessions"`
	Rooms         int              `json:"rooms"`
	FeedClients   int              `json:"feed_clients"`
	Flush         store.FlushStats `json:"flush"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, statusResponse{
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Sessions:      s.registry.SessionCount(),
		Rooms:         len(s.registry.RoomNames()),
		FeedClients:   s.hub.ClientCount(),
		Flush:         s.store.Stats(),
	})
}

func (s *Server) handleRooms(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, s.registry.UsersByRoom())
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true // Token gated, local ops tooling only
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("Failed to upgrade monitor websocket: %v", err)
		return
	}

	c := newClient(s.hub, conn)
	if !s.hub.Register(c) {
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to encode monitor response: %v", err)
	}
}

func generateAuthToken() (string, error) {
	bytes := make([]byte, authTokenLength)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
