// Package server accepts TLS connections and runs one session per
// connection: the authentication exchange, the active receive loop and the
// command processor.
package server

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/aulachat/aulachat/internal/ai"
	"github.com/aulachat/aulachat/internal/auth"
	"github.com/aulachat/aulachat/internal/chat"
	"github.com/aulachat/aulachat/internal/config"
	"github.com/aulachat/aulachat/internal/logger"
	"github.com/aulachat/aulachat/internal/store"
)

// Server owns the listener and the shared collaborators of every session.
type Server struct {
	cfg        *config.Config
	auth       *auth.Service
	registry   *chat.Registry
	store      *store.Store
	summarizer ai.Summarizer

	cert    atomic.Pointer[tls.Certificate]
	watcher *fsnotify.Watcher

	listener    net.Listener
	tcpListener *net.TCPListener

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	stopOnce sync.Once

	connIDMu      sync.Mutex
	connIDCounter int
}

// New wires the server with its collaborators.
func New(cfg *config.Config, st *store.Store, authSvc *auth.Service, registry *chat.Registry, summarizer ai.Summarizer) *Server {
	return &Server{
		cfg:        cfg,
		auth:       authSvc,
		registry:   registry,
		store:      st,
		summarizer: summarizer,
		stopChan:   make(chan struct{}),
	}
}

// Start loads the certificate, binds the TLS listener and begins accepting
// connections in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.running = true
	s.mu.Unlock()

	cert, err := tls.LoadX509KeyPair(s.cfg.CertFile, s.cfg.KeyFile)
	if err != nil {
		return fmt.Errorf("failed to load certificate: %w", err)
	}
	s.cert.Store(&cert)

	tlsConf := &tls.Config{
		GetCertificate: func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
			return s.cert.Load(), nil
		},
		MinVersion: tls.VersionTLS12,
	}

	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.ListenAddr, err)
	}
	s.tcpListener = ln.(*net.TCPListener)
	s.listener = tls.NewListener(ln, tlsConf)

	if err := s.watchCertFiles(); err != nil {
		logger.Warn("Certificate watcher not started: %v", err)
	}

	go s.acceptLoop()

	logger.Info("Chat server listening on %s", s.cfg.ListenAddr)
	return nil
}

// Stop closes the listener and every live session.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		logger.Info("Stopping chat server...")
		close(s.stopChan)

		if s.listener != nil {
			if err := s.listener.Close(); err != nil {
				logger.Error("Error closing listener: %v", err)
			}
		}
		if s.watcher != nil {
			s.watcher.Close()
		}

		s.registry.Shutdown()

		s.mu.Lock()
		s.running = false
		s.mu.Unlock()

		logger.Info("Chat server stopped")
	})
}

// Addr returns the bound listener address.
func (s *Server) Addr() net.Addr {
	if s.tcpListener == nil {
		return nil
	}
	return s.tcpListener.Addr()
}

// acceptLoop accepts incoming connections until the server stops.
func (s *Server) acceptLoop() {
	for {
		select {
		case <-s.stopChan:
			return
		default:
			// Accept with a deadline so the stop signal is noticed.
			s.tcpListener.SetDeadline(time.Now().Add(1 * time.Second))

			conn, err := s.listener.Accept()
			if err != nil {
				if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
					continue
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				logger.Error("Error accepting connection: %v", err)
				continue
			}

			sess := newSession(s.nextConnID(), conn, s)
			go sess.run()

			logger.Info("Connection accepted: %s from %s", sess.id, conn.RemoteAddr())
		}
	}
}

func (s *Server) nextConnID() string {
	s.connIDMu.Lock()
	defer s.connIDMu.Unlock()

	s.connIDCounter++
	return fmt.Sprintf("conn_%d", s.connIDCounter)
}

// watchCertFiles reloads the TLS key pair when either file changes, so cert
// rotation does not require a restart. New handshakes pick up the new pair
// through GetCertificate.
func (s *Server) watchCertFiles() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	s.watcher = watcher

	// Watch the parent directories; rotation tools replace files by rename.
	dirs := map[string]bool{
		filepath.Dir(s.cfg.CertFile): true,
		filepath.Dir(s.cfg.KeyFile):  true,
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			s.watcher = nil
			return err
		}
	}

	go func() {
		certPath, _ := filepath.Abs(s.cfg.CertFile)
		keyPath, _ := filepath.Abs(s.cfg.KeyFile)

		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				name, _ := filepath.Abs(event.Name)
				if name != certPath && name != keyPath {
					continue
				}
				s.reloadCert()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("Certificate watcher error: %v", err)
			case <-s.stopChan:
				return
			}
		}
	}()

	return nil
}

func (s *Server) reloadCert() {
	cert, err := tls.LoadX509KeyPair(s.cfg.CertFile, s.cfg.KeyFile)
	if err != nil {
		// Rotation may touch the files one at a time; keep serving the
		// old pair until both halves match.
		logger.Warn("Certificate reload failed, keeping current pair: %v", err)
		return
	}
	s.cert.Store(&cert)
	logger.Info("Certificate reloaded from %s", s.cfg.CertFile)
}
