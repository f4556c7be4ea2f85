package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/aulachat/aulachat/internal/ai"
	"github.com/aulachat/aulachat/internal/auth"
	"github.com/aulachat/aulachat/internal/chat"
	"github.com/aulachat/aulachat/internal/config"
	"github.com/aulachat/aulachat/internal/logger"
	"github.com/aulachat/aulachat/internal/monitor"
	"github.com/aulachat/aulachat/internal/pidfile"
	"github.com/aulachat/aulachat/internal/server"
	"github.com/aulachat/aulachat/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() (err error) {
	configPath := flag.String("config", config.DefaultConfigPath(), "path to the configuration file")
	listenAddr := flag.String("listen", "", "listen address, overrides the configuration")
	dataDir := flag.String("data-dir", "", "data directory, overrides the configuration")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error, none")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if envLevel := strings.TrimSpace(os.Getenv("AULACHAT_LOG_LEVEL")); envLevel != "" {
		cfg.LogLevel = envLevel
	}

	if err := logger.Init(logger.ParseLevel(cfg.LogLevel), cfg.LogPath); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		if err != nil {
			logger.Error("Fatal error: %v", err)
		}
		if closeErr := logger.Global().Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close logger: %v\n", closeErr)
		}
	}()

	logger.Info("Starting aulachat server (config %s)", *configPath)

	pf := pidfile.New(filepath.Join(cfg.DataDir, "aulachat.pid"))
	if err := pf.Write(); err != nil {
		logger.Warn("Could not write pidfile: %v", err)
	} else {
		defer pf.Remove()
	}

	st, err := store.Open(cfg.DataDir, cfg.SeedRooms, cfg.HistoryLimit)
	if err != nil {
		return fmt.Errorf("failed to open data store: %w", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("Error closing store: %v", closeErr)
		}
	}()

	summarizer, err := ai.New(cfg.AI)
	if err != nil {
		return fmt.Errorf("failed to configure summarizer: %w", err)
	}
	probeCtx, cancelProbe := context.WithTimeout(context.Background(), 5*time.Second)
	if probeErr := summarizer.Probe(probeCtx); probeErr != nil {
		logger.Warn("AI service not reachable, /resume will fail until it is: %v", probeErr)
	} else {
		logger.Info("AI service reachable (%s, model %s)", cfg.AI.Provider, cfg.AI.Model)
	}
	cancelProbe()

	registry := chat.NewRegistry(st)
	srv := server.New(cfg, st, auth.New(st), registry, summarizer)

	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	defer srv.Stop()

	var mon *monitor.Server
	if cfg.Monitor.Enabled {
		mon, err = monitor.NewServer(cfg.Monitor, registry, st)
		if err != nil {
			return fmt.Errorf("failed to configure monitor: %w", err)
		}
		if err := mon.Start(); err != nil {
			return fmt.Errorf("failed to start monitor: %w", err)
		}
		defer func() {
			if stopErr := mon.Stop(); stopErr != nil {
				logger.Error("Error stopping monitor: %v", stopErr)
			}
		}()
	}

	flushStop := make(chan struct{})
	go st.FlushLoop(cfg.FlushInterval(), flushStop)
	defer close(flushStop)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	logger.Info("Shutdown signal received")
	return nil
}
