package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// AIConfig holds settings for the summarization collaborator.
type AIConfig struct {
	Provider       string `json:"provider"` // "ollama" or "openai"
	BaseURL        string `json:"base_url"`
	Model          string `json:"model"`
	APIKey         string `json:"api_key,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// MonitorConfig holds settings for the read-only ops endpoint.
type MonitorConfig struct {
	Enabled    bool   `json:"enabled"`
	ListenAddr string `json:"listen_addr"`
	AuthToken  string `json:"auth_token,omitempty"`
}

// Config represents the server configuration document.
type Config struct {
	ListenAddr           string        `json:"listen_addr"`
	CertFile             string        `json:"cert_file"`
	KeyFile              string        `json:"key_file"`
	DataDir              string        `json:"data_dir"`
	FlushIntervalSeconds int           `json:"flush_interval_seconds"`
	HistoryLimit         int           `json:"history_limit"`
	SeedRooms            []string      `json:"seed_rooms"`
	AI                   AIConfig      `json:"ai"`
	Monitor              MonitorConfig `json:"monitor"`
	LogLevel             string        `json:"log_level"` // debug, info, warn, error, none
	LogPath              string        `json:"log_path,omitempty"`
}

func defaultConfigDir() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".config", "aulachat")
}

// DefaultConfigPath returns the default location of the configuration file.
func DefaultConfigPath() string {
	return filepath.Join(defaultConfigDir(), "config.json")
}

// Default returns the configuration applied when no file exists yet.
func Default() *Config {
	return &Config{
		ListenAddr:           ":5000",
		CertFile:             "server.crt",
		KeyFile:              "server.key",
		DataDir:              filepath.Join(defaultConfigDir(), "data"),
		FlushIntervalSeconds: 60,
		HistoryLimit:         1000,
		SeedRooms:            []string{"General", "Equipo 1", "Equipo 2"},
		AI: AIConfig{
			Provider:       "ollama",
			BaseURL:        "http://localhost:11434",
			Model:          "llama3.2:3b",
			TimeoutSeconds: 90,
		},
		Monitor: MonitorConfig{
			Enabled:    false,
			ListenAddr: "localhost:8936",
		},
		LogLevel: "info",
	}
}

// Load reads the configuration from path. A missing file yields the defaults,
// written back so the user has a document to edit. Environment variables
// AULACHAT_LISTEN_ADDR and AULACHAT_DATA_DIR override the file.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigPath()
	}

	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		if saveErr := cfg.Save(path); saveErr != nil {
			return nil, fmt.Errorf("failed to write default config: %w", saveErr)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if addr := os.Getenv("AULACHAT_LISTEN_ADDR"); addr != "" {
		cfg.ListenAddr = addr
	}
	if dir := os.Getenv("AULACHAT_DATA_DIR"); dir != "" {
		cfg.DataDir = dir
	}

	cfg.applyFallbacks()
	return cfg, nil
}

// Save writes the configuration document to path.
func (c *Config) Save(path string) error {
	if path == "" {
		path = DefaultConfigPath()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}

// FlushInterval returns the cache flush interval as a duration.
func (c *Config) FlushInterval() time.Duration {
	return time.Duration(c.FlushIntervalSeconds) * time.Second
}

// AITimeout returns the summarizer timeout as a duration.
func (c *Config) AITimeout() time.Duration {
	return time.Duration(c.AI.TimeoutSeconds) * time.Second
}

func (c *Config) applyFallbacks() {
	def := Default()
	if c.ListenAddr == "" {
		c.ListenAddr = def.ListenAddr
	}
	if c.DataDir == "" {
		c.DataDir = def.DataDir
	}
	if c.FlushIntervalSeconds <= 0 {
		c.FlushIntervalSeconds = def.FlushIntervalSeconds
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = def.HistoryLimit
	}
	if len(c.SeedRooms) == 0 {
		c.SeedRooms = def.SeedRooms
	}
	if c.AI.Provider == "" {
		c.AI.Provider = def.AI.Provider
	}
	if c.AI.BaseURL == "" {
		c.AI.BaseURL = def.AI.BaseURL
	}
	if c.AI.Model == "" {
		c.AI.Model = def.AI.Model
	}
	if c.AI.TimeoutSeconds <= 0 {
		c.AI.TimeoutSeconds = def.AI.TimeoutSeconds
	}
	if c.Monitor.ListenAddr == "" {
		c.Monitor.ListenAddr = def.Monitor.ListenAddr
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
}
