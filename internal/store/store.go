// Package store is the persistence layer: an in-memory mirror of the four
// durable datasets (users, room names, per-room history, per-room pins) with
// a dirty flag per dataset and deferred write-back to JSON documents.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aulachat/aulachat/internal/logger"
)

// Backing file names, one JSON document per dataset.
const (
	usersFile   = "usuarios.json"
	roomsFile   = "salas.json"
	historyFile = "historial.json"
	pinsFile    = "pines.json"
)

// UserRecord is the persisted form of one account.
type UserRecord struct {
	PasswordHash string `json:"pass"`
	Role         string `json:"rol"`
	Banned       bool   `json:"banned"`
	Question     string `json:"pregunta"`
	AnswerHash   string `json:"resp_hash"`
}

// FlushStats reports write-back activity for the ops endpoint.
type FlushStats struct {
	LastFlush    time.Time `json:"last_flush"`
	Flushes      int       `json:"flushes"`
	FlushErrors  int       `json:"flush_errors"`
	DirtyUsers   bool      `json:"dirty_users"`
	DirtyRooms   bool      `json:"dirty_rooms"`
	DirtyHistory bool      `json:"dirty_history"`
	DirtyPins    bool      `json:"dirty_pins"`
}

// Store holds the four datasets. Every mutation happens under the dataset's
// own mutex and marks it dirty; reads hand out copies so callers never hold a
// live reference into the cache. Flush persists whatever is dirty.
type Store struct {
	dir          string
	historyLimit int

	lock *lockfile

	usersMu    sync.Mutex
	users      map[string]UserRecord
	usersDirty bool

	roomsMu    sync.Mutex
	roomNames  []string
	roomsDirty bool

	histMu    sync.Mutex
	history   map[string][]string
	histDirty bool

	pinsMu    sync.Mutex
	pins      map[string]string
	pinsDirty bool

	statsMu sync.Mutex
	stats   FlushStats
}

// Open loads the four datasets from dir, seeding any missing or malformed
// document with its documented default and flushing once so the files exist.
// The data directory is locked against concurrent server processes.
func Open(dir string, seedRooms []string, historyLimit int) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data dir %s: %w", dir, err)
	}

	lock := newLockfile(filepath.Join(dir, "aulachat.lock"))
	if err := lock.TryAcquire(); err != nil {
		return nil, fmt.Errorf("data dir %s: %w", dir, err)
	}

	s := &Store{
		dir:          dir,
		historyLimit: historyLimit,
		lock:         lock,
	}

	if !loadJSON(filepath.Join(dir, usersFile), &s.users) {
		s.users = make(map[string]UserRecord)
		s.usersDirty = true
	}

	if !loadJSON(filepath.Join(dir, roomsFile), &s.roomNames) || len(s.roomNames) == 0 {
		s.roomNames = append([]string(nil), seedRooms...)
		s.roomsDirty = true
	}

	if !loadJSON(filepath.Join(dir, historyFile), &s.history) {
		s.history = make(map[string][]string)
		s.histDirty = true
	}
	if !loadJSON(filepath.Join(dir, pinsFile), &s.pins) {
		s.pins = make(map[string]string)
		s.pinsDirty = true
	}

	// Every known room must have a history and a pin entry.
	for _, name := range s.roomNames {
		if _, ok := s.history[name]; !ok {
			s.history[name] = []string{}
			s.histDirty = true
		}
		if _, ok := s.pins[name]; !ok {
			s.pins[name] = ""
			s.pinsDirty = true
		}
	}

	if err := s.Flush(); err != nil {
		lock.Release()
		return nil, fmt.Errorf("initial flush failed: %w", err)
	}

	return s, nil
}

// loadJSON reads path into out. It reports false when the file is missing or
// not well-formed, in which case the caller falls back to the default value.
func loadJSON(path string, out interface{}) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("Failed to read %s: %v", path, err)
		}
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		logger.Warn("Malformed dataset %s, using defaults: %v", path, err)
		return false
	}
	return true
}

// Users returns a copy of the user directory.
func (s *Store) Users() map[string]UserRecord {
	s.usersMu.Lock()
	defer s.usersMu.Unlock()

	out := make(map[string]UserRecord, len(s.users))
	for name, rec := range s.users {
		out[name] = rec
	}
	return out
}

// User returns one account record.
func (s *Store) User(name string) (UserRecord, bool) {
	s.usersMu.Lock()
	defer s.usersMu.Unlock()

	rec, ok := s.users[name]
	return rec, ok
}

// UserCount returns the number of registered accounts.
func (s *Store) UserCount() int {
	s.usersMu.Lock()
	defer s.usersMu.Unlock()
	return len(s.users)
}

// PutUser inserts or replaces an account record.
func (s *Store) PutUser(name string, rec UserRecord) {
	s.usersMu.Lock()
	defer s.usersMu.Unlock()

	s.users[name] = rec
	s.usersDirty = true
}

// RoomNames returns a copy of the room-name list in registry order.
func (s *Store) RoomNames() []string {
	s.roomsMu.Lock()
	defer s.roomsMu.Unlock()
	return append([]string(nil), s.roomNames...)
}

// SetRoomNames replaces the room-name list and reconciles the history and pin
// datasets: new rooms get empty entries, removed rooms lose theirs.
func (s *Store) SetRoomNames(names []string) {
	s.roomsMu.Lock()
	s.roomNames = append([]string(nil), names...)
	s.roomsDirty = true
	s.roomsMu.Unlock()

	known := make(map[string]bool, len(names))
	for _, name := range names {
		known[name] = true
	}

	s.histMu.Lock()
	for _, name := range names {
		if _, ok := s.history[name]; !ok {
			s.history[name] = []string{}
			s.histDirty = true
		}
	}
	for name := range s.history {
		if !known[name] {
			delete(s.history, name)
			s.histDirty = true
		}
	}
	s.histMu.Unlock()

	s.pinsMu.Lock()
	for _, name := range names {
		if _, ok := s.pins[name]; !ok {
			s.pins[name] = ""
			s.pinsDirty = true
		}
	}
	for name := range s.pins {
		if !known[name] {
			delete(s.pins, name)
			s.pinsDirty = true
		}
	}
	s.pinsMu.Unlock()
}

// History returns a copy of a room's retained message log.
func (s *Store) History(room string) []string {
	s.histMu.Lock()
	defer s.histMu.Unlock()
	return append([]string(nil), s.history[room]...)
}

// AppendHistory records a formatted line in a room's log, dropping the oldest
// entry once the retention limit is reached.
func (s *Store) AppendHistory(room, line string) {
	s.histMu.Lock()
	defer s.histMu.Unlock()

	entries := append(s.history[room], line)
	if len(entries) > s.historyLimit {
		entries = entries[len(entries)-s.historyLimit:]
	}
	s.history[room] = entries
	s.histDirty = true
}

// Pin returns a room's pinned message; empty means no pin.
func (s *Store) Pin(room string) string {
	s.pinsMu.Lock()
	defer s.pinsMu.Unlock()
	return s.pins[room]
}

// SetPin replaces a room's pinned message.
func (s *Store) SetPin(room, text string) {
	s.pinsMu.Lock()
	defer s.pinsMu.Unlock()

	s.pins[room] = text
	s.pinsDirty = true
}

// Flush serializes every dirty dataset to its backing file and clears the
// flag on success. A failed write keeps the flag set so the next cycle
// retries; the error of the last failing dataset is returned.
func (s *Store) Flush() error {
	var lastErr error
	flushed := false

	s.usersMu.Lock()
	if s.usersDirty {
		if err := s.writeDataset(usersFile, s.users); err != nil {
			lastErr = err
		} else {
			s.usersDirty = false
			flushed = true
		}
	}
	s.usersMu.Unlock()

	s.roomsMu.Lock()
	if s.roomsDirty {
		if err := s.writeDataset(roomsFile, s.roomNames); err != nil {
			lastErr = err
		} else {
			s.roomsDirty = false
			flushed = true
		}
	}
	s.roomsMu.Unlock()

	s.histMu.Lock()
	if s.histDirty {
		if err := s.writeDataset(historyFile, s.history); err != nil {
			lastErr = err
		} else {
			s.histDirty = false
			flushed = true
		}
	}
	s.histMu.Unlock()

	s.pinsMu.Lock()
	if s.pinsDirty {
		if err := s.writeDataset(pinsFile, s.pins); err != nil {
			lastErr = err
		} else {
			s.pinsDirty = false
			flushed = true
		}
	}
	s.pinsMu.Unlock()

	s.statsMu.Lock()
	if flushed {
		s.stats.Flushes++
		s.stats.LastFlush = time.Now()
	}
	if lastErr != nil {
		s.stats.FlushErrors++
	}
	s.statsMu.Unlock()

	return lastErr
}

// FlushLoop wakes on the given interval and persists dirty datasets until the
// stop channel closes. Failures are logged, never fatal.
func (s *Store) FlushLoop(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.Flush(); err != nil {
				logger.Error("Periodic flush failed: %v", err)
			}
		case <-stop:
			return
		}
	}
}

// Close performs the final synchronous flush and releases the data-dir lock.
func (s *Store) Close() error {
	err := s.Flush()
	if err != nil {
		logger.Error("Shutdown flush failed: %v", err)
	}
	s.lock.Release()
	return err
}

// Stats returns a snapshot of write-back activity.
func (s *Store) Stats() FlushStats {
	s.statsMu.Lock()
	stats := s.stats
	s.statsMu.Unlock()

	s.usersMu.Lock()
	stats.DirtyUsers = s.usersDirty
	s.usersMu.Unlock()
	s.roomsMu.Lock()
	stats.DirtyRooms = s.roomsDirty
	s.roomsMu.Unlock()
	s.histMu.Lock()
	stats.DirtyHistory = s.histDirty
	s.histMu.Unlock()
	s.pinsMu.Lock()
	stats.DirtyPins = s.pinsDirty
	s.pinsMu.Unlock()

	return stats
}

// writeDataset marshals value and writes it atomically: temp file in the same
// directory, then rename over the final path.
func (s *Store) writeDataset(name string, value interface{}) error {
	data, err := json.MarshalIndent(value, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}

	finalPath := filepath.Join(s.dir, name)
	tempPath := finalPath + ".tmp"

	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", tempPath, err)
	}
	if err := os.Rename(tempPath, finalPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace %s: %w", finalPath, err)
	}
	return nil
}
