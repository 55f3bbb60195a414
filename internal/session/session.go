// Package session persists the client's local identity state: the chosen
// username and which rooms the user has already unlocked with a join code.
// Room membership is a client-side convenience flag, not an access grant; the
// gateway serves room rows to anyone who asks with a valid code.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Session is the on-disk state, guarded for concurrent use by the client's
// input and feed goroutines.
type Session struct {
	mu   sync.Mutex
	path string
	data sessionData
}

type sessionData struct {
	Username    string          `json:"username"`
	JoinedRooms map[string]bool `json:"joined_rooms,omitempty"`
}

// DefaultPath places the state file under the user config dir.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("session.DefaultPath: %w", err)
	}
	return filepath.Join(dir, "flamechat", "session.json"), nil
}

// Load reads the session at path, returning an empty session when the file
// does not exist yet.
func Load(path string) (*Session, error) {
	s := &Session{path: path, data: sessionData{JoinedRooms: make(map[string]bool)}}
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session.Load: %w", err)
	}
	if err := json.Unmarshal(raw, &s.data); err != nil {
		return nil, fmt.Errorf("session.Load: parse %s: %w", path, err)
	}
	if s.data.JoinedRooms == nil {
		s.data.JoinedRooms = make(map[string]bool)
	}
	return s, nil
}

// saveLocked writes atomically: temp file in the same dir, then rename.
func (s *Session) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("session.Save: %w", err)
	}
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("session.Save: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("session.Save: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("session.Save: %w", err)
	}
	return nil
}

// Username returns the stored username, "" when none was chosen yet.
func (s *Session) Username() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.Username
}

// SetUsername stores and persists the chosen username.
func (s *Session) SetUsername(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("session.SetUsername: empty username")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Username = name
	return s.saveLocked()
}

// Joined reports whether roomID was unlocked in a previous run.
func (s *Session) Joined(roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.JoinedRooms[roomID]
}

// MarkJoined persists that roomID's code was accepted, so the user is not
// asked for it again.
func (s *Session) MarkJoined(roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.JoinedRooms[roomID] = true
	return s.saveLocked()
}
