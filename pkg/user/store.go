// Package user persists the server's credential store: a JSON file of
// bcrypt-hashed users, each optionally scoped to one or more URL path
// prefixes. The file is meant to be hand-editable; Watch picks up external
// edits without a restart.
package user

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// User is one stored credential. Paths lists the URL path prefixes this user
// guards; an empty list means the user only backs the global policy when
// designated so via configuration.
type User struct {
	Username     string   `json:"username"`
	PasswordHash string   `json:"password_hash"`
	Paths        []string `json:"paths,omitempty"`
}

// Store manages user persistence. The in-memory map is guarded by mu; Watch
// replaces it wholesale on a successful reload and keeps the previous state
// on a malformed file.
type Store struct {
	mu       sync.RWMutex
	filePath string
	users    map[string]*User
}

// NewStore opens the store backed by path, loading existing users if the
// file exists. A missing file yields an empty store, not an error.
func NewStore(path string) (*Store, error) {
	s := &Store{
		filePath: path,
		users:    make(map[string]*User),
	}
	if err := s.load(); err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		return err
	}

	users := make(map[string]*User)
	if err := json.Unmarshal(data, &users); err != nil {
		return err
	}

	s.mu.Lock()
	s.users = users
	s.mu.Unlock()
	return nil
}

// Save persists the users to disk, creating the parent directory if needed.
func (s *Store) Save() error {
	s.mu.RLock()
	data, err := json.MarshalIndent(s.users, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.filePath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(s.filePath, data, 0o644)
}

// Add creates a new user guarding the given path prefixes. The caller must
// Save to persist.
func (s *Store) Add(username, password string, paths ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[username]; exists {
		return fmt.Errorf("user %s already exists", username)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	s.users[username] = &User{
		Username:     username,
		PasswordHash: string(hash),
		Paths:        append([]string(nil), paths...),
	}
	return nil
}

// Delete removes a user.
func (s *Store) Delete(username string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, username)
}

// Authenticate verifies the password for a user.
func (s *Store) Authenticate(username, password string) bool {
	s.mu.RLock()
	u, ok := s.users[username]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
}

// Len reports the number of stored users.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}

// Snapshot returns a copy of all users, sorted by username.
func (s *Store) Snapshot() []User {
	s.mu.RLock()
	out := make([]User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, *u)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

// Watch reloads the store whenever its backing file changes, invoking
// onReload after each successful reload. A malformed file is logged and the
// previous state kept. Watch returns once the watcher is installed; the
// goroutine it spawns exits when stop is closed.
func (s *Store) Watch(stop <-chan struct{}, log *zap.Logger, onReload func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// Watch the directory, not the file: editors and atomic writers replace
	// the file, which would silently detach a file-level watch.
	if err := watcher.Add(filepath.Dir(s.filePath)); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-stop:
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(s.filePath) {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				if err := s.load(); err != nil {
					log.Warn("credential store reload failed; keeping previous state",
						zap.String("path", s.filePath), zap.Error(err))
					continue
				}
				log.Info("credential store reloaded", zap.String("path", s.filePath))
				if onReload != nil {
					onReload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn("credential store watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}
