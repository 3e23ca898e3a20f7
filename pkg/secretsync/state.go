package secretsync

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Entry records what a key looked like the last time both sides agreed.
// The hash of that value is what lets Diff tell which side moved since.
type Entry struct {
	SecretID string    `json:"secret_id"`
	Version  string    `json:"version"`
	Hash     string    `json:"hash"`
	SyncedAt time.Time `json:"synced_at"`
}

// State is the local sync index, a JSON file under the clinops state dir.
type State struct {
	Entries map[string]Entry `json:"entries"`
	Path    string           `json:"-"`
	mu      sync.RWMutex
	dirty   bool
}

// LoadState reads the state file at path, returning an empty state when
// the file does not exist yet.
func LoadState(path string) (*State, error) {
	st := &State{
		Entries: make(map[string]Entry),
		Path:    path,
	}
	if _, err := os.Stat(path); err == nil {
		if err := st.load(); err != nil {
			return nil, err
		}
	}
	return st, nil
}

func (st *State) load() error {
	f, err := os.Open(st.Path)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewDecoder(f).Decode(st)
}

// Save writes the state file if anything changed since the last save.
func (st *State) Save() error {
	st.mu.RLock()
	if !st.dirty {
		st.mu.RUnlock()
		return nil
	}
	st.mu.RUnlock()

	st.mu.Lock()
	defer st.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(st.Path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(st.Path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := json.NewEncoder(f)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(st); err != nil {
		return err
	}
	st.dirty = false
	return nil
}

// Get returns the entry for key, if any.
func (st *State) Get(key string) (Entry, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	e, ok := st.Entries[key]
	return e, ok
}

// Set records that key now holds value at the given secret version.
func (st *State) Set(key, secretID, version, value string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	e := Entry{
		SecretID: secretID,
		Version:  version,
		Hash:     HashValue(value),
		SyncedAt: time.Now().UTC(),
	}
	if st.Entries[key] != e {
		st.Entries[key] = e
		st.dirty = true
	}
}

// Remove drops key from the index.
func (st *State) Remove(key string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, exists := st.Entries[key]; exists {
		delete(st.Entries, key)
		st.dirty = true
	}
}

// HashValue is the fingerprint stored in the index instead of the secret
// value itself.
func HashValue(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
