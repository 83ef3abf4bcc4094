// internal/store/filestore.go
package store

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

// envelope wraps a stored value with its expiry. ExpiresAt is zero for
// records without a TTL.
type envelope struct {
	Value     []byte    `json:"value"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// FileStore persists records as one JSON file per key under a directory.
// It is the on-disk stand-in for the browser's per-origin storage: survives
// process restarts, local to the device, no coordination with anything else.
type FileStore struct {
	dir   string
	clock clockwork.Clock
	log   *logrus.Logger
}

// NewFileStore creates the backing directory if needed.
func NewFileStore(dir string, clock clockwork.Clock, log *logrus.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir %s: %w", dir, err)
	}
	return &FileStore{dir: dir, clock: clock, log: log}, nil
}

// Get implements Store. A record that is expired, missing, or unparseable is
// reported as absent; corruption is logged, never surfaced to the caller.
func (fs *FileStore) Get(key string) ([]byte, bool, error) {
	data, err := os.ReadFile(fs.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read record %s: %w", key, err)
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		fs.log.Warnf("store: discarding malformed record %s: %v", key, err)
		_ = os.Remove(fs.path(key))
		return nil, false, nil
	}
	if !env.ExpiresAt.IsZero() && !fs.clock.Now().Before(env.ExpiresAt) {
		_ = os.Remove(fs.path(key))
		return nil, false, nil
	}
	return env.Value, true, nil
}

// Set implements Store.
func (fs *FileStore) Set(key string, value []byte, ttl time.Duration) error {
	env := envelope{Value: value}
	if ttl > 0 {
		env.ExpiresAt = fs.clock.Now().Add(ttl)
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", key, err)
	}
	tmp := fs.path(key) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write record %s: %w", key, err)
	}
	if err := os.Rename(tmp, fs.path(key)); err != nil {
		return fmt.Errorf("commit record %s: %w", key, err)
	}
	return nil
}

// Delete implements Store.
func (fs *FileStore) Delete(key string) error {
	if err := os.Remove(fs.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete record %s: %w", key, err)
	}
	return nil
}

// path maps a key to a filename, escaping anything that is not filesystem-safe.
func (fs *FileStore) path(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteString("%" + hex.EncodeToString([]byte(string(r))))
		}
	}
	return filepath.Join(fs.dir, b.String()+".json")
}
