// internal/store/store.go
package store

import "time"

// Store is a small device-local key-value surface with optional expiry. The
// session core keeps exactly three kinds of records in it: one snapshot per
// room, one global player name, and a short-lived per-room join-retry flag.
type Store interface {
	// Get returns the stored value for key, or ok=false if the key is absent
	// or its TTL has lapsed. Expired or unreadable records count as absent.
	Get(key string) (value []byte, ok bool, err error)

	// Set writes value under key, replacing any prior record wholesale.
	// A ttl of zero means the record never expires on its own.
	Set(key string, value []byte, ttl time.Duration) error

	// Delete removes the record for key. Deleting an absent key is not an error.
	Delete(key string) error
}
