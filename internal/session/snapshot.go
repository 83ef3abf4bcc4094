// internal/session/snapshot.go
package session

import (
	"encoding/json"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/casusgame/casus/internal/game"
	"github.com/casusgame/casus/internal/store"
)

// Storage keys. The snapshot and retry-flag keys are room-scoped; the player
// name is a single global record shared by every room on this device.
const (
	snapshotKeyPrefix  = "gameState_"
	playerNameKey      = "playerName"
	joinRetryKeyPrefix = "join_retry_"
)

// Snapshot is the minimal resumable session: enough to rejoin a room as the
// same player mid-game after a reload or a long screen-off disconnect.
type Snapshot struct {
	RoomID      string     `json:"room_id"`
	PlayerName  string     `json:"player_name"`
	GameStarted bool       `json:"game_started"`
	Role        *game.Role `json:"role,omitempty"`
	Phase       game.Phase `json:"phase"`
	SavedAt     time.Time  `json:"saved_at"`
}

// SnapshotStore persists one snapshot per room with a staleness TTL, plus the
// global player name and the short-lived join-retry flag.
type SnapshotStore struct {
	st          store.Store
	clock       clockwork.Clock
	log         *logrus.Logger
	ttl         time.Duration
	retryExpiry time.Duration
}

// NewSnapshotStore wires the store with the configured snapshot TTL and
// join-retry expiry.
func NewSnapshotStore(st store.Store, clock clockwork.Clock, log *logrus.Logger, ttl, retryExpiry time.Duration) *SnapshotStore {
	return &SnapshotStore{st: st, clock: clock, log: log, ttl: ttl, retryExpiry: retryExpiry}
}

// Save writes the snapshot for its room, stamping SavedAt fresh. The write
// fully replaces any prior snapshot for that room.
func (ss *SnapshotStore) Save(s Snapshot) error {
	s.SavedAt = ss.clock.Now()
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return ss.st.Set(snapshotKeyPrefix+s.RoomID, data, 0)
}

// Load returns the room's snapshot only while it is younger than the TTL.
// Stale, missing, or malformed snapshots all read as absent; corruption is
// logged and never propagated.
func (ss *SnapshotStore) Load(roomID string) (Snapshot, bool) {
	var s Snapshot
	data, ok, err := ss.st.Get(snapshotKeyPrefix + roomID)
	if err != nil {
		ss.log.Warnf("snapshot: load failed for room %s: %v", roomID, err)
		return s, false
	}
	if !ok {
		return s, false
	}
	if err := json.Unmarshal(data, &s); err != nil {
		ss.log.Warnf("snapshot: discarding malformed snapshot for room %s: %v", roomID, err)
		ss.Clear(roomID)
		return Snapshot{}, false
	}
	if ss.clock.Now().Sub(s.SavedAt) >= ss.ttl {
		ss.Clear(roomID)
		return Snapshot{}, false
	}
	return s, true
}

// Clear removes the room's snapshot.
func (ss *SnapshotStore) Clear(roomID string) {
	if err := ss.st.Delete(snapshotKeyPrefix + roomID); err != nil {
		ss.log.Warnf("snapshot: clear failed for room %s: %v", roomID, err)
	}
}

// PlayerName returns the device's saved identity, if any.
func (ss *SnapshotStore) PlayerName() (string, bool) {
	data, ok, err := ss.st.Get(playerNameKey)
	if err != nil || !ok {
		return "", false
	}
	return string(data), true
}

// SavePlayerName persists the identity confirmed by room_joined.
func (ss *SnapshotStore) SavePlayerName(name string) {
	if err := ss.st.Set(playerNameKey, []byte(name), 0); err != nil {
		ss.log.Warnf("snapshot: save player name failed: %v", err)
	}
}

// ClearPlayerName drops the identity; the session can no longer resume.
func (ss *SnapshotStore) ClearPlayerName() {
	if err := ss.st.Delete(playerNameKey); err != nil {
		ss.log.Warnf("snapshot: clear player name failed: %v", err)
	}
}

// MarkJoinRetried arms the per-room one-shot retry flag. It self-clears after
// the configured expiry so a later genuine failure can retry again.
func (ss *SnapshotStore) MarkJoinRetried(roomID string) {
	if err := ss.st.Set(joinRetryKeyPrefix+roomID, []byte("1"), ss.retryExpiry); err != nil {
		ss.log.Warnf("snapshot: mark join retry failed for room %s: %v", roomID, err)
	}
}

// JoinRetried reports whether the room's one-shot retry was already spent.
func (ss *SnapshotStore) JoinRetried(roomID string) bool {
	_, ok, err := ss.st.Get(joinRetryKeyPrefix + roomID)
	return err == nil && ok
}

// ClearJoinRetry resets the flag, used when the session's identity is wiped.
func (ss *SnapshotStore) ClearJoinRetry(roomID string) {
	if err := ss.st.Delete(joinRetryKeyPrefix + roomID); err != nil {
		ss.log.Warnf("snapshot: clear join retry failed for room %s: %v", roomID, err)
	}
}
