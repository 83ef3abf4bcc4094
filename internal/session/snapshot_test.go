// internal/session/snapshot_test.go
package session

import (
	"io"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casusgame/casus/internal/game"
	"github.com/casusgame/casus/internal/store"
)

func newTestSnapshotStore(t *testing.T) (*SnapshotStore, *clockwork.FakeClock) {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	clock := clockwork.NewFakeClock()
	fs, err := store.NewFileStore(t.TempDir(), clock, log)
	require.NoError(t, err)
	return NewSnapshotStore(fs, clock, log, 20*time.Minute, 10*time.Second), clock
}

func TestSnapshotFreshnessBoundary(t *testing.T) {
	ss, clock := newTestSnapshotStore(t)
	require.NoError(t, ss.Save(Snapshot{
		RoomID:      "ABCD",
		PlayerName:  "Alice",
		GameStarted: true,
		Phase:       game.PhaseDiscussion,
		Role:        &game.Role{Kind: game.RoleCitizen, Country: "Japan"},
	}))

	// One second under the 20-minute TTL: still resumable.
	clock.Advance(20*time.Minute - time.Second)
	s, ok := ss.Load("ABCD")
	require.True(t, ok)
	assert.Equal(t, "Alice", s.PlayerName)
	assert.Equal(t, game.PhaseDiscussion, s.Phase)
	require.NotNil(t, s.Role)
	assert.Equal(t, game.RoleCitizen, s.Role.Kind)

	// Exactly at the TTL: gone, and gone for good.
	clock.Advance(time.Second)
	_, ok = ss.Load("ABCD")
	assert.False(t, ok)
	_, ok = ss.Load("ABCD")
	assert.False(t, ok, "a stale snapshot is cleared on first read")
}

func TestSaveRestampsFreshness(t *testing.T) {
	ss, clock := newTestSnapshotStore(t)
	require.NoError(t, ss.Save(Snapshot{RoomID: "ABCD", PlayerName: "Alice"}))

	clock.Advance(19 * time.Minute)
	require.NoError(t, ss.Save(Snapshot{RoomID: "ABCD", PlayerName: "Alice", GameStarted: true}))

	// 19 + 19 minutes after the first save would be stale; the overwrite reset
	// the clock.
	clock.Advance(19 * time.Minute)
	s, ok := ss.Load("ABCD")
	require.True(t, ok)
	assert.True(t, s.GameStarted)
}

func TestSnapshotsAreRoomScoped(t *testing.T) {
	ss, _ := newTestSnapshotStore(t)
	require.NoError(t, ss.Save(Snapshot{RoomID: "AAAA", PlayerName: "Alice"}))
	require.NoError(t, ss.Save(Snapshot{RoomID: "BBBB", PlayerName: "Alice"}))

	ss.Clear("AAAA")
	_, ok := ss.Load("AAAA")
	assert.False(t, ok)
	_, ok = ss.Load("BBBB")
	assert.True(t, ok)
}

func TestMalformedSnapshotReadsAbsent(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)
	clock := clockwork.NewFakeClock()
	fs, err := store.NewFileStore(t.TempDir(), clock, log)
	require.NoError(t, err)
	ss := NewSnapshotStore(fs, clock, log, 20*time.Minute, 10*time.Second)

	require.NoError(t, fs.Set("gameState_ABCD", []byte("{broken"), 0))
	_, ok := ss.Load("ABCD")
	assert.False(t, ok)
}

func TestPlayerNameLifecycle(t *testing.T) {
	ss, _ := newTestSnapshotStore(t)
	_, ok := ss.PlayerName()
	assert.False(t, ok)

	ss.SavePlayerName("Alice")
	name, ok := ss.PlayerName()
	require.True(t, ok)
	assert.Equal(t, "Alice", name)

	ss.ClearPlayerName()
	_, ok = ss.PlayerName()
	assert.False(t, ok)
}

func TestJoinRetryFlagExpires(t *testing.T) {
	ss, clock := newTestSnapshotStore(t)
	assert.False(t, ss.JoinRetried("ABCD"))

	ss.MarkJoinRetried("ABCD")
	assert.True(t, ss.JoinRetried("ABCD"))
	assert.False(t, ss.JoinRetried("EFGH"), "the flag is per room")

	// The one-shot flag self-clears so a later genuine failure can retry.
	clock.Advance(10 * time.Second)
	assert.False(t, ss.JoinRetried("ABCD"))
}
