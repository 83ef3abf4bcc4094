// internal/session/conn_test.go
package session

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casusgame/casus/internal/protocol"
)

var errDialRefused = errors.New("connection refused")

func TestBackoffDelaySchedule(t *testing.T) {
	h := newHarness(t, testConfig(), &scriptedDialer{})
	cm := h.sess.cm

	// Doubles from the 2s floor, capped at the 10s ceiling.
	expected := []time.Duration{
		2 * time.Second, 4 * time.Second, 8 * time.Second,
		10 * time.Second, 10 * time.Second, 10 * time.Second,
	}
	for attempts, want := range expected {
		assert.Equal(t, want, cm.backoffDelay(attempts), "attempts=%d", attempts)
	}
}

func TestReconnectCountsAttemptsAndResetsOnSuccess(t *testing.T) {
	conn := newFakeConn()
	dialer := &scriptedDialer{script: []dialResult{
		{err: errDialRefused},
		{err: errDialRefused},
		{conn: conn},
	}}
	h := newHarness(t, testConfig(), dialer)
	h.start()

	// The initial dial fails; the first counted attempt is armed at the floor.
	require.Eventually(t, func() bool {
		return h.sess.ConnectionState().Reconnecting
	}, waitFor, tick)
	assert.Equal(t, 0, h.sess.ConnectionState().ReconnectAttempts,
		"the initial dial is not a counted attempt")

	h.clock.Advance(2 * time.Second)
	require.Eventually(t, func() bool {
		return h.sess.ConnectionState().ReconnectAttempts == 1
	}, waitFor, tick)

	// Second attempt at the doubled delay succeeds.
	h.clock.BlockUntil(1)
	h.clock.Advance(4 * time.Second)
	h.waitConnected()

	st := h.sess.ConnectionState()
	assert.Equal(t, 0, st.ReconnectAttempts, "success resets the attempt counter")
	assert.False(t, st.Reconnecting)
	assert.Equal(t, 3, dialer.dialCount())
}

func TestGiveUpSchedulesReload(t *testing.T) {
	cfg := testConfig()
	cfg.MaxReconnects = 2
	dialer := &scriptedDialer{} // every dial fails
	h := newHarness(t, cfg, dialer)
	h.start()

	require.Eventually(t, func() bool {
		return h.sess.ConnectionState().Reconnecting
	}, waitFor, tick)

	h.clock.Advance(2 * time.Second) // attempt 1
	h.clock.BlockUntil(1)
	h.clock.Advance(4 * time.Second) // attempt 2, cap reached

	require.Eventually(t, func() bool {
		st := h.sess.ConnectionState()
		return !st.Connected && !st.Reconnecting && st.ReconnectAttempts == 2
	}, waitFor, tick, "session should have given up")
	assert.True(t, h.notif.has("Could not reconnect"))
	assert.Zero(t, h.nav.reloadCount(), "reload waits for the grace delay")

	h.clock.BlockUntil(1)
	h.clock.Advance(5 * time.Second)
	require.Eventually(t, func() bool {
		return h.nav.reloadCount() == 1
	}, waitFor, tick)

	// Given up means no further dials, visibility included.
	h.sess.SetVisible(true)
	h.syncLoop()
	assert.Equal(t, 3, dialer.dialCount())
}

func TestHeartbeatCadence(t *testing.T) {
	conn := newFakeConn()
	h := newHarness(t, testConfig(), &scriptedDialer{script: []dialResult{{conn: conn}}})
	h.start()
	h.waitConnected()

	assert.Zero(t, conn.countSent(protocol.CmdPing))

	h.clock.Advance(45 * time.Second)
	h.waitSent(conn, protocol.CmdPing, 1)

	h.clock.Advance(45 * time.Second)
	h.waitSent(conn, protocol.CmdPing, 2)

	// The keep-alive carries the room id under its one camelCase key.
	var ping struct {
		RoomID string `json:"roomId"`
	}
	decodeSent(t, conn, protocol.CmdPing, &ping)
	assert.Equal(t, "ABCD", ping.RoomID)
}

func TestHeartbeatSingleInstance(t *testing.T) {
	conn := newFakeConn()
	h := newHarness(t, testConfig(), &scriptedDialer{script: []dialResult{{conn: conn}}})
	h.start()
	h.waitConnected()

	// Re-arming replaces the running heartbeat instead of stacking a second.
	h.sess.post(func() { h.sess.cm.startHeartbeat() })
	h.sess.post(func() { h.sess.cm.startHeartbeat() })
	h.syncLoop()

	h.clock.Advance(45 * time.Second)
	h.waitSent(conn, protocol.CmdPing, 1)
	h.syncLoop()
	assert.Equal(t, 1, conn.countSent(protocol.CmdPing))
}

func TestDisconnectNotifiesAndReconnects(t *testing.T) {
	conn1 := newFakeConn()
	conn2 := newFakeConn()
	cfg := testConfig()
	cfg.ReconnectFloor = 3 * time.Second
	dialer := &scriptedDialer{script: []dialResult{{conn: conn1}, {conn: conn2}}}
	h := newHarness(t, cfg, dialer)
	h.snaps.SavePlayerName("Alice")
	h.start()
	h.waitConnected()

	conn1.fail <- io.EOF
	require.Eventually(t, func() bool {
		st := h.sess.ConnectionState()
		return !st.Connected && st.Reconnecting
	}, waitFor, tick)
	assert.True(t, h.notif.has("Connection lost"))

	// A snapshot was persisted on the way down.
	_, ok := h.snaps.Load("ABCD")
	assert.True(t, ok)

	h.clock.Advance(3 * time.Second)
	h.waitConnected()

	// The outage exceeded the 2s notice threshold.
	require.Eventually(t, func() bool {
		return h.notif.has("Connection restored")
	}, waitFor, tick)
	assert.Equal(t, 2, dialer.dialCount())
}

func TestVisibilityRecovery(t *testing.T) {
	conn1 := newFakeConn()
	conn2 := newFakeConn()
	dialer := &scriptedDialer{script: []dialResult{{conn: conn1}, {conn: conn2}}}
	h := newHarness(t, testConfig(), dialer)
	h.start()
	h.waitConnected()

	conn1.fail <- io.EOF
	require.Eventually(t, func() bool {
		return h.sess.ConnectionState().Reconnecting
	}, waitFor, tick)

	// Foregrounding while a reconnect is already scheduled must not dial a
	// second connection in parallel.
	h.sess.SetVisible(true)
	h.syncLoop()
	assert.Equal(t, 1, dialer.dialCount())

	// Simulate the backoff timer being out of the picture (as after a long
	// background stretch), then a background -> foreground flip.
	h.sess.post(func() {
		h.sess.cm.cancelReconnectTimer()
		h.sess.cm.state.Reconnecting = false
	})
	h.sess.SetVisible(false)
	h.syncLoop()
	assert.Equal(t, 1, dialer.dialCount(), "backgrounding never dials or disconnects")

	h.sess.SetVisible(true)
	h.waitConnected()
	assert.Equal(t, 2, dialer.dialCount())
}

// syncLoop waits until every closure queued before it has run.
func (h *harness) syncLoop() {
	_ = h.sess.ConnectionState()
}
