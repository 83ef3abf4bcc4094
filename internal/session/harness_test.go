// internal/session/harness_test.go
//
// Test doubles for the host boundary and the transport, plus a harness that
// runs a real session loop against a scripted dialer and a fake clock.
package session

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/casusgame/casus/internal/config"
	"github.com/casusgame/casus/internal/game"
	"github.com/casusgame/casus/internal/protocol"
	"github.com/casusgame/casus/internal/store"
	"github.com/casusgame/casus/internal/transport"
)

const (
	waitFor = 3 * time.Second
	tick    = 2 * time.Millisecond
)

func testConfig() config.Config {
	return config.Config{
		ServerURL:         "http://localhost:5000",
		EntryURL:          "/",
		ReconnectFloor:    2 * time.Second,
		ReconnectCeil:     10 * time.Second,
		MaxReconnects:     20,
		GiveUpReloadIn:    5 * time.Second,
		JoinRetryDelay:    2 * time.Second,
		JoinRetryExpiry:   10 * time.Second,
		JoinFailDelay:     4 * time.Second,
		KeepAliveInterval: 45 * time.Second,
		SnapshotTTL:       20 * time.Minute,
	}
}

// fakeConn is a scriptable transport connection. Inbound frames and failures
// are injected through channels; outbound frames are recorded.
type fakeConn struct {
	incoming chan protocol.Frame
	fail     chan error

	closeOnce sync.Once
	closed    chan struct{}

	mu   sync.Mutex
	sent []protocol.Frame
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		incoming: make(chan protocol.Frame, 16),
		fail:     make(chan error, 1),
		closed:   make(chan struct{}),
	}
}

func (c *fakeConn) Send(_ context.Context, f protocol.Frame) error {
	c.mu.Lock()
	c.sent = append(c.sent, f)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Receive(ctx context.Context) (protocol.Frame, error) {
	select {
	case f := <-c.incoming:
		return f, nil
	case err := <-c.fail:
		return protocol.Frame{}, err
	case <-c.closed:
		return protocol.Frame{}, io.EOF
	case <-ctx.Done():
		return protocol.Frame{}, ctx.Err()
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) Kind() string { return "fake" }

// inject delivers a server event to the session as a wire frame.
func (c *fakeConn) inject(t *testing.T, event string, payload interface{}) {
	t.Helper()
	f, err := protocol.NewFrame(event, payload)
	require.NoError(t, err)
	c.incoming <- f
}

func (c *fakeConn) sentEvents() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	events := make([]string, len(c.sent))
	for i, f := range c.sent {
		events[i] = f.Event
	}
	return events
}

func (c *fakeConn) countSent(event string) int {
	n := 0
	for _, e := range c.sentEvents() {
		if e == event {
			n++
		}
	}
	return n
}

// lastSent returns the newest frame with the given event name.
func (c *fakeConn) lastSent(event string) (protocol.Frame, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.sent) - 1; i >= 0; i-- {
		if c.sent[i].Event == event {
			return c.sent[i], true
		}
	}
	return protocol.Frame{}, false
}

// dialResult is one scripted answer to a Dial call.
type dialResult struct {
	conn *fakeConn
	err  error
}

type scriptedDialer struct {
	mu     sync.Mutex
	script []dialResult
	dials  int
}

func (d *scriptedDialer) Dial(_ context.Context, _ string) (transport.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if len(d.script) == 0 {
		return nil, io.ErrUnexpectedEOF
	}
	r := d.script[0]
	d.script = d.script[1:]
	if r.err != nil {
		return nil, r.err
	}
	return r.conn, nil
}

func (d *scriptedDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *scriptedDialer) push(r dialResult) {
	d.mu.Lock()
	d.script = append(d.script, r)
	d.mu.Unlock()
}

type notice struct {
	level   game.NotifyLevel
	message string
}

type fakeNotifier struct {
	mu      sync.Mutex
	notices []notice
}

func (n *fakeNotifier) Notify(level game.NotifyLevel, message string) {
	n.mu.Lock()
	n.notices = append(n.notices, notice{level, message})
	n.mu.Unlock()
}

func (n *fakeNotifier) has(substr string) bool {
	return n.count(substr) > 0
}

func (n *fakeNotifier) count(substr string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, x := range n.notices {
		if strings.Contains(x.message, substr) {
			c++
		}
	}
	return c
}

type fakeNav struct {
	mu        sync.Mutex
	redirects []string
	reloads   int
}

func (n *fakeNav) Redirect(url string) {
	n.mu.Lock()
	n.redirects = append(n.redirects, url)
	n.mu.Unlock()
}

func (n *fakeNav) Reload() {
	n.mu.Lock()
	n.reloads++
	n.mu.Unlock()
}

func (n *fakeNav) lastRedirect() (string, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.redirects) == 0 {
		return "", false
	}
	return n.redirects[len(n.redirects)-1], true
}

func (n *fakeNav) reloadCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.reloads
}

// fakeUI records every presentation call.
type fakeUI struct {
	mu           sync.Mutex
	rosters      [][]protocol.Player
	startVisible []bool
	chats        []string
	chatNotices  []string
	chatEnabled  []bool
	roleCards    []game.Role
	indicators   []game.Role
	roleCleared  int
	timerTexts   []string
	timerLabels  []string
	timerHidden  int
	voteControls [][]string
	votedFor     []string
	votesHidden  int
	tallies      []map[string]int
	summaries    []game.ShowEndSummary
	summaryDone  int
	connStates   []ConnectionState
}

func (u *fakeUI) ShowRoster(players []protocol.Player, startVisible bool) {
	u.mu.Lock()
	u.rosters = append(u.rosters, players)
	u.startVisible = append(u.startVisible, startVisible)
	u.mu.Unlock()
}

func (u *fakeUI) AppendChat(from, message, _ string) {
	u.mu.Lock()
	u.chats = append(u.chats, from+": "+message)
	u.mu.Unlock()
}

func (u *fakeUI) AppendNotice(message string) {
	u.mu.Lock()
	u.chatNotices = append(u.chatNotices, message)
	u.mu.Unlock()
}

func (u *fakeUI) EnableChat(enabled bool) {
	u.mu.Lock()
	u.chatEnabled = append(u.chatEnabled, enabled)
	u.mu.Unlock()
}

func (u *fakeUI) ShowRoleCard(role game.Role) {
	u.mu.Lock()
	u.roleCards = append(u.roleCards, role)
	u.mu.Unlock()
}

func (u *fakeUI) ShowRoleIndicator(role game.Role) {
	u.mu.Lock()
	u.indicators = append(u.indicators, role)
	u.mu.Unlock()
}

func (u *fakeUI) ClearRole() {
	u.mu.Lock()
	u.roleCleared++
	u.mu.Unlock()
}

func (u *fakeUI) ShowTimer(text, label string) {
	u.mu.Lock()
	u.timerTexts = append(u.timerTexts, text)
	u.timerLabels = append(u.timerLabels, label)
	u.mu.Unlock()
}

func (u *fakeUI) HideTimer() {
	u.mu.Lock()
	u.timerHidden++
	u.mu.Unlock()
}

func (u *fakeUI) ShowVoteControls(eligible []string) {
	u.mu.Lock()
	u.voteControls = append(u.voteControls, eligible)
	u.mu.Unlock()
}

func (u *fakeUI) DisableVoteControls(voted string) {
	u.mu.Lock()
	u.votedFor = append(u.votedFor, voted)
	u.mu.Unlock()
}

func (u *fakeUI) HideVoteControls() {
	u.mu.Lock()
	u.votesHidden++
	u.mu.Unlock()
}

func (u *fakeUI) ShowTally(counts map[string]int) {
	u.mu.Lock()
	u.tallies = append(u.tallies, counts)
	u.mu.Unlock()
}

func (u *fakeUI) ShowEndSummary(s game.ShowEndSummary) {
	u.mu.Lock()
	u.summaries = append(u.summaries, s)
	u.mu.Unlock()
}

func (u *fakeUI) CloseEndSummary() {
	u.mu.Lock()
	u.summaryDone++
	u.mu.Unlock()
}

func (u *fakeUI) ConnectionChanged(state ConnectionState) {
	u.mu.Lock()
	u.connStates = append(u.connStates, state)
	u.mu.Unlock()
}

func (u *fakeUI) countTimerText(text string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	c := 0
	for _, x := range u.timerTexts {
		if x == text {
			c++
		}
	}
	return c
}

func (u *fakeUI) lastTimerText() (string, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.timerTexts) == 0 {
		return "", false
	}
	return u.timerTexts[len(u.timerTexts)-1], true
}

func (u *fakeUI) lastStartVisible() (bool, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.startVisible) == 0 {
		return false, false
	}
	return u.startVisible[len(u.startVisible)-1], true
}

func (u *fakeUI) indicatorCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.indicators)
}

// harness runs one session loop end to end with everything faked out.
type harness struct {
	t      *testing.T
	clock  *clockwork.FakeClock
	snaps  *SnapshotStore
	ui     *fakeUI
	notif  *fakeNotifier
	nav    *fakeNav
	dialer *scriptedDialer
	sess   *Session
	done   chan struct{}
}

func newHarness(t *testing.T, cfg config.Config, dialer *scriptedDialer) *harness {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	clock := clockwork.NewFakeClock()

	fs, err := store.NewFileStore(t.TempDir(), clock, log)
	require.NoError(t, err)
	snaps := NewSnapshotStore(fs, clock, log, cfg.SnapshotTTL, cfg.JoinRetryExpiry)

	h := &harness{
		t:      t,
		clock:  clock,
		snaps:  snaps,
		ui:     &fakeUI{},
		notif:  &fakeNotifier{},
		nav:    &fakeNav{},
		dialer: dialer,
	}
	h.sess = New(cfg, "ABCD", Deps{
		Logger:    log,
		Clock:     clock,
		Dialer:    dialer,
		Snapshots: snaps,
		UI:        h.ui,
		Notifier:  h.notif,
		Navigator: h.nav,
	})
	return h
}

// start runs the loop in the background and stops it at test end.
func (h *harness) start() {
	ctx, cancel := context.WithCancel(context.Background())
	h.done = make(chan struct{})
	go func() {
		h.sess.Run(ctx)
		close(h.done)
	}()
	h.t.Cleanup(func() {
		cancel()
		select {
		case <-h.done:
		case <-time.After(waitFor):
			h.t.Error("session loop did not stop")
		}
	})
}

func (h *harness) waitConnected() {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		return h.sess.ConnectionState().Connected
	}, waitFor, tick, "session never connected")
}

func (h *harness) waitSent(conn *fakeConn, event string, count int) {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		return conn.countSent(event) >= count
	}, waitFor, tick, "frame %s (x%d) never sent; got %v", event, count, conn.sentEvents())
}

// decodeSent unmarshals the newest outbound frame of the given event.
func decodeSent(t *testing.T, conn *fakeConn, event string, dst interface{}) {
	t.Helper()
	f, ok := conn.lastSent(event)
	require.True(t, ok, "no %s frame sent; got %v", event, conn.sentEvents())
	require.NoError(t, json.Unmarshal(f.Data, dst))
}
