// internal/session/session.go
//
// Session is the single owner of all client-side game state. Everything --
// inbound frames, timer fires, user actions -- funnels through one run loop,
// so no callback ever observes a half-updated state. The phase machine stays
// pure; this file plays out its effects.
package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/casusgame/casus/internal/config"
	"github.com/casusgame/casus/internal/game"
	"github.com/casusgame/casus/internal/protocol"
)

// Session coordinates the connection manager, the phase machine, persistence
// and the host boundary for one room.
type Session struct {
	cfg   config.Config
	log   *logrus.Logger
	clock clockwork.Clock

	roomID    string
	ui        UI
	notifier  Notifier
	nav       Navigator
	recorder  Recorder
	snapshots *SnapshotStore

	machine *game.Machine
	cm      *ConnectionManager

	ctx    context.Context
	cancel context.CancelFunc
	loop   chan func()

	phaseTickerStop chan struct{}
}

// Deps bundles everything the host injects.
type Deps struct {
	Logger    *logrus.Logger
	Clock     clockwork.Clock
	Dialer    Dialer
	Snapshots *SnapshotStore
	UI        UI
	Notifier  Notifier
	Navigator Navigator
	// Recorder may be nil to disable the transcript.
	Recorder Recorder
}

// New builds a session for one room. The machine's own player name starts
// from the device's saved identity; a fresh device joins via JoinAs.
func New(cfg config.Config, roomID string, deps Deps) *Session {
	s := &Session{
		cfg:       cfg,
		log:       deps.Logger,
		clock:     deps.Clock,
		roomID:    roomID,
		ui:        deps.UI,
		notifier:  deps.Notifier,
		nav:       deps.Navigator,
		recorder:  deps.Recorder,
		snapshots: deps.Snapshots,
		loop:      make(chan func(), 256),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	selfName, _ := deps.Snapshots.PlayerName()
	s.machine = game.NewMachine(roomID, selfName, deps.Logger)
	s.cm = newConnectionManager(s, deps.Dialer, uuid.NewString())
	return s
}

// Run processes the loop until ctx ends or Leave tears the session down. The
// session persists a final snapshot on the way out, mirroring the
// page-teardown save.
func (s *Session) Run(ctx context.Context) {
	go func() {
		select {
		case <-ctx.Done():
			s.cancel()
		case <-s.ctx.Done():
		}
	}()
	defer s.cancel()

	s.post(s.cm.Connect)

	for {
		select {
		case <-s.ctx.Done():
			s.saveSnapshot()
			s.cm.shutdown()
			s.stopPhaseTimer()
			s.log.Info("session: stopped")
			return
		case fn := <-s.loop:
			fn()
		}
	}
}

// post hands a closure to the run loop. Safe from any goroutine.
func (s *Session) post(fn func()) {
	select {
	case s.loop <- fn:
	case <-s.ctx.Done():
	}
}

func (s *Session) notify(level game.NotifyLevel, message string) {
	s.notifier.Notify(level, message)
}

// --- User actions (host-facing API; all marshal onto the loop) ---

// JoinAs joins the room as a fresh identity typed at the entry point.
func (s *Session) JoinAs(name string) {
	s.post(func() {
		s.machine.SetSelfName(name)
		s.cm.Send(protocol.CmdJoinRoom, protocol.JoinRoom{RoomID: s.roomID, PlayerName: name})
	})
}

// CreateRoom asks the server for a new room. spyCount must be within [1,3].
func (s *Session) CreateRoom(playerName, roomName string, spyCount int) error {
	if spyCount < 1 || spyCount > 3 {
		return fmt.Errorf("spy count %d out of range [1,3]", spyCount)
	}
	s.post(func() {
		s.cm.Send(protocol.CmdCreateRoom, protocol.CreateRoom{
			PlayerName: playerName,
			RoomName:   roomName,
			SpyCount:   spyCount,
		})
	})
	return nil
}

// StartGame requests the waiting -> discussion transition.
func (s *Session) StartGame() { s.post(func() { s.applyAndPlay(game.ActStartGame{}) }) }

// RequestVoting asks the server to open the vote.
func (s *Session) RequestVoting() { s.post(func() { s.applyAndPlay(game.ActRequestVoting{}) }) }

// CastVote votes for target in the open round.
func (s *Session) CastVote(target string) {
	s.post(func() { s.applyAndPlay(game.ActCastVote{Target: target}) })
}

// SendChat sends a chat line.
func (s *Session) SendChat(message string) {
	s.post(func() { s.applyAndPlay(game.ActSendChat{Message: message}) })
}

// PlayAgain resets an ended game back to the lobby.
func (s *Session) PlayAgain() { s.post(func() { s.applyAndPlay(game.ActPlayAgain{}) }) }

// HideRole collapses the role card to the indicator.
func (s *Session) HideRole() { s.post(func() { s.applyAndPlay(game.ActHideRole{}) }) }

// RevealRole peeks at a hidden role for the fixed window.
func (s *Session) RevealRole() { s.post(func() { s.applyAndPlay(game.ActRevealRole{}) }) }

// SetVisible is the host's foreground/background signal.
func (s *Session) SetVisible(visible bool) {
	s.post(func() { s.cm.HandleVisibilityChange(visible) })
}

// Leave exits the room for good: tells the server, wipes the device identity
// and snapshot, and returns to the entry point.
func (s *Session) Leave() {
	s.post(func() {
		name, _ := s.snapshots.PlayerName()
		s.cm.Send(protocol.CmdLeaveRoom, protocol.LeaveRoom{RoomID: s.roomID, PlayerName: name})
		s.snapshots.ClearPlayerName()
		s.snapshots.Clear(s.roomID)
		// Drop the in-memory identity too, or the teardown save would
		// resurrect the snapshot that was just wiped.
		s.machine.SetSelfName("")
		s.nav.Redirect(s.cfg.EntryURL)
		s.cancel()
	})
}

// ConnectionState reads the connection status through the loop.
func (s *Session) ConnectionState() ConnectionState {
	ch := make(chan ConnectionState, 1)
	s.post(func() { ch <- s.cm.State() })
	select {
	case st := <-ch:
		return st
	case <-s.ctx.Done():
		return ConnectionState{}
	}
}

// --- Inbound handling ---

// handleFrame decodes and routes one inbound frame. Session-level events are
// handled here; game-phase events go through the machine.
func (s *Session) handleFrame(f protocol.Frame) {
	payload, err := protocol.Decode(f)
	if err != nil {
		s.log.Warnf("session: %v", err)
		return
	}

	switch e := payload.(type) {
	case nil:
		// pong for the application keep-alive; the link is alive.
		s.log.Debug("session: pong received")
	case *protocol.RoomCreated:
		s.notify(game.NotifySuccess, "Room created: "+e.RoomID)
	case *protocol.RoomJoined:
		s.snapshots.SavePlayerName(e.PlayerName)
		s.machine.SetSelfName(e.PlayerName)
	case *protocol.JoinError:
		s.handleJoinError(e)
	default:
		s.applyAndPlay(payload)
	}
}

// applyAndPlay runs one machine transition and plays its effects in order.
func (s *Session) applyAndPlay(ev game.Event) {
	s.playEffects(s.machine.Apply(ev))
}

// resumeOrRedirect runs after every successful (re)connect. A saved identity
// rejoins the room, carrying the last known game context so the server can
// tell a resuming player from a new one; without an identity there is nothing
// to resume and the user goes back to the entry point with the room id.
func (s *Session) resumeOrRedirect() {
	name, ok := s.snapshots.PlayerName()
	if !ok {
		s.nav.Redirect(s.cfg.EntryURL + "?room=" + s.roomID)
		return
	}
	s.machine.SetSelfName(name)

	wasInGame := false
	phase := game.PhaseWaiting
	if snap, ok := s.snapshots.Load(s.roomID); ok {
		s.playEffects(s.machine.RestoreSnapshot(snap.GameStarted, snap.Phase, snap.Role))
		wasInGame = snap.GameStarted
		phase = snap.Phase
	}

	s.cm.Send(protocol.CmdJoinRoom, protocol.JoinRoom{
		RoomID:     s.roomID,
		PlayerName: name,
		Reconnect:  true,
		GameState:  &protocol.ResumeState{WasInGame: wasInGame, CurrentPhase: string(phase)},
	})
}

// handleJoinError applies the one-shot automatic retry, and otherwise ends
// the session's identity and returns to the entry point.
func (s *Session) handleJoinError(e *protocol.JoinError) {
	s.notify(game.NotifyError, e.Message)

	name, hasName := s.snapshots.PlayerName()
	retried := s.snapshots.JoinRetried(s.roomID)

	if hasName && !retried && recoverableJoinError(e.Message) {
		s.log.Infof("session: retrying join for saved player %s", name)
		s.snapshots.MarkJoinRetried(s.roomID)
		s.clock.AfterFunc(s.cfg.JoinRetryDelay, func() {
			s.post(func() {
				s.cm.Send(protocol.CmdJoinRoom, protocol.JoinRoom{
					RoomID:     s.roomID,
					PlayerName: name,
					Reconnect:  true,
				})
			})
		})
		return
	}

	s.clock.AfterFunc(s.cfg.JoinFailDelay, func() {
		s.post(func() {
			s.snapshots.ClearPlayerName()
			s.snapshots.ClearJoinRetry(s.roomID)
			s.machine.SetSelfName("")
			s.nav.Redirect(s.cfg.EntryURL)
			s.cancel()
		})
	})
}

// recoverableJoinError matches the two conditions worth one automatic retry:
// the room map not being warm yet right after a reload, and the player's own
// name still registered from the interrupted session.
func recoverableJoinError(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "not found") || strings.Contains(lower, "in use")
}

// --- Persistence ---

// saveSnapshot persists the resumable session for this room. Skipped without
// an identity: there would be nothing to resume as.
func (s *Session) saveSnapshot() {
	st := s.machine.State()
	name := st.SelfName
	if name == "" {
		if saved, ok := s.snapshots.PlayerName(); ok {
			name = saved
		} else {
			return
		}
	}
	err := s.snapshots.Save(Snapshot{
		RoomID:      s.roomID,
		PlayerName:  name,
		GameStarted: st.Started,
		Role:        st.Role,
		Phase:       st.Phase,
	})
	if err != nil {
		s.log.Warnf("session: snapshot save failed: %v", err)
	}
}

// --- Effect playback ---

func (s *Session) playEffects(effects []game.Effect) {
	for _, eff := range effects {
		switch e := eff.(type) {
		case game.SendCommand:
			s.cm.Send(e.Event, e.Payload)
		case game.SaveSnapshot:
			s.saveSnapshot()
		case game.ClearSnapshot:
			s.snapshots.Clear(s.roomID)
		case game.Notify:
			s.notifier.Notify(e.Level, e.Message)
		case game.ChatNotice:
			s.ui.AppendNotice(e.Message)
		case game.ChatMessage:
			s.ui.AppendChat(e.From, e.Message, e.Timestamp)
		case game.ShowRoster:
			s.ui.ShowRoster(e.Players, e.StartVisible)
		case game.EnableChat:
			s.ui.EnableChat(e.Enabled)
		case game.ShowRoleCard:
			s.ui.ShowRoleCard(e.Role)
		case game.HideRoleCard:
			s.ui.ShowRoleIndicator(e.Role)
		case game.ClearRole:
			s.ui.ClearRole()
		case game.StartTimer:
			s.startPhaseTimer(e.Start, e.Label)
		case game.StopTimer:
			s.stopPhaseTimer()
			s.ui.HideTimer()
		case game.SetTimerLabel:
			if t := s.machine.State().Timer; t != nil {
				s.ui.ShowTimer(t.Display(), e.Label)
			}
		case game.TimerDisplay:
			s.ui.ShowTimer(e.Text, e.Label)
		case game.ShowVoteControls:
			s.ui.ShowVoteControls(e.Eligible)
		case game.DisableVoteControls:
			s.ui.DisableVoteControls(e.Voted)
		case game.HideVoteControls:
			s.ui.HideVoteControls()
		case game.ShowTally:
			s.ui.ShowTally(e.Counts)
		case game.ShowEndSummary:
			s.ui.ShowEndSummary(e)
		case game.CloseEndSummary:
			s.ui.CloseEndSummary()
		case game.After:
			ev := e.Event
			s.clock.AfterFunc(e.Delay, func() {
				s.post(func() { s.applyAndPlay(ev) })
			})
		case game.Record:
			if s.recorder != nil {
				player := e.Player
				if player == "" {
					player = s.machine.State().SelfName
				}
				s.recorder.Record(s.roomID, e.Kind, player, e.Payload)
			}
		default:
			s.log.Warnf("session: unknown effect %T", eff)
		}
	}
}

// startPhaseTimer (re)arms the single up-counting phase clock. The previous
// ticker is always invalidated first; stale fires are filtered by handle.
func (s *Session) startPhaseTimer(start int, label string) {
	s.stopPhaseTimer()
	stop := make(chan struct{})
	s.phaseTickerStop = stop

	s.ui.ShowTimer(game.Timer{Elapsed: start, Label: label}.Display(), label)

	ticker := s.clock.NewTicker(time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.Chan():
				s.post(func() {
					if s.phaseTickerStop != stop {
						return
					}
					s.applyAndPlay(game.TimerTick{})
				})
			}
		}
	}()
}

func (s *Session) stopPhaseTimer() {
	if s.phaseTickerStop != nil {
		close(s.phaseTickerStop)
		s.phaseTickerStop = nil
	}
}
