// internal/game/machine.go
package game

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/casusgame/casus/internal/protocol"
)

// Staged pauses between a server notification and the follow-up presentation,
// matching the reveal pacing players expect.
const (
	tieReopenPause   = 2 * time.Second
	endSummaryPause  = 3 * time.Second
	roleRevealWindow = 5 * time.Second
	discussionNotice = 2 * time.Second
)

// defaultTimerStart is used when game_started carries no timer value.
const defaultTimerStart = 120

// Machine is the client-side mirror of the room's game phase. Server events
// and local user actions go in through Apply; everything the host or the
// server must do comes back out as an ordered effect list. Apply itself never
// touches a socket, a clock, or the store.
type Machine struct {
	state State
	log   *logrus.Logger
}

// NewMachine starts a machine in the waiting phase for the given room and
// local player.
func NewMachine(roomID, selfName string, log *logrus.Logger) *Machine {
	return &Machine{
		state: State{
			RoomID:   roomID,
			SelfName: selfName,
			Phase:    PhaseWaiting,
		},
		log: log,
	}
}

// State returns a copy of the current machine state for inspection and
// snapshotting.
func (m *Machine) State() State {
	return m.state
}

// SetSelfName fixes the local player's identity once the server confirms it
// via room_joined, or when the device's saved name is restored on resume.
func (m *Machine) SetSelfName(name string) {
	m.state.SelfName = name
}

// RestoreSnapshot reloads resumable state after a reconnect or page reload.
// A restored role goes straight into the Hidden sub-state: a resuming player
// already saw their card before the interruption.
func (m *Machine) RestoreSnapshot(started bool, phase Phase, role *Role) []Effect {
	m.state.Started = started
	m.state.Phase = phase
	m.state.Role = role

	var effects []Effect
	if role != nil && started {
		m.state.RoleVisibility = RoleHidden
		effects = append(effects, HideRoleCard{Role: *role})
	}
	if started {
		effects = append(effects, EnableChat{Enabled: true})
	}
	return effects
}

// Apply runs one transition. Events the current phase has no use for are
// dropped with a log line rather than an error; the server is authoritative
// and the client never fights it.
func (m *Machine) Apply(ev Event) []Effect {
	switch e := ev.(type) {
	// Server events.
	case *protocol.PlayerJoined:
		return m.applyRoster(e.Players, joinedNotice(e.NewPlayerName, m.state.SelfName))
	case *protocol.PlayerLeft:
		return m.applyRoster(e.Players, leftNotice(e.PlayerName, m.state.SelfName))
	case *protocol.GameStarted:
		return m.applyGameStarted(e)
	case *protocol.RoleAssigned:
		return m.applyRoleAssigned(e)
	case *protocol.StartError:
		return []Effect{Notify{Level: NotifyError, Message: e.Message}}
	case *protocol.NewMessage:
		return []Effect{
			ChatMessage{From: e.PlayerName, Message: e.Message, Timestamp: e.Timestamp},
			Record{Kind: "chat", Player: e.PlayerName, Payload: map[string]interface{}{"message": e.Message}},
		}
	case *protocol.VotingStarted:
		return m.applyVotingStarted(e)
	case *protocol.VoteSubmitted:
		return []Effect{ChatNotice{Message: e.Message}}
	case *protocol.VoteTie:
		return m.applyVoteTie(e)
	case *protocol.GameEnded:
		return m.applyGameEnded(e)
	case *protocol.GameReset:
		return m.applyReset(e.Players, e.Message)

	// User actions.
	case ActStartGame:
		return m.applyStartGame()
	case ActRequestVoting:
		return m.applyRequestVoting()
	case ActCastVote:
		return m.applyCastVote(e.Target)
	case ActSendChat:
		return m.applySendChat(e.Message)
	case ActPlayAgain:
		return m.applyPlayAgain()
	case ActHideRole:
		return m.applyHideRole()
	case ActRevealRole:
		return m.applyRevealRole()

	// Ticks and deferred events.
	case TimerTick:
		return m.applyTick()
	case evReopenVoting:
		return m.applyReopenVoting(e.Tied)
	case evShowEndSummary:
		return m.applyShowEndSummary(e.Data)
	case evAutoHideRole:
		return m.applyAutoHideRole()
	case evChatNotice:
		return []Effect{ChatNotice{Message: e.Message}}
	}

	m.log.Debugf("machine: ignoring event %T in phase %s", ev, m.state.Phase)
	return nil
}

// applyRoster replaces the roster wholesale and recomputes the start gating.
func (m *Machine) applyRoster(players []protocol.Player, notice string) []Effect {
	m.state.Players = players
	effects := []Effect{ShowRoster{Players: players, StartVisible: m.state.CanStart()}}
	if notice != "" {
		effects = append(effects, ChatNotice{Message: notice})
	}
	return effects
}

func joinedNotice(name, self string) string {
	if name == "" || name == self {
		return ""
	}
	return name + " joined the lobby!"
}

func leftNotice(name, self string) string {
	if name == "" || name == self {
		return ""
	}
	return name + " left the lobby"
}

func (m *Machine) applyGameStarted(e *protocol.GameStarted) []Effect {
	m.state.Started = true
	m.state.Phase = PhaseDiscussion

	start := e.Timer
	if start == 0 {
		start = defaultTimerStart
	}
	label := e.Phase
	if label == "" {
		label = string(PhaseDiscussion)
	}
	m.state.Timer = &Timer{Elapsed: start, Label: label}

	return []Effect{
		ShowRoster{Players: m.state.Players, StartVisible: false},
		EnableChat{Enabled: true},
		ChatNotice{Message: e.Message},
		ChatNotice{Message: "You can open the vote whenever you are ready."},
		StartTimer{Start: start, Label: label},
		SaveSnapshot{},
		Record{Kind: "game_started", Payload: map[string]interface{}{"timer": start}},
	}
}

func (m *Machine) applyRoleAssigned(e *protocol.RoleAssigned) []Effect {
	role := Role{Kind: RoleKind(e.Role), Message: e.Message}
	if role.Kind != RoleSpy {
		role.Kind = RoleCitizen
		role.Country = e.Country
	}
	m.state.Role = &role
	m.state.RoleVisibility = RoleVisible
	m.state.tempReveal = false

	return []Effect{
		ShowRoleCard{Role: role},
		SaveSnapshot{},
		After{Delay: discussionNotice, Event: evChatNotice{
			Message: "Discussion is open. Talk it out and find the spy.",
		}},
	}
}

func (m *Machine) applyVotingStarted(e *protocol.VotingStarted) []Effect {
	m.state.Phase = PhaseVoting
	names := make([]string, 0, len(e.Players))
	for _, p := range e.Players {
		names = append(names, p.Name)
	}
	m.state.Vote = newVoteRound(names, m.state.SelfName, nil)
	if m.state.Timer != nil {
		m.state.Timer.Label = string(PhaseVoting)
	}

	return []Effect{
		ChatNotice{Message: e.Message},
		ShowVoteControls{Eligible: m.state.Vote.Eligible},
		ChatNotice{Message: "Note: you cannot vote for yourself."},
		SetTimerLabel{Label: string(PhaseVoting)},
		SaveSnapshot{},
	}
}

func (m *Machine) applyVoteTie(e *protocol.VoteTie) []Effect {
	if m.state.Phase != PhaseVoting {
		m.log.Warnf("machine: vote_tie outside voting phase (%s), ignoring", m.state.Phase)
		return nil
	}
	return []Effect{
		ChatNotice{Message: e.Message},
		ShowTally{Counts: e.VoteCount},
		After{Delay: tieReopenPause, Event: evReopenVoting{Tied: e.TiedPlayers}},
		Record{Kind: "vote_tie", Payload: map[string]interface{}{"tied": e.TiedPlayers}},
	}
}

// applyReopenVoting re-enters Voting with the eligible set narrowed to the
// tied candidates. Self stays excluded even when self is among them.
func (m *Machine) applyReopenVoting(tied []string) []Effect {
	if m.state.Phase != PhaseVoting {
		return nil
	}
	m.state.Vote = newVoteRound(tied, m.state.SelfName, tied)
	return []Effect{
		ShowVoteControls{Eligible: m.state.Vote.Eligible},
		ChatNotice{Message: "Tie! Voting again between the tied players."},
	}
}

func (m *Machine) applyGameEnded(e *protocol.GameEnded) []Effect {
	m.state.Phase = PhaseEnded
	m.state.Timer = nil
	m.state.Vote = nil

	return []Effect{
		StopTimer{},
		HideVoteControls{},
		ChatNotice{Message: e.Message},
		ShowTally{Counts: e.VoteCount},
		ChatNotice{Message: "The country was: " + e.Country},
		After{Delay: endSummaryPause, Event: evShowEndSummary{Data: *e}},
		SaveSnapshot{},
		Record{Kind: "game_ended", Payload: map[string]interface{}{
			"result": e.Result, "spy": e.SpyPlayer, "voted": e.VotedPlayer,
		}},
	}
}

func (m *Machine) applyShowEndSummary(e protocol.GameEnded) []Effect {
	if m.state.Phase != PhaseEnded {
		return nil
	}
	return []Effect{ShowEndSummary{
		Result:      e.Result,
		Message:     e.Message,
		Country:     e.Country,
		SpyPlayer:   e.SpyPlayer,
		VotedPlayer: e.VotedPlayer,
		Counts:      e.VoteCount,
	}}
}

// applyReset returns the room to the waiting lobby on a server game_reset.
func (m *Machine) applyReset(players []protocol.Player, message string) []Effect {
	m.resetLocal()
	m.state.Players = players

	return []Effect{
		StopTimer{},
		ClearRole{},
		HideVoteControls{},
		EnableChat{Enabled: false},
		CloseEndSummary{},
		ShowRoster{Players: players, StartVisible: m.state.CanStart()},
		ChatNotice{Message: message},
		ChatNotice{Message: "Ready for a new game. At least 3 players needed."},
		ClearSnapshot{},
		Record{Kind: "game_reset", Payload: nil},
	}
}

// resetLocal clears everything a finished or reset game leaves behind.
func (m *Machine) resetLocal() {
	m.state.Started = false
	m.state.Phase = PhaseWaiting
	m.state.Role = nil
	m.state.RoleVisibility = RoleVisible
	m.state.tempReveal = false
	m.state.Timer = nil
	m.state.Vote = nil
}

func (m *Machine) applyStartGame() []Effect {
	if m.state.Started {
		return []Effect{Notify{Level: NotifyWarning, Message: "The game has already started."}}
	}
	if m.state.ConnectedCount() < 3 {
		return []Effect{Notify{Level: NotifyWarning, Message: "At least 3 connected players are needed."}}
	}
	// Phase stays Waiting until the server confirms with game_started.
	return []Effect{SendCommand{Event: protocol.CmdStartGame, Payload: protocol.StartGame{RoomID: m.state.RoomID}}}
}

func (m *Machine) applyRequestVoting() []Effect {
	if !m.state.Started || m.state.Phase != PhaseDiscussion {
		return []Effect{Notify{Level: NotifyWarning, Message: "Voting can only start during discussion."}}
	}
	// Phase stays Discussion until the server confirms with voting_started.
	return []Effect{SendCommand{Event: protocol.CmdStartVoting, Payload: protocol.StartVoting{RoomID: m.state.RoomID}}}
}

func (m *Machine) applyCastVote(target string) []Effect {
	if m.state.Phase != PhaseVoting || m.state.Vote == nil {
		return []Effect{Notify{Level: NotifyWarning, Message: "There is no open vote."}}
	}
	if !m.state.Vote.cast(target) {
		// Already voted or ineligible target; a second attempt has no effect.
		return nil
	}
	return []Effect{
		SendCommand{Event: protocol.CmdSubmitVote, Payload: protocol.SubmitVote{
			RoomID:      m.state.RoomID,
			VotedPlayer: target,
		}},
		DisableVoteControls{Voted: target},
		Notify{Level: NotifySuccess, Message: "You voted for " + target + "!"},
		Record{Kind: "vote_cast", Player: m.state.SelfName, Payload: map[string]interface{}{"target": target}},
	}
}

func (m *Machine) applySendChat(message string) []Effect {
	if message == "" || !m.state.Started {
		return nil
	}
	return []Effect{SendCommand{Event: protocol.CmdSendMessage, Payload: protocol.SendMessage{
		RoomID:  m.state.RoomID,
		Message: message,
	}}}
}

// applyPlayAgain is the only path from Ended back to Waiting: a new game, not
// a resume. Local state clears immediately; the roster refresh arrives with
// the server's game_reset broadcast.
func (m *Machine) applyPlayAgain() []Effect {
	m.resetLocal()
	return []Effect{
		SendCommand{Event: protocol.CmdResetGame, Payload: protocol.ResetGame{RoomID: m.state.RoomID}},
		StopTimer{},
		ClearRole{},
		HideVoteControls{},
		EnableChat{Enabled: false},
		CloseEndSummary{},
		ClearSnapshot{},
		Notify{Level: NotifySuccess, Message: "Game reset! You can start a new one."},
	}
}

func (m *Machine) applyHideRole() []Effect {
	if m.state.Role == nil || m.state.RoleVisibility == RoleHidden {
		return nil
	}
	m.state.RoleVisibility = RoleHidden
	m.state.tempReveal = false
	return []Effect{
		HideRoleCard{Role: *m.state.Role},
		Notify{Level: NotifySuccess, Message: "Role hidden. Tap the indicator to peek again."},
	}
}

func (m *Machine) applyRevealRole() []Effect {
	if m.state.Role == nil || m.state.RoleVisibility != RoleHidden {
		return nil
	}
	m.state.RoleVisibility = RoleVisible
	m.state.tempReveal = true
	return []Effect{
		ShowRoleCard{Role: *m.state.Role},
		After{Delay: roleRevealWindow, Event: evAutoHideRole{}},
	}
}

func (m *Machine) applyAutoHideRole() []Effect {
	if m.state.Role == nil || !m.state.tempReveal {
		return nil
	}
	m.state.RoleVisibility = RoleHidden
	m.state.tempReveal = false
	return []Effect{
		HideRoleCard{Role: *m.state.Role},
		Notify{Level: NotifyInfo, Message: "Role hidden again."},
	}
}

func (m *Machine) applyTick() []Effect {
	if m.state.Timer == nil {
		return nil
	}
	m.state.Timer.Elapsed++
	return []Effect{TimerDisplay{Text: m.state.Timer.Display(), Label: m.state.Timer.Label}}
}
