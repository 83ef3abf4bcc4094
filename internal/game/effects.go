// internal/game/effects.go
package game

import (
	"time"

	"github.com/casusgame/casus/internal/protocol"
)

// Event is anything the machine consumes: a decoded inbound protocol payload,
// a user action, a timer tick, or one of the deferred events it scheduled for
// itself through an After effect.
type Event interface{}

// User actions. These are the only transitions not driven by the server.
type (
	// ActStartGame requests the waiting -> discussion transition. The actual
	// phase change waits for the server's game_started.
	ActStartGame struct{}

	// ActRequestVoting asks the server to open voting. The phase change waits
	// for voting_started.
	ActRequestVoting struct{}

	// ActCastVote votes for a player in the open round.
	ActCastVote struct{ Target string }

	// ActSendChat sends a chat line. Ignored while no game is running.
	ActSendChat struct{ Message string }

	// ActPlayAgain resets the ended game back to the waiting lobby.
	ActPlayAgain struct{}

	// ActHideRole collapses the role card into the persistent indicator.
	ActHideRole struct{}

	// ActRevealRole re-opens the hidden role card for a fixed window.
	ActRevealRole struct{}
)

// Internal deferred events, scheduled by the machine via After.
type (
	// TimerTick advances the phase clock by one second.
	TimerTick struct{}

	// evReopenVoting re-arms voting restricted to the tied candidates after
	// the tally display pause.
	evReopenVoting struct{ Tied []string }

	// evShowEndSummary opens the end-of-game summary after the staged pause.
	evShowEndSummary struct{ Data protocol.GameEnded }

	// evAutoHideRole closes a temporary re-reveal window.
	evAutoHideRole struct{}

	// evChatNotice drops a deferred system line into the chat.
	evChatNotice struct{ Message string }
)

// Effect is a side effect the machine wants performed. Apply never performs
// effects itself; the session run loop plays them out in order after each
// transition, which keeps the machine deterministic and directly testable.
type Effect interface{ isEffect() }

// NotifyLevel mirrors the transient notice styling of the host.
type NotifyLevel string

const (
	NotifyInfo    NotifyLevel = "info"
	NotifySuccess NotifyLevel = "success"
	NotifyWarning NotifyLevel = "warning"
	NotifyError   NotifyLevel = "error"
)

type (
	// SendCommand emits a named command with a JSON payload to the server.
	SendCommand struct {
		Event   string
		Payload interface{}
	}

	// SaveSnapshot persists the current resumable state for this room.
	SaveSnapshot struct{}

	// ClearSnapshot drops the persisted state for this room.
	ClearSnapshot struct{}

	// Notify shows a transient, auto-dismissing notice.
	Notify struct {
		Level   NotifyLevel
		Message string
	}

	// ChatNotice appends a system line to the chat stream.
	ChatNotice struct{ Message string }

	// ChatMessage appends a player's chat line.
	ChatMessage struct {
		From      string
		Message   string
		Timestamp string
	}

	// ShowRoster replaces the rendered roster wholesale and carries the
	// freshly recomputed start-control gating.
	ShowRoster struct {
		Players      []protocol.Player
		StartVisible bool
	}

	// EnableChat toggles the chat input.
	EnableChat struct{ Enabled bool }

	// ShowRoleCard presents the full role card.
	ShowRoleCard struct{ Role Role }

	// HideRoleCard replaces the card with the small role-colored indicator.
	HideRoleCard struct{ Role Role }

	// ClearRole removes both the card and the indicator.
	ClearRole struct{}

	// StartTimer (re)arms the up-counting phase clock at a starting value.
	// Arming always invalidates any previous clock first.
	StartTimer struct {
		Start int
		Label string
	}

	// StopTimer tears the phase clock down.
	StopTimer struct{}

	// SetTimerLabel renames the running clock without restarting it.
	SetTimerLabel struct{ Label string }

	// TimerDisplay pushes the formatted MM:SS reading to the host.
	TimerDisplay struct {
		Text  string
		Label string
	}

	// ShowVoteControls renders one control per eligible target. The caller is
	// never in the list.
	ShowVoteControls struct{ Eligible []string }

	// DisableVoteControls locks the controls after this client voted.
	DisableVoteControls struct{ Voted string }

	// HideVoteControls removes the voting section.
	HideVoteControls struct{}

	// ShowTally presents a candidate -> vote-count distribution.
	ShowTally struct{ Counts map[string]int }

	// ShowEndSummary opens the end-of-game modal.
	ShowEndSummary struct {
		Result      string
		Message     string
		Country     string
		SpyPlayer   string
		VotedPlayer string
		Counts      map[string]int
	}

	// CloseEndSummary dismisses the end-of-game modal.
	CloseEndSummary struct{}

	// After schedules ev to be fed back into the machine once delay passes.
	After struct {
		Delay time.Duration
		Event Event
	}

	// Record appends an entry to the session transcript.
	Record struct {
		Kind    string
		Player  string
		Payload map[string]interface{}
	}
)

func (SendCommand) isEffect()         {}
func (SaveSnapshot) isEffect()        {}
func (ClearSnapshot) isEffect()       {}
func (Notify) isEffect()              {}
func (ChatNotice) isEffect()          {}
func (ChatMessage) isEffect()         {}
func (ShowRoster) isEffect()          {}
func (EnableChat) isEffect()          {}
func (ShowRoleCard) isEffect()        {}
func (HideRoleCard) isEffect()        {}
func (ClearRole) isEffect()           {}
func (StartTimer) isEffect()          {}
func (StopTimer) isEffect()           {}
func (SetTimerLabel) isEffect()       {}
func (TimerDisplay) isEffect()        {}
func (ShowVoteControls) isEffect()    {}
func (DisableVoteControls) isEffect() {}
func (HideVoteControls) isEffect()    {}
func (ShowTally) isEffect()           {}
func (ShowEndSummary) isEffect()      {}
func (CloseEndSummary) isEffect()     {}
func (After) isEffect()               {}
func (Record) isEffect()              {}
