// internal/session/context.go
package session

import (
	"time"

	"github.com/casusgame/casus/internal/game"
	"github.com/casusgame/casus/internal/protocol"
)

// ConnectionState is the transport-session status as seen by the host's
// status indicator. Only the ConnectionManager mutates it.
// Invariant: Reconnecting implies !Connected.
type ConnectionState struct {
	Connected         bool
	Reconnecting      bool
	ReconnectAttempts int
	// LastDisconnect is zero while connected or never disconnected.
	LastDisconnect time.Time
}

// Notifier shows transient, auto-dismissing notices (~4s in the web host).
// Failures surface here instead of blocking the session.
type Notifier interface {
	Notify(level game.NotifyLevel, message string)
}

// Navigator is the host's escape hatch surface. Redirect and Reload are
// intentionally separate, narrowly-used terminal actions: Redirect fires on
// terminal join failure or leaving the room, Reload only on reconnection
// exhaustion. Nothing else may navigate.
type Navigator interface {
	Redirect(url string)
	Reload()
}

// UI is the presentation boundary. The session core tells the host what to
// render; the host never reaches back into session state to decide.
type UI interface {
	ShowRoster(players []protocol.Player, startVisible bool)
	AppendChat(from, message, timestamp string)
	AppendNotice(message string)
	EnableChat(enabled bool)

	ShowRoleCard(role game.Role)
	ShowRoleIndicator(role game.Role)
	ClearRole()

	ShowTimer(text, label string)
	HideTimer()

	ShowVoteControls(eligible []string)
	DisableVoteControls(voted string)
	HideVoteControls()
	ShowTally(counts map[string]int)

	ShowEndSummary(summary game.ShowEndSummary)
	CloseEndSummary()

	ConnectionChanged(state ConnectionState)
}

// Recorder is the optional transcript sink; a nil recorder disables it.
type Recorder interface {
	Record(roomID, kind, player string, payload map[string]interface{})
}
