// internal/game/phase.go
package game

import (
	"fmt"

	"github.com/casusgame/casus/internal/protocol"
)

// Phase is the client-side mirror of the room's game stage. The values match
// the wire labels so a phase can round-trip through a session snapshot and a
// reconnecting join_room unchanged.
type Phase string

const (
	PhaseWaiting    Phase = "waiting"
	PhaseDiscussion Phase = "discussion"
	PhaseVoting     Phase = "voting"
	PhaseEnded      Phase = "ended"
)

// RoleKind distinguishes the spy from the citizens.
type RoleKind string

const (
	RoleSpy     RoleKind = "spy"
	RoleCitizen RoleKind = "citizen"
)

// Role is assigned once per game by the server and held until a reset.
// Citizens carry the shared country; the spy does not.
type Role struct {
	Kind    RoleKind `json:"kind"`
	Country string   `json:"country,omitempty"`
	Message string   `json:"message,omitempty"`
}

// Visibility is the role-disclosure sub-state, orthogonal to Phase. The role
// card starts Visible on assignment and toggles to a small indicator once
// hidden; a resumed session restores straight into Hidden.
type Visibility int

const (
	RoleVisible Visibility = iota
	RoleHidden
)

// Timer is the up-counting phase clock. It only displays elapsed time; no
// phase transition is ever driven by it.
type Timer struct {
	Elapsed int
	Label   string
}

// Display renders the elapsed time as zero-padded MM:SS.
func (t Timer) Display() string {
	return fmt.Sprintf("%02d:%02d", t.Elapsed/60, t.Elapsed%60)
}

// State is the machine's full view of the session's game. It is mutated only
// by Machine.Apply; everything observable by the host flows out as effects.
type State struct {
	RoomID   string
	SelfName string

	Players []protocol.Player
	Started bool
	Phase   Phase

	Role           *Role
	RoleVisibility Visibility
	// tempReveal marks a 5-second re-reveal window opened from the hidden
	// indicator, so the auto-hide only fires for that window.
	tempReveal bool

	Timer *Timer
	Vote  *VoteRound
}

// ConnectedCount reports how many roster entries are currently connected.
func (s *State) ConnectedCount() int {
	n := 0
	for _, p := range s.Players {
		if p.Connected {
			n++
		}
	}
	return n
}

// CanStart gates the start-game control: at least three connected players and
// no game in progress. Recomputed on every full roster replacement.
func (s *State) CanStart() bool {
	return s.ConnectedCount() >= 3 && !s.Started
}
