// internal/protocol/protocol.go
package protocol

import (
	"encoding/json"
	"fmt"
)

// Outbound command names (client -> server).
const (
	CmdJoinRoom    = "join_room"
	CmdCreateRoom  = "create_room"
	CmdStartGame   = "start_game"
	CmdStartVoting = "start_voting"
	CmdSubmitVote  = "submit_vote"
	CmdSendMessage = "send_message"
	CmdResetGame   = "reset_game"
	CmdLeaveRoom   = "leave_room"
	CmdPing        = "ping"
)

// Inbound event names (server -> client).
const (
	EvRoomCreated   = "room_created"
	EvRoomJoined    = "room_joined"
	EvJoinError     = "join_error"
	EvPlayerJoined  = "player_joined"
	EvPlayerLeft    = "player_left"
	EvGameStarted   = "game_started"
	EvRoleAssigned  = "role_assigned"
	EvStartError    = "start_error"
	EvNewMessage    = "new_message"
	EvVotingStarted = "voting_started"
	EvVoteSubmitted = "vote_submitted"
	EvVoteTie       = "vote_tie"
	EvGameEnded     = "game_ended"
	EvGameReset     = "game_reset"
	EvPong          = "pong"

	// EvPlayerVoted is a legacy alias for EvVoteSubmitted kept for older
	// servers; the payload and effect are identical.
	EvPlayerVoted = "player_voted"
)

// Frame is the wire envelope for both directions: a named event plus a JSON
// payload. Commands and events share the same framing.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewFrame marshals payload into a Frame for the given event name.
func NewFrame(event string, payload interface{}) (Frame, error) {
	if payload == nil {
		return Frame{Event: event}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return Frame{Event: event, Data: data}, nil
}

// Player is the roster entry the server sends on every roster-changing event.
// The full list always replaces the previous one; there is no incremental merge.
type Player struct {
	Name      string `json:"name"`
	Connected bool   `json:"connected"`
}

// ResumeState rides along a reconnecting join_room so the server can tell a
// resuming player from a brand-new one.
type ResumeState struct {
	WasInGame    bool   `json:"was_in_game"`
	CurrentPhase string `json:"current_phase"`
}

// Outbound payloads.

type JoinRoom struct {
	RoomID     string       `json:"room_id"`
	PlayerName string       `json:"player_name"`
	Reconnect  bool         `json:"reconnect,omitempty"`
	GameState  *ResumeState `json:"game_state,omitempty"`
}

type CreateRoom struct {
	PlayerName string `json:"player_name"`
	RoomName   string `json:"room_name"`
	SpyCount   int    `json:"spy_count"`
}

type StartGame struct {
	RoomID string `json:"room_id"`
}

type StartVoting struct {
	RoomID string `json:"room_id"`
}

type SubmitVote struct {
	RoomID      string `json:"room_id"`
	VotedPlayer string `json:"voted_player"`
}

type SendMessage struct {
	RoomID  string `json:"room_id"`
	Message string `json:"message"`
}

type ResetGame struct {
	RoomID string `json:"room_id"`
}

type LeaveRoom struct {
	RoomID     string `json:"room_id"`
	PlayerName string `json:"player_name"`
}

// Ping is the application-level keep-alive. The key is camelCase on the wire,
// unlike every other command; the server expects it that way.
type Ping struct {
	RoomID string `json:"roomId"`
}

// Inbound payloads.

type RoomCreated struct {
	RoomID   string `json:"room_id"`
	RoomName string `json:"room_name"`
}

type RoomJoined struct {
	RoomID     string `json:"room_id"`
	PlayerName string `json:"player_name"`
}

type JoinError struct {
	Message string `json:"message"`
}

type PlayerJoined struct {
	Players       []Player `json:"players"`
	NewPlayerName string   `json:"new_player_name,omitempty"`
}

type PlayerLeft struct {
	Players    []Player `json:"players"`
	PlayerName string   `json:"player_name,omitempty"`
}

type GameStarted struct {
	Message string `json:"message"`
	Timer   int    `json:"timer,omitempty"`
	Phase   string `json:"phase,omitempty"`
}

type RoleAssigned struct {
	Role    string `json:"role"`
	Message string `json:"message"`
	Country string `json:"country,omitempty"`
}

type StartError struct {
	Message string `json:"message"`
}

type NewMessage struct {
	PlayerName string `json:"player_name"`
	Message    string `json:"message"`
	Timestamp  string `json:"timestamp"`
}

type VotingStarted struct {
	Players []Player `json:"players"`
	Message string   `json:"message"`
}

type VoteSubmitted struct {
	Message string `json:"message"`
}

type VoteTie struct {
	Message     string         `json:"message"`
	VoteCount   map[string]int `json:"vote_count"`
	TiedPlayers []string       `json:"tied_players"`
}

type GameEnded struct {
	Message     string         `json:"message"`
	Result      string         `json:"result"`
	Country     string         `json:"country"`
	SpyPlayer   string         `json:"spy_player"`
	VotedPlayer string         `json:"voted_player"`
	VoteCount   map[string]int `json:"vote_count"`
}

type GameReset struct {
	Players []Player `json:"players"`
	Message string   `json:"message"`
}

// Decode unmarshals a frame's payload into the typed struct for its event
// name. The returned value is a pointer to one of the inbound payload types,
// or nil for events that carry no payload (pong).
func Decode(f Frame) (interface{}, error) {
	var dst interface{}
	switch f.Event {
	case EvRoomCreated:
		dst = &RoomCreated{}
	case EvRoomJoined:
		dst = &RoomJoined{}
	case EvJoinError:
		dst = &JoinError{}
	case EvPlayerJoined:
		dst = &PlayerJoined{}
	case EvPlayerLeft:
		dst = &PlayerLeft{}
	case EvGameStarted:
		dst = &GameStarted{}
	case EvRoleAssigned:
		dst = &RoleAssigned{}
	case EvStartError:
		dst = &StartError{}
	case EvNewMessage:
		dst = &NewMessage{}
	case EvVotingStarted:
		dst = &VotingStarted{}
	case EvVoteSubmitted, EvPlayerVoted:
		dst = &VoteSubmitted{}
	case EvVoteTie:
		dst = &VoteTie{}
	case EvGameEnded:
		dst = &GameEnded{}
	case EvGameReset:
		dst = &GameReset{}
	case EvPong:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown event %q", f.Event)
	}
	if len(f.Data) > 0 {
		if err := json.Unmarshal(f.Data, dst); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", f.Event, err)
		}
	}
	return dst, nil
}
