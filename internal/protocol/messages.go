package protocol

import "encoding/json"

// MessageType discriminates the wire messages.
type MessageType string

// Message types
const (
	// Client -> Server (player_join, player_move, player_update, chat also
	// flow Server -> Client as broadcasts)
	MsgPlayerJoin   MessageType = "player_join"
	MsgPlayerMove   MessageType = "player_move"
	MsgPlayerUpdate MessageType = "player_update"
	MsgChat         MessageType = "chat"

	// Server -> Client only
	MsgPlayerIDAssigned MessageType = "player_id_assigned"
	MsgPlayersSync      MessageType = "players_sync"
	MsgPlayerLeave      MessageType = "player_leave"
	MsgBatch            MessageType = "batch"
)

// Direction is the facing of an avatar.
type Direction string

const (
	DirFront Direction = "front"
	DirBack  Direction = "back"
	DirLeft  Direction = "left"
	DirRight Direction = "right"
)

// ParseDirection validates a wire direction, falling back to front.
func ParseDirection(s string) Direction {
	switch Direction(s) {
	case DirFront, DirBack, DirLeft, DirRight:
		return Direction(s)
	}
	return DirFront
}

// Position is a point in map-pixel space.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Player is the wire representation of a participant.
type Player struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Pos       Position  `json:"pos"`
	Direction Direction `json:"direction"`
	IsMoving  bool      `json:"isMoving"`
	Color     string    `json:"color,omitempty"`
	Message   string    `json:"message,omitempty"`
}

// Message is the envelope for every wire message. Ts is the sender's
// UnixMilli send time, used by receivers for one-way latency estimation.
type Message struct {
	Type    MessageType     `json:"type"`
	Ts      int64           `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// JoinPayload carries a proposed snapshot client->server and the canonical
// one in the server's join broadcast. The proposed ID is never trusted.
type JoinPayload struct {
	Player Player `json:"player"`
}

// IDAssignedPayload tells the joining client its authoritative identity.
type IDAssignedPayload struct {
	PlayerID string `json:"playerId"`
	Player   Player `json:"player"`
}

// SyncPayload is the full roster snapshot, recipient excluded.
type SyncPayload struct {
	Players []Player `json:"players"`
}

// MovePayload is a position update, either absolute (Pos) or as a signed
// delta (DX/DY) against the last position known to the server.
type MovePayload struct {
	PlayerID  string    `json:"playerId"`
	Pos       *Position `json:"pos,omitempty"`
	DX        *float64  `json:"dx,omitempty"`
	DY        *float64  `json:"dy,omitempty"`
	Direction Direction `json:"direction"`
	IsMoving  bool      `json:"isMoving"`
	Seq       uint64    `json:"seq,omitempty"`
}

// UpdatePayload is a non-positional profile change (name, color).
type UpdatePayload struct {
	Player Player `json:"player"`
}

// ChatPayload carries broadcast text. PlayerName is filled in by the server
// from its registry; a client-supplied value is ignored.
type ChatPayload struct {
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName,omitempty"`
	Message    string `json:"message"`
}

// LeavePayload announces a departed peer.
type LeavePayload struct {
	PlayerID string `json:"playerId"`
}

// BatchPayload wraps movement messages coalesced within one broadcast tick,
// preserving arrival order.
type BatchPayload struct {
	Updates []Message `json:"updates"`
}
