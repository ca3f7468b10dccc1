// Package game implements the authoritative realtime core: the player
// registry, movement ingest, and the broadcast batcher.
package game

import (
	"time"

	"github.com/plaza/server/internal/protocol"
)

// PlayerConnection abstracts the outbound half of a client connection so
// the core never touches websockets directly.
type PlayerConnection interface {
	Send(data []byte) error
	Close() error
	RemoteAddr() string
}

// Player is the server-side state for one connected participant. Exactly
// one exists per live connection; the owning World's mutex guards all
// fields after insertion.
type Player struct {
	ID        string
	Name      string
	X         float64
	Y         float64
	Direction protocol.Direction
	IsMoving  bool
	Color     string

	Connection PlayerConnection

	connectedAt  time.Time
	lastSeen     time.Time // any accepted message, for diagnostics
	lastAccepted time.Time // last accepted movement, for rate limiting
}

// Snapshot converts the player to its wire representation. Transient chat
// text is never stored server-side, so Message stays empty.
func (p *Player) Snapshot() protocol.Player {
	return protocol.Player{
		ID:        p.ID,
		Name:      p.Name,
		Pos:       protocol.Position{X: p.X, Y: p.Y},
		Direction: p.Direction,
		IsMoving:  p.IsMoving,
		Color:     p.Color,
	}
}
