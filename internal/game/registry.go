package game

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/plaza/server/internal/protocol"
)

// Registry owns the id->player map. It is not goroutine-safe on its own;
// the World serializes access under its mutex, mirroring the single
// dispatch thread the protocol assumes.
type Registry struct {
	players map[string]*Player
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{players: make(map[string]*Player)}
}

// NewID synthesizes a fresh player identity: wall-clock millis plus random
// bytes. Unpredictable enough that two concurrent joins cannot coincide; no
// collision check is performed.
func (r *Registry) NewID() string {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the process is in no state to keep
		// handing out identities.
		panic(fmt.Sprintf("registry: read random bytes: %v", err))
	}
	return fmt.Sprintf("player-%x-%s", time.Now().UnixMilli(), hex.EncodeToString(buf))
}

// Insert registers a player. IDs are immutable after this point.
func (r *Registry) Insert(p *Player) {
	r.players[p.ID] = p
}

// Get looks up a player by id.
func (r *Registry) Get(id string) (*Player, bool) {
	p, ok := r.players[id]
	return p, ok
}

// Remove deletes a player and returns it, if present.
func (r *Registry) Remove(id string) (*Player, bool) {
	p, ok := r.players[id]
	if ok {
		delete(r.players, id)
	}
	return p, ok
}

// Len returns the number of registered players.
func (r *Registry) Len() int { return len(r.players) }

// Each calls fn for every registered player.
func (r *Registry) Each(fn func(*Player)) {
	for _, p := range r.players {
		fn(p)
	}
}

// SnapshotExcept returns wire snapshots of every player but one. Used for
// the roster sync a joining client receives (self excluded).
func (r *Registry) SnapshotExcept(exceptID string) []protocol.Player {
	out := make([]protocol.Player, 0, len(r.players))
	for id, p := range r.players {
		if id == exceptID {
			continue
		}
		out = append(out, p.Snapshot())
	}
	return out
}
