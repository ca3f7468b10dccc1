package game

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/plaza/server/config"
	"github.com/plaza/server/internal/protocol"
	"github.com/plaza/server/internal/worldmap"
)

// World is the single shared space every connection joins. It owns the
// registry, the broadcast batcher, and all ingest validation.
//
// Thread safety: one mutex serializes every state mutation, standing in for
// the single dispatch thread the protocol assumes. Handlers never hold the
// mutex across network writes.
type World struct {
	mu       sync.Mutex
	registry *Registry
	batcher  *Batcher
	metrics  *Metrics
	bounds   worldmap.Bounds
	log      *zap.SugaredLogger
}

// NewWorld creates an empty world over the given bounds.
func NewWorld(bounds worldmap.Bounds, log *zap.SugaredLogger) *World {
	metrics := &Metrics{}
	return &World{
		registry: NewRegistry(),
		batcher:  NewBatcher(config.BatchTick, metrics, log),
		metrics:  metrics,
		bounds:   bounds,
		log:      log,
	}
}

// Metrics exposes the world's counters for the stats endpoint.
func (w *World) Metrics() *Metrics { return w.metrics }

// PlayerCount returns the number of registered players.
func (w *World) PlayerCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.registry.Len()
}

// Join registers a connection as a new player. The client-proposed id is
// ignored; the server synthesizes its own. Three sends follow: the identity
// assignment to the joiner, a join broadcast to everyone else, and a roster
// snapshot (self excluded) to the joiner.
func (w *World) Join(conn PlayerConnection, proposed protocol.Player) *Player {
	now := time.Now()

	w.mu.Lock()
	id := w.registry.NewID()

	x, y := proposed.Pos.X, proposed.Pos.Y
	if proposed.Pos == (protocol.Position{}) {
		// No position supplied: spawn at map center.
		x, y = w.bounds.CenterX(), w.bounds.CenterY()
	}
	x, y = w.bounds.Clamp(x, y)

	player := &Player{
		ID:          id,
		Name:        sanitizeName(proposed.Name),
		X:           x,
		Y:           y,
		Direction:   protocol.ParseDirection(string(proposed.Direction)),
		Color:       proposed.Color,
		Connection:  conn,
		connectedAt: now,
		lastSeen:    now,
	}
	w.registry.Insert(player)

	canonical := player.Snapshot()
	others := w.registry.SnapshotExcept(id)
	peers := w.peerConnsLocked(id)
	w.mu.Unlock()

	w.send(conn, protocol.MsgPlayerIDAssigned, protocol.IDAssignedPayload{PlayerID: id, Player: canonical})
	w.broadcast(peers, protocol.MsgPlayerJoin, protocol.JoinPayload{Player: canonical})
	w.send(conn, protocol.MsgPlayersSync, protocol.SyncPayload{Players: others})

	w.log.Infow("player joined", "id", id, "name", player.Name, "addr", conn.RemoteAddr())
	return player
}

// HandleMove ingests a position update from the connection owning
// assignedID. Ownership mismatches are dropped, positions are clamped into
// bounds, and updates arriving faster than the rate limit are silently
// discarded. Accepted moves echo to every other connection through the
// batcher, never back to the sender.
func (w *World) HandleMove(assignedID string, move protocol.MovePayload) {
	if move.PlayerID != assignedID {
		w.metrics.IdentityViolations.Add(1)
		w.log.Warnw("move rejected: id not owned by connection",
			"claimed", move.PlayerID, "assigned", assignedID)
		return
	}

	now := time.Now()

	w.mu.Lock()
	player, ok := w.registry.Get(assignedID)
	if !ok {
		w.mu.Unlock()
		return
	}

	if now.Sub(player.lastAccepted) < config.MoveRateLimit {
		w.metrics.RateLimited.Add(1)
		w.mu.Unlock()
		return
	}

	x, y := player.X, player.Y
	switch {
	case move.Pos != nil:
		x, y = move.Pos.X, move.Pos.Y
	case move.DX != nil || move.DY != nil:
		if move.DX != nil {
			x += *move.DX
		}
		if move.DY != nil {
			y += *move.DY
		}
	}
	// Walkability is not re-validated here: collision is enforced
	// client-side only, the server just clamps to the world rectangle.
	x, y = w.bounds.Clamp(x, y)

	dir := protocol.ParseDirection(string(move.Direction))
	player.X, player.Y = x, y
	player.Direction = dir
	player.IsMoving = move.IsMoving
	player.lastAccepted = now
	player.lastSeen = now
	w.metrics.MovesAccepted.Add(1)

	peers := w.peerConnsLocked(assignedID)
	w.mu.Unlock()

	echo, err := protocol.Make(protocol.MsgPlayerMove, protocol.MovePayload{
		PlayerID:  assignedID,
		Pos:       &protocol.Position{X: x, Y: y},
		Direction: dir,
		IsMoving:  move.IsMoving,
		Seq:       move.Seq,
	})
	if err != nil {
		w.log.Errorw("encode move echo", "error", err)
		return
	}
	for _, peer := range peers {
		w.batcher.Enqueue(peer, echo)
	}
}

// HandleUpdate applies a profile change (name, color) and broadcasts it to
// every other connection immediately.
func (w *World) HandleUpdate(assignedID string, update protocol.UpdatePayload) {
	if update.Player.ID != assignedID {
		w.metrics.IdentityViolations.Add(1)
		w.log.Warnw("update rejected: id not owned by connection",
			"claimed", update.Player.ID, "assigned", assignedID)
		return
	}

	w.mu.Lock()
	player, ok := w.registry.Get(assignedID)
	if !ok {
		w.mu.Unlock()
		return
	}
	if name := sanitizeName(update.Player.Name); name != "" {
		player.Name = name
	}
	player.Color = update.Player.Color
	player.lastSeen = time.Now()
	canonical := player.Snapshot()
	peers := w.peerConnsLocked(assignedID)
	w.mu.Unlock()

	w.broadcast(peers, protocol.MsgPlayerUpdate, protocol.UpdatePayload{Player: canonical})
}

// HandleChat relays text to every other connection. Attribution comes from
// the connection's assigned id and the registry's stored display name;
// whatever name the client put on the wire is discarded. No rate limiting
// or content validation by contract.
func (w *World) HandleChat(assignedID string, chat protocol.ChatPayload) {
	if chat.PlayerID != assignedID {
		w.metrics.IdentityViolations.Add(1)
		w.log.Warnw("chat rejected: id not owned by connection",
			"claimed", chat.PlayerID, "assigned", assignedID)
		return
	}

	w.mu.Lock()
	player, ok := w.registry.Get(assignedID)
	if !ok {
		w.mu.Unlock()
		return
	}
	name := player.Name
	player.lastSeen = time.Now()
	peers := w.peerConnsLocked(assignedID)
	w.mu.Unlock()

	w.metrics.ChatRelayed.Add(1)
	w.broadcast(peers, protocol.MsgChat, protocol.ChatPayload{
		PlayerID:   assignedID,
		PlayerName: name,
		Message:    chat.Message,
	})
}

// Leave removes a player the instant its connection closes and broadcasts
// the departure exactly once. Safe to call repeatedly.
func (w *World) Leave(assignedID string) {
	w.mu.Lock()
	player, ok := w.registry.Remove(assignedID)
	if !ok {
		w.mu.Unlock()
		return
	}
	w.batcher.Drop(player.Connection)
	peers := w.peerConnsLocked(assignedID)
	w.mu.Unlock()

	player.Connection.Close()
	w.broadcast(peers, protocol.MsgPlayerLeave, protocol.LeavePayload{PlayerID: assignedID})
	w.log.Infow("player left", "id", assignedID, "name", player.Name)
}

// FlushBroadcasts forces a batcher tick. Shutdown and tests use it.
func (w *World) FlushBroadcasts() { w.batcher.Flush() }

// DiagnosticsPlayer is the per-player view on the diagnostics endpoint.
type DiagnosticsPlayer struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ConnectedAt int64  `json:"connectedAt"`
	LastSeen    int64  `json:"lastSeen"`
}

// DiagnosticsSnapshot exposes liveness data for every registered player.
func (w *World) DiagnosticsSnapshot() []DiagnosticsPlayer {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]DiagnosticsPlayer, 0, w.registry.Len())
	w.registry.Each(func(p *Player) {
		out = append(out, DiagnosticsPlayer{
			ID:          p.ID,
			Name:        p.Name,
			ConnectedAt: p.connectedAt.UnixMilli(),
			LastSeen:    p.lastSeen.UnixMilli(),
		})
	})
	return out
}

// peerConnsLocked collects every connection except the given player's.
// Caller must hold the world mutex.
func (w *World) peerConnsLocked(exceptID string) []PlayerConnection {
	peers := make([]PlayerConnection, 0, w.registry.Len())
	w.registry.Each(func(p *Player) {
		if p.ID != exceptID && p.Connection != nil {
			peers = append(peers, p.Connection)
		}
	})
	return peers
}

// send encodes and writes one immediate (unbatched) message.
func (w *World) send(conn PlayerConnection, t protocol.MessageType, payload any) {
	data, err := protocol.Encode(t, payload)
	if err != nil {
		w.log.Errorw("encode message", "type", t, "error", err)
		return
	}
	if err := conn.Send(data); err != nil {
		w.log.Debugw("send to closed peer", "type", t, "addr", conn.RemoteAddr())
	}
}

// broadcast sends an immediate message to each connection, skipping failures.
func (w *World) broadcast(conns []PlayerConnection, t protocol.MessageType, payload any) {
	data, err := protocol.Encode(t, payload)
	if err != nil {
		w.log.Errorw("encode broadcast", "type", t, "error", err)
		return
	}
	for _, conn := range conns {
		if err := conn.Send(data); err != nil {
			w.log.Debugw("broadcast to closed peer", "type", t, "addr", conn.RemoteAddr())
		}
	}
}

// sanitizeName trims and caps a display name. Empty names fall back to a
// default; uniqueness is not enforced.
func sanitizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "Player"
	}
	if len(name) > config.MaxNameLength {
		name = name[:config.MaxNameLength]
	}
	return name
}
