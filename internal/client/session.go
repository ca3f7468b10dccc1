package client

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/plaza/server/config"
	"github.com/plaza/server/internal/protocol"
	"github.com/plaza/server/internal/worldmap"
)

// Session is the long-lived client object tying transport, prediction,
// reconciliation, and interpolation together. One goroutine ticks the
// simulation at a fixed cadence and is never restarted across state
// changes; network receipt interleaves under the session mutex.
type Session struct {
	log       *zap.SugaredLogger
	transport *Transport

	mu         sync.Mutex
	id         string
	name       string
	color      string
	motion     *MotionController
	reconciler *Reconciler
	interp     *Interpolator
	roster     map[string]protocol.Player
	seq        uint64

	onChat func(playerID, playerName, message string)

	proposed protocol.Player
	tick     time.Duration
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewSession creates a session for the given server URL and desired
// profile. walkable may be nil (bounds-only collision).
func NewSession(serverURL string, profile protocol.Player, bounds worldmap.Bounds, walkable worldmap.WalkableFunc, log *zap.SugaredLogger) *Session {
	start := protocol.Position{X: bounds.CenterX(), Y: bounds.CenterY()}
	return &Session{
		log:       log,
		transport: NewTransport(serverURL, log),
		motion:    NewMotionController(bounds, walkable, config.MoveSpeed, start),
		reconciler: NewReconciler(
			config.PendingCommandCap,
			config.ReconcileSnapDistance,
		),
		interp: NewInterpolator(
			config.MoveSpeed*config.FrameRate,
			config.InterpMinDuration,
			config.InterpMaxDuration,
			config.InterpSnapDistance,
		),
		roster:   make(map[string]protocol.Player),
		proposed: profile,
		tick:     time.Second / config.FrameRate,
		stop:     make(chan struct{}),
	}
}

// OnChat registers a chat observer for the UI layer.
func (s *Session) OnChat(fn func(playerID, playerName, message string)) { s.onChat = fn }

// OnStateChange exposes the transport's connection state observer.
func (s *Session) OnStateChange(fn func(ConnState)) { s.transport.OnStateChange(fn) }

// Start connects, requests to join, and launches the simulation loop.
func (s *Session) Start() error {
	s.transport.OnMessage(s.handleMessage)
	s.transport.OnReconnect(s.rejoin)
	if err := s.transport.Connect(); err != nil {
		return err
	}
	if err := s.transport.Send(protocol.MsgPlayerJoin, protocol.JoinPayload{Player: s.proposed}); err != nil {
		return err
	}

	s.wg.Add(1)
	go s.run()
	return nil
}

// Close tears down the loop and the transport. Idempotent.
func (s *Session) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	s.transport.Close()
	s.wg.Wait()
	return nil
}

// rejoin runs after the transport re-establishes a dropped connection. The
// server binds identity to a connection, so the old id is dead: clear it
// (which also pauses move emission), reset the pending ring and roster, and
// request to join again from the current predicted position. The fresh id
// arrives through the normal assignment path.
func (s *Session) rejoin() {
	s.mu.Lock()
	s.id = ""
	s.reconciler = NewReconciler(config.PendingCommandCap, config.ReconcileSnapDistance)
	s.roster = make(map[string]protocol.Player)
	s.interp.Prune(func(string) bool { return false })

	profile := s.proposed
	if s.name != "" {
		profile.Name = s.name
	}
	if s.color != "" {
		profile.Color = s.color
	}
	profile.Pos = s.motion.Pos()
	s.mu.Unlock()

	if err := s.transport.Send(protocol.MsgPlayerJoin, protocol.JoinPayload{Player: profile}); err != nil {
		// The connection dropped again; the next reconnect retries the
		// handshake.
		s.log.Warnw("rejoin request failed", "error", err)
	}
}

// run is the simulation loop: a single ticker stands in for the browser's
// animation-frame callback.
func (s *Session) run() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.step(now)
		}
	}
}

// step simulates one frame and transmits state when the emission policy
// says so.
func (s *Session) step(now time.Time) {
	s.mu.Lock()
	s.motion.Step()
	s.interp.Step(now)

	var out *protocol.MovePayload
	if s.id != "" && s.motion.ShouldSend(now) {
		s.seq++
		pos := s.motion.Pos()
		s.reconciler.Record(PendingCommand{
			Seq:       s.seq,
			Pos:       pos,
			Direction: s.motion.Direction(),
			IsMoving:  s.motion.IsMoving(),
			Timestamp: now,
		})
		s.motion.MarkSent(now)
		out = &protocol.MovePayload{
			PlayerID:  s.id,
			Pos:       &pos,
			Direction: s.motion.Direction(),
			IsMoving:  s.motion.IsMoving(),
			Seq:       s.seq,
		}
	}
	s.mu.Unlock()

	if out != nil {
		if err := s.transport.Send(protocol.MsgPlayerMove, *out); err != nil && err != ErrNotConnected {
			s.log.Warnw("send move", "error", err)
		}
	}
}

// MoveTo queues a tap-to-move destination.
func (s *Session) MoveTo(x, y float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.motion.SetTarget(x, y)
}

// SetKeys replaces the held direction keys.
func (s *Session) SetKeys(keys KeySet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.motion.SetKeys(keys)
}

// SendChat broadcasts text to everyone else.
func (s *Session) SendChat(text string) error {
	s.mu.Lock()
	id := s.id
	s.mu.Unlock()
	if id == "" {
		return ErrNotConnected
	}
	return s.transport.Send(protocol.MsgChat, protocol.ChatPayload{PlayerID: id, Message: text})
}

// SetProfile updates the display name and color.
func (s *Session) SetProfile(name, color string) error {
	s.mu.Lock()
	if s.id == "" {
		s.mu.Unlock()
		return ErrNotConnected
	}
	s.name = name
	s.color = color
	player := s.selfLocked()
	s.mu.Unlock()
	return s.transport.Send(protocol.MsgPlayerUpdate, protocol.UpdatePayload{Player: player})
}

// PlayerID returns the server-assigned identity, empty before assignment.
func (s *Session) PlayerID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Self returns the renderer's view of the local avatar.
func (s *Session) Self() protocol.Player {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selfLocked()
}

func (s *Session) selfLocked() protocol.Player {
	return protocol.Player{
		ID:        s.id,
		Name:      s.name,
		Pos:       s.motion.Pos(),
		Direction: s.motion.Direction(),
		IsMoving:  s.motion.IsMoving(),
		Color:     s.color,
	}
}

// Remotes returns the renderer's view of every other player, with displayed
// positions smoothed by the interpolator.
func (s *Session) Remotes() []protocol.Player {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]protocol.Player, 0, len(s.roster))
	for id, p := range s.roster {
		if view, ok := s.interp.View(id); ok {
			p.Pos = view.Pos
			p.Direction = view.Direction
			p.IsMoving = view.IsMoving
		}
		out = append(out, p)
	}
	return out
}

// handleMessage runs on the transport's read goroutine.
func (s *Session) handleMessage(msg protocol.Message, receivedAt time.Time) {
	h := &protocol.Handler{
		OnIDAssigned: func(_ protocol.Message, p protocol.IDAssignedPayload) {
			s.onIDAssigned(p)
		},
		OnJoin: func(_ protocol.Message, p protocol.JoinPayload) {
			s.onPeerJoin(p.Player)
		},
		OnSync: func(_ protocol.Message, p protocol.SyncPayload) {
			s.onSync(p.Players)
		},
		OnMove: func(m protocol.Message, p protocol.MovePayload) {
			s.onMove(m, p, receivedAt)
		},
		OnUpdate: func(_ protocol.Message, p protocol.UpdatePayload) {
			s.onPeerUpdate(p.Player)
		},
		OnChat: func(_ protocol.Message, p protocol.ChatPayload) {
			s.onChatMessage(p)
		},
		OnLeave: func(_ protocol.Message, p protocol.LeavePayload) {
			s.onPeerLeave(p.PlayerID)
		},
	}
	if err := h.Dispatch(msg); err != nil {
		s.log.Warnw("drop message", "type", msg.Type, "error", err)
	}
}

func (s *Session) onIDAssigned(p protocol.IDAssignedPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = p.PlayerID
	s.name = p.Player.Name
	s.color = p.Player.Color
	s.motion.SetPos(p.Player.Pos)
	s.log.Infow("identity assigned", "id", p.PlayerID)
}

func (s *Session) onPeerJoin(p protocol.Player) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == s.id {
		return
	}
	s.roster[p.ID] = p
	s.interp.SetDisplayed(p.ID, RemoteView{Pos: p.Pos, Direction: p.Direction, IsMoving: p.IsMoving})
}

func (s *Session) onSync(players []protocol.Player) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.roster = make(map[string]protocol.Player, len(players))
	for _, p := range players {
		if p.ID == s.id {
			continue
		}
		s.roster[p.ID] = p
		s.interp.SetDisplayed(p.ID, RemoteView{Pos: p.Pos, Direction: p.Direction, IsMoving: p.IsMoving})
	}
	s.interp.Prune(func(id string) bool {
		_, ok := s.roster[id]
		return ok
	})
}

func (s *Session) onMove(msg protocol.Message, move protocol.MovePayload, receivedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if move.PlayerID == s.id {
		// Server echo for the local player: authoritative only beyond the
		// snap threshold, otherwise prediction wins.
		if pos, corrected := s.reconciler.Apply(s.motion.Pos(), move); corrected {
			s.motion.SetPos(pos)
			s.log.Debugw("reconciled to server position", "x", pos.X, "y", pos.Y)
		}
		return
	}

	s.interp.Observe(move.PlayerID, move, msg.SendDelay(receivedAt), receivedAt)
	p, ok := s.roster[move.PlayerID]
	if !ok {
		p = protocol.Player{ID: move.PlayerID}
	}
	if move.Pos != nil {
		p.Pos = *move.Pos
	}
	p.Direction = move.Direction
	p.IsMoving = move.IsMoving
	s.roster[move.PlayerID] = p
}

func (s *Session) onPeerUpdate(p protocol.Player) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == s.id {
		s.name = p.Name
		s.color = p.Color
		return
	}
	existing, ok := s.roster[p.ID]
	if !ok {
		s.roster[p.ID] = p
		return
	}
	existing.Name = p.Name
	existing.Color = p.Color
	s.roster[p.ID] = existing
}

func (s *Session) onChatMessage(chat protocol.ChatPayload) {
	s.mu.Lock()
	if p, ok := s.roster[chat.PlayerID]; ok {
		p.Message = chat.Message
		s.roster[chat.PlayerID] = p
		// Transient bubble: cleared by timer, never part of the
		// authoritative state.
		id, text := chat.PlayerID, chat.Message
		time.AfterFunc(config.ChatBubbleDuration, func() {
			s.mu.Lock()
			if p, ok := s.roster[id]; ok && p.Message == text {
				p.Message = ""
				s.roster[id] = p
			}
			s.mu.Unlock()
		})
	}
	s.mu.Unlock()

	if s.onChat != nil {
		s.onChat(chat.PlayerID, chat.PlayerName, chat.Message)
	}
}

func (s *Session) onPeerLeave(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.roster, id)
	s.interp.Forget(id)
}
