package main

import (
	"github.com/plaza/server/internal/game"
	"github.com/plaza/server/internal/protocol"
)

// newInboundHandler routes one client's decoded messages into the world.
// Server-to-client message types arriving from a client have no handler set
// and are silently dropped.
func newInboundHandler(c *ClientConnection, world *game.World) *protocol.Handler {
	return &protocol.Handler{
		OnJoin: func(_ protocol.Message, p protocol.JoinPayload) {
			// Identity is assigned once per connection lifetime; a repeat
			// join on an already-identified connection is a no-op.
			if c.player != nil {
				return
			}
			c.player = world.Join(c, p.Player)
		},
		OnMove: func(_ protocol.Message, p protocol.MovePayload) {
			if c.player == nil {
				return
			}
			world.HandleMove(c.player.ID, p)
		},
		OnUpdate: func(_ protocol.Message, p protocol.UpdatePayload) {
			if c.player == nil {
				return
			}
			world.HandleUpdate(c.player.ID, p)
		},
		OnChat: func(_ protocol.Message, p protocol.ChatPayload) {
			if c.player == nil {
				return
			}
			world.HandleChat(c.player.ID, p)
		},
	}
}
