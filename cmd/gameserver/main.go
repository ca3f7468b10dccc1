// Package main implements the Plaza realtime sync server.
//
// Architecture Overview:
// - WebSocket for bidirectional JSON messaging with browser clients
// - One shared world; every connection owns exactly one player in it
// - Movement broadcasts are coalesced per destination on a ~16ms tick
// - Join, leave, chat, and profile messages bypass batching
//
// Connection Flow:
// 1. Client connects via WebSocket to /ws
// 2. Client sends player_join with its proposed snapshot (id ignored)
// 3. Server assigns an id, broadcasts the join, syncs the roster back
// 4. Client streams player_move; server echoes to everyone else
package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/plaza/server/config"
	"github.com/plaza/server/internal/game"
	"github.com/plaza/server/internal/logging"
	"github.com/plaza/server/internal/protocol"
	"github.com/plaza/server/internal/worldmap"
)

// GameServer manages HTTP endpoints and client connections around the one
// shared world.
type GameServer struct {
	config   *config.ServerConfig
	world    *game.World
	upgrader websocket.Upgrader
	log      *zap.SugaredLogger
}

// ClientConnection represents a single connected client. Each client has
// its own goroutines for reading and writing.
type ClientConnection struct {
	ws       *websocket.Conn
	server   *GameServer
	player   *game.Player // nil until the join handshake completes
	sendChan chan []byte
	done     chan struct{}
}

func main() {
	cfg := loadConfig()
	log := logging.New(cfg.LogFile)
	defer log.Sync()

	bounds := worldmap.Bounds{Width: config.MapWidth, Height: config.MapHeight}
	world := game.NewWorld(bounds, log)
	server := NewGameServer(cfg, world, log)

	log.Infof("Plaza sync server starting on %s:%d (map %vx%v, batch tick %v)",
		cfg.Host, cfg.Port, config.MapWidth, config.MapHeight, config.BatchTick)

	// Any error out of the HTTP server is a process-level fault: exit and
	// let the supervisor restart with a clean registry.
	if err := server.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

// loadConfig reads configuration from environment variables, falling back
// to defaults.
func loadConfig() *config.ServerConfig {
	cfg := config.DefaultServerConfig()

	if host := os.Getenv("HOST"); host != "" {
		cfg.Host = host
	}
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Port = p
		}
	}
	if lf := os.Getenv("LOG_FILE"); lf != "" {
		cfg.LogFile = lf
	}
	if cors := os.Getenv("ENABLE_CORS"); cors == "false" {
		cfg.EnableCORS = false
	}

	return cfg
}

// NewGameServer creates and initializes a server instance.
func NewGameServer(cfg *config.ServerConfig, world *game.World, log *zap.SugaredLogger) *GameServer {
	return &GameServer{
		config: cfg,
		world:  world,
		log:    log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return cfg.EnableCORS
			},
		},
	}
}

// Start registers endpoints and blocks serving HTTP.
func (s *GameServer) Start() error {
	// Periodic stats logging, only when someone is connected.
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			if n := s.world.PlayerCount(); n > 0 {
				s.log.Infow("stats", "players", n, "metrics", s.world.Metrics().Snapshot())
			}
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/diagnostics", s.handleDiagnostics)

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.log.Infof("listening on %s", addr)
	return http.ListenAndServe(addr, mux)
}

func (s *GameServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func (s *GameServer) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"players": s.world.PlayerCount(),
		"metrics": s.world.Metrics().Snapshot(),
	})
}

func (s *GameServer) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"players": s.world.DiagnosticsSnapshot(),
	})
}

// handleWebSocket upgrades the connection and starts the client pumps.
func (s *GameServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnw("websocket upgrade failed", "error", err)
		return
	}

	conn := &ClientConnection{
		ws:       ws,
		server:   s,
		sendChan: make(chan []byte, 256),
		done:     make(chan struct{}),
	}

	s.log.Infow("new connection", "addr", ws.RemoteAddr())

	go conn.writePump()
	go conn.readPump()
}

// Send queues data for the client. Non-blocking: a full buffer drops the
// message so one slow client cannot stall a broadcast.
func (c *ClientConnection) Send(data []byte) error {
	select {
	case c.sendChan <- data:
		return nil
	case <-c.done:
		return fmt.Errorf("connection closed")
	default:
		return nil
	}
}

// Close shuts the connection down. Safe to call multiple times.
func (c *ClientConnection) Close() error {
	select {
	case <-c.done:
		return nil
	default:
		close(c.done)
	}
	return c.ws.Close()
}

// RemoteAddr returns the client's address for logging.
func (c *ClientConnection) RemoteAddr() string {
	return c.ws.RemoteAddr().String()
}

// writePump sends queued messages and periodic pings to detect dead peers.
func (c *ClientConnection) writePump() {
	ticker := time.NewTicker(config.PingInterval)
	defer ticker.Stop()
	// Closing the socket forces readPump out of its blocking read; player
	// removal happens there, the one goroutine that owns c.player.
	defer c.Close()

	for {
		select {
		case <-c.done:
			return

		case message := <-c.sendChan:
			c.ws.SetWriteDeadline(time.Now().Add(config.WriteWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(config.WriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump receives messages and dispatches them. Half-open connections
// die via the read deadline when pongs stop arriving.
func (c *ClientConnection) readPump() {
	defer c.cleanup()

	c.ws.SetReadLimit(1 << 16)
	c.ws.SetReadDeadline(time.Now().Add(config.PongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(config.PongWait))
		return nil
	})

	for {
		select {
		case <-c.done:
			return
		default:
		}

		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.server.log.Warnw("read error", "addr", c.RemoteAddr(), "error", err)
			}
			return
		}

		c.handleMessage(message)
	}
}

// handleMessage decodes and routes one inbound envelope. Malformed input
// is logged and dropped; the connection stays open.
func (c *ClientConnection) handleMessage(data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		c.server.world.Metrics().MalformedDropped.Add(1)
		c.server.log.Warnw("drop malformed message", "addr", c.RemoteAddr(), "error", err)
		return
	}

	world := c.server.world
	h := newInboundHandler(c, world)
	if err := h.Dispatch(msg); err != nil {
		world.Metrics().MalformedDropped.Add(1)
		c.server.log.Warnw("drop message", "addr", c.RemoteAddr(), "type", msg.Type, "error", err)
	}
}

// cleanup removes the player and closes the socket. Runs only when readPump
// exits, so c.player is read on the same goroutine that wrote it; the
// world's leave guard makes the removal broadcast exactly once.
func (c *ClientConnection) cleanup() {
	if c.player != nil {
		c.server.world.Leave(c.player.ID)
	}
	c.Close()
	c.server.log.Infow("connection closed", "addr", c.RemoteAddr())
}
