package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/plaza/server/config"
	"github.com/plaza/server/internal/client"
	"github.com/plaza/server/internal/game"
	"github.com/plaza/server/internal/logging"
	"github.com/plaza/server/internal/protocol"
	"github.com/plaza/server/internal/worldmap"
)

func startTestServer(t *testing.T) (*GameServer, *httptest.Server, string) {
	t.Helper()
	cfg := config.DefaultServerConfig()
	log := logging.Nop()
	world := game.NewWorld(worldmap.Bounds{Width: config.MapWidth, Height: config.MapHeight}, log)
	gs := NewGameServer(cfg, world, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", gs.handleWebSocket)
	mux.HandleFunc("/health", gs.handleHealth)
	mux.HandleFunc("/stats", gs.handleStats)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return gs, srv, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func startTestSession(t *testing.T, wsURL, name string) *client.Session {
	t.Helper()
	bounds := worldmap.Bounds{Width: config.MapWidth, Height: config.MapHeight}
	s := client.NewSession(wsURL, protocol.Player{Name: name}, bounds, nil, logging.Nop())
	if err := s.Start(); err != nil {
		t.Fatalf("session %s start: %v", name, err)
	}
	t.Cleanup(func() { s.Close() })
	waitUntil(t, 3*time.Second, func() bool { return s.PlayerID() != "" })
	return s
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

// dialRaw opens a bare websocket for tests that drive the protocol by hand.
func dialRaw(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendJoin(t *testing.T, conn *websocket.Conn, name string) {
	t.Helper()
	data, err := protocol.Encode(protocol.MsgPlayerJoin, protocol.JoinPayload{
		Player: protocol.Player{Name: name},
	})
	if err != nil {
		t.Fatalf("encode join: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write join: %v", err)
	}
}

// awaitAssignedID reads until the identity assignment arrives.
func awaitAssignedID(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("awaiting identity: %v", err)
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if msg.Type != protocol.MsgPlayerIDAssigned {
			continue
		}
		var p protocol.IDAssignedPayload
		if err := msg.UnmarshalPayload(&p); err != nil {
			t.Fatalf("assignment payload: %v", err)
		}
		return p.PlayerID
	}
}

// collectMessages drains the connection for the given window, unwrapping
// batch envelopes.
func collectMessages(t *testing.T, conn *websocket.Conn, window time.Duration) []protocol.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(window))
	var out []protocol.Message
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return out
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if msg.Type == protocol.MsgBatch {
			var batch protocol.BatchPayload
			if err := msg.UnmarshalPayload(&batch); err != nil {
				t.Fatalf("batch payload: %v", err)
			}
			out = append(out, batch.Updates...)
			continue
		}
		out = append(out, msg)
	}
}

func remoteByID(s *client.Session, id string) (protocol.Player, bool) {
	for _, p := range s.Remotes() {
		if p.ID == id {
			return p, true
		}
	}
	return protocol.Player{}, false
}

func TestEndToEnd_JoinRosterAndIdentity(t *testing.T) {
	_, _, wsURL := startTestServer(t)

	alice := startTestSession(t, wsURL, "Alice")
	bob := startTestSession(t, wsURL, "Bob")

	if alice.PlayerID() == bob.PlayerID() {
		t.Fatalf("expected distinct identities, both got %q", alice.PlayerID())
	}

	// Each side sees exactly the other, never itself.
	waitUntil(t, 3*time.Second, func() bool {
		_, aSeesB := remoteByID(alice, bob.PlayerID())
		_, bSeesA := remoteByID(bob, alice.PlayerID())
		return aSeesB && bSeesA
	})
	if _, ok := remoteByID(alice, alice.PlayerID()); ok {
		t.Fatalf("roster must not contain the local player")
	}

	p, _ := remoteByID(bob, alice.PlayerID())
	if p.Name != "Alice" {
		t.Fatalf("expected server-confirmed name, got %q", p.Name)
	}
}

func TestEndToEnd_MovementPropagates(t *testing.T) {
	_, _, wsURL := startTestServer(t)

	alice := startTestSession(t, wsURL, "Alice")
	bob := startTestSession(t, wsURL, "Bob")
	waitUntil(t, 3*time.Second, func() bool {
		_, ok := remoteByID(bob, alice.PlayerID())
		return ok
	})

	start, _ := remoteByID(bob, alice.PlayerID())

	alice.SetKeys(client.KeySet{Right: true})
	waitUntil(t, 4*time.Second, func() bool {
		p, ok := remoteByID(bob, alice.PlayerID())
		return ok && p.Pos.X > start.Pos.X+20
	})
	alice.SetKeys(client.KeySet{})

	// The stop transition reaches the observer as a final isMoving=false.
	waitUntil(t, 4*time.Second, func() bool {
		p, ok := remoteByID(bob, alice.PlayerID())
		return ok && !p.IsMoving
	})

	// The walker's own prediction moved too.
	if alice.Self().Pos.X <= start.Pos.X {
		t.Fatalf("expected local prediction to advance, got %v", alice.Self().Pos.X)
	}
}

func TestEndToEnd_ChatCarriesServerName(t *testing.T) {
	_, _, wsURL := startTestServer(t)

	alice := startTestSession(t, wsURL, "Alice")
	// Built by hand so the chat observer is registered before Start.
	bob := client.NewSession(
		wsURL,
		protocol.Player{Name: "Bob"},
		worldmap.Bounds{Width: config.MapWidth, Height: config.MapHeight},
		nil,
		logging.Nop(),
	)
	var mu sync.Mutex
	var gotName, gotText string
	bob.OnChat(func(_, playerName, message string) {
		mu.Lock()
		gotName, gotText = playerName, message
		mu.Unlock()
	})
	if err := bob.Start(); err != nil {
		t.Fatalf("bob start: %v", err)
	}
	t.Cleanup(func() { bob.Close() })
	waitUntil(t, 3*time.Second, func() bool { return bob.PlayerID() != "" })

	if err := alice.SendChat("hello plaza"); err != nil {
		t.Fatalf("send chat: %v", err)
	}

	waitUntil(t, 3*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return gotText == "hello plaza"
	})
	mu.Lock()
	defer mu.Unlock()
	if gotName != "Alice" {
		t.Fatalf("expected the sender's registered name, got %q", gotName)
	}
}

func TestEndToEnd_LeaveRemovesPlayer(t *testing.T) {
	gs, _, wsURL := startTestServer(t)

	alice := startTestSession(t, wsURL, "Alice")
	bob := startTestSession(t, wsURL, "Bob")
	waitUntil(t, 3*time.Second, func() bool {
		_, ok := remoteByID(bob, alice.PlayerID())
		return ok
	})

	aliceID := alice.PlayerID()
	alice.Close()

	waitUntil(t, 3*time.Second, func() bool {
		_, ok := remoteByID(bob, aliceID)
		return !ok
	})
	waitUntil(t, 3*time.Second, func() bool { return gs.world.PlayerCount() == 1 })
}

func TestEndToEnd_ReconnectRejoinsAfterDrop(t *testing.T) {
	gs, _, wsURL := startTestServer(t)

	alice := startTestSession(t, wsURL, "Alice")
	bob := startTestSession(t, wsURL, "Bob")
	oldID := alice.PlayerID()
	waitUntil(t, 3*time.Second, func() bool {
		_, ok := remoteByID(bob, oldID)
		return ok
	})

	// Kick Alice server-side: closes her socket with no close handshake,
	// which her transport treats as an unclean drop and redials.
	gs.world.Leave(oldID)

	// The session must repeat the join handshake and adopt a fresh id.
	waitUntil(t, 8*time.Second, func() bool {
		id := alice.PlayerID()
		return id != "" && id != oldID
	})
	waitUntil(t, 3*time.Second, func() bool { return gs.world.PlayerCount() == 2 })

	// Her messages flow under the new identity: Bob sees her again.
	waitUntil(t, 3*time.Second, func() bool {
		p, ok := remoteByID(bob, alice.PlayerID())
		return ok && p.Name == "Alice"
	})
}

func TestEndToEnd_AbruptDisconnectBroadcastsLeaveOnce(t *testing.T) {
	gs, _, wsURL := startTestServer(t)

	watcher := dialRaw(t, wsURL)
	sendJoin(t, watcher, "Watcher")
	awaitAssignedID(t, watcher)

	mallory := dialRaw(t, wsURL)
	sendJoin(t, mallory, "Mallory")
	malloryID := awaitAssignedID(t, mallory)
	waitUntil(t, 3*time.Second, func() bool { return gs.world.PlayerCount() == 2 })

	// Kill the TCP connection underneath the websocket: no close frame.
	mallory.UnderlyingConn().Close()
	waitUntil(t, 3*time.Second, func() bool { return gs.world.PlayerCount() == 1 })

	leaves := 0
	for _, msg := range collectMessages(t, watcher, 2*time.Second) {
		if msg.Type != protocol.MsgPlayerLeave {
			continue
		}
		var leave protocol.LeavePayload
		if err := msg.UnmarshalPayload(&leave); err != nil {
			t.Fatalf("leave payload: %v", err)
		}
		if leave.PlayerID == malloryID {
			leaves++
		}
	}
	if leaves != 1 {
		t.Fatalf("expected exactly one leave broadcast, got %d", leaves)
	}
}

func TestWS_SecondJoinOnSameConnectionIgnored(t *testing.T) {
	gs, _, wsURL := startTestServer(t)

	conn := dialRaw(t, wsURL)
	sendJoin(t, conn, "Alice")
	awaitAssignedID(t, conn)

	sendJoin(t, conn, "AliceAgain")
	for _, msg := range collectMessages(t, conn, time.Second) {
		if msg.Type == protocol.MsgPlayerIDAssigned {
			t.Fatalf("repeat join on an identified connection produced a second identity")
		}
	}
	if n := gs.world.PlayerCount(); n != 1 {
		t.Fatalf("expected a single registered player, got %d", n)
	}
}

func TestHTTP_HealthAndStats(t *testing.T) {
	_, srv, wsURL := startTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", resp.StatusCode)
	}

	startTestSession(t, wsURL, "Alice")

	resp, err = http.Get(srv.URL + "/stats")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	defer resp.Body.Close()
	var stats struct {
		Players int `json:"players"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("stats decode: %v", err)
	}
	if stats.Players != 1 {
		t.Fatalf("expected 1 player in stats, got %d", stats.Players)
	}
}
