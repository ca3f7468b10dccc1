package config

import "time"

// Game constants - must match the browser client exactly so that client-side
// prediction and the server's stored state agree without constant corrections.
const (
	// World dimensions (map-pixel space). Positions live in
	// [0, MapWidth) x [0, MapHeight).
	MapWidth  = 1536.0
	MapHeight = 1024.0

	// Movement
	FrameRate     = 60  // Hz, client simulation cadence
	MoveSpeed     = 3.0 // pixels per simulated frame
	ArriveEpsilon = 1.0 // distance at which a move target counts as reached
	MaxNameLength = 20

	// Network rates
	MoveRateLimit = 16 * time.Millisecond // min interval between accepted moves per player
	BatchTick     = 16 * time.Millisecond // broadcast coalescing tick
	PingInterval  = 30 * time.Second
	PongWait      = 60 * time.Second
	WriteWait     = 10 * time.Second

	// Client send throttling (adaptive)
	SendIntervalFast = 50 * time.Millisecond  // while moving quickly
	SendIntervalSlow = 100 * time.Millisecond // while moving slowly
	SendIntervalIdle = 250 * time.Millisecond // floor rate while idle
	SendDeltaMoving  = 3.0                    // min accumulated delta (px) to send while moving
	SendDeltaIdle    = 0.5                    // finer threshold while idle
	FastSpeedCutoff  = 2.0                    // px/frame above which the fast interval applies

	// Reconciliation / interpolation
	ReconcileSnapDistance = 48.0 // divergence (px) beyond which the server echo wins
	PendingCommandCap     = 100
	InterpMinDuration     = 16 * time.Millisecond
	InterpMaxDuration     = 300 * time.Millisecond
	InterpSnapDistance    = 320.0 // apparent jumps beyond this skip interpolation

	// Client reconnection
	ReconnectBaseDelay  = time.Second
	ReconnectMaxRetries = 5

	// Transient chat bubble lifetime (client-side display only)
	ChatBubbleDuration = 5 * time.Second
)

// ServerConfig holds runtime server configuration.
type ServerConfig struct {
	Host       string
	Port       int
	LogFile    string
	EnableCORS bool
}

// DefaultServerConfig returns default server configuration.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host:       "0.0.0.0",
		Port:       8080,
		LogFile:    "plaza.log",
		EnableCORS: true,
	}
}
