package client

import (
	"math"
	"time"

	"github.com/plaza/server/config"
	"github.com/plaza/server/internal/protocol"
	"github.com/plaza/server/internal/worldmap"
)

// KeySet is the currently held direction keys.
type KeySet struct {
	Up    bool
	Down  bool
	Left  bool
	Right bool
}

// Any reports whether any direction key is held.
func (k KeySet) Any() bool { return k.Up || k.Down || k.Left || k.Right }

// MotionController advances the locally-controlled avatar one frame at a
// time. Two movement modes: tap-to-move toward a single queued target
// (a new tap replaces it) and continuous key-intent movement. It also
// decides, per frame, whether the current state is worth transmitting.
type MotionController struct {
	bounds     worldmap.Bounds
	isWalkable worldmap.WalkableFunc
	speed      float64 // px per frame

	pos    protocol.Position
	dir    protocol.Direction
	moving bool

	target *protocol.Position
	keys   KeySet

	lastStepDist float64

	sentOnce       bool
	lastSentAt     time.Time
	lastSentPos    protocol.Position
	lastSentMoving bool
}

// NewMotionController creates a controller at the given start position.
// walkable may be nil, in which case only the world bounds constrain
// movement.
func NewMotionController(bounds worldmap.Bounds, walkable worldmap.WalkableFunc, speed float64, start protocol.Position) *MotionController {
	return &MotionController{
		bounds:     bounds,
		isWalkable: walkable,
		speed:      speed,
		pos:        start,
		dir:        protocol.DirFront,
	}
}

// Pos returns the current predicted position.
func (m *MotionController) Pos() protocol.Position { return m.pos }

// Direction returns the current facing.
func (m *MotionController) Direction() protocol.Direction { return m.dir }

// IsMoving reports whether the avatar is in a moving state.
func (m *MotionController) IsMoving() bool { return m.moving }

// SetPos teleports the avatar; reconciliation corrections come through
// here. The queued target survives, movement resumes from the new point.
func (m *MotionController) SetPos(pos protocol.Position) {
	x, y := m.bounds.Clamp(pos.X, pos.Y)
	m.pos = protocol.Position{X: x, Y: y}
}

// SetTarget queues a tap-to-move destination, replacing any previous one.
func (m *MotionController) SetTarget(x, y float64) {
	x, y = m.bounds.Clamp(x, y)
	m.target = &protocol.Position{X: x, Y: y}
}

// ClearTarget cancels the queued destination.
func (m *MotionController) ClearTarget() { m.target = nil }

// SetKeys replaces the held-key set. Any held key cancels a queued target.
func (m *MotionController) SetKeys(keys KeySet) {
	if keys.Any() {
		m.target = nil
	}
	m.keys = keys
}

// Step advances one simulated frame.
func (m *MotionController) Step() {
	switch {
	case m.keys.Any():
		m.stepByIntent()
	case m.target != nil:
		m.stepToTarget()
	default:
		m.moving = false
		m.lastStepDist = 0
	}
}

// stepByIntent moves along the combined key vector. Diagonals are not
// normalized, matching the browser client.
func (m *MotionController) stepByIntent() {
	var dx, dy float64
	if m.keys.Left {
		dx -= m.speed
	}
	if m.keys.Right {
		dx += m.speed
	}
	if m.keys.Up {
		dy -= m.speed
	}
	if m.keys.Down {
		dy += m.speed
	}

	m.dir = deriveDirection(dx, dy, m.dir)
	// Holding into a wall still counts as moving; the avatar animates in
	// place.
	m.moving = true
	m.lastStepDist = m.tryStep(dx, dy)
}

// stepToTarget walks the straight line toward the queued target, clamping
// each axis so the avatar never overshoots, and snaps exactly onto the
// target once within epsilon.
func (m *MotionController) stepToTarget() {
	t := *m.target
	vx := t.X - m.pos.X
	vy := t.Y - m.pos.Y
	remaining := math.Hypot(vx, vy)

	if remaining <= config.ArriveEpsilon {
		m.pos = t
		m.target = nil
		m.moving = false
		m.lastStepDist = 0
		return
	}

	dx := vx / remaining * m.speed
	dy := vy / remaining * m.speed
	// Per-axis clamp: never step past the target on either axis.
	if math.Abs(dx) > math.Abs(vx) {
		dx = vx
	}
	if math.Abs(dy) > math.Abs(vy) {
		dy = vy
	}

	m.dir = deriveDirection(dx, dy, m.dir)
	moved := m.tryStep(dx, dy)
	if moved == 0 {
		// Fully blocked: abandon the target rather than grind against
		// the wall forever.
		m.target = nil
		m.moving = false
		m.lastStepDist = 0
		return
	}
	m.moving = true
	m.lastStepDist = moved

	if dist(m.pos, t) <= config.ArriveEpsilon {
		m.pos = t
		m.target = nil
		m.moving = false
	}
}

// tryStep commits the step if walkable, otherwise retries each axis alone
// so the avatar slides along walls. Returns the distance actually moved.
func (m *MotionController) tryStep(dx, dy float64) float64 {
	nx, ny := m.pos.X+dx, m.pos.Y+dy
	if m.walkable(nx, ny) {
		m.pos = protocol.Position{X: nx, Y: ny}
		return math.Hypot(dx, dy)
	}
	if dx != 0 && m.walkable(nx, m.pos.Y) {
		m.pos.X = nx
		return math.Abs(dx)
	}
	if dy != 0 && m.walkable(m.pos.X, ny) {
		m.pos.Y = ny
		return math.Abs(dy)
	}
	return 0
}

func (m *MotionController) walkable(x, y float64) bool {
	if !m.bounds.Contains(x, y) {
		return false
	}
	if m.isWalkable == nil {
		return true
	}
	return m.isWalkable(x, y)
}

// ShouldSend decides whether this frame's state goes on the wire.
// Movement start/stop transitions always transmit immediately; otherwise an
// adaptive interval applies (faster cadence while covering ground, a floor
// rate while idle) plus a minimum accumulated position delta.
func (m *MotionController) ShouldSend(now time.Time) bool {
	if !m.sentOnce || m.moving != m.lastSentMoving {
		return true
	}

	var interval time.Duration
	switch {
	case m.moving && m.lastStepDist >= config.FastSpeedCutoff:
		interval = config.SendIntervalFast
	case m.moving:
		interval = config.SendIntervalSlow
	default:
		interval = config.SendIntervalIdle
	}
	if now.Sub(m.lastSentAt) < interval {
		return false
	}

	threshold := config.SendDeltaIdle
	if m.moving {
		threshold = config.SendDeltaMoving
	}
	return dist(m.pos, m.lastSentPos) >= threshold
}

// MarkSent records that the current state was transmitted.
func (m *MotionController) MarkSent(now time.Time) {
	m.sentOnce = true
	m.lastSentAt = now
	m.lastSentPos = m.pos
	m.lastSentMoving = m.moving
}

// deriveDirection picks a facing from a step vector, keeping the previous
// facing when the vector is zero. Dominant axis wins; screen Y grows
// downward so negative dy faces away (back).
func deriveDirection(dx, dy float64, prev protocol.Direction) protocol.Direction {
	if dx == 0 && dy == 0 {
		return prev
	}
	if math.Abs(dx) >= math.Abs(dy) {
		if dx > 0 {
			return protocol.DirRight
		}
		return protocol.DirLeft
	}
	if dy < 0 {
		return protocol.DirBack
	}
	return protocol.DirFront
}
