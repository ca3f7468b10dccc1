package client

import (
	"time"

	"github.com/plaza/server/internal/protocol"
)

// PendingCommand is one locally-applied predicted move awaiting a server
// echo.
type PendingCommand struct {
	Seq       uint64
	Pos       protocol.Position
	Direction protocol.Direction
	IsMoving  bool
	Timestamp time.Time
}

// CommandRing keeps recent predicted moves in a bounded ring keyed by an
// ever-incrementing sequence number. When full, the oldest entry is evicted.
type CommandRing struct {
	cap  int
	cmds []PendingCommand
}

// NewCommandRing creates a ring with the given capacity.
func NewCommandRing(capacity int) *CommandRing {
	return &CommandRing{cap: capacity, cmds: make([]PendingCommand, 0, capacity)}
}

// Push records a command, evicting the oldest when at capacity.
func (r *CommandRing) Push(cmd PendingCommand) {
	if len(r.cmds) == r.cap {
		copy(r.cmds, r.cmds[1:])
		r.cmds = r.cmds[:len(r.cmds)-1]
	}
	r.cmds = append(r.cmds, cmd)
}

// Find returns the command recorded for a sequence number.
func (r *CommandRing) Find(seq uint64) (PendingCommand, bool) {
	for i := len(r.cmds) - 1; i >= 0; i-- {
		if r.cmds[i].Seq == seq {
			return r.cmds[i], true
		}
	}
	return PendingCommand{}, false
}

// DropThrough discards every command up to and including seq; an echo for
// seq acknowledges everything before it.
func (r *CommandRing) DropThrough(seq uint64) {
	keep := r.cmds[:0]
	for _, cmd := range r.cmds {
		if cmd.Seq > seq {
			keep = append(keep, cmd)
		}
	}
	r.cmds = keep
}

// Len returns the number of retained commands.
func (r *CommandRing) Len() int { return len(r.cmds) }

// Reconciler merges server echoes for the local player with its predicted
// position: the server wins only when divergence exceeds the snap distance,
// otherwise prediction stands.
type Reconciler struct {
	ring         *CommandRing
	snapDistance float64
}

// NewReconciler creates a reconciler with the given ring capacity and snap
// threshold in pixels.
func NewReconciler(ringCap int, snapDistance float64) *Reconciler {
	return &Reconciler{
		ring:         NewCommandRing(ringCap),
		snapDistance: snapDistance,
	}
}

// Record remembers a transmitted predicted move.
func (r *Reconciler) Record(cmd PendingCommand) {
	r.ring.Push(cmd)
}

// Apply compares a server echo against the prediction. It returns the
// position to display and whether an authoritative correction was applied.
// The predicted sample is the one recorded for the echoed sequence when the
// ring still has it, else the currently displayed position.
func (r *Reconciler) Apply(displayed protocol.Position, echo protocol.MovePayload) (protocol.Position, bool) {
	if echo.Pos == nil {
		return displayed, false
	}
	predicted := displayed
	if cmd, ok := r.ring.Find(echo.Seq); ok {
		predicted = cmd.Pos
	}
	r.ring.DropThrough(echo.Seq)

	if dist(predicted, *echo.Pos) > r.snapDistance {
		return *echo.Pos, true
	}
	return displayed, false
}
