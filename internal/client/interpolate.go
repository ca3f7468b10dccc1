package client

import (
	"math"
	"time"

	"github.com/plaza/server/internal/protocol"
)

// InterpolationState is live while a remote player transitions between two
// known positions.
type InterpolationState struct {
	Start      protocol.Position
	Target     protocol.Position
	StartTime  time.Time
	Duration   time.Duration
	Direction  protocol.Direction
	IsMoving   bool
	LastUpdate time.Time
}

// RemoteView is what the renderer reads for one remote player each frame.
type RemoteView struct {
	Pos       protocol.Position
	Direction protocol.Direction
	IsMoving  bool
}

// Interpolator smooths remote players' movement between network ticks. It
// owns the displayed position of every remote avatar; movement updates
// start a transition from the currently displayed point (never the previous
// raw target) so a superseding update can never jump backward.
type Interpolator struct {
	speedPerSec  float64 // constant avatar speed, px/s
	minDuration  time.Duration
	maxDuration  time.Duration
	snapDistance float64

	displayed map[string]RemoteView
	active    map[string]*InterpolationState
}

// NewInterpolator creates an interpolator for avatars moving at the given
// speed (pixels per second).
func NewInterpolator(speedPerSec float64, minDur, maxDur time.Duration, snapDistance float64) *Interpolator {
	return &Interpolator{
		speedPerSec:  speedPerSec,
		minDuration:  minDur,
		maxDuration:  maxDur,
		snapDistance: snapDistance,
		displayed:    map[string]RemoteView{},
		active:       map[string]*InterpolationState{},
	}
}

// SetDisplayed places a remote avatar directly, with no transition. Used
// when a player first appears (join, roster sync).
func (in *Interpolator) SetDisplayed(id string, view RemoteView) {
	in.displayed[id] = view
	delete(in.active, id)
}

// Observe ingests a movement update for a remote player. oneWayDelay is the
// estimated network delay of the carrying message.
func (in *Interpolator) Observe(id string, move protocol.MovePayload, oneWayDelay time.Duration, now time.Time) {
	if move.Pos == nil {
		return
	}
	target := *move.Pos
	cur, known := in.displayed[id]
	if !known {
		in.SetDisplayed(id, RemoteView{Pos: target, Direction: move.Direction, IsMoving: move.IsMoving})
		return
	}

	distance := dist(cur.Pos, target)

	// A stop update or a wildly implausible jump snaps straight to the
	// target; interpolating either would animate something that never
	// happened.
	if !move.IsMoving || distance > in.snapDistance {
		in.SetDisplayed(id, RemoteView{Pos: target, Direction: move.Direction, IsMoving: move.IsMoving})
		return
	}

	travel := time.Duration(distance / in.speedPerSec * float64(time.Second))
	travel -= oneWayDelay
	if travel < in.minDuration {
		travel = in.minDuration
	}
	if travel > in.maxDuration {
		travel = in.maxDuration
	}

	in.active[id] = &InterpolationState{
		Start:      cur.Pos,
		Target:     target,
		StartTime:  now,
		Duration:   travel,
		Direction:  move.Direction,
		IsMoving:   true,
		LastUpdate: now,
	}
	in.displayed[id] = RemoteView{Pos: cur.Pos, Direction: move.Direction, IsMoving: true}
}

// Step advances every active transition to the given time. Completed
// transitions snap exactly onto their target and are torn down.
func (in *Interpolator) Step(now time.Time) {
	for id, st := range in.active {
		frac := 1.0
		if st.Duration > 0 {
			frac = float64(now.Sub(st.StartTime)) / float64(st.Duration)
		}
		if frac >= 1 {
			in.displayed[id] = RemoteView{Pos: st.Target, Direction: st.Direction, IsMoving: st.IsMoving}
			delete(in.active, id)
			continue
		}
		if frac < 0 {
			frac = 0
		}
		in.displayed[id] = RemoteView{
			Pos: protocol.Position{
				X: lerp(st.Start.X, st.Target.X, frac),
				Y: lerp(st.Start.Y, st.Target.Y, frac),
			},
			Direction: st.Direction,
			IsMoving:  st.IsMoving,
		}
	}
}

// View returns the displayed state for a remote player.
func (in *Interpolator) View(id string) (RemoteView, bool) {
	v, ok := in.displayed[id]
	return v, ok
}

// Forget drops all state for a departed player.
func (in *Interpolator) Forget(id string) {
	delete(in.displayed, id)
	delete(in.active, id)
}

// Prune drops entries for players no longer in the roster.
func (in *Interpolator) Prune(present func(id string) bool) {
	for id := range in.displayed {
		if !present(id) {
			in.Forget(id)
		}
	}
}

func dist(a, b protocol.Position) float64 {
	return math.Hypot(b.X-a.X, b.Y-a.Y)
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}
