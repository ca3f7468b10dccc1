package protocol

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	pos := Position{X: 100, Y: 50}
	data, err := Encode(MsgPlayerMove, MovePayload{
		PlayerID:  "player-1",
		Pos:       &pos,
		Direction: DirLeft,
		IsMoving:  true,
		Seq:       7,
	})
	if err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}

	msg, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	if msg.Type != MsgPlayerMove {
		t.Fatalf("expected type %q, got %q", MsgPlayerMove, msg.Type)
	}
	if msg.Ts == 0 {
		t.Fatalf("expected send timestamp to be stamped")
	}

	var move MovePayload
	if err := msg.UnmarshalPayload(&move); err != nil {
		t.Fatalf("UnmarshalPayload returned error: %v", err)
	}
	if move.PlayerID != "player-1" || move.Pos == nil || move.Pos.X != 100 || move.Seq != 7 {
		t.Fatalf("payload did not survive round trip: %+v", move)
	}
}

func TestDecode_Malformed(t *testing.T) {
	if _, err := Decode([]byte("not json")); !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("expected ErrInvalidMessage, got %v", err)
	}
	if _, err := Decode([]byte(`{"ts":123}`)); !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("expected ErrInvalidMessage for missing type, got %v", err)
	}
}

func TestDispatch_UnknownType(t *testing.T) {
	h := &Handler{}
	err := h.Dispatch(Message{Type: "warp", Payload: json.RawMessage(`{}`)})
	if !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
}

func TestDispatch_BatchPreservesOrder(t *testing.T) {
	var msgs []Message
	for i := 1; i <= 3; i++ {
		pos := Position{X: float64(i), Y: 0}
		m, err := Make(MsgPlayerMove, MovePayload{PlayerID: "p", Pos: &pos, Seq: uint64(i)})
		if err != nil {
			t.Fatalf("Make returned error: %v", err)
		}
		msgs = append(msgs, m)
	}

	batch, err := Make(MsgBatch, BatchPayload{Updates: msgs})
	if err != nil {
		t.Fatalf("Make batch returned error: %v", err)
	}

	var seen []uint64
	h := &Handler{
		OnMove: func(_ Message, p MovePayload) { seen = append(seen, p.Seq) },
	}
	if err := h.Dispatch(batch); err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}
	if len(seen) != 3 || seen[0] != 1 || seen[1] != 2 || seen[2] != 3 {
		t.Fatalf("batch order not preserved: %v", seen)
	}
}

func TestDispatch_RefusesNestedBatch(t *testing.T) {
	inner, err := Make(MsgBatch, BatchPayload{})
	if err != nil {
		t.Fatalf("Make returned error: %v", err)
	}
	outer, err := Make(MsgBatch, BatchPayload{Updates: []Message{inner}})
	if err != nil {
		t.Fatalf("Make returned error: %v", err)
	}

	h := &Handler{}
	if err := h.Dispatch(outer); !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("expected ErrInvalidMessage for nested batch, got %v", err)
	}
}

func TestSendDelay(t *testing.T) {
	now := time.Now()
	msg := Message{Ts: now.Add(-40 * time.Millisecond).UnixMilli()}
	delay := msg.SendDelay(now)
	if delay < 30*time.Millisecond || delay > 50*time.Millisecond {
		t.Fatalf("expected ~40ms delay, got %v", delay)
	}

	// Clock skew: sender timestamp ahead of receiver clamps to zero.
	ahead := Message{Ts: now.Add(time.Second).UnixMilli()}
	if d := ahead.SendDelay(now); d != 0 {
		t.Fatalf("expected zero delay for future timestamp, got %v", d)
	}

	if d := (Message{}).SendDelay(now); d != 0 {
		t.Fatalf("expected zero delay for missing timestamp, got %v", d)
	}
}

func TestParseDirection_FallsBack(t *testing.T) {
	if d := ParseDirection("sideways"); d != DirFront {
		t.Fatalf("expected fallback to front, got %q", d)
	}
	if d := ParseDirection("left"); d != DirLeft {
		t.Fatalf("expected left, got %q", d)
	}
}
