package game

import (
	"testing"

	"github.com/plaza/server/internal/protocol"
)

func TestNewID_PairwiseDistinct(t *testing.T) {
	r := NewRegistry()
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id := r.NewID()
		if id == "" {
			t.Fatalf("generated empty id")
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id generated: %s", id)
		}
		seen[id] = struct{}{}
	}
}

func TestRegistry_InsertRemove(t *testing.T) {
	r := NewRegistry()
	p := &Player{ID: "player-1", Name: "Alice"}
	r.Insert(p)

	if got, ok := r.Get("player-1"); !ok || got != p {
		t.Fatalf("expected to look up inserted player")
	}
	if r.Len() != 1 {
		t.Fatalf("expected length 1, got %d", r.Len())
	}

	removed, ok := r.Remove("player-1")
	if !ok || removed != p {
		t.Fatalf("expected removal to return the player")
	}
	if _, ok := r.Remove("player-1"); ok {
		t.Fatalf("second removal must report absence")
	}
	if r.Len() != 0 {
		t.Fatalf("expected empty registry, got %d", r.Len())
	}
}

func TestRegistry_SnapshotExcept(t *testing.T) {
	r := NewRegistry()
	r.Insert(&Player{ID: "a", Name: "A", Direction: protocol.DirFront})
	r.Insert(&Player{ID: "b", Name: "B", Direction: protocol.DirLeft})
	r.Insert(&Player{ID: "c", Name: "C", Direction: protocol.DirBack})

	snap := r.SnapshotExcept("b")
	if len(snap) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(snap))
	}
	for _, p := range snap {
		if p.ID == "b" {
			t.Fatalf("snapshot must exclude the given id")
		}
	}
}
