package main

import (
	"math/rand"
	"testing"

	"pastelcraft.ai/internal/protocol"
)

func TestEditGen_ProducesValidEdits(t *testing.T) {
	g := newEditGen(rand.New(rand.NewSource(7)), "OVERWORLD", 8)
	ops := map[string]int{}
	for i := 0; i < 500; i++ {
		m := g.next()
		if err := protocol.ValidateEdit(m); err != nil {
			t.Fatalf("edit %d (%+v) invalid: %v", i, m, err)
		}
		if m.Pos[0] < -8 || m.Pos[0] > 8 || m.Pos[2] < -8 || m.Pos[2] > 8 {
			t.Fatalf("edit %d out of spread: %v", i, m.Pos)
		}
		ops[m.Op]++
	}
	for _, op := range []string{"PLACE", "BREAK", "PRIORITY", "SEND"} {
		if ops[op] == 0 {
			t.Fatalf("no %s edits in %v", op, ops)
		}
	}
}

func TestEditGen_Deterministic(t *testing.T) {
	a := newEditGen(rand.New(rand.NewSource(42)), "W", 4)
	b := newEditGen(rand.New(rand.NewSource(42)), "W", 4)
	for i := 0; i < 50; i++ {
		ma, mb := a.next(), b.next()
		if ma.EditID != mb.EditID || ma.Op != mb.Op || ma.Pos != mb.Pos {
			t.Fatalf("edit %d differs: %+v vs %+v", i, ma, mb)
		}
	}
}
