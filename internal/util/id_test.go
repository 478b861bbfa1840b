package util

import (
	"testing"
	"time"
)

func TestIDGenerator_NewID(t *testing.T) {
	t.Run("Generates valid unique ids", func(t *testing.T) {
		gen := NewIDGenerator()
		seen := make(map[string]bool)

		for i := 0; i < 1000; i++ {
			id := gen.NewID()
			if !IsValidID(id) {
				t.Fatalf("invalid id %q", id)
			}
			if seen[id] {
				t.Fatalf("duplicate id %q", id)
			}
			seen[id] = true
		}
	})

	t.Run("Ids sort in creation order within one millisecond", func(t *testing.T) {
		fixed := time.Date(2025, 11, 19, 7, 0, 0, 0, time.UTC)
		gen := &IDGenerator{now: func() time.Time { return fixed }}

		prev := gen.NewID()
		for i := 0; i < 100; i++ {
			next := gen.NewID()
			if next[:18] < prev[:18] {
				t.Fatalf("id %q sorts before %q", next, prev)
			}
			prev = next
		}
	})

	t.Run("Version nibble is 7", func(t *testing.T) {
		id := NewID()
		if id[14] != '7' {
			t.Errorf("expected version 7, got %q in %s", id[14], id)
		}
	})
}

func TestIDGenerator_SequenceOverflow(t *testing.T) {
	fixed := time.Date(2025, 11, 19, 7, 0, 0, 0, time.UTC)
	gen := &IDGenerator{now: func() time.Time { return fixed }}

	for i := 0; i <= maxSeq; i++ {
		gen.NewID()
	}
	if gen.ms != fixed.UnixMilli() || gen.seq != maxSeq {
		t.Fatalf("expected sequence %d at %d, got %d at %d", maxSeq, fixed.UnixMilli(), gen.seq, gen.ms)
	}

	gen.NewID()
	if gen.ms != fixed.UnixMilli()+1 || gen.seq != 0 {
		t.Errorf("expected overflow into the next millisecond, got seq %d at %d", gen.seq, gen.ms)
	}
}

func TestIsValidID(t *testing.T) {
	if IsValidID("not-a-uuid") {
		t.Error("expected invalid id to be rejected")
	}
	if !IsValidID(NewRunID()) {
		t.Error("expected generated run id to be valid")
	}
}
