package capture

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/GReX-Telescope/GReX-T0/internal/payload"
)

// TestDispatchOrderingAndGapFill drives the dispatch state machine
// directly (bypassing the socket) with the sequence from spec.md §8
// property 1: counts {0,1,3,2,4} should yield a downstream stream of
// {0,1,2,3,4} where 2 is synthesized (zero-filled) when 3 arrives, and
// the late 2 from the wire is dropped as anachronistic, with
// shuffled=1 and drops=1.
func TestDispatchOrderingAndGapFill(t *testing.T) {
	log := zap.NewNop().Sugar()
	c := &Capture{log: log, handles: payload.NewHandles(), firstPayload: true}
	out := make(chan payload.Payload, 16)
	ctx := context.Background()

	for _, count := range []uint64{0, 1, 3, 2, 4} {
		if err := c.dispatch(ctx, payload.Payload{Count: count}, out); err != nil {
			t.Fatalf("dispatch(%d): %v", count, err)
		}
	}
	close(out)

	var gotCounts []uint64
	var gotZero []bool
	for pl := range out {
		gotCounts = append(gotCounts, pl.Count)
		zero := true
		for _, ch := range pl.PolA {
			if ch.Re != 0 || ch.Im != 0 {
				zero = false
			}
		}
		gotZero = append(gotZero, zero)
	}

	wantCounts := []uint64{0, 1, 2, 3, 4}
	if len(gotCounts) != len(wantCounts) {
		t.Fatalf("got %d payloads, want %d: %v", len(gotCounts), len(wantCounts), gotCounts)
	}
	for i, want := range wantCounts {
		if gotCounts[i] != want {
			t.Fatalf("payload %d: count = %d, want %d", i, gotCounts[i], want)
		}
	}
	// The synthesized payload for count=2 arrives third (index 2) and
	// must be zero-filled; the duplicate/anachronistic 2 from the wire
	// never reaches `out` at all.
	if !gotZero[2] {
		t.Fatalf("synthesized payload for count=2 was not zero-filled")
	}

	if c.shuffled != 1 {
		t.Fatalf("shuffled = %d, want 1", c.shuffled)
	}
	if c.drops != 1 {
		t.Fatalf("drops = %d, want 1", c.drops)
	}
	if c.processed != 0 {
		t.Fatalf("dispatch itself must not touch processed; it's counted in Run")
	}
}

func TestFirstPayloadSealsFirstProcessedCount(t *testing.T) {
	log := zap.NewNop().Sugar()
	handles := payload.NewHandles()
	c := &Capture{log: log, handles: handles, firstPayload: true}
	out := make(chan payload.Payload, 4)
	if err := c.dispatch(context.Background(), payload.Payload{Count: 7}, out); err != nil {
		t.Fatal(err)
	}
	got, ok := handles.FirstProcessedCount()
	if !ok || got != 7 {
		t.Fatalf("FirstProcessedCount() = (%d, %v), want (7, true)", got, ok)
	}
}
