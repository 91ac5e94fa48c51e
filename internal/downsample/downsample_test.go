package downsample

import (
	"testing"

	"go.uber.org/zap"

	"github.com/GReX-Telescope/GReX-T0/internal/payload"
)

func TestAddEmitsEveryFactorPayloads(t *testing.T) {
	d := New(2, zap.NewNop().Sugar()) // factor = 4
	var pl payload.Payload
	for c := range pl.PolA {
		pl.PolA[c] = payload.Channel{Re: 10, Im: 0}
		pl.PolB[c] = payload.Channel{Re: 10, Im: 0}
	}

	for i := 0; i < 3; i++ {
		if _, ready := d.Add(&pl); ready {
			t.Fatalf("emitted early at payload %d", i)
		}
	}
	frame, ready := d.Add(&pl)
	if !ready {
		t.Fatal("expected emission on the 4th payload")
	}
	perPayload := float32(200) / float32(1<<14) // |10|^2+|10|^2 = 200
	want := perPayload                           // average across 4 identical payloads == same value
	if diff := frame[0] - want; diff > 1e-5 || diff < -1e-5 {
		t.Fatalf("frame[0] = %v, want %v", frame[0], want)
	}
}

func TestAddResetsAfterEmit(t *testing.T) {
	d := New(1, zap.NewNop().Sugar()) // factor = 2
	var pl payload.Payload
	d.Add(&pl)
	if _, ready := d.Add(&pl); !ready {
		t.Fatal("expected ready on second payload")
	}
	if d.count != 0 {
		t.Fatalf("count = %d, want 0 after reset", d.count)
	}
}
