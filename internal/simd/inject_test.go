package simd

import (
	"testing"

	"github.com/GReX-Telescope/GReX-T0/internal/payload"
)

func TestInjectThenNegateRestores(t *testing.T) {
	var pl payload.Payload
	sample := make([]int8, payload.Channels)
	for i := range sample {
		sample[i] = int8((i % 100) - 50)
	}
	negated := make([]int8, payload.Channels)
	for i := range sample {
		negated[i] = -sample[i]
	}
	orig := pl
	Inject(&pl, sample)
	Inject(&pl, negated)
	if pl != orig {
		t.Fatalf("inject-then-negate did not restore payload")
	}
}

func TestInjectAll127IntoZero(t *testing.T) {
	var pl payload.Payload
	sample := make([]int8, payload.Channels)
	for i := range sample {
		sample[i] = 127
	}
	Inject(&pl, sample)
	for c := 0; c < payload.Channels; c++ {
		if pl.PolA[c].Re != 127 {
			t.Fatalf("PolA[%d].Re = %d, want 127", c, pl.PolA[c].Re)
		}
		if pl.PolA[c].Im != 0 {
			t.Fatalf("PolA[%d].Im = %d, want 0", c, pl.PolA[c].Im)
		}
	}
}

func TestInjectWideMatchesScalar(t *testing.T) {
	sample := make([]int8, payload.Channels)
	for i := range sample {
		sample[i] = int8(i % 127)
	}
	var wide, scalar payload.Payload
	for c := 0; c < payload.Channels; c++ {
		wide.PolA[c] = payload.Channel{Re: int8(c), Im: int8(-c)}
		scalar.PolA[c] = wide.PolA[c]
	}
	injectRealWide(&wide.PolA, sample)
	injectRealScalar(&scalar.PolA, sample)
	if wide != scalar {
		t.Fatalf("wide and scalar injection diverged")
	}
}
