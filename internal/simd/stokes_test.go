package simd

import (
	"math"
	"math/rand"
	"testing"

	"github.com/GReX-Telescope/GReX-T0/internal/payload"
)

func randomChannels(r *rand.Rand) *[payload.Channels]payload.Channel {
	var c [payload.Channels]payload.Channel
	for i := range c {
		c[i] = payload.Channel{Re: int8(r.Intn(256) - 128), Im: int8(r.Intn(256) - 128)}
	}
	return &c
}

func TestStokesWideMatchesScalar(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for trial := 0; trial < 16; trial++ {
		a := randomChannels(r)
		b := randomChannels(r)
		var wide, scalar [payload.Channels]float32
		stokesIWide(a, b, &wide)
		stokesIScalar(a, b, &scalar)
		for c := 0; c < payload.Channels; c++ {
			if diff := math.Abs(float64(wide[c] - scalar[c])); diff > 1e-6 {
				t.Fatalf("trial %d channel %d: wide=%v scalar=%v", trial, c, wide[c], scalar[c])
			}
		}
	}
}

func TestStokesIMaxValue(t *testing.T) {
	var a, b [payload.Channels]payload.Channel
	for i := range a {
		a[i] = payload.Channel{Re: -128, Im: -128}
		b[i] = payload.Channel{Re: -128, Im: -128}
	}
	var out [payload.Channels]float32
	stokesIScalar(&a, &b, &out)
	want := float32(2*128*128*2) / float32(1<<14)
	if math.Abs(float64(out[0]-want)) > 1e-5 {
		t.Fatalf("got %v want %v", out[0], want)
	}
}
