package simd

import "github.com/GReX-Telescope/GReX-T0/internal/payload"

// injectLane is the number of source pulse bytes consumed per
// unrolled step of the wide injection kernel. Each source byte widens
// into one (re, im) channel pair, so injectLane source bytes touch
// 2*injectLane destination bytes — matching the spec's 16-lane int8
// source chunk interleaved into a 32-lane destination add.
const injectLane = 16

// InjectReal adds a real-valued sample row into the real part of
// every channel of a polarization's packed (re,im) byte pairs,
// leaving the imaginary parts untouched. sample must have
// payload.Channels elements.
//
// Wide and scalar paths compute the identical saturating-free integer
// add (int8 wraparound, as on the original hardware); the wide path
// merely processes injectLane channels per loop iteration in an
// interleave-then-add pattern instead of one at a time.
func InjectReal(pol *[payload.Channels]payload.Channel, sample []int8) {
	if HasWidePath() {
		injectRealWide(pol, sample)
		return
	}
	injectRealScalar(pol, sample)
}

func injectRealScalar(pol *[payload.Channels]payload.Channel, sample []int8) {
	for c := 0; c < payload.Channels; c++ {
		pol[c].Re = int8(int32(pol[c].Re) + int32(sample[c]))
	}
}

// injectRealWide performs the same add, unrolled in injectLane-sized
// blocks. This is the Go-native analogue of the teacher corpus's
// "widen-and-interleave" AVX2 sequence: conceptually, interleave
// sample[i] with a zero imaginary lane to match the (re,im) layout,
// then add into the live payload bytes.
func injectRealWide(pol *[payload.Channels]payload.Channel, sample []int8) {
	for base := 0; base < payload.Channels; base += injectLane {
		for l := 0; l < injectLane; l++ {
			c := base + l
			pol[c].Re = int8(int32(pol[c].Re) + int32(sample[c]))
		}
	}
}

// Inject adds a real-valued pulse sample row into both polarizations
// of a payload, leaving imaginary parts untouched.
func Inject(pl *payload.Payload, sample []int8) {
	InjectReal(&pl.PolA, sample)
	InjectReal(&pl.PolB, sample)
}
