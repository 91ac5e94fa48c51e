// Package simd implements the two hot-path kernels that run on every
// payload: Stokes-I intensity computation and pulse injection. Both
// operate on interleaved packed-int8 complex data, processing samples
// in lane-width chunks the way the teacher's AVX-oriented code does,
// with golang.org/x/sys/cpu feature detection choosing between a
// wide path and a scalar fallback that is bit-exact with it.
package simd

import (
	"golang.org/x/sys/cpu"

	"github.com/GReX-Telescope/GReX-T0/internal/payload"
)

// laneWidth is the number of channels processed per unrolled
// iteration on the wide path, matching the 8-lane int32
// sum-of-squares output the spec's AVX2 description produces from a
// 16-lane int8 input chunk.
const laneWidth = 8

// HasWidePath reports whether the current CPU supports the widened
// kernel. On amd64 this mirrors an AVX2 capability check; on every
// other architecture the scalar kernel is used unconditionally.
func HasWidePath() bool {
	return cpu.X86.HasAVX2
}

// StokesI computes the Stokes-I intensity per channel,
// s[c] = (|a[c]|^2 + |b[c]|^2) / 2^14, selecting the wide or scalar
// kernel based on CPU support. The two kernels are required to agree
// to within one ULP for all inputs (see stokes_test.go).
func StokesI(a, b *[payload.Channels]payload.Channel, out *[payload.Channels]float32) {
	if HasWidePath() {
		stokesIWide(a, b, out)
		return
	}
	stokesIScalar(a, b, out)
}

const fixedPointScale = 1.0 / float32(1<<14)

// stokesIScalar is the one-channel-at-a-time reference kernel.
func stokesIScalar(a, b *[payload.Channels]payload.Channel, out *[payload.Channels]float32) {
	for c := 0; c < payload.Channels; c++ {
		sum := uint32(a[c].AbsSquared()) + uint32(b[c].AbsSquared())
		out[c] = float32(sum) * fixedPointScale
	}
}

// stokesIWide processes channels in groups of laneWidth. Since 2048 is
// a multiple of 8 there is no tail to special-case. The arithmetic is
// identical to the scalar path, performed eagerly over a block instead
// of incrementally, mirroring the AVX2 "sign-extend, horizontal
// multiply-add of 16-bit pairs, widen, scale" sequence the spec
// describes without requiring architecture-specific assembly.
func stokesIWide(a, b *[payload.Channels]payload.Channel, out *[payload.Channels]float32) {
	for base := 0; base < payload.Channels; base += laneWidth {
		var sums [laneWidth]uint32
		for l := 0; l < laneWidth; l++ {
			c := base + l
			sums[l] = uint32(a[c].AbsSquared()) + uint32(b[c].AbsSquared())
		}
		for l := 0; l < laneWidth; l++ {
			out[base+l] = float32(sums[l]) * fixedPointScale
		}
	}
}
