// Package downsample accumulates per-payload Stokes-I intensities and
// emits one normalized frame every 2^downsamplePower payloads, while
// also forwarding every raw payload, unmodified, to the voltage ring
// buffer.
package downsample

import (
	"context"

	"go.uber.org/zap"

	"github.com/GReX-Telescope/GReX-T0/internal/payload"
	"github.com/GReX-Telescope/GReX-T0/internal/simd"
)

// Stokes is one downsampled, normalized Stokes-I frame.
type Stokes [payload.Channels]float32

// Downsampler accumulates Stokes-I intensities across 2^power
// payloads and emits a normalized average.
type Downsampler struct {
	power uint32
	log   *zap.SugaredLogger

	accum [payload.Channels]float32
	count uint32
}

// New constructs a Downsampler for the given downsample power (the
// spec's downsample_power, 1-9).
func New(power uint32, log *zap.SugaredLogger) *Downsampler {
	return &Downsampler{power: power, log: log}
}

// Factor is 2^power, the number of payloads summed into one frame.
func (d *Downsampler) Factor() uint32 { return 1 << d.power }

// Add computes the Stokes-I intensity for pl and accumulates it. It
// returns the emitted frame and true when a full 2^power payloads have
// been accumulated (and resets the accumulator), or the zero value and
// false otherwise.
func (d *Downsampler) Add(pl *payload.Payload) (Stokes, bool) {
	var s [payload.Channels]float32
	simd.StokesI(&pl.PolA, &pl.PolB, &s)
	for c := range d.accum {
		d.accum[c] += s[c]
	}
	d.count++

	factor := d.Factor()
	if d.count < factor {
		return Stokes{}, false
	}

	var out Stokes
	scale := float32(1) / float32(factor)
	for c := range out {
		out[c] = d.accum[c] * scale
	}
	d.accum = [payload.Channels]float32{}
	d.count = 0
	return out, true
}

// Run reads payloads from in, forwards every one unmodified to
// ringOut (full rate), and emits downsampled Stokes frames to
// exfilOut. Both output sends are blocking: a slow consumer
// backs the whole pipeline up to capture, which is the intended
// load-shedding behaviour (spec.md §5).
func Run(ctx context.Context, d *Downsampler, in <-chan payload.Payload, exfilOut chan<- Stokes, ringOut chan<- payload.Payload) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case pl, ok := <-in:
			if !ok {
				return nil
			}
			if err := forward(ctx, ringOut, pl); err != nil {
				return err
			}
			if frame, ready := d.Add(&pl); ready {
				if err := forwardStokes(ctx, exfilOut, frame); err != nil {
					return err
				}
			}
		}
	}
}

func forward(ctx context.Context, out chan<- payload.Payload, pl payload.Payload) error {
	select {
	case out <- pl:
		return nil
	case <-ctx.Done():
		return nil
	}
}

func forwardStokes(ctx context.Context, out chan<- Stokes, s Stokes) error {
	select {
	case out <- s:
		return nil
	case <-ctx.Done():
		return nil
	}
}
