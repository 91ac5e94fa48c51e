// Package exfil defines the downstream sinks that consume downsampled
// Stokes-I frames, mirroring the original's exfil module: a filterbank
// writer, a PSRDADA ring-buffer writer, and a no-op sink.
package exfil

import (
	"time"

	"github.com/GReX-Telescope/GReX-T0/internal/downsample"
	"github.com/GReX-Telescope/GReX-T0/internal/payload"
	"github.com/GReX-Telescope/GReX-T0/internal/ring"
)

// Sink receives the downsampled Stokes-I stream. Header is called
// once, on the first frame, with the pipeline's processed-start time;
// Write is called once per frame thereafter.
type Sink interface {
	Header(start time.Time) error
	Write(frame downsample.Stokes) error
	Close() error
}

// Run feeds frames from in to sink until the channel closes or done is
// closed, calling Header exactly once on the first frame, matching the
// original consumers' "first_payload" bookkeeping.
func Run(sink Sink, in <-chan downsample.Stokes, handles *payload.Handles, done <-chan struct{}) error {
	first := true
	for {
		select {
		case <-done:
			return sink.Close()
		case frame, ok := <-in:
			if !ok {
				return sink.Close()
			}
			if first {
				first = false
				t0, _ := handles.Epoch()
				if err := sink.Header(t0); err != nil {
					return err
				}
			}
			if err := sink.Write(frame); err != nil {
				return err
			}
		}
	}
}

const highbandMidFreq = ring.HighbandMidFreq
const bandwidth = ring.Bandwidth
