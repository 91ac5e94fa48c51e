package exfil

import (
	"fmt"
	"time"

	"github.com/GReX-Telescope/GReX-T0/internal/downsample"
)

// DadaSink would write Stokes-I windows into a PSRDADA shared-memory
// ring buffer for a downstream tool such as Heimdall, the way the
// original's exfil/dada.rs does via the psrdada crate. PSRDADA has no
// Go binding in the example pack or the wider Go ecosystem (it is a
// C library with POSIX shared-memory semantics that Rust and Python
// bind directly; no cgo-free Go client exists), so this type records
// its configuration and reports an explicit error if constructed,
// rather than silently dropping data a user asked to be written to a
// real PSRDADA buffer.
type DadaSink struct {
	Key              int32
	WindowSize       uint32
	downsampleFactor uint32
}

// NewDadaSink always returns an error naming the requested key and
// window, since no PSRDADA client is available to this module; it
// performs no other validation. See the DadaSink doc comment.
func NewDadaSink(key int32, windowSize, downsampleFactor uint32) (*DadaSink, error) {
	return nil, fmt.Errorf("exfil: psrdada sink requested (key=%x, window=%d) but no PSRDADA client library is available to this build", key, windowSize)
}

func (s *DadaSink) Header(time.Time) error        { return nil }
func (s *DadaSink) Write(downsample.Stokes) error { return nil }
func (s *DadaSink) Close() error                  { return nil }
