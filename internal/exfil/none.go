package exfil

import (
	"time"

	"github.com/GReX-Telescope/GReX-T0/internal/downsample"
)

// NoneSink discards every frame, the Go equivalent of the original's
// dummy consumer (exfil/dummy.rs): useful when no downstream search
// engine is configured.
type NoneSink struct{}

func (NoneSink) Header(time.Time) error          { return nil }
func (NoneSink) Write(downsample.Stokes) error   { return nil }
func (NoneSink) Close() error                    { return nil }
