// Package injection periodically adds a deterministic synthetic pulse
// into the live payload stream, for end-to-end validation of
// downstream components. It sits between capture and the downsampler.
package injection

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/GReX-Telescope/GReX-T0/internal/payload"
	"github.com/GReX-Telescope/GReX-T0/internal/simd"
)

// Pulse is one loaded .dat file: a T x payload.Channels matrix of
// signed-byte time samples, named after its source file.
type Pulse struct {
	Name string
	Rows [][]int8 // Rows[t] has payload.Channels elements
}

// Record is published (best-effort) each time a pulse injection
// starts, mirroring the teacher's InjectionRecord used for the SQLite
// injection log.
type Record struct {
	MJD      float64
	Sample   uint64
	Filename string
}

// LoadPulses memory-maps every *.dat file in dir, copies its contents
// into an owned matrix, and releases the map. Each file must be a
// whole multiple of payload.Channels bytes. An empty directory (or a
// directory containing no .dat files) is not an error here: the
// caller decides whether to bypass injection entirely when the
// returned slice is empty (spec.md §4.3).
func LoadPulses(dir string) ([]Pulse, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("injection: reading pulse directory: %w", err)
	}

	var pulses []Pulse
	for _, e := range entries {
		if e.IsDir() || strings.ToLower(filepath.Ext(e.Name())) != ".dat" {
			continue
		}
		p, err := loadPulseFile(filepath.Join(dir, e.Name()), e.Name())
		if err != nil {
			return nil, fmt.Errorf("injection: loading %s: %w", e.Name(), err)
		}
		pulses = append(pulses, p)
	}
	return pulses, nil
}

func loadPulseFile(path, name string) (Pulse, error) {
	f, err := os.Open(path)
	if err != nil {
		return Pulse{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Pulse{}, err
	}
	size := int(info.Size())
	if size == 0 || size%payload.Channels != 0 {
		return Pulse{}, fmt.Errorf("size %d is not a multiple of %d channels", size, payload.Channels)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return Pulse{}, fmt.Errorf("mmap: %w", err)
	}
	defer unix.Munmap(data)

	rows := size / payload.Channels
	owned := make([][]int8, rows)
	for t := 0; t < rows; t++ {
		row := make([]int8, payload.Channels)
		for c := 0; c < payload.Channels; c++ {
			row[c] = int8(data[t*payload.Channels+c])
		}
		owned[t] = row
	}
	return Pulse{Name: name, Rows: owned}, nil
}

// Injector cycles through a loaded pulse set, adding one row per
// payload while "active" and otherwise passing payloads through
// unmodified.
type Injector struct {
	pulses  []Pulse
	cadence time.Duration
	handles *payload.Handles
	log     *zap.SugaredLogger

	cycleIndex int
	lastInject time.Time
	active     bool
	rowIndex   int
}

// NewInjector returns an Injector for a non-empty pulse set. Callers
// with an empty pulse set should bypass this component entirely
// (spec.md §4.3).
func NewInjector(pulses []Pulse, cadence time.Duration, handles *payload.Handles, log *zap.SugaredLogger) *Injector {
	return &Injector{pulses: pulses, cadence: cadence, handles: handles, log: log, lastInject: time.Now()}
}

// Process runs one step of the Idle/Active state machine from
// spec.md §4.3 against pl (mutated in place when active), returning a
// Record when a new injection starts (nil otherwise).
func (inj *Injector) Process(now time.Time, pl *payload.Payload) *Record {
	var rec *Record

	if !inj.active && now.Sub(inj.lastInject) >= inj.cadence {
		inj.active = true
		inj.rowIndex = 0

		pulse := inj.pulses[inj.cycleIndex]
		sample := pl.Count
		if first, ok := inj.handles.FirstProcessedCount(); ok && pl.Count >= first {
			sample = pl.Count - first
		}
		mjd := 0.0
		if t, ok := inj.handles.Epoch(); ok {
			_ = t
			mjd = mjdTAI(inj.handles.Time(pl.Count))
		}
		rec = &Record{MJD: mjd, Sample: sample, Filename: pulse.Name}
		inj.log.Infow("injecting pulse", "filename", pulse.Name, "mjd", mjd, "sample", sample)
	}

	if inj.active {
		pulse := inj.pulses[inj.cycleIndex]
		simd.Inject(pl, pulse.Rows[inj.rowIndex])
		inj.rowIndex++
		if inj.rowIndex == len(pulse.Rows) {
			inj.active = false
			inj.lastInject = now
			inj.cycleIndex = (inj.cycleIndex + 1) % len(inj.pulses)
		}
	}

	return rec
}

// mjdTAI converts a wall-clock time to a (TAI-approximated) Modified
// Julian Date in days. The pipeline's clock is kept on a continuous
// atomic timescale with no leap seconds (spec.md §3), so this is a
// direct linear conversion from the Unix epoch.
func mjdTAI(t time.Time) float64 {
	const unixToMJD = 40587.0 // days between the MJD epoch and the Unix epoch
	return unixToMJD + float64(t.UnixNano())/(86400.0*1e9)
}

// Run reads payloads from in, applies the injection state machine, and
// forwards every payload (injected or not) to out, publishing Records
// on recordOut (best-effort, non-blocking, matching spec.md §4.3).
func Run(ctx context.Context, inj *Injector, in <-chan payload.Payload, out chan<- payload.Payload, recordOut chan<- Record) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case pl, ok := <-in:
			if !ok {
				return nil
			}
			if rec := inj.Process(time.Now(), &pl); rec != nil {
				select {
				case recordOut <- *rec:
				default:
				}
			}
			select {
			case out <- pl:
			case <-ctx.Done():
				return nil
			}
		}
	}
}
