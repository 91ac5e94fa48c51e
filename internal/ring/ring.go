// Package ring implements the voltage ring buffer: a large, pre-faulted,
// power-of-two circular buffer of raw channelized voltage samples from
// which an arbitrary window (split across the wrap point if needed)
// can be serialized to a self-describing scientific file on trigger.
//
// This is the Go-native descendant of the teacher's SampleBuff/
// ScanlineBuff radar ring buffers (buffer/buffer.go): same idea (a
// fixed backing array, a write pointer that wraps, and views that
// stitch the two halves back into time order), generalized from
// per-scanline radar echoes to per-channel voltage payloads.
package ring

import (
	"context"
	"errors"
	"fmt"
	"unsafe"

	"go.uber.org/zap"

	"github.com/GReX-Telescope/GReX-T0/internal/payload"
)

// HighbandMidFreq and Bandwidth describe the gateware's frequency
// plan, used to build the dump file's freq coordinate variable.
const (
	HighbandMidFreq = 1529.93896484375 // MHz
	Bandwidth       = 250.0            // MHz
)

// DumpSize is the nominal trigger-dump window, in samples (~2.15s at
// the fixed cadence).
const DumpSize = 262_144

// channelBytes is one payload's channel data laid out as
// [pol][channel][reim], matching the on-disk voltages array's
// innermost three dimensions.
type channelBytes [2][payload.Channels][2]int8

// Ring is the voltage ring buffer described in spec.md §3/§4.4.
type Ring struct {
	buffer   []channelBytes // len == capacity, pre-faulted at construction
	capacity uint64

	writePtr uint64
	full     bool
	oldest   *uint64
	last     *uint64

	handles *payload.Handles
	log     *zap.SugaredLogger
}

// New allocates a ring of capacity 2^sizePower slots and pre-faults
// every page by writing a non-zero byte to it, so the real-time push
// path never pays for a first-touch page fault (spec.md §9).
func New(sizePower uint32, handles *payload.Handles, log *zap.SugaredLogger) *Ring {
	capacity := uint64(1) << sizePower
	buf := make([]channelBytes, capacity)
	preFault(buf)
	return &Ring{buffer: buf, capacity: capacity, handles: handles, log: log}
}

// preFault touches one byte per 4KiB page of buf so the kernel backs
// every page with real memory up front, instead of taking unbounded
// page-fault latency mid-stream during real-time operation.
func preFault(buf []channelBytes) {
	if len(buf) == 0 {
		return
	}
	const pageSize = 4096
	elemSize := int(unsafe.Sizeof(buf[0]))
	bytes := unsafe.Slice((*byte)(unsafe.Pointer(&buf[0])), len(buf)*elemSize)
	for off := 0; off < len(bytes); off += pageSize {
		bytes[off] = 1
	}
}

// Capacity reports C, the ring's slot count.
func (r *Ring) Capacity() uint64 { return r.capacity }

// Full reports whether the ring has wrapped at least once.
func (r *Ring) Full() bool { return r.full }

// Oldest reports the sequence number at the read end of the ring, or
// (0, false) if the ring is empty.
func (r *Ring) Oldest() (uint64, bool) {
	if r.oldest == nil {
		return 0, false
	}
	return *r.oldest, true
}

// Last reports the sequence number of the most recently pushed
// sample, or (0, false) if the ring is empty.
func (r *Ring) Last() (uint64, bool) {
	if r.last == nil {
		return 0, false
	}
	return *r.last, true
}

// Push writes pl into the ring. A non-monotonic count relative to the
// previously pushed sample (other than the very first push) indicates
// a discontinuity — typically induced by a dump stall — and triggers
// Reset instead of a write (spec.md §4.4 step 1).
func (r *Ring) Push(pl *payload.Payload) {
	if r.last != nil && pl.Count != *r.last+1 {
		r.log.Warnw("ring buffer discontinuity, resetting", "last", *r.last, "got", pl.Count)
		r.Reset()
		return
	}

	r.buffer[r.writePtr] = packChannels(pl)
	r.writePtr = (r.writePtr + 1) % r.capacity

	if r.oldest == nil {
		c := pl.Count
		r.oldest = &c
		last := pl.Count
		r.last = &last
		return
	}

	last := pl.Count
	r.last = &last
	if r.full {
		o := *r.oldest + 1
		r.oldest = &o
	}
	if r.writePtr == 0 && !r.full {
		r.full = true
	}
}

// Reset empties the ring, discarding its contents. Called after a
// dump completes and after a detected discontinuity.
func (r *Ring) Reset() {
	r.writePtr = 0
	r.full = false
	r.oldest = nil
	r.last = nil
}

func packChannels(pl *payload.Payload) channelBytes {
	var cb channelBytes
	for c := 0; c < payload.Channels; c++ {
		cb[0][c][0] = pl.PolA[c].Re
		cb[0][c][1] = pl.PolA[c].Im
		cb[1][c][0] = pl.PolB[c].Re
		cb[1][c][1] = pl.PolB[c].Im
	}
	return cb
}

// consecutiveViews returns the two contiguous slices (A, B) such that
// A followed by B is the ring's content in strict time order.
func (r *Ring) consecutiveViews() (a, b []channelBytes) {
	if !r.full {
		return r.buffer[:r.writePtr], nil
	}
	return r.buffer[r.writePtr:], r.buffer[:r.writePtr]
}

// ErrEmpty is returned when an operation requires at least one sample
// in the ring and the ring is empty.
var ErrEmpty = errors.New("ring buffer is empty")

// ErrOutOfRange is returned when a requested dump window is not
// contained in [oldest, last], the samples the ring currently holds.
var ErrOutOfRange = errors.New("requested window is not in the ring buffer")

// Window returns the channel data for samples [start, stop] (both
// inclusive) in time order, validating that the request lies within
// the ring's currently held content (spec.md §4.4).
func (r *Ring) Window(start, stop uint64) ([]channelBytes, error) {
	oldest, ok := r.Oldest()
	if !ok {
		return nil, ErrEmpty
	}
	last, _ := r.Last()
	if start > stop || start < oldest || stop > last {
		return nil, fmt.Errorf("%w: requested [%d,%d], have [%d,%d]", ErrOutOfRange, start, stop, oldest, last)
	}

	a, b := r.consecutiveViews()
	offsetStart := start - oldest
	offsetStop := stop - oldest // inclusive
	n := offsetStop - offsetStart + 1

	out := make([]channelBytes, 0, n)
	aLen := uint64(len(a))
	switch {
	case offsetStop < aLen:
		out = append(out, a[offsetStart:offsetStop+1]...)
	case offsetStart >= aLen:
		out = append(out, b[offsetStart-aLen:offsetStop-aLen+1]...)
	default:
		out = append(out, a[offsetStart:]...)
		out = append(out, b[:offsetStop-aLen+1]...)
	}
	if uint64(len(out)) != n {
		return nil, fmt.Errorf("internal error: assembled %d samples, wanted %d", len(out), n)
	}
	return out, nil
}

// TriggerMessage is the decoded UDP trigger payload: a candidate name
// and an index into the downsampled stream.
type TriggerMessage struct {
	CandName string `json:"candname"`
	ITime    uint32 `json:"itime"`
}

// ErrTriggerOutOfRange is returned when a trigger's resolved sample
// falls entirely outside the ring's held content.
var ErrTriggerOutOfRange = errors.New("ring buffer doesn't contain the requested sample")

// ResolveTriggerWindow maps a TriggerMessage to a (possibly
// edge-clipped) [start, stop] dump window, per spec.md §4.4
// trigger_dump: true_sample = itime*downsampleFactor + first_processed,
// nominal window is DUMP_SIZE wide biased one sample left of center,
// clipped to the ring's current content, failing only if the window
// lies entirely outside it. A ring no larger than DUMP_SIZE always
// dumps everything it holds (step 4), but that shortcut must not skip
// validity: a true_sample the ring never held still fails, it just
// fails against the ring's own bounds rather than the (here
// meaningless, since it dwarfs the ring) nominal window.
func (r *Ring) ResolveTriggerWindow(msg TriggerMessage, downsampleFactor uint64) (start, stop uint64, clipped bool, err error) {
	oldest, ok := r.Oldest()
	if !ok {
		return 0, 0, false, ErrEmpty
	}
	last, _ := r.Last()

	first, _ := r.handles.FirstProcessedCount()
	trueSample := uint64(msg.ITime)*downsampleFactor + first

	if r.capacity <= DumpSize {
		if trueSample < oldest || trueSample > last {
			return 0, 0, false, fmt.Errorf("%w: true_sample=%d have=[%d,%d]", ErrTriggerOutOfRange, trueSample, oldest, last)
		}
		return oldest, last, false, nil
	}

	half := uint64(DumpSize / 2)
	var lo uint64
	if trueSample+1 > half {
		lo = trueSample - half + 1
	}
	hi := trueSample + half

	if hi < oldest || lo > last {
		return 0, 0, false, fmt.Errorf("%w: true_sample=%d window=[%d,%d] have=[%d,%d]", ErrTriggerOutOfRange, trueSample, lo, hi, oldest, last)
	}

	clippedLo, clippedHi := lo, hi
	if clippedLo < oldest {
		clippedLo = oldest
		clipped = true
	}
	if clippedHi > last {
		clippedHi = last
		clipped = true
	}
	return clippedLo, clippedHi, clipped, nil
}

// Drain discards up to max queued payloads from in, returning the
// number actually drained. This implements the post-dump backpressure
// recovery described in spec.md §4.5: after a (possibly slow) dump,
// resuming mid-stream would violate Push's "monotonic by one"
// invariant, so the scheduler discards whatever piled up instead.
func Drain(ctx context.Context, in <-chan payload.Payload, max int) int {
	n := 0
	for n < max {
		select {
		case _, ok := <-in:
			if !ok {
				return n
			}
			n++
		default:
			return n
		}
	}
	return n
}
