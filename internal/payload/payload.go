// Package payload defines the wire layout of one FPGA integration
// window and the sequence-number-to-wall-clock time mapping shared by
// every stage of the pipeline.
package payload

import (
	"encoding/binary"
	"sync"
	"time"
)

// Channels is the number of frequency channels the gateware emits.
const Channels = 2048

// Cadence is the fixed time between consecutive payload counts.
const Cadence = 8192 * time.Nanosecond

// TimestampSize is the size, in bytes, of the big-endian sequence
// number at the head of each datagram.
const TimestampSize = 8

// SpectraSize is the size, in bytes, of the two-polarization complex
// spectra block that follows the timestamp.
const SpectraSize = 2 * Channels * 2

// Size is the total size of one wire datagram: an 8-byte count
// followed by interleaved (re,im) int8 samples for pol_a then pol_b.
const Size = TimestampSize + SpectraSize

// Channel is one complex voltage sample, packed as two signed bytes.
type Channel struct {
	Re, Im int8
}

// AbsSquared returns |Re+iIm|^2, which always fits in a uint16 since
// each component is at most 128 in magnitude (2*128^2 = 32768).
func (c Channel) AbsSquared() uint16 {
	r := int32(c.Re)
	i := int32(c.Im)
	return uint16(r*r + i*i)
}

// Payload is one FPGA integration window: a monotonically increasing
// count plus 2048 complex samples for each of two polarizations.
//
// Its field order matches the wire layout (count, then PolA, then
// PolB, each channel stored as two consecutive int8 bytes). Decode
// does not reinterpret a received buffer in place: it copies the
// buffer into a new Payload field by field.
type Payload struct {
	Count uint64
	PolA  [Channels]Channel
	PolB  [Channels]Channel
}

// Decode copies a Size-byte wire buffer into a new Payload. buf must
// be exactly Size bytes; callers should check this before calling
// Decode (see capture.ErrSizeMismatch).
//
// The FPGA emits the count field big-endian, so it is decoded with
// encoding/binary; every (re,im) byte pair is then copied into its
// Channel one at a time. No part of buf is aliased by the result.
func Decode(buf []byte) Payload {
	var p Payload
	p.Count = binary.BigEndian.Uint64(buf[:TimestampSize])
	body := buf[TimestampSize:]
	decodeChannels(&p.PolA, body[:Channels*2])
	decodeChannels(&p.PolB, body[Channels*2:])
	return p
}

func decodeChannels(dst *[Channels]Channel, src []byte) {
	for c := 0; c < Channels; c++ {
		dst[c] = Channel{Re: int8(src[2*c]), Im: int8(src[2*c+1])}
	}
}

// ZeroFilled returns a Payload with the given count and all-zero
// samples, used by capture to stand in for sequence numbers that were
// never received.
func ZeroFilled(count uint64) Payload {
	return Payload{Count: count}
}

// Handles is the sealed, set-once state the data model calls T0 (the
// epoch) and first_processed_count, bundled into a single handoff
// object instead of true process globals. The pipeline supervisor
// creates one Handles at startup and shares it (by reference) with
// every component that needs to read or seal these values; this is
// the "single initialization handoff" the design notes prefer over
// package-level globals, while still giving every component the same
// sealed-once communication contract the data model describes.
type Handles struct {
	mu sync.Mutex

	epochSet bool
	epoch    time.Time

	firstProcessedSet bool
	firstProcessed    uint64
}

// NewHandles returns an empty, unsealed Handles.
func NewHandles() *Handles { return &Handles{} }

// SetEpoch seals T0. Calling it more than once is a programming error
// and panics, matching the "set exactly once, between FPGA trigger and
// pipeline start" lifecycle in the data model.
func (h *Handles) SetEpoch(t0 time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.epochSet {
		panic("payload: SetEpoch called more than once")
	}
	h.epoch = t0
	h.epochSet = true
}

// Epoch reports the sealed epoch and whether it has been set yet.
func (h *Handles) Epoch() (time.Time, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.epoch, h.epochSet
}

// Time maps a payload count to its wall-clock time: T0 + count*Cadence.
// It panics if the epoch has not yet been sealed.
func (h *Handles) Time(count uint64) time.Time {
	t0, ok := h.Epoch()
	if !ok {
		panic("payload: Time called before SetEpoch")
	}
	return t0.Add(time.Duration(count) * Cadence)
}

// SetFirstProcessedCount seals the sequence number of the first
// payload capture ever observed. Like SetEpoch, this must happen
// exactly once, from the capture component.
func (h *Handles) SetFirstProcessedCount(count uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.firstProcessedSet {
		panic("payload: SetFirstProcessedCount called more than once")
	}
	h.firstProcessed = count
	h.firstProcessedSet = true
}

// FirstProcessedCount reports the sealed first-processed count and
// whether it has been set yet.
func (h *Handles) FirstProcessedCount() (uint64, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.firstProcessed, h.firstProcessedSet
}
