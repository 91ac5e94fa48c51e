package payload

import (
	"encoding/binary"
	"testing"
	"time"
)

func TestDecodeRoundTrip(t *testing.T) {
	buf := make([]byte, Size)
	binary.BigEndian.PutUint64(buf[:TimestampSize], 0xdeadbeefcafef00d)
	body := buf[TimestampSize:]
	for c := 0; c < Channels; c++ {
		body[2*c] = byte(c % 127)
		body[2*c+1] = byte(255 - c%127) // negative int8 for high values
	}
	p := Decode(buf)
	if p.Count != 0xdeadbeefcafef00d {
		t.Fatalf("count decoded wrong: got %x", p.Count)
	}
	if p.PolA[1].Re != 1 {
		t.Fatalf("PolA[1].Re = %d, want 1", p.PolA[1].Re)
	}
}

func TestZeroFilled(t *testing.T) {
	p := ZeroFilled(42)
	if p.Count != 42 {
		t.Fatalf("count = %d, want 42", p.Count)
	}
	for _, ch := range p.PolA {
		if ch.Re != 0 || ch.Im != 0 {
			t.Fatalf("expected zeroed channel, got %+v", ch)
		}
	}
}

func TestAbsSquared(t *testing.T) {
	c := Channel{Re: -127, Im: 127}
	if got, want := c.AbsSquared(), uint16(127*127*2); got != want {
		t.Fatalf("AbsSquared() = %d, want %d", got, want)
	}
}

func TestEpochTimeMapping(t *testing.T) {
	h := NewHandles()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	h.SetEpoch(t0)
	got := h.Time(1000)
	want := t0.Add(1000 * Cadence)
	if !got.Equal(want) {
		t.Fatalf("Time(1000) = %v, want %v", got, want)
	}
}

func TestSetEpochTwicePanics(t *testing.T) {
	h := NewHandles()
	h.SetEpoch(time.Now())
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on second SetEpoch")
		}
	}()
	h.SetEpoch(time.Now())
}
