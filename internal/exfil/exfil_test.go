package exfil

import (
	"testing"
	"time"

	"github.com/GReX-Telescope/GReX-T0/internal/downsample"
)

func TestFilterbankHeaderAndWrite(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFilterbankSink(dir, 4)
	if err != nil {
		t.Fatalf("NewFilterbankSink: %v", err)
	}
	if err := sink.Header(time.Unix(1_700_000_000, 0)); err != nil {
		t.Fatalf("Header: %v", err)
	}
	var frame downsample.Stokes
	frame[0] = 1.5
	if err := sink.Write(frame); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestNewDadaSinkAlwaysErrors(t *testing.T) {
	if _, err := NewDadaSink(0x1234, 65536, 4); err == nil {
		t.Fatal("expected an error since no PSRDADA client is available")
	}
}

func TestNoneSinkDiscardsEverything(t *testing.T) {
	var s NoneSink
	if err := s.Header(time.Now()); err != nil {
		t.Fatalf("Header: %v", err)
	}
	var frame downsample.Stokes
	if err := s.Write(frame); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
