package exfil

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/GReX-Telescope/GReX-T0/internal/downsample"
	"github.com/GReX-Telescope/GReX-T0/internal/payload"
)

// FilterbankSink streams downsampled frames to a SIGPROC filterbank
// file, one f32 value per channel per time sample, with no chunking
// (one contiguous append-only stream). This hand-rolls the
// SIGPROC header encoding the original's sigproc_filterbank crate
// provides, since no Go package in the example pack exercises that
// wire format.
type FilterbankSink struct {
	file            *os.File
	downsampleFactor uint32
	headerWritten   bool
}

// NewFilterbankSink creates grex-<timestamp>.fil under dir.
func NewFilterbankSink(dir string, downsampleFactor uint32) (*FilterbankSink, error) {
	filename := fmt.Sprintf("grex-%s.fil", time.Now().UTC().Format("20060102T150405"))
	f, err := os.Create(filepath.Join(dir, filename))
	if err != nil {
		return nil, fmt.Errorf("exfil: creating filterbank file: %w", err)
	}
	return &FilterbankSink{file: f, downsampleFactor: downsampleFactor}, nil
}

// Header writes the SIGPROC header, timestamped by start (the
// pipeline's processed-start time, MJD TAI).
func (s *FilterbankSink) Header(start time.Time) error {
	const unixToMJD = 40587.0
	tstart := unixToMJD + float64(start.UnixNano())/(86400.0*1e9)
	tsamp := float64(payload.Cadence) / 1e9 * float64(s.downsampleFactor)
	foff := -bandwidth / float64(payload.Channels)

	var w sigprocWriter
	w.str("HEADER_START")
	w.str("telescope_id")
	w.int(0)
	w.str("machine_id")
	w.int(0)
	w.str("data_type")
	w.int(1)
	w.str("fch1")
	w.double(highbandMidFreq)
	w.str("foff")
	w.double(foff)
	w.str("nchans")
	w.int(int32(payload.Channels))
	w.str("nbits")
	w.int(32)
	w.str("nifs")
	w.int(1)
	w.str("tstart")
	w.double(tstart)
	w.str("tsamp")
	w.double(tsamp)
	w.str("HEADER_END")

	_, err := s.file.Write(w.buf)
	return err
}

// Write appends one frame as little-endian float32 samples.
func (s *FilterbankSink) Write(frame downsample.Stokes) error {
	buf := make([]byte, 4*payload.Channels)
	for c, v := range frame {
		binary.LittleEndian.PutUint32(buf[4*c:], math.Float32bits(v))
	}
	_, err := s.file.Write(buf)
	return err
}

func (s *FilterbankSink) Close() error { return s.file.Close() }

// sigprocWriter accumulates SIGPROC's length-prefixed-string /
// fixed-width-numeric header encoding.
type sigprocWriter struct{ buf []byte }

func (w *sigprocWriter) str(s string) {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(s)))
	w.buf = append(w.buf, lenBuf[:]...)
	w.buf = append(w.buf, s...)
}

func (w *sigprocWriter) int(v int32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(v))
	w.buf = append(w.buf, b[:]...)
}

func (w *sigprocWriter) double(v float64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], math.Float64bits(v))
	w.buf = append(w.buf, b[:]...)
}
