package ring

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/fhs/go-netcdf/netcdf"

	"github.com/GReX-Telescope/GReX-T0/internal/payload"
)

// chunkTime is the time-dimension chunk length chosen so that one
// chunk of the voltages variable (time*pol*freq*reim bytes) is ~16MiB,
// matching the teacher's original chunking choice.
const chunkTime = 2048

// fallbackNameFormat mirrors Go's reference-time layout for
// %Y%m%dT%H%M%S.
const fallbackNameFormat = "20060102T150405"

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// DumpFilename returns the filename a dump should be written to: a
// candidate-named file when candname is non-empty and not all
// whitespace, otherwise a timestamp-named fallback (spec.md §6/§7).
func DumpFilename(candname string, now time.Time) string {
	trimmed := strings.TrimSpace(candname)
	if trimmed == "" {
		return fmt.Sprintf("grex_dump-%s.nc", now.UTC().Format(fallbackNameFormat))
	}
	safe := unsafeFilenameChars.ReplaceAllString(trimmed, "_")
	return fmt.Sprintf("grex_dump-%s.nc", safe)
}

// Dump writes samples [start, stop] (inclusive) to a self-describing
// netCDF file named filename under dir. It stages the write in the OS
// temp directory (typically faster, local storage) then copies it
// into dir, matching the teacher-original's tmpfile-then-move pattern
// (a cross-filesystem rename is not guaranteed atomic, so a copy+
// remove is used instead of os.Rename).
func (r *Ring) Dump(dir, filename string, start, stop uint64) error {
	samples, err := r.Window(start, stop)
	if err != nil {
		return err
	}

	tmpPath := filepath.Join(os.TempDir(), filename)
	if err := writeDumpFile(tmpPath, samples, r.handles, start, stop); err != nil {
		return fmt.Errorf("ring: writing dump file: %w", err)
	}

	finalPath := filepath.Join(dir, filename)
	if finalPath == tmpPath {
		return nil
	}
	if err := copyFile(tmpPath, finalPath); err != nil {
		return fmt.Errorf("ring: moving dump file into place: %w", err)
	}
	_ = os.Remove(tmpPath)
	return nil
}

func writeDumpFile(path string, samples []channelBytes, handles *payload.Handles, start, stop uint64) error {
	n := len(samples)

	ds, err := netcdf.CreateFile(path, netcdf.CLOBBER|netcdf.NETCDF4)
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}
	defer ds.Close()

	dimTime, err := ds.AddDim("time", uint64(n))
	if err != nil {
		return fmt.Errorf("add dim time: %w", err)
	}
	dimPol, err := ds.AddDim("pol", 2)
	if err != nil {
		return fmt.Errorf("add dim pol: %w", err)
	}
	dimFreq, err := ds.AddDim("freq", uint64(payload.Channels))
	if err != nil {
		return fmt.Errorf("add dim freq: %w", err)
	}
	dimReim, err := ds.AddDim("reim", 2)
	if err != nil {
		return fmt.Errorf("add dim reim: %w", err)
	}

	timeVar, err := ds.AddVar("time", netcdf.DOUBLE, []netcdf.Dim{dimTime})
	if err != nil {
		return fmt.Errorf("add var time: %w", err)
	}
	if err := timeVar.Attr("units").WriteString("Days"); err != nil {
		return err
	}
	if err := timeVar.Attr("long_name").WriteString("TAI days since the MJD Epoch"); err != nil {
		return err
	}

	polVar, err := ds.AddVar("pol", netcdf.STRING, []netcdf.Dim{dimPol})
	if err != nil {
		return fmt.Errorf("add var pol: %w", err)
	}
	if err := polVar.Attr("long_name").WriteString("Polarization"); err != nil {
		return err
	}

	freqVar, err := ds.AddVar("freq", netcdf.DOUBLE, []netcdf.Dim{dimFreq})
	if err != nil {
		return fmt.Errorf("add var freq: %w", err)
	}
	if err := freqVar.Attr("units").WriteString("Megahertz"); err != nil {
		return err
	}
	if err := freqVar.Attr("long_name").WriteString("Frequency"); err != nil {
		return err
	}

	reimVar, err := ds.AddVar("reim", netcdf.STRING, []netcdf.Dim{dimReim})
	if err != nil {
		return fmt.Errorf("add var reim: %w", err)
	}
	if err := reimVar.Attr("long_name").WriteString("Complex"); err != nil {
		return err
	}

	voltagesVar, err := ds.AddVar("voltages", netcdf.BYTE, []netcdf.Dim{dimTime, dimPol, dimFreq, dimReim})
	if err != nil {
		return fmt.Errorf("add var voltages: %w", err)
	}
	if err := voltagesVar.Attr("long_name").WriteString("Channelized Voltages"); err != nil {
		return err
	}
	if err := voltagesVar.Attr("units").WriteString("Volts"); err != nil {
		return err
	}
	chunkTimeLen := uint64(chunkTime)
	if uint64(n) < chunkTimeLen {
		chunkTimeLen = uint64(n)
	}
	if chunkTimeLen == 0 {
		chunkTimeLen = 1
	}
	if err := voltagesVar.SetChunking(netcdf.CHUNKED, []uint64{chunkTimeLen, 2, uint64(payload.Channels), 2}); err != nil {
		return fmt.Errorf("set chunking: %w", err)
	}

	if err := ds.EndDef(); err != nil {
		return fmt.Errorf("end def: %w", err)
	}

	mjdStart := mjdTAIForCount(handles, start)
	mjdEnd := mjdTAIForCount(handles, stop)
	times := linspace(mjdStart, mjdEnd, n)
	if err := timeVar.WriteFloat64s(times); err != nil {
		return fmt.Errorf("write time: %w", err)
	}

	if err := polVar.WriteStringsAt([]string{"a"}, []uint64{0}); err != nil {
		return fmt.Errorf("write pol a: %w", err)
	}
	if err := polVar.WriteStringsAt([]string{"b"}, []uint64{1}); err != nil {
		return fmt.Errorf("write pol b: %w", err)
	}

	freqs := linspace(HighbandMidFreq, HighbandMidFreq-Bandwidth, payload.Channels)
	if err := freqVar.WriteFloat64s(freqs); err != nil {
		return fmt.Errorf("write freq: %w", err)
	}

	if err := reimVar.WriteStringsAt([]string{"real"}, []uint64{0}); err != nil {
		return fmt.Errorf("write reim real: %w", err)
	}
	if err := reimVar.WriteStringsAt([]string{"imaginary"}, []uint64{1}); err != nil {
		return fmt.Errorf("write reim imaginary: %w", err)
	}

	flat := make([]int8, 0, n*2*payload.Channels*2)
	for _, cb := range samples {
		for pol := 0; pol < 2; pol++ {
			for c := 0; c < payload.Channels; c++ {
				flat = append(flat, cb[pol][c][0], cb[pol][c][1])
			}
		}
	}
	if err := voltagesVar.WriteBytes(flat); err != nil {
		return fmt.Errorf("write voltages: %w", err)
	}

	return ds.Sync()
}

func mjdTAIForCount(handles *payload.Handles, count uint64) float64 {
	const unixToMJD = 40587.0
	t := handles.Time(count)
	return unixToMJD + float64(t.UnixNano())/(86400.0*1e9)
}

func linspace(start, stop float64, n int) []float64 {
	out := make([]float64, n)
	if n == 1 {
		out[0] = start
		return out
	}
	step := (stop - start) / float64(n-1)
	for i := range out {
		out[i] = start + step*float64(i)
	}
	// Guard against floating-point drift on the final point.
	out[n-1] = stop
	return out
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
