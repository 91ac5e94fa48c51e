// Package pipeline is the supervisor (C8): it assembles every stage,
// spawns one goroutine per stage pinned to a dedicated CPU core, and
// joins them on shutdown. It generalizes the teacher's single-purpose
// main-loop wiring (ogdar.go) into the multi-stage startup/shutdown
// sequence the original's pipeline.rs performs with OS threads and a
// broadcast shutdown channel; Go's context.Context cancellation plays
// the part of that broadcast channel.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/beevik/ntp"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/GReX-Telescope/GReX-T0/internal/capture"
	"github.com/GReX-Telescope/GReX-T0/internal/config"
	"github.com/GReX-Telescope/GReX-T0/internal/device"
	"github.com/GReX-Telescope/GReX-T0/internal/downsample"
	"github.com/GReX-Telescope/GReX-T0/internal/exfil"
	"github.com/GReX-Telescope/GReX-T0/internal/injection"
	"github.com/GReX-Telescope/GReX-T0/internal/injectionlog"
	"github.com/GReX-Telescope/GReX-T0/internal/metrics"
	"github.com/GReX-Telescope/GReX-T0/internal/payload"
	"github.com/GReX-Telescope/GReX-T0/internal/ring"
)

// queueCapacity sizes every inter-stage payload channel.
const queueCapacity = 32_768

// Run parses nothing itself (cfg is already validated); it allocates
// the ring, preloads injection data, synchronizes time, programs and
// triggers the FPGA, then spawns every stage and blocks until
// shutdown.
func Run(ctx context.Context, cfg config.Config, dbPath string, log *zap.SugaredLogger) error {
	handles := payload.NewHandles()

	log.Infow("allocating voltage ring buffer", "size_power", cfg.VbufCapacity)
	vring := ring.New(cfg.VbufCapacity, handles, log)

	pulses, err := injection.LoadPulses(cfg.PulsePath)
	if err != nil {
		log.Warnw("skipping pulse injection: couldn't load pulse directory", "path", cfg.PulsePath, "error", err)
		pulses = nil
	}

	var ppsTime time.Time
	if !cfg.SkipNTP {
		log.Infow("synchronizing time with NTP", "server", cfg.NTPAddr)
		resp, err := ntp.Query(cfg.NTPAddr)
		if err != nil {
			return fmt.Errorf("pipeline: ntp sync failed: %w", err)
		}
		ppsTime = time.Now().Add(resp.ClockOffset)
	} else {
		log.Infow("skipping NTP time sync")
	}

	log.Infow("setting up SNAP board", "addr", cfg.FPGAAddr)
	dev, err := device.New(cfg.FPGAAddr)
	if err != nil {
		return fmt.Errorf("pipeline: fpga unreachable: %w", err)
	}
	defer dev.Close()
	if err := dev.Reset(); err != nil {
		return fmt.Errorf("pipeline: fpga reset failed: %w", err)
	}
	if err := dev.StartNetworking(cfg.MAC); err != nil {
		return fmt.Errorf("pipeline: fpga start networking failed: %w", err)
	}

	var epoch time.Time
	if !cfg.SkipNTP {
		log.Infow("triggering packet flow via PPS")
		epoch, err = dev.Trigger(ppsTime)
	} else {
		log.Infow("blindly triggering (no GPS), timing will be off")
		epoch, err = dev.BlindTrigger()
	}
	if err != nil {
		return fmt.Errorf("pipeline: fpga trigger failed: %w", err)
	}
	handles.SetEpoch(epoch)
	log.Infow("packet 0 coincident with", "epoch", epoch)

	if cfg.Trig {
		if err := dev.ForcePPS(); err != nil {
			return fmt.Errorf("pipeline: force-pps failed: %w", err)
		}
	}
	gainA := constantGains(cfg.RequantGain)
	gainB := constantGains(cfg.RequantGain)
	if err := dev.SetRequantGains(gainA, gainB); err != nil {
		return fmt.Errorf("pipeline: setting requant gains failed: %w", err)
	}

	injLog, err := injectionlog.Open(dbPath)
	if err != nil {
		return fmt.Errorf("pipeline: opening injection log: %w", err)
	}
	defer injLog.Close()

	sink, err := buildSink(cfg)
	if err != nil {
		return err
	}

	reg := metrics.New(handles)

	captureChan := make(chan payload.Payload, queueCapacity)
	injectChan := make(chan payload.Payload, queueCapacity)
	dumpChan := make(chan payload.Payload, queueCapacity)
	exfilChan := make(chan downsample.Stokes, 1024)
	triggerChan := make(chan []byte, ring.TriggerChanCapacity)
	statsChan := make(chan capture.Stats, 100)
	recordChan := make(chan injection.Record, 5)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go translateSignals(ctx, cancel, log)

	cores := newCoreAssigner(cfg.CoreRangeStart, cfg.CoreRangeStop)

	var wg sync.WaitGroup
	errCh := make(chan error, 16)
	spawn := func(name string, fn func() error) {
		wg.Add(1)
		core := cores.next()
		go func() {
			defer wg.Done()
			if err := pinToCore(core, log); err != nil {
				log.Warnw("could not set core affinity", "stage", name, "core", core, "error", err)
			}
			if err := fn(); err != nil {
				log.Errorw("stage exited with error", "stage", name, "error", err)
				select {
				case errCh <- fmt.Errorf("%s: %w", name, err):
				default:
				}
				cancel()
			}
		}()
	}

	captureImpl, err := capture.New(cfg.CapPort, handles, log)
	if err != nil {
		return fmt.Errorf("pipeline: capture setup failed: %w", err)
	}

	spawn("capture", func() error { return captureImpl.Run(ctx, captureChan, statsChan) })

	downsampleIn := captureChan
	if len(pulses) > 0 {
		inj := injection.NewInjector(pulses, time.Duration(cfg.InjectionCadenceSecs)*time.Second, handles, log)
		spawn("injection", func() error { return injection.Run(ctx, inj, captureChan, injectChan, recordChan) })
		spawn("injectionlog", func() error {
			injectionlog.Run(ctx, injLog, recordChan, func(args ...any) { log.Warnw(fmt.Sprint(args[0]), args[1:]...) })
			return nil
		})
		downsampleIn = injectChan
	} else {
		log.Warnw("skipping pulse injection, folder missing or empty")
	}

	downsampler := downsample.New(cfg.DownsamplePower, log)
	spawn("downsample", func() error { return downsample.Run(ctx, downsampler, downsampleIn, exfilChan, dumpChan) })

	spawn("ring", func() error {
		return ring.RunScheduler(ctx, vring, dumpChan, triggerChan, cfg.DumpPath, uint64(downsampler.Factor()), queueCapacity, log)
	})
	spawn("trigger", func() error { return ring.ListenTrigger(ctx, cfg.TrigPort, triggerChan, log) })
	spawn("exfil", func() error {
		done := ctx.Done()
		return exfil.Run(sink, exfilChan, handles, done)
	})
	spawn("metrics", func() error { return reg.Serve(ctx, fmt.Sprintf(":%d", cfg.MetricsPort)) })

	go drainStats(ctx, statsChan, reg)

	wg.Wait()
	close(errCh)
	for err := range errCh {
		return err
	}
	return nil
}

func buildSink(cfg config.Config) (exfil.Sink, error) {
	switch cfg.Exfil {
	case config.ExfilFilterbank:
		return exfil.NewFilterbankSink(cfg.FilterbankPath, downsampleFactor(cfg.DownsamplePower))
	case config.ExfilDada:
		return exfil.NewDadaSink(cfg.DadaKey, cfg.DadaSamples, downsampleFactor(cfg.DownsamplePower))
	default:
		return exfil.NoneSink{}, nil
	}
}

func downsampleFactor(power uint32) uint32 { return 1 << power }

func constantGains(gain uint16) []uint16 {
	out := make([]uint16, payload.Channels)
	for i := range out {
		out[i] = gain
	}
	return out
}

func drainStats(ctx context.Context, statsChan <-chan capture.Stats, reg *metrics.Registry) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-statsChan:
			if !ok {
				return
			}
			reg.ProcessedPackets.Set(float64(s.Processed))
			reg.DroppedPackets.Set(float64(s.Drops))
			reg.ShuffledPackets.Set(float64(s.Shuffled))
		}
	}
}

// translateSignals turns SIGTERM/SIGQUIT/SIGINT into a single
// shutdown by cancelling ctx, matching the original's signal task.
func translateSignals(ctx context.Context, cancel context.CancelFunc, log *zap.SugaredLogger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGINT)
	select {
	case sig := <-sigCh:
		log.Infow("received shutdown signal", "signal", sig)
		cancel()
	case <-ctx.Done():
	}
}

// coreAssigner hands out successive cores of a contiguous range.
type coreAssigner struct {
	next_ int
	stop  int
}

func newCoreAssigner(start, stop int) *coreAssigner { return &coreAssigner{next_: start, stop: stop} }

func (c *coreAssigner) next() int {
	core := c.next_
	if c.next_ < c.stop {
		c.next_++
	}
	return core
}

// pinToCore sets the calling goroutine's OS thread affinity, matching
// the original's core_affinity::set_for_current. Go goroutines aren't
// pinned to OS threads by default, so this locks the calling goroutine
// to its current OS thread first.
func pinToCore(core int, log *zap.SugaredLogger) error {
	runtime.LockOSThread()
	var set unix.CPUSet
	set.Zero()
	set.Set(core)
	return unix.SchedSetaffinity(0, &set)
}
