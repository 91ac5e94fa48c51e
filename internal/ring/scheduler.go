package ring

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/GReX-Telescope/GReX-T0/internal/payload"
)

// TriggerBufSize is the datagram buffer size for the trigger listener
// (spec.md §4.5/§6): UTF-8 JSON up to 128 bytes.
const TriggerBufSize = 128

// TriggerChanCapacity is the bounded channel capacity between the
// trigger listener and the dump scheduler.
const TriggerChanCapacity = 5

// ListenTrigger binds trig_port and forwards each raw datagram body
// (copied, since the read buffer is reused) to out. It never blocks
// the listener on a full channel: the dump scheduler drains out at
// its own pace, and spec.md only guarantees a bounded channel, not
// backpressure on the listener itself.
func ListenTrigger(ctx context.Context, port uint16, out chan<- []byte, log *zap.SugaredLogger) error {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: int(port)})
	if err != nil {
		return fmt.Errorf("ring: binding trigger socket: %w", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, TriggerBufSize)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warnw("trigger socket read error", "error", err)
			continue
		}
		body := make([]byte, n)
		copy(body, buf[:n])
		select {
		case out <- body:
		default:
			log.Warnw("trigger channel full, dropping trigger")
		}
	}
}

// dumpRequest is one decoded trigger ready to be resolved and dumped.
type dumpRequest struct {
	msg TriggerMessage
	raw []byte
}

// RunScheduler implements the dump scheduler from spec.md §4.5: on
// each turn it prioritizes a pending trigger over ingest, and after a
// dump drains the trigger channel and up to 2*queueCapacity payloads
// from in to recover from the backpressure a (possibly slow) dump
// built up.
func RunScheduler(ctx context.Context, r *Ring, in <-chan payload.Payload, triggers <-chan []byte, dumpDir string, downsampleFactor uint64, queueCapacity int, log *zap.SugaredLogger) error {
	const blockTimeout = 10 * time.Second

	for {
		// A pending trigger always takes priority over ingest.
		select {
		case <-ctx.Done():
			return nil
		case raw, ok := <-triggers:
			if !ok {
				return nil
			}
			if req, ok := decodeTrigger(raw, log); ok {
				handleTrigger(r, req, dumpDir, downsampleFactor, log)
				r.Reset()
				drainTriggers(triggers)
				Drain(ctx, in, 2*queueCapacity)
			}
			continue
		default:
		}

		select {
		case <-ctx.Done():
			return nil
		case raw, ok := <-triggers:
			if !ok {
				return nil
			}
			if req, ok := decodeTrigger(raw, log); ok {
				handleTrigger(r, req, dumpDir, downsampleFactor, log)
				r.Reset()
				drainTriggers(triggers)
				Drain(ctx, in, 2*queueCapacity)
			}
		case pl, ok := <-in:
			if !ok {
				return nil
			}
			r.Push(&pl)
		case <-time.After(blockTimeout):
		}
	}
}

func decodeTrigger(raw []byte, log *zap.SugaredLogger) (dumpRequest, bool) {
	var msg TriggerMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		log.Warnw("malformed trigger JSON, discarding", "error", err, "raw", string(raw))
		return dumpRequest{}, false
	}
	return dumpRequest{msg: msg, raw: raw}, true
}

func handleTrigger(r *Ring, req dumpRequest, dumpDir string, downsampleFactor uint64, log *zap.SugaredLogger) {
	start, stop, clipped, err := r.ResolveTriggerWindow(req.msg, downsampleFactor)
	if err != nil {
		log.Warnw("trigger outside ring buffer window", "candname", req.msg.CandName, "itime", req.msg.ITime, "error", err)
		return
	}
	if clipped {
		log.Warnw("dump window clipped at ring edge", "candname", req.msg.CandName)
	}

	filename := DumpFilename(req.msg.CandName, time.Now())
	log.Infow("dumping ring buffer", "filename", filename, "start", start, "stop", stop)
	if err := r.Dump(dumpDir, filename, start, stop); err != nil {
		log.Warnw("error dumping ring buffer", "error", err)
	}
}

// drainTriggers discards any triggers that piled up while a dump was
// in progress, counting how many were skipped (spec.md §4.5).
func drainTriggers(triggers <-chan []byte) int {
	n := 0
	for {
		select {
		case _, ok := <-triggers:
			if !ok {
				return n
			}
			n++
		default:
			return n
		}
	}
}
