// Package capture owns the line-rate UDP ingress socket: it tunes the
// OS receive buffer, reads one datagram at a time, detects gaps and
// reordering, zero-fills missed sequence numbers, and forwards a
// strictly monotonic payload stream downstream.
package capture

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/GReX-Telescope/GReX-T0/internal/payload"
)

// RecvBufferSize is the OS socket receive buffer we request, chosen to
// absorb multi-second stalls at line rate (one 8200-byte payload every
// 8.192us is roughly 1GiB/s).
const RecvBufferSize = 256 * 1024 * 1024

// StatsPollDuration is how often the capture loop publishes counters.
const StatsPollDuration = 20 * time.Second

// Stats are the counters capture publishes on its stats channel.
type Stats struct {
	Drops     uint64
	Shuffled  uint64
	Processed uint64
}

// Error is returned for conditions the capture loop cannot recover
// from.
type Error struct {
	Kind string
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("capture: %s: %v", e.Kind, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// ErrSizeMismatch reports that a datagram was not exactly payload.Size
// bytes.
var ErrSizeMismatch = errors.New("received datagram was not payload.Size bytes")

// Capture owns the ingress socket and the ordering state machine.
type Capture struct {
	conn *net.UDPConn

	log     *zap.SugaredLogger
	handles *payload.Handles

	drops, shuffled, processed uint64
	firstPayload               bool
	nextExpected               uint64
}

// New binds a UDP socket to 0.0.0.0:port, raises its receive buffer to
// RecvBufferSize, and verifies the kernel actually applied it. A
// mismatch here is a fatal-at-startup condition (see spec.md §7): the
// caller should fail the whole process rather than run at a buffer
// size that won't absorb real-time stalls. handles is sealed with the
// first-processed-count exactly once, on the first datagram received.
func New(port uint16, handles *payload.Handles, log *zap.SugaredLogger) (*Capture, error) {
	addr := &net.UDPAddr{IP: net.IPv4zero, Port: int(port)}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, &Error{Kind: "bind", Err: err}
	}

	rawConn, err := conn.SyscallConn()
	if err != nil {
		conn.Close()
		return nil, &Error{Kind: "syscall-conn", Err: err}
	}
	var setErr, getErr error
	var applied int
	if err := rawConn.Control(func(fd uintptr) {
		setErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, RecvBufferSize)
		applied, getErr = unix.GetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF)
	}); err != nil {
		conn.Close()
		return nil, &Error{Kind: "rawconn-control", Err: err}
	}
	if setErr != nil {
		conn.Close()
		return nil, &Error{Kind: "setsockopt-rcvbuf", Err: setErr}
	}
	if getErr != nil {
		conn.Close()
		return nil, &Error{Kind: "getsockopt-rcvbuf", Err: getErr}
	}
	// The kernel doubles SO_RCVBUF internally (accounting for
	// overhead); anything less than what we asked for means
	// net.core.rmem_max is capping us below what real-time capture
	// requires.
	if applied < RecvBufferSize {
		return nil, &Error{Kind: "rcvbuf-not-applied", Err: fmt.Errorf(
			"asked for %d, kernel reports %d; raise net.core.rmem_max", RecvBufferSize, applied)}
	}

	return &Capture{
		conn:         conn,
		log:          log,
		handles:      handles,
		firstPayload: true,
	}, nil
}

// Close releases the underlying socket.
func (c *Capture) Close() error { return c.conn.Close() }

// Stats returns a snapshot of the running counters.
func (c *Capture) Stats() Stats {
	return Stats{Drops: c.drops, Shuffled: c.shuffled, Processed: c.processed}
}

// Run reads datagrams until ctx is cancelled or a fatal error occurs,
// forwarding a strictly monotonic payload stream to out and
// best-effort stats snapshots to statsCh. It implements the ordering
// state machine from spec.md §4.1: the first payload seen seals
// payload.FirstProcessedCount; subsequent payloads are forwarded in
// order, with gaps synthesized as zero-filled payloads and
// anachronistic duplicates dropped (counted, and logged as a warning).
//
// out is a blocking send: a slow downstream consumer backs up into
// capture, which is the pipeline's deliberate load-shedding point —
// the NIC drops packets, not this process.
func (c *Capture) Run(ctx context.Context, out chan<- payload.Payload, statsCh chan<- Stats) error {
	buf := make([]byte, payload.Size)
	lastStats := time.Now()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n, err := c.readDatagram(ctx, buf)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if n != payload.Size {
			return &Error{Kind: "size-mismatch", Err: fmt.Errorf("%w: got %d bytes, want %d", ErrSizeMismatch, n, payload.Size)}
		}

		pl := payload.Decode(buf)
		c.processed++

		if time.Since(lastStats) >= StatsPollDuration {
			select {
			case statsCh <- c.Stats():
			default:
			}
			lastStats = time.Now()
		}

		if err := c.dispatch(ctx, pl, out); err != nil {
			return err
		}
	}
}

// readDatagram blocks on recv, respecting ctx cancellation via a
// deadline poke so the blocking socket read can be interrupted
// cooperatively without abandoning the "keep the socket blocking"
// design the spec calls for.
func (c *Capture) readDatagram(ctx context.Context, buf []byte) (int, error) {
	for {
		select {
		case <-ctx.Done():
			return 0, context.Canceled
		default:
		}
		c.conn.SetReadDeadline(time.Now().Add(time.Second))
		n, _, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return 0, err
		}
		return n, nil
	}
}

func (c *Capture) dispatch(ctx context.Context, pl payload.Payload, out chan<- payload.Payload) error {
	switch {
	case c.firstPayload:
		c.firstPayload = false
		c.handles.SetFirstProcessedCount(pl.Count)
		c.nextExpected = pl.Count + 1
		return c.send(ctx, out, pl)

	case pl.Count == c.nextExpected:
		c.nextExpected++
		return c.send(ctx, out, pl)

	case pl.Count < c.nextExpected:
		c.shuffled++
		c.log.Warnw("anachronistic payload, dropping", "count", pl.Count, "expected", c.nextExpected)
		return nil

	default:
		gap := pl.Count - c.nextExpected
		c.log.Warnw("jump in packet count, zero-filling", "gap", gap, "next_expected", c.nextExpected)
		for m := c.nextExpected; m < pl.Count; m++ {
			if err := c.send(ctx, out, payload.ZeroFilled(m)); err != nil {
				return err
			}
		}
		c.drops += gap
		c.nextExpected = pl.Count + 1
		return c.send(ctx, out, pl)
	}
}

func (c *Capture) send(ctx context.Context, out chan<- payload.Payload, pl payload.Payload) error {
	select {
	case out <- pl:
		return nil
	case <-ctx.Done():
		return nil
	}
}
