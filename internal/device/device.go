// Package device controls the SNAP board FPGA over its network
// register interface. Where the teacher's fpga package mmaps
// /dev/mem and reinterprets byte slices as register structs, this
// package addresses the same kind of named, offset-based register
// file, but the transport is a request/reply UDP protocol to a
// network-attached board instead of a local memory map.
package device

import (
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"github.com/GReX-Telescope/GReX-T0/internal/payload"
)

// Register offsets in the SNAP gateware's control address space.
// Mirrors the teacher's OscRegs/OgdarRegs offset tables, renamed to
// this gateware's actual register set.
const (
	RegControl      = 0x0000 // bit 0: reset, bit 1: enable networking
	RegMAC          = 0x0004 // 6-byte MAC address, written as two registers
	RegTriggerArm   = 0x000C // bit 0: arm on next PPS
	RegTriggerForce = 0x0010 // bit 0: force a trigger now, bypassing PPS
	RegCountAtPPS   = 0x0014 // latched payload count observed at the last PPS edge
	RegRequantGainA = 0x0018 // requantization gain, pol A, one u16 per channel block
	RegRequantGainB = 0x0018 + 4*payload.Channels
	RegTemperature  = 0x1000 // FPGA die temperature, millidegrees C
)

const (
	requestTimeout = 2 * time.Second
	maxDatagram    = 1500
)

// Device is a connection to one SNAP board's control register file.
type Device struct {
	conn *net.UDPConn
	addr *net.UDPAddr
}

// New resolves addr (host:port) and readies a UDP socket for register
// I/O. It does not contact the board; Reset is normally the first
// call that requires it to be reachable.
func New(addr string) (*Device, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("device: resolving fpga address %q: %w", addr, err)
	}
	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return nil, fmt.Errorf("device: dialing fpga at %s: %w", addr, err)
	}
	return &Device{conn: conn, addr: udpAddr}, nil
}

// Close releases the underlying socket.
func (d *Device) Close() error { return d.conn.Close() }

// writeReg sends a single 32-bit register write and waits for the
// board's one-byte ack. A non-responsive board is a fatal-at-startup
// condition per the pipeline's error model; callers should treat any
// error here as unrecoverable.
func (d *Device) writeReg(offset uint32, value uint32) error {
	req := make([]byte, 9)
	req[0] = 'W'
	binary.BigEndian.PutUint32(req[1:5], offset)
	binary.BigEndian.PutUint32(req[5:9], value)
	return d.roundTrip(req, nil)
}

func (d *Device) writeBytes(offset uint32, data []byte) error {
	req := make([]byte, 5+len(data))
	req[0] = 'B'
	binary.BigEndian.PutUint32(req[1:5], offset)
	copy(req[5:], data)
	return d.roundTrip(req, nil)
}

func (d *Device) readReg(offset uint32) (uint32, error) {
	req := make([]byte, 5)
	req[0] = 'R'
	binary.BigEndian.PutUint32(req[1:5], offset)
	resp := make([]byte, 4)
	if err := d.roundTrip(req, resp); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(resp), nil
}

func (d *Device) roundTrip(req, resp []byte) error {
	if err := d.conn.SetDeadline(time.Now().Add(requestTimeout)); err != nil {
		return err
	}
	if _, err := d.conn.Write(req); err != nil {
		return fmt.Errorf("device: writing request: %w", err)
	}
	if resp == nil {
		ack := make([]byte, 1)
		n, err := d.conn.Read(ack)
		if err != nil {
			return fmt.Errorf("device: waiting for ack: %w", err)
		}
		if n != 1 || ack[0] != 'K' {
			return fmt.Errorf("device: board did not acknowledge request")
		}
		return nil
	}
	buf := make([]byte, maxDatagram)
	n, err := d.conn.Read(buf)
	if err != nil {
		return fmt.Errorf("device: waiting for response: %w", err)
	}
	if n < len(resp) {
		return fmt.Errorf("device: short response: got %d bytes, want %d", n, len(resp))
	}
	copy(resp, buf[:len(resp)])
	return nil
}

// Reset clears the gateware's reset bit and brings registers to their
// power-on state, mirroring the teacher's Command register reset bit.
func (d *Device) Reset() error {
	if err := d.writeReg(RegControl, 1); err != nil {
		return fmt.Errorf("device: reset: %w", err)
	}
	return d.writeReg(RegControl, 0)
}

// StartNetworking programs the gateware's output MAC address and
// enables packet transmission.
func (d *Device) StartNetworking(mac net.HardwareAddr) error {
	if len(mac) != 6 {
		return fmt.Errorf("device: mac must be 6 bytes, got %d", len(mac))
	}
	if err := d.writeBytes(RegMAC, mac); err != nil {
		return fmt.Errorf("device: programming mac: %w", err)
	}
	return d.writeReg(RegControl, 2)
}

// Trigger arms the board to begin packet transmission on the next PPS
// edge, then waits until the arm takes effect and returns the payload
// count observed at that PPS edge mapped to a wall-clock epoch via
// ppsTime (the NTP-disciplined time of "now", i.e. the next PPS edge).
func (d *Device) Trigger(ppsTime time.Time) (time.Time, error) {
	if err := d.writeReg(RegTriggerArm, 1); err != nil {
		return time.Time{}, fmt.Errorf("device: arming trigger: %w", err)
	}
	// The arm takes effect at the next PPS edge, at most one second away.
	deadline := time.Now().Add(1500 * time.Millisecond)
	for time.Now().Before(deadline) {
		count, err := d.readReg(RegCountAtPPS)
		if err != nil {
			return time.Time{}, fmt.Errorf("device: polling trigger status: %w", err)
		}
		if count != 0 {
			epoch := ppsTime.Add(-time.Duration(count) * payload.Cadence)
			return epoch, nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	return time.Time{}, fmt.Errorf("device: trigger did not take effect before the next PPS edge")
}

// BlindTrigger forces packet transmission to start immediately,
// without waiting on PPS; used when no GPS/NTP reference is
// available. The returned epoch is simply "now", since there is no
// external timing reference to correct against.
func (d *Device) BlindTrigger() (time.Time, error) {
	if err := d.writeReg(RegTriggerForce, 1); err != nil {
		return time.Time{}, fmt.Errorf("device: forcing trigger: %w", err)
	}
	return time.Now(), nil
}

// ForcePPS asserts a software-generated PPS pulse, used in the
// absence of a hardware PPS source (spec.md's `trig` config flag).
func (d *Device) ForcePPS() error {
	return d.writeReg(RegTriggerForce, 2)
}

// SetRequantGains programs the per-channel requantization gain
// applied before the int8 output stage, one value per channel, for
// each polarization.
func (d *Device) SetRequantGains(gainA, gainB []uint16) error {
	if len(gainA) != payload.Channels || len(gainB) != payload.Channels {
		return fmt.Errorf("device: requant gains must have %d entries", payload.Channels)
	}
	if err := d.writeBytes(RegRequantGainA, uint16sToBytes(gainA)); err != nil {
		return fmt.Errorf("device: programming pol a requant gains: %w", err)
	}
	return d.writeBytes(RegRequantGainB, uint16sToBytes(gainB))
}

// Temperature reads the FPGA die temperature in degrees Celsius.
func (d *Device) Temperature() (float64, error) {
	raw, err := d.readReg(RegTemperature)
	if err != nil {
		return 0, fmt.Errorf("device: reading temperature: %w", err)
	}
	return float64(int32(raw)) / 1000.0, nil
}

func uint16sToBytes(vals []uint16) []byte {
	out := make([]byte, len(vals)*2)
	for i, v := range vals {
		binary.BigEndian.PutUint16(out[2*i:], v)
	}
	return out
}
