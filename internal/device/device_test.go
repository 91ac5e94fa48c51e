package device

import (
	"encoding/binary"
	"net"
	"testing"
	"time"
)

// fakeBoard answers register requests the way a real SNAP board's
// control-plane firmware would: ack writes with 'K', echo reads back
// as the raw 4-byte register value.
func fakeBoard(t *testing.T) (addr string, regs map[uint32]uint32, stop func()) {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	regs = make(map[uint32]uint32)
	done := make(chan struct{})
	go func() {
		buf := make([]byte, 1500)
		for {
			select {
			case <-done:
				return
			default:
			}
			conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
			n, raddr, err := conn.ReadFromUDP(buf)
			if err != nil {
				continue
			}
			switch buf[0] {
			case 'W':
				off := binary.BigEndian.Uint32(buf[1:5])
				val := binary.BigEndian.Uint32(buf[5:9])
				regs[off] = val
				conn.WriteToUDP([]byte{'K'}, raddr)
			case 'B':
				off := binary.BigEndian.Uint32(buf[1:5])
				regs[off] = uint32(n - 5) // record byte-write length for assertions
				conn.WriteToUDP([]byte{'K'}, raddr)
			case 'R':
				off := binary.BigEndian.Uint32(buf[1:5])
				resp := make([]byte, 4)
				binary.BigEndian.PutUint32(resp, regs[off])
				conn.WriteToUDP(resp, raddr)
			}
		}
	}()
	return conn.LocalAddr().String(), regs, func() { close(done); conn.Close() }
}

func TestResetWritesAndClearsControlRegister(t *testing.T) {
	addr, regs, stop := fakeBoard(t)
	defer stop()

	d, err := New(addr)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer d.Close()

	if err := d.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if regs[RegControl] != 0 {
		t.Fatalf("control register = %d, want 0 after reset sequence", regs[RegControl])
	}
}

func TestStartNetworkingRejectsShortMAC(t *testing.T) {
	addr, _, stop := fakeBoard(t)
	defer stop()
	d, err := New(addr)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer d.Close()

	if err := d.StartNetworking(net.HardwareAddr{0x01, 0x02}); err == nil {
		t.Fatal("expected an error for a short MAC address")
	}
}

func TestSetRequantGainsRejectsWrongLength(t *testing.T) {
	addr, _, stop := fakeBoard(t)
	defer stop()
	d, err := New(addr)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer d.Close()

	if err := d.SetRequantGains([]uint16{1, 2, 3}, []uint16{1, 2, 3}); err == nil {
		t.Fatal("expected an error for gain slices shorter than Channels")
	}
}
