package gameserver

import (
	"context"
	"net"
	"net/netip"
	"testing"
	"time"
)

// echoServer answers probes on loopback. The mangle hook corrupts the
// reply to exercise failure paths.
func echoServer(t *testing.T, mangle func([]byte) []byte) netip.AddrPort {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })

	go func() {
		buf := make([]byte, 64)
		for {
			n, addr, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			reply := make([]byte, n)
			copy(reply, buf[:n])
			reply[0]++
			if mangle != nil {
				reply = mangle(reply)
			}
			conn.WriteToUDP(reply, addr)
		}
	}()

	return conn.LocalAddr().(*net.UDPAddr).AddrPort()
}

func TestUDPValidator_Success(t *testing.T) {
	endpoint := echoServer(t, nil)
	v := NewUDPValidator(2 * time.Second)
	if err := v.Validate(context.Background(), endpoint); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestUDPValidator_BadOpcode(t *testing.T) {
	endpoint := echoServer(t, func(reply []byte) []byte {
		reply[0] = 0x00
		return reply
	})
	v := NewUDPValidator(time.Second)
	if err := v.Validate(context.Background(), endpoint); err == nil {
		t.Fatal("bad opcode accepted")
	}
}

func TestUDPValidator_BadNonce(t *testing.T) {
	endpoint := echoServer(t, func(reply []byte) []byte {
		reply[1] ^= 0xFF
		return reply
	})
	v := NewUDPValidator(time.Second)
	if err := v.Validate(context.Background(), endpoint); err == nil {
		t.Fatal("tampered nonce accepted")
	}
}

func TestUDPValidator_Timeout(t *testing.T) {
	// A listener that never answers.
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	v := NewUDPValidator(100 * time.Millisecond)
	start := time.Now()
	err = v.Validate(context.Background(), conn.LocalAddr().(*net.UDPAddr).AddrPort())
	if err == nil {
		t.Fatal("silent endpoint accepted")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("timeout took %v", elapsed)
	}
}
