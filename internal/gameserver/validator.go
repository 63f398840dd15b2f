package gameserver

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"net"
	"net/netip"
	"time"
)

// Probe wire format: the relay sends 8 bytes, an opcode byte followed
// by 7 random nonce bytes. The game server echoes the same 8 bytes
// with the opcode incremented. Anything else fails validation. The
// probe is not retried; an unreachable server republishes.
const (
	probePingOpcode = 0x77
	probePongOpcode = 0x78
	probeSize       = 8
)

// Validator checks that a game endpoint is reachable before the
// registry accepts it.
type Validator interface {
	Validate(ctx context.Context, endpoint netip.AddrPort) error
}

// UDPValidator probes endpoints with the nonce/echo exchange above.
type UDPValidator struct {
	Timeout time.Duration
}

// NewUDPValidator creates a validator with the given probe timeout.
func NewUDPValidator(timeout time.Duration) *UDPValidator {
	return &UDPValidator{Timeout: timeout}
}

// Validate sends the probe and waits for the echo within Timeout.
func (v *UDPValidator) Validate(ctx context.Context, endpoint netip.AddrPort) error {
	conn, err := net.DialUDP("udp", nil, net.UDPAddrFromAddrPort(endpoint))
	if err != nil {
		return fmt.Errorf("dialing %s: %w", endpoint, err)
	}
	defer conn.Close()

	var probe [probeSize]byte
	probe[0] = probePingOpcode
	if _, err := rand.Read(probe[1:]); err != nil {
		return fmt.Errorf("generating probe nonce: %w", err)
	}

	deadline := time.Now().Add(v.Timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("setting probe deadline: %w", err)
	}

	if _, err := conn.Write(probe[:]); err != nil {
		return fmt.Errorf("sending probe to %s: %w", endpoint, err)
	}

	var reply [probeSize]byte
	n, err := conn.Read(reply[:])
	if err != nil {
		return fmt.Errorf("awaiting echo from %s: %w", endpoint, err)
	}
	if n != probeSize || reply[0] != probePongOpcode || !bytes.Equal(reply[1:], probe[1:]) {
		return fmt.Errorf("bad echo from %s", endpoint)
	}
	return nil
}
