// Package udp sends fire-and-forget datagrams to a single destination.
package udp

import (
	"fmt"
	"net"

	"ugps-bridge/internal/transport"
)

type udpConn interface {
	Write(p []byte) (int, error)
	Close() error
}

type (
	resolveFunc func(network, address string) (*net.UDPAddr, error)
	dialFunc    func(network string, laddr, raddr *net.UDPAddr) (udpConn, error)
)

// Sender writes each payload as one datagram. There is no delivery
// confirmation and payloads are never split.
type Sender struct {
	dest string
	conn udpConn
}

// NewSender resolves dest once; an unresolvable destination is a startup error.
func NewSender(dest string) (*Sender, error) {
	return newSender(dest, net.ResolveUDPAddr, func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
		return net.DialUDP(network, laddr, raddr)
	})
}

func newSender(dest string, resolve resolveFunc, dial dialFunc) (*Sender, error) {
	if dest == "" {
		return nil, fmt.Errorf("udp destination is required")
	}
	addr, err := resolve("udp", dest)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", dest, err)
	}
	conn, err := dial("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("dial udp %s: %w", dest, err)
	}
	return &Sender{dest: dest, conn: conn}, nil
}

func (s *Sender) Dest() string { return s.dest }

// Send writes one datagram. Empty payloads are skipped.
func (s *Sender) Send(payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	if _, err := s.conn.Write(payload); err != nil {
		return transport.Errorf(transport.TransportWriteFailure, "UDP "+s.dest, "write: %w", err)
	}
	return nil
}

// SendAll sends each payload as its own datagram and stops at the first
// failure.
func (s *Sender) SendAll(payloads [][]byte) error {
	for _, p := range payloads {
		if err := s.Send(p); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sender) Close() error {
	if s == nil || s.conn == nil {
		return nil
	}
	return s.conn.Close()
}
