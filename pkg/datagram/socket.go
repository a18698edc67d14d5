// Package datagram implements the datagram substrate every satcore service
// speaks: one CBOR message per UDP datagram, no fragmentation, no internal
// framing. Receives are deadline-bounded so callers can distinguish a quiet
// peer from a dead socket.
package datagram

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/opensat/satcore/pkg/constants"
	"github.com/opensat/satcore/pkg/errs"
	"github.com/opensat/satcore/pkg/wire"
)

// DefaultMaxDatagram is the default maximum datagram size in bytes (§4.A).
const DefaultMaxDatagram = constants.DefaultMaxDatagram

// Socket wraps a *net.UDPConn and offers encode-and-send / recv-with-timeout
// over CBOR values, per §4.A's contract.
type Socket struct {
	conn        *net.UDPConn
	maxDatagram int
}

// Listen opens a UDP socket bound to addr ("ip:port"). maxDatagram <= 0 uses
// DefaultMaxDatagram.
func Listen(addr string, maxDatagram int) (*Socket, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, errs.Wrap(errs.KindTransport, "resolve bind address", err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, errs.Wrap(errs.KindTransport, "bind UDP socket", err)
	}
	if maxDatagram <= 0 {
		maxDatagram = DefaultMaxDatagram
	}
	return &Socket{conn: conn, maxDatagram: maxDatagram}, nil
}

// FromConn wraps an already-bound *net.UDPConn, e.g. one obtained by rotating
// through an ephemeral port range (§4.E).
func FromConn(conn *net.UDPConn, maxDatagram int) *Socket {
	if maxDatagram <= 0 {
		maxDatagram = DefaultMaxDatagram
	}
	return &Socket{conn: conn, maxDatagram: maxDatagram}
}

// LocalAddr returns the socket's bound address.
func (s *Socket) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

// Close closes the underlying UDP socket.
func (s *Socket) Close() error {
	return s.conn.Close()
}

// SendTo encodes v as CBOR and sends it as a single datagram to addr.
func (s *Socket) SendTo(v interface{}, addr *net.UDPAddr) error {
	data, err := wire.Marshal(v)
	if err != nil {
		return errs.Wrap(errs.KindDecode, "encode outbound message", err)
	}
	if len(data) > s.maxDatagram {
		return errs.New(errs.KindTransport, fmt.Sprintf("encoded message %d bytes exceeds max datagram %d", len(data), s.maxDatagram))
	}
	if _, err := s.conn.WriteToUDP(data, addr); err != nil {
		return errs.Wrap(errs.KindTransport, "send datagram", err)
	}
	return nil
}

// SendBytesTo sends raw bytes (already wire-encoded) to addr.
func (s *Socket) SendBytesTo(data []byte, addr *net.UDPAddr) error {
	if len(data) > s.maxDatagram {
		return errs.New(errs.KindTransport, fmt.Sprintf("message %d bytes exceeds max datagram %d", len(data), s.maxDatagram))
	}
	if _, err := s.conn.WriteToUDP(data, addr); err != nil {
		return errs.Wrap(errs.KindTransport, "send datagram", err)
	}
	return nil
}

// RecvResult is the outcome of a timed receive.
type RecvResult struct {
	Data []byte
	From *net.UDPAddr
}

// RecvWithTimeout blocks until a datagram arrives, the deadline expires, or
// the socket errors. It never decodes: callers pick the right wire decoder
// (file or shell message shapes) for their own protocol.
func (s *Socket) RecvWithTimeout(timeout time.Duration) (*RecvResult, error) {
	buf := make([]byte, s.maxDatagram)

	if err := s.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, errs.Wrap(errs.KindTransport, "set read deadline", err)
	}

	n, from, err := s.conn.ReadFromUDP(buf)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, errs.Timeout("no datagram within requested duration")
		}
		return nil, errs.Wrap(errs.KindTransport, "recv datagram", err)
	}

	out := make([]byte, n)
	copy(out, buf[:n])
	return &RecvResult{Data: out, From: from}, nil
}
