package fileproto

import (
	"net"
	"time"

	"github.com/opensat/satcore/pkg/datagram"
	"github.com/opensat/satcore/pkg/errs"
)

// transport is the minimal send/recv surface the state machine needs. A
// *datagram.Socket satisfies it directly for the CLI/initiator path, where
// one engine owns one real OS socket (§4.C, "a single engine instance serves
// one transaction at a time on its socket"). The responder/daemon path uses
// mailboxTransport instead, so that many concurrent transactions can share
// one listening socket the way §4.D's shell multiplexer shares one socket
// across sessions; see responder.go.
type transport interface {
	SendBytesTo(data []byte, addr *net.UDPAddr) error
	RecvWithTimeout(timeout time.Duration) (*datagram.RecvResult, error)
}

// mailboxTransport adapts a per-transaction inbox fed by a shared dispatch
// loop to the transport interface, so the same state-machine code drives
// both a lone CLI socket and a daemon's many concurrent transactions.
type mailboxTransport struct {
	out   *datagram.Socket
	peer  *net.UDPAddr
	inbox chan []byte
}

func (m *mailboxTransport) SendBytesTo(data []byte, addr *net.UDPAddr) error {
	return m.out.SendBytesTo(data, addr)
}

func (m *mailboxTransport) RecvWithTimeout(timeout time.Duration) (*datagram.RecvResult, error) {
	select {
	case data, ok := <-m.inbox:
		if !ok {
			return nil, errs.New(errs.KindTransport, "transaction mailbox closed")
		}
		return &datagram.RecvResult{Data: data, From: m.peer}, nil
	case <-time.After(timeout):
		return nil, errs.Timeout("no datagram within requested duration")
	}
}
