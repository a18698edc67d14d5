// Package shellmux implements the remote-shell channel multiplexer of §4.D:
// many concurrent interactive shell sessions over a single datagram socket,
// each session an independent child process with its own stdio pumps, all
// demultiplexed by channel id from one receive loop.
package shellmux

import (
	"context"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/opensat/satcore/pkg/datagram"
	"github.com/opensat/satcore/pkg/wire"
)

// Mux is the shell service: one listening socket, one dispatch loop, and a
// mutex-protected session table keyed by channel id (§5, shared resources).
type Mux struct {
	sock *datagram.Socket
	log  hclog.Logger

	mu       sync.Mutex
	sessions map[uint32]*Session
}

// New builds a shell multiplexer over an already-bound socket.
func New(sock *datagram.Socket) *Mux {
	return &Mux{
		sock:     sock,
		log:      hclog.Default().Named("shellmux"),
		sessions: make(map[uint32]*Session),
	}
}

// Run receives datagrams until ctx is cancelled. Malformed datagrams are
// dropped and logged; an op on an unknown channel, or a spawn that fails, is
// answered with an error message rather than silence (§4.D).
func (m *Mux) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := m.sock.RecvWithTimeout(time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		msg, derr := wire.DecodeShellMessage(res.Data)
		if derr != nil {
			m.log.Warn("dropping malformed datagram", "from", res.From, "error", derr)
			continue
		}
		m.dispatch(msg, res.From)
	}
}

func (m *Mux) dispatch(msg *wire.ShellMessage, from *net.UDPAddr) {
	switch msg.Op {
	case wire.OpSpawn:
		m.handleSpawn(msg, from)
	case wire.OpList:
		m.handleList(from)
	default:
		m.mu.Lock()
		s, ok := m.sessions[msg.Channel]
		m.mu.Unlock()
		if !ok {
			m.sendError(msg.Channel, from, fmt.Sprintf("No session found on channel %d", msg.Channel))
			return
		}
		s.setPeer(from)
		s.deliver(msg)
	}
}

// handleSpawn starts a child on an unused channel and replies with its pid.
// A spawn on a live channel is a warning with no side effect (§4.D).
func (m *Mux) handleSpawn(msg *wire.ShellMessage, from *net.UDPAddr) {
	m.mu.Lock()
	if _, exists := m.sessions[msg.Channel]; exists {
		m.mu.Unlock()
		m.log.Warn("spawn on channel already in use", "channel", msg.Channel)
		return
	}
	m.mu.Unlock()

	s, err := spawn(msg.Channel, msg.Path, msg.Args, from, m.sock, m.log)
	if err != nil {
		m.log.Error("spawn failed", "channel", msg.Channel, "path", msg.Path, "error", err)
		m.sendError(msg.Channel, from, err.Error())
		return
	}

	m.mu.Lock()
	m.sessions[msg.Channel] = s
	m.mu.Unlock()
	go s.run(m)

	encoded, err := wire.EncodePid(msg.Channel, s.Pid)
	if err != nil {
		m.log.Warn("encode pid failed", "error", err)
		return
	}
	if err := m.sock.SendBytesTo(encoded, from); err != nil {
		m.log.Warn("pid send failed", "channel", msg.Channel, "error", err)
	}
	m.log.Info("spawned session", "channel", msg.Channel, "path", msg.Path, "pid", s.Pid)
}

// handleList answers with every live session's channel, command path, and
// pid. The table reflects reality at query time (§4.D, partial failure).
func (m *Mux) handleList(from *net.UDPAddr) {
	m.mu.Lock()
	entries := make([]wire.ListEntry, 0, len(m.sessions))
	for _, s := range m.sessions {
		entries = append(entries, wire.ListEntry{Channel: s.Channel, Path: s.Path, Pid: s.Pid})
	}
	m.mu.Unlock()
	sort.Slice(entries, func(i, j int) bool { return entries[i].Channel < entries[j].Channel })

	encoded, err := wire.EncodeListResponse(entries)
	if err != nil {
		m.log.Warn("encode list response failed", "error", err)
		return
	}
	if err := m.sock.SendBytesTo(encoded, from); err != nil {
		m.log.Warn("list send failed", "error", err)
	}
}

func (m *Mux) sendError(channel uint32, to *net.UDPAddr, text string) {
	encoded, err := wire.EncodeError(channel, text)
	if err != nil {
		return
	}
	if err := m.sock.SendBytesTo(encoded, to); err != nil {
		m.log.Warn("error send failed", "channel", channel, "error", err)
	}
}

// forget removes a finished session from the table; called by the session's
// own task after it reports exit.
func (m *Mux) forget(channel uint32) {
	m.mu.Lock()
	delete(m.sessions, channel)
	m.mu.Unlock()
}

// ActiveChannels returns the channels with a live session, for tests and the
// service's own introspection.
func (m *Mux) ActiveChannels() []uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]uint32, 0, len(m.sessions))
	for ch := range m.sessions {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
