package shellmux

import (
	"io"
	"net"
	"os/exec"
	"sync"
	"syscall"

	"github.com/hashicorp/go-hclog"
	"github.com/opensat/satcore/pkg/errs"
	"github.com/opensat/satcore/pkg/wire"
)

// mailboxDepth bounds undelivered client messages per session; stdin past
// this while the child is wedged is dropped rather than queued unboundedly.
const mailboxDepth = 32

// outputReadSize is the per-read buffer for the stdout/stderr pumps. Kept
// well under the datagram ceiling so one read always fits one message.
const outputReadSize = 2048

// Session is one interactive child process keyed by a channel id: the
// process handle, its three pipes, the peer that spawned it, and the mailbox
// the dispatcher feeds with stdin/kill messages (§3, "Shell Session").
type Session struct {
	Channel uint32
	Path    string
	Args    []string
	Pid     int

	cmd   *exec.Cmd
	stdin io.WriteCloser

	mu   sync.Mutex
	peer *net.UDPAddr

	mailbox  chan *wire.ShellMessage
	outbound sender
	log      hclog.Logger
}

// sender is the one-way send surface a session needs; *datagram.Socket
// satisfies it, and tests can substitute a capture double.
type sender interface {
	SendBytesTo(data []byte, addr *net.UDPAddr) error
}

// spawn starts the child with its three pipes wired and returns the
// registered session. The caller owns putting it in the session map before
// any pump can race a removal.
func spawn(channel uint32, path string, args []string, peer *net.UDPAddr, out sender, log hclog.Logger) (*Session, error) {
	cmd := exec.Command(path, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errs.Wrap(errs.KindResourceExhaustion, "wire stdin pipe", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errs.Wrap(errs.KindResourceExhaustion, "wire stdout pipe", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, errs.Wrap(errs.KindResourceExhaustion, "wire stderr pipe", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, errs.Wrap(errs.KindResourceExhaustion, "start child process", err)
	}

	s := &Session{
		Channel:  channel,
		Path:     path,
		Args:     args,
		Pid:      cmd.Process.Pid,
		cmd:      cmd,
		stdin:    stdin,
		peer:     peer,
		mailbox:  make(chan *wire.ShellMessage, mailboxDepth),
		outbound: out,
		log:      log.With("channel", channel, "pid", cmd.Process.Pid),
	}
	go s.pumpOutput(stdout, wire.OpStdout)
	go s.pumpOutput(stderr, wire.OpStderr)
	return s, nil
}

func (s *Session) peerAddr() *net.UDPAddr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peer
}

func (s *Session) setPeer(addr *net.UDPAddr) {
	s.mu.Lock()
	s.peer = addr
	s.mu.Unlock()
}

// deliver enqueues a client message for the session loop. A full mailbox
// drops the message; the client's own pacing is the flow control.
func (s *Session) deliver(msg *wire.ShellMessage) {
	select {
	case s.mailbox <- msg:
	default:
		s.log.Warn("session mailbox full, dropping message", "op", msg.Op)
	}
}

// run services the mailbox until the child exits, then reports exit and asks
// the mux to forget the channel. Each session is one independent task; across
// channels there is no ordering (§5).
func (s *Session) run(m *Mux) {
	waitDone := make(chan struct{})
	go func() {
		s.cmd.Wait()
		close(waitDone)
	}()

	for {
		select {
		case msg := <-s.mailbox:
			s.handle(msg)
		case <-waitDone:
			s.reportExit()
			m.forget(s.Channel)
			return
		}
	}
}

func (s *Session) handle(msg *wire.ShellMessage) {
	switch msg.Op {
	case wire.OpStdin:
		if !msg.HasData {
			// Absent payload is EOF: close the child's stdin.
			if err := s.stdin.Close(); err != nil {
				s.log.Warn("stdin close failed", "error", err)
			}
			return
		}
		if _, err := s.stdin.Write([]byte(msg.Data)); err != nil {
			s.log.Warn("stdin write failed", "error", err)
		}
	case wire.OpKill:
		sig := syscall.SIGKILL
		if msg.HasKill {
			sig = syscall.Signal(msg.Signal)
		}
		if err := s.cmd.Process.Signal(sig); err != nil {
			s.log.Warn("signal delivery failed", "signal", sig, "error", err)
		}
	}
}

// pumpOutput forwards one child output stream to the peer, chunk by chunk,
// then signals EOF with a payload-less message. Bytes within one stream keep
// producer order because a single goroutine owns the read side (§5).
func (s *Session) pumpOutput(r io.Reader, op wire.ShellOp) {
	buf := make([]byte, outputReadSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			s.send(op, string(buf[:n]), false)
		}
		if err != nil {
			s.send(op, "", true)
			return
		}
	}
}

func (s *Session) send(op wire.ShellOp, data string, eof bool) {
	var encoded []byte
	var err error
	switch op {
	case wire.OpStdout:
		encoded, err = wire.EncodeStdout(s.Channel, data, eof)
	case wire.OpStderr:
		encoded, err = wire.EncodeStderr(s.Channel, data, eof)
	}
	if err != nil {
		s.log.Warn("encode output failed", "op", op, "error", err)
		return
	}
	if err := s.sendRaw(encoded); err != nil {
		s.log.Warn("output send failed", "op", op, "error", err)
	}
}

func (s *Session) sendRaw(data []byte) error {
	return s.outbound.SendBytesTo(data, s.peerAddr())
}

func (s *Session) reportExit() {
	code := 0
	var sig *int
	if ps := s.cmd.ProcessState; ps != nil {
		if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			n := int(ws.Signal())
			sig = &n
			code = 128 + n
		} else {
			code = ps.ExitCode()
		}
	}
	encoded, err := wire.EncodeExit(s.Channel, code, sig)
	if err != nil {
		s.log.Warn("encode exit failed", "error", err)
		return
	}
	if err := s.sendRaw(encoded); err != nil {
		s.log.Warn("exit send failed", "error", err)
	}
	s.log.Info("child exited", "code", code)
}
