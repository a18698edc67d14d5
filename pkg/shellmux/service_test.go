package shellmux

import (
	"context"
	"net"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/opensat/satcore/pkg/datagram"
	"github.com/opensat/satcore/pkg/wire"
)

func startMux(t *testing.T) (*Mux, *datagram.Socket, *net.UDPAddr) {
	t.Helper()
	svcSock, err := datagram.Listen("127.0.0.1:0", 0)
	if err != nil {
		t.Fatalf("bind service socket: %v", err)
	}
	t.Cleanup(func() { svcSock.Close() })

	clientSock, err := datagram.Listen("127.0.0.1:0", 0)
	if err != nil {
		t.Fatalf("bind client socket: %v", err)
	}
	t.Cleanup(func() { clientSock.Close() })

	mux := New(svcSock)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go mux.Run(ctx)

	return mux, clientSock, svcSock.LocalAddr().(*net.UDPAddr)
}

func sendShell(t *testing.T, sock *datagram.Socket, to *net.UDPAddr, data []byte, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if serr := sock.SendBytesTo(data, to); serr != nil {
		t.Fatalf("send: %v", serr)
	}
}

func recvShell(t *testing.T, sock *datagram.Socket, timeout time.Duration) *wire.ShellMessage {
	t.Helper()
	res, err := sock.RecvWithTimeout(timeout)
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	msg, err := wire.DecodeShellMessage(res.Data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return msg
}

func TestSpawnEchoKill(t *testing.T) {
	mux, client, svcAddr := startMux(t)

	const channel = 42
	data, err := wire.EncodeSpawn(channel, "/bin/sh", nil)
	sendShell(t, client, svcAddr, data, err)

	pidMsg := recvShell(t, client, 5*time.Second)
	if pidMsg.Op != wire.OpPid || pidMsg.Channel != channel {
		t.Fatalf("expected pid reply on channel %d, got %+v", channel, pidMsg)
	}
	if pidMsg.Pid <= 0 {
		t.Fatalf("expected positive pid, got %d", pidMsg.Pid)
	}

	data, err = wire.EncodeStdin(channel, "echo hi\n", false)
	sendShell(t, client, svcAddr, data, err)

	var stdout strings.Builder
	deadline := time.Now().Add(5 * time.Second)
	for !strings.Contains(stdout.String(), "hi\n") {
		if time.Now().After(deadline) {
			t.Fatalf("never saw echo output, got %q", stdout.String())
		}
		msg := recvShell(t, client, time.Second)
		if msg.Op == wire.OpStdout && msg.HasData {
			stdout.WriteString(msg.Data)
		}
	}

	data, err = wire.EncodeKill(channel, nil)
	sendShell(t, client, svcAddr, data, err)

	var exit *wire.ShellMessage
	deadline = time.Now().Add(5 * time.Second)
	for exit == nil {
		if time.Now().After(deadline) {
			t.Fatalf("never saw exit message")
		}
		msg := recvShell(t, client, time.Second)
		if msg.Op == wire.OpExit && msg.Channel == channel {
			exit = msg
		}
	}
	if !exit.HasSignal || exit.ExitSignal != int(syscall.SIGKILL) {
		t.Fatalf("expected exit by SIGKILL, got %+v", exit)
	}

	// The session task removes itself after reporting exit.
	deadline = time.Now().Add(2 * time.Second)
	for len(mux.ActiveChannels()) != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("session not removed after exit: %v", mux.ActiveChannels())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStdinEOFEndsChild(t *testing.T) {
	_, client, svcAddr := startMux(t)

	const channel = 7
	data, err := wire.EncodeSpawn(channel, "/bin/cat", nil)
	sendShell(t, client, svcAddr, data, err)
	if msg := recvShell(t, client, 5*time.Second); msg.Op != wire.OpPid {
		t.Fatalf("expected pid reply, got %+v", msg)
	}

	// EOF is a stdin message with no payload; cat exits cleanly on it.
	data, err = wire.EncodeStdin(channel, "", true)
	sendShell(t, client, svcAddr, data, err)

	deadline := time.Now().Add(5 * time.Second)
	for {
		if time.Now().After(deadline) {
			t.Fatalf("never saw exit after stdin EOF")
		}
		msg := recvShell(t, client, time.Second)
		if msg.Op == wire.OpExit && msg.Channel == channel {
			if msg.ExitCode != 0 {
				t.Fatalf("expected clean exit, got code %d", msg.ExitCode)
			}
			return
		}
	}
}

func TestUnknownChannelGetsError(t *testing.T) {
	_, client, svcAddr := startMux(t)

	data, err := wire.EncodeStdin(99, "anyone there?\n", false)
	sendShell(t, client, svcAddr, data, err)

	msg := recvShell(t, client, 5*time.Second)
	if msg.Op != wire.OpError || msg.Channel != 99 {
		t.Fatalf("expected error reply on channel 99, got %+v", msg)
	}
	if !strings.Contains(msg.Message, "No session found on channel 99") {
		t.Fatalf("unexpected error text %q", msg.Message)
	}
}

func TestListReflectsLiveSessions(t *testing.T) {
	_, client, svcAddr := startMux(t)

	data, err := wire.EncodeSpawn(3, "/bin/cat", nil)
	sendShell(t, client, svcAddr, data, err)
	if msg := recvShell(t, client, 5*time.Second); msg.Op != wire.OpPid {
		t.Fatalf("expected pid reply, got %+v", msg)
	}

	data, err = wire.EncodeListRequest()
	sendShell(t, client, svcAddr, data, err)

	msg := recvShell(t, client, 5*time.Second)
	if msg.Op != wire.OpList {
		t.Fatalf("expected list response, got %+v", msg)
	}
	if len(msg.Entries) != 1 || msg.Entries[0].Channel != 3 || msg.Entries[0].Path != "/bin/cat" {
		t.Fatalf("unexpected list entries %+v", msg.Entries)
	}
	if msg.Entries[0].Pid <= 0 {
		t.Fatalf("expected positive pid in list entry")
	}

	data, err = wire.EncodeKill(3, nil)
	sendShell(t, client, svcAddr, data, err)
}
