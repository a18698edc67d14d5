package datagram

import (
	"net"
	"testing"
	"time"

	"github.com/opensat/satcore/pkg/errs"
	"github.com/opensat/satcore/pkg/wire"
)

func TestSendRecvRoundTrip(t *testing.T) {
	a, err := Listen("127.0.0.1:0", 0)
	if err != nil {
		t.Fatalf("bind a: %v", err)
	}
	defer a.Close()
	b, err := Listen("127.0.0.1:0", 0)
	if err != nil {
		t.Fatalf("bind b: %v", err)
	}
	defer b.Close()

	msg := []interface{}{"hash", uint32(6)}
	if err := a.SendTo(msg, b.LocalAddr().(*net.UDPAddr)); err != nil {
		t.Fatalf("send: %v", err)
	}

	res, err := b.RecvWithTimeout(2 * time.Second)
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	arr, err := wire.DecodeArray(res.Data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(arr) != 2 || arr[0] != "hash" {
		t.Fatalf("round-trip mangled: %v", arr)
	}
	if res.From.Port != a.LocalAddr().(*net.UDPAddr).Port {
		t.Fatalf("sender address not reported")
	}
}

func TestRecvTimesOut(t *testing.T) {
	s, err := Listen("127.0.0.1:0", 0)
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	defer s.Close()

	start := time.Now()
	_, err = s.RecvWithTimeout(100 * time.Millisecond)
	if err == nil {
		t.Fatalf("expected timeout")
	}
	if !errs.Is(err, errs.KindTransport) {
		t.Fatalf("expected Transport kind, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("timeout took too long")
	}
}

func TestSendRejectsOversizedMessage(t *testing.T) {
	s, err := Listen("127.0.0.1:0", 64)
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	defer s.Close()

	big := make([]byte, 128)
	err = s.SendBytesTo(big, s.LocalAddr().(*net.UDPAddr))
	if err == nil {
		t.Fatalf("expected oversize rejection")
	}
	if !errs.Is(err, errs.KindTransport) {
		t.Fatalf("expected Transport kind, got %v", err)
	}
}
