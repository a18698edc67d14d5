package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorFormatting(t *testing.T) {
	plain := New(KindStorage, "disk full")
	if plain.Error() != "Storage: disk full" {
		t.Fatalf("unexpected message %q", plain.Error())
	}

	cause := fmt.Errorf("write /x: no space left on device")
	wrapped := Wrap(KindStorage, "write chunk", cause)
	if wrapped.Error() != "Storage: write chunk: write /x: no space left on device" {
		t.Fatalf("unexpected message %q", wrapped.Error())
	}
	if !errors.Is(wrapped, cause) {
		t.Fatalf("wrapped cause not reachable via errors.Is")
	}
}

func TestKindMatching(t *testing.T) {
	err := fmt.Errorf("outer: %w", Timeout("no datagram"))
	if !Is(err, KindTransport) {
		t.Fatalf("Timeout should match KindTransport through wrapping")
	}
	if Is(err, KindIntegrity) {
		t.Fatalf("Transport error must not match KindIntegrity")
	}
	if Is(errors.New("plain"), KindTransport) {
		t.Fatalf("plain error must not match any kind")
	}
}

func TestRetryable(t *testing.T) {
	testCases := []struct {
		kind Kind
		want bool
	}{
		{KindTransport, true},
		{KindProtocol, true},
		{KindResourceExhaustion, true},
		{KindDecode, false},
		{KindStorage, false},
		{KindIntegrity, false},
	}
	for _, tc := range testCases {
		if got := New(tc.kind, "x").Retryable(); got != tc.want {
			t.Fatalf("%s: Retryable() = %v, want %v", tc.kind, got, tc.want)
		}
	}
}

func TestHashMismatchIsIntegrity(t *testing.T) {
	err := HashMismatch("abcd")
	if !Is(err, KindIntegrity) {
		t.Fatalf("HashMismatch should be an Integrity error")
	}
}
