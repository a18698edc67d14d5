package comms

import (
	"bytes"
	"net"
	"testing"
)

func TestBuildParseVerifyRoundTrip(t *testing.T) {
	sat := net.ParseIP("10.0.0.2")
	ground := net.ParseIP("192.0.2.1")

	testCases := []struct {
		name    string
		payload []byte
	}{
		{"empty payload", []byte{}},
		{"small payload", []byte{0, 1, 4, 5}},
		{"odd length payload", []byte("seven b")},
		{"all zero payload", make([]byte, 64)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			frame, err := BuildFrame(tc.payload, 8005, 8080, ground, sat)
			if err != nil {
				t.Fatalf("BuildFrame: %v", err)
			}
			packet, err := ParseFrame(frame)
			if err != nil {
				t.Fatalf("ParseFrame: %v", err)
			}
			if packet.SourcePort != 8005 || packet.DestPort != 8080 {
				t.Fatalf("ports mangled: %+v", packet)
			}
			if !bytes.Equal(packet.Payload, tc.payload) {
				t.Fatalf("payload mangled: got %v want %v", packet.Payload, tc.payload)
			}
			if !VerifyChecksum(frame, ground, sat) {
				t.Fatalf("checksum did not verify with the addresses it was built for")
			}
			if VerifyChecksum(frame, sat, ground) && !bytes.Equal(sat.To4(), ground.To4()) {
				t.Fatalf("checksum verified with swapped addresses")
			}
		})
	}
}

func TestVerifyChecksumDetectsTamper(t *testing.T) {
	sat := net.ParseIP("10.0.0.2")
	ground := net.ParseIP("192.0.2.1")
	frame, err := BuildFrame([]byte("telemetry"), 8005, 8080, ground, sat)
	if err != nil {
		t.Fatalf("BuildFrame: %v", err)
	}
	frame[len(frame)-1] ^= 0x01
	if VerifyChecksum(frame, ground, sat) {
		t.Fatalf("checksum verified a tampered frame")
	}
}

func TestParseFrameRejectsBadHeaders(t *testing.T) {
	if _, err := ParseFrame([]byte{1, 2, 3}); err == nil {
		t.Fatalf("expected error for truncated header")
	}

	sat := net.ParseIP("10.0.0.2")
	ground := net.ParseIP("192.0.2.1")
	frame, err := BuildFrame([]byte("data"), 1, 2, ground, sat)
	if err != nil {
		t.Fatalf("BuildFrame: %v", err)
	}
	if _, err := ParseFrame(frame[:len(frame)-1]); err == nil {
		t.Fatalf("expected error for length field mismatch")
	}
}

func TestBuildFrameRejectsOversize(t *testing.T) {
	sat := net.ParseIP("10.0.0.2")
	ground := net.ParseIP("192.0.2.1")
	if _, err := BuildFrame(make([]byte, MaxFrameSize), 1, 2, ground, sat); err == nil {
		t.Fatalf("expected error for payload past the radio maximum")
	}
}
