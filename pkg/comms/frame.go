// Package comms implements the communications service of §4.E: the bridge
// between a radio gateway and the local UDP plane. Inside the radio's outer
// transport each payload is a self-contained UDP datagram, an 8-byte header
// plus payload, checksummed over the IPv4 pseudo-header.
package comms

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/opensat/satcore/pkg/constants"
	"github.com/opensat/satcore/pkg/errs"
)

// MaxFrameSize is the largest inner frame the radio path carries:
// 65 535 minus 20 (IP) minus 8 (UDP) minus 8 (outer) bytes.
const MaxFrameSize = constants.MaxRadioFrame

// udpHeaderLen is the fixed UDP header inside every radio frame.
const udpHeaderLen = 8

// Packet is a decoded inner frame: the UDP header fields plus payload.
type Packet struct {
	SourcePort uint16
	DestPort   uint16
	Checksum   uint16
	Payload    []byte
}

// BuildFrame wraps payload in a UDP header addressed src→dst and computes
// the checksum over the pseudo-header for srcIP/dstIP (§8 property 4:
// build-then-parse-and-verify yields the payload back).
func BuildFrame(payload []byte, srcPort, dstPort uint16, srcIP, dstIP net.IP) ([]byte, error) {
	total := udpHeaderLen + len(payload)
	if total > MaxFrameSize {
		return nil, errs.New(errs.KindTransport, fmt.Sprintf("frame %d bytes exceeds radio maximum %d", total, MaxFrameSize))
	}
	frame := make([]byte, total)
	binary.BigEndian.PutUint16(frame[0:2], srcPort)
	binary.BigEndian.PutUint16(frame[2:4], dstPort)
	binary.BigEndian.PutUint16(frame[4:6], uint16(total))
	binary.BigEndian.PutUint16(frame[6:8], 0)
	copy(frame[udpHeaderLen:], payload)

	sum := udpChecksum(frame, srcIP, dstIP)
	binary.BigEndian.PutUint16(frame[6:8], sum)
	return frame, nil
}

// ParseFrame decodes the UDP header of an inner frame. It validates the
// header shape and length field only; checksum verification is separate so
// the caller can count the two failure modes apart.
func ParseFrame(frame []byte) (*Packet, error) {
	if len(frame) < udpHeaderLen {
		return nil, errs.New(errs.KindDecode, fmt.Sprintf("frame %d bytes is shorter than a UDP header", len(frame)))
	}
	length := binary.BigEndian.Uint16(frame[4:6])
	if int(length) != len(frame) {
		return nil, errs.New(errs.KindDecode, fmt.Sprintf("frame length field %d does not match %d received bytes", length, len(frame)))
	}
	return &Packet{
		SourcePort: binary.BigEndian.Uint16(frame[0:2]),
		DestPort:   binary.BigEndian.Uint16(frame[2:4]),
		Checksum:   binary.BigEndian.Uint16(frame[6:8]),
		Payload:    frame[udpHeaderLen:],
	}, nil
}

// VerifyChecksum recomputes the frame's checksum over the (srcIP, dstIP)
// pseudo-header and compares it to the transmitted value.
func VerifyChecksum(frame []byte, srcIP, dstIP net.IP) bool {
	if len(frame) < udpHeaderLen {
		return false
	}
	transmitted := binary.BigEndian.Uint16(frame[6:8])
	scratch := make([]byte, len(frame))
	copy(scratch, frame)
	binary.BigEndian.PutUint16(scratch[6:8], 0)
	return udpChecksum(scratch, srcIP, dstIP) == transmitted
}

// udpChecksum computes the standard IPv4 UDP checksum: ones'-complement sum
// of the pseudo-header (src IP, dst IP, zero, protocol 17, UDP length)
// followed by the UDP header and payload. The frame's checksum field must be
// zero when calling. An all-zero result is transmitted as 0xFFFF per RFC 768.
func udpChecksum(frame []byte, srcIP, dstIP net.IP) uint16 {
	var sum uint32

	add16 := func(b []byte) {
		for i := 0; i+1 < len(b); i += 2 {
			sum += uint32(binary.BigEndian.Uint16(b[i : i+2]))
		}
		if len(b)%2 == 1 {
			sum += uint32(b[len(b)-1]) << 8
		}
	}

	add16(srcIP.To4())
	add16(dstIP.To4())
	sum += 17
	sum += uint32(len(frame))
	add16(frame)

	for sum>>16 != 0 {
		sum = sum&0xffff + sum>>16
	}
	result := ^uint16(sum)
	if result == 0 {
		return 0xffff
	}
	return result
}
