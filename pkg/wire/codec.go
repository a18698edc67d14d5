// Package wire implements the CBOR array message shapes that ride over the
// datagram substrate: file-protocol sync/metadata/chunk/ack/nak/control
// messages (§4.C) and shell-multiplexer spawn/stdio/exit/kill/list messages
// (§4.D). One CBOR array is one datagram (§4.A): there is no outer header,
// so encoding is just canonical array-of-values CBOR.
package wire

import (
	"github.com/opensat/satcore/pkg/codec/cborcanon"
)

// Marshal encodes v (normally a []interface{} message) to canonical CBOR.
// No message shape in this package carries a map, so arrays encode the same
// either way; one encoder for everything keeps the wire bytes reproducible.
func Marshal(v interface{}) ([]byte, error) {
	return cborcanon.Marshal(v)
}

// Unmarshal decodes CBOR bytes into v.
func Unmarshal(data []byte, v interface{}) error {
	return cborcanon.Unmarshal(data, v)
}

// DecodeArray decodes a single datagram into its raw CBOR array form so
// callers can dispatch on the length and type of the leading elements before
// committing to a concrete message struct.
func DecodeArray(data []byte) ([]interface{}, error) {
	var arr []interface{}
	if err := cborcanon.Unmarshal(data, &arr); err != nil {
		return nil, err
	}
	return arr, nil
}
