package wire

import (
	"fmt"
)

// FileMsgKind identifies which shape in the §4.C wire table a FileMessage
// carries. The file protocol only ever sees one of these on the wire; the
// kind is inferred from the type of the leading array element(s), never
// carried explicitly, since a datagram is exactly the CBOR array itself.
type FileMsgKind int

const (
	// KindSync is [H]: "do you have anything for this hash?"
	KindSync FileMsgKind = iota
	// KindMetadata is [H, N]: announce num_chunks for this hash.
	KindMetadata
	// KindChunk is [H, I, bytes]: one data chunk.
	KindChunk
	// KindAck is [H, true, N]: receiver has all N chunks.
	KindAck
	// KindNak is [H, false, s1, e1, ...]: receiver is missing these ranges.
	KindNak
	// KindExportRequest is [C, "export", H, path, M?].
	KindExportRequest
	// KindImportRequest is [C, "import", path].
	KindImportRequest
	// KindCleanupRequest is [C, "cleanup", H?] (§12 supplement).
	KindCleanupRequest
	// KindSuccess is [C, true]: per-channel export success.
	KindSuccess
	// KindSuccessDescriptor is [C, true, H, N, M?]: import reply descriptor.
	KindSuccessDescriptor
	// KindFailure is [C, false, err_string]: per-channel failure.
	KindFailure
)

// Run is a half-open missing-chunk range [Start, End).
type Run struct {
	Start uint32
	End   uint32
}

// FileMessage is the decoded form of any §4.C wire message.
type FileMessage struct {
	Kind FileMsgKind

	Hash    string // H, present on Sync/Metadata/Chunk/Ack/Nak/ExportRequest/SuccessDescriptor
	Channel uint32 // C, present on control/channel-level messages

	NumChunks uint32  // N
	Mode      *uint32 // M, optional POSIX mode bits
	Index     uint32  // I, chunk index
	Data      []byte  // chunk bytes

	MissingRuns []Run // Nak payload

	Path string // export/import target path
	Err  string // failure reason
}

// EncodeSync builds [H].
func EncodeSync(hash string) ([]byte, error) {
	return Marshal([]interface{}{hash})
}

// EncodeMetadata builds [H, N].
func EncodeMetadata(hash string, numChunks uint32) ([]byte, error) {
	return Marshal([]interface{}{hash, numChunks})
}

// EncodeChunk builds [H, I, bytes].
func EncodeChunk(hash string, index uint32, data []byte) ([]byte, error) {
	return Marshal([]interface{}{hash, index, data})
}

// EncodeAck builds [H, true, N].
func EncodeAck(hash string, numChunks uint32) ([]byte, error) {
	return Marshal([]interface{}{hash, true, numChunks})
}

// EncodeNak builds [H, false, s1, e1, s2, e2, ...].
func EncodeNak(hash string, runs []Run) ([]byte, error) {
	arr := make([]interface{}, 0, 2+2*len(runs))
	arr = append(arr, hash, false)
	for _, r := range runs {
		arr = append(arr, r.Start, r.End)
	}
	return Marshal(arr)
}

// EncodeExportRequest builds [C, "export", H, path, M?].
func EncodeExportRequest(channel uint32, hash, path string, mode *uint32) ([]byte, error) {
	arr := []interface{}{channel, "export", hash, path}
	if mode != nil {
		arr = append(arr, *mode)
	}
	return Marshal(arr)
}

// EncodeImportRequest builds [C, "import", path].
func EncodeImportRequest(channel uint32, path string) ([]byte, error) {
	return Marshal([]interface{}{channel, "import", path})
}

// EncodeCleanupRequest builds [C, "cleanup", H?].
func EncodeCleanupRequest(channel uint32, hash string) ([]byte, error) {
	arr := []interface{}{channel, "cleanup"}
	if hash != "" {
		arr = append(arr, hash)
	}
	return Marshal(arr)
}

// EncodeSuccess builds [C, true].
func EncodeSuccess(channel uint32) ([]byte, error) {
	return Marshal([]interface{}{channel, true})
}

// EncodeSuccessDescriptor builds [C, true, H, N, M?].
func EncodeSuccessDescriptor(channel uint32, hash string, numChunks uint32, mode *uint32) ([]byte, error) {
	arr := []interface{}{channel, true, hash, numChunks}
	if mode != nil {
		arr = append(arr, *mode)
	}
	return Marshal(arr)
}

// EncodeFailure builds [C, false, err_string].
func EncodeFailure(channel uint32, errString string) ([]byte, error) {
	return Marshal([]interface{}{channel, false, errString})
}

// DecodeFileMessage parses a raw datagram into a FileMessage, dispatching
// on the type of arr[0]: a string is a hash-keyed transfer message, an
// integer a channel-keyed control message.
func DecodeFileMessage(data []byte) (*FileMessage, error) {
	arr, err := DecodeArray(data)
	if err != nil {
		return nil, fmt.Errorf("wire: not a CBOR array: %w", err)
	}
	if len(arr) == 0 {
		return nil, fmt.Errorf("wire: empty message")
	}

	if hash, ok := arr[0].(string); ok {
		return decodeHashKeyed(hash, arr[1:])
	}

	channel, ok := toUint32(arr[0])
	if !ok {
		return nil, fmt.Errorf("wire: first element is neither hash string nor channel id")
	}
	return decodeChannelKeyed(channel, arr[1:])
}

func decodeHashKeyed(hash string, rest []interface{}) (*FileMessage, error) {
	switch len(rest) {
	case 0:
		return &FileMessage{Kind: KindSync, Hash: hash}, nil
	case 1:
		n, ok := toUint32(rest[0])
		if !ok {
			return nil, fmt.Errorf("wire: metadata message num_chunks is not an integer")
		}
		return &FileMessage{Kind: KindMetadata, Hash: hash, NumChunks: n}, nil
	default:
		if b, ok := rest[0].(bool); ok {
			if b {
				n, ok := toUint32(rest[1])
				if !ok {
					return nil, fmt.Errorf("wire: ack message num_chunks is not an integer")
				}
				return &FileMessage{Kind: KindAck, Hash: hash, NumChunks: n}, nil
			}
			if len(rest)%2 != 1 {
				return nil, fmt.Errorf("wire: nak message has an unpaired range bound")
			}
			runs := make([]Run, 0, len(rest)/2)
			for i := 1; i < len(rest); i += 2 {
				s, ok1 := toUint32(rest[i])
				e, ok2 := toUint32(rest[i+1])
				if !ok1 || !ok2 {
					return nil, fmt.Errorf("wire: nak range bound is not an integer")
				}
				runs = append(runs, Run{Start: s, End: e})
			}
			return &FileMessage{Kind: KindNak, Hash: hash, MissingRuns: runs}, nil
		}

		index, ok := toUint32(rest[0])
		if !ok {
			return nil, fmt.Errorf("wire: chunk message index is not an integer")
		}
		b, ok := rest[1].([]byte)
		if !ok {
			return nil, fmt.Errorf("wire: chunk message data is not a byte string")
		}
		return &FileMessage{Kind: KindChunk, Hash: hash, Index: index, Data: b}, nil
	}
}

func decodeChannelKeyed(channel uint32, rest []interface{}) (*FileMessage, error) {
	if len(rest) == 0 {
		return nil, fmt.Errorf("wire: channel message has no operation")
	}

	if b, ok := rest[0].(bool); ok {
		if !b {
			if len(rest) < 2 {
				return nil, fmt.Errorf("wire: failure message missing error string")
			}
			errStr, ok := rest[1].(string)
			if !ok {
				return nil, fmt.Errorf("wire: failure message error is not a string")
			}
			return &FileMessage{Kind: KindFailure, Channel: channel, Err: errStr}, nil
		}
		if len(rest) == 1 {
			return &FileMessage{Kind: KindSuccess, Channel: channel}, nil
		}
		hash, ok := rest[1].(string)
		if !ok || len(rest) < 3 {
			return nil, fmt.Errorf("wire: success descriptor missing hash/num_chunks")
		}
		n, ok := toUint32(rest[2])
		if !ok {
			return nil, fmt.Errorf("wire: success descriptor num_chunks is not an integer")
		}
		msg := &FileMessage{Kind: KindSuccessDescriptor, Channel: channel, Hash: hash, NumChunks: n}
		if len(rest) > 3 {
			mode, ok := toUint32(rest[3])
			if !ok {
				return nil, fmt.Errorf("wire: success descriptor mode is not an integer")
			}
			msg.Mode = &mode
		}
		return msg, nil
	}

	op, ok := rest[0].(string)
	if !ok {
		return nil, fmt.Errorf("wire: channel message operation is not a string")
	}

	switch op {
	case "export":
		if len(rest) < 3 {
			return nil, fmt.Errorf("wire: export request missing hash/path")
		}
		hash, ok1 := rest[1].(string)
		path, ok2 := rest[2].(string)
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("wire: export request hash/path not strings")
		}
		msg := &FileMessage{Kind: KindExportRequest, Channel: channel, Hash: hash, Path: path}
		if len(rest) > 3 {
			mode, ok := toUint32(rest[3])
			if !ok {
				return nil, fmt.Errorf("wire: export request mode is not an integer")
			}
			msg.Mode = &mode
		}
		return msg, nil
	case "import":
		if len(rest) < 2 {
			return nil, fmt.Errorf("wire: import request missing path")
		}
		path, ok := rest[1].(string)
		if !ok {
			return nil, fmt.Errorf("wire: import request path is not a string")
		}
		return &FileMessage{Kind: KindImportRequest, Channel: channel, Path: path}, nil
	case "cleanup":
		msg := &FileMessage{Kind: KindCleanupRequest, Channel: channel}
		if len(rest) > 1 {
			hash, ok := rest[1].(string)
			if !ok {
				return nil, fmt.Errorf("wire: cleanup request hash is not a string")
			}
			msg.Hash = hash
		}
		return msg, nil
	default:
		return nil, fmt.Errorf("wire: unknown channel operation %q", op)
	}
}

// toUint32 converts the CBOR-decoded numeric interface value (uint64/int64/
// uint32/int depending on the decoder's preferred integer type) to a uint32.
func toUint32(v interface{}) (uint32, bool) {
	switch n := v.(type) {
	case uint64:
		return uint32(n), true
	case uint32:
		return n, true
	case uint:
		return uint32(n), true
	case int64:
		if n < 0 {
			return 0, false
		}
		return uint32(n), true
	case int:
		if n < 0 {
			return 0, false
		}
		return uint32(n), true
	default:
		return 0, false
	}
}
