package chunkstore

import (
	"encoding/hex"
	"io"

	"golang.org/x/crypto/blake2s"
)

// hashReader streams r through BLAKE2s, chunkSize bytes at a time, and
// returns the lowercase hex digest. Chunking for storage happens in
// store.go; this just needs the final digest.
func hashReader(r io.Reader, chunkSize int) (string, error) {
	h, err := blake2s.New256(nil)
	if err != nil {
		return "", err
	}
	buf := make([]byte, chunkSize)
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			if _, werr := h.Write(buf[:n]); werr != nil {
				return "", werr
			}
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// hashChunks hashes chunkCount chunks, each of length chunkSize (the last one
// possibly shorter), read lazily via load, and returns the lowercase hex
// digest. Used by finalize/local_sync-style re-hash checks where chunks
// already live on disk rather than in a single source file.
func hashChunks(load func(index uint32) ([]byte, error), chunkCount uint32) (string, error) {
	h, err := blake2s.New256(nil)
	if err != nil {
		return "", err
	}
	for i := uint32(0); i < chunkCount; i++ {
		data, err := load(i)
		if err != nil {
			return "", err
		}
		if _, err := h.Write(data); err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
