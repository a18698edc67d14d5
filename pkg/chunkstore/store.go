// Package chunkstore implements the content-addressed chunk store of §3/§4.B:
// a directory hierarchy rooted at a configured storage prefix, keyed by the
// BLAKE2s hash of a file's contents, storing fixed-size transfer chunks plus
// a small meta file recording chunk count and POSIX mode bits.
package chunkstore

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/opensat/satcore/pkg/constants"
	"github.com/opensat/satcore/pkg/errs"
)

// DefaultTransferChunkSize is the default on-disk/on-wire chunk size (§3).
const DefaultTransferChunkSize = constants.DefaultTransferChunkSize

// DefaultHashChunkSize is the default streaming buffer size used while
// hashing a source file; distinct from the transfer chunk size (§3).
const DefaultHashChunkSize = constants.DefaultHashChunkSize

// Store is a content-addressed chunk store rooted at Prefix.
type Store struct {
	Prefix            string
	TransferChunkSize int
	HashChunkSize     int
	log               hclog.Logger
}

// New creates a Store rooted at prefix, creating the directory if it is
// missing (§9, "give it explicit initialisation... no teardown").
func New(prefix string, transferChunkSize, hashChunkSize int) (*Store, error) {
	if transferChunkSize <= 0 {
		transferChunkSize = DefaultTransferChunkSize
	}
	if hashChunkSize <= 0 {
		hashChunkSize = DefaultHashChunkSize
	}
	if err := os.MkdirAll(prefix, 0o755); err != nil {
		return nil, errs.Wrap(errs.KindStorage, "create storage prefix", err)
	}
	return &Store{
		Prefix:            prefix,
		TransferChunkSize: transferChunkSize,
		HashChunkSize:     hashChunkSize,
		log:               hclog.Default().Named("chunkstore"),
	}, nil
}

func (s *Store) dir(hash string) string {
	return filepath.Join(s.Prefix, hash)
}

func (s *Store) chunkPath(hash string, index uint32) string {
	return filepath.Join(s.dir(hash), strconv.FormatUint(uint64(index), 10))
}

func (s *Store) metaPath(hash string) string {
	return filepath.Join(s.dir(hash), "meta")
}

// InitializeFile streams path, splits it into TransferChunkSize chunks,
// hashes it with BLAKE2s, writes every chunk and the meta file, and returns
// the resulting (hash, num_chunks, mode). Re-running on the same source is
// idempotent: same hash, chunk files overwritten with identical content.
func (s *Store) InitializeFile(path string) (hash string, numChunks uint32, mode uint32, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, 0, errs.Wrap(errs.KindStorage, "open source file", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", 0, 0, errs.Wrap(errs.KindStorage, "stat source file", err)
	}
	mode = uint32(info.Mode().Perm())

	hash, err = hashReader(f, s.HashChunkSize)
	if err != nil {
		return "", 0, 0, errs.Wrap(errs.KindStorage, "hash source file", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", 0, 0, errs.Wrap(errs.KindStorage, "rewind source file", err)
	}

	if err := os.MkdirAll(s.dir(hash), 0o755); err != nil {
		return "", 0, 0, errs.Wrap(errs.KindStorage, "create hash directory", err)
	}

	buf := make([]byte, s.TransferChunkSize)
	var index uint32
	for {
		n, rerr := io.ReadFull(f, buf)
		if n > 0 {
			if err := s.StoreChunk(hash, index, buf[:n]); err != nil {
				return "", 0, 0, err
			}
			index++
		}
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			break
		}
		if rerr != nil {
			return "", 0, 0, errs.Wrap(errs.KindStorage, "read source file", rerr)
		}
	}

	// Zero-byte file: one chunk of length 0 (§8, boundary behaviours).
	if index == 0 {
		if err := s.StoreChunk(hash, 0, []byte{}); err != nil {
			return "", 0, 0, err
		}
		index = 1
	}

	if err := s.StoreMeta(hash, index, mode); err != nil {
		return "", 0, 0, err
	}

	s.log.Debug("initialized file", "hash", hash, "num_chunks", index, "mode", mode)
	return hash, index, mode, nil
}

// StoreChunk writes one chunk, creating the hash directory if absent.
// Writing an existing correct chunk is a no-op in effect (idempotent).
func (s *Store) StoreChunk(hash string, index uint32, data []byte) error {
	if err := os.MkdirAll(s.dir(hash), 0o755); err != nil {
		return errs.Wrap(errs.KindStorage, "create hash directory", err)
	}
	tmp := s.chunkPath(hash, index) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errs.Wrap(errs.KindStorage, "write chunk", err)
	}
	if err := os.Rename(tmp, s.chunkPath(hash, index)); err != nil {
		return errs.Wrap(errs.KindStorage, "commit chunk", err)
	}
	return nil
}

// LoadChunk reads one chunk, or fails with a Storage NotFound error.
func (s *Store) LoadChunk(hash string, index uint32) ([]byte, error) {
	data, err := os.ReadFile(s.chunkPath(hash, index))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.NotFound(fmt.Sprintf("chunk %d of %s not found", index, hash))
		}
		return nil, errs.Wrap(errs.KindStorage, "read chunk", err)
	}
	return data, nil
}

// StoreMeta writes the meta file: "<num_chunks> <mode>\n" (§6).
func (s *Store) StoreMeta(hash string, numChunks uint32, mode uint32) error {
	if err := os.MkdirAll(s.dir(hash), 0o755); err != nil {
		return errs.Wrap(errs.KindStorage, "create hash directory", err)
	}
	content := fmt.Sprintf("%d %d\n", numChunks, mode)
	if err := os.WriteFile(s.metaPath(hash), []byte(content), 0o644); err != nil {
		return errs.Wrap(errs.KindStorage, "write meta", err)
	}
	return nil
}

// LoadMeta reads the meta file back into (num_chunks, mode).
func (s *Store) LoadMeta(hash string) (numChunks uint32, mode uint32, err error) {
	data, err := os.ReadFile(s.metaPath(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, 0, errs.NotFound(fmt.Sprintf("meta for %s not found", hash))
		}
		return 0, 0, errs.Wrap(errs.KindStorage, "read meta", err)
	}
	fields := strings.Fields(string(data))
	if len(fields) != 2 {
		return 0, 0, errs.New(errs.KindStorage, fmt.Sprintf("malformed meta for %s", hash))
	}
	n, err1 := strconv.ParseUint(fields[0], 10, 32)
	m, err2 := strconv.ParseUint(fields[1], 10, 32)
	if err1 != nil || err2 != nil {
		return 0, 0, errs.New(errs.KindStorage, fmt.Sprintf("malformed meta for %s", hash))
	}
	return uint32(n), uint32(m), nil
}

// LocalSync enumerates indices 0..numChunks and reports whether the store is
// complete for hash, grouping absent indices into consecutive half-open runs
// (§4.B, §8 invariant 3). Only a chunk file's existence is checked per index;
// when every chunk is present but the re-hash does not match, the whole range
// [0, numChunks) is reported missing.
func (s *Store) LocalSync(hash string, numChunks uint32) (complete bool, missing []Run, err error) {
	var runs []Run
	var runStart uint32
	inRun := false

	for i := uint32(0); i < numChunks; i++ {
		_, statErr := os.Stat(s.chunkPath(hash, i))
		present := statErr == nil
		if !present {
			if !inRun {
				runStart = i
				inRun = true
			}
			continue
		}
		if inRun {
			runs = append(runs, Run{Start: runStart, End: i})
			inRun = false
		}
	}
	if inRun {
		runs = append(runs, Run{Start: runStart, End: numChunks})
	}

	if len(runs) > 0 {
		return false, runs, nil
	}

	// All chunks present; verify the re-hash to catch silent corruption.
	got, err := hashChunks(func(index uint32) ([]byte, error) {
		return s.LoadChunk(hash, index)
	}, numChunks)
	if err != nil {
		return false, nil, err
	}
	if got != hash {
		// Treat the whole range as missing; the caller will re-request it.
		return false, []Run{{Start: 0, End: numChunks}}, nil
	}

	return true, nil, nil
}

// Finalize verifies the store is complete for hash, concatenates chunks
// 0..numChunks into targetPath, sets the file mode, then re-verifies the
// hash. It never returns success unless the on-disk bytes hash back to hash
// (§4.B invariant i).
func (s *Store) Finalize(hash, targetPath string, mode uint32, numChunks uint32) error {
	complete, missing, err := s.LocalSync(hash, numChunks)
	if err != nil {
		return err
	}
	if !complete {
		return errs.New(errs.KindStorage, fmt.Sprintf("cannot finalize %s: %d missing range(s)", hash, len(missing)))
	}

	tmp := targetPath + ".satcore-tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(mode)|0o200)
	if err != nil {
		return errs.Wrap(errs.KindStorage, "create target file", err)
	}

	for i := uint32(0); i < numChunks; i++ {
		data, err := s.LoadChunk(hash, i)
		if err != nil {
			out.Close()
			os.Remove(tmp)
			return err
		}
		if _, err := out.Write(data); err != nil {
			out.Close()
			os.Remove(tmp)
			return errs.Wrap(errs.KindStorage, "write target file", err)
		}
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return errs.Wrap(errs.KindStorage, "close target file", err)
	}
	if err := os.Chmod(tmp, os.FileMode(mode)); err != nil {
		os.Remove(tmp)
		return errs.Wrap(errs.KindStorage, "chmod target file", err)
	}

	got, err := hashFile(tmp, s.HashChunkSize)
	if err != nil {
		os.Remove(tmp)
		return err
	}
	if got != hash {
		// Fatal: partial tree preserved for diagnosis (§4.C, failure semantics).
		os.Remove(tmp)
		return errs.HashMismatch(hash)
	}

	if err := os.Rename(tmp, targetPath); err != nil {
		os.Remove(tmp)
		return errs.Wrap(errs.KindStorage, "commit target file", err)
	}
	return nil
}

func hashFile(path string, hashChunkSize int) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errs.Wrap(errs.KindStorage, "reopen target file for verification", err)
	}
	defer f.Close()
	return hashReader(f, hashChunkSize)
}

// Prune removes the directory tree for hash. A no-op on an already-absent
// hash (§8, idempotence laws).
func (s *Store) Prune(hash string) error {
	if err := os.RemoveAll(s.dir(hash)); err != nil {
		return errs.Wrap(errs.KindStorage, "prune hash directory", err)
	}
	return nil
}

// PruneAll empties the entire storage prefix.
func (s *Store) PruneAll() error {
	entries, err := os.ReadDir(s.Prefix)
	if err != nil {
		return errs.Wrap(errs.KindStorage, "list storage prefix", err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(s.Prefix, e.Name())); err != nil {
			return errs.Wrap(errs.KindStorage, "prune entry", err)
		}
	}
	return nil
}

// Run is a half-open missing-chunk range [Start, End), sorted and disjoint
// by construction (§8 invariant 3).
type Run struct {
	Start uint32
	End   uint32
}
