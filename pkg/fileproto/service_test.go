package fileproto

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/opensat/satcore/pkg/chunkstore"
	"github.com/opensat/satcore/pkg/datagram"
	"github.com/opensat/satcore/pkg/wire"
)

func writeFile(t *testing.T, path string, data []byte, mode os.FileMode) {
	t.Helper()
	if err := os.WriteFile(path, data, mode); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	// Ensure the mode sticks regardless of umask.
	if err := os.Chmod(path, mode); err != nil {
		t.Fatalf("chmod %s: %v", path, err)
	}
}

func assertFileEquals(t *testing.T, path string, want []byte) {
	t.Helper()
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("%s: got %d bytes, want %d", path, len(got), len(want))
	}
}

// startFileService runs a responder daemon on loopback and returns its
// address plus its backing store.
func startFileService(t *testing.T) (*net.UDPAddr, *chunkstore.Store) {
	t.Helper()
	store := newStore(t)
	sock, err := datagram.Listen("127.0.0.1:0", 2048)
	if err != nil {
		t.Fatalf("bind service socket: %v", err)
	}
	t.Cleanup(func() { sock.Close() })

	svc := NewService(NewEngine(store, fastConfig()), sock)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go svc.Run(ctx)

	return sock.LocalAddr().(*net.UDPAddr), store
}

func clientSocket(t *testing.T) *datagram.Socket {
	t.Helper()
	sock, err := datagram.Listen("127.0.0.1:0", 2048)
	if err != nil {
		t.Fatalf("bind client socket: %v", err)
	}
	t.Cleanup(func() { sock.Close() })
	return sock
}

func TestUploadEndToEnd(t *testing.T) {
	svcAddr, _ := startFileService(t)
	sock := clientSocket(t)

	dir := t.TempDir()
	source := []byte("download_single")
	srcPath := filepath.Join(dir, "source")
	writeFile(t, srcPath, source, 0o640)
	target := filepath.Join(dir, "uploaded")

	engine := NewEngine(newStore(t), fastConfig())
	if err := engine.Upload(context.Background(), sock, svcAddr, wire.MintChannelID(), srcPath, target); err != nil {
		t.Fatalf("Upload: %v", err)
	}

	assertFileEquals(t, target, source)
	info, err := os.Stat(target)
	if err != nil {
		t.Fatalf("stat target: %v", err)
	}
	if info.Mode().Perm() != 0o640 {
		t.Fatalf("mode not preserved: got %o", info.Mode().Perm())
	}
}

func TestUploadMultiChunkEndToEnd(t *testing.T) {
	svcAddr, _ := startFileService(t)
	sock := clientSocket(t)

	dir := t.TempDir()
	source := bytes.Repeat([]byte{0xAB}, 6000)
	srcPath := filepath.Join(dir, "source")
	writeFile(t, srcPath, source, 0o600)
	target := filepath.Join(dir, "uploaded")

	engine := NewEngine(newStore(t), fastConfig())
	if err := engine.Upload(context.Background(), sock, svcAddr, wire.MintChannelID(), srcPath, target); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	assertFileEquals(t, target, source)
}

func TestDownloadEndToEnd(t *testing.T) {
	svcAddr, _ := startFileService(t)
	sock := clientSocket(t)

	dir := t.TempDir()
	source := bytes.Repeat([]byte{0x5C}, 4500)
	remotePath := filepath.Join(dir, "remote")
	writeFile(t, remotePath, source, 0o640)
	localPath := filepath.Join(dir, "local")

	engine := NewEngine(newStore(t), fastConfig())
	if err := engine.Download(context.Background(), sock, svcAddr, wire.MintChannelID(), remotePath, localPath); err != nil {
		t.Fatalf("Download: %v", err)
	}

	assertFileEquals(t, localPath, source)
	info, err := os.Stat(localPath)
	if err != nil {
		t.Fatalf("stat local: %v", err)
	}
	if info.Mode().Perm() != 0o640 {
		t.Fatalf("mode not preserved: got %o", info.Mode().Perm())
	}
}

func TestUploadThenDownloadRoundTrip(t *testing.T) {
	svcAddr, _ := startFileService(t)

	dir := t.TempDir()
	source := bytes.Repeat([]byte("round trip "), 300)
	srcPath := filepath.Join(dir, "source")
	writeFile(t, srcPath, source, 0o640)
	remote := filepath.Join(dir, "remote")
	back := filepath.Join(dir, "back")

	upEngine := NewEngine(newStore(t), fastConfig())
	if err := upEngine.Upload(context.Background(), clientSocket(t), svcAddr, wire.MintChannelID(), srcPath, remote); err != nil {
		t.Fatalf("Upload: %v", err)
	}

	downEngine := NewEngine(newStore(t), fastConfig())
	if err := downEngine.Download(context.Background(), clientSocket(t), svcAddr, wire.MintChannelID(), remote, back); err != nil {
		t.Fatalf("Download: %v", err)
	}
	assertFileEquals(t, back, source)
}

func TestZeroByteUpload(t *testing.T) {
	svcAddr, _ := startFileService(t)
	sock := clientSocket(t)

	dir := t.TempDir()
	srcPath := filepath.Join(dir, "empty")
	writeFile(t, srcPath, []byte{}, 0o644)
	target := filepath.Join(dir, "uploaded")

	engine := NewEngine(newStore(t), fastConfig())
	if err := engine.Upload(context.Background(), sock, svcAddr, wire.MintChannelID(), srcPath, target); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	assertFileEquals(t, target, []byte{})
}

func TestUploadToUnwritableTargetReportsFailure(t *testing.T) {
	svcAddr, _ := startFileService(t)
	sock := clientSocket(t)

	dir := t.TempDir()
	srcPath := filepath.Join(dir, "source")
	writeFile(t, srcPath, []byte("doomed"), 0o640)
	target := filepath.Join(dir, "no-such-dir", "uploaded")

	engine := NewEngine(newStore(t), fastConfig())
	err := engine.Upload(context.Background(), sock, svcAddr, wire.MintChannelID(), srcPath, target)
	if err == nil {
		t.Fatalf("expected channel failure for unwritable target")
	}
}

func TestDownloadMissingRemoteFileFails(t *testing.T) {
	svcAddr, _ := startFileService(t)
	sock := clientSocket(t)

	engine := NewEngine(newStore(t), fastConfig())
	err := engine.Download(context.Background(), sock, svcAddr, wire.MintChannelID(), "/no/such/file", filepath.Join(t.TempDir(), "local"))
	if err == nil {
		t.Fatalf("expected failure for missing remote file")
	}
}

func TestCleanupEndToEnd(t *testing.T) {
	svcAddr, serverStore := startFileService(t)
	sock := clientSocket(t)

	dir := t.TempDir()
	srcPath := filepath.Join(dir, "source")
	writeFile(t, srcPath, []byte("prune me"), 0o640)
	hash, _, _, err := serverStore.InitializeFile(srcPath)
	if err != nil {
		t.Fatalf("InitializeFile: %v", err)
	}

	engine := NewEngine(newStore(t), fastConfig())
	if err := engine.Cleanup(context.Background(), sock, svcAddr, wire.MintChannelID(), hash); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if _, err := os.Stat(filepath.Join(serverStore.Prefix, hash)); !os.IsNotExist(err) {
		t.Fatalf("hash directory still present after cleanup")
	}
}

func TestCleanupAllEndToEnd(t *testing.T) {
	svcAddr, serverStore := startFileService(t)
	sock := clientSocket(t)

	dir := t.TempDir()
	for _, name := range []string{"one", "two"} {
		path := filepath.Join(dir, name)
		writeFile(t, path, []byte(name), 0o640)
		if _, _, _, err := serverStore.InitializeFile(path); err != nil {
			t.Fatalf("InitializeFile: %v", err)
		}
	}

	engine := NewEngine(newStore(t), fastConfig())
	if err := engine.Cleanup(context.Background(), sock, svcAddr, wire.MintChannelID(), ""); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	entries, err := os.ReadDir(serverStore.Prefix)
	if err != nil {
		t.Fatalf("read prefix: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("prefix not emptied: %v", entries)
	}
}
