// Command file-client is the reference client for the file-transfer service:
// upload, download, and cleanup against a remote daemon (§6).
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/opensat/satcore/pkg/chunkstore"
	"github.com/opensat/satcore/pkg/datagram"
	"github.com/opensat/satcore/pkg/fileproto"
	"github.com/opensat/satcore/pkg/wire"
)

const datagramOverhead = 256

var (
	hostIP            string
	hostPort          uint16
	remoteIP          string
	remotePort        uint16
	storagePrefix     string
	transferChunkSize int
	hashChunkSize     int
	holdCount         int
	interChunkDelay   time.Duration
	maxChunksTransmit int
)

func main() {
	log := hclog.Default().Named("file-client")

	root := &cobra.Command{
		Use:           "file-client",
		Short:         "move files to and from a file-transfer service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&hostIP, "host-ip", "0.0.0.0", "local bind address")
	pf.Uint16Var(&hostPort, "host-port", 8080, "local bind port")
	pf.StringVar(&remoteIP, "remote-ip", "0.0.0.0", "file service address")
	pf.Uint16Var(&remotePort, "remote-port", 8040, "file service port")
	pf.StringVar(&storagePrefix, "storage-prefix", "file-storage", "local chunk store directory")
	pf.IntVar(&transferChunkSize, "transfer-chunk-size", 1024, "bytes per transfer chunk")
	pf.IntVar(&hashChunkSize, "hash-chunk-size", 2048, "bytes per hashing read")
	pf.IntVar(&holdCount, "hold-count", 6, "consecutive timeouts before giving up")
	pf.DurationVar(&interChunkDelay, "inter-chunk-delay", time.Millisecond, "pause between chunk sends")
	pf.IntVar(&maxChunksTransmit, "max-chunks-transmit", 0, "chunks per burst, 0 for unlimited")

	root.AddCommand(
		&cobra.Command{
			Use:   "upload <source> [target]",
			Short: "push a local file to a remote path",
			Args:  cobra.RangeArgs(1, 2),
			RunE: func(cmd *cobra.Command, args []string) error {
				target := filepath.Base(args[0])
				if len(args) == 2 {
					target = args[1]
				}
				return withEngine(func(ctx context.Context, e *fileproto.Engine, sock *datagram.Socket, peer *net.UDPAddr) error {
					return e.Upload(ctx, sock, peer, wire.MintChannelID(), args[0], target)
				})
			},
		},
		&cobra.Command{
			Use:   "download <source> [target]",
			Short: "pull a remote file to a local path",
			Args:  cobra.RangeArgs(1, 2),
			RunE: func(cmd *cobra.Command, args []string) error {
				target := filepath.Base(args[0])
				if len(args) == 2 {
					target = args[1]
				}
				return withEngine(func(ctx context.Context, e *fileproto.Engine, sock *datagram.Socket, peer *net.UDPAddr) error {
					return e.Download(ctx, sock, peer, wire.MintChannelID(), args[0], target)
				})
			},
		},
		&cobra.Command{
			Use:   "cleanup [hash]",
			Short: "prune one or all remote chunk directories",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				hash := ""
				if len(args) == 1 {
					hash = args[0]
				}
				return withEngine(func(ctx context.Context, e *fileproto.Engine, sock *datagram.Socket, peer *net.UDPAddr) error {
					return e.Cleanup(ctx, sock, peer, wire.MintChannelID(), hash)
				})
			},
		},
	)

	if err := root.Execute(); err != nil {
		log.Error("operation failed", "error", err)
		fmt.Fprintf(os.Stderr, "Operation failed: %v\n", err)
		os.Exit(1)
	}
}

// withEngine wires the local store, socket, and engine, resolves the peer,
// and hands control to the operation.
func withEngine(op func(context.Context, *fileproto.Engine, *datagram.Socket, *net.UDPAddr) error) error {
	store, err := chunkstore.New(storagePrefix, transferChunkSize, hashChunkSize)
	if err != nil {
		return err
	}
	sock, err := datagram.Listen(fmt.Sprintf("%s:%d", hostIP, hostPort), transferChunkSize+datagramOverhead)
	if err != nil {
		return err
	}
	defer sock.Close()

	peer, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", remoteIP, remotePort))
	if err != nil {
		return err
	}

	engine := fileproto.NewEngine(store, fileproto.Config{
		HoldCount:         holdCount,
		InterChunkDelay:   interChunkDelay,
		MaxChunksTransmit: maxChunksTransmit,
	})
	return op(context.Background(), engine, sock, peer)
}
