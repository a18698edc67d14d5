// Command file-service runs the file-transfer daemon: a UDP service that
// answers import/export/cleanup requests against the on-disk chunk store.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/opensat/satcore/pkg/chunkstore"
	"github.com/opensat/satcore/pkg/config"
	"github.com/opensat/satcore/pkg/datagram"
	"github.com/opensat/satcore/pkg/fileproto"
)

// datagramOverhead leaves room for the CBOR array wrapping one chunk.
const datagramOverhead = 256

func main() {
	configPath := flag.String("config", "", "path to the TOML configuration file")
	flag.Parse()

	log := hclog.Default().Named("file-service")
	if err := run(*configPath, log); err != nil {
		log.Error("service failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, log hclog.Logger) error {
	cfg := config.DefaultFileService()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if loaded.FileService != nil {
			cfg = *loaded.FileService
			cfg.Merge(config.DefaultFileService())
		}
	}

	store, err := chunkstore.New(cfg.StoragePrefix, cfg.TransferChunkSize, cfg.HashChunkSize)
	if err != nil {
		return err
	}

	maxDatagram := cfg.MaxDatagramSize
	if maxDatagram == 0 {
		maxDatagram = cfg.TransferChunkSize + datagramOverhead
	}
	sock, err := datagram.Listen(fmt.Sprintf("%s:%d", cfg.IP, cfg.Port), maxDatagram)
	if err != nil {
		return err
	}
	defer sock.Close()

	engine := fileproto.NewEngine(store, fileproto.Config{
		HoldCount:         cfg.HoldCount,
		ChunkTimeout:      time.Duration(cfg.ChunkTimeoutMs) * time.Millisecond,
		InterChunkDelay:   time.Duration(cfg.InterChunkDelayMs) * time.Millisecond,
		MaxChunksTransmit: cfg.MaxChunksTransmit,
	})
	svc := fileproto.NewService(engine, sock)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("file service listening", "addr", sock.LocalAddr(), "storage_prefix", cfg.StoragePrefix)
	err = svc.Run(ctx)
	if ctx.Err() != nil {
		log.Info("shutting down")
		return nil
	}
	return err
}
