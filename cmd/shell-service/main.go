// Command shell-service runs the remote-shell daemon: concurrent interactive
// sessions multiplexed by channel id over one UDP socket.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-hclog"

	"github.com/opensat/satcore/pkg/config"
	"github.com/opensat/satcore/pkg/datagram"
	"github.com/opensat/satcore/pkg/shellmux"
)

func main() {
	configPath := flag.String("config", "", "path to the TOML configuration file")
	flag.Parse()

	log := hclog.Default().Named("shell-service")
	if err := run(*configPath, log); err != nil {
		log.Error("service failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, log hclog.Logger) error {
	cfg := config.DefaultShellService()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if loaded.ShellService != nil {
			if loaded.ShellService.IP != "" {
				cfg.IP = loaded.ShellService.IP
			}
			if loaded.ShellService.Port != 0 {
				cfg.Port = loaded.ShellService.Port
			}
		}
	}

	sock, err := datagram.Listen(fmt.Sprintf("%s:%d", cfg.IP, cfg.Port), 0)
	if err != nil {
		return err
	}
	defer sock.Close()

	mux := shellmux.New(sock)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("shell service listening", "addr", sock.LocalAddr())
	err = mux.Run(ctx)
	if ctx.Err() != nil {
		log.Info("shutting down")
		return nil
	}
	return err
}
