// Command comms-service runs the uplink/downlink bridge between the radio
// gateway and the local UDP plane. The reference gateway is itself UDP: one
// socket reads raw frames from the radio driver and writes frames back to a
// configured target address.
package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/opensat/satcore/pkg/comms"
	"github.com/opensat/satcore/pkg/config"
	"github.com/opensat/satcore/pkg/errs"
)

func main() {
	configPath := flag.String("config", "", "path to the TOML configuration file")
	flag.Parse()

	log := hclog.Default().Named("comms-service")
	if err := run(*configPath, log); err != nil {
		log.Error("service failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, log hclog.Logger) error {
	if configPath == "" {
		return errs.New(errs.KindDecode, "comms-service requires -config")
	}
	loaded, err := config.Load(configPath)
	if err != nil {
		return err
	}
	cfg := loaded.CommsService
	if cfg == nil {
		return errs.New(errs.KindDecode, "configuration file has no [comms-service] table")
	}

	read, write, err := udpGateway(cfg.GatewayListen, cfg.GatewayTarget)
	if err != nil {
		return err
	}

	groundIP := net.ParseIP(cfg.GroundIP)
	satelliteIP := net.ParseIP(cfg.SatelliteIP)
	if groundIP == nil || satelliteIP == nil {
		return errs.New(errs.KindDecode, "ground_ip and satellite_ip must be valid IPv4 addresses")
	}

	// Every downlink port gets its own writer; the gateway socket is shared.
	writers := []comms.WriteFunc{write}
	for len(writers) < len(cfg.DownlinkPorts) {
		writers = append(writers, write)
	}

	svc, err := comms.NewService(comms.Config{
		Read:           read,
		Writers:        writers,
		HandlerPortMin: cfg.HandlerPortMin,
		HandlerPortMax: cfg.HandlerPortMax,
		Timeout:        time.Duration(cfg.TimeoutMs) * time.Millisecond,
		GroundIP:       groundIP,
		SatelliteIP:    satelliteIP,
		GroundPort:     cfg.GroundPort,
		DownlinkPorts:  cfg.DownlinkPorts,
	}, comms.NewTelemetry(0))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("comms service running", "gateway_listen", cfg.GatewayListen, "gateway_target", cfg.GatewayTarget)
	err = svc.Run(ctx)
	if ctx.Err() != nil {
		log.Info("shutting down")
		return nil
	}
	return err
}

// udpGateway builds the radio read/write adapters over a single UDP socket:
// frames arrive on listenAddr and leave toward targetAddr (§6, radio
// gateway; the core never peeks inside the connection).
func udpGateway(listenAddr, targetAddr string) (comms.ReadFunc, comms.WriteFunc, error) {
	bind, err := net.ResolveUDPAddr("udp", listenAddr)
	if err != nil {
		return nil, nil, errs.Wrap(errs.KindTransport, "resolve gateway_listen", err)
	}
	target, err := net.ResolveUDPAddr("udp", targetAddr)
	if err != nil {
		return nil, nil, errs.Wrap(errs.KindTransport, "resolve gateway_target", err)
	}
	conn, err := net.ListenUDP("udp", bind)
	if err != nil {
		return nil, nil, errs.Wrap(errs.KindTransport, "bind gateway socket", err)
	}

	read := func() ([]byte, error) {
		buf := make([]byte, comms.MaxFrameSize)
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			return nil, err
		}
		return buf[:n], nil
	}
	write := func(frame []byte) error {
		_, err := conn.WriteToUDP(frame, target)
		return err
	}
	return read, write, nil
}
