package comms

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"github.com/opensat/satcore/pkg/errs"
)

// ReadFunc reads one frame from the radio gateway, blocking until a frame
// arrives or the gateway fails (§6, radio gateway).
type ReadFunc func() ([]byte, error)

// WriteFunc sends one frame to the radio gateway.
type WriteFunc func([]byte) error

// Config enumerates the comms service inputs of §4.E.
type Config struct {
	Read    ReadFunc    // optional; no reader means no uplink pipeline
	Writers []WriteFunc // one or more

	HandlerPortMin uint16
	HandlerPortMax uint16

	Timeout time.Duration // how long a handler waits for a service reply

	GroundIP    net.IP
	SatelliteIP net.IP
	GroundPort  uint16

	DownlinkPorts []uint16 // optional passive egress collectors, one writer each
}

// Service bridges the radio gateway and the local UDP plane: uplink demux
// through ephemeral reply handlers, downlink fan-in through passive port
// listeners.
type Service struct {
	cfg Config
	tel *Telemetry
	log hclog.Logger

	mu     sync.Mutex
	rotate int
}

// NewService validates cfg and builds the service. A configured reader with
// no writer, a backwards port range, or more downlink ports than writers all
// fail startup (§4.E).
func NewService(cfg Config, tel *Telemetry) (*Service, error) {
	if cfg.Read != nil && len(cfg.Writers) == 0 {
		return nil, errs.New(errs.KindTransport, "uplink requires at least one radio writer")
	}
	if cfg.Read == nil && len(cfg.DownlinkPorts) == 0 {
		return nil, errs.New(errs.KindTransport, "service has neither a reader nor downlink ports, nothing to do")
	}
	if cfg.HandlerPortMax < cfg.HandlerPortMin {
		return nil, errs.New(errs.KindTransport, "handler port range is backwards")
	}
	if len(cfg.DownlinkPorts) > len(cfg.Writers) {
		return nil, errs.New(errs.KindTransport, "each downlink port needs its own writer")
	}
	if cfg.GroundIP.To4() == nil || cfg.SatelliteIP.To4() == nil {
		return nil, errs.New(errs.KindTransport, "ground and satellite IPs must be IPv4")
	}
	if tel == nil {
		tel = NewTelemetry(0)
	}
	return &Service{cfg: cfg, tel: tel, log: hclog.Default().Named("comms")}, nil
}

// Telemetry exposes the service's counter aggregate.
func (s *Service) Telemetry() *Telemetry {
	return s.tel
}

// Run starts the uplink reader (when configured) and one listener per
// downlink port, blocking until ctx is cancelled or a listener dies.
func (s *Service) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if s.cfg.Read != nil {
		g.Go(func() error { return s.uplinkLoop(ctx) })
	}
	for i, port := range s.cfg.DownlinkPorts {
		write := s.cfg.Writers[i]
		port := port
		g.Go(func() error { return s.downlinkLoop(ctx, port, write) })
	}
	return g.Wait()
}

// uplinkLoop runs the §4.E uplink pipeline: read, decode, verify, count,
// allocate a reply port, hand off to an ephemeral handler.
func (s *Service) uplinkLoop(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		frame, err := s.cfg.Read()
		if err != nil {
			s.tel.UpFail(fmt.Sprintf("radio read: %v", err))
			s.log.Warn("radio read failed", "error", err)
			continue
		}

		packet, err := ParseFrame(frame)
		if err != nil {
			s.tel.UpFail(fmt.Sprintf("malformed frame: %v", err))
			s.log.Warn("dropping malformed uplink frame", "error", err)
			continue
		}
		if !VerifyChecksum(frame, s.cfg.GroundIP, s.cfg.SatelliteIP) {
			s.tel.UpFail("checksum mismatch")
			s.log.Warn("dropping uplink frame with bad checksum", "dest_port", packet.DestPort)
			continue
		}
		s.tel.UpOK()

		reply, err := s.allocateReplySocket()
		if err != nil {
			s.tel.UpFail("no available ports")
			s.log.Warn("no available ports, dropping uplink", "dest_port", packet.DestPort)
			continue
		}
		go s.handle(packet, reply)
	}
}

// allocateReplySocket rotates through [handler_port_min, handler_port_max]
// looking for a bindable port. The bind itself is the concurrency bound: at
// most range-size handlers are in flight, and a saturated range drops new
// uplinks with no internal queue (§4.E resource policy).
func (s *Service) allocateReplySocket() (*net.UDPConn, error) {
	rangeSize := int(s.cfg.HandlerPortMax-s.cfg.HandlerPortMin) + 1

	s.mu.Lock()
	start := s.rotate
	s.rotate = (s.rotate + 1) % rangeSize
	s.mu.Unlock()

	for i := 0; i < rangeSize; i++ {
		port := s.cfg.HandlerPortMin + uint16((start+i)%rangeSize)
		conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: s.cfg.SatelliteIP, Port: int(port)})
		if err == nil {
			return conn, nil
		}
	}
	return nil, errs.New(errs.KindResourceExhaustion, "no available ports")
}

// handle runs one request/reply turnaround: deliver the packet payload to the
// destination service, wait up to the configured timeout on the reply socket,
// and wrap whatever comes back into a downlink frame for the first writer.
func (s *Service) handle(packet *Packet, reply *net.UDPConn) {
	defer reply.Close()

	dest := &net.UDPAddr{IP: s.cfg.SatelliteIP, Port: int(packet.DestPort)}
	if _, err := reply.WriteToUDP(packet.Payload, dest); err != nil {
		s.tel.UpFail(fmt.Sprintf("deliver to service port %d: %v", packet.DestPort, err))
		s.log.Warn("uplink delivery failed", "dest_port", packet.DestPort, "error", err)
		return
	}

	if err := reply.SetReadDeadline(time.Now().Add(s.cfg.Timeout)); err != nil {
		s.log.Warn("reply deadline failed", "error", err)
		return
	}
	buf := make([]byte, MaxFrameSize)
	n, _, err := reply.ReadFromUDP(buf)
	if err != nil {
		// Not every service replies; a quiet turnaround is normal.
		s.log.Debug("no service reply", "dest_port", packet.DestPort)
		return
	}

	frame, err := BuildFrame(buf[:n], packet.DestPort, s.cfg.GroundPort, s.cfg.SatelliteIP, s.cfg.GroundIP)
	if err != nil {
		s.tel.DownFail(fmt.Sprintf("build reply frame: %v", err))
		s.log.Warn("reply frame build failed", "error", err)
		return
	}
	if err := s.cfg.Writers[0](frame); err != nil {
		s.tel.DownFail(fmt.Sprintf("radio write: %v", err))
		s.log.Warn("radio write failed", "error", err)
		return
	}
	s.tel.DownOK()
}

// downlinkLoop binds one passive egress collector: every datagram a local
// service sends to (satellite_ip, port) is wrapped source=sender's port,
// dest=ground_port and handed to this port's writer (§4.E downlink
// endpoints).
func (s *Service) downlinkLoop(ctx context.Context, port uint16, write WriteFunc) error {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: s.cfg.SatelliteIP, Port: int(port)})
	if err != nil {
		return errs.Wrap(errs.KindTransport, fmt.Sprintf("bind downlink port %d", port), err)
	}
	defer conn.Close()
	s.log.Info("downlink endpoint listening", "port", port)

	buf := make([]byte, MaxFrameSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := conn.SetReadDeadline(time.Now().Add(time.Second)); err != nil {
			return errs.Wrap(errs.KindTransport, "downlink deadline", err)
		}
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
				continue
			}
			return errs.Wrap(errs.KindTransport, "downlink recv", err)
		}

		frame, err := BuildFrame(buf[:n], uint16(from.Port), s.cfg.GroundPort, s.cfg.SatelliteIP, s.cfg.GroundIP)
		if err != nil {
			s.tel.DownFail(fmt.Sprintf("build downlink frame: %v", err))
			s.log.Warn("downlink frame build failed", "port", port, "error", err)
			continue
		}
		if err := write(frame); err != nil {
			s.tel.DownFail(fmt.Sprintf("radio write: %v", err))
			s.log.Warn("downlink radio write failed", "port", port, "error", err)
			continue
		}
		s.tel.DownOK()
	}
}
