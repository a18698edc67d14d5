// Package config loads the per-service TOML configuration (§6). Only the
// fields named in the service contracts are recognised; an unknown key fails
// startup with a descriptive error rather than being silently ignored.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/opensat/satcore/pkg/constants"
	"github.com/opensat/satcore/pkg/errs"
)

// FileService is the [file-service] table.
type FileService struct {
	IP                string `toml:"ip"`
	Port              uint16 `toml:"port"`
	StoragePrefix     string `toml:"storage_prefix"`
	TransferChunkSize int    `toml:"transfer_chunk_size"`
	HashChunkSize     int    `toml:"hash_chunk_size"`
	HoldCount         int    `toml:"hold_count"`
	ChunkTimeoutMs    int    `toml:"chunk_timeout_ms"`
	InterChunkDelayMs int    `toml:"inter_chunk_delay_ms"`
	MaxChunksTransmit int    `toml:"max_chunks_transmit"`
	MaxDatagramSize   int    `toml:"max_datagram_size"`
}

// ShellService is the [shell-service] table.
type ShellService struct {
	IP   string `toml:"ip"`
	Port uint16 `toml:"port"`
}

// CommsService is the [comms-service] table (§4.E configuration). The
// gateway addresses back the read/write adapters for the UDP-framed radio
// gateway the reference binary ships with.
type CommsService struct {
	GatewayListen  string   `toml:"gateway_listen"`
	GatewayTarget  string   `toml:"gateway_target"`
	HandlerPortMin uint16   `toml:"handler_port_min"`
	HandlerPortMax uint16   `toml:"handler_port_max"`
	TimeoutMs      int      `toml:"timeout_ms"`
	GroundIP       string   `toml:"ground_ip"`
	SatelliteIP    string   `toml:"satellite_ip"`
	GroundPort     uint16   `toml:"ground_port"`
	DownlinkPorts  []uint16 `toml:"downlink_ports"`
}

// Config is the whole service configuration file; each service reads its own
// table and ignores the others' absence.
type Config struct {
	FileService  *FileService  `toml:"file-service"`
	ShellService *ShellService `toml:"shell-service"`
	CommsService *CommsService `toml:"comms-service"`
}

// Load parses the TOML file at path, rejecting unknown keys.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.Wrap(errs.KindStorage, "open configuration file", err)
	}
	defer f.Close()

	dec := toml.NewDecoder(f)
	dec.DisallowUnknownFields()

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return nil, errs.New(errs.KindDecode, fmt.Sprintf("unrecognised configuration key(s):\n%s", strings.TrimSpace(strict.String())))
		}
		return nil, errs.Wrap(errs.KindDecode, "parse configuration file", err)
	}
	return &cfg, nil
}

// DefaultFileService returns the [file-service] defaults from §6.
func DefaultFileService() FileService {
	return FileService{
		IP:                "0.0.0.0",
		Port:              constants.DefaultFileServicePort,
		StoragePrefix:     "file-storage",
		TransferChunkSize: constants.DefaultTransferChunkSize,
		HashChunkSize:     constants.DefaultHashChunkSize,
		HoldCount:         constants.DefaultHoldCount,
		ChunkTimeoutMs:    int(constants.DefaultChunkTimeout / time.Millisecond),
		InterChunkDelayMs: int(constants.DefaultInterChunkDelay / time.Millisecond),
		MaxChunksTransmit: 0,
		MaxDatagramSize:   0,
	}
}

// DefaultShellService returns the [shell-service] defaults.
func DefaultShellService() ShellService {
	return ShellService{IP: "0.0.0.0", Port: constants.DefaultShellServicePort}
}

// Merge fills in every zero field of dst from the defaults.
func (c *FileService) Merge(defaults FileService) {
	if c.IP == "" {
		c.IP = defaults.IP
	}
	if c.Port == 0 {
		c.Port = defaults.Port
	}
	if c.StoragePrefix == "" {
		c.StoragePrefix = defaults.StoragePrefix
	}
	if c.TransferChunkSize == 0 {
		c.TransferChunkSize = defaults.TransferChunkSize
	}
	if c.HashChunkSize == 0 {
		c.HashChunkSize = defaults.HashChunkSize
	}
	if c.HoldCount == 0 {
		c.HoldCount = defaults.HoldCount
	}
	if c.ChunkTimeoutMs == 0 {
		c.ChunkTimeoutMs = defaults.ChunkTimeoutMs
	}
	if c.InterChunkDelayMs == 0 {
		c.InterChunkDelayMs = defaults.InterChunkDelayMs
	}
}
