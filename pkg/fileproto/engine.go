// Package fileproto implements the chunked, resumable file transfer
// protocol on top of pkg/wire's message shapes, pkg/datagram's sockets, and
// pkg/chunkstore's on-disk chunk tree. Both transfer directions are driven
// by the same two state machines: a sender paced by inter-chunk delay and
// burst limits, and a receiver that re-evaluates its missing chunks on
// every receive timeout, with a hold counter bounding how long either side
// tolerates silence.
package fileproto

import (
	"context"
	"net"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/opensat/satcore/pkg/chunkstore"
	"github.com/opensat/satcore/pkg/constants"
	"github.com/opensat/satcore/pkg/errs"
	"github.com/opensat/satcore/pkg/wire"
)

// Defaults for Config, chosen per §4.C's description of the hold-counter
// back-pressure scheme; none of these affect wire compatibility, only local
// pacing.
const (
	DefaultHoldCount         = constants.DefaultHoldCount
	DefaultChunkTimeout      = constants.DefaultChunkTimeout
	DefaultInterChunkDelay   = constants.DefaultInterChunkDelay
	DefaultMaxChunksTransmit = 0 // 0 means unlimited
	DefaultStaleAfter        = 5 * time.Minute
)

// Config tunes the engine's retry/back-pressure behaviour (§4.C, §6).
type Config struct {
	HoldCount         int
	ChunkTimeout      time.Duration
	InterChunkDelay   time.Duration
	MaxChunksTransmit int
	StaleAfter        time.Duration
}

// DefaultConfig returns the engine's default tuning.
func DefaultConfig() Config {
	return Config{
		HoldCount:         DefaultHoldCount,
		ChunkTimeout:      DefaultChunkTimeout,
		InterChunkDelay:   DefaultInterChunkDelay,
		MaxChunksTransmit: DefaultMaxChunksTransmit,
		StaleAfter:        DefaultStaleAfter,
	}
}

func (c Config) withDefaults() Config {
	if c.HoldCount <= 0 {
		c.HoldCount = DefaultHoldCount
	}
	if c.ChunkTimeout <= 0 {
		c.ChunkTimeout = DefaultChunkTimeout
	}
	if c.InterChunkDelay < 0 {
		c.InterChunkDelay = DefaultInterChunkDelay
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = DefaultStaleAfter
	}
	return c
}

// Engine holds the store and tuning that file transfers run against. It keeps
// no per-transaction state: each call drives one transaction on the transport
// it is given, and the daemon in responder.go runs many such calls through one
// Engine concurrently.
type Engine struct {
	store  *chunkstore.Store
	config Config
	log    hclog.Logger
}

// NewEngine builds an Engine over store with the given tuning.
func NewEngine(store *chunkstore.Store, config Config) *Engine {
	return &Engine{store: store, config: config.withDefaults(), log: hclog.Default().Named("fileproto")}
}

func toWireRuns(runs []chunkstore.Run) []wire.Run {
	out := make([]wire.Run, len(runs))
	for i, r := range runs {
		out[i] = wire.Run{Start: r.Start, End: r.End}
	}
	return out
}

// recvFileMessage waits for the next datagram on t and decodes it as a
// FileMessage, translating a raw decode failure into a Decode error rather
// than aborting the transaction: malformed peer datagrams are dropped and
// the caller's loop keeps waiting (§7, "local recovery").
func recvFileMessage(ctx context.Context, t transport, timeout time.Duration) (*wire.FileMessage, *net.UDPAddr, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		res, err := t.RecvWithTimeout(timeout)
		if err != nil {
			return nil, nil, err
		}
		msg, derr := wire.DecodeFileMessage(res.Data)
		if derr != nil {
			continue
		}
		return msg, res.From, nil
	}
}

// sendChunks drives the sender side of a chunk transfer for hash/numChunks:
// send Metadata once, then stream chunks, observing MaxChunksTransmit and
// InterChunkDelay, then wait for Ack/Nak/Failure with the hold counter
// bounding consecutive timeouts (§4.C upload FSM, AwaitResult).
func (e *Engine) sendChunks(ctx context.Context, t transport, peer *net.UDPAddr, channel uint32, hash string, numChunks uint32) error {
	meta, err := wire.EncodeMetadata(hash, numChunks)
	if err != nil {
		return errs.Wrap(errs.KindDecode, "encode metadata", err)
	}
	if err := t.SendBytesTo(meta, peer); err != nil {
		return err
	}
	if err := e.transmitRange(ctx, t, peer, hash, 0, numChunks); err != nil {
		return err
	}

	hold := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg, _, err := recvFileMessage(ctx, t, e.config.ChunkTimeout)
		if err != nil {
			if !errs.Is(err, errs.KindTransport) {
				return err
			}
			hold++
			if hold >= e.config.HoldCount {
				return errs.New(errs.KindTransport, "peer did not acknowledge transfer within hold limit")
			}
			continue
		}
		switch msg.Kind {
		case wire.KindAck:
			if msg.Hash == hash {
				return nil
			}
		case wire.KindNak:
			if msg.Hash != hash {
				continue
			}
			hold = 0
			for _, r := range msg.MissingRuns {
				if err := e.transmitRange(ctx, t, peer, hash, r.Start, r.End); err != nil {
					return err
				}
			}
		case wire.KindFailure:
			if msg.Channel == channel {
				return errs.New(errs.KindProtocol, "peer reported failure: "+msg.Err)
			}
		}
	}
}

// transmitRange sends chunks [start, end) for hash, pacing bursts per
// MaxChunksTransmit/InterChunkDelay (§4.C, "Transmitting").
func (e *Engine) transmitRange(ctx context.Context, t transport, peer *net.UDPAddr, hash string, start, end uint32) error {
	sent := 0
	for i := start; i < end; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := e.store.LoadChunk(hash, i)
		if err != nil {
			return err
		}
		encoded, err := wire.EncodeChunk(hash, i, data)
		if err != nil {
			return errs.Wrap(errs.KindDecode, "encode chunk", err)
		}
		if err := t.SendBytesTo(encoded, peer); err != nil {
			return err
		}
		sent++
		if e.config.MaxChunksTransmit > 0 && sent >= e.config.MaxChunksTransmit {
			sent = 0
			time.Sleep(e.config.InterChunkDelay)
			continue
		}
		if e.config.InterChunkDelay > 0 {
			time.Sleep(e.config.InterChunkDelay)
		}
	}
	return nil
}

func (e *Engine) sendAck(t transport, peer *net.UDPAddr, hash string, numChunks uint32) error {
	data, err := wire.EncodeAck(hash, numChunks)
	if err != nil {
		return errs.Wrap(errs.KindDecode, "encode ack", err)
	}
	return t.SendBytesTo(data, peer)
}

func (e *Engine) sendNak(t transport, peer *net.UDPAddr, hash string, missing []chunkstore.Run) error {
	data, err := wire.EncodeNak(hash, toWireRuns(missing))
	if err != nil {
		return errs.Wrap(errs.KindDecode, "encode nak", err)
	}
	return t.SendBytesTo(data, peer)
}

// recvChunks drives the receiver side of a chunk transfer: store incoming
// chunks, learn numChunks from the first Metadata message if not already
// known, and on each recv timeout run local_sync, emitting Ack or Nak
// (§4.C download FSM, Receiving / periodic Sync-on-timeout).
func (e *Engine) recvChunks(ctx context.Context, t transport, peer *net.UDPAddr, hash string, numChunksKnown bool, numChunks uint32) (uint32, error) {
	hold := 0
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		msg, _, err := recvFileMessage(ctx, t, e.config.ChunkTimeout)
		if err != nil {
			if !errs.Is(err, errs.KindTransport) {
				return 0, err
			}
			hold++
			if hold >= e.config.HoldCount {
				return 0, errs.New(errs.KindTransport, "no chunk traffic within hold limit")
			}
			if !numChunksKnown {
				continue
			}
			complete, missing, serr := e.store.LocalSync(hash, numChunks)
			if serr != nil {
				return 0, serr
			}
			if complete {
				if err := e.sendAck(t, peer, hash, numChunks); err != nil {
					return 0, err
				}
				return numChunks, nil
			}
			if err := e.sendNak(t, peer, hash, missing); err != nil {
				return 0, err
			}
			continue
		}

		hold = 0
		switch msg.Kind {
		case wire.KindMetadata:
			if msg.Hash == hash {
				numChunks = msg.NumChunks
				numChunksKnown = true
			}
		case wire.KindChunk:
			if msg.Hash == hash {
				if err := e.store.StoreChunk(hash, msg.Index, msg.Data); err != nil {
					return 0, err
				}
				if numChunksKnown {
					complete, _, serr := e.store.LocalSync(hash, numChunks)
					if serr != nil {
						return 0, serr
					}
					if complete {
						if err := e.sendAck(t, peer, hash, numChunks); err != nil {
							return 0, err
						}
						return numChunks, nil
					}
				}
			}
		}
	}
}
