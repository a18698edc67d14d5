package fileproto

import (
	"context"
	"net"
	"time"

	"github.com/opensat/satcore/pkg/errs"
	"github.com/opensat/satcore/pkg/wire"
)

// Upload pushes the local file at sourcePath to targetPath on the peer
// (§4.C upload state machine, initiator's view). The source is chunked into
// the local store first; the store tree is left in place afterwards so a
// retried upload resumes from the already-initialized chunks.
func (e *Engine) Upload(ctx context.Context, t transport, peer *net.UDPAddr, channel uint32, sourcePath, targetPath string) error {
	hash, numChunks, mode, err := e.store.InitializeFile(sourcePath)
	if err != nil {
		return err
	}
	e.log.Info("starting upload", "channel", channel, "hash", hash, "num_chunks", numChunks, "target", targetPath)

	req, err := wire.EncodeExportRequest(channel, hash, targetPath, &mode)
	if err != nil {
		return errs.Wrap(errs.KindDecode, "encode export request", err)
	}
	if err := t.SendBytesTo(req, peer); err != nil {
		return err
	}

	if err := e.sendChunks(ctx, t, peer, channel, hash, numChunks); err != nil {
		return err
	}

	// The hash-level ACK means every chunk landed; the responder still has to
	// finalize to the target path and reports that outcome on the channel.
	// A quiet peer after ACK counts as success per the upload state machine.
	return e.awaitChannelResult(ctx, t, channel, e.config.ChunkTimeout)
}

// Download pulls the file at remotePath on the peer into localPath (§4.C
// download state machine, initiator's view).
func (e *Engine) Download(ctx context.Context, t transport, peer *net.UDPAddr, channel uint32, remotePath, localPath string) error {
	req, err := wire.EncodeImportRequest(channel, remotePath)
	if err != nil {
		return errs.Wrap(errs.KindDecode, "encode import request", err)
	}

	hash, numChunks, mode, err := e.awaitManifest(ctx, t, peer, channel, req)
	if err != nil {
		return err
	}
	e.log.Info("starting download", "channel", channel, "hash", hash, "num_chunks", numChunks, "local", localPath)

	if err := e.store.StoreMeta(hash, numChunks, mode); err != nil {
		return err
	}
	if _, err := e.recvChunks(ctx, t, peer, hash, true, numChunks); err != nil {
		return err
	}
	return e.store.Finalize(hash, localPath, mode, numChunks)
}

// Cleanup asks the peer to prune one hash directory, or every one when hash
// is empty (§12 supplement; §6 file service CLI).
func (e *Engine) Cleanup(ctx context.Context, t transport, peer *net.UDPAddr, channel uint32, hash string) error {
	req, err := wire.EncodeCleanupRequest(channel, hash)
	if err != nil {
		return errs.Wrap(errs.KindDecode, "encode cleanup request", err)
	}
	if err := t.SendBytesTo(req, peer); err != nil {
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
				return errs.New(errs.KindTransport, "no cleanup reply within hold limit")
			}
			if err := t.SendBytesTo(req, peer); err != nil {
				return err
			}
			continue
		}
		switch msg.Kind {
		case wire.KindSuccess:
			if msg.Channel == channel {
				return nil
			}
		case wire.KindFailure:
			if msg.Channel == channel {
				return errs.New(errs.KindProtocol, "peer reported failure: "+msg.Err)
			}
		}
	}
}

// awaitManifest sends the import request and waits for the success descriptor
// [C, true, H, N, M?], re-sending the request on each timeout until the hold
// counter saturates (AwaitManifest in the download state machine).
func (e *Engine) awaitManifest(ctx context.Context, t transport, peer *net.UDPAddr, channel uint32, req []byte) (hash string, numChunks uint32, mode uint32, err error) {
	if err := t.SendBytesTo(req, peer); err != nil {
		return "", 0, 0, err
	}
	hold := 0
	for {
		if err := ctx.Err(); err != nil {
			return "", 0, 0, err
		}
		msg, _, err := recvFileMessage(ctx, t, e.config.ChunkTimeout)
		if err != nil {
			if !errs.Is(err, errs.KindTransport) {
				return "", 0, 0, err
			}
			hold++
			if hold >= e.config.HoldCount {
				return "", 0, 0, errs.New(errs.KindTransport, "no import manifest within hold limit")
			}
			if err := t.SendBytesTo(req, peer); err != nil {
				return "", 0, 0, err
			}
			continue
		}
		switch msg.Kind {
		case wire.KindSuccessDescriptor:
			if msg.Channel != channel {
				continue
			}
			mode := uint32(0o644)
			if msg.Mode != nil {
				mode = *msg.Mode
			}
			return msg.Hash, msg.NumChunks, mode, nil
		case wire.KindFailure:
			if msg.Channel == channel {
				return "", 0, 0, errs.New(errs.KindProtocol, "peer reported failure: "+msg.Err)
			}
		}
	}
}

// awaitChannelResult waits one timeout window for the peer's channel-level
// verdict; silence after a hash-level ACK is success, an explicit failure is
// surfaced.
func (e *Engine) awaitChannelResult(ctx context.Context, t transport, channel uint32, window time.Duration) error {
	deadline := time.Now().Add(window)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		msg, _, err := recvFileMessage(ctx, t, remaining)
		if err != nil {
			if errs.Is(err, errs.KindTransport) {
				return nil
			}
			return err
		}
		switch msg.Kind {
		case wire.KindSuccess:
			if msg.Channel == channel {
				return nil
			}
		case wire.KindFailure:
			if msg.Channel == channel {
				return errs.New(errs.KindProtocol, "peer reported failure: "+msg.Err)
			}
		}
	}
}
