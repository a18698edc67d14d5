package fileproto

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/opensat/satcore/pkg/datagram"
	"github.com/opensat/satcore/pkg/wire"
)

// inboxDepth bounds how many undelivered datagrams a transaction can queue
// before the dispatch loop starts dropping; a slow transaction recovers via
// the sync/NAK handshake rather than unbounded buffering.
const inboxDepth = 64

// Service is the file-transfer daemon: it owns one listening socket and
// dispatches inbound datagrams to per-transaction goroutines, the same shared
// single-socket fan-out the shell multiplexer uses for its sessions (§4.D).
type Service struct {
	engine *Engine
	sock   *datagram.Socket
	log    hclog.Logger

	mu        sync.Mutex
	byChannel map[uint32]*transaction
	byHash    map[string]*transaction
}

type transaction struct {
	channel      uint32
	hash         string
	peer         *net.UDPAddr
	inbox        chan []byte
	lastActivity time.Time
	closeOnce    sync.Once
}

func (tx *transaction) close() {
	tx.closeOnce.Do(func() { close(tx.inbox) })
}

// NewService builds a file-transfer daemon over an already-bound socket.
func NewService(engine *Engine, sock *datagram.Socket) *Service {
	return &Service{
		engine:    engine,
		sock:      sock,
		log:       hclog.Default().Named("fileproto.service"),
		byChannel: make(map[uint32]*transaction),
		byHash:    make(map[string]*transaction),
	}
}

// Run receives datagrams until ctx is cancelled, demultiplexing each to the
// owning transaction or starting a new one for an import/export/cleanup
// request. Malformed datagrams are dropped and logged, never fatal (§7).
func (s *Service) Run(ctx context.Context) error {
	sweep := time.NewTicker(s.engine.config.StaleAfter / 2)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sweep.C:
			s.dropStale()
		default:
		}

		res, err := s.sock.RecvWithTimeout(time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}

		msg, derr := wire.DecodeFileMessage(res.Data)
		if derr != nil {
			s.log.Warn("dropping malformed datagram", "from", res.From, "error", derr)
			continue
		}
		s.dispatch(ctx, msg, res.Data, res.From)
	}
}

func (s *Service) dispatch(ctx context.Context, msg *wire.FileMessage, raw []byte, from *net.UDPAddr) {
	switch msg.Kind {
	case wire.KindImportRequest, wire.KindExportRequest, wire.KindCleanupRequest:
		s.startTransaction(ctx, msg, from)
	case wire.KindSync, wire.KindMetadata, wire.KindChunk, wire.KindAck, wire.KindNak:
		if !s.deliverByHash(msg.Hash, raw) {
			if msg.Kind == wire.KindSync {
				s.answerStandaloneSync(msg.Hash, from)
				return
			}
			s.log.Warn("dropping hash-keyed message with no transaction", "hash", msg.Hash, "kind", msg.Kind)
		}
	default:
		if !s.deliverByChannel(msg.Channel, raw) {
			s.log.Warn("dropping channel message with no transaction", "channel", msg.Channel)
		}
	}
}

// deliverByHash and deliverByChannel enqueue under the service lock: the
// same lock guards inbox close, so a completing transaction cannot close the
// channel between lookup and send. The send itself never blocks.

func (s *Service) deliverByHash(hash string, raw []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.byHash[hash]
	if !ok {
		return false
	}
	tx.lastActivity = time.Now()
	select {
	case tx.inbox <- raw:
	default:
		s.log.Warn("transaction inbox full, dropping datagram", "hash", hash)
	}
	return true
}

func (s *Service) deliverByChannel(channel uint32, raw []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.byChannel[channel]
	if !ok {
		return false
	}
	tx.lastActivity = time.Now()
	select {
	case tx.inbox <- raw:
	default:
		s.log.Warn("transaction inbox full, dropping datagram", "channel", channel)
	}
	return true
}

// answerStandaloneSync handles [H] with no open transaction: if the store
// knows the hash it answers from on-disk state, ACK when complete or NAK with
// the missing runs. An unknown hash is ignored; the peer's timeout drives
// recovery. A sync for an already-finalized hash lands here too and gets an
// idempotent ACK.
func (s *Service) answerStandaloneSync(hash string, from *net.UDPAddr) {
	numChunks, _, err := s.engine.store.LoadMeta(hash)
	if err != nil {
		s.log.Debug("sync for unknown hash", "hash", hash)
		return
	}
	complete, missing, err := s.engine.store.LocalSync(hash, numChunks)
	if err != nil {
		s.log.Warn("local sync failed", "hash", hash, "error", err)
		return
	}
	if complete {
		if err := s.engine.sendAck(s.sock, from, hash, numChunks); err != nil {
			s.log.Warn("ack send failed", "hash", hash, "error", err)
		}
		return
	}
	if err := s.engine.sendNak(s.sock, from, hash, missing); err != nil {
		s.log.Warn("nak send failed", "hash", hash, "error", err)
	}
}

func (s *Service) startTransaction(ctx context.Context, msg *wire.FileMessage, from *net.UDPAddr) {
	s.mu.Lock()
	if _, exists := s.byChannel[msg.Channel]; exists {
		s.mu.Unlock()
		s.log.Warn("channel already in use, ignoring request", "channel", msg.Channel)
		return
	}
	tx := &transaction{
		channel:      msg.Channel,
		hash:         msg.Hash,
		peer:         from,
		inbox:        make(chan []byte, inboxDepth),
		lastActivity: time.Now(),
	}
	s.byChannel[msg.Channel] = tx
	if msg.Hash != "" {
		s.byHash[msg.Hash] = tx
	}
	s.mu.Unlock()

	go func() {
		defer s.remove(tx)
		mbox := &mailboxTransport{out: s.sock, peer: from, inbox: tx.inbox}
		switch msg.Kind {
		case wire.KindExportRequest:
			s.handleExport(ctx, mbox, tx, msg)
		case wire.KindImportRequest:
			s.handleImport(ctx, mbox, tx, msg)
		case wire.KindCleanupRequest:
			s.handleCleanup(mbox, tx, msg)
		}
	}()
}

// handleExport is the responder side of an upload: receive chunks for the
// announced hash, finalize to the requested path, and report the verdict on
// the channel.
func (s *Service) handleExport(ctx context.Context, mbox *mailboxTransport, tx *transaction, msg *wire.FileMessage) {
	mode := uint32(0o644)
	if msg.Mode != nil {
		mode = *msg.Mode
	}

	numChunks, err := s.engine.recvChunks(ctx, mbox, tx.peer, msg.Hash, false, 0)
	if err != nil {
		s.failChannel(mbox, tx, err.Error())
		return
	}
	if err := s.engine.store.StoreMeta(msg.Hash, numChunks, mode); err != nil {
		s.failChannel(mbox, tx, err.Error())
		return
	}
	if err := s.engine.store.Finalize(msg.Hash, msg.Path, mode, numChunks); err != nil {
		s.failChannel(mbox, tx, err.Error())
		return
	}
	s.log.Info("export finalized", "channel", tx.channel, "hash", msg.Hash, "path", msg.Path)
	s.succeedChannel(mbox, tx)
}

// handleImport is the responder side of a download: chunk the requested file
// into the store, describe it on the channel, then stream the chunks.
func (s *Service) handleImport(ctx context.Context, mbox *mailboxTransport, tx *transaction, msg *wire.FileMessage) {
	hash, numChunks, mode, err := s.engine.store.InitializeFile(msg.Path)
	if err != nil {
		s.failChannel(mbox, tx, err.Error())
		return
	}

	s.mu.Lock()
	tx.hash = hash
	s.byHash[hash] = tx
	s.mu.Unlock()

	desc, err := wire.EncodeSuccessDescriptor(tx.channel, hash, numChunks, &mode)
	if err != nil {
		s.log.Warn("encode import descriptor failed", "error", err)
		return
	}
	if err := mbox.SendBytesTo(desc, tx.peer); err != nil {
		s.log.Warn("send import descriptor failed", "error", err)
		return
	}

	if err := s.engine.sendChunks(ctx, mbox, tx.peer, tx.channel, hash, numChunks); err != nil {
		s.failChannel(mbox, tx, err.Error())
		return
	}
	s.log.Info("import served", "channel", tx.channel, "hash", hash, "path", msg.Path)
	s.succeedChannel(mbox, tx)
}

// handleCleanup prunes one hash tree, or the whole prefix when the request
// names none.
func (s *Service) handleCleanup(mbox *mailboxTransport, tx *transaction, msg *wire.FileMessage) {
	var err error
	if msg.Hash == "" {
		err = s.engine.store.PruneAll()
	} else {
		err = s.engine.store.Prune(msg.Hash)
	}
	if err != nil {
		s.failChannel(mbox, tx, err.Error())
		return
	}
	s.log.Info("cleanup done", "channel", tx.channel, "hash", msg.Hash)
	s.succeedChannel(mbox, tx)
}

func (s *Service) succeedChannel(mbox *mailboxTransport, tx *transaction) {
	data, err := wire.EncodeSuccess(tx.channel)
	if err != nil {
		return
	}
	if err := mbox.SendBytesTo(data, tx.peer); err != nil {
		s.log.Warn("send success failed", "channel", tx.channel, "error", err)
	}
}

func (s *Service) failChannel(mbox *mailboxTransport, tx *transaction, reason string) {
	s.log.Error("transaction failed", "channel", tx.channel, "hash", tx.hash, "error", reason)
	data, err := wire.EncodeFailure(tx.channel, reason)
	if err != nil {
		return
	}
	if err := mbox.SendBytesTo(data, tx.peer); err != nil {
		s.log.Warn("send failure failed", "channel", tx.channel, "error", err)
	}
}

func (s *Service) remove(tx *transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byChannel, tx.channel)
	if tx.hash != "" && s.byHash[tx.hash] == tx {
		delete(s.byHash, tx.hash)
	}
	tx.close()
}

// dropStale closes transactions idle past StaleAfter so abandoned peers don't
// pin mailbox state forever; the owning goroutine observes the closed inbox
// and unwinds.
func (s *Service) dropStale() {
	cutoff := time.Now().Add(-s.engine.config.StaleAfter)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tx := range s.byChannel {
		if tx.lastActivity.Before(cutoff) {
			s.log.Warn("dropping stale transaction", "channel", tx.channel, "hash", tx.hash)
			tx.close()
		}
	}
}
