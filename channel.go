// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package rchannel

import (
	"bufio"
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"code.hybscloud.com/rchannel/internal/codec"
	"code.hybscloud.com/rchannel/internal/export"
	"code.hybscloud.com/rchannel/internal/pipewriter"
	"code.hybscloud.com/rchannel/internal/transport"
)

// channelState is the Channel's one-way state machine, per spec.md §4.11:
// OPENING → OPEN → CLOSING → CLOSED.
type channelState int32

const (
	stateOpening channelState = iota
	stateOpen
	stateClosing
	stateClosed
)

// Channel is one duplex, capability-negotiated RPC channel bound to a
// single transport.Transport for its entire lifetime (no reconnect, per
// SPEC_FULL.md's stated Non-goals).
type Channel struct {
	// ID correlates this channel's log lines and metrics across both
	// peers' logs, the way a database driver tags a connection or
	// transaction with a generated id for cross-process correlation.
	ID uuid.UUID

	opts      *Options
	transport transport.Transport
	codec     codec.Codec
	exports   *export.Table
	coordinator *pipewriter.Coordinator
	cleanups  cleanupQueue
	sem       *semaphore.Weighted

	localCaps  uint32
	remoteCaps uint32

	state    channelState
	mu       sync.Mutex
	pendingCalls   map[int64]*pendingCall
	executingCalls map[int64]context.CancelFunc
	nextCallID     int64

	pipes pipeRegistry

	pingStop  chan struct{}
	pingDone  chan struct{}
	pingProxy *Proxy

	log logrus.FieldLogger
}

// New constructs a Channel bound to t, with opts (nil selects
// DefaultOptions()). It does not negotiate capabilities or start pumping
// commands; call Open for that.
func New(t transport.Transport, opts *Options) *Channel {
	if opts == nil {
		opts = DefaultOptions()
	}
	ch := &Channel{
		ID:             uuid.New(),
		opts:           opts,
		transport:      t,
		codec:          codec.New(opts.ClassFilter),
		coordinator:    pipewriter.NewCoordinator(0),
		pendingCalls:   make(map[int64]*pendingCall),
		executingCalls: make(map[int64]context.CancelFunc),
		log:            opts.Logger,
		localCaps:      localCapabilities(opts),
	}
	ch.exports = export.New(export.Options{
		UnexportLogSize:   opts.UnexportLogSize,
		RecordOriginTrace: opts.RecordUnexportOriginTrace,
	})
	ch.pipes.init()
	if opts.MaxConcurrentCalls > 0 {
		ch.sem = semaphore.NewWeighted(opts.MaxConcurrentCalls)
	}
	return ch
}

func localCapabilities(opts *Options) uint32 {
	// chunkedFraming, multiDomainRPC, prefetch (Sink acks each chunk as
	// soon as it's written locally rather than waiting on consumer
	// demand), greedyRemoteInputStreams (the same eager-ack behavior, from
	// the sender's point of view), and proxyExceptionFallback (any local
	// error whose concrete type the peer can't resolve travels as a
	// codec.ProxyError) are unconditional baseline behavior in this
	// implementation, not optional variants gated on negotiation — they
	// are advertised so a peer relying on RoleChecker-style capability
	// probing observes them, even though nothing here branches on whether
	// the remote side also advertises them.
	caps := capChunkedFraming | capMultiDomainRPC | capPrefetch | capGreedyRemoteInputStreams | capProxyExceptionFallback
	if opts.MaxConcurrentCalls >= 0 {
		caps |= capImprovedProxyWriter
	}
	return caps
}

// Open performs the capability handshake by writing to w and scanning r
// (typically the same connection the transport reads/writes), then binds
// the transport, starting command delivery.
func (ch *Channel) Open(w io.Writer, r *bufio.Reader) error {
	peerCaps, err := negotiate(w, r, ch.localCaps, "")
	if err != nil {
		return errors.Wrap(err, "rchannel: capability negotiation")
	}
	ch.remoteCaps = peerCaps

	if err := ch.transport.Setup(channelReceiver{ch}); err != nil {
		return err
	}
	ch.setState(stateOpen)
	ch.startPing()
	return nil
}

// OpenWithoutHandshake binds the transport directly without performing the
// capability preamble exchange, for in-process transports (internal
// transport.LocalTransport) or tests where both ends are constructed with
// known-compatible options and a text preamble would only add noise.
func (ch *Channel) OpenWithoutHandshake() error {
	if err := ch.transport.Setup(channelReceiver{ch}); err != nil {
		return err
	}
	ch.setState(stateOpen)
	ch.startPing()
	return nil
}

func (ch *Channel) State() channelState {
	return channelState(atomic.LoadInt32((*int32)(&ch.state)))
}

func (ch *Channel) setState(s channelState) {
	atomic.StoreInt32((*int32)(&ch.state), int32(s))
}

func (ch *Channel) metrics() *Metrics { return ch.opts.Metrics }

// writeCommand serializes cmd through the transport. last=false directs
// future writes on the same channel; only Close's write passes last=true.
// It is the single choke point every outgoing Command passes through, so
// it is also where CreatedAt is stamped when chainCause is enabled.
func (ch *Channel) writeCommand(ctx context.Context, cmd *Command) error {
	if ch.State() >= stateClosing && cmd.Kind != KindClose {
		return ErrChannelClosed
	}
	if cmd.CreatedAt == "" {
		cmd.CreatedAt = captureCreationStack(ch.opts.ChainCause)
	}
	payload, err := ch.codec.Encode(cmd)
	if err != nil {
		return errors.Wrapf(err, "rchannel: encoding %s command", cmd.Kind)
	}
	return ch.transport.Write(ctx, payload, cmd.Kind == KindClose)
}

// Export publishes obj (a CapabilitySet) under interfaces, returning its
// oid. Calling Export again with the same obj merges interfaces and bumps
// the refcount rather than allocating a new oid, per spec.md §4.6.
func (ch *Channel) Export(ctx context.Context, obj CapabilitySet, interfaces ...string) (int64, error) {
	oid, err := ch.exports.Export(ctx, obj, interfaces)
	if err != nil {
		return 0, err
	}
	ch.metrics().setExportsActive(float64(ch.exports.Len()))
	return oid, nil
}

// Unexport releases one reference to oid locally (not to be confused with
// unexportRemote, which tells the peer to release its hold on an oid we
// hold a Proxy for).
func (ch *Channel) Unexport(oid int64, callSite string) {
	ch.exports.Unexport(oid, callSite)
	ch.metrics().setExportsActive(float64(ch.exports.Len()))
}

// Pin prevents obj's export entry from being reclaimed by ordinary
// over-unexport.
func (ch *Channel) Pin(obj any) { ch.exports.Pin(obj) }

// RegisterType makes a concrete argument/result type decodable, mirroring
// a classloader making a class available for resolution. Every type that
// can appear as a call argument or return value — on either side of the
// channel — must be registered before use.
func (ch *Channel) RegisterType(v any) { ch.codec.Register(v) }

// unexportRemote tells the peer we no longer hold a reference to oid (an
// object it exported to us). Invoked by a Proxy's post-mortem cleanup hook
// and by explicit Proxy release.
func (ch *Channel) unexportRemote(oid int64) {
	if ch.State() >= stateClosed {
		return
	}
	_ = ch.writeCommand(context.Background(), &Command{Kind: KindUnexport, OID: oid})
}

// Close transitions the channel OPEN/OPENING → CLOSING → CLOSED: it drains
// pending cleanup hooks, aborts in-flight calls and executing callables,
// clears the export table (propagating cause to every live pipe), and
// closes both transport halves. Independent teardown failures are
// aggregated rather than discarding all but the first.
func (ch *Channel) Close(cause error) error {
	ch.mu.Lock()
	if ch.State() >= stateClosing {
		ch.mu.Unlock()
		return nil
	}
	ch.setState(stateClosing)
	pending := ch.pendingCalls
	ch.pendingCalls = make(map[int64]*pendingCall)
	executing := ch.executingCalls
	ch.executingCalls = make(map[int64]context.CancelFunc)
	ch.mu.Unlock()

	ch.cleanups.drain()
	ch.stopPing()

	if cause == nil {
		cause = ErrChannelClosed
	}
	for _, pc := range pending {
		pc.abort(cause)
	}
	for _, cancel := range executing {
		cancel()
	}

	ch.pipes.abortAll(cause)
	ch.exports.Abort(cause)
	ch.metrics().setExportsActive(0)

	writeErr := ch.writeCommand(context.Background(), &Command{Kind: KindClose})
	closeWriteErr := ch.transport.CloseWrite()
	closeReadErr := ch.transport.CloseRead()

	ch.setState(stateClosed)
	return aggregateTeardown(writeErr, closeWriteErr, closeReadErr)
}
