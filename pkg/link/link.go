// Package link implements the Link Transport (§4.1, §4.8): the framed
// request/response and event-streaming protocol running over the serial
// connection between Node R (radio) and Node H (host). Grounded on
// pkg/zigbee/ash.go's ASHLayer — pending-request map, sequence numbers,
// Connect/timeout pattern, and a dedicated read-loop goroutine — but
// generalized from an EZSP-over-ASH session to HELLO/PING/CMD_REQ/
// CMD_RSP/EVT/SNAPSHOT frame types, and restructured around the RX-parser/
// TX-pump task pair of §5 using golang.org/x/sync/errgroup.
package link

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/urmzd/zgw/pkg/frame"
	"github.com/urmzd/zgw/pkg/gwerr"
)

// DefaultEventQueueDepth is the TX pump's bounded event queue size on R
// (§5: "a bounded queue (default 24 on R)").
const DefaultEventQueueDepth = 24

// HandshakeTimeout bounds how long Connect waits for HELLO_ACK.
const HandshakeTimeout = 5 * time.Second

// RequestTimeout bounds how long SendRequest waits for a matching CMD_RSP
// before the caller gives up on the req_id (§5 cancellation policy).
const RequestTimeout = 3 * time.Second

// Conn is the byte-stream the Link runs over (a serial port or, in tests,
// an io.Pipe half).
type Conn interface {
	io.Reader
	io.Writer
	io.Closer
}

// RequestHandler answers a CMD_REQ payload with a CMD_RSP payload. Used on
// the responder side of the link (Node R answering Node H).
type RequestHandler func(payload []byte) []byte

// Link is one side of the framed gateway link. Either side can send
// CMD_REQ/wait for CMD_RSP (request role) and/or serve CMD_REQ (responder
// role); a given deployment uses one or the other per §2's node split, but
// nothing here forces that.
type Link struct {
	conn  Conn
	codec *frame.Codec

	seq uint32 // next outgoing sequence number, atomically incremented

	pendingMu sync.Mutex
	pending   map[uint16]chan frame.Frame

	events chan frame.Frame

	onEvent      func(frame.Frame)
	onSnapshot   func(frame.Frame)
	onRequest    RequestHandler
	connected    atomic.Bool
	writeMu      sync.Mutex
}

// Option configures optional Link behavior.
type Option func(*Link)

// WithEventHandler registers a callback invoked for every received EVT
// frame (used on Node H to feed the event bus / projection layer).
func WithEventHandler(f func(frame.Frame)) Option {
	return func(l *Link) { l.onEvent = f }
}

// WithSnapshotHandler registers a callback invoked for every received
// SNAPSHOT frame (used on Node H's Snapshot Applier).
func WithSnapshotHandler(f func(frame.Frame)) Option {
	return func(l *Link) { l.onSnapshot = f }
}

// WithRequestHandler registers the responder-side CMD_REQ handler (used on
// Node R).
func WithRequestHandler(f RequestHandler) Option {
	return func(l *Link) { l.onRequest = f }
}

// New returns a Link over conn, with an event queue of depth
// DefaultEventQueueDepth.
func New(conn Conn, opts ...Option) *Link {
	l := &Link{
		conn:    conn,
		codec:   frame.NewCodec(),
		pending: make(map[uint16]chan frame.Frame),
		events:  make(chan frame.Frame, DefaultEventQueueDepth),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Connect sends HELLO and waits up to HandshakeTimeout for HELLO_ACK,
// returning once the link is ready or the handshake times out. It does not
// start the RX parser and TX pump tasks; callers start those with Run.
func (l *Link) Connect(ctx context.Context) error {
	if err := l.send(frame.Frame{MsgType: frame.MsgHello, Seq: l.nextSeq()}); err != nil {
		return fmt.Errorf("send HELLO: %w", err)
	}

	deadline := time.Now().Add(HandshakeTimeout)
	for time.Now().Before(deadline) {
		f, err := l.readOne()
		if err != nil {
			return err
		}
		if f == nil {
			continue
		}
		if f.MsgType == frame.MsgHelloAck {
			l.connected.Store(true)
			log.Info().Msg("link handshake complete")
			return nil
		}
	}
	return gwerr.ErrTimeout
}

// Accept waits for an incoming HELLO and replies HELLO_ACK (the responder
// side of the handshake, used on Node R).
func (l *Link) Accept(ctx context.Context) error {
	deadline := time.Now().Add(HandshakeTimeout)
	for time.Now().Before(deadline) {
		f, err := l.readOne()
		if err != nil {
			return err
		}
		if f == nil {
			continue
		}
		if f.MsgType == frame.MsgHello {
			if err := l.send(frame.Frame{MsgType: frame.MsgHelloAck, Seq: l.nextSeq()}); err != nil {
				return err
			}
			l.connected.Store(true)
			return nil
		}
	}
	return gwerr.ErrTimeout
}

// Run drives the RX parser and TX pump until ctx is canceled or a fatal
// I/O error occurs on either. Grounded on §5's three-task link model,
// minus the snapshot streamer (owned by pkg/snapshot, which calls
// PublishEvent/PublishSnapshotFrame rather than running inside Link).
func (l *Link) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return l.rxLoop(gctx) })
	g.Go(func() error { return l.txLoop(gctx) })
	return g.Wait()
}

func (l *Link) rxLoop(ctx context.Context) error {
	buf := make([]byte, 4096)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := l.conn.Read(buf)
		if err != nil {
			return fmt.Errorf("link read: %w", err)
		}
		if n == 0 {
			continue
		}

		data := buf[:n]
		for len(data) > 0 {
			consumed, f, ferr := l.codec.Feed(data)
			data = data[consumed:]
			if ferr != nil {
				log.Warn().Err(ferr).Msg("link framing error, resynced")
			}
			if f != nil {
				l.dispatch(*f)
			}
		}
	}
}

func (l *Link) dispatch(f frame.Frame) {
	switch f.MsgType {
	case frame.MsgPing:
		_ = l.send(frame.Frame{MsgType: frame.MsgPong, Seq: f.Seq})
	case frame.MsgPong:
		// no global watchdog (§5): staleness is observed via event
		// drought elsewhere, nothing to do here.
	case frame.MsgCmdRsp:
		l.completePending(f)
	case frame.MsgCmdReq:
		l.serveRequest(f)
	case frame.MsgEvt:
		if l.onEvent != nil {
			l.onEvent(f)
		}
	case frame.MsgSnapshot:
		if l.onSnapshot != nil {
			l.onSnapshot(f)
		}
	}
}

func (l *Link) completePending(f frame.Frame) {
	l.pendingMu.Lock()
	ch, ok := l.pending[f.Seq]
	if ok {
		delete(l.pending, f.Seq)
	}
	l.pendingMu.Unlock()
	if !ok {
		// A CMD_RSP for a req_id we already forgot (deadline passed): log
		// and drop, per §5's cancellation policy.
		log.Debug().Uint16("seq", f.Seq).Msg("dropping CMD_RSP for unknown/expired req_id")
		return
	}
	select {
	case ch <- f:
	default:
	}
}

func (l *Link) serveRequest(f frame.Frame) {
	if l.onRequest == nil {
		return
	}
	resp := l.onRequest(f.Payload)
	_ = l.send(frame.Frame{MsgType: frame.MsgCmdRsp, Seq: f.Seq, Payload: resp})
}

func (l *Link) txLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f := <-l.events:
			if err := l.send(f); err != nil {
				return err
			}
		}
	}
}

// SendRequest issues a CMD_REQ and blocks for the matching CMD_RSP,
// allocating a fresh sequence number as req_id. Returns gwerr.ErrTimeout
// if RequestTimeout elapses first, at which point the req_id is forgotten
// (a later CMD_RSP carrying it is logged and dropped, §5).
func (l *Link) SendRequest(ctx context.Context, payload []byte) ([]byte, error) {
	seq := l.nextSeq()
	respCh := make(chan frame.Frame, 1)

	l.pendingMu.Lock()
	l.pending[seq] = respCh
	l.pendingMu.Unlock()

	if err := l.send(frame.Frame{MsgType: frame.MsgCmdReq, Seq: seq, Payload: payload}); err != nil {
		l.forgetPending(seq)
		return nil, err
	}

	timer := time.NewTimer(RequestTimeout)
	defer timer.Stop()

	select {
	case resp := <-respCh:
		return resp.Payload, nil
	case <-timer.C:
		l.forgetPending(seq)
		return nil, gwerr.ErrTimeout
	case <-ctx.Done():
		l.forgetPending(seq)
		return nil, ctx.Err()
	}
}

func (l *Link) forgetPending(seq uint16) {
	l.pendingMu.Lock()
	delete(l.pending, seq)
	l.pendingMu.Unlock()
}

// PublishEvent enqueues an EVT frame onto the bounded TX queue. If the
// queue is full the oldest undelivered event is dropped to make room
// (§5: "drop the oldest not-yet-consumed event and logs a warning" — the
// rules/event queue's policy, applied here identically to the link's own
// outbound queue since Go channels don't support mid-queue eviction
// directly).
func (l *Link) PublishEvent(payload []byte) {
	f := frame.Frame{MsgType: frame.MsgEvt, Seq: l.nextSeq(), Payload: payload}
	select {
	case l.events <- f:
	default:
		select {
		case <-l.events:
		default:
		}
		select {
		case l.events <- f:
		default:
			log.Warn().Msg("link event queue full, dropping event")
		}
	}
}

// SendSnapshotFrame writes a SNAPSHOT frame directly (bypassing the event
// queue: snapshot streaming is its own notified task per §5, not
// competing with steady-state event traffic for the same bounded queue).
func (l *Link) SendSnapshotFrame(payload []byte) error {
	return l.send(frame.Frame{MsgType: frame.MsgSnapshot, Seq: l.nextSeq(), Payload: payload})
}

func (l *Link) nextSeq() uint16 {
	return uint16(atomic.AddUint32(&l.seq, 1))
}

func (l *Link) send(f frame.Frame) error {
	buf, err := frame.Encode(f)
	if err != nil {
		return err
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	_, err = l.conn.Write(buf)
	return err
}

// readOne reads and decodes at most one frame from conn, used only during
// the handshake before Run's rxLoop takes over frame dispatch.
func (l *Link) readOne() (*frame.Frame, error) {
	buf := make([]byte, 256)
	n, err := l.conn.Read(buf)
	if err != nil {
		return nil, err
	}
	data := buf[:n]
	for len(data) > 0 {
		consumed, f, ferr := l.codec.Feed(data)
		data = data[consumed:]
		if ferr != nil {
			continue
		}
		if f != nil {
			return f, nil
		}
	}
	return nil, nil
}

// IsConnected reports whether the HELLO handshake has completed.
func (l *Link) IsConnected() bool {
	return l.connected.Load()
}

// Close closes the underlying connection, unblocking any in-flight reads.
func (l *Link) Close() error {
	return l.conn.Close()
}
