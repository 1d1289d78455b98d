// Package reactor implements the per-process I/O event loop described in
// spec.md §4.1: it owns the listener socket, accepts peers, reconciles
// duplicate connection attempts, and exposes a per-peer mailbox that the
// channel layer (internal/channel) drives.
package reactor

import (
	"fmt"
	"net"
	"os"
	"sync"

	deadlock "github.com/sasha-s/go-deadlock"

	"github.com/constellation-run/constellation-go/internal/log"
	"github.com/constellation-run/constellation-go/internal/metrics"
	"github.com/constellation-run/constellation-go/pkg/pid"
)

// Direction distinguishes the two mailbox roles a peer endpoint can hold.
type Direction int

const (
	Send Direction = iota
	Recv
)

func (d Direction) String() string {
	if d == Send {
		return "send"
	}
	return "recv"
}

// ForwardFilter decides, for a freshly-identified inbound connection,
// whether this process should keep it (true) or hand it to a
// SocketForwardee (false) — spec §4.1 "Forwarding".
type ForwardFilter func(remote pid.Pid) bool

// Reactor owns the listener and the peer connection table for one
// process. All socket I/O happens on goroutines it manages; callers drive
// it only through the mailbox API below.
type Reactor struct {
	local    pid.Pid
	listener net.Listener
	logger   log.Logger
	metrics  *metrics.Metrics
	forward  ForwardFilter
	fwdee    SocketForwardee

	mu    deadlock.Mutex
	peers map[pid.Pid]*peerConn

	acceptWG sync.WaitGroup
	closeCh  chan struct{}
	closed   bool
}

// Option configures a Reactor at construction.
type Option func(*Reactor)

// WithLogger attaches a logger; the default is a no-op logger.
func WithLogger(l log.Logger) Option { return func(r *Reactor) { r.logger = l } }

// WithMetrics attaches Prometheus instrumentation; nil is a safe no-op.
func WithMetrics(m *metrics.Metrics) Option { return func(r *Reactor) { r.metrics = m } }

// WithForwardFilter installs the forwarding decision applied to every
// inbound connection once its peer has been identified.
func WithForwardFilter(f ForwardFilter) Option { return func(r *Reactor) { r.forward = f } }

// WithSocketForwardee installs the delegate used to hand off sockets that
// ForwardFilter rejects.
func WithSocketForwardee(f SocketForwardee) Option { return func(r *Reactor) { r.fwdee = f } }

func newReactor(local pid.Pid, listener net.Listener, opts ...Option) *Reactor {
	r := &Reactor{
		local:    local,
		listener: listener,
		logger:   log.NewNopLogger(),
		forward:  func(pid.Pid) bool { return true },
		peers:    make(map[pid.Pid]*peerConn),
		closeCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// New constructs a Reactor bound to an already-listening socket, for
// callers (such as tests) that own their listener directly rather than
// inheriting LISTENER_FD.
func New(local pid.Pid, listener net.Listener, opts ...Option) *Reactor {
	return newReactor(local, listener, opts...)
}

// WithFD adopts an already-bound, already-listening socket at fd (the
// fabric-provided LISTENER_FD, §6). The local Pid is derived from the
// socket's bound address.
func WithFD(fd uintptr, opts ...Option) (*Reactor, error) {
	file := os.NewFile(fd, "constellation-listener")
	if file == nil {
		return nil, fmt.Errorf("reactor: fd %d is not valid", fd)
	}
	listener, err := net.FileListener(file)
	if err != nil {
		return nil, fmt.Errorf("reactor: adopting fd %d: %w", fd, err)
	}
	tcpAddr, ok := listener.Addr().(*net.TCPAddr)
	if !ok {
		return nil, fmt.Errorf("reactor: fd %d is not a TCP listener", fd)
	}
	return newReactor(pid.FromTCPAddr(tcpAddr), listener, opts...), nil
}

// WithForwardee constructs a Reactor for a monitored process, where
// inbound sockets arrive through the monitor's socket-forwarding
// handshake rather than accept() (§4.1).
func WithForwardee(local pid.Pid, fwdee SocketForwardee, opts ...Option) *Reactor {
	opts = append(opts, WithSocketForwardee(fwdee))
	r := newReactor(local, nil, opts...)
	return r
}

// Local returns this process's Pid.
func (r *Reactor) Local() pid.Pid { return r.local }

// Handle is returned by Run; dropping it (calling Close) closes all peers
// and waits for the accept loop to exit.
type Handle struct {
	r *Reactor
}

// Close stops accepting new connections and closes every peer connection.
// Sends still queued for a peer are not flushed first, and Close waits
// only for the accept loop, not for the per-peer goroutines.
func (h *Handle) Close() error {
	return h.r.shutdown()
}

// Run starts the reactor's background goroutines: the accept loop (if a
// listener was adopted) and per-peer connection handling. It returns a
// Handle whose Close tears everything down.
func (r *Reactor) Run() *Handle {
	if r.listener != nil {
		r.acceptWG.Add(1)
		go r.acceptLoop()
	}
	return &Handle{r: r}
}

func (r *Reactor) acceptLoop() {
	defer r.acceptWG.Done()
	for {
		conn, err := r.listener.Accept()
		if err != nil {
			select {
			case <-r.closeCh:
				return
			default:
				r.logger.Error("accept failed", "err", err)
				return
			}
		}
		go r.handleInbound(conn)
	}
}

func (r *Reactor) shutdown() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	peers := make([]*peerConn, 0, len(r.peers))
	for _, pc := range r.peers {
		peers = append(peers, pc)
	}
	r.mu.Unlock()

	close(r.closeCh)
	if r.listener != nil {
		_ = r.listener.Close()
	}
	for _, pc := range peers {
		pc.closeLocal()
	}
	r.acceptWG.Wait()
	return nil
}

// getOrCreate returns the peerConn for remote, creating it (in
// Unconnected state) if this is the first time it is referenced.
func (r *Reactor) getOrCreate(remote pid.Pid) *peerConn {
	r.mu.Lock()
	defer r.mu.Unlock()
	pc, ok := r.peers[remote]
	if !ok {
		pc = newPeerConn(r, remote)
		r.peers[remote] = pc
	}
	return pc
}

func (r *Reactor) forget(remote pid.Pid) {
	r.mu.Lock()
	delete(r.peers, remote)
	n := len(r.peers)
	r.mu.Unlock()
	if r.metrics != nil {
		r.metrics.SetPeersConnected(n)
	}
}

// SenderRegister claims the send-direction mailbox for remote. It returns
// (handle, false) if a Sender to remote is already registered — the
// caller must treat that as the §3 uniqueness-invariant violation.
func (r *Reactor) SenderRegister(remote pid.Pid) (*PeerHandle, bool) {
	if remote.Equal(r.local) {
		return nil, false
	}
	pc := r.getOrCreate(remote)
	if !pc.registerDirection(Send) {
		return nil, false
	}
	pc.ensureConnecting()
	return &PeerHandle{r: r, pc: pc, direction: Send}, true
}

// RecvRegister claims the recv-direction mailbox for remote.
func (r *Reactor) RecvRegister(remote pid.Pid) (*PeerHandle, bool) {
	if remote.Equal(r.local) {
		return nil, false
	}
	pc := r.getOrCreate(remote)
	if !pc.registerDirection(Recv) {
		return nil, false
	}
	pc.ensureConnecting()
	return &PeerHandle{r: r, pc: pc, direction: Recv}, true
}

// PeerHandle is the capability returned by *Register, used by
// internal/channel to drive one direction of one peer's mailbox.
type PeerHandle struct {
	r         *Reactor
	pc        *peerConn
	direction Direction
}

// Remote returns the peer this handle talks to.
func (h *PeerHandle) Remote() pid.Pid { return h.pc.remote }

// EnqueueSend submits payload to be written to the peer socket, blocking
// until it has been handed to the connection's writer (§4.2 "parking the
// caller until queued onto the socket"). A nil payload is not valid; use
// Close to send the end-of-stream marker.
func (h *PeerHandle) EnqueueSend(payload []byte) error {
	return h.pc.enqueueSend(payload)
}

// DequeueRecv blocks for the next framed payload addressed to this
// endpoint, or returns ErrExited / a wire error.
func (h *PeerHandle) DequeueRecv() ([]byte, error) {
	return h.pc.dequeueRecv()
}

// TryDequeueRecv is the non-blocking form used by the select primitive to
// poll readiness without committing to a wait (spec §4.3 step 1).
func (h *PeerHandle) TryDequeueRecv() (payload []byte, ready bool, err error) {
	return h.pc.tryDequeueRecv()
}

// TrySend reports whether the peer's bounded send queue currently has
// room, for select's readiness poll. EnqueueSend may still block until
// the writer takes the payload.
func (h *PeerHandle) TrySend() bool {
	return h.pc.trySendReady()
}

// Close unregisters this direction, cooperating with the reactor to send
// an end-of-stream marker and release the peer once both directions are
// idle (§4.2 "On drop").
func (h *PeerHandle) Close() error {
	return h.pc.closeDirection(h.direction)
}
