package reactor

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/backoff"
	deadlock "github.com/sasha-s/go-deadlock"

	"github.com/constellation-run/constellation-go/internal/wire"
	"github.com/constellation-run/constellation-go/pkg/pid"
)

// peerState is the per-peer state machine of spec §4.1.
type peerState int

const (
	stateUnconnected peerState = iota
	stateConnecting
	stateConnected
	stateDraining
	stateClosed
)

// ErrExited is returned from DequeueRecv when the remote closed its send
// half cleanly with no more data (§4.2, ChannelError::Exited).
var ErrExited = errors.New("reactor: remote exited")

// ErrPeerClosed is returned from EnqueueSend/DequeueRecv once the local
// side has unregistered this direction.
var ErrPeerClosed = errors.New("reactor: peer connection closed")

type sendRequest struct {
	payload []byte
	done    chan error
}

type recvResult struct {
	payload []byte
	err     error
}

// peerConn is the Reactor's state for one remote pid: at most one TCP
// connection, a bounded send queue, and a bounded recv queue (spec §3
// "Peer connection").
type peerConn struct {
	r      *Reactor
	remote pid.Pid

	mu             deadlock.Mutex
	state          peerState
	conn           net.Conn
	senderLive     bool
	receiverLive   bool
	dialing        bool
	winnerIsRemote bool // true if the live connection was initiated by remote

	sendCh  chan sendRequest
	recvCh  chan recvResult
	stopIO  chan struct{}
	drained chan struct{} // closed once the io pumps have exited
}

func newPeerConn(r *Reactor, remote pid.Pid) *peerConn {
	return &peerConn{
		r:       r,
		remote:  remote,
		state:   stateUnconnected,
		sendCh:  make(chan sendRequest, 64),
		recvCh:  make(chan recvResult, 64),
		stopIO:  make(chan struct{}),
		drained: make(chan struct{}),
	}
}

// registerDirection claims direction for this peer, enforcing the §3
// uniqueness invariant: at most one live Sender and one live Receiver per
// remote at a time.
func (pc *peerConn) registerDirection(d Direction) bool {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if d == Send {
		if pc.senderLive {
			return false
		}
		pc.senderLive = true
	} else {
		if pc.receiverLive {
			return false
		}
		pc.receiverLive = true
	}
	return true
}

func (pc *peerConn) closeDirection(d Direction) error {
	pc.mu.Lock()
	if d == Send {
		pc.senderLive = false
	} else {
		pc.receiverLive = false
	}
	bothIdle := !pc.senderLive && !pc.receiverLive
	pc.mu.Unlock()

	if d == Send {
		// Cooperate with the reactor to signal end-of-stream to the
		// remote's Receiver (§4.2 "On drop").
		req := sendRequest{payload: nil, done: make(chan error, 1)}
		select {
		case pc.sendCh <- req:
			<-req.done
		default:
			// Writer already gone; nothing to flush.
		}
	}

	if bothIdle {
		pc.closeLocal()
	}
	return nil
}

// ensureConnecting kicks off connection establishment if this peer is
// still Unconnected. Only the lexicographically smaller pid dials
// (§4.1); the larger side waits for an inbound accept to promote it.
func (pc *peerConn) ensureConnecting() {
	pc.mu.Lock()
	if pc.state != stateUnconnected || pc.dialing {
		pc.mu.Unlock()
		return
	}
	pc.state = stateConnecting
	shouldDial := pc.r.local.Less(pc.remote)
	if shouldDial {
		pc.dialing = true
	}
	pc.mu.Unlock()

	if shouldDial {
		go pc.dialLoop()
	}
}

func (pc *peerConn) dialLoop() {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0 // retry until the owning handle drops (§9 open question)

	for {
		select {
		case <-pc.stopIO:
			return
		default:
		}

		conn, err := net.DialTimeout("tcp", pc.remote.Addr().String(), 10*time.Second)
		if err != nil {
			pc.r.logger.Debug("dial failed, retrying", "remote", pc.remote, "err", err)
			wait := bo.NextBackOff()
			if wait == backoff.Stop {
				return
			}
			select {
			case <-time.After(wait):
				continue
			case <-pc.stopIO:
				return
			}
		}

		if err := pc.handshakeOutbound(conn); err != nil {
			pc.r.logger.Debug("handshake failed, retrying", "remote", pc.remote, "err", err)
			_ = conn.Close()
			wait := bo.NextBackOff()
			if wait == backoff.Stop {
				return
			}
			select {
			case <-time.After(wait):
				continue
			case <-pc.stopIO:
				return
			}
		}
		pc.resolveConnection(conn, pc.r.local)
		return
	}
}

func (pc *peerConn) handshakeOutbound(conn net.Conn) error {
	if err := wire.Encode(conn, pc.r.local); err != nil {
		return err
	}
	var got pid.Pid
	if err := wire.Decode(conn, &got); err != nil {
		return err
	}
	if !got.Equal(pc.remote) {
		return fmt.Errorf("reactor: dialed %v but peer identified as %v", pc.remote, got)
	}
	return nil
}

// resolveConnection commits conn as this peer's live connection,
// resolving the simultaneous-connect race deterministically: the
// connection whose initiator has the smaller pid wins (§4.1).
func (pc *peerConn) resolveConnection(conn net.Conn, initiator pid.Pid) {
	pc.mu.Lock()
	if pc.state == stateConnected {
		existingInitiator := pc.r.local
		if pc.winnerIsRemote {
			existingInitiator = pc.remote
		}
		if !initiator.Less(existingInitiator) {
			pc.mu.Unlock()
			_ = conn.Close()
			return
		}
		// The new connection's initiator is smaller: it wins. Close the
		// old socket; the io pumps will observe the close and exit, and
		// we start fresh pumps on the new connection below.
		old := pc.conn
		pc.conn = nil
		pc.mu.Unlock()
		if old != nil {
			_ = old.Close()
		}
		pc.mu.Lock()
	}
	pc.conn = conn
	pc.state = stateConnected
	pc.winnerIsRemote = initiator.Equal(pc.remote)
	pc.mu.Unlock()

	pc.r.logger.Debug("peer connected", "remote", pc.remote, "inbound", pc.winnerIsRemote)
	if pc.r.metrics != nil {
		pc.r.mu.Lock()
		n := len(pc.r.peers)
		pc.r.mu.Unlock()
		pc.r.metrics.SetPeersConnected(n)
	}
	go pc.writePump(conn)
	go pc.readPump(conn)
}

func (pc *peerConn) writePump(conn net.Conn) {
	for {
		select {
		case req := <-pc.sendCh:
			err := wire.WriteFrame(conn, req.payload)
			if pc.r.metrics != nil && err == nil {
				pc.r.metrics.ObserveSend(pc.remote.String(), len(req.payload))
			}
			if req.done != nil {
				req.done <- err
			}
			if err != nil {
				return
			}
		case <-pc.stopIO:
			return
		}
	}
}

func (pc *peerConn) readPump(conn net.Conn) {
	for {
		payload, err := wire.ReadFrame(conn)
		if err != nil {
			var result recvResult
			if errors.Is(err, wire.ErrEndOfStream) {
				result = recvResult{err: ErrExited}
			} else {
				result = recvResult{err: err}
			}
			select {
			case pc.recvCh <- result:
			case <-pc.stopIO:
			}
			return
		}
		if pc.r.metrics != nil {
			pc.r.metrics.ObserveRecv(pc.remote.String(), len(payload))
		}
		select {
		case pc.recvCh <- recvResult{payload: payload}:
		case <-pc.stopIO:
			return
		}
	}
}

func (pc *peerConn) enqueueSend(payload []byte) error {
	req := sendRequest{payload: payload, done: make(chan error, 1)}
	select {
	case pc.sendCh <- req:
	case <-pc.stopIO:
		return ErrPeerClosed
	}
	select {
	case err := <-req.done:
		return err
	case <-pc.stopIO:
		return ErrPeerClosed
	}
}

func (pc *peerConn) dequeueRecv() ([]byte, error) {
	select {
	case res := <-pc.recvCh:
		return res.payload, res.err
	case <-pc.stopIO:
		return nil, ErrPeerClosed
	}
}

func (pc *peerConn) tryDequeueRecv() ([]byte, bool, error) {
	select {
	case res := <-pc.recvCh:
		return res.payload, true, res.err
	default:
		return nil, false, nil
	}
}

// trySendReady reports whether the send queue has room. It is a best
// effort readiness signal only: between the check and a later EnqueueSend
// the queue may fill, in which case EnqueueSend simply blocks as usual.
func (pc *peerConn) trySendReady() bool {
	pc.mu.Lock()
	state := pc.state
	pc.mu.Unlock()
	if state == stateClosed {
		return false
	}
	return len(pc.sendCh) < cap(pc.sendCh)
}

// closeLocal tears down this peer's connection and io pumps and removes
// it from the reactor's table.
func (pc *peerConn) closeLocal() {
	pc.mu.Lock()
	if pc.state == stateClosed {
		pc.mu.Unlock()
		return
	}
	pc.state = stateClosed
	conn := pc.conn
	pc.mu.Unlock()

	select {
	case <-pc.stopIO:
	default:
		close(pc.stopIO)
	}
	if conn != nil {
		_ = conn.Close()
	}
	pc.r.forget(pc.remote)
}
