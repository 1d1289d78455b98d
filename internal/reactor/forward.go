package reactor

import (
	"net"

	"github.com/constellation-run/constellation-go/internal/wire"
	"github.com/constellation-run/constellation-go/pkg/pid"
)

// SocketForwardee receives inbound connections this process's Reactor
// decided not to keep for itself (§4.1 "Forwarding"): in a monitored
// process, any inbound socket whose peer is not the bridge belongs to a
// sibling process sharing the same fabric-allocated listener.
type SocketForwardee interface {
	Forward(remote pid.Pid, conn net.Conn) error
}

// handleInbound performs the identity handshake on a freshly accepted
// connection, then either keeps it (resolveConnection) or hands it to the
// configured SocketForwardee.
func (r *Reactor) handleInbound(conn net.Conn) {
	if err := wire.Encode(conn, r.local); err != nil {
		r.logger.Error("inbound handshake write failed", "err", err)
		_ = conn.Close()
		return
	}
	var remote pid.Pid
	if err := wire.Decode(conn, &remote); err != nil {
		r.logger.Error("inbound handshake read failed", "err", err)
		_ = conn.Close()
		return
	}

	if !r.forward(remote) {
		if r.fwdee == nil {
			r.logger.Error("no forwardee configured for foreign peer", "remote", remote)
			_ = conn.Close()
			return
		}
		if err := r.fwdee.Forward(remote, conn); err != nil {
			r.logger.Error("forwarding inbound socket failed", "remote", remote, "err", err)
			_ = conn.Close()
		}
		return
	}

	pc := r.getOrCreate(remote)
	pc.resolveConnection(conn, remote)
}

// AdoptIdentified registers a connection whose remote identity is already
// known — the steady-state path for sibling-to-sibling channels in a
// monitored process (§4.1): the monitor's own Reactor performs the
// identity handshake once (handleInbound, to decide whether to keep or
// forward the socket) and ships the already-identified connection and its
// remote Pid across the monitor↔child unix socket, so the child must not
// repeat the handshake.
func (r *Reactor) AdoptIdentified(remote pid.Pid, conn net.Conn) {
	pc := r.getOrCreate(remote)
	pc.resolveConnection(conn, remote)
}
