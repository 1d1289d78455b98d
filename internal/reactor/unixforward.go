package reactor

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"

	"github.com/constellation-run/constellation-go/internal/wire"
	"github.com/constellation-run/constellation-go/pkg/pid"
)

// NewForwardingSocketpair allocates a connected pair of unix domain
// sockets for a monitor/child forwarding relationship: the monitor side
// wraps its end in a UnixSocketForwarder, the child side passes its end
// to ReceiveForwarded in a loop.
func NewForwardingSocketpair() (monitorSide, childSide *net.UnixConn, err error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("reactor: socketpair: %w", err)
	}
	monitorFile := os.NewFile(uintptr(fds[0]), "constellation-forward-monitor")
	childFile := os.NewFile(uintptr(fds[1]), "constellation-forward-child")
	defer monitorFile.Close()
	defer childFile.Close()

	mc, err := net.FileConn(monitorFile)
	if err != nil {
		return nil, nil, err
	}
	cc, err := net.FileConn(childFile)
	if err != nil {
		mc.Close()
		return nil, nil, err
	}
	return mc.(*net.UnixConn), cc.(*net.UnixConn), nil
}

// UnixSocketForwarder implements SocketForwardee by shipping the raw file
// descriptor of an already-identified TCP connection across a unix
// domain socket via SCM_RIGHTS ancillary data, alongside the connection's
// remote Pid encoded as the regular message body. This is how a monitor
// hands a sibling-bound inbound socket to the child it supervises (§4.1,
// §4.5).
type UnixSocketForwarder struct {
	conn *net.UnixConn
}

// NewUnixSocketForwarder wraps an established unix domain socket.
func NewUnixSocketForwarder(conn *net.UnixConn) *UnixSocketForwarder {
	return &UnixSocketForwarder{conn: conn}
}

// Forward implements SocketForwardee.
func (f *UnixSocketForwarder) Forward(remote pid.Pid, conn net.Conn) error {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return fmt.Errorf("reactor: cannot forward non-TCP connection for %v", remote)
	}
	raw, err := tcpConn.SyscallConn()
	if err != nil {
		return err
	}

	body, err := wire.EncodeValue(remote)
	if err != nil {
		return err
	}

	var ctrlErr error
	err = raw.Control(func(fd uintptr) {
		rights := unix.UnixRights(int(fd))
		_, _, ctrlErr = f.conn.WriteMsgUnix(body, rights, nil)
	})
	if err != nil {
		return err
	}
	if ctrlErr != nil {
		return ctrlErr
	}
	// The original fd stays open in this process until tcpConn is closed;
	// the forwarded process now owns an independent duplicate.
	return tcpConn.Close()
}

// ReceiveForwarded blocks for the next socket handed across conn by a
// UnixSocketForwarder and hands it to reactor via AdoptIdentified. It is
// meant to run in a loop on a dedicated goroutine in the child process.
func ReceiveForwarded(conn *net.UnixConn, reactor *Reactor) error {
	body := make([]byte, 4096)
	oob := make([]byte, unix.CmsgSpace(4))
	n, oobn, _, _, err := conn.ReadMsgUnix(body, oob)
	if err != nil {
		return err
	}

	var remote pid.Pid
	if err := wire.DecodeValue(body[:n], &remote); err != nil {
		return fmt.Errorf("reactor: decoding forwarded pid: %w", err)
	}

	msgs, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return fmt.Errorf("reactor: no control message in forwarded socket datagram")
	}
	fds, err := unix.ParseUnixRights(&msgs[0])
	if err != nil {
		return err
	}
	if len(fds) == 0 {
		return fmt.Errorf("reactor: no file descriptors in forwarded socket datagram")
	}

	file := os.NewFile(uintptr(fds[0]), fmt.Sprintf("forwarded-%s", remote))
	fc, err := net.FileConn(file)
	_ = file.Close()
	if err != nil {
		return err
	}

	reactor.AdoptIdentified(remote, fc)
	return nil
}
