package spawn

import (
	"fmt"
	"net"
	"os"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/constellation-run/constellation-go/internal/wire"
	"github.com/constellation-run/constellation-go/pkg/pid"
)

// NewLoopbackListener allocates an ephemeral-port TCP listener on the
// loopback interface, binding with SO_REUSEADDR/SO_REUSEPORT so the child
// process can later accept on the same socket without an intervening
// unbind/rebind window (supplemented from
// original_source::native_process_listener). Exported for
// internal/runtime's bootstrap chain, which needs the identical listener
// allocation scheme when it stands up the initial bridge and monitor.
func NewLoopbackListener() (*net.TCPListener, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var ctrlErr error
			err := c.Control(func(fd uintptr) {
				ctrlErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
				if ctrlErr == nil {
					ctrlErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
				}
			})
			if err != nil {
				return err
			}
			return ctrlErr
		},
	}
	l, err := lc.Listen(nil, "tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("spawn: allocating loopback listener: %w", err)
	}
	return l.(*net.TCPListener), nil
}

// spawnNative implements spec §4.4's native path. Go's syscall.ForkExec
// performs the fork/descriptor-positioning/execve sequence as a single
// async-signal-safe operation internally, so the manual fork-then-
// close-then-move_fd-then-execve dance of the original implementation
// collapses into one call: ProcAttr.Files positions descriptors 0..4 of
// the child directly, which is what LISTENER_FD=3/ARG_FD=4 require.
func spawnNative(deps *Deps, resources pid.Resources, closure wire.Closure) (*pid.Pid, error) {
	listener, err := NewLoopbackListener()
	if err != nil {
		return nil, err
	}
	defer listener.Close()

	childPid := pid.FromTCPAddr(listener.Addr().(*net.TCPAddr))

	payload := NativePayload{Bridge: deps.Bridge, Parent: deps.Self, Closure: closure}
	argFile, err := writeMemfdPayload(payload)
	if err != nil {
		return nil, err
	}
	defer argFile.Close()

	listenerFile, err := listener.File()
	if err != nil {
		return nil, fmt.Errorf("spawn: duplicating listener descriptor: %w", err)
	}
	defer listenerFile.Close()

	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("spawn: resolving current executable: %w", err)
	}

	resourcesJSON, err := resourcesEnv(resources)
	if err != nil {
		return nil, err
	}
	env := append(os.Environ(), "CONSTELLATION_RESOURCES="+resourcesJSON)

	attr := &syscall.ProcAttr{
		Env: env,
		Files: []uintptr{
			os.Stdin.Fd(),
			os.Stdout.Fd(),
			os.Stderr.Fd(),
			listenerFile.Fd(),
			argFile.Fd(),
		},
	}

	childOSPid, err := syscall.ForkExec(exe, os.Args, attr)
	if err != nil {
		return nil, fmt.Errorf("spawn: fork+exec: %w", err)
	}
	deps.Logger.Debug("spawned native child", "os_pid", childOSPid, "pid", childPid)

	return &childPid, nil
}

// writeMemfdPayload serializes v into an anonymous memory-backed file,
// seeks it back to 0 (the child inherits the same seek offset, per
// ARG_FD's "seekable payload" contract in §6), and returns it.
func writeMemfdPayload(v any) (*os.File, error) {
	fd, err := unix.MemfdCreate("constellation-arg", 0)
	if err != nil {
		return nil, fmt.Errorf("spawn: memfd_create: %w", err)
	}
	f := os.NewFile(uintptr(fd), "constellation-arg")

	if err := wire.Encode(f, v); err != nil {
		f.Close()
		return nil, fmt.Errorf("spawn: writing arg payload: %w", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("spawn: rewinding arg payload: %w", err)
	}
	return f, nil
}
