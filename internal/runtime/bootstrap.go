package runtime

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"

	"github.com/constellation-run/constellation-go/internal/bridge"
	"github.com/constellation-run/constellation-go/internal/channel"
	"github.com/constellation-run/constellation-go/internal/config"
	"github.com/constellation-run/constellation-go/internal/fatal"
	"github.com/constellation-run/constellation-go/internal/format"
	"github.com/constellation-run/constellation-go/internal/log"
	"github.com/constellation-run/constellation-go/internal/metrics"
	"github.com/constellation-run/constellation-go/internal/monitor"
	"github.com/constellation-run/constellation-go/internal/reactor"
	"github.com/constellation-run/constellation-go/internal/runtimeinfo"
	"github.com/constellation-run/constellation-go/internal/spawn"
	"github.com/constellation-run/constellation-go/pkg/event"
	"github.com/constellation-run/constellation-go/pkg/pid"
)

// envSelfAddr carries a monitored process's own identity down from its
// monitor: since a monitored process's identity is its monitor's
// listening socket address, the process itself has no listener of its
// own to derive it from.
const envSelfAddr = "CONSTELLATION_INTERNAL_SELF"

func versionString() string {
	return fmt.Sprintf("constellation %s", runtimeinfo.Version)
}

// openArgFD reports whether fd spawn.ArgFD is open in this process,
// meaning it was started by Spawn rather than by the bootstrap chain.
func openArgFD() (*os.File, bool) {
	f := os.NewFile(spawn.ArgFD, "arg")
	if f == nil {
		return nil, false
	}
	if _, err := f.Stat(); err != nil {
		return nil, false
	}
	return f, true
}

// adoptForwardFD opens fd spawn.ListenerFD as the unix domain socket a
// monitor uses to forward sockets addressed to this process, for the
// final re-exec'd user process in the bootstrap chain (which has no
// listener of its own; its identity is its monitor's address).
func adoptForwardFD() (*net.UnixConn, error) {
	f := os.NewFile(spawn.ListenerFD, "forward")
	conn, err := net.FileConn(f)
	if err != nil {
		return nil, fmt.Errorf("runtime: adopting forwarding socket: %w", err)
	}
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		return nil, fmt.Errorf("runtime: fd %d is not a unix socket", spawn.ListenerFD)
	}
	return unixConn, nil
}

func selfPidFromEnv() pid.Pid {
	addr := os.Getenv(envSelfAddr)
	p, err := pid.ParseAddr(addr)
	if err != nil {
		fatal.Invariant(log.NewNopLogger(), "missing-self-address", err)
	}
	return p
}

// childEnv builds the environment for a re-exec hop: the current
// process's own environment with every key named in overrides stripped,
// then overrides appended. Stripping first matters because each hop's
// own environment already carries the previous hop's role/address
// variables (this process got here by inheriting them), and a plain
// append would leave both the old and new value present — which key an
// exec'd process's libc resolves first is unspecified, so a stale
// CONSTELLATION_INTERNAL_ROLE could silently survive a hop meant to
// clear or change it.
func childEnv(overrides map[string]string) []string {
	filtered := make([]string, 0, len(os.Environ())+len(overrides))
	for _, kv := range os.Environ() {
		stale := false
		for k := range overrides {
			if strings.HasPrefix(kv, k+"=") {
				stale = true
				break
			}
		}
		if !stale {
			filtered = append(filtered, kv)
		}
	}
	for k, v := range overrides {
		filtered = append(filtered, k+"="+v)
	}
	return filtered
}

func forwardLoop(conn *net.UnixConn, r *reactor.Reactor, logger log.Logger) {
	for {
		if err := reactor.ReceiveForwarded(conn, r); err != nil {
			logger.Debug("forwarding loop stopped", "err", err)
			return
		}
	}
}

// bootstrapRoot is reached exactly once per process tree: the very first
// invocation, holding neither an internal role nor a bridge address nor
// an ARG_FD. It stands up the bridge as a re-exec'd child and waits for
// it, becoming a thin launcher that only relays the bridge's exit code —
// it never becomes the user process itself, since Go cannot fork() this
// running process and branch in both halves the way the original
// implementation's native bootstrap does.
func bootstrapRoot(cfg *config.Config, resources pid.Resources, logger log.Logger, m *metrics.Metrics) int {
	listener, err := spawn.NewLoopbackListener()
	if err != nil {
		fatal.Invariant(logger, "bridge-listener", err)
	}
	listenerFile, err := listener.File()
	if err != nil {
		fatal.Invariant(logger, "bridge-listener-file", err)
	}
	_ = listener.Close()

	exe, err := os.Executable()
	if err != nil {
		fatal.Invariant(logger, "resolve-executable", err)
	}

	cmd := exec.Command(exe, os.Args[1:]...)
	cmd.Env = childEnv(map[string]string{envRole: "bridge"})
	cmd.ExtraFiles = []*os.File{listenerFile}
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		fatal.Invariant(logger, "start-bridge", err)
	}
	_ = listenerFile.Close()

	if err := cmd.Wait(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return exitErr.ExitCode()
		}
		logger.Error("bridge process failed", "err", err)
		return 1
	}
	return 0
}

// runBridgeRole runs in the re-exec'd process holding the bridge's own
// listener at fd spawn.ListenerFD (positioned there by bootstrapRoot's
// ExtraFiles). It launches the monitor for the tree's root process, feeds
// the aggregated event stream to a Formatter, and exits with a status
// code derived from the tree's combined ExitStatus.
func runBridgeRole(cfg *config.Config, resources pid.Resources, logger log.Logger, m *metrics.Metrics) {
	r, err := reactor.WithFD(spawn.ListenerFD, reactor.WithLogger(logger), reactor.WithMetrics(m))
	if err != nil {
		fatal.Invariant(logger, "bridge-reactor", err)
	}
	handle := r.Run()
	defer handle.Close()

	bridgePid := r.Local()
	formatter := format.Select(cfg.Format, os.Stdout)
	b := bridge.New(r, formatter, bridge.WithLogger(logger))
	b.EnableSubreaper()

	rootListener, err := spawn.NewLoopbackListener()
	if err != nil {
		fatal.Invariant(logger, "root-monitor-listener", err)
	}
	rootListenerFile, err := rootListener.File()
	if err != nil {
		fatal.Invariant(logger, "root-monitor-listener-file", err)
	}
	rootPid := pid.FromTCPAddr(rootListener.Addr().(*net.TCPAddr))
	_ = rootListener.Close()

	exe, err := os.Executable()
	if err != nil {
		fatal.Invariant(logger, "resolve-executable", err)
	}

	cmd := exec.Command(exe, os.Args[1:]...)
	cmd.Env = childEnv(map[string]string{
		envRole:       "monitor",
		envBridgeAddr: bridgePid.String(),
	})
	cmd.ExtraFiles = []*os.File{rootListenerFile}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		fatal.Invariant(logger, "start-monitor", err)
	}
	_ = rootListenerFile.Close()

	go func() {
		if err := cmd.Wait(); err != nil {
			logger.Debug("monitor process exited", "err", err)
		}
	}()

	in := channel.NewSender[event.ProcessInputEvent](logger, r, rootPid)
	out := channel.NewReceiver[event.ProcessOutputEvent](logger, r, rootPid)
	b.AddRoot(rootPid, in, out)

	status := b.Run(context.Background())
	os.Exit(exitCodeFromStatus(status))
}

// runMonitorRole runs in the re-exec'd process holding the root user
// process's own listener at fd spawn.ListenerFD (the address that is the
// user process's Pid). It allocates a unix socketpair to hand forwarded
// sockets to the user process, re-execs the current binary a third and
// final time with no internal role set (so that invocation falls through
// doInit's ordinary path and becomes the user's own main()), and
// supervises it via internal/monitor.
func runMonitorRole(cfg *config.Config, logger log.Logger, m *metrics.Metrics) {
	bridgePid, err := pid.ParseAddr(os.Getenv(envBridgeAddr))
	if err != nil {
		fatal.Invariant(logger, "parse-bridge-address", err)
	}

	monitorSide, childSide, err := reactor.NewForwardingSocketpair()
	if err != nil {
		fatal.Invariant(logger, "forwarding-socketpair", err)
	}
	forwarder := reactor.NewUnixSocketForwarder(monitorSide)

	r, err := reactor.WithFD(spawn.ListenerFD,
		reactor.WithLogger(logger),
		reactor.WithMetrics(m),
		reactor.WithForwardFilter(func(remote pid.Pid) bool { return remote.Equal(bridgePid) }),
		reactor.WithSocketForwardee(forwarder),
	)
	if err != nil {
		fatal.Invariant(logger, "monitor-reactor", err)
	}
	handle := r.Run()
	defer handle.Close()

	selfPid := r.Local()

	in := channel.NewReceiver[event.ProcessInputEvent](logger, r, bridgePid)
	out := channel.NewSender[event.ProcessOutputEvent](logger, r, bridgePid)

	exe, err := os.Executable()
	if err != nil {
		fatal.Invariant(logger, "resolve-executable", err)
	}
	childSideFile, err := childSide.File()
	if err != nil {
		fatal.Invariant(logger, "forwarding-socketpair-file", err)
	}

	cfgChild := monitor.Config{
		Exe:  exe,
		Args: os.Args[1:],
		// envRole is cleared (not just left unset) so this final hop falls
		// through doInit's switch at runtime.go and becomes the user's own
		// main(), rather than re-entering runMonitorRole with the role this
		// process itself was launched under.
		Env: childEnv(map[string]string{
			envRole:       "",
			envBridgeAddr: bridgePid.String(),
			envSelfAddr:   selfPid.String(),
		}),
		ExtraFiles: []*os.File{childSideFile},
		Logger:     logger,
		Reactor:    r,
		In:         in,
		Out:        out,
		Forwardee:  forwarder,
	}
	_ = childSide.Close()

	mon := monitor.New(cfgChild)
	if err := mon.Run(context.Background()); err != nil {
		logger.Error("monitor run failed", "err", err)
		os.Exit(1)
	}
	os.Exit(0)
}

func exitCodeFromStatus(status event.ExitStatus) int {
	if status.IsSuccess() {
		return 0
	}
	if status.Kind == event.KindUnixSignal {
		return 128 + status.Signal
	}
	return status.Status
}
