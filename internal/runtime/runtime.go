// Package runtime implements the Init entry point and the opaque Runtime
// singleton: a one-shot initialisation primitive that every public entry
// point (Spawn, NewSender, NewReceiver) borrows rather than reaching
// through package-level globals scattered across the codebase.
package runtime

import (
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/pkg/errors"

	"github.com/constellation-run/constellation-go/internal/channel"
	"github.com/constellation-run/constellation-go/internal/config"
	"github.com/constellation-run/constellation-go/internal/fatal"
	"github.com/constellation-run/constellation-go/internal/log"
	"github.com/constellation-run/constellation-go/internal/metrics"
	"github.com/constellation-run/constellation-go/internal/reactor"
	"github.com/constellation-run/constellation-go/internal/spawn"
	"github.com/constellation-run/constellation-go/internal/wire"
	"github.com/constellation-run/constellation-go/pkg/event"
	"github.com/constellation-run/constellation-go/pkg/pid"
)

// Environment variables internal to this implementation, propagated down
// the self-re-exec chain described in bootstrap.go. They are not part of
// spec §6's documented surface: that surface assumes a real fork() that
// shares process state for free, which Go's runtime cannot do safely, so
// this repo threads the equivalent state through the child's environment
// instead.
const (
	envRole       = "CONSTELLATION_INTERNAL_ROLE" // "" | "bridge" | "monitor"
	envBridgeAddr = "CONSTELLATION_INTERNAL_BRIDGE"
)

// Runtime is the opaque, one-shot-initialized handle every public entry
// point obtains through MustBeInitialized.
type Runtime struct {
	Self      pid.Pid
	Bridge    pid.Pid
	Deployed  bool
	Resources pid.Resources

	Reactor *reactor.Reactor
	Logger  log.Logger
	Metrics *metrics.Metrics

	spawnDeps     *spawn.Deps
	reactorHandle *reactor.Handle
}

var (
	once     sync.Once
	instance *Runtime
	initErr  error
)

// Init performs the bootstrap ordering below exactly once per process;
// subsequent calls return the same Runtime (or the same error). No code
// path in this package may run before Init returns.
func Init(resources pid.Resources) (*Runtime, error) {
	once.Do(func() {
		instance, initErr = doInit(resources)
	})
	return instance, initErr
}

// MustBeInitialized aborts the process if called before Init has
// succeeded, used by the root-level public API (Spawn, NewSender,
// NewReceiver) to enforce the "no code path may run before init" rule.
func MustBeInitialized() *Runtime {
	if instance == nil {
		fatal.MissingInit(log.NewNopLogger())
	}
	return instance
}

func doInit(resources pid.Resources) (*Runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, errors.Wrap(err, "runtime: loading configuration")
	}

	// Step 2: version / recce short-circuits.
	if cfg.Version {
		printVersion()
		os.Exit(0)
	}
	if cfg.Recce {
		if err := emitRecce(resources); err != nil {
			return nil, err
		}
		os.Exit(0)
	}

	logger := log.NewLogfmtLogger(os.Stderr)
	metricsReg := metrics.New(nil)

	// Internal bootstrap roles never return to a user main(): they run
	// their respective supervisor loop and call os.Exit when it ends.
	switch os.Getenv(envRole) {
	case "bridge":
		runBridgeRole(cfg, resources, logger, metricsReg)
	case "monitor":
		runMonitorRole(cfg, logger, metricsReg)
	}

	// Step 3: is this invocation a user-level Spawn() target? Its ARG_FD
	// carries a NativePayload (native mode) or DeployedPayload (deployed
	// mode, scheduler-launched).
	if argFile, ok := openArgFD(); ok {
		return initSubprocess(cfg, resources, argFile, logger, metricsReg)
	}

	bridgeAddr := os.Getenv(envBridgeAddr)
	if bridgeAddr == "" {
		// Step 4: no bridge exists yet and we are not a subprocess: this
		// is the very first invocation in the tree. Bootstrap the
		// bridge/monitor chain and hand control to its tail, then exit
		// with the tree's aggregated status (see bootstrap.go).
		os.Exit(bootstrapRoot(cfg, resources, logger, metricsReg))
	}

	bridgePid, err := pid.ParseAddr(bridgeAddr)
	if err != nil {
		return nil, errors.Wrap(err, "runtime: parsing bridge address")
	}

	// This is the bootstrap chain's terminal hop: the user's own main(),
	// running as an ordinary child of the monitor. Its identity arrives
	// via envSelfAddr and its inbound sockets via the forwarding unix
	// socket at fd spawn.ListenerFD (see bootstrap.go's runMonitorRole).
	forwardConn, err := adoptForwardFD()
	if err != nil {
		return nil, errors.Wrap(err, "runtime: adopting forwarding socket")
	}

	return finishInit(cfg, resources, bridgePid, logger, metricsReg, forwardConn)
}

// finishInit implements steps 5, 8, 9, 10 for a process that already has
// its LISTENER_FD (or forwardee) and stdio positioned by construction
// (steps 6-7 are carried out by the bootstrap/spawn machinery that
// brought this process into existence, not by finishInit itself). For
// step 8 it starts the reactor but registers no exit handler: the reactor
// is torn down only by an explicit Runtime.Close.
func finishInit(cfg *config.Config, resources pid.Resources, bridgePid pid.Pid, logger log.Logger, m *metrics.Metrics, forwardConn *net.UnixConn) (*Runtime, error) {
	var r *reactor.Reactor
	var self pid.Pid

	if forwardConn != nil {
		// This process has no real listener of its own; its monitor
		// forwards sockets meant for it across forwardConn.
		self = selfPidFromEnv()
		r = reactor.WithForwardee(self, reactor.NewUnixSocketForwarder(forwardConn), reactor.WithLogger(logger), reactor.WithMetrics(m))
		go forwardLoop(forwardConn, r, logger)
	} else {
		listener, err := net.FileListener(os.NewFile(spawn.ListenerFD, "listener"))
		if err != nil {
			return nil, errors.Wrap(err, "runtime: adopting LISTENER_FD")
		}
		tcpAddr := listener.Addr().(*net.TCPAddr)
		self = pid.FromTCPAddr(tcpAddr)
		r = reactor.New(self, listener, reactor.WithLogger(logger), reactor.WithMetrics(m))
	}

	handle := r.Run()

	var schedulerConn net.Conn
	deployed := cfg.Deployed()
	if deployed {
		if f := os.NewFile(spawn.SchedulerFD, "scheduler"); f != nil {
			if conn, err := net.FileConn(f); err == nil {
				schedulerConn = conn
			}
		}
	}

	rt := &Runtime{
		Self:      self,
		Bridge:    bridgePid,
		Deployed:  deployed,
		Resources: resources,
		Reactor:   r,
		Logger:    logger,
		Metrics:   m,
		reactorHandle: handle,
	}

	// Only a process holding a real listener (an ordinary Spawn()
	// descendant) owns the bridgePid identity-channel on its own reactor:
	// the bootstrap chain's root process shares its address with a
	// dedicated monitor process that already holds that channel (see
	// bootstrap.go's runMonitorRole), so a second Sender to bridgePid
	// here would collide with it. The root's own Spawn() calls are
	// consequently not surfaced as OutputSpawn events to the bridge.
	var monitorOut *channel.Sender[event.ProcessOutputEvent]
	if forwardConn == nil {
		monitorOut = channel.NewSender[event.ProcessOutputEvent](logger, r, bridgePid)
	}
	rt.spawnDeps = &spawn.Deps{
		Self:      self,
		Bridge:    bridgePid,
		Deployed:  deployed,
		Scheduler: schedulerConn,
		Monitor:   monitorOut,
		Logger:    logger,
	}

	// Step 9: SIGCHLD is reaped by the monitor/bridge machinery, not by
	// user code; there is nothing further to ignore here since Go never
	// delivers SIGCHLD to user handlers unless explicitly registered.
	return rt, nil
}

// SpawnDeps exposes the process-wide state the root spawn.Spawn wrapper
// needs.
func (rt *Runtime) SpawnDeps() *spawn.Deps { return rt.spawnDeps }

// Close tears down the reactor. It runs only when called explicitly (the
// root package's Shutdown calls it); no at-exit hook is installed.
func (rt *Runtime) Close() error {
	if rt.reactorHandle == nil {
		return nil
	}
	return rt.reactorHandle.Close()
}

func initSubprocess(cfg *config.Config, resources pid.Resources, argFile *os.File, logger log.Logger, m *metrics.Metrics) (*Runtime, error) {
	defer argFile.Close()

	if cfg.Deployed() {
		payload, err := spawn.ReadDeployedPayload(argFile)
		if err != nil {
			return nil, err
		}
		rt, err := finishInit(cfg, resources, payload.Bridge, logger, m, nil)
		if err != nil {
			return nil, err
		}
		if err := wire.Invoke(payload.Closure, payload.Parent); err != nil {
			fatal.Invariant(logger, "spawn closure execution", err)
		}
		os.Exit(0)
		return rt, nil // unreachable
	}

	payload, err := spawn.ReadNativePayload(argFile)
	if err != nil {
		return nil, err
	}
	rt, err := finishInit(cfg, resources, payload.Bridge, logger, m, nil)
	if err != nil {
		return nil, err
	}
	if err := wire.Invoke(payload.Closure, payload.Parent); err != nil {
		fatal.Invariant(logger, "spawn closure execution", err)
	}
	os.Exit(0)
	return rt, nil // unreachable
}

func printVersion() {
	fmt.Println(versionString())
}

func emitRecce(resources pid.Resources) error {
	f := os.NewFile(3, "recce")
	if f == nil {
		return fmt.Errorf("runtime: fd 3 unavailable for recce output")
	}
	defer f.Close()
	return wire.Encode(f, resources)
}
