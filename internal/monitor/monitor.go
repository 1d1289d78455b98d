// Package monitor implements the per-process supervisor of spec.md §4.5:
// a parent of the user process that captures its stdout/stderr, forwards
// stdin, relays kill requests, and reports lifecycle events to the
// bridge.
//
// Go cannot safely fork() a running multi-threaded process and continue
// executing arbitrary goroutines in the child the way the original
// implementation's raw fork() does; the idiomatic Go substitute (used by
// container runtimes and the os/exec "ExtraFiles" re-exec pattern) is to
// re-exec the current binary with a sentinel environment variable, and
// let that freshly started process run Run below instead of user code.
// internal/runtime's Init performs that re-exec and sets
// CONSTELLATION_INTERNAL_ROLE=monitor for the child it starts this way.
package monitor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/constellation-run/constellation-go/internal/channel"
	"github.com/constellation-run/constellation-go/internal/log"
	"github.com/constellation-run/constellation-go/internal/reactor"
	"github.com/constellation-run/constellation-go/pkg/event"
)

// state is the monitor/child coordination state machine tracking each
// spawned child from launch through exit status delivery.
type state int

const (
	ChildUninitialized state = iota
	DescriptorsPositioned
	Running
	Exited
)

// Config bundles what Run needs to start and supervise the child.
type Config struct {
	// Exe and Args start the user process (re-exec of the current
	// binary with CONSTELLATION_INTERNAL_ROLE cleared). Args excludes the
	// program name: exec.Command supplies Exe as argv[0].
	Exe  string
	Args []string
	Env  []string

	// ExtraFiles are positioned starting at fd 3 in the child, matching
	// LISTENER_FD/ARG_FD.
	ExtraFiles []*os.File

	Logger   log.Logger
	Reactor  *reactor.Reactor // this monitor's own reactor, for sibling/bridge channels
	In       *channel.Receiver[event.ProcessInputEvent]
	Out      *channel.Sender[event.ProcessOutputEvent]
	Forwardee reactor.SocketForwardee
}

// Monitor owns one child process for its lifetime.
type Monitor struct {
	cfg     Config
	state   state
	process *os.Process
}

// New constructs a Monitor in ChildUninitialized state.
func New(cfg Config) *Monitor {
	if cfg.Logger == nil {
		cfg.Logger = log.NewNopLogger()
	}
	return &Monitor{cfg: cfg}
}

// Run starts the child, forwards its stdio, relays kill requests, reaps
// it, and reports its ExitStatus. It returns once the child has exited
// and every forwarding goroutine has drained.
func (m *Monitor) Run(ctx context.Context) error {
	cmd := exec.Command(m.cfg.Exe, m.cfg.Args...)
	cmd.Env = m.cfg.Env
	cmd.ExtraFiles = m.cfg.ExtraFiles

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("monitor: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("monitor: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("monitor: stderr pipe: %w", err)
	}

	m.state = DescriptorsPositioned

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("monitor: starting child: %w", err)
	}
	m.state = Running
	m.process = cmd.Process
	m.cfg.Logger.Debug("child started", "os_pid", cmd.Process.Pid)

	ctx, stopInput := context.WithCancel(ctx)
	defer stopInput()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.forwardInput(gctx, stdin) })

	// Both output pipes are drained before Wait, which closes them, so no
	// output is lost and every Output event precedes the Exit event.
	var outputs errgroup.Group
	outputs.Go(func() error { return m.forwardOutput(1, stdout) })
	outputs.Go(func() error { return m.forwardOutput(2, stderr) })
	if err := outputs.Wait(); err != nil {
		m.cfg.Logger.Debug("output forwarding stopped", "err", err)
	}

	waitErr := cmd.Wait()
	m.state = Exited

	status := statusFromWaitError(waitErr)
	if err := m.cfg.Out.Send(event.ExitEvent(status)); err != nil {
		m.cfg.Logger.Error("failed to report exit status", "err", err)
	}

	_ = stdin.Close()
	stopInput()
	if err := g.Wait(); err != nil {
		m.cfg.Logger.Debug("forwarding goroutine exited", "err", err)
	}
	return nil
}

// forwardInput relays ProcessInputEvents onto the child's stdin, and acts
// on Kill by sending SIGKILL to the child.
func (m *Monitor) forwardInput(ctx context.Context, stdin io.WriteCloser) error {
	for {
		evt, err := m.cfg.In.RecvContext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return nil // remote exited or closed: nothing more to forward
		}
		switch evt.Kind {
		case event.InputKill:
			if p := m.childProcess(); p != nil {
				_ = p.Signal(syscall.SIGKILL)
			}
		case event.InputData:
			if _, err := stdin.Write(evt.Data); err != nil {
				return err
			}
		}
	}
}

// childProcess returns the process Run started. Run sets it once, after
// Start has returned and before forwardInput is launched, and never clears
// it, so forwardInput reads it without a separate lock.
func (m *Monitor) childProcess() *os.Process { return m.process }

func (m *Monitor) forwardOutput(fd int, r io.Reader) error {
	buf := bufio.NewReaderSize(r, 32*1024)
	chunk := make([]byte, 32*1024)
	for {
		n, err := buf.Read(chunk)
		if n > 0 {
			data := make([]byte, n)
			copy(data, chunk[:n])
			if sendErr := m.cfg.Out.Send(event.OutputEvent(fd, data)); sendErr != nil {
				return sendErr
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

func statusFromWaitError(err error) event.ExitStatus {
	if err == nil {
		return event.Success
	}
	var exitErr *exec.ExitError
	if ok := asExitError(err, &exitErr); ok {
		ws, ok := exitErr.Sys().(syscall.WaitStatus)
		if ok {
			if ws.Signaled() {
				return event.FromUnixSignal(int(ws.Signal()))
			}
			return event.FromUnixStatus(ws.ExitStatus())
		}
		return event.FromUnixStatus(exitErr.ExitCode())
	}
	return event.FromUnixStatus(1)
}

func asExitError(err error, target **exec.ExitError) bool {
	if ee, ok := err.(*exec.ExitError); ok {
		*target = ee
		return true
	}
	return false
}
