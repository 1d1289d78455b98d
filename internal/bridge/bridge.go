// Package bridge implements the root supervisor of spec.md §4.6: it fans
// every descendant monitor's ProcessOutputEvents into a single ordered
// DeployOutputEvent stream and computes the aggregate tree exit status.
package bridge

import (
	"context"
	"time"

	deadlock "github.com/sasha-s/go-deadlock"
	"golang.org/x/sys/unix"

	"github.com/constellation-run/constellation-go/internal/channel"
	"github.com/constellation-run/constellation-go/internal/format"
	"github.com/constellation-run/constellation-go/internal/log"
	"github.com/constellation-run/constellation-go/internal/reactor"
	"github.com/constellation-run/constellation-go/internal/selector"
	"github.com/constellation-run/constellation-go/pkg/event"
	"github.com/constellation-run/constellation-go/pkg/pid"
)

// descendant is one entry in the bridge's dynamic set (spec §4.6).
type descendant struct {
	self   pid.Pid
	parent pid.Pid
	in     *channel.Sender[event.ProcessInputEvent]
	out    *channel.Receiver[event.ProcessOutputEvent]
}

// Bridge aggregates the whole process tree's lifecycle events.
type Bridge struct {
	reactor   *reactor.Reactor
	formatter format.Formatter
	logger    log.Logger

	mu         deadlock.Mutex
	descendant map[pid.Pid]*descendant
	status     event.ExitStatus
}

// Option configures a Bridge at construction.
type Option func(*Bridge)

// WithLogger attaches a logger.
func WithLogger(l log.Logger) Option { return func(b *Bridge) { b.logger = l } }

// New constructs a Bridge hosting r and writing its event stream through
// formatter.
func New(r *reactor.Reactor, formatter format.Formatter, opts ...Option) *Bridge {
	b := &Bridge{
		reactor:    r,
		formatter:  formatter,
		logger:     log.NewNopLogger(),
		descendant: make(map[pid.Pid]*descendant),
		status:     event.Success,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// EnableSubreaper marks this process as a child-subreaper (Linux only,
// grounded in original_source::native_bridge's PR_SET_CHILD_SUBREAPER
// call) and starts the background loop that reaps whatever the kernel
// reparents here as a result. Errors from Prctl are logged, not fatal: a
// platform without subreaper support still functions, it just loses the
// guarantee that orphaned grandchildren get reparented to this process
// instead of init.
func (b *Bridge) EnableSubreaper() {
	if err := unix.Prctl(unix.PR_SET_CHILD_SUBREAPER, 1, 0, 0, 0); err != nil {
		b.logger.Debug("PR_SET_CHILD_SUBREAPER unavailable", "err", err)
		return
	}
	go b.reapOrphans()
}

// reapOrphans waits on whatever process tree members the kernel
// reparents to this one. A descendant's own monitor already calls
// cmd.Wait on its direct child (internal/monitor), but if that monitor
// dies first its child is reparented here by PR_SET_CHILD_SUBREAPER and
// nothing else ever calls wait() on it, leaving a zombie once it exits.
func (b *Bridge) reapOrphans() {
	for {
		var ws unix.WaitStatus
		reapedPid, err := unix.Wait4(-1, &ws, 0, nil)
		if err != nil {
			if err == unix.ECHILD {
				time.Sleep(100 * time.Millisecond)
				continue
			}
			b.logger.Debug("subreaper wait4 failed", "err", err)
			return
		}
		b.logger.Debug("subreaper reaped orphan", "os_pid", reapedPid, "status", reapZombies(ws))
	}
}

// reapZombies translates a raw wait4 status into an ExitStatus for
// logging; the orphan it describes was never a tracked descendant (see
// reapOrphans), so there is no channel to report it through.
func reapZombies(status unix.WaitStatus) event.ExitStatus {
	if status.Signaled() {
		return event.FromUnixSignal(int(status.Signal()))
	}
	return event.FromUnixStatus(status.ExitStatus())
}

// AddRoot registers the original user process as the first descendant.
func (b *Bridge) AddRoot(root pid.Pid, in *channel.Sender[event.ProcessInputEvent], out *channel.Receiver[event.ProcessOutputEvent]) {
	b.addDescendant(pid.Pid{}, root, in, out)
}

func (b *Bridge) addDescendant(parent, child pid.Pid, in *channel.Sender[event.ProcessInputEvent], out *channel.Receiver[event.ProcessOutputEvent]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.descendant[child] = &descendant{self: child, parent: parent, in: in, out: out}
}

func (b *Bridge) removeDescendant(child pid.Pid) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.descendant, child)
}

func (b *Bridge) snapshot() []*descendant {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*descendant, 0, len(b.descendant))
	for _, d := range b.descendant {
		out = append(out, d)
	}
	return out
}

func (b *Bridge) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.descendant)
}

// Run drives the select loop until every descendant has exited, writing
// formatted DeployOutputEvents as it goes, and returns the aggregated
// tree ExitStatus (spec §3 "Combining operator is monoidal").
func (b *Bridge) Run(ctx context.Context) event.ExitStatus {
	for b.count() > 0 {
		members := b.snapshot()
		tokens := make([]channel.Selectable, len(members))
		for i, d := range members {
			d := d
			tokens[i] = channel.SelectableRecv(d.out, func(evt event.ProcessOutputEvent, err error) {
				b.handle(d.self, d, evt, err)
			})
		}

		if _, err := selector.SelectContext(ctx, tokens); err != nil {
			b.logger.Error("select failed", "err", err)
			return b.status
		}
	}
	return b.status
}

func (b *Bridge) handle(child pid.Pid, d *descendant, evt event.ProcessOutputEvent, err error) {
	if err != nil {
		b.removeDescendant(child)
		b.mu.Lock()
		b.status = b.status.Combine(event.FromUnixStatus(1))
		b.mu.Unlock()
		return
	}
	switch evt.Kind {
	case event.OutputSpawn:
		grandchild := evt.Spawn
		in := channel.NewSender[event.ProcessInputEvent](b.logger, b.reactor, grandchild)
		out := channel.NewReceiver[event.ProcessOutputEvent](b.logger, b.reactor, grandchild)
		b.addDescendant(child, grandchild, in, out)
		_ = b.formatter.Write(event.DeploySpawnEvent(child, grandchild))
	case event.OutputData:
		_ = b.formatter.Write(event.DeployOutputEventFrom(child, evt.FD, evt.Data))
	case event.OutputExit:
		b.mu.Lock()
		b.status = b.status.Combine(evt.Status)
		b.mu.Unlock()
		_ = b.formatter.Write(event.DeployExitEvent(child, evt.Status))
		b.removeDescendant(child)
		_ = d.in.Close()
		_ = d.out.Close()
	}
}
