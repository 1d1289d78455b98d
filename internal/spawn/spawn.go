// Package spawn implements the two spawn pipelines of spec.md §4.4: native
// fork+exec of the current executable, and a deployed mode that ships
// binary+args+env+payload through a scheduler socket.
package spawn

import (
	"context"
	"encoding/json"
	"fmt"
	"net"

	deadlock "github.com/sasha-s/go-deadlock"

	"github.com/constellation-run/constellation-go/internal/channel"
	"github.com/constellation-run/constellation-go/internal/log"
	"github.com/constellation-run/constellation-go/internal/wire"
	"github.com/constellation-run/constellation-go/pkg/event"
	"github.com/constellation-run/constellation-go/pkg/pid"
)

// LISTENER_FD and ARG_FD/SCHEDULER_FD are the well-known descriptor
// numbers a spawned process inherits (spec §6 "External interfaces").
const (
	ListenerFD  = 3
	ArgFD       = 4
	SchedulerFD = 4
)

// Deps is the process-wide state Spawn needs, supplied by
// internal/runtime's Init. It is passed explicitly rather than read off
// package globals so spawn stays testable without a live process tree.
type Deps struct {
	Self      pid.Pid
	Bridge    pid.Pid
	Deployed  bool
	Scheduler net.Conn // non-nil only when Deployed
	Monitor   *channel.Sender[event.ProcessOutputEvent]
	Logger    log.Logger
}

// mu is the global spawn mutex of spec §4.4 ("A global mutex serializes
// spawns within a process to avoid interleaving on the scheduler
// socket"), shared by every goroutine in the process regardless of which
// Deps it was handed.
var mu deadlock.Mutex

// NativePayload is what spawnNative writes to the child's ARG_FD: enough
// for the child to rejoin the tree and invoke its entrypoint.
type NativePayload struct {
	Bridge  pid.Pid
	Parent  pid.Pid
	Closure wire.Closure
}

// Spawn runs the native or deployed pipeline depending on deps.Deployed,
// and on success reports a Spawn event to the local monitor.
func Spawn(ctx context.Context, deps *Deps, resources pid.Resources, closure wire.Closure) (*pid.Pid, error) {
	mu.Lock()
	defer mu.Unlock()

	var (
		child *pid.Pid
		err   error
	)
	if deps.Deployed {
		child, err = spawnDeployed(ctx, deps, resources, closure)
	} else {
		child, err = spawnNative(deps, resources, closure)
	}
	if err != nil {
		return nil, err
	}
	if child == nil {
		return nil, nil
	}
	if deps.Monitor != nil {
		if sendErr := deps.Monitor.Send(event.SpawnEvent(*child)); sendErr != nil {
			deps.Logger.Error("failed to report spawn to monitor", "child", *child, "err", sendErr)
		}
	}
	return child, nil
}

// resourcesEnv renders r as the JSON value of CONSTELLATION_RESOURCES
// (§6): set on every spawned subprocess so it recognises itself as one,
// and readable by the scheduler in deployed mode.
func resourcesEnv(r pid.Resources) (string, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("spawn: encoding resources: %w", err)
	}
	return string(b), nil
}
