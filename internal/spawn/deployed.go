package spawn

import (
	"context"
	"fmt"
	"os"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/constellation-run/constellation-go/internal/wire"
	"github.com/constellation-run/constellation-go/pkg/pid"
)

// schedulerRequest is the client-side request framed over SCHEDULER_FD
// (spec §6 "Scheduler protocol").
type schedulerRequest struct {
	Resources pid.Resources
	Parent    pid.Pid
	Argv      []string
	Envp      []string
	Binary    []byte
	Payload   wire.Closure
}

// schedulerResponse carries back Option<Pid>; a nil Pid means the
// scheduler declined to place the process.
type schedulerResponse struct {
	Pid *pid.Pid
}

// closureCache remembers closures this process has already confirmed
// are locally registered, so a hot spawn loop (worker-pool scenario)
// only pays for the registry lookup in internal/wire once per distinct
// name rather than on every call.
var closureCache, _ = lru.New[string, wire.Closure](256)

func spawnDeployed(ctx context.Context, deps *Deps, resources pid.Resources, closure wire.Closure) (*pid.Pid, error) {
	if deps.Scheduler == nil {
		return nil, fmt.Errorf("spawn: deployed mode requires a scheduler connection")
	}
	if _, ok := closureCache.Get(closure.Name); !ok {
		if !wire.IsRegistered(closure.Name) {
			return nil, fmt.Errorf("spawn: closure %q is not registered in this process image", closure.Name)
		}
		closureCache.Add(closure.Name, closure)
	}

	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("spawn: resolving current executable: %w", err)
	}
	binary, err := os.ReadFile(exe)
	if err != nil {
		return nil, fmt.Errorf("spawn: reading executable for transfer: %w", err)
	}

	req := schedulerRequest{
		Resources: resources,
		Parent:    deps.Self,
		Argv:      os.Args,
		Envp:      os.Environ(),
		Binary:    binary,
		Payload:   closure,
	}

	type result struct {
		resp schedulerResponse
		err  error
	}
	done := make(chan result, 1)
	go func() {
		if err := wire.Encode(deps.Scheduler, req); err != nil {
			done <- result{err: fmt.Errorf("spawn: writing scheduler request: %w", err)}
			return
		}
		var resp schedulerResponse
		if err := wire.Decode(deps.Scheduler, &resp); err != nil {
			done <- result{err: fmt.Errorf("spawn: reading scheduler response: %w", err)}
			return
		}
		done <- result{resp: resp}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, r.err
		}
		return r.resp.Pid, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
