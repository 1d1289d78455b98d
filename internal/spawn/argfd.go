package spawn

import (
	"fmt"
	"os"

	"github.com/constellation-run/constellation-go/internal/wire"
	"github.com/constellation-run/constellation-go/pkg/pid"
)

// ReadNativePayload decodes the (bridge, parent, closure) payload a native
// child finds on its ARG_FD (spec §6).
func ReadNativePayload(f *os.File) (NativePayload, error) {
	var p NativePayload
	if err := wire.Decode(f, &p); err != nil {
		return NativePayload{}, fmt.Errorf("spawn: decoding native arg payload: %w", err)
	}
	return p, nil
}

// DeployedPayload is what a deployed child finds on its ARG_FD: the
// scheduler's address (so it can open further connections if needed),
// the bridge pid, the spawning parent's pid, and its closure (spec §6,
// deployed-mode ARG_FD shape). The scheduler itself is the out-of-scope
// external collaborator that writes this; this repo only needs to read
// it back.
type DeployedPayload struct {
	SchedulerAddr string
	Bridge        pid.Pid
	Parent        pid.Pid
	Closure       wire.Closure
}

// ReadDeployedPayload decodes a deployed child's ARG_FD payload.
func ReadDeployedPayload(f *os.File) (DeployedPayload, error) {
	var p DeployedPayload
	if err := wire.Decode(f, &p); err != nil {
		return DeployedPayload{}, fmt.Errorf("spawn: decoding deployed arg payload: %w", err)
	}
	return p, nil
}
