package event

import "github.com/constellation-run/constellation-go/pkg/pid"

// InputKind distinguishes the two variants of ProcessInputEvent.
type InputKind int

const (
	InputData InputKind = iota
	InputKill
)

// ProcessInputEvent flows from a process's owner down to its monitor
// (spec §4.5): either bytes to forward onto the child's stdin, or a
// request to kill it.
type ProcessInputEvent struct {
	Kind InputKind
	Data []byte
}

// Input builds a ProcessInputEvent carrying stdin bytes.
func Input(data []byte) ProcessInputEvent {
	return ProcessInputEvent{Kind: InputData, Data: data}
}

// Kill builds a ProcessInputEvent requesting termination.
func Kill() ProcessInputEvent { return ProcessInputEvent{Kind: InputKill} }

// OutputKind distinguishes the three variants of ProcessOutputEvent.
type OutputKind int

const (
	OutputSpawn OutputKind = iota
	OutputData
	OutputExit
)

// ProcessOutputEvent flows from a monitor up to its owner (spec §4.5,
// §4.6): a new descendant was spawned, stdout/stderr bytes were produced,
// or the monitored process has exited.
type ProcessOutputEvent struct {
	Kind   OutputKind
	Spawn  pid.Pid
	FD     int
	Data   []byte
	Status ExitStatus
}

// SpawnEvent reports a freshly spawned child.
func SpawnEvent(child pid.Pid) ProcessOutputEvent {
	return ProcessOutputEvent{Kind: OutputSpawn, Spawn: child}
}

// OutputEvent reports bytes read from the given stdio file descriptor (1
// for stdout, 2 for stderr).
func OutputEvent(fd int, data []byte) ProcessOutputEvent {
	return ProcessOutputEvent{Kind: OutputData, FD: fd, Data: data}
}

// ExitEvent reports the monitored process's final status.
func ExitEvent(status ExitStatus) ProcessOutputEvent {
	return ProcessOutputEvent{Kind: OutputExit, Status: status}
}

// DeployKind distinguishes the three variants of DeployOutputEvent.
type DeployKind int

const (
	DeploySpawn DeployKind = iota
	DeployOutput
	DeployExit
)

// DeployOutputEvent is the bridge's flattened, pid-qualified view of the
// whole tree's ProcessOutputEvents (spec §6 "Bridge event stream"),
// consumed by internal/format.
type DeployOutputEvent struct {
	Kind   DeployKind `json:"kind"`
	Parent pid.Pid    `json:"parent,omitempty"`
	Pid    pid.Pid    `json:"pid"`
	FD     int        `json:"fd,omitempty"`
	Data   []byte     `json:"data,omitempty"`
	Status ExitStatus `json:"status,omitempty"`
}

// DeploySpawnEvent reports that parent spawned child.
func DeploySpawnEvent(parent, child pid.Pid) DeployOutputEvent {
	return DeployOutputEvent{Kind: DeploySpawn, Parent: parent, Pid: child}
}

// DeployOutputEventFrom reports stdio bytes produced by p.
func DeployOutputEventFrom(p pid.Pid, fd int, data []byte) DeployOutputEvent {
	return DeployOutputEvent{Kind: DeployOutput, Pid: p, FD: fd, Data: data}
}

// DeployExitEvent reports p's final status.
func DeployExitEvent(p pid.Pid, status ExitStatus) DeployOutputEvent {
	return DeployOutputEvent{Kind: DeployExit, Pid: p, Status: status}
}
