// Package constellation is the library surface described by spec.md §6:
// construct a process tree, open typed channels between its members, and
// select across them. Everything else — the bridge, the monitor, the
// wire codec, the reactor — is implementation detail reached only
// through this file and the generic Sender/Receiver types of
// internal/channel.
package constellation

import (
	"context"

	"github.com/constellation-run/constellation-go/internal/channel"
	"github.com/constellation-run/constellation-go/internal/runtime"
	"github.com/constellation-run/constellation-go/internal/selector"
	"github.com/constellation-run/constellation-go/internal/spawn"
	"github.com/constellation-run/constellation-go/internal/wire"
	"github.com/constellation-run/constellation-go/pkg/pid"
)

// Pid and Resources are re-exported directly: they are part of the
// wire-visible vocabulary a caller needs regardless of which internal
// package produced a given value.
type (
	Pid       = pid.Pid
	Resources = pid.Resources
)

// DefaultResources mirrors pid.Default, the conservative declaration
// used when a caller has no better estimate of what a process needs.
var DefaultResources = pid.Default

// Sentinel errors surfaced by Sender/Receiver operations (spec §4.2).
var (
	ErrChannelExited = channel.ErrExited
	ErrChannelError  = channel.ErrError
	ErrChannelClosed = channel.ErrClosed
)

// Selectable is the token type accepted by Select/Run.
type Selectable = channel.Selectable

// Init performs one-time process bootstrap (spec §4.7): parsing the
// environment, joining or creating this process's bridge/monitor tree,
// and binding the reactor every Sender/Receiver/Spawn call in this
// process will use. It must be called once, near the top of main, before
// any other function in this package.
func Init(resources Resources) error {
	_, err := runtime.Init(resources)
	return err
}

// Shutdown tears down this process's reactor and peer connections. Tests
// call it to release listening sockets between cases; production
// binaries typically let process exit do the equivalent cleanup.
func Shutdown() error {
	return runtime.MustBeInitialized().Close()
}

// LocalPid returns this process's own identity.
func LocalPid() Pid {
	return runtime.MustBeInitialized().Self
}

// LocalResources returns the Resources value this process was Init'd
// with.
func LocalResources() Resources {
	return runtime.MustBeInitialized().Resources
}

// RegisterClosure registers a spawn entrypoint under name. Call it from
// an init() function, not from main, so the registry is populated
// identically in every process image before Spawn or the bootstrap
// chain's re-exec can reach it (spec §4.4 "Closure registration").
func RegisterClosure[A any](name string, fn func(parent Pid, arg A)) {
	wire.RegisterClosure[A](name, fn)
}

// Spawn starts a new process running the closure registered under name
// with argument arg, declaring resources to the scheduler in deployed
// mode. It returns the child's Pid once its listener is ready to accept
// channel connections.
func Spawn[A any](resources Resources, name string, arg A) (*Pid, error) {
	return SpawnContext[A](context.Background(), resources, name, arg)
}

// SpawnContext is Spawn with cancellation via ctx; only deployed mode's
// scheduler round-trip observes it (spec §4.4).
func SpawnContext[A any](ctx context.Context, resources Resources, name string, arg A) (*Pid, error) {
	rt := runtime.MustBeInitialized()
	closure, err := wire.NewClosure[A](name, arg)
	if err != nil {
		return nil, err
	}
	return spawn.Spawn(ctx, rt.SpawnDeps(), resources, closure)
}

// NewSender constructs a Sender to remote, claiming the send-direction
// mailbox for that peer on this process's reactor. A second Sender to
// the same remote, or one to this process's own Pid, aborts the process
// (spec §7).
func NewSender[T any](remote Pid) *channel.Sender[T] {
	rt := runtime.MustBeInitialized()
	return channel.NewSender[T](rt.Logger, rt.Reactor, remote)
}

// NewReceiver constructs a Receiver from remote, with the same
// construction-time invariants as NewSender.
func NewReceiver[T any](remote Pid) *channel.Receiver[T] {
	rt := runtime.MustBeInitialized()
	return channel.NewReceiver[T](rt.Logger, rt.Reactor, remote)
}

// Select commits exactly one ready token from tokens, blocking if none are
// ready yet, and returns the remaining, uncommitted tokens in their
// original identities so the caller may pass them straight into another
// Select (spec §4.3).
func Select(tokens []Selectable) ([]Selectable, error) {
	return selector.Select(tokens)
}

// SelectContext is Select with cancellation via ctx.
func SelectContext(ctx context.Context, tokens []Selectable) ([]Selectable, error) {
	return selector.SelectContext(ctx, tokens)
}

// Run drives every token in tokens to completion, in whatever order they
// become ready.
func Run(tokens []Selectable) error {
	return selector.Run(tokens)
}

// RunContext is Run with cancellation via ctx.
func RunContext(ctx context.Context, tokens []Selectable) error {
	return selector.RunContext(ctx, tokens)
}
