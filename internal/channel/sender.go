package channel

import (
	"context"
	"fmt"

	"github.com/constellation-run/constellation-go/internal/fatal"
	"github.com/constellation-run/constellation-go/internal/log"
	"github.com/constellation-run/constellation-go/internal/reactor"
	"github.com/constellation-run/constellation-go/internal/wire"
	"github.com/constellation-run/constellation-go/pkg/pid"
)

// Sender is a typed, ordered, at-most-once send endpoint bound to one
// remote pid (spec §4.2).
type Sender[T any] struct {
	remote pid.Pid
	handle *reactor.PeerHandle
	logger log.Logger
	closed bool
}

// NewSender constructs a Sender to remote over r. Construction validates
// remote != local and that no other live Sender to remote exists; either
// violation aborts the process (spec §7).
func NewSender[T any](logger log.Logger, r *reactor.Reactor, remote pid.Pid) *Sender[T] {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if remote.Equal(r.Local()) {
		fatal.SelfChannel(logger, remote)
	}
	handle, ok := r.SenderRegister(remote)
	if !ok {
		fatal.DuplicateEndpoint(logger, remote, "send")
	}
	return &Sender[T]{remote: remote, handle: handle, logger: logger}
}

// RemotePid returns the peer this Sender talks to.
func (s *Sender[T]) RemotePid() pid.Pid { return s.remote }

// Send serializes t and submits it to the peer send queue, blocking until
// it has been handed to the connection's writer.
func (s *Sender[T]) Send(t T) error {
	if s.closed {
		return ErrClosed
	}
	payload, err := wire.EncodeValue(t)
	if err != nil {
		return fmt.Errorf("%w: encoding value: %v", ErrError, err)
	}
	if err := s.handle.EnqueueSend(payload); err != nil {
		return fmt.Errorf("%w: %v", ErrError, err)
	}
	return nil
}

// SendContext is Send with local cancellation via ctx. The context only
// governs the caller's wait; it has no protocol-level effect on the peer
// (the channel layer has no built-in deadlines, spec §5).
func (s *Sender[T]) SendContext(ctx context.Context, t T) error {
	done := make(chan error, 1)
	go func() { done <- s.Send(t) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close sends the end-of-stream marker and unregisters this endpoint, so
// the remote Receiver observes ErrExited rather than hanging (spec §4.2
// "On drop").
func (s *Sender[T]) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.handle.Close()
}
