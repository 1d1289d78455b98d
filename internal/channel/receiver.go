package channel

import (
	"context"
	"errors"
	"fmt"

	"github.com/constellation-run/constellation-go/internal/fatal"
	"github.com/constellation-run/constellation-go/internal/log"
	"github.com/constellation-run/constellation-go/internal/reactor"
	"github.com/constellation-run/constellation-go/internal/wire"
	"github.com/constellation-run/constellation-go/pkg/pid"
)

// Receiver is a typed, ordered, at-most-once receive endpoint bound to
// one remote pid (spec §4.2).
type Receiver[T any] struct {
	remote pid.Pid
	handle *reactor.PeerHandle
	logger log.Logger
	closed bool
}

// NewReceiver constructs a Receiver from remote over r, with the same
// construction-time validation as NewSender.
func NewReceiver[T any](logger log.Logger, r *reactor.Reactor, remote pid.Pid) *Receiver[T] {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if remote.Equal(r.Local()) {
		fatal.SelfChannel(logger, remote)
	}
	handle, ok := r.RecvRegister(remote)
	if !ok {
		fatal.DuplicateEndpoint(logger, remote, "recv")
	}
	return &Receiver[T]{remote: remote, handle: handle, logger: logger}
}

// RemotePid returns the peer this Receiver reads from.
func (r *Receiver[T]) RemotePid() pid.Pid { return r.remote }

func decodeResult[T any](payload []byte, err error) (T, error) {
	var zero T
	if err != nil {
		if errors.Is(err, reactor.ErrExited) {
			return zero, ErrExited
		}
		return zero, fmt.Errorf("%w: %v", ErrError, err)
	}
	var t T
	if decErr := wire.DecodeValue(payload, &t); decErr != nil {
		return zero, fmt.Errorf("%w: decoding value: %v", ErrError, decErr)
	}
	return t, nil
}

// Recv blocks for the next value sent by the peer's matching Sender, in
// order. It returns ErrExited once the peer has cleanly closed with no
// more data, or a wrapped ErrError on wire/deserialization failure.
func (r *Receiver[T]) Recv() (T, error) {
	var zero T
	if r.closed {
		return zero, ErrClosed
	}
	payload, err := r.handle.DequeueRecv()
	return decodeResult[T](payload, err)
}

// RecvContext is Recv with local cancellation via ctx.
func (r *Receiver[T]) RecvContext(ctx context.Context) (T, error) {
	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := r.Recv()
		done <- result{v, err}
	}()
	select {
	case res := <-done:
		return res.v, res.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Close unregisters this endpoint.
func (r *Receiver[T]) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	return r.handle.Close()
}
