// Package channel implements the typed Sender[T]/Receiver[T] handles of
// spec.md §4.2: point-to-point, ordered, at-most-once endpoints bound to
// a (local, remote) pid pair and backed by a reactor.Reactor.
package channel

import "errors"

// ErrExited is returned from Recv when the remote closed its send half
// cleanly with no more data (spec §4.2, ChannelError::Exited).
var ErrExited = errors.New("channel: remote exited")

// ErrError wraps a wire failure, deserialization failure, or unexpected
// disconnection (spec §4.2, ChannelError::Error). Use errors.Is(err,
// ErrError) after ruling out ErrExited. The cause is included in the
// error's message only; errors.Unwrap yields ErrError itself.
var ErrError = errors.New("channel: error")

// ErrClosed is returned by operations attempted after Close.
var ErrClosed = errors.New("channel: endpoint closed")
