package channel

import (
	"errors"
	"sync"
	"time"
)

// pollInterval bounds how often a registered-but-not-yet-ready token
// re-checks readiness while parked. The reactor's mailboxes are plain Go
// channels of heterogeneous element types, so a uniform Select cannot
// multiplex them with a native `select` statement; this short poll is the
// tagged-variant token's stand-in for an OS-level wakeup.
const pollInterval = 2 * time.Millisecond

// Selectable is a pending send or receive that may be committed by the
// select primitive in internal/selector (spec §4.3, Glossary "Selectable").
type Selectable interface {
	// IsReady reports whether Commit would act immediately. Safe to call
	// repeatedly; must not have side effects beyond caching readiness.
	IsReady() bool
	// Register arranges for wake to receive a value once IsReady would
	// return true, and stops doing so once cancel is closed.
	Register(wake chan<- struct{}, cancel <-chan struct{})
	// Commit performs the operation exactly once. Calling Commit a
	// second time returns an error.
	Commit() error
}

type sendSelectable[T any] struct {
	sender  *Sender[T]
	produce func() T

	mu        sync.Mutex
	committed bool
}

// SelectableSend returns a token that, when committed, calls produce and
// sends its result. produce is invoked at most once, only on commit
// (spec §4.3 invariant: "a committed selectable-send transfers its value
// exactly once").
func SelectableSend[T any](s *Sender[T], produce func() T) Selectable {
	return &sendSelectable[T]{sender: s, produce: produce}
}

func (t *sendSelectable[T]) IsReady() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.committed {
		return false
	}
	return t.sender.handle.TrySend()
}

func (t *sendSelectable[T]) Register(wake chan<- struct{}, cancel <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-cancel:
				return
			case <-ticker.C:
				if t.IsReady() {
					select {
					case wake <- struct{}{}:
					case <-cancel:
					}
					return
				}
			}
		}
	}()
}

func (t *sendSelectable[T]) Commit() error {
	t.mu.Lock()
	if t.committed {
		t.mu.Unlock()
		return errors.New("channel: selectable already committed")
	}
	t.committed = true
	t.mu.Unlock()
	return t.sender.Send(t.produce())
}

type recvSelectable[T any] struct {
	receiver *Receiver[T]
	consumer func(T, error)

	mu        sync.Mutex
	buffered  bool
	value     T
	recvErr   error
	committed bool
}

// SelectableRecv returns a token that, when committed, invokes consumer
// exactly once with the received Result (spec §4.3 invariant).
func SelectableRecv[T any](r *Receiver[T], consumer func(T, error)) Selectable {
	return &recvSelectable[T]{receiver: r, consumer: consumer}
}

func (t *recvSelectable[T]) poll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.buffered || t.committed {
		return
	}
	payload, ready, err := t.receiver.handle.TryDequeueRecv()
	if !ready {
		return
	}
	t.buffered = true
	t.value, t.recvErr = decodeResult[T](payload, err)
}

func (t *recvSelectable[T]) IsReady() bool {
	t.poll()
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buffered && !t.committed
}

func (t *recvSelectable[T]) Register(wake chan<- struct{}, cancel <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-cancel:
				return
			case <-ticker.C:
				if t.IsReady() {
					select {
					case wake <- struct{}{}:
					case <-cancel:
					}
					return
				}
			}
		}
	}()
}

func (t *recvSelectable[T]) Commit() error {
	t.mu.Lock()
	if t.committed {
		t.mu.Unlock()
		return errors.New("channel: selectable already committed")
	}
	if !t.buffered {
		// Commit is only ever called by the selector on a token it just
		// observed as ready; this is a defensive fallback for a direct
		// caller that skips the IsReady contract, so it falls back to a
		// genuine blocking receive rather than fabricating a result.
		t.mu.Unlock()
		payload, err := t.receiver.handle.DequeueRecv()
		value, recvErr := decodeResult[T](payload, err)
		t.mu.Lock()
		t.buffered = true
		t.value, t.recvErr = value, recvErr
	}
	t.committed = true
	value, err := t.value, t.recvErr
	t.mu.Unlock()
	t.consumer(value, err)
	return nil
}
