package selector

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/constellation-run/constellation-go/internal/channel"
	"github.com/constellation-run/constellation-go/internal/log"
	"github.com/constellation-run/constellation-go/internal/reactor"
	"github.com/constellation-run/constellation-go/pkg/pid"
)

// chanPair wires up two reactors over a real TCP loopback connection and
// returns a Sender on one side and a matching Receiver on the other, the
// same harness shape used by internal/reactor's own tests.
func chanPair(t *testing.T) (*channel.Sender[string], *channel.Receiver[string], func()) {
	t.Helper()

	la, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	lb, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	pa := pid.FromTCPAddr(la.Addr().(*net.TCPAddr))
	pb := pid.FromTCPAddr(lb.Addr().(*net.TCPAddr))

	ra := reactor.New(pa, la)
	rb := reactor.New(pb, lb)
	ha := ra.Run()
	hb := rb.Run()

	sender := channel.NewSender[string](log.NewNopLogger(), ra, pb)
	recv := channel.NewReceiver[string](log.NewNopLogger(), rb, pa)

	return sender, recv, func() {
		_ = ha.Close()
		_ = hb.Close()
	}
}

func TestSelectCommitsReadySend(t *testing.T) {
	sender, recv, cleanup := chanPair(t)
	defer cleanup()

	sent := channel.SelectableSend(sender, func() string { return "hi" })
	require.Eventually(t, sent.IsReady, time.Second, 5*time.Millisecond)

	remaining, err := Select([]channel.Selectable{sent})
	require.NoError(t, err)
	require.Empty(t, remaining)

	got, err := recv.Recv()
	require.NoError(t, err)
	require.Equal(t, "hi", got)
}

func TestSelectCommitsReadyRecv(t *testing.T) {
	sender, recv, cleanup := chanPair(t)
	defer cleanup()

	require.NoError(t, sender.Send("payload"))

	var result string
	var resultErr error
	token := channel.SelectableRecv(recv, func(v string, err error) {
		result, resultErr = v, err
	})

	require.Eventually(t, token.IsReady, time.Second, 5*time.Millisecond)

	remaining, err := Select([]channel.Selectable{token})
	require.NoError(t, err)
	require.Empty(t, remaining)
	require.NoError(t, resultErr)
	require.Equal(t, "payload", result)
}

func TestSelectBlocksUntilReady(t *testing.T) {
	sender, recv, cleanup := chanPair(t)
	defer cleanup()

	var result string
	token := channel.SelectableRecv(recv, func(v string, err error) { result = v })

	done := make(chan error, 1)
	go func() {
		_, err := Select([]channel.Selectable{token})
		done <- err
	}()

	select {
	case <-done:
		t.Fatal("Select returned before anything was sent")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, sender.Send("late"))
	require.NoError(t, <-done)
	require.Equal(t, "late", result)
}

func TestSelectReturnsRemainingUncommittedTokens(t *testing.T) {
	sender1, recv1, cleanup1 := chanPair(t)
	defer cleanup1()
	sender2, recv2, cleanup2 := chanPair(t)
	defer cleanup2()

	require.NoError(t, sender1.Send("a"))

	t1 := channel.SelectableRecv(recv1, func(v string, err error) {})
	t2 := channel.SelectableRecv(recv2, func(v string, err error) {})

	require.Eventually(t, t1.IsReady, time.Second, 5*time.Millisecond)

	remaining, err := Select([]channel.Selectable{t1, t2})
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	require.Equal(t, t2, remaining[0])

	require.NoError(t, sender2.Send("b"))
	require.Eventually(t, t2.IsReady, time.Second, 5*time.Millisecond)

	remaining, err = Select(remaining)
	require.NoError(t, err)
	require.Empty(t, remaining)
}

func TestSelectEmpty(t *testing.T) {
	_, err := Select(nil)
	require.ErrorIs(t, err, ErrEmpty)
}

func TestSelectContextCancel(t *testing.T) {
	_, recv, cleanup := chanPair(t)
	defer cleanup()

	token := channel.SelectableRecv(recv, func(v string, err error) {})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := SelectContext(ctx, []channel.Selectable{token})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunCommitsEveryToken(t *testing.T) {
	sender1, recv1, cleanup1 := chanPair(t)
	defer cleanup1()
	sender2, recv2, cleanup2 := chanPair(t)
	defer cleanup2()

	require.NoError(t, sender1.Send("a"))
	require.NoError(t, sender2.Send("b"))

	results := map[string]bool{}
	t1 := channel.SelectableRecv(recv1, func(v string, err error) {
		require.NoError(t, err)
		results[v] = true
	})
	t2 := channel.SelectableRecv(recv2, func(v string, err error) {
		require.NoError(t, err)
		results[v] = true
	})

	require.Eventually(t, func() bool { return t1.IsReady() && t2.IsReady() }, time.Second, 5*time.Millisecond)

	require.NoError(t, Run([]channel.Selectable{t1, t2}))
	require.True(t, results["a"])
	require.True(t, results["b"])
}
