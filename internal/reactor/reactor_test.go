package reactor

import (
	"net"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/require"

	"github.com/constellation-run/constellation-go/pkg/pid"
)

func newTestReactor(t *testing.T) (*Reactor, *Handle) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	r := newReactor(pid.FromTCPAddr(ln.Addr().(*net.TCPAddr)), ln)
	h := r.Run()
	return r, h
}

func TestSendRecvRoundTrip(t *testing.T) {
	defer leaktest.Check(t)()

	a, ha := newTestReactor(t)
	defer ha.Close()
	b, hb := newTestReactor(t)
	defer hb.Close()

	sendHandle, ok := a.SenderRegister(b.Local())
	require.True(t, ok)
	recvHandle, ok := b.RecvRegister(a.Local())
	require.True(t, ok)

	require.NoError(t, sendHandle.EnqueueSend([]byte("hello")))
	got, err := recvHandle.DequeueRecv()
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), got)

	require.NoError(t, sendHandle.Close())
	_, err = recvHandle.DequeueRecv()
	require.ErrorIs(t, err, ErrExited)

	require.NoError(t, recvHandle.Close())
}

func TestDuplicateSenderRejected(t *testing.T) {
	a, ha := newTestReactor(t)
	defer ha.Close()
	b, hb := newTestReactor(t)
	defer hb.Close()

	first, ok := a.SenderRegister(b.Local())
	require.True(t, ok)
	defer first.Close()

	_, ok = a.SenderRegister(b.Local())
	require.False(t, ok, "a second Sender to the same remote must be rejected")
}

func TestSelfChannelRejected(t *testing.T) {
	a, ha := newTestReactor(t)
	defer ha.Close()

	_, ok := a.SenderRegister(a.Local())
	require.False(t, ok)
}

func TestDeterministicInitiator(t *testing.T) {
	a, ha := newTestReactor(t)
	defer ha.Close()
	b, hb := newTestReactor(t)
	defer hb.Close()

	var smaller, larger pid.Pid
	if a.Local().Less(b.Local()) {
		smaller, larger = a.Local(), b.Local()
	} else {
		smaller, larger = b.Local(), a.Local()
	}
	sendHandle, ok := a.SenderRegister(b.Local())
	require.True(t, ok)
	defer sendHandle.Close()
	recvHandle, ok := b.RecvRegister(a.Local())
	require.True(t, ok)
	defer recvHandle.Close()

	require.NoError(t, sendHandle.EnqueueSend([]byte("ping")))
	require.Eventually(t, func() bool {
		got, err := recvHandle.DequeueRecv()
		return err == nil && string(got) == "ping"
	}, 2*time.Second, 10*time.Millisecond)

	smallR := a
	if smaller.Equal(b.Local()) {
		smallR = b
	}
	pc := smallR.getOrCreate(larger)
	pc.mu.Lock()
	initiatedBySmaller := !pc.winnerIsRemote
	pc.mu.Unlock()
	require.True(t, initiatedBySmaller, "the lexicographically smaller pid must initiate")
}
