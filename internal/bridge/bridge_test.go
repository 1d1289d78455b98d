package bridge

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/constellation-run/constellation-go/internal/channel"
	"github.com/constellation-run/constellation-go/internal/format"
	"github.com/constellation-run/constellation-go/internal/log"
	"github.com/constellation-run/constellation-go/internal/reactor"
	"github.com/constellation-run/constellation-go/pkg/event"
	"github.com/constellation-run/constellation-go/pkg/pid"
)

func newLinked(t *testing.T) (*reactor.Reactor, *reactor.Reactor, func()) {
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
	return ra, rb, func() { _ = ha.Close(); _ = hb.Close() }
}

func TestBridgeAggregatesSuccess(t *testing.T) {
	bridgeReactor, rootReactor, cleanup := newLinked(t)
	defer cleanup()

	var buf bytes.Buffer
	b := New(bridgeReactor, format.NewJSONFormatter(&buf), WithLogger(log.NewNopLogger()))

	rootIn := channel.NewReceiver[event.ProcessInputEvent](log.NewNopLogger(), rootReactor, bridgeReactor.Local())
	_ = rootIn
	bridgeIn := channel.NewSender[event.ProcessInputEvent](log.NewNopLogger(), bridgeReactor, rootReactor.Local())
	rootOut := channel.NewSender[event.ProcessOutputEvent](log.NewNopLogger(), rootReactor, bridgeReactor.Local())
	bridgeOut := channel.NewReceiver[event.ProcessOutputEvent](log.NewNopLogger(), bridgeReactor, rootReactor.Local())

	b.AddRoot(rootReactor.Local(), bridgeIn, bridgeOut)

	go func() {
		_ = rootOut.Send(event.ExitEvent(event.Success))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	status := b.Run(ctx)
	require.True(t, status.IsSuccess())
	require.Contains(t, buf.String(), `"kind":2`)
}

func TestBridgeAggregatesFailureDominates(t *testing.T) {
	bridgeReactor, rootReactor, cleanup := newLinked(t)
	defer cleanup()

	var buf bytes.Buffer
	b := New(bridgeReactor, format.NewJSONFormatter(&buf))

	bridgeIn := channel.NewSender[event.ProcessInputEvent](log.NewNopLogger(), bridgeReactor, rootReactor.Local())
	rootOut := channel.NewSender[event.ProcessOutputEvent](log.NewNopLogger(), rootReactor, bridgeReactor.Local())
	bridgeOut := channel.NewReceiver[event.ProcessOutputEvent](log.NewNopLogger(), bridgeReactor, rootReactor.Local())

	b.AddRoot(rootReactor.Local(), bridgeIn, bridgeOut)

	go func() {
		_ = rootOut.Send(event.ExitEvent(event.FromUnixStatus(1)))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	status := b.Run(ctx)
	require.False(t, status.IsSuccess())
}
