package monitor

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/constellation-run/constellation-go/internal/channel"
	"github.com/constellation-run/constellation-go/internal/log"
	"github.com/constellation-run/constellation-go/internal/reactor"
	"github.com/constellation-run/constellation-go/pkg/event"
	"github.com/constellation-run/constellation-go/pkg/pid"
)

func channelPair(t *testing.T) (*reactor.Reactor, *reactor.Reactor, func()) {
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

func TestMonitorRunReportsExitSuccess(t *testing.T) {
	ra, rb, cleanup := channelPair(t)
	defer cleanup()

	inSender := channel.NewSender[event.ProcessInputEvent](log.NewNopLogger(), ra, rb.Local())
	inRecv := channel.NewReceiver[event.ProcessInputEvent](log.NewNopLogger(), rb, ra.Local())
	outSender := channel.NewSender[event.ProcessOutputEvent](log.NewNopLogger(), rb, ra.Local())
	outRecv := channel.NewReceiver[event.ProcessOutputEvent](log.NewNopLogger(), ra, rb.Local())
	defer inSender.Close()
	defer inRecv.Close()
	defer outSender.Close()
	defer outRecv.Close()

	mon := New(Config{
		Exe:     "/bin/sh",
		Args:    []string{"-c", "echo hi; exit 0"},
		Env:     []string{},
		Logger:  log.NewNopLogger(),
		In:      inRecv,
		Out:     outSender,
	})

	done := make(chan error, 1)
	go func() { done <- mon.Run(context.Background()) }()

	var sawHi, sawExit bool
	deadline := time.After(5 * time.Second)
	for !sawExit {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for monitor events")
		default:
		}
		evt, err := outRecv.Recv()
		require.NoError(t, err)
		switch evt.Kind {
		case event.OutputData:
			if string(evt.Data) == "hi\n" {
				sawHi = true
			}
		case event.OutputExit:
			require.True(t, evt.Status.IsSuccess())
			sawExit = true
		}
	}
	require.True(t, sawHi)
	require.NoError(t, <-done)
}
