package spawn

import (
	"net"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/constellation-run/constellation-go/internal/wire"
)

func TestResourcesEnvIsValidJSON(t *testing.T) {
	resources := pidResourcesFixture()
	out, err := resourcesEnv(resources)
	require.NoError(t, err)
	require.Contains(t, out, `"memory"`)
	require.Contains(t, out, `"cpu"`)
}

func TestNativePayloadRoundTrip(t *testing.T) {
	srv, cli := net.Pipe()
	defer srv.Close()
	defer cli.Close()

	bridge := pidFixture(1)
	parent := pidFixture(2)
	closure, err := wire.NewClosure[int]("spawn-test-noop", 7)
	require.NoError(t, err)

	want := NativePayload{Bridge: bridge, Parent: parent, Closure: closure}

	go func() {
		_ = wire.Encode(srv, want)
	}()

	var got NativePayload
	require.NoError(t, wire.Decode(cli, &got))
	require.Equal(t, want.Bridge, got.Bridge)
	require.Equal(t, want.Parent, got.Parent)
	require.Equal(t, want.Closure.Name, got.Closure.Name)
}

func TestDeployedPayloadRoundTrip(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()

	bridge := pidFixture(1)
	parent := pidFixture(2)
	closure, err := wire.NewClosure[int]("spawn-test-deployed", 3)
	require.NoError(t, err)

	want := DeployedPayload{SchedulerAddr: "127.0.0.1:9000", Bridge: bridge, Parent: parent, Closure: closure}

	go func() {
		defer w.Close()
		_ = wire.Encode(w, want)
	}()

	got, err := ReadDeployedPayload(r)
	require.NoError(t, err)
	require.Equal(t, want.Bridge, got.Bridge)
	require.Equal(t, want.Parent, got.Parent)
	require.Equal(t, want.SchedulerAddr, got.SchedulerAddr)
}

func TestMemfdPayloadRoundTrip(t *testing.T) {
	closure, err := wire.NewClosure[int]("spawn-test-memfd", 9)
	require.NoError(t, err)
	want := NativePayload{Bridge: pidFixture(1), Parent: pidFixture(2), Closure: closure}

	f, err := writeMemfdPayload(want)
	require.NoError(t, err)
	defer f.Close()

	got, err := ReadNativePayload(f)
	require.NoError(t, err)
	require.Equal(t, want.Bridge, got.Bridge)
	require.Equal(t, want.Parent, got.Parent)
}
