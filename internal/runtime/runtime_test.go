package runtime

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/constellation-run/constellation-go/pkg/event"
	"github.com/constellation-run/constellation-go/pkg/pid"
)

func TestExitCodeFromStatusSuccess(t *testing.T) {
	require.Equal(t, 0, exitCodeFromStatus(event.Success))
}

func TestExitCodeFromStatusUnixStatus(t *testing.T) {
	require.Equal(t, 17, exitCodeFromStatus(event.FromUnixStatus(17)))
}

func TestExitCodeFromStatusSignal(t *testing.T) {
	require.Equal(t, 128+9, exitCodeFromStatus(event.FromUnixSignal(9)))
}

func TestSelfPidFromEnvParsesAddress(t *testing.T) {
	t.Setenv(envSelfAddr, "127.0.0.1:4242")
	got := selfPidFromEnv()
	want, err := pid.ParseAddr("127.0.0.1:4242")
	require.NoError(t, err)
	require.True(t, got.Equal(want))
}

func TestOpenArgFDAbsent(t *testing.T) {
	// In a normal `go test` process, fd 4 is not open, so this must
	// report false rather than handing back a bogus *os.File.
	_, ok := openArgFD()
	require.False(t, ok)
}

func TestVersionStringIncludesVersion(t *testing.T) {
	require.Contains(t, versionString(), "constellation")
}

func TestChildEnvOverridesStaleRole(t *testing.T) {
	t.Setenv(envRole, "monitor")
	t.Setenv(envBridgeAddr, "127.0.0.1:1111")

	env := childEnv(map[string]string{envRole: "", envBridgeAddr: "127.0.0.1:2222"})

	var sawRole, sawBridge int
	for _, kv := range env {
		switch kv {
		case envRole + "=":
			sawRole++
		case envRole + "=monitor":
			t.Fatalf("stale role survived childEnv: %q", kv)
		case envBridgeAddr + "=127.0.0.1:2222":
			sawBridge++
		case envBridgeAddr + "=127.0.0.1:1111":
			t.Fatalf("stale bridge address survived childEnv: %q", kv)
		}
	}
	require.Equal(t, 1, sawRole, "envRole should appear exactly once, cleared")
	require.Equal(t, 1, sawBridge, "envBridgeAddr should appear exactly once, updated")
}
