package constellation

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/constellation-run/constellation-go/internal/wire"
	"github.com/constellation-run/constellation-go/pkg/pid"
)

func TestDefaultResourcesMatchesPid(t *testing.T) {
	require.Equal(t, pid.Default, DefaultResources)
}

func TestChannelErrorsAreReExported(t *testing.T) {
	require.ErrorIs(t, ErrChannelExited, ErrChannelExited)
	require.ErrorIs(t, ErrChannelError, ErrChannelError)
	require.ErrorIs(t, ErrChannelClosed, ErrChannelClosed)
	require.NotErrorIs(t, ErrChannelExited, ErrChannelClosed)
}

type greetArg struct {
	Name string
}

func TestRegisterClosureSharesWireRegistry(t *testing.T) {
	results := make(chan string, 1)
	RegisterClosure("constellation_test.greet", func(parent Pid, arg greetArg) {
		results <- arg.Name
	})

	c, err := wire.NewClosure("constellation_test.greet", greetArg{Name: "ada"})
	require.NoError(t, err)
	require.NoError(t, wire.Invoke(c, pid.New(net.ParseIP("127.0.0.1"), 1)))
	require.Equal(t, "ada", <-results)
}

func TestSelectRejectsEmptyTokenSet(t *testing.T) {
	_, err := Select(nil)
	require.Error(t, err)
}

func TestRunAcceptsEmptyTokenSet(t *testing.T) {
	require.NoError(t, Run(nil))
}
