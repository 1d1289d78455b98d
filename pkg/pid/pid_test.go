package pid

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPidEqual(t *testing.T) {
	a := New(net.ParseIP("127.0.0.1"), 9001)
	b := New(net.ParseIP("127.0.0.1"), 9001)
	c := New(net.ParseIP("127.0.0.1"), 9002)

	require.True(t, a.Equal(b))
	require.False(t, a.Equal(c))
}

func TestPidLessIsATotalOrderAndAntisymmetric(t *testing.T) {
	a := New(net.ParseIP("127.0.0.1"), 9001)
	b := New(net.ParseIP("127.0.0.1"), 9002)

	require.True(t, a.Less(b))
	require.False(t, b.Less(a))
	require.False(t, a.Less(a))
}

func TestPidString(t *testing.T) {
	p := New(net.ParseIP("10.0.0.5"), 4242)
	require.Contains(t, p.String(), "4242")
}
