package wire

import (
	"bytes"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/constellation-run/constellation-go/pkg/pid"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("hello, constellation")
	require.NoError(t, WriteFrame(&buf, payload))

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestFrameEndOfStream(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, nil))

	_, err := ReadFrame(&buf)
	require.ErrorIs(t, err, ErrEndOfStream)
}

func TestFrameChecksumMismatch(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte("payload")))
	corrupted := buf.Bytes()
	corrupted[len(corrupted)-1] ^= 0xFF

	_, err := ReadFrame(bytes.NewReader(corrupted))
	require.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestCodecRoundTrip(t *testing.T) {
	type payload struct {
		A int
		B string
	}
	var buf bytes.Buffer
	in := payload{A: 7, B: "hi"}
	require.NoError(t, Encode(&buf, in))

	var out payload
	require.NoError(t, Decode(&buf, &out))
	require.Equal(t, in, out)
}

type greetArg struct {
	Name string
}

func TestClosureRoundTrip(t *testing.T) {
	results := make(chan string, 1)
	RegisterClosure("wire_test.greet", func(parent pid.Pid, arg greetArg) {
		results <- arg.Name
	})

	c, err := NewClosure("wire_test.greet", greetArg{Name: "ada"})
	require.NoError(t, err)

	require.NoError(t, Invoke(c, pid.New(net.ParseIP("127.0.0.1"), 1)))
	require.Equal(t, "ada", <-results)
}

func TestInvokeUnregisteredClosure(t *testing.T) {
	c := Closure{SchemaID: schemaID("wire_test.nonexistent"), Name: "wire_test.nonexistent"}
	err := Invoke(c, pid.New(net.ParseIP("127.0.0.1"), 1))
	require.Error(t, err)
}
