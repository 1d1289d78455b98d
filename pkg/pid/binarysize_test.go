package pid

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseBinarySize(t *testing.T) {
	cases := []struct {
		in   string
		want uint64
	}{
		{"123", 123},
		{"0", 0},
		{"4KiB", 4 * 1024},
		{"1MiB", 1024 * 1024},
		{"7GiB", 7 * 1024 * 1024 * 1024},
		{"2TiB", 2 * 1024 * 1024 * 1024 * 1024},
	}
	for _, c := range cases {
		got, err := ParseBinarySize(c.in)
		require.NoError(t, err, c.in)
		require.Equal(t, c.want, got, c.in)
	}
}

func TestParseBinarySizeRejectsFractionalWithSuffix(t *testing.T) {
	_, err := ParseBinarySize("1.5MiB")
	require.ErrorIs(t, err, ErrFractionalWithSuffix)
}

func TestParseBinarySizeRejectsUnknownSuffix(t *testing.T) {
	_, err := ParseBinarySize("5XiB")
	require.ErrorIs(t, err, ErrInvalidSize)
}

func TestParseBinarySizeRejectsEmpty(t *testing.T) {
	_, err := ParseBinarySize("")
	require.ErrorIs(t, err, ErrInvalidSize)
}
