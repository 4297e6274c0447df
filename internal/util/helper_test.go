package util

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCloneSlice(t *testing.T) {
	require := require.New(t)

	src := []byte{1, 2, 3}
	clone := CloneSlice(src, 0)
	require.Equal(src, clone)
	clone[0] = 9
	require.Equal(byte(1), src[0])

	require.Equal([]byte{1, 2, 3, 0}, CloneSlice(src, 4))
	require.Equal([]byte{1}, CloneSlice(src, 1))
}

func TestHexBytes(t *testing.T) {
	require := require.New(t)

	require.Equal("", HexBytes(nil))
	require.Equal("01", HexBytes([]byte{0x01}))
	require.Equal("00 01 FF", HexBytes([]byte{0x00, 0x01, 0xFF}))
}
