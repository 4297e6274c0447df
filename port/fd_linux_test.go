//go:build linux

package port

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFdEngine_SelectLimit(t *testing.T) {
	require := require.New(t)

	require.Equal(1024, fdSetSize)

	var b Base
	e := newFdEngine(&b)
	e.fd, e.wakeR = fdSetSize, 0

	b.Lock()
	defer b.Unlock()

	for _, write := range []bool{false, true} {
		ready, err := e.wait(write, time.Millisecond)
		require.Error(err)
		require.False(ready)
	}
}

func TestFdEngine_NotOpen(t *testing.T) {
	var b Base
	e := newFdEngine(&b)

	_, err := e.wait(false, time.Millisecond)
	require.ErrorIs(t, err, ErrNotOpen)
	require.ErrorIs(t, e.waitForReadable(), ErrNotOpen)
}
