//go:build linux

package port

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWaitForNode(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	existing := filepath.Join(dir, "usbtmc0")
	require.NoError(os.WriteFile(existing, nil, 0o600))
	require.NoError(waitForNode(existing, 10*time.Millisecond))

	err := waitForNode(filepath.Join(dir, "missing"), 20*time.Millisecond)
	require.ErrorIs(err, ErrDisconnected)
}

func TestWaitForNode_UncleanPath(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	require.NoError(os.Mkdir(filepath.Join(dir, "sub"), 0o700))
	path := dir + "/./sub/../usbtmc1"

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = os.WriteFile(filepath.Join(dir, "usbtmc1"), nil, 0o600)
	}()

	require.NoError(waitForNode(path, 2*time.Second))
}
