package port

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// echoServer accepts connections and writes back each received line in
// upper case. Closing the returned channel closes the active connection.
func echoServer(t *testing.T) (string, chan<- struct{}) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	drop := make(chan struct{}, 1)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}

			go func() {
				<-drop
				_ = conn.Close()
			}()

			go func() {
				defer conn.Close()

				sc := bufio.NewScanner(conn)
				for sc.Scan() {
					line := sc.Bytes()
					out := make([]byte, 0, len(line)+1)
					for _, c := range line {
						if c >= 'a' && c <= 'z' {
							c -= 'a' - 'A'
						}
						out = append(out, c)
					}
					if _, err := conn.Write(append(out, '\n')); err != nil {
						return
					}
				}
			}()
		}
	}()

	return ln.Addr().String(), drop
}

func TestTCPPort_SetAttributes(t *testing.T) {
	require := require.New(t)

	_, err := NewTCPPort("localhost")
	require.Error(err)
	_, err = NewTCPPort(":502")
	require.Error(err)

	p, err := NewTCPPort("192.168.1.10:502")
	require.NoError(err)
	require.Equal("192.168.1.10:502", p.Name())
}

func TestTCPPort_EchoAndReconnect(t *testing.T) {
	require := require.New(t)

	addr, drop := echoServer(t)

	cfg, err := NewConfig(
		WithReadTimeout(50*time.Millisecond),
		WithConnectTimeout(200*time.Millisecond),
	)
	require.NoError(err)

	p, err := NewTCPPort(addr)
	require.NoError(err)
	require.NoError(p.Open(cfg))
	require.ErrorIs(p.Open(cfg), ErrAlreadyOpen)
	defer p.Close()

	rec := &eventRecorder{}
	startWorkers(t, p, cfg, rec)
	require.Eventually(func() bool { return rec.count(EventConnected) == 1 }, 2*time.Second, 5*time.Millisecond)

	queueWrite(t, p, []byte("*idn?\n"))
	require.Eventually(func() bool { return rec.count(EventFrameReaden) == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Equal([][]byte{[]byte("*IDN?")}, popReaden(p))

	drop <- struct{}{}
	require.Eventually(func() bool { return rec.count(EventConnected) == 2 }, 3*time.Second, 5*time.Millisecond)
	require.GreaterOrEqual(rec.count(EventDisconnected), 1)

	queueWrite(t, p, []byte("meas?\n"))
	require.Eventually(func() bool { return rec.count(EventFrameReaden) == 2 }, 2*time.Second, 5*time.Millisecond)
	require.Equal([][]byte{[]byte("MEAS?")}, popReaden(p))
}

func TestTCPPort_ConnectionFailed(t *testing.T) {
	require := require.New(t)

	// reserve a port and close it so nothing listens there
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(err)
	addr := ln.Addr().String()
	require.NoError(ln.Close())

	cfg, err := NewConfig(
		WithConnectTimeout(20*time.Millisecond),
		WithConnectTimeoutStep(time.Millisecond),
		WithConnectMaxTry(2),
	)
	require.NoError(err)

	p, err := NewTCPPort(addr)
	require.NoError(err)
	require.NoError(p.Open(cfg))
	defer p.Close()

	rec := &eventRecorder{}
	startWorkers(t, p, cfg, rec)

	require.Eventually(func() bool { return rec.count(EventConnectionFailed) == 1 }, 3*time.Second, 5*time.Millisecond)
	require.Equal(2, rec.count(EventConnectionAttempt))
	require.False(p.IsConnected())
}
