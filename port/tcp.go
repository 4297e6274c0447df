package port

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// TCPPort is a backend over a TCP connection. The reader connects it and
// reconnects it when the peer closes the connection.
type TCPPort struct {
	Base

	state        AtomicOpState
	addr         string
	readTimeout  time.Duration
	writeTimeout time.Duration

	connMu sync.Mutex
	conn   net.Conn

	canceled atomic.Bool

	// data received by the last wait and not read yet, owned by the reader
	rx    []byte
	rxOff int
	rxLen int
}

var (
	_ Backend   = (*TCPPort)(nil)
	_ Connector = (*TCPPort)(nil)
)

// NewTCPPort creates a TCP backend for "host:port".
func NewTCPPort(addr string) (*TCPPort, error) {
	p := &TCPPort{}
	if err := p.SetAttributes(addr); err != nil {
		return nil, err
	}

	return p, nil
}

// SetAttributes sets the "host:port" address to connect to.
func (p *TCPPort) SetAttributes(addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("port: invalid address %q: %w", addr, err)
	}
	if host == "" || port == "" {
		return fmt.Errorf("port: invalid address %q", addr)
	}

	p.addr = addr
	p.setName(addr)

	return nil
}

func (p *TCPPort) Open(cfg *Config) error {
	if p.addr == "" {
		return errors.New("port: TCP address not set")
	}
	if !p.state.ToOpening() {
		return ErrAlreadyOpen
	}

	p.Init(cfg)
	p.readTimeout = cfg.ReadTimeout()
	p.writeTimeout = cfg.WriteTimeout()
	p.rx = make([]byte, cfg.ReadFrameSize())
	p.rxOff, p.rxLen = 0, 0
	p.state.ToOpened()

	return nil
}

func (p *TCPPort) Close() error {
	if !p.state.ToClosing() {
		return nil
	}
	defer p.state.ToClosed()

	return p.dropConn()
}

func (p *TCPPort) SetReadTimeout(d time.Duration)  { p.readTimeout = d }
func (p *TCPPort) SetWriteTimeout(d time.Duration) { p.writeTimeout = d }

// Connect dials the peer. It is called by the reader without the backend lock.
func (p *TCPPort) Connect(timeout time.Duration) error {
	if !p.state.IsOpened() {
		return ErrNotOpen
	}

	_ = p.dropConn()

	conn, err := net.DialTimeout("tcp", p.addr, timeout)
	if err != nil {
		return err
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}

	p.connMu.Lock()
	p.conn = conn
	p.connMu.Unlock()
	p.rxOff, p.rxLen = 0, 0

	return nil
}

func (p *TCPPort) IsConnected() bool {
	p.connMu.Lock()
	defer p.connMu.Unlock()

	return p.conn != nil
}

func (p *TCPPort) currentConn() net.Conn {
	p.connMu.Lock()
	defer p.connMu.Unlock()

	return p.conn
}

func (p *TCPPort) dropConn() error {
	p.connMu.Lock()
	conn := p.conn
	p.conn = nil
	p.connMu.Unlock()

	if conn == nil {
		return nil
	}

	return conn.Close()
}

// CancelWait interrupts a blocked read by moving its deadline to the past.
func (p *TCPPort) CancelWait() {
	p.canceled.Store(true)
	if conn := p.currentConn(); conn != nil {
		_ = conn.SetReadDeadline(time.Now())
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.Is(err, os.ErrDeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout())
}

// WaitForReadable reads pending data into an internal buffer, bounded by the
// read timeout. Read returns the buffered bytes.
func (p *TCPPort) WaitForReadable() error {
	p.SetReadTimeoutOccurred(false)

	if p.rxOff < p.rxLen {
		return nil
	}

	conn := p.currentConn()
	if conn == nil {
		return ErrDisconnected
	}
	if p.canceled.Swap(false) {
		return ErrWaitCanceled
	}

	p.Unlock()
	_ = conn.SetReadDeadline(time.Now().Add(p.readTimeout))
	n, err := conn.Read(p.rx)
	p.Lock()

	p.rxOff, p.rxLen = 0, n
	if n > 0 {
		// an error with data is reported again by the next read
		return nil
	}

	switch {
	case err == nil:
		return nil
	case p.canceled.Swap(false):
		return ErrWaitCanceled
	case isTimeout(err):
		p.SetReadTimeoutOccurred(true)
		return nil
	default:
		_ = p.dropConn()
		return fmt.Errorf("%w: %w", ErrDisconnected, err)
	}
}

func (p *TCPPort) Read(buf []byte) (int, error) {
	n := copy(buf, p.rx[p.rxOff:p.rxLen])
	p.rxOff += n

	return n, nil
}

// WaitForWritable only checks the connection: the write deadline bounds Write.
func (p *TCPPort) WaitForWritable() error {
	p.SetWriteTimeoutOccurred(false)

	if p.currentConn() == nil {
		return ErrDisconnected
	}

	return nil
}

// Write writes buf with the write timeout as deadline. The backend lock is
// released during the call.
func (p *TCPPort) Write(buf []byte) (int, error) {
	conn := p.currentConn()
	if conn == nil {
		return 0, ErrDisconnected
	}

	p.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(p.writeTimeout))
	n, err := conn.Write(buf)
	p.Lock()

	switch {
	case err == nil:
		return n, nil
	case isTimeout(err):
		p.SetWriteTimeoutOccurred(true)
		return n, nil
	default:
		_ = p.dropConn()
		return n, fmt.Errorf("%w: %w", ErrDisconnected, err)
	}
}
