package port

import (
	"bytes"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/scandyna/multidiagtools-sub015/internal/pool"
	"github.com/scandyna/multidiagtools-sub015/internal/util"
)

// ErrConnectionRefused is returned by MemPort.Connect while connection
// failures are injected.
var ErrConnectionRefused = errors.New("port: connection refused")

// MemPort is an in-memory backend. The peer side is driven with Feed,
// Written, Disconnect and SetResponder; it is safe to call them from any
// goroutine.
type MemPort struct {
	Base

	state        AtomicOpState
	readTimeout  time.Duration
	writeTimeout time.Duration

	canceled atomic.Bool
	cancelCh chan struct{}
	dataCh   chan struct{}

	peerMu          sync.Mutex
	rx              []byte
	tx              []byte
	connected       bool
	connectFailures int
	connectAttempts int
	maxWriteChunk   int
	responder       func(req []byte) []byte
}

var (
	_ Backend   = (*MemPort)(nil)
	_ Connector = (*MemPort)(nil)
)

// NewMemPort creates an in-memory backend.
func NewMemPort() *MemPort {
	return &MemPort{
		cancelCh:     make(chan struct{}, 1),
		dataCh:       make(chan struct{}, 1),
		readTimeout:  DefaultReadTimeout,
		writeTimeout: DefaultWriteTimeout,
	}
}

func (p *MemPort) SetAttributes(name string) error {
	p.setName(name)
	return nil
}

func (p *MemPort) Open(cfg *Config) error {
	if !p.state.ToOpening() {
		return ErrAlreadyOpen
	}

	p.Init(cfg)
	p.readTimeout = cfg.ReadTimeout()
	p.writeTimeout = cfg.WriteTimeout()
	p.state.ToOpened()

	return nil
}

func (p *MemPort) Close() error {
	if !p.state.ToClosing() {
		return nil
	}

	p.peerMu.Lock()
	p.connected = false
	p.rx = nil
	p.peerMu.Unlock()
	p.wake(p.dataCh)
	p.state.ToClosed()

	return nil
}

func (p *MemPort) SetReadTimeout(d time.Duration)  { p.readTimeout = d }
func (p *MemPort) SetWriteTimeout(d time.Duration) { p.writeTimeout = d }

func (p *MemPort) wake(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Connect connects the peer, unless failures were injected with SetConnectFailures.
func (p *MemPort) Connect(_ time.Duration) error {
	p.peerMu.Lock()
	defer p.peerMu.Unlock()

	p.connectAttempts++
	if p.connectFailures != 0 {
		if p.connectFailures > 0 {
			p.connectFailures--
		}

		return ErrConnectionRefused
	}
	p.connected = true

	return nil
}

func (p *MemPort) IsConnected() bool {
	p.peerMu.Lock()
	defer p.peerMu.Unlock()

	return p.connected
}

// SetConnectFailures makes the next n calls to Connect fail. A negative n
// makes every call fail.
func (p *MemPort) SetConnectFailures(n int) {
	p.peerMu.Lock()
	p.connectFailures = n
	p.peerMu.Unlock()
}

// ConnectAttempts returns the number of calls to Connect.
func (p *MemPort) ConnectAttempts() int {
	p.peerMu.Lock()
	defer p.peerMu.Unlock()

	return p.connectAttempts
}

// Disconnect simulates the loss of the peer.
func (p *MemPort) Disconnect() {
	p.peerMu.Lock()
	p.connected = false
	p.rx = nil
	p.peerMu.Unlock()
	p.wake(p.dataCh)
}

// Feed makes data available to the reader.
func (p *MemPort) Feed(data []byte) {
	p.peerMu.Lock()
	p.rx = append(p.rx, data...)
	p.peerMu.Unlock()
	p.wake(p.dataCh)
}

// Written returns a copy of every byte written so far.
func (p *MemPort) Written() []byte {
	p.peerMu.Lock()
	defer p.peerMu.Unlock()

	return util.CloneSlice(p.tx, 0)
}

// ResetWritten forgets the written bytes.
func (p *MemPort) ResetWritten() {
	p.peerMu.Lock()
	p.tx = nil
	p.peerMu.Unlock()
}

// SetResponder installs fn, called with the bytes of each Write call. A non
// empty result is fed back to the reader.
func (p *MemPort) SetResponder(fn func(req []byte) []byte) {
	p.peerMu.Lock()
	p.responder = fn
	p.peerMu.Unlock()
}

// SetMaxWriteChunk limits the number of bytes accepted per Write call.
func (p *MemPort) SetMaxWriteChunk(n int) {
	p.peerMu.Lock()
	p.maxWriteChunk = n
	p.peerMu.Unlock()
}

func (p *MemPort) CancelWait() {
	p.canceled.Store(true)
	p.wake(p.cancelCh)
}

func (p *MemPort) WaitForReadable() error {
	p.SetReadTimeoutOccurred(false)

	t := pool.GetTimer(p.readTimeout)
	defer pool.PutTimer(t)

	for {
		p.peerMu.Lock()
		connected, available := p.connected, len(p.rx) > 0
		p.peerMu.Unlock()

		switch {
		case available:
			return nil
		case !connected:
			return ErrDisconnected
		case p.canceled.Swap(false):
			return ErrWaitCanceled
		}

		p.Unlock()
		select {
		case <-p.dataCh:
		case <-p.cancelCh:
		case <-t.C:
			p.Lock()
			p.SetReadTimeoutOccurred(true)

			return nil
		}
		p.Lock()
	}
}

func (p *MemPort) Read(buf []byte) (int, error) {
	p.peerMu.Lock()
	defer p.peerMu.Unlock()

	n := copy(buf, p.rx)
	p.rx = p.rx[n:]
	if n == 0 && !p.connected {
		return 0, ErrDisconnected
	}

	return n, nil
}

func (p *MemPort) WaitForWritable() error {
	p.SetWriteTimeoutOccurred(false)

	if !p.IsConnected() {
		return ErrDisconnected
	}

	return nil
}

func (p *MemPort) Write(buf []byte) (int, error) {
	p.peerMu.Lock()
	if !p.connected {
		p.peerMu.Unlock()
		return 0, ErrDisconnected
	}

	n := len(buf)
	if p.maxWriteChunk > 0 {
		n = min(n, p.maxWriteChunk)
	}
	p.tx = append(p.tx, buf[:n]...)
	responder := p.responder
	p.peerMu.Unlock()

	if responder != nil {
		if reply := responder(bytes.Clone(buf[:n])); len(reply) > 0 {
			p.Feed(reply)
		}
	}

	return n, nil
}
